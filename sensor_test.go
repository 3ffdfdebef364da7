package autostep

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func TestTelemetrySensorReadings(t *testing.T) {
	state := &sharedState{}
	hub := NewHub()
	s := &telemetrySensor{
		logger: logging.NewTestLogger(t),
		port:   "/dev/ttyACM0",
		hub:    hub,
		state:  state,
	}

	t.Run("flags only before first sample", func(t *testing.T) {
		readings, err := s.Readings(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, false, readings["enabled"])
		assert.Equal(t, false, readings["tracking_enabled"])
		assert.Equal(t, false, readings["running_motion"])
		assert.NotContains(t, readings, "position")
	})

	t.Run("latest sample included", func(t *testing.T) {
		state.mu.Lock()
		state.enabled = true
		state.trackingEnabled = true
		state.mu.Unlock()
		hub.Publish(Sample{Elapsed: 1.5, Position: 90, Setpoint: 92, Sensor: 0.25})

		readings, err := s.Readings(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, true, readings["enabled"])
		assert.Equal(t, true, readings["tracking_enabled"])
		assert.Equal(t, 1.5, readings["elapsed_time"])
		assert.Equal(t, 90.0, readings["position"])
		assert.Equal(t, 92.0, readings["setpoint"])
		assert.Equal(t, 0.25, readings["sensor"])
	})
}

func TestSensorConfigValidate(t *testing.T) {
	cfg := &SensorConfig{}
	_, _, err := cfg.Validate("")
	assert.Error(t, err)

	cfg.Port = "/dev/ttyACM0"
	_, _, err = cfg.Validate("")
	assert.NoError(t, err)
}
