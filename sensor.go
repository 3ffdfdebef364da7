package autostep

import (
	"context"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

// TelemetrySensorModel exposes the latest telemetry sample and the loop
// status flags as sensor readings.
var TelemetrySensorModel = resource.NewModel("iorodeo", "sensor", "autostep-telemetry")

func init() {
	resource.RegisterComponent(sensor.API, TelemetrySensorModel, resource.Registration[sensor.Sensor, *SensorConfig]{
		Constructor: newTelemetrySensor,
	})
}

// SensorConfig names the port of an already-configured autostep motor; the
// sensor attaches to that motor's shared device entry.
type SensorConfig struct {
	Port string `json:"port"`
}

func (cfg *SensorConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		return nil, nil, errors.New("must specify port of the autostep motor to observe")
	}
	return nil, nil, nil
}

type telemetrySensor struct {
	resource.Named
	resource.AlwaysRebuild

	logger logging.Logger
	port   string

	hub   *Hub
	state *sharedState
}

func newTelemetrySensor(ctx context.Context, deps resource.Dependencies, c resource.Config, logger logging.Logger,
) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*SensorConfig](c)
	if err != nil {
		return nil, err
	}

	entry, err := globalRegistry.Attach(conf.Port)
	if err != nil {
		return nil, err
	}

	return &telemetrySensor{
		Named:  c.ResourceName().AsNamed(),
		logger: logger,
		port:   conf.Port,
		hub:    entry.Hub,
		state:  entry.State,
	}, nil
}

// Readings reports the most recent telemetry sample plus the loop flags.
// Before any activity has published a sample, only the flags are present.
func (s *telemetrySensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	enabled, tracking, running := s.state.snapshot()
	readings := map[string]interface{}{
		"enabled":          enabled,
		"tracking_enabled": tracking,
		"running_motion":   running,
	}

	if sample, hasSample := s.hub.Latest(); hasSample {
		readings["elapsed_time"] = sample.Elapsed
		readings["position"] = sample.Position
		readings["setpoint"] = sample.Setpoint
		readings["sensor"] = sample.Sensor
	}
	return readings, nil
}

func (s *telemetrySensor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, errors.New("no commands supported")
}

func (s *telemetrySensor) Close(ctx context.Context) error {
	globalRegistry.Release(s.port, s.logger)
	return nil
}
