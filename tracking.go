package autostep

import (
	"time"

	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// TrackingSample is one external position/velocity target, typically pushed
// by an upstream vision or estimation pipeline.
type TrackingSample struct {
	Position float64 `json:"position"`
	Velocity float64 `json:"velocity"`
}

// Tracker closes a proportional velocity loop around a stream of external
// setpoints. While enabled, each incoming sample produces exactly one
// velocity command and one telemetry sample.
type Tracker struct {
	state   *sharedState
	channel *Channel
	hub     *Hub
	logger  logging.Logger
	gain    float64

	now func() time.Time
}

func NewTracker(state *sharedState, channel *Channel, hub *Hub, gain float64, logger logging.Logger) *Tracker {
	return &Tracker{
		state:   state,
		channel: channel,
		hub:     hub,
		logger:  logger,
		gain:    gain,
		now:     time.Now,
	}
}

// Enable switches the actuator to tracking operation: velocity zeroed, max
// move mode selected, loop armed to treat the next sample as the first.
// The state lock is held across the actuator calls so a sample arriving
// mid-transition cannot observe a half-switched actuator.
func (t *Tracker) Enable() error {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()

	if err := t.channel.Run(0); err != nil {
		return err
	}
	if err := t.channel.SetMoveMode(MoveModeMax); err != nil {
		return err
	}
	t.state.trackingEnabled = true
	t.state.isFirst = true
	return nil
}

// Disable stops the loop and restores jog mode. Both actuator calls are
// attempted even if the first fails.
func (t *Tracker) Disable() error {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()

	t.state.trackingEnabled = false
	return multierr.Combine(
		t.channel.SetMoveMode(MoveModeJog),
		t.channel.Run(0),
	)
}

// HandleSample runs one iteration of the feedback loop. Samples arriving
// while tracking is disabled are dropped silently.
//
// The first sample after Enable only captures the actuator position as the
// loop origin; control output starts with the second sample.
func (t *Tracker) HandleSample(s TrackingSample) error {
	now := t.now()

	t.state.mu.Lock()
	if !t.state.trackingEnabled {
		t.state.mu.Unlock()
		return nil
	}

	if t.state.isFirst {
		position, err := t.channel.Position()
		if err != nil {
			t.state.mu.Unlock()
			return err
		}
		t.state.isFirst = false
		t.state.position = position
		t.state.velocity = 0
		t.state.positionStart = position
		t.state.firstUpdate = now
		t.state.lastUpdate = now
		t.state.mu.Unlock()

		t.hub.Publish(Sample{
			Elapsed:  0,
			Position: position,
			Setpoint: position,
		})
		return nil
	}

	dt := now.Sub(t.state.lastUpdate).Seconds()
	elapsed := now.Sub(t.state.firstUpdate).Seconds()
	positionStart := t.state.positionStart

	// Dead-reckon the loop forward over the sample gap, then steer the
	// velocity toward the reported target relative to the loop origin.
	predicted := t.state.position + dt*t.state.velocity
	errValue := s.Position - (predicted - positionStart)
	cmdVelocity := t.gain*errValue + s.Velocity
	t.state.mu.Unlock()

	measured, err := t.channel.RunWithFeedback(cmdVelocity)
	if err != nil {
		return err
	}

	t.state.mu.Lock()
	t.state.position = measured
	t.state.velocity = cmdVelocity
	t.state.lastUpdate = now
	t.state.mu.Unlock()

	t.hub.Publish(Sample{
		Elapsed:  elapsed,
		Position: measured,
		Setpoint: predicted,
	})
	return nil
}
