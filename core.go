package autostep

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// Core bundles the full control stack for one Autostep controller outside
// of a module process, for the CLI and for embedding.
type Core struct {
	Channel *Channel
	Hub     *Hub
	Motion  *Executor
	Tracker *Tracker
	Router  *Router

	state  *sharedState
	cancel context.CancelFunc
}

// NewCore connects to the controller on port and wires up the command
// router, motion executor and tracking loop.
func NewCore(port string, baudrate int, gain float64, tick time.Duration, logger logging.Logger) (*Core, error) {
	drv, err := openDriverFn(port, baudrate, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	channel := NewChannel(drv)
	state := &sharedState{}
	hub := NewHub()
	motion := NewExecutor(ctx, state, channel, hub, tick, logger)
	tracker := NewTracker(state, channel, hub, gain, logger)
	router := NewRouter(state, channel, motion, tracker, defaultTrajectoryDt, logger)

	return &Core{
		Channel: channel,
		Hub:     hub,
		Motion:  motion,
		Tracker: tracker,
		Router:  router,
		state:   state,
		cancel:  cancel,
	}, nil
}

// Status returns the enabled, tracking and running-motion flags.
func (c *Core) Status() (enabled, tracking, running bool) {
	return c.state.snapshot()
}

// Close stops all activity, zeroes the velocity and closes the serial
// connection.
func (c *Core) Close() error {
	c.cancel()
	c.Motion.Cancel()
	return multierr.Combine(
		c.Channel.Run(0),
		c.Channel.Close(),
	)
}
