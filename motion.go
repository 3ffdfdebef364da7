package autostep

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// SinusoidParams describes a sinusoidal motion profile in firmware units
// (degrees, seconds).
type SinusoidParams struct {
	Amplitude float64
	Period    float64
	Phase     float64
	Offset    float64
	NumCycle  uint
}

// Setpoint returns the profile position at elapsed time t.
func (p SinusoidParams) Setpoint(t float64) float64 {
	return p.Offset + p.Amplitude*math.Sin(2*math.Pi*t/p.Period+p.Phase)
}

// Duration is the total playback time for all cycles.
func (p SinusoidParams) Duration() float64 {
	return float64(p.NumCycle) * p.Period
}

// TrajectoryParams describes playback of an arbitrary position sequence
// sampled at a fixed interval.
type TrajectoryParams struct {
	Positions []float64
	SampleDt  float64
}

// Duration is the time of the last trajectory sample.
func (p TrajectoryParams) Duration() float64 {
	if len(p.Positions) < 2 {
		return 0
	}
	return float64(len(p.Positions)-1) * p.SampleDt
}

// interpolant is a piecewise-linear function through points (i*dt, vs[i]).
// Queries are clamped to the sampled interval.
type interpolant struct {
	vs []float64
	sd float64 // sample spacing in seconds
}

func newInterpolant(vs []float64, sampleDt float64) interpolant {
	return interpolant{vs: vs, sd: sampleDt}
}

// At evaluates the interpolant at time t.
func (f interpolant) At(t float64) float64 {
	if len(f.vs) == 0 {
		return 0
	}
	if t <= 0 {
		return f.vs[0]
	}
	last := float64(len(f.vs)-1) * f.sd
	if t >= last {
		return f.vs[len(f.vs)-1]
	}
	i := int(t / f.sd)
	frac := (t - float64(i)*f.sd) / f.sd
	return f.vs[i] + frac*(f.vs[i+1]-f.vs[i])
}

// SlopeAt returns the first-difference velocity at time t: the slope of
// the segment containing t, with the convention that the velocity at t=0
// is zero and a query exactly at an interior sample point returns the
// slope of the preceding segment.
func (f interpolant) SlopeAt(t float64) float64 {
	if len(f.vs) < 2 || t <= 0 {
		return 0
	}
	last := float64(len(f.vs)-1) * f.sd
	if t > last {
		t = last
	}
	i := int(math.Ceil(t / f.sd))
	if i < 1 {
		i = 1
	}
	if i > len(f.vs)-1 {
		i = len(f.vs) - 1
	}
	return (f.vs[i] - f.vs[i-1]) / f.sd
}

var errMotionRunning = errors.New("motion already running")

// Executor plays motion profiles back on a background goroutine, one at a
// time, stepping the actuator at a fixed tick and emitting telemetry per
// tick. Cancellation is cooperative: Cancel sets a flag the playback loop
// checks at every tick.
type Executor struct {
	state   *sharedState
	channel *Channel
	hub     *Hub
	logger  logging.Logger

	tick      time.Duration
	cancelCtx context.Context

	// sensorFn supplies the telemetry sensor value for sinusoid playback;
	// nil means no external sensor feed.
	sensorFn func() float64

	cancel atomic.Bool

	// OnDone, if set, runs after every profile finishes, including aborts
	// and mid-profile actuator failures.
	OnDone func()
}

func NewExecutor(ctx context.Context, state *sharedState, channel *Channel, hub *Hub, tick time.Duration, logger logging.Logger) *Executor {
	return &Executor{
		state:     state,
		channel:   channel,
		hub:       hub,
		logger:    logger,
		tick:      tick,
		cancelCtx: ctx,
	}
}

// StartSinusoid begins sinusoid playback. Fails with errMotionRunning if a
// profile is already in flight.
func (e *Executor) StartSinusoid(p SinusoidParams) error {
	return e.start(func() { e.playSinusoid(p) })
}

// StartTrajectory begins trajectory playback. Fails with errMotionRunning
// if a profile is already in flight.
func (e *Executor) StartTrajectory(p TrajectoryParams) error {
	if len(p.Positions) < 2 {
		return errors.New("trajectory requires at least 2 samples")
	}
	if p.SampleDt <= 0 {
		return errors.New("trajectory sample dt must be positive")
	}
	return e.start(func() { e.playTrajectory(p) })
}

// Cancel requests cooperative cancellation of the in-flight profile, if
// any. The playback loop observes it at the next tick.
func (e *Executor) Cancel() {
	e.cancel.Store(true)
}

// start flips runningMotion under the state lock so the check and the
// claim are one atomic step, then launches playback.
func (e *Executor) start(play func()) error {
	e.state.mu.Lock()
	if e.state.runningMotion {
		e.state.mu.Unlock()
		return errMotionRunning
	}
	e.state.runningMotion = true
	e.state.mu.Unlock()

	e.cancel.Store(false)
	utils.PanicCapturingGo(func() {
		defer e.finish()
		play()
	})
	return nil
}

// finish clears runningMotion and fires the completion hook. It runs on
// every exit path so a failed profile never leaves the flag stuck.
func (e *Executor) finish() {
	e.state.mu.Lock()
	e.state.runningMotion = false
	e.state.mu.Unlock()
	if e.OnDone != nil {
		e.OnDone()
	}
}

func (e *Executor) sensorValue() float64 {
	if e.sensorFn == nil {
		return 0
	}
	return e.sensorFn()
}

func (e *Executor) playSinusoid(p SinusoidParams) {
	duration := p.Duration()
	start := time.Now()

	for elapsed := 0.0; elapsed <= duration; {
		if e.cancel.Load() || e.cancelCtx.Err() != nil {
			return
		}

		setpoint := p.Setpoint(elapsed)
		if err := e.channel.MoveTo(setpoint); err != nil {
			e.logger.Warnf("sinusoid aborted at t=%.3f: %v", elapsed, err)
			return
		}
		measured, err := e.channel.Position()
		if err != nil {
			e.logger.Warnf("sinusoid position read failed at t=%.3f: %v", elapsed, err)
			return
		}
		e.hub.Publish(Sample{
			Elapsed:  elapsed,
			Position: measured,
			Setpoint: setpoint,
			Sensor:   e.sensorValue(),
		})

		if !utils.SelectContextOrWait(e.cancelCtx, e.tick) {
			return
		}
		elapsed = time.Since(start).Seconds()
	}
}

func (e *Executor) playTrajectory(p TrajectoryParams) {
	pos := newInterpolant(p.Positions, p.SampleDt)
	duration := p.Duration()
	start := time.Now()

	// The motor may still be spinning at the last commanded velocity when
	// the loop exits; always bring it back to zero.
	defer func() {
		if err := e.channel.Run(0); err != nil {
			e.logger.Warnf("trajectory stop command failed: %v", err)
		}
	}()

	for elapsed := 0.0; elapsed <= duration; {
		if e.cancel.Load() || e.cancelCtx.Err() != nil {
			return
		}

		velocity := pos.SlopeAt(elapsed)
		position := pos.At(elapsed)
		if err := e.channel.Run(velocity); err != nil {
			e.logger.Warnf("trajectory aborted at t=%.3f: %v", elapsed, err)
			return
		}
		e.hub.Publish(Sample{
			Elapsed:  elapsed,
			Position: position,
			Setpoint: velocity,
		})

		if !utils.SelectContextOrWait(e.cancelCtx, e.tick) {
			return
		}
		elapsed = time.Since(start).Seconds()
	}
}
