package autostep

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/resource"
	"go.viam.com/utils"
)

// Model for the IO Rodeo Autostep stepper controller.
var Model = resource.NewModel("iorodeo", "motor", "autostep")

// The firmware works in degrees; the motor API works in revolutions.
const degPerRev = 360.0

func init() {
	resource.RegisterComponent(motor.API, Model, resource.Registration[motor.Motor, *Config]{
		Constructor: newAutostepMotor,
	})
}

// autostepMotor exposes one Autostep channel as a motor component. The
// standard motor API covers direct velocity and positioning moves; the
// profile playback and tracking command set rides on DoCommand.
type autostepMotor struct {
	resource.Named
	resource.AlwaysRebuild

	logger logging.Logger
	cfg    *Config
	port   string

	channel *Channel
	state   *sharedState
	hub     *Hub

	motion  *Executor
	tracker *Tracker
	router  *Router

	opMgr    *operation.SingleOperationManager
	powerPct float64

	// maxDegPerSec bounds SetPower, taken from the max profile speed.
	maxDegPerSec float64

	cancelCtx  context.Context
	cancelFunc context.CancelFunc
}

func newAutostepMotor(ctx context.Context, deps resource.Dependencies, c resource.Config, logger logging.Logger,
) (motor.Motor, error) {
	conf, err := resource.NativeConfig[*Config](c)
	if err != nil {
		return nil, err
	}

	entry, err := globalRegistry.Get(conf.Port, conf, logger)
	if err != nil {
		return nil, err
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	m := &autostepMotor{
		Named:      c.ResourceName().AsNamed(),
		logger:     logger,
		cfg:        conf,
		port:       conf.Port,
		channel:    entry.Channel,
		state:      entry.State,
		hub:        entry.Hub,
		opMgr:      operation.NewSingleOperationManager(),
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}

	jog, max, fromFile := conf.LoadProfiles(logger)
	if fromFile {
		logger.Debugf("Using move profiles from %s", conf.ProfileFile)
	}
	m.maxDegPerSec = max.Speed

	if err := m.initialize(jog, max); err != nil {
		cancelFunc()
		globalRegistry.Release(conf.Port, logger)
		return nil, errors.Wrap(err, "failed to initialize autostep controller")
	}

	m.motion = NewExecutor(cancelCtx, m.state, m.channel, m.hub, conf.Tick(), logger)
	m.tracker = NewTracker(m.state, m.channel, m.hub, conf.TrackingGain, logger)
	m.router = NewRouter(m.state, m.channel, m.motion, m.tracker, conf.TrajectoryDt, logger)

	return m, nil
}

// initialize pushes the configured controller parameters to the firmware
// and energizes the motor.
func (m *autostepMotor) initialize(jog, max ProfileParams) error {
	if err := m.channel.SetStepMode(m.cfg.StepMode); err != nil {
		return err
	}
	if err := m.channel.SetFullstepPerRev(m.cfg.FullstepPerRev); err != nil {
		return err
	}
	if err := m.channel.SetGearRatio(m.cfg.GearRatio); err != nil {
		return err
	}
	if err := m.channel.SetProfile(MoveModeJog, jog); err != nil {
		return err
	}
	if err := m.channel.SetProfile(MoveModeMax, max); err != nil {
		return err
	}
	if err := m.channel.SetMoveMode(MoveModeJog); err != nil {
		return err
	}
	if err := m.channel.Enable(); err != nil {
		return err
	}

	m.state.mu.Lock()
	m.state.enabled = true
	m.state.mu.Unlock()

	m.logger.Infof("Autostep controller on %s ready: step_mode=%s fullstep_per_rev=%d gear_ratio=%g",
		m.port, m.cfg.StepMode, m.cfg.FullstepPerRev, m.cfg.GearRatio)
	return nil
}

// SetPower runs the motor at a fraction of the max profile speed.
func (m *autostepMotor) SetPower(ctx context.Context, powerPct float64, extra map[string]interface{}) error {
	m.opMgr.CancelRunning(ctx)
	if powerPct > 1 {
		powerPct = 1
	} else if powerPct < -1 {
		powerPct = -1
	}
	m.powerPct = powerPct
	return m.channel.Run(powerPct * m.maxDegPerSec)
}

// SetRPM runs the motor at the given velocity indefinitely.
func (m *autostepMotor) SetRPM(ctx context.Context, rpm float64, extra map[string]interface{}) error {
	m.opMgr.CancelRunning(ctx)
	return m.channel.Run(rpmToDegPerSec(rpm))
}

// GoFor moves the given number of revolutions relative to the current
// position. The firmware's jog profile governs the speed ramp; rpm only
// picks the direction when revolutions is signed the other way.
func (m *autostepMotor) GoFor(ctx context.Context, rpm, revolutions float64, extra map[string]interface{}) error {
	warning, err := motor.CheckSpeed(rpm, m.maxDegPerSec/6)
	if warning != "" {
		m.logger.CWarn(ctx, warning)
	}
	if err != nil {
		return err
	}

	current, err := m.channel.Position()
	if err != nil {
		return errors.Wrap(err, "error in GoFor")
	}
	if rpm < 0 {
		revolutions = -revolutions
	}
	return m.goToDegrees(ctx, current+revolutions*degPerRev)
}

// GoTo moves to an absolute position in revolutions.
func (m *autostepMotor) GoTo(ctx context.Context, rpm, positionRevolutions float64, extra map[string]interface{}) error {
	return m.goToDegrees(ctx, positionRevolutions*degPerRev)
}

func (m *autostepMotor) goToDegrees(ctx context.Context, target float64) error {
	ctx, done := m.opMgr.New(ctx)
	defer done()

	if err := m.channel.MoveTo(target); err != nil {
		return err
	}
	return m.waitForStop(ctx)
}

// waitForStop polls the firmware busy flag until the queued move finishes.
func (m *autostepMotor) waitForStop(ctx context.Context) error {
	for {
		busy, err := m.channel.Busy()
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
		if !utils.SelectContextOrWait(ctx, 10*time.Millisecond) {
			return ctx.Err()
		}
	}
}

// ResetZeroPosition sets the current position (adjusted by offset) as the
// new zero.
func (m *autostepMotor) ResetZeroPosition(ctx context.Context, offset float64, extra map[string]interface{}) error {
	moving, err := m.IsMoving(ctx)
	if err != nil {
		return errors.Wrap(err, "error in ResetZeroPosition")
	}
	if moving {
		return errors.New("can't zero motor while moving")
	}
	return m.channel.SetPosition(-offset * degPerRev)
}

// Position reports the current position in revolutions.
func (m *autostepMotor) Position(ctx context.Context, extra map[string]interface{}) (float64, error) {
	degrees, err := m.channel.Position()
	if err != nil {
		return 0, errors.Wrap(err, "error in Position")
	}
	return degrees / degPerRev, nil
}

// Properties returns the status of position reporting.
func (m *autostepMotor) Properties(ctx context.Context, extra map[string]interface{}) (motor.Properties, error) {
	return motor.Properties{PositionReporting: true}, nil
}

// Stop cancels any running motion profile and decelerates to a halt.
func (m *autostepMotor) Stop(ctx context.Context, extra map[string]interface{}) error {
	m.opMgr.CancelRunning(ctx)
	m.motion.Cancel()
	m.powerPct = 0
	return m.channel.SoftStop()
}

// IsMoving returns true while a queued move or motion profile is active.
func (m *autostepMotor) IsMoving(ctx context.Context) (bool, error) {
	m.state.mu.Lock()
	running := m.state.runningMotion
	m.state.mu.Unlock()
	if running {
		return true, nil
	}
	return m.channel.Busy()
}

// IsPowered reports whether the motor is moving and the last power setting.
func (m *autostepMotor) IsPowered(ctx context.Context, extra map[string]interface{}) (bool, float64, error) {
	on, err := m.IsMoving(ctx)
	if err != nil {
		return on, m.powerPct, errors.Wrap(err, "error in IsPowered")
	}
	return on, m.powerPct, nil
}

// DoCommand exposes the device command set and the tracking sample feed.
// Tracking samples bypass the router so the control loop stays on the
// shortest path.
func (m *autostepMotor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd["command"].(string)
	if !ok {
		return nil, errors.New("missing command value")
	}

	if name == "tracking_sample" {
		position, posOK := cmd["position"].(float64)
		velocity, velOK := cmd["velocity"].(float64)
		if !posOK || !velOK {
			return nil, errors.New("tracking_sample requires position and velocity values")
		}
		if err := m.tracker.HandleSample(TrackingSample{Position: position, Velocity: velocity}); err != nil {
			return nil, err
		}
		return map[string]interface{}{"success": true}, nil
	}

	args := make(map[string]interface{}, len(cmd))
	for k, v := range cmd {
		if k != "command" {
			args[k] = v
		}
	}
	return m.router.Dispatch(name, args).Response(), nil
}

// Close stops all activity, releases the motor and drops the shared
// device reference.
func (m *autostepMotor) Close(ctx context.Context) error {
	m.cancelFunc()
	m.motion.Cancel()

	err := multierr.Combine(
		m.tracker.Disable(),
		m.channel.Run(0),
		m.channel.Release(),
	)

	m.state.mu.Lock()
	m.state.enabled = false
	m.state.mu.Unlock()

	globalRegistry.Release(m.port, m.logger)
	return err
}

func rpmToDegPerSec(rpm float64) float64 {
	return rpm * degPerRev / 60
}
