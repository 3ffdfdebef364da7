package autostep

import (
	"fmt"
	"strings"

	"go.viam.com/rdk/logging"
)

// Result is the outcome of one dispatched command. Fields carries any
// command-specific payload alongside the success flag.
type Result struct {
	Success bool
	Message string
	Fields  map[string]interface{}
}

func ok() Result {
	return Result{Success: true}
}

func okFields(fields map[string]interface{}) Result {
	return Result{Success: true, Fields: fields}
}

func fail(message string) Result {
	return Result{Success: false, Message: message}
}

// Response flattens the result into the wire shape clients see.
func (r Result) Response() map[string]interface{} {
	resp := map[string]interface{}{"success": r.Success}
	if r.Message != "" {
		resp["message"] = r.Message
	}
	for k, v := range r.Fields {
		resp[k] = v
	}
	return resp
}

type handler func(args map[string]interface{}) Result

// commandSet is the complete device command vocabulary. NewRouter checks
// the handler table against it so a missing or extra handler is caught at
// construction, not on first dispatch.
var commandSet = []string{
	"run", "enable", "release", "move_to", "soft_stop",
	"set_position", "get_position", "is_busy", "set_move_mode",
	"get_params", "print_params", "sinusoid", "run_trajectory",
	"enable_tracking_mode", "disable_tracking_mode",
}

// Router validates and dispatches the device command set. Validation runs
// before any actuator I/O; a command with missing or malformed arguments
// never touches the channel.
type Router struct {
	state   *sharedState
	channel *Channel
	motion  *Executor
	tracker *Tracker
	logger  logging.Logger

	trajectoryDt float64

	table map[string]handler
}

func NewRouter(state *sharedState, channel *Channel, motion *Executor, tracker *Tracker, trajectoryDt float64, logger logging.Logger) *Router {
	r := &Router{
		state:        state,
		channel:      channel,
		motion:       motion,
		tracker:      tracker,
		logger:       logger,
		trajectoryDt: trajectoryDt,
	}
	r.table = map[string]handler{
		"run":                   r.cmdRun,
		"enable":                r.cmdEnable,
		"release":               r.cmdRelease,
		"move_to":               r.cmdMoveTo,
		"soft_stop":             r.cmdSoftStop,
		"set_position":          r.cmdSetPosition,
		"get_position":          r.cmdGetPosition,
		"is_busy":               r.cmdIsBusy,
		"set_move_mode":         r.cmdSetMoveMode,
		"get_params":            r.cmdGetParams,
		"print_params":          r.cmdPrintParams,
		"sinusoid":              r.cmdSinusoid,
		"run_trajectory":        r.cmdRunTrajectory,
		"enable_tracking_mode":  r.cmdEnableTracking,
		"disable_tracking_mode": r.cmdDisableTracking,
	}
	if len(r.table) != len(commandSet) {
		panic("command table does not cover the command set")
	}
	for _, name := range commandSet {
		if _, found := r.table[name]; !found {
			panic("command table missing handler for " + name)
		}
	}
	return r
}

// Commands lists the supported command names.
func (r *Router) Commands() []string {
	return append([]string(nil), commandSet...)
}

// Dispatch routes one command by name.
func (r *Router) Dispatch(command string, args map[string]interface{}) Result {
	h, found := r.table[command]
	if !found {
		return fail("unknown command")
	}
	return h(args)
}

// floatArgs extracts the named float arguments, reporting every missing
// key in one message.
func floatArgs(args map[string]interface{}, keys ...string) ([]float64, string) {
	values := make([]float64, 0, len(keys))
	var missing []string
	for _, key := range keys {
		v, found := args[key].(float64)
		if !found {
			missing = append(missing, key+" argument missing")
			continue
		}
		values = append(values, v)
	}
	if len(missing) > 0 {
		return nil, strings.Join(missing, ", ")
	}
	return values, ""
}

func failIfErr(err error) Result {
	if err != nil {
		return fail(err.Error())
	}
	return ok()
}

func (r *Router) cmdRun(args map[string]interface{}) Result {
	vals, msg := floatArgs(args, "velocity")
	if msg != "" {
		return fail(msg)
	}
	return failIfErr(r.channel.Run(vals[0]))
}

func (r *Router) cmdEnable(map[string]interface{}) Result {
	if err := r.channel.Enable(); err != nil {
		return fail(err.Error())
	}
	r.state.mu.Lock()
	r.state.enabled = true
	r.state.mu.Unlock()
	return ok()
}

func (r *Router) cmdRelease(map[string]interface{}) Result {
	if err := r.channel.Release(); err != nil {
		return fail(err.Error())
	}
	r.state.mu.Lock()
	r.state.enabled = false
	r.state.mu.Unlock()
	return ok()
}

func (r *Router) cmdMoveTo(args map[string]interface{}) Result {
	vals, msg := floatArgs(args, "position")
	if msg != "" {
		return fail(msg)
	}
	return failIfErr(r.channel.MoveTo(vals[0]))
}

// cmdSoftStop cancels any in-flight motion profile before decelerating the
// actuator, so the playback loop stops feeding new setpoints.
func (r *Router) cmdSoftStop(map[string]interface{}) Result {
	r.motion.Cancel()
	return failIfErr(r.channel.SoftStop())
}

func (r *Router) cmdSetPosition(args map[string]interface{}) Result {
	vals, msg := floatArgs(args, "position")
	if msg != "" {
		return fail(msg)
	}
	return failIfErr(r.channel.SetPosition(vals[0]))
}

func (r *Router) cmdGetPosition(map[string]interface{}) Result {
	position, err := r.channel.Position()
	if err != nil {
		return fail(err.Error())
	}
	return okFields(map[string]interface{}{"position": position})
}

func (r *Router) cmdIsBusy(map[string]interface{}) Result {
	busy, err := r.channel.Busy()
	if err != nil {
		return fail(err.Error())
	}
	return okFields(map[string]interface{}{"is_busy": busy})
}

func (r *Router) cmdSetMoveMode(args map[string]interface{}) Result {
	modeStr, found := args["mode"].(string)
	if !found {
		return fail("mode argument missing")
	}
	var mode MoveMode
	switch modeStr {
	case "max":
		mode = MoveModeMax
	case "jog":
		mode = MoveModeJog
	default:
		return fail("mode must be 'max' or 'jog'")
	}
	return failIfErr(r.channel.SetMoveMode(mode))
}

func (r *Router) cmdGetParams(map[string]interface{}) Result {
	params, err := r.channel.Params()
	if err != nil {
		return fail(err.Error())
	}
	return okFields(map[string]interface{}{"params": params})
}

func (r *Router) cmdPrintParams(map[string]interface{}) Result {
	params, err := r.channel.Params()
	if err != nil {
		return fail(err.Error())
	}
	r.logger.Infof("step_mode: %s", params.StepMode)
	r.logger.Infof("fullstep_per_rev: %d", params.FullstepPerRev)
	r.logger.Infof("gear_ratio: %g", params.GearRatio)
	r.logger.Infof("jog mode: speed=%g accel=%g decel=%g",
		params.Jog.Speed, params.Jog.Acceleration, params.Jog.Deceleration)
	r.logger.Infof("max mode: speed=%g accel=%g decel=%g",
		params.Max.Speed, params.Max.Acceleration, params.Max.Deceleration)
	return ok()
}

func (r *Router) cmdSinusoid(args map[string]interface{}) Result {
	vals, msg := floatArgs(args, "amplitude", "period", "phase", "offset", "num_cycle")
	if msg != "" {
		return fail(msg)
	}
	params := SinusoidParams{
		Amplitude: vals[0],
		Period:    vals[1],
		Phase:     vals[2],
		Offset:    vals[3],
		NumCycle:  uint(vals[4]),
	}
	if params.Period <= 0 {
		return fail("period must be positive")
	}
	if err := r.motion.StartSinusoid(params); err != nil {
		return fail(err.Error())
	}
	return ok()
}

func (r *Router) cmdRunTrajectory(args map[string]interface{}) Result {
	raw, found := args["positions"].([]interface{})
	if !found {
		return fail("positions argument missing")
	}
	positions := make([]float64, 0, len(raw))
	for i, v := range raw {
		p, isFloat := v.(float64)
		if !isFloat {
			return fail(fmt.Sprintf("positions[%d] is not a number", i))
		}
		positions = append(positions, p)
	}

	sampleDt := r.trajectoryDt
	if v, hasDt := args["sample_dt"].(float64); hasDt {
		sampleDt = v
	}

	if err := r.motion.StartTrajectory(TrajectoryParams{Positions: positions, SampleDt: sampleDt}); err != nil {
		return fail(err.Error())
	}
	return ok()
}

func (r *Router) cmdEnableTracking(map[string]interface{}) Result {
	return failIfErr(r.tracker.Enable())
}

func (r *Router) cmdDisableTracking(map[string]interface{}) Result {
	return failIfErr(r.tracker.Disable())
}
