package autostep

import (
	"bufio"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.viam.com/rdk/logging"
)

// MoveMode selects which firmware motion profile positioning moves use.
// Jog is the coarse manual profile; Max is the fine, fast profile used
// while tracking.
type MoveMode int

const (
	MoveModeJog MoveMode = iota
	MoveModeMax
)

func (m MoveMode) String() string {
	if m == MoveModeMax {
		return "max"
	}
	return "jog"
}

// ProfileParams are the speed limits of one firmware move profile, in
// firmware units (deg/s, deg/s^2).
type ProfileParams struct {
	Speed        float64 `json:"speed"`
	Acceleration float64 `json:"accel"`
	Deceleration float64 `json:"decel"`
}

// Params mirrors the configuration the firmware reports via get_params.
type Params struct {
	StepMode       string        `json:"step_mode"`
	FullstepPerRev int           `json:"fullstep_per_rev"`
	GearRatio      float64       `json:"gear_ratio"`
	Jog            ProfileParams `json:"jog_mode"`
	Max            ProfileParams `json:"max_mode"`
}

// Driver is the Autostep actuator capability set. Implementations are not
// safe for concurrent use; all calls go through a Channel.
type Driver interface {
	Enable() error
	Release() error
	SetMoveMode(mode MoveMode) error
	Run(velocity float64) error
	// RunWithFeedback commands a velocity and returns the measured
	// absolute position from the same exchange.
	RunWithFeedback(velocity float64) (float64, error)
	MoveTo(position float64) error
	SetPosition(position float64) error
	Position() (float64, error)
	Busy() (bool, error)
	SoftStop() error
	Params() (Params, error)

	// One-time setup, normally driven from config at startup.
	SetStepMode(mode string) error
	SetFullstepPerRev(n int) error
	SetGearRatio(ratio float64) error
	SetProfile(mode MoveMode, p ProfileParams) error

	Close() error
}

// Step modes supported by the Autostep firmware.
var stepModes = []string{
	"STEP_FS", "STEP_FS_2", "STEP_FS_4", "STEP_FS_8",
	"STEP_FS_16", "STEP_FS_32", "STEP_FS_64", "STEP_FS_128",
}

func validStepMode(mode string) bool {
	for _, m := range stepModes {
		if m == mode {
			return true
		}
	}
	return false
}

// serialDriver speaks the firmware's JSON-line protocol over a CDC serial
// port: one request object per line, one response object per line.
type serialDriver struct {
	port   serial.Port
	reader *bufio.Reader
	logger logging.Logger
}

const serialReadTimeout = 2 * time.Second

func openSerialDriver(portName string, baudrate int, logger logging.Logger) (*serialDriver, error) {
	mode := &serial.Mode{
		BaudRate: baudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", portName)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "failed to set serial read timeout")
	}

	logger.Infof("Connected to Autostep controller on port %s at %d baud", portName, baudrate)
	return &serialDriver{
		port:   port,
		reader: bufio.NewReader(port),
		logger: logger,
	}, nil
}

// request sends one command object and decodes the firmware response.
func (d *serialDriver) request(cmd map[string]interface{}) (map[string]interface{}, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode command")
	}
	payload = append(payload, '\n')

	if _, err := d.port.Write(payload); err != nil {
		return nil, errors.Wrap(err, "failed to write to serial port")
	}

	line, err := d.reader.ReadBytes('\n')
	if err != nil {
		return nil, errors.Wrap(err, "failed to read firmware response")
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, errors.Wrapf(err, "malformed firmware response %q", line)
	}
	if success, ok := resp["success"].(bool); ok && !success {
		msg, _ := resp["message"].(string)
		return nil, errors.Errorf("firmware rejected %v: %s", cmd["command"], msg)
	}
	return resp, nil
}

func (d *serialDriver) exec(cmd map[string]interface{}) error {
	_, err := d.request(cmd)
	return err
}

func (d *serialDriver) Enable() error {
	return d.exec(map[string]interface{}{"command": "enable"})
}

func (d *serialDriver) Release() error {
	return d.exec(map[string]interface{}{"command": "release"})
}

func (d *serialDriver) SetMoveMode(mode MoveMode) error {
	return d.exec(map[string]interface{}{"command": "set_move_mode", "mode": mode.String()})
}

func (d *serialDriver) Run(velocity float64) error {
	return d.exec(map[string]interface{}{"command": "run", "velocity": velocity})
}

func (d *serialDriver) RunWithFeedback(velocity float64) (float64, error) {
	resp, err := d.request(map[string]interface{}{"command": "run_with_feedback", "velocity": velocity})
	if err != nil {
		return 0, err
	}
	position, ok := resp["position"].(float64)
	if !ok {
		return 0, errors.New("run_with_feedback response missing position")
	}
	return position, nil
}

func (d *serialDriver) MoveTo(position float64) error {
	return d.exec(map[string]interface{}{"command": "move_to", "position": position})
}

func (d *serialDriver) SetPosition(position float64) error {
	return d.exec(map[string]interface{}{"command": "set_position", "position": position})
}

func (d *serialDriver) Position() (float64, error) {
	resp, err := d.request(map[string]interface{}{"command": "get_position"})
	if err != nil {
		return 0, err
	}
	position, ok := resp["position"].(float64)
	if !ok {
		return 0, errors.New("get_position response missing position")
	}
	return position, nil
}

func (d *serialDriver) Busy() (bool, error) {
	resp, err := d.request(map[string]interface{}{"command": "is_busy"})
	if err != nil {
		return false, err
	}
	busy, ok := resp["is_busy"].(bool)
	if !ok {
		return false, errors.New("is_busy response missing is_busy")
	}
	return busy, nil
}

func (d *serialDriver) SoftStop() error {
	return d.exec(map[string]interface{}{"command": "soft_stop"})
}

func (d *serialDriver) Params() (Params, error) {
	resp, err := d.request(map[string]interface{}{"command": "get_params"})
	if err != nil {
		return Params{}, err
	}

	// Round-trip the params subtree through JSON to pick up the struct tags.
	raw, ok := resp["params"]
	if !ok {
		return Params{}, errors.New("get_params response missing params")
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return Params{}, errors.Wrap(err, "failed to re-encode params")
	}
	var params Params
	if err := json.Unmarshal(encoded, &params); err != nil {
		return Params{}, errors.Wrap(err, "failed to decode params")
	}
	return params, nil
}

func (d *serialDriver) SetStepMode(mode string) error {
	if !validStepMode(mode) {
		return errors.Errorf("unknown step mode %q", mode)
	}
	return d.exec(map[string]interface{}{"command": "set_step_mode", "step_mode": mode})
}

func (d *serialDriver) SetFullstepPerRev(n int) error {
	return d.exec(map[string]interface{}{"command": "set_fullstep_per_rev", "fullstep_per_rev": n})
}

func (d *serialDriver) SetGearRatio(ratio float64) error {
	return d.exec(map[string]interface{}{"command": "set_gear_ratio", "gear_ratio": ratio})
}

func (d *serialDriver) SetProfile(mode MoveMode, p ProfileParams) error {
	return d.exec(map[string]interface{}{
		"command": "set_" + mode.String() + "_mode_params",
		"speed":   p.Speed,
		"accel":   p.Acceleration,
		"decel":   p.Deceleration,
	})
}

func (d *serialDriver) Close() error {
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}
