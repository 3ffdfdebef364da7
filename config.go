package autostep

import (
	"time"

	"github.com/pkg/errors"
)

// Config is the attribute block for an autostep motor component.
type Config struct {
	Port     string `json:"port"`
	Baudrate int    `json:"baudrate,omitempty"`

	StepMode       string  `json:"step_mode,omitempty"`
	FullstepPerRev int     `json:"fullstep_per_rev,omitempty"`
	GearRatio      float64 `json:"gear_ratio,omitempty"`

	TrackingGain float64 `json:"tracking_gain,omitempty"`

	// TickMs is the motion profile playback period in milliseconds.
	TickMs int `json:"tick_ms,omitempty"`

	// TrajectoryDt is the default spacing between trajectory samples, in
	// seconds, used when a run_trajectory command does not carry its own.
	TrajectoryDt float64 `json:"trajectory_dt,omitempty"`

	// ProfileFile points at a JSON file with jog/max profile parameters.
	// Relative paths resolve under VIAM_MODULE_DATA.
	ProfileFile string `json:"profile_file,omitempty"`
}

const (
	defaultBaudrate       = 115200
	defaultStepMode       = "STEP_FS_128"
	defaultFullstepPerRev = 200
	defaultGearRatio      = 2.0
	defaultTrackingGain   = 5.0
	defaultTickMs         = 10
	defaultTrajectoryDt   = 0.005
)

// Validate ensures all parts of the config are valid and fills defaults.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		return nil, nil, errors.New("must specify port for serial communication")
	}

	if cfg.Baudrate == 0 {
		cfg.Baudrate = defaultBaudrate
	}
	if cfg.StepMode == "" {
		cfg.StepMode = defaultStepMode
	}
	if !validStepMode(cfg.StepMode) {
		return nil, nil, errors.Errorf("unknown step mode %q", cfg.StepMode)
	}
	if cfg.FullstepPerRev == 0 {
		cfg.FullstepPerRev = defaultFullstepPerRev
	}
	if cfg.FullstepPerRev < 0 {
		return nil, nil, errors.New("fullstep_per_rev must be positive")
	}
	if cfg.GearRatio == 0 {
		cfg.GearRatio = defaultGearRatio
	}
	if cfg.GearRatio < 0 {
		return nil, nil, errors.New("gear_ratio must be positive")
	}
	if cfg.TrackingGain == 0 {
		cfg.TrackingGain = defaultTrackingGain
	}
	if cfg.TickMs == 0 {
		cfg.TickMs = defaultTickMs
	}
	if cfg.TickMs < 0 {
		return nil, nil, errors.New("tick_ms must be positive")
	}
	if cfg.TrajectoryDt == 0 {
		cfg.TrajectoryDt = defaultTrajectoryDt
	}
	if cfg.TrajectoryDt < 0 {
		return nil, nil, errors.New("trajectory_dt must be positive")
	}

	return nil, nil, nil
}

// Tick returns the playback period as a duration.
func (cfg *Config) Tick() time.Duration {
	return time.Duration(cfg.TickMs) * time.Millisecond
}

func configsEqual(a, b *Config) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Port == b.Port &&
		a.Baudrate == b.Baudrate &&
		a.StepMode == b.StepMode &&
		a.FullstepPerRev == b.FullstepPerRev &&
		a.GearRatio == b.GearRatio
}
