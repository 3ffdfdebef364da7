package autostep

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// ProfileFileFormat is the on-disk shape of a move profile file. A missing
// section falls back to the default for that mode.
type ProfileFileFormat struct {
	Jog *ProfileParams `json:"jog_mode"`
	Max *ProfileParams `json:"max_mode"`
}

// Firmware defaults, in deg/s and deg/s^2.
var (
	DefaultJogProfile = ProfileParams{Speed: 200, Acceleration: 500, Deceleration: 500}
	DefaultMaxProfile = ProfileParams{Speed: 1000, Acceleration: 10000, Deceleration: 10000}
)

// LoadProfiles resolves the configured profile file and loads it. Returns
// the jog and max profiles plus whether they came from a file; any load
// failure falls back to defaults with a warning rather than blocking
// startup.
func (cfg *Config) LoadProfiles(logger logging.Logger) (jog, max ProfileParams, fromFile bool) {
	if cfg.ProfileFile == "" {
		logger.Debug("No profile file specified, using default move profiles")
		return DefaultJogProfile, DefaultMaxProfile, false
	}

	if !filepath.IsAbs(cfg.ProfileFile) {
		moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
		if moduleDataDir == "" {
			moduleDataDir = "/tmp"
		}
		cfg.ProfileFile = filepath.Join(moduleDataDir, cfg.ProfileFile)
	}

	jog, max, err := LoadProfilesFromFile(cfg.ProfileFile)
	if err != nil {
		logger.Warnf("Failed to load profiles from %s: %v, using defaults", cfg.ProfileFile, err)
		return DefaultJogProfile, DefaultMaxProfile, false
	}

	logger.Infof("Loaded move profiles from %s", cfg.ProfileFile)
	return jog, max, true
}

// LoadProfilesFromFile reads and validates a profile file.
func LoadProfilesFromFile(filePath string) (jog, max ProfileParams, err error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return jog, max, errors.Wrap(err, "failed to read profile file")
	}

	var fileFormat ProfileFileFormat
	if err := json.Unmarshal(data, &fileFormat); err != nil {
		return jog, max, errors.Wrap(err, "failed to parse profile JSON")
	}

	jog = DefaultJogProfile
	if fileFormat.Jog != nil {
		jog = *fileFormat.Jog
	}
	max = DefaultMaxProfile
	if fileFormat.Max != nil {
		max = *fileFormat.Max
	}

	for _, p := range []struct {
		name    string
		profile ProfileParams
	}{{"jog_mode", jog}, {"max_mode", max}} {
		if err := validateProfile(p.profile); err != nil {
			return jog, max, errors.Wrapf(err, "%s", p.name)
		}
	}
	return jog, max, nil
}

// SaveProfilesToFile writes both profiles as an indented JSON file.
func SaveProfilesToFile(filePath string, jog, max ProfileParams) error {
	data, err := json.MarshalIndent(ProfileFileFormat{Jog: &jog, Max: &max}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal profiles")
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write profile file")
	}
	return nil
}

func validateProfile(p ProfileParams) error {
	if p.Speed <= 0 {
		return errors.New("speed must be positive")
	}
	if p.Acceleration <= 0 {
		return errors.New("accel must be positive")
	}
	if p.Deceleration <= 0 {
		return errors.New("decel must be positive")
	}
	return nil
}
