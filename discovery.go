package autostep

import (
	"context"
	"path/filepath"
	"strings"

	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
)

var DiscoveryModel = resource.NewModel("iorodeo", "discovery", "autostep")

func init() {
	resource.RegisterService(
		discovery.API,
		DiscoveryModel,
		resource.Registration[discovery.Service, *DiscoveryConfig]{
			Constructor: newAutostepDiscovery,
		})
}

// DiscoveryConfig is the configuration for the discovery service.
type DiscoveryConfig struct {
	// Baudrate to probe with; defaults to the motor default.
	Baudrate int `json:"baudrate,omitempty"`
}

func (cfg *DiscoveryConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Baudrate == 0 {
		cfg.Baudrate = defaultBaudrate
	}
	return nil, nil, nil
}

type autostepDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	logger   logging.Logger
	baudrate int
}

func newAutostepDiscovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	cfg, err := resource.NativeConfig[*DiscoveryConfig](conf)
	if err != nil {
		return nil, err
	}

	return &autostepDiscovery{
		Named:    conf.ResourceName().AsNamed(),
		logger:   logger,
		baudrate: cfg.Baudrate,
	}, nil
}

// DiscoverResources scans serial ports for Autostep controllers and returns
// component configurations for each one found.
func (dis *autostepDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("Starting Autostep discovery")

	allPorts := enumerateSerialPorts()
	dis.logger.Debugf("Found %d total serial ports", len(allPorts))

	candidates := filterCandidatePorts(allPorts)
	dis.logger.Debugf("Filtered to %d candidate ports", len(candidates))

	var allConfigs []resource.Config
	for _, portPath := range candidates {
		select {
		case <-ctx.Done():
			dis.logger.Info("Discovery cancelled")
			return allConfigs, ctx.Err()
		default:
		}

		allConfigs = append(allConfigs, dis.discoverPort(portPath)...)
	}

	if len(allConfigs) == 0 {
		dis.logger.Info("No Autostep controllers discovered")
	} else {
		dis.logger.Infof("Discovered %d component configurations", len(allConfigs))
	}

	return allConfigs, nil
}

// discoverPort probes one port for Autostep firmware and generates configs.
func (dis *autostepDiscovery) discoverPort(portPath string) []resource.Config {
	dis.logger.Debugf("Checking port %s", portPath)

	if !dis.probePort(portPath) {
		dis.logger.Debugf("No Autostep firmware detected on %s", portPath)
		return nil
	}

	dis.logger.Infof("Discovered Autostep controller on %s", portPath)
	portSuffix := extractPortSuffix(portPath)

	return []resource.Config{
		{
			Name:  "autostep-" + portSuffix,
			API:   motor.API,
			Model: Model,
			Attributes: map[string]interface{}{
				"port": portPath,
			},
		},
		{
			Name:  "autostep-telemetry-" + portSuffix,
			API:   sensor.API,
			Model: TelemetrySensorModel,
			Attributes: map[string]interface{}{
				"port": portPath,
			},
		},
	}
}

// probePort opens the port and asks for the firmware parameter block. Only
// Autostep firmware answers that exchange.
func (dis *autostepDiscovery) probePort(portPath string) bool {
	drv, err := openSerialDriver(portPath, dis.baudrate, dis.logger)
	if err != nil {
		dis.logger.Debugf("Failed to open port %s: %v", portPath, err)
		return false
	}
	defer func() {
		if err := drv.Close(); err != nil {
			dis.logger.Debugf("Failed to close port %s: %v", portPath, err)
		}
	}()

	if _, err := drv.Params(); err != nil {
		dis.logger.Debugf("Port %s did not answer get_params: %v", portPath, err)
		return false
	}
	return true
}

// filterCandidatePorts filters serial ports by platform-specific naming
// patterns.
func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

// isCandidatePort checks if a port matches USB CDC serial port patterns.
func isCandidatePort(port string) bool {
	// Linux: /dev/ttyUSB*, /dev/ttyACM*
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") {
		return true
	}
	// macOS: /dev/tty.usbmodem*, /dev/tty.usbserial*, /dev/cu.usbmodem*, /dev/cu.usbserial*
	if strings.HasPrefix(port, "/dev/tty.usbmodem") || strings.HasPrefix(port, "/dev/tty.usbserial") ||
		strings.HasPrefix(port, "/dev/cu.usbmodem") || strings.HasPrefix(port, "/dev/cu.usbserial") {
		return true
	}
	// Windows: COM*
	return strings.HasPrefix(port, "COM")
}

// extractPortSuffix extracts a friendly suffix from a port path for naming.
// /dev/ttyACM0 -> "ttyACM0", /dev/tty.usbmodem123 -> "usbmodem123".
func extractPortSuffix(portPath string) string {
	base := filepath.Base(portPath)
	if strings.HasPrefix(base, "tty.usb") {
		return strings.TrimPrefix(base, "tty.")
	}
	if strings.HasPrefix(base, "cu.usb") {
		return strings.TrimPrefix(base, "cu.")
	}
	return base
}

// enumerateSerialPorts returns all serial ports on the system.
func enumerateSerialPorts() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []string{}
	}

	var portPaths []string
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}
