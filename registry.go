package autostep

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// openDriverFn opens the actuator driver for an entry. Swapped out in tests.
var openDriverFn = func(port string, baudrate int, logger logging.Logger) (Driver, error) {
	return openSerialDriver(port, baudrate, logger)
}

// DeviceEntry bundles everything that must be shared between the resources
// attached to one physical controller: the serialized channel, the
// telemetry hub and the state flags.
type DeviceEntry struct {
	Channel *Channel
	Hub     *Hub
	State   *sharedState

	config    *Config
	refCount  int64
	lastError error
	mu        sync.Mutex
}

// DeviceRegistry hands out one DeviceEntry per serial port. A motor and a
// telemetry sensor configured for the same port share a single serial
// connection; the entry closes when the last user releases it.
type DeviceRegistry struct {
	entries map[string]*DeviceEntry
	mu      sync.RWMutex
}

func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{entries: make(map[string]*DeviceEntry)}
}

// Get returns the entry for port, opening the device on first use.
func (r *DeviceRegistry) Get(port string, cfg *Config, logger logging.Logger) (*DeviceEntry, error) {
	r.mu.RLock()
	entry, exists := r.entries[port]
	r.mu.RUnlock()

	if exists {
		return r.getExisting(entry, cfg)
	}
	return r.createNew(port, cfg, logger)
}

func (r *DeviceRegistry) getExisting(entry *DeviceEntry, cfg *Config) (*DeviceEntry, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.Channel == nil {
		if entry.lastError != nil {
			return nil, errors.Wrap(entry.lastError, "cached device open error")
		}
		return nil, errors.Errorf("device not available for port %s", cfg.Port)
	}

	if !configsEqual(entry.config, cfg) {
		refCount := atomic.LoadInt64(&entry.refCount)
		return nil, errors.Errorf("conflict: existing device on port %s uses different config (refCount: %d)", cfg.Port, refCount)
	}

	atomic.AddInt64(&entry.refCount, 1)
	return entry, nil
}

func (r *DeviceRegistry) createNew(port string, cfg *Config, logger logging.Logger) (*DeviceEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[port]; exists {
		return r.getExisting(entry, cfg)
	}

	entry := &DeviceEntry{config: cfg}

	drv, err := openDriverFn(port, cfg.Baudrate, logger)
	if err != nil {
		entry.lastError = err
		r.entries[port] = entry
		return nil, errors.Wrapf(err, "failed to open autostep device on %s", port)
	}

	entry.Channel = NewChannel(drv)
	entry.Hub = NewHub()
	entry.State = &sharedState{}
	entry.lastError = nil
	atomic.StoreInt64(&entry.refCount, 1)
	r.entries[port] = entry

	logger.Infof("Opened shared autostep device on port %s", port)
	return entry, nil
}

// Attach joins an already-open entry without supplying a device config,
// for resources that only observe the device. Fails if no motor has opened
// the port yet.
func (r *DeviceRegistry) Attach(port string) (*DeviceEntry, error) {
	r.mu.RLock()
	entry, exists := r.entries[port]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Errorf("no autostep device open on port %s; configure the motor first", port)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.Channel == nil {
		return nil, errors.Errorf("device not available for port %s", port)
	}
	atomic.AddInt64(&entry.refCount, 1)
	return entry, nil
}

// Release drops one reference to the port's entry, closing the serial
// connection when the count reaches zero.
func (r *DeviceRegistry) Release(port string, logger logging.Logger) {
	r.mu.RLock()
	entry, exists := r.entries[port]
	r.mu.RUnlock()

	if !exists {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if atomic.AddInt64(&entry.refCount, -1) > 0 {
		return
	}

	if entry.Channel != nil {
		if err := entry.Channel.Close(); err != nil {
			logger.Warnf("error closing shared device for port %s: %v", port, err)
		}
	}

	r.mu.Lock()
	delete(r.entries, port)
	r.mu.Unlock()

	entry.Channel = nil
	entry.Hub = nil
	entry.State = nil
	entry.config = nil
	atomic.StoreInt64(&entry.refCount, 0)
}

// Status reports the reference count and liveness for a port, for
// debugging via DoCommand.
func (r *DeviceRegistry) Status(port string) (int64, bool) {
	r.mu.RLock()
	entry, exists := r.entries[port]
	r.mu.RUnlock()

	if !exists {
		return 0, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return atomic.LoadInt64(&entry.refCount), entry.Channel != nil
}

// globalRegistry is shared by every resource instance in the module process.
var globalRegistry = NewDeviceRegistry()
