package sciclops

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.viam.com/rdk/logging"
)

// Both the gripper and the status sensor components talk to the same
// physical crane, so drivers are shared per serial port and reference
// counted. The last release closes the port.

type driverEntry struct {
	driver    *Driver
	config    *Config
	refCount  int64
	lastError error
	mu        sync.Mutex
}

type DriverRegistry struct {
	entries map[string]*driverEntry // port path -> entry
	mu      sync.RWMutex
}

func NewDriverRegistry() *DriverRegistry {
	return &DriverRegistry{entries: make(map[string]*driverEntry)}
}

// Compare configs for compatibility across sharers of one port.
func configsEqual(a, b *Config) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Port == b.Port &&
		a.Baudrate == b.Baudrate &&
		a.ReadTimeout == b.ReadTimeout &&
		a.ActionBudget == b.ActionBudget
}

func (r *DriverRegistry) GetDriver(config *Config, logger logging.Logger) (*Driver, error) {
	r.mu.RLock()
	entry, exists := r.entries[config.Port]
	r.mu.RUnlock()

	if exists {
		return r.getExistingDriver(entry, config)
	}
	return r.createNewDriver(config, logger)
}

func (r *DriverRegistry) getExistingDriver(entry *driverEntry, config *Config) (*Driver, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.driver == nil {
		if entry.lastError != nil {
			return nil, fmt.Errorf("cached driver creation error: %w", entry.lastError)
		}
		return nil, fmt.Errorf("driver not available for port %s", config.Port)
	}
	if !configsEqual(entry.config, config) {
		currentRefCount := atomic.LoadInt64(&entry.refCount)
		return nil, fmt.Errorf("conflict: existing driver for %s uses different config (refCount: %d)", config.Port, currentRefCount)
	}
	atomic.AddInt64(&entry.refCount, 1)
	return entry.driver, nil
}

func (r *DriverRegistry) createNewDriver(config *Config, logger logging.Logger) (*Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[config.Port]; exists {
		return r.getExistingDriver(entry, config)
	}

	entry := &driverEntry{config: config}
	driver, err := NewDriver(config, logger)
	if err != nil {
		entry.lastError = err
		r.entries[config.Port] = entry
		return nil, err
	}

	entry.driver = driver
	entry.lastError = nil
	atomic.StoreInt64(&entry.refCount, 1)
	r.entries[config.Port] = entry

	if logger != nil {
		logger.Infof("opened plate crane on %s", config.Port)
	}
	return driver, nil
}

func (r *DriverRegistry) ReleaseDriver(portPath string) {
	r.mu.RLock()
	entry, exists := r.entries[portPath]
	r.mu.RUnlock()

	if !exists {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	currentRefCount := atomic.AddInt64(&entry.refCount, -1)
	if currentRefCount <= 0 {
		if entry.driver != nil {
			if err := entry.driver.Close(); err != nil && entry.config != nil && entry.config.Logger != nil {
				entry.config.Logger.Warnf("error closing shared driver for port %s: %v", portPath, err)
			}
		}

		r.mu.Lock()
		delete(r.entries, portPath)
		r.mu.Unlock()

		entry.driver = nil
		entry.config = nil
		atomic.StoreInt64(&entry.refCount, 0)
		entry.lastError = nil
	}
}

// Status reports refcount, liveness, and a config summary for a port.
func (r *DriverRegistry) Status(portPath string) (int64, bool, string) {
	r.mu.RLock()
	entry, exists := r.entries[portPath]
	r.mu.RUnlock()

	if !exists {
		return 0, false, ""
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	currentRefCount := atomic.LoadInt64(&entry.refCount)
	hasDriver := entry.driver != nil
	configSummary := ""
	if entry.config != nil {
		configSummary = fmt.Sprintf("Serial: %s@%d", entry.config.Port, entry.config.Baudrate)
	}
	return currentRefCount, hasDriver, configSummary
}

var sharedDrivers = NewDriverRegistry()

// SharedDriver returns the refcounted driver for config's port,
// creating it on first use.
func SharedDriver(config *Config, logger logging.Logger) (*Driver, error) {
	return sharedDrivers.GetDriver(config, logger)
}

// ReleaseSharedDriver drops one reference to the port's driver.
func ReleaseSharedDriver(portPath string) {
	sharedDrivers.ReleaseDriver(portPath)
}
