package synth

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// AdapterRegistration tracks the lifecycle state of one registered adapter.
// The adapter instance is owned exclusively by the registry.
type AdapterRegistration struct {
	Adapter         Adapter
	RegisteredAt    time.Time
	Initialized     bool
	Available       bool
	LastHealthCheck *HealthCheckResult
}

// Registry is a synchronized keyed store of adapters. Name uniqueness is
// enforced atomically with insertion; iteration follows registration order
// so default promotion is deterministic.
type Registry struct {
	mu          sync.RWMutex
	adapters    map[string]*AdapterRegistration
	order       []string
	defaultName string
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]*AdapterRegistration),
	}
}

// Register validates and stores an adapter under the given name, then runs
// its initialization hook. A duplicate name fails with a ConfigError and
// leaves the existing registration intact.
func (r *Registry) Register(name string, a Adapter) error {
	if name == "" {
		return NewConfigError("adapter name cannot be empty", nil)
	}
	if err := validateAdapter(a); err != nil {
		return NewConfigError(fmt.Sprintf("adapter %q failed validation", name), err)
	}

	r.mu.Lock()
	if _, exists := r.adapters[name]; exists {
		r.mu.Unlock()
		return NewConfigError(fmt.Sprintf("adapter %q is already registered", name), nil)
	}
	reg := &AdapterRegistration{
		Adapter:      a,
		RegisteredAt: time.Now(),
		Available:    false,
	}
	r.adapters[name] = reg
	r.order = append(r.order, name)
	if r.defaultName == "" {
		r.defaultName = name
	}
	r.mu.Unlock()

	// Initialization runs outside the lock; adapters may do slow setup.
	if err := a.Initialize(); err != nil {
		log.Warn("adapter initialization failed", "adapter", name, "error", err)
		return nil
	}

	r.mu.Lock()
	reg.Initialized = true
	reg.Available = true
	r.mu.Unlock()

	log.Debug("adapter registered", "adapter", name, "version", a.Version())
	return nil
}

// Unregister runs the adapter's cleanup hook, then removes it. Returns
// false when the name is unknown. When the default adapter is removed, the
// earliest remaining registration is promoted to default.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	reg, ok := r.adapters[name]
	r.mu.Unlock()
	if !ok {
		return false
	}

	if err := reg.Adapter.Cleanup(); err != nil {
		log.Warn("adapter cleanup failed", "adapter", name, "error", err)
	}

	r.mu.Lock()
	delete(r.adapters, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.defaultName == name {
		if len(r.order) > 0 {
			r.defaultName = r.order[0]
			log.Info("default adapter promoted", "adapter", r.defaultName)
		} else {
			r.defaultName = ""
		}
	}
	r.mu.Unlock()

	log.Debug("adapter unregistered", "adapter", name)
	return true
}

// Get returns the registration for a name.
func (r *Registry) Get(name string) (*AdapterRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.adapters[name]
	return reg, ok
}

// Names returns all registered adapter names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Available returns the names of adapters currently in rotation.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.order))
	for _, n := range r.order {
		if r.adapters[n].Available {
			out = append(out, n)
		}
	}
	return out
}

// IsAvailable reports whether a named adapter is registered and in rotation.
func (r *Registry) IsAvailable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.adapters[name]
	return ok && reg.Available
}

// SetAvailability marks an adapter in or out of rotation and records the
// health check result that triggered the change.
func (r *Registry) SetAvailability(name string, available bool, result *HealthCheckResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.adapters[name]
	if !ok {
		return
	}
	reg.Available = available
	if result != nil {
		reg.LastHealthCheck = result
	}
}

// SetInitialized records that a late initialization run completed for an
// adapter whose registration-time Initialize failed.
func (r *Registry) SetInitialized(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.adapters[name]; ok {
		reg.Initialized = true
	}
}

// Default returns the current default adapter name, or "" when the registry
// is empty.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// SetDefault selects the default adapter. Unknown names fail with a
// ConfigError.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[name]; !ok {
		return NewConfigError(fmt.Sprintf("cannot set default: adapter %q is not registered", name), nil)
	}
	r.defaultName = name
	return nil
}

// RegistrationInfo returns a point-in-time copy of every registration's
// lifecycle state, keyed by adapter name.
func (r *Registry) RegistrationInfo() map[string]AdapterRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]AdapterRegistration, len(r.adapters))
	for n, reg := range r.adapters {
		out[n] = *reg
	}
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}
