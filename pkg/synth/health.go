package synth

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bookvoice/bookvoice/pkg/synth/perf"
)

// HealthMonitor probes registered adapters and drives their availability.
// A failed check takes an adapter out of rotation; a later passing check
// puts it back automatically.
type HealthMonitor struct {
	registry *Registry
	monitor  *perf.Monitor

	// Timeout caps a single adapter probe.
	timeout time.Duration

	mu      sync.Mutex
	results map[string]HealthCheckResult
}

// NewHealthMonitor wires a health monitor to a registry. A nil perf
// monitor disables metric recording. Timeout <= 0 falls back to 10s.
func NewHealthMonitor(registry *Registry, monitor *perf.Monitor, timeout time.Duration) *HealthMonitor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HealthMonitor{
		registry: registry,
		monitor:  monitor,
		timeout:  timeout,
		results:  make(map[string]HealthCheckResult),
	}
}

// CheckAll probes every registered adapter concurrently and returns the
// results keyed by adapter name. Availability in the registry is updated
// from each result; checks also feed the performance monitor so latency
// trends on health probes surface in snapshots.
func (h *HealthMonitor) CheckAll(ctx context.Context) map[string]HealthCheckResult {
	names := h.registry.Names()
	results := make(map[string]HealthCheckResult, len(names))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			res := h.Check(ctx, name)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return results
}

// Check probes one adapter, records the result, and flips availability
// when the adapter's state changed.
func (h *HealthMonitor) Check(ctx context.Context, name string) HealthCheckResult {
	reg, ok := h.registry.Get(name)
	if !ok {
		return HealthCheckResult{
			Adapter:   name,
			Status:    StatusUnhealthy,
			Timestamp: time.Now(),
			Message:   "adapter is not registered",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	res := h.probe(ctx, reg.Adapter)
	res.Adapter = name

	wasAvailable := h.registry.IsAvailable(name)
	h.registry.SetAvailability(name, res.Healthy(), &res)
	switch {
	case wasAvailable && !res.Healthy():
		log.Warn("adapter removed from rotation",
			"adapter", name, "message", res.Message, "response_time", res.ResponseTime)
	case !wasAvailable && res.Healthy():
		log.Info("adapter recovered, back in rotation",
			"adapter", name, "response_time", res.ResponseTime)
	}

	if h.monitor != nil {
		h.monitor.RecordHealthCheck(name, res.ResponseTime, res.Healthy())
	}

	h.mu.Lock()
	h.results[name] = res
	h.mu.Unlock()
	return res
}

// probe runs the adapter's health check, converting a panic into an
// unhealthy result so one broken adapter cannot take down a sweep.
func (h *HealthMonitor) probe(ctx context.Context, adapter Adapter) (res HealthCheckResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = HealthCheckResult{
				Status:       StatusUnhealthy,
				Timestamp:    time.Now(),
				ResponseTime: time.Since(start),
				Message:      "health check panicked",
			}
		}
	}()
	res = adapter.HealthCheck(ctx)
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}
	if res.ResponseTime == 0 {
		res.ResponseTime = time.Since(start)
	}
	return res
}

// LastResults returns a copy of the most recent result per adapter.
func (h *HealthMonitor) LastResults() map[string]HealthCheckResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]HealthCheckResult, len(h.results))
	for n, r := range h.results {
		out[n] = r
	}
	return out
}
