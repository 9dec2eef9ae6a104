package synth

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/bookvoice/bookvoice/pkg/synth/perf"
)

// Manager is the single entry point for speech synthesis. It owns the
// adapter registry, retry orchestration, fallback coordination, health
// monitoring, and performance tracking, and hides them behind one API.
type Manager struct {
	cfg          *Config
	registry     *Registry
	orchestrator *Orchestrator
	fallback     *FallbackCoordinator
	health       *HealthMonitor
	monitor      *perf.Monitor

	rrCounter atomic.Uint64
}

// NewManager builds a manager from configuration. Adapters are registered
// separately with RegisterAdapter.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := NewRegistry()
	monitor := perf.NewMonitor(cfg.Perf)
	orchestrator := NewOrchestrator(registry, monitor, cfg.Retry)

	return &Manager{
		cfg:          cfg,
		registry:     registry,
		orchestrator: orchestrator,
		fallback:     NewFallbackCoordinator(registry, orchestrator, cfg.FallbackChain),
		health:       NewHealthMonitor(registry, monitor, cfg.HealthCheckTimeout),
		monitor:      monitor,
	}, nil
}

// RegisterAdapter adds an adapter under the given name and starts tracking
// its performance.
func (m *Manager) RegisterAdapter(name string, a Adapter) error {
	if err := m.registry.Register(name, a); err != nil {
		return err
	}
	if name == m.cfg.DefaultAdapter {
		// Registration order decides the default otherwise.
		if err := m.registry.SetDefault(name); err != nil {
			return err
		}
	}
	m.monitor.InitAdapter(name)
	return nil
}

// UnregisterAdapter removes an adapter and drops its performance counters.
func (m *Manager) UnregisterAdapter(name string) bool {
	if !m.registry.Unregister(name) {
		return false
	}
	m.monitor.RemoveAdapter(name)
	return true
}

// Synthesize converts text to audio using the configured selection
// strategy, retry policy, and fallback chain. The request gains a
// generated id when the caller left it empty.
func (m *Manager) Synthesize(ctx context.Context, req *SynthesisRequest) (*SynthesisResponse, error) {
	return m.SynthesizeWith(ctx, "", req)
}

// SynthesizeWith is Synthesize with an explicit adapter name. An empty
// name defers to the selection strategy. When the chosen adapter fails
// after retries, the fallback chain takes over; a fallback-served response
// is marked in its metadata.
func (m *Manager) SynthesizeWith(ctx context.Context, name string, req *SynthesisRequest) (*SynthesisResponse, error) {
	if req == nil || req.Text == "" {
		return nil, NewConfigError("request text cannot be empty", nil)
	}
	req.ensureRequestID()

	if name == "" {
		var err error
		name, err = m.selectAdapter(req)
		if err != nil {
			return nil, err
		}
	}

	resp, err := m.orchestrator.Synthesize(ctx, name, req)
	if err == nil {
		return resp, nil
	}
	if IsConfigError(err) {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, err
	}

	log.Warn("adapter failed, consulting fallback chain",
		"adapter", name, "request", req.RequestID, "error", err)
	return m.fallback.Handle(ctx, name, req, err)
}

// selectAdapter picks an adapter for a request. The strategy's pick is
// used when it can serve the requested voice; otherwise the first
// available compatible adapter is chosen directly. Direct selection is
// not fallback and does not mark the response.
func (m *Manager) selectAdapter(req *SynthesisRequest) (string, error) {
	available := m.registry.Available()
	if len(available) == 0 {
		return "", &SynthError{
			Code:      CodeServiceError,
			Op:        "select",
			RequestID: req.RequestID,
			Message:   "no adapters are available",
		}
	}

	candidate := m.strategyPick(available)
	if reg, ok := m.registry.Get(candidate); ok && voiceCompatible(reg.Adapter, req.Voice) {
		return candidate, nil
	}

	for _, name := range available {
		if name == candidate {
			continue
		}
		if reg, ok := m.registry.Get(name); ok && voiceCompatible(reg.Adapter, req.Voice) {
			log.Debug("selected adapter cannot serve voice, using compatible adapter",
				"selected", candidate, "using", name, "voice", req.Voice.ID)
			return name, nil
		}
	}

	return "", &SynthError{
		Code:      CodeUnsupportedVoice,
		Op:        "select",
		RequestID: req.RequestID,
		Message:   fmt.Sprintf("no available adapter supports voice %q", req.Voice.ID),
	}
}

// strategyPick applies the configured selection strategy over the
// available adapter names.
func (m *Manager) strategyPick(available []string) string {
	switch m.cfg.SelectionStrategy {
	case SelectBestQuality:
		best := available[0]
		bestScore := -1.0
		for _, name := range available {
			reg, ok := m.registry.Get(name)
			if !ok {
				continue
			}
			if score := reg.Adapter.Capabilities().QualityScore; score > bestScore {
				best, bestScore = name, score
			}
		}
		return best
	case SelectRoundRobin:
		n := m.rrCounter.Add(1) - 1
		return available[n%uint64(len(available))]
	default:
		def := m.registry.Default()
		if def != "" && m.registry.IsAvailable(def) {
			return def
		}
		return available[0]
	}
}

// InitializeAll initializes every registered adapter that is not yet
// initialized, returning the first error encountered but attempting all.
func (m *Manager) InitializeAll() error {
	var firstErr error
	for name, reg := range m.registry.RegistrationInfo() {
		if reg.Initialized {
			continue
		}
		if err := reg.Adapter.Initialize(); err != nil {
			log.Warn("adapter initialization failed", "adapter", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.registry.SetInitialized(name)
		m.registry.SetAvailability(name, true, nil)
	}
	return firstErr
}

// CleanupAll releases every adapter's resources. Errors are logged, not
// returned; cleanup continues through the full set.
func (m *Manager) CleanupAll() {
	for name, reg := range m.registry.RegistrationInfo() {
		if err := reg.Adapter.Cleanup(); err != nil {
			log.Warn("adapter cleanup failed", "adapter", name, "error", err)
		}
	}
}

// HealthCheckAll probes every registered adapter concurrently and updates
// availability from the results.
func (m *Manager) HealthCheckAll(ctx context.Context) map[string]HealthCheckResult {
	return m.health.CheckAll(ctx)
}

// AvailableAdapters lists the adapters currently in rotation.
func (m *Manager) AvailableAdapters() []string {
	return m.registry.Available()
}

// RegisteredAdapters lists every registered adapter name.
func (m *Manager) RegisteredAdapters() []string {
	return m.registry.Names()
}

// SetDefaultAdapter changes the default adapter used by the default
// selection strategy.
func (m *Manager) SetDefaultAdapter(name string) error {
	return m.registry.SetDefault(name)
}

// SetFallbackChain replaces the fallback chain.
func (m *Manager) SetFallbackChain(chain []string) error {
	return m.fallback.SetChain(chain)
}

// PerformanceMetrics returns the current performance snapshot for every
// adapter with recorded activity.
func (m *Manager) PerformanceMetrics() map[string]perf.Snapshot {
	return m.monitor.Snapshots()
}

// PerformanceAlerts returns the retained alert history.
func (m *Manager) PerformanceAlerts() []perf.Alert {
	return m.monitor.Alerts()
}

// AggregatedCapabilities merges the capability sets of all registered
// adapters: the union of languages, formats, sample rates, and features,
// and the maximum quality score.
func (m *Manager) AggregatedCapabilities() Capabilities {
	var agg Capabilities
	langs := map[string]bool{}
	formats := map[string]bool{}
	rates := map[int]bool{}
	features := map[string]bool{}

	for _, reg := range m.registry.RegistrationInfo() {
		caps := reg.Adapter.Capabilities()
		for _, l := range caps.Languages {
			langs[l] = true
		}
		for _, f := range caps.Formats {
			formats[f] = true
		}
		for _, r := range caps.SampleRates {
			rates[r] = true
		}
		for _, f := range caps.Features {
			features[f] = true
		}
		if caps.QualityScore > agg.QualityScore {
			agg.QualityScore = caps.QualityScore
		}
	}

	agg.Languages = sortedKeys(langs)
	agg.Formats = sortedKeys(formats)
	agg.Features = sortedKeys(features)
	for r := range rates {
		agg.SampleRates = append(agg.SampleRates, r)
	}
	sort.Ints(agg.SampleRates)
	return agg
}

// SupportedVoices returns every voice offered by registered adapters,
// keyed by adapter name.
func (m *Manager) SupportedVoices() map[string][]VoiceInfo {
	out := make(map[string][]VoiceInfo)
	for name, reg := range m.registry.RegistrationInfo() {
		out[name] = reg.Adapter.SupportedVoices()
	}
	return out
}

// Registry exposes the underlying registry for inspection.
func (m *Manager) Registry() *Registry {
	return m.registry
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
