package perf

import (
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// Level classifies a snapshot or alert.
type Level string

const (
	// LevelNormal means no threshold is breached.
	LevelNormal Level = "normal"

	// LevelWarning means at least one warning threshold is breached.
	LevelWarning Level = "warning"

	// LevelCritical means at least one critical threshold is breached.
	LevelCritical Level = "critical"
)

// Thresholds is one tier of alerting limits. MinRate is a floor; the rest
// are ceilings. A zero field disables that dimension.
type Thresholds struct {
	MinRate         float64       `yaml:"min_rate" mapstructure:"min_rate"`
	MaxResponseTime time.Duration `yaml:"max_response_time" mapstructure:"max_response_time"`
	MaxMemory       int64         `yaml:"max_memory" mapstructure:"max_memory"`
	MaxErrorRate    float64       `yaml:"max_error_rate" mapstructure:"max_error_rate"`
}

// Alert records one threshold breach for an adapter.
type Alert struct {
	Adapter   string
	Level     Level
	Causes    []string
	Timestamp time.Time
}

// Snapshot is a derived, point-in-time view of an adapter's accumulated
// counters. Reading a snapshot never mutates monitor state.
type Snapshot struct {
	Adapter         string
	Requests        int64
	Successes       int64
	ErrorRate       float64 // percent
	AvgRate         float64       // words per second
	AvgResponseTime time.Duration // mean over all attempts, failed ones included
	AvgMemory       int64
	TotalWords      int64
	AlertLevel      Level
	LastAlert       time.Time

	// Timestamp is the time of the last recorded event, so two snapshots
	// taken without an intervening event compare equal.
	Timestamp time.Time
}

// Config tunes monitoring behavior.
type Config struct {
	Warning  Thresholds `yaml:"warning" mapstructure:"warning"`
	Critical Thresholds `yaml:"critical" mapstructure:"critical"`

	// AlertCooldown is the minimum interval between alerts for the same
	// adapter, regardless of how many breaches occur inside it.
	AlertCooldown time.Duration `yaml:"alert_cooldown" mapstructure:"alert_cooldown"`

	// Retention bounds the rolling alert history window.
	Retention time.Duration `yaml:"retention" mapstructure:"retention"`
}

// DefaultConfig returns the monitoring defaults: one alert per adapter per
// minute, 24h alert retention.
func DefaultConfig() Config {
	return Config{
		Warning: Thresholds{
			MinRate:         5,
			MaxResponseTime: 10 * time.Second,
			MaxMemory:       128 << 20,
			MaxErrorRate:    10,
		},
		Critical: Thresholds{
			MinRate:         1,
			MaxResponseTime: 30 * time.Second,
			MaxMemory:       512 << 20,
			MaxErrorRate:    50,
		},
		AlertCooldown: time.Minute,
		Retention:     24 * time.Hour,
	}
}

// adapterData holds one adapter's running totals. Counters are monotonic
// between resets and mutated only by the Monitor.
type adapterData struct {
	requests       int64
	successes      int64
	attempts       int64
	totalSynthesis time.Duration
	totalWords     int64
	totalMemory    int64
	lastEvent      time.Time
	lastAlert      time.Time
	alertLimiter   *rate.Limiter
}

// Monitor accumulates per-adapter performance counters and raises
// cooldown-limited alerts. Construct one per Manager; there is no shared
// package-level instance.
type Monitor struct {
	mu       sync.Mutex
	cfg      Config
	adapters map[string]*adapterData
	alerts   []Alert

	// now is swapped out by tests exercising the retention window.
	now func() time.Time
}

// NewMonitor creates a monitor with the given configuration. Zero-valued
// cooldown and retention fall back to the defaults.
func NewMonitor(cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = def.AlertCooldown
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	return &Monitor{
		cfg:      cfg,
		adapters: make(map[string]*adapterData),
		now:      time.Now,
	}
}

// InitAdapter creates zeroed counters for an adapter. Safe to call for an
// adapter that already has counters; existing totals are kept.
func (m *Monitor) InitAdapter(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.adapters[name]; !ok {
		m.adapters[name] = m.newData()
	}
}

// RemoveAdapter drops an adapter's counters.
func (m *Monitor) RemoveAdapter(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.adapters, name)
}

// Reset zeroes an adapter's counters without removing it.
func (m *Monitor) Reset(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.adapters[name]; ok {
		m.adapters[name] = m.newData()
	}
}

func (m *Monitor) newData() *adapterData {
	// Limiter burst 1: one alert per cooldown window per adapter.
	return &adapterData{
		alertLimiter: rate.NewLimiter(rate.Every(m.cfg.AlertCooldown), 1),
	}
}

// RecordRequest counts the start of one orchestration against an adapter.
func (m *Monitor) RecordRequest(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.data(name)
	d.requests++
	d.lastEvent = m.now()
}

// RecordSynthesis accumulates one completed synthesis attempt. Word count
// is whitespace-split from the request text; response time is wall clock
// from start. Threshold evaluation and alerting run on the event's
// instantaneous metrics.
func (m *Monitor) RecordSynthesis(name, text string, memory int64, start time.Time, success bool) {
	words := int64(len(strings.Fields(text)))
	elapsed := time.Since(start)
	m.record(name, words, memory, elapsed, success)
}

// RecordHealthCheck folds a health check into the counters as a zero-word,
// zero-memory synthesis-like event, so latency degradation on a healthy
// adapter still surfaces in snapshots and alerts.
func (m *Monitor) RecordHealthCheck(name string, responseTime time.Duration, healthy bool) {
	m.mu.Lock()
	m.data(name).requests++
	m.mu.Unlock()
	m.record(name, 0, 0, responseTime, healthy)
}

func (m *Monitor) record(name string, words, memory int64, elapsed time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.data(name)
	if success {
		d.successes++
	}
	d.attempts++
	d.totalSynthesis += elapsed
	d.totalWords += words
	d.totalMemory += memory
	d.lastEvent = m.now()

	level, causes := m.evaluate(d, words, memory, elapsed)
	if level != LevelNormal {
		m.emitAlert(d, name, level, causes)
	}
	m.pruneLocked(m.now())
}

// evaluate compares the event's instantaneous metrics against both
// threshold tiers. Critical dominates warning.
func (m *Monitor) evaluate(d *adapterData, words, memory int64, elapsed time.Duration) (Level, []string) {
	instRate := 0.0
	if elapsed > 0 && words > 0 {
		instRate = float64(words) / elapsed.Seconds()
	}
	errorRate := errorRateOf(d)

	if causes := breaches(m.cfg.Critical, instRate, elapsed, memory, errorRate, words > 0); len(causes) > 0 {
		return LevelCritical, causes
	}
	if causes := breaches(m.cfg.Warning, instRate, elapsed, memory, errorRate, words > 0); len(causes) > 0 {
		return LevelWarning, causes
	}
	return LevelNormal, nil
}

// breaches lists the dimensions of one tier breached by an event. The rate
// floor only applies to events that synthesized words.
func breaches(t Thresholds, instRate float64, elapsed time.Duration, memory int64, errorRate float64, hasWords bool) []string {
	var causes []string
	if hasWords && t.MinRate > 0 && instRate < t.MinRate {
		causes = append(causes, "synthesis rate below floor")
	}
	if t.MaxResponseTime > 0 && elapsed > t.MaxResponseTime {
		causes = append(causes, "response time above ceiling")
	}
	if t.MaxMemory > 0 && memory > t.MaxMemory {
		causes = append(causes, "memory above ceiling")
	}
	if t.MaxErrorRate > 0 && errorRate > t.MaxErrorRate {
		causes = append(causes, "error rate above ceiling")
	}
	return causes
}

// emitAlert appends an alert unless the adapter is inside its cooldown
// window. Emitting updates the adapter's last-alert timestamp.
func (m *Monitor) emitAlert(d *adapterData, name string, level Level, causes []string) {
	if !d.alertLimiter.Allow() {
		return
	}
	now := m.now()
	d.lastAlert = now
	m.alerts = append(m.alerts, Alert{
		Adapter:   name,
		Level:     level,
		Causes:    causes,
		Timestamp: now,
	})
	log.Warn("performance alert", "adapter", name, "level", level, "causes", strings.Join(causes, "; "))
}

// Snapshot derives the current view of one adapter's counters. The second
// return is false when the adapter is unknown or has recorded no requests.
func (m *Monitor) Snapshot(name string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.adapters[name]
	if !ok || d.requests == 0 {
		return Snapshot{}, false
	}
	return m.snapshotLocked(name, d), true
}

// Snapshots derives views for every adapter with at least one request.
func (m *Monitor) Snapshots() map[string]Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Snapshot, len(m.adapters))
	for name, d := range m.adapters {
		if d.requests == 0 {
			continue
		}
		out[name] = m.snapshotLocked(name, d)
	}
	return out
}

func (m *Monitor) snapshotLocked(name string, d *adapterData) Snapshot {
	s := Snapshot{
		Adapter:    name,
		Requests:   d.requests,
		Successes:  d.successes,
		ErrorRate:  errorRateOf(d),
		TotalWords: d.totalWords,
		AlertLevel: LevelNormal,
		LastAlert:  d.lastAlert,
		Timestamp:  d.lastEvent,
	}
	if d.attempts > 0 {
		s.AvgResponseTime = d.totalSynthesis / time.Duration(d.attempts)
		s.AvgMemory = d.totalMemory / d.attempts
	}
	if d.totalSynthesis > 0 {
		s.AvgRate = float64(d.totalWords) / d.totalSynthesis.Seconds()
	}
	s.AlertLevel = m.levelOfAverages(s)
	return s
}

// levelOfAverages classifies a snapshot's running averages, mirroring the
// per-event evaluation.
func (m *Monitor) levelOfAverages(s Snapshot) Level {
	if len(breaches(m.cfg.Critical, s.AvgRate, s.AvgResponseTime, s.AvgMemory, s.ErrorRate, s.TotalWords > 0)) > 0 {
		return LevelCritical
	}
	if len(breaches(m.cfg.Warning, s.AvgRate, s.AvgResponseTime, s.AvgMemory, s.ErrorRate, s.TotalWords > 0)) > 0 {
		return LevelWarning
	}
	return LevelNormal
}

func errorRateOf(d *adapterData) float64 {
	if d.requests == 0 {
		return 0
	}
	failures := d.requests - d.successes
	if failures < 0 {
		failures = 0
	}
	return float64(failures) / float64(d.requests) * 100
}

// Alerts returns the retained alert history, oldest first.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(m.now())
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// pruneLocked drops alerts older than the retention window.
func (m *Monitor) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.Retention)
	i := 0
	for i < len(m.alerts) && m.alerts[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.alerts = append([]Alert(nil), m.alerts[i:]...)
	}
}

// data returns (creating if needed) the counters for an adapter. Callers
// must hold m.mu.
func (m *Monitor) data(name string) *adapterData {
	d, ok := m.adapters[name]
	if !ok {
		d = m.newData()
		m.adapters[name] = d
	}
	return d
}
