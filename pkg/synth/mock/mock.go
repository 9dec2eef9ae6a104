// Package mock provides a scriptable adapter for exercising the
// orchestration layer in tests.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bookvoice/bookvoice/pkg/synth"
)

// Adapter is a configurable in-memory synthesis backend. The zero value is
// not usable; create one with New.
type Adapter struct {
	mu sync.Mutex

	name        string
	voicePrefix string
	quality     float64
	initialized bool

	// FailCount makes the next n Synthesize calls fail with FailCode.
	failCount int
	failCode  synth.ErrorCode

	// panicNext makes the next Synthesize call panic.
	panicNext bool

	// healthy scripts the health check outcome.
	healthy       bool
	healthMessage string
	healthDelay   time.Duration

	initErr error

	synthCalls  int
	healthCalls int
	initCalls   int
}

// Option configures a mock adapter.
type Option func(*Adapter)

// WithVoicePrefix makes the adapter accept only voices whose id starts
// with the given prefix. The default accepts every voice.
func WithVoicePrefix(prefix string) Option {
	return func(a *Adapter) { a.voicePrefix = prefix }
}

// WithQuality sets the advertised quality score.
func WithQuality(q float64) Option {
	return func(a *Adapter) { a.quality = q }
}

// WithInitError makes Initialize fail with the given error.
func WithInitError(err error) Option {
	return func(a *Adapter) { a.initErr = err }
}

// New creates a mock adapter that succeeds on every call until scripted
// otherwise.
func New(name string, opts ...Option) *Adapter {
	a := &Adapter{
		name:    name,
		quality: 50,
		healthy: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FailNext scripts the next n Synthesize calls to fail with the given
// code.
func (a *Adapter) FailNext(n int, code synth.ErrorCode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failCount = n
	a.failCode = code
}

// PanicNext scripts the next Synthesize call to panic.
func (a *Adapter) PanicNext() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.panicNext = true
}

// SetInitError scripts the outcome of future Initialize calls. Passing nil
// makes them succeed again.
func (a *Adapter) SetInitError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initErr = err
}

// SetHealthy scripts the health check outcome.
func (a *Adapter) SetHealthy(healthy bool, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthy = healthy
	a.healthMessage = message
}

// SetHealthDelay adds latency to health checks.
func (a *Adapter) SetHealthDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthDelay = d
}

// SynthesizeCalls returns how many Synthesize calls the adapter received.
func (a *Adapter) SynthesizeCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.synthCalls
}

// HealthCalls returns how many health checks the adapter received.
func (a *Adapter) HealthCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.healthCalls
}

// InitCalls returns how many Initialize calls the adapter received.
func (a *Adapter) InitCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initCalls
}

// Name implements synth.Adapter.
func (a *Adapter) Name() string { return a.name }

// Version implements synth.Adapter.
func (a *Adapter) Version() string { return "0.0.0-mock" }

// Initialized implements synth.Adapter.
func (a *Adapter) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized
}

// Initialize implements synth.Adapter.
func (a *Adapter) Initialize() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initCalls++
	if a.initErr != nil {
		return a.initErr
	}
	a.initialized = true
	return nil
}

// Cleanup implements synth.Adapter.
func (a *Adapter) Cleanup() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initialized = false
	return nil
}

// Synthesize implements synth.Adapter, honoring the scripted failures and
// panics.
func (a *Adapter) Synthesize(_ context.Context, req *synth.SynthesisRequest) (*synth.SynthesisResponse, error) {
	a.mu.Lock()
	a.synthCalls++
	if a.panicNext {
		a.panicNext = false
		a.mu.Unlock()
		panic("scripted mock panic")
	}
	if a.failCount > 0 {
		a.failCount--
		code := a.failCode
		a.mu.Unlock()
		return nil, synth.NewSynthError(code, a.name, "synthesize", req.RequestID, "scripted mock failure", nil)
	}
	a.mu.Unlock()

	data := []byte(req.Text)
	return &synth.SynthesisResponse{
		Audio: &synth.AudioBuffer{
			Data:       data,
			SampleRate: 22050,
			Channels:   1,
			Duration:   time.Duration(len(data)) * time.Millisecond,
			Format:     "pcm",
		},
		Metadata: synth.ResponseMetadata{
			Adapter: a.name,
			Voice:   req.Voice.ID,
		},
	}, nil
}

// SupportedVoices implements synth.Adapter.
func (a *Adapter) SupportedVoices() []synth.VoiceInfo {
	prefix := a.voicePrefix
	if prefix == "" {
		prefix = a.name
	}
	return []synth.VoiceInfo{
		{ID: prefix + "-1", Name: prefix + " one", Language: "en", Gender: "female"},
		{ID: prefix + "-2", Name: prefix + " two", Language: "en", Gender: "male"},
	}
}

// Capabilities implements synth.Adapter.
func (a *Adapter) Capabilities() synth.Capabilities {
	return synth.Capabilities{
		Languages:    []string{"en"},
		Formats:      []string{"pcm", "wav"},
		SampleRates:  []int{22050},
		Features:     []string{"rate-control"},
		QualityScore: a.quality,
		Offline:      true,
		Pricing:      "free",
	}
}

// ValidateOptions implements synth.Adapter.
func (a *Adapter) ValidateOptions(opts synth.SynthesisOptions) synth.ValidationResult {
	res := synth.ValidationResult{Valid: true}
	if opts.Rate != 0 && (opts.Rate < 0.5 || opts.Rate > 2.0) {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("rate %.2f is outside 0.5-2.0", opts.Rate))
	}
	return res
}

// ValidateVoice implements synth.Adapter. An empty voice id is accepted as
// the adapter default; otherwise the id must carry the adapter's prefix.
func (a *Adapter) ValidateVoice(voice synth.VoiceSpec) synth.ValidationResult {
	if voice.ID == "" {
		return synth.ValidationResult{Valid: true}
	}
	prefix := a.voicePrefix
	if prefix == "" {
		return synth.ValidationResult{Valid: true}
	}
	if strings.HasPrefix(voice.ID, prefix) {
		return synth.ValidationResult{Valid: true}
	}
	return synth.ValidationResult{
		Valid:  false,
		Errors: []string{fmt.Sprintf("voice %q does not match prefix %q", voice.ID, prefix)},
	}
}

// HealthCheck implements synth.Adapter.
func (a *Adapter) HealthCheck(ctx context.Context) synth.HealthCheckResult {
	a.mu.Lock()
	a.healthCalls++
	healthy := a.healthy
	message := a.healthMessage
	delay := a.healthDelay
	a.mu.Unlock()

	start := time.Now()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return synth.HealthCheckResult{
				Adapter:      a.name,
				Status:       synth.StatusUnhealthy,
				Timestamp:    time.Now(),
				ResponseTime: time.Since(start),
				Message:      "health check timed out",
			}
		}
	}

	status := synth.StatusHealthy
	if !healthy {
		status = synth.StatusUnhealthy
	}
	return synth.HealthCheckResult{
		Adapter:      a.name,
		Status:       status,
		Timestamp:    time.Now(),
		ResponseTime: time.Since(start),
		Message:      message,
	}
}

// SupportsFeature implements synth.Adapter.
func (a *Adapter) SupportsFeature(name string) bool {
	return a.Capabilities().HasFeature(name)
}

// Voice implements synth.Adapter.
func (a *Adapter) Voice(id string) (synth.VoiceInfo, bool) {
	for _, v := range a.SupportedVoices() {
		if v.ID == id {
			return v, true
		}
	}
	return synth.VoiceInfo{}, false
}
