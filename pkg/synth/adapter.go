// Package synth orchestrates pluggable speech-synthesis adapters behind one
// uniform API. It selects a compatible adapter for each request, retries
// transient failures with exponential backoff, fails over along a configured
// adapter chain, monitors adapter health, and tracks per-adapter performance.
package synth

import (
	"context"
	"errors"
	"time"
)

// HealthStatus is the outcome of an adapter health check.
type HealthStatus string

const (
	// StatusHealthy means the adapter can serve requests.
	StatusHealthy HealthStatus = "healthy"

	// StatusUnhealthy means the adapter should be taken out of rotation.
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult reports one adapter health check.
type HealthCheckResult struct {
	Adapter      string
	Status       HealthStatus
	Timestamp    time.Time
	ResponseTime time.Duration
	Message      string
}

// Healthy reports whether the check passed.
func (r HealthCheckResult) Healthy() bool {
	return r.Status == StatusHealthy
}

// ValidationResult is the outcome of validating options or a voice against
// an adapter. Warnings do not block a request; errors do.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// VoiceInfo describes a voice offered by an adapter.
type VoiceInfo struct {
	ID       string
	Name     string
	Language string
	Gender   string
	Age      string
	Accent   string
}

// Capabilities describes what an adapter can do.
type Capabilities struct {
	Languages   []string
	Formats     []string
	SampleRates []int
	Features    []string

	// QualityScore ranks adapters for best-quality selection (0 to 100).
	QualityScore float64

	// Offline adapters need no network connectivity.
	Offline bool

	// Pricing is a human-readable cost note ("free", "per-character", ...).
	Pricing string

	Limitations []string
}

// HasFeature reports whether the capability set includes the named feature.
func (c Capabilities) HasFeature(name string) bool {
	for _, f := range c.Features {
		if f == name {
			return true
		}
	}
	return false
}

// Adapter is the contract every pluggable speech-synthesis backend must
// satisfy. Adapters are registered with a Manager, which owns their
// lifecycle; implementations must be safe for concurrent Synthesize and
// HealthCheck calls.
type Adapter interface {
	// Name returns the adapter's identifier, unique within a registry.
	Name() string

	// Version returns the adapter implementation version.
	Version() string

	// Initialized reports whether Initialize has completed successfully.
	Initialized() bool

	// Synthesize converts the request text to audio.
	Synthesize(ctx context.Context, req *SynthesisRequest) (*SynthesisResponse, error)

	// SupportedVoices lists the voices this adapter can serve.
	SupportedVoices() []VoiceInfo

	// Capabilities returns the adapter's capability set.
	Capabilities() Capabilities

	// ValidateOptions checks synthesis options against adapter limits.
	ValidateOptions(opts SynthesisOptions) ValidationResult

	// ValidateVoice checks whether the adapter can serve the given voice.
	ValidateVoice(voice VoiceSpec) ValidationResult

	// Initialize prepares the adapter for use.
	Initialize() error

	// Cleanup releases adapter resources. Called before unregistration.
	Cleanup() error

	// HealthCheck probes the adapter and reports its status.
	HealthCheck(ctx context.Context) HealthCheckResult

	// SupportsFeature reports whether the adapter supports a named feature.
	SupportsFeature(name string) bool

	// Voice looks up a voice by id.
	Voice(id string) (VoiceInfo, bool)
}

// validateAdapter checks registration-time invariants that the type system
// cannot: a usable name and at least one voice or declared language.
func validateAdapter(a Adapter) error {
	if a == nil {
		return errors.New("adapter is nil")
	}
	if a.Name() == "" {
		return errors.New("adapter has an empty name")
	}
	caps := a.Capabilities()
	if len(a.SupportedVoices()) == 0 && len(caps.Languages) == 0 {
		return errors.New("adapter declares no voices and no languages")
	}
	return nil
}

// voiceCompatible reports whether the adapter accepts the requested voice,
// per the adapter's own validation.
func voiceCompatible(a Adapter, voice VoiceSpec) bool {
	return a.ValidateVoice(voice).Valid
}
