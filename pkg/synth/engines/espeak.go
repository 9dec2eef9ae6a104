// Package engines provides the built-in synthesis adapters: espeak-ng for
// fast offline synthesis and gTTS for higher-quality online voices.
package engines

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bookvoice/bookvoice/pkg/synth"
)

const (
	// espeak speaking rate is words per minute; 175 is its default.
	espeakBaseWPM = 175

	espeakSampleRate = 22050
)

// EspeakConfig holds configuration for the espeak adapter.
type EspeakConfig struct {
	// Binary is the espeak-ng executable. Defaults to "espeak-ng".
	Binary string

	// Voice is the default espeak voice, e.g. "en-us".
	Voice string

	// Timeout caps one synthesis call. Defaults to 30s.
	Timeout time.Duration
}

// EspeakAdapter synthesizes speech with the espeak-ng command line tool.
// It is fully offline and fast, at the cost of a robotic voice, which
// makes it the usual head of the fallback chain.
type EspeakAdapter struct {
	cfg EspeakConfig

	mu          sync.RWMutex
	initialized bool
}

// NewEspeakAdapter creates an espeak adapter.
func NewEspeakAdapter(cfg EspeakConfig) *EspeakAdapter {
	if cfg.Binary == "" {
		cfg.Binary = "espeak-ng"
	}
	if cfg.Voice == "" {
		cfg.Voice = "en-us"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &EspeakAdapter{cfg: cfg}
}

// Name implements synth.Adapter.
func (e *EspeakAdapter) Name() string { return "espeak" }

// Version implements synth.Adapter.
func (e *EspeakAdapter) Version() string { return "1.0.0" }

// Initialized implements synth.Adapter.
func (e *EspeakAdapter) Initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// Initialize verifies the espeak-ng binary is present.
func (e *EspeakAdapter) Initialize() error {
	if _, err := exec.LookPath(e.cfg.Binary); err != nil {
		return fmt.Errorf("espeak binary %q not found: %w", e.cfg.Binary, err)
	}
	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()
	log.Debug("espeak adapter initialized", "binary", e.cfg.Binary, "voice", e.cfg.Voice)
	return nil
}

// Cleanup implements synth.Adapter. espeak holds no resources.
func (e *EspeakAdapter) Cleanup() error {
	e.mu.Lock()
	e.initialized = false
	e.mu.Unlock()
	return nil
}

// Synthesize runs espeak-ng and returns its WAV output.
func (e *EspeakAdapter) Synthesize(ctx context.Context, req *synth.SynthesisRequest) (*synth.SynthesisResponse, error) {
	voice := e.cfg.Voice
	if req.Voice.ID != "" {
		if v, ok := e.Voice(req.Voice.ID); ok {
			voice = v.Name
		}
	}

	args := []string{"--stdout", "-v", voice}
	if req.Options.Rate != 0 {
		wpm := int(float64(espeakBaseWPM) * req.Options.Rate)
		args = append(args, "-s", strconv.Itoa(wpm))
	}
	args = append(args, req.Text)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.cfg.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, synth.NewSynthError(synth.CodeServiceTimeout, e.Name(), "synthesize",
				req.RequestID, "espeak timed out", ctx.Err())
		}
		return nil, synth.NewSynthError(synth.CodeServiceError, e.Name(), "synthesize",
			req.RequestID, fmt.Sprintf("espeak failed: %s", stderr.String()), err)
	}

	data := stdout.Bytes()
	if len(data) == 0 {
		return nil, synth.NewSynthError(synth.CodeServiceError, e.Name(), "synthesize",
			req.RequestID, "espeak produced no audio", nil)
	}

	return &synth.SynthesisResponse{
		Audio: &synth.AudioBuffer{
			Data:       data,
			SampleRate: espeakSampleRate,
			Channels:   1,
			Format:     "wav",
		},
		Metadata: synth.ResponseMetadata{
			Adapter:       e.Name(),
			Voice:         voice,
			SynthesisTime: time.Since(start),
			RequestID:     req.RequestID,
			MemoryUsed:    int64(len(data)),
		},
	}, nil
}

// SupportedVoices implements synth.Adapter.
func (e *EspeakAdapter) SupportedVoices() []synth.VoiceInfo {
	return []synth.VoiceInfo{
		{ID: "espeak-en-us", Name: "en-us", Language: "en", Accent: "american"},
		{ID: "espeak-en-gb", Name: "en-gb", Language: "en", Accent: "british"},
		{ID: "espeak-es", Name: "es", Language: "es"},
		{ID: "espeak-fr", Name: "fr-fr", Language: "fr"},
		{ID: "espeak-de", Name: "de", Language: "de"},
	}
}

// Capabilities implements synth.Adapter.
func (e *EspeakAdapter) Capabilities() synth.Capabilities {
	return synth.Capabilities{
		Languages:    []string{"en", "es", "fr", "de"},
		Formats:      []string{"wav"},
		SampleRates:  []int{espeakSampleRate},
		Features:     []string{"rate-control", "offline"},
		QualityScore: 40,
		Offline:      true,
		Pricing:      "free",
		Limitations:  []string{"robotic voice quality"},
	}
}

// ValidateOptions implements synth.Adapter.
func (e *EspeakAdapter) ValidateOptions(opts synth.SynthesisOptions) synth.ValidationResult {
	res := synth.ValidationResult{Valid: true}
	if opts.Rate != 0 && (opts.Rate < 0.5 || opts.Rate > 2.0) {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("rate %.2f is outside 0.5-2.0", opts.Rate))
	}
	if opts.Format != "" && opts.Format != "wav" {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("format %q is not supported, only wav", opts.Format))
	}
	if opts.SampleRate != 0 && opts.SampleRate != espeakSampleRate {
		res.Warnings = append(res.Warnings, fmt.Sprintf("sample rate %d ignored, espeak outputs %d", opts.SampleRate, espeakSampleRate))
	}
	return res
}

// ValidateVoice implements synth.Adapter. An empty id selects the
// configured default voice.
func (e *EspeakAdapter) ValidateVoice(voice synth.VoiceSpec) synth.ValidationResult {
	if voice.ID == "" {
		return synth.ValidationResult{Valid: true}
	}
	if _, ok := e.Voice(voice.ID); ok {
		return synth.ValidationResult{Valid: true}
	}
	return synth.ValidationResult{
		Valid:  false,
		Errors: []string{fmt.Sprintf("unknown espeak voice %q", voice.ID)},
	}
}

// HealthCheck probes the binary with a minimal no-audio invocation.
func (e *EspeakAdapter) HealthCheck(ctx context.Context) synth.HealthCheckResult {
	start := time.Now()
	cmd := exec.CommandContext(ctx, e.cfg.Binary, "--version")
	err := cmd.Run()
	res := synth.HealthCheckResult{
		Adapter:      e.Name(),
		Timestamp:    time.Now(),
		ResponseTime: time.Since(start),
	}
	if err != nil {
		res.Status = synth.StatusUnhealthy
		res.Message = fmt.Sprintf("espeak probe failed: %v", err)
		return res
	}
	res.Status = synth.StatusHealthy
	return res
}

// SupportsFeature implements synth.Adapter.
func (e *EspeakAdapter) SupportsFeature(name string) bool {
	return e.Capabilities().HasFeature(name)
}

// Voice implements synth.Adapter.
func (e *EspeakAdapter) Voice(id string) (synth.VoiceInfo, bool) {
	for _, v := range e.SupportedVoices() {
		if v.ID == id {
			return v, true
		}
	}
	return synth.VoiceInfo{}, false
}
