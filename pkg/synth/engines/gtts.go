package engines

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/bookvoice/bookvoice/pkg/synth"
)

const (
	gttsSampleRate = 24000

	// Google rejects very long inputs; stay under its limit.
	gttsMaxTextSize = 5000
)

// GTTSConfig holds configuration for the gTTS adapter.
type GTTSConfig struct {
	// Binary is the gtts-cli executable. Defaults to "gtts-cli".
	Binary string

	// FFmpeg is the ffmpeg executable used for MP3 to WAV conversion.
	// Defaults to "ffmpeg".
	FFmpeg string

	// Language code, e.g. "en". Defaults to "en".
	Language string

	// TLD selects the regional Google endpoint ("com", "co.uk", ...).
	TLD string

	// Slow enables gTTS slow mode.
	Slow bool

	// RequestsPerMinute limits calls to avoid being blocked. Defaults
	// to 50.
	RequestsPerMinute int

	// Timeout caps one synthesis call. Defaults to 60s; gTTS goes over
	// the network.
	Timeout time.Duration
}

// GTTSAdapter synthesizes speech through the gtts-cli tool, which talks to
// the Google Translate TTS endpoint. Output MP3 is converted to WAV with
// ffmpeg so downstream audio handling stays uniform.
type GTTSAdapter struct {
	cfg     GTTSConfig
	limiter *rate.Limiter

	mu          sync.RWMutex
	initialized bool
}

// NewGTTSAdapter creates a gTTS adapter.
func NewGTTSAdapter(cfg GTTSConfig) *GTTSAdapter {
	if cfg.Binary == "" {
		cfg.Binary = "gtts-cli"
	}
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.TLD == "" {
		cfg.TLD = "com"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &GTTSAdapter{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
	}
}

// Name implements synth.Adapter.
func (g *GTTSAdapter) Name() string { return "gtts" }

// Version implements synth.Adapter.
func (g *GTTSAdapter) Version() string { return "1.0.0" }

// Initialized implements synth.Adapter.
func (g *GTTSAdapter) Initialized() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.initialized
}

// Initialize verifies both required binaries are present.
func (g *GTTSAdapter) Initialize() error {
	for _, bin := range []string{g.cfg.Binary, g.cfg.FFmpeg} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("binary %q not found: %w", bin, err)
		}
	}
	g.mu.Lock()
	g.initialized = true
	g.mu.Unlock()
	log.Debug("gtts adapter initialized", "language", g.cfg.Language, "tld", g.cfg.TLD)
	return nil
}

// Cleanup implements synth.Adapter.
func (g *GTTSAdapter) Cleanup() error {
	g.mu.Lock()
	g.initialized = false
	g.mu.Unlock()
	return nil
}

// Synthesize generates MP3 with gtts-cli, then converts it to WAV.
func (g *GTTSAdapter) Synthesize(ctx context.Context, req *synth.SynthesisRequest) (*synth.SynthesisResponse, error) {
	if len(req.Text) > gttsMaxTextSize {
		return nil, synth.NewSynthError(synth.CodeServiceError, g.Name(), "synthesize",
			req.RequestID, fmt.Sprintf("text too long: %d characters (max %d)", len(req.Text), gttsMaxTextSize), nil)
	}

	// Rate limit before touching the network.
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, synth.NewSynthError(synth.CodeServiceTimeout, g.Name(), "synthesize",
			req.RequestID, "rate limit wait cancelled", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	mp3, err := g.synthesizeMP3(ctx, req)
	if err != nil {
		return nil, err
	}
	wav, err := g.convertToWAV(ctx, req, mp3)
	if err != nil {
		return nil, err
	}

	return &synth.SynthesisResponse{
		Audio: &synth.AudioBuffer{
			Data:       wav,
			SampleRate: gttsSampleRate,
			Channels:   1,
			Format:     "wav",
		},
		Metadata: synth.ResponseMetadata{
			Adapter:       g.Name(),
			Voice:         g.voiceID(req),
			SynthesisTime: time.Since(start),
			RequestID:     req.RequestID,
			MemoryUsed:    int64(len(mp3) + len(wav)),
		},
	}, nil
}

func (g *GTTSAdapter) voiceID(req *synth.SynthesisRequest) string {
	if req.Voice.ID != "" {
		return req.Voice.ID
	}
	return "gtts-" + g.cfg.Language
}

func (g *GTTSAdapter) synthesizeMP3(ctx context.Context, req *synth.SynthesisRequest) ([]byte, error) {
	lang := g.cfg.Language
	if req.Voice.Language != "" {
		lang = req.Voice.Language
	}

	args := []string{req.Text, "-l", lang, "-t", g.cfg.TLD}
	if g.cfg.Slow {
		args = append(args, "--slow")
	}
	args = append(args, "-o", "-")

	cmd := exec.CommandContext(ctx, g.cfg.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, synth.NewSynthError(synth.CodeServiceTimeout, g.Name(), "synthesize",
				req.RequestID, "gtts-cli timed out", ctx.Err())
		}
		return nil, synth.NewSynthError(synth.CodeServiceError, g.Name(), "synthesize",
			req.RequestID, fmt.Sprintf("gtts-cli failed: %s", stderr.String()), err)
	}
	if stdout.Len() == 0 {
		return nil, synth.NewSynthError(synth.CodeServiceError, g.Name(), "synthesize",
			req.RequestID, "gtts-cli produced no audio", nil)
	}
	return stdout.Bytes(), nil
}

func (g *GTTSAdapter) convertToWAV(ctx context.Context, req *synth.SynthesisRequest, mp3 []byte) ([]byte, error) {
	args := []string{
		"-i", "pipe:0",
		"-f", "wav",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprint(gttsSampleRate),
		"-ac", "1",
	}
	if req.Options.Rate != 0 && req.Options.Rate != 1.0 {
		args = append(args, "-filter:a", fmt.Sprintf("atempo=%.2f", req.Options.Rate))
	}
	args = append(args, "pipe:1")

	cmd := exec.CommandContext(ctx, g.cfg.FFmpeg, args...)
	cmd.Stdin = bytes.NewReader(mp3)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, synth.NewSynthError(synth.CodeServiceTimeout, g.Name(), "synthesize",
				req.RequestID, "ffmpeg conversion timed out", ctx.Err())
		}
		return nil, synth.NewSynthError(synth.CodeServiceError, g.Name(), "synthesize",
			req.RequestID, fmt.Sprintf("ffmpeg conversion failed: %s", stderr.String()), err)
	}
	return stdout.Bytes(), nil
}

// SupportedVoices implements synth.Adapter. gTTS exposes one voice per
// language and regional endpoint.
func (g *GTTSAdapter) SupportedVoices() []synth.VoiceInfo {
	return []synth.VoiceInfo{
		{ID: "gtts-en", Name: "English", Language: "en"},
		{ID: "gtts-en-uk", Name: "English (UK)", Language: "en", Accent: "british"},
		{ID: "gtts-es", Name: "Spanish", Language: "es"},
		{ID: "gtts-fr", Name: "French", Language: "fr"},
		{ID: "gtts-de", Name: "German", Language: "de"},
		{ID: "gtts-pt", Name: "Portuguese", Language: "pt"},
	}
}

// Capabilities implements synth.Adapter.
func (g *GTTSAdapter) Capabilities() synth.Capabilities {
	return synth.Capabilities{
		Languages:    []string{"en", "es", "fr", "de", "pt"},
		Formats:      []string{"wav", "mp3"},
		SampleRates:  []int{gttsSampleRate},
		Features:     []string{"rate-control"},
		QualityScore: 75,
		Offline:      false,
		Pricing:      "free",
		Limitations:  []string{"rate limited", "needs network", "no SSML"},
	}
}

// ValidateOptions implements synth.Adapter.
func (g *GTTSAdapter) ValidateOptions(opts synth.SynthesisOptions) synth.ValidationResult {
	res := synth.ValidationResult{Valid: true}
	if opts.Rate != 0 && (opts.Rate < 0.5 || opts.Rate > 2.0) {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("rate %.2f is outside 0.5-2.0", opts.Rate))
	}
	return res
}

// ValidateVoice implements synth.Adapter.
func (g *GTTSAdapter) ValidateVoice(voice synth.VoiceSpec) synth.ValidationResult {
	if voice.ID == "" {
		return synth.ValidationResult{Valid: true}
	}
	if _, ok := g.Voice(voice.ID); ok {
		return synth.ValidationResult{Valid: true}
	}
	return synth.ValidationResult{
		Valid:  false,
		Errors: []string{fmt.Sprintf("unknown gtts voice %q", voice.ID)},
	}
}

// HealthCheck probes gtts-cli. It only confirms the tool runs; network
// reachability surfaces on the first real request.
func (g *GTTSAdapter) HealthCheck(ctx context.Context) synth.HealthCheckResult {
	start := time.Now()
	cmd := exec.CommandContext(ctx, g.cfg.Binary, "--help")
	err := cmd.Run()
	res := synth.HealthCheckResult{
		Adapter:      g.Name(),
		Timestamp:    time.Now(),
		ResponseTime: time.Since(start),
	}
	if err != nil {
		res.Status = synth.StatusUnhealthy
		res.Message = fmt.Sprintf("gtts-cli probe failed: %v", err)
		return res
	}
	res.Status = synth.StatusHealthy
	return res
}

// SupportsFeature implements synth.Adapter.
func (g *GTTSAdapter) SupportsFeature(name string) bool {
	return g.Capabilities().HasFeature(name)
}

// Voice implements synth.Adapter.
func (g *GTTSAdapter) Voice(id string) (synth.VoiceInfo, bool) {
	for _, v := range g.SupportedVoices() {
		if v.ID == id {
			return v, true
		}
	}
	return synth.VoiceInfo{}, false
}
