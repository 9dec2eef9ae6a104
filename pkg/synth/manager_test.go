package synth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bookvoice/bookvoice/pkg/synth"
	"github.com/bookvoice/bookvoice/pkg/synth/mock"
)

func newManager(t *testing.T, cfg *synth.Config, adapters ...*mock.Adapter) *synth.Manager {
	t.Helper()
	if cfg == nil {
		cfg = synth.DefaultConfig()
	}
	cfg.Retry = fastRetry(cfg.Retry.MaxRetries)
	m, err := synth.NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	for _, a := range adapters {
		if err := m.RegisterAdapter(a.Name(), a); err != nil {
			t.Fatalf("RegisterAdapter(%s): %v", a.Name(), err)
		}
	}
	return m
}

func managerConfig(defaultAdapter string, chain ...string) *synth.Config {
	cfg := synth.DefaultConfig()
	cfg.DefaultAdapter = defaultAdapter
	cfg.FallbackChain = chain
	return cfg
}

func TestManagerSynthesizeAssignsRequestID(t *testing.T) {
	m := newManager(t, managerConfig("alpha", "alpha"), mock.New("alpha"))

	req := &synth.SynthesisRequest{Text: "hello"}
	resp, err := m.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if req.RequestID == "" {
		t.Error("request id should be generated when left empty")
	}
	if resp.Metadata.RequestID != req.RequestID {
		t.Errorf("response request id %q != request %q", resp.Metadata.RequestID, req.RequestID)
	}
}

func TestManagerFallbackOnFailure(t *testing.T) {
	alpha := mock.New("alpha")
	alpha.FailNext(100, synth.CodeServiceError)
	beta := mock.New("beta")
	m := newManager(t, managerConfig("alpha", "alpha", "beta"), alpha, beta)

	resp, err := m.Synthesize(context.Background(), &synth.SynthesisRequest{Text: "hello"})
	if err != nil {
		t.Fatalf("Synthesize should succeed via fallback: %v", err)
	}
	if resp.Metadata.Adapter != "beta" {
		t.Errorf("served by %q, want beta", resp.Metadata.Adapter)
	}
	if !resp.Metadata.FallbackUsed {
		t.Error("fallback-served response must be marked")
	}
}

func TestManagerFallbackExcludesFailedAdapter(t *testing.T) {
	alpha := mock.New("alpha")
	alpha.FailNext(100, synth.CodeServiceError)
	beta := mock.New("beta")
	// The chain lists the failed adapter first; it must be skipped, not
	// retried a second time through the chain.
	m := newManager(t, managerConfig("alpha", "alpha", "beta"), alpha, beta)

	before := alpha.SynthesizeCalls()
	if before != 0 {
		t.Fatalf("precondition: alpha calls = %d", before)
	}

	resp, err := m.Synthesize(context.Background(), &synth.SynthesisRequest{Text: "hello"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if resp.Metadata.Adapter != "beta" {
		t.Errorf("served by %q, want beta", resp.Metadata.Adapter)
	}
	// alpha saw only the original retry loop (MaxRetries+1 calls), never
	// an extra walk from the chain.
	if alpha.SynthesizeCalls() != synth.DefaultRetryConfig().MaxRetries+1 {
		t.Errorf("alpha calls = %d, want %d", alpha.SynthesizeCalls(), synth.DefaultRetryConfig().MaxRetries+1)
	}
}

func TestManagerFallbackExhaustionReturnsRootCause(t *testing.T) {
	alpha := mock.New("alpha")
	alpha.FailNext(100, synth.CodeServiceTimeout)
	beta := mock.New("beta")
	beta.FailNext(100, synth.CodeServiceError)
	m := newManager(t, managerConfig("alpha", "alpha", "beta"), alpha, beta)

	_, err := m.Synthesize(context.Background(), &synth.SynthesisRequest{Text: "hello"})
	if err == nil {
		t.Fatal("Synthesize must fail when the whole chain fails")
	}
	// The caller sees the first adapter's underlying error, not a
	// retry-exhaustion wrapper and not the last chain entry's error.
	se, ok := synth.AsSynthError(err)
	if !ok {
		t.Fatalf("error type = %T, want *SynthError", err)
	}
	if se.Code != synth.CodeServiceTimeout {
		t.Errorf("code = %s, want the root cause TTS_SERVICE_TIMEOUT", se.Code)
	}
	if se.Adapter != "alpha" {
		t.Errorf("adapter = %q, want alpha (the original failure)", se.Adapter)
	}
}

func TestManagerDirectVoiceSelectionIsNotFallback(t *testing.T) {
	// Default adapter alpha cannot serve beta voices; beta can. The
	// request goes straight to beta and is not a fallback.
	alpha := mock.New("alpha", mock.WithVoicePrefix("alpha"))
	beta := mock.New("beta", mock.WithVoicePrefix("beta"))
	m := newManager(t, managerConfig("alpha", "alpha", "beta"), alpha, beta)

	resp, err := m.Synthesize(context.Background(), &synth.SynthesisRequest{
		Text:  "hello",
		Voice: synth.VoiceSpec{ID: "beta-1"},
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if resp.Metadata.Adapter != "beta" {
		t.Errorf("served by %q, want beta", resp.Metadata.Adapter)
	}
	if resp.Metadata.FallbackUsed {
		t.Error("direct compatible selection must not be marked as fallback")
	}
	if alpha.SynthesizeCalls() != 0 {
		t.Errorf("alpha calls = %d, want 0", alpha.SynthesizeCalls())
	}
}

func TestManagerNoCompatibleAdapter(t *testing.T) {
	alpha := mock.New("alpha", mock.WithVoicePrefix("alpha"))
	m := newManager(t, managerConfig("alpha", "alpha"), alpha)

	_, err := m.Synthesize(context.Background(), &synth.SynthesisRequest{
		Text:  "hello",
		Voice: synth.VoiceSpec{ID: "ghost-1"},
	})
	if synth.CodeOf(err) != synth.CodeUnsupportedVoice {
		t.Errorf("code = %s, want UNSUPPORTED_VOICE", synth.CodeOf(err))
	}
}

func TestManagerBestQualitySelection(t *testing.T) {
	cfg := managerConfig("alpha", "alpha", "beta")
	cfg.SelectionStrategy = synth.SelectBestQuality
	alpha := mock.New("alpha", mock.WithQuality(40))
	beta := mock.New("beta", mock.WithQuality(90))
	m := newManager(t, cfg, alpha, beta)

	resp, err := m.Synthesize(context.Background(), &synth.SynthesisRequest{Text: "hello"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if resp.Metadata.Adapter != "beta" {
		t.Errorf("served by %q, want the higher-quality beta", resp.Metadata.Adapter)
	}
}

func TestManagerRoundRobinSelection(t *testing.T) {
	cfg := managerConfig("alpha", "alpha", "beta")
	cfg.SelectionStrategy = synth.SelectRoundRobin
	alpha := mock.New("alpha")
	beta := mock.New("beta")
	m := newManager(t, cfg, alpha, beta)

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		resp, err := m.Synthesize(context.Background(), &synth.SynthesisRequest{Text: "hello"})
		if err != nil {
			t.Fatalf("Synthesize %d: %v", i, err)
		}
		seen[resp.Metadata.Adapter]++
	}
	if seen["alpha"] != 2 || seen["beta"] != 2 {
		t.Errorf("round-robin distribution = %v, want alpha:2 beta:2", seen)
	}
}

func TestManagerRejectsEmptyText(t *testing.T) {
	m := newManager(t, nil, mock.New("alpha"))
	if _, err := m.Synthesize(context.Background(), &synth.SynthesisRequest{}); !synth.IsConfigError(err) {
		t.Errorf("empty text error = %v, want ConfigError", err)
	}
}

func TestManagerInvalidStrategyRejected(t *testing.T) {
	cfg := synth.DefaultConfig()
	cfg.SelectionStrategy = "coin-flip"
	if _, err := synth.NewManager(cfg); !synth.IsConfigError(err) {
		t.Errorf("NewManager with bad strategy = %v, want ConfigError", err)
	}
}

func TestManagerAggregatedCapabilities(t *testing.T) {
	alpha := mock.New("alpha", mock.WithQuality(40))
	beta := mock.New("beta", mock.WithQuality(90))
	m := newManager(t, managerConfig("alpha", "alpha", "beta"), alpha, beta)

	caps := m.AggregatedCapabilities()
	if caps.QualityScore != 90 {
		t.Errorf("aggregated quality = %.0f, want the max 90", caps.QualityScore)
	}
	if len(caps.Languages) == 0 || caps.Languages[0] != "en" {
		t.Errorf("aggregated languages = %v, want [en]", caps.Languages)
	}
}

func TestManagerSupportedVoices(t *testing.T) {
	m := newManager(t, managerConfig("alpha", "alpha"), mock.New("alpha"), mock.New("beta"))
	voices := m.SupportedVoices()
	if len(voices) != 2 {
		t.Fatalf("voices for %d adapters, want 2", len(voices))
	}
	if len(voices["alpha"]) != 2 {
		t.Errorf("alpha voices = %d, want 2", len(voices["alpha"]))
	}
}

func TestManagerUnregister(t *testing.T) {
	m := newManager(t, managerConfig("alpha", "alpha"), mock.New("alpha"))
	if !m.UnregisterAdapter("alpha") {
		t.Fatal("UnregisterAdapter returned false")
	}
	if m.UnregisterAdapter("alpha") {
		t.Error("second UnregisterAdapter must return false")
	}
	if len(m.RegisteredAdapters()) != 0 {
		t.Error("registry should be empty")
	}
}

func TestManagerInitializeAllMarksLateInitialization(t *testing.T) {
	alpha := mock.New("alpha", mock.WithInitError(errors.New("binary missing")))
	m := newManager(t, managerConfig("alpha", "alpha"), alpha)

	if info := m.Registry().RegistrationInfo()["alpha"]; info.Initialized {
		t.Fatal("adapter with failed init must start uninitialized")
	}

	alpha.SetInitError(nil)
	if err := m.InitializeAll(); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}

	info := m.Registry().RegistrationInfo()["alpha"]
	if !info.Initialized {
		t.Error("late initialization must mark the registration initialized")
	}
	if !info.Available {
		t.Error("late initialization must bring the adapter into rotation")
	}

	calls := alpha.InitCalls()
	if err := m.InitializeAll(); err != nil {
		t.Fatalf("second InitializeAll: %v", err)
	}
	if got := alpha.InitCalls(); got != calls {
		t.Errorf("initialize calls = %d after repeat, want %d", got, calls)
	}
}
