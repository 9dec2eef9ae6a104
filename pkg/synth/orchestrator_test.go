package synth_test

import (
	"context"
	"testing"
	"time"

	"github.com/bookvoice/bookvoice/pkg/synth"
	"github.com/bookvoice/bookvoice/pkg/synth/mock"
	"github.com/bookvoice/bookvoice/pkg/synth/perf"
)

// fastRetry keeps test backoff delays negligible.
func fastRetry(maxRetries int) synth.RetryConfig {
	return synth.RetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		Multiplier: 2.0,
		MaxDelay:   10 * time.Millisecond,
	}
}

func newOrchestrator(t *testing.T, retries int, adapters ...*mock.Adapter) (*synth.Orchestrator, *synth.Registry) {
	t.Helper()
	r := synth.NewRegistry()
	for _, a := range adapters {
		if err := r.Register(a.Name(), a); err != nil {
			t.Fatalf("Register(%s): %v", a.Name(), err)
		}
	}
	return synth.NewOrchestrator(r, perf.NewMonitor(perf.DefaultConfig()), fastRetry(retries)), r
}

func TestOrchestratorSuccess(t *testing.T) {
	a := mock.New("alpha")
	o, _ := newOrchestrator(t, 3, a)

	req := &synth.SynthesisRequest{Text: "hello world", RequestID: "req-1"}
	resp, err := o.Synthesize(context.Background(), "alpha", req)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if resp.Metadata.Adapter != "alpha" {
		t.Errorf("metadata adapter = %q, want alpha", resp.Metadata.Adapter)
	}
	if resp.Metadata.RequestID != "req-1" {
		t.Errorf("metadata request id = %q, want req-1", resp.Metadata.RequestID)
	}
	if resp.Metadata.FallbackUsed {
		t.Error("direct synthesis must not be marked as fallback")
	}
	if a.SynthesizeCalls() != 1 {
		t.Errorf("adapter calls = %d, want 1", a.SynthesizeCalls())
	}
}

func TestOrchestratorRetriesTransientFailures(t *testing.T) {
	a := mock.New("alpha")
	a.FailNext(2, synth.CodeServiceError)
	o, _ := newOrchestrator(t, 3, a)

	_, err := o.Synthesize(context.Background(), "alpha", &synth.SynthesisRequest{Text: "hi"})
	if err != nil {
		t.Fatalf("Synthesize should recover after retries: %v", err)
	}
	if a.SynthesizeCalls() != 3 {
		t.Errorf("adapter calls = %d, want 3 (2 failures + 1 success)", a.SynthesizeCalls())
	}
}

func TestOrchestratorRetryBound(t *testing.T) {
	a := mock.New("alpha")
	a.FailNext(100, synth.CodeServiceTimeout)
	o, _ := newOrchestrator(t, 2, a)

	_, err := o.Synthesize(context.Background(), "alpha", &synth.SynthesisRequest{Text: "hi"})
	if err == nil {
		t.Fatal("Synthesize should fail when every attempt fails")
	}
	// MaxRetries retries plus the initial attempt, never more.
	if a.SynthesizeCalls() != 3 {
		t.Errorf("adapter calls = %d, want 3", a.SynthesizeCalls())
	}

	se, ok := synth.AsSynthError(err)
	if !ok {
		t.Fatalf("error type = %T, want *SynthError", err)
	}
	if se.Code != synth.CodeMaxRetriesExceeded {
		t.Errorf("code = %s, want MAX_RETRIES_EXCEEDED", se.Code)
	}
	if se.Cause == nil || synth.CodeOf(se.Cause) != synth.CodeServiceTimeout {
		t.Errorf("cause = %v, want the underlying service timeout", se.Cause)
	}
}

func TestOrchestratorNonRetryableFailsFast(t *testing.T) {
	a := mock.New("alpha")
	a.FailNext(100, synth.CodeUnknown)
	o, _ := newOrchestrator(t, 3, a)

	_, err := o.Synthesize(context.Background(), "alpha", &synth.SynthesisRequest{Text: "hi"})
	if err == nil {
		t.Fatal("Synthesize should fail")
	}
	if a.SynthesizeCalls() != 1 {
		t.Errorf("adapter calls = %d, want 1 (no retries on non-retryable errors)", a.SynthesizeCalls())
	}
	if synth.CodeOf(err) != synth.CodeUnknown {
		t.Errorf("code = %s, want UNKNOWN_ERROR", synth.CodeOf(err))
	}
}

func TestOrchestratorUnsupportedVoiceSkipsAdapter(t *testing.T) {
	a := mock.New("alpha", mock.WithVoicePrefix("alpha"))
	o, _ := newOrchestrator(t, 3, a)

	req := &synth.SynthesisRequest{
		Text:  "hi",
		Voice: synth.VoiceSpec{ID: "beta-1"},
	}
	_, err := o.Synthesize(context.Background(), "alpha", req)
	if synth.CodeOf(err) != synth.CodeUnsupportedVoice {
		t.Fatalf("code = %s, want UNSUPPORTED_VOICE", synth.CodeOf(err))
	}
	if a.SynthesizeCalls() != 0 {
		t.Errorf("adapter calls = %d, want 0 (voice rejected before dispatch)", a.SynthesizeCalls())
	}
}

func TestOrchestratorPanicBecomesUnknownError(t *testing.T) {
	a := mock.New("alpha")
	a.PanicNext()
	o, _ := newOrchestrator(t, 3, a)

	_, err := o.Synthesize(context.Background(), "alpha", &synth.SynthesisRequest{Text: "hi"})
	if err == nil {
		t.Fatal("a panicking adapter must surface an error")
	}
	if synth.CodeOf(err) != synth.CodeUnknown {
		t.Errorf("code = %s, want UNKNOWN_ERROR", synth.CodeOf(err))
	}
	// Panics are not retryable; only the panicking call happened.
	if a.SynthesizeCalls() != 1 {
		t.Errorf("adapter calls = %d, want 1", a.SynthesizeCalls())
	}
}

func TestOrchestratorUnavailableAdapter(t *testing.T) {
	a := mock.New("alpha")
	o, r := newOrchestrator(t, 3, a)
	r.SetAvailability("alpha", false, nil)

	_, err := o.Synthesize(context.Background(), "alpha", &synth.SynthesisRequest{Text: "hi"})
	if synth.CodeOf(err) != synth.CodeServiceError {
		t.Fatalf("code = %s, want TTS_SERVICE_ERROR", synth.CodeOf(err))
	}
	if a.SynthesizeCalls() != 0 {
		t.Errorf("adapter calls = %d, want 0", a.SynthesizeCalls())
	}
}

func TestOrchestratorUnknownAdapterIsConfigError(t *testing.T) {
	o, _ := newOrchestrator(t, 3)
	_, err := o.Synthesize(context.Background(), "ghost", &synth.SynthesisRequest{Text: "hi"})
	if !synth.IsConfigError(err) {
		t.Errorf("error = %v, want ConfigError", err)
	}
}

func TestOrchestratorContextCancellationDuringBackoff(t *testing.T) {
	a := mock.New("alpha")
	a.FailNext(100, synth.CodeServiceError)
	r := synth.NewRegistry()
	if err := r.Register("alpha", a); err != nil {
		t.Fatalf("Register: %v", err)
	}
	o := synth.NewOrchestrator(r, nil, synth.RetryConfig{
		MaxRetries: 5,
		BaseDelay:  time.Hour, // backoff long enough that cancellation wins
		Multiplier: 2.0,
		MaxDelay:   time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := o.Synthesize(ctx, "alpha", &synth.SynthesisRequest{Text: "hi"})
	if err == nil {
		t.Fatal("cancelled synthesis must fail")
	}
	if a.SynthesizeCalls() != 1 {
		t.Errorf("adapter calls = %d, want 1 (cancelled during first backoff)", a.SynthesizeCalls())
	}
}
