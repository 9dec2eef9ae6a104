package synth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffGrowth(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		Multiplier: 2.0,
		MaxDelay:   5 * time.Second,
	}

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
	}
	for i, want := range expected {
		if got := cfg.Backoff(i); got != want {
			t.Errorf("Backoff(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestBackoffCap(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries: 10,
		BaseDelay:  time.Second,
		Multiplier: 10.0,
		MaxDelay:   5 * time.Second,
	}
	if got := cfg.Backoff(3); got != 5*time.Second {
		t.Errorf("Backoff(3) = %v, want cap %v", got, 5*time.Second)
	}
}

func TestRetryMachineSuccess(t *testing.T) {
	m := newRetryMachine(DefaultRetryConfig())
	m.observe(nil)
	if !m.done() {
		t.Fatal("machine should be done after success")
	}
	if m.phase != phaseSucceeded {
		t.Errorf("phase = %v, want succeeded", m.phase)
	}
}

func TestRetryMachineNonRetryableStopsImmediately(t *testing.T) {
	m := newRetryMachine(DefaultRetryConfig())
	err := &SynthError{Code: CodeUnsupportedVoice, Message: "no such voice"}
	m.observe(err)
	if !m.done() {
		t.Fatal("machine should be done after a non-retryable error")
	}
	if m.phase != phaseExhausted {
		t.Errorf("phase = %v, want exhausted", m.phase)
	}
	if m.attempts() != 1 {
		t.Errorf("attempts = %d, want 1", m.attempts())
	}
}

func TestRetryMachineExhaustion(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second}
	m := newRetryMachine(cfg)
	err := &SynthError{Code: CodeServiceError, Message: "transient"}

	transitions := 0
	for !m.done() {
		m.observe(err)
		m.next()
		transitions++
		if transitions > 10 {
			t.Fatal("machine never terminated")
		}
	}
	// 3 retries plus the initial attempt
	if m.attempts() != 4 {
		t.Errorf("attempts = %d, want 4", m.attempts())
	}
}

func TestRetryMachineBackoffSequence(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, BaseDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second}
	m := newRetryMachine(cfg)
	err := &SynthError{Code: CodeServiceTimeout, Message: "slow"}

	if d := m.observe(err); d != 100*time.Millisecond {
		t.Errorf("first delay = %v, want 100ms", d)
	}
	m.next()
	if d := m.observe(err); d != 200*time.Millisecond {
		t.Errorf("second delay = %v, want 200ms", d)
	}
	m.next()
	m.observe(err)
	if !m.done() {
		t.Error("machine should be exhausted after max retries")
	}
}

func TestSleepBackoffCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepBackoff(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepBackoff on cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want bool
	}{
		{CodeServiceError, true},
		{CodeServiceTimeout, true},
		{CodeUnsupportedVoice, false},
		{CodeMaxRetriesExceeded, false},
		{CodeFallbackError, false},
		{CodeUnknown, false},
	}
	for _, c := range cases {
		err := &SynthError{Code: c.code}
		if got := Retryable(err); got != c.want {
			t.Errorf("Retryable(%s) = %v, want %v", c.code, got, c.want)
		}
	}
	if Retryable(errors.New("plain")) {
		t.Error("plain errors must not be retryable")
	}
}
