package synth

import (
	"context"
	"math"
	"time"
)

// RetryConfig bounds the retry loop and shapes its backoff curve.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt. An
	// always-failing adapter is therefore called MaxRetries+1 times.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `yaml:"base_delay" mapstructure:"base_delay"`

	// Multiplier grows the delay for each subsequent retry.
	Multiplier float64 `yaml:"multiplier" mapstructure:"multiplier"`

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
}

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		Multiplier: 2.0,
		MaxDelay:   5 * time.Second,
	}
}

// Backoff returns the delay to apply before retry number n (0-based).
// Growth is exponential: BaseDelay * Multiplier^n, capped at MaxDelay.
func (c RetryConfig) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := time.Duration(float64(c.BaseDelay) * math.Pow(mult, float64(n)))
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// retryPhase is a state of the retry machine.
type retryPhase int

const (
	// phaseAttempting: an attempt is in flight.
	phaseAttempting retryPhase = iota

	// phaseRetrying: the last attempt failed retryably; wait then retry.
	phaseRetrying

	// phaseSucceeded: terminal, an attempt returned a response.
	phaseSucceeded

	// phaseExhausted: terminal, no retries remain or the error was not
	// retryable. The caller routes to fallback.
	phaseExhausted
)

// retryMachine tracks the per-request retry state. One machine drives one
// orchestration against one adapter; it is not shared between goroutines.
type retryMachine struct {
	cfg     RetryConfig
	attempt int
	phase   retryPhase
}

func newRetryMachine(cfg RetryConfig) *retryMachine {
	return &retryMachine{cfg: cfg, phase: phaseAttempting}
}

// observe transitions the machine on the outcome of the current attempt and
// returns the backoff delay to apply before the next attempt, if any.
func (m *retryMachine) observe(err error) time.Duration {
	if err == nil {
		m.phase = phaseSucceeded
		return 0
	}
	if !Retryable(err) || m.attempt >= m.cfg.MaxRetries {
		m.phase = phaseExhausted
		return 0
	}
	delay := m.cfg.Backoff(m.attempt)
	m.attempt++
	m.phase = phaseRetrying
	return delay
}

// next moves a retrying machine back into the attempting state.
func (m *retryMachine) next() {
	if m.phase == phaseRetrying {
		m.phase = phaseAttempting
	}
}

// done reports whether the machine reached a terminal state.
func (m *retryMachine) done() bool {
	return m.phase == phaseSucceeded || m.phase == phaseExhausted
}

// attempts returns the number of attempts completed so far, counting the
// initial one.
func (m *retryMachine) attempts() int {
	return m.attempt + 1
}

// sleepBackoff waits for the given delay, aborting early when the context
// is cancelled. It blocks only the calling goroutine.
func sleepBackoff(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
