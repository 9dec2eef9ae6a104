package synth

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bookvoice/bookvoice/pkg/synth/perf"
)

// Orchestrator drives a synthesis request against a single adapter,
// applying the retry policy and feeding the performance monitor. Fallback
// across adapters sits above it, in the coordinator.
type Orchestrator struct {
	registry *Registry
	monitor  *perf.Monitor
	retry    RetryConfig
}

// NewOrchestrator wires an orchestrator to a registry and monitor. A nil
// monitor disables metric recording.
func NewOrchestrator(registry *Registry, monitor *perf.Monitor, retry RetryConfig) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		monitor:  monitor,
		retry:    retry,
	}
}

// Synthesize runs one request against the named adapter, retrying
// retryable failures with exponential backoff. A non-retryable error
// returns after a single call. When every allowed attempt fails it
// returns a MAX_RETRIES_EXCEEDED error wrapping the last adapter error.
func (o *Orchestrator) Synthesize(ctx context.Context, name string, req *SynthesisRequest) (*SynthesisResponse, error) {
	reg, ok := o.registry.Get(name)
	if !ok {
		return nil, NewConfigError(fmt.Sprintf("adapter %q is not registered", name), nil)
	}
	adapter := reg.Adapter
	if !o.registry.IsAvailable(name) {
		return nil, &SynthError{
			Code:      CodeServiceError,
			Adapter:   name,
			Op:        "synthesize",
			RequestID: req.RequestID,
			Message:   "adapter is not available",
		}
	}

	if v := adapter.ValidateVoice(req.Voice); !v.Valid {
		return nil, &SynthError{
			Code:      CodeUnsupportedVoice,
			Adapter:   name,
			Op:        "synthesize",
			RequestID: req.RequestID,
			Message:   fmt.Sprintf("voice %q is not supported: %s", req.Voice.ID, strings.Join(v.Errors, "; ")),
		}
	}

	if o.monitor != nil {
		o.monitor.RecordRequest(name)
	}

	machine := newRetryMachine(o.retry)
	var lastErr error
	for !machine.done() {
		start := time.Now()
		resp, err := o.attempt(ctx, adapter, req)
		if o.monitor != nil {
			o.monitor.RecordSynthesis(name, req.Text, responseMemory(resp), start, err == nil)
		}
		if err == nil {
			machine.observe(nil)
			resp.Metadata.Adapter = name
			resp.Metadata.RequestID = req.RequestID
			resp.Metadata.SynthesisTime = time.Since(start)
			return resp, nil
		}

		lastErr = err
		delay := machine.observe(err)
		if machine.done() {
			break
		}
		log.Debug("synthesis attempt failed, retrying",
			"adapter", name, "attempt", machine.attempts(), "delay", delay, "err", err)
		if sleepErr := sleepBackoff(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
		machine.next()
	}

	if !Retryable(lastErr) {
		return nil, lastErr
	}
	return nil, &SynthError{
		Code:      CodeMaxRetriesExceeded,
		Adapter:   name,
		Op:        "synthesize",
		RequestID: req.RequestID,
		Message:   fmt.Sprintf("all %d attempts failed", machine.attempts()),
		Cause:     lastErr,
	}
}

// attempt makes one adapter call, converting panics and foreign errors
// into SynthErrors so the retry machine can classify them.
func (o *Orchestrator) attempt(ctx context.Context, adapter Adapter, req *SynthesisRequest) (resp *SynthesisResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("adapter panicked during synthesis",
				"adapter", adapter.Name(), "panic", r, "stack", string(debug.Stack()))
			resp = nil
			err = &SynthError{
				Code:      CodeUnknown,
				Adapter:   adapter.Name(),
				Op:        "synthesize",
				RequestID: req.RequestID,
				Message:   fmt.Sprintf("adapter panicked: %v", r),
			}
		}
	}()

	resp, err = adapter.Synthesize(ctx, req)
	if err != nil {
		if _, ok := AsSynthError(err); !ok {
			err = &SynthError{
				Code:      CodeServiceError,
				Adapter:   adapter.Name(),
				Op:        "synthesize",
				RequestID: req.RequestID,
				Message:   "synthesis failed",
				Cause:     err,
			}
		}
		return nil, err
	}
	if resp == nil || resp.Audio == nil || len(resp.Audio.Data) == 0 {
		return nil, &SynthError{
			Code:      CodeServiceError,
			Adapter:   adapter.Name(),
			Op:        "synthesize",
			RequestID: req.RequestID,
			Message:   "adapter returned empty audio",
		}
	}
	return resp, nil
}

func responseMemory(resp *SynthesisResponse) int64 {
	if resp == nil {
		return 0
	}
	if resp.Metadata.MemoryUsed > 0 {
		return resp.Metadata.MemoryUsed
	}
	if resp.Audio == nil {
		return 0
	}
	return int64(len(resp.Audio.Data))
}
