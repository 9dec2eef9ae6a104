package synth

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
)

// fallbackContext carries the state of one fallback walk: the remaining
// chain, the adapters already tried, and the first root-cause failure.
// When the chain is exhausted the original error is what the caller sees,
// not a wrapper around the last attempt.
type fallbackContext struct {
	chain    []string
	excluded map[string]bool
	original error
}

func newFallbackContext(chain []string, failed string, original error) *fallbackContext {
	return &fallbackContext{
		chain:    chain,
		excluded: map[string]bool{failed: true},
		original: original,
	}
}

// next returns the first chain entry not yet excluded, or "" when the
// chain is exhausted.
func (f *fallbackContext) next() string {
	for _, name := range f.chain {
		if !f.excluded[name] {
			return name
		}
	}
	return ""
}

func (f *fallbackContext) exclude(name string) {
	f.excluded[name] = true
}

// FallbackCoordinator retries a failed request against the configured
// adapter chain, skipping the adapter that already failed and any adapter
// that fails during the walk.
type FallbackCoordinator struct {
	registry     *Registry
	orchestrator *Orchestrator
	chain        []string
}

// NewFallbackCoordinator wires a coordinator to a registry, an
// orchestrator, and an ordered fallback chain.
func NewFallbackCoordinator(registry *Registry, orchestrator *Orchestrator, chain []string) *FallbackCoordinator {
	return &FallbackCoordinator{
		registry:     registry,
		orchestrator: orchestrator,
		chain:        chain,
	}
}

// SetChain replaces the fallback chain. Unknown names are rejected with a
// ConfigError; the existing chain stays in place on failure.
func (c *FallbackCoordinator) SetChain(chain []string) error {
	for _, name := range chain {
		if _, ok := c.registry.Get(name); !ok {
			return NewConfigError(fmt.Sprintf("fallback chain names unregistered adapter %q", name), nil)
		}
	}
	c.chain = chain
	return nil
}

// Chain returns a copy of the current fallback chain.
func (c *FallbackCoordinator) Chain() []string {
	out := make([]string, len(c.chain))
	copy(out, c.chain)
	return out
}

// Handle walks the fallback chain after the named adapter failed. Each
// candidate must be available and compatible with the requested voice; a
// candidate that fails is excluded and the walk continues. When the chain
// is exhausted, the root cause of the first failure is returned so callers
// debug the real problem rather than a stack of fallback wrappers.
func (c *FallbackCoordinator) Handle(ctx context.Context, failed string, req *SynthesisRequest, cause error) (*SynthesisResponse, error) {
	fc := newFallbackContext(c.chain, failed, rootCause(cause))

	for {
		name := fc.next()
		if name == "" {
			log.Error("fallback chain exhausted",
				"failed", failed, "request", req.RequestID, "tried", len(fc.excluded))
			return nil, fc.original
		}
		fc.exclude(name)

		reg, ok := c.registry.Get(name)
		if !ok || !c.registry.IsAvailable(name) {
			continue
		}
		if !voiceCompatible(reg.Adapter, req.Voice) {
			log.Debug("fallback candidate cannot serve voice",
				"adapter", name, "voice", req.Voice.ID)
			continue
		}

		log.Info("falling back", "from", failed, "to", name, "request", req.RequestID)
		resp, err := c.orchestrator.Synthesize(ctx, name, req)
		if err != nil {
			log.Warn("fallback adapter failed",
				"adapter", name, "request", req.RequestID, "error", err)
			continue
		}
		resp.Metadata.FallbackUsed = true
		return resp, nil
	}
}

// rootCause strips the retry-exhaustion wrapper so the underlying adapter
// error survives the fallback walk.
func rootCause(err error) error {
	if se, ok := AsSynthError(err); ok && se.Code == CodeMaxRetriesExceeded && se.Cause != nil {
		return se.Cause
	}
	return err
}
