package synth

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// VoiceSpec identifies the voice a caller wants for a request. Only ID is
// required; the remaining fields narrow selection when an adapter offers
// several variants of the same voice.
type VoiceSpec struct {
	ID       string
	Language string
	Gender   string
	Age      string
	Accent   string
}

// SynthesisOptions holds audio output parameters for a request.
type SynthesisOptions struct {
	// Format is the requested audio format ("pcm", "wav", "mp3").
	Format string

	// SampleRate in Hz. Zero means the adapter's native rate.
	SampleRate int

	// Rate is the speaking rate multiplier (0.5 to 2.0, 1.0 = normal).
	Rate float64
}

// SynthesisRequest is one unit of work for the orchestrator.
type SynthesisRequest struct {
	Text    string
	Voice   VoiceSpec
	Options SynthesisOptions

	// RequestID is assigned by the orchestrator when the caller leaves it
	// empty. It is carried through errors and response metadata.
	RequestID string
}

// WordCount returns the whitespace-split word count of the request text.
func (r *SynthesisRequest) WordCount() int {
	return len(strings.Fields(r.Text))
}

// ensureRequestID fills in a generated id when the caller supplied none.
func (r *SynthesisRequest) ensureRequestID() {
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
}

// AudioBuffer holds synthesized audio samples.
type AudioBuffer struct {
	Data       []byte
	SampleRate int
	Channels   int
	Duration   time.Duration
	Format     string
}

// ResponseMetadata describes how a response was produced.
type ResponseMetadata struct {
	// Adapter is the name of the adapter that served the request.
	Adapter string

	// Voice is the voice id actually used.
	Voice string

	// SynthesisTime is the wall-clock time of the successful attempt.
	SynthesisTime time.Duration

	// RequestID echoes the request id.
	RequestID string

	// FallbackUsed marks responses served by a fallback adapter rather
	// than the originally selected one.
	FallbackUsed bool

	// MemoryUsed is the adapter's estimate of memory consumed by the
	// synthesis, in bytes. Zero when the adapter does not report it.
	MemoryUsed int64
}

// SynthesisResponse is the result of a successful synthesis.
type SynthesisResponse struct {
	Audio    *AudioBuffer
	Metadata ResponseMetadata
}
