// Package backend abstracts the two transcription models behind one
// interface: a streaming recognizer that emits per-utterance partial and
// final events, and a buffered poller that periodically submits its full
// accumulated audio and receives a full-replacement transcript.
package backend

import (
	"context"
	"errors"
	"fmt"
)

type Kind int

const (
	Streaming Kind = iota
	Buffered
)

func (k Kind) String() string {
	switch k {
	case Streaming:
		return "streaming"
	case Buffered:
		return "buffered"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	// EventPartial carries unstable text that a later event may revise.
	EventPartial EventKind = iota
	// EventFinal carries settled text.
	EventFinal
	// EventEnded signals the recognizer stopped on its own, e.g. a
	// silence timeout. With transcript content it triggers finalize.
	EventEnded
	// EventError carries a per-update error. Fatal errors (IsFatal)
	// end the session; others are logged and the stream continues.
	EventError
)

// Event is one transcript update. Text is always the full folded
// transcript known to the backend at that moment — committed plus
// current partial for streaming, the latest replacement for buffered —
// so the consumer never needs backend-specific folding rules.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

type Backend interface {
	Name() string
	Kind() Kind

	// Start acquires the recognizer. The language is fixed for the
	// backend's lifetime.
	Start(ctx context.Context, language string) error

	// Feed appends captured PCM16 audio. Safe to call from the capture
	// callback; never blocks on the network.
	Feed(pcm []byte)

	// Events delivers transcript updates in arrival order. Closed by Stop.
	Events() <-chan Event

	// Stop performs the final flush, bounded by ctx, and returns the
	// canonical transcript. Always closes the event channel, releases
	// the recognizer, and is safe to call more than once.
	Stop(ctx context.Context) (string, error)
}

// ErrAuth marks authorization failures (401/403, revoked credential).
// These are fatal to the whole session; everything else is retried on
// the next update cycle.
var ErrAuth = errors.New("transcription authorization failed")

func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth)
}

// New picks the backend from the configured credentials: a streaming
// credential wins, otherwise the buffered service, otherwise an error.
// The choice is made once and holds for the session's lifetime.
func New(deepgramKey, groqKey string) (Backend, error) {
	if deepgramKey != "" {
		return NewStreaming(deepgramKey), nil
	}
	if groqKey != "" {
		return NewBuffered(groqKey), nil
	}
	return nil, fmt.Errorf("set DEEPGRAM_API_KEY or GROQ_API_KEY environment variable")
}
