package backend

import (
	"context"
	"strings"
	"sync"
	"time"

	"murmur/encoder"
	"murmur/log"
)

const (
	// pollInterval paces full-buffer submissions. Each poll re-submits
	// everything captured so far; the response replaces the whole
	// transcript rather than extending it.
	pollInterval  = 3500 * time.Millisecond
	submitTimeout = 15 * time.Second
)

type transcribeFunc func(ctx context.Context, flacData []byte, language string) (string, error)

// BufferedBackend accumulates session audio and polls a batch
// transcription service with the full buffer. At most one call is in
// flight; a tick that finds one running is skipped and the next tick
// picks up the larger buffer instead.
type BufferedBackend struct {
	transcribe transcribeFunc
	interval   time.Duration
	events     chan Event

	mu         sync.Mutex
	pcm        []byte
	transcript string
	language   string
	inFlight   bool
	closing    bool
	started    bool
	fatal      error

	idleFlight chan struct{} // signaled each time an in-flight call clears
	stopTick   chan struct{}
	tickDone   chan struct{}
	stopOnce   sync.Once
}

func NewBuffered(apiKey string) *BufferedBackend {
	g := newGroqClient(apiKey)
	return newBufferedBackend(g.transcribe, pollInterval)
}

func newBufferedBackend(fn transcribeFunc, interval time.Duration) *BufferedBackend {
	return &BufferedBackend{
		transcribe: fn,
		interval:   interval,
		events:     make(chan Event, 16),
		idleFlight: make(chan struct{}, 1),
		stopTick:   make(chan struct{}),
		tickDone:   make(chan struct{}),
	}
}

func (b *BufferedBackend) Name() string { return "groq-batch" }
func (b *BufferedBackend) Kind() Kind   { return Buffered }

func (b *BufferedBackend) Start(_ context.Context, language string) error {
	b.mu.Lock()
	b.language = language
	b.started = true
	b.mu.Unlock()

	go b.runTicker()
	return nil
}

func (b *BufferedBackend) runTicker() {
	defer close(b.tickDone)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.poll()
		case <-b.stopTick:
			return
		}
	}
}

// poll submits the full buffer unless a call is already running or
// there is nothing to send. A skipped tick is not retried early.
func (b *BufferedBackend) poll() {
	b.mu.Lock()
	if b.closing || b.inFlight || b.fatal != nil || len(b.pcm) == 0 {
		b.mu.Unlock()
		return
	}
	b.inFlight = true
	snapshot := make([]byte, len(b.pcm))
	copy(snapshot, b.pcm)
	language := b.language
	b.mu.Unlock()

	go func() {
		text, err := b.submit(snapshot, language)

		b.mu.Lock()
		closing := b.closing
		if err == nil && !closing {
			b.transcript = text
		}
		if err != nil && IsFatal(err) {
			b.fatal = err
		}
		b.mu.Unlock()

		// Emit before clearing the in-flight flag: Stop only closes the
		// event channel once no call is in flight.
		switch {
		case err != nil && IsFatal(err):
			b.emit(Event{Kind: EventError, Err: err})
		case err != nil:
			// Transient failure: the next tick re-submits the full
			// buffer anyway, so nothing is lost.
			log.Warnf("buffered transcription poll failed: %v", err)
		case closing:
			// Result landed after finalize began; the final flush
			// supersedes it.
		default:
			b.emit(Event{Kind: EventPartial, Text: text})
		}

		b.mu.Lock()
		b.inFlight = false
		b.mu.Unlock()
		select {
		case b.idleFlight <- struct{}{}:
		default:
		}
	}()
}

func (b *BufferedBackend) submit(pcm []byte, language string) (string, error) {
	flacData, err := encoder.EncodeFLAC(pcm)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	text, err := b.transcribe(ctx, flacData, language)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (b *BufferedBackend) Feed(pcm []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started || b.closing {
		return
	}
	b.pcm = append(b.pcm, pcm...)
}

func (b *BufferedBackend) Events() <-chan Event {
	return b.events
}

// Stop halts polling, waits out any in-flight call, then forces one
// last full-buffer submission bounded by ctx. Its result becomes the
// canonical transcript; an in-flight result that raced with finalize
// is discarded in its favor.
func (b *BufferedBackend) Stop(ctx context.Context) (string, error) {
	b.stopOnce.Do(func() { b.stop(ctx) })

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transcript, b.fatal
}

func (b *BufferedBackend) stop(ctx context.Context) {
	b.mu.Lock()
	started := b.started
	b.closing = true
	b.mu.Unlock()
	if !started {
		close(b.events)
		return
	}

	close(b.stopTick)
	<-b.tickDone

	for {
		b.mu.Lock()
		inFlight := b.inFlight
		b.mu.Unlock()
		if !inFlight {
			break
		}
		select {
		case <-b.idleFlight:
		case <-ctx.Done():
			log.Warn("buffered backend gave up waiting for in-flight poll")
			close(b.events)
			return
		}
	}

	b.mu.Lock()
	snapshot := make([]byte, len(b.pcm))
	copy(snapshot, b.pcm)
	language := b.language
	fatal := b.fatal
	b.mu.Unlock()

	if len(snapshot) > 0 && fatal == nil {
		flacData, err := encoder.EncodeFLAC(snapshot)
		if err == nil {
			text, ferr := b.transcribe(ctx, flacData, language)
			if ferr == nil {
				b.mu.Lock()
				b.transcript = strings.TrimSpace(text)
				b.mu.Unlock()
			} else {
				log.Warnf("final buffered flush failed, keeping last transcript: %v", ferr)
				if IsFatal(ferr) {
					b.mu.Lock()
					b.fatal = ferr
					b.mu.Unlock()
				}
			}
		} else {
			log.Warnf("final flush encode failed: %v", err)
		}
	}

	close(b.events)
}

func (b *BufferedBackend) emit(ev Event) {
	b.mu.Lock()
	closing := b.closing
	b.mu.Unlock()
	if closing {
		return
	}
	select {
	case b.events <- ev:
	default:
		log.Warnf("buffered event dropped (consumer backlog): kind=%d", ev.Kind)
	}
}
