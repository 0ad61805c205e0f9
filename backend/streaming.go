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
	streamChunkMs      = 200
	streamChunkBytes   = encoder.SampleRate * encoder.Channels * (encoder.BitsPerSample / 8) * streamChunkMs / 1000
	streamFinalizeIdle = 200 * time.Millisecond
	streamFinalizeMax  = 1000 * time.Millisecond
)

// rawStream is the wire-level streaming connection. CloseSend asks the
// server to finalize the in-flight utterance; the acknowledgment comes
// back through Recv as an update with FromFinalize set.
type rawStream interface {
	Send(pcm []byte) error
	CloseSend() error
	Recv() (streamUpdate, error)
	Close() error
}

type streamUpdate struct {
	Transcript   string
	IsFinal      bool
	SpeechFinal  bool
	FromFinalize bool
	Ended        bool
}

// StreamingBackend folds a stream of interim and final utterance
// results into one growing transcript. Final text is committed and
// never revised; interim text rides on top of the committed prefix
// until its utterance settles.
type StreamingBackend struct {
	dial func(ctx context.Context, language string) (rawStream, error)

	ws      rawStream
	audioCh chan []byte
	events  chan Event

	sendDone      chan struct{}
	recvDone      chan struct{}
	finalized     chan struct{}
	finalizedOnce sync.Once
	stopOnce      sync.Once

	feedMu  sync.Mutex
	feedBuf []byte

	mu        sync.Mutex
	committed string
	err       error
	errOnce   sync.Once
	started   bool
	closing   bool
}

func NewStreaming(apiKey string) *StreamingBackend {
	s := newStreamingBackend()
	s.dial = func(ctx context.Context, language string) (rawStream, error) {
		return dialDeepgram(ctx, apiKey, language)
	}
	return s
}

func newStreamingBackend() *StreamingBackend {
	return &StreamingBackend{
		audioCh:   make(chan []byte, 128),
		events:    make(chan Event, 16),
		sendDone:  make(chan struct{}),
		recvDone:  make(chan struct{}),
		finalized: make(chan struct{}),
	}
}

func (s *StreamingBackend) Name() string { return "deepgram-stream" }
func (s *StreamingBackend) Kind() Kind   { return Streaming }

func (s *StreamingBackend) Start(ctx context.Context, language string) error {
	ws, err := s.dial(ctx, language)
	if err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.stopOnce.Do(func() {
			close(s.sendDone)
			close(s.recvDone)
			close(s.events)
		})
		return err
	}

	s.mu.Lock()
	s.ws = ws
	s.started = true
	s.mu.Unlock()

	go s.runSender()
	go s.runReceiver()
	return nil
}

// Feed accumulates PCM and forwards it in fixed-size chunks so the
// socket sees a steady cadence regardless of the capture buffer size.
func (s *StreamingBackend) Feed(pcm []byte) {
	s.mu.Lock()
	if !s.started || s.closing || s.err != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	// Re-check under feedMu: stop flips closing before taking this lock
	// and closes audioCh while holding it, so a send here can never race
	// the close.
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return
	}

	s.feedBuf = append(s.feedBuf, pcm...)
	for len(s.feedBuf) >= streamChunkBytes {
		chunk := make([]byte, streamChunkBytes)
		copy(chunk, s.feedBuf[:streamChunkBytes])
		s.feedBuf = s.feedBuf[streamChunkBytes:]
		select {
		case s.audioCh <- chunk:
		case <-s.sendDone:
			// Sender is gone; nothing drains the channel anymore.
			return
		}
	}
}

func (s *StreamingBackend) Events() <-chan Event {
	return s.events
}

// Stop flushes buffered audio, asks the server to finalize, waits for
// the acknowledgment within the finalize budget, then tears the
// connection down. The returned transcript is the committed text after
// the flush; it is what the typed output must converge to.
func (s *StreamingBackend) Stop(ctx context.Context) (string, error) {
	s.stopOnce.Do(func() { s.stop(ctx) })

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed, s.err
}

func (s *StreamingBackend) stop(ctx context.Context) {
	s.mu.Lock()
	started := s.started
	s.closing = true
	s.mu.Unlock()
	if !started {
		close(s.events)
		return
	}

	// Acquiring feedMu waits out any Feed already past the closing check;
	// later Feeds see the flag and return before touching the channel.
	s.feedMu.Lock()
	if len(s.feedBuf) > 0 {
		tail := make([]byte, len(s.feedBuf))
		copy(tail, s.feedBuf)
		s.feedBuf = nil
		select {
		case s.audioCh <- tail:
		case <-s.sendDone:
		case <-ctx.Done():
			log.Warn("stream tail flush dropped: sender backlogged at stop")
		}
	}
	close(s.audioCh)
	s.feedMu.Unlock()

	<-s.sendDone

	maxWait := time.NewTimer(streamFinalizeMax)
	defer maxWait.Stop()
	select {
	case <-s.finalized:
		// Brief quiet period for stragglers behind the acknowledgment.
		time.Sleep(streamFinalizeIdle)
	case <-maxWait.C:
	case <-ctx.Done():
		log.Warn("stream finalize cut short by flush deadline")
	}

	s.ws.Close()
	select {
	case <-s.recvDone:
	case <-time.After(2 * time.Second):
		log.Warn("stream receiver drain timeout")
	}

	close(s.events)
}

func (s *StreamingBackend) runSender() {
	defer close(s.sendDone)
	for chunk := range s.audioCh {
		if err := s.ws.Send(chunk); err != nil {
			s.setErr(err)
			return
		}
	}
	if err := s.ws.CloseSend(); err != nil {
		s.setErr(err)
	}
}

func (s *StreamingBackend) runReceiver() {
	defer close(s.recvDone)
	for {
		update, err := s.ws.Recv()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			s.setErr(err)
			s.emit(Event{Kind: EventError, Err: err})
			return
		}

		if update.Ended {
			s.mu.Lock()
			text := s.committed
			s.mu.Unlock()
			s.emit(Event{Kind: EventEnded, Text: text})
			return
		}

		if update.FromFinalize {
			s.finalizedOnce.Do(func() { close(s.finalized) })
		}

		transcript := strings.TrimSpace(update.Transcript)
		isFinal := update.IsFinal || update.SpeechFinal || update.FromFinalize

		if !isFinal {
			if transcript == "" {
				continue
			}
			s.mu.Lock()
			full := joinUtterance(s.committed, transcript)
			s.mu.Unlock()
			s.emit(Event{Kind: EventPartial, Text: full})
			continue
		}

		if transcript == "" {
			continue
		}
		s.mu.Lock()
		s.committed = joinUtterance(s.committed, transcript)
		full := s.committed
		s.mu.Unlock()
		s.emit(Event{Kind: EventFinal, Text: full})
	}
}

// emit never blocks the receiver; a dropped update is superseded by the
// next one, and Stop returns the committed text either way.
func (s *StreamingBackend) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		log.Warnf("stream event dropped (consumer backlog): kind=%d", ev.Kind)
	}
}

func (s *StreamingBackend) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if s.ws != nil {
			s.ws.Close()
		}
	})
}

func joinUtterance(committed, next string) string {
	if committed == "" {
		return next
	}
	return committed + " " + next
}
