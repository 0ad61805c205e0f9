// Package session runs one dictation attempt end to end: it wires the
// microphone into a transcription backend, folds transcript updates
// into the typing engine, and drives the finalize protocol that makes
// the typed text converge on the canonical transcript exactly once.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"murmur/audio"
	"murmur/backend"
	"murmur/clipboard"
	"murmur/log"
	"murmur/typing"
)

type State int

const (
	Idle State = iota
	Listening
	Processing
	Done
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Done:
		return "done"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

const defaultFlushTimeout = 2 * time.Second

type Result struct {
	Text  string
	Edits int
}

type Config struct {
	Backend  backend.Backend
	Capture  audio.CaptureDevice
	Injector typing.Injector
	Language string

	// FlushTimeout bounds the finalize-time flush so a stuck backend
	// cannot hang the protocol. Zero means the default.
	FlushTimeout time.Duration

	// OnAudio sees every capture buffer before it reaches the backend.
	// Used for voice-activity tracking; must not block.
	OnAudio func(pcm []byte)
	// OnLevel receives the smoothed input level per capture callback.
	OnLevel func(level float64)

	OnDone  func(Result)
	OnError func(msg string)

	// writeClipboard is swapped in tests; nil means the system clipboard.
	writeClipboard func(text string) error
}

// Session is the state machine for a single dictation run:
// Idle -> Listening -> Processing -> Done, or -> Error from any active
// state. A finished session is never reused.
type Session struct {
	cfg    Config
	engine *typing.Engine
	meter  *audio.LevelMeter

	mu       sync.Mutex
	state    State
	combined string

	finalizing  atomic.Bool
	loopDone    chan struct{}
	done        chan struct{}
	doneOnce    sync.Once
	releaseOnce sync.Once
	restoreOnce sync.Once
}

func New(cfg Config) *Session {
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaultFlushTimeout
	}
	if cfg.writeClipboard == nil {
		cfg.writeClipboard = clipboard.Write
	}
	return &Session{
		cfg:      cfg,
		engine:   typing.NewEngine(cfg.Injector),
		meter:    audio.NewLevelMeter(),
		state:    Idle,
		loopDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns the latest combined transcript the session has
// folded from backend updates.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.combined
}

// Done is closed once the session reaches Done or Error.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start transitions Idle -> Listening: it acquires the backend, then
// the microphone, and begins folding transcript events. A failure in
// either acquisition ends the session in Error with nothing typed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return fmt.Errorf("session already started (state %s)", s.state)
	}
	s.mu.Unlock()

	if err := s.cfg.Backend.Start(ctx, s.cfg.Language); err != nil {
		close(s.loopDone)
		s.fail(fmt.Sprintf("Speech recognition unavailable: %v", err))
		return err
	}

	s.cfg.Capture.SetCallback(func(data []byte, _ uint32) {
		pcm := make([]byte, len(data))
		copy(pcm, data)
		s.cfg.Backend.Feed(pcm)
		s.meter.Process(data)
		if s.cfg.OnAudio != nil {
			s.cfg.OnAudio(data)
		}
		if s.cfg.OnLevel != nil {
			s.cfg.OnLevel(s.meter.Level())
		}
	})

	if err := s.cfg.Capture.Start(); err != nil {
		close(s.loopDone)
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
		s.cfg.Backend.Stop(stopCtx)
		cancel()
		s.fail(fmt.Sprintf("Microphone unavailable: %v", err))
		return err
	}

	s.setState(Listening)
	log.SessionStart(s.cfg.Backend.Name(), s.cfg.Language)
	go s.eventLoop()
	return nil
}

// eventLoop folds backend events until the channel closes. Updates that
// arrive once finalize has begun are discarded; the final flush result
// comes back through Backend.Stop instead.
func (s *Session) eventLoop() {
	defer close(s.loopDone)

	strategy := typing.Replace
	if s.cfg.Backend.Kind() == backend.Streaming {
		strategy = typing.Append
	}

	for ev := range s.cfg.Backend.Events() {
		if s.finalizing.Load() {
			continue
		}
		switch ev.Kind {
		case backend.EventPartial, backend.EventFinal:
			if ev.Text == "" {
				continue
			}
			s.mu.Lock()
			s.combined = ev.Text
			s.mu.Unlock()
			s.engine.Apply(ev.Text, strategy)
		case backend.EventEnded:
			// The recognizer ended the stream itself; run the same
			// finalize path a manual stop would. A quiet session
			// closes as a no-op inside Stop.
			go s.Stop()
			return
		case backend.EventError:
			if backend.IsFatal(ev.Err) {
				go s.failFatal(ev.Err)
				return
			}
			log.Warnf("transient transcription error: %v", ev.Err)
		}
	}
}

// Stop runs the finalize protocol. It is idempotent: hotkey repeat,
// Escape, silence timeout, and stream end can all race into it and
// only the first caller proceeds.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != Listening {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if !s.finalizing.CompareAndSwap(false, true) {
		return
	}

	s.setState(Processing)

	// Stop feeding the backend before flushing it.
	s.releaseCapture()

	flushCtx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
	defer cancel()

	canonical, err := s.cfg.Backend.Stop(flushCtx)
	if err != nil {
		if backend.IsFatal(err) {
			<-s.loopDone
			s.engine.Close()
			s.teardownError(fmt.Sprintf("Speech recognition error: %v", err))
			return
		}
		// Proceed with whatever transcript survived the flush.
		log.Warnf("final flush incomplete: %v", err)
	}

	// Backend.Stop closed the event channel, so the loop is winding
	// down; any update it applied before exiting is already queued
	// ahead of the reconcile below.
	<-s.loopDone

	s.mu.Lock()
	if canonical != "" {
		s.combined = canonical
	} else {
		canonical = s.combined
	}
	s.mu.Unlock()

	if err := s.engine.Drain(flushCtx); err != nil {
		log.Warnf("typing queue drain: %v", err)
	}

	s.settle(flushCtx, canonical)
	s.engine.Close()

	s.restoreOnce.Do(func() {
		if err := s.cfg.Injector.RestoreFocus(); err != nil {
			log.Warnf("focus restore failed: %v", err)
		}
	})

	s.setState(Done)
	log.SessionEnd(Done.String(), len(canonical), s.engine.Edits())
	if canonical != "" {
		log.TranscriptionText(canonical)
	}
	if s.cfg.OnDone != nil {
		s.cfg.OnDone(Result{Text: canonical, Edits: s.engine.Edits()})
	}
	s.doneOnce.Do(func() { close(s.done) })
}

// settle reconciles typed output with the canonical transcript:
// nothing heard means nothing touched, nothing typed yet means one
// paste, otherwise a full replace of any divergence.
func (s *Session) settle(ctx context.Context, canonical string) {
	typed := s.engine.TypedText()
	switch {
	case canonical == "":
		// Quiet session: no text, no edits, no clipboard use.
	case typed == "":
		if err := s.cfg.Injector.PasteText(canonical); err != nil {
			log.Warnf("paste failed, leaving transcript on clipboard: %v", err)
			if cerr := s.cfg.writeClipboard(canonical); cerr != nil {
				log.Errorf("clipboard fallback failed: %v", cerr)
			}
		}
	case typed != canonical:
		s.engine.Reconcile(canonical)
		if err := s.engine.Drain(ctx); err != nil {
			log.Warnf("reconcile drain: %v", err)
		}
	}
}

// failFatal tears the session down after a fatal backend error during
// Listening. Typed text is left in place; only resources are released.
func (s *Session) failFatal(err error) {
	s.mu.Lock()
	if s.state != Listening {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if !s.finalizing.CompareAndSwap(false, true) {
		return
	}

	s.releaseCapture()
	stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
	s.cfg.Backend.Stop(stopCtx)
	cancel()
	<-s.loopDone
	s.engine.Close()
	s.teardownError(fmt.Sprintf("Speech recognition error: %v", err))
}

func (s *Session) fail(msg string) {
	s.finalizing.Store(true)
	s.releaseCapture()
	s.engine.Close()
	s.teardownError(msg)
}

func (s *Session) teardownError(msg string) {
	s.restoreOnce.Do(func() { s.cfg.Injector.RestoreFocus() })
	s.setState(Error)
	log.Error(msg)
	log.SessionEnd(Error.String(), 0, s.engine.Edits())
	if s.cfg.OnError != nil {
		s.cfg.OnError(msg)
	}
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) releaseCapture() {
	s.releaseOnce.Do(func() {
		s.cfg.Capture.ClearCallback()
		s.cfg.Capture.Stop()
	})
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
