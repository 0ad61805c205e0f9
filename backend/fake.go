package backend

import (
	"context"
	"sync"
)

// Fake is a scripted backend for tests. Emit pushes events as if the
// recognizer produced them; Stop returns the explicitly set final text,
// or the last emitted text when none was set.
type Fake struct {
	kind Kind

	StartErr error
	StopErr  error

	mu       sync.Mutex
	events   chan Event
	started  bool
	language string
	fedBytes int
	lastText string
	final    string
	finalSet bool
	stopOnce sync.Once
}

func NewFake(kind Kind) *Fake {
	return &Fake{
		kind:   kind,
		events: make(chan Event, 32),
	}
}

func (f *Fake) Name() string { return "fake" }
func (f *Fake) Kind() Kind   { return f.kind }

func (f *Fake) Start(_ context.Context, language string) error {
	if f.StartErr != nil {
		f.stopOnce.Do(func() { close(f.events) })
		return f.StartErr
	}
	f.mu.Lock()
	f.started = true
	f.language = language
	f.mu.Unlock()
	return nil
}

func (f *Fake) Feed(pcm []byte) {
	f.mu.Lock()
	f.fedBytes += len(pcm)
	f.mu.Unlock()
}

func (f *Fake) Events() <-chan Event {
	return f.events
}

func (f *Fake) Stop(_ context.Context) (string, error) {
	f.stopOnce.Do(func() { close(f.events) })
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalSet {
		return f.final, f.StopErr
	}
	return f.lastText, f.StopErr
}

func (f *Fake) Emit(ev Event) {
	f.mu.Lock()
	if ev.Text != "" {
		f.lastText = ev.Text
	}
	f.mu.Unlock()
	f.events <- ev
}

// SetFinal fixes the transcript Stop will return, independent of
// emitted events. Use it to simulate a final flush that revises text.
func (f *Fake) SetFinal(text string) {
	f.mu.Lock()
	f.final = text
	f.finalSet = true
	f.mu.Unlock()
}

func (f *Fake) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *Fake) FedBytes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fedBytes
}

func (f *Fake) Language() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.language
}
