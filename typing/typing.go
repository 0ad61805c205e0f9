// Package typing converts transcript snapshots into live text edits on
// the focused application. All edits flow through a single serialized
// queue; nothing else in the process may mutate the focus target.
package typing

import (
	"context"
	"sync"

	"murmur/log"
)

type Strategy int

const (
	// Append types only the suffix past what was already delivered.
	// Used with the streaming backend, whose transcript only grows.
	Append Strategy = iota
	// Replace swaps the previously typed text for the new snapshot.
	// Used with the buffered backend, whose polls supersede each other.
	Replace
)

// Injector is the keystroke-injection capability. Implementations must
// insert at the current caret of the focused target.
type Injector interface {
	TypeText(text string) error
	ReplaceText(old, new string) error
	PasteText(text string) error
	RestoreFocus() error
}

// Engine serializes edit application. A failed injection leaves the
// counters untouched so the next snapshot naturally retries the whole
// outstanding delta.
type Engine struct {
	inj Injector
	q   *queue

	mu         sync.Mutex
	typedRunes int
	lastTyped  string
	edits      int
}

func NewEngine(inj Injector) *Engine {
	return &Engine{inj: inj, q: newQueue(64)}
}

// Apply enqueues one edit bringing the focus target toward next. The
// delta is computed at application time, against whatever was actually
// delivered by then, so coalesced intermediate snapshots are safe to skip.
func (e *Engine) Apply(next string, strategy Strategy) {
	e.q.Enqueue(func() {
		switch strategy {
		case Append:
			e.applyAppend(next)
		case Replace:
			e.applyReplace(next)
		}
	})
}

func (e *Engine) applyAppend(next string) {
	runes := []rune(next)

	e.mu.Lock()
	typed := e.typedRunes
	e.mu.Unlock()

	// A shrinking partial is never deleted here; finalize reconciles.
	if len(runes) <= typed {
		return
	}

	delta := string(runes[typed:])
	if err := e.inj.TypeText(delta); err != nil {
		log.Warnf("type delta failed: %v", err)
		return
	}

	e.mu.Lock()
	e.typedRunes = len(runes)
	e.lastTyped += delta
	e.edits++
	e.mu.Unlock()
}

func (e *Engine) applyReplace(next string) {
	e.mu.Lock()
	prev := e.lastTyped
	e.mu.Unlock()

	if next == prev {
		return
	}

	var err error
	if prev == "" {
		err = e.inj.TypeText(next)
	} else {
		err = e.inj.ReplaceText(prev, next)
	}
	if err != nil {
		log.Warnf("replace failed: %v", err)
		return
	}

	e.mu.Lock()
	e.lastTyped = next
	e.typedRunes = len([]rune(next))
	e.edits++
	e.mu.Unlock()
}

// Reconcile enqueues the finalize-time correction: one full replace of
// whatever was typed with the canonical transcript.
func (e *Engine) Reconcile(canonical string) {
	e.q.Enqueue(func() {
		e.applyReplace(canonical)
	})
}

// Drain blocks until every previously enqueued edit has been applied,
// or ctx expires.
func (e *Engine) Drain(ctx context.Context) error {
	return e.q.Drain(ctx)
}

// Close stops the worker. Pending edits are applied first.
func (e *Engine) Close() {
	e.q.Close()
}

func (e *Engine) TypedText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTyped
}

func (e *Engine) TypedRunes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.typedRunes
}

func (e *Engine) Edits() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.edits
}
