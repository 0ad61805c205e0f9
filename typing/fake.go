package typing

import (
	"strings"
	"sync"
)

// Fake records injector calls and simulates a focus target's text
// content. Error fields make the next matching call fail once.
type Fake struct {
	mu sync.Mutex

	buffer   string
	typed    []string
	replaced [][2]string
	pasted   []string
	restores int

	TypeErr    error
	ReplaceErr error
	PasteErr   error
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) TypeText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TypeErr != nil {
		err := f.TypeErr
		f.TypeErr = nil
		return err
	}
	f.buffer += text
	f.typed = append(f.typed, text)
	return nil
}

func (f *Fake) ReplaceText(old, new string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReplaceErr != nil {
		err := f.ReplaceErr
		f.ReplaceErr = nil
		return err
	}
	f.buffer = strings.TrimSuffix(f.buffer, old) + new
	f.replaced = append(f.replaced, [2]string{old, new})
	return nil
}

func (f *Fake) PasteText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PasteErr != nil {
		err := f.PasteErr
		f.PasteErr = nil
		return err
	}
	f.buffer += text
	f.pasted = append(f.pasted, text)
	return nil
}

func (f *Fake) RestoreFocus() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restores++
	return nil
}

func (f *Fake) Buffer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffer
}

func (f *Fake) Typed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.typed...)
}

func (f *Fake) Replaced() [][2]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]string(nil), f.replaced...)
}

func (f *Fake) Pasted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pasted...)
}

func (f *Fake) Restores() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restores
}
