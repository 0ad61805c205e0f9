//go:build !linux

package typing

import (
	"runtime"
	"sync"

	"github.com/micmonay/keybd_event"

	"murmur/clipboard"
)

// Keyboard injects text through the clipboard plus a paste chord, the
// only portable path keybd_event gives us. Live replacement is not
// available here; the finalize-time paste fallback still converges.
type Keyboard struct {
	kb   keybd_event.KeyBonding
	once sync.Once
	err  error
}

func NewKeyboard() *Keyboard {
	return &Keyboard{}
}

func (k *Keyboard) init() error {
	k.once.Do(func() {
		k.kb, k.err = keybd_event.NewKeyBonding()
	})
	return k.err
}

func (k *Keyboard) pasteChord() error {
	k.kb.SetKeys(keybd_event.VK_V)
	if runtime.GOOS == "darwin" {
		k.kb.HasSuper(true) // Cmd+V
	} else {
		k.kb.HasCTRL(true)
	}
	return k.kb.Launching()
}

func (k *Keyboard) TypeText(text string) error {
	return k.PasteText(text)
}

func (k *Keyboard) ReplaceText(old, new string) error {
	return errReplaceUnsupported
}

func (k *Keyboard) PasteText(text string) error {
	if err := k.init(); err != nil {
		return err
	}
	if err := clipboard.Write(text); err != nil {
		return err
	}
	return k.pasteChord()
}

func (k *Keyboard) RestoreFocus() error {
	return nil
}

func (k *Keyboard) Close() {}
