//go:build !linux

package hotkey

import (
	"golang.design/x/hotkey"
)

// xHotkey registers Ctrl+Shift+Space through the OS hotkey facility.
// Escape cannot be observed without grabbing it from the focused app,
// so Cancel never fires here; the toggle shortcut stops sessions too.
type xHotkey struct {
	hk     *hotkey.Hotkey
	toggle chan struct{}
	cancel chan struct{}
}

func New() Hotkey {
	return &xHotkey{
		hk:     hotkey.New([]hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift}, hotkey.KeySpace),
		toggle: make(chan struct{}, 1),
		cancel: make(chan struct{}, 1),
	}
}

func (h *xHotkey) Register() error {
	if err := h.hk.Register(); err != nil {
		return err
	}
	go func() {
		for {
			<-h.hk.Keydown()
			select {
			case h.toggle <- struct{}{}:
			default:
			}
		}
	}()
	return nil
}

func (h *xHotkey) Unregister() {
	h.hk.Unregister()
}

func (h *xHotkey) Toggle() <-chan struct{} {
	return h.toggle
}

func (h *xHotkey) Cancel() <-chan struct{} {
	return h.cancel
}

func Diagnose() (string, error) {
	return "hotkey support available (Ctrl+Shift+Space)", nil
}
