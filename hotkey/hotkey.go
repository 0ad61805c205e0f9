// Package hotkey watches for the global dictation shortcut. A Toggle
// event starts a session or, while one is active, stops it; Cancel
// (Escape) only ever stops.
package hotkey

type Hotkey interface {
	Register() error
	Unregister()

	// Toggle fires on the dictation shortcut (Ctrl+Shift+Space).
	Toggle() <-chan struct{}
	// Cancel fires on Escape where the platform lets us observe it
	// without grabbing the key; it may never fire on some platforms.
	Cancel() <-chan struct{}
}
