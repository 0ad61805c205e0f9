package hotkey

type FakeHotkey struct {
	toggle chan struct{}
	cancel chan struct{}
}

func NewFake() *FakeHotkey {
	return &FakeHotkey{
		toggle: make(chan struct{}, 1),
		cancel: make(chan struct{}, 1),
	}
}

func (f *FakeHotkey) Register() error         { return nil }
func (f *FakeHotkey) Unregister()             {}
func (f *FakeHotkey) Toggle() <-chan struct{} { return f.toggle }
func (f *FakeHotkey) Cancel() <-chan struct{} { return f.cancel }

func (f *FakeHotkey) SimToggle() { f.toggle <- struct{}{} }
func (f *FakeHotkey) SimCancel() { f.cancel <- struct{}{} }
