package audio

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

type pickAction int

const (
	pickNone pickAction = iota
	pickConfirm
	pickCancel
)

// devicePicker holds the cursor state of the interactive source list,
// kept separate from the terminal so key handling is testable.
type devicePicker struct {
	devices []DeviceInfo
	cursor  int
}

// handleKey interprets one raw read: arrows arrive as 3-byte CSI
// sequences, everything else as a single byte.
func (p *devicePicker) handleKey(buf []byte) pickAction {
	switch {
	case len(buf) == 1:
		switch buf[0] {
		case '\r':
			return pickConfirm
		case 3, 'q': // Ctrl+C or q keeps the system default
			return pickCancel
		case 'j':
			p.down()
		case 'k':
			p.up()
		}
	case len(buf) == 3 && buf[0] == 0x1b && buf[1] == '[':
		switch buf[2] {
		case 'A':
			p.up()
		case 'B':
			p.down()
		}
	}
	return pickNone
}

func (p *devicePicker) up() {
	if p.cursor > 0 {
		p.cursor--
	}
}

func (p *devicePicker) down() {
	if p.cursor < len(p.devices)-1 {
		p.cursor++
	}
}

func (p *devicePicker) render(w io.Writer) {
	fmt.Fprint(w, "\r\x1b[J")
	fmt.Fprint(w, "Choose a microphone (arrows or j/k, Enter to pick, q for default):\r\n\r\n")
	for i, d := range p.devices {
		warn := ""
		if IsBluetooth(d.Name) {
			warn = " \x1b[33m[bluetooth: lower quality]\x1b[0m"
		}
		if i == p.cursor {
			fmt.Fprintf(w, "  \x1b[1;36m> %s%s\x1b[0m\r\n", d.Name, warn)
		} else {
			fmt.Fprintf(w, "    %s%s\r\n", d.Name, warn)
		}
	}
}

// height is the number of terminal lines one render occupies.
func (p *devicePicker) height() int {
	return len(p.devices) + 2
}

// SelectDevice runs the picker on the controlling terminal. A single
// device is returned without prompting; cancelling returns nil, nil so
// the caller falls back to the system default source.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no capture devices found")
	}
	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	p := &devicePicker{devices: devices}
	p.render(os.Stdout)

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		switch p.handleKey(buf[:n]) {
		case pickConfirm:
			fmt.Print("\r\n")
			return &p.devices[p.cursor], nil
		case pickCancel:
			fmt.Print("\r\n")
			return nil, nil
		}
		fmt.Printf("\x1b[%dA", p.height())
		p.render(os.Stdout)
	}
}
