//go:build !windows

// Package shutdown wires OS termination signals to a channel, with the
// right signal set per platform.
package shutdown

import (
	"os"
	"os/signal"
	"syscall"
)

func Notify(ch chan os.Signal) {
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
}
