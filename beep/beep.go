// Package beep plays short audio cues marking session transitions:
// listening started, transcript delivered, session failed.
package beep

var disabled bool

// Disable turns all cues off, for headless runs and tests.
func Disable() { disabled = true }

const (
	sampleRate = 44100

	// Listening cue: high and short.
	listenFreq   = 1100
	listenVolume = 0.5
	listenDecay  = 55

	// Done cue: lower, slightly longer.
	doneFreq   = 820
	doneVolume = 0.5
	doneDecay  = 35

	// Error cue: low double pulse.
	errorFreq   = 340
	errorVolume = 0.6
	errorDecay  = 30
)
