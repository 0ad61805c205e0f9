package audio

import (
	"encoding/binary"
	"math"
	"sync"
)

// Smoothing factor for the exponential moving average. High enough that
// the meter tracks speech onsets, low enough that it does not flicker.
const levelSmoothing = 0.35

// LevelMeter turns raw PCM16 callbacks into a smoothed 0..1 energy value
// for the waveform consumer. It runs purely on capture callbacks and has
// no coupling to the transcription pipeline: a dead backend does not stop
// the meter.
type LevelMeter struct {
	mu     sync.Mutex
	level  float64
	peak   float64
	frames uint64
}

func NewLevelMeter() *LevelMeter {
	return &LevelMeter{}
}

// Process folds one capture callback worth of little-endian PCM16 into
// the running level. Never blocks.
func (m *LevelMeter) Process(data []byte) {
	if len(data) < 2 {
		return
	}
	var sumSquares float64
	n := len(data) / 2
	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(data[i:]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}
	rms := math.Sqrt(sumSquares / float64(n))

	m.mu.Lock()
	m.level += levelSmoothing * (rms - m.level)
	if m.level > m.peak {
		m.peak = m.level
	}
	m.frames += uint64(n)
	m.mu.Unlock()
}

// Level returns the current smoothed energy, clamped to 0..1. Safe to
// poll at animation-frame cadence.
func (m *LevelMeter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return math.Min(m.level, 1.0)
}

func (m *LevelMeter) Peak() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return math.Min(m.peak, 1.0)
}

func (m *LevelMeter) Frames() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

func (m *LevelMeter) Reset() {
	m.mu.Lock()
	m.level = 0
	m.peak = 0
	m.frames = 0
	m.mu.Unlock()
}
