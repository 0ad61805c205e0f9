//go:build linux

package beep

import (
	"math"
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

var (
	listenSamples []int16
	doneSamples   []int16
	errorSamples  []int16
	soundOnce     sync.Once
)

func initSound() {
	listenSamples = tone(listenFreq, 0.18, listenVolume, listenDecay)
	doneSamples = tone(doneFreq, 0.2, doneVolume, doneDecay)
	errorSamples = doublePulse(errorFreq, 0.08, 0.05, errorVolume, errorDecay)
}

func tone(freq, duration, volume, decay float64) []int16 {
	n := int(sampleRate * duration)
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		t := float64(i) / sampleRate
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func doublePulse(freq, pulseDur, gapDur, volume, decay float64) []int16 {
	pulse := tone(freq, pulseDur, volume, decay)
	gap := make([]int16, int(sampleRate*gapDur))
	out := make([]int16, 0, len(pulse)*2+len(gap))
	out = append(out, pulse...)
	out = append(out, gap...)
	out = append(out, pulse...)
	return out
}

func play(samples []int16) {
	if len(samples) == 0 {
		return
	}
	c, err := pulse.NewClient()
	if err != nil {
		return
	}
	defer c.Close()

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})
	stream, err := c.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		return
	}
	stream.Start()
	stream.Drain()
	stream.Stop()
	stream.Close()
}

func Init() {
	soundOnce.Do(initSound)
}

func PlayListening() {
	if disabled {
		return
	}
	soundOnce.Do(initSound)
	go play(listenSamples)
}

func PlayDone() {
	if disabled {
		return
	}
	soundOnce.Do(initSound)
	go play(doneSamples)
}

func PlayError() {
	if disabled {
		return
	}
	soundOnce.Do(initSound)
	go play(errorSamples)
}
