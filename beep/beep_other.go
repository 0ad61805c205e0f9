//go:build !linux

package beep

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	malgoCtx      *malgo.AllocatedContext
	device        *malgo.Device
	listenSamples []byte
	doneSamples   []byte
	errorSamples  []byte
	soundOnce     sync.Once

	current atomic.Pointer[[]byte]
	playPos atomic.Uint32
	playMu  sync.Mutex
)

func initDevice() error {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	var err error
	device, err = malgo.InitDevice(malgoCtx.Context, config, malgo.DeviceCallbacks{Data: dataCallback})
	return err
}

func initSound() {
	var err error
	malgoCtx, err = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return
	}

	listenSamples = toneBytes(listenFreq, 0.04, listenVolume, listenDecay)
	doneSamples = toneBytes(doneFreq, 0.06, doneVolume, doneDecay)
	errorSamples = doublePulseBytes(errorFreq, 0.08, 0.05, errorVolume, errorDecay)

	if err := initDevice(); err != nil {
		malgoCtx.Uninit()
		malgoCtx = nil
	}
}

func dataCallback(pOutput, _ []byte, frameCount uint32) {
	samples := current.Load()
	if samples == nil || len(*samples) == 0 {
		for i := range pOutput {
			pOutput[i] = 0
		}
		return
	}

	pos := playPos.Load()
	total := uint32(len(*samples))
	want := frameCount * 2
	remaining := total - pos

	if remaining == 0 {
		current.Store(nil)
		for i := range pOutput {
			pOutput[i] = 0
		}
		return
	}

	if want > remaining {
		want = remaining
	}
	copy(pOutput[:want], (*samples)[pos:pos+want])
	playPos.Store(pos + want)
	for i := want; i < frameCount*2; i++ {
		pOutput[i] = 0
	}
}

func toneBytes(freq, duration, volume, decay float64) []byte {
	n := int(sampleRate * duration)
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / sampleRate
		envelope := math.Exp(-t * decay)
		sample := int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
		buf[i*2] = byte(sample)
		buf[i*2+1] = byte(sample >> 8)
	}
	return buf
}

func doublePulseBytes(freq, pulseDur, gapDur, volume, decay float64) []byte {
	pulse := toneBytes(freq, pulseDur, volume, decay)
	gap := make([]byte, int(sampleRate*gapDur)*2)
	out := make([]byte, 0, len(pulse)*2+len(gap))
	out = append(out, pulse...)
	out = append(out, gap...)
	out = append(out, pulse...)
	return out
}

func play(samples []byte) {
	if malgoCtx == nil || len(samples) == 0 {
		return
	}

	playMu.Lock()
	defer playMu.Unlock()
	if device == nil {
		return
	}

	device.Stop()
	playPos.Store(0)
	current.Store(&samples)

	if err := device.Start(); err != nil {
		// Recreate the device; handles stale handles after sleep/wake.
		device.Uninit()
		if err := initDevice(); err != nil {
			current.Store(nil)
			return
		}
		if err := device.Start(); err != nil {
			current.Store(nil)
		}
	}
}

func Init() {
	soundOnce.Do(initSound)
}

func PlayListening() {
	if disabled {
		return
	}
	soundOnce.Do(initSound)
	play(listenSamples)
}

func PlayDone() {
	if disabled {
		return
	}
	soundOnce.Do(initSound)
	play(doneSamples)
}

func PlayError() {
	if disabled {
		return
	}
	soundOnce.Do(initSound)
	play(errorSamples)
}
