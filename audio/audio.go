package audio

import "strings"

const WAVHeaderSize = 44

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

const (
	// DefaultGain compensates for typically quiet laptop microphones.
	DefaultGain = 8
	// DefaultSourceBoost raises the source volume at stream creation,
	// on platforms whose capture path supports it.
	DefaultSourceBoost = 3.0
)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
	// Gain multiplies captured samples in software before delivery.
	// Zero or one means no amplification.
	Gain int32
	// SourceBoost scales the OS source volume when the stream is
	// created. Zero means normal volume.
	SourceBoost float64
}

// amplifyPCM converts int16 samples to little-endian PCM bytes,
// scaling by gain with clamping to the int16 range.
func amplifyPCM(buf []int16, gain int32) []byte {
	if gain < 1 {
		gain = 1
	}
	data := make([]byte, len(buf)*2)
	for i, s := range buf {
		amplified := int32(s) * gain
		if amplified > 32767 {
			amplified = 32767
		} else if amplified < -32768 {
			amplified = -32768
		}
		data[i*2] = byte(amplified)
		data[i*2+1] = byte(amplified >> 8)
	}
	return data
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

// CaptureDevice owns the OS microphone handle for one stream. Stop and
// Close are idempotent and safe to call from error paths.
type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}
