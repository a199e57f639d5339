package audio

import (
	"fmt"
	"time"
)

// Format describes the shape of raw PCM samples.
type Format struct {
	SampleRate  int
	Channels    int
	SampleWidth int // bytes per sample
}

// Canonical is the normalized shape handed to downstream audio sinks:
// 16 kHz, mono, signed 16-bit little-endian.
var Canonical = Format{SampleRate: 16000, Channels: 1, SampleWidth: 2}

// Mono16 returns a mono 16-bit format at the given rate.
func Mono16(sampleRate int) Format {
	return Format{SampleRate: sampleRate, Channels: 1, SampleWidth: 2}
}

// FrameSize is the number of bytes holding one sample for every channel.
func (f Format) FrameSize() int {
	return f.Channels * f.SampleWidth
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.SampleWidth*8)
}

// PCM is a buffer of raw little-endian samples. Values are not modified after
// they are produced; conversions return new buffers.
type PCM struct {
	Data        []byte
	SampleRate  int
	Channels    int
	SampleWidth int
}

// Empty returns a zero-length buffer carrying the given format.
func Empty(format Format) PCM {
	return PCM{
		Data:        []byte{},
		SampleRate:  format.SampleRate,
		Channels:    format.Channels,
		SampleWidth: format.SampleWidth,
	}
}

// Silence returns d worth of zeroed samples. The frame count is truncated,
// so 0.1s at 22050 Hz is 2205 frames.
func Silence(format Format, d time.Duration) PCM {
	frames := int(int64(format.SampleRate) * int64(d) / int64(time.Second))
	pcm := Empty(format)
	pcm.Data = make([]byte, frames*format.FrameSize())
	return pcm
}

func (p PCM) Format() Format {
	return Format{SampleRate: p.SampleRate, Channels: p.Channels, SampleWidth: p.SampleWidth}
}

// Len returns the payload size in bytes.
func (p PCM) Len() int { return len(p.Data) }

// IsEmpty reports whether the payload has no samples.
func (p PCM) IsEmpty() bool { return len(p.Data) == 0 }

// Frames returns the number of complete frames in the payload.
func (p PCM) Frames() int {
	size := p.Format().FrameSize()
	if size <= 0 {
		return 0
	}
	return len(p.Data) / size
}

// Duration reports the playback length of the payload.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.Frames()) * time.Second / time.Duration(p.SampleRate)
}
