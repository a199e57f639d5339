package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	goaudio "github.com/go-audio/audio"
)

var errUnsupportedWidth = errors.New("unsupported sample width")

// Normalizer converts a buffer into some preferred shape. Implementations may
// fail; callers decide whether the failure matters.
type Normalizer func(PCM) (PCM, error)

// ToCanonical is the Normalizer for the Canonical format.
func ToCanonical(p PCM) (PCM, error) {
	return Normalize(p, Canonical)
}

// Normalize converts p to the target format: channels are averaged down to
// mono, the rate is linearly interpolated and the sample width rescaled.
// 8-bit input and output are unsigned, wider widths are signed little-endian.
func Normalize(p PCM, target Format) (PCM, error) {
	src := p.Format()
	if err := checkFormat(src); err != nil {
		return PCM{}, fmt.Errorf("source format %s: %w", src, err)
	}
	if err := checkFormat(target); err != nil {
		return PCM{}, fmt.Errorf("target format %s: %w", target, err)
	}
	if len(p.Data)%src.FrameSize() != 0 {
		return PCM{}, fmt.Errorf("pcm payload of %d bytes not aligned to %d-byte frames", len(p.Data), src.FrameSize())
	}
	if src == target {
		return p, nil
	}

	buf := decode(p)
	buf = downmix(buf)
	buf = resample(buf, target.SampleRate)
	buf = upmix(buf, target.Channels)

	out := Empty(target)
	out.Data = encode(buf, target.SampleWidth)
	return out, nil
}

func checkFormat(f Format) error {
	if f.SampleRate <= 0 {
		return errors.New("sample rate must be positive")
	}
	if f.Channels <= 0 {
		return errors.New("channel count must be positive")
	}
	if f.SampleWidth < 1 || f.SampleWidth > 4 {
		return errUnsupportedWidth
	}
	return nil
}

func decode(p PCM) *goaudio.IntBuffer {
	width := p.SampleWidth
	samples := make([]int, len(p.Data)/width)
	for i := range samples {
		b := p.Data[i*width : (i+1)*width]
		switch width {
		case 1:
			samples[i] = int(b[0]) - 128
		case 2:
			samples[i] = int(int16(binary.LittleEndian.Uint16(b)))
		case 3:
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			samples[i] = int(v<<8) >> 8
		case 4:
			samples[i] = int(int32(binary.LittleEndian.Uint32(b)))
		}
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: p.Channels, SampleRate: p.SampleRate},
		Data:           samples,
		SourceBitDepth: width * 8,
	}
}

func encode(buf *goaudio.IntBuffer, width int) []byte {
	shift := width*8 - buf.SourceBitDepth
	out := make([]byte, len(buf.Data)*width)
	for i, v := range buf.Data {
		if shift > 0 {
			v <<= shift
		} else if shift < 0 {
			v >>= -shift
		}
		b := out[i*width : (i+1)*width]
		switch width {
		case 1:
			b[0] = byte(clamp(v, math.MinInt8, math.MaxInt8) + 128)
		case 2:
			binary.LittleEndian.PutUint16(b, uint16(int16(clamp(v, math.MinInt16, math.MaxInt16))))
		case 3:
			v = clamp(v, -1<<23, 1<<23-1)
			b[0], b[1], b[2] = byte(v), byte(v>>8), byte(v>>16)
		case 4:
			binary.LittleEndian.PutUint32(b, uint32(int32(clamp(v, math.MinInt32, math.MaxInt32))))
		}
	}
	return out
}

func downmix(buf *goaudio.IntBuffer) *goaudio.IntBuffer {
	channels := buf.Format.NumChannels
	if channels == 1 {
		return buf
	}
	frames := len(buf.Data) / channels
	mono := make([]int, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += buf.Data[i*channels+c]
		}
		mono[i] = sum / channels
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: buf.Format.SampleRate},
		Data:           mono,
		SourceBitDepth: buf.SourceBitDepth,
	}
}

// resample expects a mono buffer.
func resample(buf *goaudio.IntBuffer, rate int) *goaudio.IntBuffer {
	srcRate := buf.Format.SampleRate
	if srcRate == rate || len(buf.Data) == 0 {
		return &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
			Data:           buf.Data,
			SourceBitDepth: buf.SourceBitDepth,
		}
	}
	in := buf.Data
	outLen := int(int64(len(in)) * int64(rate) / int64(srcRate))
	out := make([]int, outLen)
	step := float64(srcRate) / float64(rate)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= len(in) {
			next = len(in) - 1
		}
		out[i] = int(math.Round(float64(in[idx])*(1-frac) + float64(in[next])*frac))
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           out,
		SourceBitDepth: buf.SourceBitDepth,
	}
}

func upmix(buf *goaudio.IntBuffer, channels int) *goaudio.IntBuffer {
	if channels == buf.Format.NumChannels {
		return buf
	}
	out := make([]int, len(buf.Data)*channels)
	for i, v := range buf.Data {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = v
		}
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: buf.Format.SampleRate},
		Data:           out,
		SourceBitDepth: buf.SourceBitDepth,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
