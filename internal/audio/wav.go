package audio

import (
	"fmt"
	"io"

	"github.com/go-audio/wav"
)

// EncodeWAV writes p as a RIFF/WAVE file.
func EncodeWAV(w io.WriteSeeker, p PCM) error {
	if err := checkFormat(p.Format()); err != nil {
		return fmt.Errorf("wav format %s: %w", p.Format(), err)
	}
	buf := decode(p)
	if p.SampleWidth == 1 {
		// go-audio writes 8-bit samples as-is, so shift back into the unsigned range.
		for i := range buf.Data {
			buf.Data[i] += 128
		}
	}
	enc := wav.NewEncoder(w, p.SampleRate, p.SampleWidth*8, p.Channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
