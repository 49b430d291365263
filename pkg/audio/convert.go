package audio

import (
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
)

// Converter converts PCM from one [Format] to another. Down-mixing happens
// before resampling so that only one channel is interpolated.
// A Converter is not safe for concurrent use.
type Converter struct {
	From Format
	To   Format

	warnOnce sync.Once
}

// Convert returns pcm in the target format. When the formats already match,
// pcm is returned unchanged. Partial trailing frames are dropped.
func (c *Converter) Convert(pcm []byte) []byte {
	if c.From == c.To {
		return pcm
	}
	c.warnOnce.Do(func() {
		slog.Info("audio: converting capture format", "from", c.From.String(), "to", c.To.String())
	})

	out := pcm
	channels := c.From.Channels
	if channels > 1 && c.To.Channels == 1 {
		out = Downmix(out, channels)
		channels = 1
	}
	if channels == 1 && c.From.SampleRate != c.To.SampleRate {
		out = ResampleMono16(out, c.From.SampleRate, c.To.SampleRate)
	}
	return out
}

// Downmix averages interleaved channels into mono. The sum is kept in int32
// and clamped to the int16 range.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frame := channels * BytesPerSample
	frames := len(pcm) / frame
	out := make([]byte, frames*BytesPerSample)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(sampleAt(pcm, i*channels+ch))
		}
		putSample(out, i, clamp16(sum/int32(channels)))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate with linear
// interpolation. Invalid rates or equal rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < BytesPerSample {
		return pcm
	}
	src := len(pcm) / BytesPerSample
	dst := int(int64(src) * int64(dstRate) / int64(srcRate))
	if dst == 0 {
		return nil
	}
	out := make([]byte, dst*BytesPerSample)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dst {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := sampleAt(pcm, idx)
		s1 := s0
		if idx+1 < src {
			s1 = sampleAt(pcm, idx+1)
		}
		putSample(out, i, int16(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}

// ConvertReader wraps r so that reads yield PCM in the target format. Reads
// from r are aligned to whole source frames; a partial frame is carried over
// to the next Read.
type ConvertReader struct {
	r    io.Reader
	conv *Converter
	buf  []byte
	rest []byte
	out  []byte
}

// NewConvertReader returns a reader converting from → to. When the formats
// are equal the returned reader is a thin pass-through.
func NewConvertReader(r io.Reader, from, to Format) *ConvertReader {
	return &ConvertReader{
		r:    r,
		conv: &Converter{From: from, To: to},
		buf:  make([]byte, 4096*from.FrameSize()),
	}
}

// Read implements [io.Reader].
func (cr *ConvertReader) Read(p []byte) (int, error) {
	for len(cr.out) == 0 {
		n, err := cr.r.Read(cr.buf)
		if n > 0 {
			data := append(cr.rest, cr.buf[:n]...)
			whole := len(data) - len(data)%cr.conv.From.FrameSize()
			cr.out = cr.conv.Convert(data[:whole])
			cr.rest = append([]byte(nil), data[whole:]...)
		}
		if err != nil {
			if len(cr.out) > 0 {
				break
			}
			return 0, err
		}
	}
	n := copy(p, cr.out)
	cr.out = cr.out[n:]
	return n, nil
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
}

func putSample(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[i*BytesPerSample:], uint16(s))
}

func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
