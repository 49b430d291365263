// Package audio holds the PCM primitives used by the capture pipeline: the
// stream [Format], amplitude measurement, format conversion, and the input
// sources that feed the segmenter.
//
// All sample data is signed 16-bit little-endian PCM, interleaved when the
// stream has more than one channel.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// BytesPerSample is the width of one 16-bit PCM sample.
const BytesPerSample = 2

// FullScale is the reference used to normalise 16-bit amplitudes to [0, 1].
const FullScale = 32768.0

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameSize returns the number of bytes that hold one sample for every channel.
func (f Format) FrameSize() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return ch * BytesPerSample
}

// Duration returns the play time of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	frames := n / f.FrameSize()
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// RMS returns the root-mean-square amplitude of pcm normalised by [FullScale],
// so silence is 0 and a full-scale square wave is 1. A trailing odd byte is
// ignored. Empty input yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / FullScale
}
