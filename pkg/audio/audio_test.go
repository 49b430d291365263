package audio_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/moodsense/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{"empty", nil, 0},
		{"silence", make([]byte, 64), 0},
		{"full scale square", samplesToBytes([]int16{-32768, -32768, -32768, -32768}), 1},
		{"half scale", samplesToBytes([]int16{16384, -16384}), 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := audio.RMS(tt.pcm)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestRMS_ThresholdScale(t *testing.T) {
	// An amplitude of 33 sits just above the 0.001 full-scale threshold.
	loud := samplesToBytes([]int16{33, -33, 33, -33})
	if got := audio.RMS(loud); got <= 0.001 {
		t.Errorf("RMS(33) = %f, want > 0.001", got)
	}
	quiet := samplesToBytes([]int16{32, -32, 32, -32})
	if got := audio.RMS(quiet); got > 0.001 {
		t.Errorf("RMS(32) = %f, want <= 0.001", got)
	}
}

func TestFormat_Duration(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	if got := f.Duration(32000); got != time.Second {
		t.Errorf("Duration(32000) = %v, want 1s", got)
	}
	stereo := audio.Format{SampleRate: 48000, Channels: 2}
	if got := stereo.Duration(192000); got != time.Second {
		t.Errorf("stereo Duration(192000) = %v, want 1s", got)
	}
}

func TestDownmix(t *testing.T) {
	stereo := samplesToBytes([]int16{100, 200, -100, -200, 32767, 32767})
	got := bytesToSamples(audio.Downmix(stereo, 2))
	want := []int16{150, -150, 32767}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16(t *testing.T) {
	pcm := samplesToBytes([]int16{0, 100, 200, 300, 400, 500})
	if got := audio.ResampleMono16(pcm, 16000, 16000); !bytes.Equal(got, pcm) {
		t.Error("same rate should return input unchanged")
	}
	down := bytesToSamples(audio.ResampleMono16(pcm, 48000, 16000))
	if len(down) != 2 {
		t.Fatalf("downsampled len = %d, want 2", len(down))
	}
	if down[0] != 0 || down[1] != 300 {
		t.Errorf("downsampled = %v, want [0 300]", down)
	}
	if got := audio.ResampleMono16(pcm, 0, 16000); !bytes.Equal(got, pcm) {
		t.Error("zero source rate should return input unchanged")
	}
}

func TestConvertReader_StereoToMono(t *testing.T) {
	from := audio.Format{SampleRate: 16000, Channels: 2}
	to := audio.Format{SampleRate: 16000, Channels: 1}
	src := samplesToBytes([]int16{10, 30, 50, 70, 90, 110})

	got, err := io.ReadAll(audio.NewConvertReader(bytes.NewReader(src), from, to))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := []int16{20, 60, 100}
	samples := bytesToSamples(got)
	if len(samples) != len(want) {
		t.Fatalf("len = %d, want %d", len(samples), len(want))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, samples[i], want[i])
		}
	}
}

func TestConvertReader_PassThrough(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	src := samplesToBytes([]int16{1, 2, 3, 4, 5})
	got, err := io.ReadAll(audio.NewConvertReader(bytes.NewReader(src), f, f))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Errorf("pass-through altered data: %v", got)
	}
}

func TestOpenSource_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.pcm")
	if err := os.WriteFile(path, []byte{1, 2, 3, 4}, 0o644); err != nil {
		t.Fatal(err)
	}
	rc, err := audio.OpenSource(context.Background(), "file:"+path)
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if len(data) != 4 {
		t.Errorf("read %d bytes, want 4", len(data))
	}
}

func TestOpenSource_Unsupported(t *testing.T) {
	if _, err := audio.OpenSource(context.Background(), "alsa:hw0"); err == nil {
		t.Error("expected error for unsupported source")
	}
}

func TestOpenSource_TCPCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := audio.OpenSource(ctx, "tcp:127.0.0.1:0"); err == nil {
		t.Error("expected error when context is already cancelled")
	}
}
