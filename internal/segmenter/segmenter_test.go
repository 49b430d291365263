package segmenter_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/moodsense/internal/segmenter"
	"github.com/MrWong99/moodsense/pkg/audio/wav"
	"github.com/MrWong99/moodsense/pkg/classifier/mock"
	"github.com/MrWong99/moodsense/pkg/emotion"
)

const (
	testRate   = 1000
	testWindow = 100
)

// tone returns d of constant-amplitude PCM at testRate.
func tone(d time.Duration, amp int16) []byte {
	n := int(d.Seconds() * testRate)
	b := make([]byte, n*2)
	for i := range n {
		s := amp
		if i%2 == 1 {
			s = -amp
		}
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func loud(d time.Duration) []byte  { return tone(d, 8000) }
func quiet(d time.Duration) []byte { return tone(d, 0) }

type chunkRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (c *chunkRecorder) handle(_ context.Context, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, path)
}

func (c *chunkRecorder) sorted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]string(nil), c.paths...)
	sort.Strings(out)
	return out
}

func newSegmenter(t *testing.T, h segmenter.ChunkHandler) (*segmenter.Segmenter, string) {
	t.Helper()
	dir := t.TempDir()
	var mu sync.Mutex
	id := 0
	s, err := segmenter.New(segmenter.Config{
		Dir:           dir,
		SampleRate:    testRate,
		WindowSamples: testWindow,
	}, h,
		segmenter.WithClock(func() time.Time { return time.Date(2024, 6, 2, 21, 15, 3, 0, time.UTC) }),
		segmenter.WithIDFunc(func() string {
			mu.Lock()
			defer mu.Unlock()
			id++
			return fmt.Sprintf("%04d", id)
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, dir
}

func write(t *testing.T, s *segmenter.Segmenter, chunks ...[]byte) {
	t.Helper()
	for _, c := range chunks {
		if _, err := s.Write(c); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
}

func wait(t *testing.T, s *segmenter.Segmenter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func header(t *testing.T, path string) wav.Header {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	h, err := wav.ReadHeader(f)
	if err != nil {
		t.Fatalf("ReadHeader(%s): %v", path, err)
	}
	st, _ := f.Stat()
	if int64(h.DataSize)+wav.HeaderSize != st.Size() {
		t.Errorf("%s: data size %d does not match file size %d", path, h.DataSize, st.Size())
	}
	return h
}

func archives(t *testing.T, dir string) []string {
	t.Helper()
	m, err := filepath.Glob(filepath.Join(dir, "Playback_*.wav"))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestSegmenter_LongSessionChunks(t *testing.T) {
	rec := &chunkRecorder{}
	s, dir := newSegmenter(t, rec.handle)

	write(t, s, loud(125*time.Second))
	if s.State() != segmenter.Capturing {
		t.Fatalf("state = %v, want capturing", s.State())
	}
	write(t, s, quiet(5*time.Second))
	if s.State() != segmenter.Idle {
		t.Fatalf("state = %v after 5s of silence, want idle", s.State())
	}
	wait(t, s)

	chunks := rec.sorted()
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3: %v", len(chunks), chunks)
	}
	var sizes []uint32
	for _, c := range chunks {
		if !strings.HasPrefix(filepath.Base(c), "Chunk_20240602_211503_") {
			t.Errorf("chunk name = %q", filepath.Base(c))
		}
		sizes = append(sizes, header(t, c).DataSize)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] > sizes[j] })
	want := []uint32{60 * testRate * 2, 60 * testRate * 2, 5 * testRate * 2}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("chunk sizes = %v, want %v", sizes, want)
			break
		}
	}

	arch := archives(t, dir)
	if len(arch) != 1 {
		t.Fatalf("got %d archives, want 1", len(arch))
	}
	h := header(t, arch[0])
	if h.DataSize != 125*testRate*2 {
		t.Errorf("archive data = %d bytes, want %d", h.DataSize, 125*testRate*2)
	}
	if h.SampleRate != testRate || h.Channels != 1 || h.BitsPerSample != 16 {
		t.Errorf("archive header = %+v", h)
	}
	if h.RIFFSize != 36+h.DataSize {
		t.Errorf("RIFF size = %d, want %d", h.RIFFSize, 36+h.DataSize)
	}
}

func TestSegmenter_ShortPauseKeepsSession(t *testing.T) {
	rec := &chunkRecorder{}
	s, dir := newSegmenter(t, rec.handle)

	write(t, s, loud(2*time.Second), quiet(3*time.Second))
	if s.State() != segmenter.Draining {
		t.Fatalf("state = %v during pause, want draining", s.State())
	}
	write(t, s, loud(2*time.Second))
	if s.State() != segmenter.Capturing {
		t.Fatalf("state = %v after sound resumes, want capturing", s.State())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wait(t, s)

	arch := archives(t, dir)
	if len(arch) != 1 {
		t.Fatalf("got %d archives, want one session", len(arch))
	}
	// Silent windows are not recorded.
	if got := header(t, arch[0]).DataSize; got != 4*testRate*2 {
		t.Errorf("archive data = %d, want %d", got, 4*testRate*2)
	}
	if chunks := rec.sorted(); len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
}

func TestSegmenter_SilenceOnlyOpensNothing(t *testing.T) {
	rec := &chunkRecorder{}
	s, dir := newSegmenter(t, rec.handle)
	write(t, s, quiet(20*time.Second))
	_ = s.Close()

	if len(archives(t, dir)) != 0 || len(rec.sorted()) != 0 {
		t.Fatal("silence must not open a session")
	}
}

func TestSegmenter_TwoSessions(t *testing.T) {
	rec := &chunkRecorder{}
	s, dir := newSegmenter(t, rec.handle)
	write(t, s, loud(time.Second), quiet(6*time.Second), loud(time.Second), quiet(6*time.Second))
	wait(t, s)

	if n := len(archives(t, dir)); n != 2 {
		t.Fatalf("got %d archives, want 2", n)
	}
	if n := len(rec.sorted()); n != 2 {
		t.Fatalf("got %d chunks, want 2", n)
	}
}

func TestSegmenter_PartialWindowsAreBuffered(t *testing.T) {
	rec := &chunkRecorder{}
	s, dir := newSegmenter(t, rec.handle)

	data := loud(3 * time.Second)
	for len(data) > 0 {
		n := min(37, len(data))
		write(t, s, data[:n])
		data = data[n:]
	}
	_ = s.Close()
	wait(t, s)

	arch := archives(t, dir)
	if len(arch) != 1 {
		t.Fatalf("got %d archives, want 1", len(arch))
	}
	if got := header(t, arch[0]).DataSize; got != 3*testRate*2 {
		t.Errorf("archive data = %d, want %d", got, 3*testRate*2)
	}
}

func TestSegmenter_WriteAfterClose(t *testing.T) {
	s, _ := newSegmenter(t, nil)
	_ = s.Close()
	if _, err := s.Write(loud(time.Second)); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("err = %v, want os.ErrClosed", err)
	}
}

func TestSegmenter_RunFinalizesOnEOF(t *testing.T) {
	rec := &chunkRecorder{}
	s, dir := newSegmenter(t, rec.handle)

	r := io.MultiReader(
		strings.NewReader(string(loud(2*time.Second))),
	)
	if err := s.Run(context.Background(), r); err != nil {
		t.Fatalf("Run: %v", err)
	}
	wait(t, s)
	if s.State() != segmenter.Idle {
		t.Fatalf("state = %v after EOF, want idle", s.State())
	}
	if len(archives(t, dir)) != 1 || len(rec.sorted()) != 1 {
		t.Fatal("expected the session to be finalized on EOF")
	}
}

func TestSegmenter_RunStopsOnCancel(t *testing.T) {
	s, _ := newSegmenter(t, nil)
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, pr) }()
	if _, err := pw.Write(loud(time.Second)); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if s.State() != segmenter.Idle {
		t.Fatalf("state = %v, want idle", s.State())
	}
}

func TestClassifyHandler(t *testing.T) {
	c := &mock.Classifier{AudioLabel: emotion.Sad}
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	var mu sync.Mutex
	var got []emotion.Observation
	h := segmenter.ClassifyHandler(c, func(_ context.Context, o emotion.Observation) {
		mu.Lock()
		got = append(got, o)
		mu.Unlock()
	}, nil, segmenter.HandlerClock(func() time.Time { return at }))

	h(context.Background(), "/tmp/Chunk_x.wav")
	if len(got) != 1 || got[0].Source != emotion.SourceAudio || got[0].Label != emotion.Sad {
		t.Fatalf("observations = %+v", got)
	}
	if !got[0].Timestamp.Equal(at) {
		t.Fatalf("Timestamp = %v, want %v", got[0].Timestamp, at)
	}

	c.AudioErr = errors.New("server down")
	h(context.Background(), "/tmp/Chunk_y.wav")
	if len(got) != 1 {
		t.Fatal("failed classification must not emit an observation")
	}
	if c.AudioCallCount() != 2 {
		t.Fatalf("classifier called %d times, want 2", c.AudioCallCount())
	}
}
