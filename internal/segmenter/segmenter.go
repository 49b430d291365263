// Package segmenter splits a continuous PCM playback stream into sessions of
// audible sound. Each session is archived to one WAV file and cut into
// fixed-length WAV chunks that are handed off for emotion classification.
//
// Time inside the segmenter is derived from the number of samples consumed,
// never from the wall clock, so a given input always produces the same files.
package segmenter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/moodsense/internal/observe"
	"github.com/MrWong99/moodsense/pkg/audio"
	"github.com/MrWong99/moodsense/pkg/audio/wav"
)

// State is the segmenter's position in the capture cycle.
type State int

const (
	// Idle means no session is open.
	Idle State = iota
	// Capturing means a session is open and the last window was audible.
	Capturing
	// Draining means a session is open but sound has stopped; it ends once
	// the silence timeout passes.
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// ChunkHandler receives the path of every finalized chunk. It runs on its own
// goroutine and must honour ctx.
type ChunkHandler func(ctx context.Context, path string)

// Config controls segmentation. Zero fields take the defaults noted.
type Config struct {
	// Dir receives archive and chunk files. Default: os.TempDir().
	Dir string
	// SampleRate of the mono 16-bit input. Default 16000.
	SampleRate int
	// WindowSamples is the amplitude measurement window. Default 1024.
	WindowSamples int
	// Threshold is the normalised RMS above which a window is audible.
	// Default 0.001.
	Threshold float64
	// SilenceTimeout ends a session after this much silence. Default 5s.
	SilenceTimeout time.Duration
	// ChunkDuration is the maximum chunk length. Default 60s.
	ChunkDuration time.Duration
}

func (c *Config) withDefaults() {
	if c.Dir == "" {
		c.Dir = os.TempDir()
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.WindowSamples <= 0 {
		c.WindowSamples = 1024
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.001
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 5 * time.Second
	}
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = 60 * time.Second
	}
}

// Segmenter is driven by a single reader goroutine ([Segmenter.Run] or direct
// [Segmenter.Write] calls). Close and State may be called from any goroutine.
type Segmenter struct {
	cfg       Config
	handler   ChunkHandler
	metrics   *observe.Metrics
	now       func() time.Time
	newID     func() string
	submitCtx context.Context

	// Derived sample counts.
	silenceSamples int64
	chunkSamples   int64

	mu          sync.Mutex
	state       State
	pos         int64 // samples consumed
	lastLoud    int64 // pos at the end of the last audible window
	archive     *wav.Writer
	chunk       *wav.Writer
	chunkOpened int64
	chunkLen    int64
	pending     []byte
	closed      bool

	inflight sync.WaitGroup
}

// Option is a functional option for [New].
type Option func(*Segmenter)

// WithClock replaces time.Now for file name timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Segmenter) { s.now = now }
}

// WithIDFunc replaces the short random id in file names.
func WithIDFunc(fn func() string) Option {
	return func(s *Segmenter) { s.newID = fn }
}

// WithMetrics records finalized files on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Segmenter) { s.metrics = m }
}

// WithSubmitContext sets the parent context of chunk handlers. Cancellation
// is stripped so chunks finalized during shutdown are still classified.
// Default: context.Background().
func WithSubmitContext(ctx context.Context) Option {
	return func(s *Segmenter) { s.submitCtx = ctx }
}

// New returns an idle Segmenter. handler may be nil.
func New(cfg Config, handler ChunkHandler, opts ...Option) (*Segmenter, error) {
	cfg.withDefaults()
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("segmenter: create dir: %w", err)
	}
	s := &Segmenter{
		cfg:       cfg,
		handler:   handler,
		now:       time.Now,
		newID:     func() string { return uuid.NewString()[:8] },
		submitCtx: context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	s.submitCtx = context.WithoutCancel(s.submitCtx)
	s.silenceSamples = int64(cfg.SilenceTimeout.Seconds() * float64(cfg.SampleRate))
	s.chunkSamples = int64(cfg.ChunkDuration.Seconds() * float64(cfg.SampleRate))
	return s, nil
}

// State returns the current state.
func (s *Segmenter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Format returns the PCM format the segmenter expects.
func (s *Segmenter) Format() audio.Format {
	return audio.Format{SampleRate: s.cfg.SampleRate, Channels: 1}
}

// Write feeds PCM bytes. Input is buffered into windows of WindowSamples;
// a trailing partial window waits for more data.
func (s *Segmenter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, os.ErrClosed
	}

	winBytes := s.cfg.WindowSamples * audio.BytesPerSample
	data := p
	if len(s.pending) > 0 {
		data = append(s.pending, p...)
		s.pending = nil
	}
	for len(data) >= winBytes {
		if err := s.window(data[:winBytes]); err != nil {
			return len(p), err
		}
		data = data[winBytes:]
	}
	if len(data) > 0 {
		s.pending = append([]byte(nil), data...)
	}
	return len(p), nil
}

// window processes one full window. Must be called with s.mu held.
func (s *Segmenter) window(w []byte) error {
	n := int64(len(w) / audio.BytesPerSample)
	end := s.pos + n
	loud := audio.RMS(w) > s.cfg.Threshold

	var err error
	switch {
	case loud && s.state == Idle:
		if err = s.openSession(); err == nil {
			s.state = Capturing
			err = s.appendLoud(w)
		}
	case loud:
		s.state = Capturing
		err = s.appendLoud(w)
	case s.state == Capturing:
		s.state = Draining
	}
	if loud {
		s.lastLoud = end
	}
	s.pos = end

	if s.state == Draining && s.pos-s.lastLoud >= s.silenceSamples {
		err = errors.Join(err, s.endSession())
	}
	return err
}

// appendLoud writes an audible window to the archive and the open chunk,
// rolling the chunk at the configured length. Must be called with s.mu held.
func (s *Segmenter) appendLoud(w []byte) error {
	if _, err := s.archive.Write(w); err != nil {
		return fmt.Errorf("segmenter: write archive: %w", err)
	}
	at := s.pos
	if at-s.chunkOpened >= s.chunkSamples && s.chunkLen > 0 {
		if err := s.rollChunk(at); err != nil {
			return err
		}
	}
	for len(w) > 0 {
		room := int((s.chunkSamples - s.chunkLen) * audio.BytesPerSample)
		part := w
		if len(part) > room {
			part = w[:room]
		}
		if _, err := s.chunk.Write(part); err != nil {
			return fmt.Errorf("segmenter: write chunk: %w", err)
		}
		n := int64(len(part) / audio.BytesPerSample)
		s.chunkLen += n
		at += n
		w = w[len(part):]
		if s.chunkLen >= s.chunkSamples {
			if err := s.rollChunk(at); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Segmenter) fileName(prefix string) string {
	return filepath.Join(s.cfg.Dir,
		fmt.Sprintf("%s_%s_%s.wav", prefix, s.now().Format("20060102_150405"), s.newID()))
}

// openSession must be called with s.mu held.
func (s *Segmenter) openSession() error {
	a, err := wav.Create(s.fileName("Playback"), s.cfg.SampleRate, 1)
	if err != nil {
		return fmt.Errorf("segmenter: open archive: %w", err)
	}
	s.archive = a
	if err := s.openChunk(s.pos); err != nil {
		_ = a.Close()
		s.archive = nil
		return err
	}
	slog.Info("playback session started", "archive", a.Path())
	return nil
}

// openChunk opens a chunk whose first sample sits at stream position at.
// Must be called with s.mu held.
func (s *Segmenter) openChunk(at int64) error {
	c, err := wav.Create(s.fileName("Chunk"), s.cfg.SampleRate, 1)
	if err != nil {
		return fmt.Errorf("segmenter: open chunk: %w", err)
	}
	s.chunk = c
	s.chunkOpened = at
	s.chunkLen = 0
	return nil
}

// rollChunk finalizes the open chunk and opens the next one at stream
// position at. Must be called with s.mu held.
func (s *Segmenter) rollChunk(at int64) error {
	if err := s.finalizeChunk(); err != nil {
		return err
	}
	return s.openChunk(at)
}

// finalizeChunk must be called with s.mu held.
func (s *Segmenter) finalizeChunk() error {
	c := s.chunk
	s.chunk = nil
	if c == nil {
		return nil
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("segmenter: finalize chunk: %w", err)
	}
	if c.Len() == 0 {
		_ = os.Remove(c.Path())
		return nil
	}
	s.record("chunk")
	slog.Debug("chunk finalized", "path", c.Path(), "bytes", c.Len())
	s.submit(c.Path())
	return nil
}

// endSession must be called with s.mu held.
func (s *Segmenter) endSession() error {
	err := s.finalizeChunk()
	if s.archive != nil {
		if cerr := s.archive.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("segmenter: finalize archive: %w", cerr))
		} else {
			s.record("archive")
			slog.Info("playback session ended", "archive", s.archive.Path(),
				"duration", audio.Format{SampleRate: s.cfg.SampleRate, Channels: 1}.Duration(s.archive.Len()))
		}
		s.archive = nil
	}
	s.state = Idle
	return err
}

func (s *Segmenter) record(kind string) {
	if s.metrics != nil {
		s.metrics.RecordAudioFile(s.submitCtx, kind)
	}
}

func (s *Segmenter) submit(path string) {
	if s.handler == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.handler(s.submitCtx, path)
	}()
}

// Run reads PCM from r until EOF, a read error, or ctx cancellation, then
// finalizes any open session. Cancellation is not an error.
func (s *Segmenter) Run(ctx context.Context, r io.Reader) error {
	stop := context.AfterFunc(ctx, func() {
		if c, ok := r.(io.Closer); ok {
			_ = c.Close()
		}
	})
	defer stop()

	buf := make([]byte, s.cfg.WindowSamples*audio.BytesPerSample)
	var runErr error
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := s.Write(buf[:n]); werr != nil {
				slog.Warn("segmenter write failed", "err", werr)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				runErr = fmt.Errorf("segmenter: read: %w", err)
			}
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(runErr, s.Flush())
}

// Flush finalizes an open session without closing the segmenter.
func (s *Segmenter) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	if s.state == Idle {
		return nil
	}
	return s.endSession()
}

// Close finalizes any open session. Further writes fail with os.ErrClosed.
func (s *Segmenter) Close() error {
	err := s.Flush()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}

// Wait blocks until every submitted chunk handler has returned or ctx is done.
func (s *Segmenter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
