// Package wav writes and reads canonical 44-byte-header RIFF/WAVE files
// containing 16-bit PCM.
//
// [Writer] streams PCM to disk before the total length is known: [Create]
// writes a header with placeholder length fields and [Writer.Close] patches
// both fields in place once the data length is final.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// HeaderSize is the size of the canonical PCM WAV header.
const HeaderSize = 44

// Byte offsets of the two length fields patched on close.
const (
	riffSizeOffset = 4
	dataSizeOffset = 40
)

// ErrInvalidHeader is returned by [ReadHeader] for data that is not a
// canonical PCM WAV header.
var ErrInvalidHeader = errors.New("wav: invalid header")

// Header describes a canonical PCM WAV header.
type Header struct {
	SampleRate    int
	Channels      int
	BitsPerSample int

	// RIFFSize is the value at offset 4: total file size minus 8.
	RIFFSize uint32

	// DataSize is the value at offset 40: number of PCM bytes that follow.
	DataSize uint32
}

// AppendHeader appends a 44-byte header for dataLen bytes of PCM to dst.
func AppendHeader(dst []byte, sampleRate, channels, bitsPerSample int, dataLen uint32) []byte {
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	dst = append(dst, "RIFF"...)
	dst = binary.LittleEndian.AppendUint32(dst, 36+dataLen)
	dst = append(dst, "WAVE"...)
	dst = append(dst, "fmt "...)
	dst = binary.LittleEndian.AppendUint32(dst, 16)
	dst = binary.LittleEndian.AppendUint16(dst, 1) // PCM
	dst = binary.LittleEndian.AppendUint16(dst, uint16(channels))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(sampleRate))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(byteRate))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(blockAlign))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(bitsPerSample))
	dst = append(dst, "data"...)
	dst = binary.LittleEndian.AppendUint32(dst, dataLen)
	return dst
}

// Encode returns pcm wrapped in a complete WAV container.
func Encode(pcm []byte, sampleRate, channels int) []byte {
	buf := make([]byte, 0, HeaderSize+len(pcm))
	buf = AppendHeader(buf, sampleRate, channels, 16, uint32(len(pcm)))
	return append(buf, pcm...)
}

// ReadHeader parses the first 44 bytes of r.
func ReadHeader(r io.Reader) (Header, error) {
	var b [HeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Header{}, fmt.Errorf("wav: read header: %w", err)
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" ||
		string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		return Header{}, ErrInvalidHeader
	}
	if binary.LittleEndian.Uint16(b[20:22]) != 1 {
		return Header{}, fmt.Errorf("%w: format tag is not PCM", ErrInvalidHeader)
	}
	return Header{
		Channels:      int(binary.LittleEndian.Uint16(b[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(b[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(b[34:36])),
		RIFFSize:      binary.LittleEndian.Uint32(b[riffSizeOffset:]),
		DataSize:      binary.LittleEndian.Uint32(b[dataSizeOffset:]),
	}, nil
}

// Writer streams PCM into a WAV file whose header is finalised on Close.
// It is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	written uint32
	closed  bool
}

// Create creates (or truncates) the file at path and writes a placeholder
// header for the given format.
func Create(path string, sampleRate, channels int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wav: create %q: %w", path, err)
	}
	if _, err := f.Write(AppendHeader(nil, sampleRate, channels, 16, 0)); err != nil {
		f.Close()
		return nil, fmt.Errorf("wav: write header %q: %w", path, err)
	}
	return &Writer{f: f, path: path}, nil
}

// Path returns the file path passed to [Create].
func (w *Writer) Path() string { return w.path }

// Len returns the number of PCM bytes written so far.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int(w.written)
}

// Write appends PCM bytes after the header.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, os.ErrClosed
	}
	n, err := w.f.Write(p)
	w.written += uint32(n)
	return n, err
}

// Close patches the RIFF and data length fields with the true data length and
// closes the file. Calling Close more than once is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], 36+w.written)
	if _, err := w.f.WriteAt(b[:], riffSizeOffset); err != nil {
		errs = append(errs, err)
	}
	binary.LittleEndian.PutUint32(b[:], w.written)
	if _, err := w.f.WriteAt(b[:], dataSizeOffset); err != nil {
		errs = append(errs, err)
	}
	if err := w.f.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("wav: finalize %q: %w", w.path, err)
	}
	return nil
}
