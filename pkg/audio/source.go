package audio

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

// OpenSource opens the PCM capture source described by src:
//
//   - "stdin" or "-" reads from standard input.
//   - "file:<path>" reads a raw PCM file.
//   - "tcp:<addr>" listens on addr and reads from the first accepted
//     connection.
//
// The returned reader must be closed by the caller. For tcp sources, Accept
// is abandoned when ctx is cancelled.
func OpenSource(ctx context.Context, src string) (io.ReadCloser, error) {
	switch {
	case src == "" || src == "stdin" || src == "-":
		return io.NopCloser(os.Stdin), nil

	case strings.HasPrefix(src, "file:"):
		f, err := os.Open(strings.TrimPrefix(src, "file:"))
		if err != nil {
			return nil, fmt.Errorf("audio: open source: %w", err)
		}
		return f, nil

	case strings.HasPrefix(src, "tcp:"):
		return acceptOne(ctx, strings.TrimPrefix(src, "tcp:"))

	default:
		return nil, fmt.Errorf("audio: unsupported source %q; use stdin, file:<path> or tcp:<addr>", src)
	}
}

func acceptOne(ctx context.Context, addr string) (io.ReadCloser, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("audio: listen %q: %w", addr, err)
	}
	defer ln.Close()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("audio: accept on %q: %w", addr, err)
	}
	return conn, nil
}
