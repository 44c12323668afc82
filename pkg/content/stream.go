package content

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
)

// Peeker is implemented by the streams Read returns. Peeked bytes are still
// delivered by later reads, and peeking up to the end of a file does not
// count as the stream finishing.
type Peeker interface {
	Peek(n int) ([]byte, error)
}

// readStream wraps an open blob and runs done exactly once, when a Read
// reports end of data or on Close, whichever comes first.
type readStream struct {
	ctx  context.Context
	rc   io.ReadCloser
	br   *bufio.Reader
	done func(n int64, aborted bool)

	n         int64
	once      sync.Once
	closeOnce sync.Once
	closeErr  error
}

var _ Peeker = (*readStream)(nil)

func (s *readStream) Read(p []byte) (int, error) {
	n, err := s.br.Read(p)
	s.n += int64(n)
	if errors.Is(err, io.EOF) {
		s.finish()
	}
	return n, err
}

// Peek returns the next n bytes without consuming them. n is capped at the
// buffer size (4 KiB).
func (s *readStream) Peek(n int) ([]byte, error) {
	if n > s.br.Size() {
		n = s.br.Size()
	}
	return s.br.Peek(n)
}

func (s *readStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.rc.Close()
		s.finish()
	})
	return s.closeErr
}

func (s *readStream) finish() {
	s.once.Do(func() {
		s.done(s.n, s.ctx.Err() != nil)
	})
}
