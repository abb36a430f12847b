package sandbox

import (
	"bytes"
	"context"
	"sync"
)

// outputLimit enforces one byte ceiling across all streams of a run. The
// first write that pushes the combined total past the ceiling truncates,
// flags the breach and cancels the run context, which kills the child.
type outputLimit struct {
	mu        sync.Mutex
	remaining int
	hit       bool
	kill      context.CancelFunc
}

func newOutputLimit(limit int, kill context.CancelFunc) *outputLimit {
	return &outputLimit{remaining: limit, kill: kill}
}

func (l *outputLimit) exceeded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hit
}

// stream returns a writer that captures under the shared budget.
func (l *outputLimit) stream() *cappedStream {
	return &cappedStream{limit: l}
}

// cappedStream buffers one output stream. Writes never fail; past the
// budget they are silently discarded so the pump can drain the pipe while
// the child dies.
type cappedStream struct {
	limit *outputLimit
	buf   bytes.Buffer
}

func (s *cappedStream) Write(p []byte) (int, error) {
	l := s.limit
	l.mu.Lock()
	keep := len(p)
	if keep > l.remaining {
		keep = l.remaining
		if !l.hit {
			l.hit = true
			l.kill()
		}
	}
	l.remaining -= keep
	l.mu.Unlock()

	if keep > 0 {
		s.buf.Write(p[:keep])
	}
	return len(p), nil
}

func (s *cappedStream) String() string {
	s.limit.mu.Lock()
	defer s.limit.mu.Unlock()
	return s.buf.String()
}
