package transport

import (
	"context"
	"io"
	"net"
	"sync"
)

// memoryAddr is the net.Addr of in-process handles
type memoryAddr string

func (a memoryAddr) Network() string { return "memory" }
func (a memoryAddr) String() string  { return string(a) }

// MemorySource reads frames written to the paired MemorySink
type MemorySource struct {
	frames <-chan []byte
	done   chan struct{}
	once   sync.Once
}

// MemorySink writes frames to the paired MemorySource. Closing it ends the
// source's stream.
type MemorySink struct {
	frames chan<- []byte
	done   <-chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewMemoryPipe creates a connected in-memory source and sink. buffer is the
// number of frames the pipe holds before SendFrame blocks.
func NewMemoryPipe(buffer int) (*MemorySource, *MemorySink) {
	frames := make(chan []byte, buffer)
	done := make(chan struct{})
	return &MemorySource{frames: frames, done: done}, &MemorySink{frames: frames, done: done}
}

// Kind implements Source
func (s *MemorySource) Kind() Kind { return KindMemory }

// LocalAddr implements Source
func (s *MemorySource) LocalAddr() net.Addr { return memoryAddr("memory-source") }

// NextFrame returns the next frame, or io.EOF once the sink is closed and
// drained
func (s *MemorySource) NextFrame(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	case frame, ok := <-s.frames:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	}
}

// Close stops the source; a blocked sink is released with ErrClosed
func (s *MemorySource) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	return nil
}

// Kind implements Sink
func (s *MemorySink) Kind() Kind { return KindMemory }

// LocalAddr implements Sink
func (s *MemorySink) LocalAddr() net.Addr { return memoryAddr("memory-sink") }

// SendFrame hands a copy of frame to the source
func (s *MemorySink) SendFrame(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	buf := make([]byte, len(frame))
	copy(buf, frame)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	case s.frames <- buf:
		return nil
	}
}

// Close ends the stream seen by the source
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	return nil
}
