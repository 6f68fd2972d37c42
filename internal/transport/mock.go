package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/julienstroheker/framerelay/internal/endpoint"
)

// MockSource is a scripted Source for testing. It returns Frames in order
// and then EndErr, which defaults to io.EOF. With Block set it waits for
// ctx instead of ending.
type MockSource struct {
	Frames [][]byte
	EndErr error
	Block  bool

	mu     sync.Mutex
	next   int
	calls  int
	closed bool
}

// NewMockSource creates a MockSource that yields frames and then io.EOF
func NewMockSource(frames ...[]byte) *MockSource {
	return &MockSource{Frames: frames}
}

// Kind implements Source
func (s *MockSource) Kind() Kind { return KindMemory }

// LocalAddr implements Source
func (s *MockSource) LocalAddr() net.Addr { return memoryAddr("mock-source") }

// NextFrame implements Source
func (s *MockSource) NextFrame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.next < len(s.Frames) {
		frame := s.Frames[s.next]
		s.next++
		s.mu.Unlock()
		return frame, nil
	}
	block, endErr := s.Block, s.EndErr
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if endErr == nil {
		endErr = io.EOF
	}
	return nil, endErr
}

// Calls returns how many times NextFrame was called
func (s *MockSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Closed reports whether Close was called
func (s *MockSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close implements Source
func (s *MockSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// MockSink records every frame it is sent. When FailAfter is positive the
// send numbered FailAfter+1 and later return Err.
type MockSink struct {
	FailAfter int
	Err       error

	mu     sync.Mutex
	frames [][]byte
	calls  int
	closed bool
}

// NewMockSink creates a MockSink that accepts every frame
func NewMockSink() *MockSink {
	return &MockSink{}
}

// Kind implements Sink
func (s *MockSink) Kind() Kind { return KindMemory }

// LocalAddr implements Sink
func (s *MockSink) LocalAddr() net.Addr { return memoryAddr("mock-sink") }

// SendFrame implements Sink
func (s *MockSink) SendFrame(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.closed {
		return ErrClosed
	}
	if s.Err != nil && s.calls > s.FailAfter {
		return s.Err
	}

	buf := make([]byte, len(frame))
	copy(buf, frame)
	s.frames = append(s.frames, buf)
	return nil
}

// GetWrittenFrames returns a copy of the frames accepted so far
func (s *MockSink) GetWrittenFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

// Calls returns how many times SendFrame was called
func (s *MockSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Closed reports whether Close was called
func (s *MockSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close implements Sink
func (s *MockSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// MockBuilder hands out preset handles or errors, optionally after a delay
type MockBuilder struct {
	Source      Source
	Sink        Sink
	SourceErr   error
	SinkErr     error
	SourceDelay time.Duration
	SinkDelay   time.Duration
}

var _ Builder = (*MockBuilder)(nil)

// BuildSource implements Builder
func (b *MockBuilder) BuildSource(ctx context.Context, ep endpoint.Endpoint) (Source, error) {
	if err := wait(ctx, b.SourceDelay); err != nil {
		return nil, err
	}
	if b.SourceErr != nil {
		return nil, b.SourceErr
	}
	return b.Source, nil
}

// BuildSink implements Builder
func (b *MockBuilder) BuildSink(ctx context.Context, ep endpoint.Endpoint) (Sink, error) {
	if err := wait(ctx, b.SinkDelay); err != nil {
		return nil, err
	}
	if b.SinkErr != nil {
		return nil, b.SinkErr
	}
	return b.Sink, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
