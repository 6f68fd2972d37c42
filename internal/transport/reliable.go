package transport

import (
	"context"
	"io"
	"net"

	"github.com/pkg/errors"

	"github.com/julienstroheker/framerelay/internal/engine"
	"github.com/julienstroheker/framerelay/internal/logging"
)

// ReliableSource is the receive half of an engine connection
type ReliableSource struct {
	recv   *engine.Receiver
	name   string
	logger *logging.Logger
}

// Kind implements Source
func (s *ReliableSource) Kind() Kind { return KindReliable }

// LocalAddr implements Source
func (s *ReliableSource) LocalAddr() net.Addr { return s.recv.LocalAddr() }

// NextFrame returns the next frame sent by the peer
func (s *ReliableSource) NextFrame(ctx context.Context) ([]byte, error) {
	frame, err := s.recv.Recv(ctx)
	if err != nil {
		if err == io.EOF || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &Error{Op: "receive", Endpoint: s.name, Err: err}
	}

	s.logger.Trace("Frame received", logging.Int("bytes", len(frame)))
	return frame, nil
}

// Close closes the connection
func (s *ReliableSource) Close() error {
	return s.recv.Close()
}

// ReliableSink is the send half of an engine connection
type ReliableSink struct {
	send   *engine.Sender
	name   string
	logger *logging.Logger
}

// Kind implements Sink
func (s *ReliableSink) Kind() Kind { return KindReliable }

// LocalAddr implements Sink
func (s *ReliableSink) LocalAddr() net.Addr { return s.send.LocalAddr() }

// SendFrame writes one frame to the peer
func (s *ReliableSink) SendFrame(ctx context.Context, frame []byte) error {
	if err := s.send.Send(ctx, frame); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &Error{Op: "send", Endpoint: s.name, Err: err}
	}

	s.logger.Trace("Frame sent", logging.Int("bytes", len(frame)))
	return nil
}

// Close finishes the stream, lingering until the peer drained it
func (s *ReliableSink) Close() error {
	return s.send.Close()
}
