package engine

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/julienstroheker/framerelay/internal/logging"
)

// Application error codes carried by CONNECTION_CLOSE and STOP_SENDING
const (
	// closeCodeOK ends a connection whose stream was fully delivered, or
	// that never carried one
	closeCodeOK quic.ApplicationErrorCode = 0
	// closeCodeUndelivered ends a connection whose finished stream the peer
	// had not drained when the linger elapsed
	closeCodeUndelivered quic.ApplicationErrorCode = 1
	// streamCodeFrameTooLarge stops a stream carrying an oversized frame
	streamCodeFrameTooLarge quic.StreamErrorCode = 1
)

// Connection is an established reliable connection. It owns its UDP socket
// and must be split exactly once into a receive half and a send half.
type Connection struct {
	qc       quic.Connection
	tr       *quic.Transport
	udp      *net.UDPConn
	maxFrame int
	linger   time.Duration
	logger   *logging.Logger

	split     atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// LocalAddr returns the bound local address
func (c *Connection) LocalAddr() net.Addr {
	return c.udp.LocalAddr()
}

// RemoteAddr returns the peer address
func (c *Connection) RemoteAddr() net.Addr {
	return c.qc.RemoteAddr()
}

// Split hands out the receive half and the send half. Frames flow over one
// unidirectional stream per direction, opened lazily by the sending side.
func (c *Connection) Split() (*Receiver, *Sender, error) {
	if !c.split.CompareAndSwap(false, true) {
		return nil, nil, ErrAlreadySplit
	}
	return &Receiver{conn: c}, &Sender{conn: c}, nil
}

// Close tears down the connection and releases the socket
func (c *Connection) Close() error {
	return c.closeWith(closeCodeOK, "")
}

// closeWith tears down the connection with an application error code. Only
// the first call decides the code the peer sees.
func (c *Connection) closeWith(code quic.ApplicationErrorCode, reason string) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.qc.CloseWithError(code, reason)
		_ = c.tr.Close()
		if err := c.udp.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
		c.logger.Debug("Connection closed")
	})
	return c.closeErr
}

// peerDone is closed once the connection is gone, for whatever reason
func (c *Connection) peerDone() <-chan struct{} {
	return c.qc.Context().Done()
}

// noStream maps the failure to accept the peer's stream. A peer that closed
// in an orderly way without ever opening one sent an empty stream.
func noStream(err error) error {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.Remote && appErr.ErrorCode == closeCodeOK {
		return io.EOF
	}
	return errors.Wrap(err, "accept stream")
}

// Receiver is the receive-only half of a Connection
type Receiver struct {
	conn   *Connection
	stream quic.ReceiveStream
	br     *bufio.Reader
}

// Recv returns the next frame. It returns io.EOF once the peer's stream was
// read up to its end, or when the peer closed in an orderly way without
// opening a stream. A connection lost while the stream is still being read
// is an error, whatever code the peer closed with.
func (r *Receiver) Recv(ctx context.Context) ([]byte, error) {
	if r.stream == nil {
		stream, err := r.conn.qc.AcceptUniStream(ctx)
		if err != nil {
			return nil, noStream(err)
		}
		r.stream = stream
		r.br = bufio.NewReader(stream)
	}

	_ = r.stream.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = r.stream.SetReadDeadline(time.Now())
	})
	defer stop()

	size, err := quicvarint.Read(r.br)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// only the stream's own FIN ends it cleanly
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "read frame header")
	}
	if size > uint64(r.conn.maxFrame) {
		r.stream.CancelRead(streamCodeFrameTooLarge)
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes", size)
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(r.br, frame); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "read frame")
	}
	return frame, nil
}

// LocalAddr returns the bound local address
func (r *Receiver) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// Close closes the whole connection, telling the peer we are done
func (r *Receiver) Close() error {
	return r.conn.Close()
}

// Sender is the send-only half of a Connection
type Sender struct {
	conn   *Connection
	stream quic.SendStream
	header []byte
}

// Send writes one frame. It returns once the frame is handed to the
// connection's send buffer.
func (s *Sender) Send(ctx context.Context, frame []byte) error {
	if len(frame) > s.conn.maxFrame {
		return errors.Wrapf(ErrFrameTooLarge, "%d bytes", len(frame))
	}
	if s.stream == nil {
		stream, err := s.conn.qc.OpenUniStreamSync(ctx)
		if err != nil {
			return errors.Wrap(err, "open stream")
		}
		s.stream = stream
	}

	_ = s.stream.SetWriteDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = s.stream.SetWriteDeadline(time.Now())
	})
	defer stop()

	s.header = quicvarint.Append(s.header[:0], uint64(len(frame)))
	if _, err := s.stream.Write(s.header); err != nil {
		return s.writeError(ctx, err, "write frame header")
	}
	if _, err := s.stream.Write(frame); err != nil {
		return s.writeError(ctx, err, "write frame")
	}
	return nil
}

func (s *Sender) writeError(ctx context.Context, err error, op string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return errors.Wrap(err, op)
}

// LocalAddr returns the bound local address
func (s *Sender) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close finishes the stream and waits up to the linger period for the peer
// to drain it and hang up before closing the connection. If the linger
// elapses first the connection is closed with closeCodeUndelivered, so the
// peer reports an error instead of a clean end of stream.
func (s *Sender) Close() error {
	if s.stream == nil {
		return s.conn.Close()
	}
	_ = s.stream.Close()

	timer := time.NewTimer(s.conn.linger)
	defer timer.Stop()

	select {
	case <-s.conn.peerDone():
		return s.conn.Close()
	case <-timer.C:
		s.conn.logger.Warn("Peer did not close before linger elapsed", logging.Duration("linger", s.conn.linger))
		return s.conn.closeWith(closeCodeUndelivered, "stream not drained before linger elapsed")
	}
}
