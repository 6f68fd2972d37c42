package transport

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/julienstroheker/framerelay/internal/logging"
)

// maxDatagramSize covers the largest UDP payload
const maxDatagramSize = 64 * 1024

// DatagramSource yields one frame per received datagram. Sender addresses
// are discarded.
type DatagramSource struct {
	conn      *net.UDPConn
	name      string
	buf       []byte
	logger    *logging.Logger
	closeOnce sync.Once
}

// NewDatagramSource binds local immediately
func NewDatagramSource(name string, local netip.AddrPort, readBuffer int, logger *logging.Logger) (*DatagramSource, error) {
	conn, err := bindUDP(name, local)
	if err != nil {
		return nil, err
	}
	if readBuffer > 0 {
		if err := conn.SetReadBuffer(readBuffer); err != nil {
			logger.Warn("Failed to set receive buffer", logging.Int("bytes", readBuffer), logging.Error(err))
		}
	}

	logger.Debug("Datagram source bound", logging.Stringer("local", conn.LocalAddr()))

	return &DatagramSource{
		conn:   conn,
		name:   name,
		buf:    make([]byte, maxDatagramSize),
		logger: logger,
	}, nil
}

// Kind implements Source
func (s *DatagramSource) Kind() Kind { return KindDatagram }

// LocalAddr implements Source
func (s *DatagramSource) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// NextFrame waits for the next datagram and returns a copy of its payload
func (s *DatagramSource) NextFrame(ctx context.Context) ([]byte, error) {
	// clear a deadline left behind by an earlier cancelled call
	_ = s.conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, from, err := s.conn.ReadFromUDPAddrPort(s.buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Op: "receive", Endpoint: s.name, Err: err}
	}

	s.logger.Trace("Datagram received", logging.Int("bytes", n), logging.Stringer("from", from))

	frame := make([]byte, n)
	copy(frame, s.buf[:n])
	return frame, nil
}

// Close releases the socket
func (s *DatagramSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// DatagramSink sends every frame as one datagram to a remote fixed at
// construction
type DatagramSink struct {
	conn      *net.UDPConn
	name      string
	remote    *net.UDPAddr
	logger    *logging.Logger
	closeOnce sync.Once
}

// NewDatagramSink binds local immediately; frames go to remote
func NewDatagramSink(name string, local, remote netip.AddrPort, logger *logging.Logger) (*DatagramSink, error) {
	if !remote.IsValid() {
		return nil, &Error{Op: "bind", Endpoint: name, Err: errors.New("datagram sink needs a remote address")}
	}
	conn, err := bindUDP(name, local)
	if err != nil {
		return nil, err
	}

	logger.Debug("Datagram sink bound",
		logging.Stringer("local", conn.LocalAddr()),
		logging.Stringer("remote", remote),
	)

	return &DatagramSink{
		conn:   conn,
		name:   name,
		remote: net.UDPAddrFromAddrPort(remote),
		logger: logger,
	}, nil
}

// Kind implements Sink
func (s *DatagramSink) Kind() Kind { return KindDatagram }

// LocalAddr implements Sink
func (s *DatagramSink) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// SendFrame sends frame as a single datagram
func (s *DatagramSink) SendFrame(ctx context.Context, frame []byte) error {
	_ = s.conn.SetWriteDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if _, err := s.conn.WriteToUDP(frame, s.remote); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &Error{Op: "send", Endpoint: s.name, Err: err}
	}

	s.logger.Trace("Datagram sent", logging.Int("bytes", len(frame)))
	return nil
}

// Close releases the socket
func (s *DatagramSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

func bindUDP(name string, local netip.AddrPort) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(local))
	if err != nil {
		return nil, &Error{Op: "bind", Endpoint: name, Err: errors.Wrapf(err, "bind %s", local)}
	}
	return conn, nil
}
