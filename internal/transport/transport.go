package transport

import (
	"context"
	"net"
)

// Kind identifies the transport behind a handle
type Kind int

const (
	// KindDatagram is a udp:// handle, one datagram per frame
	KindDatagram Kind = iota
	// KindReliable is a quic:// handle over the reliable engine
	KindReliable
	// KindMemory is an in-process handle
	KindMemory
)

// String returns the string representation of a Kind
func (k Kind) String() string {
	switch k {
	case KindDatagram:
		return "datagram"
	case KindReliable:
		return "reliable"
	case KindMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// Source yields frames. NextFrame returns io.EOF when the stream ended.
// Exactly one goroutine is expected to call NextFrame.
type Source interface {
	Kind() Kind
	NextFrame(ctx context.Context) ([]byte, error)
	LocalAddr() net.Addr
	Close() error
}

// Sink accepts frames, one send per call, without queueing
type Sink interface {
	Kind() Kind
	SendFrame(ctx context.Context, frame []byte) error
	LocalAddr() net.Addr
	Close() error
}
