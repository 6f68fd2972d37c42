package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/pkg/errors"

	"github.com/julienstroheker/framerelay/internal/endpoint"
	"github.com/julienstroheker/framerelay/internal/engine"
	"github.com/julienstroheker/framerelay/internal/logging"
)

// Builder turns resolved endpoints into handles. Implementations may block
// until the handle is usable, e.g. for a handshake.
type Builder interface {
	BuildSource(ctx context.Context, ep endpoint.Endpoint) (Source, error)
	BuildSink(ctx context.Context, ep endpoint.Endpoint) (Sink, error)
}

// FactoryOptions contains configuration for the Factory
type FactoryOptions struct {
	// Engine serves quic:// endpoints; required only when one is used
	Engine *engine.Engine

	// DatagramReadBuffer sets SO_RCVBUF on datagram sources when positive
	DatagramReadBuffer int

	// Logger is optional
	Logger *logging.Logger
}

// Factory builds datagram and reliable handles
type Factory struct {
	engine     *engine.Engine
	readBuffer int
	logger     *logging.Logger
}

var _ Builder = (*Factory)(nil)

// NewFactory creates a new Factory
func NewFactory(opts *FactoryOptions) *Factory {
	if opts == nil {
		opts = &FactoryOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Factory{
		engine:     opts.Engine,
		readBuffer: opts.DatagramReadBuffer,
		logger:     logger,
	}
}

// BuildSource builds the receiving handle for ep. Datagram sources are bound
// before returning; reliable sources return once the handshake completed.
func (f *Factory) BuildSource(ctx context.Context, ep endpoint.Endpoint) (Source, error) {
	if err := checkEndpoint(ep, endpoint.RoleSource); err != nil {
		return nil, err
	}
	log := f.logger.With(logging.String("endpoint", ep.String()))

	switch ep.Scheme {
	case endpoint.SchemeDatagram:
		src, err := NewDatagramSource(ep.URL, ep.Spec.Local, f.readBuffer, log)
		if err != nil {
			return nil, err
		}
		return src, nil
	case endpoint.SchemeReliable:
		conn, err := f.connect(ctx, ep)
		if err != nil {
			return nil, err
		}
		// the send half is dropped; closing the receiver closes the connection
		recv, _, err := conn.Split()
		if err != nil {
			_ = conn.Close()
			return nil, &Error{Op: "split", Endpoint: ep.URL, Err: err}
		}
		return &ReliableSource{recv: recv, name: ep.URL, logger: log}, nil
	default:
		return nil, unknownScheme(ep)
	}
}

// BuildSink builds the sending handle for ep
func (f *Factory) BuildSink(ctx context.Context, ep endpoint.Endpoint) (Sink, error) {
	if err := checkEndpoint(ep, endpoint.RoleSink); err != nil {
		return nil, err
	}
	log := f.logger.With(logging.String("endpoint", ep.String()))

	switch ep.Scheme {
	case endpoint.SchemeDatagram:
		sink, err := NewDatagramSink(ep.URL, ep.Spec.Local, ep.Spec.Remote, log)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case endpoint.SchemeReliable:
		conn, err := f.connect(ctx, ep)
		if err != nil {
			return nil, err
		}
		_, send, err := conn.Split()
		if err != nil {
			_ = conn.Close()
			return nil, &Error{Op: "split", Endpoint: ep.URL, Err: err}
		}
		return &ReliableSink{send: send, name: ep.URL, logger: log}, nil
	default:
		return nil, unknownScheme(ep)
	}
}

func (f *Factory) connect(ctx context.Context, ep endpoint.Endpoint) (*engine.Connection, error) {
	if f.engine == nil {
		return nil, &Error{Op: "handshake", Endpoint: ep.URL, Err: ErrNoEngine}
	}
	conn, err := f.engine.BuildEndpoint(ctx, ep.Spec)
	if err != nil {
		op := "handshake"
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "listen" {
			op = "bind"
		}
		return nil, &Error{Op: op, Endpoint: ep.URL, Err: err}
	}
	return conn, nil
}

// checkEndpoint rejects scheme and role problems before any socket exists
func checkEndpoint(ep endpoint.Endpoint, role endpoint.Role) error {
	if !ep.Scheme.IsValid() {
		return unknownScheme(ep)
	}
	if ep.Role != role {
		return &endpoint.ConfigError{
			URL:    ep.URL,
			Role:   role,
			Reason: fmt.Sprintf("endpoint was resolved as %s", ep.Role),
		}
	}
	return nil
}

func unknownScheme(ep endpoint.Endpoint) error {
	return &endpoint.ConfigError{
		URL:    ep.URL,
		Role:   ep.Role,
		Reason: fmt.Sprintf("unrecognized scheme %q", ep.Scheme),
	}
}
