package engine

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/julienstroheker/framerelay/internal/endpoint"
	"github.com/julienstroheker/framerelay/internal/logging"
)

// ALPN is the application protocol negotiated by both peers
const ALPN = "framerelay"

const (
	defaultMaxFrameSize = 16 << 20
	defaultLinger       = 5 * time.Second

	// unboundedHandshake stands in for a zero HandshakeTimeout, which quic-go
	// would otherwise replace with its own 5s default
	unboundedHandshake = 365 * 24 * time.Hour
)

var (
	// ErrAlreadySplit is returned when a Connection is split a second time
	ErrAlreadySplit = errors.New("connection already split")
	// ErrFrameTooLarge is returned for frames above the configured limit
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// Options contains configuration for the Engine
type Options struct {
	// HandshakeTimeout bounds BuildEndpoint as a whole. Zero means no
	// bound: a listener waits for its peer and a dialer keeps retrying the
	// handshake until the caller's context ends.
	HandshakeTimeout time.Duration

	// MaxFrameSize is the largest frame sent or accepted
	MaxFrameSize int

	// Linger is how long a Sender waits on Close for the peer to hang up.
	// Defaults to 5s.
	Linger time.Duration

	// KeepAlive is the keep-alive period of established connections
	KeepAlive time.Duration

	// Logger is optional
	Logger *logging.Logger
}

// Engine builds reliable connections on top of QUIC. A listening engine
// presents an ephemeral self-signed certificate; peers are not
// authenticated.
type Engine struct {
	serverTLS *tls.Config
	clientTLS *tls.Config
	quicConf  *quic.Config
	opts      Options
	logger    *logging.Logger
}

// New creates a new Engine
func New(opts Options) (*Engine, error) {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = defaultMaxFrameSize
	}
	if opts.Linger <= 0 {
		opts.Linger = defaultLinger
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	handshakeIdle := opts.HandshakeTimeout
	if handshakeIdle <= 0 {
		handshakeIdle = unboundedHandshake
	}

	cert, err := selfSignedCert()
	if err != nil {
		return nil, errors.Wrap(err, "generate certificate")
	}

	return &Engine{
		serverTLS: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{ALPN},
			MinVersion:   tls.VersionTLS13,
		},
		clientTLS: &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{ALPN},
			MinVersion:         tls.VersionTLS13,
		},
		quicConf: &quic.Config{
			HandshakeIdleTimeout:  handshakeIdle,
			KeepAlivePeriod:       opts.KeepAlive,
			MaxIncomingStreams:    -1,
			MaxIncomingUniStreams: 1,
		},
		opts:   opts,
		logger: opts.Logger,
	}, nil
}

// BuildEndpoint binds spec.Local and establishes one connection according
// to spec.Mode. The bind happens before any waiting, so a bind failure is
// returned immediately. The call returns once the handshake completed.
func (e *Engine) BuildEndpoint(ctx context.Context, spec endpoint.Spec) (*Connection, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	udpConn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(spec.Local))
	if err != nil {
		return nil, errors.Wrapf(err, "bind %s", spec.Local)
	}
	tr := &quic.Transport{Conn: udpConn}

	if e.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.HandshakeTimeout)
		defer cancel()
	}

	log := e.logger.With(logging.Stringer("mode", spec.Mode), logging.Stringer("local", udpConn.LocalAddr()))

	var qc quic.Connection
	switch spec.Mode {
	case endpoint.ModeListen:
		log.Debug("Waiting for peer handshake")
		qc, err = e.accept(ctx, tr)
	case endpoint.ModeConnect:
		log.Debug("Starting handshake", logging.Stringer("remote", spec.Remote))
		qc, err = tr.Dial(ctx, net.UDPAddrFromAddrPort(spec.Remote), e.clientTLS, e.quicConf)
		err = errors.Wrapf(err, "handshake with %s", spec.Remote)
	default:
		err = errors.Errorf("unknown mode %d", spec.Mode)
	}
	if err != nil {
		_ = tr.Close()
		_ = udpConn.Close()
		return nil, err
	}

	log.Info("Handshake complete", logging.Stringer("peer", qc.RemoteAddr()))

	return &Connection{
		qc:       qc,
		tr:       tr,
		udp:      udpConn,
		maxFrame: e.opts.MaxFrameSize,
		linger:   e.opts.Linger,
		logger:   log,
	}, nil
}

// accept waits for exactly one peer and then stops listening
func (e *Engine) accept(ctx context.Context, tr *quic.Transport) (quic.Connection, error) {
	ln, err := tr.Listen(e.serverTLS, e.quicConf)
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}
	defer func() {
		_ = ln.Close()
	}()

	qc, err := ln.Accept(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "accept handshake")
	}
	return qc, nil
}
