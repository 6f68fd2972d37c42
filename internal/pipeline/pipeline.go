package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/julienstroheker/framerelay/internal/endpoint"
	"github.com/julienstroheker/framerelay/internal/logging"
	"github.com/julienstroheker/framerelay/internal/metrics"
	"github.com/julienstroheker/framerelay/internal/transport"
)

// ErrAlreadyRun is returned by Run on a pipeline that has already run
var ErrAlreadyRun = errors.New("pipeline has already run")

// Stage labels used for error metrics
const (
	stageResolve = "resolve"
	stageBuild   = "build"
	stageReceive = "receive"
	stageSend    = "send"
)

// Options contains configuration for a Pipeline
type Options struct {
	// From is the source URL
	From string
	// To is the sink URL
	To string

	// Builder turns endpoints into handles. Defaults to a Factory with no
	// reliable engine.
	Builder transport.Builder

	// Logger is optional
	Logger *logging.Logger

	// Metrics is optional
	Metrics *metrics.Registry

	// OnTransition, if set, is called synchronously on every state change
	OnTransition func(from, to State)
}

// Result summarizes a finished run
type Result struct {
	State    State
	Frames   uint64
	Bytes    uint64
	Err      error
	Duration time.Duration
}

// Pipeline relays frames from one source endpoint to one sink endpoint
type Pipeline struct {
	source endpoint.Endpoint
	sink   endpoint.Endpoint

	builder      transport.Builder
	logger       *logging.Logger
	metrics      *metrics.Registry
	onTransition func(from, to State)

	mu    sync.Mutex
	state State
}

// New validates and resolves both URLs. A bad URL is returned as an
// *endpoint.ConfigError before any socket is opened; the source is
// checked before the sink.
func New(opts *Options) (*Pipeline, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	builder := opts.Builder
	if builder == nil {
		builder = transport.NewFactory(&transport.FactoryOptions{Logger: logger})
	}

	p := &Pipeline{
		builder:      builder,
		logger:       logger,
		metrics:      opts.Metrics,
		onTransition: opts.OnTransition,
		state:        StateInit,
	}

	p.transition(StateResolvingEndpoints)

	src, err := endpoint.Resolve(opts.From, endpoint.RoleSource)
	if err != nil {
		p.fail(stageResolve)
		return nil, err
	}
	sink, err := endpoint.Resolve(opts.To, endpoint.RoleSink)
	if err != nil {
		p.fail(stageResolve)
		return nil, err
	}
	p.source, p.sink = src, sink

	logger.Debug("Endpoints resolved",
		logging.Stringer("source", src.Spec),
		logging.Stringer("sink", sink.Spec),
	)
	return p, nil
}

// Source returns the resolved source endpoint
func (p *Pipeline) Source() endpoint.Endpoint {
	return p.source
}

// Sink returns the resolved sink endpoint
func (p *Pipeline) Sink() endpoint.Endpoint {
	return p.sink
}

// State returns the current state
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Run builds both handles and forwards frames until the source ends, a
// handle fails, or ctx is done. Both handles are closed before Run returns.
// The returned error is Result.Err.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	if !p.transition(StateBuildingTransports) {
		return Result{State: p.State(), Err: ErrAlreadyRun}, ErrAlreadyRun
	}

	p.logger.Info("Building transports",
		logging.Stringer("source", p.source),
		logging.Stringer("sink", p.sink),
	)

	src, sink, err := p.build(ctx)
	if err != nil {
		p.fail(stageBuild)
		p.logger.Error("Failed to build transports", logging.Error(err))
		return p.result(start, 0, 0, err), err
	}

	p.transition(StateForwarding)
	p.logger.Info("Forwarding",
		logging.Stringer("source_addr", src.LocalAddr()),
		logging.Stringer("sink_addr", sink.LocalAddr()),
	)

	frames, bytes, stage, err := p.forward(ctx, src, sink)
	p.closeHandles(src, sink)

	if err != nil {
		p.fail(stage)
		p.logger.Error("Relay failed",
			logging.String("stage", stage),
			logging.Uint64("frames", frames),
			logging.Error(err),
		)
		return p.result(start, frames, bytes, err), err
	}

	p.transition(StateSucceeded)
	res := p.result(start, frames, bytes, nil)
	p.logger.Info("Relay finished",
		logging.Uint64("frames", res.Frames),
		logging.Uint64("bytes", res.Bytes),
		logging.Duration("duration", res.Duration),
	)
	return res, nil
}

// build runs both builds concurrently and returns once both succeeded. The
// first failure cancels the other build and closes whatever was built.
func (p *Pipeline) build(ctx context.Context) (transport.Source, transport.Sink, error) {
	var (
		src  transport.Source
		sink transport.Sink
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := p.builder.BuildSource(gctx, p.source)
		if err != nil {
			return err
		}
		src = s
		p.logger.Debug("Source ready", logging.Stringer("local_addr", s.LocalAddr()))
		return nil
	})
	g.Go(func() error {
		s, err := p.builder.BuildSink(gctx, p.sink)
		if err != nil {
			return err
		}
		sink = s
		p.logger.Debug("Sink ready", logging.Stringer("local_addr", s.LocalAddr()))
		return nil
	})

	if err := g.Wait(); err != nil {
		if src != nil {
			_ = src.Close()
		}
		if sink != nil {
			_ = sink.Close()
		}
		return nil, nil, err
	}
	return src, sink, nil
}

// forward moves frames strictly one at a time: frame N+1 is not requested
// before frame N was accepted by the sink.
func (p *Pipeline) forward(ctx context.Context, src transport.Source, sink transport.Sink) (frames, bytes uint64, stage string, err error) {
	for {
		frame, err := src.NextFrame(ctx)
		if err == io.EOF {
			p.logger.Debug("Source reached end of stream")
			return frames, bytes, "", nil
		}
		if err != nil {
			return frames, bytes, stageReceive, err
		}
		p.metrics.ObserveFrame(metrics.DirectionIn, len(frame))
		p.logger.Trace("Frame received", logging.Int("size", len(frame)))

		if err := sink.SendFrame(ctx, frame); err != nil {
			return frames, bytes, stageSend, err
		}
		p.metrics.ObserveFrame(metrics.DirectionOut, len(frame))

		frames++
		bytes += uint64(len(frame))
	}
}

// closeHandles closes the source first so that a reliable sink's linger is
// the last thing the run waits on
func (p *Pipeline) closeHandles(src transport.Source, sink transport.Sink) {
	if err := src.Close(); err != nil {
		p.logger.Debug("Failed to close source", logging.Error(err))
	}
	if err := sink.Close(); err != nil {
		p.logger.Warn("Failed to close sink", logging.Error(err))
	}
}

func (p *Pipeline) fail(stage string) {
	p.metrics.ObserveError(stage)
	p.transition(StateFailed)
}

// transition moves to a later state and reports whether it did
func (p *Pipeline) transition(to State) bool {
	p.mu.Lock()
	from := p.state
	if from.Terminal() || to <= from {
		p.mu.Unlock()
		return false
	}
	p.state = to
	p.mu.Unlock()

	p.metrics.SetState(int(to))
	p.logger.Debug("Pipeline state changed",
		logging.Stringer("from", from),
		logging.Stringer("to", to),
	)
	if p.onTransition != nil {
		p.onTransition(from, to)
	}
	return true
}

func (p *Pipeline) result(start time.Time, frames, bytes uint64, err error) Result {
	return Result{
		State:    p.State(),
		Frames:   frames,
		Bytes:    bytes,
		Err:      err,
		Duration: time.Since(start),
	}
}
