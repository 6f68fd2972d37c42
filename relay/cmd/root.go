package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/julienstroheker/framerelay/internal/config"
	"github.com/julienstroheker/framerelay/internal/endpoint"
	"github.com/julienstroheker/framerelay/internal/engine"
	"github.com/julienstroheker/framerelay/internal/logging"
	"github.com/julienstroheker/framerelay/internal/metrics"
	"github.com/julienstroheker/framerelay/internal/pipeline"
	"github.com/julienstroheker/framerelay/internal/transport"
)

// Exit codes
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitUsage  = 2
)

// Version is set at build time with -ldflags "-X .../relay/cmd.Version=..."
var Version = "dev"

const longText = `framerelay - one-shot frame relay between two endpoints

FROM and TO are URLs of the form scheme://[host][:port]:

  udp://:PORT        receive datagrams on PORT (FROM only)
  udp://HOST:PORT    send datagrams to HOST:PORT (TO only)
  quic://:PORT       wait for one peer on PORT
  quic://HOST:PORT   connect to the peer at HOST:PORT

HOST must be a literal IP address. Each datagram is one frame. The relay
ends when the source ends its stream or either side fails.`

// options holds the flag values of one command instance
type options struct {
	verbose          int
	json             bool
	logFile          string
	configPath       string
	handshakeTimeout time.Duration
	metricsAddr      string
}

// usageError marks failures in how the command was invoked
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// NewRootCommand creates the framerelay command
func NewRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:     "framerelay [flags] FROM TO",
		Short:   "Relay frames from one endpoint to another",
		Long:    longText,
		Version: Version,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(2)(cmd, args); err != nil {
				return &usageError{err: err}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args[0], args[1])
		},
	}

	// Disable default completion and help commands
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	flags := cmd.Flags()
	flags.CountVarP(&opts.verbose, "verbose", "v", "Increase log verbosity (-v error, -vv warn, -vvv info, -vvvv debug, -vvvvv trace)")
	flags.BoolVar(&opts.json, "json", false, "Output logs in JSON format")
	flags.StringVar(&opts.logFile, "log-file", "", "Also write logs to this file, rotated by size")
	flags.StringVar(&opts.configPath, "config", "", "Path to a YAML configuration file")
	flags.DurationVar(&opts.handshakeTimeout, "handshake-timeout", 0, "Bound on establishing a quic endpoint (0 waits indefinitely)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while relaying")

	return cmd
}

func run(cmd *cobra.Command, opts *options, from, to string) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return &usageError{err: err}
	}

	logger := newLogger(cfg, opts.verbose, cmd.ErrOrStderr()).
		With(logging.String("run_id", uuid.NewString()))
	defer func() {
		_ = logger.Sync()
	}()

	eng, err := engine.New(engine.Options{
		HandshakeTimeout: cfg.Reliable.HandshakeTimeout,
		MaxFrameSize:     cfg.Reliable.MaxFrameSize,
		Linger:           cfg.Reliable.Linger,
		KeepAlive:        cfg.Reliable.KeepAlive,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("create quic engine: %w", err)
	}

	reg := metrics.NewRegistry()
	p, err := pipeline.New(&pipeline.Options{
		From: from,
		To:   to,
		Builder: transport.NewFactory(&transport.FactoryOptions{
			Engine:             eng,
			DatagramReadBuffer: cfg.Datagram.ReadBuffer,
			Logger:             logger,
		}),
		Logger:  logger,
		Metrics: reg,
	})
	if err != nil {
		logger.Error("Invalid endpoint", logging.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		server := metrics.NewServer(&metrics.ServerOptions{Addr: cfg.Metrics.Addr, Registry: reg, Logger: logger})
		if err := server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("Relay starting",
		logging.String("from", from),
		logging.String("to", to),
		logging.String("version", Version),
	)

	_, err = p.Run(ctx)
	if err != nil && ctx.Err() != nil && cmd.Context().Err() == nil {
		logger.Warn("Interrupted")
	}
	return err
}

// loadConfig layers explicitly set flags over the file and environment
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if opts.json {
		cfg.Log.Format = logging.FormatJSON.String()
	}
	if flags.Changed("log-file") {
		cfg.Log.File = opts.logFile
	}
	if flags.Changed("handshake-timeout") {
		cfg.Reliable.HandshakeTimeout = opts.handshakeTimeout
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, verbose int, out io.Writer) *logging.Logger {
	return logging.NewWithOptions(logging.Options{
		Level:  logging.FromVerbosity(verbose),
		Format: logging.ParseFormat(cfg.Log.Format),
		Output: out,
		File: logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		},
	})
}

// ExitCode maps the error returned by the command to a process exit status
func ExitCode(err error) int {
	var ue *usageError
	switch {
	case err == nil:
		return ExitOK
	case endpoint.IsConfigError(err), errors.As(err, &ue):
		return ExitUsage
	default:
		return ExitFailed
	}
}

// Execute runs the root command and exits the process
func Execute() {
	err := NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "framerelay: %v\n", err)
	}
	os.Exit(ExitCode(err))
}
