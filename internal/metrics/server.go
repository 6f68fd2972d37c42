package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/julienstroheker/framerelay/internal/logging"
)

// Server exposes /metrics and /healthz over HTTP
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   *logging.Logger
}

// ServerOptions configures the metrics server
type ServerOptions struct {
	// Addr is the listen address, e.g. ":9090" or "127.0.0.1:0"
	Addr     string
	Registry *Registry
	Logger   *logging.Logger
}

// NewServer creates a metrics server. Nothing is bound until Start.
func NewServer(opts *ServerOptions) *Server {
	if opts == nil {
		opts = &ServerOptions{}
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(opts.Registry.Gatherer(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", healthHandler)

	return &Server{
		server: &http.Server{
			Addr:              opts.Addr,
			Handler:           logRequests(logger, mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", logging.Error(err))
		}
	}()

	s.logger.Info("Metrics server listening", logging.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Close immediately closes the server
func (s *Server) Close() error {
	return s.server.Close()
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		logging.FromContext(r.Context()).Warn("Health check with unsupported method",
			logging.String("method", r.Method),
		)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusWriter captures the status code written by a handler
type statusWriter struct {
	http.ResponseWriter

	statusCode int
	written    bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func logRequests(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sw, r.WithContext(logging.WithContext(r.Context(), logger)))

		logger.Debug("Scrape served",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", sw.statusCode),
			logging.Duration("duration", time.Since(start)),
		)
	})
}
