package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "framerelay"

// Direction labels for frame and byte counters
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Registry holds the relay's collectors on a private prometheus registry so
// several relays in one process (tests) never collide.
type Registry struct {
	reg *prometheus.Registry

	frames *prometheus.CounterVec
	bytes  *prometheus.CounterVec
	errors *prometheus.CounterVec
	state  prometheus.Gauge
}

// NewRegistry creates a Registry with every collector registered
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames received from the source (in) and delivered to the sink (out).",
		}, []string{"direction"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Payload bytes received from the source (in) and delivered to the sink (out).",
		}, []string{"direction"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Terminal errors by pipeline stage.",
		}, []string{"stage"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_state",
			Help:      "Current pipeline state as its numeric value.",
		}),
	}

	r.reg.MustRegister(r.frames, r.bytes, r.errors, r.state)
	return r
}

// ObserveFrame counts one frame of n bytes in the given direction
func (r *Registry) ObserveFrame(direction string, n int) {
	if r == nil {
		return
	}
	r.frames.WithLabelValues(direction).Inc()
	r.bytes.WithLabelValues(direction).Add(float64(n))
}

// ObserveError counts a terminal error raised in stage
func (r *Registry) ObserveError(stage string) {
	if r == nil {
		return
	}
	r.errors.WithLabelValues(stage).Inc()
}

// SetState records the pipeline state
func (r *Registry) SetState(state int) {
	if r == nil {
		return
	}
	r.state.Set(float64(state))
}

// Gatherer exposes the underlying registry for scraping
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
