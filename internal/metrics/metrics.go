// Package metrics exposes Prometheus counters for the plugin surface: method
// calls, stream deliveries and drops, decode failures and active regions.
//
// Every recording method is safe on a nil *Collector, so components take an
// optional collector without guarding each call.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Call results used as the "result" label.
const (
	ResultSuccess        = "success"
	ResultFailure        = "failure"
	ResultNotImplemented = "not_implemented"
)

// Drop reasons used as the "reason" label.
const (
	DropNoListener = "no_listener"
	DropStopped    = "loop_stopped"
	DropOverflow   = "overflow"
	DropClosed     = "session_closed"
)

// Collector bundles the plugin metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	MethodCalls     *prometheus.CounterVec
	MethodDurations *prometheus.HistogramVec
	StreamEvents    *prometheus.CounterVec
	DroppedEvents   *prometheus.CounterVec
	DecodeFailures  *prometheus.CounterVec
	ActiveRegions   *prometheus.GaugeVec
}

// NewCollector registers the plugin metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	calls, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beaconscan_method_calls_total",
		Help: "Total number of handled method calls, labeled by method and result.",
	}, []string{"method", "result"}), "beaconscan_method_calls_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "beaconscan_method_duration_seconds",
		Help:    "Method call latency in seconds, including the wait for the main loop.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method"}), "beaconscan_method_duration_seconds")
	if err != nil {
		return nil, err
	}

	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beaconscan_stream_events_total",
		Help: "Total number of events delivered to host streams.",
	}, []string{"stream"}), "beaconscan_stream_events_total")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beaconscan_stream_events_dropped_total",
		Help: "Total number of stream events dropped, labeled by stream and reason.",
	}, []string{"stream", "reason"}), "beaconscan_stream_events_dropped_total")
	if err != nil {
		return nil, err
	}

	decode, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beaconscan_decode_failures_total",
		Help: "Total number of host records rejected by the codec.",
	}, []string{"kind"}), "beaconscan_decode_failures_total")
	if err != nil {
		return nil, err
	}

	regions, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "beaconscan_active_regions",
		Help: "Current number of regions held by each relay.",
	}, []string{"mode"}), "beaconscan_active_regions")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:        gatherer,
		MethodCalls:     calls,
		MethodDurations: durations,
		StreamEvents:    events,
		DroppedEvents:   dropped,
		DecodeFailures:  decode,
		ActiveRegions:   regions,
	}, nil
}

// ObserveCall records one handled method call.
func (c *Collector) ObserveCall(method, result string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.MethodCalls.WithLabelValues(method, result).Inc()
	c.MethodDurations.WithLabelValues(method).Observe(elapsed.Seconds())
}

// EventDelivered records one event handed to a host stream.
func (c *Collector) EventDelivered(stream string) {
	if c == nil {
		return
	}
	c.StreamEvents.WithLabelValues(stream).Inc()
}

// EventsDropped records n events lost on stream.
func (c *Collector) EventsDropped(stream, reason string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.DroppedEvents.WithLabelValues(stream, reason).Add(float64(n))
}

// DecodeFailed records one rejected record of the given kind ("region", "beacon").
func (c *Collector) DecodeFailed(kind string) {
	if c == nil {
		return
	}
	c.DecodeFailures.WithLabelValues(kind).Inc()
}

// SetActiveRegions sets the region count of a relay ("ranging", "monitoring").
func (c *Collector) SetActiveRegions(mode string, n int) {
	if c == nil {
		return
	}
	c.ActiveRegions.WithLabelValues(mode).Set(float64(n))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
