// Package metrics exports invocation, guest execution and host call
// counters as Prometheus collectors.
package metrics

import (
	stdErrors "errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/errors"
)

// Invocation outcomes used as the "outcome" label.
const (
	OutcomeCompleted = "completed"
	OutcomeImplicit  = "implicit"
	OutcomeTrap      = "trap"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
)

type collectorConfig struct {
	namespace string
	buckets   []float64
}

func defaultCollectorConfig() collectorConfig {
	return collectorConfig{
		namespace: "wbpf",
		buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}
}

// Option configures a Collector.
type Option func(*collectorConfig)

// WithNamespace sets the metric name prefix (default: "wbpf").
func WithNamespace(ns string) Option {
	return func(c *collectorConfig) {
		if ns != "" {
			c.namespace = ns
		}
	}
}

// WithDurationBuckets sets the invocation duration histogram buckets.
func WithDurationBuckets(buckets ...float64) Option {
	return func(c *collectorConfig) {
		if len(buckets) > 0 {
			c.buckets = buckets
		}
	}
}

// Collector holds every runtime metric. It implements prometheus.Collector.
type Collector struct {
	invocations  *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	instructions *prometheus.CounterVec
	cycles       *prometheus.CounterVec
	hostCalls    *prometheus.CounterVec
	duplicates   *prometheus.CounterVec
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates an unregistered collector.
func NewCollector(opts ...Option) *Collector {
	cfg := defaultCollectorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	ns := cfg.namespace
	return &Collector{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "invocations_total",
			Help:      "Guest entry invocations by outcome.",
		}, []string{"module", "entry", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "invocation_duration_seconds",
			Help:      "Wall time from trampoline entry to completion.",
			Buckets:   cfg.buckets,
		}, []string{"module", "entry"}),
		instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "guest_instructions_total",
			Help:      "Guest instructions retired.",
		}, []string{"module"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "guest_cycles_total",
			Help:      "Estimated processing element cycles.",
		}, []string{"module"}),
		hostCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "host_calls_total",
			Help:      "Host function calls made by guests.",
		}, []string{"function", "outcome"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "duplicate_completions_total",
			Help:      "Completion signals received after the first one.",
		}, []string{"module", "entry"}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.invocations.Describe(ch)
	c.duration.Describe(ch)
	c.instructions.Describe(ch)
	c.cycles.Describe(ch)
	c.hostCalls.Describe(ch)
	c.duplicates.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.invocations.Collect(ch)
	c.duration.Collect(ch)
	c.instructions.Collect(ch)
	c.cycles.Collect(ch)
	c.hostCalls.Collect(ch)
	c.duplicates.Collect(ch)
}

// ObserveInvocation records one finished invocation.
func (c *Collector) ObserveInvocation(module, entry, outcome string, elapsed time.Duration, perf entities.PerfCounters) {
	c.invocations.WithLabelValues(module, entry, outcome).Inc()
	c.duration.WithLabelValues(module, entry).Observe(elapsed.Seconds())
	if perf.Commits > 0 {
		c.instructions.WithLabelValues(module).Add(float64(perf.Commits))
	}
	if perf.Cycles > 0 {
		c.cycles.WithLabelValues(module).Add(float64(perf.Cycles))
	}
}

// ObserveHostCall records one host function call. Its signature matches
// hostfuncs.ObserverMiddleware.
func (c *Collector) ObserveHostCall(function string, _ time.Duration, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case stdErrors.Is(err, errors.ErrGuestHalted):
		outcome = "halted"
	default:
		outcome = "error"
	}
	c.hostCalls.WithLabelValues(function, outcome).Inc()
}

// DuplicateCompletion records a completion signal that arrived after the
// invocation was already resolved.
func (c *Collector) DuplicateCompletion(module, entry string) {
	c.duplicates.WithLabelValues(module, entry).Inc()
}

// Outcome classifies an invocation result for the outcome label.
func Outcome(completion *entities.Completion, err error) string {
	if err == nil {
		if completion != nil && completion.Implicit {
			return OutcomeImplicit
		}
		return OutcomeCompleted
	}
	var nt *errors.NonTerminationError
	if stdErrors.As(err, &nt) {
		return OutcomeTimeout
	}
	var trap *errors.TrapError
	if stdErrors.As(err, &trap) {
		return OutcomeTrap
	}
	return OutcomeError
}
