package core

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shopcore/internal/persistence"
	"shopcore/internal/validation"
	"shopcore/pkg/domain"
)

var (
	_ persistence.Observer       = (*Metrics)(nil)
	_ validation.FailureObserver = (*Metrics)(nil)
)

// Metrics exports registry, unit-of-work and validation events to Prometheus.
type Metrics struct {
	gatherer prometheus.Gatherer

	opens      *prometheus.CounterVec
	failures   *prometheus.CounterVec
	switches   *prometheus.CounterVec
	validation *prometheus.CounterVec
	flush      *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. Collectors already registered
// by an earlier Metrics on the same registerer are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		opens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_context_opens_total",
			Help: "Persistence contexts opened, by environment label.",
		}, []string{"label"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_context_errors_total",
			Help: "Backend failures surfaced as context errors, by environment label.",
		}, []string{"label"}),
		switches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_label_switches_total",
			Help: "Changes of the active environment label.",
		}, []string{"from", "to"}),
		validation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_validation_failures_total",
			Help: "Cascade validations blocked, by rule.",
		}, []string{"rule"}),
		flush: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shopcore_flush_duration_seconds",
			Help:    "Time spent flushing a unit of work.",
			Buckets: prometheus.DefBuckets,
		}, []string{"label"}),
	}
	var err error
	if m.opens, err = register(reg, m.opens); err != nil {
		return nil, err
	}
	if m.failures, err = register(reg, m.failures); err != nil {
		return nil, err
	}
	if m.switches, err = register(reg, m.switches); err != nil {
		return nil, err
	}
	if m.validation, err = register(reg, m.validation); err != nil {
		return nil, err
	}
	if m.flush, err = register(reg, m.flush); err != nil {
		return nil, err
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ContextOpened implements persistence.Observer.
func (m *Metrics) ContextOpened(label domain.Label) {
	m.opens.WithLabelValues(label.String()).Inc()
}

// ContextFailed implements persistence.Observer.
func (m *Metrics) ContextFailed(label domain.Label, _ string, _ error) {
	m.failures.WithLabelValues(label.String()).Inc()
}

// LabelSwitched implements persistence.Observer.
func (m *Metrics) LabelSwitched(from, to domain.Label) {
	m.switches.WithLabelValues(from.String(), to.String()).Inc()
}

// Flushed implements persistence.Observer.
func (m *Metrics) Flushed(label domain.Label, elapsed time.Duration, _ error) {
	m.flush.WithLabelValues(label.String()).Observe(elapsed.Seconds())
}

// ValidationFailed implements validation.FailureObserver.
func (m *Metrics) ValidationFailed(rule string) {
	m.validation.WithLabelValues(rule).Inc()
}

// Handler serves the registered metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
