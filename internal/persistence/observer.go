package persistence

import (
	"time"

	"shopcore/pkg/domain"
)

// Observer receives registry and unit-of-work events. core.Metrics exports
// them to Prometheus.
type Observer interface {
	ContextOpened(label domain.Label)
	ContextFailed(label domain.Label, op string, err error)
	LabelSwitched(from, to domain.Label)
	Flushed(label domain.Label, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ContextOpened(domain.Label)                 {}
func (nopObserver) ContextFailed(domain.Label, string, error)  {}
func (nopObserver) LabelSwitched(domain.Label, domain.Label)   {}
func (nopObserver) Flushed(domain.Label, time.Duration, error) {}
