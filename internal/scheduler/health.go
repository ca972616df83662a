package scheduler

import (
	"sync"

	"ratewatch/internal/metrics"
	"ratewatch/internal/rates"
)

// Status is the freshness health of one asset class.
type Status string

const (
	Healthy  Status = "healthy"
	Degraded Status = "degraded"
	Failed   Status = "failed"
)

func (s Status) gaugeValue() float64 {
	switch s {
	case Degraded:
		return 1
	case Failed:
		return 2
	default:
		return 0
	}
}

// Health tracks per-class status. One instance is shared by all runners.
type Health struct {
	mu      sync.RWMutex
	classes map[rates.Class]Status
}

// NewHealth constructs an empty registry; unobserved classes report healthy.
func NewHealth() *Health {
	return &Health{classes: make(map[rates.Class]Status)}
}

func (h *Health) set(class rates.Class, status Status) {
	h.mu.Lock()
	h.classes[class] = status
	h.mu.Unlock()
	metrics.ClassHealth.WithLabelValues(string(class)).Set(status.gaugeValue())
}

// Status returns the current status of one class.
func (h *Health) Status(class rates.Class) Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if s, ok := h.classes[class]; ok {
		return s
	}
	return Healthy
}

// Snapshot copies the full per-class view.
func (h *Health) Snapshot() map[rates.Class]Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[rates.Class]Status, len(h.classes))
	for class, status := range h.classes {
		out[class] = status
	}
	return out
}
