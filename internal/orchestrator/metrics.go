package orchestrator

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK             = "ok"
	outcomeExtractTimeout = "extract_timeout"
	outcomeCreateFailed   = "create_failed"
	outcomeInjectFailed   = "inject_failed"
	outcomeDeliveryFailed = "delivery_failed"
	outcomeDeadline       = "deadline"
	outcomeCancelled      = "cancelled"
)

var (
	tabsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cfsource",
		Name:      "tabs_created_total",
		Help:      "Ephemeral tabs opened for retrievals.",
	})
	tabsDestroyed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cfsource",
		Name:      "tabs_destroyed_total",
		Help:      "Ephemeral tabs removed after retrievals.",
	})
	tabsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cfsource",
		Name:      "tabs_live",
		Help:      "Tabs currently owned by in-flight retrievals.",
	})
	retrievals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cfsource",
		Name:      "retrievals_total",
		Help:      "Retrieval calls by outcome.",
	}, []string{"outcome"})
	retrievalSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cfsource",
		Name:      "retrieval_duration_seconds",
		Help:      "Wall time of retrieval calls.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	})
)

func observe(outcome string, start time.Time) {
	retrievals.WithLabelValues(outcome).Inc()
	retrievalSeconds.Observe(time.Since(start).Seconds())
}

func classify(err error) string {
	switch {
	case errors.Is(err, ErrResourceCreation):
		return outcomeCreateFailed
	case errors.Is(err, ErrInjection):
		return outcomeInjectFailed
	case errors.Is(err, ErrDeliveryTimeout):
		return outcomeDeadline
	case errors.Is(err, ErrDelivery):
		return outcomeDeliveryFailed
	default:
		return outcomeCancelled
	}
}
