package blocklist

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "listforge"
	metricsSubsystem = "blocklist"
)

var (
	fetchTotal         *prometheus.CounterVec
	entriesGauge       *prometheus.GaugeVec
	invalidationsTotal *prometheus.CounterVec
	lastRefreshGauge   *prometheus.GaugeVec
	verdictTotal       *prometheus.CounterVec
	metricsOnce        sync.Once
)

// initMetrics initializes and registers engine metrics.
// Uses sync.Once to ensure single initialization across parallel tests.
func initMetrics() {
	metricsOnce.Do(func() {
		var registry prometheus.Registerer = prometheus.DefaultRegisterer

		if testing.Testing() {
			// Use isolated registry in tests to avoid metric collisions
			registry = prometheus.NewRegistry()
		}

		fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "fetch_total",
			Help:      "List fetch outcomes by result (hit, success, stale, error).",
		}, []string{"result"})

		entriesGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "entries",
			Help:      "Number of entries cached per node and list kind.",
		}, []string{"node", "kind"})

		invalidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "invalidations_total",
			Help:      "Cache invalidations triggered by configuration drift.",
		}, []string{"node"})

		lastRefreshGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "last_refresh_timestamp",
			Help:      "Unix timestamp of the last forced refresh per node.",
		}, []string{"node"})

		verdictTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "verdict_total",
			Help:      "Policy simulation verdicts by decision.",
		}, []string{"decision"})

		registry.MustRegister(fetchTotal, entriesGauge, invalidationsTotal, lastRefreshGauge, verdictTotal)
	})
}

func incFetch(result string) {
	if fetchTotal != nil {
		fetchTotal.WithLabelValues(result).Inc()
	}
}

func setEntries(node string, kind Kind, count int) {
	if entriesGauge != nil {
		entriesGauge.WithLabelValues(node, string(kind)).Set(float64(count))
	}
}

func incInvalidation(node string) {
	if invalidationsTotal != nil {
		invalidationsTotal.WithLabelValues(node).Inc()
	}
}

func setLastRefresh(node string, unixTimestamp int64) {
	if lastRefreshGauge != nil {
		lastRefreshGauge.WithLabelValues(node).Set(float64(unixTimestamp))
	}
}

func incVerdict(decision Decision) {
	if verdictTotal != nil {
		verdictTotal.WithLabelValues(string(decision)).Inc()
	}
}
