package dashboard

import (
	"net/http"
	"strconv"
	"sync"
	"testing"

	"github.com/felixge/httpsnoop"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestTotal *prometheus.CounterVec
	metricsOnce  sync.Once
)

func initMetrics() {
	metricsOnce.Do(func() {
		var registry prometheus.Registerer = prometheus.DefaultRegisterer
		if testing.Testing() {
			registry = prometheus.NewRegistry()
		}

		requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "listforge",
			Subsystem: "dashboard",
			Name:      "request_total",
			Help:      "Dashboard API requests by HTTP status code.",
		}, []string{"code"})

		registry.MustRegister(requestTotal)
	})
}

// withRequestMetrics wraps the handler in a response meter.
func withRequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		if requestTotal != nil {
			requestTotal.WithLabelValues(strconv.Itoa(m.Code)).Add(1)
		}
		log.Debugf("%s %s (status=%d dt=%s)", r.Method, r.URL, m.Code, m.Duration)
	})
}
