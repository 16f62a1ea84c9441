package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests *prometheus.HistogramVec
	writes   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "siteledger",
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteledger",
			Name:      "project_writes_total",
			Help:      "Project creates and updates by outcome.",
		}, []string{"op", "outcome"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.writes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) observeRequest(method string, status int, elapsed time.Duration) {
	if status == 0 {
		status = http.StatusOK
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func (m *metrics) observeWrite(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.writes.WithLabelValues(op, outcome).Inc()
}
