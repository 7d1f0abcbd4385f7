// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/platform-validator/metrics"
)

// requestMetrics tracks HTTP request latency and outcome counts.
// Construction follows the teacher's per-component newMetrics
// convention (see blocksync.newSyncerMetrics).
type requestMetrics struct {
	duration metrics.Averager
	total    *prometheus.CounterVec
}

func newRequestMetrics(reg prometheus.Registerer) (*requestMetrics, error) {
	avg, err := metrics.NewAverager("http_request_duration_seconds", "HTTP request duration in seconds", reg)
	if err != nil {
		return nil, err
	}

	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Number of HTTP requests served, by route and status",
	}, []string{"route", "status"})
	if err := reg.Register(total); err != nil {
		return nil, err
	}

	return &requestMetrics{duration: avg, total: total}, nil
}

// instrument wraps h to record request latency and outcome. route is
// the mux pattern (not the raw path), keeping cardinality bounded.
func (m *requestMetrics) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		m.duration.Observe(time.Since(start).Seconds())
		m.total.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
	}
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
