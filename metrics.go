/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the daemon's prometheus instrumentation, grounded in
// nabbar-golib's and MiraiMindz-watt/bolt's use of client_golang for
// server-side counters/histograms. A nil *Metrics (what a Daemon holds
// when Options.MetricsRegistry is nil) is safe to use: every method
// no-ops on a nil receiver.
type Metrics struct {
	ConnectionsOpen   prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	BytesRead         prometheus.Counter
	BytesWritten      prometheus.Counter
	RejectedOverLimit prometheus.Counter
}

// NewMetrics registers a fresh set of collectors on reg. Pass
// prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to publish on /metrics globally.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mhd_connections_open",
			Help: "Number of currently open connections.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mhd_connections_total",
			Help: "Total connections accepted.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mhd_requests_total",
			Help: "Total requests dispatched, by response status class.",
		}, []string{"status_class"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mhd_request_duration_seconds",
			Help:    "Request handling latency from dispatch to response completion.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status_class"}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mhd_bytes_read_total",
			Help: "Total bytes read from client sockets.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mhd_bytes_written_total",
			Help: "Total bytes written to client sockets.",
		}),
		RejectedOverLimit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mhd_connections_rejected_total",
			Help: "Connections refused due to global or per-IP limits.",
		}),
	}
	reg.MustRegister(
		m.ConnectionsOpen, m.ConnectionsTotal, m.RequestsTotal,
		m.RequestDuration, m.BytesRead, m.BytesWritten, m.RejectedOverLimit,
	)
	return m
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.ConnectionsOpen.Inc()
	m.ConnectionsTotal.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.ConnectionsOpen.Dec()
}

func (m *Metrics) rejected() {
	if m == nil {
		return
	}
	m.RejectedOverLimit.Inc()
}

func (m *Metrics) read(n int) {
	if m == nil {
		return
	}
	m.BytesRead.Add(float64(n))
}

func (m *Metrics) wrote(n int) {
	if m == nil {
		return
	}
	m.BytesWritten.Add(float64(n))
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	case code >= 100:
		return "1xx"
	default:
		return "unknown"
	}
}

func (m *Metrics) requestDone(statusCode int, seconds float64) {
	if m == nil {
		return
	}
	cls := statusClass(statusCode)
	m.RequestsTotal.WithLabelValues(cls).Inc()
	m.RequestDuration.WithLabelValues(cls).Observe(seconds)
}
