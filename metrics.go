// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package camomile

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric names and labels mirror the teacher's own counters/histograms in
// imageproxy.go (metricRequestDuration, metricRequestsInFlight,
// metricRemoteErrors), renamed and extended for camomile's own pipeline.
var (
	metricRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "camomile",
		Name:      "request_duration_seconds",
		Help:      "Time to serve a proxied image request, start to finish.",
	})

	metricRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "camomile",
		Name:      "requests_in_flight",
		Help:      "Number of image requests currently being served.",
	})

	metricRemoteErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camomile",
		Name:      "remote_errors_total",
		Help:      "Count of upstream fetch failures, by reason.",
	}, []string{"reason"})

	metricRedirectsFollowed = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "camomile",
		Name:      "redirects_followed",
		Help:      "Number of redirect hops followed per fetch that reached a terminal upstream response.",
		Buckets:   []float64{0, 1, 2, 3},
	})

	metricBytesStreamed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "camomile",
		Name:      "bytes_streamed_total",
		Help:      "Total response bytes streamed back to clients.",
	})
)

func init() {
	prometheus.MustRegister(
		metricRequestDuration,
		metricRequestsInFlight,
		metricRemoteErrors,
		metricRedirectsFollowed,
		metricBytesStreamed,
	)
}

// metricsHandler serves the process's Prometheus metrics, mirroring the
// teacher's own "/metrics" branch in imageproxy.go's ServeHTTP.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}

// prometheusTimer starts a request-duration timer and returns a func to
// stop it, mirroring the teacher's prometheus.NewTimer usage in
// imageproxy.go's ServeHTTP.
func prometheusTimer() func() {
	timer := prometheus.NewTimer(metricRequestDuration)
	return func() { timer.ObserveDuration() }
}
