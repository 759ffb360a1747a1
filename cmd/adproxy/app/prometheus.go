// Copyright 2025, Vidstitch. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	defaultBuckets = []float64{5, 10, 20, 50, 100, 200, 500, 1000, 3000}
	prometheusMW   prometheusMiddleware
)

const (
	playlistReqsName    = "playlist_requests_total"
	playlistLatencyName = "playlist_request_duration_milliseconds"
	apiReqsName         = "api_requests_total"
	service             = "adproxy"
)

// prometheusMiddleware provides a handler that exposes prometheus metrics for various requests
type prometheusMiddleware struct {
	playlistReqs    *prometheus.CounterVec
	playlistLatency *prometheus.HistogramVec
	apiReqs         *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
}

func init() {
	prometheusMW.playlistReqs = newCounter(playlistReqsName,
		"Number of playlist requests processed, partitioned by status code.", service, "code")
	prometheusMW.playlistLatency = newHistogram(playlistLatencyName,
		"Playlist response latency.", service, defaultBuckets)
	prometheusMW.apiReqs = newCounter(apiReqsName,
		"Number of API requests processed, partitioned by status code.", service, "code")
	prometheusMW.fallbacks = newCounter("rewrite_fallbacks_total",
		"Number of rewrites that took a fallback branch, partitioned by reason.", service, "reason")
}

// NewPrometheusMiddleware returns a new prometheus Middleware handler.
func NewPrometheusMiddleware() func(next http.Handler) http.Handler {
	return prometheusMW.handler
}

func (mw prometheusMiddleware) handler(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := strconv.Itoa(ww.Status())
		latencyMS := float64(time.Since(start).Nanoseconds()) * 1e-6
		switch {
		case strings.HasSuffix(path, ".m3u8"):
			mw.playlistReqs.WithLabelValues(status).Inc()
			mw.playlistLatency.WithLabelValues(status).Observe(latencyMS)
		case strings.HasPrefix(path, "/api/"):
			mw.apiReqs.WithLabelValues(status).Inc()
		}
	}
	return http.HandlerFunc(fn)
}

// countFallback records a fallback-ladder branch being taken.
func countFallback(reason string) {
	prometheusMW.fallbacks.WithLabelValues(reason).Inc()
}

func newCounter(counterName, help, serviceName, label string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        counterName,
			Help:        help,
			ConstLabels: prometheus.Labels{"service": serviceName},
		},
		[]string{label},
	)
	prometheus.MustRegister(cv)
	return cv
}

func newHistogram(histogramName, help, serviceName string, buckets []float64) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        histogramName,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": serviceName},
		Buckets:     buckets,
	},
		[]string{"code"},
	)
	prometheus.MustRegister(h)
	return h
}
