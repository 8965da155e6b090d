// Package metrics provides Prometheus instrumentation for codeproof.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled  bool
	registry *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Verification domain metrics
	verificationRunsTotal    *prometheus.CounterVec
	verificationResultsTotal *prometheus.CounterVec
	predeployTotal           prometheus.Counter
	argsRederivedTotal       prometheus.Counter
	replayDuration           *prometheus.HistogramVec
	artifactLookupsTotal     *prometheus.CounterVec
)

// Init initializes the metrics system. Calling it again replaces the
// registry, which keeps tests independent.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag

	if !enabled {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	constLabels := prometheus.Labels{"service": svcName}

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests",
			ConstLabels: constLabels,
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency in seconds",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"method", "path"},
	)

	verificationRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "verification_runs_total",
			Help:        "Total number of verification runs by outcome",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)

	verificationResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "verification_results_total",
			Help:        "Bytecode comparison results by bytecode kind and match type",
			ConstLabels: constLabels,
		},
		[]string{"kind", "match"},
	)

	predeployTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "verification_predeploy_total",
		Help:        "Runs that found no creation record and verified as predeploys",
		ConstLabels: constLabels,
	})

	argsRederivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "verification_constructor_args_rederived_total",
		Help:        "Runs whose explorer constructor arguments were replaced by the creation input tail",
		ConstLabels: constLabels,
	})

	replayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "verification_replay_duration_seconds",
			Help:        "Time spent replaying a deployment on a fork",
			Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			ConstLabels: constLabels,
		},
		[]string{"mode"},
	)

	artifactLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "artifact_lookups_total",
			Help:        "Artifact lookups by where the artifact came from",
			ConstLabels: constLabels,
		},
		[]string{"source"},
	)

	registry.MustRegister(
		httpRequestsTotal,
		httpDuration,
		verificationRunsTotal,
		verificationResultsTotal,
		predeployTotal,
		argsRederivedTotal,
		replayDuration,
		artifactLookupsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}
