package monitoring

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"salaryclf/pipeline"
)

const namespace = "salaryclf"

// Metrics holds the Prometheus collectors for prediction runs and HTTP
// traffic. It observes the pipeline like any other Observer.
type Metrics struct {
	registry *prometheus.Registry

	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	rows     *prometheus.CounterVec
	labels   *prometheus.CounterVec
	filled   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_runs_total",
			Help:      "Prediction runs by kind and status.",
		}, []string{"kind", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_errors_total",
			Help:      "Failed prediction runs by kind and error kind.",
		}, []string{"kind", "error_kind"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predicted_rows_total",
			Help:      "Rows classified successfully.",
		}, []string{"kind"}),
		labels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predicted_labels_total",
			Help:      "Predicted labels by class.",
		}, []string{"label"}),
		filled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zero_filled_features_total",
			Help:      "Runs in which a trained feature was missing and filled with 0.",
		}, []string{"feature"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Time spent in the prediction pipeline.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"kind"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	m.registry.MustRegister(
		m.runs, m.failures, m.rows, m.labels, m.filled, m.duration, m.requests, m.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Observe(_ context.Context, event pipeline.Event) {
	status := "ok"
	if event.Failed() {
		status = "failed"
		m.failures.WithLabelValues(event.Kind, event.ErrorKind).Inc()
	} else {
		m.rows.WithLabelValues(event.Kind).Add(float64(event.Rows))
		for _, label := range event.Labels {
			m.labels.WithLabelValues(label).Inc()
		}
	}
	m.runs.WithLabelValues(event.Kind, status).Inc()
	for _, feature := range event.Filled {
		m.filled.WithLabelValues(feature).Inc()
	}
	m.duration.WithLabelValues(event.Kind).Observe(event.Duration.Seconds())
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method string, code int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(method).Observe(elapsed.Seconds())
}
