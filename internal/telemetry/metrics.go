// Package telemetry holds the Prometheus collectors of the inference server.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes used as the status label.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// States reported by the model_state gauge, one series per state.
var States = []string{"UNLOADED", "LOADING", "READY", "FAILED"}

type Metrics struct {
	reg      *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	rows     *prometheus.CounterVec
	state    *prometheus.GaugeVec
}

// New registers the server collectors on a fresh registry together with the
// Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabserve_inference_requests_total",
			Help: "Inference requests by model and outcome.",
		}, []string{"model", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tabserve_inference_duration_seconds",
			Help:    "Time spent executing an inference request.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"model"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabserve_inference_rows_total",
			Help: "Rows transformed by successful requests.",
		}, []string{"model"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tabserve_model_state",
			Help: "1 for the current state of each model, 0 otherwise.",
		}, []string{"model", "state"}),
	}
	m.reg.MustRegister(
		m.requests, m.duration, m.rows, m.state,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveRequest records one finished inference request.
func (m *Metrics) ObserveRequest(model string, rows int, took time.Duration, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.requests.WithLabelValues(model, status).Inc()
	m.duration.WithLabelValues(model).Observe(took.Seconds())
	if err == nil {
		m.rows.WithLabelValues(model).Add(float64(rows))
	}
}

// SetModelState flips the model_state series of model to state.
func (m *Metrics) SetModelState(model, state string) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(model, s).Set(v)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
