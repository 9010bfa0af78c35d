package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's collectors on a private registry.
type Metrics struct {
	registry  *prometheus.Registry
	ingests   *prometheus.CounterVec
	fragments *prometheus.CounterVec
}

func NewMetrics(sessions func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docrag_ingest_total",
			Help: "Document ingestions by result.",
		}, []string{"result"}),
		fragments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docrag_stream_fragments_total",
			Help: "Answer fragments streamed to clients by kind.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.ingests,
		m.fragments,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "docrag_sessions",
			Help: "Live sessions.",
		}, func() float64 { return float64(sessions()) }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
