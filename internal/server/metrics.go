package server

import (
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"p2pescrow/internal/escrow"
)

type metricsRegistry struct {
	registry          *prometheus.Registry
	transitionsTotal  *prometheus.CounterVec
	replaysTotal      *prometheus.CounterVec
	sinkFailuresTotal prometheus.Counter
	streamClients     prometheus.Gauge
}

func newMetricsRegistry(engine *escrow.Engine) *metricsRegistry {
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2pescrow_transitions_total",
		Help: "Escrow operations by action and result code",
	}, []string{"action", "result"})

	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2pescrow_idempotent_replays_total",
		Help: "Mutating requests answered from the idempotency store",
	}, []string{"result"})

	sinkFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "p2pescrow_sink_failures_total",
		Help: "Events the notification sink failed to publish",
	})

	streamClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "p2pescrow_stream_clients",
		Help: "Open websocket event stream connections",
	})

	custody := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "p2pescrow_custody_total",
		Help: "Funds currently held in custody, in base units",
	}, func() float64 {
		f, _ := new(big.Float).SetInt(engine.Ledger().Total()).Float64()
		return f
	})

	counter := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "p2pescrow_escrow_counter",
		Help: "Last allocated escrow id",
	}, func() float64 {
		return float64(engine.Counter())
	})

	r := prometheus.NewRegistry()
	r.MustRegister(transitions, replays, sinkFailures, streamClients, custody, counter)

	return &metricsRegistry{
		registry:          r,
		transitionsTotal:  transitions,
		replaysTotal:      replays,
		sinkFailuresTotal: sinkFailures,
		streamClients:     streamClients,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incTransition(action escrow.Action, result string) {
	m.transitionsTotal.WithLabelValues(action.String(), result).Inc()
}

func (m *metricsRegistry) incReplay(result string) {
	m.replaysTotal.WithLabelValues(result).Inc()
}

func (m *metricsRegistry) incSinkFailure() {
	m.sinkFailuresTotal.Inc()
}
