package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of trade ticks ingested from the stream"},
		[]string{"symbol"},
	)
	TriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "analysis_triggers_total", Help: "Downsampled ticks that triggered a full analysis"},
		[]string{"symbol"},
	)
	MalformedMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "stream_malformed_messages_total", Help: "Stream payloads dropped because they could not be parsed"},
	)
	StreamState = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "stream_state", Help: "Current stream connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 closed)"},
	)
	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "stream_reconnects_total", Help: "Stream reconnect attempts"},
	)
	GatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gateway_calls_total", Help: "Outbound provider calls by outcome"},
		[]string{"outcome"},
	)
	GatewayWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_wait_seconds",
			Help:    "Time a provider call spent queued behind the rate limiter",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 15, 30, 60},
		},
	)
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "evaluations_total", Help: "Snapshots scored by the decision engine"},
		[]string{"symbol"},
	)
	SkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "analysis_skipped_total", Help: "Symbols skipped during a pass by reason"},
		[]string{"reason"},
	)
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alerts_total", Help: "Alert decisions by direction and outcome"},
		[]string{"symbol", "direction", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		TriggersTotal,
		MalformedMessagesTotal,
		StreamState,
		ReconnectsTotal,
		GatewayCallsTotal,
		GatewayWaitSeconds,
		EvaluationsTotal,
		SkippedTotal,
		AlertsTotal,
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
