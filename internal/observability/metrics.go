package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	Claimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_claimed_total", Help: "Records claimed for processing"},
		[]string{"queue"},
	)
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_send_total", Help: "Dispatch outcomes"},
		[]string{"queue", "result"},
	)
	StaleResets = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_stale_reset_total", Help: "Stale claims returned to pending"},
		[]string{"queue"},
	)
	Ingested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_ingest_total", Help: "Appointment queue ingest results"},
		[]string{"result"},
	)
	TickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "dispatch_tick_seconds", Help: "Dispatch tick duration"},
		[]string{"queue"},
	)
	GatewayLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "gateway_send_latency_seconds", Help: "SMS gateway send latency"},
	)
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_api_requests_total", Help: "Ops API requests"},
		[]string{"endpoint", "status"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(Claimed, Sends, StaleResets, Ingested, TickDuration, GatewayLatency, APIRequests)
}
