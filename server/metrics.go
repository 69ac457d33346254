package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/abhishek-72-cmd/LuckyFive-server/fivegame"
)

// serverMetrics are the collectors exported on the ops /metrics endpoint.
type serverMetrics struct {
	connections     prometheus.Gauge
	authFailures    prometheus.Counter
	eventsSent      *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	wagersFinalized prometheus.Counter
	amountWagered   prometheus.Counter
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	m := &serverMetrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "luckyfive_connections",
			Help: "Open websocket connections.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "luckyfive_auth_failures_total",
			Help: "Rejected authenticate requests.",
		}),
		eventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "luckyfive_events_sent_total",
			Help: "Events queued for delivery, by type.",
		}, []string{"type"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "luckyfive_events_dropped_total",
			Help: "Events dropped because a client send buffer was full.",
		}),
		wagersFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "luckyfive_wagers_finalized_total",
			Help: "Accepted final wager submissions.",
		}),
		amountWagered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "luckyfive_amount_wagered_total",
			Help: "Total stake accepted, in minor units.",
		}),
	}
	reg.MustRegister(
		m.connections,
		m.authFailures,
		m.eventsSent,
		m.eventsDropped,
		m.wagersFinalized,
		m.amountWagered,
	)
	return m
}

// registerEngineCollectors exposes scheduler-side counters without the engine
// ever touching prometheus itself.
func registerEngineCollectors(reg prometheus.Registerer, sched *fivegame.Scheduler) {
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "luckyfive_rounds_settled_total",
			Help: "Rounds drawn and settled.",
		}, func() float64 { return float64(sched.RoundsSettled()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "luckyfive_settlement_errors_total",
			Help: "Round settlements that failed.",
		}, func() float64 { return float64(sched.SettlementErrors()) }),
	)
}
