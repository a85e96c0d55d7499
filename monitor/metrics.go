// monitor/metrics.go
//
// Prometheus series for the capital-protection core, refreshed by the monitor
// poll loop and served at /metrics. Breaker series cover state, trip counts
// by reason, the API error window, consecutive losses, cooldown, and session
// balances; executor series cover active and capped smart orders.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"stoic_citadel_go/breaker"
	"stoic_citadel_go/orders"
)

var (
	mtxBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	mtxBreakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_trips_total",
			Help: "Circuit breaker trips observed, split by reason",
		},
		[]string{"reason"},
	)

	mtxBreakerAPIErrors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breaker_api_errors_window",
			Help: "API errors inside the breaker's sliding window",
		},
	)

	mtxBreakerLosses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breaker_consecutive_losses",
			Help: "Current consecutive losing trades",
		},
	)

	mtxBreakerCooldown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breaker_cooldown_seconds",
			Help: "Cooldown remaining before a recovery attempt is possible",
		},
	)

	mtxBreakerBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breaker_balance_usd",
			Help: "Session balances tracked by the breaker",
		},
		[]string{"kind"}, // starting|current|peak
	)

	mtxActiveOrders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "executor_active_orders",
			Help: "Currently managed smart orders",
		},
	)

	mtxCappedOrders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "executor_capped_orders",
			Help: "Chase orders pinned at their price bound",
		},
	)

	mtxOrderEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_order_events_total",
			Help: "Smart order lifecycle events, split by outcome",
		},
		[]string{"event"}, // submitted|filled|cancelled|failed|expired
	)

	mtxReplaces = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "executor_replaces_total",
			Help: "Successful chase replace calls sent to the exchange",
		},
	)
)

func init() {
	prometheus.MustRegister(
		mtxBreakerState,
		mtxBreakerTrips,
		mtxBreakerAPIErrors,
		mtxBreakerLosses,
		mtxBreakerCooldown,
		mtxBreakerBalance,
		mtxActiveOrders,
		mtxCappedOrders,
		mtxOrderEvents,
		mtxReplaces,
	)
}

// publishBreakerStatus refreshes the breaker series from a status snapshot.
// lastState lets the poll loop detect CLOSED/HALF_OPEN -> OPEN edges so the
// trips counter only increments once per trip.
func publishBreakerStatus(st breaker.Status, lastState breaker.State) {
	switch st.State {
	case breaker.StateClosed:
		mtxBreakerState.Set(0)
	case breaker.StateHalfOpen:
		mtxBreakerState.Set(1)
	case breaker.StateOpen:
		mtxBreakerState.Set(2)
	}
	if st.State == breaker.StateOpen && lastState != breaker.StateOpen {
		mtxBreakerTrips.WithLabelValues(string(st.TripReason)).Inc()
	}

	mtxBreakerAPIErrors.Set(float64(st.APIErrorCount))
	mtxBreakerLosses.Set(float64(st.ConsecutiveLosses))
	mtxBreakerCooldown.Set(st.CooldownRemaining.Seconds())
	mtxBreakerBalance.WithLabelValues("starting").Set(st.StartingBalance)
	mtxBreakerBalance.WithLabelValues("current").Set(st.CurrentBalance)
	mtxBreakerBalance.WithLabelValues("peak").Set(st.PeakBalance)
}

// publishExecutorStats refreshes the executor series from a summary snapshot
// and feeds event counters with the delta since the previous poll.
func publishExecutorStats(summaries []orders.Summary, stats, last orders.Stats) {
	capped := 0
	for _, s := range summaries {
		if s.Capped {
			capped++
		}
	}
	mtxActiveOrders.Set(float64(len(summaries)))
	mtxCappedOrders.Set(float64(capped))

	addEvents := func(event string, now, prev int64) {
		if d := now - prev; d > 0 {
			mtxOrderEvents.WithLabelValues(event).Add(float64(d))
		}
	}
	addEvents("submitted", stats.Submitted, last.Submitted)
	addEvents("filled", stats.Filled, last.Filled)
	addEvents("cancelled", stats.Cancelled, last.Cancelled)
	addEvents("failed", stats.Failed, last.Failed)
	addEvents("expired", stats.Expired, last.Expired)
	if d := stats.Replaces - last.Replaces; d > 0 {
		mtxReplaces.Add(float64(d))
	}
}
