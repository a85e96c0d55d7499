// monitor/rest.go
package monitor

import (
	"encoding/json"
	"net/http"
	"time"

	"stoic_citadel_go/breaker"
	"stoic_citadel_go/logs"
	"stoic_citadel_go/orders"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// statusResponse is the JSON document served at /status.
type statusResponse struct {
	Breaker struct {
		State             breaker.State      `json:"state"`
		TripReason        breaker.TripReason `json:"trip_reason"`
		ConsecutiveLosses int                `json:"consecutive_losses"`
		APIErrorCount     int                `json:"api_error_count"`
		CooldownRemaining string             `json:"cooldown_remaining"`
		RecoverySuccesses int                `json:"recovery_successes"`
		CurrentBalance    float64            `json:"current_balance"`
	} `json:"breaker"`
	Executor struct {
		ActiveOrders int              `json:"active_orders"`
		Totals       orders.Stats     `json:"totals"`
		Orders       []orders.Summary `json:"orders"`
	} `json:"executor"`
}

// Start runs the monitoring HTTP server (/status and /metrics) and the
// metrics poll loop until stopChan closes. Blocks; run it in a goroutine.
func Start(addr string, cb *breaker.CircuitBreaker, exec *orders.Executor, stopChan <-chan struct{}) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		var resp statusResponse
		st := cb.Status()
		resp.Breaker.State = st.State
		resp.Breaker.TripReason = st.TripReason
		resp.Breaker.ConsecutiveLosses = st.ConsecutiveLosses
		resp.Breaker.APIErrorCount = st.APIErrorCount
		resp.Breaker.CooldownRemaining = st.CooldownRemaining.Round(time.Second).String()
		resp.Breaker.RecoverySuccesses = st.RecoverySuccesses
		resp.Breaker.CurrentBalance = st.CurrentBalance

		summaries := exec.Summaries()
		resp.Executor.ActiveOrders = len(summaries)
		resp.Executor.Totals = exec.Stats()
		resp.Executor.Orders = summaries

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logs.Errorf("[Monitor] Failed to encode status response: %v", err)
		}
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logs.Infof("[Monitor] Serving /status and /metrics on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Errorf("[Monitor] HTTP server error: %v", err)
		}
	}()

	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()

	lastState := cb.Status().State
	lastStats := exec.Stats()
	for {
		select {
		case <-stopChan:
			logs.Info("[Monitor] Received stop signal, shutting down.")
			server.Close()
			return
		case <-tick.C:
			st := cb.Status()
			publishBreakerStatus(st, lastState)
			lastState = st.State

			stats := exec.Stats()
			publishExecutorStats(exec.Summaries(), stats, lastStats)
			lastStats = stats
		}
	}
}
