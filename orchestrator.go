// orchestrator.go
package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"stoic_citadel_go/breaker"
	"stoic_citadel_go/config"
	"stoic_citadel_go/exchange"
	"stoic_citadel_go/logs"
	"stoic_citadel_go/monitor"
	"stoic_citadel_go/orders"
	"stoic_citadel_go/risk"
	"stoic_citadel_go/ticker"
	"stoic_citadel_go/utils"
)

// Simulation-mode market seed. Only used when use_simulation is true; live
// prices come from the exchange.
const (
	simSeedPrice      = 50000.0
	simPricePrecision = 2
	simTickSize       = 0.1
)

// Orchestrator wires the circuit breaker, risk gate, ticker feed, and smart
// order executor together and owns their lifecycles.
type Orchestrator struct {
	cfg     *config.Config
	client  exchange.Client
	breaker *breaker.CircuitBreaker
	gate    *risk.Gate
	exec    *orders.Executor
	feed    ticker.Feed

	mock   *exchange.MockClient // non-nil in simulation mode
	wsFeed *ticker.WSFeed       // non-nil in live mode

	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewOrchestrator(cfg *config.Config, envCfg *config.EnvConfig, stateFilePath string) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())

	if cfg.UseSimulation {
		mock := exchange.NewMockClient()
		mock.AddSymbol(cfg.Symbol, simSeedPrice, simPricePrecision, simTickSize)
		o.client = mock
		o.mock = mock
		o.feed = mock.Feed()
		logs.Warnf("<<<<<<<<<< WARNING: Running in simulation mode >>>>>>>>>>")
	} else {
		api := exchange.NewAPIClient(envCfg.ApiKey, envCfg.ApiSecret, envCfg.BaseURL, cfg.Normal.HTTPTimeoutSeconds)
		if err := api.LoadExchangeInfo(); err != nil {
			return nil, fmt.Errorf("failed to load exchange trading rules: %w", err)
		}
		o.client = api
		o.wsFeed = ticker.NewWSFeed(cfg.Normal.TickerWSURL)
		o.feed = o.wsFeed
	}

	cb, err := breaker.New(cfg.Breaker, stateFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize circuit breaker: %w", err)
	}
	if err := cb.InitializeSession(cfg.SessionBalanceUSDT); err != nil {
		return nil, fmt.Errorf("failed to initialize breaker session: %w", err)
	}
	logs.Infof("Circuit breaker ready, state persisted to: %s", stateFilePath)

	o.breaker = cb
	o.gate = risk.NewGate(cb,
		risk.NewMaxLeverageCheck(cfg.Risk),
		risk.NewLiquidationCheck(cfg.Risk),
	)
	o.exec = orders.NewExecutor(o.client, cfg.Executor, cb)

	return o, nil
}

// Start brings up the feed, the executor, the monitor, and the breaker
// maintenance loop. Returns immediately.
func (o *Orchestrator) Start() {
	if o.mock != nil {
		o.mock.Start()
	}
	if o.wsFeed != nil {
		o.wsFeed.Start(o.ctx)
	}
	o.exec.Start(o.feed)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		monitor.Start(o.cfg.Normal.MonitorListenAddr, o.breaker, o.exec, o.stopChan)
	}()

	o.wg.Add(1)
	go o.runBreakerMaintenance()

	if o.cfg.UseSimulation {
		o.wg.Add(1)
		go o.runSimulationLoop()
	}

	logs.Info("Orchestrator started.")
}

// Stop shuts everything down in dependency order: no new orders, then the
// executor (waits for every lifecycle goroutine), then the feed and monitor.
func (o *Orchestrator) Stop() {
	logs.Info("Orchestrator stopping...")
	close(o.stopChan)
	o.cancel()

	o.exec.Stop()
	if o.wsFeed != nil {
		o.wsFeed.Stop()
	}
	if o.mock != nil {
		o.mock.Stop()
	}
	o.wg.Wait()
	logs.Info("Orchestrator stopped.")
}

// runBreakerMaintenance applies the breaker's time-driven transitions so an
// OPEN breaker moves to HALF_OPEN when its cooldown elapses even if nobody
// asks CanTrade in the meantime.
func (o *Orchestrator) runBreakerMaintenance() {
	defer o.wg.Done()
	tick := time.NewTicker(10 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-o.stopChan:
			return
		case <-tick.C:
			o.breaker.Maintain()
		}
	}
}

// runSimulationLoop periodically opens a gated chase order against the mock
// exchange and reports the outcome to the breaker. It exists to exercise the
// full control path (gate -> executor -> fill -> outcome) end to end.
func (o *Orchestrator) runSimulationLoop() {
	defer o.wg.Done()
	tick := time.NewTicker(15 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-o.stopChan:
			return
		case <-tick.C:
		}

		price, err := o.client.GetPrice(o.cfg.Symbol)
		if err != nil {
			logs.Errorf("[Sim] Failed to get price: %v", err)
			o.breaker.RecordAPIError()
			continue
		}

		intent := risk.Intent{
			Symbol:        o.cfg.Symbol,
			EntryPrice:    price,
			StopLossPrice: price * 0.98,
			Side:          risk.Long,
			Leverage:      1,
		}
		if decision := o.gate.Evaluate(intent); !decision.Allowed {
			logs.Infof("[Sim] Trade vetoed: %s", decision.RejectionReason)
			continue
		}

		recovery, err := o.claimRecovery()
		if err != nil {
			logs.Infof("[Sim] Recovery slot unavailable: %v", err)
			continue
		}

		ceiling := price * (1 + o.cfg.Executor.MaxChasePct)
		if si, ok := o.client.GetSymbolInfo(o.cfg.Symbol); ok {
			price = utils.AdjustPriceToTickSize(utils.RoundToPrecision(price, si.PricePrecision), si.TickSize)
			ceiling = utils.RoundToPrecision(ceiling, si.PricePrecision)
		}
		timeout := time.Duration(o.cfg.Executor.DefaultTimeoutSeconds) * time.Second
		order, err := orders.NewChaseLimitOrder(o.cfg.Symbol, orders.Buy, 0.01, price, ceiling, o.cfg.Executor.ChaseOffset, timeout)
		if err != nil {
			logs.Errorf("[Sim] Failed to build chase order: %v", err)
			if recovery {
				// A recovery trade that cannot even be placed counts as a failed
				// recovery attempt; the slot must not be left claimed.
				o.recordOutcome(true, false, 0)
			}
			continue
		}

		id, err := o.exec.Submit(order)
		if err != nil {
			logs.Errorf("[Sim] Submit failed: %v", err)
			if recovery {
				o.recordOutcome(true, false, 0)
			}
			continue
		}
		logs.Infof("[Sim] Chasing %s with order %s (ceiling %.2f, recovery=%t)", o.cfg.Symbol, id, ceiling, recovery)

		o.awaitAndRecord(order, timeout, recovery)
	}
}

// claimRecovery reports whether the trade about to be opened is a HALF_OPEN
// recovery trade, claiming the single recovery slot when it is. Outside
// HALF_OPEN it is a no-op.
func (o *Orchestrator) claimRecovery() (bool, error) {
	if o.breaker.Status().State != breaker.StateHalfOpen {
		return false, nil
	}
	if err := o.breaker.BeginRecovery(); err != nil {
		return false, err
	}
	return true, nil
}

// recordOutcome feeds a resolved trade back into the breaker. Recovery trades
// report through CompleteRecovery; normal trades report fills through
// RecordTrade and unresolved outcomes not at all.
func (o *Orchestrator) recordOutcome(recovery, filled bool, profit float64) {
	if recovery {
		success := filled && profit >= 0
		if err := o.breaker.CompleteRecovery(success); err != nil {
			logs.Warnf("[Sim] Could not report recovery outcome: %v", err)
		}
		return
	}
	if !filled {
		return
	}
	if err := o.breaker.RecordTrade(profit); err != nil {
		logs.Warnf("[Sim] Could not record trade: %v", err)
	}
}

// awaitAndRecord waits for the simulated order to resolve and feeds the
// outcome into the breaker's bookkeeping.
func (o *Orchestrator) awaitAndRecord(order *orders.ChaseLimitOrder, timeout time.Duration, recovery bool) {
	deadline := time.After(timeout + time.Second)
	poll := time.NewTicker(250 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-o.stopChan:
			return
		case <-deadline:
			o.exec.Cancel(order.ID)
			o.recordOutcome(recovery, false, 0)
			return
		case <-poll.C:
		}

		switch order.Status() {
		case orders.StatusFilled:
			// A paper outcome in lieu of a real strategy exit.
			profit := (rand.Float64() - 0.45) * 0.02
			o.recordOutcome(recovery, true, profit)
			return
		case orders.StatusFailed, orders.StatusCancelled, orders.StatusExpired:
			o.recordOutcome(recovery, false, 0)
			return
		}
	}
}
