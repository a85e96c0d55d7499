package risk

import (
	"fmt"

	"stoic_citadel_go/config"
)

// LiquidationCheck rejects trades whose stop loss sits outside the safe
// distance to the estimated liquidation price for the requested leverage.
// For an isolated position, liquidation is roughly entry * (1 -/+ 1/leverage);
// the stop must trigger before price gets within the buffer of that level.
type LiquidationCheck struct {
	cfg *config.RiskConfig
}

func NewLiquidationCheck(cfg *config.RiskConfig) *LiquidationCheck {
	return &LiquidationCheck{cfg: cfg}
}

func (c *LiquidationCheck) Name() string { return "liquidation_check" }

func (c *LiquidationCheck) Validate(intent Intent) error {
	if intent.EntryPrice <= 0 {
		return fmt.Errorf("entry price must be positive, got %.8f", intent.EntryPrice)
	}
	if intent.StopLossPrice <= 0 {
		return fmt.Errorf("stop loss price must be positive, got %.8f", intent.StopLossPrice)
	}
	if intent.Leverage <= 1 {
		// Spot / unleveraged: no liquidation level to protect.
		return nil
	}

	liqDistance := 1 / intent.Leverage
	safeDistance := liqDistance * (1 - c.cfg.LiquidationBuffer)

	switch intent.Side {
	case Long:
		if intent.StopLossPrice >= intent.EntryPrice {
			return fmt.Errorf("long stop loss %.8f must be below entry %.8f", intent.StopLossPrice, intent.EntryPrice)
		}
		stopDistance := (intent.EntryPrice - intent.StopLossPrice) / intent.EntryPrice
		if stopDistance > safeDistance {
			return fmt.Errorf("stop distance %.2f%% exceeds safe liquidation distance %.2f%% at %gx",
				stopDistance*100, safeDistance*100, intent.Leverage)
		}
	case Short:
		if intent.StopLossPrice <= intent.EntryPrice {
			return fmt.Errorf("short stop loss %.8f must be above entry %.8f", intent.StopLossPrice, intent.EntryPrice)
		}
		stopDistance := (intent.StopLossPrice - intent.EntryPrice) / intent.EntryPrice
		if stopDistance > safeDistance {
			return fmt.Errorf("stop distance %.2f%% exceeds safe liquidation distance %.2f%% at %gx",
				stopDistance*100, safeDistance*100, intent.Leverage)
		}
	default:
		return fmt.Errorf("unknown side %q", intent.Side)
	}
	return nil
}

// MaxLeverageCheck rejects trades above the configured leverage ceiling.
type MaxLeverageCheck struct {
	cfg *config.RiskConfig
}

func NewMaxLeverageCheck(cfg *config.RiskConfig) *MaxLeverageCheck {
	return &MaxLeverageCheck{cfg: cfg}
}

func (c *MaxLeverageCheck) Name() string { return "max_leverage_check" }

func (c *MaxLeverageCheck) Validate(intent Intent) error {
	if intent.Leverage > c.cfg.MaxSafeLeverage {
		return fmt.Errorf("leverage %gx exceeds max safe leverage %gx", intent.Leverage, c.cfg.MaxSafeLeverage)
	}
	return nil
}
