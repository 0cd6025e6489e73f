package controller

import (
	"time"

	"smartTradeBot/internal/domain"
)

// PositionClosedEpsilon is the fraction of the configured amount below which
// the remaining position counts as closed.
const PositionClosedEpsilon = 1e-4

// State is the transient execution state of a running position.
type State struct {
	Phase             domain.Phase
	EntryFilled       bool
	EntryOrderID      int64
	TPFilled          [domain.TakeProfitLevels]bool
	BreakevenMoved    bool
	TrailingActive    bool
	TrailingTriggered bool
	HighestPrice      float64
	LowestPrice       float64
	CurrentSL         float64
	StopKind          domain.CloseReason // Reason reported if the current stop is hit
	Remaining         float64
	RealizedPnL       float64
	CurrentPrice      float64
	StartedAt         time.Time
	ExitReason        domain.CloseReason
	ConsecutiveErrors int
	LastError         string
}

// Snapshot is a consistent copy of a controller's config and state.
type Snapshot struct {
	Config domain.TradeConfig
	State  State
}

// UnrealizedPnL is the leveraged P&L of the open remainder at the current price.
func (s Snapshot) UnrealizedPnL() float64 {
	if !s.State.EntryFilled || s.State.CurrentPrice <= 0 {
		return 0
	}
	c := s.Config
	return domain.Round8(c.Side.Sign() * (s.State.CurrentPrice - c.EntryPrice) * s.State.Remaining * float64(c.Leverage))
}

// UnrealizedPercent is the unleveraged price move from entry in the trade's favor.
func (s Snapshot) UnrealizedPercent() float64 {
	return unrealizedPercent(s.Config, s.State.CurrentPrice)
}

func unrealizedPercent(c domain.TradeConfig, price float64) float64 {
	if c.EntryPrice <= 0 || price <= 0 {
		return 0
	}
	return c.Side.Sign() * (price - c.EntryPrice) / c.EntryPrice * 100
}

// FilledLevels returns the 1-based take-profit levels already executed.
func (s Snapshot) FilledLevels() []int {
	var levels []int
	for i, filled := range s.State.TPFilled {
		if filled {
			levels = append(levels, i+1)
		}
	}
	return levels
}
