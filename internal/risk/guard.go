// Package risk gates trade starts against account-wide limits.
package risk

import (
	"fmt"
	"time"

	"smartTradeBot/internal/domain"
	"smartTradeBot/internal/ports"
)

// Limits holds the risk limits. A zero value disables the limit.
type Limits struct {
	MaxLeverage     int
	MaxAmount       float64 // Per trade, in base asset units
	MaxNotional     float64 // Per trade, amount * entry * leverage
	MaxActiveTrades int     // Per user
	MaxDailyLoss    float64 // Realized loss per user since UTC midnight, positive number
}

// PnLSource reports realized P&L. The portfolio ledger implements it.
type PnLSource interface {
	RealizedPnLSince(userID int64, since time.Time) float64
}

// Guard checks a trade against Limits before it starts.
type Guard struct {
	limits Limits
	pnl    PnLSource
	now    func() time.Time
}

// NewGuard creates a guard. pnl may be nil when MaxDailyLoss is unset.
func NewGuard(limits Limits, pnl PnLSource, now func() time.Time) (*Guard, error) {
	if limits.MaxDailyLoss > 0 && pnl == nil {
		return nil, fmt.Errorf("daily loss limit needs a P&L source: %w", ports.ErrConfigurationError)
	}
	if now == nil {
		now = time.Now
	}
	return &Guard{limits: limits, pnl: pnl, now: now}, nil
}

// Allow returns an error wrapping ports.ErrRiskLimitExceeded when starting cfg
// would break a limit. active is the number of the user's running trades.
func (g *Guard) Allow(cfg domain.TradeConfig, active int) error {
	l := g.limits
	if l.MaxLeverage > 0 && cfg.Leverage > l.MaxLeverage {
		return fmt.Errorf("leverage %dx exceeds maximum allowed %dx: %w", cfg.Leverage, l.MaxLeverage, ports.ErrRiskLimitExceeded)
	}
	if l.MaxAmount > 0 && cfg.Amount > l.MaxAmount {
		return fmt.Errorf("amount %v exceeds maximum allowed %v: %w", cfg.Amount, l.MaxAmount, ports.ErrRiskLimitExceeded)
	}
	if notional := cfg.Amount * cfg.EntryPrice * float64(cfg.Leverage); l.MaxNotional > 0 && notional > l.MaxNotional {
		return fmt.Errorf("notional %.2f exceeds maximum allowed %.2f: %w", notional, l.MaxNotional, ports.ErrRiskLimitExceeded)
	}
	if l.MaxActiveTrades > 0 && active >= l.MaxActiveTrades {
		return fmt.Errorf("%d active trades, maximum is %d: %w", active, l.MaxActiveTrades, ports.ErrRiskLimitExceeded)
	}
	if l.MaxDailyLoss > 0 {
		now := g.now().UTC()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if pnl := g.pnl.RealizedPnLSince(cfg.UserID, midnight); pnl <= -l.MaxDailyLoss {
			return fmt.Errorf("daily loss %.2f reached the limit of %.2f: %w", -pnl, l.MaxDailyLoss, ports.ErrRiskLimitExceeded)
		}
	}
	return nil
}
