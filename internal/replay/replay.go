// Package replay drives a position controller over historical klines with a
// simulated exchange, so a trade plan can be evaluated before it goes live.
package replay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"smartTradeBot/internal/adapters/simexchange"
	"smartTradeBot/internal/controller"
	"smartTradeBot/internal/domain"
	"smartTradeBot/internal/ledger"
	"smartTradeBot/internal/ports"
)

// Config holds the replay parameters.
type Config struct {
	Trade          domain.TradeConfig
	InitialBalance float64
	Logger         ports.Logger
}

// Result holds the outcome of one replay.
type Result struct {
	Trade     domain.TradeConfig
	Final     controller.Snapshot
	Completed *domain.CompletedTrade // Nil when the trade was still open at the last kline
	Events    []domain.LedgerEvent
	Orders    []ports.OrderResult
	Summary   ledger.Summary
	Ticks     int
	EntryAt   time.Time // Zero when the entry price was never reached
	EndedAt   time.Time
}

// Run replays the trade over klines. The entry fills at the first path price
// that reaches the entry limit; from there every path price is one controller
// cycle. Klines are visited in open-time order.
func Run(ctx context.Context, cfg Config, klines []*domain.Kline) (*Result, error) {
	op := "Replay"
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for replay")
	}
	if len(klines) == 0 {
		return nil, fmt.Errorf("%s failed: %w: no klines", op, ports.ErrInvalidRequest)
	}

	trade := cfg.Trade
	if trade.ID == "" {
		trade.ID = "replay"
	}
	trade.DryRun = true
	trade.RecalculatePrices()
	if problems := trade.Validate(); len(problems) > 0 {
		return nil, &ports.ValidationError{TradeID: trade.ID, Problems: problems}
	}

	sorted := make([]*domain.Kline, len(klines))
	copy(sorted, klines)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OpenTime.Before(sorted[j].OpenTime) })

	clock := sorted[0].OpenTime
	now := func() time.Time { return clock }

	book, err := ledger.New(ledger.Config{
		Retention:      len(sorted)*4 + 16,
		InitialBalance: cfg.InitialBalance,
		Logger:         cfg.Logger,
		Now:            now,
	})
	if err != nil {
		return nil, fmt.Errorf("%s failed to create ledger: %w", op, err)
	}
	exchange := simexchange.New(simexchange.Config{Seed: trade.ID, Anchor: trade.EntryPrice, Now: now})
	ctrl, err := controller.New(trade, controller.Settings{}, controller.Deps{
		Port:   exchange,
		Ledger: book,
		Logger: cfg.Logger,
		Now:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	res := &Result{Trade: trade}
	started, done := false, false

	for _, k := range sorted {
		path := k.PricePath(trade.Side)
		step := time.Duration(0)
		if span := k.CloseTime.Sub(k.OpenTime); span > 0 {
			step = span / time.Duration(len(path)-1)
		}
		for i, px := range path {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%s interrupted: %w: %w", op, ports.ErrContextCanceled, err)
			}
			clock = k.OpenTime.Add(step * time.Duration(i))

			if !started {
				if !entryReached(trade, px) {
					continue
				}
				book.Begin(ctx, trade)
				if err := ctrl.Setup(ctx); err != nil {
					return nil, fmt.Errorf("%s failed: %w", op, err)
				}
				started = true
				res.EntryAt = clock
			}

			exchange.Script(trade.Symbol, px)
			res.Ticks++
			finished, err := ctrl.Tick(ctx)
			if err != nil {
				return nil, fmt.Errorf("%s failed at %s: %w", op, clock.Format(time.RFC3339), err)
			}
			if finished {
				done = true
				break
			}
		}
		if done {
			break
		}
	}

	res.EndedAt = clock
	res.Final = ctrl.Snapshot()
	res.Events = book.Events(trade.UserID, 0)
	res.Orders = exchange.Orders()
	res.Summary = book.Summary(trade.UserID)
	if recent := book.RecentTrades(trade.UserID, 1); len(recent) == 1 {
		res.Completed = &recent[0]
	}
	cfg.Logger.Info(ctx, op+": Finished", map[string]interface{}{
		"tradeID": trade.ID,
		"ticks":   res.Ticks,
		"phase":   res.Final.State.Phase,
		"pnl":     res.Final.State.RealizedPnL,
	})
	return res, nil
}

// entryReached reports whether a resting entry limit would fill at price.
func entryReached(trade domain.TradeConfig, price float64) bool {
	if trade.Side == domain.SideShort {
		return price >= trade.EntryPrice
	}
	return price <= trade.EntryPrice
}
