// Package ledger keeps the per-user event journal and completed-trade history
// and derives portfolio statistics from them on demand.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"smartTradeBot/internal/domain"
	"smartTradeBot/internal/metrics"
	"smartTradeBot/internal/ports"
)

const (
	defaultRetention = 500
	storeTimeout     = 5 * time.Second
)

// Config holds the ledger dependencies. Store and Metrics are optional.
type Config struct {
	Retention      int     // Events kept per user; oldest dropped beyond it
	InitialBalance float64 // Reference equity for drawdown
	Store          ports.LedgerStore
	Logger         ports.Logger
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// Ledger is safe for concurrent use. Appends are the only mutation shared
// between controllers.
type Ledger struct {
	mu sync.Mutex

	retention      int
	initialBalance float64
	store          ports.LedgerStore
	logger         ports.Logger
	metrics        *metrics.Metrics
	now            func() time.Time

	events    map[int64][]domain.LedgerEvent
	lastStamp map[string]time.Time // per trade, keeps each trade's stream strictly increasing
	active    map[string]domain.ActiveTrade
	completed map[int64][]domain.CompletedTrade
}

// New creates an empty ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for ledger")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ledger{
		retention:      cfg.Retention,
		initialBalance: cfg.InitialBalance,
		store:          cfg.Store,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		now:            cfg.Now,
		events:         make(map[int64][]domain.LedgerEvent),
		lastStamp:      make(map[string]time.Time),
		active:         make(map[string]domain.ActiveTrade),
		completed:      make(map[int64][]domain.CompletedTrade),
	}, nil
}

// Record appends an event to the user's log and returns it as stored. A
// trade_stop event marks the trade's active record paused.
func (l *Ledger) Record(ctx context.Context, userID int64, ev domain.LedgerEvent) domain.LedgerEvent {
	l.mu.Lock()
	if rec, ok := l.active[ev.TradeID]; ok && rec.UserID == userID && ev.Type == domain.EventTradeStop {
		rec.Paused = true
		l.active[ev.TradeID] = rec
	}
	stored, pruned := l.appendLocked(userID, ev)
	l.mu.Unlock()

	l.persistEvent(ctx, &stored, pruned)
	return stored
}

// Begin records trade_start and opens the trade's active record. A restarted
// trade keeps its original start time.
func (l *Ledger) Begin(ctx context.Context, cfg domain.TradeConfig) domain.LedgerEvent {
	l.mu.Lock()
	if rec, ok := l.active[cfg.ID]; ok {
		rec.Paused = false
		l.active[cfg.ID] = rec
	} else {
		l.active[cfg.ID] = domain.ActiveTrade{
			UserID:     cfg.UserID,
			TradeID:    cfg.ID,
			Symbol:     cfg.Symbol,
			Side:       cfg.Side,
			EntryPrice: cfg.EntryPrice,
			Amount:     cfg.Amount,
			Leverage:   cfg.Leverage,
			DryRun:     cfg.DryRun,
			StartedAt:  l.now(),
		}
	}
	stored, pruned := l.appendLocked(cfg.UserID, domain.LedgerEvent{
		TradeID:  cfg.ID,
		Type:     domain.EventTradeStart,
		Symbol:   cfg.Symbol,
		Side:     cfg.Side,
		Price:    cfg.EntryPrice,
		Quantity: cfg.Amount,
		Message:  fmt.Sprintf("leverage=%dx dry_run=%t", cfg.Leverage, cfg.DryRun),
	})
	l.mu.Unlock()

	l.persistEvent(ctx, &stored, pruned)
	return stored
}

// Complete moves an active record to the completed list and appends a
// trade_complete event. It reports false when the trade has no active record.
func (l *Ledger) Complete(ctx context.Context, userID int64, tradeID string, finalPnL float64, reason domain.CloseReason) (domain.CompletedTrade, bool) {
	l.mu.Lock()
	rec, ok := l.active[tradeID]
	if !ok || rec.UserID != userID {
		l.mu.Unlock()
		return domain.CompletedTrade{}, false
	}
	delete(l.active, tradeID)

	done := domain.CompletedTrade{
		UserID:      userID,
		TradeID:     tradeID,
		Symbol:      rec.Symbol,
		Side:        rec.Side,
		EntryPrice:  rec.EntryPrice,
		ExitPrice:   l.lastPriceLocked(userID, tradeID, rec.EntryPrice),
		Amount:      rec.Amount,
		Leverage:    rec.Leverage,
		PnL:         domain.Round8(finalPnL),
		Reason:      reason,
		DryRun:      rec.DryRun,
		StartedAt:   rec.StartedAt,
		CompletedAt: l.now(),
	}
	l.completed[userID] = append(l.completed[userID], done)

	stored, pruned := l.appendLocked(userID, domain.LedgerEvent{
		TradeID: tradeID,
		Type:    domain.EventTradeComplete,
		Symbol:  rec.Symbol,
		Side:    rec.Side,
		Price:   done.ExitPrice,
		PnL:     done.PnL,
		Message: string(reason),
	})
	l.mu.Unlock()

	l.persistEvent(ctx, &stored, pruned)
	if l.store != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		defer cancel()
		if _, err := l.store.SaveCompletedTrade(sctx, &done); err != nil {
			l.logger.Error(ctx, err, "Failed to persist completed trade", map[string]interface{}{"tradeID": tradeID})
		}
	}
	return done, true
}

// Discard forgets a deleted trade: its active record, if any, and its
// timestamp watermark.
func (l *Ledger) Discard(userID int64, tradeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.active[tradeID]
	if ok && rec.UserID != userID {
		return
	}
	delete(l.active, tradeID)
	delete(l.lastStamp, tradeID)
}

// Restore loads completed trades and recent events from the store.
func (l *Ledger) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	trades, err := l.store.LoadCompletedTrades(ctx)
	if err != nil {
		return fmt.Errorf("restore completed trades: %w", err)
	}
	events, err := l.store.LoadRecentEvents(ctx, l.retention)
	if err != nil {
		return fmt.Errorf("restore ledger events: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range trades {
		l.completed[t.UserID] = append(l.completed[t.UserID], *t)
	}
	for _, ev := range events {
		l.events[ev.UserID] = append(l.events[ev.UserID], *ev)
		if ev.Timestamp.After(l.lastStamp[ev.TradeID]) {
			l.lastStamp[ev.TradeID] = ev.Timestamp
		}
	}
	l.logger.Info(ctx, "Ledger restored", map[string]interface{}{"completedTrades": len(trades), "events": len(events)})
	return nil
}

// Events returns up to n of the user's most recent events, oldest first.
// n <= 0 returns all retained events.
func (l *Ledger) Events(userID int64, n int) []domain.LedgerEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	evs := l.events[userID]
	if n > 0 && len(evs) > n {
		evs = evs[len(evs)-n:]
	}
	out := make([]domain.LedgerEvent, len(evs))
	copy(out, evs)
	return out
}

// ActiveTrades returns the user's open trade records.
func (l *Ledger) ActiveTrades(userID int64) []domain.ActiveTrade {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.ActiveTrade
	for _, rec := range l.active {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out
}

func (l *Ledger) completedCopy(userID int64) []domain.CompletedTrade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.CompletedTrade, len(l.completed[userID]))
	copy(out, l.completed[userID])
	return out
}

func (l *Ledger) activeCount(userID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, rec := range l.active {
		if rec.UserID == userID && !rec.Paused {
			n++
		}
	}
	return n
}

// appendLocked stamps and stores ev. It reports whether the retention cap
// dropped old events.
func (l *Ledger) appendLocked(userID int64, ev domain.LedgerEvent) (domain.LedgerEvent, bool) {
	ev.UserID = userID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	if last, ok := l.lastStamp[ev.TradeID]; ok && !ev.Timestamp.After(last) {
		ev.Timestamp = last.Add(time.Nanosecond)
	}
	l.lastStamp[ev.TradeID] = ev.Timestamp

	evs := append(l.events[userID], ev)
	pruned := false
	if over := len(evs) - l.retention; over > 0 {
		evs = append(evs[:0:0], evs[over:]...)
		pruned = true
	}
	l.events[userID] = evs
	l.metrics.LedgerEvent(string(ev.Type))
	return ev, pruned
}

func (l *Ledger) lastPriceLocked(userID int64, tradeID string, fallback float64) float64 {
	evs := l.events[userID]
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].TradeID == tradeID && evs[i].Price > 0 && evs[i].Type != domain.EventTradeStart {
			return evs[i].Price
		}
	}
	return fallback
}

func (l *Ledger) persistEvent(ctx context.Context, ev *domain.LedgerEvent, pruned bool) {
	if l.store == nil {
		return
	}
	// Journal writes outlive a cancelled controller context so stop events land.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	if _, err := l.store.AppendEvent(sctx, ev); err != nil {
		l.logger.Error(ctx, err, "Failed to persist ledger event", map[string]interface{}{"tradeID": ev.TradeID, "type": ev.Type})
		return
	}
	if pruned {
		if err := l.store.PruneEvents(sctx, ev.UserID, l.retention); err != nil {
			l.logger.Warn(ctx, "Failed to prune ledger events", map[string]interface{}{"userID": ev.UserID, "error": err.Error()})
		}
	}
}
