package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"smartTradeBot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

// memStore implements ports.LedgerStore in memory.
type memStore struct {
	mu        sync.Mutex
	events    []*domain.LedgerEvent
	completed []*domain.CompletedTrade
	failWrite bool
	prunes    int
}

func (s *memStore) AppendEvent(ctx context.Context, ev *domain.LedgerEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return 0, errors.New("disk full")
	}
	cp := *ev
	cp.ID = int64(len(s.events) + 1)
	s.events = append(s.events, &cp)
	return cp.ID, nil
}

func (s *memStore) SaveCompletedTrade(ctx context.Context, t *domain.CompletedTrade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return 0, errors.New("disk full")
	}
	cp := *t
	s.completed = append(s.completed, &cp)
	return int64(len(s.completed)), nil
}

func (s *memStore) LoadCompletedTrades(ctx context.Context) ([]*domain.CompletedTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed, nil
}

func (s *memStore) LoadRecentEvents(ctx context.Context, limit int) ([]*domain.LedgerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) > limit {
		return s.events[len(s.events)-limit:], nil
	}
	return s.events, nil
}

func (s *memStore) PruneEvents(ctx context.Context, userID int64, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prunes++
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestLedger(t *testing.T, cfg Config) (*Ledger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)}
	if cfg.Logger == nil {
		cfg.Logger = &mockLogger{}
	}
	cfg.Now = clock.Now
	l, err := New(cfg)
	require.NoError(t, err)
	return l, clock
}

func tradeCfg(id string, user int64, symbol string) domain.TradeConfig {
	cfg := domain.NewTradeConfig(id, user, time.Time{})
	cfg.Symbol = symbol
	cfg.Amount = 2
	cfg.Leverage = 3
	cfg.EntryPrice = 100
	return cfg
}

func TestNew_RequiresLogger(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestLedger_RetentionDropsOldest(t *testing.T) {
	l, _ := newTestLedger(t, Config{Retention: 3})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		l.Record(ctx, 1, domain.LedgerEvent{TradeID: "t", Type: domain.EventTrailingUpdated, Price: float64(i)})
	}
	l.Record(ctx, 2, domain.LedgerEvent{TradeID: "u", Type: domain.EventTradeStop})

	evs := l.Events(1, 0)
	require.Len(t, evs, 3)
	assert.Equal(t, []float64{3, 4, 5}, []float64{evs[0].Price, evs[1].Price, evs[2].Price})
	assert.Len(t, l.Events(2, 0), 1, "caps are per user")
	assert.Len(t, l.Events(1, 2), 2)
}

func TestLedger_TimestampsStrictlyIncreasePerTrade(t *testing.T) {
	l, clock := newTestLedger(t, Config{})
	ctx := context.Background()

	a := l.Record(ctx, 1, domain.LedgerEvent{TradeID: "t", Type: domain.EventEntryFilled})
	b := l.Record(ctx, 1, domain.LedgerEvent{TradeID: "t", Type: domain.EventTakeProfit})
	c := l.Record(ctx, 1, domain.LedgerEvent{TradeID: "t", Type: domain.EventStopLoss, Timestamp: a.Timestamp.Add(-time.Hour)})
	other := l.Record(ctx, 1, domain.LedgerEvent{TradeID: "x", Type: domain.EventTradeStart})

	assert.True(t, b.Timestamp.After(a.Timestamp))
	assert.True(t, c.Timestamp.After(b.Timestamp))
	assert.Equal(t, clock.Now(), other.Timestamp, "other trades are not bumped")
	assert.Equal(t, int64(1), c.UserID)
}

func TestLedger_ConcurrentAppends(t *testing.T) {
	l, _ := newTestLedger(t, Config{Retention: 10000})
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Record(ctx, 7, domain.LedgerEvent{TradeID: fmt.Sprintf("t%d", g), Type: domain.EventTrailingUpdated})
			}
		}(g)
	}
	wg.Wait()

	evs := l.Events(7, 0)
	require.Len(t, evs, 800)
	last := map[string]time.Time{}
	for _, ev := range evs {
		if prev, ok := last[ev.TradeID]; ok {
			assert.True(t, ev.Timestamp.After(prev))
		}
		last[ev.TradeID] = ev.Timestamp
	}
}

func TestLedger_BeginAndComplete(t *testing.T) {
	l, clock := newTestLedger(t, Config{InitialBalance: 1000})
	ctx := context.Background()
	cfg := tradeCfg("t1", 5, "BTCUSDT")

	l.Begin(ctx, cfg)
	assert.Equal(t, 1, l.Summary(5).ActiveTrades)

	l.Record(ctx, 5, domain.LedgerEvent{TradeID: "t1", Type: domain.EventTakeProfit, Price: 110, PnL: 30})
	clock.Set(clock.Now().Add(time.Hour))

	done, ok := l.Complete(ctx, 5, "t1", 30, domain.CloseReasonTakeProfit)
	require.True(t, ok)
	assert.Equal(t, 110.0, done.ExitPrice)
	assert.Equal(t, 3, done.Leverage)
	assert.Equal(t, time.Hour, done.Duration())

	_, again := l.Complete(ctx, 5, "t1", 30, domain.CloseReasonTakeProfit)
	assert.False(t, again, "completing twice is refused")
	_, wrongUser := l.Complete(ctx, 6, "t1", 0, domain.CloseReasonManual)
	assert.False(t, wrongUser)

	evs := l.Events(5, 0)
	require.Len(t, evs, 3)
	assert.Equal(t, domain.EventTradeStart, evs[0].Type)
	assert.Equal(t, domain.EventTradeComplete, evs[2].Type)
	assert.Equal(t, 0, l.Summary(5).ActiveTrades)
}

func TestLedger_RestartKeepsStartTime(t *testing.T) {
	l, clock := newTestLedger(t, Config{})
	ctx := context.Background()
	cfg := tradeCfg("t1", 1, "ETHUSDT")

	l.Begin(ctx, cfg)
	first := l.ActiveTrades(1)[0].StartedAt
	clock.Set(clock.Now().Add(time.Minute))
	l.Begin(ctx, cfg)

	require.Len(t, l.ActiveTrades(1), 1)
	assert.Equal(t, first, l.ActiveTrades(1)[0].StartedAt)

	l.Discard(1, "t1")
	assert.Empty(t, l.ActiveTrades(1))
}

func TestLedger_StoppedTradeIsNotActive(t *testing.T) {
	l, clock := newTestLedger(t, Config{})
	ctx := context.Background()
	cfg := tradeCfg("t1", 1, "ETHUSDT")

	l.Begin(ctx, cfg)
	started := l.ActiveTrades(1)[0].StartedAt
	l.Record(ctx, 1, domain.LedgerEvent{TradeID: "t1", Type: domain.EventTradeStop})
	assert.Equal(t, 0, l.Summary(1).ActiveTrades)
	require.Len(t, l.ActiveTrades(1), 1)
	assert.True(t, l.ActiveTrades(1)[0].Paused)

	clock.Set(clock.Now().Add(time.Minute))
	l.Begin(ctx, cfg)
	assert.Equal(t, 1, l.Summary(1).ActiveTrades)
	assert.False(t, l.ActiveTrades(1)[0].Paused)
	assert.Equal(t, started, l.ActiveTrades(1)[0].StartedAt)
}

func TestLedger_DiscardForgetsTimestamps(t *testing.T) {
	l, _ := newTestLedger(t, Config{})
	ctx := context.Background()

	l.Begin(ctx, tradeCfg("t1", 1, "ETHUSDT"))
	l.Begin(ctx, tradeCfg("t2", 2, "BTCUSDT"))

	l.Discard(1, "t2")
	assert.Len(t, l.ActiveTrades(2), 1, "another user's trade is kept")

	l.Discard(1, "t1")
	l.mu.Lock()
	_, t1 := l.lastStamp["t1"]
	_, t2 := l.lastStamp["t2"]
	l.mu.Unlock()
	assert.False(t, t1)
	assert.True(t, t2)
	assert.Empty(t, l.ActiveTrades(1))
}

func completeTrade(t *testing.T, l *Ledger, clock *fakeClock, user int64, id, symbol string, pnl float64, at time.Time) {
	t.Helper()
	l.Begin(context.Background(), tradeCfg(id, user, symbol))
	clock.Set(at)
	_, ok := l.Complete(context.Background(), user, id, pnl, domain.CloseReasonTakeProfit)
	require.True(t, ok)
}

func TestLedger_Summary(t *testing.T) {
	l, clock := newTestLedger(t, Config{InitialBalance: 1000})
	base := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	pnls := []float64{100, -50, -50, 200, 50}
	for i, p := range pnls {
		completeTrade(t, l, clock, 1, fmt.Sprintf("t%d", i), "BTCUSDT", p, base.Add(time.Duration(i)*time.Hour))
	}

	s := l.Summary(1)
	assert.Equal(t, 5, s.TotalTrades)
	assert.Equal(t, 3, s.WinningTrades)
	assert.Equal(t, 2, s.LosingTrades)
	assert.InDelta(t, 0.6, s.WinRate, 1e-9)
	assert.InDelta(t, 250.0, s.TotalPnL, 1e-9)
	assert.InDelta(t, 350.0/3, s.AverageWin, 1e-9)
	assert.InDelta(t, -50.0, s.AverageLoss, 1e-9)
	assert.InDelta(t, 3.5, s.ProfitFactor, 1e-9)
	assert.Equal(t, 200.0, s.BestTrade)
	assert.Equal(t, -50.0, s.WorstTrade)
	assert.Equal(t, 2, s.MaxConsecutiveWins)
	assert.Equal(t, 2, s.MaxConsecutiveLosses)
	assert.Equal(t, 2, s.CurrentStreak)
	assert.InDelta(t, 1250.0, s.FinalBalance, 1e-9)
	// peak 1100 then 1000: 100/1100
	assert.InDelta(t, 100.0/1100, s.MaxDrawdown, 1e-9)
	assert.InDelta(t, 0.6*350.0/3+0.4*-50, s.Expectancy, 1e-9)
	assert.Greater(t, s.SharpeRatio, 0.0)
}

func TestLedger_SummaryEmpty(t *testing.T) {
	l, _ := newTestLedger(t, Config{InitialBalance: 500})
	s := l.Summary(1)
	assert.Zero(t, s.TotalTrades)
	assert.Equal(t, 500.0, s.FinalBalance)
	assert.Zero(t, s.SharpeRatio)
}

func TestLedger_LossStreakIsNegative(t *testing.T) {
	l, clock := newTestLedger(t, Config{})
	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	completeTrade(t, l, clock, 1, "a", "X", 10, base)
	completeTrade(t, l, clock, 1, "b", "X", -1, base.Add(time.Hour))
	completeTrade(t, l, clock, 1, "c", "X", -2, base.Add(2*time.Hour))
	assert.Equal(t, -2, l.Summary(1).CurrentStreak)
}

func TestLedger_Breakdowns(t *testing.T) {
	l, clock := newTestLedger(t, Config{})
	jan := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)

	completeTrade(t, l, clock, 1, "a", "BTCUSDT", 40, jan)
	completeTrade(t, l, clock, 1, "b", "ETHUSDT", -10, jan.Add(time.Hour))
	completeTrade(t, l, clock, 1, "c", "BTCUSDT", -20, feb)
	completeTrade(t, l, clock, 1, "d", "SOLUSDT", 20, feb.Add(time.Hour))

	symbols := l.SymbolBreakdown(1)
	require.Len(t, symbols, 3)
	assert.Equal(t, "BTCUSDT", symbols[0].Symbol)
	assert.Equal(t, 2, symbols[0].Trades)
	assert.InDelta(t, 0.5, symbols[0].WinRate, 1e-9)
	assert.InDelta(t, 10.0, symbols[0].AveragePnL, 1e-9)
	assert.Equal(t, "SOLUSDT", symbols[1].Symbol, "ties broken by symbol after P&L ordering")
	assert.Equal(t, "ETHUSDT", symbols[2].Symbol)

	months := l.MonthlyBreakdown(1)
	require.Len(t, months, 2)
	assert.Equal(t, MonthlyStats{Month: "2024-01", Trades: 2, Wins: 1, PnL: 30}, months[0])
	assert.Equal(t, MonthlyStats{Month: "2024-02", Trades: 2, Wins: 1, PnL: 0}, months[1])

	recent := l.RecentTrades(1, 2)
	require.Len(t, recent, 2)
	assert.Equal(t, "d", recent[0].TradeID)
	assert.Equal(t, "c", recent[1].TradeID)
}

func TestLedger_RealizedPnLSince(t *testing.T) {
	l, clock := newTestLedger(t, Config{})
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	completeTrade(t, l, clock, 1, "a", "X", -30, day.Add(-time.Minute))
	completeTrade(t, l, clock, 1, "b", "X", -15, day)
	completeTrade(t, l, clock, 1, "c", "X", 5, day.Add(time.Hour))
	completeTrade(t, l, clock, 2, "d", "X", -100, day.Add(time.Hour))

	assert.InDelta(t, -10.0, l.RealizedPnLSince(1, day), 1e-9)
	assert.InDelta(t, -40.0, l.RealizedPnLSince(1, day.Add(-time.Hour)), 1e-9)
	assert.Zero(t, l.RealizedPnLSince(3, day))
}

func TestLedger_CSVExport(t *testing.T) {
	l, clock := newTestLedger(t, Config{})
	completeTrade(t, l, clock, 1, "a", "BTCUSDT", 12.5, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))

	out, err := l.CSVExport(1)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "a", rows[1][0])
	assert.Equal(t, "long", rows[1][2])
	assert.Equal(t, "12.5", rows[1][7])
	assert.Equal(t, "TP", rows[1][8])
	assert.Equal(t, "2024-03-01T10:00:00Z", rows[1][11])

	empty, err := l.CSVExport(99)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(csvHeader, ",")+"\n", string(empty))
}

func TestLedger_PersistsAndRestores(t *testing.T) {
	store := &memStore{}
	l, clock := newTestLedger(t, Config{Store: store, Retention: 2})
	completeTrade(t, l, clock, 3, "a", "BTCUSDT", 5, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))

	assert.Len(t, store.events, 2)
	assert.Len(t, store.completed, 1)

	l.Record(context.Background(), 3, domain.LedgerEvent{TradeID: "b", Type: domain.EventTradeStop})
	assert.Equal(t, 1, store.prunes, "store is pruned once the cap drops events")

	restored, _ := newTestLedger(t, Config{Store: store, Retention: 2})
	require.NoError(t, restored.Restore(context.Background()))
	assert.Equal(t, 1, restored.Summary(3).TotalTrades)
	assert.Len(t, restored.Events(3, 0), 2)
}

func TestLedger_StoreFailuresAreLogged(t *testing.T) {
	log := &mockLogger{}
	store := &memStore{failWrite: true}
	l, clock := newTestLedger(t, Config{Store: store, Logger: log})

	completeTrade(t, l, clock, 1, "a", "BTCUSDT", 1, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, 1, l.Summary(1).TotalTrades, "in-memory state is unaffected")
	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Contains(t, log.errors, "Failed to persist ledger event")
	assert.Contains(t, log.errors, "Failed to persist completed trade")
}
