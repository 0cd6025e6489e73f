package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"smartTradeBot/internal/adapters/simexchange"
	"smartTradeBot/internal/controller"
	"smartTradeBot/internal/domain"
	"smartTradeBot/internal/ledger"
	"smartTradeBot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// steadyPort quotes a constant price and accepts every order. When hang is
// set, price requests block until release is closed, ignoring ctx.
type steadyPort struct {
	price      float64
	prepareErr error
	hang       bool
	release    chan struct{}
}

func (p *steadyPort) Prepare(ctx context.Context, symbol string, leverage int) error {
	return p.prepareErr
}

func (p *steadyPort) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if p.hang {
		<-p.release
	}
	return p.price, nil
}

func (p *steadyPort) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResult, error) {
	return &ports.OrderResult{OrderID: 1, Status: domain.OrderStatusFilled}, nil
}

func (p *steadyPort) OrderStatus(ctx context.Context, symbol string, orderID int64) (*ports.OrderResult, error) {
	return &ports.OrderResult{OrderID: orderID, Status: domain.OrderStatusFilled}, nil
}

func (p *steadyPort) ClosePartial(ctx context.Context, symbol string, side domain.Side, qty, price float64) (*ports.OrderResult, error) {
	return &ports.OrderResult{Status: domain.OrderStatusFilled}, nil
}

func (p *steadyPort) CloseFull(ctx context.Context, symbol string, side domain.Side, price float64) (*ports.OrderResult, error) {
	return &ports.OrderResult{Status: domain.OrderStatusFilled}, nil
}

func (p *steadyPort) UpdateStop(ctx context.Context, symbol string, side domain.Side, newPrice float64) (*ports.OrderResult, error) {
	return &ports.OrderResult{Status: domain.OrderStatusNew}, nil
}

const user int64 = 42

func testSettings() controller.Settings {
	return controller.Settings{
		Interval:             50 * time.Millisecond,
		ErrorBackoff:         time.Millisecond,
		MaxErrorBackoff:      time.Millisecond,
		RequestTimeout:       time.Minute,
		MaxSetupAttempts:     1,
		MaxConsecutiveErrors: 3,
	}
}

type fixture struct {
	orch   *Orchestrator
	ledger *ledger.Ledger

	mu    sync.Mutex
	ports map[string]ports.ExecutionPort
	port  func(cfg domain.TradeConfig) (ports.ExecutionPort, error)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l, err := ledger.New(ledger.Config{Logger: &mockLogger{}})
	require.NoError(t, err)
	f := &fixture{ledger: l, ports: make(map[string]ports.ExecutionPort)}
	f.port = func(cfg domain.TradeConfig) (ports.ExecutionPort, error) {
		return &steadyPort{price: 100}, nil
	}
	o, err := New(Config{
		Settings: testSettings(),
		Journal:  l,
		PortFactory: func(cfg domain.TradeConfig) (ports.ExecutionPort, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			p, err := f.port(cfg)
			if err == nil {
				f.ports[cfg.ID] = p
			}
			return p, err
		},
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	f.orch = o
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return f
}

// validTrade creates a trade that never reaches its targets at price 100.
func (f *fixture) validTrade(t *testing.T) domain.TradeConfig {
	t.Helper()
	cfg := f.orch.Create(user)
	cfg, err := f.orch.Update(user, cfg.ID, func(c *domain.TradeConfig) error {
		c.Symbol = "BTCUSDT"
		c.Amount = 1
		c.EntryPrice = 100
		c.SLPrice = 50
		c.TakeProfits = [domain.TakeProfitLevels]domain.TakeProfit{{Price: 200, SizePercent: 100}, {}, {}}
		return nil
	})
	require.NoError(t, err)
	return cfg
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Config{Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
	_, err = New(Config{})
	assert.Error(t, err)
}

func TestCreate_SelectsFirstTradeOnly(t *testing.T) {
	f := newFixture(t)

	first := f.orch.Create(user)
	second := f.orch.Create(user)

	sel, ok := f.orch.Selected(user)
	require.True(t, ok)
	assert.Equal(t, first.ID, sel)
	assert.Len(t, first.ID, shortIDLength)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, domain.StatusConfigured, second.Status)

	list := f.orch.List(user)
	require.Len(t, list, 2)
	assert.False(t, list[1].CreatedAt.Before(list[0].CreatedAt))
	assert.Empty(t, f.orch.List(user+1))
}

func TestCopy_SelectsDuplicate(t *testing.T) {
	f := newFixture(t)
	src := f.validTrade(t)
	_, err := f.orch.Update(user, src.ID, func(c *domain.TradeConfig) error {
		c.Name = "Swing"
		return nil
	})
	require.NoError(t, err)

	dup, err := f.orch.Copy(user, src.ID)
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, dup.ID)
	assert.Equal(t, "Swing (copy)", dup.Name)
	assert.Equal(t, src.EntryPrice, dup.EntryPrice)

	sel, _ := f.orch.Selected(user)
	assert.Equal(t, dup.ID, sel)

	_, err = f.orch.Copy(user, "missing")
	assert.ErrorIs(t, err, ports.ErrTradeNotFound)
}

func TestUpdate_KeepsIdentity(t *testing.T) {
	f := newFixture(t)
	cfg := f.orch.Create(user)

	updated, err := f.orch.Update(user, cfg.ID, func(c *domain.TradeConfig) error {
		c.ID = "hijack"
		c.UserID = 1
		c.Status = domain.StatusActive
		c.Symbol = "ETHUSDT"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, updated.ID)
	assert.Equal(t, user, updated.UserID)
	assert.Equal(t, domain.StatusConfigured, updated.Status)
	assert.Equal(t, "ETHUSDT", updated.Symbol)

	_, err = f.orch.Update(user, cfg.ID, func(c *domain.TradeConfig) error {
		return errors.New("rejected")
	})
	assert.EqualError(t, err, "rejected")
}

func TestStart_InvalidConfig(t *testing.T) {
	f := newFixture(t)
	cfg := f.orch.Create(user)

	ok, err := f.orch.Start(user, cfg.ID)
	assert.False(t, ok)
	var vErr *ports.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.ErrorIs(t, err, ports.ErrConfigValidation)
	assert.Contains(t, vErr.Problems, "symbol must be set")

	got, err := f.orch.Get(user, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfigured, got.Status)
	assert.Zero(t, f.orch.ActiveCount(user))
	assert.Empty(t, f.ledger.Events(user, 0))
}

func TestStart_Twice(t *testing.T) {
	f := newFixture(t)
	cfg := f.validTrade(t)

	ok, err := f.orch.Start(user, cfg.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.orch.Start(user, cfg.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ports.ErrAlreadyRunning)
	assert.ErrorIs(t, err, ports.ErrOrchestrationConflict)
	assert.Equal(t, 1, f.orch.ActiveCount(user))

	got, _ := f.orch.Get(user, cfg.ID)
	assert.Equal(t, domain.StatusActive, got.Status)

	events := f.ledger.Events(user, 0)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventTradeStart, events[0].Type)
}

func TestStart_UnknownTradeAndPortFailure(t *testing.T) {
	f := newFixture(t)
	ok, err := f.orch.Start(user, "nope")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ports.ErrTradeNotFound)

	cfg := f.validTrade(t)
	f.port = func(domain.TradeConfig) (ports.ExecutionPort, error) {
		return nil, errors.New("no credentials")
	}
	ok, err = f.orch.Start(user, cfg.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ports.ErrSetupFailed)
	assert.Zero(t, f.orch.ActiveCount(user))
}

func TestStop_WhilePortHangs(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	defer close(release)
	f.port = func(domain.TradeConfig) (ports.ExecutionPort, error) {
		return &steadyPort{price: 100, hang: true, release: release}, nil
	}
	cfg := f.validTrade(t)

	ok, err := f.orch.Start(user, cfg.ID)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	ok, err = f.orch.Stop(user, cfg.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Less(t, time.Since(start), testSettings().Interval)

	got, _ := f.orch.Get(user, cfg.ID)
	assert.Equal(t, domain.StatusPaused, got.Status)
	assert.Zero(t, f.orch.ActiveCount(user))

	events := f.ledger.Events(user, 1)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTradeStop, events[0].Type)
	assert.Equal(t, 0, f.ledger.Summary(user).ActiveTrades)

	ok, err = f.orch.Stop(user, cfg.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ports.ErrNotRunning)
}

func TestUpdate_RefusedWhileRunning(t *testing.T) {
	f := newFixture(t)
	cfg := f.validTrade(t)
	_, err := f.orch.Start(user, cfg.ID)
	require.NoError(t, err)

	_, err = f.orch.Update(user, cfg.ID, func(c *domain.TradeConfig) error {
		c.Amount = 2
		return nil
	})
	assert.ErrorIs(t, err, ports.ErrTradeActive)

	_, err = f.orch.Stop(user, cfg.ID)
	require.NoError(t, err)
	updated, err := f.orch.Update(user, cfg.ID, func(c *domain.TradeConfig) error {
		c.Amount = 2
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, updated.Amount)
}

func TestDelete_ReselectsSmallestRemaining(t *testing.T) {
	f := newFixture(t)
	a := f.orch.Create(user)
	b := f.orch.Create(user)
	c := f.orch.Create(user)
	require.NoError(t, f.orch.Select(user, b.ID))

	ok, err := f.orch.Delete(user, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	remaining := []string{a.ID, c.ID}
	sort.Strings(remaining)
	sel, ok := f.orch.Selected(user)
	require.True(t, ok)
	assert.Equal(t, remaining[0], sel)

	_, err = f.orch.Get(user, b.ID)
	assert.ErrorIs(t, err, ports.ErrTradeNotFound)

	_, err = f.orch.Delete(user, remaining[1])
	require.NoError(t, err)
	sel, _ = f.orch.Selected(user)
	assert.Equal(t, remaining[0], sel)

	_, err = f.orch.Delete(user, remaining[0])
	require.NoError(t, err)
	_, ok = f.orch.Selected(user)
	assert.False(t, ok)
}

func TestDelete_StopsRunningTrade(t *testing.T) {
	f := newFixture(t)
	cfg := f.validTrade(t)
	_, err := f.orch.Start(user, cfg.ID)
	require.NoError(t, err)

	ok, err := f.orch.Delete(user, cfg.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, f.orch.ActiveCount(user))
	assert.Empty(t, f.ledger.ActiveTrades(user))
}

func TestTradeCompletesOnItsOwn(t *testing.T) {
	f := newFixture(t)
	f.port = func(cfg domain.TradeConfig) (ports.ExecutionPort, error) {
		ex := simexchange.New(simexchange.Config{Seed: cfg.ID})
		ex.Script(cfg.Symbol, 100, 150, 210)
		return ex, nil
	}
	cfg := f.validTrade(t)

	ok, err := f.orch.Start(user, cfg.ID)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		got, _ := f.orch.Get(user, cfg.ID)
		return got.Status == domain.StatusCompleted && f.orch.ActiveCount(user) == 0
	}, 2*time.Second, 10*time.Millisecond)

	summary := f.ledger.Summary(user)
	assert.Equal(t, 1, summary.TotalTrades)
	assert.InDelta(t, 100.0, summary.TotalPnL, 1e-9)

	ok, err = f.orch.Stop(user, cfg.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ports.ErrNotRunning)
}

func TestTradeFailsOnSetupError(t *testing.T) {
	f := newFixture(t)
	f.port = func(domain.TradeConfig) (ports.ExecutionPort, error) {
		return &steadyPort{price: 100, prepareErr: errors.New("leverage rejected")}, nil
	}
	cfg := f.validTrade(t)

	_, err := f.orch.Start(user, cfg.ID)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got, _ := f.orch.Get(user, cfg.ID)
		return got.Status == domain.StatusError && f.orch.ActiveCount(user) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatusDetail(t *testing.T) {
	f := newFixture(t)
	cfg := f.validTrade(t)

	d, err := f.orch.StatusDetail(user, cfg.ID)
	require.NoError(t, err)
	assert.False(t, d.Running)
	assert.Nil(t, d.Snapshot)

	_, err = f.orch.Start(user, cfg.ID)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		d, err = f.orch.StatusDetail(user, cfg.ID)
		return err == nil && d.Snapshot != nil && d.Snapshot.State.EntryFilled
	}, time.Second, 10*time.Millisecond)
	assert.True(t, d.Running)
	assert.Equal(t, 100.0, d.Snapshot.State.CurrentPrice)
	assert.Zero(t, d.UnrealizedPnL)

	_, err = f.orch.StatusDetail(user, "missing")
	assert.ErrorIs(t, err, ports.ErrTradeNotFound)
}

func TestShutdown(t *testing.T) {
	f := newFixture(t)
	a := f.validTrade(t)
	b := f.validTrade(t)
	for _, id := range []string{a.ID, b.ID} {
		ok, err := f.orch.Start(user, id)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, 2, f.orch.ActiveCount(user))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.orch.Shutdown(ctx))

	assert.Zero(t, f.orch.ActiveCount(user))
	for _, cfg := range f.orch.List(user) {
		assert.Equal(t, domain.StatusPaused, cfg.Status)
	}
	ok, err := f.orch.Start(user, a.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ports.ErrOrchestrationConflict)
}

type gateStub struct {
	err    error
	active int
}

func (g *gateStub) Allow(cfg domain.TradeConfig, active int) error {
	g.active = active
	return g.err
}

func TestStart_GateRefuses(t *testing.T) {
	f := newFixture(t)
	gate := &gateStub{}
	f.orch.gate = gate
	a := f.validTrade(t)
	b := f.validTrade(t)

	ok, err := f.orch.Start(user, a.ID)
	require.NoError(t, err)
	require.True(t, ok)

	gate.err = fmt.Errorf("too many trades: %w", ports.ErrRiskLimitExceeded)
	ok, err = f.orch.Start(user, b.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ports.ErrRiskLimitExceeded)
	assert.Equal(t, 1, gate.active)

	got, _ := f.orch.Get(user, b.ID)
	assert.Equal(t, domain.StatusConfigured, got.Status)
	assert.Equal(t, 1, f.orch.ActiveCount(user))
}

func TestAdd(t *testing.T) {
	f := newFixture(t)
	cfg := domain.NewTradeConfig("", user, time.Time{})
	cfg.Symbol = "ETHUSDT"
	cfg.EntryPrice = 200
	cfg.TakeProfits[0] = domain.TakeProfit{Percent: 10, SizePercent: 100}
	cfg.TakeProfits[1] = domain.TakeProfit{}
	cfg.TakeProfits[2] = domain.TakeProfit{}
	cfg.Status = domain.StatusActive

	added, err := f.orch.Add(cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.False(t, added.CreatedAt.IsZero())
	assert.Equal(t, domain.StatusConfigured, added.Status)
	assert.Equal(t, 220.0, added.TakeProfits[0].Price)

	_, err = f.orch.Add(added)
	assert.ErrorIs(t, err, ports.ErrOrchestrationConflict)
}
