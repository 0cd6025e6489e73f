// Package controller runs one trade: it polls price on a fixed interval and
// executes entry, staged take-profits, stop-loss, trailing and breakeven
// rules through an execution port.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"smartTradeBot/internal/domain"
	"smartTradeBot/internal/metrics"
	"smartTradeBot/internal/ports"

	"github.com/jpillora/backoff"
)

// Recorder is the part of the portfolio ledger a controller writes to.
type Recorder interface {
	Record(ctx context.Context, userID int64, ev domain.LedgerEvent) domain.LedgerEvent
	Complete(ctx context.Context, userID int64, tradeID string, finalPnL float64, reason domain.CloseReason) (domain.CompletedTrade, bool)
}

// Settings holds timing and failure limits shared by all controllers.
type Settings struct {
	Interval             time.Duration
	ErrorBackoff         time.Duration
	MaxErrorBackoff      time.Duration
	DryRunFillDelay      time.Duration
	RequestTimeout       time.Duration
	NotifyTimeout        time.Duration
	MaxSetupAttempts     int
	MaxConsecutiveErrors int // 0 disables the limit
}

func (s Settings) withDefaults() Settings {
	if s.Interval <= 0 {
		s.Interval = 5 * time.Second
	}
	if s.ErrorBackoff <= 0 {
		s.ErrorBackoff = 15 * time.Second
	}
	if s.MaxErrorBackoff < s.ErrorBackoff {
		s.MaxErrorBackoff = s.ErrorBackoff
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = 10 * time.Second
	}
	if s.NotifyTimeout <= 0 {
		s.NotifyTimeout = 10 * time.Second
	}
	if s.MaxSetupAttempts <= 0 {
		s.MaxSetupAttempts = 3
	}
	return s
}

// Deps are the collaborators of a controller. Notifier and Metrics are optional.
type Deps struct {
	Port     ports.ExecutionPort
	Ledger   Recorder
	Notifier ports.Notifier
	Logger   ports.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
	OnExit   func(Snapshot) // Called once when Run returns
}

// Controller is the state machine of a single trade. Its state is written only
// by the goroutine running it; Snapshot may be called from anywhere.
type Controller struct {
	settings Settings
	port     ports.ExecutionPort
	ledger   Recorder
	notifier ports.Notifier
	logger   ports.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	onExit   func(Snapshot)
	walk     *domain.PriceWalk

	mu    sync.Mutex
	cfg   domain.TradeConfig
	state State
}

// New builds a controller for cfg. The config must already be valid.
func New(cfg domain.TradeConfig, settings Settings, deps Deps) (*Controller, error) {
	if deps.Port == nil || deps.Ledger == nil || deps.Logger == nil {
		return nil, fmt.Errorf("controller for trade %s requires a port, a ledger and a logger", cfg.ID)
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, &ports.ValidationError{TradeID: cfg.ID, Problems: problems}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	cfg.Status = domain.StatusActive
	return &Controller{
		settings: settings.withDefaults(),
		port:     deps.Port,
		ledger:   deps.Ledger,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		now:      now,
		onExit:   deps.OnExit,
		walk:     domain.NewPriceWalk(domain.SeedFor(cfg.ID), cfg.EntryPrice),
		cfg:      cfg,
		state: State{
			Phase:     domain.PhaseWaitingEntry,
			CurrentSL: cfg.SLPrice,
			StopKind:  domain.CloseReasonStopLoss,
			Remaining: cfg.Amount,
		},
	}, nil
}

// Snapshot returns a copy of the config and state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Config: c.cfg, State: c.state}
}

// TradeID returns the ID of the controlled trade.
func (c *Controller) TradeID() string {
	return c.cfg.ID
}

func (c *Controller) fields(extra map[string]interface{}) map[string]interface{} {
	f := map[string]interface{}{"tradeID": c.cfg.ID, "userID": c.cfg.UserID, "symbol": c.cfg.Symbol}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

// Run sets the trade up and drives it until it completes, fails fatally or
// ctx is cancelled. Cancellation leaves the config status unchanged.
func (c *Controller) Run(ctx context.Context) {
	c.metrics.ControllerStarted()
	defer func() {
		snap := c.Snapshot()
		c.metrics.ControllerExited(string(snap.State.Phase))
		c.logger.Info(ctx, "Controller exited", c.fields(map[string]interface{}{"phase": snap.State.Phase, "status": snap.Config.Status}))
		if c.onExit != nil {
			c.onExit(snap)
		}
	}()

	b := &backoff.Backoff{Min: c.settings.ErrorBackoff, Max: c.settings.MaxErrorBackoff, Factor: 2}

	for attempt := 1; ; attempt++ {
		err := c.safely(func() error { return c.Setup(ctx) })
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			c.markStopped()
			return
		}
		c.logger.Warn(ctx, "Setup failed", c.fields(map[string]interface{}{"attempt": attempt, "error": err.Error()}))
		if attempt >= c.settings.MaxSetupAttempts {
			c.fail(ctx, fmt.Errorf("setup failed after %d attempts: %w: %w", attempt, ports.ErrSetupFailed, err))
			return
		}
		if !sleep(ctx, b.Duration()) {
			c.markStopped()
			return
		}
	}
	b.Reset()

	for {
		start := time.Now()
		var done bool
		err := c.safely(func() error {
			var tickErr error
			done, tickErr = c.Tick(ctx)
			return tickErr
		})
		if ctx.Err() != nil {
			c.markStopped()
			return
		}

		if err != nil {
			c.metrics.ObserveCycle("error", time.Since(start))
			c.mu.Lock()
			c.state.ConsecutiveErrors++
			c.state.LastError = err.Error()
			failures := c.state.ConsecutiveErrors
			c.mu.Unlock()

			c.logger.Error(ctx, err, "Cycle failed", c.fields(map[string]interface{}{"consecutiveErrors": failures}))
			if limit := c.settings.MaxConsecutiveErrors; limit > 0 && failures >= limit {
				c.fail(ctx, fmt.Errorf("%d consecutive cycle failures: %w", failures, err))
				return
			}
			if !sleep(ctx, b.Duration()) {
				c.markStopped()
				return
			}
			continue
		}

		b.Reset()
		c.mu.Lock()
		c.state.ConsecutiveErrors = 0
		c.mu.Unlock()
		if done {
			c.metrics.ObserveCycle("done", time.Since(start))
			return
		}
		c.metrics.ObserveCycle("ok", time.Since(start))
		if !sleep(ctx, c.settings.Interval) {
			c.markStopped()
			return
		}
	}
}

// safely converts a panic in fn into an error.
func (c *Controller) safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ports.ErrUnknown, r)
		}
	}()
	return fn()
}

// Setup readies the account and, for live trades, places the entry order.
// It is safe to call again after a failure.
func (c *Controller) Setup(ctx context.Context) error {
	op := "Setup"
	cfg := c.cfg

	err := c.call(ctx, "prepare", func(ctx context.Context) error {
		return c.port.Prepare(ctx, cfg.Symbol, cfg.Leverage)
	})
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	if !cfg.DryRun && c.state.EntryOrderID == 0 {
		res, err := callResult(ctx, c, "place_order", func(ctx context.Context) (*ports.OrderResult, error) {
			return c.port.PlaceOrder(ctx, ports.OrderRequest{
				Symbol:   cfg.Symbol,
				Side:     cfg.Side.EntryOrderSide(),
				Type:     domain.OrderTypeLimit,
				Quantity: cfg.Amount,
				Price:    cfg.EntryPrice,
			})
		})
		if err != nil {
			return fmt.Errorf("%s failed to place entry order: %w", op, err)
		}
		c.mu.Lock()
		c.state.EntryOrderID = res.OrderID
		c.mu.Unlock()
		c.logger.Info(ctx, op+": Entry order placed", c.fields(map[string]interface{}{"orderID": res.OrderID, "price": cfg.EntryPrice}))
	}

	c.mu.Lock()
	c.state.StartedAt = c.now()
	c.mu.Unlock()
	c.logger.Info(ctx, op+": Trade ready", c.fields(map[string]interface{}{"dryRun": cfg.DryRun, "leverage": cfg.Leverage}))
	return nil
}

// Tick runs one monitoring cycle. It reports done once the trade is closed.
func (c *Controller) Tick(ctx context.Context) (bool, error) {
	if c.state.Phase.Terminal() {
		return true, nil
	}

	px, err := c.refreshPrice(ctx)
	if err != nil {
		return false, err
	}

	if !c.state.EntryFilled {
		return false, c.checkEntry(ctx, px)
	}

	c.mu.Lock()
	c.state.HighestPrice = max(c.state.HighestPrice, px)
	if c.state.LowestPrice <= 0 || px < c.state.LowestPrice {
		c.state.LowestPrice = px
	}
	c.mu.Unlock()

	done, err := c.checkTakeProfits(ctx, px)
	if err != nil || done {
		return done, err
	}
	if done, err := c.checkStopLoss(ctx, px); err != nil || done {
		return done, err
	}
	if err := c.updateTrailing(ctx, px); err != nil {
		return false, err
	}
	return false, c.checkBreakeven(ctx)
}

// refreshPrice asks the port for the price and falls back to the walk when
// market data is unavailable.
func (c *Controller) refreshPrice(ctx context.Context) (float64, error) {
	px, err := callResult(ctx, c, "get_price", func(ctx context.Context) (float64, error) {
		return c.port.GetCurrentPrice(ctx, c.cfg.Symbol)
	})
	switch {
	case err == nil && px > 0:
		c.walk.Observe(px)
	case ctx.Err() != nil:
		return 0, ctx.Err()
	default:
		px = c.walk.Next()
		c.logger.Warn(ctx, "Price unavailable, using simulated price", c.fields(map[string]interface{}{"price": px, "error": fmt.Sprint(err)}))
		if px <= 0 {
			return 0, fmt.Errorf("no price for %s: %w", c.cfg.Symbol, ports.ErrMarketDataUnavailable)
		}
	}
	c.mu.Lock()
	c.state.CurrentPrice = px
	c.mu.Unlock()
	return px, nil
}

func (c *Controller) checkEntry(ctx context.Context, px float64) error {
	op := "checkEntry"
	cfg := c.cfg

	if cfg.DryRun {
		if c.now().Sub(c.state.StartedAt) < c.settings.DryRunFillDelay {
			return nil
		}
	} else {
		res, err := callResult(ctx, c, "order_status", func(ctx context.Context) (*ports.OrderResult, error) {
			return c.port.OrderStatus(ctx, cfg.Symbol, c.state.EntryOrderID)
		})
		if err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
		if !res.Filled() {
			c.logger.Debug(ctx, op+": Entry order not filled yet", c.fields(map[string]interface{}{"status": res.Status}))
			return nil
		}
	}

	sl := c.state.CurrentSL
	if err := c.moveStop(ctx, sl); err != nil {
		return fmt.Errorf("%s failed to place initial stop: %w", op, err)
	}

	c.mu.Lock()
	c.state.EntryFilled = true
	c.state.Phase = domain.PhaseActive
	c.state.HighestPrice = px
	c.state.LowestPrice = px
	c.mu.Unlock()

	c.record(ctx, domain.LedgerEvent{Type: domain.EventEntryFilled, Price: cfg.EntryPrice, Quantity: cfg.Amount})
	c.logger.Info(ctx, op+": Entry filled", c.fields(map[string]interface{}{"entryPrice": cfg.EntryPrice, "stopLoss": sl}))
	c.notify(ctx, entryFilledMessage(cfg, sl))
	return nil
}

// lastOpenLevel returns the highest active level that has not been filled.
func (c *Controller) lastOpenLevel() int {
	last := 0
	for i, tp := range c.cfg.TakeProfits {
		if tp.Active() && !c.state.TPFilled[i] {
			last = i + 1
		}
	}
	return last
}

func (c *Controller) checkTakeProfits(ctx context.Context, px float64) (bool, error) {
	op := "checkTakeProfits"
	cfg := c.cfg

	for i, tp := range cfg.TakeProfits {
		level := i + 1
		if !tp.Active() || c.state.TPFilled[i] || !cfg.Side.ReachedProfit(px, tp.Price) {
			continue
		}

		remaining := c.state.Remaining
		closeAll := level == c.lastOpenLevel()
		qty := remaining
		if !closeAll {
			qty = domain.Round8(remaining * tp.SizePercent / 100)
		}

		var err error
		if closeAll {
			_, err = callResult(ctx, c, "close_full", func(ctx context.Context) (*ports.OrderResult, error) {
				return c.port.CloseFull(ctx, cfg.Symbol, cfg.Side, tp.Price)
			})
		} else {
			_, err = callResult(ctx, c, "close_partial", func(ctx context.Context) (*ports.OrderResult, error) {
				return c.port.ClosePartial(ctx, cfg.Symbol, cfg.Side, qty, tp.Price)
			})
		}
		if err != nil {
			return false, fmt.Errorf("%s failed at tp%d: %w", op, level, err)
		}

		pnl := domain.Round8(cfg.Side.Sign() * (tp.Price - cfg.EntryPrice) * qty * float64(cfg.Leverage))
		c.mu.Lock()
		c.state.Remaining = domain.Round8(remaining - qty)
		c.state.RealizedPnL = domain.Round8(c.state.RealizedPnL + pnl)
		c.state.TPFilled[i] = true
		if c.state.Phase == domain.PhaseActive {
			c.state.Phase = domain.PhaseTPPartial
		}
		left := c.state.Remaining
		c.mu.Unlock()

		c.metrics.TakeProfitFilled(level)
		c.record(ctx, domain.LedgerEvent{Type: domain.EventTakeProfit, Price: tp.Price, Quantity: qty, PnL: pnl, Level: level})
		c.logger.Info(ctx, op+": Take profit filled", c.fields(map[string]interface{}{"level": level, "price": tp.Price, "closed": qty, "remaining": left, "pnl": pnl}))
		c.notify(ctx, takeProfitMessage(cfg, level, tp.Price, qty, left, pnl))

		if left <= cfg.Amount*PositionClosedEpsilon {
			c.complete(ctx, domain.CloseReasonTakeProfit)
			return true, nil
		}
	}
	return false, nil
}

func (c *Controller) checkStopLoss(ctx context.Context, px float64) (bool, error) {
	op := "checkStopLoss"
	cfg := c.cfg
	sl := c.state.CurrentSL
	if sl <= 0 || !cfg.Side.ReachedLoss(px, sl) {
		return false, nil
	}

	_, err := callResult(ctx, c, "close_full", func(ctx context.Context) (*ports.OrderResult, error) {
		return c.port.CloseFull(ctx, cfg.Symbol, cfg.Side, sl)
	})
	if err != nil {
		return false, fmt.Errorf("%s failed: %w", op, err)
	}

	reason := c.state.StopKind
	qty := c.state.Remaining
	pnl := domain.Round8(cfg.Side.Sign() * (sl - cfg.EntryPrice) * qty * float64(cfg.Leverage))
	c.mu.Lock()
	c.state.Remaining = 0
	c.state.RealizedPnL = domain.Round8(c.state.RealizedPnL + pnl)
	if reason == domain.CloseReasonTrailingStop {
		c.state.TrailingTriggered = true
	}
	c.mu.Unlock()

	c.metrics.StopHit(string(reason))
	c.record(ctx, domain.LedgerEvent{Type: domain.EventStopLoss, Price: sl, Quantity: qty, PnL: pnl, Message: string(reason)})
	c.logger.Info(ctx, op+": Stop executed", c.fields(map[string]interface{}{"reason": reason, "stop": sl, "price": px, "closed": qty, "pnl": pnl}))
	c.notify(ctx, stopMessage(cfg, reason, sl, pnl))
	c.complete(ctx, reason)
	return true, nil
}

func (c *Controller) updateTrailing(ctx context.Context, px float64) error {
	cfg := c.cfg
	if cfg.TrailPercent <= 0 {
		return nil
	}

	if !c.state.TrailingActive {
		if cfg.TrailActivationPercent > 0 && unrealizedPercent(cfg, px) < cfg.TrailActivationPercent {
			return nil
		}
		c.mu.Lock()
		c.state.TrailingActive = true
		c.state.Phase = domain.PhaseTrailingActive
		c.mu.Unlock()
		c.record(ctx, domain.LedgerEvent{Type: domain.EventTrailingActivated, Price: px})
		c.logger.Info(ctx, "Trailing stop activated", c.fields(map[string]interface{}{"price": px, "trailPercent": cfg.TrailPercent}))
	}

	var candidate float64
	if cfg.Side == domain.SideShort {
		candidate = domain.Round8(c.state.LowestPrice * (1 + cfg.TrailPercent/100))
	} else {
		candidate = domain.Round8(c.state.HighestPrice * (1 - cfg.TrailPercent/100))
	}
	if !cfg.Side.MoreFavorableStop(candidate, c.state.CurrentSL) {
		return nil
	}

	if err := c.moveStop(ctx, candidate); err != nil {
		return fmt.Errorf("updateTrailing failed: %w", err)
	}
	c.mu.Lock()
	c.state.CurrentSL = candidate
	c.state.StopKind = domain.CloseReasonTrailingStop
	c.mu.Unlock()
	c.record(ctx, domain.LedgerEvent{Type: domain.EventTrailingUpdated, Price: candidate})
	c.logger.Debug(ctx, "Trailing stop moved", c.fields(map[string]interface{}{"stop": candidate, "price": px}))
	c.notify(ctx, stopMovedMessage(cfg, "Trailing stop", candidate))
	return nil
}

func (c *Controller) checkBreakeven(ctx context.Context) error {
	cfg := c.cfg
	level := cfg.BreakevenAfter.Level()
	if level == 0 || c.state.BreakevenMoved || c.state.TrailingActive || !c.state.TPFilled[level-1] {
		return nil
	}

	if err := c.moveStop(ctx, cfg.EntryPrice); err != nil {
		return fmt.Errorf("checkBreakeven failed: %w", err)
	}
	c.mu.Lock()
	c.state.CurrentSL = cfg.EntryPrice
	c.state.StopKind = domain.CloseReasonBreakeven
	c.state.BreakevenMoved = true
	c.state.Phase = domain.PhaseBreakevenMoved
	c.mu.Unlock()
	c.record(ctx, domain.LedgerEvent{Type: domain.EventBreakevenMoved, Price: cfg.EntryPrice, Level: level})
	c.logger.Info(ctx, "Stop moved to breakeven", c.fields(map[string]interface{}{"afterLevel": level, "stop": cfg.EntryPrice}))
	c.notify(ctx, stopMovedMessage(cfg, "Breakeven", cfg.EntryPrice))
	return nil
}

func (c *Controller) moveStop(ctx context.Context, stop float64) error {
	_, err := callResult(ctx, c, "update_stop", func(ctx context.Context) (*ports.OrderResult, error) {
		return c.port.UpdateStop(ctx, c.cfg.Symbol, c.cfg.Side, stop)
	})
	return err
}

func (c *Controller) complete(ctx context.Context, reason domain.CloseReason) {
	c.mu.Lock()
	c.state.Phase = domain.PhaseClosed
	c.state.ExitReason = reason
	c.state.Remaining = 0
	c.cfg.Status = domain.StatusCompleted
	snap := Snapshot{Config: c.cfg, State: c.state}
	c.mu.Unlock()

	if _, ok := c.ledger.Complete(ctx, c.cfg.UserID, c.cfg.ID, snap.State.RealizedPnL, reason); !ok {
		c.logger.Warn(ctx, "Completed trade had no active ledger record", c.fields(nil))
	}
	c.logger.Info(ctx, "Trade completed", c.fields(map[string]interface{}{"reason": reason, "pnl": snap.State.RealizedPnL}))
	c.notify(ctx, completedMessage(snap.Config, snap.State, c.now()))
}

// fail moves the trade to the error state.
func (c *Controller) fail(ctx context.Context, err error) {
	c.mu.Lock()
	c.state.Phase = domain.PhaseError
	c.state.ExitReason = domain.CloseReasonError
	c.state.LastError = err.Error()
	c.cfg.Status = domain.StatusError
	c.mu.Unlock()

	c.record(ctx, domain.LedgerEvent{Type: domain.EventTradeError, Price: c.state.CurrentPrice, Message: err.Error()})
	c.logger.Error(ctx, err, "Trade failed", c.fields(nil))
	c.notify(ctx, errorMessage(c.cfg, err))
}

func (c *Controller) markStopped() {
	c.mu.Lock()
	if !c.state.Phase.Terminal() {
		c.state.Phase = domain.PhaseStopped
	}
	c.mu.Unlock()
}

func (c *Controller) record(ctx context.Context, ev domain.LedgerEvent) {
	ev.TradeID = c.cfg.ID
	ev.Symbol = c.cfg.Symbol
	ev.Side = c.cfg.Side
	c.ledger.Record(context.WithoutCancel(ctx), c.cfg.UserID, ev)
}

// notify sends text asynchronously; failures are only logged.
func (c *Controller) notify(ctx context.Context, text string) {
	if c.notifier == nil {
		return
	}
	userID := c.cfg.UserID
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.settings.NotifyTimeout)
		defer cancel()
		if err := c.notifier.Notify(nctx, userID, text); err != nil {
			c.logger.Warn(nctx, "Notification failed", c.fields(map[string]interface{}{"error": err.Error()}))
		}
	}()
}

// call runs a port operation that returns only an error.
func (c *Controller) call(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := callResult(ctx, c, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func callResult[T any](ctx context.Context, c *Controller, op string, fn func(context.Context) (T, error)) (T, error) {
	v, err := await(ctx, c.settings.RequestTimeout, fn)
	if !errors.Is(err, ports.ErrContextCanceled) {
		c.metrics.PortCall(op, err)
	}
	return v, err
}
