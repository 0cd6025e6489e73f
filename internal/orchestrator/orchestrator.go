// Package orchestrator keeps every user's trade configs, starts and stops
// their position controllers and supervises the controller goroutines.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"smartTradeBot/internal/controller"
	"smartTradeBot/internal/domain"
	"smartTradeBot/internal/metrics"
	"smartTradeBot/internal/ports"

	"github.com/google/uuid"
)

const shortIDLength = 8

// Journal is the ledger surface the orchestrator and its controllers use.
type Journal interface {
	controller.Recorder
	Begin(ctx context.Context, cfg domain.TradeConfig) domain.LedgerEvent
	Discard(userID int64, tradeID string)
}

// Gate decides whether a trade may start. active is the number of the
// user's running trades.
type Gate interface {
	Allow(cfg domain.TradeConfig, active int) error
}

// PortFactory builds the execution port for a trade about to start.
type PortFactory func(cfg domain.TradeConfig) (ports.ExecutionPort, error)

// Config holds orchestrator dependencies. Gate, Notifier and Metrics are optional.
type Config struct {
	Settings    controller.Settings
	Journal     Journal
	PortFactory PortFactory
	Gate        Gate
	Notifier    ports.Notifier
	Logger      ports.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Detail is the status view of one trade.
type Detail struct {
	Config            domain.TradeConfig
	Running           bool
	Snapshot          *controller.Snapshot // Nil when not running
	UnrealizedPnL     float64
	UnrealizedPercent float64
}

type handle struct {
	ctrl   *controller.Controller
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator is safe for concurrent use. It is the only writer of the
// registry maps.
type Orchestrator struct {
	settings controller.Settings
	journal  Journal
	factory  PortFactory
	gate     Gate
	notifier ports.Notifier
	logger   ports.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu       sync.RWMutex
	trades   map[int64]map[string]*domain.TradeConfig
	running  map[string]*handle
	selected map[int64]string
	closed   bool

	wg sync.WaitGroup
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for orchestrator")
	}
	if cfg.Journal == nil || cfg.PortFactory == nil {
		return nil, fmt.Errorf("orchestrator requires a journal and a port factory: %w", ports.ErrConfigurationError)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		settings: cfg.Settings,
		journal:  cfg.Journal,
		factory:  cfg.PortFactory,
		gate:     cfg.Gate,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		trades:   make(map[int64]map[string]*domain.TradeConfig),
		running:  make(map[string]*handle),
		selected: make(map[int64]string),
	}, nil
}

// newIDLocked returns a short uuid-derived ID unused by any user.
func (o *Orchestrator) newIDLocked() string {
	for {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:shortIDLength]
		if !o.idTakenLocked(id) {
			return id
		}
	}
}

// idTakenLocked reports whether any user has a trade with this ID.
func (o *Orchestrator) idTakenLocked(id string) bool {
	for _, trades := range o.trades {
		if _, ok := trades[id]; ok {
			return true
		}
	}
	return false
}

func (o *Orchestrator) lookupLocked(userID int64, id string) (*domain.TradeConfig, error) {
	cfg, ok := o.trades[userID][id]
	if !ok {
		return nil, fmt.Errorf("trade %s: %w", id, ports.ErrTradeNotFound)
	}
	return cfg, nil
}

func (o *Orchestrator) storeLocked(cfg domain.TradeConfig) {
	trades, ok := o.trades[cfg.UserID]
	if !ok {
		trades = make(map[string]*domain.TradeConfig)
		o.trades[cfg.UserID] = trades
	}
	trades[cfg.ID] = &cfg
}

// Create adds a trade with default parameters. A user's first trade becomes
// the selected one.
func (o *Orchestrator) Create(userID int64) domain.TradeConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	cfg := domain.NewTradeConfig(o.newIDLocked(), userID, o.now())
	o.storeLocked(cfg)
	if len(o.trades[userID]) == 1 {
		o.selected[userID] = cfg.ID
	}
	o.logger.Info(context.Background(), "Trade created", map[string]interface{}{"userID": userID, "tradeID": cfg.ID})
	return cfg
}

// Add registers an externally built config, such as one loaded from a trades
// file. An empty ID is replaced with a generated one.
func (o *Orchestrator) Add(cfg domain.TradeConfig) (domain.TradeConfig, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cfg.ID == "" {
		cfg.ID = o.newIDLocked()
	} else if o.idTakenLocked(cfg.ID) {
		return domain.TradeConfig{}, fmt.Errorf("trade %s already exists: %w", cfg.ID, ports.ErrOrchestrationConflict)
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = o.now()
	}
	cfg.Status = domain.StatusConfigured
	cfg.RecalculatePrices()
	o.storeLocked(cfg)
	if _, ok := o.selected[cfg.UserID]; !ok {
		o.selected[cfg.UserID] = cfg.ID
	}
	return cfg, nil
}

// Update applies fn to a stopped trade. The trade's identity cannot be changed.
func (o *Orchestrator) Update(userID int64, id string, fn func(*domain.TradeConfig) error) (domain.TradeConfig, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cfg, err := o.lookupLocked(userID, id)
	if err != nil {
		return domain.TradeConfig{}, err
	}
	if _, running := o.running[id]; running {
		return domain.TradeConfig{}, fmt.Errorf("trade %s: %w", id, ports.ErrTradeActive)
	}
	edited := *cfg
	if err := fn(&edited); err != nil {
		return domain.TradeConfig{}, err
	}
	edited.ID, edited.UserID, edited.CreatedAt, edited.Status = cfg.ID, cfg.UserID, cfg.CreatedAt, cfg.Status
	*cfg = edited
	return edited, nil
}

// Start validates the trade and launches its controller. It returns false
// with a *ports.ValidationError when the config is invalid and false with
// ErrAlreadyRunning when a controller is registered already.
func (o *Orchestrator) Start(userID int64, id string) (bool, error) {
	op := "Start"
	o.mu.Lock()
	cfg, err := o.lookupLocked(userID, id)
	if err != nil {
		o.mu.Unlock()
		return false, err
	}
	if _, running := o.running[id]; running {
		o.mu.Unlock()
		return false, fmt.Errorf("trade %s: %w", id, ports.ErrAlreadyRunning)
	}
	if o.closed {
		o.mu.Unlock()
		return false, fmt.Errorf("%s refused, shutting down: %w", op, ports.ErrOrchestrationConflict)
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		o.mu.Unlock()
		return false, &ports.ValidationError{TradeID: id, Problems: problems}
	}
	if o.gate != nil {
		if err := o.gate.Allow(*cfg, o.activeLocked(userID)); err != nil {
			o.mu.Unlock()
			return false, fmt.Errorf("%s refused for trade %s: %w", op, id, err)
		}
	}

	port, err := o.factory(*cfg)
	if err != nil {
		o.mu.Unlock()
		return false, fmt.Errorf("%s failed to build execution port for trade %s: %w: %w", op, id, ports.ErrSetupFailed, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, done: make(chan struct{})}
	ctrl, err := controller.New(*cfg, o.settings, controller.Deps{
		Port:     port,
		Ledger:   o.journal,
		Notifier: o.notifier,
		Logger:   o.logger,
		Metrics:  o.metrics,
		Now:      o.now,
		OnExit:   func(s controller.Snapshot) { o.onExit(h, s) },
	})
	if err != nil {
		o.mu.Unlock()
		cancel()
		return false, err
	}
	h.ctrl = ctrl
	cfg.Status = domain.StatusActive
	started := *cfg
	o.running[id] = h
	o.wg.Add(1)
	o.mu.Unlock()

	o.journal.Begin(ctx, started)
	go func() {
		defer o.wg.Done()
		defer close(h.done)
		ctrl.Run(ctx)
	}()

	o.logger.Info(ctx, op+": Trade started", map[string]interface{}{"userID": userID, "tradeID": id, "symbol": started.Symbol, "dryRun": started.DryRun})
	return true, nil
}

// onExit deregisters a controller that finished on its own and records its
// final status.
func (o *Orchestrator) onExit(h *handle, s controller.Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := s.Config.ID
	if o.running[id] != h {
		return
	}
	delete(o.running, id)
	if cfg, ok := o.trades[s.Config.UserID][id]; ok && s.State.Phase != domain.PhaseStopped {
		cfg.Status = s.Config.Status
	}
}

// Stop cancels a running trade and waits up to one interval for its
// controller to exit. The trade becomes paused unless it finished first.
func (o *Orchestrator) Stop(userID int64, id string) (bool, error) {
	op := "Stop"
	o.mu.Lock()
	if _, err := o.lookupLocked(userID, id); err != nil {
		o.mu.Unlock()
		return false, err
	}
	h, running := o.running[id]
	if !running {
		o.mu.Unlock()
		return false, fmt.Errorf("trade %s: %w", id, ports.ErrNotRunning)
	}
	delete(o.running, id)
	o.mu.Unlock()

	o.halt(h)
	status := o.settle(h, "stopped by user")
	o.logger.Info(context.Background(), op+": Trade stopped", map[string]interface{}{"userID": userID, "tradeID": id, "status": status})
	return true, nil
}

// halt cancels a controller and waits for it, bounded by one interval.
func (o *Orchestrator) halt(h *handle) {
	h.cancel()
	wait := o.settings.Interval
	if wait <= 0 {
		wait = 5 * time.Second
	}
	select {
	case <-h.done:
	case <-time.After(wait):
		o.logger.Warn(context.Background(), "Controller did not exit within one interval", map[string]interface{}{"tradeID": h.ctrl.TradeID()})
	}
}

// settle writes the status of a halted controller back to its config and
// journals the stop when the trade was interrupted.
func (o *Orchestrator) settle(h *handle, reason string) domain.TradeStatus {
	snap := h.ctrl.Snapshot()
	status := domain.StatusPaused
	switch snap.State.Phase {
	case domain.PhaseClosed:
		status = domain.StatusCompleted
	case domain.PhaseError:
		status = domain.StatusError
	}

	o.mu.Lock()
	if cfg, ok := o.trades[snap.Config.UserID][snap.Config.ID]; ok {
		cfg.Status = status
	}
	o.mu.Unlock()

	if status == domain.StatusPaused {
		o.journal.Record(context.Background(), snap.Config.UserID, domain.LedgerEvent{
			TradeID: snap.Config.ID,
			Type:    domain.EventTradeStop,
			Symbol:  snap.Config.Symbol,
			Side:    snap.Config.Side,
			Price:   snap.State.CurrentPrice,
			PnL:     snap.State.RealizedPnL,
			Message: reason,
		})
	}
	return status
}

// Delete stops the trade if needed and removes it. When the deleted trade was
// selected, the lexicographically smallest remaining ID is selected instead.
func (o *Orchestrator) Delete(userID int64, id string) (bool, error) {
	o.mu.RLock()
	_, err := o.lookupLocked(userID, id)
	_, running := o.running[id]
	o.mu.RUnlock()
	if err != nil {
		return false, err
	}
	if running {
		if _, err := o.Stop(userID, id); err != nil && !errors.Is(err, ports.ErrNotRunning) {
			return false, err
		}
	}

	o.mu.Lock()
	delete(o.trades[userID], id)
	if o.selected[userID] == id {
		o.reselectLocked(userID)
	}
	o.mu.Unlock()

	o.journal.Discard(userID, id)
	o.logger.Info(context.Background(), "Trade deleted", map[string]interface{}{"userID": userID, "tradeID": id})
	return true, nil
}

func (o *Orchestrator) reselectLocked(userID int64) {
	ids := make([]string, 0, len(o.trades[userID]))
	for id := range o.trades[userID] {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		delete(o.selected, userID)
		return
	}
	sort.Strings(ids)
	o.selected[userID] = ids[0]
}

// Copy duplicates a trade under a new ID and selects the duplicate.
func (o *Orchestrator) Copy(userID int64, id string) (domain.TradeConfig, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	src, err := o.lookupLocked(userID, id)
	if err != nil {
		return domain.TradeConfig{}, err
	}
	dup := src.Copy(o.newIDLocked(), o.now())
	o.storeLocked(dup)
	o.selected[userID] = dup.ID
	return dup, nil
}

// Select makes id the user's selected trade.
func (o *Orchestrator) Select(userID int64, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.lookupLocked(userID, id); err != nil {
		return err
	}
	o.selected[userID] = id
	return nil
}

// Selected returns the user's selected trade ID.
func (o *Orchestrator) Selected(userID int64) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	id, ok := o.selected[userID]
	return id, ok
}

// Get returns a copy of a trade config.
func (o *Orchestrator) Get(userID int64, id string) (domain.TradeConfig, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	cfg, err := o.lookupLocked(userID, id)
	if err != nil {
		return domain.TradeConfig{}, err
	}
	return *cfg, nil
}

// List returns the user's trades ordered by creation time.
func (o *Orchestrator) List(userID int64) []domain.TradeConfig {
	o.mu.RLock()
	out := make([]domain.TradeConfig, 0, len(o.trades[userID]))
	for _, cfg := range o.trades[userID] {
		out = append(out, *cfg)
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// StatusDetail returns the config together with the live controller state.
func (o *Orchestrator) StatusDetail(userID int64, id string) (Detail, error) {
	o.mu.RLock()
	cfg, err := o.lookupLocked(userID, id)
	if err != nil {
		o.mu.RUnlock()
		return Detail{}, err
	}
	d := Detail{Config: *cfg}
	h, running := o.running[id]
	o.mu.RUnlock()

	if running {
		snap := h.ctrl.Snapshot()
		d.Running = true
		d.Snapshot = &snap
		d.UnrealizedPnL = snap.UnrealizedPnL()
		d.UnrealizedPercent = snap.UnrealizedPercent()
	}
	return d, nil
}

// ActiveCount returns how many of the user's trades have a running controller.
func (o *Orchestrator) ActiveCount(userID int64) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeLocked(userID)
}

func (o *Orchestrator) activeLocked(userID int64) int {
	n := 0
	for id := range o.running {
		if _, ok := o.trades[userID][id]; ok {
			n++
		}
	}
	return n
}

// Shutdown stops every controller and waits for all of them to exit or for
// ctx to expire. No trade can be started afterwards.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	handles := make([]*handle, 0, len(o.running))
	for id, h := range o.running {
		handles = append(handles, h)
		delete(o.running, id)
	}
	o.mu.Unlock()

	o.logger.Info(ctx, "Shutting down controllers", map[string]interface{}{"count": len(handles)})
	for _, h := range handles {
		h.cancel()
	}

	all := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(all)
	}()
	select {
	case <-all:
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	}

	for _, h := range handles {
		o.settle(h, "shutdown")
	}
	return nil
}

