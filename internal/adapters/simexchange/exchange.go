// Package simexchange is an in-process ports.ExecutionPort for dry-run trades
// and replays. Prices come from scripted queues or a seeded walk and every
// order fills immediately, so identical inputs produce identical runs.
package simexchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"smartTradeBot/internal/domain"
	"smartTradeBot/internal/ports"
)

// Config holds the simulator parameters.
type Config struct {
	Seed   string  // Walk seed, usually the trade ID
	Anchor float64 // Starting price of every symbol's walk
	Now    func() time.Time
}

type position struct {
	qty  float64
	stop float64
}

// Exchange simulates one account. Safe for concurrent use.
type Exchange struct {
	mu        sync.Mutex
	seed      int64
	anchor    float64
	now       func() time.Time
	walks     map[string]*domain.PriceWalk
	scripted  map[string][]float64
	positions map[string]*position
	orders    map[int64]ports.OrderResult
	history   []ports.OrderResult
	nextID    int64
	leverage  map[string]int
}

var _ ports.ExecutionPort = (*Exchange)(nil)

// New creates a simulator.
func New(cfg Config) *Exchange {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Exchange{
		seed:      domain.SeedFor(cfg.Seed),
		anchor:    cfg.Anchor,
		now:       now,
		walks:     make(map[string]*domain.PriceWalk),
		scripted:  make(map[string][]float64),
		positions: make(map[string]*position),
		orders:    make(map[int64]ports.OrderResult),
		leverage:  make(map[string]int),
	}
}

// Script queues prices returned by subsequent GetCurrentPrice calls before
// the walk takes over again.
func (e *Exchange) Script(symbol string, prices ...float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripted[symbol] = append(e.scripted[symbol], prices...)
}

// Prepare records the leverage for the symbol.
func (e *Exchange) Prepare(ctx context.Context, symbol string, leverage int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("Prepare failed: %w: %w", ports.ErrSetupFailed, err)
	}
	if symbol == "" || leverage < domain.MinLeverage || leverage > domain.MaxLeverage {
		return fmt.Errorf("Prepare failed: %w: %w: symbol %q leverage %d", ports.ErrSetupFailed, ports.ErrInvalidRequest, symbol, leverage)
	}
	e.mu.Lock()
	e.leverage[symbol] = leverage
	e.mu.Unlock()
	return nil
}

// GetCurrentPrice returns the next scripted price, or advances the walk.
func (e *Exchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("GetCurrentPrice failed: %w: %w", ports.ErrMarketDataUnavailable, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	walk := e.walkLocked(symbol)
	if queue := e.scripted[symbol]; len(queue) > 0 {
		price := queue[0]
		e.scripted[symbol] = queue[1:]
		walk.Observe(price)
		return price, nil
	}
	price := walk.Next()
	if price <= 0 {
		return 0, fmt.Errorf("GetCurrentPrice failed: %w: no price source for %s", ports.ErrMarketDataUnavailable, symbol)
	}
	return price, nil
}

// walkLocked returns the symbol's walk, anchored at the configured price or
// the first scripted price. Callers must hold e.mu.
func (e *Exchange) walkLocked(symbol string) *domain.PriceWalk {
	if w, ok := e.walks[symbol]; ok {
		return w
	}
	anchor := e.anchor
	if queue := e.scripted[symbol]; anchor <= 0 && len(queue) > 0 {
		anchor = queue[0]
	}
	w := domain.NewPriceWalk(e.seed, anchor)
	e.walks[symbol] = w
	return w
}

// PlaceOrder fills any order at its requested price, or the last price for
// market orders.
func (e *Exchange) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("PlaceOrder failed: %w: %w", ports.ErrExecutionFailure, err)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("PlaceOrder failed: %w: %w: quantity %v", ports.ErrOrderPlacementFailed, ports.ErrInvalidRequest, req.Quantity)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	price := req.Price
	if req.Type == domain.OrderTypeMarket || price <= 0 {
		price = e.walkLocked(req.Symbol).Current()
	}
	pos := e.positionLocked(req.Symbol)
	if req.ReduceOnly {
		pos.qty = domain.Round8(max(pos.qty-req.Quantity, 0))
	} else {
		pos.qty = domain.Round8(pos.qty + req.Quantity)
	}
	return e.recordLocked(req.Symbol, req.Side, req.Type, req.Quantity, price, domain.OrderStatusFilled), nil
}

// OrderStatus returns a previously placed order.
func (e *Exchange) OrderStatus(ctx context.Context, symbol string, orderID int64) (*ports.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("OrderStatus failed: %w: %w", ports.ErrExecutionFailure, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok || o.Symbol != symbol {
		return nil, fmt.Errorf("OrderStatus failed: %w: %w: order %d", ports.ErrExecutionFailure, ports.ErrOrderNotFound, orderID)
	}
	return &o, nil
}

// ClosePartial reduces the simulated position by qty at price.
func (e *Exchange) ClosePartial(ctx context.Context, symbol string, side domain.Side, qty, price float64) (*ports.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ClosePartial failed: %w: %w", ports.ErrExecutionFailure, err)
	}
	if qty <= 0 {
		return nil, fmt.Errorf("ClosePartial failed: %w: %w: quantity %v", ports.ErrExecutionFailure, ports.ErrInvalidRequest, qty)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pos := e.positionLocked(symbol)
	pos.qty = domain.Round8(max(pos.qty-qty, 0))
	return e.recordLocked(symbol, side.ExitOrderSide(), domain.OrderTypeMarket, qty, price, domain.OrderStatusFilled), nil
}

// CloseFull closes the remaining simulated position at price and drops its stop.
func (e *Exchange) CloseFull(ctx context.Context, symbol string, side domain.Side, price float64) (*ports.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("CloseFull failed: %w: %w", ports.ErrExecutionFailure, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pos := e.positionLocked(symbol)
	qty := pos.qty
	pos.qty = 0
	pos.stop = 0
	return e.recordLocked(symbol, side.ExitOrderSide(), domain.OrderTypeMarket, qty, price, domain.OrderStatusFilled), nil
}

// UpdateStop records the protective stop price.
func (e *Exchange) UpdateStop(ctx context.Context, symbol string, side domain.Side, newPrice float64) (*ports.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("UpdateStop failed: %w: %w", ports.ErrExecutionFailure, err)
	}
	if newPrice <= 0 {
		return nil, fmt.Errorf("UpdateStop failed: %w: %w: price %v", ports.ErrExecutionFailure, ports.ErrInvalidRequest, newPrice)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pos := e.positionLocked(symbol)
	pos.stop = newPrice
	return e.recordLocked(symbol, side.ExitOrderSide(), domain.OrderTypeStopMarket, pos.qty, newPrice, domain.OrderStatusNew), nil
}

// Position returns the open quantity and stop price of a symbol.
func (e *Exchange) Position(symbol string) (qty, stop float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pos, ok := e.positions[symbol]; ok {
		return pos.qty, pos.stop
	}
	return 0, 0
}

// Orders returns every order placed so far, oldest first.
func (e *Exchange) Orders() []ports.OrderResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ports.OrderResult, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Exchange) positionLocked(symbol string) *position {
	pos, ok := e.positions[symbol]
	if !ok {
		pos = &position{}
		e.positions[symbol] = pos
	}
	return pos
}

func (e *Exchange) recordLocked(symbol string, side domain.OrderSide, typ domain.OrderType, qty, price float64, status string) *ports.OrderResult {
	e.nextID++
	executed := 0.0
	if status == domain.OrderStatusFilled {
		executed = qty
	}
	o := ports.OrderResult{
		OrderID:      e.nextID,
		Symbol:       symbol,
		Price:        price,
		AvgPrice:     price,
		OrigQuantity: qty,
		ExecutedQty:  executed,
		Status:       status,
		Type:         string(typ),
		Side:         string(side),
		Timestamp:    e.now(),
	}
	e.orders[o.OrderID] = o
	e.history = append(e.history, o)
	return &o
}
