package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"smartTradeBot/internal/domain"
	"smartTradeBot/internal/ports"
)

// Port is the live ports.ExecutionPort of a single trade. It remembers the
// resting stop order and the open quantity so stops can be replaced and the
// remainder closed without querying positions.
type Port struct {
	client *Client

	mu          sync.Mutex
	stopOrderID int64
	openQty     float64
}

var _ ports.ExecutionPort = (*Port)(nil)

// Prepare verifies credentials and applies the leverage.
func (p *Port) Prepare(ctx context.Context, symbol string, leverage int) error {
	if err := p.client.CheckCredentials(ctx); err != nil {
		return err
	}
	return p.client.SetLeverage(ctx, symbol, leverage)
}

// GetCurrentPrice returns the mark price.
func (p *Port) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return p.client.GetMarkPrice(ctx, symbol)
}

// PlaceOrder submits an entry order and tracks its quantity as open.
func (p *Port) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResult, error) {
	res, err := p.client.CreateOrder(ctx, req, false)
	if err != nil {
		return nil, err
	}
	if !req.ReduceOnly {
		p.mu.Lock()
		p.openQty += req.Quantity
		p.mu.Unlock()
	}
	return res, nil
}

// OrderStatus returns the exchange view of an order.
func (p *Port) OrderStatus(ctx context.Context, symbol string, orderID int64) (*ports.OrderResult, error) {
	return p.client.GetOrder(ctx, symbol, orderID)
}

// ClosePartial closes qty of the position with a reduce-only market order.
func (p *Port) ClosePartial(ctx context.Context, symbol string, side domain.Side, qty, price float64) (*ports.OrderResult, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("ClosePartial failed: %w: %w: quantity %v", ports.ErrExecutionFailure, ports.ErrInvalidRequest, qty)
	}
	res, err := p.client.CreateOrder(ctx, ports.OrderRequest{
		Symbol:     symbol,
		Side:       side.ExitOrderSide(),
		Type:       domain.OrderTypeMarket,
		Quantity:   qty,
		Price:      price,
		ReduceOnly: true,
	}, false)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.openQty = domain.Round8(p.openQty - qty)
	if p.openQty < 0 {
		p.openQty = 0
	}
	p.mu.Unlock()
	return res, nil
}

// CloseFull cancels the resting stop and closes the remaining quantity.
func (p *Port) CloseFull(ctx context.Context, symbol string, side domain.Side, price float64) (*ports.OrderResult, error) {
	if err := p.cancelStop(ctx, symbol); err != nil {
		return nil, err
	}

	p.mu.Lock()
	qty := p.openQty
	p.mu.Unlock()
	if qty <= 0 {
		return &ports.OrderResult{Symbol: symbol, Price: price, AvgPrice: price, Status: domain.OrderStatusFilled}, nil
	}

	res, err := p.client.CreateOrder(ctx, ports.OrderRequest{
		Symbol:     symbol,
		Side:       side.ExitOrderSide(),
		Type:       domain.OrderTypeMarket,
		Quantity:   qty,
		Price:      price,
		ReduceOnly: true,
	}, false)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.openQty = 0
	p.mu.Unlock()
	return res, nil
}

// UpdateStop replaces the resting stop-market order with one at newPrice.
func (p *Port) UpdateStop(ctx context.Context, symbol string, side domain.Side, newPrice float64) (*ports.OrderResult, error) {
	if newPrice <= 0 {
		return nil, fmt.Errorf("UpdateStop failed: %w: %w: price %v", ports.ErrExecutionFailure, ports.ErrInvalidRequest, newPrice)
	}
	if err := p.cancelStop(ctx, symbol); err != nil {
		return nil, err
	}
	res, err := p.client.CreateOrder(ctx, ports.OrderRequest{
		Symbol:     symbol,
		Side:       side.ExitOrderSide(),
		Type:       domain.OrderTypeStopMarket,
		Price:      newPrice,
		ReduceOnly: true,
	}, true)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.stopOrderID = res.OrderID
	p.mu.Unlock()
	return res, nil
}

// cancelStop removes the tracked stop order. A stop that already triggered
// or was cancelled elsewhere is not an error.
func (p *Port) cancelStop(ctx context.Context, symbol string) error {
	p.mu.Lock()
	id := p.stopOrderID
	p.mu.Unlock()
	if id == 0 {
		return nil
	}
	if _, err := p.client.CancelOrder(ctx, symbol, id); err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
		return err
	}
	p.mu.Lock()
	if p.stopOrderID == id {
		p.stopOrderID = 0
	}
	p.mu.Unlock()
	return nil
}
