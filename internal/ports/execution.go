package ports

import (
	"context"
	"time"

	"smartTradeBot/internal/domain"
)

// OrderRequest describes an order the controller wants placed.
type OrderRequest struct {
	Symbol     string
	Side       domain.OrderSide
	Type       domain.OrderType
	Quantity   float64
	Price      float64 // Limit price, or trigger price for stop orders
	ReduceOnly bool
}

// OrderResult represents the essential details returned after an order call.
type OrderResult struct {
	OrderID      int64     // Exchange's order ID
	Symbol       string    // Symbol for the order
	Price        float64   // Price of the order (might be 0 for market orders initially)
	AvgPrice     float64   // Average filled price
	OrigQuantity float64   // Original quantity requested
	ExecutedQty  float64   // Quantity filled
	Status       string    // Order status (e.g., NEW, FILLED, CANCELED)
	Type         string    // Order type (e.g., MARKET, LIMIT, STOP_MARKET)
	Side         string    // Order side (BUY, SELL)
	Timestamp    time.Time // Time the response was generated
}

// Filled reports whether the exchange reports the order as fully executed.
func (r *OrderResult) Filled() bool {
	return r != nil && r.Status == domain.OrderStatusFilled
}

// ExecutionPort is the price feed and order interface a position controller
// drives. Implementations must return errors instead of panicking and must
// honour context cancellation. Errors wrap ErrMarketDataUnavailable for price
// failures and ErrExecutionFailure for order failures.
type ExecutionPort interface {
	// Prepare readies the account for trading the symbol (credentials, leverage).
	Prepare(ctx context.Context, symbol string, leverage int) error

	// GetCurrentPrice returns the latest price for the symbol.
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)

	// PlaceOrder submits a new order.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// OrderStatus fetches the current state of a previously placed order.
	OrderStatus(ctx context.Context, symbol string, orderID int64) (*OrderResult, error)

	// ClosePartial reduces the position in the given direction by qty.
	ClosePartial(ctx context.Context, symbol string, side domain.Side, qty, price float64) (*OrderResult, error)

	// CloseFull closes whatever remains of the position.
	CloseFull(ctx context.Context, symbol string, side domain.Side, price float64) (*OrderResult, error)

	// UpdateStop replaces the protective stop with one at newPrice.
	UpdateStop(ctx context.Context, symbol string, side domain.Side, newPrice float64) (*OrderResult, error)
}

// KlineSource provides historical candles for replay tooling.
type KlineSource interface {
	GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error)
}
