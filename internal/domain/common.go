package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType is the exchange order type used by the execution port.
type OrderType string

const (
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// Order statuses reported by the execution port.
const (
	OrderStatusNew      = "NEW"
	OrderStatusFilled   = "FILLED"
	OrderStatusCanceled = "CANCELED"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether s is long or short.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Sign is +1 for long and -1 for short. Price deltas are multiplied by it to get P&L.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// EntryOrderSide is the order side that opens a position in this direction.
func (s Side) EntryOrderSide() OrderSide {
	if s == SideShort {
		return Sell
	}
	return Buy
}

// ExitOrderSide is the order side that reduces a position in this direction.
func (s Side) ExitOrderSide() OrderSide {
	if s == SideShort {
		return Buy
	}
	return Sell
}

// ReachedProfit reports whether price has reached level in the profit direction.
func (s Side) ReachedProfit(price, level float64) bool {
	if s == SideShort {
		return price <= level
	}
	return price >= level
}

// ReachedLoss reports whether price has reached level in the loss direction.
func (s Side) ReachedLoss(price, level float64) bool {
	if s == SideShort {
		return price >= level
	}
	return price <= level
}

// MoreFavorableStop reports whether candidate is a strictly tighter stop than current.
func (s Side) MoreFavorableStop(candidate, current float64) bool {
	if s == SideShort {
		return current <= 0 || candidate < current
	}
	return candidate > current
}

// TradeStatus is the lifecycle status of a TradeConfig.
type TradeStatus string

const (
	StatusConfigured TradeStatus = "configured"
	StatusActive     TradeStatus = "active"
	StatusPaused     TradeStatus = "paused"
	StatusCompleted  TradeStatus = "completed"
	StatusCancelled  TradeStatus = "cancelled"
	StatusError      TradeStatus = "error"
)

// BreakevenTrigger names the take-profit level after which the stop moves to entry.
type BreakevenTrigger string

const (
	BreakevenNone BreakevenTrigger = "none"
	BreakevenTP1  BreakevenTrigger = "tp1"
	BreakevenTP2  BreakevenTrigger = "tp2"
	BreakevenTP3  BreakevenTrigger = "tp3"
)

// Level returns the 1-based take-profit level, or 0 for none.
func (b BreakevenTrigger) Level() int {
	switch b {
	case BreakevenTP1:
		return 1
	case BreakevenTP2:
		return 2
	case BreakevenTP3:
		return 3
	default:
		return 0
	}
}

// Valid reports whether b is one of the known triggers. Empty counts as none.
func (b BreakevenTrigger) Valid() bool {
	switch b {
	case "", BreakevenNone, BreakevenTP1, BreakevenTP2, BreakevenTP3:
		return true
	}
	return false
}

// Phase is the state of a running position controller.
type Phase string

const (
	PhaseWaitingEntry   Phase = "WAITING_ENTRY"
	PhaseActive         Phase = "ACTIVE"
	PhaseTPPartial      Phase = "TP_PARTIAL"
	PhaseBreakevenMoved Phase = "BREAKEVEN_MOVED"
	PhaseTrailingActive Phase = "TRAILING_ACTIVE"
	PhaseClosed         Phase = "CLOSED"
	PhaseStopped        Phase = "STOPPED"
	PhaseError          Phase = "ERROR"
)

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseClosed || p == PhaseStopped || p == PhaseError
}

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss     CloseReason = "SL"
	CloseReasonTakeProfit   CloseReason = "TP"
	CloseReasonBreakeven    CloseReason = "BREAKEVEN"
	CloseReasonTrailingStop CloseReason = "TRAILING_STOP"
	CloseReasonManual       CloseReason = "MANUAL"
	CloseReasonError        CloseReason = "ERROR"
)
