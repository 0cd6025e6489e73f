package domain

import "time"

// EventType classifies ledger events.
type EventType string

const (
	EventTradeStart        EventType = "trade_start"
	EventEntryFilled       EventType = "entry_filled"
	EventTakeProfit        EventType = "take_profit"
	EventStopLoss          EventType = "stop_loss"
	EventBreakevenMoved    EventType = "breakeven_moved"
	EventTrailingActivated EventType = "trailing_activated"
	EventTrailingUpdated   EventType = "trailing_updated"
	EventTradeComplete     EventType = "trade_complete"
	EventTradeStop         EventType = "trade_stop"
	EventTradeError        EventType = "trade_error"
)

// LedgerEvent is one entry in a user's append-only event log.
type LedgerEvent struct {
	ID        int64     `json:"id,omitempty"` // Set by durable stores
	UserID    int64     `json:"user_id"`
	TradeID   string    `json:"trade_id"`
	Type      EventType `json:"type"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price,omitempty"`
	Quantity  float64   `json:"quantity,omitempty"`
	PnL       float64   `json:"pnl,omitempty"`
	Level     int       `json:"level,omitempty"` // Take-profit level for take_profit events
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ActiveTrade is the ledger's record of a started, unfinished trade.
type ActiveTrade struct {
	UserID     int64
	TradeID    string
	Symbol     string
	Side       Side
	EntryPrice float64
	Amount     float64
	Leverage   int
	DryRun     bool
	Paused     bool // Stopped by the user and not restarted yet
	StartedAt  time.Time
}

// CompletedTrade is a finished trade with its final result.
type CompletedTrade struct {
	ID          int64 // Set by durable stores
	UserID      int64
	TradeID     string
	Symbol      string
	Side        Side
	EntryPrice  float64
	ExitPrice   float64
	Amount      float64
	Leverage    int
	PnL         float64
	Reason      CloseReason
	DryRun      bool
	StartedAt   time.Time
	CompletedAt time.Time
}

// IsWin reports whether the trade closed with a positive result.
func (t CompletedTrade) IsWin() bool {
	return t.PnL > 0
}

// Duration is the time between start and completion.
func (t CompletedTrade) Duration() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}
