package ports

import (
	"context"

	"smartTradeBot/internal/domain"
)

// LedgerStore is a durable journal behind the in-memory portfolio ledger.
type LedgerStore interface {
	// AppendEvent saves an event and returns its assigned ID.
	AppendEvent(ctx context.Context, ev *domain.LedgerEvent) (int64, error)
	// SaveCompletedTrade saves a finished trade and returns its assigned ID.
	SaveCompletedTrade(ctx context.Context, trade *domain.CompletedTrade) (int64, error)
	// LoadCompletedTrades returns every completed trade, oldest first.
	LoadCompletedTrades(ctx context.Context) ([]*domain.CompletedTrade, error)
	// LoadRecentEvents returns up to limit most recent events per user, oldest first.
	LoadRecentEvents(ctx context.Context, limit int) ([]*domain.LedgerEvent, error)
	// PruneEvents deletes all but the newest keep events of a user.
	PruneEvents(ctx context.Context, userID int64, keep int) error
}
