package ports

import "context"

// Notifier delivers human-readable status messages to a user. Delivery is
// best effort; callers log failures and carry on.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}
