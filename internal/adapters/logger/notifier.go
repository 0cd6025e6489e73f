package logger

import (
	"context"

	"smartTradeBot/internal/ports"
)

// Notifier is a ports.Notifier that writes notifications to the log. It is
// used when no chat transport is configured.
type Notifier struct {
	log ports.Logger
}

// NewNotifier returns a log-only notifier.
func NewNotifier(log ports.Logger) *Notifier {
	return &Notifier{log: log}
}

// Notify logs the text at info level.
func (n *Notifier) Notify(ctx context.Context, userID int64, text string) error {
	n.log.Info(ctx, "Notification", map[string]interface{}{"userID": userID, "text": text})
	return nil
}
