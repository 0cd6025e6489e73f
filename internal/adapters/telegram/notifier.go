package telegram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"smartTradeBot/internal/ports"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Notifier delivers trade notifications as Telegram chat messages. The user
// ID is used as the chat ID.
type Notifier struct {
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
	logger  ports.Logger
}

var _ ports.Notifier = (*Notifier)(nil)

// Config contains Telegram notifier configuration.
type Config struct {
	Token          string
	Endpoint       string // Bot API endpoint format, defaults to tgbotapi.APIEndpoint
	HTTPTimeout    time.Duration
	RateLimitRate  float64 // Messages per second (default: 20)
	RateLimitBurst int     // Burst (default: 30)
	Logger         ports.Logger
}

// NewNotifier authorizes the bot and returns a rate limited notifier.
func NewNotifier(cfg Config) (*Notifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Telegram notifier")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token is required: %w", ports.ErrConfigurationError)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.RateLimitRate == 0 {
		cfg.RateLimitRate = 20
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 30
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.Endpoint, &http.Client{Timeout: cfg.HTTPTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w: %w", ports.ErrConnectionFailed, err)
	}
	cfg.Logger.Info(context.Background(), "Telegram bot authorized", map[string]interface{}{"username": api.Self.UserName})

	return &Notifier{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRate), cfg.RateLimitBurst),
		logger:  cfg.Logger,
	}, nil
}

// Notify sends text to the user's chat, waiting for the rate limiter first.
func (n *Notifier) Notify(ctx context.Context, userID int64, text string) error {
	op := "Notify"
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limiter wait failed: %w", op, err)
	}

	msg := tgbotapi.NewMessage(userID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Error(ctx, err, "Failed to send Telegram message", map[string]interface{}{"userID": userID})
		return fmt.Errorf("%s failed: %w", op, err)
	}
	n.logger.Debug(ctx, "Telegram message sent", map[string]interface{}{"userID": userID})
	return nil
}
