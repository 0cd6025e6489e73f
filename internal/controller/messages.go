package controller

import (
	"fmt"
	"strings"
	"time"

	"smartTradeBot/internal/domain"

	"github.com/dustin/go-humanize"
)

func formatMoney(v float64) string {
	s := humanize.CommafWithDigits(v, 2)
	if v > 0 {
		return "+" + s
	}
	return s
}

func formatPrice(v float64) string {
	return humanize.CommafWithDigits(v, 8)
}

func elapsed(from, to time.Time) string {
	if from.IsZero() {
		return "n/a"
	}
	return strings.TrimSpace(humanize.RelTime(from, to, "", ""))
}

func header(c domain.TradeConfig) string {
	mode := "LIVE"
	if c.DryRun {
		mode = "DRY RUN"
	}
	return fmt.Sprintf("[%s] %s %s x%d", mode, c.DisplayName(), strings.ToUpper(string(c.Side)), c.Leverage)
}

func entryFilledMessage(c domain.TradeConfig, sl float64) string {
	return fmt.Sprintf("%s\nEntry filled at %s, amount %s\nStop loss %s",
		header(c), formatPrice(c.EntryPrice), humanize.Ftoa(c.Amount), formatPrice(sl))
}

func takeProfitMessage(c domain.TradeConfig, level int, fillPrice, closed, remaining, pnl float64) string {
	return fmt.Sprintf("%s\nTP%d hit at %s: closed %s, remaining %s\nRealized %s",
		header(c), level, formatPrice(fillPrice), humanize.Ftoa(closed), humanize.Ftoa(remaining), formatMoney(pnl))
}

func stopMessage(c domain.TradeConfig, reason domain.CloseReason, stop, pnl float64) string {
	return fmt.Sprintf("%s\n%s hit at %s\nRealized %s", header(c), reason, formatPrice(stop), formatMoney(pnl))
}

func stopMovedMessage(c domain.TradeConfig, what string, stop float64) string {
	return fmt.Sprintf("%s\n%s: stop moved to %s", header(c), what, formatPrice(stop))
}

func completedMessage(c domain.TradeConfig, s State, at time.Time) string {
	return fmt.Sprintf("%s\nTrade completed (%s) after %s\nTotal P&L %s",
		header(c), s.ExitReason, elapsed(s.StartedAt, at), formatMoney(s.RealizedPnL))
}

func errorMessage(c domain.TradeConfig, err error) string {
	return fmt.Sprintf("%s\nTrade stopped with an error: %v", header(c), err)
}
