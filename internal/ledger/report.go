package ledger

import (
	"bytes"
	"encoding/csv"
	"math"
	"sort"
	"strconv"
	"time"

	"smartTradeBot/internal/domain"
)

// Summary holds portfolio statistics over a user's completed trades.
type Summary struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	ActiveTrades  int     // Running trades; paused ones are excluded
	WinRate       float64 // Fraction in [0,1]

	TotalPnL     float64
	GrossProfit  float64
	GrossLoss    float64 // Negative or zero
	AverageWin   float64
	AverageLoss  float64 // Negative or zero
	BestTrade    float64
	WorstTrade   float64
	ProfitFactor float64 // GrossProfit / |GrossLoss|
	Expectancy   float64
	SharpeRatio  float64 // Mean over standard deviation of per-trade P&L

	CurrentStreak        int // Positive for consecutive wins, negative for losses
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int

	InitialBalance       float64
	FinalBalance         float64
	MaxDrawdown          float64 // Fraction of peak equity
	AverageTradeDuration time.Duration
}

// SymbolStats aggregates completed trades for one symbol.
type SymbolStats struct {
	Symbol     string
	Trades     int
	Wins       int
	WinRate    float64
	TotalPnL   float64
	AveragePnL float64
}

// MonthlyStats aggregates completed trades by completion month.
type MonthlyStats struct {
	Month  string // 2006-01
	Trades int
	Wins   int
	PnL    float64
}

// Summary computes statistics from the user's completed trades.
func (l *Ledger) Summary(userID int64) Summary {
	trades := l.completedCopy(userID)
	s := analyze(trades, l.initialBalance)
	s.ActiveTrades = l.activeCount(userID)
	return s
}

func analyze(trades []domain.CompletedTrade, initialBalance float64) Summary {
	s := Summary{InitialBalance: initialBalance, FinalBalance: initialBalance}
	if len(trades) == 0 {
		return s
	}

	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].CompletedAt.Before(trades[j].CompletedAt)
	})

	balance, peak := initialBalance, initialBalance
	var wins, losses int
	var totalDuration time.Duration
	s.BestTrade, s.WorstTrade = trades[0].PnL, trades[0].PnL

	for _, t := range trades {
		s.TotalTrades++
		s.TotalPnL += t.PnL
		totalDuration += t.Duration()

		if t.IsWin() {
			s.WinningTrades++
			s.GrossProfit += t.PnL
			wins++
			losses = 0
		} else {
			s.LosingTrades++
			s.GrossLoss += t.PnL
			losses++
			wins = 0
		}
		s.MaxConsecutiveWins = max(s.MaxConsecutiveWins, wins)
		s.MaxConsecutiveLosses = max(s.MaxConsecutiveLosses, losses)
		s.BestTrade = math.Max(s.BestTrade, t.PnL)
		s.WorstTrade = math.Min(s.WorstTrade, t.PnL)

		balance += t.PnL
		if balance > peak {
			peak = balance
		} else if peak > 0 {
			s.MaxDrawdown = math.Max(s.MaxDrawdown, (peak-balance)/peak)
		}
	}

	s.FinalBalance = balance
	if wins > 0 {
		s.CurrentStreak = wins
	} else {
		s.CurrentStreak = -losses
	}

	n := float64(s.TotalTrades)
	s.WinRate = float64(s.WinningTrades) / n
	if s.WinningTrades > 0 {
		s.AverageWin = s.GrossProfit / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AverageLoss = s.GrossLoss / float64(s.LosingTrades)
	}
	if s.GrossLoss != 0 {
		s.ProfitFactor = s.GrossProfit / -s.GrossLoss
	}
	s.Expectancy = s.WinRate*s.AverageWin + (1-s.WinRate)*s.AverageLoss
	s.SharpeRatio = sharpe(trades)
	s.AverageTradeDuration = totalDuration / time.Duration(len(trades))
	return s
}

// sharpe is the mean per-trade P&L over its sample standard deviation.
func sharpe(trades []domain.CompletedTrade) float64 {
	if len(trades) < 2 {
		return 0
	}
	var sum float64
	for _, t := range trades {
		sum += t.PnL
	}
	mean := sum / float64(len(trades))
	var sq float64
	for _, t := range trades {
		d := t.PnL - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(trades)-1))
	if std == 0 {
		return 0
	}
	return mean / std
}

// RecentTrades returns up to n completed trades, newest first.
func (l *Ledger) RecentTrades(userID int64, n int) []domain.CompletedTrade {
	trades := l.completedCopy(userID)
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].CompletedAt.After(trades[j].CompletedAt)
	})
	if n > 0 && len(trades) > n {
		trades = trades[:n]
	}
	return trades
}

// RealizedPnLSince sums the P&L of trades completed at or after since.
func (l *Ledger) RealizedPnLSince(userID int64, since time.Time) float64 {
	var sum float64
	for _, t := range l.completedCopy(userID) {
		if !t.CompletedAt.Before(since) {
			sum += t.PnL
		}
	}
	return domain.Round8(sum)
}

// SymbolBreakdown groups completed trades by symbol, best total P&L first.
func (l *Ledger) SymbolBreakdown(userID int64) []SymbolStats {
	bySymbol := make(map[string]*SymbolStats)
	for _, t := range l.completedCopy(userID) {
		st, ok := bySymbol[t.Symbol]
		if !ok {
			st = &SymbolStats{Symbol: t.Symbol}
			bySymbol[t.Symbol] = st
		}
		st.Trades++
		st.TotalPnL += t.PnL
		if t.IsWin() {
			st.Wins++
		}
	}

	out := make([]SymbolStats, 0, len(bySymbol))
	for _, st := range bySymbol {
		st.WinRate = float64(st.Wins) / float64(st.Trades)
		st.AveragePnL = st.TotalPnL / float64(st.Trades)
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPnL != out[j].TotalPnL {
			return out[i].TotalPnL > out[j].TotalPnL
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// MonthlyBreakdown groups completed trades by completion month, oldest first.
func (l *Ledger) MonthlyBreakdown(userID int64) []MonthlyStats {
	byMonth := make(map[string]*MonthlyStats)
	for _, t := range l.completedCopy(userID) {
		key := t.CompletedAt.UTC().Format("2006-01")
		st, ok := byMonth[key]
		if !ok {
			st = &MonthlyStats{Month: key}
			byMonth[key] = st
		}
		st.Trades++
		st.PnL += t.PnL
		if t.IsWin() {
			st.Wins++
		}
	}

	out := make([]MonthlyStats, 0, len(byMonth))
	for _, st := range byMonth {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

var csvHeader = []string{
	"trade_id", "symbol", "side", "entry_price", "exit_price", "amount", "leverage",
	"pnl", "reason", "dry_run", "started_at", "completed_at",
}

// CSVExport renders the user's completed trades as CSV, oldest first.
func (l *Ledger) CSVExport(userID int64) ([]byte, error) {
	trades := l.completedCopy(userID)
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].CompletedAt.Before(trades[j].CompletedAt)
	})

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, t := range trades {
		started := ""
		if !t.StartedAt.IsZero() {
			started = t.StartedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			t.TradeID,
			t.Symbol,
			string(t.Side),
			strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(t.ExitPrice, 'f', -1, 64),
			strconv.FormatFloat(t.Amount, 'f', -1, 64),
			strconv.Itoa(t.Leverage),
			strconv.FormatFloat(t.PnL, 'f', -1, 64),
			string(t.Reason),
			strconv.FormatBool(t.DryRun),
			started,
			t.CompletedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
