package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"

	"smartTradeBot/config"
	"smartTradeBot/internal/adapters/logger"
	"smartTradeBot/internal/replay"
	"smartTradeBot/internal/utils"
)

func main() {
	klinesPath := flag.String("klines", "", "kline CSV written by fetch_klines")
	tradesPath := flag.String("trades", "trades.yaml", "YAML file with the trades to replay")
	balance := flag.Float64("balance", 1000, "initial balance for drawdown statistics")
	level := flag.String("log-level", "WARN", "log level")
	flag.Parse()

	if *klinesPath == "" {
		log.Fatal("FATAL: -klines is required")
	}

	appLogger, err := logger.NewZapLogger(logger.ParseLevel(*level), logger.FormatConsole)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	klines, err := utils.ReadKlinesFromCSV(*klinesPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load klines: %v", err)
	}
	plans, err := config.LoadTrades(*tradesPath, 1)
	if err != nil {
		log.Fatalf("FATAL: Failed to load trades: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Replaying %d trade(s) over %d klines\n\n", len(plans), len(klines))
	failed := false
	for i, plan := range plans {
		if plan.Config.ID == "" {
			plan.Config.ID = fmt.Sprintf("trade%d", i+1)
		}
		res, err := replay.Run(ctx, replay.Config{Trade: plan.Config, InitialBalance: *balance, Logger: appLogger}, klines)
		if err != nil {
			fmt.Printf("%s: %v\n\n", plan.Config.DisplayName(), err)
			failed = true
			continue
		}
		printResult(res)
	}
	if failed {
		os.Exit(1)
	}
}

func printResult(res *replay.Result) {
	cfg := res.Trade
	fmt.Printf("=== %s (%s %s, %dx) ===\n", cfg.DisplayName(), cfg.Symbol, cfg.Side, cfg.Leverage)
	if res.EntryAt.IsZero() {
		fmt.Printf("Entry %s never reached\n\n", humanize.CommafWithDigits(cfg.EntryPrice, 8))
		return
	}
	fmt.Printf("Entry:        %s at %s\n", humanize.CommafWithDigits(cfg.EntryPrice, 8), res.EntryAt.Format("2006-01-02 15:04"))
	fmt.Printf("Cycles:       %d\n", res.Ticks)
	fmt.Printf("Filled TPs:   %v\n", res.Final.FilledLevels())

	if res.Completed == nil {
		fmt.Printf("Still open:   %s remaining, stop %s, unrealized %s\n",
			humanize.CommafWithDigits(res.Final.State.Remaining, 8),
			humanize.CommafWithDigits(res.Final.State.CurrentSL, 8),
			humanize.CommafWithDigits(res.Final.UnrealizedPnL(), 2))
		fmt.Printf("Realized P&L: %s\n\n", humanize.CommafWithDigits(res.Final.State.RealizedPnL, 2))
		return
	}

	t := res.Completed
	fmt.Printf("Exit:         %s (%s) at %s\n", humanize.CommafWithDigits(t.ExitPrice, 8), t.Reason, t.CompletedAt.Format("2006-01-02 15:04"))
	fmt.Printf("Duration:     %s\n", t.Duration())
	fmt.Printf("P&L:          %s\n", humanize.CommafWithDigits(t.PnL, 2))
	fmt.Printf("Balance:      %s -> %s\n\n",
		humanize.CommafWithDigits(res.Summary.InitialBalance, 2),
		humanize.CommafWithDigits(res.Summary.FinalBalance, 2))
}
