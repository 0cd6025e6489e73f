package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"smartTradeBot/config"
	"smartTradeBot/internal/adapters/binanceclient"
	"smartTradeBot/internal/adapters/logger"
	"smartTradeBot/internal/utils"
)

func main() {
	symbol := flag.String("symbol", "BTCUSDT", "futures symbol")
	interval := flag.String("interval", "1m", "kline interval")
	days := flag.Int("days", 7, "days of history to fetch")
	out := flag.String("out", "", "output CSV (default data/<symbol>_<interval>_<from>_to_<to>.csv)")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	// 3. Initialize Exchange Client (klines are public, keys are optional)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Timeout:    cfg.RequestTimeout,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sym := strings.ToUpper(*symbol)
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -*days)

	appLogger.Info(ctx, "Fetching klines", map[string]interface{}{"symbol": sym, "interval": *interval, "from": start, "to": end})
	klines, err := binanceClient.GetKlinesRange(ctx, sym, *interval, start, end)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching klines")
		os.Exit(1)
	}
	appLogger.Info(ctx, "Fetched klines", map[string]interface{}{"count": len(klines)})

	filename := *out
	if filename == "" {
		filename = fmt.Sprintf("data/%s_%s_%s_to_%s.csv", sym, *interval, start.Format("20060102"), end.Format("20060102"))
	}
	if err := utils.WriteKlinesToCSV(klines, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV", map[string]interface{}{"filename": filename})
		os.Exit(1)
	}
	appLogger.Info(ctx, "Saved klines", map[string]interface{}{"filename": filename})
}
