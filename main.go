package main

import (
	"context"
	"errors"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartTradeBot/config"
	"smartTradeBot/internal/adapters/binanceclient"
	"smartTradeBot/internal/adapters/logger"
	"smartTradeBot/internal/adapters/simexchange"
	"smartTradeBot/internal/adapters/sqlite"
	"smartTradeBot/internal/adapters/telegram"
	"smartTradeBot/internal/controller"
	"smartTradeBot/internal/domain"
	"smartTradeBot/internal/ledger"
	"smartTradeBot/internal/metrics"
	"smartTradeBot/internal/orchestrator"
	"smartTradeBot/internal/ports"
	"smartTradeBot/internal/risk"
)

const shutdownTimeout = 30 * time.Second

func main() {
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
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Metrics
	appMetrics := metrics.New()
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", appMetrics.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error(ctx, err, "Metrics server stopped")
			}
		}()
		appLogger.Info(ctx, "Metrics server listening", map[string]interface{}{"addr": cfg.MetricsAddr})
	}

	// 4. Ledger journal (SQLite backed when DB_PATH is set)
	var store ports.LedgerStore
	if cfg.DBPath != "" {
		repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize ledger database")
			log.Fatalf("FATAL: Failed to initialize ledger database: %v", err)
		}
		defer func() {
			if err := repo.Close(); err != nil {
				appLogger.Error(context.Background(), err, "Error closing ledger database")
			}
		}()
		store = repo
	}
	book, err := ledger.New(ledger.Config{
		Retention:      cfg.LedgerRetention,
		InitialBalance: cfg.LedgerInitialBalance,
		Store:          store,
		Logger:         appLogger,
		Metrics:        appMetrics,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize ledger: %v", err)
	}
	if err := book.Restore(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to restore ledger")
		log.Fatalf("FATAL: Failed to restore ledger: %v", err)
	}

	// 5. Notifications
	var notifier ports.Notifier = logger.NewNotifier(appLogger)
	if cfg.TelegramBotToken != "" {
		tg, err := telegram.NewNotifier(telegram.Config{Token: cfg.TelegramBotToken, Logger: appLogger})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize Telegram notifier")
			log.Fatalf("FATAL: Failed to initialize Telegram notifier: %v", err)
		}
		notifier = tg
	}

	// 6. Exchange client (live trades only)
	var binanceClient *binanceclient.Client
	if cfg.HasCredentials() {
		binanceClient, err = binanceclient.New(binanceclient.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			UseTestnet: cfg.IsTestnet,
			Timeout:    cfg.RequestTimeout,
			Logger:     appLogger,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
			log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
		}
	} else {
		appLogger.Warn(ctx, "No Binance credentials configured, only dry-run trades can start")
	}

	// 7. Risk gate and orchestrator
	gate, err := risk.NewGuard(risk.Limits{
		MaxLeverage:     cfg.RiskMaxLeverage,
		MaxAmount:       cfg.RiskMaxAmount,
		MaxNotional:     cfg.RiskMaxNotional,
		MaxActiveTrades: cfg.RiskMaxActiveTrades,
		MaxDailyLoss:    cfg.RiskMaxDailyLoss,
	}, book, nil)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize risk gate: %v", err)
	}
	orch, err := orchestrator.New(orchestrator.Config{
		Settings: controller.Settings{
			Interval:             cfg.MonitorInterval,
			ErrorBackoff:         cfg.ErrorBackoff,
			MaxErrorBackoff:      cfg.MaxErrorBackoff,
			DryRunFillDelay:      cfg.DryRunFillDelay,
			RequestTimeout:       cfg.RequestTimeout,
			MaxSetupAttempts:     cfg.MaxSetupAttempts,
			MaxConsecutiveErrors: cfg.MaxConsecutiveErr,
		},
		Journal:     book,
		PortFactory: portFactory(binanceClient, cfg.IsTestnet),
		Gate:        gate,
		Notifier:    notifier,
		Logger:      appLogger,
		Metrics:     appMetrics,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize orchestrator: %v", err)
	}

	// 8. Trades file
	if cfg.TradesFile != "" {
		if err := loadTrades(ctx, orch, cfg.TradesFile, cfg.DefaultUserID, appLogger); err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to load trades file")
			log.Fatalf("FATAL: Failed to load trades file: %v", err)
		}
	}

	appLogger.Info(ctx, "Trade engine running", map[string]interface{}{"activeTrades": orch.ActiveCount(cfg.DefaultUserID)})
	<-ctx.Done()
	appLogger.Info(context.Background(), "Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, err, "Controllers did not stop in time")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn(shutdownCtx, "Metrics server shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}
	appLogger.Info(context.Background(), "Application finished gracefully.")
}

// portFactory binds dry-run trades to a simulator anchored at the entry price
// and live trades to the shared Binance client.
func portFactory(client *binanceclient.Client, testnet bool) orchestrator.PortFactory {
	return func(trade domain.TradeConfig) (ports.ExecutionPort, error) {
		if trade.DryRun {
			return simexchange.New(simexchange.Config{Seed: trade.ID, Anchor: trade.EntryPrice}), nil
		}
		if client == nil {
			return nil, fmt.Errorf("live trade %s needs Binance credentials: %w", trade.ID, ports.ErrInvalidAPIKeys)
		}
		if trade.Testnet != testnet {
			return nil, fmt.Errorf("trade %s wants testnet=%t but the client uses testnet=%t: %w", trade.ID, trade.Testnet, testnet, ports.ErrConfigurationError)
		}
		return client.NewPort(), nil
	}
}

func loadTrades(ctx context.Context, orch *orchestrator.Orchestrator, path string, userID int64, appLogger ports.Logger) error {
	plans, err := config.LoadTrades(path, userID)
	if err != nil {
		return err
	}
	for _, plan := range plans {
		added, err := orch.Add(plan.Config)
		if err != nil {
			return err
		}
		if !plan.AutoStart {
			appLogger.Info(ctx, "Trade loaded", map[string]interface{}{"tradeID": added.ID, "name": added.DisplayName()})
			continue
		}
		if _, err := orch.Start(userID, added.ID); err != nil {
			appLogger.Error(ctx, err, "Trade failed to start", map[string]interface{}{"tradeID": added.ID, "name": added.DisplayName()})
		}
	}
	return nil
}
