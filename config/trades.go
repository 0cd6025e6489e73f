package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"smartTradeBot/internal/domain"
)

// TradePlan is a trade loaded from a trades file.
type TradePlan struct {
	Config    domain.TradeConfig
	AutoStart bool
}

type tradesFile struct {
	Trades []tradeEntry `yaml:"trades"`
}

type tradeEntry struct {
	ID                     string            `yaml:"id"`
	Name                   string            `yaml:"name"`
	Symbol                 string            `yaml:"symbol"`
	Side                   string            `yaml:"side"`
	Amount                 float64           `yaml:"amount"`
	Leverage               int               `yaml:"leverage"`
	EntryPrice             float64           `yaml:"entry_price"`
	StopLoss               float64           `yaml:"stop_loss"`
	StopLossPercent        float64           `yaml:"stop_loss_percent"`
	TakeProfits            []takeProfitEntry `yaml:"take_profits"`
	BreakevenAfter         string            `yaml:"breakeven_after"`
	TrailPercent           float64           `yaml:"trail_percent"`
	TrailActivationPercent float64           `yaml:"trail_activation_percent"`
	DryRun                 *bool             `yaml:"dry_run"`
	Testnet                *bool             `yaml:"testnet"`
	Start                  *bool             `yaml:"start"`
}

type takeProfitEntry struct {
	Price   float64 `yaml:"price"`
	Percent float64 `yaml:"percent"`
	Size    float64 `yaml:"size"`
}

// LoadTrades reads a YAML trades file and builds a config per entry for userID.
func LoadTrades(path string, userID int64) ([]TradePlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trades file '%s': %w", path, err)
	}
	plans, err := ParseTrades(data, userID)
	if err != nil {
		return nil, fmt.Errorf("trades file '%s': %w", path, err)
	}
	return plans, nil
}

// ParseTrades decodes trades YAML. Unknown keys are rejected. Omitted fields
// keep the defaults of a newly created trade, and entries start automatically
// unless start is false.
func ParseTrades(data []byte, userID int64) ([]TradePlan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file tradesFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid trades YAML: %w", err)
	}

	plans := make([]TradePlan, 0, len(file.Trades))
	var errs []string
	for i, e := range file.Trades {
		cfg, err := e.toConfig(userID)
		if err != nil {
			errs = append(errs, fmt.Sprintf("trade #%d: %v", i+1, err))
			continue
		}
		plans = append(plans, TradePlan{Config: cfg, AutoStart: e.Start == nil || *e.Start})
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("trades validation failed: %s", strings.Join(errs, "; "))
	}
	return plans, nil
}

func (e tradeEntry) toConfig(userID int64) (domain.TradeConfig, error) {
	cfg := domain.NewTradeConfig(e.ID, userID, time.Time{})
	if err := e.checkFinite(); err != nil {
		return cfg, err
	}
	cfg.Name = e.Name
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(e.Symbol))
	if e.Side != "" {
		cfg.Side = domain.Side(strings.ToLower(e.Side))
	}
	cfg.Amount = e.Amount
	if e.Leverage != 0 {
		cfg.Leverage = e.Leverage
	}
	cfg.EntryPrice = e.EntryPrice
	if e.BreakevenAfter != "" {
		cfg.BreakevenAfter = domain.BreakevenTrigger(strings.ToLower(e.BreakevenAfter))
	}
	cfg.TrailPercent = e.TrailPercent
	cfg.TrailActivationPercent = e.TrailActivationPercent
	if e.DryRun != nil {
		cfg.DryRun = *e.DryRun
	}
	if e.Testnet != nil {
		cfg.Testnet = *e.Testnet
	}

	switch {
	case e.StopLoss > 0 && e.StopLossPercent > 0:
		return cfg, fmt.Errorf("set stop_loss or stop_loss_percent, not both")
	case e.StopLossPercent > 0:
		if err := cfg.SetStopLossPercent(e.StopLossPercent); err != nil {
			return cfg, err
		}
	default:
		cfg.SetStopLossPrice(e.StopLoss)
	}

	if len(e.TakeProfits) > domain.TakeProfitLevels {
		return cfg, fmt.Errorf("at most %d take profits are supported, got %d", domain.TakeProfitLevels, len(e.TakeProfits))
	}
	if len(e.TakeProfits) > 0 {
		cfg.TakeProfits = [domain.TakeProfitLevels]domain.TakeProfit{}
	}
	for i, tp := range e.TakeProfits {
		level := i + 1
		var err error
		if tp.Percent > 0 {
			err = cfg.SetTakeProfitPercent(level, tp.Percent)
		} else {
			err = cfg.SetTakeProfitPrice(level, tp.Price)
		}
		if err != nil {
			return cfg, err
		}
		if err := cfg.SetTakeProfitSize(level, tp.Size); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func (e tradeEntry) checkFinite() error {
	values := map[string]float64{
		"amount":                   e.Amount,
		"entry_price":              e.EntryPrice,
		"stop_loss":                e.StopLoss,
		"stop_loss_percent":        e.StopLossPercent,
		"trail_percent":            e.TrailPercent,
		"trail_activation_percent": e.TrailActivationPercent,
	}
	for i, tp := range e.TakeProfits {
		values[fmt.Sprintf("take_profits[%d].price", i)] = tp.Price
		values[fmt.Sprintf("take_profits[%d].percent", i)] = tp.Percent
		values[fmt.Sprintf("take_profits[%d].size", i)] = tp.Size
	}
	var bad []string
	for name, v := range values {
		if !domain.IsFinite(v) {
			bad = append(bad, name)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Strings(bad)
	return fmt.Errorf("%s must be finite numbers", strings.Join(bad, ", "))
}
