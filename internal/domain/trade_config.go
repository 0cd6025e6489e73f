package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// TakeProfitLevels is the number of take-profit slots on a trade.
	TakeProfitLevels = 3

	MinLeverage       = 1
	MaxLeverage       = 100
	MaxTrailPercent   = 50.0
	PricePrecision    = 8
	sizeSumTolerance  = 0.01
	fullPositionShare = 100.0
)

// TakeProfit is one staged exit. SizePercent is the share of the remaining
// position closed when Price is reached.
type TakeProfit struct {
	Price       float64 `json:"price" yaml:"price"`
	Percent     float64 `json:"percent" yaml:"percent"`
	SizePercent float64 `json:"size_percent" yaml:"size_percent"`
}

// Active reports whether the slot takes part in execution.
func (tp TakeProfit) Active() bool {
	return tp.Price > 0 && tp.SizePercent > 0
}

// TradeConfig holds the parameters of a single managed position.
type TradeConfig struct {
	ID        string    `json:"id" yaml:"id"`
	UserID    int64     `json:"user_id" yaml:"user_id"`
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	Symbol   string  `json:"symbol" yaml:"symbol"`
	Side     Side    `json:"side" yaml:"side"`
	Amount   float64 `json:"amount" yaml:"amount"`
	Leverage int     `json:"leverage" yaml:"leverage"`

	EntryPrice  float64                      `json:"entry_price" yaml:"entry_price"`
	SLPrice     float64                      `json:"sl_price" yaml:"sl_price"`
	SLPercent   float64                      `json:"sl_percent" yaml:"sl_percent"`
	TakeProfits [TakeProfitLevels]TakeProfit `json:"take_profits" yaml:"take_profits"`

	BreakevenAfter         BreakevenTrigger `json:"breakeven_after" yaml:"breakeven_after"`
	TrailPercent           float64          `json:"trail_percent" yaml:"trail_percent"`
	TrailActivationPercent float64          `json:"trail_activation_percent" yaml:"trail_activation_percent"`

	DryRun  bool `json:"dry_run" yaml:"dry_run"`
	Testnet bool `json:"testnet" yaml:"testnet"`

	Status TradeStatus `json:"status" yaml:"status"`
}

// NewTradeConfig returns a config with default parameters in the configured state.
func NewTradeConfig(id string, userID int64, now time.Time) TradeConfig {
	return TradeConfig{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		Side:      SideLong,
		Leverage:  1,
		TakeProfits: [TakeProfitLevels]TakeProfit{
			{SizePercent: 50},
			{SizePercent: 30},
			{SizePercent: 20},
		},
		BreakevenAfter: BreakevenNone,
		DryRun:         true,
		Testnet:        true,
		Status:         StatusConfigured,
	}
}

// DisplayName is the name if set, otherwise a symbol/side label.
func (c TradeConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Symbol == "" {
		return c.ID
	}
	return fmt.Sprintf("%s %s", c.Symbol, strings.ToUpper(string(c.Side)))
}

// Copy duplicates the parameters under a new identity in the configured state.
func (c TradeConfig) Copy(newID string, now time.Time) TradeConfig {
	dup := c
	dup.ID = newID
	dup.CreatedAt = now
	dup.Status = StatusConfigured
	if c.Name != "" {
		dup.Name = c.Name + " (copy)"
	}
	return dup
}

// Validate returns every problem with the config. An empty result means the
// config may be activated.
func (c TradeConfig) Validate() []string {
	if errs := c.nonFinite(); len(errs) > 0 {
		return errs
	}

	var errs []string
	if strings.TrimSpace(c.Symbol) == "" {
		errs = append(errs, "symbol must be set")
	}
	if !c.Side.Valid() {
		errs = append(errs, fmt.Sprintf("side must be long or short, got %q", c.Side))
	}
	if c.Amount <= 0 {
		errs = append(errs, "amount must be positive")
	}
	if c.Leverage < MinLeverage || c.Leverage > MaxLeverage {
		errs = append(errs, fmt.Sprintf("leverage must be between %d and %d", MinLeverage, MaxLeverage))
	}
	if c.EntryPrice <= 0 {
		errs = append(errs, "entry price must be positive")
	}
	if c.SLPrice <= 0 {
		errs = append(errs, "stop loss price must be positive")
	}

	active := 0
	var sizeSum float64
	for i, tp := range c.TakeProfits {
		level := i + 1
		if tp.SizePercent < 0 || tp.SizePercent > fullPositionShare {
			errs = append(errs, fmt.Sprintf("tp%d size must be between 0 and 100", level))
		}
		if tp.Price < 0 {
			errs = append(errs, fmt.Sprintf("tp%d price cannot be negative", level))
		}
		if tp.Price == 0 && tp.SizePercent > 0 {
			errs = append(errs, fmt.Sprintf("tp%d has a size but no price", level))
		}
		sizeSum += tp.SizePercent
		if tp.Active() {
			active++
		}
	}
	if active == 0 {
		errs = append(errs, "at least one take profit level must be set")
	}
	if math.Abs(sizeSum-fullPositionShare) > sizeSumTolerance {
		errs = append(errs, fmt.Sprintf("take profit sizes must sum to 100%%, got %.2f%%", sizeSum))
	}

	if c.EntryPrice > 0 && c.Side.Valid() {
		errs = append(errs, c.validatePriceOrder()...)
	}

	if c.TrailPercent < 0 || c.TrailPercent > MaxTrailPercent {
		errs = append(errs, fmt.Sprintf("trail percent must be between 0 and %.0f", MaxTrailPercent))
	}
	if c.TrailActivationPercent < 0 {
		errs = append(errs, "trail activation percent cannot be negative")
	}

	if !c.BreakevenAfter.Valid() {
		errs = append(errs, fmt.Sprintf("unknown breakeven trigger %q", c.BreakevenAfter))
	} else if lvl := c.BreakevenAfter.Level(); lvl > 0 && !c.TakeProfits[lvl-1].Active() {
		errs = append(errs, fmt.Sprintf("breakeven trigger references inactive tp%d", lvl))
	}

	return errs
}

// nonFinite reports NaN or infinite numeric fields. Validate returns only
// these problems when there are any.
func (c TradeConfig) nonFinite() []string {
	var errs []string
	check := func(name string, v float64) {
		if !IsFinite(v) {
			errs = append(errs, fmt.Sprintf("%s must be a finite number", name))
		}
	}
	check("amount", c.Amount)
	check("entry price", c.EntryPrice)
	check("stop loss price", c.SLPrice)
	check("stop loss percent", c.SLPercent)
	for i, tp := range c.TakeProfits {
		check(fmt.Sprintf("tp%d price", i+1), tp.Price)
		check(fmt.Sprintf("tp%d percent", i+1), tp.Percent)
		check(fmt.Sprintf("tp%d size", i+1), tp.SizePercent)
	}
	check("trail percent", c.TrailPercent)
	check("trail activation percent", c.TrailActivationPercent)
	return errs
}

func (c TradeConfig) validatePriceOrder() []string {
	var errs []string
	entry := c.EntryPrice

	if c.SLPrice > 0 && (c.SLPrice == entry || !c.Side.ReachedLoss(c.SLPrice, entry)) {
		if c.Side == SideLong {
			errs = append(errs, "stop loss must be below entry for long positions")
		} else {
			errs = append(errs, "stop loss must be above entry for short positions")
		}
	}

	prev := entry
	for i, tp := range c.TakeProfits {
		if !tp.Active() {
			continue
		}
		level := i + 1
		if tp.Price == entry || !c.Side.ReachedProfit(tp.Price, entry) {
			if c.Side == SideLong {
				errs = append(errs, fmt.Sprintf("tp%d must be above entry for long positions", level))
			} else {
				errs = append(errs, fmt.Sprintf("tp%d must be below entry for short positions", level))
			}
			continue
		}
		if prev != entry && (tp.Price == prev || !c.Side.ReachedProfit(tp.Price, prev)) {
			errs = append(errs, fmt.Sprintf("tp%d must be further from entry than the previous level", level))
		}
		prev = tp.Price
	}
	return errs
}

// ActiveLevels returns the 1-based levels of active take-profit slots.
func (c TradeConfig) ActiveLevels() []int {
	var levels []int
	for i, tp := range c.TakeProfits {
		if tp.Active() {
			levels = append(levels, i+1)
		}
	}
	return levels
}

// SetTakeProfitPercent sets a level by distance from entry and derives its price.
func (c *TradeConfig) SetTakeProfitPercent(level int, pct float64) error {
	if err := checkLevel(level); err != nil {
		return err
	}
	if c.EntryPrice <= 0 {
		return fmt.Errorf("entry price must be set before tp%d percent", level)
	}
	tp := &c.TakeProfits[level-1]
	tp.Percent = Round8(pct)
	tp.Price = TPPriceFromPercent(c.EntryPrice, c.Side, pct)
	return nil
}

// SetTakeProfitPrice sets a level by price and derives its percent when entry is known.
func (c *TradeConfig) SetTakeProfitPrice(level int, price float64) error {
	if err := checkLevel(level); err != nil {
		return err
	}
	tp := &c.TakeProfits[level-1]
	tp.Price = Round8(price)
	tp.Percent = 0
	if c.EntryPrice > 0 && price > 0 {
		tp.Percent = PercentFromTPPrice(c.EntryPrice, c.Side, price)
	}
	return nil
}

// SetTakeProfitSize sets the share of the remaining position closed at a level.
func (c *TradeConfig) SetTakeProfitSize(level int, sizePct float64) error {
	if err := checkLevel(level); err != nil {
		return err
	}
	c.TakeProfits[level-1].SizePercent = Round8(sizePct)
	return nil
}

// SetStopLossPercent sets the stop by distance from entry and derives its price.
func (c *TradeConfig) SetStopLossPercent(pct float64) error {
	if c.EntryPrice <= 0 {
		return fmt.Errorf("entry price must be set before stop loss percent")
	}
	c.SLPercent = Round8(pct)
	c.SLPrice = SLPriceFromPercent(c.EntryPrice, c.Side, pct)
	return nil
}

// SetStopLossPrice sets the stop price and derives its percent when entry is known.
func (c *TradeConfig) SetStopLossPrice(price float64) {
	c.SLPrice = Round8(price)
	c.SLPercent = 0
	if c.EntryPrice > 0 && price > 0 {
		c.SLPercent = PercentFromSLPrice(c.EntryPrice, c.Side, price)
	}
}

// RecalculatePrices re-derives prices from stored percents after entry or side changes.
func (c *TradeConfig) RecalculatePrices() {
	if c.EntryPrice <= 0 {
		return
	}
	for i := range c.TakeProfits {
		if c.TakeProfits[i].Percent > 0 {
			c.TakeProfits[i].Price = TPPriceFromPercent(c.EntryPrice, c.Side, c.TakeProfits[i].Percent)
		}
	}
	if c.SLPercent > 0 {
		c.SLPrice = SLPriceFromPercent(c.EntryPrice, c.Side, c.SLPercent)
	}
}

func checkLevel(level int) error {
	if level < 1 || level > TakeProfitLevels {
		return fmt.Errorf("take profit level must be between 1 and %d, got %d", TakeProfitLevels, level)
	}
	return nil
}

// TPPriceFromPercent converts a profit distance in percent to a target price.
func TPPriceFromPercent(entry float64, side Side, pct float64) float64 {
	return Round8(entry * (1 + side.Sign()*pct/100))
}

// PercentFromTPPrice is the inverse of TPPriceFromPercent.
func PercentFromTPPrice(entry float64, side Side, price float64) float64 {
	if entry <= 0 {
		return 0
	}
	return Round8(side.Sign() * (price/entry - 1) * 100)
}

// SLPriceFromPercent converts a loss distance in percent to a stop price.
func SLPriceFromPercent(entry float64, side Side, pct float64) float64 {
	return Round8(entry * (1 - side.Sign()*pct/100))
}

// PercentFromSLPrice is the inverse of SLPriceFromPercent.
func PercentFromSLPrice(entry float64, side Side, price float64) float64 {
	if entry <= 0 {
		return 0
	}
	return Round8(side.Sign() * (1 - price/entry) * 100)
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Round8 rounds v to PricePrecision decimal places. Non-finite values are
// returned unchanged for Validate to reject.
func Round8(v float64) float64 {
	if !IsFinite(v) {
		return v
	}
	return decimal.NewFromFloat(v).Round(PricePrecision).InexactFloat64()
}
