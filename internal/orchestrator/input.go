package orchestrator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"smartTradeBot/internal/domain"
	"smartTradeBot/internal/ports"
)

// InputKind names the trade field a pending input request will set.
type InputKind int

const (
	InputName InputKind = iota + 1
	InputSymbol
	InputSide
	InputAmount
	InputLeverage
	InputEntryPrice
	InputStopLossPrice
	InputStopLossPercent
	InputTakeProfitPrice
	InputTakeProfitPercent
	InputTakeProfitSize
	InputBreakeven
	InputTrailPercent
	InputTrailActivation
	InputDryRun
)

var inputKindNames = map[InputKind]string{
	InputName:              "name",
	InputSymbol:            "symbol",
	InputSide:              "side",
	InputAmount:            "amount",
	InputLeverage:          "leverage",
	InputEntryPrice:        "entry price",
	InputStopLossPrice:     "stop loss price",
	InputStopLossPercent:   "stop loss percent",
	InputTakeProfitPrice:   "take profit price",
	InputTakeProfitPercent: "take profit percent",
	InputTakeProfitSize:    "take profit size",
	InputBreakeven:         "breakeven trigger",
	InputTrailPercent:      "trail percent",
	InputTrailActivation:   "trail activation percent",
	InputDryRun:            "dry run",
}

func (k InputKind) String() string {
	if name, ok := inputKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("InputKind(%d)", int(k))
}

func (k InputKind) needsLevel() bool {
	return k == InputTakeProfitPrice || k == InputTakeProfitPercent || k == InputTakeProfitSize
}

// InputRequest is a value the user has been asked for. Level is the 1-based
// take-profit level for the take-profit kinds.
type InputRequest struct {
	Kind    InputKind
	TradeID string
	Level   int
}

// ErrNoPendingInput is returned by Handle when nothing was requested.
var ErrNoPendingInput = errors.New("no input requested")

// InputRouter holds at most one pending input request per user and applies
// the user's reply to the trade through the orchestrator.
type InputRouter struct {
	orch *Orchestrator

	mu      sync.Mutex
	pending map[int64]InputRequest
}

// NewInputRouter returns a router applying values through o.
func NewInputRouter(o *Orchestrator) *InputRouter {
	return &InputRouter{orch: o, pending: make(map[int64]InputRequest)}
}

// Request records req as the user's pending request, replacing any other.
func (r *InputRouter) Request(userID int64, req InputRequest) error {
	if _, ok := inputKindNames[req.Kind]; !ok {
		return fmt.Errorf("unknown input kind %d: %w", int(req.Kind), ports.ErrInvalidRequest)
	}
	if req.Kind.needsLevel() && (req.Level < 1 || req.Level > domain.TakeProfitLevels) {
		return fmt.Errorf("%s needs a level between 1 and %d: %w", req.Kind, domain.TakeProfitLevels, ports.ErrInvalidRequest)
	}
	if _, err := r.orch.Get(userID, req.TradeID); err != nil {
		return err
	}
	r.mu.Lock()
	r.pending[userID] = req
	r.mu.Unlock()
	return nil
}

// Pending returns the user's pending request.
func (r *InputRouter) Pending(userID int64) (InputRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.pending[userID]
	return req, ok
}

// Cancel drops the user's pending request.
func (r *InputRouter) Cancel(userID int64) {
	r.mu.Lock()
	delete(r.pending, userID)
	r.mu.Unlock()
}

// Handle parses text for the user's pending request and applies it. A value
// that cannot be parsed or applied leaves the request pending so the user can
// retry; any other outcome clears it.
func (r *InputRouter) Handle(userID int64, text string) (domain.TradeConfig, error) {
	req, ok := r.Pending(userID)
	if !ok {
		return domain.TradeConfig{}, ErrNoPendingInput
	}

	cfg, err := r.orch.Update(userID, req.TradeID, func(c *domain.TradeConfig) error {
		return apply(c, req, strings.TrimSpace(text))
	})
	if err != nil && errors.Is(err, ports.ErrInvalidRequest) {
		return domain.TradeConfig{}, err
	}

	r.mu.Lock()
	if cur, ok := r.pending[userID]; ok && cur == req {
		delete(r.pending, userID)
	}
	r.mu.Unlock()
	return cfg, err
}

func apply(c *domain.TradeConfig, req InputRequest, text string) error {
	switch req.Kind {
	case InputName:
		c.Name = text
		return nil
	case InputSymbol:
		sym := strings.ToUpper(strings.ReplaceAll(text, "/", ""))
		if sym == "" || strings.ContainsAny(sym, " \t") {
			return invalid(req, text)
		}
		c.Symbol = sym
		return nil
	case InputSide:
		side, ok := parseSide(text)
		if !ok {
			return invalid(req, text)
		}
		c.Side = side
		c.RecalculatePrices()
		return nil
	case InputLeverage:
		n, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(text), "x"))
		if err != nil || n < domain.MinLeverage || n > domain.MaxLeverage {
			return invalid(req, text)
		}
		c.Leverage = n
		return nil
	case InputBreakeven:
		b := domain.BreakevenTrigger(strings.ToLower(text))
		if b == "off" || b == "" {
			b = domain.BreakevenNone
		}
		if !b.Valid() {
			return invalid(req, text)
		}
		c.BreakevenAfter = b
		return nil
	case InputDryRun:
		v, ok := parseBool(text)
		if !ok {
			return invalid(req, text)
		}
		c.DryRun = v
		return nil
	}

	v, err := parseNumber(text)
	if err != nil || v < 0 {
		return invalid(req, text)
	}
	switch req.Kind {
	case InputAmount:
		if v == 0 {
			return invalid(req, text)
		}
		c.Amount = domain.Round8(v)
	case InputEntryPrice:
		if v == 0 {
			return invalid(req, text)
		}
		c.EntryPrice = domain.Round8(v)
		c.RecalculatePrices()
	case InputStopLossPrice:
		c.SetStopLossPrice(v)
	case InputStopLossPercent:
		if err := c.SetStopLossPercent(v); err != nil {
			return fmt.Errorf("%w: %w", ports.ErrInvalidRequest, err)
		}
	case InputTakeProfitPrice:
		return wrapInvalid(c.SetTakeProfitPrice(req.Level, v))
	case InputTakeProfitPercent:
		return wrapInvalid(c.SetTakeProfitPercent(req.Level, v))
	case InputTakeProfitSize:
		if v > 100 {
			return invalid(req, text)
		}
		return wrapInvalid(c.SetTakeProfitSize(req.Level, v))
	case InputTrailPercent:
		if v > domain.MaxTrailPercent {
			return invalid(req, text)
		}
		c.TrailPercent = domain.Round8(v)
	case InputTrailActivation:
		c.TrailActivationPercent = domain.Round8(v)
	default:
		return fmt.Errorf("unsupported input kind %s: %w", req.Kind, ports.ErrInvalidRequest)
	}
	return nil
}

func invalid(req InputRequest, text string) error {
	return fmt.Errorf("invalid %s %q: %w", req.Kind, text, ports.ErrInvalidRequest)
}

func wrapInvalid(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ports.ErrInvalidRequest, err)
}

// parseNumber accepts values like "1.5", "1,5", "10%" and "$100". NaN and
// infinities are rejected.
func parseNumber(text string) (float64, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimSuffix(s, "%")
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if !domain.IsFinite(v) {
		return 0, fmt.Errorf("%q is not a finite number", text)
	}
	return v, nil
}

func parseSide(text string) (domain.Side, bool) {
	switch strings.ToLower(text) {
	case "long", "buy", "l":
		return domain.SideLong, true
	case "short", "sell", "s":
		return domain.SideShort, true
	}
	return "", false
}

func parseBool(text string) (bool, bool) {
	switch strings.ToLower(text) {
	case "yes", "y", "on":
		return true, true
	case "no", "n", "off":
		return false, true
	}
	v, err := strconv.ParseBool(text)
	return v, err == nil
}
