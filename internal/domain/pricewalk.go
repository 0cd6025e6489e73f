package domain

import (
	"hash/fnv"
	"math/rand"
)

const (
	walkStepPercent = 0.5
	walkFloorRatio  = 0.5
	walkCapRatio    = 1.5
)

// PriceWalk is a bounded, seeded random walk used when no market price is
// available. Each step moves at most walkStepPercent of the current price and
// the walk never leaves [0.5, 1.5] times its anchor. Not safe for concurrent use.
type PriceWalk struct {
	rng    *rand.Rand
	anchor float64
	price  float64
}

// NewPriceWalk starts a walk at anchor. Equal seeds produce equal paths.
func NewPriceWalk(seed int64, anchor float64) *PriceWalk {
	return &PriceWalk{
		rng:    rand.New(rand.NewSource(seed)),
		anchor: anchor,
		price:  anchor,
	}
}

// SeedFor derives a stable walk seed from an identifier such as a trade ID.
func SeedFor(id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

// Current returns the last generated price.
func (w *PriceWalk) Current() float64 {
	return w.price
}

// Observe moves the walk to a real observed price so a later fallback
// continues from there.
func (w *PriceWalk) Observe(price float64) {
	if price > 0 {
		w.price = w.clamp(price)
	}
}

// Next advances the walk one step and returns the new price.
func (w *PriceWalk) Next() float64 {
	if w.anchor <= 0 {
		return 0
	}
	step := (w.rng.Float64()*2 - 1) * walkStepPercent / 100
	w.price = Round8(w.clamp(w.price * (1 + step)))
	return w.price
}

func (w *PriceWalk) clamp(p float64) float64 {
	lo, hi := w.anchor*walkFloorRatio, w.anchor*walkCapRatio
	if p < lo {
		return lo
	}
	if p > hi {
		return hi
	}
	return p
}
