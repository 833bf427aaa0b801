// Package feed implements the simulated market-data feed: an in-memory
// quote table advanced by a fixed-interval random walk.
//
// The feed is the sole writer of quote state. Each tick perturbs every
// symbol's mid-price by a uniform draw in [-volatility/2, +volatility/2]
// and recomputes bid/ask around it with the symbol's constant spread.
// There is no mean reversion and no clamping: prices may drift without
// bound. That is a documented limitation of the simulation, not a defect.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/propdesk/eval-engine/internal/metrics"
	"github.com/propdesk/eval-engine/internal/model"
)

// ErrUnknownSymbol is returned when no quote exists for a symbol.
var ErrUnknownSymbol = errors.New("feed: unknown symbol")

// StandardLot is the contract multiplier for forex pairs: PnL per unit of
// price movement per lot. Index, metal, and crypto instruments settle 1:1.
var StandardLot = decimal.NewFromInt(100000)

// Instrument describes one tradable symbol: its starting price, constant
// spread, per-tick volatility, and contract multiplier. Spread and
// volatility are absolute price units.
type Instrument struct {
	Symbol     string
	BasePrice  float64
	Spread     float64
	Volatility float64
	Multiplier decimal.Decimal
}

// DefaultInstruments is the fixed symbol set the feed serves: major forex
// pairs, metals, indices, and crypto, with spreads and volatilities
// matching typical retail quotes.
func DefaultInstruments() []Instrument {
	one := decimal.NewFromInt(1)
	return []Instrument{
		{Symbol: "EURUSD", BasePrice: 1.0850, Spread: 0.0001, Volatility: 0.0005, Multiplier: StandardLot},
		{Symbol: "GBPUSD", BasePrice: 1.2650, Spread: 0.0002, Volatility: 0.0008, Multiplier: StandardLot},
		{Symbol: "USDJPY", BasePrice: 149.50, Spread: 0.01, Volatility: 0.08, Multiplier: StandardLot},
		{Symbol: "AUDUSD", BasePrice: 0.6550, Spread: 0.0002, Volatility: 0.001, Multiplier: StandardLot},
		{Symbol: "USDCAD", BasePrice: 1.3550, Spread: 0.0002, Volatility: 0.001, Multiplier: StandardLot},
		{Symbol: "USDCHF", BasePrice: 0.8850, Spread: 0.0002, Volatility: 0.001, Multiplier: StandardLot},
		{Symbol: "XAUUSD", BasePrice: 2030.00, Spread: 0.5, Volatility: 0.5, Multiplier: one},
		{Symbol: "XAGUSD", BasePrice: 23.00, Spread: 0.05, Volatility: 0.001, Multiplier: one},
		{Symbol: "US30", BasePrice: 38500.00, Spread: 2.0, Volatility: 10, Multiplier: one},
		{Symbol: "SPX500", BasePrice: 4950.00, Spread: 0.5, Volatility: 2, Multiplier: one},
		{Symbol: "NAS100", BasePrice: 17200.00, Spread: 1.0, Volatility: 5, Multiplier: one},
		{Symbol: "BTCUSD", BasePrice: 52000.00, Spread: 50, Volatility: 50, Multiplier: one},
		{Symbol: "ETHUSD", BasePrice: 2800.00, Spread: 5, Volatility: 5, Multiplier: one},
	}
}

type state struct {
	quote      model.Quote
	volatility float64
	multiplier decimal.Decimal
}

// PriceFeed owns the current quote for every instrument. Single writer
// (Tick), many readers (Quote, All). Per-symbol updates are atomic: a
// reader never observes bid from one tick and ask from another.
type PriceFeed struct {
	mu      sync.RWMutex
	symbols map[string]*state
	order   []string // fixed tick order, keeps the walk reproducible per seed
	rng     *rand.Rand
}

// New creates a feed seeded for deterministic simulation. Quotes exist
// immediately; a feed that has not started ticking still answers Quote.
func New(instruments []Instrument, seed int64) *PriceFeed {
	f := &PriceFeed{
		symbols: make(map[string]*state, len(instruments)),
		rng:     rand.New(rand.NewSource(seed)),
	}
	now := time.Now().UTC()
	for _, in := range instruments {
		spread := in.Spread
		if spread <= 0 {
			spread = in.BasePrice * 0.0001
		}
		vol := in.Volatility
		if vol <= 0 {
			vol = 0.001
		}
		mult := in.Multiplier
		if mult.IsZero() {
			mult = decimal.NewFromInt(1)
		}
		half := decimal.NewFromFloat(spread / 2)
		price := decimal.NewFromFloat(in.BasePrice)
		f.symbols[in.Symbol] = &state{
			quote: model.Quote{
				Symbol:    in.Symbol,
				Bid:       price.Sub(half),
				Ask:       price.Add(half),
				Spread:    decimal.NewFromFloat(spread),
				UpdatedAt: now,
			},
			volatility: vol,
			multiplier: mult,
		}
		f.order = append(f.order, in.Symbol)
	}
	return f
}

// NewDefault creates a feed over DefaultInstruments seeded from the clock.
func NewDefault() *PriceFeed {
	return New(DefaultInstruments(), time.Now().UnixNano())
}

// Tick advances every quote by one simulated step.
func (f *PriceFeed) Tick() {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UTC()
	two := decimal.NewFromInt(2)

	for _, sym := range f.order {
		st := f.symbols[sym]
		movement := (f.rng.Float64() - 0.5) * st.volatility
		mid := st.quote.Bid.Add(st.quote.Ask).Div(two).Add(decimal.NewFromFloat(movement))
		half := st.quote.Spread.Div(two)
		st.quote.Bid = mid.Sub(half)
		st.quote.Ask = mid.Add(half)
		st.quote.UpdatedAt = now
	}
	metrics.FeedTicks.Inc()
}

// SetMid pins a symbol's mid-price, recomputing bid/ask around the
// constant spread. Simulation control for scenario replay and tests;
// the random walk resumes from the new level on the next tick.
func (f *PriceFeed) SetMid(symbol string, mid decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.symbols[symbol]
	if !ok {
		return ErrUnknownSymbol
	}
	half := st.quote.Spread.Div(decimal.NewFromInt(2))
	st.quote.Bid = mid.Sub(half)
	st.quote.Ask = mid.Add(half)
	st.quote.UpdatedAt = time.Now().UTC()
	return nil
}

// Quote returns a snapshot of one symbol's quote, or ErrUnknownSymbol.
func (f *PriceFeed) Quote(symbol string) (model.Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	st, ok := f.symbols[symbol]
	if !ok {
		return model.Quote{}, ErrUnknownSymbol
	}
	return st.quote, nil
}

// All returns snapshots of every quote.
func (f *PriceFeed) All() []model.Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()

	quotes := make([]model.Quote, 0, len(f.symbols))
	for _, st := range f.symbols {
		quotes = append(quotes, st.quote)
	}
	return quotes
}

// Multiplier returns the contract multiplier for a symbol. The same value
// is used to open and close a position, so valuation stays consistent.
func (f *PriceFeed) Multiplier(symbol string) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	st, ok := f.symbols[symbol]
	if !ok {
		return decimal.Decimal{}, ErrUnknownSymbol
	}
	return st.multiplier, nil
}

// Run ticks the feed on a fixed interval until ctx is cancelled. The loop
// never stops on its own: an update is all in-memory arithmetic and cannot
// fail for one symbol in a way that affects another.
func (f *PriceFeed) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("price feed started", "interval", interval.String(), "symbols", len(f.symbols))
	for {
		select {
		case <-ctx.Done():
			slog.Info("price feed stopped")
			return
		case <-ticker.C:
			f.Tick()
		}
	}
}
