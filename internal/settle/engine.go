// Package settle implements the trade-settlement engine: market-execution
// open and close, mark-to-market valuation of open positions, automatic
// stop-loss/take-profit liquidation, and propagation of realized PnL into
// the owning challenge or funded account.
//
// This is the only component permitted to mutate position PnL or the
// balance/profit/drawdown fields of an aggregate.
package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/propdesk/eval-engine/internal/feed"
	"github.com/propdesk/eval-engine/internal/metrics"
	"github.com/propdesk/eval-engine/internal/model"
	"github.com/propdesk/eval-engine/internal/store"
)

var (
	// ErrInstrumentUnavailable is returned when an open or close is
	// requested for a symbol the feed has no quote for.
	ErrInstrumentUnavailable = errors.New("settle: market data not available for symbol")

	// ErrInvalidSize is returned for zero or negative position sizes.
	ErrInvalidSize = errors.New("settle: size must be positive")

	// ErrInvalidDirection is returned for directions other than LONG/SHORT.
	ErrInvalidDirection = errors.New("settle: direction must be LONG or SHORT")

	// ErrConflictingOwners is returned when an open request names both a
	// challenge and a funded account. A position belongs to at most one.
	ErrConflictingOwners = errors.New("settle: position cannot belong to both a challenge and a funded account")
)

// StopLossFirst decides the tie-break when a gap move crosses both the
// stop-loss and take-profit thresholds in the same sweep. True closes at
// the stop (protects capital first). Overridable policy, pending product
// confirmation.
var StopLossFirst = true

// Notifier receives settlement events for broadcast. May be nil.
type Notifier interface {
	PositionClosed(p *model.Position)
}

// Engine executes and settles simulated trades against the price feed.
type Engine struct {
	feed   *feed.PriceFeed
	store  store.Store
	notify Notifier
}

// New creates a settlement engine. Pass nil for notify if no broadcast
// is needed.
func New(f *feed.PriceFeed, st store.Store, notify Notifier) *Engine {
	return &Engine{feed: f, store: st, notify: notify}
}

// OpenRequest describes a market-execution open. The caller never supplies
// the price: it is taken from the live quote (ask for long, bid for short)
// so callers cannot self-deal on execution.
type OpenRequest struct {
	Symbol          string
	Direction       model.Direction
	Size            decimal.Decimal
	StopLoss        *decimal.Decimal
	TakeProfit      *decimal.Decimal
	ChallengeID     string
	FundedAccountID string
}

// Open executes a market open and records the position.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (*model.Position, error) {
	if req.Direction != model.Long && req.Direction != model.Short {
		return nil, ErrInvalidDirection
	}
	if req.Size.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidSize
	}
	if req.ChallengeID != "" && req.FundedAccountID != "" {
		return nil, ErrConflictingOwners
	}

	q, err := e.feed.Quote(req.Symbol)
	if err != nil {
		return nil, ErrInstrumentUnavailable
	}

	openPrice := q.Ask
	if req.Direction == model.Short {
		openPrice = q.Bid
	}

	p := &model.Position{
		ID:              uuid.New().String(),
		Symbol:          req.Symbol,
		Direction:       req.Direction,
		Size:            req.Size,
		OpenPrice:       openPrice,
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		PnL:             decimal.Zero,
		Status:          model.PositionOpen,
		ChallengeID:     req.ChallengeID,
		FundedAccountID: req.FundedAccountID,
		OpenedAt:        time.Now().UTC(),
	}

	if err := e.store.InsertPosition(ctx, p); err != nil {
		return nil, fmt.Errorf("insert position: %w", err)
	}

	metrics.PositionsOpened.WithLabelValues(string(req.Direction)).Inc()
	slog.Info("position opened",
		"id", p.ID,
		"symbol", p.Symbol,
		"direction", p.Direction,
		"size", p.Size.String(),
		"open_price", p.OpenPrice.String(),
	)
	return p, nil
}

// Close settles a position at the requested price, or at the current exit
// side of the quote when no price is given (bid for long, ask for short —
// closing crosses the spread, mirroring real execution cost).
func (e *Engine) Close(ctx context.Context, id string, requestedPrice *decimal.Decimal) (*model.Position, error) {
	p, err := e.store.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsOpen() {
		return nil, store.ErrPositionClosed
	}

	var execPrice decimal.Decimal
	if requestedPrice != nil {
		execPrice = *requestedPrice
	} else {
		q, err := e.feed.Quote(p.Symbol)
		if err != nil {
			return nil, ErrInstrumentUnavailable
		}
		execPrice = exitPrice(q, p.Direction)
	}

	return e.settleClose(ctx, p, execPrice, model.CloseManual)
}

// MarkToMarket runs one settlement sweep: recompute unrealized PnL for
// every open position and force-close those whose stop-loss or take-profit
// threshold is crossed. A failure on one position is isolated to it — the
// sweep always continues.
func (e *Engine) MarkToMarket(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	open, err := e.store.ListPositions(ctx, store.Filter{Status: model.PositionOpen})
	if err != nil {
		slog.Error("settlement sweep: list open positions failed", "err", err)
		return
	}
	metrics.OpenPositions.Set(float64(len(open)))

	for i := range open {
		e.markPosition(ctx, &open[i])
	}
}

// markPosition values one open position against a single quote snapshot.
// Bid and ask come from the same snapshot, so the liquidation decision
// never straddles a tick boundary.
func (e *Engine) markPosition(ctx context.Context, p *model.Position) {
	q, err := e.feed.Quote(p.Symbol)
	if err != nil {
		slog.Warn("settlement sweep: no quote for open position", "id", p.ID, "symbol", p.Symbol)
		return
	}
	mult, err := e.feed.Multiplier(p.Symbol)
	if err != nil {
		return
	}

	price := exitPrice(q, p.Direction)
	unrealized := pnl(p.Direction, p.Size, p.OpenPrice, price, mult)

	if reason, hit := e.liquidationReason(p, unrealized, mult); hit {
		if _, err := e.settleClose(ctx, p, price, reason); err != nil && !errors.Is(err, store.ErrPositionClosed) {
			slog.Error("auto-liquidation failed", "id", p.ID, "err", err)
		}
		return
	}

	if err := e.store.UpdateUnrealizedPnL(ctx, p.ID, unrealized); err != nil {
		slog.Error("unrealized pnl update failed", "id", p.ID, "err", err)
	}
}

// liquidationReason checks the stop-loss threshold, then take-profit.
// Thresholds compare PnL magnitudes, not prices: a gap through the stop
// closes at the current exit price, not clamped to the stop level. When
// both thresholds are crossed in one sweep, the StopLossFirst policy
// decides which fires.
func (e *Engine) liquidationReason(p *model.Position, unrealized, mult decimal.Decimal) (model.CloseReason, bool) {
	slHit := false
	if p.StopLoss != nil {
		lossLimit := p.OpenPrice.Sub(*p.StopLoss).Abs().Mul(p.Size).Mul(mult)
		slHit = unrealized.LessThanOrEqual(lossLimit.Neg())
	}
	tpHit := false
	if p.TakeProfit != nil {
		profitLimit := p.TakeProfit.Sub(p.OpenPrice).Abs().Mul(p.Size).Mul(mult)
		tpHit = unrealized.GreaterThanOrEqual(profitLimit)
	}

	switch {
	case slHit && tpHit:
		if StopLossFirst {
			return model.CloseStopLoss, true
		}
		return model.CloseTakeProfit, true
	case slHit:
		return model.CloseStopLoss, true
	case tpHit:
		return model.CloseTakeProfit, true
	}
	return "", false
}

// settleClose performs the terminal settlement: realized PnL, the
// OPEN→CLOSED transition, and aggregate propagation. The store's status
// guard guarantees exactly one settlement wins a race; losers see
// store.ErrPositionClosed and propagate nothing.
func (e *Engine) settleClose(ctx context.Context, p *model.Position, execPrice decimal.Decimal, reason model.CloseReason) (*model.Position, error) {
	mult, err := e.feed.Multiplier(p.Symbol)
	if err != nil {
		return nil, ErrInstrumentUnavailable
	}
	realized := pnl(p.Direction, p.Size, p.OpenPrice, execPrice, mult)

	settled, err := e.store.SettlePosition(ctx, p.ID, execPrice, realized, reason, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	metrics.PositionsClosed.WithLabelValues(string(reason)).Inc()
	slog.Info("position closed",
		"id", settled.ID,
		"symbol", settled.Symbol,
		"reason", reason,
		"close_price", execPrice.String(),
		"pnl", realized.String(),
	)

	e.propagate(ctx, settled)

	if e.notify != nil {
		e.notify.PositionClosed(settled)
	}
	return settled, nil
}

// propagate folds the realized PnL into the owning aggregate. A missing
// owner is a data-integrity warning, never a settlement failure: the
// position stays closed with its PnL recorded either way.
func (e *Engine) propagate(ctx context.Context, p *model.Position) {
	var err error
	switch {
	case p.ChallengeID != "":
		err = e.store.ApplyChallengeSettlement(ctx, p.ChallengeID, p.PnL)
	case p.FundedAccountID != "":
		err = e.store.ApplyFundedSettlement(ctx, p.FundedAccountID, p.PnL)
	default:
		return
	}
	if err != nil {
		metrics.IntegrityWarnings.Inc()
		slog.Warn("settlement propagation skipped",
			"position", p.ID,
			"challenge_id", p.ChallengeID,
			"funded_account_id", p.FundedAccountID,
			"err", err,
		)
	}
}

// Run sweeps open positions on a fixed interval until ctx is cancelled.
// An in-flight sweep finishes before the loop exits.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("settlement engine started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("settlement engine stopped")
			return
		case <-ticker.C:
			e.MarkToMarket(ctx)
		}
	}
}

// exitPrice is the side of the quote a position would close at right now:
// bid for long, ask for short. Unrealized PnL valued at this price equals
// the realized PnL of an immediate close.
func exitPrice(q model.Quote, d model.Direction) decimal.Decimal {
	if d == model.Short {
		return q.Ask
	}
	return q.Bid
}

// pnl is the valuation formula shared by mark-to-market and close:
// directionSign × (price − openPrice) × size × contractMultiplier.
func pnl(d model.Direction, size, openPrice, price, mult decimal.Decimal) decimal.Decimal {
	return d.Sign().Mul(price.Sub(openPrice)).Mul(size).Mul(mult)
}
