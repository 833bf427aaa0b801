// Package store defines the persistence interface for the evaluation engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/propdesk/eval-engine/internal/model"
)

var (
	// ErrNotFound is returned when a position, challenge, or funded
	// account does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrPositionClosed is returned by SettlePosition when the position
	// already left the OPEN state. Exactly one settlement wins a race;
	// every other contender receives this error.
	ErrPositionClosed = errors.New("store: position already closed")

	// ErrChallengeFinal is returned by SetChallengeStatus when the
	// challenge already left the ACTIVE state. Terminal statuses never
	// change, so exactly one evaluation decision wins a race.
	ErrChallengeFinal = errors.New("store: challenge status is final")
)

// Filter narrows position listings. Zero values mean "no constraint".
type Filter struct {
	ChallengeID     string
	FundedAccountID string
	Status          model.PositionStatus
}

// Store is the persistence interface. Positions are owned exclusively by
// this layer; account aggregates are written only through the Apply*
// settlement operations, which are atomic per aggregate (two positions of
// the same account closing concurrently must not lose an update).
type Store interface {
	// --- Positions ---

	// InsertPosition persists a newly opened position.
	InsertPosition(ctx context.Context, p *model.Position) error

	// GetPosition retrieves a position by ID.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// ListPositions returns positions matching the filter.
	ListPositions(ctx context.Context, f Filter) ([]model.Position, error)

	// UpdateUnrealizedPnL rewrites the mark-to-market PnL of an OPEN
	// position. A CLOSED position is left untouched (its PnL is frozen).
	UpdateUnrealizedPnL(ctx context.Context, id string, pnl decimal.Decimal) error

	// SettlePosition performs the terminal OPEN → CLOSED transition:
	// realized PnL, close price, reason, and timestamp in one atomic
	// step. Returns ErrPositionClosed if another settlement won.
	SettlePosition(ctx context.Context, id string, closePrice, pnl decimal.Decimal, reason model.CloseReason, closedAt time.Time) (*model.Position, error)

	// --- Challenges ---

	PutChallenge(ctx context.Context, c *model.Challenge) error
	GetChallenge(ctx context.Context, id string) (*model.Challenge, error)

	// ApplyChallengeSettlement folds a realized PnL into the challenge:
	// currentProfit += pnl, currentDrawdown = max(0, -currentProfit).
	ApplyChallengeSettlement(ctx context.Context, id string, pnl decimal.Decimal) error

	// SetChallengeStatus records a rule-evaluation or suspension decision.
	// Only an ACTIVE challenge can transition; a challenge that already
	// reached a terminal status yields ErrChallengeFinal.
	SetChallengeStatus(ctx context.Context, id string, status model.ChallengeStatus) error

	// --- Funded accounts ---

	PutFundedAccount(ctx context.Context, a *model.FundedAccount) error
	GetFundedAccount(ctx context.Context, id string) (*model.FundedAccount, error)

	// ApplyFundedSettlement folds a realized PnL into the account:
	// currentBalance += pnl, peakBalance = max(peakBalance, newBalance),
	// totalProfit += pnl.
	ApplyFundedSettlement(ctx context.Context, id string, pnl decimal.Decimal) error
}
