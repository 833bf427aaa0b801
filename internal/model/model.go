// Package model defines the core domain types shared across the evaluation
// engine: market quotes, simulated positions, and the account aggregates
// (challenges and funded accounts) that settlement maintains.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign returns +1 for long positions and -1 for short positions,
// the direction factor in every PnL computation.
func (d Direction) Sign() decimal.Decimal {
	if d == Short {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// PositionStatus is the lifecycle state of a position. The only transition
// is OPEN → CLOSED, and it is terminal.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// CloseReason records why a position left the OPEN state.
type CloseReason string

const (
	CloseManual     CloseReason = "MANUAL"
	CloseStopLoss   CloseReason = "STOP_LOSS"
	CloseTakeProfit CloseReason = "TAKE_PROFIT"
)

// Quote is the bid/ask pair for one tradable instrument. Quotes are owned
// and mutated exclusively by the price feed; everyone else receives copies.
// Invariant: Ask >= Bid, Spread = Ask - Bid.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Spread    decimal.Decimal `json:"spread"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Position is a simulated trade. While OPEN, PnL holds the unrealized
// mark-to-market value and is rewritten on every settlement sweep. Once
// CLOSED, PnL is the realized result and never changes again.
//
// At most one of ChallengeID / FundedAccountID is set; both empty is
// tolerated (ad-hoc trade with no aggregate propagation).
type Position struct {
	ID              string           `json:"id" db:"id"`
	Symbol          string           `json:"symbol" db:"symbol"`
	Direction       Direction        `json:"direction" db:"direction"`
	Size            decimal.Decimal  `json:"size" db:"size"` // lots
	OpenPrice       decimal.Decimal  `json:"open_price" db:"open_price"`
	ClosePrice      decimal.Decimal  `json:"close_price" db:"close_price"`
	StopLoss        *decimal.Decimal `json:"stop_loss,omitempty" db:"stop_loss"`
	TakeProfit      *decimal.Decimal `json:"take_profit,omitempty" db:"take_profit"`
	PnL             decimal.Decimal  `json:"pnl" db:"pnl"`
	Status          PositionStatus   `json:"status" db:"status"`
	CloseReason     CloseReason      `json:"close_reason,omitempty" db:"close_reason"`
	ChallengeID     string           `json:"challenge_id,omitempty" db:"challenge_id"`
	FundedAccountID string           `json:"funded_account_id,omitempty" db:"funded_account_id"`
	OpenedAt        time.Time        `json:"opened_at" db:"opened_at"`
	ClosedAt        time.Time        `json:"closed_at,omitempty" db:"closed_at"`
}

// IsOpen reports whether the position is still live.
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen
}

// ChallengeStatus is the lifecycle state of a challenge. All transitions
// out of ACTIVE are terminal.
type ChallengeStatus string

const (
	ChallengeActive  ChallengeStatus = "ACTIVE"
	ChallengePassed  ChallengeStatus = "PASSED"
	ChallengeFailed  ChallengeStatus = "FAILED"
	ChallengeExpired ChallengeStatus = "EXPIRED"
)

// Challenge is an evaluation account. Profit and drawdown are maintained by
// settlement; status is decided by the rule evaluator. Drawdown here is the
// "underwater from zero" definition: max(0, -CurrentProfit). Funded accounts
// use the peak-balance definition instead; the two are intentionally
// distinct strategies.
type Challenge struct {
	ID              string          `json:"id" db:"id"`
	AccountSize     decimal.Decimal `json:"account_size" db:"account_size"`
	CurrentProfit   decimal.Decimal `json:"current_profit" db:"current_profit"`
	CurrentDrawdown decimal.Decimal `json:"current_drawdown" db:"current_drawdown"`
	TradingDays     int             `json:"trading_days" db:"trading_days"`
	Status          ChallengeStatus `json:"status" db:"status"`

	// Rule thresholds, expressed as percentages of AccountSize
	// (ProfitTarget=10 means 10%).
	ProfitTarget   decimal.Decimal `json:"profit_target" db:"profit_target"`
	MaxDailyLoss   decimal.Decimal `json:"max_daily_loss" db:"max_daily_loss"`
	MaxTotalLoss   decimal.Decimal `json:"max_total_loss" db:"max_total_loss"`
	MinTradingDays int             `json:"min_trading_days" db:"min_trading_days"`
}

// FundedAccountStatus is the lifecycle state of a funded account.
type FundedAccountStatus string

const (
	AccountActive     FundedAccountStatus = "ACTIVE"
	AccountSuspended  FundedAccountStatus = "SUSPENDED"
	AccountTerminated FundedAccountStatus = "TERMINATED"
)

// FundedAccount is a post-challenge account with withdrawable profit.
// Invariant: PeakBalance >= CurrentBalance after every settlement
// (PeakBalance is the running max of CurrentBalance).
type FundedAccount struct {
	ID             string              `json:"id" db:"id"`
	AccountSize    decimal.Decimal     `json:"account_size" db:"account_size"`
	CurrentBalance decimal.Decimal     `json:"current_balance" db:"current_balance"`
	PeakBalance    decimal.Decimal     `json:"peak_balance" db:"peak_balance"`
	TotalProfit    decimal.Decimal     `json:"total_profit" db:"total_profit"`
	TotalWithdrawn decimal.Decimal     `json:"total_withdrawn" db:"total_withdrawn"`
	ProfitSplit    decimal.Decimal     `json:"profit_split" db:"profit_split"` // trader's fraction, e.g. 0.8
	Status         FundedAccountStatus `json:"status" db:"status"`
	MaxDailyLoss   decimal.Decimal     `json:"max_daily_loss" db:"max_daily_loss"`
	MaxTotalLoss   decimal.Decimal     `json:"max_total_loss" db:"max_total_loss"`
}
