// Package rules derives pass/fail/progress signals for challenges and
// withdrawal/activity signals for funded accounts from the aggregates
// settlement maintains. Everything here is a pure function of the
// aggregate's current state — this package never mutates anything.
//
// The two entity kinds intentionally use different drawdown definitions:
// challenges measure "underwater from zero" (max(0, -currentProfit)),
// funded accounts measure decline from the peak-balance high-water mark.
package rules

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/propdesk/eval-engine/internal/model"
)

var (
	// ErrAccountNotActive is returned when a withdrawal is requested
	// against a suspended or terminated account.
	ErrAccountNotActive = errors.New("rules: account is not active")

	// ErrInvalidAmount is returned for zero or negative withdrawal amounts.
	ErrInvalidAmount = errors.New("rules: amount must be greater than 0")

	// ErrInsufficientFunds is returned when a withdrawal exceeds the raw
	// available balance. The raw value is used here — a request exceeding
	// a barely-negative available balance is still rejected.
	ErrInsufficientFunds = errors.New("rules: insufficient funds for withdrawal")
)

var hundred = decimal.NewFromInt(100)

// Progress is the derived evaluation state of a challenge.
type Progress struct {
	ProfitProgress      decimal.Decimal `json:"profit_progress"`       // % toward target, clamped to [0,100]
	DrawdownProgress    decimal.Decimal `json:"drawdown_progress"`     // % of daily-loss budget consumed, clamped
	TradingDaysProgress decimal.Decimal `json:"trading_days_progress"` // % of min trading days, clamped
	IsProfitTargetMet   bool            `json:"is_profit_target_met"`
	IsMinTradingDaysMet bool            `json:"is_min_trading_days_met"`
	IsFailed            bool            `json:"is_failed"`
}

// pctOf returns size * pct / 100.
func pctOf(size, pct decimal.Decimal) decimal.Decimal {
	return size.Mul(pct).Div(hundred)
}

// clampPct bounds a percentage to [0, 100].
func clampPct(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(hundred) {
		return hundred
	}
	return v
}

// ratioPct returns value/target as a percentage, or 100 when the target
// is zero (a zero target is trivially met).
func ratioPct(value, target decimal.Decimal) decimal.Decimal {
	if target.IsZero() {
		return hundred
	}
	return value.Div(target).Mul(hundred)
}

// ChallengeProgress computes the derived evaluation state of a challenge.
func ChallengeProgress(c *model.Challenge) Progress {
	profitTarget := pctOf(c.AccountSize, c.ProfitTarget)
	dailyLossLimit := pctOf(c.AccountSize, c.MaxDailyLoss)
	totalLossLimit := pctOf(c.AccountSize, c.MaxTotalLoss)

	daysProgress := hundred
	if c.MinTradingDays > 0 {
		daysProgress = decimal.NewFromInt(int64(c.TradingDays)).
			Div(decimal.NewFromInt(int64(c.MinTradingDays))).Mul(hundred)
	}

	return Progress{
		ProfitProgress:      clampPct(ratioPct(c.CurrentProfit, profitTarget)),
		DrawdownProgress:    clampPct(ratioPct(c.CurrentDrawdown, dailyLossLimit)),
		TradingDaysProgress: clampPct(daysProgress),
		IsProfitTargetMet:   c.CurrentProfit.GreaterThanOrEqual(profitTarget),
		IsMinTradingDaysMet: c.TradingDays >= c.MinTradingDays,
		IsFailed: c.CurrentDrawdown.GreaterThan(dailyLossLimit) ||
			c.CurrentProfit.LessThan(totalLossLimit.Neg()),
	}
}

// EvaluateChallenge returns the status the challenge should transition to.
// Non-ACTIVE statuses are terminal and returned unchanged. Failure is
// checked before the pass condition: a challenge cannot pass while in
// violation.
func EvaluateChallenge(c *model.Challenge) model.ChallengeStatus {
	if c.Status != model.ChallengeActive {
		return c.Status
	}
	p := ChallengeProgress(c)
	if p.IsFailed {
		return model.ChallengeFailed
	}
	if p.IsProfitTargetMet && p.IsMinTradingDaysMet {
		return model.ChallengePassed
	}
	return model.ChallengeActive
}

// AvailableForWithdrawal returns the raw withdrawable amount:
// totalProfit × profitSplit − totalWithdrawn. May be negative.
func AvailableForWithdrawal(a *model.FundedAccount) decimal.Decimal {
	return a.TotalProfit.Mul(a.ProfitSplit).Sub(a.TotalWithdrawn)
}

// WithdrawableDisplay is AvailableForWithdrawal floored at zero, for
// presentation only. Withdrawal checks use the raw value.
func WithdrawableDisplay(a *model.FundedAccount) decimal.Decimal {
	raw := AvailableForWithdrawal(a)
	if raw.IsNegative() {
		return decimal.Zero
	}
	return raw
}

// CheckWithdrawal validates a withdrawal request against the account.
func CheckWithdrawal(a *model.FundedAccount, amount decimal.Decimal) error {
	if a.Status != model.AccountActive {
		return ErrAccountNotActive
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(AvailableForWithdrawal(a)) {
		return ErrInsufficientFunds
	}
	return nil
}

// FundedDrawdown returns the peak-based drawdown as a percentage of the
// peak balance, zero when the balance sits at its high-water mark.
func FundedDrawdown(a *model.FundedAccount) decimal.Decimal {
	if a.CurrentBalance.GreaterThanOrEqual(a.PeakBalance) || a.PeakBalance.IsZero() {
		return decimal.Zero
	}
	return a.PeakBalance.Sub(a.CurrentBalance).Div(a.PeakBalance).Mul(hundred)
}

// AccountRules summarizes a funded account's loss limits and remaining
// headroom for reporting.
type AccountRules struct {
	MaxDailyLoss       decimal.Decimal `json:"max_daily_loss"`
	MaxDailyLossAmount decimal.Decimal `json:"max_daily_loss_amount"`
	MaxTotalLoss       decimal.Decimal `json:"max_total_loss"`
	MaxTotalLossAmount decimal.Decimal `json:"max_total_loss_amount"`
	CurrentDrawdown    decimal.Decimal `json:"current_drawdown"`
	RemainingDailyLoss decimal.Decimal `json:"remaining_daily_loss"`
}

// FundedAccountRules computes the rules summary for a funded account.
func FundedAccountRules(a *model.FundedAccount) AccountRules {
	dailyAmount := pctOf(a.AccountSize, a.MaxDailyLoss)

	declined := a.PeakBalance.Sub(a.CurrentBalance)
	if declined.IsNegative() {
		declined = decimal.Zero
	}

	return AccountRules{
		MaxDailyLoss:       a.MaxDailyLoss,
		MaxDailyLossAmount: dailyAmount,
		MaxTotalLoss:       a.MaxTotalLoss,
		MaxTotalLossAmount: pctOf(a.AccountSize, a.MaxTotalLoss),
		CurrentDrawdown:    FundedDrawdown(a),
		RemainingDailyLoss: dailyAmount.Sub(declined),
	}
}
