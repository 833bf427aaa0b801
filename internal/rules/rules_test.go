package rules_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/propdesk/eval-engine/internal/model"
	"github.com/propdesk/eval-engine/internal/rules"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// challenge returns a 10k challenge with the standard 8%/5%/10% limits
// and a 5-day minimum, all in percent of account size.
func challenge() *model.Challenge {
	return &model.Challenge{
		ID:             "c1",
		AccountSize:    d(10000),
		Status:         model.ChallengeActive,
		ProfitTarget:   d(8),
		MaxDailyLoss:   d(5),
		MaxTotalLoss:   d(10),
		MinTradingDays: 5,
	}
}

func account() *model.FundedAccount {
	return &model.FundedAccount{
		ID:             "fa1",
		AccountSize:    d(10000),
		CurrentBalance: d(10000),
		PeakBalance:    d(10000),
		ProfitSplit:    d(0.8),
		Status:         model.AccountActive,
		MaxDailyLoss:   d(5),
		MaxTotalLoss:   d(10),
	}
}

func TestChallengeProgress_Percentages(t *testing.T) {
	c := challenge()
	c.CurrentProfit = d(400)   // half of the 800 target
	c.CurrentDrawdown = d(125) // quarter of the 500 daily budget
	c.TradingDays = 2

	p := rules.ChallengeProgress(c)
	if !p.ProfitProgress.Equal(d(50)) {
		t.Errorf("expected profit progress 50, got %s", p.ProfitProgress)
	}
	if !p.DrawdownProgress.Equal(d(25)) {
		t.Errorf("expected drawdown progress 25, got %s", p.DrawdownProgress)
	}
	if !p.TradingDaysProgress.Equal(d(40)) {
		t.Errorf("expected days progress 40, got %s", p.TradingDaysProgress)
	}
	if p.IsProfitTargetMet || p.IsMinTradingDaysMet || p.IsFailed {
		t.Error("no flag should be set at mid-progress")
	}
}

func TestChallengeProgress_Clamping(t *testing.T) {
	c := challenge()
	c.CurrentProfit = d(1600) // double the target
	c.TradingDays = 20

	p := rules.ChallengeProgress(c)
	if !p.ProfitProgress.Equal(d(100)) {
		t.Errorf("profit progress must clamp to 100, got %s", p.ProfitProgress)
	}
	if !p.TradingDaysProgress.Equal(d(100)) {
		t.Errorf("days progress must clamp to 100, got %s", p.TradingDaysProgress)
	}

	// Underwater profit clamps to zero rather than going negative.
	c.CurrentProfit = d(-300)
	p = rules.ChallengeProgress(c)
	if !p.ProfitProgress.IsZero() {
		t.Errorf("negative profit must clamp to 0, got %s", p.ProfitProgress)
	}
}

func TestChallengeProgress_ZeroMinTradingDays(t *testing.T) {
	c := challenge()
	c.MinTradingDays = 0

	p := rules.ChallengeProgress(c)
	if !p.TradingDaysProgress.Equal(d(100)) || !p.IsMinTradingDaysMet {
		t.Error("zero minimum trading days is trivially met")
	}
}

func TestChallengeProgress_FailureBranches(t *testing.T) {
	// Daily drawdown over its 500 budget.
	c := challenge()
	c.CurrentDrawdown = d(500.01)
	if !rules.ChallengeProgress(c).IsFailed {
		t.Error("drawdown over the daily budget must fail")
	}

	// Total loss below -1000.
	c = challenge()
	c.CurrentProfit = d(-1000.01)
	if !rules.ChallengeProgress(c).IsFailed {
		t.Error("loss beyond the total limit must fail")
	}

	// Exactly at the limits is still allowed.
	c = challenge()
	c.CurrentDrawdown = d(500)
	c.CurrentProfit = d(-1000)
	if rules.ChallengeProgress(c).IsFailed {
		t.Error("sitting exactly on the limits is not a violation")
	}
}

func TestEvaluateChallenge_Transitions(t *testing.T) {
	// Target met with enough days: PASSED.
	c := challenge()
	c.CurrentProfit = d(800)
	c.TradingDays = 5
	if got := rules.EvaluateChallenge(c); got != model.ChallengePassed {
		t.Errorf("expected PASSED, got %s", got)
	}

	// Target met but too few days: still ACTIVE.
	c.TradingDays = 4
	if got := rules.EvaluateChallenge(c); got != model.ChallengeActive {
		t.Errorf("expected ACTIVE, got %s", got)
	}

	// Violation and target met at once: failure wins.
	c.TradingDays = 5
	c.CurrentDrawdown = d(600)
	if got := rules.EvaluateChallenge(c); got != model.ChallengeFailed {
		t.Errorf("expected FAILED to take precedence, got %s", got)
	}
}

func TestEvaluateChallenge_TerminalStatusesUnchanged(t *testing.T) {
	for _, st := range []model.ChallengeStatus{
		model.ChallengePassed, model.ChallengeFailed, model.ChallengeExpired,
	} {
		c := challenge()
		c.Status = st
		c.CurrentProfit = d(800)
		c.TradingDays = 5
		if got := rules.EvaluateChallenge(c); got != st {
			t.Errorf("terminal status %s must not change, got %s", st, got)
		}
	}
}

func TestWithdrawal_SplitAndLedger(t *testing.T) {
	a := account()
	a.TotalProfit = d(1000)
	a.TotalWithdrawn = d(200)

	// 1000 × 0.8 − 200 = 600.
	if avail := rules.AvailableForWithdrawal(a); !avail.Equal(d(600)) {
		t.Fatalf("expected available 600, got %s", avail)
	}

	if err := rules.CheckWithdrawal(a, d(650)); !errors.Is(err, rules.ErrInsufficientFunds) {
		t.Errorf("650 over a 600 balance: expected ErrInsufficientFunds, got %v", err)
	}
	if err := rules.CheckWithdrawal(a, d(600)); err != nil {
		t.Errorf("exactly the available amount must pass, got %v", err)
	}
}

func TestWithdrawal_Validation(t *testing.T) {
	a := account()
	a.TotalProfit = d(1000)

	if err := rules.CheckWithdrawal(a, decimal.Zero); !errors.Is(err, rules.ErrInvalidAmount) {
		t.Errorf("zero amount: expected ErrInvalidAmount, got %v", err)
	}
	if err := rules.CheckWithdrawal(a, d(-5)); !errors.Is(err, rules.ErrInvalidAmount) {
		t.Errorf("negative amount: expected ErrInvalidAmount, got %v", err)
	}

	a.Status = model.AccountSuspended
	if err := rules.CheckWithdrawal(a, d(100)); !errors.Is(err, rules.ErrAccountNotActive) {
		t.Errorf("suspended account: expected ErrAccountNotActive, got %v", err)
	}
}

func TestWithdrawal_NegativeAvailable(t *testing.T) {
	// Over-withdrawn relative to the split: raw available is negative.
	a := account()
	a.TotalProfit = d(100)
	a.TotalWithdrawn = d(200)

	if avail := rules.AvailableForWithdrawal(a); !avail.Equal(d(-120)) {
		t.Fatalf("expected raw available -120, got %s", avail)
	}
	if display := rules.WithdrawableDisplay(a); !display.IsZero() {
		t.Errorf("display value must floor at zero, got %s", display)
	}
	if err := rules.CheckWithdrawal(a, d(1)); !errors.Is(err, rules.ErrInsufficientFunds) {
		t.Errorf("any amount against negative available must be rejected, got %v", err)
	}
}

func TestFundedDrawdown(t *testing.T) {
	a := account()
	a.CurrentBalance = d(9500)
	if dd := rules.FundedDrawdown(a); !dd.Equal(d(5)) {
		t.Errorf("expected 5%% drawdown from peak, got %s", dd)
	}

	a.CurrentBalance = d(10000)
	if dd := rules.FundedDrawdown(a); !dd.IsZero() {
		t.Errorf("at the high-water mark drawdown is zero, got %s", dd)
	}

	a.CurrentBalance = d(10500)
	if dd := rules.FundedDrawdown(a); !dd.IsZero() {
		t.Errorf("above the recorded peak drawdown is zero, got %s", dd)
	}
}

func TestFundedAccountRules(t *testing.T) {
	a := account()
	a.CurrentBalance = d(9800)

	r := rules.FundedAccountRules(a)
	if !r.MaxDailyLossAmount.Equal(d(500)) {
		t.Errorf("expected daily loss amount 500, got %s", r.MaxDailyLossAmount)
	}
	if !r.MaxTotalLossAmount.Equal(d(1000)) {
		t.Errorf("expected total loss amount 1000, got %s", r.MaxTotalLossAmount)
	}
	if !r.RemainingDailyLoss.Equal(d(300)) {
		t.Errorf("expected remaining daily loss 300, got %s", r.RemainingDailyLoss)
	}
	if !r.CurrentDrawdown.Equal(d(2)) {
		t.Errorf("expected 2%% current drawdown, got %s", r.CurrentDrawdown)
	}
}
