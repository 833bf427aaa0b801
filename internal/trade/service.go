// Package trade provides the HTTP handlers for quotes, position
// open/close, and challenge/funded-account reporting.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/propdesk/eval-engine/internal/feed"
	"github.com/propdesk/eval-engine/internal/model"
	"github.com/propdesk/eval-engine/internal/rules"
	"github.com/propdesk/eval-engine/internal/settle"
	"github.com/propdesk/eval-engine/internal/store"
)

// Service handles the trading API. The settlement engine owns all
// mutation; handlers validate, delegate, and translate errors.
type Service struct {
	feed   *feed.PriceFeed
	store  store.Store
	engine *settle.Engine
}

// NewService creates a new trade service.
func NewService(f *feed.PriceFeed, st store.Store, engine *settle.Engine) *Service {
	return &Service{feed: f, store: st, engine: engine}
}

// --- Request/Response types ---

// OpenPositionRequest is the JSON body for POST /positions.
type OpenPositionRequest struct {
	Symbol          string           `json:"symbol"`
	Direction       model.Direction  `json:"direction"` // "LONG" or "SHORT"
	Size            decimal.Decimal  `json:"size"`
	StopLoss        *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit      *decimal.Decimal `json:"take_profit,omitempty"`
	ChallengeID     string           `json:"challenge_id,omitempty"`
	FundedAccountID string           `json:"funded_account_id,omitempty"`
}

// ClosePositionRequest is the JSON body for POST /positions/{id}/close.
// ClosePrice omitted means market execution at the current quote.
type ClosePositionRequest struct {
	ClosePrice *decimal.Decimal `json:"close_price,omitempty"`
}

// WithdrawalRequest is the JSON body for POST /accounts/{id}/withdrawals.
type WithdrawalRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// WithdrawalResponse reports a passed availability check. The payout
// itself is processed by an external collaborator.
type WithdrawalResponse struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	ProfitSplit decimal.Decimal `json:"profit_split"`
	Remaining   decimal.Decimal `json:"remaining"`
	RequestedAt time.Time       `json:"requested_at"`
}

// AccountStats summarizes a funded account's trading record.
type AccountStats struct {
	TotalTrades            int             `json:"total_trades"`
	WinningTrades          int             `json:"winning_trades"`
	LosingTrades           int             `json:"losing_trades"`
	WinRate                decimal.Decimal `json:"win_rate"`
	CurrentBalance         decimal.Decimal `json:"current_balance"`
	PeakBalance            decimal.Decimal `json:"peak_balance"`
	TotalProfit            decimal.Decimal `json:"total_profit"`
	TotalWithdrawn         decimal.Decimal `json:"total_withdrawn"`
	ProfitSplit            decimal.Decimal `json:"profit_split"`
	AvailableForWithdrawal decimal.Decimal `json:"available_for_withdrawal"`
}

// --- Quote handlers ---

// ListQuotes handles GET /api/v1/quotes
func (s *Service) ListQuotes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.feed.All())
}

// GetQuote handles GET /api/v1/quotes/{symbol}
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	q, err := s.feed.Quote(symbol)
	if err != nil {
		writeError(w, "symbol not found: "+symbol, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// --- Position handlers ---

// OpenPosition handles POST /api/v1/positions
func (s *Service) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}

	p, err := s.engine.Open(r.Context(), settle.OpenRequest{
		Symbol:          req.Symbol,
		Direction:       req.Direction,
		Size:            req.Size,
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		ChallengeID:     req.ChallengeID,
		FundedAccountID: req.FundedAccountID,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ClosePosition handles POST /api/v1/positions/{id}/close
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ClosePositionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	p, err := s.engine.Close(r.Context(), id, req.ClosePrice)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListPositions handles GET /api/v1/positions
// Supports ?challenge_id=, ?account_id=, and ?status= filters.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	f := store.Filter{
		ChallengeID:     r.URL.Query().Get("challenge_id"),
		FundedAccountID: r.URL.Query().Get("account_id"),
		Status:          model.PositionStatus(r.URL.Query().Get("status")),
	}

	positions, err := s.store.ListPositions(r.Context(), f)
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetPosition handles GET /api/v1/positions/{id}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPosition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Challenge handlers ---

// GetChallengeProgress handles GET /api/v1/challenges/{id}/progress
func (s *Service) GetChallengeProgress(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetChallenge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "challenge not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"challenge": c,
		"progress":  rules.ChallengeProgress(c),
	})
}

// EvaluateChallenge handles POST /api/v1/challenges/{id}/evaluate
// Applies the rule evaluator's decision; transitions out of ACTIVE are
// terminal, so re-evaluating a finished challenge is a no-op.
func (s *Service) EvaluateChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.store.GetChallenge(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "challenge not found", http.StatusNotFound)
		return
	}

	next := rules.EvaluateChallenge(c)
	if next != c.Status {
		switch err := s.store.SetChallengeStatus(ctx, c.ID, next); {
		case errors.Is(err, store.ErrChallengeFinal):
			// A concurrent evaluation already recorded a terminal status;
			// report what actually stuck.
			cur, err := s.store.GetChallenge(ctx, c.ID)
			if err != nil {
				writeError(w, "failed to load challenge status", http.StatusInternalServerError)
				return
			}
			c.Status = cur.Status
		case err != nil:
			writeError(w, "failed to update challenge status", http.StatusInternalServerError)
			return
		default:
			slog.Info("challenge status changed", "id", c.ID, "from", c.Status, "to", next)
			c.Status = next
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": c.Status})
}

// --- Funded account handlers ---

// GetAccountStats handles GET /api/v1/accounts/{id}/stats
func (s *Service) GetAccountStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	a, err := s.store.GetFundedAccount(ctx, id)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	closed, err := s.store.ListPositions(ctx, store.Filter{
		FundedAccountID: id,
		Status:          model.PositionClosed,
	})
	if err != nil {
		writeError(w, "failed to load trade history", http.StatusInternalServerError)
		return
	}

	stats := AccountStats{
		TotalTrades:            len(closed),
		CurrentBalance:         a.CurrentBalance,
		PeakBalance:            a.PeakBalance,
		TotalProfit:            a.TotalProfit,
		TotalWithdrawn:         a.TotalWithdrawn,
		ProfitSplit:            a.ProfitSplit,
		AvailableForWithdrawal: rules.WithdrawableDisplay(a),
		WinRate:                decimal.Zero,
	}
	for _, p := range closed {
		if p.PnL.IsPositive() {
			stats.WinningTrades++
		} else if p.PnL.IsNegative() {
			stats.LosingTrades++
		}
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = decimal.NewFromInt(int64(stats.WinningTrades)).
			Div(decimal.NewFromInt(int64(stats.TotalTrades))).
			Mul(decimal.NewFromInt(100)).Round(2)
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetAccountRules handles GET /api/v1/accounts/{id}/rules
func (s *Service) GetAccountRules(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetFundedAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rules.FundedAccountRules(a))
}

// RequestWithdrawal handles POST /api/v1/accounts/{id}/withdrawals
// Validates availability against the profit split; the approval workflow
// downstream of this check is outside the engine.
func (s *Service) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a, err := s.store.GetFundedAccount(r.Context(), id)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	if err := rules.CheckWithdrawal(a, req.Amount); err != nil {
		switch {
		case errors.Is(err, rules.ErrAccountNotActive):
			writeError(w, err.Error(), http.StatusConflict)
		default:
			writeError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	resp := WithdrawalResponse{
		ID:          uuid.New().String(),
		AccountID:   a.ID,
		Amount:      req.Amount,
		ProfitSplit: a.ProfitSplit,
		Remaining:   rules.AvailableForWithdrawal(a).Sub(req.Amount),
		RequestedAt: time.Now().UTC(),
	}

	slog.Info("withdrawal request accepted",
		"id", resp.ID,
		"account", a.ID,
		"amount", req.Amount.String(),
	)
	writeJSON(w, http.StatusCreated, resp)
}

// --- Helpers ---

// writeEngineError maps settlement errors to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "position not found", http.StatusNotFound)
	case errors.Is(err, store.ErrPositionClosed):
		writeError(w, "position is not open", http.StatusConflict)
	case errors.Is(err, settle.ErrInstrumentUnavailable):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, settle.ErrInvalidSize),
		errors.Is(err, settle.ErrInvalidDirection),
		errors.Is(err, settle.ErrConflictingOwners):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
