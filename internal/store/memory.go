package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/propdesk/eval-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. The single mutex gives every aggregate update the required
// per-aggregate exclusion; copies are stored and returned so callers can
// never mutate internal state.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]*model.Position
	challenge map[string]*model.Challenge
	funded    map[string]*model.FundedAccount
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]*model.Position),
		challenge: make(map[string]*model.Challenge),
		funded:    make(map[string]*model.FundedAccount),
	}
}

func (s *MemoryStore) InsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, f Filter) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if f.ChallengeID != "" && p.ChallengeID != f.ChallengeID {
			continue
		}
		if f.FundedAccountID != "" && p.FundedAccountID != f.FundedAccountID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		result = append(result, *p)
	}
	return result, nil
}

func (s *MemoryStore) UpdateUnrealizedPnL(_ context.Context, id string, pnl decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != model.PositionOpen {
		// PnL is frozen after close.
		return nil
	}
	p.PnL = pnl
	return nil
}

func (s *MemoryStore) SettlePosition(_ context.Context, id string, closePrice, pnl decimal.Decimal, reason model.CloseReason, closedAt time.Time) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != model.PositionOpen {
		return nil, ErrPositionClosed
	}
	p.Status = model.PositionClosed
	p.ClosePrice = closePrice
	p.PnL = pnl
	p.CloseReason = reason
	p.ClosedAt = closedAt

	cp := *p
	return &cp, nil
}

func (s *MemoryStore) PutChallenge(_ context.Context, c *model.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.challenge[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetChallenge(_ context.Context, id string) (*model.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.challenge[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ApplyChallengeSettlement(_ context.Context, id string, pnl decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenge[id]
	if !ok {
		return ErrNotFound
	}
	c.CurrentProfit = c.CurrentProfit.Add(pnl)
	c.CurrentDrawdown = decimal.Zero
	if c.CurrentProfit.IsNegative() {
		c.CurrentDrawdown = c.CurrentProfit.Neg()
	}
	return nil
}

func (s *MemoryStore) SetChallengeStatus(_ context.Context, id string, status model.ChallengeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenge[id]
	if !ok {
		return ErrNotFound
	}
	if c.Status != model.ChallengeActive {
		return ErrChallengeFinal
	}
	c.Status = status
	return nil
}

func (s *MemoryStore) PutFundedAccount(_ context.Context, a *model.FundedAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.funded[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetFundedAccount(_ context.Context, id string) (*model.FundedAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.funded[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ApplyFundedSettlement(_ context.Context, id string, pnl decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.funded[id]
	if !ok {
		return ErrNotFound
	}
	a.CurrentBalance = a.CurrentBalance.Add(pnl)
	if a.CurrentBalance.GreaterThan(a.PeakBalance) {
		a.PeakBalance = a.CurrentBalance
	}
	a.TotalProfit = a.TotalProfit.Add(pnl)
	return nil
}
