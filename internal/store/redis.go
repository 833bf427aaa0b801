package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/propdesk/eval-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for positions and account aggregates. Writes go to the primary
// store and invalidate the cache; reads check Redis first then fall back.
// Listings and settlement mutations always hit the primary — settlement
// correctness must never depend on cache freshness.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Positions ---

func (s *CachedStore) InsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.InsertPosition(ctx, p); err != nil {
		return err
	}
	s.cache(ctx, positionKey(p.ID), p)
	return nil
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(id)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, positionKey(id), p)
	return p, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, f Filter) ([]model.Position, error) {
	return s.primary.ListPositions(ctx, f)
}

func (s *CachedStore) UpdateUnrealizedPnL(ctx context.Context, id string, pnl decimal.Decimal) error {
	if err := s.primary.UpdateUnrealizedPnL(ctx, id, pnl); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(id))
	return nil
}

func (s *CachedStore) SettlePosition(ctx context.Context, id string, closePrice, pnl decimal.Decimal, reason model.CloseReason, closedAt time.Time) (*model.Position, error) {
	p, err := s.primary.SettlePosition(ctx, id, closePrice, pnl, reason, closedAt)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, positionKey(id), p)
	return p, nil
}

// --- Challenges ---

func (s *CachedStore) PutChallenge(ctx context.Context, c *model.Challenge) error {
	if err := s.primary.PutChallenge(ctx, c); err != nil {
		return err
	}
	s.cache(ctx, challengeKey(c.ID), c)
	return nil
}

func (s *CachedStore) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	data, err := s.rdb.Get(ctx, challengeKey(id)).Bytes()
	if err == nil {
		var c model.Challenge
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	c, err := s.primary.GetChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, challengeKey(id), c)
	return c, nil
}

func (s *CachedStore) ApplyChallengeSettlement(ctx context.Context, id string, pnl decimal.Decimal) error {
	if err := s.primary.ApplyChallengeSettlement(ctx, id, pnl); err != nil {
		return err
	}
	s.rdb.Del(ctx, challengeKey(id))
	return nil
}

func (s *CachedStore) SetChallengeStatus(ctx context.Context, id string, status model.ChallengeStatus) error {
	if err := s.primary.SetChallengeStatus(ctx, id, status); err != nil {
		return err
	}
	s.rdb.Del(ctx, challengeKey(id))
	return nil
}

// --- Funded accounts ---

func (s *CachedStore) PutFundedAccount(ctx context.Context, a *model.FundedAccount) error {
	if err := s.primary.PutFundedAccount(ctx, a); err != nil {
		return err
	}
	s.cache(ctx, accountKey(a.ID), a)
	return nil
}

func (s *CachedStore) GetFundedAccount(ctx context.Context, id string) (*model.FundedAccount, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var a model.FundedAccount
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetFundedAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, accountKey(id), a)
	return a, nil
}

func (s *CachedStore) ApplyFundedSettlement(ctx context.Context, id string, pnl decimal.Decimal) error {
	if err := s.primary.ApplyFundedSettlement(ctx, id, pnl); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(id))
	return nil
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func positionKey(id string) string  { return fmt.Sprintf("position:%s", id) }
func challengeKey(id string) string { return fmt.Sprintf("challenge:%s", id) }
func accountKey(id string) string   { return fmt.Sprintf("account:%s", id) }
