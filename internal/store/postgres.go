package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/propdesk/eval-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// The atomic transitions (SettlePosition's status guard, the Apply*
// single-statement updates) are what make concurrent settlement safe
// without application-side locking.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertPosition(ctx context.Context, p *model.Position) error {
	var sl, tp *string
	if p.StopLoss != nil {
		v := p.StopLoss.String()
		sl = &v
	}
	if p.TakeProfit != nil {
		v := p.TakeProfit.String()
		tp = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, symbol, direction, size, open_price, stop_loss, take_profit,
		                        pnl, status, challenge_id, funded_account_id, opened_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
		         $8::NUMERIC, $9, NULLIF($10, ''), NULLIF($11, ''), $12)`,
		p.ID, p.Symbol, p.Direction, p.Size.String(), p.OpenPrice.String(), sl, tp,
		p.PnL.String(), p.Status, p.ChallengeID, p.FundedAccountID, p.OpenedAt,
	)
	return err
}

const positionColumns = `id, symbol, direction,
	size::TEXT, open_price::TEXT, COALESCE(close_price, 0)::TEXT,
	stop_loss::TEXT, take_profit::TEXT, pnl::TEXT,
	status, COALESCE(close_reason, ''), COALESCE(challenge_id, ''), COALESCE(funded_account_id, ''),
	opened_at, closed_at`

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, f Filter) ([]model.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE 1=1`
	var args []any
	if f.ChallengeID != "" {
		args = append(args, f.ChallengeID)
		query += fmt.Sprintf(" AND challenge_id = $%d", len(args))
	}
	if f.FundedAccountID != "" {
		args = append(args, f.FundedAccountID)
		query += fmt.Sprintf(" AND funded_account_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY opened_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) UpdateUnrealizedPnL(ctx context.Context, id string, pnl decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET pnl = $2::NUMERIC WHERE id = $1 AND status = 'OPEN'`,
		id, pnl.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either unknown or already closed; distinguish for the caller.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM positions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (s *PostgresStore) SettlePosition(ctx context.Context, id string, closePrice, pnl decimal.Decimal, reason model.CloseReason, closedAt time.Time) (*model.Position, error) {
	// Status guard in the WHERE clause: first settlement wins, any
	// concurrent attempt affects zero rows.
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions
		 SET close_price = $2::NUMERIC, pnl = $3::NUMERIC, status = 'CLOSED',
		     close_reason = $4, closed_at = $5
		 WHERE id = $1 AND status = 'OPEN'`,
		id, closePrice.String(), pnl.String(), string(reason), closedAt)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetPosition(ctx, id); errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrPositionClosed
	}
	return s.GetPosition(ctx, id)
}

func (s *PostgresStore) PutChallenge(ctx context.Context, c *model.Challenge) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO challenges (id, account_size, current_profit, current_drawdown, trading_days,
		                         status, profit_target, max_daily_loss, max_total_loss, min_trading_days)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)
		 ON CONFLICT (id) DO UPDATE SET
		     account_size = EXCLUDED.account_size,
		     current_profit = EXCLUDED.current_profit,
		     current_drawdown = EXCLUDED.current_drawdown,
		     trading_days = EXCLUDED.trading_days,
		     status = EXCLUDED.status,
		     profit_target = EXCLUDED.profit_target,
		     max_daily_loss = EXCLUDED.max_daily_loss,
		     max_total_loss = EXCLUDED.max_total_loss,
		     min_trading_days = EXCLUDED.min_trading_days`,
		c.ID, c.AccountSize.String(), c.CurrentProfit.String(), c.CurrentDrawdown.String(),
		c.TradingDays, c.Status, c.ProfitTarget.String(), c.MaxDailyLoss.String(),
		c.MaxTotalLoss.String(), c.MinTradingDays,
	)
	return err
}

func (s *PostgresStore) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	var c model.Challenge
	var size, profit, dd, target, daily, total string

	err := s.pool.QueryRow(ctx,
		`SELECT id, account_size::TEXT, current_profit::TEXT, current_drawdown::TEXT, trading_days,
		        status, profit_target::TEXT, max_daily_loss::TEXT, max_total_loss::TEXT, min_trading_days
		 FROM challenges WHERE id = $1`, id).
		Scan(&c.ID, &size, &profit, &dd, &c.TradingDays,
			&c.Status, &target, &daily, &total, &c.MinTradingDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge %s: %w", id, err)
	}

	c.AccountSize, _ = decimal.NewFromString(size)
	c.CurrentProfit, _ = decimal.NewFromString(profit)
	c.CurrentDrawdown, _ = decimal.NewFromString(dd)
	c.ProfitTarget, _ = decimal.NewFromString(target)
	c.MaxDailyLoss, _ = decimal.NewFromString(daily)
	c.MaxTotalLoss, _ = decimal.NewFromString(total)

	return &c, nil
}

func (s *PostgresStore) ApplyChallengeSettlement(ctx context.Context, id string, pnl decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE challenges
		 SET current_profit = current_profit + $2::NUMERIC,
		     current_drawdown = GREATEST(0, -(current_profit + $2::NUMERIC))
		 WHERE id = $1`,
		id, pnl.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetChallengeStatus(ctx context.Context, id string, status model.ChallengeStatus) error {
	// Status guard: only ACTIVE transitions, terminal statuses hold.
	tag, err := s.pool.Exec(ctx,
		`UPDATE challenges SET status = $2 WHERE id = $1 AND status = 'ACTIVE'`,
		id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM challenges WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrChallengeFinal
	}
	return nil
}

func (s *PostgresStore) PutFundedAccount(ctx context.Context, a *model.FundedAccount) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO funded_accounts (id, account_size, current_balance, peak_balance, total_profit,
		                              total_withdrawn, profit_split, status, max_daily_loss, max_total_loss)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9::NUMERIC, $10::NUMERIC)
		 ON CONFLICT (id) DO UPDATE SET
		     account_size = EXCLUDED.account_size,
		     current_balance = EXCLUDED.current_balance,
		     peak_balance = EXCLUDED.peak_balance,
		     total_profit = EXCLUDED.total_profit,
		     total_withdrawn = EXCLUDED.total_withdrawn,
		     profit_split = EXCLUDED.profit_split,
		     status = EXCLUDED.status,
		     max_daily_loss = EXCLUDED.max_daily_loss,
		     max_total_loss = EXCLUDED.max_total_loss`,
		a.ID, a.AccountSize.String(), a.CurrentBalance.String(), a.PeakBalance.String(),
		a.TotalProfit.String(), a.TotalWithdrawn.String(), a.ProfitSplit.String(),
		a.Status, a.MaxDailyLoss.String(), a.MaxTotalLoss.String(),
	)
	return err
}

func (s *PostgresStore) GetFundedAccount(ctx context.Context, id string) (*model.FundedAccount, error) {
	var a model.FundedAccount
	var size, balance, peak, profit, withdrawn, split, daily, total string

	err := s.pool.QueryRow(ctx,
		`SELECT id, account_size::TEXT, current_balance::TEXT, peak_balance::TEXT, total_profit::TEXT,
		        total_withdrawn::TEXT, profit_split::TEXT, status, max_daily_loss::TEXT, max_total_loss::TEXT
		 FROM funded_accounts WHERE id = $1`, id).
		Scan(&a.ID, &size, &balance, &peak, &profit,
			&withdrawn, &split, &a.Status, &daily, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get funded account %s: %w", id, err)
	}

	a.AccountSize, _ = decimal.NewFromString(size)
	a.CurrentBalance, _ = decimal.NewFromString(balance)
	a.PeakBalance, _ = decimal.NewFromString(peak)
	a.TotalProfit, _ = decimal.NewFromString(profit)
	a.TotalWithdrawn, _ = decimal.NewFromString(withdrawn)
	a.ProfitSplit, _ = decimal.NewFromString(split)
	a.MaxDailyLoss, _ = decimal.NewFromString(daily)
	a.MaxTotalLoss, _ = decimal.NewFromString(total)

	return &a, nil
}

func (s *PostgresStore) ApplyFundedSettlement(ctx context.Context, id string, pnl decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE funded_accounts
		 SET current_balance = current_balance + $2::NUMERIC,
		     peak_balance = GREATEST(peak_balance, current_balance + $2::NUMERIC),
		     total_profit = total_profit + $2::NUMERIC
		 WHERE id = $1`,
		id, pnl.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanPosition reads one positions row (positionColumns order).
func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var size, open, closePrice, pnl string
	var sl, tp *string
	var closedAt *time.Time

	if err := row.Scan(&p.ID, &p.Symbol, &p.Direction,
		&size, &open, &closePrice,
		&sl, &tp, &pnl,
		&p.Status, &p.CloseReason, &p.ChallengeID, &p.FundedAccountID,
		&p.OpenedAt, &closedAt); err != nil {
		return nil, err
	}
	if closedAt != nil {
		p.ClosedAt = *closedAt
	}

	p.Size, _ = decimal.NewFromString(size)
	p.OpenPrice, _ = decimal.NewFromString(open)
	p.ClosePrice, _ = decimal.NewFromString(closePrice)
	p.PnL, _ = decimal.NewFromString(pnl)
	if sl != nil {
		v, _ := decimal.NewFromString(*sl)
		p.StopLoss = &v
	}
	if tp != nil {
		v, _ := decimal.NewFromString(*tp)
		p.TakeProfit = &v
	}
	return &p, nil
}
