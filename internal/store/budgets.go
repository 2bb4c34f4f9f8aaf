package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Budgets is the repository for per-user daily trading budgets.
type Budgets struct {
	db *sqlx.DB
}

// NewBudgets builds a Budgets repository.
func NewBudgets(db *sqlx.DB) *Budgets {
	return &Budgets{db: db}
}

// Budget mirrors one user_budgets row.
type Budget struct {
	UserID           string    `db:"user_id"`
	DailyLossLimit   float64   `db:"daily_loss_limit"`
	DailyLossUsed    float64   `db:"daily_loss_used"`
	DailyTradeLimit  int       `db:"daily_trade_limit"`
	DailyTradeCount  int       `db:"daily_trade_count"`
	MaxOpenPositions int       `db:"max_open_positions"`
	ResetAt          time.Time `db:"reset_at"`
}

// Get loads a user's budget row, or nil if none exists yet (no budget
// configured means unrestricted, per the pipeline executor's budget check).
func (b *Budgets) Get(ctx context.Context, userID string) (*Budget, error) {
	var budget Budget
	err := b.db.GetContext(ctx, &budget, `SELECT * FROM user_budgets WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &budget, nil
}

// Exceeded reports whether the user has hit either the daily loss limit or
// the daily trade count limit.
func (b *Budget) Exceeded() bool {
	return b.DailyLossUsed >= b.DailyLossLimit || b.DailyTradeCount >= b.DailyTradeLimit
}

// RecordTrade increments the daily trade counter for userID.
func (b *Budgets) RecordTrade(ctx context.Context, userID string) error {
	_, err := b.db.ExecContext(ctx, `
		UPDATE user_budgets SET daily_trade_count = daily_trade_count + 1, updated_at = now()
		WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("record trade for %s: %w", userID, err)
	}
	return nil
}

// RecordLoss adds amount (expected non-negative) to the daily loss used.
func (b *Budgets) RecordLoss(ctx context.Context, userID string, amount float64) error {
	if amount <= 0 {
		return nil
	}
	_, err := b.db.ExecContext(ctx, `
		UPDATE user_budgets SET daily_loss_used = daily_loss_used + $1, updated_at = now()
		WHERE user_id = $2`, amount, userID)
	if err != nil {
		return fmt.Errorf("record loss for %s: %w", userID, err)
	}
	return nil
}

// ResetStale zeroes the daily_loss_used and daily_trade_count counters for
// every row whose reset_at is at
// least 24h old, returning how many rows were reset.
func (b *Budgets) ResetStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx, `
		UPDATE user_budgets
		SET daily_loss_used = 0, daily_trade_count = 0, reset_at = $1, updated_at = $1
		WHERE reset_at <= $1 - interval '24 hours'`, now)
	if err != nil {
		return 0, fmt.Errorf("reset stale budgets: %w", err)
	}
	return res.RowsAffected()
}
