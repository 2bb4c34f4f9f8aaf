package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aristath/tradepilot/internal/domain"
)

// Positions is the repository for the denormalized positions/trades tables
// the trade manager writes to alongside the execution row itself, giving the
// UI a flat position ledger independent of pipeline_state JSON.
type Positions struct {
	db *sqlx.DB
}

// NewPositions builds a Positions repository.
func NewPositions(db *sqlx.DB) *Positions {
	return &Positions{db: db}
}

// Open inserts a new open position for a filled entry order.
func (p *Positions) Open(ctx context.Context, id, executionID, userID, symbol string, side domain.PositionSide, qty, entryPrice float64, stopLoss, takeProfit *float64, brokerOrderID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO positions (id, execution_id, user_id, symbol, side, quantity, entry_price, stop_loss, take_profit, status, broker_order_id, opened_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'open', $10, now(), 1, now(), now())`,
		id, executionID, userID, symbol, side, qty, entryPrice, stopLoss, takeProfit, brokerOrderID)
	if err != nil {
		return fmt.Errorf("open position: %w", err)
	}
	return nil
}

// Close marks the position tied to executionID as closed with realized P&L.
func (p *Positions) Close(ctx context.Context, executionID string, realizedPL float64, closedAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE positions SET status = 'closed', realized_pnl = $1, closed_at = $2, version = version + 1, updated_at = now()
		WHERE execution_id = $3 AND status = 'open'`,
		realizedPL, closedAt, executionID)
	if err != nil {
		return fmt.Errorf("close position for execution %s: %w", executionID, err)
	}
	return nil
}

// CountOpenForUser reports how many open positions a user currently holds.
// Nothing in the repository calls it; the risk manager does not enforce
// max_open_positions.
func (p *Positions) CountOpenForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := p.db.GetContext(ctx, &count, `SELECT count(*) FROM positions WHERE user_id = $1 AND status = 'open'`, userID)
	if err != nil {
		return 0, fmt.Errorf("count open positions for %s: %w", userID, err)
	}
	return count, nil
}
