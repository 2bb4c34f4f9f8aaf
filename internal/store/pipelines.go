package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/aristath/tradepilot/internal/domain"
)

// Pipelines is the repository for pipelines and their scanners.
type Pipelines struct {
	db *sqlx.DB
}

// NewPipelines builds a Pipelines repository.
func NewPipelines(db *sqlx.DB) *Pipelines {
	return &Pipelines{db: db}
}

type pipelineRow struct {
	ID                string         `db:"id"`
	UserID            string         `db:"user_id"`
	Name              string         `db:"name"`
	Status            string         `db:"status"`
	Mode              string         `db:"mode"`
	AgentConfig       []byte         `db:"agent_config"`
	Subscriptions     []byte         `db:"subscriptions"`
	IntervalMinutes   float64        `db:"interval_minutes"`
	RequiresApproval  bool           `db:"requires_approval"`
	IsActive          bool           `db:"is_active"`
	BrokerAccountKey  sql.NullString `db:"broker_account_key"`
	LastRunStatus     sql.NullString `db:"last_run_status"`
	LastRunAt         sql.NullTime   `db:"last_run_at"`
	Version           int64          `db:"version"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r pipelineRow) toDomain() (*domain.Pipeline, error) {
	p := &domain.Pipeline{
		ID:               r.ID,
		UserID:           r.UserID,
		Name:             r.Name,
		Mode:             domain.TriggerMode(r.Mode),
		IntervalMinutes:  r.IntervalMinutes,
		RequiresApproval: r.RequiresApproval,
		IsActive:         r.IsActive,
		Version:          r.Version,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if len(r.AgentConfig) > 0 {
		if err := json.Unmarshal(r.AgentConfig, &p.AgentConfigs); err != nil {
			return nil, fmt.Errorf("unmarshal agent_config: %w", err)
		}
	}
	if len(r.Subscriptions) > 0 {
		if err := json.Unmarshal(r.Subscriptions, &p.Subscriptions); err != nil {
			return nil, fmt.Errorf("unmarshal subscriptions: %w", err)
		}
	}
	return p, nil
}

// BrokerAccountKey identifies which cached broker instance a pipeline uses,
// keyed by (broker_type, account_id, account_type) per the reconciliation
// task's broker-instance cache.
func (r pipelineRow) brokerAccountKey() string {
	if r.BrokerAccountKey.Valid {
		return r.BrokerAccountKey.String
	}
	return ""
}

// ActiveSignalTriggered loads every active, signal-triggered pipeline along
// with its scanner's ticker universe, for the dispatcher's pipeline cache.
func (p *Pipelines) ActiveSignalTriggered(ctx context.Context) ([]*CachedPipeline, error) {
	rows, err := p.db.QueryxContext(ctx, `
		SELECT p.id, p.user_id, p.name, p.subscriptions, p.broker_account_key,
		       coalesce(array_agg(DISTINCT t) FILTER (WHERE t IS NOT NULL), '{}') AS tickers
		FROM pipelines p
		LEFT JOIN scanners s ON s.pipeline_id = p.id AND s.enabled
		LEFT JOIN LATERAL unnest(s.symbol_universe) AS t ON true
		WHERE p.is_active AND p.mode = 'signal'
		GROUP BY p.id, p.user_id, p.name, p.subscriptions, p.broker_account_key`)
	if err != nil {
		return nil, fmt.Errorf("load active signal pipelines: %w", err)
	}
	defer rows.Close()

	var cached []*CachedPipeline
	for rows.Next() {
		var id, userID, name string
		var subsRaw []byte
		var brokerKey sql.NullString
		var tickers pq.StringArray
		if err := rows.Scan(&id, &userID, &name, &subsRaw, &brokerKey, &tickers); err != nil {
			return nil, fmt.Errorf("scan signal pipeline: %w", err)
		}
		var subs []domain.Subscription
		if len(subsRaw) > 0 {
			if err := json.Unmarshal(subsRaw, &subs); err != nil {
				return nil, fmt.Errorf("unmarshal subscriptions for %s: %w", id, err)
			}
		}
		tickerSet := make(map[string]bool, len(tickers))
		for _, t := range tickers {
			tickerSet[t] = true
		}
		cached = append(cached, &CachedPipeline{
			ID:            id,
			UserID:        userID,
			Name:          name,
			Tickers:       tickerSet,
			Subscriptions: subs,
		})
	}
	return cached, rows.Err()
}

// CachedPipeline is the dispatcher's in-memory representation of one active
// signal-triggered pipeline.
type CachedPipeline struct {
	ID            string
	UserID        string
	Name          string
	Tickers       map[string]bool
	Subscriptions []domain.Subscription
}

// DuePeriodic returns active periodic pipelines whose last_run_at predates
// interval_minutes ago (or is unset). last_run_at is the time MarkRun
// recorded when the pipeline was last enqueued; the status and completion
// time of the resulting execution are not consulted.
func (p *Pipelines) DuePeriodic(ctx context.Context, now time.Time) ([]*domain.Pipeline, error) {
	var rows []pipelineRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT * FROM pipelines
		WHERE is_active AND mode = 'periodic'
		AND (last_run_at IS NULL OR last_run_at < $1 - (interval_minutes * interval '1 minute'))`,
		now)
	if err != nil {
		return nil, fmt.Errorf("list due periodic pipelines: %w", err)
	}
	out := make([]*domain.Pipeline, 0, len(rows))
	for _, r := range rows {
		pl, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
	return out, nil
}

// MarkRun records the outcome of a periodic pipeline's scheduling decision.
func (p *Pipelines) MarkRun(ctx context.Context, id, status string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE pipelines SET last_run_status = $1, last_run_at = $2 WHERE id = $3`,
		status, at, id)
	if err != nil {
		return fmt.Errorf("mark pipeline run %s: %w", id, err)
	}
	return nil
}

// Get loads one pipeline by id.
func (p *Pipelines) Get(ctx context.Context, id string) (*domain.Pipeline, error) {
	var row pipelineRow
	if err := p.db.GetContext(ctx, &row, `SELECT * FROM pipelines WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("get pipeline %s: %w", id, err)
	}
	return row.toDomain()
}

// BrokerAccountKey returns the cached-broker-instance key for a pipeline.
func (p *Pipelines) BrokerAccountKey(ctx context.Context, id string) (string, error) {
	var key sql.NullString
	if err := p.db.GetContext(ctx, &key, `SELECT broker_account_key FROM pipelines WHERE id = $1`, id); err != nil {
		return "", fmt.Errorf("get broker account key for %s: %w", id, err)
	}
	if key.Valid {
		return key.String, nil
	}
	return "", nil
}

// ScannerTickers returns the first enabled scanner's ticker universe for a
// pipeline, used only as the manual-test-run fallback symbol resolution.
func (p *Pipelines) ScannerTickers(ctx context.Context, pipelineID string) ([]string, error) {
	var tickers pq.StringArray
	err := p.db.GetContext(ctx, &tickers, `
		SELECT symbol_universe FROM scanners
		WHERE pipeline_id = $1 AND enabled
		ORDER BY created_at ASC LIMIT 1`, pipelineID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scanner tickers for %s: %w", pipelineID, err)
	}
	return []string(tickers), nil
}
