// Package database provides the Postgres-backed OLTP and time-series
// connection used by every other package that needs durable storage.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Profile tunes connection-pool behavior for the kind of workload a
// connection serves.
type Profile string

const (
	// ProfileOLTP is the default profile for request/worker-path queries:
	// pipelines, executions, scanners, budgets.
	ProfileOLTP Profile = "oltp"
	// ProfileTimeSeries favors throughput for the high write-volume
	// candle ingestion and continuous-aggregate refresh path.
	ProfileTimeSeries Profile = "timeseries"
)

// DB wraps a sqlx connection pool with profile-specific tuning and the
// health/migration helpers the rest of the service relies on.
type DB struct {
	conn    *sqlx.DB
	profile Profile
	name    string
}

// Config holds database configuration.
type Config struct {
	URL     string
	Profile Profile
	Name    string
}

// New opens a connection pool against a Postgres database.
func New(cfg Config) (*DB, error) {
	if cfg.Profile == "" {
		cfg.Profile = ProfileOLTP
	}

	conn, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}

	configureConnectionPool(conn, cfg.Profile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{conn: conn, profile: cfg.Profile, name: cfg.Name}, nil
}

func configureConnectionPool(conn *sqlx.DB, profile Profile) {
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(10 * time.Minute)

	if profile == ProfileTimeSeries {
		// Candle ingestion opens many short-lived batch writes.
		conn.SetMaxOpenConns(40)
		conn.SetMaxIdleConns(10)
	}
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sqlx.DB, used by repositories to run queries.
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// Name returns the database's friendly name, used in logging.
func (db *DB) Name() string {
	return db.name
}

// Profile returns the pool's tuning profile.
func (db *DB) Profile() Profile {
	return db.profile
}

// HealthCheck verifies the pool can still reach Postgres.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed for %s: %w", db.name, err)
	}
	return nil
}

// Stats exposes connection-pool statistics for the metrics package.
type Stats struct {
	OpenConnections int
	InUse           int
	Idle            int
}

// GetStats retrieves connection-pool statistics.
func (db *DB) GetStats() Stats {
	s := db.conn.Stats()
	return Stats{
		OpenConnections: s.OpenConnections,
		InUse:           s.InUse,
		Idle:            s.Idle,
	}
}
