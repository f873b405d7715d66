// Package postgres provides the optional durable sync-history archive.
// The key-value history is capped at a small number of entries; deployments
// that want the full record point this archive at Postgres and every
// finished sync is appended here as well.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/crosspost-dev/crosspost/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// HistoryArchive appends finished syncs to a Postgres table.
type HistoryArchive struct {
	db *sqlx.DB
}

// Open connects to Postgres and applies pending migrations.
func Open(dsn string) (*HistoryArchive, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &HistoryArchive{db: db}, nil
}

// NewWithDB wraps an existing connection without running migrations.
// Used by tests.
func NewWithDB(db *sqlx.DB) *HistoryArchive {
	return &HistoryArchive{db: db}
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

type historyRow struct {
	SyncID    string    `db:"sync_id"`
	Status    string    `db:"status"`
	Article   []byte    `db:"article"`
	Platforms []byte    `db:"platforms"`
	Results   []byte    `db:"results"`
	StartTime time.Time `db:"start_time"`
}

// Append records one finished sync. Appending the same sync id twice
// overwrites the previous record (retry-failed reuses the id).
func (a *HistoryArchive) Append(ctx context.Context, state *domain.SyncState) error {
	article, err := json.Marshal(state.Article)
	if err != nil {
		return fmt.Errorf("encode article: %w", err)
	}
	platforms, err := json.Marshal(state.SelectedPlatforms)
	if err != nil {
		return fmt.Errorf("encode platforms: %w", err)
	}
	results, err := json.Marshal(state.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	query := `
		INSERT INTO sync_history (sync_id, status, article, platforms, results, start_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sync_id) DO UPDATE SET
			status = EXCLUDED.status,
			results = EXCLUDED.results`

	_, err = a.db.ExecContext(ctx, query,
		state.SyncID,
		state.Status.String(),
		article,
		platforms,
		results,
		state.StartTime,
	)
	if err != nil {
		return fmt.Errorf("insert sync history: %w", err)
	}
	return nil
}

// Recent returns up to limit archived syncs, newest first.
func (a *HistoryArchive) Recent(ctx context.Context, limit int) ([]domain.SyncState, error) {
	if limit <= 0 {
		limit = 25
	}
	var rows []historyRow
	query := `
		SELECT sync_id, status, article, platforms, results, start_time
		FROM sync_history
		ORDER BY start_time DESC
		LIMIT $1`

	if err := a.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("select sync history: %w", err)
	}

	out := make([]domain.SyncState, 0, len(rows))
	for _, r := range rows {
		state := domain.SyncState{
			SyncID:    r.SyncID,
			Status:    domain.ParseSyncStatus(r.Status),
			StartTime: r.StartTime,
		}
		if err := json.Unmarshal(r.Article, &state.Article); err != nil {
			return nil, fmt.Errorf("decode article for %s: %w", r.SyncID, err)
		}
		if err := json.Unmarshal(r.Platforms, &state.SelectedPlatforms); err != nil {
			return nil, fmt.Errorf("decode platforms for %s: %w", r.SyncID, err)
		}
		if err := json.Unmarshal(r.Results, &state.Results); err != nil {
			return nil, fmt.Errorf("decode results for %s: %w", r.SyncID, err)
		}
		out = append(out, state)
	}
	return out, nil
}

// Close releases the connection pool.
func (a *HistoryArchive) Close() error {
	return a.db.Close()
}
