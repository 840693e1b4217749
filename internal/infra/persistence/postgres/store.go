// Package postgres provides a Postgres-backed persistent store. Input records
// are snapshotted into a JSONB bucket table and hydrated into memory on
// startup; computed states and the trigger ledger are relational tables.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"aquacore/internal/infra/persistence/memory"
	"aquacore/internal/infra/persistence/statesql"
	"aquacore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/aquacore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists input records to Postgres while serving reads from memory.
type Store struct {
	*memory.Store
	repo *statesql.Repo
	db   *sql.DB
	mu   sync.Mutex
}

// NewStore opens a Postgres-backed store using dsn (falls back to defaultDSN).
// It ensures the schema exists and hydrates the in-memory inputs from any
// existing snapshot.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		return nil, err
	}
	repo := statesql.New(db, statesql.Postgres)
	if err := repo.Migrate(ctx); err != nil {
		return nil, err
	}
	snapshot, found, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore()
	if found {
		mem.ImportState(snapshot)
	}
	return &Store{Store: mem, repo: repo, db: db}, nil
}

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	targets := snapshot.Buckets()
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, false, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		if target, ok := targets[bucket]; ok {
			if err := json.Unmarshal(payload, target); err != nil {
				return memory.Snapshot{}, false, fmt.Errorf("decode %s: %w", bucket, err)
			}
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, found, nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	buckets := snapshot.Buckets()
	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range names {
		data, err := json.Marshal(buckets[bucket])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// RunInTransaction applies fn to the input records, then snapshots to Postgres if successful.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx *memory.Tx) error) error {
	if err := s.Store.RunInTransaction(ctx, fn); err != nil {
		return err
	}
	return s.persist(ctx)
}

// UpsertDailyState implements domain.StateStore.
func (s *Store) UpsertDailyState(ctx context.Context, st domain.DailyAssignmentState) (domain.UpsertOutcome, error) {
	return s.repo.UpsertDailyState(ctx, st)
}

// GetDailyState implements domain.StateStore.
func (s *Store) GetDailyState(ctx context.Context, assignmentID string, day time.Time) (domain.DailyAssignmentState, bool, error) {
	return s.repo.GetDailyState(ctx, assignmentID, day)
}

// ListDailyStates implements domain.StateStore.
func (s *Store) ListDailyStates(ctx context.Context, assignmentID string, from, to time.Time) ([]domain.DailyAssignmentState, error) {
	return s.repo.ListDailyStates(ctx, assignmentID, from, to)
}

// LatestDailyStateBefore implements domain.StateStore.
func (s *Store) LatestDailyStateBefore(ctx context.Context, assignmentID string, day time.Time) (domain.DailyAssignmentState, bool, error) {
	return s.repo.LatestDailyStateBefore(ctx, assignmentID, day)
}

// HasTriggerEvent implements domain.TriggerLedger.
func (s *Store) HasTriggerEvent(ctx context.Context, dedupKey string) (bool, error) {
	return s.repo.HasTriggerEvent(ctx, dedupKey)
}

// RecordTriggerEvent implements domain.TriggerLedger.
func (s *Store) RecordTriggerEvent(ctx context.Context, ev domain.TriggerEvent) (bool, error) {
	return s.repo.RecordTriggerEvent(ctx, ev)
}

// ListTriggerEvents implements domain.TriggerLedger.
func (s *Store) ListTriggerEvents(ctx context.Context, batchID string) ([]domain.TriggerEvent, error) {
	return s.repo.ListTriggerEvents(ctx, batchID)
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
