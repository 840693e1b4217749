// Package sqlite provides a SQLite-backed persistent store. Input records are
// snapshotted as JSON buckets; computed states and the trigger ledger live in
// relational tables.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"aquacore/internal/infra/persistence/memory"
	"aquacore/internal/infra/persistence/statesql"
	"aquacore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Store persists input records and computed states to a SQLite file.
type Store struct {
	*memory.Store
	repo *statesql.Repo
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "aquacore.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY under the worker pool.
	db.SetMaxOpenConns(1)
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	repo := statesql.New(db, statesql.SQLite)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{Store: memory.NewStore(), repo: repo, db: db, path: path}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var snapshot memory.Snapshot
	targets := snapshot.Buckets()
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		target, ok := targets[bucket]
		if !ok || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if found {
		s.ImportState(snapshot)
	}
	return nil
}

func (s *Store) persist(ctx context.Context) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for bucket, target := range snapshot.Buckets() {
		data, err := json.Marshal(target)
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	return tx.Commit()
}

// RunInTransaction applies fn to the input records, then snapshots them to SQLite if successful.
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

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
