// Package statesql persists computed daily states and the trigger ledger in
// relational tables shared by the SQLite and Postgres backends.
package statesql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"aquacore/pkg/domain"

	"github.com/shopspring/decimal"
)

// Dialect selects placeholder style and column types.
type Dialect int

// Supported dialects.
const (
	SQLite Dialect = iota
	Postgres
)

// Repo implements domain.StateStore and domain.TriggerLedger over database/sql.
type Repo struct {
	db      *sql.DB
	dialect Dialect
}

var (
	_ domain.StateStore    = (*Repo)(nil)
	_ domain.TriggerLedger = (*Repo)(nil)
)

// New constructs a repo. Call Migrate before first use.
func New(db *sql.DB, dialect Dialect) *Repo {
	return &Repo{db: db, dialect: dialect}
}

func (r *Repo) numeric() string {
	if r.dialect == Postgres {
		return "NUMERIC"
	}
	return "TEXT"
}

// rebind rewrites ? placeholders to $n for Postgres.
func (r *Repo) rebind(q string) string {
	if r.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Migrate creates the tables when missing.
func (r *Repo) Migrate(ctx context.Context) error {
	num := r.numeric()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS daily_assignment_state (
			assignment_id TEXT NOT NULL,
			date TEXT NOT NULL,
			batch_id TEXT NOT NULL,
			container_id TEXT NOT NULL,
			day_number INTEGER NOT NULL,
			avg_weight_g ` + num + ` NOT NULL,
			population BIGINT NOT NULL,
			biomass_kg ` + num + ` NOT NULL,
			lifecycle_stage TEXT NOT NULL,
			stage_order INTEGER NOT NULL,
			temp_c ` + num + `,
			mortality_count BIGINT NOT NULL,
			placements_count BIGINT NOT NULL,
			removals_count BIGINT NOT NULL,
			feed_kg ` + num + ` NOT NULL,
			observed_fcr ` + num + `,
			anchor_type TEXT NOT NULL,
			sources TEXT NOT NULL,
			confidence_scores TEXT NOT NULL,
			flags TEXT NOT NULL,
			scenario_id TEXT NOT NULL,
			computed_at TEXT NOT NULL,
			PRIMARY KEY (assignment_id, date)
		)`,
		`CREATE INDEX IF NOT EXISTS daily_assignment_state_batch_date ON daily_assignment_state (batch_id, date)`,
		`CREATE TABLE IF NOT EXISTS trigger_events (
			dedup_key TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			rule_id TEXT NOT NULL,
			batch_id TEXT NOT NULL,
			emitted_at TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate state tables: %w", err)
		}
	}
	return nil
}

const stateColumns = `assignment_id, date, batch_id, container_id, day_number, avg_weight_g, population,
	biomass_kg, lifecycle_stage, stage_order, temp_c, mortality_count, placements_count, removals_count,
	feed_kg, observed_fcr, anchor_type, sources, confidence_scores, flags, scenario_id, computed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(sc rowScanner) (domain.DailyAssignmentState, error) {
	var (
		st                          domain.DailyAssignmentState
		date, computedAt            string
		temp, fcr                   decimal.NullDecimal
		sources, confidences, flags string
		anchorType                  string
	)
	if err := sc.Scan(&st.AssignmentID, &date, &st.BatchID, &st.ContainerID, &st.DayNumber, &st.AvgWeightG,
		&st.Population, &st.BiomassKg, &st.LifecycleStage, &st.StageOrder, &temp, &st.MortalityCount,
		&st.PlacementsCount, &st.RemovalsCount, &st.FeedKg, &fcr, &anchorType, &sources, &confidences,
		&flags, &st.ScenarioID, &computedAt); err != nil {
		return domain.DailyAssignmentState{}, err
	}
	d, err := domain.ParseDateKey(date)
	if err != nil {
		return domain.DailyAssignmentState{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	st.Date = d
	if st.ComputedAt, err = time.Parse(time.RFC3339Nano, computedAt); err != nil {
		return domain.DailyAssignmentState{}, fmt.Errorf("parse computed_at %q: %w", computedAt, err)
	}
	st.AnchorType = domain.AnchorType(anchorType)
	if temp.Valid {
		v := temp.Decimal
		st.TempC = &v
	}
	if fcr.Valid {
		v := fcr.Decimal
		st.ObservedFCR = &v
	}
	if err := json.Unmarshal([]byte(sources), &st.Sources); err != nil {
		return domain.DailyAssignmentState{}, fmt.Errorf("decode sources: %w", err)
	}
	if err := json.Unmarshal([]byte(confidences), &st.ConfidenceScores); err != nil {
		return domain.DailyAssignmentState{}, fmt.Errorf("decode confidence scores: %w", err)
	}
	if err := json.Unmarshal([]byte(flags), &st.Flags); err != nil {
		return domain.DailyAssignmentState{}, fmt.Errorf("decode flags: %w", err)
	}
	if len(st.Flags) == 0 {
		st.Flags = nil
	}
	return st, nil
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func stateArgs(st domain.DailyAssignmentState) ([]any, error) {
	sources, err := json.Marshal(st.Sources)
	if err != nil {
		return nil, err
	}
	confidences, err := json.Marshal(st.ConfidenceScores)
	if err != nil {
		return nil, err
	}
	flags := st.Flags
	if flags == nil {
		flags = []domain.QualityFlag{}
	}
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return nil, err
	}
	return []any{
		st.AssignmentID, domain.DateKey(st.Date), st.BatchID, st.ContainerID, st.DayNumber, st.AvgWeightG,
		st.Population, st.BiomassKg, st.LifecycleStage, st.StageOrder, nullable(st.TempC), st.MortalityCount,
		st.PlacementsCount, st.RemovalsCount, st.FeedKg, nullable(st.ObservedFCR), string(st.AnchorType),
		string(sources), string(confidences), string(flagsJSON), st.ScenarioID,
		st.ComputedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

// UpsertDailyState implements domain.StateStore. The read-compare-write runs
// in one transaction so each row is replaced atomically.
func (r *Repo) UpsertDailyState(ctx context.Context, st domain.DailyAssignmentState) (domain.UpsertOutcome, error) {
	st.Date = domain.Day(st.Date)
	args, err := stateArgs(st)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	existing, err := scanState(tx.QueryRowContext(ctx, r.rebind(`SELECT `+stateColumns+
		` FROM daily_assignment_state WHERE assignment_id = ? AND date = ?`), st.AssignmentID, domain.DateKey(st.Date)))
	var outcome domain.UpsertOutcome
	switch {
	case errors.Is(err, sql.ErrNoRows):
		outcome = domain.UpsertCreated
	case err != nil:
		return "", fmt.Errorf("load state: %w", err)
	case existing.SameContent(st):
		return domain.UpsertUnchanged, nil
	default:
		outcome = domain.UpsertUpdated
	}

	q := `INSERT INTO daily_assignment_state (` + stateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (assignment_id, date) DO UPDATE SET
			batch_id = excluded.batch_id, container_id = excluded.container_id,
			day_number = excluded.day_number, avg_weight_g = excluded.avg_weight_g,
			population = excluded.population, biomass_kg = excluded.biomass_kg,
			lifecycle_stage = excluded.lifecycle_stage, stage_order = excluded.stage_order,
			temp_c = excluded.temp_c, mortality_count = excluded.mortality_count,
			placements_count = excluded.placements_count, removals_count = excluded.removals_count,
			feed_kg = excluded.feed_kg, observed_fcr = excluded.observed_fcr,
			anchor_type = excluded.anchor_type, sources = excluded.sources,
			confidence_scores = excluded.confidence_scores, flags = excluded.flags,
			scenario_id = excluded.scenario_id, computed_at = excluded.computed_at`
	if _, err := tx.ExecContext(ctx, r.rebind(q), args...); err != nil {
		return "", fmt.Errorf("upsert state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	committed = true
	return outcome, nil
}

// GetDailyState implements domain.StateStore.
func (r *Repo) GetDailyState(ctx context.Context, assignmentID string, day time.Time) (domain.DailyAssignmentState, bool, error) {
	st, err := scanState(r.db.QueryRowContext(ctx, r.rebind(`SELECT `+stateColumns+
		` FROM daily_assignment_state WHERE assignment_id = ? AND date = ?`), assignmentID, domain.DateKey(day)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DailyAssignmentState{}, false, nil
	}
	if err != nil {
		return domain.DailyAssignmentState{}, false, fmt.Errorf("get state: %w", err)
	}
	return st, true, nil
}

// ListDailyStates implements domain.StateStore.
func (r *Repo) ListDailyStates(ctx context.Context, assignmentID string, from, to time.Time) ([]domain.DailyAssignmentState, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT `+stateColumns+
		` FROM daily_assignment_state WHERE assignment_id = ? AND date >= ? AND date < ? ORDER BY date`),
		assignmentID, domain.DateKey(from), domain.DateKey(to))
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.DailyAssignmentState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate states: %w", err)
	}
	return out, nil
}

// LatestDailyStateBefore implements domain.StateStore.
func (r *Repo) LatestDailyStateBefore(ctx context.Context, assignmentID string, day time.Time) (domain.DailyAssignmentState, bool, error) {
	st, err := scanState(r.db.QueryRowContext(ctx, r.rebind(`SELECT `+stateColumns+
		` FROM daily_assignment_state WHERE assignment_id = ? AND date < ? ORDER BY date DESC LIMIT 1`),
		assignmentID, domain.DateKey(day)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DailyAssignmentState{}, false, nil
	}
	if err != nil {
		return domain.DailyAssignmentState{}, false, fmt.Errorf("latest state: %w", err)
	}
	return st, true, nil
}

// HasTriggerEvent implements domain.TriggerLedger.
func (r *Repo) HasTriggerEvent(ctx context.Context, dedupKey string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT 1 FROM trigger_events WHERE dedup_key = ?`), dedupKey).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up trigger event: %w", err)
	}
	return true, nil
}

// RecordTriggerEvent implements domain.TriggerLedger.
func (r *Repo) RecordTriggerEvent(ctx context.Context, ev domain.TriggerEvent) (bool, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("encode trigger event: %w", err)
	}
	res, err := r.db.ExecContext(ctx, r.rebind(`INSERT INTO trigger_events (dedup_key, id, rule_id, batch_id, emitted_at, payload)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (dedup_key) DO NOTHING`),
		ev.DedupKey, ev.ID, ev.RuleID, ev.BatchID, ev.EmittedAt.UTC().Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return false, fmt.Errorf("insert trigger event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ListTriggerEvents implements domain.TriggerLedger.
func (r *Repo) ListTriggerEvents(ctx context.Context, batchID string) ([]domain.TriggerEvent, error) {
	q := `SELECT payload FROM trigger_events`
	var args []any
	if batchID != "" {
		q += ` WHERE batch_id = ?`
		args = append(args, batchID)
	}
	q += ` ORDER BY emitted_at, dedup_key`
	rows, err := r.db.QueryContext(ctx, r.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list trigger events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.TriggerEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan trigger event: %w", err)
		}
		var ev domain.TriggerEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode trigger event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
