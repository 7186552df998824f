// Package sqlite provides the durable run store on modernc.org/sqlite.
//
// A run is spread over four tables: the run row carries the version used for
// compare-and-swap, signups holds every record ever created, and assignments
// and waitlist hold the current board. Commit rewrites the board inside one
// transaction guarded by UPDATE ... WHERE version = ?.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/teamrun/internal/adapters/repository"
	"github.com/okian/teamrun/internal/domain/model"
	"github.com/okian/teamrun/pkg/metrics"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schemaSQL string

// Store is the SQLite implementation of repository.Store.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	// SQLite has a single writer; one connection avoids SQLITE_BUSY between
	// our own transactions.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// DB exposes the pool for stats collection.
func (s *Store) DB() *sql.DB { return s.sqlDB }

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Create implements repository.Store.
func (s *Store) Create(ctx context.Context, st model.RunState) error {
	const op = "repository.sqlite.create"
	rules, err := json.Marshal(st.Rules)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return model.Wrap(op, model.ErrUnavailable, fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO runs (run_id, status, rules, version, next_seq, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, st.RunID, st.Status.String(), string(rules), st.Version, st.NextSeq,
		st.CreatedAt.UTC().UnixMilli(), st.UpdatedAt.UTC().UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return model.Wrap(op, model.ErrRunExists, fmt.Errorf("%w: %s", repository.ErrDuplicateRun, st.RunID))
		}
		return fmt.Errorf("insert run: %w", err)
	}
	if err := upsertSignups(ctx, tx, st); err != nil {
		return err
	}
	if err := writeBoard(ctx, tx, st); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}
	return nil
}

// Load implements repository.Store.
func (s *Store) Load(ctx context.Context, runID string) (model.RunState, error) {
	const op = "repository.sqlite.load"
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryLoadLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return model.RunState{}, model.Wrap(op, model.ErrUnavailable, fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	var (
		st                   model.RunState
		status, rules        string
		createdAt, updatedAt int64
	)
	err = tx.QueryRowContext(ctx, `
SELECT run_id, status, rules, version, next_seq, created_at, updated_at
FROM runs WHERE run_id = ?
`, runID).Scan(&st.RunID, &status, &rules, &st.Version, &st.NextSeq, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.RunState{}, model.Wrap(op, model.ErrNotFound, fmt.Errorf("%w: %s", repository.ErrRunNotFound, runID))
	}
	if err != nil {
		return model.RunState{}, fmt.Errorf("load run: %w", err)
	}
	if st.Status, err = model.ParseRunStatus(status); err != nil {
		return model.RunState{}, err
	}
	if err := json.Unmarshal([]byte(rules), &st.Rules); err != nil {
		return model.RunState{}, fmt.Errorf("decode rules: %w", err)
	}
	st.CreatedAt = time.UnixMilli(createdAt).UTC()
	st.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	if st.Records, err = loadSignups(ctx, tx, runID); err != nil {
		return model.RunState{}, err
	}
	st.Assignment = model.NewAssignment(len(st.Rules))
	if err := loadAssignments(ctx, tx, runID, st.Assignment); err != nil {
		return model.RunState{}, err
	}
	if st.Waitlist, err = loadWaitlist(ctx, tx, runID); err != nil {
		return model.RunState{}, err
	}
	return st, nil
}

// Commit implements repository.Store.
func (s *Store) Commit(ctx context.Context, next model.RunState) error {
	const op = "repository.sqlite.commit"
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryCommitLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	rules, err := json.Marshal(next.Rules)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return model.Wrap(op, model.ErrUnavailable, fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE runs
SET status = ?, rules = ?, version = ?, next_seq = ?, updated_at = ?
WHERE run_id = ? AND version = ?
`, next.Status.String(), string(rules), next.Version, next.NextSeq, next.UpdatedAt.UTC().UnixMilli(),
		next.RunID, next.Version-1)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		var cur int64
		err := tx.QueryRowContext(ctx, `SELECT version FROM runs WHERE run_id = ?`, next.RunID).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return model.Wrap(op, model.ErrNotFound, fmt.Errorf("%w: %s", repository.ErrRunNotFound, next.RunID))
		}
		if err != nil {
			return fmt.Errorf("read version: %w", err)
		}
		return model.Wrap(op, model.ErrConcurrencyConflict,
			fmt.Errorf("%w: run %s is at version %d, commit carries %d", repository.ErrStaleVersion, next.RunID, cur, next.Version))
	}

	if err := upsertSignups(ctx, tx, next); err != nil {
		return err
	}
	if err := writeBoard(ctx, tx, next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// Count implements repository.Store.
func (s *Store) Count(ctx context.Context) int {
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0
	}
	return n
}

func upsertSignups(ctx context.Context, tx *sql.Tx, st model.RunState) error {
	const op = "repository.sqlite.signups"
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO signups (
	run_id, record_id, seq, submitter_id, beneficiary_id, display_name, character_name,
	class, is_rich, pinned_slot, presence, created_at, cancelled_at, cancelled_by
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id, record_id) DO UPDATE SET
	pinned_slot = excluded.pinned_slot,
	presence = excluded.presence,
	cancelled_at = excluded.cancelled_at,
	cancelled_by = excluded.cancelled_by
`)
	if err != nil {
		return fmt.Errorf("prepare signup upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range st.Records {
		var pinned, cancelled sql.NullInt64
		if r.PinnedSlot != nil {
			pinned = sql.NullInt64{Int64: int64(*r.PinnedSlot), Valid: true}
		}
		if r.CancelledAt != nil {
			cancelled = sql.NullInt64{Int64: r.CancelledAt.UTC().UnixMilli(), Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			st.RunID, r.ID, r.Seq, r.SubmitterID, r.BeneficiaryID, r.DisplayName, r.CharacterName,
			r.Class.String(), r.IsRich, pinned, r.Presence.String(), r.CreatedAt.UTC().UnixMilli(), cancelled, r.CancelledBy)
		if err != nil {
			if isUniqueViolation(err) {
				return model.Wrap(op, model.ErrDuplicateSignup, err)
			}
			return fmt.Errorf("upsert signup %s: %w", r.ID, err)
		}
	}
	return nil
}

func writeBoard(ctx context.Context, tx *sql.Tx, st model.RunState) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE run_id = ?`, st.RunID); err != nil {
		return fmt.Errorf("clear assignments: %w", err)
	}
	for slot, id := range st.Assignment {
		if id == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO assignments (run_id, slot, record_id) VALUES (?, ?, ?)`,
			st.RunID, slot, id); err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM waitlist WHERE run_id = ?`, st.RunID); err != nil {
		return fmt.Errorf("clear waitlist: %w", err)
	}
	for pos, id := range st.Waitlist {
		if _, err := tx.ExecContext(ctx, `INSERT INTO waitlist (run_id, position, record_id) VALUES (?, ?, ?)`,
			st.RunID, pos, id); err != nil {
			return fmt.Errorf("insert waitlist: %w", err)
		}
	}
	return nil
}

func loadSignups(ctx context.Context, tx *sql.Tx, runID string) ([]model.SignupRecord, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT record_id, seq, submitter_id, beneficiary_id, display_name, character_name,
	class, is_rich, pinned_slot, presence, created_at, cancelled_at, cancelled_by
FROM signups
WHERE run_id = ?
ORDER BY seq
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list signups: %w", err)
	}
	defer rows.Close()

	var out []model.SignupRecord
	for rows.Next() {
		var (
			r                   model.SignupRecord
			class, presence     string
			pinned, cancelledAt sql.NullInt64
			createdAt           int64
		)
		if err := rows.Scan(&r.ID, &r.Seq, &r.SubmitterID, &r.BeneficiaryID, &r.DisplayName, &r.CharacterName,
			&class, &r.IsRich, &pinned, &presence, &createdAt, &cancelledAt, &r.CancelledBy); err != nil {
			return nil, fmt.Errorf("scan signup: %w", err)
		}
		if r.Class, err = model.ParseClassTag(class); err != nil {
			return nil, err
		}
		if r.Presence, err = model.ParsePresence(presence); err != nil {
			return nil, err
		}
		if pinned.Valid {
			r.PinnedSlot = model.SlotRef(int(pinned.Int64))
		}
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		if cancelledAt.Valid {
			at := time.UnixMilli(cancelledAt.Int64).UTC()
			r.CancelledAt = &at
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signups: %w", err)
	}
	return out, nil
}

func loadAssignments(ctx context.Context, tx *sql.Tx, runID string, into model.Assignment) error {
	rows, err := tx.QueryContext(ctx, `SELECT slot, record_id FROM assignments WHERE run_id = ? ORDER BY slot`, runID)
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			slot int
			id   string
		)
		if err := rows.Scan(&slot, &id); err != nil {
			return fmt.Errorf("scan assignment: %w", err)
		}
		if slot < 0 || slot >= len(into) {
			return fmt.Errorf("assignment for slot %d outside %d slots", slot, len(into))
		}
		into[slot] = id
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate assignments: %w", err)
	}
	return nil
}

func loadWaitlist(ctx context.Context, tx *sql.Tx, runID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT record_id FROM waitlist WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan waitlist: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate waitlist: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ repository.Store = (*Store)(nil)
