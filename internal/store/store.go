// Package store persists prepared records, their entities and validation
// violations in SQLite for reporting.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tetraminz/slotner/internal/dataset"
	"github.com/tetraminz/slotner/internal/validate"
)

const createRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	command TEXT NOT NULL,
	source_path TEXT NOT NULL,
	started_utc TEXT NOT NULL,
	record_count INTEGER NOT NULL DEFAULT 0
)`

const createRecordsTableSQL = `
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	conv_id TEXT NOT NULL,
	grp TEXT NOT NULL DEFAULT '',
	full_text TEXT NOT NULL,
	slots_json TEXT NOT NULL,
	labels_json TEXT NOT NULL,
	entity_count INTEGER NOT NULL,
	violation_count INTEGER NOT NULL
)`

const createEntitiesTableSQL = `
CREATE TABLE IF NOT EXISTS entities (
	run_id TEXT NOT NULL,
	record_id INTEGER NOT NULL,
	conv_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	start_rune INTEGER NOT NULL,
	end_rune INTEGER NOT NULL,
	text TEXT NOT NULL
)`

const createViolationsTableSQL = `
CREATE TABLE IF NOT EXISTS violations (
	run_id TEXT NOT NULL,
	record_id INTEGER NOT NULL,
	conv_id TEXT NOT NULL,
	rule TEXT NOT NULL,
	message TEXT NOT NULL
)`

var createIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_records_run ON records(run_id)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_run ON entities(run_id)`,
	`CREATE INDEX IF NOT EXISTS idx_violations_run ON violations(run_id)`,
}

var requiredColumns = map[string][]string{
	"runs":       {"run_id", "command", "source_path", "started_utc", "record_count"},
	"records":    {"id", "run_id", "seq", "conv_id", "grp", "full_text", "slots_json", "labels_json", "entity_count", "violation_count"},
	"entities":   {"run_id", "record_id", "conv_id", "entity_type", "start_rune", "end_rune", "text"},
	"violations": {"run_id", "record_id", "conv_id", "rule", "message"},
}

// Store is a SQLite database of import runs.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path and checks its schema.
func Open(path string) (*Store, error) {
	return open(path, false)
}

// OpenReset opens the database at path and drops all existing data,
// including tables whose schema is no longer compatible.
func OpenReset(path string) (*Store, error) {
	return open(path, true)
}

func open(path string, reset bool) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if reset {
		err = s.Reset()
	} else {
		err = ensureSchema(db)
	}
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func ensureSchema(db *sql.DB) error {
	for _, stmt := range []string{createRunsTableSQL, createRecordsTableSQL, createEntitiesTableSQL, createViolationsTableSQL} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	tables := make([]string, 0, len(requiredColumns))
	for table := range requiredColumns {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		missing, err := missingTableColumns(db, table, requiredColumns[table])
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf(
				"incompatible %s schema, missing columns: %s; run `slotner migrate --reset`",
				table, strings.Join(missing, ", "),
			)
		}
	}

	for _, stmt := range createIndexesSQL {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func missingTableColumns(db *sql.DB, tableName string, required []string) ([]string, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, tableName))
	if err != nil {
		return nil, fmt.Errorf("inspect %s schema: %w", tableName, err)
	}
	defer rows.Close()

	existing := map[string]struct{}{}
	for rows.Next() {
		var cid int
		var name string
		var colType string
		var notNull int
		var defaultValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, fmt.Errorf("scan %s schema: %w", tableName, err)
		}
		existing[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s schema: %w", tableName, err)
	}

	var missing []string
	for _, col := range required {
		if _, ok := existing[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing, nil
}

// Reset drops every table and recreates the schema.
func (s *Store) Reset() error {
	for _, table := range []string{"violations", "entities", "records", "runs"} {
		if _, err := s.db.Exec(`DROP TABLE IF EXISTS ` + table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return ensureSchema(s.db)
}

// Run describes one import.
type Run struct {
	ID          string
	Command     string
	SourcePath  string
	StartedUTC  string
	RecordCount int
}

// Import stores records and their violations as a new run and returns it.
// Violations are matched to records by conv_id in input order.
func (s *Store) Import(ctx context.Context, command, sourcePath string, records []dataset.Record, violations []validate.Violation) (Run, error) {
	run := Run{
		ID:          uuid.NewString(),
		Command:     command,
		SourcePath:  sourcePath,
		StartedUTC:  s.now().UTC().Format(time.RFC3339),
		RecordCount: len(records),
	}

	byRecord := make(map[string][]validate.Violation)
	for _, v := range violations {
		byRecord[v.RecordID] = append(byRecord[v.RecordID], v)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, command, source_path, started_utc, record_count) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Command, run.SourcePath, run.StartedUTC, run.RecordCount,
	); err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}

	recordStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (run_id, seq, conv_id, grp, full_text, slots_json, labels_json, entity_count, violation_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Run{}, fmt.Errorf("prepare record insert: %w", err)
	}
	defer recordStmt.Close()

	entityStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (run_id, record_id, conv_id, entity_type, start_rune, end_rune, text)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Run{}, fmt.Errorf("prepare entity insert: %w", err)
	}
	defer entityStmt.Close()

	violationStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO violations (run_id, record_id, conv_id, rule, message)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return Run{}, fmt.Errorf("prepare violation insert: %w", err)
	}
	defer violationStmt.Close()

	seen := make(map[string]bool)
	for i, rec := range records {
		slotsJSON, err := json.Marshal(rec.Slots)
		if err != nil {
			return Run{}, fmt.Errorf("encode slots of %q: %w", rec.ID, err)
		}
		labelsJSON, err := json.Marshal(rec.Labels)
		if err != nil {
			return Run{}, fmt.Errorf("encode labels of %q: %w", rec.ID, err)
		}

		// Duplicate conv_ids get their violations attached once.
		var recViolations []validate.Violation
		if !seen[rec.ID] {
			recViolations = byRecord[rec.ID]
			seen[rec.ID] = true
		}

		res, err := recordStmt.ExecContext(ctx,
			run.ID, i+1, rec.ID, rec.Group, rec.Text,
			string(slotsJSON), string(labelsJSON),
			len(rec.Entities), len(recViolations),
		)
		if err != nil {
			return Run{}, fmt.Errorf("insert record %q: %w", rec.ID, err)
		}
		recordID, err := res.LastInsertId()
		if err != nil {
			return Run{}, fmt.Errorf("record id of %q: %w", rec.ID, err)
		}

		for _, e := range rec.Entities {
			if _, err := entityStmt.ExecContext(ctx, run.ID, recordID, rec.ID, string(e.Type), e.Start, e.End, e.Text); err != nil {
				return Run{}, fmt.Errorf("insert entity of %q: %w", rec.ID, err)
			}
		}
		for _, v := range recViolations {
			if _, err := violationStmt.ExecContext(ctx, run.ID, recordID, rec.ID, string(v.Rule), v.Message); err != nil {
				return Run{}, fmt.Errorf("insert violation of %q: %w", rec.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("commit transaction: %w", err)
	}
	return run, nil
}

// Runs lists runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, command, source_path, started_utc, record_count
		FROM runs
		ORDER BY started_utc DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Command, &r.SourcePath, &r.StartedUTC, &r.RecordCount); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return out, nil
}
