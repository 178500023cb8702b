// Package journal keeps a SQLite post-mortem record of runs: their outcome,
// the program that ran, its sink output and the complete fault log.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/execue/journal/migrations"
	"github.com/chazu/execue/pkg/bytecode"
	"github.com/chazu/execue/vm"
)

var log = commonlog.GetLogger("execue.journal")

// ErrNotFound is returned when no run has the requested id.
var ErrNotFound = errors.New("run not found")

// Run is one journaled execution.
type Run struct {
	ID        string
	Name      string // Program name, usually its source file
	State     vm.State
	Steps     int
	Fallbacks int
	Terminal  string // Terminal fault text; empty when the run halted
	Program   *bytecode.Module
	Output    []string // Sink lines
	Faults    []vm.FaultRecord
	CreatedAt time.Time
}

// FromResult builds a journal entry from a finished run. A new id is
// generated when id is empty.
func FromResult(id, name string, program *bytecode.Module, res vm.RunResult, output []string) Run {
	if id == "" {
		id = uuid.NewString()
	}
	r := Run{
		ID:        id,
		Name:      name,
		State:     res.State,
		Steps:     res.Steps,
		Fallbacks: res.Fallbacks,
		Program:   program,
		Output:    output,
		Faults:    res.Faults,
	}
	if res.Terminal != nil {
		r.Terminal = res.Terminal.Error()
	}
	return r
}

// Store provides SQLite-backed run persistence.
type Store struct {
	db *sql.DB
}

// Open opens a journal database and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun persists a run and its fault log in one transaction.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("run id is required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	var program []byte
	if r.Program != nil {
		var err error
		if program, err = bytecode.MarshalModule(r.Program); err != nil {
			return fmt.Errorf("encode program: %w", err)
		}
	}
	output, err := bytecode.Marshal(r.Output)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO runs (id, name, state, steps, fallbacks, terminal, program, output, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		r.ID, r.Name, r.State.String(), r.Steps, r.Fallbacks, r.Terminal,
		program, output, r.CreatedAt.UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	for i, f := range r.Faults {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO faults (run_id, seq, kind, message, chain, instruction_index)
VALUES (?, ?, ?, ?, ?, ?)
`, r.ID, i, f.Kind.String(), f.Message, f.Chain, f.InstructionIndex); err != nil {
			return fmt.Errorf("record fault %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	log.Debugf("recorded run %s (%s, %d fault(s))", r.ID, r.State, len(r.Faults))
	return nil
}

// Run loads a run with its program, output and fault log.
func (s *Store) Run(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, state, steps, fallbacks, terminal, program, output, created_at
FROM runs WHERE id = ?
`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}
	if r.Faults, err = s.Faults(ctx, id); err != nil {
		return Run{}, err
	}
	return r, nil
}

// Faults returns a run's fault log in recording order.
func (s *Store) Faults(ctx context.Context, id string) ([]vm.FaultRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT kind, message, chain, instruction_index
FROM faults WHERE run_id = ?
ORDER BY seq
`, id)
	if err != nil {
		return nil, fmt.Errorf("list faults: %w", err)
	}
	defer rows.Close()

	var faults []vm.FaultRecord
	for rows.Next() {
		var f vm.FaultRecord
		var kind string
		if err := rows.Scan(&kind, &f.Message, &f.Chain, &f.InstructionIndex); err != nil {
			return nil, fmt.Errorf("scan fault: %w", err)
		}
		k, ok := vm.ParseFaultKind(kind)
		if !ok {
			return nil, fmt.Errorf("run %s: unknown fault kind %q", id, kind)
		}
		f.Kind = k
		faults = append(faults, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faults: %w", err)
	}
	return faults, nil
}

// RecentRuns lists newest-first runs without their programs or fault logs.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, state, steps, fallbacks, terminal, NULL, output, created_at
FROM runs
ORDER BY created_at DESC, rowid DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var state string
	var program, output []byte
	var createdAt int64
	if err := sc.Scan(&r.ID, &r.Name, &state, &r.Steps, &r.Fallbacks, &r.Terminal, &program, &output, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	st, ok := vm.ParseState(state)
	if !ok {
		return Run{}, fmt.Errorf("run %s: unknown state %q", r.ID, state)
	}
	r.State = st
	r.CreatedAt = time.UnixMilli(createdAt).UTC()

	if len(program) > 0 {
		m, err := bytecode.UnmarshalModule(program)
		if err != nil {
			return Run{}, fmt.Errorf("run %s: %w", r.ID, err)
		}
		r.Program = m
	}
	if len(output) > 0 {
		if err := bytecode.Unmarshal(output, &r.Output); err != nil {
			return Run{}, fmt.Errorf("run %s: decode output: %w", r.ID, err)
		}
	}
	return r, nil
}
