// Package journal keeps a SQLite record of every bring-up: one row per
// boot, identified by a random UUID, and one row per startup stage with
// its outcome. It is read after the fact to tell why an agent that
// exited early did so.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

//go:embed schema.sql
var schemaSQL string

// Outcome is the result of one stage.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeFailed   Outcome = "failed"
	OutcomeAbsorbed Outcome = "absorbed"
)

// Recorder receives bring-up events.
type Recorder interface {
	BootID() string
	Stage(ctx context.Context, stage string, outcome Outcome, detail string) error
	SetConfigDigest(ctx context.Context, digest string) error
	Finish(ctx context.Context, exitCode int) error
	Close() error
}

// Boot is one recorded bring-up.
type Boot struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	Finished     bool
	ExitCode     int
	ConfigDigest string
}

// Entry is one recorded stage.
type Entry struct {
	Seq     int
	Stage   string
	Outcome Outcome
	Detail  string
	At      time.Time
}

// Option configures Open.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the SQLite journal. Opening it starts a new boot.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
	bootID string

	mu  sync.Mutex
	seq int

	stmtInsertBoot  *sql.Stmt
	stmtInsertStage *sql.Stmt
	stmtSetDigest   *sql.Stmt
	stmtFinishBoot  *sql.Stmt
	stmtListBoots   *sql.Stmt
	stmtListStages  *sql.Stmt
}

// Open opens the journal at path, creating it if needed, and records
// the start of a new boot.
func Open(ctx context.Context, path string, logger *slog.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	return open(ctx, dsn(path, [][2]string{{"journal_mode", "WAL"}, {"foreign_keys", "1"}}), path, logger, true, opts)
}

// OpenHistory opens an existing journal for reading Boots and Entries
// without starting a boot. The returned Store has no BootID.
func OpenHistory(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return open(ctx, dsn(path, [][2]string{{"foreign_keys", "1"}}), path, logger, false, nil)
}

// OpenInMemory opens a journal that lives for the life of the Store.
func OpenInMemory(ctx context.Context, logger *slog.Logger, opts ...Option) (*Store, error) {
	return open(ctx, dsn(":memory:", [][2]string{{"foreign_keys", "1"}}), ":memory:", logger, true, opts)
}

func open(ctx context.Context, source, name string, logger *slog.Logger, startBoot bool, opts []Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// A single connection keeps an in-memory database alive and
	// serialises writers.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		logger: logger.With("component", "journal", "db", name),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	if err := s.prepare(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	if !startBoot {
		return s, nil
	}

	s.bootID = uuid.NewString()
	if _, err := s.stmtInsertBoot.ExecContext(ctx, s.bootID, s.timestamp()); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to record boot: %w", err)
	}

	s.logger.Info("boot journal opened", "boot_id", s.bootID)
	return s, nil
}

func (s *Store) prepare(ctx context.Context) error {
	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.stmtInsertBoot, `INSERT INTO boots (id, started_at) VALUES (?, ?)`},
		{&s.stmtInsertStage, `INSERT INTO stages (boot_id, seq, stage, outcome, detail, at) VALUES (?, ?, ?, ?, ?, ?)`},
		{&s.stmtSetDigest, `UPDATE boots SET config_digest = ? WHERE id = ?`},
		{&s.stmtFinishBoot, `UPDATE boots SET finished_at = ?, exit_code = ? WHERE id = ?`},
		{&s.stmtListBoots, `SELECT id, started_at, finished_at, exit_code, config_digest FROM boots ORDER BY started_at, id`},
		{&s.stmtListStages, `SELECT seq, stage, outcome, detail, at FROM stages WHERE boot_id = ? ORDER BY seq`},
	}
	for _, st := range stmts {
		stmt, err := s.db.PrepareContext(ctx, st.query)
		if err != nil {
			return fmt.Errorf("prepare %q: %w", st.query, err)
		}
		*st.dst = stmt
	}
	return nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// BootID returns the id of the boot this Store records.
func (s *Store) BootID() string { return s.bootID }

// Stage records the outcome of a stage.
func (s *Store) Stage(ctx context.Context, stage string, outcome Outcome, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if _, err := s.stmtInsertStage.ExecContext(ctx, s.bootID, s.seq, stage, string(outcome), detail, s.timestamp()); err != nil {
		return fmt.Errorf("record stage %s: %w", stage, err)
	}
	return nil
}

// SetConfigDigest records the digest of the switchd config file.
func (s *Store) SetConfigDigest(ctx context.Context, digest string) error {
	if _, err := s.stmtSetDigest.ExecContext(ctx, digest, s.bootID); err != nil {
		return fmt.Errorf("record config digest: %w", err)
	}
	return nil
}

// Finish records the process exit code.
func (s *Store) Finish(ctx context.Context, exitCode int) error {
	if _, err := s.stmtFinishBoot.ExecContext(ctx, s.timestamp(), exitCode, s.bootID); err != nil {
		return fmt.Errorf("record boot finish: %w", err)
	}
	return nil
}

// Boots lists every recorded boot, oldest first.
func (s *Store) Boots(ctx context.Context) ([]Boot, error) {
	rows, err := s.stmtListBoots.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Boot
	for rows.Next() {
		var (
			b        Boot
			started  string
			finished sql.NullString
			code     sql.NullInt64
		)
		if err := rows.Scan(&b.ID, &started, &finished, &code, &b.ConfigDigest); err != nil {
			return nil, err
		}
		if b.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("boot %s: %w", b.ID, err)
		}
		if finished.Valid {
			if b.FinishedAt, err = time.Parse(time.RFC3339Nano, finished.String); err != nil {
				return nil, fmt.Errorf("boot %s: %w", b.ID, err)
			}
			b.Finished = true
			b.ExitCode = int(code.Int64)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Entries lists the stages of a boot in order.
func (s *Store) Entries(ctx context.Context, bootID string) ([]Entry, error) {
	rows, err := s.stmtListStages.QueryContext(ctx, bootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			outcome string
			at      string
		)
		if err := rows.Scan(&e.Seq, &e.Stage, &outcome, &e.Detail, &at); err != nil {
			return nil, err
		}
		e.Outcome = Outcome(outcome)
		if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("stage %d: %w", e.Seq, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the statements and the database.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtInsertBoot,
		s.stmtInsertStage,
		s.stmtSetDigest,
		s.stmtFinishBoot,
		s.stmtListBoots,
		s.stmtListStages,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// Discard is a Recorder that keeps nothing. It is used when no journal
// is configured or the journal cannot be opened.
type Discard struct {
	id string
}

// NewDiscard returns a Discard recorder with a fresh boot id.
func NewDiscard() *Discard { return &Discard{id: uuid.NewString()} }

func (d *Discard) BootID() string { return d.id }

func (d *Discard) Stage(context.Context, string, Outcome, string) error { return nil }

func (d *Discard) SetConfigDigest(context.Context, string) error { return nil }

func (d *Discard) Finish(context.Context, int) error { return nil }

func (d *Discard) Close() error { return nil }

var (
	_ Recorder = (*Store)(nil)
	_ Recorder = (*Discard)(nil)
)
