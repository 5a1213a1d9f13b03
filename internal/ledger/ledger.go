// Package ledger appends finalized runs to a SQLite file.
//
// The ledger is write-only from the engine's point of view: it is an audit
// trail of extracted best paths, never a source of run state. A run deleted
// from memory stays in the ledger, and a restarted process starts with an
// empty tree regardless of what the ledger holds.
//
// Every row carries a content hash over the run, the Merkle root of its
// path steps and the previous row's hash, so Verify detects edits made
// behind the append-only triggers.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"

	"github.com/ashita-ai/shiko/internal/integrity"
	"github.com/ashita-ai/shiko/internal/service/tree"
	"github.com/ashita-ai/shiko/internal/telemetry"
	"github.com/ashita-ai/shiko/migrations"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("ledger: closed")

// ErrTampered is returned by Verify when a stored hash does not match the
// recomputed one.
var ErrTampered = errors.New("ledger: integrity check failed")

// Ledger is a tree.FinalizeHook backed by SQLite.
type Ledger struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	tracer trace.Tracer
	closed atomic.Bool
}

var _ tree.FinalizeHook = (*Ledger)(nil)

// Open creates or opens the ledger at path and applies pending migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("ledger: create directory: %w", err)
		}
	}

	// WAL lets /health ping while a hook is writing. One writer connection
	// avoids SQLITE_BUSY between concurrent hooks.
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	l := &Ledger{
		db:     db,
		path:   path,
		logger: logger,
		tracer: telemetry.Tracer("shiko/ledger"),
	}
	if err := l.migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("ledger opened", "path", path)
	return l, nil
}

// Path is the database file.
func (l *Ledger) Path() string { return l.path }

// Ping checks that the database is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close releases the database handle. Hooks that fire afterwards get
// ErrClosed.
func (l *Ledger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.db.Close()
}

// OnRunFinalized appends fr and its reasoning chain in one transaction.
func (l *Ledger) OnRunFinalized(ctx context.Context, fr tree.FinalizedRun) (err error) {
	ctx, span := l.tracer.Start(ctx, "ledger.OnRunFinalized",
		trace.WithAttributes(
			attribute.String("shiko.run_id", fr.RunID.String()),
			attribute.Int("shiko.path_length", fr.Path.PathLength),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if l.closed.Load() {
		return ErrClosed
	}

	pathJSON, err := json.Marshal(fr.Path)
	if err != nil {
		return fmt.Errorf("ledger: encode path: %w", err)
	}

	finalizedAt := fr.FinalizedAt.UTC().Format(time.RFC3339Nano)
	rec := integrity.Record{
		RunID:         fr.RunID,
		TaskPrompt:    fr.TaskPrompt,
		Mode:          string(fr.Mode),
		Level:         fr.Level,
		NodesExplored: fr.Path.NodesExplored,
		FinalAnswer:   fr.Path.FinalAnswer,
		Confidence:    fr.Path.Confidence,
		FinalizedAt:   fr.FinalizedAt.UTC(),
	}
	steps := make([]integrity.Step, len(fr.Path.Chain))
	for i, s := range fr.Path.Chain {
		steps[i] = integrity.Step{NodeID: s.NodeID, Depth: s.Depth, Thought: s.Thought, Score: s.Score}
	}
	pathRoot := integrity.PathRoot(steps)

	var (
		seq         int64
		contentHash string
	)
	err = withRetry(ctx, writeRetries, writeBaseDelay, func() error {
		var txErr error
		seq, contentHash, txErr = l.appendRun(ctx, fr, rec, pathRoot, string(pathJSON), finalizedAt)
		return txErr
	})
	if err != nil {
		return err
	}

	l.logger.Debug("ledger: run recorded", "run_id", fr.RunID, "seq", seq,
		"steps", len(fr.Path.Chain), "content_hash", contentHash)
	return nil
}

// appendRun writes one row and its steps. The pool holds one connection, so
// the transaction serializes hooks and the chain head cannot move between
// the read and the insert.
func (l *Ledger) appendRun(
	ctx context.Context, fr tree.FinalizedRun, rec integrity.Record, pathRoot, pathJSON, finalizedAt string,
) (seq int64, contentHash string, err error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, "", fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	prevHash, err := lastHash(ctx, tx)
	if err != nil {
		return 0, "", fmt.Errorf("ledger: read chain head: %w", err)
	}
	contentHash = integrity.ComputeRunHash(rec, pathRoot, prevHash)

	res, err := tx.ExecContext(ctx, `
		INSERT INTO finalized_runs (
			run_id, task_prompt, mode, exploration_level, node_budget,
			nodes_explored, iterations, final_answer, confidence,
			is_terminal, path_json, finalized_at,
			path_root, prev_hash, content_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fr.RunID.String(), fr.TaskPrompt, string(fr.Mode), nullString(fr.Level), fr.NodeBudget,
		fr.Path.NodesExplored, fr.Iterations, fr.Path.FinalAnswer, fr.Path.Confidence,
		fr.Path.IsTerminal, pathJSON, finalizedAt,
		pathRoot, prevHash, contentHash,
	)
	if err != nil {
		return 0, "", fmt.Errorf("ledger: insert run %s: %w", fr.RunID, err)
	}
	seq, err = res.LastInsertId()
	if err != nil {
		return 0, "", fmt.Errorf("ledger: insert run %s: %w", fr.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO path_steps (finalized_seq, position, node_id, depth, thought, score)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, "", fmt.Errorf("ledger: prepare steps: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, step := range fr.Path.Chain {
		if _, err = stmt.ExecContext(ctx, seq, i, step.NodeID.String(), step.Depth, step.Thought, step.Score); err != nil {
			return 0, "", fmt.Errorf("ledger: insert step %d of run %s: %w", i, fr.RunID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, "", fmt.Errorf("ledger: commit run %s: %w", fr.RunID, err)
	}
	return seq, contentHash, nil
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// lastHash is the content hash of the newest row, or "" for an empty ledger.
func lastHash(ctx context.Context, q rowQueryer) (string, error) {
	var h string
	err := q.QueryRowContext(ctx,
		`SELECT content_hash FROM finalized_runs ORDER BY seq DESC LIMIT 1`).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return h, err
}

// Verify walks the ledger in append order and recomputes every path root and
// content hash. It returns the number of rows checked. A mismatch wraps
// ErrTampered and names the first offending row.
func (l *Ledger) Verify(ctx context.Context) (n int, err error) {
	ctx, span := l.tracer.Start(ctx, "ledger.Verify")
	defer func() {
		span.SetAttributes(attribute.Int("shiko.rows_verified", n))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if l.closed.Load() {
		return 0, ErrClosed
	}

	type row struct {
		seq                        int64
		rec                        integrity.Record
		pathRoot, prevHash, stored string
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, run_id, task_prompt, mode, exploration_level, nodes_explored,
		       final_answer, confidence, finalized_at, path_root, prev_hash, content_hash
		FROM finalized_runs ORDER BY seq`)
	if err != nil {
		return 0, fmt.Errorf("ledger: verify: %w", err)
	}
	var all []row
	for rows.Next() {
		var (
			r         row
			runID, at string
			level     sql.NullString
		)
		if err := rows.Scan(&r.seq, &runID, &r.rec.TaskPrompt, &r.rec.Mode, &level,
			&r.rec.NodesExplored, &r.rec.FinalAnswer, &r.rec.Confidence, &at,
			&r.pathRoot, &r.prevHash, &r.stored); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("ledger: verify scan: %w", err)
		}
		if r.rec.RunID, err = uuid.Parse(runID); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("ledger: verify row %d: run id: %w", r.seq, err)
		}
		if r.rec.FinalizedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("ledger: verify row %d: finalized_at: %w", r.seq, err)
		}
		r.rec.Level = level.String
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("ledger: verify: %w", err)
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("ledger: verify: %w", err)
	}

	prev := ""
	for _, r := range all {
		steps, err := l.loadSteps(ctx, r.seq)
		if err != nil {
			return n, err
		}
		root := integrity.PathRoot(steps)
		switch {
		case root != r.pathRoot:
			return n, fmt.Errorf("%w: row %d (run %s): path steps changed", ErrTampered, r.seq, r.rec.RunID)
		case r.prevHash != prev:
			return n, fmt.Errorf("%w: row %d (run %s): chain broken", ErrTampered, r.seq, r.rec.RunID)
		case !integrity.VerifyRunHash(r.stored, r.rec, root, prev):
			return n, fmt.Errorf("%w: row %d (run %s): content hash mismatch", ErrTampered, r.seq, r.rec.RunID)
		}
		prev = r.stored
		n++
	}
	return n, nil
}

func (l *Ledger) loadSteps(ctx context.Context, seq int64) ([]integrity.Step, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT node_id, depth, thought, score FROM path_steps
		WHERE finalized_seq = ? ORDER BY position`, seq)
	if err != nil {
		return nil, fmt.Errorf("ledger: load steps of row %d: %w", seq, err)
	}
	defer func() { _ = rows.Close() }()

	var steps []integrity.Step
	for rows.Next() {
		var (
			s      integrity.Step
			nodeID string
		)
		if err := rows.Scan(&nodeID, &s.Depth, &s.Thought, &s.Score); err != nil {
			return nil, fmt.Errorf("ledger: scan step of row %d: %w", seq, err)
		}
		if s.NodeID, err = uuid.Parse(nodeID); err != nil {
			return nil, fmt.Errorf("ledger: step node id of row %d: %w", seq, err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// migrate executes unapplied SQL migration files in name order, tracking
// them in schema_migrations so each runs at most once.
func (l *Ledger) migrate(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)
	`); err != nil {
		return fmt.Errorf("ledger: create schema_migrations: %w", err)
	}

	applied, err := l.loadAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("ledger: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()
		if applied[name] {
			l.logger.Debug("migration already applied, skipping", "file", name)
			continue
		}

		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("ledger: read migration %s: %w", name, err)
		}

		l.logger.Info("running migration", "file", name)
		if _, err := l.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("ledger: execute migration %s: %w", name, err)
		}
		if _, err := l.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO schema_migrations (version) VALUES (?)`, name,
		); err != nil {
			return fmt.Errorf("ledger: record migration %s: %w", name, err)
		}
	}
	return nil
}

func (l *Ledger) loadAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
