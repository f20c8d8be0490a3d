// Package sqlite implements rlm.TraceStore using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/rlm"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and row counts. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements rlm.TraceStore backed by a local SQLite file.
// Executions, usage and final answers are stored as JSON text.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ rlm.TraceStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(slog.DiscardHandler)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors from concurrent sessions writing their traces.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			context_kind TEXT NOT NULL,
			context_size INTEGER NOT NULL,
			answer TEXT NOT NULL DEFAULT '',
			iterations INTEGER NOT NULL DEFAULT 0,
			forced INTEGER NOT NULL DEFAULT 0,
			usage TEXT,
			sub_usage TEXT,
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS sessions_started_idx ON sessions(started_at)`,
		`CREATE TABLE IF NOT EXISTS iterations (
			session_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			messages INTEGER NOT NULL,
			response TEXT NOT NULL,
			executions TEXT,
			final TEXT,
			final_error TEXT NOT NULL DEFAULT '',
			usage TEXT,
			duration_ms INTEGER NOT NULL,
			PRIMARY KEY (session_id, round)
		)`,
	}
	for _, ddl := range stmts {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	s.logger.Debug("sqlite: init ok", "duration", time.Since(start))
	return nil
}

// StartSession inserts the session row.
func (s *Store) StartSession(ctx context.Context, sess rlm.Session) error {
	return s.upsertSession(ctx, "start session", sess)
}

// FinishSession writes the final state of a session, inserting it when
// StartSession never ran.
func (s *Store) FinishSession(ctx context.Context, sess rlm.Session) error {
	return s.upsertSession(ctx, "finish session", sess)
}

func (s *Store) upsertSession(ctx context.Context, op string, sess rlm.Session) error {
	start := time.Now()
	s.logger.Debug("sqlite: "+op, "id", sess.ID)

	usage, _ := json.Marshal(sess.Usage)
	subUsage, _ := json.Marshal(sess.SubUsage)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, query, context_kind, context_size, answer, iterations, forced,
			usage, sub_usage, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			answer=excluded.answer, iterations=excluded.iterations, forced=excluded.forced,
			usage=excluded.usage, sub_usage=excluded.sub_usage, error=excluded.error,
			finished_at=excluded.finished_at`,
		sess.ID, sess.Query, string(sess.ContextKind), sess.ContextSize, sess.Answer,
		sess.Iterations, boolToInt(sess.Forced), string(usage), string(subUsage),
		sess.Error, sess.StartedAt, sess.FinishedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: "+op+" failed", "id", sess.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Debug("sqlite: "+op+" ok", "id", sess.ID, "duration", time.Since(start))
	return nil
}

// RecordIteration stores one round. Recording the same round twice keeps
// the latest.
func (s *Store) RecordIteration(ctx context.Context, sessionID string, it rlm.Iteration) error {
	start := time.Now()
	s.logger.Debug("sqlite: record iteration", "session_id", sessionID, "round", it.Round)

	var execJSON, finalJSON *string
	if len(it.Executions) > 0 {
		data, _ := json.Marshal(it.Executions)
		v := string(data)
		execJSON = &v
	}
	if it.Final != nil {
		data, _ := json.Marshal(it.Final)
		v := string(data)
		finalJSON = &v
	}
	usage, _ := json.Marshal(it.Usage)

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO iterations
			(session_id, round, messages, response, executions, final, final_error, usage, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, it.Round, it.Messages, it.Response, execJSON, finalJSON,
		it.FinalError, string(usage), it.Duration.Milliseconds(),
	)
	if err != nil {
		s.logger.Error("sqlite: record iteration failed", "session_id", sessionID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("record iteration: %w", err)
	}
	s.logger.Debug("sqlite: record iteration ok", "session_id", sessionID, "duration", time.Since(start))
	return nil
}

const sessionColumns = `id, query, context_kind, context_size, answer, iterations, forced,
	usage, sub_usage, error, started_at, finished_at`

// Session returns a session by ID, or rlm.ErrNotFound.
func (s *Store) Session(ctx context.Context, id string) (rlm.Session, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rlm.Session{}, fmt.Errorf("get session %s: %w", id, rlm.ErrNotFound)
	}
	if err != nil {
		s.logger.Error("sqlite: get session failed", "id", id, "error", err, "duration", time.Since(start))
		return rlm.Session{}, fmt.Errorf("get session: %w", err)
	}
	s.logger.Debug("sqlite: get session ok", "id", id, "duration", time.Since(start))
	return sess, nil
}

// ListSessions returns the most recently started sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]rlm.Session, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		s.logger.Error("sqlite: list sessions failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []rlm.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	s.logger.Debug("sqlite: list sessions ok", "count", len(out), "duration", time.Since(start))
	return out, rows.Err()
}

// Iterations returns the rounds of a session in order.
func (s *Store) Iterations(ctx context.Context, sessionID string) ([]rlm.Iteration, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT round, messages, response, executions, final, final_error, usage, duration_ms
		 FROM iterations WHERE session_id = ? ORDER BY round`, sessionID)
	if err != nil {
		s.logger.Error("sqlite: list iterations failed", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer rows.Close()

	var out []rlm.Iteration
	for rows.Next() {
		var it rlm.Iteration
		var execJSON, finalJSON, usage sql.NullString
		var durMS int64
		if err := rows.Scan(&it.Round, &it.Messages, &it.Response, &execJSON, &finalJSON,
			&it.FinalError, &usage, &durMS); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		if execJSON.Valid {
			_ = json.Unmarshal([]byte(execJSON.String), &it.Executions)
		}
		if finalJSON.Valid {
			var fa rlm.FinalAnswer
			if json.Unmarshal([]byte(finalJSON.String), &fa) == nil {
				it.Final = &fa
			}
		}
		if usage.Valid {
			_ = json.Unmarshal([]byte(usage.String), &it.Usage)
		}
		it.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, it)
	}
	s.logger.Debug("sqlite: list iterations ok", "session_id", sessionID, "count", len(out), "duration", time.Since(start))
	return out, rows.Err()
}

// DeleteSession removes a session and its iterations.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM iterations WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete iterations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: delete session commit failed", "id", id, "error", err)
		return err
	}
	s.logger.Debug("sqlite: delete session ok", "id", id)
	return nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (rlm.Session, error) {
	var sess rlm.Session
	var kind string
	var forced int
	var usage, subUsage sql.NullString
	err := row.Scan(&sess.ID, &sess.Query, &kind, &sess.ContextSize, &sess.Answer,
		&sess.Iterations, &forced, &usage, &subUsage, &sess.Error, &sess.StartedAt, &sess.FinishedAt)
	if err != nil {
		return rlm.Session{}, err
	}
	sess.ContextKind = rlm.ContextKind(kind)
	sess.Forced = forced != 0
	if usage.Valid {
		_ = json.Unmarshal([]byte(usage.String), &sess.Usage)
	}
	if subUsage.Valid {
		_ = json.Unmarshal([]byte(subUsage.String), &sess.SubUsage)
	}
	return sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
