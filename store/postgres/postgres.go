// Package postgres implements rlm.TraceStore using PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor injection.
// The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/rlm"
)

// Store implements rlm.TraceStore backed by PostgreSQL. Executions, usage
// and final answers are stored as JSONB.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	schema string // "" = search_path default
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithSchema creates and uses tables in the given schema.
func WithSchema(name string) Option {
	return func(c *pgConfig) { c.schema = name }
}

var _ rlm.TraceStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// Open connects to dsn and returns a Store that owns the pool: Close
// releases it.
func Open(ctx context.Context, dsn string, opts ...Option) (*OwnedStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &OwnedStore{Store: New(pool, opts...)}, nil
}

// OwnedStore is a Store whose Close also closes the pool.
type OwnedStore struct {
	*Store
}

// Close closes the pool.
func (s *OwnedStore) Close() error {
	s.pool.Close()
	return nil
}

// table qualifies name with the configured schema.
func (s *Store) table(name string) string {
	if s.cfg.schema == "" {
		return name
	}
	return pgx.Identifier{s.cfg.schema, name}.Sanitize()
}

// Init creates all required tables and indexes.
func (s *Store) Init(ctx context.Context) error {
	var stmts []string
	if s.cfg.schema != "" {
		stmts = append(stmts, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.cfg.schema}.Sanitize())
	}
	stmts = append(stmts,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			context_kind TEXT NOT NULL,
			context_size BIGINT NOT NULL,
			answer TEXT NOT NULL DEFAULT '',
			iterations INTEGER NOT NULL DEFAULT 0,
			forced BOOLEAN NOT NULL DEFAULT FALSE,
			usage JSONB,
			sub_usage JSONB,
			error TEXT NOT NULL DEFAULT '',
			started_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL DEFAULT 0
		)`, s.table("rlm_sessions")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS rlm_sessions_started_idx ON %s(started_at DESC)`, s.table("rlm_sessions")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			session_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			messages INTEGER NOT NULL,
			response TEXT NOT NULL,
			executions JSONB,
			final JSONB,
			final_error TEXT NOT NULL DEFAULT '',
			usage JSONB,
			duration_ms BIGINT NOT NULL,
			PRIMARY KEY (session_id, round)
		)`, s.table("rlm_iterations")),
	)

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
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
	usage, _ := json.Marshal(sess.Usage)
	subUsage, _ := json.Marshal(sess.SubUsage)
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, query, context_kind, context_size, answer, iterations, forced,
			usage, sub_usage, error, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
			answer = EXCLUDED.answer, iterations = EXCLUDED.iterations, forced = EXCLUDED.forced,
			usage = EXCLUDED.usage, sub_usage = EXCLUDED.sub_usage, error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at`, s.table("rlm_sessions")),
		sess.ID, sess.Query, string(sess.ContextKind), sess.ContextSize, sess.Answer,
		sess.Iterations, sess.Forced, string(usage), string(subUsage),
		sess.Error, sess.StartedAt, sess.FinishedAt)
	if err != nil {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
	return nil
}

// RecordIteration stores one round. Recording the same round twice keeps
// the latest.
func (s *Store) RecordIteration(ctx context.Context, sessionID string, it rlm.Iteration) error {
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

	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (session_id, round, messages, response, executions, final, final_error, usage, duration_ms)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8::jsonb, $9)
		 ON CONFLICT (session_id, round) DO UPDATE SET
			messages = EXCLUDED.messages, response = EXCLUDED.response,
			executions = EXCLUDED.executions, final = EXCLUDED.final,
			final_error = EXCLUDED.final_error, usage = EXCLUDED.usage,
			duration_ms = EXCLUDED.duration_ms`, s.table("rlm_iterations")),
		sessionID, it.Round, it.Messages, it.Response, execJSON, finalJSON,
		it.FinalError, string(usage), it.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("postgres: record iteration: %w", err)
	}
	return nil
}

const sessionColumns = `id, query, context_kind, context_size, answer, iterations, forced,
	usage, sub_usage, error, started_at, finished_at`

// Session returns a session by ID, or rlm.ErrNotFound.
func (s *Store) Session(ctx context.Context, id string) (rlm.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM `+s.table("rlm_sessions")+` WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return rlm.Session{}, fmt.Errorf("postgres: get session %s: %w", id, rlm.ErrNotFound)
	}
	if err != nil {
		return rlm.Session{}, fmt.Errorf("postgres: get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns the most recently started sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]rlm.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM `+s.table("rlm_sessions")+`
		 ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()

	var out []rlm.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Iterations returns the rounds of a session in order.
func (s *Store) Iterations(ctx context.Context, sessionID string) ([]rlm.Iteration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT round, messages, response, executions, final, final_error, usage, duration_ms
		 FROM `+s.table("rlm_iterations")+` WHERE session_id = $1 ORDER BY round`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list iterations: %w", err)
	}
	defer rows.Close()

	var out []rlm.Iteration
	for rows.Next() {
		var it rlm.Iteration
		var execJSON, finalJSON, usage []byte
		var durMS int64
		if err := rows.Scan(&it.Round, &it.Messages, &it.Response, &execJSON, &finalJSON,
			&it.FinalError, &usage, &durMS); err != nil {
			return nil, fmt.Errorf("postgres: scan iteration: %w", err)
		}
		if execJSON != nil {
			_ = json.Unmarshal(execJSON, &it.Executions)
		}
		if finalJSON != nil {
			var fa rlm.FinalAnswer
			if json.Unmarshal(finalJSON, &fa) == nil {
				it.Final = &fa
			}
		}
		if usage != nil {
			_ = json.Unmarshal(usage, &it.Usage)
		}
		it.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, it)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its iterations in one transaction.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM `+s.table("rlm_iterations")+` WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete iterations: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+s.table("rlm_sessions")+` WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete session: %w", err)
	}
	return tx.Commit(ctx)
}

// Close is a no-op: the caller owns the pool.
func (s *Store) Close() error { return nil }

func scanSession(row pgx.Row) (rlm.Session, error) {
	var sess rlm.Session
	var kind string
	var usage, subUsage []byte
	err := row.Scan(&sess.ID, &sess.Query, &kind, &sess.ContextSize, &sess.Answer,
		&sess.Iterations, &sess.Forced, &usage, &subUsage, &sess.Error, &sess.StartedAt, &sess.FinishedAt)
	if err != nil {
		return rlm.Session{}, err
	}
	sess.ContextKind = rlm.ContextKind(kind)
	if usage != nil {
		_ = json.Unmarshal(usage, &sess.Usage)
	}
	if subUsage != nil {
		_ = json.Unmarshal(subUsage, &sess.SubUsage)
	}
	return sess, nil
}
