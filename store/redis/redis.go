// Package redis implements rlm.TraceStore on Redis. Sessions are JSON
// strings, rounds are hash fields keyed by round number and a sorted set
// indexes sessions by start time. With a TTL, traces expire on their own.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/nevindra/rlm"
)

// Store implements rlm.TraceStore using Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

var _ rlm.TraceStore = (*Store)(nil)

type Option func(*Store)

// WithTTL sets the expiration of session traces. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis store connected to address.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "rlm:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) sessionKey(id string) string { return s.prefix + "session:" + id }
func (s *Store) roundsKey(id string) string  { return s.prefix + "rounds:" + id }
func (s *Store) indexKey() string            { return s.prefix + "sessions" }

// Init checks connectivity. Redis needs no schema.
func (s *Store) Init(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// StartSession stores the session and indexes it by start time.
func (s *Store) StartSession(ctx context.Context, sess rlm.Session) error {
	return s.saveSession(ctx, sess)
}

// FinishSession overwrites the session with its final state.
func (s *Store) FinishSession(ctx context.Context, sess rlm.Session) error {
	return s.saveSession(ctx, sess)
}

func (s *Store) saveSession(ctx context.Context, sess rlm.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(sess.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  float64(sess.StartedAt),
		Member: sess.ID,
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, s.roundsKey(sess.ID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// RecordIteration stores one round under the session's hash.
func (s *Store) RecordIteration(ctx context.Context, sessionID string, it rlm.Iteration) error {
	data, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("failed to marshal iteration: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.roundsKey(sessionID), strconv.Itoa(it.Round), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.roundsKey(sessionID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record iteration: %w", err)
	}
	return nil
}

// Session returns a session by ID, or rlm.ErrNotFound once it expired or was
// never stored.
func (s *Store) Session(ctx context.Context, id string) (rlm.Session, error) {
	val, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, backend.Nil) {
		return rlm.Session{}, fmt.Errorf("session %s: %w", id, rlm.ErrNotFound)
	}
	if err != nil {
		return rlm.Session{}, fmt.Errorf("failed to get session: %w", err)
	}

	var sess rlm.Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return rlm.Session{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return sess, nil
}

// Iterations returns the rounds of a session in order.
func (s *Store) Iterations(ctx context.Context, sessionID string) ([]rlm.Iteration, error) {
	vals, err := s.client.HVals(ctx, s.roundsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get iterations: %w", err)
	}
	out := make([]rlm.Iteration, 0, len(vals))
	for _, v := range vals {
		var it rlm.Iteration
		if err := json.Unmarshal([]byte(v), &it); err != nil {
			return nil, fmt.Errorf("failed to unmarshal iteration: %w", err)
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Round < out[j].Round })
	return out, nil
}

// ListSessions returns the most recently started sessions first. Index
// entries whose session expired are pruned on the way.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]rlm.Session, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions: %w", err)
	}

	var out []rlm.Session
	var expired []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var sess rlm.Session
		if err := json.Unmarshal([]byte(str), &sess); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		out = append(out, sess)
	}
	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), expired...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
		}
	}
	return out, nil
}

// DeleteSession removes a session and its rounds.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(id), s.roundsKey(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
