package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nevindra/rlm"
	"github.com/nevindra/rlm/store/redis"
)

func newStore(t *testing.T, opts ...redis.Option) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := redis.NewFromClient(client, opts...)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Init(context.Background()))
	return store, mr
}

func TestRedisStore_SessionLifecycle(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	sess := rlm.Session{ID: "s1", Query: "magic number?", ContextKind: rlm.ContextText, ContextSize: 42, StartedAt: 100}
	require.NoError(t, store.StartSession(ctx, sess))

	sess.Answer = "4242"
	sess.Iterations = 2
	sess.Usage = rlm.Usage{InputTokens: 10, OutputTokens: 2, Calls: 2}
	sess.FinishedAt = 110
	require.NoError(t, store.FinishSession(ctx, sess))

	got, err := store.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sess, got)
}

func TestRedisStore_NotFound(t *testing.T) {
	store, _ := newStore(t)
	_, err := store.Session(context.Background(), "nope")
	assert.ErrorIs(t, err, rlm.ErrNotFound)
}

func TestRedisStore_Iterations(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.StartSession(ctx, rlm.Session{ID: "s1", StartedAt: 1}))

	for _, r := range []int{3, 1, 2} {
		require.NoError(t, store.RecordIteration(ctx, "s1", rlm.Iteration{
			Round:    r,
			Response: fmt.Sprintf("round %d", r),
			Executions: []rlm.CodeExecution{{
				Code:    "print(1)",
				Result:  "1",
				Elapsed: time.Millisecond,
			}},
		}))
	}
	final := &rlm.FinalAnswer{Kind: rlm.FinalLiteral, Value: "done"}
	require.NoError(t, store.RecordIteration(ctx, "s1", rlm.Iteration{Round: 3, Response: "FINAL(done)", Final: final}))

	its, err := store.Iterations(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, its, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{its[0].Round, its[1].Round, its[2].Round})
	assert.Equal(t, "1", its[0].Executions[0].Result)
	assert.Equal(t, final, its[2].Final)
	assert.Equal(t, "FINAL(done)", its[2].Response)
}

func TestRedisStore_ListSessions(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		require.NoError(t, store.StartSession(ctx, rlm.Session{ID: fmt.Sprintf("s%d", i), StartedAt: int64(i)}))
	}

	got, err := store.ListSessions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s4", got[0].ID)
	assert.Equal(t, "s3", got[1].ID)

	none, err := store.ListSessions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRedisStore_TTL(t *testing.T) {
	store, mr := newStore(t, redis.WithTTL(time.Minute), redis.WithPrefix("test:"))
	ctx := context.Background()

	require.NoError(t, store.StartSession(ctx, rlm.Session{ID: "old", StartedAt: 1}))
	require.NoError(t, store.RecordIteration(ctx, "old", rlm.Iteration{Round: 1}))
	assert.True(t, mr.Exists("test:session:old"))
	assert.True(t, mr.Exists("test:rounds:old"))

	mr.FastForward(2 * time.Minute)
	require.NoError(t, store.StartSession(ctx, rlm.Session{ID: "new", StartedAt: 2}))

	_, err := store.Session(ctx, "old")
	assert.ErrorIs(t, err, rlm.ErrNotFound)

	got, err := store.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)

	// The expired entry was pruned from the index.
	members, err := mr.ZMembers("test:sessions")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, members)
}

func TestRedisStore_Delete(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.StartSession(ctx, rlm.Session{ID: "s1", StartedAt: 1}))
	require.NoError(t, store.RecordIteration(ctx, "s1", rlm.Iteration{Round: 1}))

	require.NoError(t, store.DeleteSession(ctx, "s1"))
	assert.False(t, mr.Exists("rlm:session:s1"))
	assert.False(t, mr.Exists("rlm:rounds:s1"))

	got, err := store.ListSessions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
