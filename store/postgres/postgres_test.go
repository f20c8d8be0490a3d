package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nevindra/rlm"
)

func TestTable(t *testing.T) {
	if got := New(nil).table("rlm_sessions"); got != "rlm_sessions" {
		t.Errorf("table without schema = %q", got)
	}
	if got := New(nil, WithSchema("traces")).table("rlm_sessions"); got != `"traces"."rlm_sessions"` {
		t.Errorf("table with schema = %q", got)
	}
}

// testStore connects to the database named by RLM_TEST_POSTGRES_DSN.
func testStore(t *testing.T) *OwnedStore {
	t.Helper()
	dsn := os.Getenv("RLM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RLM_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn, WithSchema("rlm_test_"+time.Now().Format("150405")))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		s.pool.Exec(ctx, `DROP SCHEMA IF EXISTS "`+s.cfg.schema+`" CASCADE`)
		s.Close()
	})
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sess := rlm.Session{ID: rlm.NewID(), Query: "q", ContextKind: rlm.ContextRecords, ContextSize: 10, StartedAt: 1}
	if err := s.StartSession(ctx, sess); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	it := rlm.Iteration{
		Round:    1,
		Messages: 2,
		Response: "FINAL(done)",
		Final:    &rlm.FinalAnswer{Kind: rlm.FinalLiteral, Value: "done"},
		Duration: time.Second,
	}
	if err := s.RecordIteration(ctx, sess.ID, it); err != nil {
		t.Fatalf("RecordIteration: %v", err)
	}
	sess.Answer, sess.Iterations, sess.FinishedAt = "done", 1, 2
	sess.Usage = rlm.Usage{InputTokens: 3, Calls: 1}
	if err := s.FinishSession(ctx, sess); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}

	got, err := s.Session(ctx, sess.ID)
	if err != nil || got != sess {
		t.Fatalf("Session = %+v, %v; want %+v", got, err, sess)
	}
	its, err := s.Iterations(ctx, sess.ID)
	if err != nil || len(its) != 1 || its[0].Final == nil || its[0].Final.Value != "done" {
		t.Fatalf("Iterations = %+v, %v", its, err)
	}
	list, err := s.ListSessions(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListSessions = %+v, %v", list, err)
	}

	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.Session(ctx, sess.ID); !errors.Is(err, rlm.ErrNotFound) {
		t.Errorf("expected rlm.ErrNotFound, got %v", err)
	}
}
