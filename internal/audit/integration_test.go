//go:build integration

package audit

import (
	"context"
	"os"
	"testing"
)

func testPostgres(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping integration test")
	}
	store, err := OpenPostgres(PostgresConfig{DSN: dsn}, testLogger())
	if err != nil {
		t.Fatalf("opening postgres: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgresStore_RecordAndQuery(t *testing.T) {
	store := testPostgres(t)
	ctx := context.Background()

	event := Event{
		Topology:  "hosted",
		SessionID: "sess-it",
		Tool:      "put_secret",
		VaultID:   "v_it",
		Outcome:   OutcomeOK,
	}
	if err := store.Record(ctx, event); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	got, err := store.Query(ctx, QueryFilter{SessionID: "sess-it", Limit: 1})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Tool != "put_secret" {
		t.Errorf("tool = %q, want put_secret", got[0].Tool)
	}
}

func TestPostgresStore_Ping(t *testing.T) {
	store := testPostgres(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}
