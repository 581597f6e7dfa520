//go:build postgres

package auth

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestPostgresStoreRoundTrip(t *testing.T) {
	store, cleanup := openPostgresStoreForTest(t)
	defer cleanup()

	record := Record{
		Token:             "hashed-token",
		Folders:           []string{"jazz", "rock"},
		ExpiresAt:         time.Now().Add(time.Minute).Truncate(time.Microsecond),
		AbsoluteExpiresAt: time.Now().Add(time.Hour).Truncate(time.Microsecond),
	}
	if err := store.Save(record); err != nil {
		t.Fatalf("save session: %v", err)
	}

	got, ok, err := store.Get("hashed-token")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !ok {
		t.Fatal("expected session record")
	}
	if len(got.Folders) != 2 || got.Folders[0] != "jazz" || got.Folders[1] != "rock" {
		t.Fatalf("unexpected folders %v", got.Folders)
	}
	if !got.ExpiresAt.Equal(record.ExpiresAt) {
		t.Fatalf("expected expiry %v, got %v", record.ExpiresAt, got.ExpiresAt)
	}

	record.Folders = append(record.Folders, "ambient")
	if err := store.Save(record); err != nil {
		t.Fatalf("update session: %v", err)
	}
	got, ok, err = store.Get("hashed-token")
	if err != nil || !ok {
		t.Fatalf("get updated session, ok=%v err=%v", ok, err)
	}
	if len(got.Folders) != 3 {
		t.Fatalf("expected three folders after update, got %v", got.Folders)
	}

	if err := store.Delete("hashed-token"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, err := store.Get("hashed-token"); err != nil || ok {
		t.Fatalf("expected miss after delete, ok=%v err=%v", ok, err)
	}
}

func TestPostgresStorePurgeExpired(t *testing.T) {
	store, cleanup := openPostgresStoreForTest(t)
	defer cleanup()

	now := time.Now()
	stale := Record{
		Token:             "stale",
		Folders:           []string{"jazz"},
		ExpiresAt:         now.Add(-time.Minute),
		AbsoluteExpiresAt: now.Add(time.Hour),
	}
	live := Record{
		Token:             "live",
		Folders:           []string{"rock"},
		ExpiresAt:         now.Add(time.Hour),
		AbsoluteExpiresAt: now.Add(2 * time.Hour),
	}
	for _, record := range []Record{stale, live} {
		if err := store.Save(record); err != nil {
			t.Fatalf("save %s: %v", record.Token, err)
		}
	}

	if err := store.PurgeExpired(now); err != nil {
		t.Fatalf("purge expired: %v", err)
	}

	if _, ok, err := store.Get("stale"); err != nil || ok {
		t.Fatalf("expected stale session purged, ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.Get("live"); err != nil || !ok {
		t.Fatalf("expected live session kept, ok=%v err=%v", ok, err)
	}
}

func TestPostgresStoreTimeout(t *testing.T) {
	store, cleanup := openPostgresStoreForTest(t, WithTimeout(50*time.Millisecond))
	defer cleanup()

	ctx := context.Background()
	conn, err := store.pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire setup connection: %v", err)
	}
	if _, err := conn.Exec(ctx, `CREATE OR REPLACE FUNCTION slow_folder_sessions_trigger() RETURNS trigger AS $$ BEGIN PERFORM pg_sleep(0.2); RETURN NEW; END; $$ LANGUAGE plpgsql;`); err != nil {
		conn.Release()
		t.Fatalf("create slow trigger function: %v", err)
	}
	if _, err := conn.Exec(ctx, `DROP TRIGGER IF EXISTS slow_folder_sessions_trigger ON folder_sessions`); err != nil {
		conn.Release()
		t.Fatalf("drop existing trigger: %v", err)
	}
	if _, err := conn.Exec(ctx, `CREATE TRIGGER slow_folder_sessions_trigger BEFORE INSERT ON folder_sessions FOR EACH ROW EXECUTE FUNCTION slow_folder_sessions_trigger()`); err != nil {
		conn.Release()
		t.Fatalf("create slow trigger: %v", err)
	}
	conn.Release()

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cleanupConn, err := store.pool.Acquire(cleanupCtx)
		if err != nil {
			return
		}
		defer cleanupConn.Release()
		_, _ = cleanupConn.Exec(cleanupCtx, `DROP TRIGGER IF EXISTS slow_folder_sessions_trigger ON folder_sessions`)
		_, _ = cleanupConn.Exec(cleanupCtx, `DROP FUNCTION IF EXISTS slow_folder_sessions_trigger()`)
	}()

	err = store.Save(Record{
		Token:             "timeout-token",
		Folders:           []string{"jazz"},
		ExpiresAt:         time.Now().Add(time.Hour),
		AbsoluteExpiresAt: time.Now().Add(2 * time.Hour),
	})
	if err == nil {
		t.Fatal("expected timeout error from slow trigger")
	}
}

func openPostgresStoreForTest(t *testing.T, opts ...PostgresOption) (*PostgresStore, func()) {
	t.Helper()

	dsn := os.Getenv("TONECRATE_TEST_POSTGRES_DSN")
	if strings.TrimSpace(dsn) == "" {
		t.Skip("TONECRATE_TEST_POSTGRES_DSN not set")
	}

	store, err := NewPostgresStore(dsn, opts...)
	if err != nil {
		t.Fatalf("open postgres session store: %v", err)
	}

	ctx := context.Background()
	if _, err := store.pool.Exec(ctx, `TRUNCATE TABLE folder_sessions`); err != nil {
		_ = store.Close(ctx)
		t.Fatalf("truncate folder_sessions: %v", err)
	}

	cleanup := func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if conn, err := store.pool.Acquire(cleanupCtx); err == nil {
			_, _ = conn.Exec(cleanupCtx, `TRUNCATE TABLE folder_sessions`)
			conn.Release()
		}
		_ = store.Close(context.Background())
	}
	return store, cleanup
}
