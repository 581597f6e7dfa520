package auth

import (
	"context"
	"testing"
	"time"

	"tonecrate/internal/testsupport/redisstub"
)

func startRedisStore(t *testing.T, opts redisstub.Options, cfg RedisStoreConfig) (*redisstub.Server, *RedisStore) {
	t.Helper()
	stub, err := redisstub.Start(opts)
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })
	cfg.Addr = stub.Addr()
	store, err := NewRedisStore(cfg)
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return stub, store
}

func TestRedisStoreRoundTrip(t *testing.T) {
	_, store := startRedisStore(t, redisstub.Options{}, RedisStoreConfig{})

	record := Record{
		Token:             "hashed-token",
		Folders:           []string{"jazz", "rock"},
		ExpiresAt:         time.Now().Add(time.Minute),
		AbsoluteExpiresAt: time.Now().Add(time.Hour),
	}
	if err := store.Save(record); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := store.Get("hashed-token")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected session record")
	}
	if len(got.Folders) != 2 || got.Folders[0] != "jazz" || got.Folders[1] != "rock" {
		t.Fatalf("unexpected folders %v", got.Folders)
	}
	if got.Token != "hashed-token" {
		t.Fatalf("unexpected token %q", got.Token)
	}

	if err := store.Delete("hashed-token"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := store.Get("hashed-token"); err != nil || ok {
		t.Fatalf("expected miss after delete, ok=%v err=%v", ok, err)
	}
}

func TestRedisStoreMissingToken(t *testing.T) {
	_, store := startRedisStore(t, redisstub.Options{}, RedisStoreConfig{})

	if _, ok, err := store.Get("absent"); err != nil || ok {
		t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
	}
}

func TestRedisStoreExpiredRecordDeletes(t *testing.T) {
	stub, store := startRedisStore(t, redisstub.Options{}, RedisStoreConfig{KeyPrefix: "test:"})

	record := Record{
		Token:             "stale",
		Folders:           []string{"jazz"},
		ExpiresAt:         time.Now().Add(-time.Minute),
		AbsoluteExpiresAt: time.Now().Add(time.Hour),
	}
	if err := store.Save(record); err != nil {
		t.Fatalf("save expired: %v", err)
	}
	if _, ok := stub.Value("test:stale"); ok {
		t.Fatal("expired record should not be stored")
	}
}

func TestRedisStoreAuth(t *testing.T) {
	_, store := startRedisStore(t,
		redisstub.Options{Password: "sesame"},
		RedisStoreConfig{Password: "sesame"},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping with password: %v", err)
	}
}

func TestRedisStoreRejectsWrongPassword(t *testing.T) {
	_, store := startRedisStore(t,
		redisstub.Options{Password: "sesame"},
		RedisStoreConfig{Password: "wrong"},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err == nil {
		t.Fatal("expected auth failure")
	}
}

func TestRedisStoreTLS(t *testing.T) {
	_, store := startRedisStore(t,
		redisstub.Options{EnableTLS: true},
		RedisStoreConfig{TLS: RedisTLSConfig{InsecureSkipVerify: true}},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping over tls: %v", err)
	}

	record := Record{
		Token:             "tls-token",
		Folders:           []string{"ambient"},
		ExpiresAt:         time.Now().Add(time.Minute),
		AbsoluteExpiresAt: time.Now().Add(time.Hour),
	}
	if err := store.Save(record); err != nil {
		t.Fatalf("save over tls: %v", err)
	}
	if _, ok, err := store.Get("tls-token"); err != nil || !ok {
		t.Fatalf("get over tls, ok=%v err=%v", ok, err)
	}
}

func TestRedisStoreRequiresAddr(t *testing.T) {
	if _, err := NewRedisStore(RedisStoreConfig{}); err == nil {
		t.Fatal("expected error for missing addr")
	}
}

func TestSessionManagerWithRedisStore(t *testing.T) {
	_, store := startRedisStore(t, redisstub.Options{}, RedisStoreConfig{})

	manager := NewSessionManager(time.Hour, WithStore(store))
	token, _, err := manager.Grant("", "jazz")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	ok, err := manager.Authorized(token, "jazz")
	if err != nil {
		t.Fatalf("authorized: %v", err)
	}
	if !ok {
		t.Fatal("expected session to authorize folder")
	}
	if err := manager.Forget(token, "jazz"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if ok, _ := manager.Authorized(token, "jazz"); ok {
		t.Fatal("expected authorization revoked after forget")
	}
}
