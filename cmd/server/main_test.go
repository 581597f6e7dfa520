package main

import (
	"testing"
	"time"
)

func TestResolveSessionStoreConfig(t *testing.T) {
	cases := []struct {
		name       string
		flagDriver string
		envDriver  string
		dsn        string
		redisAddr  string
		want       sessionStoreConfig
		wantErr    bool
	}{
		{
			name: "defaults to memory",
			want: sessionStoreConfig{Driver: "memory"},
		},
		{
			name: "dsn selects postgres",
			dsn:  "postgres://localhost/tonecrate",
			want: sessionStoreConfig{Driver: "postgres", DSN: "postgres://localhost/tonecrate"},
		},
		{
			name:      "redis addr selects redis",
			redisAddr: "127.0.0.1:6379",
			want:      sessionStoreConfig{Driver: "redis", RedisAddr: "127.0.0.1:6379"},
		},
		{
			name:       "explicit driver wins over dsn",
			flagDriver: "memory",
			dsn:        "postgres://localhost/tonecrate",
			want:       sessionStoreConfig{Driver: "memory"},
		},
		{
			name:      "env driver applies when flag empty",
			envDriver: "redis",
			redisAddr: "127.0.0.1:6379",
			want:      sessionStoreConfig{Driver: "redis", RedisAddr: "127.0.0.1:6379"},
		},
		{
			name:       "postgres without dsn fails",
			flagDriver: "postgres",
			wantErr:    true,
		},
		{
			name:       "redis without addr fails",
			flagDriver: "redis",
			wantErr:    true,
		},
		{
			name:       "unknown driver fails",
			flagDriver: "etcd",
			wantErr:    true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveSessionStoreConfig(tc.flagDriver, tc.envDriver, tc.dsn, tc.redisAddr)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestResolveListenAddr(t *testing.T) {
	if got := resolveListenAddr("", "development", ""); got != ":8080" {
		t.Fatalf("expected development default, got %q", got)
	}
	if got := resolveListenAddr("", "production", ""); got != ":80" {
		t.Fatalf("expected production default, got %q", got)
	}
	if got := resolveListenAddr("", "production", ":9000"); got != ":9000" {
		t.Fatalf("expected env addr, got %q", got)
	}
	if got := resolveListenAddr(":7000", "production", ":9000"); got != ":7000" {
		t.Fatalf("expected flag addr, got %q", got)
	}
}

func TestModeValueNormalizes(t *testing.T) {
	if got := modeValue("", ""); got != "development" {
		t.Fatalf("expected development default, got %q", got)
	}
	if got := modeValue(" PRODUCTION ", ""); got != "production" {
		t.Fatalf("expected trimmed lowercase, got %q", got)
	}
	if got := modeValue("", "production"); got != "production" {
		t.Fatalf("expected env mode, got %q", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" https://a.example , , https://b.example ")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected result %v", got)
	}
	if splitAndTrim("  ") != nil {
		t.Fatal("expected nil for blank input")
	}
}

func TestResolveDurationPrecedence(t *testing.T) {
	const envKey = "TONECRATE_TEST_DURATION"
	t.Setenv(envKey, "30s")

	if got := resolveDuration(time.Minute, envKey, time.Hour); got != time.Minute {
		t.Fatalf("expected flag to win, got %v", got)
	}
	if got := resolveDuration(0, envKey, time.Hour); got != 30*time.Second {
		t.Fatalf("expected env value, got %v", got)
	}
	t.Setenv(envKey, "not-a-duration")
	if got := resolveDuration(0, envKey, time.Hour); got != time.Hour {
		t.Fatalf("expected fallback on parse failure, got %v", got)
	}
}

func TestResolveBoolReadsEnv(t *testing.T) {
	const envKey = "TONECRATE_TEST_BOOL"
	if resolveBool(false, envKey) {
		t.Fatal("expected false without env")
	}
	t.Setenv(envKey, "true")
	if !resolveBool(false, envKey) {
		t.Fatal("expected env true")
	}
	if !resolveBool(true, envKey) {
		t.Fatal("expected flag true")
	}
}
