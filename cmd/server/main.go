// Command server starts the Tonecrate media gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tonecrate/internal/api"
	"tonecrate/internal/auth"
	"tonecrate/internal/library"
	"tonecrate/internal/observability/logging"
	"tonecrate/internal/observability/metrics"
	"tonecrate/internal/server"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	foldersFlag := flag.String("folders", "", "comma separated name:path folder mappings")
	credentialsFlag := flag.String("folder-credentials", "", "comma separated folder:username:password triples")
	realm := flag.String("realm", "", "Basic auth realm presented in challenges")
	secureCookies := flag.Bool("secure-cookies", false, "always mark session cookies Secure")
	sessionTTL := flag.Duration("session-ttl", 0, "idle lifetime for folder sessions")
	sessionStoreDriver := flag.String("session-store", "", "session store driver (memory, redis, or postgres)")
	sessionPostgresDSN := flag.String("session-postgres-dsn", "", "Postgres DSN for the session store")
	sessionStoreTimeout := flag.Duration("session-store-timeout", 0, "timeout for individual session store operations")
	sessionPurgeInterval := flag.Duration("session-purge-interval", 0, "interval between expired session sweeps")
	sessionRedisAddr := flag.String("session-redis-addr", "", "Redis address for the session store")
	sessionRedisAddrs := flag.String("session-redis-addrs", "", "comma separated Redis addresses for the session store")
	sessionRedisUsername := flag.String("session-redis-username", "", "Redis username for the session store")
	sessionRedisPassword := flag.String("session-redis-password", "", "Redis password for the session store")
	sessionRedisPrefix := flag.String("session-redis-key-prefix", "", "key prefix for session records in Redis")
	sessionRedisMasterName := flag.String("session-redis-master-name", "", "Redis sentinel master name for the session store")
	sessionRedisPoolSize := flag.Int("session-redis-pool-size", 0, "maximum Redis connections for the session store")
	sessionRedisTimeout := flag.Duration("session-redis-timeout", 0, "timeout for Redis session operations")
	sessionRedisTLSCA := flag.String("session-redis-tls-ca", "", "path to Redis TLS CA certificate for the session store")
	sessionRedisTLSCert := flag.String("session-redis-tls-cert", "", "path to Redis TLS client certificate for the session store")
	sessionRedisTLSKey := flag.String("session-redis-tls-key", "", "path to Redis TLS client key for the session store")
	sessionRedisTLSServerName := flag.String("session-redis-tls-server-name", "", "override Redis TLS server name for the session store")
	sessionRedisTLSSkipVerify := flag.Bool("session-redis-tls-skip-verify", false, "skip Redis TLS verification for the session store")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	authLimit := flag.Int("rate-auth-limit", 0, "maximum credential attempts per window for a single client")
	authWindow := flag.Duration("rate-auth-window", 0, "window for counting credential attempts")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed credential throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed credential throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis throttle operations")
	playerOrigins := flag.String("cors-player-origins", "", "comma separated origins of web players allowed to stream")
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("TONECRATE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("TONECRATE_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("TONECRATE_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("TONECRATE_ADDR"))

	folders := library.ParseFolderList(firstNonEmpty(*foldersFlag, os.Getenv("TONECRATE_FOLDERS")))
	credentials := library.ParseCredentialList(firstNonEmpty(*credentialsFlag, os.Getenv("TONECRATE_FOLDER_CREDENTIALS")))
	if len(folders) == 0 {
		logger.Error("no folders configured: provide --folders or TONECRATE_FOLDERS")
		os.Exit(1)
	}
	for name := range folders {
		if _, ok := credentials[name]; !ok {
			logger.Warn("folder has no credential and will reject all access", "folder", name)
		}
	}

	lib, err := library.New(folders, credentials)
	if err != nil {
		logger.Error("failed to build folder library", "error", err)
		os.Exit(1)
	}

	sessionConfig, err := resolveSessionStoreConfig(
		*sessionStoreDriver,
		os.Getenv("TONECRATE_SESSION_STORE"),
		firstNonEmpty(*sessionPostgresDSN, os.Getenv("TONECRATE_SESSION_POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		firstNonEmpty(*sessionRedisAddr, os.Getenv("TONECRATE_SESSION_REDIS_ADDR")),
	)
	if err != nil {
		logger.Error("failed to resolve session store", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" && sessionConfig.Driver == "memory" {
		logger.Warn("memory session store in production: sessions will not survive restarts or scale across replicas")
	}

	redisTimeout := resolveDuration(*sessionRedisTimeout, "TONECRATE_SESSION_REDIS_TIMEOUT", 2*time.Second)
	storeTimeout := resolveDuration(*sessionStoreTimeout, "TONECRATE_SESSION_STORE_TIMEOUT", 0)

	var (
		sessionStore  auth.Store
		sessionCloser func(context.Context) error
	)
	switch sessionConfig.Driver {
	case "memory":
		sessionStore = auth.NewMemoryStore()
	case "postgres":
		pgStore, err := auth.NewPostgresStore(sessionConfig.DSN, auth.WithTimeout(storeTimeout))
		if err != nil {
			logger.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		sessionStore = pgStore
		sessionCloser = pgStore.Close
	case "redis":
		redisStore, err := auth.NewRedisStore(auth.RedisStoreConfig{
			Addr:         sessionConfig.RedisAddr,
			Addrs:        splitAndTrim(firstNonEmpty(*sessionRedisAddrs, os.Getenv("TONECRATE_SESSION_REDIS_ADDRS"))),
			Username:     firstNonEmpty(*sessionRedisUsername, os.Getenv("TONECRATE_SESSION_REDIS_USERNAME")),
			Password:     firstNonEmpty(*sessionRedisPassword, os.Getenv("TONECRATE_SESSION_REDIS_PASSWORD")),
			KeyPrefix:    firstNonEmpty(*sessionRedisPrefix, os.Getenv("TONECRATE_SESSION_REDIS_KEY_PREFIX")),
			MasterName:   firstNonEmpty(*sessionRedisMasterName, os.Getenv("TONECRATE_SESSION_REDIS_MASTER_NAME")),
			DialTimeout:  redisTimeout,
			ReadTimeout:  redisTimeout,
			WriteTimeout: redisTimeout,
			PoolSize:     resolveInt(*sessionRedisPoolSize, "TONECRATE_SESSION_REDIS_POOL_SIZE"),
			TLS: auth.RedisTLSConfig{
				CAFile:             firstNonEmpty(*sessionRedisTLSCA, os.Getenv("TONECRATE_SESSION_REDIS_TLS_CA")),
				CertFile:           firstNonEmpty(*sessionRedisTLSCert, os.Getenv("TONECRATE_SESSION_REDIS_TLS_CERT")),
				KeyFile:            firstNonEmpty(*sessionRedisTLSKey, os.Getenv("TONECRATE_SESSION_REDIS_TLS_KEY")),
				ServerName:         firstNonEmpty(*sessionRedisTLSServerName, os.Getenv("TONECRATE_SESSION_REDIS_TLS_SERVER_NAME")),
				InsecureSkipVerify: resolveBool(*sessionRedisTLSSkipVerify, "TONECRATE_SESSION_REDIS_TLS_SKIP_VERIFY"),
			},
		})
		if err != nil {
			logger.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		sessionStore = redisStore
		sessionCloser = func(context.Context) error { return redisStore.Close() }
	default:
		logger.Error("unsupported session store driver", "driver", sessionConfig.Driver)
		os.Exit(1)
	}

	ttl := resolveDuration(*sessionTTL, "TONECRATE_SESSION_TTL", 24*time.Hour)
	sessions := auth.NewSessionManager(ttl, auth.WithStore(sessionStore))

	handler := api.NewHandler(lib, sessions, logger)
	handler.Metrics = recorder
	handler.Realm = firstNonEmpty(*realm, os.Getenv("TONECRATE_REALM"))
	if resolveBool(*secureCookies, "TONECRATE_SECURE_COOKIES") {
		handler.SessionCookiePolicy.SecureMode = api.SessionCookieSecureAlways
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("TONECRATE_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("TONECRATE_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "TONECRATE_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "TONECRATE_RATE_GLOBAL_BURST"),
			AuthLimit:     resolveInt(*authLimit, "TONECRATE_RATE_AUTH_LIMIT"),
			AuthWindow:    resolveDuration(*authWindow, "TONECRATE_RATE_AUTH_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("TONECRATE_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("TONECRATE_RATE_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(*rateRedisTimeout, "TONECRATE_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		CORS: server.CORSConfig{
			PlayerOrigins: splitAndTrim(firstNonEmpty(*playerOrigins, os.Getenv("TONECRATE_CORS_PLAYER_ORIGINS"))),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	purgeInterval := resolveDuration(*sessionPurgeInterval, "TONECRATE_SESSION_PURGE_INTERVAL", 15*time.Minute)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("Tonecrate gateway listening", "addr", listenAddr, "mode", serverMode, "folders", lib.Len())
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Run(groupCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		runSessionPurger(groupCtx, logging.WithComponent(logger, "session-purger"), sessions, purgeInterval)
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("server error", "error", err)
	}

	if sessionCloser != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sessionCloser(closeCtx); err != nil {
			logger.Warn("failed to close session store", "error", err)
		}
	}

	logger.Info("server stopped")
}

type sessionStoreConfig struct {
	Driver    string
	DSN       string
	RedisAddr string
}

// resolveSessionStoreConfig picks the session store driver. An explicit driver
// wins; otherwise a configured DSN or Redis address selects the matching
// backend, and memory is the fallback.
func resolveSessionStoreConfig(flagDriver, envDriver, dsn, redisAddr string) (sessionStoreConfig, error) {
	driver := strings.ToLower(strings.TrimSpace(flagDriver))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envDriver))
	}
	dsn = strings.TrimSpace(dsn)
	redisAddr = strings.TrimSpace(redisAddr)

	if driver == "" {
		switch {
		case dsn != "":
			driver = "postgres"
		case redisAddr != "":
			driver = "redis"
		default:
			driver = "memory"
		}
	}

	switch driver {
	case "memory":
		return sessionStoreConfig{Driver: "memory"}, nil
	case "postgres":
		if dsn == "" {
			return sessionStoreConfig{}, fmt.Errorf("postgres session store selected without DSN")
		}
		return sessionStoreConfig{Driver: "postgres", DSN: dsn}, nil
	case "redis":
		if redisAddr == "" {
			return sessionStoreConfig{}, fmt.Errorf("redis session store selected without address")
		}
		return sessionStoreConfig{Driver: "redis", RedisAddr: redisAddr}, nil
	default:
		return sessionStoreConfig{}, fmt.Errorf("unsupported session store driver %q", driver)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
