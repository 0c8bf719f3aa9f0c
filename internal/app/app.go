// Package app wires the auth server runtime: config, logging, the Postgres
// pool, the Redis session cache, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	authapi "github.com/Abhi18gaud/principulse-auth/internal/auth/api"
	"github.com/Abhi18gaud/principulse-auth/internal/auth/service"
	"github.com/Abhi18gaud/principulse-auth/internal/auth/session"
	"github.com/Abhi18gaud/principulse-auth/internal/cache"
	"github.com/Abhi18gaud/principulse-auth/internal/identity"
	"github.com/Abhi18gaud/principulse-auth/internal/mailer"
	"github.com/Abhi18gaud/principulse-auth/internal/metrics"
	"github.com/Abhi18gaud/principulse-auth/internal/ratelimit"
	"github.com/Abhi18gaud/principulse-auth/internal/security/password"
	"github.com/Abhi18gaud/principulse-auth/internal/security/token"
)

// App owns the process-wide resources and the HTTP server wiring.
type App struct {
	cfg Config
	log *slog.Logger

	pool    *pgxpool.Pool
	redis   *cache.Client
	metrics *metrics.Metrics

	auth *authapi.Handler
}

// New constructs a fully wired App: pool (pinged), migrations, Redis client
// (pinged), stores, codec, service, limiter, and the HTTP handler.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("db.connected", "max_conns", cfg.DBMaxConns)

	if cfg.MigrateOnStart {
		if err := Migrate(ctx, cfg); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("db.migrated")
	}

	redis, err := cache.New(ctx, cache.Config{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		KeyPrefix: cfg.CachePrefix,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("cache.connected", "addr", cfg.RedisAddr, "prefix", cfg.CachePrefix)

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		redisCloseQuiet(redis, log)
		pool.Close()
		return nil, err
	}

	codec, err := token.NewCodec(token.Config{
		Issuer:              cfg.TokenIssuer,
		AccessSecret:        []byte(cfg.AccessSecret),
		RefreshSecret:       []byte(cfg.RefreshSecret),
		EmailVerifySecret:   cfg.emailVerifySecret(),
		PasswordResetSecret: cfg.passwordResetSecret(),
		Leeway:              cfg.TokenLeeway,
	})
	if err != nil {
		redisCloseQuiet(redis, log)
		pool.Close()
		return nil, err
	}

	m := metrics.New()
	sessions := session.NewStore(redis)
	svc := service.New(log, service.Config{
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		VerifyTTL:  cfg.VerifyTTL,
		ResetTTL:   cfg.ResetTTL,
		AutoVerify: cfg.AutoVerify,
	}, users, sessions, codec, password.NewHasher(cfg.BcryptCost), mailer.LogNotifier{Log: log})

	auth := authapi.NewHandler(log, authapi.Config{
		MaxBodyBytes:         cfg.MaxBodyBytes,
		TrustProxy:           cfg.TrustProxy,
		Production:           cfg.Production,
		CookieDomain:         cfg.CookieDomain,
		RequireVerifiedEmail: cfg.RequireVerifiedEmail,
		RateLimitEnabled:     cfg.RateLimitEnabled,
	}, svc, codec, sessions, ratelimit.NewLimiter(redis), m)

	return &App{
		cfg:     cfg,
		log:     log,
		pool:    pool,
		redis:   redis,
		metrics: m,
		auth:    auth,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal server error. Shutdown order: server, then Redis, then the pool.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.pool, a.redis, a.metrics, a.auth)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log, a.metrics),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.closeResources()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.closeResources()
		return err
	}

	a.closeResources()
	a.log.Info("server.stopped")
	return nil
}

func (a *App) closeResources() {
	redisCloseQuiet(a.redis, a.log)
	if a.pool != nil {
		a.pool.Close()
	}
}

func redisCloseQuiet(c *cache.Client, log *slog.Logger) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Error("cache.close.fail", "err", err)
	}
}
