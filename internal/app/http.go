package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	authapi "github.com/Abhi18gaud/principulse-auth/internal/auth/api"
	"github.com/Abhi18gaud/principulse-auth/internal/cache"
	"github.com/Abhi18gaud/principulse-auth/internal/metrics"
)

func registerHTTP(
	mux *http.ServeMux,
	log *slog.Logger,
	pool *pgxpool.Pool,
	redis *cache.Client,
	m *metrics.Metrics,
	auth *authapi.Handler,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	// Readiness requires both backing stores: the service cannot issue or
	// revoke sessions without them.
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := PingDB(r.Context(), pool, 2*time.Second); err != nil {
			log.Info("readyz.db.not_ready", "err", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if err := redis.Ping(r.Context()); err != nil {
			log.Info("readyz.cache.not_ready", "err", err)
			http.Error(w, "cache not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", m.Handler())

	auth.Register(mux)
}
