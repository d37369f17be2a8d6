package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mind-engage/mindengage-lti13/internal/admin"
	"github.com/mind-engage/mindengage-lti13/internal/config"
	"github.com/mind-engage/mindengage-lti13/internal/jwks"
	"github.com/mind-engage/mindengage-lti13/internal/launchstate"
	"github.com/mind-engage/mindengage-lti13/internal/lti"
	"github.com/mind-engage/mindengage-lti13/internal/metrics"
	"github.com/mind-engage/mindengage-lti13/internal/registry"
)

func main() {
	cfg := config.FromEnv()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Stores ---
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	st, err := openStores(openCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("stores init failed", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	if cfg.SeedFile != "" {
		deps, err := registry.LoadFile(cfg.SeedFile)
		if err != nil {
			logger.Error("seed file", "path", cfg.SeedFile, "err", err)
			os.Exit(1)
		}
		if err := registry.Seed(ctx, st.registry, deps); err != nil {
			logger.Error("seed deployments", "err", err)
			os.Exit(1)
		}
		logger.Info("deployments seeded", "count", len(deps), "path", cfg.SeedFile)
	}

	var m *metrics.Metrics
	if cfg.EnableMetrics {
		m = metrics.New()
	}

	r, err := newRouter(cfg, st, m, logger)
	if err != nil {
		logger.Error("router init failed", "err", err)
		os.Exit(1)
	}

	if p, ok := st.cache.(launchstate.Purger); ok && cfg.LaunchStatePurgeEv > 0 {
		go purgeLoop(ctx, p, cfg.LaunchStatePurgeEv, logger)
	}

	srv := newHTTPServer(cfg.HTTPAddr, r)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening",
		"addr", cfg.HTTPAddr,
		"registry", cfg.RegistryDriver,
		"cache", cfg.CacheDriver,
		"db", cfg.DBDriver,
		"admin", cfg.EnableAdmin,
		"trusted_proxies", len(cfg.TrustedProxies),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server", "err", err)
		os.Exit(1)
	}
}

// newHTTPServer bounds request time at the server. Handlers write exactly one
// response, so no per-route timeout middleware is layered on top.
func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func newRouter(cfg config.Config, st *stores, m *metrics.Metrics, logger *slog.Logger) (chi.Router, error) {
	proxies, err := lti.ParseProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	keys := jwks.NewResolver(cfg.JWKSFetchTimeout, logger)
	keys.Observe = m.KeyFetch

	initiator := &lti.Initiator{
		Registry: st.registry,
		Cache:    st.cache,
		StateTTL: cfg.LaunchStateTTL,
		Logger:   logger,
		Metrics:  m,
	}
	validator := &lti.Validator{
		Registry:     st.registry,
		Cache:        st.cache,
		Keys:         keys,
		Leeway:       cfg.JWTLeeway,
		EnforceNonce: cfg.EnforceNonce,
		Logger:       logger,
		Metrics:      m,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, lti.ClientIP(proxies), middleware.Logger, middleware.Recoverer)

	login := lti.OIDCLoginHandler(initiator)
	r.Get("/login", login)
	r.Post("/login", login)
	r.Post("/launch", lti.LaunchHandler(validator, cfg.LaunchBody64))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if st.db != nil {
			if err := st.db.PingContext(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(200)
	})
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	if cfg.EnableAdmin {
		if cfg.AdminPassHash == "" {
			logger.Warn("admin API enabled without ADMIN_PASS_HASH; every request will be rejected")
		}
		r.Mount("/admin", admin.Routes(st.registry, admin.Options{
			User:     cfg.AdminUser,
			PassHash: cfg.AdminPassHash,
			Origins:  cfg.CORSOrigins,
			Logger:   logger,
		}))
	}
	return r, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func purgeLoop(ctx context.Context, p launchstate.Purger, every time.Duration, logger *slog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := p.Purge(ctx, now)
			if err != nil {
				logger.Warn("purge launch state", "err", err)
				continue
			}
			if n > 0 {
				logger.Debug("purged expired launch state", "count", n)
			}
		}
	}
}

// stores holds the process-wide collaborators.
type stores struct {
	db       *sql.DB
	registry registry.Store
	cache    launchstate.Cache
}

func (s *stores) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}
