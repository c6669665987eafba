// Package app wires the server runtime: config, logging, storage, the auth
// service and its HTTP routes.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth"
	authapi "github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/api"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/bearer"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/revocation"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/invite"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/security/password"
)

// App is the server runtime: it owns the storage backend and the HTTP
// handler built on top of it.
type App struct {
	cfg Config
	log Logger

	backend storage.Backend
	handler http.Handler
}

// New constructs a fully wired App from config. The backend is opened here
// and released by Run (or Close when Run is never called).
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	hasher, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}
	bcfg, err := BearerConfig(cfg)
	if err != nil {
		return nil, err
	}
	pw, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	apiCfg, err := authapi.ApplyEnv(authapi.Config{
		TrustProxy:   cfg.TrustProxy,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		return nil, err
	}

	backend, err := OpenBackend(ctx, cfg, hasher, log)
	if err != nil {
		return nil, err
	}

	a, err := build(cfg, log, backend, bcfg, pw, apiCfg)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg Config, log Logger, backend storage.Backend, bcfg bearer.Config, pw password.Config, apiCfg authapi.Config) (*App, error) {
	tokens, err := bearer.New(bcfg)
	if err != nil {
		return nil, err
	}

	invites, err := invite.NewService(backend.Invites(), storage.InviteTransactor(backend), pw,
		invite.WithTTL(cfg.InviteTTL, cfg.InviteMaxTTL),
		invite.WithResendInterval(cfg.InviteResendInterval),
		invite.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	var reg *prometheus.Registry
	var metrics *auth.Metrics
	if cfg.MetricsEnabled {
		reg = newRegistry()
		metrics = auth.NewMetrics(reg)
	}

	tx := storage.RevocationTransactor(backend)
	svc, err := auth.NewService(auth.Config{
		SessionTTL:     cfg.SessionTTL,
		StrictSessions: cfg.StrictSessions,
	}, auth.Deps{
		Users:    backend.Users(),
		Sessions: backend.Sessions(),
		Tokens:   tokens,
		Hasher:   pw,
		Tx:       tx,
		Revoker:  revocation.NewController(tx, backend.Sessions(), log),
		Invites:  invites,
		Audit:    backend.Audit(),
		Metrics:  metrics,
		Log:      log,
	})
	if err != nil {
		return nil, err
	}

	api, err := authapi.NewHandler(log, svc, apiCfg)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, log, backend, reg, api)

	var h http.Handler = mux
	if reg != nil {
		h = withHTTPMetrics(h, reg)
	}
	h = WithCORS(h, cfg, log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, log)

	return &App{
		cfg:     cfg,
		log:     log,
		backend: backend,
		handler: h,
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Close releases the storage backend.
func (a *App) Close() { a.backend.Close() }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db", a.backend.Kind(),
		"strict_sessions", a.cfg.StrictSessions,
		"metrics", a.cfg.MetricsEnabled,
	)

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
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
