// Command dnsproxy-server is the process entry point: it loads
// configuration, opens the identity store, runs migrations, seeds the
// bootstrap state, wires the provider registry and every handler, and
// serves the HTTP surfaces described in spec §6 behind the middleware
// stack of internal/handler. Wiring follows the teacher's cmd/server/
// main.go idiom: explicit construction, no DI framework, one Application
// value's worth of dependencies passed into each handler constructor.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/authz"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/backend"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/backend/netcup"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/backend/powerdns"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/bootstrap"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/config"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/handler"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/notify"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/ratelimit"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/secret"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/session"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg, err := config.Load(config.Getenv)
	if err != nil {
		sugar.Errorf("config: %v", err)
		os.Exit(int(config.ExitConfigError))
	}

	st, err := store.NewSQLiteStore(cfg.DBPath, sugar)
	if err != nil {
		sugar.Errorf("storage init: %v", err)
		os.Exit(int(config.ExitStorageInitFailure))
	}
	defer st.Close()

	registry := backend.NewRegistry()
	registry.Register("netcup", netcup.Schema, netcup.New, cfg.ProviderEnabled["netcup"])
	registry.Register("powerdns", powerdns.Schema, powerdns.New, cfg.ProviderEnabled["powerdns"])

	secrets := secret.New(cfg.BcryptCost)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := bootstrap.Run(bootCtx, st, registry, secrets, cfg, sampleFromEnv(), sugar); err != nil {
		bootCancel()
		sugar.Errorf("bootstrap: %v", err)
		os.Exit(int(config.ExitMigrationFailure))
	}
	bootCancel()

	originMatcher := authz.NewOriginMatcher()
	permEngine := authz.NewEngine(originMatcher)
	resolver := authz.NewResolver(st)
	limiter := ratelimit.New(cfg.RateLimitPerMinute, cfg.RateLimitPerHour)
	sessions := session.New(st, secrets, cfg)

	var notifyQueue *notify.Queue
	if cfg.SMTP != nil {
		sender := notify.NewSMTPSender(notify.SMTPConfig{
			Host: cfg.SMTP.Host, Port: cfg.SMTP.Port,
			Username: cfg.SMTP.Username, Password: cfg.SMTP.Password, From: cfg.SMTP.From,
		})
		notifyQueue = notify.NewQueue(sender, sugar, 2, 256, 0)
		ctx, cancelNotify := context.WithCancel(context.Background())
		defer cancelNotify()
		notifyQueue.Start(ctx)
	} else {
		sugar.Info("SMTP not configured, notifications disabled")
	}

	dnsHandler := handler.NewDNSHandler(st, registry, permEngine, sugar, cfg.MaxRecordsPerRequest)
	authHandler := handler.NewAuthHandler(st, secrets, sessions, cfg, sugar)
	adminHandler := handler.NewAdminHandler(st, secrets, registry, sugar)

	apiDeadline := time.Duration(cfg.DeadlineAPIMillis) * time.Millisecond
	clientIP := handler.ClientIPMiddleware
	rateLimit := handler.RateLimit(st, limiter, sugar)
	maxBody := handler.MaxBody(cfg.MaxBodyBytes)
	deadline := handler.Deadline(apiDeadline)
	authenticate := handler.AuthenticateToken(st, secrets, sugar)
	resolveRealm := handler.ResolveRealm(st, resolver, sugar)

	requireSession := handler.RequireSession(st, session.CookieFromRequest,
		time.Duration(cfg.SessionIdleSeconds)*time.Second, time.Duration(cfg.SessionAbsoluteSeconds)*time.Second)

	mux := http.NewServeMux()

	// Vendor-compatible DNS API surface (spec §6): rate limit, body cap,
	// deadline, authenticate, resolve, authorize+dispatch+audit inside the
	// handler itself.
	mux.Handle("POST /api", handler.Wrap(dnsHandler,
		clientIP, rateLimit, maxBody, deadline, authenticate, resolveRealm))

	// Interactive login surface: no prior session required.
	mux.Handle("POST /auth/login", handler.Wrap(http.HandlerFunc(authHandler.Login), clientIP, rateLimit, maxBody))
	mux.Handle("POST /auth/totp/verify", handler.Wrap(http.HandlerFunc(authHandler.VerifyTOTP), clientIP, rateLimit, maxBody))
	mux.Handle("POST /auth/logout", handler.Wrap(http.HandlerFunc(authHandler.Logout), clientIP, requireSession))
	mux.Handle("POST /auth/change-password", handler.Wrap(http.HandlerFunc(authHandler.ChangePassword), clientIP, requireSession, handler.RequireCSRF, maxBody))
	mux.Handle("POST /auth/totp/enroll", handler.Wrap(http.HandlerFunc(authHandler.EnrollTOTP), clientIP, requireSession, handler.RequireCSRF))
	mux.Handle("POST /auth/totp/confirm", handler.Wrap(http.HandlerFunc(authHandler.ConfirmTOTP), clientIP, requireSession, handler.RequireCSRF, maxBody))

	// Admin/account interactive CRUD surface: every write behind CSRF.
	registerAdminRead := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, handler.Wrap(h, clientIP, requireSession))
	}
	registerAdminWrite := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, handler.Wrap(h, clientIP, requireSession, handler.RequireCSRF, maxBody))
	}

	registerAdminWrite("POST /admin/accounts", adminHandler.CreateAccount)
	registerAdminRead("GET /admin/accounts", adminHandler.ListAccounts)
	registerAdminRead("GET /admin/accounts/{id}", adminHandler.GetAccount)
	registerAdminWrite("DELETE /admin/accounts/{id}", adminHandler.DeleteAccount)

	registerAdminWrite("POST /admin/realms", adminHandler.CreateRealm)
	registerAdminRead("GET /admin/accounts/{accountID}/realms", adminHandler.ListRealms)
	registerAdminWrite("DELETE /admin/realms/{id}", adminHandler.DeleteRealm)

	registerAdminWrite("POST /admin/tokens", adminHandler.CreateToken)
	registerAdminRead("GET /admin/realms/{realmID}/tokens", adminHandler.ListTokens)
	registerAdminWrite("DELETE /admin/tokens/{id}", adminHandler.RevokeToken)

	registerAdminWrite("POST /admin/backend-services", adminHandler.CreateBackendService)
	registerAdminRead("GET /admin/backend-services", adminHandler.ListBackendServices)
	registerAdminWrite("DELETE /admin/backend-services/{id}", adminHandler.DeleteBackendService)

	registerAdminWrite("POST /admin/domain-roots", adminHandler.CreateDomainRoot)
	registerAdminRead("GET /admin/accounts/{accountID}/domain-roots", adminHandler.ListDomainRoots)

	registerAdminWrite("POST /admin/grants", adminHandler.CreateGrant)
	registerAdminRead("GET /admin/accounts/{accountID}/grants", adminHandler.ListGrants)
	registerAdminWrite("DELETE /admin/grants/{id}", adminHandler.RevokeGrant)

	registerAdminRead("GET /admin/audit", adminHandler.ListAuditRecords)

	var root http.Handler = mux
	root = handler.Recovery(sugar)(root)

	srv := &http.Server{
		Addr:         cfg.BindAddr + ":" + strconv.Itoa(cfg.BindPort),
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infof("dnsproxy-server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()

	// Periodic GC of idle rate-limit buckets and expired sessions, in the
	// same reaper-goroutine idiom the teacher uses for stale instances.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-reaperCtx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				if n := limiter.GC(now); n > 0 {
					sugar.Debugw("rate limiter GC", "buckets_removed", n)
				}
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				idleCutoff := now.Add(-time.Duration(cfg.SessionIdleSeconds) * time.Second)
				absoluteCutoff := now.Add(-time.Duration(cfg.SessionAbsoluteSeconds) * time.Second)
				if n, err := st.DeleteExpiredSessions(ctx, idleCutoff, absoluteCutoff); err != nil {
					sugar.Warnw("session reaper failed", "error", err)
				} else if n > 0 {
					sugar.Debugw("session reaper", "sessions_removed", n)
				}
				cancel()
			}
		}
	}()

	<-quit
	sugar.Info("shutting down...")
	stopReaper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if notifyQueue != nil {
		notifyQueue.Wait()
	}
}

// sampleFromEnv builds a bootstrap.Sample from SAMPLE_* variables, or nil
// if SAMPLE_ROOT_DOMAIN is unset (spec §4.9: sample seeding is
// environment-signaled, not unconditional).
func sampleFromEnv() *bootstrap.Sample {
	root := os.Getenv("SAMPLE_ROOT_DOMAIN")
	if root == "" {
		return nil
	}
	return &bootstrap.Sample{
		RootDomain:        root,
		NetcupCustomerNo:  os.Getenv("SAMPLE_NETCUP_CUSTOMER_NO"),
		NetcupAPIKey:      os.Getenv("SAMPLE_NETCUP_API_KEY"),
		NetcupAPIPassword: os.Getenv("SAMPLE_NETCUP_API_PASSWORD"),
	}
}

