package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agentguard/agentguard/pkg/agent"
	"github.com/agentguard/agentguard/pkg/api"
	"github.com/agentguard/agentguard/pkg/approval"
	"github.com/agentguard/agentguard/pkg/audit"
	"github.com/agentguard/agentguard/pkg/auth"
	"github.com/agentguard/agentguard/pkg/config"
	"github.com/agentguard/agentguard/pkg/database"
	"github.com/agentguard/agentguard/pkg/engine"
	"github.com/agentguard/agentguard/pkg/identity"
	"github.com/agentguard/agentguard/pkg/metrics"
	"github.com/agentguard/agentguard/pkg/policy"
	"github.com/agentguard/agentguard/pkg/ratelimit"
	"github.com/agentguard/agentguard/pkg/revocation"
	"github.com/agentguard/agentguard/pkg/store"
	"github.com/agentguard/agentguard/pkg/tracing"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable so tests can stub it out.
var startServer = runServer

// Run is the CLI entrypoint; exported so it's testable without exec'ing
// the built binary.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stdout, stderr)
	}
	switch args[1] {
	case "server", "serve":
		return startServer(stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	default:
		fmt.Fprintf(stderr, "agentguard: unknown command %q (want: server, health)\n", args[1])
		return 2
	}
}

//nolint:gocyclo
func runServer(stdout, stderr io.Writer) int {
	fmt.Fprintln(stdout, "AgentGuard starting...")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "agentguard: invalid configuration: %v\n", err)
		return 1
	}

	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: logLevel})
	}
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx)
	if err != nil {
		slog.Error("tracing init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		return 1
	}
	defer db.Close()
	slog.Info("database connected", "driver", db.Driver)

	agentStore := agent.NewSQLStore(db)
	if err := agentStore.Migrate(ctx); err != nil {
		slog.Error("agent store migration failed", "error", err)
		return 1
	}
	policyStore := policy.NewSQLStore(db)
	if err := policyStore.Migrate(ctx); err != nil {
		slog.Error("policy store migration failed", "error", err)
		return 1
	}
	approvalStore := approval.NewSQLStore(db)
	if err := approvalStore.Migrate(ctx); err != nil {
		slog.Error("approval store migration failed", "error", err)
		return 1
	}
	auditStore := store.NewSQLStore(db)
	if err := auditStore.Migrate(ctx); err != nil {
		slog.Error("audit store migration failed", "error", err)
		return 1
	}

	seed, err := config.LoadSeedFile(cfg.SeedFilePath)
	if err != nil {
		slog.Error("seed file load failed", "error", err)
		return 1
	}
	if err := applySeed(ctx, seed, agentStore, policyStore); err != nil {
		slog.Error("seed application failed", "error", err)
		return 1
	}

	var keySet *identity.InMemoryKeySet
	if cfg.JWTPrivateKey != "" {
		keySet, err = identity.NewKeySetFromPEM([]byte(cfg.JWTPrivateKey), "")
	} else {
		keySet, err = identity.NewGeneratedKeySet()
	}
	if err != nil {
		slog.Error("failed to initialize signing key set", "error", err)
		return 1
	}
	tokens := identity.NewTokenManager(keySet)

	revocations := newRevocationSet(cfg)
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	revocation.RunSweeper(sweepCtx, revocations, 5*time.Minute, time.Hour)

	var rateLimitStore ratelimit.Store
	if cfg.RateLimitEnabled {
		rateLimitStore = newRateLimitStore(cfg)
	}

	notifier := approval.NewNotifier(cfg.WebhookURL, cfg.WebhookSecret)
	approvalQueue := approval.NewQueue(approvalStore, notifier)

	exporter := audit.NewExporter(auditStore)
	if uploader, err := audit.NewUploaderFromURI(ctx, cfg.EvidenceBucketURI); err != nil {
		slog.Error("evidence bucket uploader init failed", "error", err)
		return 1
	} else if uploader != nil {
		exporter = exporter.WithUploader(uploader)
	}

	dec := engine.New(agentStore, policyStore, approvalQueue, auditStore)

	gate := &auth.Gate{
		Tokens:        tokens,
		Revocations:   revocations,
		SuperAdminKey: cfg.AdminAPIKey,
		Agents:        &agent.KeyVerifier{Store: agentStore},
		Admins:        &agent.KeyVerifier{Store: agentStore},
	}

	srv := &api.Server{
		Gate:             gate,
		Agents:           agentStore,
		Policies:         policyStore,
		Approvals:        approvalQueue,
		Audit:            auditStore,
		Engine:           dec,
		Tokens:           tokens,
		KeySet:           keySet,
		Revocations:      revocations,
		RateLimiter:      rateLimitStore,
		RateLimitEnabled: cfg.RateLimitEnabled,
		Exporter:         exporter,
		Metrics:          metrics.New(),
		Idempotency:      api.NewIdempotencyStore(24 * time.Hour),
		AgentTokenTTL:    time.Duration(cfg.JWTAgentExpireSeconds) * time.Second,
		AdminTokenTTL:    time.Duration(cfg.JWTAdminExpireSeconds) * time.Second,
	}

	router := api.NewRouter(srv, cfg.CORSOrigins)

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("agentguard listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			slog.Error("server failed", "error", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
		return 1
	}
	slog.Info("agentguard stopped")
	return 0
}

// newRevocationSet picks Redis when rate_limit_storage_uri names a redis://
// endpoint (the same shared-state boundary the rate limiter crosses for
// multi-process deployments), else the single-process in-memory set.
func newRevocationSet(cfg *config.Config) revocation.Set {
	addr, password, db, ok := parseRedisURI(cfg.RateLimitStorageURI)
	if !ok {
		return revocation.NewInMemorySet()
	}
	return revocation.NewRedisSet(addr, password, db)
}

func newRateLimitStore(cfg *config.Config) ratelimit.Store {
	addr, password, db, ok := parseRedisURI(cfg.RateLimitStorageURI)
	if !ok {
		return ratelimit.NewInMemoryStore()
	}
	return ratelimit.NewRedisStore(addr, password, db)
}

// parseRedisURI parses "redis://[:password@]host:port[/db]"; Config.Validate
// has already rejected any scheme besides memory:// and redis://.
func parseRedisURI(uri string) (addr, password string, db int, ok bool) {
	if !strings.HasPrefix(uri, "redis://") {
		return "", "", 0, false
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", 0, false
	}
	addr = u.Host
	if p, set := u.User.Password(); set {
		password = p
	}
	db = 0
	if len(u.Path) > 1 {
		if n, err := strconv.Atoi(strings.TrimPrefix(u.Path, "/")); err == nil {
			db = n
		}
	}
	return addr, password, db, true
}

func runHealthCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	resp, err := http.Get(fmt.Sprintf("http://%s/health", net.JoinHostPort(cfg.Host, cfg.Port)))
	if err != nil {
		fmt.Fprintf(stderr, "agentguard: health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "agentguard: health check returned status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "OK")
	return 0
}
