package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LaboInfra/fob-api/internal/app/migrate"
	"github.com/LaboInfra/fob-api/internal/cloud/openstack"
	httpx "github.com/LaboInfra/fob-api/internal/http"
	"github.com/LaboInfra/fob-api/internal/mail"
	"github.com/LaboInfra/fob-api/internal/repository/postgres"
	"github.com/LaboInfra/fob-api/internal/service/auth"
	"github.com/LaboInfra/fob-api/internal/service/guard"
	"github.com/LaboInfra/fob-api/internal/service/ledger"
	"github.com/LaboInfra/fob-api/internal/service/project"
	syncsvc "github.com/LaboInfra/fob-api/internal/service/sync"
	"github.com/LaboInfra/fob-api/internal/service/user"
	"github.com/LaboInfra/fob-api/internal/ws"
	"github.com/LaboInfra/fob-api/pkg/config"
	"github.com/LaboInfra/fob-api/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()

	identity := openstack.NewIdentity(cfg.CloudIdentityURL, cfg.CloudToken, cfg.CloudDomainID, cfg.CloudRoleID)
	compute := openstack.NewCompute(cfg.CloudComputeURL, cfg.CloudToken)
	storage := openstack.NewStorage(cfg.CloudStorageURL, cfg.CloudToken)
	mailer := mail.NewSMTP(cfg.MailHost, cfg.MailPort, cfg.MailFrom)

	g := guard.New(repo, repo)
	synchronizer := syncsvc.New(repo, identity, compute, storage, hub, log, cfg.CloudCallTimeout)
	ledgerSvc := ledger.New(repo, repo, repo, g, synchronizer, hub, log)
	projectSvc := project.New(repo, repo, g, identity, identity, ledgerSvc, log, cfg)
	userSvc := user.New(repo, g, identity, mailer, log, cfg)
	authSvc := auth.New(repo, log, cfg)

	resyncer := syncsvc.NewResyncer(repo, synchronizer, cfg.ResyncInterval, log)
	go resyncer.Run(ctx)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, userSvc, projectSvc, ledgerSvc, hub, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
