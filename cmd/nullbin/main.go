package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nullbin/cfg"
	"nullbin/metrics"
	"nullbin/pkg/secrets"
	"nullbin/svc/api"
	"nullbin/svc/db"
	"nullbin/svc/lim"
	"nullbin/svc/svc"
	"nullbin/svc/util"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		healthCheck()
		return
	}

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting nullbin API")
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Operational credentials can live in Vault or Secrets Manager;
	// plain env vars remain the fallback for local runs.
	sec := secrets.NewAdapter(ctx)
	if c.MetricsPass.Value() == "" {
		if val, err := sec.GetSecret(ctx, "METRICS_PASS"); err == nil {
			c.MetricsPass = cfg.NewSecret(val)
		}
	}
	if c.RedisPassword.Value() == "" {
		if val, err := sec.GetSecret(ctx, "REDIS_PASSWORD"); err == nil {
			c.RedisPassword = cfg.NewSecret(val)
		}
	}

	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize database")
		os.Exit(1)
	}
	defer sqlDB.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")
	sqlDB.StartWALMaintenance(ctx)

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("redis required in production")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable, rate limits are per-process")
		} else {
			util.Info().Msg("redis connected")
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}

	limiter, err := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, c.LimiterIPCap, rdb, c.TrustedProxies)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize rate limiter")
		os.Exit(1)
	}
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	pasteSvc := svc.NewPaste(sqlDB, c)
	pasteSvc.StartCleaner(ctx)
	util.Info().Dur("interval", c.CleanupInterval).Msg("expiry sweep worker started")

	server := api.NewServer(c, pasteSvc, limiter, sqlDB, rdb)
	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()
	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	cancel()
	if err := pasteSvc.Shutdown(shutdownCtx); err != nil {
		util.Warn().Err(err).Msg("paste service did not drain in time")
	}
	util.Info().Msg("shutdown complete")
}

func healthCheck() {
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "nullbin.db"
	}
	sqlDB, err := db.NewSQLite(dbPath)
	if err != nil {
		os.Exit(1)
	}
	defer sqlDB.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sqlDB.Ping(ctx); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}
