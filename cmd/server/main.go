package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/streamvault/playback-license-service/internal/app"
	"github.com/streamvault/playback-license-service/internal/config"
	"github.com/streamvault/playback-license-service/internal/domain"
	"github.com/streamvault/playback-license-service/internal/health"
	"github.com/streamvault/playback-license-service/internal/http/handler"
	"github.com/streamvault/playback-license-service/internal/http/router"
	"github.com/streamvault/playback-license-service/internal/observability"
	"github.com/streamvault/playback-license-service/internal/repository"
	"github.com/streamvault/playback-license-service/internal/security"
	"github.com/streamvault/playback-license-service/internal/service"
	"github.com/streamvault/playback-license-service/internal/tools/common"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:           "playback-license-service",
		Short:         "License and concurrent-session engine for episode playback",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "env file loaded before configuration (missing file is ignored)")
	return cmd
}

func run(ctx context.Context, envFile string) error {
	if err := common.LoadEnvFile(envFile); err != nil {
		return err
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	logger, loggerProvider, err := observability.InitLogging(ctx, cfg)
	if err != nil {
		return err
	}
	runtime, err := observability.InitRuntime(ctx, cfg, logger, loggerProvider)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}

	checks := []health.Check{health.DatabaseCheck(db)}
	var (
		redisClient redis.UniversalClient
		missing     service.LicenseLookupCache
		locker      service.UserLocker
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		redisClient = client
		checks = append(checks, health.RedisCheck(client))
		missing = service.NewRedisLicenseLookupCache(redisClient, "license_missing", cfg.LicenseLookupCacheTTL)
		locker = service.NewRedisUserLocker(redisClient, "admission_lock", cfg.AdmissionLockTTL)
		logger.Info("redis enabled", "addr", cfg.RedisAddr)
	}

	licenseRepo := repository.NewLicenseRepository(db)
	streamRepo := repository.NewStreamRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	auditLogger := service.NewAuditLogger(auditRepo, logger)
	// TODO: replace AllowAllEntitlements with the catalog service client once
	// its entitlement endpoint is stable.
	licenseSvc := service.NewLicenseService(licenseRepo, service.AllowAllEntitlements{}, auditLogger, missing, cfg.DefaultLicenseTTL, logger)
	admission := service.NewAdmissionService(streamRepo, licenseSvc, auditLogger, locker, cfg.StreamStaleWindow, logger)
	licenseSvc.SetEvictor(admission)
	sweeper := service.NewHeartbeatSweeper(streamRepo, auditLogger, cfg.SweepInterval, cfg.StreamStaleWindow, logger)

	jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)
	mux := router.NewRouter(router.Dependencies{
		LicenseHandler:  handler.NewLicenseHandler(licenseSvc),
		PlaybackHandler: handler.NewPlaybackHandler(admission, cfg.MaxStreamsForPlan),
		AuditHandler:    handler.NewAuditHandler(auditLogger, cfg.AuditListLimit),
		JWTManager:      jwtMgr,
		Readiness:       health.NewProbeRunner(checks...),
		EnableOTelHTTP:  cfg.OTELTracesEnabled,
	})
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return app.New(cfg, logger, server, sweeper, runtime).Run(ctx)
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if cfg.DatabaseURL != "" {
		dialector = postgres.Open(cfg.DatabaseURL)
	} else {
		dialector = sqlite.Open(cfg.SQLitePath)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&domain.License{}, &domain.ActiveStream{}, &domain.AuditLogEntry{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}
