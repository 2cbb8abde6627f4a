package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"selftreat/internal/config"
	apphttp "selftreat/internal/http"
	"selftreat/internal/metrics"
	"selftreat/internal/repository"
	"selftreat/internal/repository/jsonfile"
	"selftreat/internal/repository/sqlite"
	"selftreat/internal/service"
	"selftreat/internal/session"
	"selftreat/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer store.Close()

	defaultAdmin, err := service.NewAdmin(cfg.Auth.DefaultUsername, cfg.Auth.DefaultPassword)
	if err != nil {
		logger.Fatalf("default admin: %v", err)
	}
	if err := store.Init(ctx, defaultAdmin); err != nil {
		logger.Fatalf("init store: %v", err)
	}
	logger.Info("Database initialized successfully")

	sessions, err := buildSessions(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup sessions: %v", err)
	}
	tokens, err := session.NewTokenIssuer(cfg.Auth.JWTSecret)
	if err != nil {
		logger.Fatalf("token issuer: %v", err)
	}

	var storageSvc storage.Service
	if cfg.Backup.Bucket != "" {
		storageSvc, err = buildStorage(ctx, cfg, logger)
		if err != nil {
			logger.Fatalf("setup storage: %v", err)
		}
	} else {
		logger.Info("backup bucket not set, backups disabled")
	}

	catalogService := service.NewCatalogService(store)
	authService := service.NewAuthService(store, sessions, tokens, cfg.Auth.TokenTTL)
	backupService := service.NewBackupService(store, storageSvc, service.BackupConfig{
		Bucket:    cfg.Backup.Bucket,
		KeyPrefix: cfg.Backup.KeyPrefix,
		Retain:    cfg.Backup.Retain,
	}, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterCollectors(reg)

	gin.SetMode(gin.ReleaseMode)
	router, err := apphttp.NewRouter(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Fatalf("setup router: %v", err)
	}
	handler := apphttp.NewHandler(catalogService, authService, backupService, logger, apphttp.Options{
		StaticDir:  cfg.Server.StaticDir,
		LoginRPS:   cfg.RateLimit.LoginRPS,
		LoginBurst: cfg.RateLimit.LoginBurst,
		Gatherer:   reg,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func buildStore(cfg config.Config, logger *logrus.Logger) (repository.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Infof("using sqlite store %s", cfg.Store.SQLitePath)
		return sqlite.NewStore(db, logger), nil
	default:
		logger.Infof("using json store %s", cfg.Store.Path)
		return jsonfile.NewStore(jsonfile.Config{
			Path:        cfg.Store.Path,
			AtomicWrite: cfg.Store.AtomicWrite,
			Logger:      logger,
		}), nil
	}
}

func buildSessions(ctx context.Context, cfg config.Config, logger *logrus.Logger) (session.Store, error) {
	if cfg.Session.Driver == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
		}
		logger.Infof("using redis sessions at %s", cfg.Redis.Addr)
		return session.NewRedisStore(client, ""), nil
	}

	store := session.NewMemoryStore()
	go store.Run(ctx, cfg.Session.SweepInterval)
	return store, nil
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Backup.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Backup.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Backup.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("backing up to s3 bucket %s (region %s)", cfg.Backup.Bucket, cfg.Backup.Region)
	return storage.NewS3Service(client), nil
}
