package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ourstudio-se/oat-db/internal/cache"
	"github.com/ourstudio-se/oat-db/internal/config"
	"github.com/ourstudio-se/oat-db/internal/httpapi"
	"github.com/ourstudio-se/oat-db/internal/merge"
	"github.com/ourstudio-se/oat-db/internal/realtime"
	"github.com/ourstudio-se/oat-db/internal/solve"
	"github.com/ourstudio-se/oat-db/internal/store/memstore"
	"github.com/ourstudio-se/oat-db/internal/store/pgstore"
	"github.com/ourstudio-se/oat-db/internal/versioning"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := cfg.BuildLogger()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	vstore, artifactStore, closeStore, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal("build store", zap.Error(err))
	}
	defer closeStore()

	viewCache := buildCache(cfg, logger)

	var hub *realtime.Hub
	if cfg.Realtime.Enabled {
		hub = realtime.NewHub(logger)
		go hub.Run()
	}

	vengine := versioning.New(vstore, viewCache)
	mergeEngine := merge.New(vstore, vengine)
	pipeline := solve.New(vengine, artifactStore, nil)

	server := httpapi.NewServer(cfg, vstore, vengine, mergeEngine, pipeline, artifactStore, hub, logger)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      server.NewRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	waitForShutdown(httpServer, logger)
}

// buildStore selects the memory or Postgres store backend per
// cfg.Database.Driver, returning both the versioning store and the
// artifact store that backend implements. The closer releases any open
// connections on shutdown.
func buildStore(cfg *config.Config, logger *zap.Logger) (versioning.Store, solve.ArtifactStore, func(), error) {
	if cfg.Database.Driver != "postgres" {
		logger.Info("using in-memory store", zap.String("driver", cfg.Database.Driver))
		mem := memstore.New()
		return mem.VersioningStore(), mem.ArtifactStore(), func() {}, nil
	}

	sqlxDB, err := sqlx.Connect("postgres", cfg.DatabaseDSN())
	if err != nil {
		return versioning.Store{}, nil, nil, err
	}
	sqlxDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlxDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlxDB.DB}), &gorm.Config{})
	if err != nil {
		sqlxDB.Close()
		return versioning.Store{}, nil, nil, err
	}

	pg := pgstore.New(sqlxDB, gormDB)
	logger.Info("using postgres store", zap.String("host", cfg.Database.Host), zap.String("database", cfg.Database.Database))
	return pg.VersioningStore(), pg.ArtifactStore(), func() { sqlxDB.Close() }, nil
}

// buildCache constructs the two-tier view cache. Redis is optional: with
// redis.enabled=false the cache runs local-tier only.
func buildCache(cfg *config.Config, logger *zap.Logger) *cache.Cache {
	var client *redis.Client
	if cfg.Redis.Enabled {
		client = redis.NewClient(&redis.Options{
			Addr:        cfg.RedisAddr(),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.Database,
			DialTimeout: cfg.Redis.DialTimeout,
		})
	}
	return cache.New(client, cfg.Redis.ViewCacheTTL, logger)
}

// waitForShutdown blocks until SIGINT/SIGTERM, then drains in-flight
// requests within a bounded window before returning.
func waitForShutdown(httpServer *http.Server, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
