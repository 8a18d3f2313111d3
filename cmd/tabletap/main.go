package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tabletap/config"
	httpapi "tabletap/internal/api/http"
	"tabletap/internal/logger"
	"tabletap/internal/service"
	"tabletap/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	var store service.Store
	switch cfg.Store {
	case "postgres":
		db = config.MustInitPostgres(cfg.Database, log)
		defer db.Close()
		repo := storage.NewPostgresRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatal("failed to ensure schema", zap.Error(err))
		}
		store = repo
	default:
		log.Warn("using in-memory store, data is lost on restart")
		store = storage.NewMemoryStore()
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = config.MustInitRedis(cfg.Redis, log)
		defer rdb.Close()
	}

	artifacts, err := newArtifactStore(ctx, cfg, rdb, log)
	if err != nil {
		log.Fatal("failed to init artifact store", zap.Error(err))
	}

	var opts []service.OrderEngineOption
	if cfg.Kafka.Enabled() {
		writer := config.NewKafkaWriter(cfg.Kafka)
		defer writer.Close()
		opts = append(opts, service.WithPublisher(storage.NewKafkaPublisher(writer)))
		log.Info("publishing order events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	if rdb != nil {
		opts = append(opts, service.WithBoard(storage.NewRedisOrderBoard(rdb)))
	}

	if cfg.JWT.Generated {
		log.Warn("TABLETAP_JWT_SECRET is unset; using a random secret, tokens will not survive a restart")
	}
	identity := service.NewIdentityService(store, cfg.JWT.Secret, cfg.JWT.TTL, log)
	tables := service.NewTableManager(store, artifacts, service.DefaultQRCodec{}, cfg.PublicBaseURL, log)
	catalog := service.NewCatalogService(store, artifacts, log)
	orders := service.NewOrderEngine(store, log, opts...)

	if err := identity.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		log.Fatal("failed to bootstrap admin", zap.Error(err))
	}

	handler := httpapi.NewHandler(identity, tables, catalog, orders, log)
	if err := httpapi.StartServer(ctx, cfg.Addr, httpapi.NewRouter(handler), log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func newArtifactStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *zap.Logger) (service.ArtifactStore, error) {
	switch cfg.Artifacts.Backend {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis artifact backend without redis connection")
		}
		return storage.NewRedisArtifactStore(rdb, 0), nil
	case "s3":
		s3cfg := cfg.Artifacts.S3
		client, err := storage.NewS3Client(ctx, storage.S3Options{
			Endpoint:     s3cfg.Endpoint,
			Region:       s3cfg.Region,
			Bucket:       s3cfg.Bucket,
			AccessKey:    s3cfg.AccessKey,
			SecretKey:    s3cfg.SecretKey,
			UsePathStyle: s3cfg.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return storage.NewS3ArtifactStore(client, s3cfg.Bucket, log), nil
	default:
		return storage.NewFileArtifactStore(cfg.Artifacts.MediaRoot), nil
	}
}
