package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"realtime-whiteboard/internal/config"
	"realtime-whiteboard/internal/database"
	"realtime-whiteboard/internal/hub"
	"realtime-whiteboard/internal/logging"
	"realtime-whiteboard/internal/metrics"
	"realtime-whiteboard/internal/presence"
	"realtime-whiteboard/internal/pubsub"
	"realtime-whiteboard/internal/server"
	"realtime-whiteboard/internal/service"
	"realtime-whiteboard/internal/store"
)

func main() {
	// 설정 로드
	cfg := config.Load()

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("❌ Logger setup failed: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("❌ Server failed", zap.Error(err))
	}
	logger.Info("👋 Server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// 데이터베이스 연결
	var db *gorm.DB
	var err error
	switch cfg.Drivers.Store {
	case "postgres":
		db, err = database.ConnectDB(cfg.Database)
	case "sqlite":
		db, err = database.ConnectSQLite(cfg.Database.SQLitePath)
	}
	if err != nil {
		return err
	}
	if db != nil {
		defer database.Close(db)
		if err := database.Ping(db); err != nil {
			return err
		}
		logger.Info("✅ Database connected", zap.String("driver", cfg.Drivers.Store))
	}

	var redisClient *redis.Client
	if cfg.Drivers.UsesRedis() {
		redisClient, err = database.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	var pool *pgxpool.Pool
	if cfg.Drivers.Pubsub == "postgres" {
		pool, err = database.ConnectPool(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	// 변경 피드
	var ps pubsub.Pubsub
	switch cfg.Drivers.Pubsub {
	case "redis":
		ps, err = pubsub.NewRedis(ctx, redisClient, logger)
	case "postgres":
		ps, err = pubsub.NewPostgres(ctx, pool, logger)
	default:
		ps = pubsub.NewInMemory()
	}
	if err != nil {
		return err
	}
	defer ps.Close()

	// 요소 저장소
	var st store.ElementStore
	var members service.Membership
	if db != nil {
		st = store.NewGormStore(db, ps, cfg.Sync.InstanceID, logger)
		members = service.NewMemberService(db)
	} else {
		logger.Warn("⚠️ In-memory store: elements are lost on restart and every authenticated user can join any board")
		st = store.NewMemoryStore(ps, cfg.Sync.InstanceID, logger)
		members = service.OpenMembership{}
	}

	// presence
	var reg presence.Registry
	if cfg.Drivers.Presence == "redis" {
		reg = presence.NewRedisRegistry(redisClient, cfg.Sync.PresenceTTL)
	} else {
		reg = presence.NewMemoryRegistry()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	h := hub.New(hub.Config{
		InstanceID:        cfg.Sync.InstanceID,
		HeartbeatInterval: cfg.Sync.HeartbeatInterval,
		WriteTimeout:      cfg.WebSocket.WriteTimeout,
		SendQueueLimit:    cfg.Sync.SendQueueLimit,
		StoreTimeout:      cfg.Sync.StoreTimeout,
	}, st, reg, metrics.New(registry), logger)

	// 서버 생성 및 설정
	srv := server.New(cfg, server.Deps{
		DB:       db,
		Redis:    redisClient,
		Store:    st,
		Presence: reg,
		Members:  members,
		Hub:      h,
		Registry: registry,
		Log:      logger,
	})
	srv.SetupMiddleware()
	srv.SetupRoutes()

	return srv.Run(ctx)
}
