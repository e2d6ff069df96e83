package server

import (
	"context"
	"net"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"realtime-whiteboard/internal/auth"
	"realtime-whiteboard/internal/config"
	"realtime-whiteboard/internal/handler"
	"realtime-whiteboard/internal/hub"
	"realtime-whiteboard/internal/middleware"
	"realtime-whiteboard/internal/presence"
	"realtime-whiteboard/internal/service"
	"realtime-whiteboard/internal/store"
)

// Deps 서버가 쓰는 외부 자원. DB/Redis 는 드라이버 설정에 따라 nil 일 수 있다.
type Deps struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Store    store.ElementStore
	Presence presence.Registry
	Members  service.Membership
	Hub      *hub.Hub
	Registry *prometheus.Registry
	Log      *zap.Logger
}

// Server Fiber 서버 래퍼
type Server struct {
	app        *fiber.App
	cfg        *config.Config
	deps       Deps
	log        *zap.Logger
	jwtManager *auth.JWTManager

	boardHandler    *handler.BoardHandler
	boardWSHandler  *handler.BoardWSHandler
	healthHandler   *handler.HealthHandler
	boardMiddleware *middleware.BoardMiddleware
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Whiteboard Sync",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	log := deps.Log.Named("server")
	return &Server{
		app:             app,
		cfg:             cfg,
		deps:            deps,
		log:             log,
		jwtManager:      auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry),
		boardHandler:    handler.NewBoardHandler(deps.Store, deps.Presence, cfg.Sync.StoreTimeout, log),
		boardWSHandler:  handler.NewBoardWSHandler(deps.Hub, deps.Log.Named("ws")),
		healthHandler:   handler.NewHealthHandler(deps.DB, deps.Redis, deps.Hub),
		boardMiddleware: middleware.NewBoardMiddleware(deps.Members, log),
	}
}

// App 테스트용 fiber 앱
func (s *Server) App() *fiber.App {
	return s.app
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.cfg.CORS.AllowOrigins,
		AllowHeaders: s.cfg.CORS.AllowHeaders,
		AllowMethods: "GET, OPTIONS",
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	// Prometheus
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})))

	// Rate Limiter 설정 (HTTP API 용)
	apiLimiter := limiter.New(limiter.Config{
		Max:        s.cfg.Server.RateLimit,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() // IP 기반 제한
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// Board 라우트 그룹 (인증 + 멤버십 필요)
	boardGroup := s.app.Group("/api/boards/:boardId",
		apiLimiter,
		auth.AuthMiddleware(s.jwtManager),
		s.boardMiddleware.RequireMembership(),
	)
	boardGroup.Get("/elements", s.boardHandler.GetElements)
	boardGroup.Get("/presence", s.boardHandler.GetPresence)

	// WebSocket 보드 동기화 엔드포인트 (업그레이드 전에 인증/멤버십 확인)
	s.app.Get("/ws/boards/:boardId",
		s.boardWSHandler.RequireUpgrade,
		auth.AuthMiddleware(s.jwtManager),
		s.boardMiddleware.RequireMembership(),
		s.boardWSHandler.Accept,
		websocket.New(s.boardWSHandler.HandleWebSocket, websocket.Config{
			ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
		}),
	)
}

// Run 포트에서 서버 시작. ctx 가 끝나면 Graceful Shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Port)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 주어진 리스너로 서버 시작
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("🚀 Whiteboard sync server starting",
			zap.String("addr", ln.Addr().String()),
			zap.String("instance", s.cfg.Sync.InstanceID))
		s.log.Info("📡 WebSocket endpoint: /ws/boards/:boardId")
		return s.app.Listener(ln)
	})

	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("🛑 Shutting down server...")
		// 소켓을 먼저 끊어야 presence 가 정리된다
		s.deps.Hub.Close()
		return s.app.ShutdownWithTimeout(s.cfg.Server.ShutdownTimeout)
	})

	return g.Wait()
}
