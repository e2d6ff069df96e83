package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"realtime-whiteboard/internal/hub"
)

// HealthHandler 헬스체크 핸들러
type HealthHandler struct {
	db    *gorm.DB
	redis *redis.Client
	hub   *hub.Hub
}

// NewHealthHandler HealthHandler 생성. 사용하지 않는 의존성은 nil.
func NewHealthHandler(db *gorm.DB, redisClient *redis.Client, h *hub.Hub) *HealthHandler {
	return &HealthHandler{db: db, redis: redisClient, hub: h}
}

// ComponentCheck 컴포넌트 상태
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse 헬스체크 응답
type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp string                    `json:"timestamp"`
	Checks    map[string]ComponentCheck `json:"checks"`
	Sync      hub.Stats                 `json:"sync"`
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ComponentCheck {
	if h.db == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	start := time.Now()
	sqlDB, err := h.db.DB()
	if err != nil {
		return ComponentCheck{Status: "unhealthy", Error: "failed to get database connection"}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return ComponentCheck{Status: "unhealthy", Error: "database ping failed"}
	}
	return ComponentCheck{Status: "healthy", Latency: time.Since(start).String()}
}

func (h *HealthHandler) checkRedis(ctx context.Context) ComponentCheck {
	if h.redis == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	start := time.Now()
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return ComponentCheck{Status: "unhealthy", Error: "redis ping failed"}
	}
	return ComponentCheck{Status: "healthy", Latency: time.Since(start).String()}
}

func (h *HealthHandler) checks(ctx context.Context) (map[string]ComponentCheck, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	checks := map[string]ComponentCheck{
		"database": h.checkDatabase(ctx),
		"redis":    h.checkRedis(ctx),
	}
	healthy := true
	for _, c := range checks {
		if c.Status == "unhealthy" {
			healthy = false
		}
	}
	return checks, healthy
}

// Check 전체 상태 확인 (DB + Redis + 연결 현황)
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	checks, healthy := h.checks(c.UserContext())
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    checks,
		Sync:      h.hub.Stats(),
	}

	statusCode := fiber.StatusOK
	if !healthy {
		response.Status = "unhealthy"
		statusCode = fiber.StatusServiceUnavailable
	}
	return c.Status(statusCode).JSON(response)
}

// Liveness K8s liveness probe용 (단순 체크)
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// Readiness K8s readiness probe용 (DB/Redis 연결 체크)
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	if _, healthy := h.checks(c.UserContext()); !healthy {
		return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
	}
	return c.SendString("READY")
}
