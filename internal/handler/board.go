package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"realtime-whiteboard/internal/presence"
	"realtime-whiteboard/internal/store"
)

// BoardHandler 소켓 없이 보드 상태를 읽는 HTTP 핸들러
type BoardHandler struct {
	store    store.ElementStore
	presence presence.Registry
	timeout  time.Duration
	log      *zap.Logger
}

// NewBoardHandler BoardHandler 생성
func NewBoardHandler(st store.ElementStore, reg presence.Registry, timeout time.Duration, log *zap.Logger) *BoardHandler {
	return &BoardHandler{store: st, presence: reg, timeout: timeout, log: log}
}

// GetElements 보드의 전체 요소 (생성 순)
func (h *BoardHandler) GetElements(c *fiber.Ctx) error {
	boardID := c.Params("boardId")
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	elements, err := h.store.ListElements(ctx, boardID)
	if err != nil {
		h.log.Warn("list elements failed", zap.String("board", boardID), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "failed to load elements"})
	}

	return c.JSON(fiber.Map{
		"boardId":  boardID,
		"elements": elements,
	})
}

// GetPresence 보드의 현재 접속자
func (h *BoardHandler) GetPresence(c *fiber.Ctx) error {
	boardID := c.Params("boardId")
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	list, err := h.presence.List(ctx, boardID)
	if err != nil {
		h.log.Warn("list presence failed", zap.String("board", boardID), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "failed to load presence"})
	}

	return c.JSON(fiber.Map{
		"boardId":  boardID,
		"presence": list,
	})
}
