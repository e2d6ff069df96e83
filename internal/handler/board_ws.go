package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"realtime-whiteboard/internal/auth"
	"realtime-whiteboard/internal/hub"
	"realtime-whiteboard/internal/session"
)

// BoardWSHandler 보드 동기화 WebSocket 핸들러
type BoardWSHandler struct {
	hub *hub.Hub
	log *zap.Logger
}

// NewBoardWSHandler BoardWSHandler 생성
func NewBoardWSHandler(h *hub.Hub, log *zap.Logger) *BoardWSHandler {
	return &BoardWSHandler{hub: h, log: log}
}

// RequireUpgrade WebSocket 업그레이드 요청만 통과
func (h *BoardWSHandler) RequireUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

// Accept 인증/멤버십 확인을 통과한 요청에서 신원을 꺼내 업그레이드한다.
func (h *BoardWSHandler) Accept(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	name := claims.Name
	if name == "" {
		name = claims.Email
	}
	c.Locals("identity", session.Identity{UserID: claims.UserID, Name: name})
	return c.Next()
}

// HandleWebSocket 연결이 끊길 때까지 허브에서 처리
func (h *BoardWSHandler) HandleWebSocket(c *websocket.Conn) {
	boardID, _ := c.Locals("boardID").(string)
	identity, ok := c.Locals("identity").(session.Identity)
	if !ok || boardID == "" {
		h.log.Error("websocket without identity")
		c.Close()
		return
	}

	s := h.hub.NewSession(c, boardID, identity)
	if err := h.hub.Serve(s); err != nil {
		h.log.Warn("session ended with error",
			zap.String("board", boardID),
			zap.String("conn", s.ID),
			zap.Error(err))
	}
}
