package middleware

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"realtime-whiteboard/internal/auth"
	"realtime-whiteboard/internal/hub"
	"realtime-whiteboard/internal/service"
)

// BoardMiddleware 보드 권한 미들웨어
type BoardMiddleware struct {
	members service.Membership
	log     *zap.Logger
}

// NewBoardMiddleware BoardMiddleware 생성
func NewBoardMiddleware(members service.Membership, log *zap.Logger) *BoardMiddleware {
	return &BoardMiddleware{members: members, log: log}
}

// RequireMembership 보드 소유자/협업자 필수. AuthMiddleware 뒤에 둔다.
func (m *BoardMiddleware) RequireMembership() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := auth.GetClaimsFromContext(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		boardID := c.Params("boardId")
		if boardID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "board ID is required",
			})
		}

		ok, err := m.members.IsBoardMember(c.UserContext(), boardID, claims.UserID)
		if err != nil {
			m.log.Error("membership lookup failed", zap.String("board", boardID), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "membership lookup failed",
			})
		}
		if !ok {
			authErr := &hub.AuthorizationError{UserID: claims.UserID, BoardID: boardID}
			m.log.Info("🚫 board access denied", zap.Error(authErr))
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "not a board member",
			})
		}

		c.Locals("boardID", boardID)
		return c.Next()
	}
}
