package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_RoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)

	token, err := m.GenerateAccessToken("u-1", "ann@example.com", "Ann")
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "Ann", claims.Name)
	assert.Equal(t, "ann@example.com", claims.Email)
}

func TestJWT_Rejects(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	other := NewJWTManager("other-secret", time.Hour)
	expired := NewJWTManager("secret", -time.Minute)

	foreign, err := other.GenerateAccessToken("u-1", "", "")
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	old, err := expired.GenerateAccessToken("u-1", "", "")
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(old)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = m.ValidateAccessToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	anonymous, err := m.GenerateAccessToken("", "", "")
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(anonymous)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func newAuthApp(m *JWTManager) *fiber.App {
	app := fiber.New()
	app.Get("/me", AuthMiddleware(m), func(c *fiber.Ctx) error {
		claims, err := GetClaimsFromContext(c)
		if err != nil {
			return err
		}
		return c.SendString(claims.UserID)
	})
	return app
}

func TestAuthMiddleware_TokenSources(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	app := newAuthApp(m)
	token, err := m.GenerateAccessToken("u-7", "", "Bo")
	require.NoError(t, err)

	header := httptest.NewRequest("GET", "/me", nil)
	header.Header.Set("Authorization", "Bearer "+token)
	cookie := httptest.NewRequest("GET", "/me", nil)
	cookie.Header.Set("Cookie", "access_token="+token)
	query := httptest.NewRequest("GET", "/me?token="+token, nil)

	for name, req := range map[string]*http.Request{"header": header, "cookie": cookie, "query": query} {
		t.Run(name, func(t *testing.T) {
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusOK, resp.StatusCode)
			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, "u-7", string(body))
		})
	}
}

func TestAuthMiddleware_Unauthorized(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	app := newAuthApp(m)

	missing := httptest.NewRequest("GET", "/me", nil)
	malformed := httptest.NewRequest("GET", "/me", nil)
	malformed.Header.Set("Authorization", "Token abc")
	invalid := httptest.NewRequest("GET", "/me?token=abc", nil)

	for name, req := range map[string]*http.Request{"missing": missing, "malformed": malformed, "invalid": invalid} {
		t.Run(name, func(t *testing.T) {
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}
}
