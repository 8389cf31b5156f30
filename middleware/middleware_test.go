package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(token string) *fiber.App {
	log := slog.New(slog.DiscardHandler)
	app := fiber.New()
	app.Use(GatewayAuthMiddleware(token, log))
	app.Get("/open", func(c *fiber.Ctx) error { return c.SendString("ok") })

	user := app.Group("/me", UserContextMiddleware(log))
	user.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(UserID(c) + "|" + strings.Join(UserRoles(c), ","))
	})
	user.Get("/admin", RequireRole("admin"), func(c *fiber.Ctx) error { return c.SendString("admin") })
	return app
}

func get(t *testing.T, app *fiber.App, path string, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.String()
}

func TestGatewayAuthMiddleware(t *testing.T) {
	app := newApp("s3cret")

	status, body := get(t, app, "/open", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, body, `"kind":"unauthorized"`)

	status, _ = get(t, app, "/open", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = get(t, app, "/open", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, status)

	status, _ = get(t, app, "/open", map[string]string{"Authorization": "s3cret"})
	assert.Equal(t, http.StatusOK, status)
}

func TestGatewayAuthRejectsEverythingWithoutToken(t *testing.T) {
	app := newApp("")

	status, _ := get(t, app, "/open", map[string]string{"Authorization": "Bearer "})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestUserContextMiddleware(t *testing.T) {
	app := newApp("s3cret")
	auth := map[string]string{"Authorization": "Bearer s3cret"}

	status, _ := get(t, app, "/me", auth)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := get(t, app, "/me", map[string]string{
		"Authorization": "Bearer s3cret",
		"X-User-ID":     " user-7 ",
		"X-User-Roles":  "member, ,admin",
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "user-7|member,admin", body)

	status, _ = get(t, app, "/me/admin", map[string]string{
		"Authorization": "Bearer s3cret",
		"X-User-ID":     "user-7",
		"X-User-Roles":  "member",
	})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = get(t, app, "/me/admin", map[string]string{
		"Authorization": "Bearer s3cret",
		"X-User-ID":     "user-7",
		"X-User-Roles":  "admin",
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "admin", body)
}
