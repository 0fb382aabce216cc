package middleware_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-api/internal/middleware"
)

func TestObservabilityLogsExamRouteContext(t *testing.T) {
	var logs bytes.Buffer

	app := fiber.New()
	app.Use(middleware.CorrelationID())
	app.Use(middleware.Observability(zerolog.New(&logs)))
	app.Post("/api/v2/admin/exams/:examId/submissions/:userId/corrections/ai", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})
	app.Get("/api/v2/notifications/stream", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v2/admin/exams/42/submissions/7/corrections/ai", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	out := logs.String()
	require.Contains(t, out, `"area":"bulk_correction"`)
	require.Contains(t, out, `"exam_id":"42"`)
	require.Contains(t, out, `"route":"/api/v2/admin/exams/:examId/submissions/:userId/corrections/ai"`)

	logs.Reset()
	_, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/notifications/stream", nil), -1)
	require.NoError(t, err)
	require.Empty(t, logs.String())
}
