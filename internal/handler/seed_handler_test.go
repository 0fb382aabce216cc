package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/handler"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/service"
)

type mockSeedService struct {
	err       error
	lastToken string
	lastExam  *dto.ExamSeedRequest
}

func (m *mockSeedService) SeedExam(_ context.Context, token string, req dto.ExamSeedRequest) (dto.ExamSeedResponse, error) {
	m.lastToken = token
	m.lastExam = &req
	if m.err != nil {
		return dto.ExamSeedResponse{}, m.err
	}
	return dto.ExamSeedResponse{ID: 9, Title: req.Title, ScoringMethod: "normal", Questions: len(req.Questions)}, nil
}

func (m *mockSeedService) ImportExam(ctx context.Context, req dto.ExamSeedRequest) (dto.ExamSeedResponse, error) {
	return m.SeedExam(ctx, "", req)
}

func seedRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/seed/exams", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Seed-Token", "secret")
	return req
}

func TestSeedHandler_ExamSuccess(t *testing.T) {
	svc := &mockSeedService{}
	app := fiber.New()
	handler.NewSeedHandler(svc, zerolog.New(io.Discard)).Register(app.Group("/api/seed"))

	body, err := json.Marshal(dto.ExamSeedRequest{
		Title:     "Mock",
		Questions: []dto.ExamQuestionSeed{{Kind: models.QuestionKindDiscursive, Statement: "Why?"}},
	})
	require.NoError(t, err)

	resp, err := app.Test(seedRequest(t, body))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var response struct {
		Success bool                 `json:"success"`
		Data    dto.ExamSeedResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)

	require.True(t, response.Success)
	require.Equal(t, uint(9), response.Data.ID)
	require.Equal(t, 1, response.Data.Questions)
	require.Equal(t, "secret", svc.lastToken)
}

func TestSeedHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		statusCode int
		message    string
	}{
		{name: "disabled", err: service.ErrSeedDisabled, statusCode: fiber.StatusForbidden, message: "seeding disabled"},
		{name: "unauthorized", err: service.ErrSeedUnauthorized, statusCode: fiber.StatusForbidden, message: "invalid token"},
		{name: "fixture", err: fmt.Errorf("%w: question 1", service.ErrInvalidExamFixture), statusCode: fiber.StatusBadRequest, message: "invalid exam fixture: question 1"},
		{name: "generic", err: errors.New("boom"), statusCode: fiber.StatusInternalServerError, message: "seed operation failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockSeedService{err: tc.err}
			app := fiber.New()
			handler.NewSeedHandler(svc, zerolog.New(io.Discard)).Register(app.Group("/api/seed"))

			resp, err := app.Test(seedRequest(t, []byte(`{"title":"Mock","questions":[]}`)))
			require.NoError(t, err)
			require.Equal(t, tc.statusCode, resp.StatusCode)

			var response struct {
				Success bool   `json:"success"`
				Message string `json:"message"`
			}
			decodeResponse(t, resp, &response)
			require.False(t, response.Success)
			require.Equal(t, tc.message, response.Message)
		})
	}
}

func TestSeedHandler_InvalidPayload(t *testing.T) {
	svc := &mockSeedService{}
	app := fiber.New()
	handler.NewSeedHandler(svc, zerolog.New(io.Discard)).Register(app.Group("/api/seed"))

	resp, err := app.Test(seedRequest(t, []byte("not json")))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Nil(t, svc.lastExam)
}
