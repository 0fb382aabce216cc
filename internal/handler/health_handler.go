package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-exam-api/internal/config"
	"github.com/noah-isme/gema-exam-api/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	AIGrading   string    `json:"ai_grading"`
}

// HealthCheck returns a handler that reports application health information,
// including which grading provider backs AI corrections.
func HealthCheck(cfg config.Config) fiber.Handler {
	grading := cfg.AIProvider
	switch {
	case grading == "" || grading == "none":
		grading = "disabled"
	case grading == "openai" && cfg.OpenAIAPIKey == "",
		grading == "anthropic" && cfg.AnthropicAPIKey == "":
		grading = "unconfigured"
	}

	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			AIGrading:   grading,
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
