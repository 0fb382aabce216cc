package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-api/internal/service"
	"github.com/noah-isme/gema-exam-api/internal/utils"
	"github.com/noah-isme/gema-exam-api/pkg/ai"
)

// examErrorStatus maps exam workflow errors to HTTP status codes. Unknown
// errors map to 500.
func examErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrExamNotFound),
		errors.Is(err, service.ErrExamSubmissionNotFound),
		errors.Is(err, service.ErrQuestionNotFound),
		errors.Is(err, service.ErrAnswerNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrInvalidAnswers),
		errors.Is(err, service.ErrInvalidCorrectionMethod),
		errors.Is(err, service.ErrScoreRequired),
		errors.Is(err, service.ErrScoreOutOfRange),
		errors.Is(err, service.ErrFeedbackRequired),
		errors.Is(err, service.ErrQuestionNotCorrectable),
		errors.Is(err, service.ErrInvalidRigor),
		isValidationError(err):
		return fiber.StatusBadRequest
	case errors.Is(err, service.ErrSubmissionExists):
		return fiber.StatusConflict
	case errors.Is(err, service.ErrGraderUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, service.ErrBulkCorrectionFailed),
		errors.Is(err, ai.ErrGradingFailed):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func sendExamError(c *fiber.Ctx, logger *zerolog.Logger, err error, details interface{}) error {
	status := examErrorStatus(err)
	if status == fiber.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.Path()).Msg("exam request failed")
		return utils.SendError(c, status, "internal server error")
	}
	if status == fiber.StatusBadGateway {
		logger.Warn().Err(err).Str("path", c.Path()).Msg("grading provider failed")
	}
	return utils.Fail(c, status, err.Error(), details)
}
