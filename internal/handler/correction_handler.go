package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/service"
	"github.com/noah-isme/gema-exam-api/internal/utils"
)

// CorrectionHandler wires the grader endpoints of exam submissions.
type CorrectionHandler struct {
	corrections service.CorrectionService
	submissions service.ExamSubmissionService
	bulkLimiter fiber.Handler
	logger      zerolog.Logger
}

// NewCorrectionHandler constructs the handler. bulkLimiter guards the AI bulk
// endpoint and may be nil.
func NewCorrectionHandler(corrections service.CorrectionService, submissions service.ExamSubmissionService, bulkLimiter fiber.Handler, logger zerolog.Logger) *CorrectionHandler {
	return &CorrectionHandler{
		corrections: corrections,
		submissions: submissions,
		bulkLimiter: bulkLimiter,
		logger:      logger.With().Str("component", "correction_handler").Logger(),
	}
}

// Register attaches correction endpoints under /admin/exams.
func (h *CorrectionHandler) Register(router fiber.Router) {
	router.Get("/:examId/submissions/:userId", h.submission)
	router.Patch("/:examId/submissions/:userId/questions/:questionId/correction", h.correctQuestion)

	if h.bulkLimiter != nil {
		router.Post("/:examId/submissions/:userId/corrections/ai", h.bulkLimiter, h.correctAll)
		return
	}
	router.Post("/:examId/submissions/:userId/corrections/ai", h.correctAll)
}

func (h *CorrectionHandler) submission(c *fiber.Ctx) error {
	examID, userID, err := submissionParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.submissions.GetForUser(requestContext(c), examID, userID)
	if err != nil {
		return sendExamError(c, requestLogger(h.logger, c), err, nil)
	}

	return utils.SendSuccess(c, "exam submission", submission)
}

func (h *CorrectionHandler) correctQuestion(c *fiber.Ctx) error {
	examID, userID, err := submissionParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	questionID, err := parseUintParam(c, "questionId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid question id")
	}

	var payload dto.CorrectQuestionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.corrections.CorrectQuestion(requestContext(c), examID, userID, questionID, payload, correctionActorFromContext(c))
	if err != nil {
		return sendExamError(c, requestLogger(h.logger, c), err, nil)
	}

	return utils.SendSuccess(c, "question corrected", result)
}

func (h *CorrectionHandler) correctAll(c *fiber.Ctx) error {
	examID, userID, err := submissionParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.CorrectAllRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
	}

	result, err := h.corrections.CorrectAll(requestContext(c), examID, userID, payload)
	if err != nil {
		if errors.Is(err, service.ErrBulkCorrectionFailed) {
			return sendExamError(c, requestLogger(h.logger, c), err, result)
		}
		return sendExamError(c, requestLogger(h.logger, c), err, nil)
	}

	message := "submission corrected"
	if len(result.Errors) > 0 {
		message = "submission partially corrected"
	}

	return utils.SendSuccess(c, message, result)
}

func submissionParams(c *fiber.Ctx) (uint, uint, error) {
	examID, err := parseUintParam(c, "examId")
	if err != nil {
		return 0, 0, errors.New("invalid exam id")
	}
	userID, err := parseUintParam(c, "userId")
	if err != nil {
		return 0, 0, errors.New("invalid user id")
	}
	return examID, userID, nil
}
