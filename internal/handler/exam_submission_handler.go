package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/middleware"
	"github.com/noah-isme/gema-exam-api/internal/service"
	"github.com/noah-isme/gema-exam-api/internal/utils"
)

// ExamSubmissionHandler exposes the learner side of exams.
type ExamSubmissionHandler struct {
	service service.ExamSubmissionService
	logger  zerolog.Logger
}

// NewExamSubmissionHandler constructs the handler.
func NewExamSubmissionHandler(service service.ExamSubmissionService, logger zerolog.Logger) *ExamSubmissionHandler {
	return &ExamSubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "exam_submission_handler").Logger(),
	}
}

// Register binds learner exam routes.
func (h *ExamSubmissionHandler) Register(router fiber.Router) {
	router.Post("/:examId/submissions", middleware.WithAuth(h.submit, middleware.AuthOptions{Role: middleware.AuthRoleStudent}))
	router.Get("/:examId/submissions/me", middleware.WithAuth(h.mine, middleware.AuthOptions{Role: middleware.AuthRoleAny}))
}

func (h *ExamSubmissionHandler) submit(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	examID, err := parseUintParam(c, "examId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exam id")
	}

	var payload dto.SubmitExamRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.service.Submit(requestContext(c), examID, userID, payload)
	if err != nil {
		return sendExamError(c, requestLogger(h.logger, c), err, nil)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "exam submitted", result)
}

func (h *ExamSubmissionHandler) mine(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	examID, err := parseUintParam(c, "examId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exam id")
	}

	submission, err := h.service.GetForUser(requestContext(c), examID, userID)
	if err != nil {
		return sendExamError(c, requestLogger(h.logger, c), err, nil)
	}

	return utils.SendSuccess(c, "exam submission", submission)
}
