package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/observability"
	"github.com/noah-isme/gema-exam-api/internal/repository"
	"github.com/noah-isme/gema-exam-api/internal/scoring"
)

// AutoCorrector runs the submit-time AI correction pass.
type AutoCorrector interface {
	AutoCorrect(ctx context.Context, examID, userID uint) (dto.CorrectAllResponse, error)
}

// ExamSubmissionService ingests learner submissions and exposes their ledger.
type ExamSubmissionService interface {
	Submit(ctx context.Context, examID, userID uint, req dto.SubmitExamRequest) (dto.SubmitExamResponse, error)
	GetForUser(ctx context.Context, examID, userID uint) (dto.ExamSubmissionResponse, error)
}

type examSubmissionService struct {
	exams       ExamReader
	submissions repository.ExamSubmissionRepository
	corrector   AutoCorrector
	validator   *validator.Validate
	logger      zerolog.Logger
	now         func() time.Time
}

// NewExamSubmissionService builds the submission service. A nil corrector skips
// the submit-time correction pass.
func NewExamSubmissionService(exams ExamReader, submissions repository.ExamSubmissionRepository, corrector AutoCorrector, validate *validator.Validate, logger zerolog.Logger) ExamSubmissionService {
	return &examSubmissionService{
		exams:       exams,
		submissions: submissions,
		corrector:   corrector,
		validator:   validate,
		logger:      logger.With().Str("component", "exam_submission_service").Logger(),
		now:         time.Now,
	}
}

func (s *examSubmissionService) Submit(ctx context.Context, examID, userID uint, req dto.SubmitExamRequest) (dto.SubmitExamResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SubmitExamResponse{}, err
	}

	exam, err := s.exams.Get(ctx, examID)
	if err != nil {
		return dto.SubmitExamResponse{}, err
	}

	if _, err := s.submissions.GetByExamAndUser(ctx, examID, userID); err == nil {
		return dto.SubmitExamResponse{}, ErrSubmissionExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.SubmitExamResponse{}, err
	}

	answers, err := buildAnswers(exam, req.Answers)
	if err != nil {
		return dto.SubmitExamResponse{}, err
	}

	submission := models.ExamSubmission{
		ExamID:      examID,
		UserID:      userID,
		Answers:     answers,
		SubmittedAt: s.now().UTC(),
	}

	if len(scoring.RequiredQuestions(exam.Questions)) > 0 {
		submission.CorrectionStatus = models.CorrectionStatusPending
	} else if score, ok := scoring.FinalScore(exam, answers, nil); ok {
		submission.Score = &score
	}

	if err := s.submissions.Create(ctx, &submission); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return dto.SubmitExamResponse{}, ErrSubmissionExists
		}
		return dto.SubmitExamResponse{}, err
	}

	observability.Submissions().WithLabelValues(statusLabel(submission.CorrectionStatus)).Inc()
	s.logger.Info().
		Uint("exam_id", examID).
		Uint("user_id", userID).
		Str("correction_status", submission.CorrectionStatus).
		Msg("exam submitted")

	response := dto.SubmitExamResponse{
		SubmissionID:     submission.ID,
		Score:            submission.Score,
		CorrectionStatus: submission.CorrectionStatus,
	}

	if s.corrector == nil || !needsAutoCorrection(exam) || submission.CorrectionStatus != models.CorrectionStatusPending {
		return response, nil
	}

	result, err := s.corrector.AutoCorrect(ctx, examID, userID)
	switch {
	case errors.Is(err, ErrBulkCorrectionFailed):
		s.logger.Warn().Uint("exam_id", examID).Uint("user_id", userID).Int("errors", len(result.Errors)).Msg("submit-time correction produced no correction")
		response.AutoCorrection = &result
	case err != nil:
		s.logger.Warn().Err(err).Uint("exam_id", examID).Uint("user_id", userID).Msg("submit-time correction skipped")
	default:
		response.AutoCorrection = &result
		response.CorrectionStatus = result.CorrectionStatus
		response.Score = result.Score
	}

	return response, nil
}

func (s *examSubmissionService) GetForUser(ctx context.Context, examID, userID uint) (dto.ExamSubmissionResponse, error) {
	exam, err := s.exams.Get(ctx, examID)
	if err != nil {
		return dto.ExamSubmissionResponse{}, err
	}

	submission, err := s.submissions.GetByExamAndUser(ctx, examID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ExamSubmissionResponse{}, ErrExamSubmissionNotFound
		}
		return dto.ExamSubmissionResponse{}, err
	}

	pending := scoring.NewLedger(submission.Corrections).Pending(exam.Questions)
	return dto.NewExamSubmissionResponse(submission, pending), nil
}

// buildAnswers maps the request onto the exam. Every answer must reference a
// question of the exam at most once.
func buildAnswers(exam models.Exam, inputs []dto.ExamAnswerInput) ([]models.ExamAnswer, error) {
	seen := make(map[uint]struct{}, len(inputs))
	answers := make([]models.ExamAnswer, 0, len(inputs))

	for _, input := range inputs {
		question, ok := exam.QuestionByID(input.QuestionID)
		if !ok {
			return nil, ErrInvalidAnswers
		}
		if _, dup := seen[input.QuestionID]; dup {
			return nil, ErrInvalidAnswers
		}
		seen[input.QuestionID] = struct{}{}

		answer := models.ExamAnswer{QuestionID: question.ID}
		switch question.Kind {
		case models.QuestionKindMultipleChoice:
			answer.SelectedAlternative = strings.TrimSpace(input.SelectedAlternative)
		default:
			answer.Text = input.Text
		}
		answers = append(answers, answer)
	}

	return answers, nil
}

// needsAutoCorrection reports whether any question of the exam is delegated to the model.
func needsAutoCorrection(exam models.Exam) bool {
	for _, question := range exam.Questions {
		switch question.Kind {
		case models.QuestionKindDiscursive:
			if exam.DiscursiveCorrectionMethod == models.CorrectionMethodAI {
				return true
			}
		case models.QuestionKindEssay:
			if question.EssayCorrectionMethod == models.CorrectionMethodAI {
				return true
			}
		}
	}
	return false
}

func statusLabel(status string) string {
	if status == "" {
		return "none"
	}
	return status
}
