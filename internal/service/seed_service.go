package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
)

var (
	// ErrSeedDisabled indicates the seeding tools are disabled by configuration.
	ErrSeedDisabled = errors.New("seeding is disabled")
	// ErrSeedUnauthorized indicates the provided token is invalid.
	ErrSeedUnauthorized = errors.New("invalid seed token")
	// ErrInvalidExamFixture indicates a fixture that cannot be scored.
	ErrInvalidExamFixture = errors.New("invalid exam fixture")
)

// SeedService loads exam fixtures for demos and local development.
type SeedService interface {
	SeedExam(ctx context.Context, token string, req dto.ExamSeedRequest) (dto.ExamSeedResponse, error)
	// ImportExam bypasses the token check; it backs the CLI.
	ImportExam(ctx context.Context, req dto.ExamSeedRequest) (dto.ExamSeedResponse, error)
}

type seedService struct {
	exams     ExamService
	validator *validator.Validate
	enabled   bool
	token     string
	logger    zerolog.Logger
}

// NewSeedService constructs a seeding service.
func NewSeedService(exams ExamService, validate *validator.Validate, enabled bool, token string, logger zerolog.Logger) SeedService {
	return &seedService{
		exams:     exams,
		validator: validate,
		enabled:   enabled,
		token:     token,
		logger:    logger.With().Str("component", "seed_service").Logger(),
	}
}

func (s *seedService) SeedExam(ctx context.Context, token string, req dto.ExamSeedRequest) (dto.ExamSeedResponse, error) {
	if !s.enabled {
		return dto.ExamSeedResponse{}, ErrSeedDisabled
	}
	if !s.validateToken(token) {
		return dto.ExamSeedResponse{}, ErrSeedUnauthorized
	}
	return s.ImportExam(ctx, req)
}

func (s *seedService) ImportExam(ctx context.Context, req dto.ExamSeedRequest) (dto.ExamSeedResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ExamSeedResponse{}, err
	}

	exam := req.ToModel()
	if err := validateExamFixture(exam); err != nil {
		return dto.ExamSeedResponse{}, err
	}

	if err := s.exams.Create(ctx, &exam); err != nil {
		return dto.ExamSeedResponse{}, err
	}

	s.logger.Info().Uint("exam_id", exam.ID).Int("questions", len(exam.Questions)).Msg("exam seeded")

	return dto.ExamSeedResponse{
		ID:            exam.ID,
		Title:         exam.Title,
		ScoringMethod: exam.ScoringMethod,
		Questions:     len(exam.Questions),
	}, nil
}

func (s *seedService) validateToken(token string) bool {
	expected := strings.TrimSpace(s.token)
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(token))) == 1
}

// validateExamFixture enforces the per-kind payload rules the scorer relies on.
func validateExamFixture(exam models.Exam) error {
	for _, question := range exam.Questions {
		switch question.Kind {
		case models.QuestionKindMultipleChoice:
			correct := 0
			for _, alternative := range question.Alternatives {
				if alternative.IsCorrect {
					correct++
				}
			}
			if correct != 1 {
				return fmt.Errorf("%w: question %d must flag exactly one correct alternative", ErrInvalidExamFixture, question.Number)
			}
		case models.QuestionKindEssay:
			if question.EssayCorrectionMethod == "" {
				return fmt.Errorf("%w: essay question %d needs a correction method", ErrInvalidExamFixture, question.Number)
			}
		}
	}
	return nil
}
