package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

// ExamReader resolves exams for scoring and correction.
type ExamReader interface {
	Get(ctx context.Context, id uint) (models.Exam, error)
}

// ExamService reads exams through a redis cache. Exams are treated as immutable
// once submissions reference them, so entries only expire by TTL.
type ExamService interface {
	ExamReader
	Create(ctx context.Context, exam *models.Exam) error
}

type examService struct {
	repo     repository.ExamRepository
	cache    *redis.Client
	cacheTTL time.Duration
	logger   zerolog.Logger
}

// NewExamService builds the exam reader. A nil cache disables caching.
func NewExamService(repo repository.ExamRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) ExamService {
	return &examService{
		repo:     repo,
		cache:    cache,
		cacheTTL: ttl,
		logger:   logger.With().Str("component", "exam_service").Logger(),
	}
}

func examCacheKey(id uint) string {
	return fmt.Sprintf("exam:%d", id)
}

func (s *examService) Get(ctx context.Context, id uint) (models.Exam, error) {
	key := examCacheKey(id)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key).Result(); err == nil {
			var exam models.Exam
			if unmarshalErr := json.Unmarshal([]byte(cached), &exam); unmarshalErr == nil {
				return exam, nil
			}
			s.logger.Warn().Uint("exam_id", id).Msg("discarding unreadable exam cache entry")
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read exam cache")
		}
	}

	exam, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Exam{}, ErrExamNotFound
		}
		return models.Exam{}, err
	}

	if s.cache != nil && s.cacheTTL > 0 {
		if payload, err := json.Marshal(exam); err == nil {
			if err := s.cache.Set(ctx, key, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store exam cache")
			}
		}
	}

	return exam, nil
}

func (s *examService) Create(ctx context.Context, exam *models.Exam) error {
	if err := s.repo.Create(ctx, exam); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, examCacheKey(exam.ID)).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to invalidate exam cache")
		}
	}

	s.logger.Info().Uint("exam_id", exam.ID).Int("questions", len(exam.Questions)).Msg("exam created")
	return nil
}
