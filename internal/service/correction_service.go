package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/observability"
	"github.com/noah-isme/gema-exam-api/internal/repository"
	"github.com/noah-isme/gema-exam-api/internal/scoring"
	"github.com/noah-isme/gema-exam-api/pkg/ai"
)

// CorrectionActor identifies the grader filing a correction.
type CorrectionActor struct {
	ID   uint
	Role string
}

// NotificationSink receives the "correction ready" event of a submission.
type NotificationSink interface {
	Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error)
}

// CorrectionService applies single and bulk corrections to exam submissions.
type CorrectionService interface {
	CorrectQuestion(ctx context.Context, examID, userID, questionID uint, req dto.CorrectQuestionRequest, actor CorrectionActor) (dto.CorrectQuestionResponse, error)
	CorrectAll(ctx context.Context, examID, userID uint, req dto.CorrectAllRequest) (dto.CorrectAllResponse, error)
	AutoCorrect(ctx context.Context, examID, userID uint) (dto.CorrectAllResponse, error)
}

// CorrectionConfig tunes the correction workflow.
type CorrectionConfig struct {
	DefaultRigor float64
	Concurrency  int
}

type correctionService struct {
	exams         ExamReader
	submissions   repository.ExamSubmissionRepository
	grader        ai.Grader
	notifications NotificationSink
	validator     *validator.Validate
	sanitizer     *bluemonday.Policy
	locks         *submissionLocks
	cfg           CorrectionConfig
	logger        zerolog.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

// NewCorrectionService wires the correction workflow. A nil grader disables AI
// corrections; a nil sink disables the completion notification.
func NewCorrectionService(exams ExamReader, submissions repository.ExamSubmissionRepository, grader ai.Grader, notifications NotificationSink, validate *validator.Validate, cfg CorrectionConfig, logger zerolog.Logger) CorrectionService {
	if cfg.DefaultRigor < 0 || cfg.DefaultRigor > 1 {
		cfg.DefaultRigor = 0.5
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	return &correctionService{
		exams:         exams,
		submissions:   submissions,
		grader:        grader,
		notifications: notifications,
		validator:     validate,
		sanitizer:     bluemonday.StrictPolicy(),
		locks:         newSubmissionLocks(),
		cfg:           cfg,
		logger:        logger.With().Str("component", "correction_service").Logger(),
		tracer:        otel.Tracer("github.com/noah-isme/gema-exam-api/internal/service/correction"),
		now:           time.Now,
	}
}

func (s *correctionService) CorrectQuestion(ctx context.Context, examID, userID, questionID uint, req dto.CorrectQuestionRequest, actor CorrectionActor) (dto.CorrectQuestionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.CorrectQuestionResponse{}, err
	}

	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method != models.CorrectionMethodAI && method != models.CorrectionMethodManual {
		return dto.CorrectQuestionResponse{}, ErrInvalidCorrectionMethod
	}

	ctx, span := s.tracer.Start(ctx, "corrections.correct_question", trace.WithAttributes(
		attribute.Int64("exam.id", int64(examID)),
		attribute.Int64("user.id", int64(userID)),
		attribute.Int64("question.id", int64(questionID)),
		attribute.String("correction.method", method),
	))
	defer span.End()

	exam, submission, err := s.resolve(ctx, examID, userID)
	if err != nil {
		return dto.CorrectQuestionResponse{}, err
	}

	question, ok := exam.QuestionByID(questionID)
	if !ok {
		return dto.CorrectQuestionResponse{}, ErrQuestionNotFound
	}
	if !question.IsCorrectable() {
		return dto.CorrectQuestionResponse{}, ErrQuestionNotCorrectable
	}

	answer, ok := submission.AnswerFor(questionID)
	if !ok || !answer.HasText() {
		return dto.CorrectQuestionResponse{}, ErrAnswerNotFound
	}

	var correction models.ExamCorrection
	switch method {
	case models.CorrectionMethodManual:
		correction, err = s.manualCorrection(question, req, actor)
		if err != nil {
			return dto.CorrectQuestionResponse{}, err
		}
	case models.CorrectionMethodAI:
		if s.grader == nil {
			return dto.CorrectQuestionResponse{}, ErrGraderUnavailable
		}
		rigor, err := s.resolveRigor(req.Rigor, exam, question)
		if err != nil {
			return dto.CorrectQuestionResponse{}, err
		}
		correction, err = s.grade(ctx, question, answer, rigor)
		if err != nil {
			observability.Corrections().WithLabelValues(method, "failed").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Warn().Err(err).
				Uint("exam_id", examID).
				Uint("user_id", userID).
				Uint("question_id", questionID).
				Msg("ai correction failed")
			return dto.CorrectQuestionResponse{}, fmt.Errorf("correct question %d: %w", questionID, err)
		}
	}

	updated, err := s.apply(ctx, exam, submission.ID, []models.ExamCorrection{correction})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.CorrectQuestionResponse{}, err
	}

	observability.Corrections().WithLabelValues(method, "succeeded").Inc()

	stored, ok := updated.CorrectionFor(questionID)
	if !ok {
		stored = correction
	}

	return dto.CorrectQuestionResponse{
		Correction:       dto.NewCorrectionResponse(stored),
		AllCorrected:     updated.IsCorrected(),
		DiscursiveScore:  updated.DiscursiveScore,
		CorrectionStatus: updated.CorrectionStatus,
		Score:            updated.Score,
	}, nil
}

func (s *correctionService) CorrectAll(ctx context.Context, examID, userID uint, req dto.CorrectAllRequest) (dto.CorrectAllResponse, error) {
	if req.Rigor != nil && !validRigor(*req.Rigor) {
		return dto.CorrectAllResponse{}, ErrInvalidRigor
	}
	return s.correctPending(ctx, examID, userID, req.Rigor, false)
}

// AutoCorrect runs the submit-time pass: discursive questions only when the
// exam delegates them to the model, plus every AI essay.
func (s *correctionService) AutoCorrect(ctx context.Context, examID, userID uint) (dto.CorrectAllResponse, error) {
	return s.correctPending(ctx, examID, userID, nil, true)
}

type gradingOutcome struct {
	correction models.ExamCorrection
	err        error
}

func (s *correctionService) correctPending(ctx context.Context, examID, userID uint, rigor *float64, submitTime bool) (dto.CorrectAllResponse, error) {
	ctx, span := s.tracer.Start(ctx, "corrections.correct_all", trace.WithAttributes(
		attribute.Int64("exam.id", int64(examID)),
		attribute.Int64("user.id", int64(userID)),
		attribute.Bool("correction.submit_time", submitTime),
	))
	defer span.End()

	exam, submission, err := s.resolve(ctx, examID, userID)
	if err != nil {
		return dto.CorrectAllResponse{}, err
	}
	if s.grader == nil {
		return dto.CorrectAllResponse{}, ErrGraderUnavailable
	}

	ledger := scoring.NewLedger(submission.Corrections)
	targets := make([]models.ExamQuestion, 0)
	for _, question := range ledger.Pending(exam.Questions) {
		if submitTime && question.Kind == models.QuestionKindDiscursive && exam.DiscursiveCorrectionMethod != models.CorrectionMethodAI {
			continue
		}
		targets = append(targets, question)
	}

	response := dto.CorrectAllResponse{
		Total:            len(targets),
		DiscursiveScore:  submission.DiscursiveScore,
		AllCorrected:     submission.IsCorrected(),
		CorrectionStatus: submission.CorrectionStatus,
		Score:            submission.Score,
		Errors:           []dto.QuestionCorrectionError{},
	}
	if len(targets) == 0 {
		return response, nil
	}

	outcomes := s.gradeAll(ctx, exam, submission, targets, rigor)

	corrections := make([]models.ExamCorrection, 0, len(targets))
	for i, outcome := range outcomes {
		if outcome.err != nil {
			response.Errors = append(response.Errors, dto.QuestionCorrectionError{
				QuestionID: targets[i].ID,
				Message:    outcome.err.Error(),
			})
			observability.Corrections().WithLabelValues(models.CorrectionMethodAI, "failed").Inc()
			s.logger.Warn().Err(outcome.err).
				Uint("exam_id", examID).
				Uint("user_id", userID).
				Uint("question_id", targets[i].ID).
				Msg("bulk correction skipped question")
			continue
		}
		corrections = append(corrections, outcome.correction)
	}

	observability.BulkCorrectionQuestions().WithLabelValues("succeeded").Observe(float64(len(corrections)))
	observability.BulkCorrectionQuestions().WithLabelValues("failed").Observe(float64(len(response.Errors)))

	if len(corrections) == 0 {
		span.SetStatus(codes.Error, ErrBulkCorrectionFailed.Error())
		return response, ErrBulkCorrectionFailed
	}

	// grading ran unlocked; questions corrected meanwhile keep their correction
	updated, skipped, err := s.insert(ctx, exam, submission.ID, corrections)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.CorrectAllResponse{}, err
	}

	applied := len(corrections) - len(skipped)
	observability.Corrections().WithLabelValues(models.CorrectionMethodAI, "succeeded").Add(float64(applied))
	if len(skipped) > 0 {
		observability.Corrections().WithLabelValues(models.CorrectionMethodAI, "superseded").Add(float64(len(skipped)))
		s.logger.Info().
			Uint("exam_id", examID).
			Uint("user_id", userID).
			Uints("question_ids", skipped).
			Msg("bulk correction kept concurrent corrections")
	}

	response.Corrected = applied
	response.Skipped = skipped
	response.DiscursiveScore = updated.DiscursiveScore
	response.AllCorrected = updated.IsCorrected()
	response.CorrectionStatus = updated.CorrectionStatus
	response.Score = updated.Score

	s.logger.Info().
		Uint("exam_id", examID).
		Uint("user_id", userID).
		Int("corrected", response.Corrected).
		Int("total", response.Total).
		Msg("bulk correction finished")

	return response, nil
}

// gradeAll grades every target independently. Outcomes keep the order of targets.
func (s *correctionService) gradeAll(ctx context.Context, exam models.Exam, submission models.ExamSubmission, targets []models.ExamQuestion, rigor *float64) []gradingOutcome {
	outcomes := make([]gradingOutcome, len(targets))

	gradeOne := func(i int) {
		question := targets[i]
		answer, ok := submission.AnswerFor(question.ID)
		if !ok || !answer.HasText() {
			outcomes[i] = gradingOutcome{err: fmt.Errorf("question %d: %w", question.ID, ErrAnswerNotFound)}
			return
		}

		questionRigor, err := s.resolveRigor(rigor, exam, question)
		if err != nil {
			outcomes[i] = gradingOutcome{err: err}
			return
		}

		correction, err := s.grade(ctx, question, answer, questionRigor)
		if err != nil {
			outcomes[i] = gradingOutcome{err: fmt.Errorf("question %d: %w", question.ID, err)}
			return
		}
		outcomes[i] = gradingOutcome{correction: correction}
	}

	if s.cfg.Concurrency <= 1 {
		for i := range targets {
			gradeOne(i)
		}
		return outcomes
	}

	var group errgroup.Group
	group.SetLimit(s.cfg.Concurrency)
	for i := range targets {
		i := i
		group.Go(func() error {
			gradeOne(i)
			return nil
		})
	}
	_ = group.Wait()

	return outcomes
}

func (s *correctionService) resolve(ctx context.Context, examID, userID uint) (models.Exam, models.ExamSubmission, error) {
	exam, err := s.exams.Get(ctx, examID)
	if err != nil {
		return models.Exam{}, models.ExamSubmission{}, err
	}

	submission, err := s.submissions.GetByExamAndUser(ctx, examID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Exam{}, models.ExamSubmission{}, ErrExamSubmissionNotFound
		}
		return models.Exam{}, models.ExamSubmission{}, err
	}

	return exam, submission, nil
}

func (s *correctionService) manualCorrection(question models.ExamQuestion, req dto.CorrectQuestionRequest, actor CorrectionActor) (models.ExamCorrection, error) {
	if req.Score == nil {
		return models.ExamCorrection{}, ErrScoreRequired
	}

	maxScore := question.EffectiveMaxScore()
	if *req.Score < 0 || *req.Score > maxScore {
		return models.ExamCorrection{}, fmt.Errorf("%w: must be between 0 and %s", ErrScoreOutOfRange, strconv.FormatFloat(maxScore, 'f', -1, 64))
	}

	feedback := strings.TrimSpace(s.sanitizer.Sanitize(req.Feedback))
	if feedback == "" {
		return models.ExamCorrection{}, ErrFeedbackRequired
	}

	correction := models.ExamCorrection{
		QuestionID:   question.ID,
		QuestionKind: question.Kind,
		Score:        *req.Score,
		MaxScore:     maxScore,
		Feedback:     feedback,
		Method:       models.CorrectionMethodManual,
		CorrectedAt:  s.now().UTC(),
	}
	if actor.ID != 0 {
		graderID := actor.ID
		correction.CorrectedBy = &graderID
	}

	return correction, nil
}

func (s *correctionService) grade(ctx context.Context, question models.ExamQuestion, answer models.ExamAnswer, rigor float64) (models.ExamCorrection, error) {
	correction := models.ExamCorrection{
		QuestionID:   question.ID,
		QuestionKind: question.Kind,
		Method:       models.CorrectionMethodAI,
	}

	switch question.Kind {
	case models.QuestionKindDiscursive:
		keyPoints := make([]ai.KeyPoint, 0, len(question.KeyPoints))
		for _, point := range question.KeyPoints {
			keyPoints = append(keyPoints, ai.KeyPoint{ID: point.ID, Description: point.Description, Weight: point.Weight})
		}

		result, err := s.grader.GradeDiscursive(ctx, ai.DiscursiveInput{
			Statement:      question.Statement,
			ExpectedAnswer: question.ExpectedAnswer,
			KeyPoints:      keyPoints,
			MaxScore:       question.EffectiveMaxScore(),
			Answer:         answer.Text,
			Rigor:          rigor,
		})
		if err != nil {
			return models.ExamCorrection{}, err
		}

		correction.Score = result.Score
		correction.MaxScore = result.MaxScore
		correction.Feedback = strings.TrimSpace(s.sanitizer.Sanitize(result.Feedback))
		correction.KeyPointsFound = result.KeyPointsFound
	case models.QuestionKindEssay:
		result, err := s.grader.GradeEssay(ctx, ai.EssayInput{
			Statement: question.Statement,
			MaxScore:  question.EffectiveMaxScore(),
			Answer:    answer.Text,
			Rigor:     rigor,
		})
		if err != nil {
			return models.ExamCorrection{}, err
		}

		competences := make([]models.EssayCompetence, 0, len(result.Competences))
		for _, competence := range result.Competences {
			competences = append(competences, models.EssayCompetence{
				Name:     competence.Name,
				Score:    competence.Score,
				MaxScore: competence.MaxScore,
				Feedback: strings.TrimSpace(s.sanitizer.Sanitize(competence.Feedback)),
			})
		}

		correction.Score = result.Score
		correction.MaxScore = result.MaxScore
		correction.EssayGeneralFeedback = strings.TrimSpace(s.sanitizer.Sanitize(result.GeneralFeedback))
		correction.Feedback = correction.EssayGeneralFeedback
		correction.EssayCompetences = competences
	default:
		return models.ExamCorrection{}, ErrQuestionNotCorrectable
	}

	if correction.MaxScore <= 0 {
		correction.MaxScore = question.EffectiveMaxScore()
	}
	correction.CorrectedAt = s.now().UTC()

	return correction, nil
}

// apply persists the corrections and the recomputed ledger state atomically,
// then emits the completion notification when this apply completed the
// submission for the first time.
func (s *correctionService) apply(ctx context.Context, exam models.Exam, submissionID uint, corrections []models.ExamCorrection) (models.ExamSubmission, error) {
	updated, _, err := s.store(ctx, exam, submissionID, corrections, false)
	return updated, err
}

// insert stores corrections only for questions still uncorrected and reports
// the ones it left alone.
func (s *correctionService) insert(ctx context.Context, exam models.Exam, submissionID uint, corrections []models.ExamCorrection) (models.ExamSubmission, []uint, error) {
	return s.store(ctx, exam, submissionID, corrections, true)
}

func (s *correctionService) store(ctx context.Context, exam models.Exam, submissionID uint, corrections []models.ExamCorrection, keepExisting bool) (models.ExamSubmission, []uint, error) {
	unlock := s.locks.lock(submissionID)
	defer unlock()

	notify := false
	recompute := func(submission *models.ExamSubmission) error {
		notify = s.recompute(exam, submission)
		return nil
	}

	var (
		updated models.ExamSubmission
		skipped []uint
		err     error
	)
	if keepExisting {
		updated, skipped, err = s.submissions.InsertCorrections(ctx, submissionID, corrections, recompute)
	} else {
		updated, err = s.submissions.ApplyCorrections(ctx, submissionID, corrections, recompute)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ExamSubmission{}, nil, ErrExamSubmissionNotFound
		}
		return models.ExamSubmission{}, nil, err
	}

	if notify {
		s.notifyCorrectionReady(ctx, exam, updated)
	}

	return updated, skipped, nil
}

// recompute derives discursive score, status and final score from the stored
// ledger. The score is only touched once every required question is corrected
// and the exam is scored here. It reports whether the submission just became
// corrected for the first time.
func (s *correctionService) recompute(exam models.Exam, submission *models.ExamSubmission) bool {
	ledger := scoring.NewLedger(submission.Corrections)
	submission.DiscursiveScore = scoring.Round2(ledger.DiscursiveScore())
	submission.CorrectionStatus = ledger.Status(exam.Questions)

	if submission.CorrectionStatus != models.CorrectionStatusCorrected {
		return false
	}

	now := s.now().UTC()
	submission.CorrectedAt = &now

	if score, ok := scoring.FinalScore(exam, submission.Answers, ledger.Corrections()); ok {
		submission.Score = &score
	}

	if submission.NotifiedAt != nil {
		return false
	}
	submission.NotifiedAt = &now
	return true
}

func (s *correctionService) notifyCorrectionReady(ctx context.Context, exam models.Exam, submission models.ExamSubmission) {
	if s.notifications == nil {
		return
	}

	examID := exam.ID
	message := fmt.Sprintf("Exam %s has been fully corrected.", exam.Title)
	if submission.Score != nil {
		message = fmt.Sprintf("Exam %s has been fully corrected. Final score: %.2f.", exam.Title, *submission.Score)
	}

	_, err := s.notifications.Publish(ctx, dto.NotificationCreateRequest{
		UserID:  strconv.FormatUint(uint64(submission.UserID), 10),
		Type:    models.NotificationTypeCorrectionReady,
		Message: message,
		ExamID:  &examID,
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Uint("exam_id", exam.ID).
			Uint("user_id", submission.UserID).
			Msg("failed to publish correction ready notification")
	}
}

func (s *correctionService) resolveRigor(requested *float64, exam models.Exam, question models.ExamQuestion) (float64, error) {
	if requested != nil {
		if !validRigor(*requested) {
			return 0, ErrInvalidRigor
		}
		return *requested, nil
	}

	switch question.Kind {
	case models.QuestionKindEssay:
		if question.EssayAIRigor > 0 && validRigor(question.EssayAIRigor) {
			return question.EssayAIRigor, nil
		}
	case models.QuestionKindDiscursive:
		if exam.DiscursiveAIRigor > 0 && validRigor(exam.DiscursiveAIRigor) {
			return exam.DiscursiveAIRigor, nil
		}
	}

	return s.cfg.DefaultRigor, nil
}

func validRigor(value float64) bool {
	return value >= 0 && value <= 1
}
