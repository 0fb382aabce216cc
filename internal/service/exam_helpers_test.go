package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/repository"
	"github.com/noah-isme/gema-exam-api/pkg/ai"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func setupExamDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Exam{},
		&models.ExamQuestion{},
		&models.ExamSubmission{},
		&models.ExamAnswer{},
		&models.ExamCorrection{},
		&models.ExamCorrectionHistory{},
		&models.Notification{},
	))
	return db
}

// examHarness wires the correction workflow over an in-memory database.
type examHarness struct {
	db          *gorm.DB
	exams       ExamService
	submissions repository.ExamSubmissionRepository
	grader      *stubGrader
	sink        *recordingSink
	corrections CorrectionService
	submit      ExamSubmissionService
}

func newExamHarness(t *testing.T, concurrency int) *examHarness {
	t.Helper()
	db := setupExamDB(t)

	h := &examHarness{
		db:          db,
		exams:       NewExamService(repository.NewExamRepository(db), nil, 0, testLogger()),
		submissions: repository.NewExamSubmissionRepository(db),
		grader:      &stubGrader{},
		sink:        &recordingSink{},
	}
	h.corrections = NewCorrectionService(h.exams, h.submissions, h.grader, h.sink, testValidator(), CorrectionConfig{DefaultRigor: 0.5, Concurrency: concurrency}, testLogger())
	h.submit = NewExamSubmissionService(h.exams, h.submissions, nil, testValidator(), testLogger())
	return h
}

func (h *examHarness) createExam(t *testing.T, exam models.Exam) models.Exam {
	t.Helper()
	require.NoError(t, h.exams.Create(context.Background(), &exam))
	stored, err := h.exams.Get(context.Background(), exam.ID)
	require.NoError(t, err)
	return stored
}

func (h *examHarness) submitAnswers(t *testing.T, exam models.Exam, userID uint, answers ...dto.ExamAnswerInput) dto.SubmitExamResponse {
	t.Helper()
	resp, err := h.submit.Submit(context.Background(), exam.ID, userID, dto.SubmitExamRequest{Answers: answers})
	require.NoError(t, err)
	return resp
}

func (h *examHarness) storedSubmission(t *testing.T, examID, userID uint) models.ExamSubmission {
	t.Helper()
	submission, err := h.submissions.GetByExamAndUser(context.Background(), examID, userID)
	require.NoError(t, err)
	return submission
}

func mcQuestion(number int, correct string) models.ExamQuestion {
	return models.ExamQuestion{
		Number:    number,
		Kind:      models.QuestionKindMultipleChoice,
		Statement: fmt.Sprintf("Question %d", number),
		Alternatives: []models.Alternative{
			{ID: "a", Text: "A", IsCorrect: correct == "a"},
			{ID: "b", Text: "B", IsCorrect: correct == "b"},
			{ID: "c", Text: "C", IsCorrect: correct == "c"},
		},
	}
}

func discursiveQuestion(number int) models.ExamQuestion {
	return models.ExamQuestion{
		Number:    number,
		Kind:      models.QuestionKindDiscursive,
		Statement: fmt.Sprintf("Explain topic %d", number),
		MaxScore:  10,
		KeyPoints: []models.KeyPoint{{ID: "kp1", Description: "mentions the core idea", Weight: 1}},
	}
}

func essayQuestion(number int, method string) models.ExamQuestion {
	return models.ExamQuestion{
		Number:                number,
		Kind:                  models.QuestionKindEssay,
		Statement:             "Write an essay about water scarcity",
		MaxScore:              1000,
		EssayCorrectionMethod: method,
	}
}

func textAnswer(question models.ExamQuestion, text string) dto.ExamAnswerInput {
	return dto.ExamAnswerInput{QuestionID: question.ID, Text: text}
}

func choiceAnswer(question models.ExamQuestion, alternative string) dto.ExamAnswerInput {
	return dto.ExamAnswerInput{QuestionID: question.ID, SelectedAlternative: alternative}
}

func floatPtr(v float64) *float64 {
	return &v
}

// stubGrader scores discursive answers at 7/10 and essays at 800/1000. Answers
// containing "fail" make it return a grading error.
type stubGrader struct {
	mu          sync.Mutex
	calls       int
	lastRigor   float64
	discursiveN float64
}

func (g *stubGrader) GradeDiscursive(_ context.Context, input ai.DiscursiveInput) (ai.DiscursiveResult, error) {
	g.mu.Lock()
	g.calls++
	g.lastRigor = input.Rigor
	score := g.discursiveN
	g.mu.Unlock()

	if strings.Contains(input.Answer, "fail") {
		return ai.DiscursiveResult{}, &ai.GradingError{Op: "grade discursive", Provider: "stub", Err: errors.New("quota exceeded")}
	}
	if score == 0 {
		score = 7
	}
	return ai.DiscursiveResult{Score: score, MaxScore: input.MaxScore, Feedback: "<b>Solid</b> answer", KeyPointsFound: []string{"kp1"}}, nil
}

func (g *stubGrader) GradeEssay(_ context.Context, input ai.EssayInput) (ai.EssayResult, error) {
	g.mu.Lock()
	g.calls++
	g.lastRigor = input.Rigor
	g.mu.Unlock()

	if strings.Contains(input.Answer, "fail") {
		return ai.EssayResult{}, &ai.GradingError{Op: "grade essay", Provider: "stub", Err: errors.New("malformed output")}
	}
	return ai.EssayResult{
		Score:           800,
		MaxScore:        input.MaxScore,
		Competences:     []ai.Competence{{Name: "C1", Score: 160, MaxScore: 200}},
		GeneralFeedback: "Good structure",
	}, nil
}

func (g *stubGrader) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recordingSink struct {
	mu       sync.Mutex
	payloads []dto.NotificationCreateRequest
}

func (s *recordingSink) Publish(_ context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return dto.NotificationResponse{ID: uint(len(s.payloads)), UserID: payload.UserID, Type: payload.Type, Message: payload.Message}, nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}
