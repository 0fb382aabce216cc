package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/pkg/ai"
)

const learnerID = uint(501)

func manualRequest(score float64, feedback string) dto.CorrectQuestionRequest {
	return dto.CorrectQuestionRequest{Method: models.CorrectionMethodManual, Score: floatPtr(score), Feedback: feedback}
}

func TestCorrectQuestionReplacesExistingCorrection(t *testing.T) {
	h := newExamHarness(t, 1)
	exam := h.createExam(t, models.Exam{
		Title:     "History",
		Questions: []models.ExamQuestion{discursiveQuestion(1)},
	})
	q := exam.Questions[0]
	h.submitAnswers(t, exam, learnerID, textAnswer(q, "The empire fell because of inflation"))

	_, err := h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, q.ID, manualRequest(4, "Too short"), CorrectionActor{ID: 9, Role: "teacher"})
	require.NoError(t, err)

	_, err = h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, q.ID, manualRequest(6, "Better after review"), CorrectionActor{ID: 9, Role: "teacher"})
	require.NoError(t, err)

	resp, err := h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, q.ID, dto.CorrectQuestionRequest{Method: "AI"}, CorrectionActor{ID: 9})
	require.NoError(t, err)
	require.Equal(t, models.CorrectionMethodAI, resp.Correction.Method)
	require.Equal(t, "Solid answer", resp.Correction.Feedback)

	stored := h.storedSubmission(t, exam.ID, learnerID)
	require.Len(t, stored.Corrections, 1)
	require.Equal(t, 7.0, stored.Corrections[0].Score)
	require.Equal(t, models.CorrectionMethodAI, stored.Corrections[0].Method)
	require.Equal(t, []string{"kp1"}, []string(stored.Corrections[0].KeyPointsFound))
	require.Len(t, stored.History, 3)
	require.Equal(t, 7.0, stored.DiscursiveScore)
}

func TestCorrectQuestionCombinesEveryQuestionEqually(t *testing.T) {
	h := newExamHarness(t, 1)
	exam := h.createExam(t, models.Exam{
		Title:       "Science",
		TotalPoints: 100,
		Questions:   []models.ExamQuestion{mcQuestion(1, "a"), mcQuestion(2, "b"), discursiveQuestion(3)},
	})
	mc1, mc2, disc := exam.Questions[0], exam.Questions[1], exam.Questions[2]

	submitted := h.submitAnswers(t, exam, learnerID, choiceAnswer(mc1, "a"), choiceAnswer(mc2, "c"), textAnswer(disc, "Photosynthesis converts light"))
	require.Nil(t, submitted.Score)
	require.Equal(t, models.CorrectionStatusPending, submitted.CorrectionStatus)

	resp, err := h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, disc.ID, manualRequest(8, "Covers the main idea"), CorrectionActor{ID: 3})
	require.NoError(t, err)
	require.True(t, resp.AllCorrected)
	require.NotNil(t, resp.Score)
	require.Equal(t, 60.0, *resp.Score)
	require.Equal(t, 8.0, resp.DiscursiveScore)
	require.NotNil(t, resp.Correction.CorrectedBy)
	require.Equal(t, uint(3), *resp.Correction.CorrectedBy)
}

func TestCorrectQuestionKeepsScoreUnsetWhilePending(t *testing.T) {
	h := newExamHarness(t, 1)
	exam := h.createExam(t, models.Exam{
		Title:     "Philosophy",
		Questions: []models.ExamQuestion{mcQuestion(1, "a"), discursiveQuestion(2), discursiveQuestion(3)},
	})
	mc, d1, d2 := exam.Questions[0], exam.Questions[1], exam.Questions[2]
	h.submitAnswers(t, exam, learnerID, choiceAnswer(mc, "a"), textAnswer(d1, "Kant"), textAnswer(d2, "Hume"))

	resp, err := h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, d1.ID, manualRequest(9, "Precise"), CorrectionActor{ID: 1})
	require.NoError(t, err)
	require.False(t, resp.AllCorrected)
	require.Nil(t, resp.Score)
	require.Equal(t, 9.0, resp.DiscursiveScore)

	stored := h.storedSubmission(t, exam.ID, learnerID)
	require.Equal(t, models.CorrectionStatusPending, stored.CorrectionStatus)
	require.Nil(t, stored.Score)
	require.Nil(t, stored.CorrectedAt)
	require.Equal(t, 0, h.sink.count())
}

func TestCorrectQuestionCompletionIsMonotonic(t *testing.T) {
	h := newExamHarness(t, 1)
	exam := h.createExam(t, models.Exam{
		Title:     "Geography",
		Questions: []models.ExamQuestion{discursiveQuestion(1), discursiveQuestion(2)},
	})
	d1, d2 := exam.Questions[0], exam.Questions[1]
	h.submitAnswers(t, exam, learnerID, textAnswer(d1, "Rivers"), textAnswer(d2, "Mountains"))

	_, err := h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, d1.ID, manualRequest(10, "Complete"), CorrectionActor{ID: 1})
	require.NoError(t, err)
	resp, err := h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, d2.ID, manualRequest(5, "Half"), CorrectionActor{ID: 1})
	require.NoError(t, err)
	require.True(t, resp.AllCorrected)
	require.Equal(t, 75.0, *resp.Score)

	resp, err = h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, d2.ID, manualRequest(8, "Regraded"), CorrectionActor{ID: 2})
	require.NoError(t, err)
	require.True(t, resp.AllCorrected)
	require.Equal(t, models.CorrectionStatusCorrected, resp.CorrectionStatus)
	require.Equal(t, 90.0, *resp.Score)
	require.Equal(t, 18.0, resp.DiscursiveScore)
}

func TestCorrectQuestionNotifiesOnce(t *testing.T) {
	h := newExamHarness(t, 1)
	exam := h.createExam(t, models.Exam{
		Title:     "Chemistry",
		Questions: []models.ExamQuestion{discursiveQuestion(1), discursiveQuestion(2)},
	})
	d1, d2 := exam.Questions[0], exam.Questions[1]
	h.submitAnswers(t, exam, learnerID, textAnswer(d1, "Bonds"), textAnswer(d2, "Ions"))

	_, err := h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, d1.ID, manualRequest(6, "ok"), CorrectionActor{ID: 1})
	require.NoError(t, err)
	require.Equal(t, 0, h.sink.count())

	_, err = h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, d2.ID, manualRequest(6, "ok"), CorrectionActor{ID: 1})
	require.NoError(t, err)
	require.Equal(t, 1, h.sink.count())

	_, err = h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, d2.ID, manualRequest(7, "regraded"), CorrectionActor{ID: 1})
	require.NoError(t, err)
	_, err = h.corrections.CorrectAll(context.Background(), exam.ID, learnerID, dto.CorrectAllRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, h.sink.count())

	payload := h.sink.payloads[0]
	require.Equal(t, models.NotificationTypeCorrectionReady, payload.Type)
	require.Equal(t, fmt.Sprintf("%d", learnerID), payload.UserID)
	require.NotNil(t, payload.ExamID)
	require.Equal(t, exam.ID, *payload.ExamID)
	require.Contains(t, payload.Message, "60.00")

	stored := h.storedSubmission(t, exam.ID, learnerID)
	require.NotNil(t, stored.NotifiedAt)
}

func TestCorrectQuestionNeverScoresTRIExams(t *testing.T) {
	h := newExamHarness(t, 1)
	exam := h.createExam(t, models.Exam{
		Title:         "ENEM mock",
		ScoringMethod: models.ScoringMethodTRI,
		Questions:     []models.ExamQuestion{mcQuestion(1, "a"), essayQuestion(2, models.CorrectionMethodAI)},
	})
	mc, essay := exam.Questions[0], exam.Questions[1]
	submitted := h.submitAnswers(t, exam, learnerID, choiceAnswer(mc, "a"), textAnswer(essay, "Water is scarce because..."))
	require.Nil(t, submitted.Score)

	resp, err := h.corrections.CorrectAll(context.Background(), exam.ID, learnerID, dto.CorrectAllRequest{})
	require.NoError(t, err)
	require.True(t, resp.AllCorrected)
	require.Nil(t, resp.Score)
	require.Equal(t, 800.0, resp.DiscursiveScore)

	stored := h.storedSubmission(t, exam.ID, learnerID)
	require.Equal(t, models.CorrectionStatusCorrected, stored.CorrectionStatus)
	require.Nil(t, stored.Score)
	require.Len(t, stored.Corrections[0].EssayCompetences, 1)
	require.Equal(t, "Good structure", stored.Corrections[0].EssayGeneralFeedback)
	require.Equal(t, 1, h.sink.count())
}

func TestCorrectQuestionAIFailureLeavesSubmissionUntouched(t *testing.T) {
	h := newExamHarness(t, 1)
	exam := h.createExam(t, models.Exam{
		Title:     "Literature",
		Questions: []models.ExamQuestion{discursiveQuestion(1)},
	})
	q := exam.Questions[0]
	h.submitAnswers(t, exam, learnerID, textAnswer(q, "this will fail"))

	_, err := h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, q.ID, dto.CorrectQuestionRequest{Method: models.CorrectionMethodAI}, CorrectionActor{ID: 1})
	require.Error(t, err)
	require.ErrorIs(t, err, ai.ErrGradingFailed)
	require.False(t, errors.Is(err, ErrAnswerNotFound))

	stored := h.storedSubmission(t, exam.ID, learnerID)
	require.Empty(t, stored.Corrections)
	require.Empty(t, stored.History)
	require.Equal(t, models.CorrectionStatusPending, stored.CorrectionStatus)
	require.Zero(t, stored.DiscursiveScore)
}

func TestCorrectQuestionRejectsInvalidInput(t *testing.T) {
	h := newExamHarness(t, 1)
	exam := h.createExam(t, models.Exam{
		Title:     "Math",
		Questions: []models.ExamQuestion{mcQuestion(1, "a"), discursiveQuestion(2), discursiveQuestion(3)},
	})
	mc, answered, blank := exam.Questions[0], exam.Questions[1], exam.Questions[2]
	h.submitAnswers(t, exam, learnerID, choiceAnswer(mc, "a"), textAnswer(answered, "x = 2"), textAnswer(blank, "   "))

	cases := []struct {
		name       string
		examID     uint
		userID     uint
		questionID uint
		req        dto.CorrectQuestionRequest
		want       error
	}{
		{"unknown method", exam.ID, learnerID, answered.ID, dto.CorrectQuestionRequest{Method: "peer"}, ErrInvalidCorrectionMethod},
		{"missing score", exam.ID, learnerID, answered.ID, dto.CorrectQuestionRequest{Method: "manual", Feedback: "ok"}, ErrScoreRequired},
		{"score above max", exam.ID, learnerID, answered.ID, manualRequest(11, "ok"), ErrScoreOutOfRange},
		{"negative score", exam.ID, learnerID, answered.ID, manualRequest(-1, "ok"), ErrScoreOutOfRange},
		{"blank feedback", exam.ID, learnerID, answered.ID, manualRequest(5, "  <p></p> "), ErrFeedbackRequired},
		{"multiple choice", exam.ID, learnerID, mc.ID, manualRequest(1, "ok"), ErrQuestionNotCorrectable},
		{"blank answer", exam.ID, learnerID, blank.ID, manualRequest(1, "ok"), ErrAnswerNotFound},
		{"unknown question", exam.ID, learnerID, 9999, manualRequest(1, "ok"), ErrQuestionNotFound},
		{"unknown exam", exam.ID + 50, learnerID, answered.ID, manualRequest(1, "ok"), ErrExamNotFound},
		{"unknown learner", exam.ID, learnerID + 1, answered.ID, manualRequest(1, "ok"), ErrExamSubmissionNotFound},
		{"rigor out of range", exam.ID, learnerID, answered.ID, dto.CorrectQuestionRequest{Method: "ai", Rigor: floatPtr(1.5)}, ErrInvalidRigor},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.corrections.CorrectQuestion(context.Background(), tc.examID, tc.userID, tc.questionID, tc.req, CorrectionActor{ID: 1})
			require.ErrorIs(t, err, tc.want)
		})
	}

	stored := h.storedSubmission(t, exam.ID, learnerID)
	require.Empty(t, stored.Corrections)
	require.Equal(t, 0, h.grader.callCount())
}

func TestCorrectAllToleratesPartialFailure(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			h := newExamHarness(t, concurrency)
			exam := h.createExam(t, models.Exam{
				Title:     "Sociology",
				Questions: []models.ExamQuestion{discursiveQuestion(1), discursiveQuestion(2), discursiveQuestion(3)},
			})
			d1, d2, d3 := exam.Questions[0], exam.Questions[1], exam.Questions[2]
			h.submitAnswers(t, exam, learnerID, textAnswer(d1, "Durkheim"), textAnswer(d2, "please fail"), textAnswer(d3, "Weber"))

			resp, err := h.corrections.CorrectAll(context.Background(), exam.ID, learnerID, dto.CorrectAllRequest{})
			require.NoError(t, err)
			require.Equal(t, 2, resp.Corrected)
			require.Equal(t, 3, resp.Total)
			require.Len(t, resp.Errors, 1)
			require.Equal(t, d2.ID, resp.Errors[0].QuestionID)
			require.Contains(t, resp.Errors[0].Message, "quota exceeded")
			require.False(t, resp.AllCorrected)
			require.Nil(t, resp.Score)
			require.Equal(t, 14.0, resp.DiscursiveScore)

			stored := h.storedSubmission(t, exam.ID, learnerID)
			require.Len(t, stored.Corrections, 2)
			require.Equal(t, d1.ID, stored.Corrections[0].QuestionID)
			require.Equal(t, d3.ID, stored.Corrections[1].QuestionID)
			require.Equal(t, models.CorrectionStatusPending, stored.CorrectionStatus)
		})
	}
}

func TestCorrectAllReportsTotalFailure(t *testing.T) {
	h := newExamHarness(t, 1)
	exam := h.createExam(t, models.Exam{
		Title:     "Art",
		Questions: []models.ExamQuestion{discursiveQuestion(1), discursiveQuestion(2)},
	})
	d1, d2 := exam.Questions[0], exam.Questions[1]
	h.submitAnswers(t, exam, learnerID, textAnswer(d1, "fail one"))

	resp, err := h.corrections.CorrectAll(context.Background(), exam.ID, learnerID, dto.CorrectAllRequest{})
	require.ErrorIs(t, err, ErrBulkCorrectionFailed)
	require.Equal(t, 0, resp.Corrected)
	require.Equal(t, 2, resp.Total)
	require.Len(t, resp.Errors, 2)
	require.Equal(t, d2.ID, resp.Errors[1].QuestionID)
	require.Contains(t, resp.Errors[1].Message, ErrAnswerNotFound.Error())

	stored := h.storedSubmission(t, exam.ID, learnerID)
	require.Empty(t, stored.Corrections)
	require.Empty(t, stored.History)
}

func TestCorrectAllSkipsCorrectedAndManualEssays(t *testing.T) {
	h := newExamHarness(t, 1)
	exam := h.createExam(t, models.Exam{
		Title:             "Portuguese",
		DiscursiveAIRigor: 0.8,
		Questions: []models.ExamQuestion{
			discursiveQuestion(1),
			discursiveQuestion(2),
			essayQuestion(3, models.CorrectionMethodManual),
		},
	})
	d1, d2, essay := exam.Questions[0], exam.Questions[1], exam.Questions[2]
	h.submitAnswers(t, exam, learnerID, textAnswer(d1, "Camões"), textAnswer(d2, "Pessoa"), textAnswer(essay, "Long essay"))

	_, err := h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, d1.ID, manualRequest(10, "Perfect"), CorrectionActor{ID: 1})
	require.NoError(t, err)

	resp, err := h.corrections.CorrectAll(context.Background(), exam.ID, learnerID, dto.CorrectAllRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
	require.Equal(t, 1, resp.Corrected)
	require.True(t, resp.AllCorrected)
	require.Equal(t, 0.8, h.grader.lastRigor)
	require.Equal(t, 85.0, *resp.Score)

	again, err := h.corrections.CorrectAll(context.Background(), exam.ID, learnerID, dto.CorrectAllRequest{Rigor: floatPtr(0.2)})
	require.NoError(t, err)
	require.Equal(t, 0, again.Total)
	require.Empty(t, again.Errors)
	require.True(t, again.AllCorrected)

	manual, err := h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, essay.ID, manualRequest(500, "Needs cohesion"), CorrectionActor{ID: 1})
	require.NoError(t, err)
	require.True(t, manual.AllCorrected)
	require.InDelta(t, 73.33, *manual.Score, 0.001)
}

func TestCorrectAllWithoutGrader(t *testing.T) {
	h := newExamHarness(t, 1)
	h.corrections = NewCorrectionService(h.exams, h.submissions, nil, h.sink, testValidator(), CorrectionConfig{}, testLogger())
	exam := h.createExam(t, models.Exam{Title: "Music", Questions: []models.ExamQuestion{discursiveQuestion(1)}})
	h.submitAnswers(t, exam, learnerID, textAnswer(exam.Questions[0], "Bach"))

	_, err := h.corrections.CorrectAll(context.Background(), exam.ID, learnerID, dto.CorrectAllRequest{})
	require.ErrorIs(t, err, ErrGraderUnavailable)

	_, err = h.corrections.CorrectAll(context.Background(), exam.ID+50, learnerID, dto.CorrectAllRequest{})
	require.ErrorIs(t, err, ErrExamNotFound)

	_, err = h.corrections.CorrectAll(context.Background(), exam.ID, learnerID+1, dto.CorrectAllRequest{})
	require.ErrorIs(t, err, ErrExamSubmissionNotFound)

	_, err = h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, exam.Questions[0].ID, dto.CorrectQuestionRequest{Method: "ai"}, CorrectionActor{})
	require.ErrorIs(t, err, ErrGraderUnavailable)

	resp, err := h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, exam.Questions[0].ID, manualRequest(4, "manual still works"), CorrectionActor{})
	require.NoError(t, err)
	require.Nil(t, resp.Correction.CorrectedBy)
}

// gatedGrader blocks every call until release is closed, then scores 1.
type gatedGrader struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedGrader) GradeDiscursive(ctx context.Context, input ai.DiscursiveInput) (ai.DiscursiveResult, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return ai.DiscursiveResult{}, ctx.Err()
	}
	return ai.DiscursiveResult{Score: 1, MaxScore: input.MaxScore, Feedback: "late"}, nil
}

func (g *gatedGrader) GradeEssay(context.Context, ai.EssayInput) (ai.EssayResult, error) {
	return ai.EssayResult{}, errors.New("not used")
}

func TestCorrectAllKeepsCorrectionFiledWhileGrading(t *testing.T) {
	h := newExamHarness(t, 1)
	grader := &gatedGrader{entered: make(chan struct{}), release: make(chan struct{})}
	bulk := NewCorrectionService(h.exams, h.submissions, grader, h.sink, testValidator(), CorrectionConfig{DefaultRigor: 0.5, Concurrency: 1}, testLogger())

	exam := h.createExam(t, models.Exam{Title: "Geography", Questions: []models.ExamQuestion{discursiveQuestion(1)}})
	q := exam.Questions[0]
	h.submitAnswers(t, exam, learnerID, textAnswer(q, "Rivers erode valleys"))

	type result struct {
		resp dto.CorrectAllResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := bulk.CorrectAll(context.Background(), exam.ID, learnerID, dto.CorrectAllRequest{})
		done <- result{resp, err}
	}()

	<-grader.entered
	_, err := h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, q.ID, manualRequest(9, "human"), CorrectionActor{ID: 4})
	require.NoError(t, err)
	close(grader.release)

	out := <-done
	require.NoError(t, out.err)
	require.Equal(t, 1, out.resp.Total)
	require.Equal(t, 0, out.resp.Corrected)
	require.Equal(t, []uint{q.ID}, out.resp.Skipped)
	require.True(t, out.resp.AllCorrected)

	stored := h.storedSubmission(t, exam.ID, learnerID)
	require.Len(t, stored.Corrections, 1)
	require.Equal(t, models.CorrectionMethodManual, stored.Corrections[0].Method)
	require.Equal(t, 9.0, stored.Corrections[0].Score)
	require.Equal(t, "human", stored.Corrections[0].Feedback)
	require.Len(t, stored.History, 1)
	require.Equal(t, 9.0, stored.DiscursiveScore)
	require.Equal(t, 1, h.sink.count())
}

func TestConcurrentCorrectionsOfDifferentQuestionsAreAllKept(t *testing.T) {
	h := newExamHarness(t, 1)

	questions := make([]models.ExamQuestion, 0, 6)
	for i := 1; i <= 6; i++ {
		questions = append(questions, discursiveQuestion(i))
	}
	exam := h.createExam(t, models.Exam{Title: "Physics", Questions: questions})

	answers := make([]dto.ExamAnswerInput, 0, len(exam.Questions))
	for _, q := range exam.Questions {
		answers = append(answers, textAnswer(q, fmt.Sprintf("answer %d", q.Number)))
	}
	h.submitAnswers(t, exam, learnerID, answers...)

	var wg sync.WaitGroup
	errs := make(chan error, len(exam.Questions))
	for i, q := range exam.Questions {
		wg.Add(1)
		go func(grader uint, questionID uint) {
			defer wg.Done()
			_, err := h.corrections.CorrectQuestion(context.Background(), exam.ID, learnerID, questionID, manualRequest(5, "half credit"), CorrectionActor{ID: grader})
			errs <- err
		}(uint(i+1), q.ID)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	stored := h.storedSubmission(t, exam.ID, learnerID)
	require.Len(t, stored.Corrections, 6)
	require.Equal(t, models.CorrectionStatusCorrected, stored.CorrectionStatus)
	require.Equal(t, 30.0, stored.DiscursiveScore)
	require.Equal(t, 50.0, *stored.Score)
	require.Equal(t, 1, h.sink.count())

	svc := h.corrections.(*correctionService)
	require.Zero(t, svc.locks.size())
}
