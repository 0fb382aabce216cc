package dto

import (
	"time"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// ExamAnswerInput is one answer of a submit request.
type ExamAnswerInput struct {
	QuestionID          uint   `json:"question_id" validate:"required"`
	SelectedAlternative string `json:"selected_alternative" validate:"omitempty,max=64"`
	Text                string `json:"text" validate:"omitempty,max=20000"`
}

// SubmitExamRequest carries the learner's answers.
type SubmitExamRequest struct {
	Answers []ExamAnswerInput `json:"answers" validate:"dive"`
}

// SubmitExamResponse is returned once a submission is stored.
type SubmitExamResponse struct {
	SubmissionID     uint                `json:"submission_id"`
	Score            *float64            `json:"score,omitempty"`
	CorrectionStatus string              `json:"correction_status,omitempty"`
	AutoCorrection   *CorrectAllResponse `json:"auto_correction,omitempty"`
}

// ExamAnswerResponse mirrors a stored answer.
type ExamAnswerResponse struct {
	QuestionID          uint   `json:"question_id"`
	SelectedAlternative string `json:"selected_alternative,omitempty"`
	Text                string `json:"text,omitempty"`
}

// CorrectionResponse mirrors a stored correction.
type CorrectionResponse struct {
	QuestionID           uint                     `json:"question_id"`
	QuestionKind         models.QuestionKind      `json:"question_kind"`
	Score                float64                  `json:"score"`
	MaxScore             float64                  `json:"max_score"`
	Feedback             string                   `json:"feedback"`
	Method               string                   `json:"method"`
	CorrectedAt          time.Time                `json:"corrected_at"`
	CorrectedBy          *uint                    `json:"corrected_by,omitempty"`
	KeyPointsFound       []string                 `json:"key_points_found,omitempty"`
	EssayCompetences     []models.EssayCompetence `json:"essay_competences,omitempty"`
	EssayGeneralFeedback string                   `json:"essay_general_feedback,omitempty"`
}

// CorrectionHistoryResponse is one audit entry of the correction ledger.
type CorrectionHistoryResponse struct {
	QuestionID  uint      `json:"question_id"`
	Score       float64   `json:"score"`
	MaxScore    float64   `json:"max_score"`
	Method      string    `json:"method"`
	CorrectedBy *uint     `json:"corrected_by,omitempty"`
	CorrectedAt time.Time `json:"corrected_at"`
}

// ExamSubmissionResponse is the full view of a submission and its ledger.
type ExamSubmissionResponse struct {
	ID               uint                        `json:"id"`
	ExamID           uint                        `json:"exam_id"`
	UserID           uint                        `json:"user_id"`
	Answers          []ExamAnswerResponse        `json:"answers"`
	Corrections      []CorrectionResponse        `json:"corrections"`
	PendingQuestions []uint                      `json:"pending_questions"`
	DiscursiveScore  float64                     `json:"discursive_score"`
	CorrectionStatus string                      `json:"correction_status,omitempty"`
	Score            *float64                    `json:"score,omitempty"`
	CorrectedAt      *time.Time                  `json:"corrected_at,omitempty"`
	SubmittedAt      time.Time                   `json:"submitted_at"`
	History          []CorrectionHistoryResponse `json:"history,omitempty"`
}

// CorrectQuestionRequest corrects a single question. Score and Feedback are
// required for manual corrections; Rigor tunes AI corrections.
type CorrectQuestionRequest struct {
	Method   string   `json:"method"`
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback" validate:"max=5000"`
	Rigor    *float64 `json:"rigor"`
}

// CorrectQuestionResponse reports the stored correction and the ledger state.
type CorrectQuestionResponse struct {
	Correction       CorrectionResponse `json:"correction"`
	AllCorrected     bool               `json:"all_corrected"`
	DiscursiveScore  float64            `json:"discursive_score"`
	CorrectionStatus string             `json:"correction_status,omitempty"`
	Score            *float64           `json:"score,omitempty"`
}

// CorrectAllRequest triggers AI correction of every pending question.
type CorrectAllRequest struct {
	Rigor *float64 `json:"rigor"`
}

// QuestionCorrectionError describes why one question could not be corrected.
type QuestionCorrectionError struct {
	QuestionID uint   `json:"question_id"`
	Message    string `json:"message"`
}

// CorrectAllResponse summarises a bulk correction.
type CorrectAllResponse struct {
	Corrected        int                       `json:"corrected"`
	Total            int                       `json:"total"`
	DiscursiveScore  float64                   `json:"discursive_score"`
	AllCorrected     bool                      `json:"all_corrected"`
	CorrectionStatus string                    `json:"correction_status,omitempty"`
	Score            *float64                  `json:"score,omitempty"`
	Errors           []QuestionCorrectionError `json:"errors"`
	// Skipped lists questions corrected by someone else while grading ran.
	Skipped []uint `json:"skipped,omitempty"`
}

// NewCorrectionResponse converts a correction model to DTO.
func NewCorrectionResponse(model models.ExamCorrection) CorrectionResponse {
	return CorrectionResponse{
		QuestionID:           model.QuestionID,
		QuestionKind:         model.QuestionKind,
		Score:                model.Score,
		MaxScore:             model.MaxScore,
		Feedback:             model.Feedback,
		Method:               model.Method,
		CorrectedAt:          model.CorrectedAt,
		CorrectedBy:          model.CorrectedBy,
		KeyPointsFound:       []string(model.KeyPointsFound),
		EssayCompetences:     []models.EssayCompetence(model.EssayCompetences),
		EssayGeneralFeedback: model.EssayGeneralFeedback,
	}
}

// NewExamSubmissionResponse converts a submission to DTO. Pending lists the
// required questions still waiting for a correction.
func NewExamSubmissionResponse(model models.ExamSubmission, pending []models.ExamQuestion) ExamSubmissionResponse {
	answers := make([]ExamAnswerResponse, 0, len(model.Answers))
	for _, answer := range model.Answers {
		answers = append(answers, ExamAnswerResponse{
			QuestionID:          answer.QuestionID,
			SelectedAlternative: answer.SelectedAlternative,
			Text:                answer.Text,
		})
	}

	corrections := make([]CorrectionResponse, 0, len(model.Corrections))
	for _, correction := range model.Corrections {
		corrections = append(corrections, NewCorrectionResponse(correction))
	}

	pendingIDs := make([]uint, 0, len(pending))
	for _, question := range pending {
		pendingIDs = append(pendingIDs, question.ID)
	}

	var history []CorrectionHistoryResponse
	for _, entry := range model.History {
		history = append(history, CorrectionHistoryResponse{
			QuestionID:  entry.QuestionID,
			Score:       entry.Score,
			MaxScore:    entry.MaxScore,
			Method:      entry.Method,
			CorrectedBy: entry.CorrectedBy,
			CorrectedAt: entry.CorrectedAt,
		})
	}

	return ExamSubmissionResponse{
		ID:               model.ID,
		ExamID:           model.ExamID,
		UserID:           model.UserID,
		Answers:          answers,
		Corrections:      corrections,
		PendingQuestions: pendingIDs,
		DiscursiveScore:  model.DiscursiveScore,
		CorrectionStatus: model.CorrectionStatus,
		Score:            model.Score,
		CorrectedAt:      model.CorrectedAt,
		SubmittedAt:      model.SubmittedAt,
		History:          history,
	}
}
