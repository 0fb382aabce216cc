package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	// CorrectionStatusNone means no question of the submission needs judgment.
	CorrectionStatusNone = ""
	// CorrectionStatusPending means at least one required question is still uncorrected.
	CorrectionStatusPending = "pending"
	// CorrectionStatusCorrected means every required question has a correction.
	CorrectionStatusCorrected = "corrected"
)

// ExamSubmission is a learner's submitted exam together with its correction ledger.
type ExamSubmission struct {
	ID               uint                    `gorm:"primaryKey" json:"id"`
	ExamID           uint                    `gorm:"not null;uniqueIndex:idx_exam_submission_owner" json:"exam_id"`
	UserID           uint                    `gorm:"not null;uniqueIndex:idx_exam_submission_owner" json:"user_id"`
	Answers          []ExamAnswer            `gorm:"foreignKey:SubmissionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"answers"`
	Corrections      []ExamCorrection        `gorm:"foreignKey:SubmissionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"corrections"`
	History          []ExamCorrectionHistory `gorm:"foreignKey:SubmissionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"history,omitempty"`
	DiscursiveScore  float64                 `gorm:"not null;default:0" json:"discursive_score"`
	CorrectionStatus string                  `gorm:"size:16" json:"correction_status"`
	Score            *float64                `json:"score"`
	CorrectedAt      *time.Time              `json:"corrected_at"`
	NotifiedAt       *time.Time              `json:"notified_at"`
	SubmittedAt      time.Time               `json:"submitted_at"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// IsCorrected reports whether every required question has been judged.
func (s ExamSubmission) IsCorrected() bool {
	return s.CorrectionStatus == CorrectionStatusCorrected
}

// AnswerFor returns the learner's answer to the question, if one was submitted.
func (s ExamSubmission) AnswerFor(questionID uint) (ExamAnswer, bool) {
	for _, answer := range s.Answers {
		if answer.QuestionID == questionID {
			return answer, true
		}
	}
	return ExamAnswer{}, false
}

// CorrectionFor returns the filed correction of the question, if any.
func (s ExamSubmission) CorrectionFor(questionID uint) (ExamCorrection, bool) {
	for _, correction := range s.Corrections {
		if correction.QuestionID == questionID {
			return correction, true
		}
	}
	return ExamCorrection{}, false
}

// ExamAnswer is one submitted answer. It is never modified after submission.
type ExamAnswer struct {
	ID                  uint   `gorm:"primaryKey" json:"id"`
	SubmissionID        uint   `gorm:"not null;uniqueIndex:idx_exam_answer_key" json:"submission_id"`
	QuestionID          uint   `gorm:"not null;uniqueIndex:idx_exam_answer_key" json:"question_id"`
	SelectedAlternative string `gorm:"size:64" json:"selected_alternative,omitempty"`
	Text                string `gorm:"type:text" json:"text,omitempty"`
}

// HasText reports whether the answer carries non-blank free text.
func (a ExamAnswer) HasText() bool {
	return strings.TrimSpace(a.Text) != ""
}

// EssayCompetence is the per-competence breakdown of an essay correction.
type EssayCompetence struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	MaxScore float64 `json:"max_score"`
	Feedback string  `json:"feedback,omitempty"`
}

// ExamCorrection is the judgment of one question of one submission. The pair
// (SubmissionID, QuestionID) is unique; re-correcting replaces the row.
type ExamCorrection struct {
	ID                   uint                                 `gorm:"primaryKey" json:"id"`
	SubmissionID         uint                                 `gorm:"not null;uniqueIndex:idx_exam_correction_key" json:"submission_id"`
	QuestionID           uint                                 `gorm:"not null;uniqueIndex:idx_exam_correction_key" json:"question_id"`
	QuestionKind         QuestionKind                         `gorm:"size:32;not null" json:"question_kind"`
	Score                float64                              `gorm:"not null" json:"score"`
	MaxScore             float64                              `gorm:"not null" json:"max_score"`
	Feedback             string                               `gorm:"type:text" json:"feedback"`
	Method               string                               `gorm:"size:16;not null" json:"method"`
	CorrectedAt          time.Time                            `gorm:"not null" json:"corrected_at"`
	CorrectedBy          *uint                                `json:"corrected_by,omitempty"`
	KeyPointsFound       datatypes.JSONSlice[string]          `json:"key_points_found,omitempty"`
	EssayCompetences     datatypes.JSONSlice[EssayCompetence] `json:"essay_competences,omitempty"`
	EssayGeneralFeedback string                               `gorm:"type:text" json:"essay_general_feedback,omitempty"`
}

// Percentage returns the correction score as a percentage of its max score.
func (c ExamCorrection) Percentage() float64 {
	if c.MaxScore <= 0 {
		return 0
	}
	return c.Score / c.MaxScore * 100
}

// ExamCorrectionHistory is an audit row appended every time a correction is applied.
type ExamCorrectionHistory struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubmissionID uint      `gorm:"index;not null" json:"submission_id"`
	QuestionID   uint      `gorm:"index;not null" json:"question_id"`
	Score        float64   `gorm:"not null" json:"score"`
	MaxScore     float64   `gorm:"not null" json:"max_score"`
	Method       string    `gorm:"size:16;not null" json:"method"`
	CorrectedBy  *uint     `json:"corrected_by,omitempty"`
	CorrectedAt  time.Time `gorm:"not null" json:"corrected_at"`
}
