package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	// ScoringMethodNormal computes the final score inside the correction engine.
	ScoringMethodNormal = "normal"
	// ScoringMethodTRI defers the final score to the external item response theory process.
	ScoringMethodTRI = "tri"
)

const (
	// CorrectionMethodAI marks questions judged by the grading model.
	CorrectionMethodAI = "ai"
	// CorrectionMethodManual marks questions judged by a human grader.
	CorrectionMethodManual = "manual"
)

// QuestionKind tags the variant of an exam question.
type QuestionKind string

const (
	QuestionKindMultipleChoice QuestionKind = "multiple_choice"
	QuestionKindDiscursive     QuestionKind = "discursive"
	QuestionKindEssay          QuestionKind = "essay"
)

const (
	// DefaultTotalPoints is the point scale used when an exam leaves it unset.
	DefaultTotalPoints = 100.0
	// DefaultDiscursiveMaxScore is the max score of a discursive question without one.
	DefaultDiscursiveMaxScore = 10.0
	// DefaultEssayMaxScore is the max score of an essay question without one (ENEM scale).
	DefaultEssayMaxScore = 1000.0
)

// Exam owns a question set and the scoring configuration applied to its submissions.
type Exam struct {
	ID                         uint           `gorm:"primaryKey" json:"id"`
	Title                      string         `gorm:"size:255;not null" json:"title"`
	ScoringMethod              string         `gorm:"size:16;not null;default:normal" json:"scoring_method"`
	TotalPoints                float64        `json:"total_points"`
	DiscursiveCorrectionMethod string         `gorm:"size:16;not null;default:manual" json:"discursive_correction_method"`
	DiscursiveAIRigor          float64        `json:"discursive_ai_rigor"`
	Questions                  []ExamQuestion `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"questions"`
	CreatedAt                  time.Time      `json:"created_at"`
	UpdatedAt                  time.Time      `json:"updated_at"`
}

// PointScale returns the configured total points, falling back to the default scale.
func (e Exam) PointScale() float64 {
	if e.TotalPoints <= 0 {
		return DefaultTotalPoints
	}
	return e.TotalPoints
}

// UsesNormalScoring reports whether the engine owns the final score of this exam.
func (e Exam) UsesNormalScoring() bool {
	return e.ScoringMethod == "" || e.ScoringMethod == ScoringMethodNormal
}

// QuestionByID looks up a question of the exam.
func (e Exam) QuestionByID(id uint) (ExamQuestion, bool) {
	for _, question := range e.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return ExamQuestion{}, false
}

// Alternative is one option of a multiple-choice question.
type Alternative struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// KeyPoint is a weighted element the grading model looks for in a discursive answer.
type KeyPoint struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// ExamQuestion is a question of an exam. Kind selects which payload fields apply:
// Alternatives for multiple choice, KeyPoints/ExpectedAnswer for discursive and the
// Essay* fields for essays.
type ExamQuestion struct {
	ID                    uint                             `gorm:"primaryKey" json:"id"`
	ExamID                uint                             `gorm:"index;not null" json:"exam_id"`
	Number                int                              `gorm:"not null" json:"number"`
	Kind                  QuestionKind                     `gorm:"size:32;not null" json:"kind"`
	Statement             string                           `gorm:"type:text" json:"statement"`
	MaxScore              float64                          `json:"max_score"`
	Alternatives          datatypes.JSONSlice[Alternative] `json:"alternatives,omitempty"`
	KeyPoints             datatypes.JSONSlice[KeyPoint]    `json:"key_points,omitempty"`
	ExpectedAnswer        string                           `gorm:"type:text" json:"expected_answer,omitempty"`
	EssayCorrectionMethod string                           `gorm:"size:16" json:"essay_correction_method,omitempty"`
	EssayAIRigor          float64                          `json:"essay_ai_rigor,omitempty"`
	CreatedAt             time.Time                        `json:"created_at"`
	UpdatedAt             time.Time                        `json:"updated_at"`
}

// EffectiveMaxScore returns the max score used to judge the question.
func (q ExamQuestion) EffectiveMaxScore() float64 {
	if q.MaxScore > 0 {
		return q.MaxScore
	}
	switch q.Kind {
	case QuestionKindDiscursive:
		return DefaultDiscursiveMaxScore
	case QuestionKindEssay:
		return DefaultEssayMaxScore
	default:
		return 1
	}
}

// CorrectAlternativeID returns the id of the alternative flagged correct, if any.
func (q ExamQuestion) CorrectAlternativeID() string {
	for _, alternative := range q.Alternatives {
		if alternative.IsCorrect {
			return alternative.ID
		}
	}
	return ""
}

// IsCorrectable reports whether the question is judged through corrections.
func (q ExamQuestion) IsCorrectable() bool {
	switch q.Kind {
	case QuestionKindDiscursive, QuestionKindEssay:
		return true
	default:
		return false
	}
}
