package dto

import "github.com/noah-isme/gema-exam-api/internal/models"

// ExamQuestionSeed describes one question of a seeded exam.
type ExamQuestionSeed struct {
	Number                int                  `json:"number" validate:"gte=0"`
	Kind                  models.QuestionKind  `json:"kind" validate:"required,oneof=multiple_choice discursive essay"`
	Statement             string               `json:"statement" validate:"required"`
	MaxScore              float64              `json:"max_score" validate:"gte=0"`
	Alternatives          []models.Alternative `json:"alternatives" validate:"omitempty,dive"`
	KeyPoints             []models.KeyPoint    `json:"key_points" validate:"omitempty,dive"`
	ExpectedAnswer        string               `json:"expected_answer"`
	EssayCorrectionMethod string               `json:"essay_correction_method" validate:"omitempty,oneof=ai manual"`
	EssayAIRigor          float64              `json:"essay_ai_rigor" validate:"gte=0,lte=1"`
}

// ExamSeedRequest is the fixture format accepted by the seed endpoint and CLI.
type ExamSeedRequest struct {
	Title                      string             `json:"title" validate:"required,max=255"`
	ScoringMethod              string             `json:"scoring_method" validate:"omitempty,oneof=normal tri"`
	TotalPoints                float64            `json:"total_points" validate:"gte=0"`
	DiscursiveCorrectionMethod string             `json:"discursive_correction_method" validate:"omitempty,oneof=ai manual"`
	DiscursiveAIRigor          float64            `json:"discursive_ai_rigor" validate:"gte=0,lte=1"`
	Questions                  []ExamQuestionSeed `json:"questions" validate:"required,min=1,dive"`
}

// ExamSeedResponse reports the stored exam.
type ExamSeedResponse struct {
	ID            uint   `json:"id"`
	Title         string `json:"title"`
	ScoringMethod string `json:"scoring_method"`
	Questions     int    `json:"questions"`
}

// ToModel converts the fixture into an exam model. Questions without a number
// are numbered by position.
func (r ExamSeedRequest) ToModel() models.Exam {
	exam := models.Exam{
		Title:                      r.Title,
		ScoringMethod:              r.ScoringMethod,
		TotalPoints:                r.TotalPoints,
		DiscursiveCorrectionMethod: r.DiscursiveCorrectionMethod,
		DiscursiveAIRigor:          r.DiscursiveAIRigor,
		Questions:                  make([]models.ExamQuestion, 0, len(r.Questions)),
	}
	if exam.ScoringMethod == "" {
		exam.ScoringMethod = models.ScoringMethodNormal
	}
	if exam.DiscursiveCorrectionMethod == "" {
		exam.DiscursiveCorrectionMethod = models.CorrectionMethodManual
	}

	for i, question := range r.Questions {
		number := question.Number
		if number == 0 {
			number = i + 1
		}
		exam.Questions = append(exam.Questions, models.ExamQuestion{
			Number:                number,
			Kind:                  question.Kind,
			Statement:             question.Statement,
			MaxScore:              question.MaxScore,
			Alternatives:          question.Alternatives,
			KeyPoints:             question.KeyPoints,
			ExpectedAnswer:        question.ExpectedAnswer,
			EssayCorrectionMethod: question.EssayCorrectionMethod,
			EssayAIRigor:          question.EssayAIRigor,
		})
	}

	return exam
}
