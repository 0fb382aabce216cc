package ai

import "context"

// KeyPoint is a weighted element the grader looks for in a discursive answer.
type KeyPoint struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// DiscursiveInput contains the artefacts needed to grade a discursive answer.
type DiscursiveInput struct {
	Statement      string
	ExpectedAnswer string
	KeyPoints      []KeyPoint
	MaxScore       float64
	Answer         string
	Rigor          float64
}

// DiscursiveResult is the structured judgment of a discursive answer.
type DiscursiveResult struct {
	Score          float64  `json:"score"`
	MaxScore       float64  `json:"max_score"`
	Feedback       string   `json:"feedback"`
	KeyPointsFound []string `json:"key_points_found,omitempty"`
}

// EssayInput contains the artefacts needed to grade an essay.
type EssayInput struct {
	Statement string
	MaxScore  float64
	Answer    string
	Rigor     float64
}

// Competence is one line of the essay breakdown.
type Competence struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	MaxScore float64 `json:"max_score"`
	Feedback string  `json:"feedback,omitempty"`
}

// EssayResult is the structured judgment of an essay.
type EssayResult struct {
	Score           float64      `json:"score"`
	MaxScore        float64      `json:"max_score"`
	Competences     []Competence `json:"competences"`
	GeneralFeedback string       `json:"general_feedback"`
}

// Grader describes a model capable of judging free-text exam answers.
type Grader interface {
	GradeDiscursive(ctx context.Context, input DiscursiveInput) (DiscursiveResult, error)
	GradeEssay(ctx context.Context, input EssayInput) (EssayResult, error)
}
