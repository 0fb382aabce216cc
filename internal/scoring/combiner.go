package scoring

import (
	"math"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// Part is one weighted percentage fed into the combiner.
type Part struct {
	Percentage float64
	Weight     float64
}

// Combine averages the weighted percentages and projects the result onto the
// point scale, rounded half-up to two decimals. It returns false when the
// total weight is zero.
func Combine(parts []Part, totalPoints float64) (float64, bool) {
	var weightedSum, totalWeight float64
	for _, part := range parts {
		if part.Weight <= 0 {
			continue
		}
		weightedSum += part.Percentage * part.Weight
		totalWeight += part.Weight
	}

	if totalWeight == 0 {
		return 0, false
	}

	finalPercentage := weightedSum / totalWeight
	return Round2(finalPercentage / 100 * totalPoints), true
}

// Round2 rounds half-up to two decimal places.
func Round2(value float64) float64 {
	scaled := value * 100
	// absorb binary representation noise such as 60.004999999 before flooring
	return math.Floor(scaled+0.5+1e-9) / 100
}

// Parts builds the combiner input: the multiple-choice percentage weighted by
// the number of multiple-choice questions, and each filed correction with
// weight 1.
func Parts(questions []models.ExamQuestion, answers []models.ExamAnswer, corrections []models.ExamCorrection) []Part {
	parts := make([]Part, 0, len(corrections)+1)

	mc := MultipleChoice(questions, answers)
	if mc.Count > 0 {
		parts = append(parts, Part{Percentage: mc.Percentage, Weight: float64(mc.Count)})
	}

	for _, correction := range corrections {
		if correction.QuestionKind == models.QuestionKindMultipleChoice {
			continue
		}
		parts = append(parts, Part{Percentage: correction.Percentage(), Weight: 1})
	}

	return parts
}

// FinalScore computes the final score of a submission. It only produces a value
// for exams scored by the engine; TRI exams always return false.
func FinalScore(exam models.Exam, answers []models.ExamAnswer, corrections []models.ExamCorrection) (float64, bool) {
	if !exam.UsesNormalScoring() {
		return 0, false
	}
	return Combine(Parts(exam.Questions, answers, corrections), exam.PointScale())
}
