// Package scoring holds the pure grading math of the exam engine: the
// multiple-choice scorer, the correction ledger and the score combiner.
package scoring

import (
	"strings"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// MultipleChoiceResult is the aggregated outcome of the multiple-choice questions.
type MultipleChoiceResult struct {
	Count      int
	Correct    int
	Percentage float64
}

// MultipleChoice scores every multiple-choice question of the set against the
// learner's answers. Unanswered or blank selections count as incorrect. When the
// set has no multiple-choice question the result has Count == 0 and contributes
// nothing to the combined score.
func MultipleChoice(questions []models.ExamQuestion, answers []models.ExamAnswer) MultipleChoiceResult {
	selected := make(map[uint]string, len(answers))
	for _, answer := range answers {
		selected[answer.QuestionID] = strings.TrimSpace(answer.SelectedAlternative)
	}

	result := MultipleChoiceResult{}
	for _, question := range questions {
		if question.Kind != models.QuestionKindMultipleChoice {
			continue
		}
		result.Count++

		choice := selected[question.ID]
		if choice == "" {
			continue
		}
		if key := question.CorrectAlternativeID(); key != "" && choice == key {
			result.Correct++
		}
	}

	if result.Count > 0 {
		result.Percentage = float64(result.Correct) / float64(result.Count) * 100
	}

	return result
}
