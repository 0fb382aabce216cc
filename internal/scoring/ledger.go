package scoring

import "github.com/noah-isme/gema-exam-api/internal/models"

// RequiresCorrection reports whether a question must be corrected before the
// submission counts as fully corrected. Every discursive question is required;
// essays only when they are corrected by the grading model. A manual essay
// still takes part in scoring once a correction is filed for it.
func RequiresCorrection(question models.ExamQuestion) bool {
	switch question.Kind {
	case models.QuestionKindDiscursive:
		return true
	case models.QuestionKindEssay:
		return question.EssayCorrectionMethod == models.CorrectionMethodAI
	default:
		return false
	}
}

// RequiredQuestions filters the questions that gate completion.
func RequiredQuestions(questions []models.ExamQuestion) []models.ExamQuestion {
	required := make([]models.ExamQuestion, 0, len(questions))
	for _, question := range questions {
		if RequiresCorrection(question) {
			required = append(required, question)
		}
	}
	return required
}

// Ledger is the set of corrections of one submission, keyed by question id.
type Ledger struct {
	entries []models.ExamCorrection
}

// NewLedger builds a ledger from stored corrections. Later duplicates of the
// same question replace earlier ones.
func NewLedger(corrections []models.ExamCorrection) *Ledger {
	ledger := &Ledger{entries: make([]models.ExamCorrection, 0, len(corrections))}
	for _, correction := range corrections {
		ledger.Upsert(correction)
	}
	return ledger
}

// Upsert inserts the correction or replaces the existing entry of the same
// question. It reports whether an entry was replaced.
func (l *Ledger) Upsert(correction models.ExamCorrection) bool {
	for i := range l.entries {
		if l.entries[i].QuestionID == correction.QuestionID {
			l.entries[i] = correction
			return true
		}
	}
	l.entries = append(l.entries, correction)
	return false
}

// Corrections returns a copy of the ledger entries.
func (l *Ledger) Corrections() []models.ExamCorrection {
	out := make([]models.ExamCorrection, len(l.entries))
	copy(out, l.entries)
	return out
}

// Has reports whether the question has a filed correction.
func (l *Ledger) Has(questionID uint) bool {
	for _, entry := range l.entries {
		if entry.QuestionID == questionID {
			return true
		}
	}
	return false
}

// Len returns the number of corrected questions.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// DiscursiveScore sums the scores of every correction that is not a
// multiple-choice judgment.
func (l *Ledger) DiscursiveScore() float64 {
	var total float64
	for _, entry := range l.entries {
		if entry.QuestionKind == models.QuestionKindMultipleChoice {
			continue
		}
		total += entry.Score
	}
	return total
}

// Status derives the submission-level correction status from the question set.
func (l *Ledger) Status(questions []models.ExamQuestion) string {
	required := RequiredQuestions(questions)
	if len(required) == 0 {
		if l.Len() > 0 {
			return models.CorrectionStatusCorrected
		}
		return models.CorrectionStatusNone
	}

	for _, question := range required {
		if !l.Has(question.ID) {
			return models.CorrectionStatusPending
		}
	}

	return models.CorrectionStatusCorrected
}

// Pending lists the required questions that still have no correction, in exam order.
func (l *Ledger) Pending(questions []models.ExamQuestion) []models.ExamQuestion {
	pending := make([]models.ExamQuestion, 0)
	for _, question := range RequiredQuestions(questions) {
		if !l.Has(question.ID) {
			pending = append(pending, question)
		}
	}
	return pending
}
