package service

import "errors"

var (
	// ErrExamNotFound indicates the exam does not exist.
	ErrExamNotFound = errors.New("exam not found")
	// ErrExamSubmissionNotFound indicates the learner has not submitted the exam.
	ErrExamSubmissionNotFound = errors.New("exam submission not found")
	// ErrQuestionNotFound indicates the question is not part of the exam.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrAnswerNotFound indicates the learner left the question unanswered.
	ErrAnswerNotFound = errors.New("answer not found")
	// ErrSubmissionExists indicates the learner already submitted the exam.
	ErrSubmissionExists = errors.New("exam already submitted")
	// ErrInvalidAnswers indicates answers that reference unknown or repeated questions.
	ErrInvalidAnswers = errors.New("answers reference unknown or repeated questions")
	// ErrInvalidCorrectionMethod indicates a method other than ai or manual.
	ErrInvalidCorrectionMethod = errors.New("correction method must be ai or manual")
	// ErrScoreRequired indicates a manual correction without a score.
	ErrScoreRequired = errors.New("score is required for manual corrections")
	// ErrScoreOutOfRange indicates a manual score outside 0..max score.
	ErrScoreOutOfRange = errors.New("score is out of range")
	// ErrFeedbackRequired indicates a manual correction without feedback.
	ErrFeedbackRequired = errors.New("feedback is required for manual corrections")
	// ErrQuestionNotCorrectable indicates a multiple-choice question.
	ErrQuestionNotCorrectable = errors.New("question does not accept corrections")
	// ErrInvalidRigor indicates a rigor outside 0..1.
	ErrInvalidRigor = errors.New("rigor must be between 0 and 1")
	// ErrGraderUnavailable indicates no grading model is configured.
	ErrGraderUnavailable = errors.New("ai grader is not configured")
	// ErrBulkCorrectionFailed indicates that no question of a bulk correction succeeded.
	ErrBulkCorrectionFailed = errors.New("no question could be corrected")
)
