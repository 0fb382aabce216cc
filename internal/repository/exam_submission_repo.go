package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// LedgerRecompute derives the submission-level fields from the freshly stored
// corrections. It runs inside the ledger transaction.
type LedgerRecompute func(submission *models.ExamSubmission) error

// ExamSubmissionRepository persists submissions and their correction ledger.
type ExamSubmissionRepository interface {
	Create(ctx context.Context, submission *models.ExamSubmission) error
	GetByID(ctx context.Context, id uint) (models.ExamSubmission, error)
	GetByExamAndUser(ctx context.Context, examID, userID uint) (models.ExamSubmission, error)
	UpdateDerived(ctx context.Context, submission *models.ExamSubmission) error
	ApplyCorrections(ctx context.Context, submissionID uint, corrections []models.ExamCorrection, recompute LedgerRecompute) (models.ExamSubmission, error)
	// InsertCorrections keeps corrections already filed and returns the
	// question ids it skipped.
	InsertCorrections(ctx context.Context, submissionID uint, corrections []models.ExamCorrection, recompute LedgerRecompute) (models.ExamSubmission, []uint, error)
}

type examSubmissionRepository struct {
	db *gorm.DB
}

// NewExamSubmissionRepository instantiates the repository.
func NewExamSubmissionRepository(db *gorm.DB) ExamSubmissionRepository {
	return &examSubmissionRepository{db: db}
}

var derivedSubmissionColumns = []string{"DiscursiveScore", "CorrectionStatus", "Score", "CorrectedAt", "NotifiedAt"}

func preloadLedger(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("question_id ASC")
		}).
		Preload("Corrections", func(db *gorm.DB) *gorm.DB {
			return db.Order("question_id ASC")
		})
}

func (r *examSubmissionRepository) Create(ctx context.Context, submission *models.ExamSubmission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *examSubmissionRepository) GetByID(ctx context.Context, id uint) (models.ExamSubmission, error) {
	var submission models.ExamSubmission
	if err := preloadLedger(r.db.WithContext(ctx)).First(&submission, id).Error; err != nil {
		return models.ExamSubmission{}, err
	}

	return submission, nil
}

func (r *examSubmissionRepository) GetByExamAndUser(ctx context.Context, examID, userID uint) (models.ExamSubmission, error) {
	var submission models.ExamSubmission
	if err := preloadLedger(r.db.WithContext(ctx)).
		Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order("corrected_at ASC, id ASC")
		}).
		Where("exam_id = ?", examID).
		Where("user_id = ?", userID).
		First(&submission).Error; err != nil {
		return models.ExamSubmission{}, err
	}

	return submission, nil
}

// UpdateDerived persists the derived fields only; answers and corrections are untouched.
func (r *examSubmissionRepository) UpdateDerived(ctx context.Context, submission *models.ExamSubmission) error {
	return saveDerived(r.db.WithContext(ctx), submission)
}

// ApplyCorrections upserts the corrections by question id, appends their history
// rows and recomputes the derived fields against the stored ledger, all in one
// transaction. The submission row is locked for the duration so concurrent
// corrections of other questions are never lost.
func (r *examSubmissionRepository) ApplyCorrections(ctx context.Context, submissionID uint, corrections []models.ExamCorrection, recompute LedgerRecompute) (models.ExamSubmission, error) {
	submission, _, err := r.applyLedger(ctx, submissionID, corrections, false, recompute)
	return submission, err
}

// InsertCorrections behaves like ApplyCorrections but leaves questions that
// already hold a correction alone. The check runs under the submission lock, so
// a correction filed while the caller was grading wins.
func (r *examSubmissionRepository) InsertCorrections(ctx context.Context, submissionID uint, corrections []models.ExamCorrection, recompute LedgerRecompute) (models.ExamSubmission, []uint, error) {
	return r.applyLedger(ctx, submissionID, corrections, true, recompute)
}

func (r *examSubmissionRepository) applyLedger(ctx context.Context, submissionID uint, corrections []models.ExamCorrection, keepExisting bool, recompute LedgerRecompute) (models.ExamSubmission, []uint, error) {
	var (
		result  models.ExamSubmission
		skipped []uint
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var submission models.ExamSubmission
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&submission, submissionID).Error; err != nil {
			return err
		}

		filed := map[uint]bool{}
		if keepExisting && len(corrections) > 0 {
			questionIDs := make([]uint, 0, len(corrections))
			for _, correction := range corrections {
				questionIDs = append(questionIDs, correction.QuestionID)
			}

			var existing []uint
			if err := tx.Model(&models.ExamCorrection{}).
				Where("submission_id = ? AND question_id IN ?", submissionID, questionIDs).
				Pluck("question_id", &existing).Error; err != nil {
				return err
			}
			for _, id := range existing {
				filed[id] = true
			}
		}

		for i := range corrections {
			correction := corrections[i]
			if filed[correction.QuestionID] {
				skipped = append(skipped, correction.QuestionID)
				continue
			}
			correction.ID = 0
			correction.SubmissionID = submissionID

			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "submission_id"}, {Name: "question_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"question_kind", "score", "max_score", "feedback", "method", "corrected_at",
					"corrected_by", "key_points_found", "essay_competences", "essay_general_feedback",
				}),
			}).Create(&correction).Error; err != nil {
				return err
			}

			history := models.ExamCorrectionHistory{
				SubmissionID: submissionID,
				QuestionID:   correction.QuestionID,
				Score:        correction.Score,
				MaxScore:     correction.MaxScore,
				Method:       correction.Method,
				CorrectedBy:  correction.CorrectedBy,
				CorrectedAt:  correction.CorrectedAt,
			}
			if err := tx.Create(&history).Error; err != nil {
				return err
			}
		}

		if err := preloadLedger(tx).First(&submission, submissionID).Error; err != nil {
			return err
		}

		if recompute != nil {
			if err := recompute(&submission); err != nil {
				return err
			}
		}

		if err := saveDerived(tx, &submission); err != nil {
			return err
		}

		result = submission
		return nil
	})
	if err != nil {
		return models.ExamSubmission{}, nil, err
	}

	return result, skipped, nil
}

func saveDerived(db *gorm.DB, submission *models.ExamSubmission) error {
	derived := models.ExamSubmission{
		ID:               submission.ID,
		DiscursiveScore:  submission.DiscursiveScore,
		CorrectionStatus: submission.CorrectionStatus,
		Score:            submission.Score,
		CorrectedAt:      submission.CorrectedAt,
		NotifiedAt:       submission.NotifiedAt,
	}

	return db.Model(&derived).Select(derivedSubmissionColumns).Updates(&derived).Error
}
