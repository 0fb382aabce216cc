package database

import (
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// Migrate creates or updates the tables owned by the exam engine.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Exam{},
		&models.ExamQuestion{},
		&models.ExamSubmission{},
		&models.ExamAnswer{},
		&models.ExamCorrection{},
		&models.ExamCorrectionHistory{},
		&models.Notification{},
	)
}
