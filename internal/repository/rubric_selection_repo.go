package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-autotest/internal/models"
)

// RubricSelectionRepository stores the manual rubric selections of graders.
type RubricSelectionRepository interface {
	ListForSubmission(ctx context.Context, assignmentID, submissionID uint) ([]models.RubricSelection, error)
	Upsert(ctx context.Context, selection *models.RubricSelection) error
	Delete(ctx context.Context, assignmentID, submissionID uint, rowID int) error
}

type rubricSelectionRepository struct {
	db *gorm.DB
}

// NewRubricSelectionRepository instantiates a GORM-backed repository.
func NewRubricSelectionRepository(db *gorm.DB) RubricSelectionRepository {
	return &rubricSelectionRepository{db: db}
}

func (r *rubricSelectionRepository) ListForSubmission(ctx context.Context, assignmentID, submissionID uint) ([]models.RubricSelection, error) {
	var selections []models.RubricSelection
	err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND submission_id = ?", assignmentID, submissionID).
		Order("row_id ASC").
		Find(&selections).Error
	if err != nil {
		return nil, err
	}

	return selections, nil
}

func (r *rubricSelectionRepository) Upsert(ctx context.Context, selection *models.RubricSelection) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "assignment_id"}, {Name: "submission_id"}, {Name: "row_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"item_id", "multiplier", "selected_by", "updated_at"}),
	}).Create(selection).Error
}

func (r *rubricSelectionRepository) Delete(ctx context.Context, assignmentID, submissionID uint, rowID int) error {
	return r.db.WithContext(ctx).
		Where("assignment_id = ? AND submission_id = ? AND row_id = ?", assignmentID, submissionID, rowID).
		Delete(&models.RubricSelection{}).Error
}
