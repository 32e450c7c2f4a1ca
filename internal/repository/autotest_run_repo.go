package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-autotest/internal/models"
)

// AutoTestRunRepository persists runs and their append-only event logs.
type AutoTestRunRepository interface {
	EnsureRun(ctx context.Context, run *models.AutoTestRun) error
	GetRun(ctx context.Context, id uint) (models.AutoTestRun, error)
	AppendEvent(ctx context.Context, event *models.AutoTestEvent) error
	ListEvents(ctx context.Context, runID uint) ([]models.AutoTestEvent, error)
}

type autoTestRunRepository struct {
	db *gorm.DB
}

// NewAutoTestRunRepository instantiates a GORM-backed repository.
func NewAutoTestRunRepository(db *gorm.DB) AutoTestRunRepository {
	return &autoTestRunRepository{db: db}
}

// EnsureRun inserts the run unless a run with the same id exists.
func (r *autoTestRunRepository) EnsureRun(ctx context.Context, run *models.AutoTestRun) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(run).Error
}

func (r *autoTestRunRepository) GetRun(ctx context.Context, id uint) (models.AutoTestRun, error) {
	var run models.AutoTestRun
	if err := r.db.WithContext(ctx).First(&run, id).Error; err != nil {
		return models.AutoTestRun{}, err
	}

	return run, nil
}

func (r *autoTestRunRepository) AppendEvent(ctx context.Context, event *models.AutoTestEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *autoTestRunRepository) ListEvents(ctx context.Context, runID uint) ([]models.AutoTestEvent, error) {
	var events []models.AutoTestEvent
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("id ASC").Find(&events).Error; err != nil {
		return nil, err
	}

	return events, nil
}
