package repository

import (
	"context"
	"errors"

	"portfoliodoctor/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrRunCompleted is returned when a finished sync run is written again.
var ErrRunCompleted = errors.New("sync run already completed")

type SyncRunRepository interface {
	Create(ctx context.Context, run *model.SyncRun) error
	Complete(ctx context.Context, run *model.SyncRun) error
	Get(ctx context.Context, id string) (*model.SyncRun, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]model.SyncRun, error)
}

type GormSyncRunRepository struct {
	db *gorm.DB
}

func NewSyncRunRepository(db *gorm.DB) *GormSyncRunRepository {
	return &GormSyncRunRepository{db: db}
}

// Create inserts the run together with its per-exchange rows.
func (r *GormSyncRunRepository) Create(ctx context.Context, run *model.SyncRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// Complete writes the final status and exchange outcomes. A run can be
// completed only once.
func (r *GormSyncRunRepository) Complete(ctx context.Context, run *model.SyncRun) error {
	if run.CompletedAt == nil {
		return errors.New("sync run has no completion time")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.SyncRun{}).
			Where("id = ? AND completed_at IS NULL", run.ID).
			Updates(map[string]interface{}{
				"status":       run.Status,
				"completed_at": *run.CompletedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			logger.WithField("run_id", run.ID).Warn("sync run already completed, outcome discarded")
			return ErrRunCompleted
		}

		for i := range run.Exchanges {
			ex := &run.Exchanges[i]
			ex.RunID = run.ID
			if err := tx.Save(ex).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormSyncRunRepository) Get(ctx context.Context, id string) (*model.SyncRun, error) {
	var run model.SyncRun
	err := r.db.WithContext(ctx).
		Preload("Exchanges", func(db *gorm.DB) *gorm.DB { return db.Order("exchange_id ASC") }).
		Where("id = ?", id).
		First(&run).Error
	if err != nil {
		return nil, translate(err)
	}
	return &run, nil
}

// ListByUser returns the newest runs first.
func (r *GormSyncRunRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []model.SyncRun
	err := r.db.WithContext(ctx).
		Preload("Exchanges", func(db *gorm.DB) *gorm.DB { return db.Order("exchange_id ASC") }).
		Where("user_id = ?", userID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
