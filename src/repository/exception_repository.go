package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"portfoliodoctor/src/model"
)

// ExceptionRepository handles persistence of system exceptions.
type ExceptionRepository struct {
	db *gorm.DB
}

// NewExceptionRepository creates a new repository instance.
func NewExceptionRepository(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create persists a new exception in the database.
func (r *ExceptionRepository) Create(
	ctx context.Context,
	exc *model.Exception,
) error {

	logger.WithFields(map[string]interface{}{
		"service":  exc.Service,
		"module":   exc.Module,
		"method":   exc.Method,
		"level":    exc.Level,
		"exchange": exc.ExchangeID,
		"kind":     exc.Kind,
	}).Error("Persisting system exception")

	return r.db.WithContext(ctx).Create(exc).Error
}

// ListByUser returns the most recent exceptions recorded for a user.
func (r *ExceptionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.Exception, error) {
	var out []model.Exception
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
