package repository

import (
	"context"

	"portfoliodoctor/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CredentialRepository stores encrypted exchange credentials. At most one row
// exists per (user, exchange); revocation only clears is_active.
type CredentialRepository interface {
	Get(ctx context.Context, userID, exchangeID string) (*model.ExchangeCredential, error)
	ListByUser(ctx context.Context, userID string, activeOnly bool) ([]model.ExchangeCredential, error)
	Upsert(ctx context.Context, cred *model.ExchangeCredential) error
	Deactivate(ctx context.Context, userID, exchangeID string) (bool, error)
	UsersWithActive(ctx context.Context) ([]string, error)
}

type GormCredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *GormCredentialRepository {
	logger.WithField("component", "GormCredentialRepository").
		Debug("Creating new CredentialRepository")

	return &GormCredentialRepository{db: db}
}

// Get returns the row for userID and exchangeID whether active or not.
func (r *GormCredentialRepository) Get(ctx context.Context, userID, exchangeID string) (*model.ExchangeCredential, error) {
	var cred model.ExchangeCredential
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND exchange_id = ?", userID, exchangeID).
		First(&cred).Error
	if err != nil {
		return nil, translate(err)
	}
	return &cred, nil
}

func (r *GormCredentialRepository) ListByUser(ctx context.Context, userID string, activeOnly bool) ([]model.ExchangeCredential, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}

	var creds []model.ExchangeCredential
	if err := q.Order("exchange_id ASC").Find(&creds).Error; err != nil {
		return nil, err
	}
	return creds, nil
}

// Upsert creates the credential or replaces the key material, permissions
// and active flag if the (user_id, exchange_id) combination already exists.
func (r *GormCredentialRepository) Upsert(ctx context.Context, cred *model.ExchangeCredential) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
				{Name: "exchange_id"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"api_key",
				"api_secret",
				"signature_method",
				"can_read",
				"can_trade",
				"can_withdraw",
				"is_active",
				"updated_at",
			}),
		}).
		Create(cred).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "CredentialRepository",
			"op":       "Upsert",
			"exchange": cred.ExchangeID,
		}).WithError(err).Error("Failed to upsert exchange credential")
	}
	return err
}

// Deactivate soft-deletes an active credential. It reports false when there
// was nothing active to revoke.
func (r *GormCredentialRepository) Deactivate(ctx context.Context, userID, exchangeID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.ExchangeCredential{}).
		Where("user_id = ? AND exchange_id = ? AND is_active = ?", userID, exchangeID, true).
		Update("is_active", false)

	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UsersWithActive lists the users that hold at least one active credential.
func (r *GormCredentialRepository) UsersWithActive(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.ExchangeCredential{}).
		Where("is_active = ?", true).
		Distinct().
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}
