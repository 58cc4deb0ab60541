package repository

import (
	"context"
	"errors"
	"strings"

	"portfoliodoctor/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// UserRepository is the persistence contract for accounts.
type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	Update(ctx context.Context, u *model.User) error
}

type GormUserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *GormUserRepository {
	logger.WithField("component", "GormUserRepository").
		Debug("Creating new UserRepository")

	return &GormUserRepository{db: db}
}

// translate maps gorm errors onto the package sentinels. The connection is
// opened with TranslateError, so unique violations arrive as ErrDuplicatedKey.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	case strings.Contains(strings.ToLower(err.Error()), "unique constraint"):
		return ErrDuplicate
	}
	return err
}

func (r *GormUserRepository) Create(ctx context.Context, u *model.User) error {
	err := r.db.WithContext(ctx).Create(u).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "UserRepository",
			"op":   "Create",
		}).WithError(err).Warn("Failed to create user")
	}
	return translate(err)
}

func (r *GormUserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// GetByEmail matches case-insensitively; emails are stored lower-cased.
func (r *GormUserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := r.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&u).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *GormUserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := r.db.WithContext(ctx).
		Where("username = ?", strings.TrimSpace(username)).
		First(&u).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// Update saves every column, including zero values.
func (r *GormUserRepository) Update(ctx context.Context, u *model.User) error {
	return translate(r.db.WithContext(ctx).Save(u).Error)
}
