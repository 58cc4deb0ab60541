package repository

import (
	"context"

	"portfoliodoctor/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PortfolioRepository persists the per-user portfolio snapshot: one
// breakdown row per (exchange, asset) and one aggregate entry per asset.
type PortfolioRepository interface {
	LoadBreakdowns(ctx context.Context, userID string) ([]model.PortfolioBreakdown, error)
	LoadPortfolio(ctx context.Context, userID string) ([]model.PortfolioEntry, error)
	ReplacePortfolio(ctx context.Context, userID string, breakdowns []model.PortfolioBreakdown, entries []model.PortfolioEntry) error
}

type GormPortfolioRepository struct {
	db *gorm.DB
}

func NewPortfolioRepository(db *gorm.DB) *GormPortfolioRepository {
	return &GormPortfolioRepository{db: db}
}

func (r *GormPortfolioRepository) LoadBreakdowns(ctx context.Context, userID string) ([]model.PortfolioBreakdown, error) {
	var rows []model.PortfolioBreakdown
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("asset_code ASC, exchange_id ASC").
		Find(&rows).Error
	return rows, err
}

// LoadPortfolio returns the aggregate entries with their breakdown rows
// attached, ordered by asset code.
func (r *GormPortfolioRepository) LoadPortfolio(ctx context.Context, userID string) ([]model.PortfolioEntry, error) {
	var entries []model.PortfolioEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("asset_code ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return entries, nil
	}

	rows, err := r.LoadBreakdowns(ctx, userID)
	if err != nil {
		return nil, err
	}
	byAsset := make(map[string][]model.PortfolioBreakdown, len(entries))
	for _, row := range rows {
		byAsset[row.AssetCode] = append(byAsset[row.AssetCode], row)
	}
	for i := range entries {
		entries[i].Breakdown = byAsset[entries[i].AssetCode]
	}
	return entries, nil
}

// ReplacePortfolio swaps the whole snapshot of userID in one transaction so
// readers never observe a half-written merge.
func (r *GormPortfolioRepository) ReplacePortfolio(
	ctx context.Context,
	userID string,
	breakdowns []model.PortfolioBreakdown,
	entries []model.PortfolioEntry,
) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&model.PortfolioBreakdown{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&model.PortfolioEntry{}).Error; err != nil {
			return err
		}

		if len(breakdowns) > 0 {
			rows := make([]model.PortfolioBreakdown, len(breakdowns))
			for i, b := range breakdowns {
				b.ID = 0
				b.UserID = userID
				rows[i] = b
			}
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return err
			}
		}

		if len(entries) > 0 {
			rows := make([]model.PortfolioEntry, len(entries))
			for i, e := range entries {
				e.ID = 0
				e.UserID = userID
				e.Breakdown = nil
				rows[i] = e
			}
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "PortfolioRepository",
			"op":      "ReplacePortfolio",
			"user_id": userID,
		}).WithError(err).Error("Failed to replace portfolio")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":       "PortfolioRepository",
		"user_id":    userID,
		"breakdowns": len(breakdowns),
		"entries":    len(entries),
	}).Debug("Portfolio replaced")
	return nil
}
