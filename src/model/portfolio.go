package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is one asset on one exchange as reported by the exchange. It is
// never persisted directly.
type Balance struct {
	ExchangeID string          `json:"exchangeId"`
	AssetCode  string          `json:"assetCode"`
	Free       decimal.Decimal `json:"free"`
	Locked     decimal.Decimal `json:"locked"`
	AsOf       time.Time       `json:"asOf"`
}

func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// PortfolioBreakdown is the last known holding of one asset on one exchange.
type PortfolioBreakdown struct {
	ID         uint            `gorm:"primaryKey" json:"-"`
	UserID     string          `gorm:"size:36;not null;index:idx_breakdown_user_exchange_asset,unique" json:"-"`
	ExchangeID string          `gorm:"size:40;not null;index:idx_breakdown_user_exchange_asset,unique" json:"exchangeId"`
	AssetCode  string          `gorm:"size:32;not null;index:idx_breakdown_user_exchange_asset,unique" json:"assetCode"`
	Free       decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"free"`
	Locked     decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"locked"`
	AsOf       time.Time       `gorm:"not null" json:"asOf"`
	Stale      bool            `gorm:"not null" json:"stale"`
}

func (b PortfolioBreakdown) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// PortfolioEntry is the cross-exchange aggregate for one asset of one user.
type PortfolioEntry struct {
	ID               uint                 `gorm:"primaryKey" json:"-"`
	UserID           string               `gorm:"size:36;not null;index:idx_entry_user_asset,unique" json:"-"`
	AssetCode        string               `gorm:"size:32;not null;index:idx_entry_user_asset,unique" json:"assetCode"`
	AggregatedFree   decimal.Decimal      `gorm:"type:numeric(38,18);not null" json:"aggregatedFree"`
	AggregatedLocked decimal.Decimal      `gorm:"type:numeric(38,18);not null" json:"aggregatedLocked"`
	LastSyncedAt     time.Time            `gorm:"not null" json:"lastSyncedAt"`
	Stale            bool                 `gorm:"not null" json:"stale"`
	Breakdown        []PortfolioBreakdown `gorm:"-" json:"breakdown"`
}

func (e PortfolioEntry) Total() decimal.Decimal {
	return e.AggregatedFree.Add(e.AggregatedLocked)
}

// ValuedEntry decorates an entry with an indicative USD valuation.
type ValuedEntry struct {
	PortfolioEntry
	Name     string           `json:"name"`
	Tier     string           `json:"tier"`
	PriceUSD *decimal.Decimal `json:"priceUsd,omitempty"`
	ValueUSD *decimal.Decimal `json:"valueUsd,omitempty"`
}

type PortfolioSummary struct {
	TotalValueUSD decimal.Decimal            `json:"totalValueUsd"`
	AssetCount    int                        `json:"assetCount"`
	ExchangeCount int                        `json:"exchangeCount"`
	Stale         bool                       `json:"stale"`
	LastSyncedAt  *time.Time                 `json:"lastSyncedAt,omitempty"`
	ByTier        map[string]decimal.Decimal `json:"byTier"`
}

type PortfolioResponse struct {
	Summary PortfolioSummary `json:"summary"`
	Assets  []ValuedEntry    `json:"assets"`
}
