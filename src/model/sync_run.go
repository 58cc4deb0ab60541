package model

import "time"

type ExchangeSyncStatus string

const (
	ExchangePending   ExchangeSyncStatus = "pending"
	ExchangeSucceeded ExchangeSyncStatus = "succeeded"
	ExchangeFailed    ExchangeSyncStatus = "failed"
	ExchangeSkipped   ExchangeSyncStatus = "skipped"
)

const (
	SyncModePartial = "partial"
	SyncModeStrict  = "strict"
)

const (
	SyncRunning   = "running"
	SyncCompleted = "completed"
	SyncPartial   = "partial"
	SyncFailed    = "failed"
	SyncError     = "error"
)

// SyncRun records one portfolio synchronization attempt. Once CompletedAt is
// set the row is never updated again.
type SyncRun struct {
	ID          string            `gorm:"primaryKey;size:36" json:"id"`
	UserID      string            `gorm:"size:36;not null;index" json:"userId"`
	Mode        string            `gorm:"size:20;not null" json:"mode"`
	Status      string            `gorm:"size:20;not null" json:"status"`
	StartedAt   time.Time         `gorm:"not null;index" json:"startedAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Exchanges   []SyncRunExchange `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"exchanges"`
}

// SyncRunExchange is the outcome of one exchange within a SyncRun.
type SyncRunExchange struct {
	ID         uint               `gorm:"primaryKey" json:"-"`
	RunID      string             `gorm:"size:36;not null;index" json:"-"`
	ExchangeID string             `gorm:"size:40;not null" json:"exchangeId"`
	Status     ExchangeSyncStatus `gorm:"size:20;not null" json:"status"`
	ErrorKind  string             `gorm:"size:40" json:"errorKind,omitempty"`
	ErrorCode  string             `gorm:"size:40" json:"errorCode,omitempty"`
	Reason     string             `gorm:"type:text" json:"reason,omitempty"`
	AssetCount int                `json:"assetCount"`
	DurationMs int64              `json:"durationMs"`
}

func (r *SyncRun) Exchange(exchangeID string) *SyncRunExchange {
	for i := range r.Exchanges {
		if r.Exchanges[i].ExchangeID == exchangeID {
			return &r.Exchanges[i]
		}
	}
	return nil
}

func (r *SyncRun) Count(status ExchangeSyncStatus) int {
	n := 0
	for _, ex := range r.Exchanges {
		if ex.Status == status {
			n++
		}
	}
	return n
}
