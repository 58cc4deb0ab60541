package model

import "time"

// Exception is a persisted failure record used for auditing exchange and
// sync errors after the fact.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Service string `gorm:"size:100;index" json:"service"` // e.g. "portfolio_sync"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "lbank_client"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "GetBalances"

	UserID     string `gorm:"size:36;index" json:"userId,omitempty"`
	ExchangeID string `gorm:"size:40" json:"exchangeId,omitempty"`
	Kind       string `gorm:"size:40;index" json:"kind,omitempty"`

	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack"`

	Level string `gorm:"size:20;index" json:"level"` // debug | info | warn | error | fatal

	// JSON document; text so it works on both postgres and sqlite
	Context string `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}
