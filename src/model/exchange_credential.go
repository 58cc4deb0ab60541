package model

import "time"

const (
	SignatureHMAC = "HmacSHA256"
	SignatureRSA  = "RSA"
)

// Permissions mirrors the scopes granted to an API key on the exchange side.
type Permissions struct {
	Read     bool `gorm:"column:can_read;not null" json:"read"`
	Trade    bool `gorm:"column:can_trade;not null" json:"trade"`
	Withdraw bool `gorm:"column:can_withdraw;not null" json:"withdraw"`
}

// ExchangeCredential is the stored form of an exchange API key. The secret
// column only ever holds ciphertext.
type ExchangeCredential struct {
	ID              uint        `gorm:"primaryKey" json:"id"`
	UserID          string      `gorm:"size:36;not null;index:idx_user_exchange,unique" json:"userId"`
	ExchangeID      string      `gorm:"size:40;not null;index:idx_user_exchange,unique" json:"exchangeId"`
	APIKey          string      `gorm:"column:api_key;type:text;not null" json:"-"`
	APISecretCipher string      `gorm:"column:api_secret;type:text;not null" json:"-"`
	SignatureMethod string      `gorm:"size:20;not null" json:"signatureMethod"`
	Permissions     Permissions `gorm:"embedded" json:"permissions"`
	IsActive        bool        `gorm:"not null;index" json:"isActive"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// ConnectedExchange is what the API returns for a stored credential.
type ConnectedExchange struct {
	ExchangeID      string      `json:"exchangeId"`
	APIKeyMasked    string      `json:"apiKey"`
	SignatureMethod string      `json:"signatureMethod"`
	Permissions     Permissions `json:"permissions"`
	IsActive        bool        `json:"isActive"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

type ConnectExchangePayload struct {
	ExchangeID      string       `json:"exchangeId"`
	APIKey          string       `json:"apiKey"`
	APISecret       string       `json:"apiSecret"`
	SignatureMethod string       `json:"signatureMethod"`
	Permissions     *Permissions `json:"permissions"`
}

type UpdateExchangeKeysPayload struct {
	APIKey          string       `json:"apiKey"`
	APISecret       string       `json:"apiSecret"`
	SignatureMethod string       `json:"signatureMethod"`
	Permissions     *Permissions `json:"permissions"`
}
