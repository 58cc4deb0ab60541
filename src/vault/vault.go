// Package vault stores exchange API credentials encrypted at rest and hands
// decrypted secrets only to in-process signers.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"portfoliodoctor/src/model"
	"portfoliodoctor/src/repository"
	"portfoliodoctor/src/security"
	"portfoliodoctor/src/signer"
	"portfoliodoctor/src/utils"

	logger "github.com/sirupsen/logrus"
)

var (
	ErrNotFound          = errors.New("credential not found")
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrUnreadable means the stored ciphertext could not be decrypted with
	// the configured key.
	ErrUnreadable = errors.New("credential cannot be decrypted")
)

// Outcome tells the caller what Store did.
type Outcome string

const (
	OutcomeCreated     Outcome = "created"
	OutcomeRotated     Outcome = "rotated"
	OutcomeReactivated Outcome = "reactivated"
)

// Credential is a decrypted credential. It satisfies connectors.Credential
// and never prints its secret.
type Credential struct {
	UserID      string
	ExchangeID  string
	Permissions model.Permissions
	CreatedAt   time.Time

	apiKey string
	secret string
	method string
}

func (c *Credential) APIKey() string          { return c.apiKey }
func (c *Credential) Secret() string          { return c.secret }
func (c *Credential) SignatureMethod() string { return c.method }

func (c *Credential) String() string {
	return fmt.Sprintf("Credential{user=%s exchange=%s key=%s}", c.UserID, c.ExchangeID, utils.MaskKey(c.apiKey))
}

func (c *Credential) GoString() string { return c.String() }

// StoreRequest carries plaintext key material from the API boundary.
type StoreRequest struct {
	UserID          string
	ExchangeID      string
	APIKey          string
	APISecret       string
	SignatureMethod string
	Permissions     *model.Permissions
}

type Vault struct {
	repo   repository.CredentialRepository
	cipher *security.Cipher
	locks  *utils.KeyedMutex
}

func New(repo repository.CredentialRepository, cipher *security.Cipher) *Vault {
	return &Vault{
		repo:   repo,
		cipher: cipher,
		locks:  utils.NewKeyedMutex(),
	}
}

func lockKey(userID, exchangeID string) string {
	return userID + "|" + exchangeID
}

// Get returns the active credential of userID on exchangeID, decrypted.
func (v *Vault) Get(ctx context.Context, userID, exchangeID string) (*Credential, error) {
	unlock := v.locks.RLock(lockKey(userID, exchangeID))
	defer unlock()

	row, err := v.repo.Get(ctx, userID, exchangeID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if !row.IsActive {
		return nil, ErrNotFound
	}

	secret, err := v.cipher.DecryptString(row.APISecretCipher)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"user_id":  userID,
			"exchange": exchangeID,
			"api_key":  utils.MaskKey(row.APIKey),
		}).WithError(err).Error("stored exchange secret cannot be decrypted")
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	return &Credential{
		UserID:      row.UserID,
		ExchangeID:  row.ExchangeID,
		Permissions: row.Permissions,
		CreatedAt:   row.CreatedAt,
		apiKey:      row.APIKey,
		secret:      secret,
		method:      row.SignatureMethod,
	}, nil
}

// Store creates, rotates or reactivates the credential for (user, exchange).
func (v *Vault) Store(ctx context.Context, req StoreRequest) (Outcome, *model.ConnectedExchange, error) {
	return v.store(ctx, req, false)
}

// Rotate replaces the keys of an active credential; ErrNotFound otherwise.
func (v *Vault) Rotate(ctx context.Context, req StoreRequest) (*model.ConnectedExchange, error) {
	_, conn, err := v.store(ctx, req, true)
	return conn, err
}

func (v *Vault) store(ctx context.Context, req StoreRequest, mustExist bool) (Outcome, *model.ConnectedExchange, error) {
	req.APIKey = strings.TrimSpace(req.APIKey)
	req.APISecret = strings.TrimSpace(req.APISecret)
	if req.SignatureMethod == "" {
		req.SignatureMethod = model.SignatureHMAC
	}
	if req.UserID == "" || req.ExchangeID == "" || req.APIKey == "" || req.APISecret == "" {
		return "", nil, fmt.Errorf("%w: api key and secret are required", ErrInvalidCredential)
	}
	// the secret must be usable for signing before it is accepted
	if _, err := signer.New(req.SignatureMethod, req.APISecret); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	unlock := v.locks.Lock(lockKey(req.UserID, req.ExchangeID))
	defer unlock()

	existing, err := v.repo.Get(ctx, req.UserID, req.ExchangeID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", nil, fmt.Errorf("load credential: %w", err)
	}

	outcome := OutcomeCreated
	switch {
	case existing != nil && existing.IsActive:
		outcome = OutcomeRotated
	case existing != nil:
		outcome = OutcomeReactivated
	}
	if mustExist && outcome != OutcomeRotated {
		return "", nil, ErrNotFound
	}

	perms := model.Permissions{Read: true}
	switch {
	case req.Permissions != nil:
		perms = *req.Permissions
	case existing != nil:
		perms = existing.Permissions
	}

	ciphertext, err := v.cipher.EncryptString(req.APISecret)
	if err != nil {
		return "", nil, fmt.Errorf("encrypt secret: %w", err)
	}

	row := &model.ExchangeCredential{
		UserID:          req.UserID,
		ExchangeID:      req.ExchangeID,
		APIKey:          req.APIKey,
		APISecretCipher: ciphertext,
		SignatureMethod: req.SignatureMethod,
		Permissions:     perms,
		IsActive:        true,
	}
	if existing != nil {
		row.CreatedAt = existing.CreatedAt
	}
	if err := v.repo.Upsert(ctx, row); err != nil {
		return "", nil, fmt.Errorf("store credential: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"user_id":  req.UserID,
		"exchange": req.ExchangeID,
		"api_key":  utils.MaskKey(req.APIKey),
		"outcome":  outcome,
	}).Info("exchange credential stored")

	conn := toConnected(row)
	return outcome, &conn, nil
}

// Revoke deactivates the credential. Its row is kept for audit.
func (v *Vault) Revoke(ctx context.Context, userID, exchangeID string) error {
	unlock := v.locks.Lock(lockKey(userID, exchangeID))
	defer unlock()

	ok, err := v.repo.Deactivate(ctx, userID, exchangeID)
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	if !ok {
		return ErrNotFound
	}

	logger.WithFields(map[string]interface{}{
		"user_id":  userID,
		"exchange": exchangeID,
	}).Info("exchange credential revoked")
	return nil
}

// ListConnected returns the caller-safe view of every active credential.
func (v *Vault) ListConnected(ctx context.Context, userID string) ([]model.ConnectedExchange, error) {
	rows, err := v.repo.ListByUser(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	out := make([]model.ConnectedExchange, 0, len(rows))
	for i := range rows {
		out = append(out, toConnected(&rows[i]))
	}
	return out, nil
}

// UsersWithCredentials lists users that have at least one active credential.
func (v *Vault) UsersWithCredentials(ctx context.Context) ([]string, error) {
	return v.repo.UsersWithActive(ctx)
}

func toConnected(row *model.ExchangeCredential) model.ConnectedExchange {
	return model.ConnectedExchange{
		ExchangeID:      row.ExchangeID,
		APIKeyMasked:    utils.MaskKey(row.APIKey),
		SignatureMethod: row.SignatureMethod,
		Permissions:     row.Permissions,
		IsActive:        row.IsActive,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}
