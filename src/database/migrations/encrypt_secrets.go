package migrations

import (
	"fmt"

	"portfoliodoctor/src/model"
	"portfoliodoctor/src/security"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// encryptPlaintextSecrets rewrites credentials imported from the previous
// service, which stored API secrets in clear text.
func encryptPlaintextSecrets(cipher *security.Cipher) func(*gorm.DB) error {
	return func(tx *gorm.DB) error {
		if cipher == nil {
			return fmt.Errorf("credentials cipher is not configured")
		}

		var rows []model.ExchangeCredential
		if err := tx.Where("api_secret NOT LIKE ?", "ENC[v%").Find(&rows).Error; err != nil {
			return fmt.Errorf("load plaintext credentials: %w", err)
		}

		for _, row := range rows {
			if security.IsEncrypted(row.APISecretCipher) {
				continue
			}
			ciphertext, err := cipher.EncryptString(row.APISecretCipher)
			if err != nil {
				return fmt.Errorf("encrypt credential %d: %w", row.ID, err)
			}
			if err := tx.Model(&model.ExchangeCredential{}).
				Where("id = ?", row.ID).
				Update("api_secret", ciphertext).Error; err != nil {
				return fmt.Errorf("update credential %d: %w", row.ID, err)
			}
		}

		logrus.WithField("count", len(rows)).Info("[migrations] encrypted plaintext exchange secrets")
		return nil
	}
}
