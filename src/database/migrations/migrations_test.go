package migrations

import (
	"errors"
	"testing"

	"portfoliodoctor/src/model"
	"portfoliodoctor/src/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.ExchangeCredential{}))
	return db
}

func TestRunOnceRecordsAndSkips(t *testing.T) {
	db := newTestDB(t)
	calls := 0
	fn := func(*gorm.DB) error {
		calls++
		return nil
	}

	require.NoError(t, RunOnce(db, "00099_test", fn))
	require.NoError(t, RunOnce(db, "00099_test", fn))
	assert.Equal(t, 1, calls)

	var count int64
	require.NoError(t, db.Model(&DataMigration{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRunOnceFailureIsNotRecorded(t *testing.T) {
	db := newTestDB(t)
	err := RunOnce(db, "00098_fails", func(*gorm.DB) error { return errors.New("boom") })
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&DataMigration{}).Where("id = ?", "00098_fails").Count(&count).Error)
	assert.Zero(t, count)

	assert.Error(t, RunOnce(db, "", func(*gorm.DB) error { return nil }))
	assert.Error(t, RunOnce(db, "00097_nil", nil))
}

func TestEncryptPlaintextSecrets(t *testing.T) {
	db := newTestDB(t)
	key, err := security.GenerateKey()
	require.NoError(t, err)
	cipher, err := security.NewCipherFromConfig(security.Config{ExchangeCRKey: key})
	require.NoError(t, err)

	already, err := cipher.EncryptString("already-secret")
	require.NoError(t, err)
	rows := []model.ExchangeCredential{
		{UserID: "u-1", ExchangeID: "lbank", APIKey: "k1", APISecretCipher: "plain-secret", SignatureMethod: model.SignatureHMAC, IsActive: true},
		{UserID: "u-2", ExchangeID: "lbank", APIKey: "k2", APISecretCipher: already, SignatureMethod: model.SignatureHMAC, IsActive: true},
	}
	require.NoError(t, db.Create(&rows).Error)

	require.NoError(t, Run(db, cipher))
	// second run is a no-op
	require.NoError(t, Run(db, cipher))

	var stored []model.ExchangeCredential
	require.NoError(t, db.Order("user_id").Find(&stored).Error)
	require.Len(t, stored, 2)

	for i, want := range []string{"plain-secret", "already-secret"} {
		assert.True(t, security.IsEncrypted(stored[i].APISecretCipher))
		got, err := cipher.DecryptString(stored[i].APISecretCipher)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, already, stored[1].APISecretCipher)
}
