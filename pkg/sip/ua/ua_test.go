package ua

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestLoadIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sip_credentials.json")
	body := `{"id_uri":"sip:alice@pbx.example.com","registrar_uri":"sip:pbx.example.com:5070","username":"alice","password":"secret"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	id, err := LoadIdentity(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, "secret", id.Password)

	uri, err := id.URI()
	require.NoError(t, err)
	assert.Equal(t, "alice", uri.User)
	assert.Equal(t, "pbx.example.com", uri.Host)

	domain, err := id.Domain()
	require.NoError(t, err)
	assert.Equal(t, 5070, domain.Port)
}

func TestLoadIdentityErrors(t *testing.T) {
	_, err := LoadIdentity(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id_uri":""}`), 0644))
	_, err = LoadIdentity(path)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "id_uri", cfgErr.Field)
}

func TestIdentityWithoutScheme(t *testing.T) {
	id := &Identity{IDURI: "bob@example.org"}
	uri, err := id.Domain()
	require.NoError(t, err)
	assert.Equal(t, "example.org", uri.Host)
}

func TestValidate(t *testing.T) {
	cfg := DefaultUAConfig()
	require.NoError(t, cfg.Validate())

	cfg.Port = 70000
	var cfgErr *ConfigError
	require.ErrorAs(t, cfg.Validate(), &cfgErr)
	assert.Equal(t, "Port", cfgErr.Field)
	assert.Contains(t, cfgErr.Error(), "70000")

	cfg = DefaultUAConfig()
	cfg.StorageType = "redis"
	require.ErrorAs(t, cfg.Validate(), &cfgErr)
	assert.Equal(t, "StorageType", cfgErr.Field)
}

func TestApplyDefaults(t *testing.T) {
	cfg := &UAConfig{Port: 5080}
	cfg.ApplyDefaults()
	assert.Equal(t, 5080, cfg.Port)
	assert.Equal(t, DEFAULT_USER_AGENT, cfg.UserAgentName)
	assert.Equal(t, StorageTypeMemory, cfg.StorageType)
	assert.NotNil(t, cfg.MemoryCalls)
	assert.Equal(t, "0.0.0.0:5080", cfg.GetSIPAddress())
}

func exerciseStore(t *testing.T, cfg *UAConfig) {
	t.Helper()
	record := &models.CallRecord{
		CallID:    "abc-123",
		Direction: models.CallDirectionInbound,
		Status:    models.CallStatusRinging,
		Caller:    "+4915112345678",
		StartTime: time.Now(),
	}
	require.NoError(t, cfg.SaveCall(record))

	got, ok := cfg.GetCall("abc-123")
	require.True(t, ok)
	assert.Equal(t, models.CallStatusRinging, got.Status)

	answered := time.Now()
	require.NoError(t, cfg.UpdateCall("abc-123", func(r *models.CallRecord) {
		r.Status = models.CallStatusAnswered
		r.AnswerTime = &answered
	}))
	got, ok = cfg.GetCall("abc-123")
	require.True(t, ok)
	assert.Equal(t, models.CallStatusAnswered, got.Status)
	assert.NotNil(t, got.AnswerTime)

	assert.ErrorIs(t, cfg.UpdateCall("nope", func(*models.CallRecord) {}), ErrCallNotFound)
	_, ok = cfg.GetCall("nope")
	assert.False(t, ok)
}

func TestMemoryStorage(t *testing.T) {
	cfg := DefaultUAConfig()
	exerciseStore(t, cfg)
}

func TestFileStorage(t *testing.T) {
	cfg := DefaultUAConfig()
	cfg.StorageType = StorageTypeFile
	cfg.StoragePath = t.TempDir()
	exerciseStore(t, cfg)
	assert.FileExists(t, filepath.Join(cfg.StoragePath, "calls", "abc-123.json"))
}

func TestDatabaseStorage(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	cfg := DefaultUAConfig()
	cfg.StorageType = StorageTypeDatabase
	cfg.SetDBConfig(db)
	exerciseStore(t, cfg)

	rec, err := models.GetCallRecordByCallID(db, "abc-123")
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusAnswered, rec.Status)
}
