package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/models"
)

func TestConnect(t *testing.T) {
	// Test with memory DB
	db, err := Connect(config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:?cache=shared"})
	assert.NoError(t, err)
	assert.NotNil(t, db)

	// Test with file DB
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")
	db, err = Connect(config.DatabaseConfig{Driver: "sqlite", DSN: dbPath})
	require.NoError(t, err)
	assert.True(t, db.Migrator().HasTable(&models.BlockRecord{}))
	assert.True(t, db.Migrator().HasTable(&models.SecurityEvent{}))
	assert.True(t, db.Migrator().HasTable(&models.PrivilegedActor{}))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
	assert.Nil(t, db)
}

func TestMigrate_OneActiveBlockPerAddress(t *testing.T) {
	db, err := Connect(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "idx.db")})
	require.NoError(t, err)

	first := models.BlockRecord{UUID: "a", IPAddress: "203.0.113.5", IsActive: true}
	require.NoError(t, db.Create(&first).Error)

	dup := models.BlockRecord{UUID: "b", IPAddress: "203.0.113.5", IsActive: true}
	assert.Error(t, db.Create(&dup).Error)

	// Inactive history rows are unrestricted.
	old := models.BlockRecord{UUID: "c", IPAddress: "203.0.113.5", IsActive: false}
	assert.NoError(t, db.Create(&old).Error)

	// Migrating twice is harmless.
	assert.NoError(t, Migrate(db))
}
