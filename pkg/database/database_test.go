package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

type widget struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex"`
}

func TestNewSQLiteAndMigrate(t *testing.T) {
	db, err := New(&Config{
		Driver:       "sqlite",
		FilePath:     "file:database_test?mode=memory&cache=shared",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, AutoMigrate(db, &widget{}))
	require.NoError(t, db.Create(&widget{Name: "a"}).Error)

	var count int64
	require.NoError(t, db.Model(&widget{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestNewUnsupportedDriver(t *testing.T) {
	_, err := New(&Config{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, parseLogLevel("silent"))
	assert.Equal(t, logger.Info, parseLogLevel("INFO"))
	assert.Equal(t, logger.Warn, parseLogLevel(""))
}
