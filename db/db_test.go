package db

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type probe struct {
	ID   string `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex"`
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{URI: "postgres://localhost/test"})
	assert.Error(t, err)

	_, err = New(Options{Logger: zap.NewNop()})
	assert.Error(t, err)
}

func TestOpenTranslatesDuplicateKeys(t *testing.T) {
	conn, err := Open(sqlite.Open(filepath.Join(t.TempDir(), "probe.db")), Options{
		Logger:       zap.NewNop(),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&probe{}))

	require.NoError(t, conn.Create(&probe{ID: "a", Name: "same"}).Error)
	err = conn.Create(&probe{ID: "b", Name: "same"}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	var missing probe
	err = conn.First(&missing, "id = ?", "zzz").Error
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
