package sqlitestorage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aloksahay/warhead/internal/config"
	"github.com/aloksahay/warhead/internal/database"
	"github.com/aloksahay/warhead/internal/logging"
	"github.com/aloksahay/warhead/internal/model"
	"github.com/aloksahay/warhead/internal/storage"
	"github.com/aloksahay/warhead/internal/storage/storagetest"
	"github.com/aloksahay/warhead/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConformance_InMemory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		b, err := New(config.SQLiteConfig{}, logging.Nop())
		require.NoError(t, err)
		require.NoError(t, b.Init())
		return b
	})
}

func TestConformance_File(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		b, err := New(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "warhead.db")}, logging.Nop())
		require.NoError(t, err)
		require.NoError(t, b.Init())
		return b
	})
}

func TestDumpLoop(t *testing.T) {
	dumpPath := filepath.Join(t.TempDir(), "dump.db")
	b, err := New(config.SQLiteConfig{DumpPath: dumpPath, DumpInterval: 20 * time.Millisecond}, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Init())

	_, err = b.CreatePlayer(context.Background(), core.Player{ID: "A", ShieldPoints: 100})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := os.Stat(dumpPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Close())

	// the final dump on close holds the latest state
	restored, err := database.OpenSQLite(dumpPath)
	require.NoError(t, err)
	var p model.Player
	require.NoError(t, restored.First(&p, "id = ?", "A").Error)
	assert.Equal(t, 100, p.ShieldPoints)
}

func TestCloseWithoutDumpLoop(t *testing.T) {
	b, err := New(config.SQLiteConfig{}, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Init())
	assert.NoError(t, b.Close())
}
