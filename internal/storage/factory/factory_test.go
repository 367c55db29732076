package factory

import (
	"testing"

	"github.com/aloksahay/warhead/internal/config"
	"github.com/aloksahay/warhead/internal/logging"
	"github.com/aloksahay/warhead/internal/storage/memory"
	sqlitestorage "github.com/aloksahay/warhead/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		s, err := NewStore(config.StorageConfig{Type: "memory"}, logging.Nop())
		require.NoError(t, err)
		assert.IsType(t, &memory.Backend{}, s)
	})

	t.Run("empty type defaults to memory", func(t *testing.T) {
		s, err := NewStore(config.StorageConfig{}, logging.Nop())
		require.NoError(t, err)
		assert.IsType(t, &memory.Backend{}, s)
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := NewStore(config.StorageConfig{Type: "sqlite"}, logging.Nop())
		require.NoError(t, err)
		assert.IsType(t, &sqlitestorage.Backend{}, s)
		require.NoError(t, s.Init())
		require.NoError(t, s.Close())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewStore(config.StorageConfig{Type: "cassandra"}, logging.Nop())
		assert.ErrorContains(t, err, "unknown storage type")
	})
}
