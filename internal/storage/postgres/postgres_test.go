package postgres

import (
	"testing"

	"github.com/aloksahay/warhead/internal/config"
	"github.com/aloksahay/warhead/internal/logging"
	"github.com/aloksahay/warhead/pkg/core"
	"github.com/stretchr/testify/assert"
)

func TestNew_UnreachableServerIsUnavailable(t *testing.T) {
	_, err := New(config.DBConfig{
		Host:     "127.0.0.1",
		Port:     "1",
		Username: "postgres",
		Password: "postgres",
		Database: "warhead",
	}, logging.Nop())

	assert.ErrorIs(t, err, core.ErrUnavailable)
	assert.True(t, core.Retryable(err))
}
