package otel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabled(t *testing.T) {
	p, err := New(context.Background(), Config{ServiceName: "warhead"})
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewEnabledWithoutEndpointIsNoop(t *testing.T) {
	p, err := New(context.Background(), Config{Enabled: true, ServiceName: "warhead"})
	require.NoError(t, err)
	assert.False(t, p.Enabled())
}

func TestNewEnabled(t *testing.T) {
	// non-routable, nothing is ever exported
	p, err := New(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "warhead",
		Endpoint:     "http://192.0.2.1:4318",
		Insecure:     true,
		BatchTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// a cancelled context bounds the flush attempt
	_ = p.Shutdown(ctx)
}
