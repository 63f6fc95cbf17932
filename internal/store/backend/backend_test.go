package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petfarm/internal/config"
)

func TestOpenMemoryAndSQLite(t *testing.T) {
	ctx := context.Background()
	for _, cfg := range []config.StoreConfig{
		{Driver: "memory"},
		{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "farm.db")},
	} {
		gw, closeFn, err := Open(ctx, cfg)
		require.NoError(t, err, cfg.Driver)
		require.NoError(t, gw.Put(ctx, "account/x", []byte("v")), cfg.Driver)
		_, ok, err := gw.Get(ctx, "account/x")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, closeFn())
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, _, err := Open(context.Background(), config.StoreConfig{Driver: "redis"})
	assert.Error(t, err)
}
