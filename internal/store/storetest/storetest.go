// Package storetest holds the gateway contract shared by every backend's
// tests, and a gateway wrapper that fails on demand.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petfarm/internal/store"
)

// RunContract exercises gw against the Gateway contract. gw must start empty.
func RunContract(t *testing.T, gw store.Gateway) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, ok, err := gw.Get(ctx, "missing/key")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("put get overwrite delete", func(t *testing.T) {
		require.NoError(t, gw.Put(ctx, "account/a", []byte("one")))
		v, ok, err := gw.Get(ctx, "account/a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("one"), v)

		require.NoError(t, gw.Put(ctx, "account/a", []byte("two")))
		v, _, err = gw.Get(ctx, "account/a")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), v)

		require.NoError(t, gw.Delete(ctx, "account/a"))
		_, ok, err = gw.Get(ctx, "account/a")
		require.NoError(t, err)
		assert.False(t, ok)

		assert.NoError(t, gw.Delete(ctx, "account/a"))
	})

	t.Run("enumerate is sorted and prefix scoped", func(t *testing.T) {
		for _, k := range []string{"market/listing/b", "market/listing/a", "market/proceeds/x/1", "account/z"} {
			require.NoError(t, gw.Put(ctx, k, []byte(k)))
		}
		keys, err := gw.Enumerate(ctx, "market/listing/")
		require.NoError(t, err)
		assert.Equal(t, []string{"market/listing/a", "market/listing/b"}, keys)

		keys, err = gw.Enumerate(ctx, "nothing/")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("commit applies every op", func(t *testing.T) {
		require.NoError(t, gw.Put(ctx, "batch/old", []byte("x")))
		b := store.NewBatch().
			Put("batch/new", []byte("n")).
			Delete("batch/old").
			Put("batch/twice", []byte("1")).
			Put("batch/twice", []byte("2"))
		require.NoError(t, gw.Commit(ctx, b))

		_, ok, err := gw.Get(ctx, "batch/old")
		require.NoError(t, err)
		assert.False(t, ok)
		v, ok, err := gw.Get(ctx, "batch/new")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("n"), v)
		v, _, err = gw.Get(ctx, "batch/twice")
		require.NoError(t, err)
		assert.Equal(t, []byte("2"), v)
	})

	t.Run("invalid batch changes nothing", func(t *testing.T) {
		b := store.NewBatch().Put("batch/invalid", []byte("v")).Put("", []byte("v"))
		assert.ErrorIs(t, gw.Commit(ctx, b), store.ErrEmptyKey)
		_, ok, err := gw.Get(ctx, "batch/invalid")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

var ErrInjected = errors.New("storetest: injected failure")

// Flaky wraps a gateway and fails writes while armed.
type Flaky struct {
	store.Gateway

	mu         sync.Mutex
	failPut    bool
	failCommit bool
}

func NewFlaky(gw store.Gateway) *Flaky {
	return &Flaky{Gateway: gw}
}

func (f *Flaky) FailPuts(v bool) {
	f.mu.Lock()
	f.failPut = v
	f.mu.Unlock()
}

func (f *Flaky) FailCommits(v bool) {
	f.mu.Lock()
	f.failCommit = v
	f.mu.Unlock()
}

func (f *Flaky) Put(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	fail := f.failPut
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return f.Gateway.Put(ctx, key, value)
}

func (f *Flaky) Commit(ctx context.Context, b *store.Batch) error {
	f.mu.Lock()
	fail := f.failCommit
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return f.Gateway.Commit(ctx, b)
}
