package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petfarm/internal/db"
	"petfarm/internal/store/storetest"
)

func TestContract(t *testing.T) {
	url := os.Getenv("PETFARM_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PETFARM_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, url)
	require.NoError(t, err)
	s := New(pool)
	defer s.Close()

	require.NoError(t, s.EnsureSchema(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE petfarm.kv`)
	require.NoError(t, err)

	storetest.RunContract(t, s)
}

func TestIsSerializationError(t *testing.T) {
	assert.True(t, isSerializationError(&pgconn.PgError{Code: "40001"}))
	assert.False(t, isSerializationError(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isSerializationError(errors.New("boom")))
}

func TestSleepWithContextStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleepWithContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
