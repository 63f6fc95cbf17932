package audit

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petfarm/internal/catalog"
	"petfarm/internal/game"
	"petfarm/internal/integrity"
	"petfarm/internal/save"
	"petfarm/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSweeper(t *testing.T) (*Sweeper, store.Gateway, *catalog.Catalog) {
	t.Helper()
	cat, err := catalog.LoadDefault(context.Background(), "")
	require.NoError(t, err)
	gw := store.NewMemory()
	s := New(gw, cat, game.DefaultRules(), integrity.DefaultLimits(), nil)
	s.now = func() time.Time { return t0 }
	return s, gw, cat
}

func putState(t *testing.T, gw store.Gateway, st game.State) {
	t.Helper()
	data, err := save.Encode(st)
	require.NoError(t, err)
	require.NoError(t, gw.Put(context.Background(), save.AccountKey(st.Account.ID), data))
}

func TestSweepCorrectsOutOfBoundsBalances(t *testing.T) {
	s, gw, cat := newSweeper(t)
	ctx := context.Background()

	st := game.NewState("u1", "One", cat, t0, func() string { return "pet-1" })
	st.Account.Currencies.Grain = decimal.NewFromInt(5_000_000)
	st.Account.Currencies.Ton = decimal.NewFromInt(-3)
	putState(t, gw, st)
	putState(t, gw, game.NewState("u2", "Two", cat, t0, func() string { return "pet-2" }))

	report, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	require.Len(t, report.Corrected["u1"], 2)
	assert.NotContains(t, report.Corrected, "u2")

	raw, ok, err := gw.Get(ctx, save.AccountKey("u1"))
	require.NoError(t, err)
	require.True(t, ok)
	fixed, err := save.Decode(raw, cat, game.DefaultRules())
	require.NoError(t, err)
	assert.True(t, fixed.Account.Currencies.Grain.Equal(decimal.NewFromInt(800_000)))
	assert.True(t, fixed.Account.Currencies.Ton.IsZero())

	entries, err := integrity.LoadLog(ctx, gw, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, integrity.KindOutOfBounds, entries[0].Kind)
	assert.Equal(t, integrity.Low, entries[0].Severity)

	again, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Corrected)
}

func TestSweepReportsCorruptSnapshotOnce(t *testing.T) {
	s, gw, _ := newSweeper(t)
	ctx := context.Background()
	require.NoError(t, gw.Put(ctx, save.AccountKey("broken"), []byte(`{"version":1}`)))

	for i := 0; i < 2; i++ {
		report, err := s.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"broken"}, report.Corrupt)
	}

	entries, err := integrity.LoadLog(ctx, gw, "broken")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, integrity.KindCorruptSave, entries[0].Kind)
	assert.Equal(t, integrity.High, entries[0].Severity)

	raw, ok, err := gw.Get(ctx, save.AccountKey("broken"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"version":1}`, string(raw))
}

func TestSweepSkipsLockedAccounts(t *testing.T) {
	s, gw, cat := newSweeper(t)
	st := game.NewState("u1", "One", cat, t0, func() string { return "pet-1" })
	st.Account.Security.Locked = true
	st.Account.Security.LockReason = "admin: test"
	st.Account.Currencies.Grain = decimal.NewFromInt(9_000_000)
	putState(t, gw, st)

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Locked)
	assert.Empty(t, report.Corrected)
}

func TestSweepStopsOnCancel(t *testing.T) {
	s, gw, cat := newSweeper(t)
	putState(t, gw, game.NewState("u1", "One", cat, t0, func() string { return "pet-1" }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
