package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petfarm/internal/catalog"
	"petfarm/internal/game"
	"petfarm/internal/integrity"
	"petfarm/internal/market"
	"petfarm/internal/save"
	"petfarm/internal/store"
	"petfarm/internal/store/storetest"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

type fixture struct {
	cat   *catalog.Catalog
	gw    store.Gateway
	clock *fakeClock
	deps  Deps
}

func newFixture(t *testing.T, gw store.Gateway) *fixture {
	t.Helper()
	cat, err := catalog.LoadDefault(context.Background(), "")
	require.NoError(t, err)
	if gw == nil {
		gw = store.NewMemory()
	}
	clock := &fakeClock{now: t0}
	return &fixture{
		cat:   cat,
		gw:    gw,
		clock: clock,
		deps: Deps{
			Gateway:  gw,
			Engine:   game.NewEngine(cat, game.DefaultRules(), fixedRand(0.99)),
			Market:   market.New(gw, nil),
			Baseline: cat.Fingerprint(),
			Limits:   integrity.DefaultLimits(),
			Clock:    clock,
			IsAdmin:  func(id string) bool { return id == "admin" },
		},
	}
}

func (f *fixture) open(t *testing.T, userID string) *Session {
	t.Helper()
	s, err := Open(context.Background(), f.deps, Identity{UserID: userID, DisplayName: "Player " + userID})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func (f *fixture) putState(t *testing.T, st game.State) {
	t.Helper()
	raw, err := save.Encode(st)
	require.NoError(t, err)
	require.NoError(t, f.gw.Put(context.Background(), save.AccountKey(st.Account.ID), raw))
}

func (f *fixture) stored(t *testing.T, userID string) game.State {
	t.Helper()
	raw, ok, err := f.gw.Get(context.Background(), save.AccountKey(userID))
	require.NoError(t, err)
	require.True(t, ok)
	st, err := save.Decode(raw, f.cat, game.DefaultRules())
	require.NoError(t, err)
	return st
}

func TestOpenCreatesFreshAccount(t *testing.T) {
	f := newFixture(t, nil)
	s := f.open(t, "u1")

	view := s.State()
	assert.True(t, view.Account.Currencies.Grain.Equal(decimal.NewFromInt(100)))
	assert.True(t, view.Account.Currencies.Stars.Equal(decimal.NewFromInt(10)))
	require.Len(t, view.Inventory.Pets, 1)
	assert.Equal(t, 5, view.Inventory.Pets[0].SpeciesID)
	assert.Equal(t, 0, view.Inventory.Pets[0].Satiety)
	assert.Equal(t, view.Inventory.Pets[0].ID, view.SelectedPetID)
	assert.False(t, view.Locked)
	assert.False(t, view.Account.IsAdmin)

	stored := f.stored(t, "u1")
	assert.Equal(t, "Player u1", stored.Account.DisplayName)
}

func TestExecuteFeedAndIdempotency(t *testing.T) {
	f := newFixture(t, nil)
	s := f.open(t, "u1")
	petID := s.State().Inventory.Pets[0].ID

	res, err := s.Execute(context.Background(), Feed{PetID: petID}, "k1")
	require.NoError(t, err)
	feed, ok := res.(game.FeedResult)
	require.True(t, ok)
	assert.True(t, feed.Cost.Equal(decimal.NewFromInt(10)))

	_, err = s.Execute(context.Background(), Feed{PetID: petID}, "k1")
	assert.ErrorIs(t, err, game.ErrDuplicateCommand)

	view := s.State()
	assert.True(t, view.Account.Currencies.Grain.Equal(decimal.NewFromInt(90)))
	assert.Equal(t, 40, view.Inventory.Pets[0].Satiety)

	stored := f.stored(t, "u1")
	assert.True(t, stored.SeenKey("k1"))
	assert.True(t, stored.Account.Currencies.Grain.Equal(decimal.NewFromInt(90)))

	_, err = s.Execute(context.Background(), Feed{PetID: "ghost"}, "k2")
	assert.ErrorIs(t, err, game.ErrPetNotFound)
	assert.False(t, s.State().Account.Security.Locked)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, nil)
	f.deps.Limits.MaxActionsPerMinute = 2
	s := f.open(t, "u1")
	petID := s.State().Inventory.Pets[0].ID

	for i := 0; i < 2; i++ {
		_, err := s.Execute(context.Background(), SelectPet{PetID: petID}, "")
		require.NoError(t, err)
	}
	_, err := s.Execute(context.Background(), SelectPet{PetID: petID}, "")
	assert.ErrorIs(t, err, game.ErrRateLimited)

	f.clock.Advance(61 * time.Second)
	_, err = s.Execute(context.Background(), SelectPet{PetID: petID}, "")
	assert.NoError(t, err)
	require.Len(t, s.Anomalies(), 1)
	assert.Equal(t, integrity.KindActionFlood, s.Anomalies()[0].Kind)
}

func TestLockedAccountReloadsLocked(t *testing.T) {
	f := newFixture(t, nil)
	st := f.deps.Engine.NewState("u1", "Player u1", t0)
	st.Purge("tampered")
	f.putState(t, st)

	for i := 0; i < 2; i++ {
		s, err := Open(context.Background(), f.deps, Identity{UserID: "u1"})
		require.NoError(t, err)
		assert.True(t, s.Locked())
		view := s.State()
		assert.True(t, view.Locked)
		assert.Contains(t, view.Notice, "tampered")
		assert.Empty(t, view.Inventory.Pets)

		_, err = s.Execute(context.Background(), Convert{From: game.Stars, To: game.Grain, Amount: decimal.NewFromInt(1)}, "")
		assert.ErrorIs(t, err, game.ErrLocked)
		require.NoError(t, s.Close(context.Background()))
	}
	assert.True(t, f.stored(t, "u1").Account.Security.Locked)
}

func TestLockSurvivesUnreadableSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	st := f.deps.Engine.NewState("u1", "Player u1", t0)
	st.Account.Currencies.Grain = decimal.NewFromInt(5000)
	st.Purge("tampering")
	st.Version = 99
	f.putState(t, st)

	s := f.open(t, "u1")
	assert.True(t, s.Locked())
	view := s.State()
	assert.True(t, view.Locked)
	assert.Contains(t, view.Notice, "tampering")
	assert.True(t, view.Account.Currencies.Grain.IsZero())
	assert.Empty(t, view.Inventory.Pets)

	_, err := s.Execute(context.Background(), Convert{From: game.Stars, To: game.Grain, Amount: decimal.NewFromInt(1)}, "")
	assert.ErrorIs(t, err, game.ErrLocked)

	stored := f.stored(t, "u1")
	assert.True(t, stored.Account.Security.Locked)
	assert.Equal(t, "tampering", stored.Account.Security.LockReason)
}

func TestCorruptSaveStartsFresh(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.gw.Put(context.Background(), save.AccountKey("u1"), []byte("{garbage")))

	s := f.open(t, "u1")
	view := s.State()
	assert.False(t, view.Locked)
	assert.NotEmpty(t, view.Notice)
	assert.True(t, view.Account.Currencies.Grain.Equal(decimal.NewFromInt(100)))
	require.Len(t, s.Anomalies(), 1)
	assert.Equal(t, integrity.KindCorruptSave, s.Anomalies()[0].Kind)

	stored := f.stored(t, "u1")
	assert.Len(t, stored.Inventory.Pets, 1)
}

func TestAuditClampsCorruptedBalance(t *testing.T) {
	f := newFixture(t, nil)
	st := f.deps.Engine.NewState("u1", "Player u1", t0)
	st.Account.Currencies.Grain = decimal.NewFromInt(5_000_000)
	f.putState(t, st)

	s := f.open(t, "u1")
	anomalies := s.Audit(context.Background())
	require.Len(t, anomalies, 1)
	assert.Equal(t, integrity.KindOutOfBounds, anomalies[0].Kind)
	assert.True(t, s.State().Account.Currencies.Grain.Equal(decimal.NewFromInt(800_000)))
	assert.True(t, f.stored(t, "u1").Account.Currencies.Grain.Equal(decimal.NewFromInt(800_000)))
	assert.False(t, s.Locked())
}

func TestRepeatedTamperingLocksAndPurges(t *testing.T) {
	f := newFixture(t, nil)
	f.deps.Baseline = [32]byte{}
	s := f.open(t, "u1")

	first := s.Audit(context.Background())
	require.Len(t, first, 1)
	assert.Equal(t, integrity.KindCatalogTampered, first[0].Kind)
	assert.False(t, s.Locked())

	s.Audit(context.Background())
	assert.True(t, s.Locked())

	view := s.State()
	assert.True(t, view.Locked)
	assert.NotEmpty(t, view.Notice)
	assert.True(t, view.Account.Currencies.Grain.IsZero())
	assert.Empty(t, view.Inventory.Pets)

	stored := f.stored(t, "u1")
	assert.True(t, stored.Account.Security.Locked)
	assert.Contains(t, stored.Account.Security.LockReason, "catalog_tampered")

	_, err := s.Execute(context.Background(), SelectPet{PetID: "x"}, "")
	assert.ErrorIs(t, err, game.ErrLocked)
	assert.Empty(t, s.Audit(context.Background()))
}

func TestFailedSaveIsRetriedByAutosave(t *testing.T) {
	flaky := storetest.NewFlaky(store.NewMemory())
	f := newFixture(t, flaky)
	s := f.open(t, "u1")
	petID := s.State().Inventory.Pets[0].ID

	flaky.FailPuts(true)
	_, err := s.Execute(context.Background(), Feed{PetID: petID}, "")
	require.NoError(t, err)
	assert.True(t, s.Dirty())
	assert.False(t, s.Autosave(context.Background()))

	flaky.FailPuts(false)
	assert.True(t, s.Autosave(context.Background()))
	assert.False(t, s.Dirty())
	assert.True(t, f.stored(t, "u1").Account.Currencies.Grain.Equal(decimal.NewFromInt(90)))
}

func TestAccrueAndBreed(t *testing.T) {
	f := newFixture(t, nil)
	st := f.deps.Engine.NewState("u1", "Player u1", t0)
	st.Inventory.Pets[0].Level = 5
	st.Inventory.Pets[0].Satiety = 100
	f.putState(t, st)
	s := f.open(t, "u1")
	petID := st.Inventory.Pets[0].ID

	f.clock.Advance(5 * time.Minute)
	acc := s.Accrue(context.Background())
	// Earth Bear farms 10 grain per interval at full satiety.
	assert.True(t, acc.Total.Equal(decimal.NewFromInt(10)))

	_, err := s.Execute(context.Background(), StartBreed{PetID: petID}, "")
	require.NoError(t, err)
	_, err = s.Execute(context.Background(), StartBreed{PetID: petID}, "")
	assert.ErrorIs(t, err, game.ErrAlreadyBreeding)

	f.clock.Advance(17 * time.Hour)
	assert.Empty(t, s.ResolveBreeding(context.Background()))
	f.clock.Advance(time.Hour)
	out := s.ResolveBreeding(context.Background())
	require.Len(t, out, 1)
	assert.False(t, out[0].Upgraded)
	assert.Equal(t, 5, out[0].SpeciesID)

	assert.Len(t, f.stored(t, "u1").Inventory.Pets, 2)
}

func TestMarketBetweenSessions(t *testing.T) {
	f := newFixture(t, nil)
	reg, err := NewRegistry(f.deps)
	require.NoError(t, err)
	defer reg.CloseAll(context.Background())
	ctx := context.Background()

	seller, err := reg.Session(ctx, Identity{UserID: "seller"})
	require.NoError(t, err)
	buyer, err := reg.Session(ctx, Identity{UserID: "buyer"})
	require.NoError(t, err)
	again, err := reg.Session(ctx, Identity{UserID: "seller"})
	require.NoError(t, err)
	assert.Same(t, seller, again)

	petID := seller.State().Inventory.Pets[0].ID
	res, err := seller.Execute(ctx, SellItem{ItemID: petID, Price: decimal.NewFromInt(40), Currency: game.Grain}, "")
	require.NoError(t, err)
	listing := res.(market.SellResult).Listing

	res, err = buyer.Execute(ctx, BuyListing{ListingID: listing.ID, Currency: game.Grain}, "")
	require.NoError(t, err)
	assert.Equal(t, petID, res.(market.BuyResult).ItemID)
	assert.True(t, buyer.State().Account.Currencies.Grain.Equal(decimal.NewFromInt(60)))
	assert.Len(t, buyer.State().Inventory.Pets, 2)

	assert.Equal(t, 1, seller.ClaimProceeds(ctx))
	assert.True(t, seller.State().Account.Currencies.Grain.Equal(decimal.NewFromInt(140)))
	assert.True(t, f.stored(t, "seller").Account.Currencies.Grain.Equal(decimal.NewFromInt(140)))
}

func TestProceedsClaimedOnOpen(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seller := f.open(t, "seller")
	petID := seller.State().Inventory.Pets[0].ID
	res, err := seller.Execute(ctx, SellItem{ItemID: petID, Price: decimal.NewFromInt(2), Currency: game.Stars}, "")
	require.NoError(t, err)
	require.NoError(t, seller.Close(ctx))

	buyer := f.open(t, "buyer")
	_, err = buyer.Execute(ctx, BuyListing{ListingID: res.(market.SellResult).Listing.ID, Currency: game.Stars}, "")
	require.NoError(t, err)

	reopened := f.open(t, "seller")
	assert.True(t, reopened.State().Account.Currencies.Stars.Equal(decimal.NewFromInt(12)))
}

func TestAdminOperations(t *testing.T) {
	f := newFixture(t, nil)
	reg, err := NewRegistry(f.deps)
	require.NoError(t, err)
	defer reg.CloseAll(context.Background())
	ctx := context.Background()
	admin := Identity{UserID: "admin"}

	_, err = reg.Session(ctx, Identity{UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, reg.Evict(ctx, "u1"))

	_, err = reg.Grant(ctx, Identity{UserID: "u1"}, "u1", Grant{})
	assert.ErrorIs(t, err, game.ErrUnauthorized)
	_, err = reg.Grant(ctx, admin, "nobody", Grant{})
	assert.ErrorIs(t, err, ErrUnknownAccount)
	_, err = reg.Grant(ctx, admin, "u1", Grant{Currencies: game.Currencies{Grain: decimal.NewFromInt(-1)}})
	assert.ErrorIs(t, err, game.ErrInvalidAmount)

	balance, err := reg.Grant(ctx, admin, "u1", Grant{
		Currencies:  game.Currencies{Grain: decimal.NewFromInt(50), Ton: decimal.NewFromInt(2)},
		Accessories: []string{"2.1"},
	})
	require.NoError(t, err)
	assert.True(t, balance.Grain.Equal(decimal.NewFromInt(150)))
	assert.True(t, balance.Ton.Equal(decimal.NewFromInt(2)))
	s, ok := reg.Lookup("u1")
	require.True(t, ok)
	assert.Len(t, s.State().Inventory.Accessories, 1)

	require.NoError(t, reg.Reset(ctx, admin, "u1"))
	assert.True(t, s.State().Account.Currencies.Grain.Equal(decimal.NewFromInt(100)))
	assert.Empty(t, s.State().Inventory.Accessories)

	require.NoError(t, reg.Lock(ctx, admin, "u1", "cheating"))
	assert.True(t, s.Locked())
	assert.ErrorIs(t, reg.Reset(ctx, admin, "u1"), game.ErrLocked)

	accounts, err := reg.Accounts(ctx, admin)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "u1", accounts[0].ID)
	assert.True(t, accounts[0].Locked)
	assert.True(t, accounts[0].Online)

	_, err = reg.Accounts(ctx, Identity{UserID: "u1"})
	assert.ErrorIs(t, err, game.ErrUnauthorized)
}

func TestEvictIdle(t *testing.T) {
	f := newFixture(t, nil)
	reg, err := NewRegistry(f.deps)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = reg.Session(ctx, Identity{UserID: "u1"})
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)
	_, err = reg.Session(ctx, Identity{UserID: "u2"})
	require.NoError(t, err)

	assert.Equal(t, 1, reg.EvictIdle(ctx, 5*time.Minute))
	_, ok := reg.Lookup("u1")
	assert.False(t, ok)
	_, ok = reg.Lookup("u2")
	assert.True(t, ok)
	reg.CloseAll(ctx)
}
