package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petfarm/internal/game"
	"petfarm/internal/integrity"
	"petfarm/internal/save"
	"petfarm/internal/store"
)

// gatedGateway holds reads of one key until release is closed.
type gatedGateway struct {
	store.Gateway
	key     string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedGateway) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == g.key {
		g.once.Do(func() { close(g.entered) })
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	return g.Gateway.Get(ctx, key)
}

func newGatedGateway(userID string) *gatedGateway {
	return &gatedGateway{
		Gateway: store.NewMemory(),
		key:     save.AccountKey(userID),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func TestSessionOpenDoesNotBlockOtherAccounts(t *testing.T) {
	gw := newGatedGateway("slow")
	f := newFixture(t, gw)
	reg, err := NewRegistry(f.deps)
	require.NoError(t, err)
	ctx := context.Background()
	defer reg.CloseAll(ctx)

	slow := make(chan *Session, 1)
	go func() {
		s, err := reg.Session(ctx, Identity{UserID: "slow"})
		assert.NoError(t, err)
		slow <- s
	}()
	<-gw.entered

	fast, err := reg.Session(ctx, Identity{UserID: "fast"})
	require.NoError(t, err)
	assert.Equal(t, "fast", fast.UserID())
	_, ok := reg.Lookup("slow")
	assert.False(t, ok)

	close(gw.release)
	s := <-slow
	require.NotNil(t, s)
	got, ok := reg.Lookup("slow")
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestConcurrentSessionCallsShareOneOpen(t *testing.T) {
	gw := newGatedGateway("u1")
	f := newFixture(t, gw)
	reg, err := NewRegistry(f.deps)
	require.NoError(t, err)
	ctx := context.Background()
	defer reg.CloseAll(ctx)

	const callers = 8
	results := make([]*Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := reg.Session(ctx, Identity{UserID: "u1"})
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	<-gw.entered
	close(gw.release)
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestAccountsLeavesIdleSessionsEvictable(t *testing.T) {
	f := newFixture(t, nil)
	reg, err := NewRegistry(f.deps)
	require.NoError(t, err)
	ctx := context.Background()
	defer reg.CloseAll(ctx)
	admin := Identity{UserID: "admin"}

	_, err = reg.Session(ctx, Identity{UserID: "u1"})
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)

	accounts, err := reg.Accounts(ctx, admin)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.True(t, accounts[0].Online)

	assert.Equal(t, 1, reg.EvictIdle(ctx, 5*time.Minute))
	_, ok := reg.Lookup("u1")
	assert.False(t, ok)
}

func TestAccountsFlagsSuspicious(t *testing.T) {
	f := newFixture(t, nil)
	reg, err := NewRegistry(f.deps)
	require.NoError(t, err)
	ctx := context.Background()
	defer reg.CloseAll(ctx)
	admin := Identity{UserID: "admin"}

	for _, id := range []string{"clean", "rich", "flagged", "stale", "noisy"} {
		f.putState(t, f.deps.Engine.NewState(id, "Player "+id, t0))
	}
	rich := f.deps.Engine.NewState("rich", "Player rich", t0)
	rich.Account.Currencies.Grain = decimal.NewFromInt(250_000)
	f.putState(t, rich)

	anomaly := func(id string, kind integrity.Kind, at time.Time) integrity.Anomaly {
		return integrity.Anomaly{ID: fmt.Sprintf("%s-%d", id, at.UnixNano()), AccountID: id, Kind: kind, Severity: kind.Severity(), At: at}
	}
	_, err = integrity.AppendLog(ctx, f.gw, "flagged", 100, anomaly("flagged", integrity.KindCorruptSave, t0.Add(-time.Hour)))
	require.NoError(t, err)
	_, err = integrity.AppendLog(ctx, f.gw, "stale", 100, anomaly("stale", integrity.KindCorruptSave, t0.Add(-48*time.Hour)))
	require.NoError(t, err)
	var burst []integrity.Anomaly
	for i := 0; i < suspectAnomalies; i++ {
		burst = append(burst, anomaly("noisy", integrity.KindActionFlood, t0.Add(-time.Duration(i+1)*time.Minute)))
	}
	_, err = integrity.AppendLog(ctx, f.gw, "noisy", 100, burst...)
	require.NoError(t, err)
	require.NoError(t, f.gw.Put(ctx, save.AccountKey("broken"), []byte("{garbage")))

	accounts, err := reg.Accounts(ctx, admin)
	require.NoError(t, err)
	flags := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		flags[a.ID] = a.Suspicious
	}
	assert.Equal(t, map[string]bool{
		"broken":  true,
		"clean":   false,
		"flagged": true,
		"noisy":   true,
		"rich":    true,
		"stale":   false,
	}, flags)

	_, err = reg.Grant(ctx, admin, "clean", Grant{Currencies: game.Currencies{Gromd: decimal.NewFromInt(20_000)}})
	require.NoError(t, err)
	accounts, err = reg.Accounts(ctx, admin)
	require.NoError(t, err)
	for _, a := range accounts {
		if a.ID == "clean" {
			assert.True(t, a.Online)
			assert.True(t, a.Suspicious)
		}
	}
}
