package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"petfarm/internal/game"
	"petfarm/internal/integrity"
	"petfarm/internal/save"
)

// Registry maps user ids to their open sessions.
type Registry struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
	opening  singleflight.Group
}

func NewRegistry(deps Deps) (*Registry, error) {
	if err := deps.normalize(); err != nil {
		return nil, err
	}
	return &Registry{deps: deps, sessions: make(map[string]*Session)}, nil
}

func (r *Registry) IsAdmin(userID string) bool {
	return r.deps.IsAdmin != nil && r.deps.IsAdmin(userID)
}

// Session returns the open session for id, opening it on first use. The
// open runs outside r.mu; concurrent callers for the same id share it.
func (r *Registry) Session(ctx context.Context, id Identity) (*Session, error) {
	if s, ok := r.Lookup(id.UserID); ok {
		return s, nil
	}
	v, err, _ := r.opening.Do(id.UserID, func() (any, error) {
		if s, ok := r.Lookup(id.UserID); ok {
			return s, nil
		}
		s, err := Open(ctx, r.deps, id)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.sessions[id.UserID] = s
		r.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (r *Registry) Lookup(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return s, ok
}

func (r *Registry) Evict(ctx context.Context, userID string) error {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// EvictIdle closes sessions untouched for longer than idle.
func (r *Registry) EvictIdle(ctx context.Context, idle time.Duration) int {
	cutoff := r.deps.Clock.Now().Add(-idle)
	r.mu.Lock()
	var stale []*Session
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()
	for _, s := range stale {
		if err := s.Close(ctx); err != nil {
			r.deps.Logger.Error("close idle session failed", "account_id", s.UserID(), "err", err)
		}
	}
	return len(stale)
}

func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range all {
		if err := s.Close(ctx); err != nil {
			r.deps.Logger.Error("close session failed", "account_id", s.UserID(), "err", err)
		}
	}
}

type AccountSummary struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Currencies  game.Currencies `json:"currencies"`
	Pets        int             `json:"pets"`
	Locked      bool            `json:"locked"`
	LockReason  string          `json:"lock_reason,omitempty"`
	Corrupt     bool            `json:"corrupt,omitempty"`
	Online      bool            `json:"online"`
	Suspicious  bool            `json:"suspicious"`
	SavedAt     time.Time       `json:"saved_at"`
}

const (
	suspectWindow    = 24 * time.Hour
	suspectAnomalies = 10
	suspectGrain     = 100_000
	suspectGromd     = 10_000
)

var (
	suspectGrainLimit = decimal.NewFromInt(suspectGrain)
	suspectGromdLimit = decimal.NewFromInt(suspectGromd)
)

// suspicious flags accounts an operator should look at: a high severity
// anomaly or a burst of anomalies in the last day, or balances far beyond
// what normal play reaches.
func suspicious(log []integrity.Anomaly, cur game.Currencies, now time.Time) bool {
	if cur.Grain.GreaterThan(suspectGrainLimit) || cur.Gromd.GreaterThan(suspectGromdLimit) {
		return true
	}
	recent := 0
	for _, a := range log {
		if now.Sub(a.At) > suspectWindow {
			continue
		}
		if a.Severity == integrity.High {
			return true
		}
		recent++
	}
	return recent >= suspectAnomalies
}

func (r *Registry) requireAdmin(caller Identity) error {
	if !r.IsAdmin(caller.UserID) {
		return game.ErrUnauthorized
	}
	return nil
}

// Accounts lists every persisted account. Open sessions report their live
// state without counting as activity for idle eviction.
func (r *Registry) Accounts(ctx context.Context, caller Identity) ([]AccountSummary, error) {
	if err := r.requireAdmin(caller); err != nil {
		return nil, err
	}
	keys, err := r.deps.Gateway.Enumerate(ctx, save.AccountPrefix())
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	now := r.deps.Clock.Now()
	out := make([]AccountSummary, 0, len(keys))
	for _, key := range keys {
		id, ok := save.AccountIDFromKey(key)
		if !ok {
			continue
		}
		if s, live := r.Lookup(id); live {
			out = append(out, s.summary(now))
			continue
		}
		raw, found, err := r.deps.Gateway.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load account %s: %w", id, err)
		}
		if !found {
			continue
		}
		log, err := integrity.LoadLog(ctx, r.deps.Gateway, id)
		if err != nil {
			r.deps.Logger.Warn("anomaly log unreadable", "account_id", id, "err", err)
		}
		st, err := save.Decode(raw, r.deps.Engine.Catalog(), r.deps.Engine.Rules())
		if err != nil {
			locked, reason := save.PeekLock(raw)
			out = append(out, AccountSummary{ID: id, Corrupt: true, Locked: locked, LockReason: reason, Suspicious: true})
			continue
		}
		out = append(out, AccountSummary{
			ID:          id,
			DisplayName: st.Account.DisplayName,
			Currencies:  st.Account.Currencies,
			Pets:        len(st.Inventory.Pets),
			Locked:      st.Account.Security.Locked,
			LockReason:  st.Account.Security.LockReason,
			Suspicious:  suspicious(log, st.Account.Currencies, now),
			SavedAt:     st.SavedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// target opens the session of an existing account on behalf of an admin.
func (r *Registry) target(ctx context.Context, caller Identity, userID string) (*Session, error) {
	if err := r.requireAdmin(caller); err != nil {
		return nil, err
	}
	if s, ok := r.Lookup(userID); ok {
		return s, nil
	}
	_, found, err := r.deps.Gateway.Get(ctx, save.AccountKey(userID))
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if !found {
		return nil, ErrUnknownAccount
	}
	return r.Session(ctx, Identity{UserID: userID})
}

func (r *Registry) Grant(ctx context.Context, caller Identity, userID string, g Grant) (game.Currencies, error) {
	s, err := r.target(ctx, caller, userID)
	if err != nil {
		return game.Currencies{}, err
	}
	return s.grant(ctx, g)
}

func (r *Registry) Reset(ctx context.Context, caller Identity, userID string) error {
	s, err := r.target(ctx, caller, userID)
	if err != nil {
		return err
	}
	return s.reset(ctx)
}

func (r *Registry) Lock(ctx context.Context, caller Identity, userID, reason string) error {
	s, err := r.target(ctx, caller, userID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "locked by " + caller.UserID
	}
	s.lock(ctx, reason)
	return nil
}

// AccountAnomalies returns the anomaly log of any account.
func (r *Registry) AccountAnomalies(ctx context.Context, caller Identity, userID string) ([]integrity.Anomaly, error) {
	if err := r.requireAdmin(caller); err != nil {
		return nil, err
	}
	if s, ok := r.Lookup(userID); ok {
		return s.Anomalies(), nil
	}
	return integrity.LoadLog(ctx, r.deps.Gateway, userID)
}
