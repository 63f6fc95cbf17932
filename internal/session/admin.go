package session

import (
	"context"
	"time"

	"petfarm/internal/game"
)

// Grant adds currencies and catalog accessories to the account.
type Grant struct {
	Currencies  game.Currencies
	Accessories []string
}

func (s *Session) grant(ctx context.Context, g Grant) (game.Currencies, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor.Locked() {
		return game.Currencies{}, game.ErrLocked
	}
	for _, cur := range game.AllCurrencies {
		if g.Currencies.Get(cur).IsNegative() {
			return game.Currencies{}, game.ErrInvalidAmount
		}
	}
	now := s.deps.Clock.Now()
	_, err := s.mutate(func(st *game.State) (game.Result, error) {
		for _, cur := range game.AllCurrencies {
			st.Account.Currencies.Add(cur, g.Currencies.Get(cur))
		}
		for _, id := range g.Accessories {
			if _, err := s.deps.Engine.GrantAccessory(st, id, now); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return game.Currencies{}, err
	}
	s.log.Info("admin grant", "grain", g.Currencies.Grain, "gromd", g.Currencies.Gromd, "ton", g.Currencies.Ton, "stars", g.Currencies.Stars, "accessories", len(g.Accessories))
	s.persist(ctx, now)
	return s.state.Account.Currencies, nil
}

// reset replaces the account with a fresh one. A locked account stays
// locked.
func (s *Session) reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor.Locked() {
		return game.ErrLocked
	}
	now := s.deps.Clock.Now()
	isAdmin := s.state.Account.IsAdmin
	name := s.state.Account.DisplayName
	s.state = s.deps.Engine.NewState(s.id.UserID, name, now)
	s.state.Account.IsAdmin = isAdmin
	s.notice = ""
	s.log.Info("admin reset")
	s.persist(ctx, now)
	return nil
}

func (s *Session) lock(ctx context.Context, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitor.Lock("admin: " + reason)
	s.checkLock(ctx, s.deps.Clock.Now())
}

// summary reads the live account for the admin listing. It leaves lastSeen
// alone so listing accounts does not keep idle sessions open.
func (s *Session) summary(now time.Time) AccountSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.state.Account
	return AccountSummary{
		ID:          s.id.UserID,
		DisplayName: acc.DisplayName,
		Currencies:  acc.Currencies,
		Pets:        len(s.state.Inventory.Pets),
		Locked:      s.monitor.Locked(),
		LockReason:  acc.Security.LockReason,
		Online:      true,
		Suspicious:  suspicious(s.monitor.Anomalies(), acc.Currencies, now),
		SavedAt:     s.state.SavedAt,
	}
}
