package session

import (
	"context"

	"petfarm/internal/game"
	"petfarm/internal/integrity"
)

// Accrue credits idle production for every idle pet.
func (s *Session) Accrue(ctx context.Context) game.AccrualResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor.Locked() {
		return game.AccrualResult{}
	}
	now := s.deps.Clock.Now()
	res := s.deps.Engine.Accrue(&s.state, now)
	if res.Total.IsPositive() {
		s.log.Debug("accrual", "grain", res.Total, "pets", len(res.Pets))
	}
	s.persist(ctx, now)
	return res
}

func (s *Session) ResolveBreeding(ctx context.Context) []game.BreedResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor.Locked() {
		return nil
	}
	now := s.deps.Clock.Now()
	out := s.deps.Engine.ResolveBreeding(&s.state, now)
	for _, r := range out {
		s.log.Info("breeding complete", "parent_id", r.ParentID, "child_id", r.ChildID, "species_id", r.SpeciesID, "upgraded", r.Upgraded)
	}
	if len(out) > 0 {
		s.persist(ctx, now)
	}
	return out
}

// ClaimProceeds credits market sales that settled since the last claim.
func (s *Session) ClaimProceeds(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor.Locked() {
		return 0
	}
	return s.claimProceeds(ctx, s.deps.Clock.Now())
}

// FastCheck maintains the action window and checks tick spacing.
func (s *Session) FastCheck(ctx context.Context) []integrity.Anomaly {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor.Locked() {
		return nil
	}
	return s.monitor.FastTick(ctx, &s.state, s.deps.Clock.Now())
}

// Audit clamps out-of-range balances and verifies the catalog fingerprint.
func (s *Session) Audit(ctx context.Context) []integrity.Anomaly {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor.Locked() {
		return nil
	}
	now := s.deps.Clock.Now()
	out := s.monitor.CheckBounds(ctx, &s.state, now)
	if len(out) > 0 {
		s.persist(ctx, now)
	}
	if a, found := s.monitor.CheckCatalog(ctx, now); found {
		out = append(out, a)
	}
	s.checkLock(ctx, now)
	return out
}

// Autosave retries a snapshot write that failed earlier.
func (s *Session) Autosave(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return false
	}
	return s.persist(ctx, s.deps.Clock.Now()) == nil
}
