// Package session owns one account graph per user and serializes every
// command and timer against it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"petfarm/internal/config"
	"petfarm/internal/game"
	"petfarm/internal/integrity"
	"petfarm/internal/market"
	"petfarm/internal/save"
	"petfarm/internal/store"
)

var (
	ErrClosed         = errors.New("session closed")
	ErrUnknownAccount = errors.New("unknown account")
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

type Identity struct {
	UserID      string
	DisplayName string
}

// Timers are the periodic cadences of a session. A zero duration disables
// that timer; the matching method can still be called directly.
type Timers struct {
	Accrual   time.Duration
	Breeding  time.Duration
	Proceeds  time.Duration
	FastCheck time.Duration
	Audit     time.Duration
	Autosave  time.Duration
}

type Deps struct {
	Gateway  store.Gateway
	Engine   *game.Engine
	Market   *market.Market
	Baseline [32]byte
	Limits   integrity.Limits
	Timers   Timers
	Clock    Clock
	Logger   *slog.Logger
	IsAdmin  func(userID string) bool
}

// Settings splits the game configuration into rules, integrity limits and
// timer cadences.
func Settings(cfg config.GameConfig) (game.Rules, integrity.Limits, Timers) {
	rules := game.Rules{
		MaxLevel:      cfg.MaxLevel,
		MinBreedLevel: cfg.MinBreedLevel,
		BreedDuration: cfg.BreedDuration,
		BaseInterval:  cfg.BaseInterval,
		MaxCatchUp:    cfg.MaxCatchUp,
	}
	limits := integrity.DefaultLimits()
	limits.MaxActionsPerMinute = cfg.MaxActionsPerMinute
	limits.ClockTolerance = cfg.ClockTolerance
	limits.LockAfterHigh = cfg.LockAfterHigh
	limits.FastPeriod = cfg.FastCheckEvery
	timers := Timers{
		Accrual:   cfg.AccrualEvery,
		Breeding:  cfg.BreedingEvery,
		Proceeds:  cfg.ProceedsEvery,
		FastCheck: cfg.FastCheckEvery,
		Audit:     cfg.AuditEvery,
		Autosave:  cfg.AutosaveEvery,
	}
	return rules, limits, timers
}

func (d *Deps) normalize() error {
	if d.Gateway == nil {
		return errors.New("session: gateway is required")
	}
	if d.Engine == nil {
		return errors.New("session: engine is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Market == nil {
		d.Market = market.New(d.Gateway, d.Logger)
	}
	if d.Limits.MaxActionsPerMinute <= 0 {
		d.Limits = integrity.DefaultLimits()
	}
	return nil
}

type Session struct {
	deps Deps
	id   Identity
	log  *slog.Logger

	mu       sync.Mutex
	state    game.State
	monitor  *integrity.Monitor
	dirty    bool
	notice   string
	closed   bool
	lastSeen time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open loads the account for id, or creates it, and starts the timers.
func Open(ctx context.Context, deps Deps, id Identity) (*Session, error) {
	if err := deps.normalize(); err != nil {
		return nil, err
	}
	if id.UserID == "" {
		return nil, game.ErrUnauthorized
	}
	now := deps.Clock.Now()
	eng := deps.Engine
	s := &Session{
		deps:     deps,
		id:       id,
		log:      deps.Logger.With("account_id", id.UserID),
		lastSeen: now,
	}
	s.monitor = integrity.NewMonitor(ctx, integrity.Config{
		AccountID: id.UserID,
		Gateway:   deps.Gateway,
		Catalog:   eng.Catalog(),
		Baseline:  deps.Baseline,
		Limits:    deps.Limits,
		Logger:    deps.Logger,
	})

	raw, ok, err := deps.Gateway.Get(ctx, save.AccountKey(id.UserID))
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	switch {
	case !ok:
		s.state = eng.NewState(id.UserID, id.DisplayName, now)
		s.log.Info("account created")
	default:
		st, err := save.Decode(raw, eng.Catalog(), eng.Rules())
		if err != nil {
			s.monitor.ReportCorruptSave(ctx, err, now)
			s.state = eng.NewState(id.UserID, id.DisplayName, now)
			s.notice = "saved progress was unreadable and has been reset"
			if locked, reason := save.PeekLock(raw); locked {
				s.state.Purge(reason)
			}
			break
		}
		s.state = st
	}
	if id.DisplayName != "" {
		s.state.Account.DisplayName = id.DisplayName
	}
	s.state.Account.IsAdmin = deps.IsAdmin != nil && deps.IsAdmin(id.UserID)

	if s.state.Account.Security.Locked {
		reason := s.state.Account.Security.LockReason
		if reason == "" {
			reason = "locked"
		}
		s.monitor.Lock(reason)
	}

	s.mu.Lock()
	if s.monitor.Locked() {
		s.enforceLock(ctx, now)
	} else {
		s.claimProceeds(ctx, now)
		s.persist(ctx, now)
	}
	s.mu.Unlock()

	s.start(ctx)
	return s, nil
}

func (s *Session) UserID() string { return s.id.UserID }

func (s *Session) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	t := s.deps.Timers
	s.every(runCtx, t.Accrual, func(ctx context.Context) { s.Accrue(ctx) })
	s.every(runCtx, t.Breeding, func(ctx context.Context) { s.ResolveBreeding(ctx) })
	s.every(runCtx, t.Proceeds, func(ctx context.Context) { s.ClaimProceeds(ctx) })
	s.every(runCtx, t.FastCheck, func(ctx context.Context) { s.FastCheck(ctx) })
	s.every(runCtx, t.Audit, func(ctx context.Context) { s.Audit(ctx) })
	s.every(runCtx, t.Autosave, func(ctx context.Context) { s.Autosave(ctx) })
}

func (s *Session) every(ctx context.Context, d time.Duration, tick func(context.Context)) {
	if d <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx)
			}
		}
	}()
}

// Close stops the timers and writes a final snapshot.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(ctx, s.deps.Clock.Now())
}

// persist writes the snapshot. A failure leaves the session dirty so the
// autosave timer retries it.
func (s *Session) persist(ctx context.Context, now time.Time) error {
	s.state.SavedAt = now
	raw, err := save.Encode(s.state)
	if err == nil {
		err = s.deps.Gateway.Put(ctx, save.AccountKey(s.id.UserID), raw)
	}
	if err != nil {
		s.dirty = true
		s.log.Error("save account failed", "err", err)
		return err
	}
	s.dirty = false
	return nil
}

// enforceLock purges the account and persists the purged record.
func (s *Session) enforceLock(ctx context.Context, now time.Time) {
	reason := s.monitor.LockReason()
	if !s.state.Account.Security.Locked {
		s.log.Warn("purging locked account", "reason", reason)
	}
	s.state.Purge(reason)
	s.notice = "this account has been locked: " + reason
	s.persist(ctx, now)
}

func (s *Session) checkLock(ctx context.Context, now time.Time) {
	if s.monitor.Locked() && !s.state.Account.Security.Locked {
		s.enforceLock(ctx, now)
	}
}

func (s *Session) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitor.Locked()
}

func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// State returns a deep copy of the account with derived per-pet numbers.
func (s *Session) State() game.CurrentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = s.deps.Clock.Now()
	view := s.deps.Engine.View(s.state)
	view.Locked = s.monitor.Locked()
	view.Notice = s.notice
	return view
}

func (s *Session) Anomalies() []integrity.Anomaly {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitor.Anomalies()
}

func (s *Session) claimProceeds(ctx context.Context, now time.Time) int {
	next, res, err := s.deps.Market.ClaimProceeds(ctx, s.state, now)
	if err != nil {
		s.log.Error("claim proceeds failed", "err", err)
		return 0
	}
	if len(res.Claimed) > 0 {
		s.state = next
		s.dirty = false
		s.log.Info("proceeds claimed", "count", len(res.Claimed))
	}
	return len(res.Claimed)
}
