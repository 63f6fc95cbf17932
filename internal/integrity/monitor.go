package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"petfarm/internal/game"
	"petfarm/internal/store"
)

type Status string

const (
	Active Status = "active"
	Locked Status = "locked"
)

type Limits struct {
	Ceilings            game.Currencies
	MaxActionsPerMinute int
	Window              time.Duration
	FastPeriod          time.Duration
	ClockTolerance      time.Duration
	LockAfterHigh       int
	LogCapacity         int
}

func DefaultLimits() Limits {
	return Limits{
		Ceilings: game.Currencies{
			Grain: decimal.NewFromInt(1_000_000),
			Gromd: decimal.NewFromInt(100_000),
			Ton:   decimal.NewFromInt(10_000),
			Stars: decimal.NewFromInt(50_000),
		},
		MaxActionsPerMinute: 60,
		Window:              time.Minute,
		FastPeriod:          time.Second,
		ClockTolerance:      100 * time.Millisecond,
		LockAfterHigh:       2,
		LogCapacity:         100,
	}
}

// Fingerprinter exposes the hash of static reference data.
type Fingerprinter interface {
	Fingerprint() [32]byte
}

type Config struct {
	AccountID string
	Gateway   store.Gateway
	Catalog   Fingerprinter
	Baseline  [32]byte
	Limits    Limits
	Logger    *slog.Logger
}

// Monitor watches one account. It is not safe for concurrent use; the
// owning session serializes every call.
type Monitor struct {
	accountID string
	gw        store.Gateway
	catalog   Fingerprinter
	baseline  [32]byte
	limits    Limits
	log       *slog.Logger
	newID     func() string

	actions   []time.Time
	flooding  bool
	lastFast  time.Time
	highCount int
	status    Status
	reason    string
	recent    []Anomaly
}

func NewMonitor(ctx context.Context, cfg Config) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Limits.Window <= 0 {
		cfg.Limits.Window = time.Minute
	}
	m := &Monitor{
		accountID: cfg.AccountID,
		gw:        cfg.Gateway,
		catalog:   cfg.Catalog,
		baseline:  cfg.Baseline,
		limits:    cfg.Limits,
		log:       logger.With("account_id", cfg.AccountID),
		newID:     uuid.NewString,
		status:    Active,
	}
	if m.gw != nil {
		recent, err := LoadLog(ctx, m.gw, m.accountID)
		if err != nil {
			m.log.Warn("anomaly log unreadable", "err", err)
		}
		m.recent = recent
	}
	return m
}

func (m *Monitor) Status() Status     { return m.status }
func (m *Monitor) Locked() bool       { return m.status == Locked }
func (m *Monitor) LockReason() string { return m.reason }

func (m *Monitor) Anomalies() []Anomaly {
	return append([]Anomaly(nil), m.recent...)
}

// Lock moves the monitor to the terminal state without recording an anomaly.
func (m *Monitor) Lock(reason string) {
	if m.status == Locked {
		return
	}
	m.status = Locked
	m.reason = reason
	m.log.Warn("account locked", "reason", reason)
}

func (m *Monitor) record(ctx context.Context, kind Kind, detail string, now time.Time) Anomaly {
	a := Anomaly{
		ID:        m.newID(),
		AccountID: m.accountID,
		Kind:      kind,
		Severity:  kind.Severity(),
		Detail:    detail,
		At:        now,
	}
	m.recent = trimLog(append(m.recent, a), m.limits.LogCapacity)
	if m.gw != nil {
		if err := saveLog(ctx, m.gw, m.accountID, m.recent); err != nil {
			m.log.Error("persist anomaly failed", "err", err)
		}
	}
	m.log.Warn("integrity anomaly", "kind", a.Kind, "severity", a.Severity, "detail", a.Detail)

	if a.Severity == High {
		m.highCount++
		if m.highCount >= m.limits.LockAfterHigh {
			m.Lock(fmt.Sprintf("%s: %s", a.Kind, a.Detail))
		}
	}
	return a
}

// CheckBounds clamps out-of-range currencies in place.
func (m *Monitor) CheckBounds(ctx context.Context, st *game.State, now time.Time) []Anomaly {
	var out []Anomaly
	for _, c := range ClampBounds(&st.Account.Currencies, m.limits.Ceilings) {
		out = append(out, m.record(ctx, KindOutOfBounds, c.Detail(), now))
	}
	return out
}

func (m *Monitor) prune(now time.Time) {
	cutoff := now.Add(-m.limits.Window)
	i := 0
	for i < len(m.actions) && !m.actions[i].After(cutoff) {
		i++
	}
	if i > 0 {
		m.actions = append(m.actions[:0], m.actions[i:]...)
	}
	if len(m.actions) < m.limits.MaxActionsPerMinute {
		m.flooding = false
	}
}

// AdmitAction counts a mutating command against the rolling window. Once
// the window is full further commands are rejected, and the first rejection
// of each flood is recorded.
func (m *Monitor) AdmitAction(ctx context.Context, st *game.State, now time.Time) error {
	m.prune(now)
	if len(m.actions) >= m.limits.MaxActionsPerMinute {
		if !m.flooding {
			m.flooding = true
			m.record(ctx, KindActionFlood, fmt.Sprintf("more than %d actions within %s", m.limits.MaxActionsPerMinute, m.limits.Window), now)
		}
		return game.ErrRateLimited
	}
	m.actions = append(m.actions, now)
	st.Account.Security.LastActionAt = now
	st.Account.Security.ActionCount = len(m.actions)
	return nil
}

// FastTick maintains the rate window and compares the observed tick spacing
// against the nominal period.
func (m *Monitor) FastTick(ctx context.Context, st *game.State, now time.Time) []Anomaly {
	m.prune(now)
	st.Account.Security.ActionCount = len(m.actions)

	var out []Anomaly
	if !m.lastFast.IsZero() {
		delta := now.Sub(m.lastFast)
		drift := delta - m.limits.FastPeriod
		if drift < 0 {
			drift = -drift
		}
		if delta < 0 || drift > m.limits.ClockTolerance {
			out = append(out, m.record(ctx, KindClockSkew,
				fmt.Sprintf("tick spacing %s, expected %s", delta, m.limits.FastPeriod), now))
		}
	}
	m.lastFast = now
	return out
}

// ResetClock forgets the previous tick, e.g. after the session was idle.
func (m *Monitor) ResetClock() {
	m.lastFast = time.Time{}
}

func (m *Monitor) CheckCatalog(ctx context.Context, now time.Time) (Anomaly, bool) {
	if m.catalog == nil {
		return Anomaly{}, false
	}
	if m.catalog.Fingerprint() == m.baseline {
		return Anomaly{}, false
	}
	return m.record(ctx, KindCatalogTampered, "static data fingerprint changed since startup", now), true
}

func (m *Monitor) ReportCorruptSave(ctx context.Context, cause error, now time.Time) Anomaly {
	return m.record(ctx, KindCorruptSave, cause.Error(), now)
}
