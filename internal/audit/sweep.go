// Package audit scans persisted account snapshots at rest and corrects what
// the schema and bounds checks can repair.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"petfarm/internal/catalog"
	"petfarm/internal/game"
	"petfarm/internal/integrity"
	"petfarm/internal/save"
	"petfarm/internal/store"
)

type Report struct {
	Scanned   int
	Corrupt   []string
	Corrected map[string][]integrity.Correction
	Locked    int
}

type Sweeper struct {
	gw     store.Gateway
	cat    *catalog.Catalog
	rules  game.Rules
	limits integrity.Limits
	log    *slog.Logger
	now    func() time.Time
	newID  func() string
}

func New(gw store.Gateway, cat *catalog.Catalog, rules game.Rules, limits integrity.Limits, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		gw:     gw,
		cat:    cat,
		rules:  rules,
		limits: limits,
		log:    logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Run visits every account snapshot once. A failure on one account is
// logged and the sweep moves on; only enumeration errors abort it.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	keys, err := s.gw.Enumerate(ctx, save.AccountPrefix())
	if err != nil {
		return Report{}, fmt.Errorf("enumerate accounts: %w", err)
	}
	report := Report{Corrected: map[string][]integrity.Correction{}}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		userID, ok := save.AccountIDFromKey(key)
		if !ok {
			continue
		}
		report.Scanned++
		if err := s.account(ctx, userID, &report); err != nil {
			s.log.Error("audit account failed", "account_id", userID, "err", err)
		}
	}
	return report, nil
}

func (s *Sweeper) account(ctx context.Context, userID string, report *Report) error {
	raw, ok, err := s.gw.Get(ctx, save.AccountKey(userID))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	now := s.now()

	st, err := save.Decode(raw, s.cat, s.rules)
	if err != nil {
		if !errors.Is(err, save.ErrCorrupt) {
			return err
		}
		report.Corrupt = append(report.Corrupt, userID)
		return s.reportCorrupt(ctx, userID, err, now)
	}
	if st.Account.Security.Locked {
		report.Locked++
		return nil
	}

	corrections := integrity.ClampBounds(&st.Account.Currencies, s.limits.Ceilings)
	if len(corrections) == 0 {
		return nil
	}
	st.SavedAt = now
	data, err := save.Encode(st)
	if err != nil {
		return err
	}
	if err := s.gw.Put(ctx, save.AccountKey(userID), data); err != nil {
		return fmt.Errorf("write corrected snapshot: %w", err)
	}
	report.Corrected[userID] = corrections

	entries := make([]integrity.Anomaly, 0, len(corrections))
	for _, c := range corrections {
		entries = append(entries, s.anomaly(userID, integrity.KindOutOfBounds, c.Detail(), now))
		s.log.Warn("audit corrected balance", "account_id", userID, "currency", c.Currency, "from", c.From.String(), "to", c.To.String())
	}
	_, err = integrity.AppendLog(ctx, s.gw, userID, s.limits.LogCapacity, entries...)
	return err
}

// reportCorrupt logs a corrupt snapshot once; the session repairs it on the
// next open.
func (s *Sweeper) reportCorrupt(ctx context.Context, userID string, cause error, now time.Time) error {
	s.log.Warn("audit found corrupt snapshot", "account_id", userID, "err", cause)
	prior, err := integrity.LoadLog(ctx, s.gw, userID)
	if err == nil && len(prior) > 0 {
		last := prior[len(prior)-1]
		if last.Kind == integrity.KindCorruptSave && last.Detail == cause.Error() {
			return nil
		}
	}
	_, err = integrity.AppendLog(ctx, s.gw, userID, s.limits.LogCapacity, s.anomaly(userID, integrity.KindCorruptSave, cause.Error(), now))
	return err
}

func (s *Sweeper) anomaly(userID string, kind integrity.Kind, detail string, now time.Time) integrity.Anomaly {
	return integrity.Anomaly{
		ID:        s.newID(),
		AccountID: userID,
		Kind:      kind,
		Severity:  kind.Severity(),
		Detail:    detail,
		At:        now,
	}
}
