// Package integrity detects, corrects and records deviations from the
// account invariants, and locks accounts that keep producing them.
package integrity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"petfarm/internal/game"
	"petfarm/internal/store"
)

type Severity string

const (
	Low  Severity = "low"
	High Severity = "high"
)

type Kind string

const (
	KindOutOfBounds     Kind = "out_of_bounds"
	KindActionFlood     Kind = "action_flood"
	KindClockSkew       Kind = "clock_skew"
	KindCorruptSave     Kind = "corrupt_save"
	KindCatalogTampered Kind = "catalog_tampered"
)

func (k Kind) Severity() Severity {
	switch k {
	case KindCorruptSave, KindCatalogTampered:
		return High
	}
	return Low
}

type Anomaly struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Kind      Kind      `json:"kind"`
	Severity  Severity  `json:"severity"`
	Detail    string    `json:"detail"`
	At        time.Time `json:"at"`
}

const anomalyPrefix = "anomalies/"

func LogKey(accountID string) string { return anomalyPrefix + accountID }

// LoadLog reads the persisted anomaly log for an account, oldest first.
func LoadLog(ctx context.Context, gw store.Gateway, accountID string) ([]Anomaly, error) {
	raw, ok, err := gw.Get(ctx, LogKey(accountID))
	if err != nil {
		return nil, fmt.Errorf("load anomaly log: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var out []Anomaly
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode anomaly log: %w", err)
	}
	return out, nil
}

// AppendLog adds entries to the persisted log and trims it to capacity.
func AppendLog(ctx context.Context, gw store.Gateway, accountID string, capacity int, entries ...Anomaly) ([]Anomaly, error) {
	current, err := LoadLog(ctx, gw, accountID)
	if err != nil {
		// An unreadable log is replaced rather than blocking new entries.
		current = nil
	}
	next := trimLog(append(current, entries...), capacity)
	if err := saveLog(ctx, gw, accountID, next); err != nil {
		return next, err
	}
	return next, nil
}

func saveLog(ctx context.Context, gw store.Gateway, accountID string, entries []Anomaly) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode anomaly log: %w", err)
	}
	if err := gw.Put(ctx, LogKey(accountID), raw); err != nil {
		return fmt.Errorf("save anomaly log: %w", err)
	}
	return nil
}

func trimLog(entries []Anomaly, capacity int) []Anomaly {
	if capacity > 0 && len(entries) > capacity {
		entries = append([]Anomaly(nil), entries[len(entries)-capacity:]...)
	}
	return entries
}

// Correction is one currency pulled back into range.
type Correction struct {
	Currency game.Currency
	From     decimal.Decimal
	To       decimal.Decimal
}

var clampFactor = decimal.RequireFromString("0.8")

// ClampBounds pulls every currency into [0, ceiling]. Overflow is reset to
// floor(ceiling*0.8), negatives to zero.
func ClampBounds(c *game.Currencies, ceilings game.Currencies) []Correction {
	var out []Correction
	for _, cur := range game.AllCurrencies {
		v := c.Get(cur)
		ceiling := ceilings.Get(cur)
		var to decimal.Decimal
		switch {
		case v.IsNegative():
			to = decimal.Zero
		case v.GreaterThan(ceiling):
			to = ceiling.Mul(clampFactor).Floor()
		default:
			continue
		}
		c.Set(cur, to)
		out = append(out, Correction{Currency: cur, From: v, To: to})
	}
	return out
}

func (c Correction) Detail() string {
	return fmt.Sprintf("%s %s out of bounds, corrected to %s", c.Currency, c.From, c.To)
}
