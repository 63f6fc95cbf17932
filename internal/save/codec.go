// Package save encodes account snapshots and checks them on the way back in.
package save

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pierrec/lz4/v4"

	"petfarm/internal/catalog"
	"petfarm/internal/game"
)

const accountPrefix = "account/"

// lz4 frame magic number, little endian.
var frameMagic = []byte{0x04, 0x22, 0x4d, 0x18}

var ErrCorrupt = errors.New("corrupt snapshot")

// SchemaError describes the first problem found in a snapshot.
type SchemaError struct {
	Path    string
	Problem string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("corrupt snapshot: %s: %s", e.Path, e.Problem)
}

func (e *SchemaError) Unwrap() error { return ErrCorrupt }

func schemaErr(path, format string, args ...any) error {
	return &SchemaError{Path: path, Problem: fmt.Sprintf(format, args...)}
}

func AccountKey(userID string) string { return accountPrefix + userID }

func AccountPrefix() string { return accountPrefix }

// AccountIDFromKey is the inverse of AccountKey.
func AccountIDFromKey(key string) (string, bool) {
	id, ok := strings.CutPrefix(key, accountPrefix)
	return id, ok && id != ""
}

func Encode(st game.State) ([]byte, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode and runs the schema check. Uncompressed JSON is
// accepted for snapshots written before compression was introduced.
func Decode(data []byte, cat *catalog.Catalog, rules game.Rules) (game.State, error) {
	raw, err := unwrap(data)
	if err != nil {
		return game.State{}, err
	}
	if err := checkShape(raw); err != nil {
		return game.State{}, err
	}
	var st game.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return game.State{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := Validate(st, cat, rules); err != nil {
		return game.State{}, err
	}
	if st.Inventory.Pets == nil {
		st.Inventory.Pets = []game.PetInstance{}
	}
	if st.Inventory.Accessories == nil {
		st.Inventory.Accessories = []game.OwnedAccessory{}
	}
	return st, nil
}

func unwrap(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, frameMagic) {
		return data, nil
	}
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCorrupt, err)
	}
	return out, nil
}

// PeekLock reads only the lock flag from a snapshot. It works on snapshots
// that fail Decode, so a lock survives any damage to the rest of the save.
func PeekLock(data []byte) (locked bool, reason string) {
	raw, err := unwrap(data)
	if err != nil {
		return false, ""
	}
	var doc struct {
		Account struct {
			Security struct {
				Locked     bool   `json:"locked"`
				LockReason string `json:"lock_reason"`
			} `json:"security"`
		} `json:"account"`
	}
	if json.Unmarshal(raw, &doc) != nil {
		return false, ""
	}
	return doc.Account.Security.Locked, doc.Account.Security.LockReason
}

var requiredKeys = map[string][]string{
	"":                   {"version", "account", "inventory"},
	"account":            {"id", "currencies", "security"},
	"account.currencies": {"grain", "gromd", "ton", "stars"},
	"inventory":          {"pets"},
}

// checkShape verifies required keys exist before typed decoding fills
// missing fields with zero values.
func checkShape(raw []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	objects := map[string]map[string]json.RawMessage{"": top}
	for _, path := range []string{"account", "account.currencies", "inventory"} {
		parent, key := "", path
		if i := strings.LastIndex(path, "."); i >= 0 {
			parent, key = path[:i], path[i+1:]
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(objects[parent][key], &obj); err != nil || obj == nil {
			return schemaErr(path, "missing or not an object")
		}
		objects[path] = obj
	}
	for path, keys := range requiredKeys {
		for _, k := range keys {
			if _, ok := objects[path][k]; !ok {
				return schemaErr(strings.TrimPrefix(path+"."+k, "."), "required")
			}
		}
	}
	return nil
}

// Validate checks invariants a well-formed snapshot must hold. Currency
// ceilings are left to the integrity audit, which corrects them.
func Validate(st game.State, cat *catalog.Catalog, rules game.Rules) error {
	if st.Version < 1 || st.Version > game.SchemaVersion {
		return schemaErr("version", "unsupported %d", st.Version)
	}
	if strings.TrimSpace(st.Account.ID) == "" {
		return schemaErr("account.id", "empty")
	}

	accessories := make(map[string]string, len(st.Inventory.Accessories))
	for i, a := range st.Inventory.Accessories {
		path := fmt.Sprintf("inventory.accessories[%d]", i)
		if a.ID == "" {
			return schemaErr(path+".id", "empty")
		}
		if _, dup := accessories[a.ID]; dup {
			return schemaErr(path+".id", "duplicate %s", a.ID)
		}
		if _, ok := cat.Accessory(a.AccessoryID); !ok {
			return schemaErr(path+".accessory_id", "unknown accessory %q", a.AccessoryID)
		}
		accessories[a.ID] = a.AccessoryID
	}

	pets := make(map[string]struct{}, len(st.Inventory.Pets))
	worn := make(map[string]string)
	for i, p := range st.Inventory.Pets {
		path := fmt.Sprintf("inventory.pets[%d]", i)
		if p.ID == "" {
			return schemaErr(path+".id", "empty")
		}
		if _, dup := pets[p.ID]; dup {
			return schemaErr(path+".id", "duplicate %s", p.ID)
		}
		pets[p.ID] = struct{}{}
		if _, ok := cat.Species(p.SpeciesID); !ok {
			return schemaErr(path+".species_id", "unknown species %d", p.SpeciesID)
		}
		if p.Level < 1 || p.Level > rules.MaxLevel {
			return schemaErr(path+".level", "%d outside [1,%d]", p.Level, rules.MaxLevel)
		}
		if p.Satiety < 0 || p.Satiety > game.MaxSatiety {
			return schemaErr(path+".satiety", "%d outside [0,%d]", p.Satiety, game.MaxSatiety)
		}
		if p.FeedCount < 0 || p.FeedCount > game.MaxFeedCount {
			return schemaErr(path+".feed_count", "%d outside [0,%d]", p.FeedCount, game.MaxFeedCount)
		}
		if p.ExperienceAccum.IsNegative() || p.GrainCollected.IsNegative() {
			return schemaErr(path, "negative counters")
		}
		for slot, instanceID := range p.AccessorySlots {
			if !slot.Valid() {
				return schemaErr(path+".accessory_slots", "unknown slot %q", slot)
			}
			accID, ok := accessories[instanceID]
			if !ok {
				return schemaErr(path+".accessory_slots", "unknown accessory instance %q", instanceID)
			}
			if acc, _ := cat.Accessory(accID); acc.Slot != slot {
				return schemaErr(path+".accessory_slots", "%s worn in %s slot", accID, slot)
			}
			if other, dup := worn[instanceID]; dup {
				return schemaErr(path+".accessory_slots", "%s already worn by %s", instanceID, other)
			}
			worn[instanceID] = p.ID
		}
	}
	if st.SelectedPetID != "" {
		if _, ok := pets[st.SelectedPetID]; !ok {
			return schemaErr("selected_pet_id", "unknown pet %q", st.SelectedPetID)
		}
	}
	return nil
}
