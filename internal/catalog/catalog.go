// Package catalog holds the immutable species and accessory reference data.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"lukechampine.com/blake3"
)

type Rarity int

const (
	Common Rarity = iota
	Uncommon
	Rare
	Epic
	Legendary
)

var rarityNames = [...]string{"common", "uncommon", "rare", "epic", "legendary"}

func (r Rarity) String() string {
	if !r.Valid() {
		return fmt.Sprintf("rarity(%d)", int(r))
	}
	return rarityNames[r]
}

func (r Rarity) Valid() bool {
	return r >= Common && r <= Legendary
}

// Next returns the following tier, clamped at Legendary.
func (r Rarity) Next() Rarity {
	if r >= Legendary {
		return Legendary
	}
	return r + 1
}

func ParseRarity(s string) (Rarity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range rarityNames {
		if name == s {
			return Rarity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown rarity %q", s)
}

func (r Rarity) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid rarity %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *Rarity) UnmarshalText(b []byte) error {
	v, err := ParseRarity(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

type Slot string

const (
	SlotHat   Slot = "hat"
	SlotArmor Slot = "armor"
	SlotPants Slot = "pants"
	SlotHand  Slot = "hand"
)

var Slots = []Slot{SlotHat, SlotArmor, SlotPants, SlotHand}

func (s Slot) Valid() bool {
	for _, v := range Slots {
		if v == s {
			return true
		}
	}
	return false
}

func ParseSlot(s string) (Slot, error) {
	slot := Slot(strings.ToLower(strings.TrimSpace(s)))
	if !slot.Valid() {
		return "", fmt.Errorf("unknown slot %q", s)
	}
	return slot, nil
}

type Species struct {
	ID                 int             `json:"id"`
	Name               string          `json:"name"`
	Rarity             Rarity          `json:"rarity"`
	BaseFarmRate       decimal.Decimal `json:"base_farm_rate"`
	FeedCost           decimal.Decimal `json:"feed_cost"`
	FeedCostMultiplier decimal.Decimal `json:"feed_cost_multiplier"`
	SatietyPerFeed     int             `json:"satiety_per_feed"`
	RewardPerFeed      decimal.Decimal `json:"reward_per_feed"`
	BreedUpgradeChance float64         `json:"breed_upgrade_chance"`
}

type Accessory struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Slot      Slot            `json:"slot"`
	Rarity    Rarity          `json:"rarity"`
	FarmBonus decimal.Decimal `json:"farm_bonus"`
}

// Loader supplies the raw catalog. Implementations are read once at startup.
type Loader interface {
	LoadSpecies(ctx context.Context) ([]Species, error)
	LoadAccessories(ctx context.Context) ([]Accessory, error)
}

var (
	ErrNoSpecies    = errors.New("catalog has no species")
	ErrDuplicateID  = errors.New("duplicate catalog id")
	ErrInvalidEntry = errors.New("invalid catalog entry")
)

// Catalog is safe for concurrent use; nothing mutates it after New.
type Catalog struct {
	species      []Species
	speciesIdx   map[int]int
	accessories  []Accessory
	accessoryIdx map[string]int
	lowestByRank map[Rarity]int
}

func Load(ctx context.Context, loader Loader) (*Catalog, error) {
	species, err := loader.LoadSpecies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load species: %w", err)
	}
	accessories, err := loader.LoadAccessories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load accessories: %w", err)
	}
	return New(species, accessories)
}

func New(species []Species, accessories []Accessory) (*Catalog, error) {
	if len(species) == 0 {
		return nil, ErrNoSpecies
	}
	c := &Catalog{
		species:      append([]Species(nil), species...),
		speciesIdx:   make(map[int]int, len(species)),
		accessories:  append([]Accessory(nil), accessories...),
		accessoryIdx: make(map[string]int, len(accessories)),
		lowestByRank: make(map[Rarity]int),
	}
	sort.Slice(c.species, func(i, j int) bool { return c.species[i].ID < c.species[j].ID })
	sort.Slice(c.accessories, func(i, j int) bool { return c.accessories[i].ID < c.accessories[j].ID })

	for i, sp := range c.species {
		if err := validateSpecies(sp); err != nil {
			return nil, err
		}
		if _, dup := c.speciesIdx[sp.ID]; dup {
			return nil, fmt.Errorf("%w: species %d", ErrDuplicateID, sp.ID)
		}
		c.speciesIdx[sp.ID] = i
		if _, ok := c.lowestByRank[sp.Rarity]; !ok {
			c.lowestByRank[sp.Rarity] = i
		}
	}
	for i, acc := range c.accessories {
		if err := validateAccessory(acc); err != nil {
			return nil, err
		}
		if _, dup := c.accessoryIdx[acc.ID]; dup {
			return nil, fmt.Errorf("%w: accessory %s", ErrDuplicateID, acc.ID)
		}
		c.accessoryIdx[acc.ID] = i
	}
	if _, err := c.encode(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) encode() ([]byte, error) {
	raw, err := json.Marshal(struct {
		Species     []Species   `json:"species"`
		Accessories []Accessory `json:"accessories"`
	}{c.species, c.accessories})
	if err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	return raw, nil
}

func validateSpecies(sp Species) error {
	switch {
	case sp.ID <= 0:
		return fmt.Errorf("%w: species id must be > 0", ErrInvalidEntry)
	case !sp.Rarity.Valid():
		return fmt.Errorf("%w: species %d rarity", ErrInvalidEntry, sp.ID)
	case sp.BaseFarmRate.IsNegative(), sp.FeedCost.IsNegative(), sp.RewardPerFeed.IsNegative():
		return fmt.Errorf("%w: species %d has negative amounts", ErrInvalidEntry, sp.ID)
	case !sp.FeedCostMultiplier.IsPositive():
		return fmt.Errorf("%w: species %d feed cost multiplier must be > 0", ErrInvalidEntry, sp.ID)
	case sp.SatietyPerFeed <= 0:
		return fmt.Errorf("%w: species %d satiety per feed must be > 0", ErrInvalidEntry, sp.ID)
	case sp.BreedUpgradeChance < 0 || sp.BreedUpgradeChance > 1:
		return fmt.Errorf("%w: species %d breed chance outside [0,1]", ErrInvalidEntry, sp.ID)
	}
	return nil
}

func validateAccessory(acc Accessory) error {
	switch {
	case strings.TrimSpace(acc.ID) == "":
		return fmt.Errorf("%w: accessory id is required", ErrInvalidEntry)
	case !acc.Slot.Valid():
		return fmt.Errorf("%w: accessory %s slot %q", ErrInvalidEntry, acc.ID, acc.Slot)
	case !acc.Rarity.Valid():
		return fmt.Errorf("%w: accessory %s rarity", ErrInvalidEntry, acc.ID)
	case acc.FarmBonus.IsNegative():
		return fmt.Errorf("%w: accessory %s farm bonus", ErrInvalidEntry, acc.ID)
	}
	return nil
}

func (c *Catalog) Species(id int) (Species, bool) {
	i, ok := c.speciesIdx[id]
	if !ok {
		return Species{}, false
	}
	return c.species[i], true
}

// SpeciesList returns all species ordered by id.
func (c *Catalog) SpeciesList() []Species {
	return append([]Species(nil), c.species...)
}

func (c *Catalog) Accessory(id string) (Accessory, bool) {
	i, ok := c.accessoryIdx[id]
	if !ok {
		return Accessory{}, false
	}
	return c.accessories[i], true
}

func (c *Catalog) Accessories() []Accessory {
	return append([]Accessory(nil), c.accessories...)
}

// LowestOfRarity returns the species with the lowest id at rarity r.
func (c *Catalog) LowestOfRarity(r Rarity) (Species, bool) {
	i, ok := c.lowestByRank[r]
	if !ok {
		return Species{}, false
	}
	return c.species[i], true
}

// Starter is the lowest-rarity species, lowest id first.
func (c *Catalog) Starter() Species {
	for r := Common; r <= Legendary; r++ {
		if sp, ok := c.LowestOfRarity(r); ok {
			return sp
		}
	}
	return c.species[0]
}

// Fingerprint hashes the tables as they are served right now, so a change
// made after load shows up against a baseline taken at startup.
func (c *Catalog) Fingerprint() [32]byte {
	raw, err := c.encode()
	if err != nil {
		// New already encoded these tables once; a failure here means they
		// no longer hold what was loaded.
		return [32]byte{}
	}
	return blake3.Sum256(raw)
}
