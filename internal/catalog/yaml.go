package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

type yamlDocument struct {
	Species     []speciesRecord   `yaml:"species"`
	Accessories []accessoryRecord `yaml:"accessories"`
}

type speciesRecord struct {
	ID                 int     `yaml:"id"`
	Name               string  `yaml:"name"`
	Rarity             string  `yaml:"rarity"`
	FarmRate           float64 `yaml:"farm_rate"`
	FeedCost           float64 `yaml:"feed_cost"`
	FeedCostMultiplier float64 `yaml:"feed_cost_multiplier"`
	SatietyPerFeed     int     `yaml:"satiety_per_feed"`
	RewardPerFeed      float64 `yaml:"reward_per_feed"`
	BreedUpgradeChance float64 `yaml:"breed_upgrade_chance"`
}

type accessoryRecord struct {
	ID        string  `yaml:"id"`
	Name      string  `yaml:"name"`
	Slot      string  `yaml:"slot"`
	Rarity    string  `yaml:"rarity"`
	FarmBonus float64 `yaml:"farm_bonus"`
}

// YAMLLoader reads the catalog from a YAML document.
type YAMLLoader struct {
	doc yamlDocument
}

func NewYAMLLoader(data []byte) (*YAMLLoader, error) {
	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}
	return &YAMLLoader{doc: doc}, nil
}

func OpenYAML(path string) (*YAMLLoader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return NewYAMLLoader(data)
}

// DefaultLoader serves the catalog compiled into the binary.
func DefaultLoader() *YAMLLoader {
	l, err := NewYAMLLoader(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return l
}

// LoadDefault is Load over DefaultLoader, or over the file at path when set.
func LoadDefault(ctx context.Context, path string) (*Catalog, error) {
	if path == "" {
		return Load(ctx, DefaultLoader())
	}
	l, err := OpenYAML(path)
	if err != nil {
		return nil, err
	}
	return Load(ctx, l)
}

func (l *YAMLLoader) LoadSpecies(ctx context.Context) ([]Species, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Species, 0, len(l.doc.Species))
	for _, rec := range l.doc.Species {
		rarity, err := ParseRarity(rec.Rarity)
		if err != nil {
			return nil, fmt.Errorf("species %d: %w", rec.ID, err)
		}
		out = append(out, Species{
			ID:                 rec.ID,
			Name:               rec.Name,
			Rarity:             rarity,
			BaseFarmRate:       decimal.NewFromFloat(rec.FarmRate),
			FeedCost:           decimal.NewFromFloat(rec.FeedCost),
			FeedCostMultiplier: decimal.NewFromFloat(rec.FeedCostMultiplier),
			SatietyPerFeed:     rec.SatietyPerFeed,
			RewardPerFeed:      decimal.NewFromFloat(rec.RewardPerFeed),
			BreedUpgradeChance: rec.BreedUpgradeChance,
		})
	}
	return out, nil
}

func (l *YAMLLoader) LoadAccessories(ctx context.Context) ([]Accessory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Accessory, 0, len(l.doc.Accessories))
	for _, rec := range l.doc.Accessories {
		rarity, err := ParseRarity(rec.Rarity)
		if err != nil {
			return nil, fmt.Errorf("accessory %s: %w", rec.ID, err)
		}
		slot, err := ParseSlot(rec.Slot)
		if err != nil {
			return nil, fmt.Errorf("accessory %s: %w", rec.ID, err)
		}
		out = append(out, Accessory{
			ID:        rec.ID,
			Name:      rec.Name,
			Slot:      slot,
			Rarity:    rarity,
			FarmBonus: decimal.NewFromFloat(rec.FarmBonus),
		})
	}
	return out, nil
}
