package game

import (
	"time"

	"github.com/shopspring/decimal"

	"petfarm/internal/catalog"
)

// Result is what a successful command returns to its caller.
type Result interface {
	Command() string
}

type FeedResult struct {
	PetID         string          `json:"pet_id"`
	Cost          decimal.Decimal `json:"cost"`
	Reward        decimal.Decimal `json:"reward"`
	SatietyGained int             `json:"satiety_gained"`
	Satiety       int             `json:"satiety"`
	LeveledUp     bool            `json:"leveled_up"`
	Level         int             `json:"level"`
}

func (FeedResult) Command() string { return "feed" }

type BreedStartResult struct {
	PetID     string    `json:"pet_id"`
	StartedAt time.Time `json:"started_at"`
	ReadyAt   time.Time `json:"ready_at"`
}

func (BreedStartResult) Command() string { return "breed" }

type BreedResult struct {
	ParentID  string `json:"parent_id"`
	ChildID   string `json:"child_id"`
	SpeciesID int    `json:"species_id"`
	Upgraded  bool   `json:"upgraded"`
}

type EquipResult struct {
	PetID       string       `json:"pet_id"`
	Slot        catalog.Slot `json:"slot"`
	AccessoryID string       `json:"accessory_id"`
	Equipped    bool         `json:"equipped"`
}

func (r EquipResult) Command() string {
	if r.Equipped {
		return "equip"
	}
	return "unequip"
}

type SelectResult struct {
	PetID string `json:"pet_id"`
}

func (SelectResult) Command() string { return "select" }

type ConvertResult struct {
	From     Currency        `json:"from"`
	To       Currency        `json:"to"`
	Spent    decimal.Decimal `json:"spent"`
	Received decimal.Decimal `json:"received"`
	Rate     decimal.Decimal `json:"rate"`
}

func (ConvertResult) Command() string { return "convert" }

type PetAccrual struct {
	PetID string          `json:"pet_id"`
	Gain  decimal.Decimal `json:"gain"`
}

type AccrualResult struct {
	Total decimal.Decimal `json:"total"`
	Pets  []PetAccrual    `json:"pets"`
}

// CurrentState is the read-only view handed to hosts.
type CurrentState struct {
	Account       Account                    `json:"account"`
	Inventory     Inventory                  `json:"inventory"`
	SelectedPetID string                     `json:"selected_pet_id,omitempty"`
	NextFeedCost  map[string]decimal.Decimal `json:"next_feed_cost"`
	FarmRate      map[string]decimal.Decimal `json:"farm_rate"`
	Locked        bool                       `json:"locked"`
	Notice        string                     `json:"notice,omitempty"`
}
