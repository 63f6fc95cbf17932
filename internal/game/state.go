package game

import (
	"time"

	"github.com/shopspring/decimal"

	"petfarm/internal/catalog"
)

const SchemaVersion = 1

type Origin string

const (
	OriginStarter Origin = "starter"
	OriginBred    Origin = "bred"
	OriginMarket  Origin = "market"
)

type Security struct {
	LastActionAt time.Time `json:"last_action_at"`
	ActionCount  int       `json:"action_count"`
	Locked       bool      `json:"locked"`
	LockReason   string    `json:"lock_reason,omitempty"`
}

type Account struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Currencies  Currencies `json:"currencies"`
	IsAdmin     bool       `json:"is_admin"`
	CreatedAt   time.Time  `json:"created_at"`
	Security    Security   `json:"security"`
}

// PetInstance is Idle while BreedingStartedAt is nil and Breeding otherwise.
type PetInstance struct {
	ID                string                  `json:"id"`
	SpeciesID         int                     `json:"species_id"`
	Level             int                     `json:"level"`
	Satiety           int                     `json:"satiety"`
	ExperienceAccum   decimal.Decimal         `json:"experience_accum"`
	FeedCount         int                     `json:"feed_count"`
	AccessorySlots    map[catalog.Slot]string `json:"accessory_slots,omitempty"`
	BreedingStartedAt *time.Time              `json:"breeding_started_at,omitempty"`
	LastFedAt         time.Time               `json:"last_fed_at"`
	LastAccrualAt     time.Time               `json:"last_accrual_at"`
	GrainCollected    decimal.Decimal         `json:"grain_collected"`
	Origin            Origin                  `json:"origin"`
	CreatedAt         time.Time               `json:"created_at"`
}

func (p PetInstance) IsBreeding() bool {
	return p.BreedingStartedAt != nil
}

func (p PetInstance) Clone() PetInstance {
	out := p
	if p.AccessorySlots != nil {
		out.AccessorySlots = make(map[catalog.Slot]string, len(p.AccessorySlots))
		for k, v := range p.AccessorySlots {
			out.AccessorySlots[k] = v
		}
	}
	if p.BreedingStartedAt != nil {
		at := *p.BreedingStartedAt
		out.BreedingStartedAt = &at
	}
	return out
}

type OwnedAccessory struct {
	ID          string    `json:"id"`
	AccessoryID string    `json:"accessory_id"`
	AcquiredAt  time.Time `json:"acquired_at"`
}

type Inventory struct {
	Pets        []PetInstance    `json:"pets"`
	Accessories []OwnedAccessory `json:"accessories"`
}

// State is the whole persisted graph of one account.
type State struct {
	Version       int       `json:"version"`
	Account       Account   `json:"account"`
	Inventory     Inventory `json:"inventory"`
	SelectedPetID string    `json:"selected_pet_id,omitempty"`
	RecentKeys    []string  `json:"recent_keys,omitempty"`
	SavedAt       time.Time `json:"saved_at"`
}

// NewState builds a fresh account holding the starter pet.
func NewState(userID, displayName string, cat *catalog.Catalog, now time.Time, newID func() string) State {
	starter := cat.Starter()
	pet := PetInstance{
		ID:              newID(),
		SpeciesID:       starter.ID,
		Level:           1,
		Satiety:         0,
		ExperienceAccum: decimal.Zero,
		GrainCollected:  decimal.Zero,
		LastAccrualAt:   now,
		Origin:          OriginStarter,
		CreatedAt:       now,
	}
	return State{
		Version: SchemaVersion,
		Account: Account{
			ID:          userID,
			DisplayName: displayName,
			Currencies: Currencies{
				Grain: decimal.NewFromInt(StarterGrain),
				Gromd: decimal.Zero,
				Ton:   decimal.Zero,
				Stars: decimal.NewFromInt(StarterStars),
			},
			CreatedAt: now,
		},
		Inventory: Inventory{
			Pets:        []PetInstance{pet},
			Accessories: []OwnedAccessory{},
		},
		SelectedPetID: pet.ID,
	}
}

func (s State) Clone() State {
	out := s
	out.Inventory.Pets = make([]PetInstance, len(s.Inventory.Pets))
	for i, p := range s.Inventory.Pets {
		out.Inventory.Pets[i] = p.Clone()
	}
	out.Inventory.Accessories = append([]OwnedAccessory{}, s.Inventory.Accessories...)
	out.RecentKeys = append([]string(nil), s.RecentKeys...)
	return out
}

func (s State) Pet(id string) (PetInstance, bool) {
	for _, p := range s.Inventory.Pets {
		if p.ID == id {
			return p.Clone(), true
		}
	}
	return PetInstance{}, false
}

func (s *State) pet(id string) *PetInstance {
	for i := range s.Inventory.Pets {
		if s.Inventory.Pets[i].ID == id {
			return &s.Inventory.Pets[i]
		}
	}
	return nil
}

func (s *State) ownedAccessory(id string) (OwnedAccessory, int) {
	for i, a := range s.Inventory.Accessories {
		if a.ID == id {
			return a, i
		}
	}
	return OwnedAccessory{}, -1
}

// EquippedOn reports which pet wears the accessory instance, if any.
func (s State) EquippedOn(accessoryInstanceID string) (string, bool) {
	for _, p := range s.Inventory.Pets {
		for _, id := range p.AccessorySlots {
			if id == accessoryInstanceID {
				return p.ID, true
			}
		}
	}
	return "", false
}

func (s State) SeenKey(key string) bool {
	for _, k := range s.RecentKeys {
		if k == key {
			return true
		}
	}
	return false
}

func (s *State) RememberKey(key string) {
	if key == "" || s.SeenKey(key) {
		return
	}
	s.RecentKeys = append(s.RecentKeys, key)
	if over := len(s.RecentKeys) - recentKeyLimit; over > 0 {
		s.RecentKeys = append([]string(nil), s.RecentKeys[over:]...)
	}
}

// Purge empties a locked account. The record itself stays so the lock
// survives a reload.
func (s *State) Purge(reason string) {
	s.Account.Currencies = Currencies{Grain: decimal.Zero, Gromd: decimal.Zero, Ton: decimal.Zero, Stars: decimal.Zero}
	s.Inventory = Inventory{Pets: []PetInstance{}, Accessories: []OwnedAccessory{}}
	s.SelectedPetID = ""
	s.Account.Security.Locked = true
	s.Account.Security.LockReason = reason
}
