package game

import (
	crand "crypto/rand"
	"encoding/binary"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"petfarm/internal/catalog"
)

// RandomSource yields values in [0,1).
type RandomSource interface {
	Float64() float64
}

// Engine applies lifecycle and economy rules to a State. It holds no
// account data of its own; callers serialize access to each State.
type Engine struct {
	catalog *catalog.Catalog
	rules   Rules
	newID   func() string

	mu   sync.Mutex
	rand RandomSource
}

func NewEngine(cat *catalog.Catalog, rules Rules, rnd RandomSource) *Engine {
	if rnd == nil {
		rnd = mathrand.New(mathrand.NewSource(newSeed()))
	}
	return &Engine{
		catalog: cat,
		rules:   rules,
		newID:   uuid.NewString,
		rand:    rnd,
	}
}

func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }
func (e *Engine) Rules() Rules              { return e.rules }
func (e *Engine) NewID() string             { return e.newID() }

// NewState builds a fresh account using the engine's catalog.
func (e *Engine) NewState(userID, displayName string, now time.Time) State {
	return NewState(userID, displayName, e.catalog, now, e.newID)
}

func (e *Engine) nextFloat() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rand.Float64()
}

func newSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

// feedCostPlaces bounds the fractional digits carried between squarings.
// Small counts stay exact.
const feedCostPlaces = 32

// FeedCost is floor(feedCost * multiplier^feedCount). The power is taken by
// squaring so the work grows with log(feedCount).
func FeedCost(sp catalog.Species, feedCount int) decimal.Decimal {
	factor := decimal.NewFromInt(1)
	base := sp.FeedCostMultiplier
	for n := max(feedCount, 0); n > 0; n >>= 1 {
		if n&1 == 1 {
			factor = factor.Mul(base).Truncate(feedCostPlaces)
		}
		if n > 1 {
			base = base.Mul(base).Truncate(feedCostPlaces)
		}
	}
	return sp.FeedCost.Mul(factor).Floor()
}

func (e *Engine) Feed(st *State, petID string, now time.Time) (FeedResult, error) {
	pet := st.pet(petID)
	if pet == nil {
		return FeedResult{}, ErrPetNotFound
	}
	if pet.IsBreeding() {
		return FeedResult{}, ErrAlreadyBreeding
	}
	if pet.Satiety >= MaxSatiety {
		return FeedResult{}, ErrSatietyFull
	}
	if pet.FeedCount >= MaxFeedCount {
		return FeedResult{}, reject(ReasonSatietyFull, "pet cannot be fed more than %d times", MaxFeedCount)
	}
	sp, ok := e.catalog.Species(pet.SpeciesID)
	if !ok {
		return FeedResult{}, ErrUnknownSpecies
	}
	cost := FeedCost(sp, pet.FeedCount)
	if st.Account.Currencies.Grain.LessThan(cost) {
		return FeedResult{}, reject(ReasonInsufficientFunds, "feeding costs %s grain, have %s", cost, st.Account.Currencies.Grain)
	}

	before := pet.Satiety
	st.Account.Currencies.Grain = st.Account.Currencies.Grain.Sub(cost)
	pet.Satiety = min(MaxSatiety, pet.Satiety+sp.SatietyPerFeed)
	pet.FeedCount++
	pet.ExperienceAccum = pet.ExperienceAccum.Add(sp.RewardPerFeed)
	st.Account.Currencies.Gromd = st.Account.Currencies.Gromd.Add(sp.RewardPerFeed)

	leveled := false
	threshold := decimal.NewFromInt(int64(pet.Level * 10))
	if pet.ExperienceAccum.GreaterThanOrEqual(threshold) && pet.Level < e.rules.MaxLevel {
		pet.Level++
		leveled = true
	}
	pet.LastFedAt = now

	return FeedResult{
		PetID:         pet.ID,
		Cost:          cost,
		Reward:        sp.RewardPerFeed,
		SatietyGained: pet.Satiety - before,
		Satiety:       pet.Satiety,
		LeveledUp:     leveled,
		Level:         pet.Level,
	}, nil
}

func (e *Engine) StartBreed(st *State, petID string, now time.Time) (BreedStartResult, error) {
	pet := st.pet(petID)
	if pet == nil {
		return BreedStartResult{}, ErrPetNotFound
	}
	if pet.IsBreeding() {
		return BreedStartResult{}, ErrAlreadyBreeding
	}
	if pet.Level < e.rules.MinBreedLevel {
		return BreedStartResult{}, reject(ReasonBelowMinLevel, "breeding needs level %d, pet is level %d", e.rules.MinBreedLevel, pet.Level)
	}
	if pet.Satiety < MaxSatiety {
		return BreedStartResult{}, ErrNotFull
	}

	started := now
	pet.BreedingStartedAt = &started
	pet.Satiety = 0
	return BreedStartResult{
		PetID:     pet.ID,
		StartedAt: started,
		ReadyAt:   started.Add(e.rules.BreedDuration),
	}, nil
}

// ResolveBreeding finishes every breeding whose duration has elapsed.
func (e *Engine) ResolveBreeding(st *State, now time.Time) []BreedResult {
	var out []BreedResult
	n := len(st.Inventory.Pets)
	for i := 0; i < n; i++ {
		parent := &st.Inventory.Pets[i]
		if !parent.IsBreeding() || now.Sub(*parent.BreedingStartedAt) < e.rules.BreedDuration {
			continue
		}
		parentSp, ok := e.catalog.Species(parent.SpeciesID)
		if !ok {
			continue
		}

		rarity := parentSp.Rarity
		if e.nextFloat() < parentSp.BreedUpgradeChance {
			rarity = rarity.Next()
		}
		childSp, ok := e.catalog.LowestOfRarity(rarity)
		if !ok {
			childSp = parentSp
		}

		child := PetInstance{
			ID:              e.newID(),
			SpeciesID:       childSp.ID,
			Level:           1,
			Satiety:         MaxSatiety,
			ExperienceAccum: decimal.Zero,
			GrainCollected:  decimal.Zero,
			LastAccrualAt:   now,
			Origin:          OriginBred,
			CreatedAt:       now,
		}
		parent.BreedingStartedAt = nil
		parent.LastAccrualAt = now
		parentID := parent.ID

		// parent is not used past this point; append may reallocate.
		st.Inventory.Pets = append(st.Inventory.Pets, child)
		out = append(out, BreedResult{
			ParentID:  parentID,
			ChildID:   child.ID,
			SpeciesID: childSp.ID,
			Upgraded:  childSp.Rarity > parentSp.Rarity,
		})
	}
	return out
}

func (e *Engine) Equip(st *State, petID, accessoryInstanceID string) (EquipResult, error) {
	pet := st.pet(petID)
	if pet == nil {
		return EquipResult{}, ErrPetNotFound
	}
	owned, idx := st.ownedAccessory(accessoryInstanceID)
	if idx < 0 {
		return EquipResult{}, ErrItemNotFound
	}
	acc, ok := e.catalog.Accessory(owned.AccessoryID)
	if !ok {
		return EquipResult{}, ErrItemNotFound
	}
	if _, equipped := st.EquippedOn(owned.ID); equipped {
		return EquipResult{}, ErrItemEquipped
	}
	if _, taken := pet.AccessorySlots[acc.Slot]; taken {
		return EquipResult{}, reject(ReasonSlotOccupied, "%s slot already occupied", acc.Slot)
	}

	if pet.AccessorySlots == nil {
		pet.AccessorySlots = make(map[catalog.Slot]string)
	}
	pet.AccessorySlots[acc.Slot] = owned.ID
	return EquipResult{PetID: pet.ID, Slot: acc.Slot, AccessoryID: owned.ID, Equipped: true}, nil
}

func (e *Engine) Unequip(st *State, petID string, slot catalog.Slot) (EquipResult, error) {
	pet := st.pet(petID)
	if pet == nil {
		return EquipResult{}, ErrPetNotFound
	}
	id, ok := pet.AccessorySlots[slot]
	if !ok {
		return EquipResult{}, reject(ReasonSlotEmpty, "%s slot is empty", slot)
	}
	delete(pet.AccessorySlots, slot)
	if len(pet.AccessorySlots) == 0 {
		pet.AccessorySlots = nil
	}
	return EquipResult{PetID: pet.ID, Slot: slot, AccessoryID: id}, nil
}

func (e *Engine) SelectPet(st *State, petID string) (SelectResult, error) {
	if st.pet(petID) == nil {
		return SelectResult{}, ErrPetNotFound
	}
	st.SelectedPetID = petID
	return SelectResult{PetID: petID}, nil
}

// View builds the host-facing snapshot with per-pet derived numbers.
func (e *Engine) View(st State) CurrentState {
	st = st.Clone()
	view := CurrentState{
		Account:       st.Account,
		Inventory:     st.Inventory,
		SelectedPetID: st.SelectedPetID,
		NextFeedCost:  make(map[string]decimal.Decimal, len(st.Inventory.Pets)),
		FarmRate:      make(map[string]decimal.Decimal, len(st.Inventory.Pets)),
		Locked:        st.Account.Security.Locked,
	}
	for _, p := range st.Inventory.Pets {
		sp, ok := e.catalog.Species(p.SpeciesID)
		if !ok {
			continue
		}
		view.NextFeedCost[p.ID] = FeedCost(sp, p.FeedCount)
		view.FarmRate[p.ID] = e.EffectiveFarmRate(st, p)
	}
	return view
}
