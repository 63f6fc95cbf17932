package game

import "time"

type ItemKind string

const (
	ItemPet       ItemKind = "pet"
	ItemAccessory ItemKind = "accessory"
)

// Item is a tradeable inventory entry held in escrow by a listing.
type Item struct {
	Kind      ItemKind        `json:"kind"`
	Pet       *PetInstance    `json:"pet,omitempty"`
	Accessory *OwnedAccessory `json:"accessory,omitempty"`
}

func (i Item) ID() string {
	switch {
	case i.Pet != nil:
		return i.Pet.ID
	case i.Accessory != nil:
		return i.Accessory.ID
	}
	return ""
}

func (i Item) Clone() Item {
	out := Item{Kind: i.Kind}
	if i.Pet != nil {
		p := i.Pet.Clone()
		out.Pet = &p
	}
	if i.Accessory != nil {
		a := *i.Accessory
		out.Accessory = &a
	}
	return out
}

// TakeItem removes a pet or accessory instance from the inventory. Breeding
// pets and equipped accessories cannot be taken. A pet gives up whatever it
// wears; those accessories stay in the inventory.
func TakeItem(st *State, itemID string) (Item, error) {
	for i := range st.Inventory.Pets {
		p := st.Inventory.Pets[i]
		if p.ID != itemID {
			continue
		}
		if p.IsBreeding() {
			return Item{}, ErrAlreadyBreeding
		}
		taken := p.Clone()
		taken.AccessorySlots = nil
		st.Inventory.Pets = append(st.Inventory.Pets[:i:i], st.Inventory.Pets[i+1:]...)
		if st.SelectedPetID == itemID {
			st.SelectedPetID = ""
		}
		return Item{Kind: ItemPet, Pet: &taken}, nil
	}

	owned, idx := st.ownedAccessory(itemID)
	if idx < 0 {
		return Item{}, ErrItemNotFound
	}
	if _, equipped := st.EquippedOn(itemID); equipped {
		return Item{}, ErrItemEquipped
	}
	st.Inventory.Accessories = append(st.Inventory.Accessories[:idx:idx], st.Inventory.Accessories[idx+1:]...)
	return Item{Kind: ItemAccessory, Accessory: &owned}, nil
}

// ReceiveItem adds an item to the inventory. A pet starts accruing from now.
func ReceiveItem(st *State, item Item, now time.Time) {
	item = item.Clone()
	switch {
	case item.Pet != nil:
		item.Pet.LastAccrualAt = now
		item.Pet.AccessorySlots = nil
		st.Inventory.Pets = append(st.Inventory.Pets, *item.Pet)
	case item.Accessory != nil:
		st.Inventory.Accessories = append(st.Inventory.Accessories, *item.Accessory)
	}
}

// GrantAccessory gives the account a new instance of a catalog accessory.
func (e *Engine) GrantAccessory(st *State, accessoryID string, now time.Time) (OwnedAccessory, error) {
	if _, ok := e.catalog.Accessory(accessoryID); !ok {
		return OwnedAccessory{}, ErrItemNotFound
	}
	owned := OwnedAccessory{ID: e.newID(), AccessoryID: accessoryID, AcquiredAt: now}
	st.Inventory.Accessories = append(st.Inventory.Accessories, owned)
	return owned, nil
}
