package game

import "fmt"

type Reason string

const (
	ReasonInsufficientFunds   Reason = "insufficient_funds"
	ReasonSatietyFull         Reason = "satiety_full"
	ReasonAlreadyBreeding     Reason = "already_breeding"
	ReasonBelowMinLevel       Reason = "below_min_level"
	ReasonNotFull             Reason = "not_full"
	ReasonUnsupportedPair     Reason = "unsupported_pair"
	ReasonInvalidAmount       Reason = "invalid_amount"
	ReasonUnknownCurrency     Reason = "unknown_currency"
	ReasonUnknownSpecies      Reason = "unknown_species"
	ReasonPetNotFound         Reason = "pet_not_found"
	ReasonItemNotFound        Reason = "item_not_found"
	ReasonItemEquipped        Reason = "item_equipped"
	ReasonSlotOccupied        Reason = "slot_occupied"
	ReasonSlotEmpty           Reason = "slot_empty"
	ReasonListingNotFound     Reason = "listing_not_found"
	ReasonOwnListing          Reason = "own_listing"
	ReasonNotListingOwner     Reason = "not_listing_owner"
	ReasonCurrencyNotAccepted Reason = "currency_not_accepted"
	ReasonInvalidPrice        Reason = "invalid_price"
	ReasonRateLimited         Reason = "rate_limited"
	ReasonLocked              Reason = "locked"
	ReasonDuplicateCommand    Reason = "duplicate_command"
	ReasonUnauthorized        Reason = "unauthorized"
)

// Rejection is a precondition failure. The state it was checked against is
// left untouched.
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string {
	if r.Message == "" {
		return string(r.Reason)
	}
	return r.Message
}

// Is matches any Rejection with the same Reason, so callers can compare
// against the sentinels below with errors.Is.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Reason == r.Reason
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrInsufficientFunds   = &Rejection{Reason: ReasonInsufficientFunds, Message: "insufficient funds"}
	ErrSatietyFull         = &Rejection{Reason: ReasonSatietyFull, Message: "pet is already full"}
	ErrAlreadyBreeding     = &Rejection{Reason: ReasonAlreadyBreeding, Message: "pet is breeding"}
	ErrBelowMinLevel       = &Rejection{Reason: ReasonBelowMinLevel, Message: "pet level too low to breed"}
	ErrNotFull             = &Rejection{Reason: ReasonNotFull, Message: "pet must be fully fed to breed"}
	ErrUnsupportedPair     = &Rejection{Reason: ReasonUnsupportedPair, Message: "exchange pair not supported"}
	ErrInvalidAmount       = &Rejection{Reason: ReasonInvalidAmount, Message: "amount must be > 0"}
	ErrUnknownCurrency     = &Rejection{Reason: ReasonUnknownCurrency, Message: "unknown currency"}
	ErrUnknownSpecies      = &Rejection{Reason: ReasonUnknownSpecies, Message: "unknown species"}
	ErrPetNotFound         = &Rejection{Reason: ReasonPetNotFound, Message: "pet not found"}
	ErrItemNotFound        = &Rejection{Reason: ReasonItemNotFound, Message: "item not found"}
	ErrItemEquipped        = &Rejection{Reason: ReasonItemEquipped, Message: "accessory is equipped"}
	ErrSlotOccupied        = &Rejection{Reason: ReasonSlotOccupied, Message: "slot already occupied"}
	ErrSlotEmpty           = &Rejection{Reason: ReasonSlotEmpty, Message: "slot is empty"}
	ErrListingNotFound     = &Rejection{Reason: ReasonListingNotFound, Message: "listing not found"}
	ErrOwnListing          = &Rejection{Reason: ReasonOwnListing, Message: "cannot buy your own listing"}
	ErrNotListingOwner     = &Rejection{Reason: ReasonNotListingOwner, Message: "listing belongs to another player"}
	ErrCurrencyNotAccepted = &Rejection{Reason: ReasonCurrencyNotAccepted, Message: "listing does not accept that currency"}
	ErrInvalidPrice        = &Rejection{Reason: ReasonInvalidPrice, Message: "price must be a positive whole number"}
	ErrRateLimited         = &Rejection{Reason: ReasonRateLimited, Message: "too many actions, slow down"}
	ErrLocked              = &Rejection{Reason: ReasonLocked, Message: "account is locked"}
	ErrDuplicateCommand    = &Rejection{Reason: ReasonDuplicateCommand, Message: "command already applied"}
	ErrUnauthorized        = &Rejection{Reason: ReasonUnauthorized, Message: "unauthorized"}
)
