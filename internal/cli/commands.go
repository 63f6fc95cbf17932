package cli

import (
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"petfarm/internal/syncq"
)

// Builders for the mutating API calls. Each carries a fresh idempotency key
// so a queued copy can be replayed safely.

func newCommand(method, path string, body map[string]any) syncq.Command {
	return syncq.Command{
		Method:         method,
		Path:           path,
		Body:           body,
		IdempotencyKey: uuid.NewString(),
	}
}

func petPath(petID, action string) string {
	return "/v1/pets/" + url.PathEscape(petID) + "/" + action
}

func FeedCommand(petID string) syncq.Command {
	return newCommand(http.MethodPost, petPath(petID, "feed"), nil)
}

func BreedCommand(petID string) syncq.Command {
	return newCommand(http.MethodPost, petPath(petID, "breed"), nil)
}

func SelectCommand(petID string) syncq.Command {
	return newCommand(http.MethodPost, petPath(petID, "select"), nil)
}

func EquipCommand(petID, accessoryID string) syncq.Command {
	return newCommand(http.MethodPost, petPath(petID, "equip"), map[string]any{"accessory_id": accessoryID})
}

func UnequipCommand(petID, slot string) syncq.Command {
	return newCommand(http.MethodPost, petPath(petID, "unequip"), map[string]any{"slot": slot})
}

func ConvertCommand(from, to, amount string) syncq.Command {
	return newCommand(http.MethodPost, "/v1/exchange", map[string]any{"from": from, "to": to, "amount": amount})
}

func SellCommand(itemID, price, currency string) syncq.Command {
	return newCommand(http.MethodPost, "/v1/market/listings", map[string]any{"item_id": itemID, "price": price, "currency": currency})
}

func BuyCommand(listingID, currency string) syncq.Command {
	return newCommand(http.MethodPost, "/v1/market/listings/"+url.PathEscape(listingID)+"/buy", map[string]any{"currency": currency})
}

func CancelListingCommand(listingID string) syncq.Command {
	return newCommand(http.MethodDelete, "/v1/market/listings/"+url.PathEscape(listingID), nil)
}
