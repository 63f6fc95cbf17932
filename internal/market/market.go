// Package market lists escrowed items and settles purchases between accounts
// through the persistence gateway.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"petfarm/internal/game"
	"petfarm/internal/save"
	"petfarm/internal/store"
)

const (
	listingPrefix  = "market/listing/"
	proceedsPrefix = "market/proceeds/"
)

func ListingKey(id string) string { return listingPrefix + id }

func ProceedsPrefix(sellerID string) string { return proceedsPrefix + sellerID + "/" }

func proceedsKey(sellerID, listingID string) string { return ProceedsPrefix(sellerID) + listingID }

type PricePoint struct {
	At    time.Time       `json:"at"`
	Price decimal.Decimal `json:"price"`
}

type Listing struct {
	ID           string                            `json:"id"`
	Item         game.Item                         `json:"item"`
	SellerID     string                            `json:"seller_id"`
	SellerName   string                            `json:"seller_name,omitempty"`
	AskPrice     map[game.Currency]decimal.Decimal `json:"ask_price"`
	PriceHistory []PricePoint                      `json:"price_history"`
	ListedAt     time.Time                         `json:"listed_at"`
}

// Proceeds is a sale credit waiting for the seller to claim it.
type Proceeds struct {
	ListingID string          `json:"listing_id"`
	SellerID  string          `json:"seller_id"`
	BuyerID   string          `json:"buyer_id"`
	Currency  game.Currency   `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	At        time.Time       `json:"at"`
}

type SellInput struct {
	ItemID   string
	Price    decimal.Decimal
	Currency game.Currency
}

type SellResult struct {
	Listing Listing `json:"listing"`
}

func (SellResult) Command() string { return "sell" }

type BuyResult struct {
	ListingID string          `json:"listing_id"`
	ItemID    string          `json:"item_id"`
	Kind      game.ItemKind   `json:"kind"`
	Currency  game.Currency   `json:"currency"`
	Price     decimal.Decimal `json:"price"`
	Balance   decimal.Decimal `json:"balance"`
}

func (BuyResult) Command() string { return "buy" }

type CancelResult struct {
	ListingID string `json:"listing_id"`
	ItemID    string `json:"item_id"`
}

func (CancelResult) Command() string { return "cancel_listing" }

type ClaimResult struct {
	Claimed []Proceeds `json:"claimed"`
}

// Market serializes listing changes across every session in the process.
// Callers hold their own session lock first, then the market lock.
type Market struct {
	gw    store.Gateway
	log   *slog.Logger
	mu    sync.Mutex
	newID func() string
}

func New(gw store.Gateway, logger *slog.Logger) *Market {
	if logger == nil {
		logger = slog.Default()
	}
	return &Market{gw: gw, log: logger, newID: uuid.NewString}
}

func (m *Market) Listings(ctx context.Context) ([]Listing, error) {
	keys, err := m.gw.Enumerate(ctx, listingPrefix)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	out := make([]Listing, 0, len(keys))
	for _, key := range keys {
		l, err := m.load(ctx, strings.TrimPrefix(key, listingPrefix))
		if err != nil {
			m.log.Warn("skip unreadable listing", "key", key, "err", err)
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ListedAt.Equal(out[j].ListedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ListedAt.Before(out[j].ListedAt)
	})
	return out, nil
}

func (m *Market) Listing(ctx context.Context, id string) (Listing, error) {
	return m.load(ctx, id)
}

func (m *Market) load(ctx context.Context, id string) (Listing, error) {
	raw, ok, err := m.gw.Get(ctx, ListingKey(id))
	if err != nil {
		return Listing{}, fmt.Errorf("load listing: %w", err)
	}
	if !ok {
		return Listing{}, game.ErrListingNotFound
	}
	var l Listing
	if err := json.Unmarshal(raw, &l); err != nil {
		return Listing{}, fmt.Errorf("decode listing %s: %w", id, err)
	}
	return l, nil
}

// DerivePrices fills the second market currency at the fixed grain per star
// ratio, rounded half away from zero with a floor of one.
func DerivePrices(price decimal.Decimal, cur game.Currency) (map[game.Currency]decimal.Decimal, error) {
	if !price.IsPositive() || !price.Equal(price.Truncate(0)) {
		return nil, game.ErrInvalidPrice
	}
	ratio := decimal.NewFromInt(game.GrainPerStarListing)
	one := decimal.NewFromInt(1)
	switch cur {
	case game.Grain:
		stars := price.Div(ratio).Round(0)
		if stars.LessThan(one) {
			stars = one
		}
		return map[game.Currency]decimal.Decimal{game.Grain: price, game.Stars: stars}, nil
	case game.Stars:
		return map[game.Currency]decimal.Decimal{game.Grain: price.Mul(ratio), game.Stars: price}, nil
	}
	return nil, game.ErrUnknownCurrency
}

func snapshotPut(b *store.Batch, st game.State, now time.Time) error {
	st.SavedAt = now
	raw, err := save.Encode(st)
	if err != nil {
		return err
	}
	b.Put(save.AccountKey(st.Account.ID), raw)
	return nil
}

// Sell moves an item from st into a new listing. The updated state is
// returned only after the snapshot and the listing were committed together.
func (m *Market) Sell(ctx context.Context, st game.State, in SellInput, now time.Time) (game.State, Listing, error) {
	prices, err := DerivePrices(in.Price, in.Currency)
	if err != nil {
		return st, Listing{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := st.Clone()
	item, err := game.TakeItem(&next, in.ItemID)
	if err != nil {
		return st, Listing{}, err
	}
	listing := Listing{
		ID:           m.newID(),
		Item:         item,
		SellerID:     st.Account.ID,
		SellerName:   st.Account.DisplayName,
		AskPrice:     prices,
		PriceHistory: []PricePoint{{At: now, Price: prices[game.Grain]}},
		ListedAt:     now,
	}
	raw, err := json.Marshal(listing)
	if err != nil {
		return st, Listing{}, fmt.Errorf("encode listing: %w", err)
	}
	b := store.NewBatch().Put(ListingKey(listing.ID), raw)
	if err := snapshotPut(b, next, now); err != nil {
		return st, Listing{}, err
	}
	if err := m.gw.Commit(ctx, b); err != nil {
		return st, Listing{}, fmt.Errorf("commit listing: %w", err)
	}
	next.SavedAt = now
	m.log.Info("item listed", "listing_id", listing.ID, "seller_id", listing.SellerID, "kind", item.Kind, "grain", prices[game.Grain])
	return next, listing, nil
}

// Buy debits the buyer, hands over the escrowed item, removes the listing and
// records the seller's proceeds in one commit. The seller's balance is not
// touched here; the credit lands when the seller's session next runs
// ClaimProceeds, on login or on its proceeds timer.
func (m *Market) Buy(ctx context.Context, st game.State, listingID string, cur game.Currency, now time.Time) (game.State, BuyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing, err := m.load(ctx, listingID)
	if err != nil {
		return st, BuyResult{}, err
	}
	if listing.SellerID == st.Account.ID {
		return st, BuyResult{}, game.ErrOwnListing
	}
	price, ok := listing.AskPrice[cur]
	if !ok {
		return st, BuyResult{}, game.ErrCurrencyNotAccepted
	}
	if st.Account.Currencies.Get(cur).LessThan(price) {
		return st, BuyResult{}, game.ErrInsufficientFunds
	}

	next := st.Clone()
	next.Account.Currencies.Set(cur, next.Account.Currencies.Get(cur).Sub(price))
	item := listing.Item.Clone()
	if item.Pet != nil {
		item.Pet.Origin = game.OriginMarket
	}
	game.ReceiveItem(&next, item, now)

	proceeds := Proceeds{
		ListingID: listing.ID,
		SellerID:  listing.SellerID,
		BuyerID:   st.Account.ID,
		Currency:  cur,
		Amount:    price,
		At:        now,
	}
	rawProceeds, err := json.Marshal(proceeds)
	if err != nil {
		return st, BuyResult{}, fmt.Errorf("encode proceeds: %w", err)
	}
	b := store.NewBatch().
		Delete(ListingKey(listing.ID)).
		Put(proceedsKey(listing.SellerID, listing.ID), rawProceeds)
	if err := snapshotPut(b, next, now); err != nil {
		return st, BuyResult{}, err
	}
	if err := m.gw.Commit(ctx, b); err != nil {
		return st, BuyResult{}, fmt.Errorf("commit purchase: %w", err)
	}
	next.SavedAt = now
	m.log.Info("listing sold", "listing_id", listing.ID, "buyer_id", st.Account.ID, "seller_id", listing.SellerID, "currency", cur, "price", price)
	return next, BuyResult{
		ListingID: listing.ID,
		ItemID:    item.ID(),
		Kind:      item.Kind,
		Currency:  cur,
		Price:     price,
		Balance:   next.Account.Currencies.Get(cur),
	}, nil
}

func (m *Market) Cancel(ctx context.Context, st game.State, listingID string, now time.Time) (game.State, CancelResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing, err := m.load(ctx, listingID)
	if err != nil {
		return st, CancelResult{}, err
	}
	if listing.SellerID != st.Account.ID {
		return st, CancelResult{}, game.ErrNotListingOwner
	}
	next := st.Clone()
	game.ReceiveItem(&next, listing.Item, now)

	b := store.NewBatch().Delete(ListingKey(listing.ID))
	if err := snapshotPut(b, next, now); err != nil {
		return st, CancelResult{}, err
	}
	if err := m.gw.Commit(ctx, b); err != nil {
		return st, CancelResult{}, fmt.Errorf("commit cancel: %w", err)
	}
	next.SavedAt = now
	return next, CancelResult{ListingID: listing.ID, ItemID: listing.Item.ID()}, nil
}

// ClaimProceeds credits every pending sale for the account owning st.
func (m *Market) ClaimProceeds(ctx context.Context, st game.State, now time.Time) (game.State, ClaimResult, error) {
	keys, err := m.gw.Enumerate(ctx, ProceedsPrefix(st.Account.ID))
	if err != nil {
		return st, ClaimResult{}, fmt.Errorf("list proceeds: %w", err)
	}
	if len(keys) == 0 {
		return st, ClaimResult{}, nil
	}

	next := st.Clone()
	var claimed []Proceeds
	b := store.NewBatch()
	for _, key := range keys {
		raw, ok, err := m.gw.Get(ctx, key)
		if err != nil {
			return st, ClaimResult{}, fmt.Errorf("load proceeds: %w", err)
		}
		if !ok {
			continue
		}
		var p Proceeds
		if err := json.Unmarshal(raw, &p); err != nil || !p.Amount.IsPositive() {
			m.log.Warn("dropping malformed proceeds", "key", key, "err", err)
			b.Delete(key)
			continue
		}
		next.Account.Currencies.Add(p.Currency, p.Amount)
		claimed = append(claimed, p)
		b.Delete(key)
	}
	if err := snapshotPut(b, next, now); err != nil {
		return st, ClaimResult{}, err
	}
	if err := m.gw.Commit(ctx, b); err != nil {
		return st, ClaimResult{}, fmt.Errorf("commit proceeds: %w", err)
	}
	next.SavedAt = now
	return next, ClaimResult{Claimed: claimed}, nil
}
