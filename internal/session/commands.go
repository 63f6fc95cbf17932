package session

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"petfarm/internal/catalog"
	"petfarm/internal/game"
	"petfarm/internal/market"
)

// Command is one mutating player action.
type Command interface {
	Name() string
	apply(ctx context.Context, s *Session, now time.Time) (game.Result, error)
}

type Feed struct{ PetID string }

type StartBreed struct{ PetID string }

type Convert struct {
	From   game.Currency
	To     game.Currency
	Amount decimal.Decimal
}

type BuyListing struct {
	ListingID string
	Currency  game.Currency
}

type SellItem struct {
	ItemID   string
	Price    decimal.Decimal
	Currency game.Currency
}

type Equip struct {
	PetID       string
	AccessoryID string
}

type Unequip struct {
	PetID string
	Slot  catalog.Slot
}

type CancelListing struct{ ListingID string }

type SelectPet struct{ PetID string }

func (Feed) Name() string          { return "feed" }
func (StartBreed) Name() string    { return "breed" }
func (Convert) Name() string       { return "convert" }
func (BuyListing) Name() string    { return "buy" }
func (SellItem) Name() string      { return "sell" }
func (Equip) Name() string         { return "equip" }
func (Unequip) Name() string       { return "unequip" }
func (CancelListing) Name() string { return "cancel_listing" }
func (SelectPet) Name() string     { return "select" }

// mutate runs fn against a copy and keeps the copy only if fn succeeds.
func (s *Session) mutate(fn func(st *game.State) (game.Result, error)) (game.Result, error) {
	next := s.state.Clone()
	res, err := fn(&next)
	if err != nil {
		return nil, err
	}
	s.state = next
	return res, nil
}

func (c Feed) apply(_ context.Context, s *Session, now time.Time) (game.Result, error) {
	return s.mutate(func(st *game.State) (game.Result, error) {
		return s.deps.Engine.Feed(st, c.PetID, now)
	})
}

func (c StartBreed) apply(_ context.Context, s *Session, now time.Time) (game.Result, error) {
	return s.mutate(func(st *game.State) (game.Result, error) {
		return s.deps.Engine.StartBreed(st, c.PetID, now)
	})
}

func (c Convert) apply(_ context.Context, s *Session, _ time.Time) (game.Result, error) {
	return s.mutate(func(st *game.State) (game.Result, error) {
		return s.deps.Engine.Convert(st, c.From, c.To, c.Amount)
	})
}

func (c Equip) apply(_ context.Context, s *Session, _ time.Time) (game.Result, error) {
	return s.mutate(func(st *game.State) (game.Result, error) {
		return s.deps.Engine.Equip(st, c.PetID, c.AccessoryID)
	})
}

func (c Unequip) apply(_ context.Context, s *Session, _ time.Time) (game.Result, error) {
	return s.mutate(func(st *game.State) (game.Result, error) {
		return s.deps.Engine.Unequip(st, c.PetID, c.Slot)
	})
}

func (c SelectPet) apply(_ context.Context, s *Session, _ time.Time) (game.Result, error) {
	return s.mutate(func(st *game.State) (game.Result, error) {
		return s.deps.Engine.SelectPet(st, c.PetID)
	})
}

func (c BuyListing) apply(ctx context.Context, s *Session, now time.Time) (game.Result, error) {
	next, res, err := s.deps.Market.Buy(ctx, s.state, c.ListingID, c.Currency, now)
	if err != nil {
		return nil, err
	}
	s.state = next
	return res, nil
}

func (c SellItem) apply(ctx context.Context, s *Session, now time.Time) (game.Result, error) {
	next, listing, err := s.deps.Market.Sell(ctx, s.state, market.SellInput{
		ItemID:   c.ItemID,
		Price:    c.Price,
		Currency: c.Currency,
	}, now)
	if err != nil {
		return nil, err
	}
	s.state = next
	return market.SellResult{Listing: listing}, nil
}

func (c CancelListing) apply(ctx context.Context, s *Session, now time.Time) (game.Result, error) {
	next, res, err := s.deps.Market.Cancel(ctx, s.state, c.ListingID, now)
	if err != nil {
		return nil, err
	}
	s.state = next
	return res, nil
}

// Execute runs cmd inside the session's critical section. A non-empty key
// that was already applied is rejected as a duplicate. The snapshot is
// written last; a failed write is retried by autosave.
func (s *Session) Execute(ctx context.Context, cmd Command, key string) (game.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	now := s.deps.Clock.Now()
	s.lastSeen = now

	if s.monitor.Locked() {
		return nil, game.ErrLocked
	}
	if key != "" && s.state.SeenKey(key) {
		return nil, game.ErrDuplicateCommand
	}
	if err := s.monitor.AdmitAction(ctx, &s.state, now); err != nil {
		return nil, err
	}

	res, err := cmd.apply(ctx, s, now)
	if err != nil {
		s.log.Debug("command rejected", "command", cmd.Name(), "err", err)
		return nil, err
	}
	if key != "" {
		s.state.RememberKey(key)
	}
	s.persist(ctx, now)
	return res, nil
}
