package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"petfarm/internal/catalog"
	"petfarm/internal/game"
	"petfarm/internal/session"
)

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	pairs := make([]map[string]any, 0)
	for pair, rate := range game.ExchangePairs() {
		pairs = append(pairs, map[string]any{"from": pair.From, "to": pair.To, "rate": rate})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"species":        s.catalog.SpeciesList(),
		"accessories":    s.catalog.Accessories(),
		"exchange_rates": pairs,
		"fingerprint":    fmt.Sprintf("%x", s.catalog.Fingerprint()),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": sess.Anomalies()})
}

// execute runs cmd for the caller and writes the command result.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, cmd session.Command) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	res, err := sess.Execute(r.Context(), cmd, idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"command": cmd.Name(),
		"result":  res,
		"state":   sess.State(),
	})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, session.Feed{PetID: chi.URLParam(r, "id")})
}

func (s *Server) handleBreed(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, session.StartBreed{PetID: chi.URLParam(r, "id")})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, session.SelectPet{PetID: chi.URLParam(r, "id")})
}

func (s *Server) handleEquip(w http.ResponseWriter, r *http.Request) {
	var in struct {
		AccessoryID string `json:"accessory_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.execute(w, r, session.Equip{PetID: chi.URLParam(r, "id"), AccessoryID: strings.TrimSpace(in.AccessoryID)})
}

func (s *Server) handleUnequip(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Slot string `json:"slot"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slot, err := catalog.ParseSlot(in.Slot)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.execute(w, r, session.Unequip{PetID: chi.URLParam(r, "id"), Slot: slot})
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var in struct {
		From   string          `json:"from"`
		To     string          `json:"to"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := game.ParseCurrency(in.From)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	to, err := game.ParseCurrency(in.To)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.execute(w, r, session.Convert{From: from, To: to, Amount: in.Amount})
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.market.Listings(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": listings})
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ItemID   string          `json:"item_id"`
		Price    decimal.Decimal `json:"price"`
		Currency string          `json:"currency"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cur, err := game.ParseCurrency(in.Currency)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.execute(w, r, session.SellItem{ItemID: strings.TrimSpace(in.ItemID), Price: in.Price, Currency: cur})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Currency string `json:"currency"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cur, err := game.ParseCurrency(in.Currency)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.execute(w, r, session.BuyListing{ListingID: chi.URLParam(r, "id"), Currency: cur})
}

func (s *Server) handleCancelListing(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, session.CancelListing{ListingID: chi.URLParam(r, "id")})
}
