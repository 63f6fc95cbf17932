package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"petfarm/internal/game"
	"petfarm/internal/session"
)

func (s *Server) handleAdminAccounts(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	accounts, err := s.sessions.Accounts(r.Context(), user.identity())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (s *Server) handleAdminGrant(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	var in struct {
		Currencies  game.Currencies `json:"currencies"`
		Accessories []string        `json:"accessories"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target := chi.URLParam(r, "id")
	balance, err := s.sessions.Grant(r.Context(), user.identity(), target, session.Grant{
		Currencies:  in.Currencies,
		Accessories: in.Accessories,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("admin grant", "admin_id", user.UserID, "target_id", target)
	writeJSON(w, http.StatusOK, map[string]any{"account_id": target, "currencies": balance})
}

func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	target := chi.URLParam(r, "id")
	if err := s.sessions.Reset(r.Context(), user.identity(), target); err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("admin reset", "admin_id", user.UserID, "target_id", target)
	writeJSON(w, http.StatusOK, map[string]any{"account_id": target, "reset": true})
}

func (s *Server) handleAdminLock(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	var in struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &in); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target := chi.URLParam(r, "id")
	if err := s.sessions.Lock(r.Context(), user.identity(), target, strings.TrimSpace(in.Reason)); err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Warn("admin lock", "admin_id", user.UserID, "target_id", target, "reason", in.Reason)
	writeJSON(w, http.StatusOK, map[string]any{"account_id": target, "locked": true})
}

func (s *Server) handleAdminAnomalies(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	entries, err := s.sessions.AccountAnomalies(r.Context(), user.identity(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": entries})
}
