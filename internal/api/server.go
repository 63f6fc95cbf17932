package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"petfarm/internal/auth"
	"petfarm/internal/catalog"
	"petfarm/internal/config"
	"petfarm/internal/game"
	"petfarm/internal/market"
	"petfarm/internal/session"
	"petfarm/internal/store/postgres"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID      string
	DisplayName string
	Token       string
}

func (u UserContext) identity() session.Identity {
	return session.Identity{UserID: u.UserID, DisplayName: u.DisplayName}
}

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	verifier *auth.Verifier
	sessions *session.Registry
	market   *market.Market
	catalog  *catalog.Catalog
	limiter  *ipLimiter
	mux      *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, verifier *auth.Verifier, sessions *session.Registry, mkt *market.Market, cat *catalog.Catalog) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		verifier: verifier,
		sessions: sessions,
		market:   mkt,
		catalog:  cat,
		limiter:  newIPLimiter(cfg.RequestsPerSec, cfg.RequestBurst),
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Sweep drops idle sessions and idle rate limiters.
func (s *Server) Sweep(ctx context.Context) {
	if n := s.sessions.EvictIdle(ctx, s.cfg.SessionIdle); n > 0 {
		s.log.Info("idle sessions closed", "count", n)
	}
	s.limiter.sweep(time.Now(), 10*time.Minute)
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.rateLimitMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/catalog", s.handleCatalog)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			// The stream outlives any request timeout.
			r.Get("/stream", s.handleStream)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(60 * time.Second))
				r.Get("/state", s.handleState)
				r.Get("/anomalies", s.handleAnomalies)

				r.Post("/pets/{id}/feed", s.handleFeed)
				r.Post("/pets/{id}/breed", s.handleBreed)
				r.Post("/pets/{id}/select", s.handleSelect)
				r.Post("/pets/{id}/equip", s.handleEquip)
				r.Post("/pets/{id}/unequip", s.handleUnequip)
				r.Post("/exchange", s.handleExchange)

				r.Get("/market/listings", s.handleListings)
				r.Post("/market/listings", s.handleSell)
				r.Post("/market/listings/{id}/buy", s.handleBuy)
				r.Delete("/market/listings/{id}", s.handleCancelListing)

				r.Route("/admin", func(r chi.Router) {
					r.Use(s.adminMiddleware)
					r.Get("/accounts", s.handleAdminAccounts)
					r.Post("/accounts/{id}/grant", s.handleAdminGrant)
					r.Post("/accounts/{id}/reset", s.handleAdminReset)
					r.Post("/accounts/{id}/lock", s.handleAdminLock)
					r.Get("/accounts/{id}/anomalies", s.handleAdminAnomalies)
				})
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			// Browsers cannot set headers on a websocket upgrade.
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := s.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID:      id.UserID,
			DisplayName: id.DisplayName,
			Token:       token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := userFromContext(r.Context())
		if err != nil || !s.verifier.IsAdmin(user.UserID) {
			writeDomainError(w, game.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

// sessionFor resolves the caller's game session, writing the error response
// itself when it cannot.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return nil, false
	}
	sess, err := s.sessions.Session(r.Context(), user.identity())
	if err != nil {
		s.log.Error("open session failed", "user_id", user.UserID, "err", err)
		writeDomainError(w, err)
		return nil, false
	}
	return sess, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	var rej *game.Rejection
	switch {
	case errors.Is(err, session.ErrUnknownAccount):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error(), "reason": "unknown_account"})
		return
	case errors.Is(err, postgres.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
		return
	case !errors.As(err, &rej):
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusBadRequest
	switch rej.Reason {
	case game.ReasonPetNotFound, game.ReasonItemNotFound, game.ReasonListingNotFound:
		status = http.StatusNotFound
	case game.ReasonLocked:
		status = http.StatusLocked
	case game.ReasonRateLimited:
		status = http.StatusTooManyRequests
	case game.ReasonDuplicateCommand, game.ReasonOwnListing:
		status = http.StatusConflict
	case game.ReasonUnauthorized, game.ReasonNotListingOwner:
		status = http.StatusForbidden
	}
	writeJSON(w, status, map[string]any{"error": rej.Error(), "reason": rej.Reason})
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

// idempotencyKey is empty when the client did not send one; such commands
// are never deduplicated.
func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
