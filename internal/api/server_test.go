package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petfarm/internal/auth"
	"petfarm/internal/catalog"
	"petfarm/internal/config"
	"petfarm/internal/game"
	"petfarm/internal/market"
	"petfarm/internal/session"
	"petfarm/internal/store"
)

type testServer struct {
	srv      *Server
	verifier *auth.Verifier
}

func newTestServer(t *testing.T, mutate func(*config.APIConfig)) *testServer {
	t.Helper()
	cat, err := catalog.LoadDefault(context.Background(), "")
	require.NoError(t, err)
	cfg := config.APIConfig{
		RequestsPerSec: 1000,
		RequestBurst:   1000,
		StreamEvery:    20 * time.Millisecond,
		SessionIdle:    time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	verifier, err := auth.NewVerifier("test-secret", []string{"admin"})
	require.NoError(t, err)

	gw := store.NewMemory()
	mkt := market.New(gw, nil)
	reg, err := session.NewRegistry(session.Deps{
		Gateway:  gw,
		Engine:   game.NewEngine(cat, game.DefaultRules(), nil),
		Market:   mkt,
		Baseline: cat.Fingerprint(),
		IsAdmin:  verifier.IsAdmin,
	})
	require.NoError(t, err)
	t.Cleanup(func() { reg.CloseAll(context.Background()) })

	return &testServer{srv: New(cfg, nil, verifier, reg, mkt, cat), verifier: verifier}
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := ts.verifier.Issue(userID, "Player "+userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, userID string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, userID))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

type commandResponse struct {
	Command string            `json:"command"`
	Result  json.RawMessage   `json:"result"`
	State   game.CurrentState `json:"state"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ts *testServer) state(t *testing.T, userID string) game.CurrentState {
	t.Helper()
	rec := ts.do(t, http.MethodGet, "/v1/state", userID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[game.CurrentState](t, rec)
}

func TestHealthAndAuth(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/state", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/state", "", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/catalog", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Fire Dragon")
}

func TestStateAndFeed(t *testing.T) {
	ts := newTestServer(t, nil)
	st := ts.state(t, "u1")
	assert.True(t, st.Account.Currencies.Grain.Equal(decimal.NewFromInt(100)))
	require.Len(t, st.Inventory.Pets, 1)
	petID := st.Inventory.Pets[0].ID

	headers := map[string]string{"Idempotency-Key": "feed-1"}
	rec := ts.do(t, http.MethodPost, "/v1/pets/"+petID+"/feed", "u1", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[commandResponse](t, rec)
	assert.Equal(t, "feed", out.Command)
	var feed game.FeedResult
	require.NoError(t, json.Unmarshal(out.Result, &feed))
	assert.Equal(t, 40, feed.Satiety)
	assert.True(t, out.State.Account.Currencies.Grain.Equal(decimal.NewFromInt(90)))

	rec = ts.do(t, http.MethodPost, "/v1/pets/"+petID+"/feed", "u1", nil, headers)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_command", decode[errorResponse](t, rec).Reason)

	rec = ts.do(t, http.MethodPost, "/v1/pets/ghost/feed", "u1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "pet_not_found", decode[errorResponse](t, rec).Reason)

	rec = ts.do(t, http.MethodPost, "/v1/pets/"+petID+"/breed", "u1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "below_min_level", decode[errorResponse](t, rec).Reason)
}

func TestExchange(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/exchange", "u1", map[string]any{"from": "stars", "to": "grain", "amount": "10"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[commandResponse](t, rec)
	assert.True(t, out.State.Account.Currencies.Grain.Equal(decimal.NewFromInt(150)))
	assert.True(t, out.State.Account.Currencies.Stars.IsZero())

	rec = ts.do(t, http.MethodPost, "/v1/exchange", "u1", map[string]any{"from": "grain", "to": "stars", "amount": "10"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported_pair", decode[errorResponse](t, rec).Reason)

	rec = ts.do(t, http.MethodPost, "/v1/exchange", "u1", map[string]any{"from": "gold", "to": "grain", "amount": "1"}, nil)
	assert.Equal(t, "unknown_currency", decode[errorResponse](t, rec).Reason)

	rec = ts.do(t, http.MethodPost, "/v1/exchange", "u1", map[string]any{"from": "stars", "to": "grain", "amount": "1", "extra": true}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarketFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	petID := ts.state(t, "seller").Inventory.Pets[0].ID

	rec := ts.do(t, http.MethodPost, "/v1/market/listings", "seller", map[string]any{"item_id": petID, "price": 40, "currency": "grain"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sold market.SellResult
	require.NoError(t, json.Unmarshal(decode[commandResponse](t, rec).Result, &sold))
	assert.True(t, sold.Listing.AskPrice[game.Stars].Equal(decimal.NewFromInt(2)))

	rec = ts.do(t, http.MethodGet, "/v1/market/listings", "buyer", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listings := decode[struct {
		Listings []market.Listing `json:"listings"`
	}](t, rec)
	require.Len(t, listings.Listings, 1)

	path := "/v1/market/listings/" + sold.Listing.ID
	rec = ts.do(t, http.MethodPost, path+"/buy", "seller", map[string]any{"currency": "grain"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = ts.do(t, http.MethodDelete, path, "buyer", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, path+"/buy", "buyer", map[string]any{"currency": "grain"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[commandResponse](t, rec)
	assert.Len(t, out.State.Inventory.Pets, 2)

	rec = ts.do(t, http.MethodPost, path+"/buy", "buyer", map[string]any{"currency": "grain"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.state(t, "u1")

	rec := ts.do(t, http.MethodGet, "/v1/admin/accounts", "u1", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/admin/accounts/u1/grant", "admin", map[string]any{
		"currencies":  map[string]any{"grain": "25"},
		"accessories": []string{"5.1"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := ts.state(t, "u1")
	assert.True(t, st.Account.Currencies.Grain.Equal(decimal.NewFromInt(125)))
	assert.Len(t, st.Inventory.Accessories, 1)

	rec = ts.do(t, http.MethodPost, "/v1/admin/accounts/ghost/reset", "admin", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/admin/accounts/u1/lock", "admin", map[string]any{"reason": "botting"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	st = ts.state(t, "u1")
	assert.True(t, st.Locked)
	assert.Contains(t, st.Notice, "botting")
	rec = ts.do(t, http.MethodPost, "/v1/exchange", "u1", map[string]any{"from": "stars", "to": "grain", "amount": "1"}, nil)
	assert.Equal(t, http.StatusLocked, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/admin/accounts", "admin", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"u1"`)

	rec = ts.do(t, http.MethodGet, "/v1/admin/accounts/u1/anomalies", "admin", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *config.APIConfig) {
		c.RequestsPerSec = 0.001
		c.RequestBurst = 2
	})
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", "", nil, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", "", nil, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(t, http.MethodGet, "/healthz", "", nil, nil).Code)
}

func TestStreamPushesState(t *testing.T) {
	ts := newTestServer(t, nil)
	httpSrv := httptest.NewServer(ts.srv.Handler())
	defer httpSrv.Close()

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/v1/stream"
	header := http.Header{"Authorization": []string{"Bearer " + ts.token(t, "u1")}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var env struct {
			Type    string            `json:"type"`
			Payload game.CurrentState `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&env))
		assert.Equal(t, "state", env.Type)
		assert.Len(t, env.Payload.Inventory.Pets, 1)
	}
}
