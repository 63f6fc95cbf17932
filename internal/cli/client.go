package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"petfarm/internal/catalog"
	"petfarm/internal/game"
	"petfarm/internal/integrity"
	"petfarm/internal/market"
	"petfarm/internal/session"
	"petfarm/internal/syncq"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Reason  string
	Message string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("api status %d (%s): %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsAPIError reports whether err came back from the server rather than from
// the network.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type CommandResponse struct {
	Command string            `json:"command"`
	Result  json.RawMessage   `json:"result"`
	State   game.CurrentState `json:"state"`
}

type CatalogView struct {
	Species       []catalog.Species   `json:"species"`
	Accessories   []catalog.Accessory `json:"accessories"`
	ExchangeRates []struct {
		From game.Currency `json:"from"`
		To   game.Currency `json:"to"`
		Rate json.Number   `json:"rate"`
	} `json:"exchange_rates"`
	Fingerprint string `json:"fingerprint"`
}

func (c *Client) State(ctx context.Context, accessToken string) (game.CurrentState, error) {
	var out game.CurrentState
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/state", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Catalog(ctx context.Context) (CatalogView, error) {
	var out CatalogView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/catalog", "", nil, &out, "")
	return out, err
}

func (c *Client) Listings(ctx context.Context, accessToken string) ([]market.Listing, error) {
	var out struct {
		Listings []market.Listing `json:"listings"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market/listings", accessToken, nil, &out, "")
	return out.Listings, err
}

func (c *Client) Anomalies(ctx context.Context, accessToken string) ([]integrity.Anomaly, error) {
	var out struct {
		Anomalies []integrity.Anomaly `json:"anomalies"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/anomalies", accessToken, nil, &out, "")
	return out.Anomalies, err
}

func (c *Client) AdminAccounts(ctx context.Context, accessToken string) ([]session.AccountSummary, error) {
	var out struct {
		Accounts []session.AccountSummary `json:"accounts"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/accounts", accessToken, nil, &out, "")
	return out.Accounts, err
}

func (c *Client) AdminAnomalies(ctx context.Context, accessToken, userID string) ([]integrity.Anomaly, error) {
	var out struct {
		Anomalies []integrity.Anomaly `json:"anomalies"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/accounts/"+url.PathEscape(userID)+"/anomalies", accessToken, nil, &out, "")
	return out.Anomalies, err
}

// Send delivers a queued or fresh game command.
func (c *Client) Send(ctx context.Context, accessToken string, cmd syncq.Command) (CommandResponse, error) {
	var out CommandResponse
	var body any
	if cmd.Body != nil {
		body = cmd.Body
	}
	err := c.jsonRequest(ctx, cmd.Method, cmd.Path, accessToken, body, &out, cmd.IdempotencyKey)
	return out, err
}

func (c *Client) Do(ctx context.Context, method, path, accessToken string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	var in any
	if body != nil {
		in = body
	}
	err := c.jsonRequest(ctx, method, path, accessToken, in, &out, idem)
	return out, err
}

// Watch streams state snapshots to fn until ctx ends or the server closes
// the connection.
func (c *Client) Watch(ctx context.Context, accessToken string, fn func(game.CurrentState)) error {
	u, err := url.Parse(c.BaseURL + "/v1/stream")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return &APIError{Status: resp.StatusCode, Message: "stream rejected"}
		}
		return fmt.Errorf("open stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	for {
		var env struct {
			Type    string            `json:"type"`
			Payload game.CurrentState `json:"payload"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		if env.Type == "state" {
			fn(env.Payload)
		}
	}
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Reason = payload.Reason
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
