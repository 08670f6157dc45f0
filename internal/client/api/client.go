// Package api implements the HTTP client for the relay's /v1 surface.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"edgerelay/internal/cryptox"
)

// ErrUnauthorized is returned when the server rejects the stored
// credentials; the caller should re-register.
var ErrUnauthorized = errors.New("unauthorized")

// ErrRejected is returned when the server refuses a sent envelope as
// unauthentic.
var ErrRejected = errors.New("envelope rejected")

type Client struct {
	baseURL    string
	httpClient *http.Client

	clientID string
	apiToken string
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// UseCredentials sets the identity presented on authenticated calls.
func (c *Client) UseCredentials(clientID, apiToken string) {
	c.clientID = clientID
	c.apiToken = apiToken
}

type RegisterResult struct {
	ClientID    string `json:"client_id"`
	APIToken    string `json:"api_token"`
	PersonalKey string `json:"personal_key"`
}

func (c *Client) Register(ctx context.Context, fingerprint, name string) (*RegisterResult, error) {
	body := map[string]string{"fingerprint": fingerprint, "name": name}

	var result RegisterResult
	if err := c.call(ctx, http.MethodPost, "/v1/clients/register", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// WireMessage is one encrypted copy as returned by the poll endpoint.
type WireMessage struct {
	ID           int64     `json:"id"`
	FromClientID *string   `json:"from_client_id,omitempty"`
	Type         string    `json:"type"`
	Ciphertext   string    `json:"ciphertext"`
	Nonce        string    `json:"nonce"`
	Tag          string    `json:"tag"`
	CreatedAt    time.Time `json:"created_at"`
}

// Envelope returns the message's cryptographic envelope.
func (m *WireMessage) Envelope() *cryptox.Envelope {
	return &cryptox.Envelope{Ciphertext: m.Ciphertext, Nonce: m.Nonce, Tag: m.Tag}
}

type PollResult struct {
	Messages            []WireMessage `json:"messages"`
	PollIntervalSeconds int           `json:"poll_interval_seconds"`
}

// Poll fetches the next message window. On an empty mailbox the server
// answers 204 with its advisory interval in the X-Poll-Interval header.
func (c *Client) Poll(ctx context.Context, cursor *int64) (*PollResult, error) {
	path := "/v1/messages/poll"
	if cursor != nil {
		path += "?cursor=" + strconv.FormatInt(*cursor, 10)
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		interval, _ := strconv.Atoi(resp.Header.Get("X-Poll-Interval"))
		return &PollResult{PollIntervalSeconds: interval}, nil
	case http.StatusOK:
		var result PollResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("poll decode error: %w", err)
		}
		return &result, nil
	default:
		return nil, statusError(resp)
	}
}

func (c *Client) Ack(ctx context.Context, lastReceivedID int64) error {
	body := map[string]int64{"last_received_id": lastReceivedID}
	return c.call(ctx, http.MethodPost, "/v1/messages/ack", body, nil)
}

// Send submits a self-addressed envelope. The server stores it only if it
// authenticates under this client's key and the given AAD.
func (c *Client) Send(ctx context.Context, env *cryptox.Envelope, aad json.RawMessage) error {
	body := map[string]any{
		"ciphertext": env.Ciphertext,
		"nonce":      env.Nonce,
		"tag":        env.Tag,
	}
	if len(aad) > 0 {
		body["aad"] = aad
	}
	return c.call(ctx, http.MethodPost, "/v1/messages/send", body, nil)
}

// Ping checks server liveness.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
		req.Header.Set("X-Client-Id", c.clientID)
	}
	return req, nil
}

func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("response decode error: %w", err)
		}
	}
	return nil
}

func statusError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusUnprocessableEntity:
		return ErrRejected
	default:
		return fmt.Errorf("server returned %s", resp.Status)
	}
}
