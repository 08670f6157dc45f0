package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Operator is the HTTP client for the privileged endpoints. It presents a
// minted operator or publisher token instead of per-client credentials.
type Operator struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewOperator(baseURL, token string) *Operator {
	return &Operator{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type ClientStatus struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	LastSeenAt          *time.Time `json:"last_seen_at,omitempty"`
	Status              string     `json:"status"`
	LastPolledAt        *time.Time `json:"last_polled_at,omitempty"`
	NextPollAt          *time.Time `json:"next_poll_at,omitempty"`
	PollIntervalSeconds int        `json:"poll_interval_seconds"`
}

func (o *Operator) ListClients(ctx context.Context) ([]ClientStatus, error) {
	var out struct {
		Clients []ClientStatus `json:"clients"`
	}
	if err := o.get(ctx, "/v1/operators/clients", &out); err != nil {
		return nil, err
	}
	return out.Clients, nil
}

type DecryptedMessage struct {
	ID           int64           `json:"id"`
	Type         string          `json:"type"`
	FromClientID *string         `json:"from_client_id,omitempty"`
	ToClientID   string          `json:"to_client_id"`
	CreatedAt    time.Time       `json:"created_at"`
	Payload      json.RawMessage `json:"payload"`
}

func (o *Operator) ClientMessages(ctx context.Context, clientID string, cursor *int64) ([]DecryptedMessage, error) {
	path := "/v1/operators/clients/" + clientID + "/messages"
	if cursor != nil {
		path += "?cursor=" + strconv.FormatInt(*cursor, 10)
	}

	var out struct {
		Messages []DecryptedMessage `json:"messages"`
	}
	if err := o.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// Publish queues a message for the given recipients and returns the accepted
// recipient count.
func (o *Operator) Publish(ctx context.Context, toClientIDs []string, msgType string, payload json.RawMessage) (int, error) {
	body, err := json.Marshal(map[string]any{
		"to_client_ids": toClientIDs,
		"type":          msgType,
		"payload":       payload,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/messages/publish", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.token)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return 0, fmt.Errorf("server returned %s", resp.Status)
	}

	var out struct {
		Queued int `json:"queued"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Queued, nil
}

func (o *Operator) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.token)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
