// Package polling implements the edge client's receive loop: poll the relay,
// decrypt and hand off each message, acknowledge the batch, and pace the
// next poll from the server's advisory interval.
package polling

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"edgerelay/internal/client/api"
	"edgerelay/internal/client/identity"
	"edgerelay/internal/cryptox"
	"edgerelay/internal/logging"
)

// IncomingMessage is one decrypted message handed to the Handler.
type IncomingMessage struct {
	ID           int64
	Type         string
	FromClientID *string
	CreatedAt    time.Time
	Payload      json.RawMessage
}

// Handler processes one decrypted message. A handler error stops the batch
// before the failed message is acknowledged, so it is redelivered next poll.
type Handler func(ctx context.Context, msg *IncomingMessage) error

// sealedBody matches the plaintext structure the relay seals per recipient.
type sealedBody struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	TS      string          `json:"ts"`
}

type Poller struct {
	client  *api.Client
	creds   *identity.Credentials
	key     []byte
	handler Handler

	minInterval time.Duration
	step        time.Duration
	maxInterval time.Duration

	logger logging.Logger
}

func New(client *api.Client, creds *identity.Credentials, handler Handler,
	minInterval, step, maxInterval time.Duration, logger logging.Logger) (*Poller, error) {

	key, err := creds.Key()
	if err != nil {
		return nil, err
	}

	return &Poller{
		client:      client,
		creds:       creds,
		key:         key,
		handler:     handler,
		minInterval: minInterval,
		step:        step,
		maxInterval: maxInterval,
		logger:      logger.With("module", "poller"),
	}, nil
}

// Run polls until ctx is cancelled. The server's advisory interval paces the
// loop, clamped to the locally configured bounds; transport errors fall back
// to a local step-up backoff.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.minInterval

	for {
		next, err := p.pollOnce(ctx)
		if err != nil {
			p.logger.Warn(ctx, "poll failed", "error", err.Error())
			interval = p.clamp(interval + p.step)
		} else {
			interval = p.clamp(next)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// pollOnce fetches one window, dispatches it, and acknowledges the handled
// prefix. It returns the interval the server advised.
func (p *Poller) pollOnce(ctx context.Context) (time.Duration, error) {
	res, err := p.client.Poll(ctx, nil)
	if err != nil {
		return 0, err
	}

	var lastHandled int64
	for i := range res.Messages {
		m := &res.Messages[i]

		msg, err := p.decrypt(m)
		if err != nil {
			// An undecryptable copy is skippable: it will never improve.
			p.logger.Warn(ctx, "dropping undecryptable message", "id", m.ID)
			lastHandled = m.ID
			continue
		}

		if err := p.handler(ctx, msg); err != nil {
			p.logger.Warn(ctx, "handler failed", "id", m.ID, "error", err.Error())
			break
		}
		lastHandled = m.ID
	}

	if lastHandled > 0 {
		if err := p.client.Ack(ctx, lastHandled); err != nil {
			p.logger.Warn(ctx, "ack failed", "last_id", lastHandled, "error", err.Error())
		}
	}

	return time.Duration(res.PollIntervalSeconds) * time.Second, nil
}

func (p *Poller) decrypt(m *api.WireMessage) (*IncomingMessage, error) {
	aad := cryptox.AAD{To: p.creds.ClientID, TS: m.CreatedAt.UTC().Format(time.RFC3339)}

	var body sealedBody
	if err := cryptox.Open(p.key, m.Envelope(), aad.Bytes(), &body); err != nil {
		return nil, err
	}

	return &IncomingMessage{
		ID:           m.ID,
		Type:         body.Type,
		FromClientID: m.FromClientID,
		CreatedAt:    m.CreatedAt,
		Payload:      body.Payload,
	}, nil
}

// Send seals a self-addressed message under the client's personal key and
// submits it to the relay. The optional AAD is bound into the envelope and
// presented alongside it.
func (p *Poller) Send(ctx context.Context, plaintext any, aad json.RawMessage) error {
	// The relay compacts presented AAD before verifying, so bind the compact
	// form here as well.
	bound := []byte("{}")
	if len(aad) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, aad); err != nil {
			return err
		}
		bound = buf.Bytes()
	}

	env, err := cryptox.Seal(p.key, plaintext, bound)
	if err != nil {
		return err
	}
	return p.client.Send(ctx, env, aad)
}

func (p *Poller) clamp(d time.Duration) time.Duration {
	if d < p.minInterval {
		return p.minInterval
	}
	if d > p.maxInterval {
		return p.maxInterval
	}
	return d
}
