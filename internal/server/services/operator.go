package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"edgerelay/internal/common"
	"edgerelay/internal/cryptox"
	"edgerelay/internal/logging"
	"edgerelay/internal/server/config"
	"edgerelay/internal/server/repositories/repomanager"
)

// operatorPageSize bounds the operator message read, which pages with the
// same cursor scheme as client polling but sees loopback copies too.
const operatorPageSize = 100

// ClientStatus is one row of the operator client listing.
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

// DecryptedMessage is one server-side-decrypted message for operator
// visibility. Payload degrades to an error placeholder when the stored copy
// cannot be decrypted.
type DecryptedMessage struct {
	ID           int64           `json:"id"`
	Type         string          `json:"type"`
	FromClientID *string         `json:"from_client_id,omitempty"`
	ToClientID   string          `json:"to_client_id"`
	CreatedAt    time.Time       `json:"created_at"`
	Payload      json.RawMessage `json:"payload"`
}

// OperatorService is the read-only surface behind the privileged operator
// endpoints: client liveness and decrypted per-client message history.
type OperatorService struct {
	db           *sql.DB
	rm           repomanager.RepositoryManager
	wrapKey      []byte
	onlineWindow time.Duration
	defaultPoll  int
	logger       logging.Logger
}

func NewOperatorService(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *OperatorService {
	return &OperatorService{
		db:           db,
		rm:           rm,
		wrapKey:      cryptox.DeriveKey(cfg.MasterSecret, wrapLabel),
		onlineWindow: cfg.OnlineWindow,
		defaultPoll:  int(cfg.PollMinInterval.Seconds()),
		logger:       logger.With("module", "operator"),
	}
}

// ListClients returns every client with a derived online/offline status
// (last seen within the freshness window) and its current poll cadence.
func (s *OperatorService) ListClients(ctx context.Context) ([]*ClientStatus, error) {
	clientRows, err := s.rm.Clients(s.db).List(ctx)
	if err != nil {
		return nil, common.ErrStorageUnavailable
	}

	receiptsRepo := s.rm.Receipts(s.db)
	now := time.Now().UTC()

	result := make([]*ClientStatus, 0, len(clientRows))
	for _, client := range clientRows {
		status := &ClientStatus{
			ID:                  client.ID,
			Name:                client.Name,
			CreatedAt:           client.CreatedAt,
			LastSeenAt:          client.LastSeenAt,
			Status:              "offline",
			PollIntervalSeconds: s.defaultPoll,
		}
		if client.LastSeenAt != nil && now.Sub(*client.LastSeenAt) <= s.onlineWindow {
			status.Status = "online"
		}

		receipt, err := receiptsRepo.Get(ctx, client.ID)
		if err == nil {
			status.LastPolledAt = receipt.LastPolledAt
			status.NextPollAt = receipt.NextPollAt
			status.PollIntervalSeconds = receipt.PollIntervalSeconds
		} else if !errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrStorageUnavailable
		}

		result = append(result, status)
	}
	return result, nil
}

// ClientMessages returns the client's stored messages after the cursor,
// decrypted with the server-recovered recipient key. Individual rows that
// fail to decrypt are reported with a placeholder payload rather than
// failing the whole read.
func (s *OperatorService) ClientMessages(ctx context.Context, clientID string, cursor *int64) ([]*DecryptedMessage, error) {
	client, err := s.rm.Clients(s.db).GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, common.ErrStorageUnavailable
	}

	var afterID int64
	if cursor != nil {
		afterID = *cursor
	}

	window, err := s.rm.Messages(s.db).ListAll(ctx, client.ID, afterID, operatorPageSize)
	if err != nil {
		return nil, common.ErrStorageUnavailable
	}

	key, err := cryptox.Unwrap(s.wrapKey, client.EncKeyWrapped)
	if err != nil || len(key) != cryptox.KeySize {
		return nil, common.ErrorInternal
	}

	result := make([]*DecryptedMessage, 0, len(window))
	for _, message := range window {
		ts := message.CreatedAt.UTC().Format(time.RFC3339)

		// Loopback copies were sealed with {from, ts}; fanout copies with
		// {to, ts}.
		var aad cryptox.AAD
		if message.FromClientID != nil && *message.FromClientID == message.ToClientID {
			aad = cryptox.AAD{From: *message.FromClientID, TS: ts}
		} else {
			aad = cryptox.AAD{To: message.ToClientID, TS: ts}
		}

		env := &cryptox.Envelope{Ciphertext: message.Ciphertext, Nonce: message.Nonce, Tag: message.Tag}

		var payload json.RawMessage
		if err := cryptox.Open(key, env, aad.Bytes(), &payload); err != nil {
			payload = json.RawMessage(`{"error":"unable to decrypt message"}`)
		}

		result = append(result, &DecryptedMessage{
			ID:           message.ID,
			Type:         message.Type,
			FromClientID: message.FromClientID,
			ToClientID:   message.ToClientID,
			CreatedAt:    message.CreatedAt,
			Payload:      payload,
		})
	}
	return result, nil
}
