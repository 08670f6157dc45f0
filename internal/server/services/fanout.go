package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"edgerelay/internal/common"
	"edgerelay/internal/cryptox"
	"edgerelay/internal/logging"
	"edgerelay/internal/server/config"
	"edgerelay/internal/server/models"
	"edgerelay/internal/server/repositories/repomanager"
)

// messageBody is the plaintext structure sealed into every fanout envelope.
type messageBody struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	TS      string          `json:"ts"`
}

// inboundPayload is what a client may seal into a self-addressed Send; an
// embedded recipient list turns the send into a relayed publish.
type inboundPayload struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	ToClientIDs []string        `json:"to_client_ids"`
}

// FanoutEngine encrypts and appends one message copy per recipient. Large
// recipient sets are split into bounded chunks processed asynchronously on a
// size-limited worker group; Publish returns once every chunk is submitted.
// Failures are isolated per recipient: an unknown id or unrecoverable key
// never aborts its chunk, and a chunk never blocks its siblings.
type FanoutEngine struct {
	db        *sql.DB
	rm        repomanager.RepositoryManager
	wrapKey   []byte
	chunkSize int
	group     *errgroup.Group
	delivered atomic.Int64
	failed    atomic.Int64
	logger    logging.Logger
}

func NewFanoutEngine(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *FanoutEngine {
	group := &errgroup.Group{}
	group.SetLimit(cfg.FanoutWorkers)

	return &FanoutEngine{
		db:        db,
		rm:        rm,
		wrapKey:   cryptox.DeriveKey(cfg.MasterSecret, wrapLabel),
		chunkSize: cfg.FanoutChunkSize,
		group:     group,
		logger:    logger.With("module", "fanout"),
	}
}

// Publish queues one logical message for every recipient in the set.
// Recipients are deduplicated; a non-uuid id is a validation error. The
// returned count is the number of accepted (deduplicated) recipients —
// delivery itself happens asynchronously, with unknown ids silently skipped.
func (s *FanoutEngine) Publish(ctx context.Context, recipientIDs []string, msgType string, payload json.RawMessage, fromClientID *string) (int, error) {
	if msgType == "" {
		return 0, fmt.Errorf("%w: type is required", common.ErrorValidation)
	}
	if len(payload) == 0 {
		return 0, fmt.Errorf("%w: payload is required", common.ErrorValidation)
	}
	if len(recipientIDs) == 0 {
		return 0, fmt.Errorf("%w: at least one recipient is required", common.ErrorValidation)
	}

	seen := make(map[string]struct{}, len(recipientIDs))
	unique := make([]string, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		if uuid.Validate(id) != nil {
			return 0, fmt.Errorf("%w: recipient id %q is not a uuid", common.ErrorValidation, id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	// Chunks outlive the request; detach them from its cancellation.
	taskCtx := context.WithoutCancel(ctx)

	for start := 0; start < len(unique); start += s.chunkSize {
		end := min(start+s.chunkSize, len(unique))
		chunk := unique[start:end]

		s.group.Go(func() error {
			s.deliverChunk(taskCtx, chunk, fromClientID, msgType, payload)
			return nil
		})
	}

	return len(unique), nil
}

// SendFromClient handles a client's self-addressed envelope: it is decrypted
// under the sender's own key, re-encrypted for storage as a loopback copy,
// and, when the plaintext embeds a recipient list, relayed to those
// recipients via Publish. Decrypt failures are the caller's to see.
func (s *FanoutEngine) SendFromClient(ctx context.Context, client *models.Client, env *cryptox.Envelope, aad json.RawMessage) error {
	key, err := cryptox.Unwrap(s.wrapKey, client.EncKeyWrapped)
	if err != nil || len(key) != cryptox.KeySize {
		return common.ErrorInternal
	}

	var raw json.RawMessage
	if err := cryptox.Open(key, env, compactAAD(aad), &raw); err != nil {
		return common.ErrAuthenticationFailed
	}

	var inbound inboundPayload
	if err := json.Unmarshal(raw, &inbound); err != nil {
		return common.ErrAuthenticationFailed
	}

	msgType := inbound.Type
	if msgType == "" {
		msgType = "client"
	}

	ts := time.Now().UTC().Truncate(time.Second)
	storeAAD := cryptox.AAD{From: client.ID, TS: ts.Format(time.RFC3339)}

	stored, err := cryptox.Seal(key, raw, storeAAD.Bytes())
	if err != nil {
		return common.ErrorInternal
	}

	from := client.ID
	message := &models.Message{
		FromClientID: &from,
		ToClientID:   client.ID,
		Type:         msgType,
		Ciphertext:   stored.Ciphertext,
		Nonce:        stored.Nonce,
		Tag:          stored.Tag,
		CreatedAt:    ts,
	}
	if _, err := s.rm.Messages(s.db).Append(ctx, message); err != nil {
		return common.ErrStorageUnavailable
	}

	if len(inbound.ToClientIDs) > 0 {
		recipients := make([]string, 0, len(inbound.ToClientIDs))
		for _, id := range inbound.ToClientIDs {
			if uuid.Validate(id) == nil {
				recipients = append(recipients, id)
			}
		}
		payload := inbound.Payload
		if len(payload) == 0 {
			payload = json.RawMessage(`{}`)
		}
		if len(recipients) > 0 {
			if _, err := s.Publish(ctx, recipients, msgType, payload, &from); err != nil {
				s.logger.Warn(ctx, "relayed publish failed", "client_id", client.ID, "error", err.Error())
			}
		}
	}

	return nil
}

// Wait blocks until every queued chunk has been processed. Used on shutdown
// and by tests; request handlers never call it.
func (s *FanoutEngine) Wait() {
	_ = s.group.Wait()
}

// Delivered reports the total number of per-recipient copies appended since
// start.
func (s *FanoutEngine) Delivered() int64 { return s.delivered.Load() }

// Failed reports the total number of per-recipient delivery failures
// (unrecoverable keys, storage errors) since start.
func (s *FanoutEngine) Failed() int64 { return s.failed.Load() }

func (s *FanoutEngine) deliverChunk(ctx context.Context, chunk []string, fromClientID *string, msgType string, payload json.RawMessage) {
	clientsRepo := s.rm.Clients(s.db)
	messagesRepo := s.rm.Messages(s.db)

	for _, recipientID := range chunk {
		client, err := clientsRepo.GetByID(ctx, recipientID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				s.logger.Debug(ctx, "skipping unknown recipient", "client_id", recipientID)
				continue
			}
			s.failed.Add(1)
			s.logger.Warn(ctx, "recipient lookup failed", "client_id", recipientID, "error", err.Error())
			continue
		}

		key, err := cryptox.Unwrap(s.wrapKey, client.EncKeyWrapped)
		if err != nil || len(key) != cryptox.KeySize {
			s.failed.Add(1)
			s.logger.Warn(ctx, "unrecoverable recipient key", "client_id", recipientID)
			continue
		}

		ts := time.Now().UTC().Truncate(time.Second)
		aad := cryptox.AAD{To: client.ID, TS: ts.Format(time.RFC3339)}
		body := messageBody{Type: msgType, Payload: payload, TS: aad.TS}

		env, err := cryptox.Seal(key, body, aad.Bytes())
		if err != nil {
			s.failed.Add(1)
			s.logger.Warn(ctx, "envelope seal failed", "client_id", recipientID, "error", err.Error())
			continue
		}

		message := &models.Message{
			FromClientID: fromClientID,
			ToClientID:   client.ID,
			Type:         msgType,
			Ciphertext:   env.Ciphertext,
			Nonce:        env.Nonce,
			Tag:          env.Tag,
			CreatedAt:    ts,
		}
		if _, err := messagesRepo.Append(ctx, message); err != nil {
			s.failed.Add(1)
			s.logger.Warn(ctx, "message append failed", "client_id", recipientID, "error", err.Error())
			continue
		}

		s.delivered.Add(1)
	}
}

// compactAAD normalizes client-supplied AAD bytes to their compact form so
// decrypt sees the same bytes the client sealed with. Absent AAD becomes an
// empty object, matching the client helper.
func compactAAD(aad json.RawMessage) []byte {
	if len(aad) == 0 {
		return []byte("{}")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, aad); err != nil {
		return aad
	}
	return buf.Bytes()
}
