// Package memory implements the repository interfaces on in-process maps.
// It backs the "memory" DSN used for development and the service-level
// tests; semantics match the Postgres implementation, including the
// monotonic ack guard and append-order message ids.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"edgerelay/internal/common"
	"edgerelay/internal/dbx"
	"edgerelay/internal/server/models"
	"edgerelay/internal/server/repositories/clients"
	"edgerelay/internal/server/repositories/messages"
	"edgerelay/internal/server/repositories/receipts"
)

type store struct {
	mu            sync.Mutex
	clients       map[string]*models.Client // keyed by id
	byFingerprint map[string]string         // fingerprint -> id
	messages      []*models.Message
	nextMessageID int64
	receipts      map[string]*models.MessageReceipt
}

type Manager struct {
	s *store
}

func NewManager() *Manager {
	return &Manager{s: &store{
		clients:       make(map[string]*models.Client),
		byFingerprint: make(map[string]string),
		receipts:      make(map[string]*models.MessageReceipt),
	}}
}

func (m *Manager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }

func (m *Manager) Clients(db dbx.DBTX) clients.Repository   { return &clientRepo{s: m.s} }
func (m *Manager) Messages(db dbx.DBTX) messages.Repository { return &messageRepo{s: m.s} }
func (m *Manager) Receipts(db dbx.DBTX) receipts.Repository { return &receiptRepo{s: m.s} }

// --- clients ---

type clientRepo struct {
	s *store
}

func (r *clientRepo) Create(ctx context.Context, client *models.Client) (*models.Client, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.byFingerprint[client.Fingerprint]; ok {
		return nil, common.ErrorAlreadyExists
	}

	now := time.Now().UTC()
	client.CreatedAt = now
	client.UpdatedAt = now

	cp := *client
	r.s.clients[client.ID] = &cp
	r.s.byFingerprint[client.Fingerprint] = client.ID
	return client, nil
}

func (r *clientRepo) GetByID(ctx context.Context, id string) (*models.Client, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	client, ok := r.s.clients[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *client
	return &cp, nil
}

func (r *clientRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Client, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.byFingerprint[fingerprint]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *r.s.clients[id]
	return &cp, nil
}

func (r *clientRepo) UpdateCredentials(ctx context.Context, id, name, tokenHash, tokenWrapped, keyWrapped string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	client, ok := r.s.clients[id]
	if !ok {
		return common.ErrorNotFound
	}
	client.Name = name
	client.APITokenHash = tokenHash
	client.APITokenWrapped = tokenWrapped
	client.EncKeyWrapped = keyWrapped
	client.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *clientRepo) UpdateName(ctx context.Context, id, name string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	client, ok := r.s.clients[id]
	if !ok {
		return common.ErrorNotFound
	}
	client.Name = name
	client.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *clientRepo) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	client, ok := r.s.clients[id]
	if !ok {
		return common.ErrorNotFound
	}
	t := at
	client.LastSeenAt = &t
	return nil
}

func (r *clientRepo) List(ctx context.Context) ([]*models.Client, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	result := make([]*models.Client, 0, len(r.s.clients))
	for _, client := range r.s.clients {
		cp := *client
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// --- messages ---

type messageRepo struct {
	s *store
}

func (r *messageRepo) Append(ctx context.Context, message *models.Message) (*models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextMessageID++
	message.ID = r.s.nextMessageID

	cp := *message
	r.s.messages = append(r.s.messages, &cp)
	return message, nil
}

func (r *messageRepo) ListIncoming(ctx context.Context, recipientID string, afterID int64, limit int) ([]*models.Message, error) {
	return r.list(recipientID, afterID, limit, false)
}

func (r *messageRepo) ListAll(ctx context.Context, recipientID string, afterID int64, limit int) ([]*models.Message, error) {
	return r.list(recipientID, afterID, limit, true)
}

func (r *messageRepo) list(recipientID string, afterID int64, limit int, includeLoopback bool) ([]*models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var result []*models.Message
	for _, message := range r.s.messages {
		if message.ToClientID != recipientID || message.ID <= afterID {
			continue
		}
		loopback := message.FromClientID != nil && *message.FromClientID == message.ToClientID
		if loopback && !includeLoopback {
			continue
		}
		cp := *message
		result = append(result, &cp)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

// --- receipts ---

type receiptRepo struct {
	s *store
}

func (r *receiptRepo) Get(ctx context.Context, clientID string) (*models.MessageReceipt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	receipt, ok := r.s.receipts[clientID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *receipt
	return &cp, nil
}

func (r *receiptRepo) RecordPoll(ctx context.Context, clientID string, intervalSeconds int, lastPolledAt, nextPollAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	receipt := r.ensure(clientID)
	receipt.PollIntervalSeconds = intervalSeconds
	lp, np := lastPolledAt, nextPollAt
	receipt.LastPolledAt = &lp
	receipt.NextPollAt = &np
	return nil
}

func (r *receiptRepo) Ack(ctx context.Context, clientID string, lastReceivedID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	receipt := r.ensure(clientID)
	if lastReceivedID > receipt.LastAckedMessageID {
		receipt.LastAckedMessageID = lastReceivedID
	}
	return nil
}

// ensure creates the receipt lazily with a zero interval; the mailbox treats
// zero the same as a missing receipt, so an ack that lands before the first
// poll does not pre-advance the backoff ladder.
func (r *receiptRepo) ensure(clientID string) *models.MessageReceipt {
	receipt, ok := r.s.receipts[clientID]
	if !ok {
		receipt = &models.MessageReceipt{ClientID: clientID}
		r.s.receipts[clientID] = receipt
	}
	return receipt
}
