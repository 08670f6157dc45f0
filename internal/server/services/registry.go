// Package services contains the relay's server-side business logic:
// client registration and authentication, fanout delivery, the poll/ack
// cursor protocol, and the operator read surface.
package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"edgerelay/internal/common"
	"edgerelay/internal/cryptox"
	"edgerelay/internal/logging"
	"edgerelay/internal/server/config"
	"edgerelay/internal/server/models"
	"edgerelay/internal/server/repositories/clients"
	"edgerelay/internal/server/repositories/repomanager"
)

// wrapLabel is the HKDF label for the key that seals per-client secrets at
// rest.
const wrapLabel = "key-wrap"

// Registration is what a client receives from Register: its identity, the
// bearer token, and the personal encryption key (base64, 32 raw bytes).
// Created is false when previously issued credentials were reused.
type Registration struct {
	ClientID    string
	APIToken    string
	PersonalKey string
	Created     bool
}

// RegistryService issues and idempotently re-issues client identity,
// API credentials, and per-client symmetric keys, deduplicated by the
// client-supplied fingerprint.
type RegistryService struct {
	db      *sql.DB
	rm      repomanager.RepositoryManager
	wrapKey []byte
	logger  logging.Logger
}

func NewRegistryService(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *RegistryService {
	return &RegistryService{
		db:      db,
		rm:      rm,
		wrapKey: cryptox.DeriveKey(cfg.MasterSecret, wrapLabel),
		logger:  logger.With("module", "registry"),
	}
}

// Register returns credentials for the given fingerprint. Retrying is always
// safe: an existing client with recoverable stored material gets the same
// token and key back; corrupt material triggers a silent rotation; and the
// loser of a concurrent first-registration race recovers the winner's
// credentials instead of erroring.
func (s *RegistryService) Register(ctx context.Context, fingerprint, name string) (*Registration, error) {
	if fingerprint == "" {
		return nil, fmt.Errorf("%w: fingerprint is required", common.ErrorValidation)
	}

	repo := s.rm.Clients(s.db)

	existing, err := repo.GetByFingerprint(ctx, fingerprint)
	if err == nil {
		return s.reuseOrRotate(ctx, repo, existing, name)
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("error searching client: %w", err)
	}

	creds, err := mintCredentials(s.wrapKey)
	if err != nil {
		return nil, common.ErrorInternal
	}

	client := &models.Client{
		ID:              uuid.NewString(),
		Name:            name,
		Fingerprint:     fingerprint,
		APITokenHash:    creds.tokenHash,
		APITokenWrapped: creds.tokenWrapped,
		EncKeyWrapped:   creds.keyWrapped,
	}

	if _, err := repo.Create(ctx, client); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			// Lost the uniqueness race; hand back the winner's credentials.
			winner, err := repo.GetByFingerprint(ctx, fingerprint)
			if err != nil {
				return nil, fmt.Errorf("error re-reading client after race: %w", err)
			}
			return s.reuseOrRotate(ctx, repo, winner, name)
		}
		return nil, fmt.Errorf("error creating client: %w", err)
	}

	s.logger.Info(ctx, "client registered", "client_id", client.ID)

	return &Registration{
		ClientID:    client.ID,
		APIToken:    creds.token,
		PersonalKey: creds.personalKey,
		Created:     true,
	}, nil
}

// Authenticate verifies the bearer token against the stored one-way hash and
// refreshes the client's last-seen timestamp on success. The refresh is
// best-effort and never blocks or fails the caller.
func (s *RegistryService) Authenticate(ctx context.Context, clientID, token string) (*models.Client, error) {
	if clientID == "" || token == "" {
		return nil, common.ErrorUnauthorized
	}

	client, err := s.rm.Clients(s.db).GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}

	if !verifyToken(client.APITokenHash, token) {
		return nil, common.ErrorUnauthorized
	}

	go s.touchLastSeen(client.ID)

	return client, nil
}

// ClientKey recovers the client's raw 32-byte encryption key from its
// wrapped storage form.
func (s *RegistryService) ClientKey(client *models.Client) ([]byte, error) {
	key, err := cryptox.Unwrap(s.wrapKey, client.EncKeyWrapped)
	if err != nil {
		return nil, fmt.Errorf("unrecoverable client key: %w", err)
	}
	if len(key) != cryptox.KeySize {
		return nil, errors.New("unrecoverable client key: bad length")
	}
	return key, nil
}

func (s *RegistryService) reuseOrRotate(ctx context.Context, repo clients.Repository, client *models.Client, name string) (*Registration, error) {
	if reg, ok := s.recover(client); ok {
		if name != "" && name != client.Name {
			if err := repo.UpdateName(ctx, client.ID, name); err != nil {
				s.logger.Warn(ctx, "name update failed", "client_id", client.ID, "error", err.Error())
			}
		}
		return reg, nil
	}

	// Stored material is absent or corrupt: rotate silently.
	creds, err := mintCredentials(s.wrapKey)
	if err != nil {
		return nil, common.ErrorInternal
	}

	keepName := client.Name
	if name != "" {
		keepName = name
	}

	if err := repo.UpdateCredentials(ctx, client.ID, keepName, creds.tokenHash, creds.tokenWrapped, creds.keyWrapped); err != nil {
		return nil, fmt.Errorf("error rotating credentials: %w", err)
	}

	s.logger.Warn(ctx, "client credentials rotated", "client_id", client.ID)

	return &Registration{
		ClientID:    client.ID,
		APIToken:    creds.token,
		PersonalKey: creds.personalKey,
	}, nil
}

// recover re-derives the previously issued token and key from their wrapped
// storage forms. It reports false when either is missing or undecryptable.
func (s *RegistryService) recover(client *models.Client) (*Registration, bool) {
	if client.APITokenWrapped == "" || client.EncKeyWrapped == "" {
		return nil, false
	}

	token, err := cryptox.Unwrap(s.wrapKey, client.APITokenWrapped)
	if err != nil {
		return nil, false
	}
	key, err := cryptox.Unwrap(s.wrapKey, client.EncKeyWrapped)
	if err != nil || len(key) != cryptox.KeySize {
		return nil, false
	}

	return &Registration{
		ClientID:    client.ID,
		APIToken:    string(token),
		PersonalKey: base64.StdEncoding.EncodeToString(key),
	}, true
}

func (s *RegistryService) touchLastSeen(clientID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.rm.Clients(s.db).TouchLastSeen(ctx, clientID, time.Now().UTC()); err != nil {
		s.logger.Warn(ctx, "last-seen refresh failed", "client_id", clientID, "error", err.Error())
	}
}

// --- credential material helpers ---

type credentials struct {
	token        string
	personalKey  string
	tokenHash    string
	tokenWrapped string
	keyWrapped   string
}

func mintCredentials(wrapKey []byte) (*credentials, error) {
	token, err := common.MakeRandBase64String(32)
	if err != nil {
		return nil, err
	}
	key := common.GenerateRandByteArray(cryptox.KeySize)

	tokenWrapped, err := cryptox.Wrap(wrapKey, []byte(token))
	if err != nil {
		return nil, err
	}
	keyWrapped, err := cryptox.Wrap(wrapKey, key)
	if err != nil {
		return nil, err
	}

	return &credentials{
		token:        token,
		personalKey:  base64.StdEncoding.EncodeToString(key),
		tokenHash:    hashToken(token),
		tokenWrapped: tokenWrapped,
		keyWrapped:   keyWrapped,
	}, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func verifyToken(storedHash, candidate string) bool {
	stored, err := hex.DecodeString(storedHash)
	if err != nil {
		return false
	}
	sum := sha256.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(stored, sum[:]) == 1
}
