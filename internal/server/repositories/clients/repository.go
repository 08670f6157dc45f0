package clients

import (
	"context"
	"time"

	"edgerelay/internal/server/models"
)

type Repository interface {
	// Create inserts a new client row. A fingerprint collision returns
	// common.ErrorAlreadyExists so the caller can recover the winner's row.
	Create(ctx context.Context, client *models.Client) (*models.Client, error)
	GetByID(ctx context.Context, id string) (*models.Client, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*models.Client, error)
	// UpdateCredentials overwrites the stored credential/key material during
	// a silent rotation.
	UpdateCredentials(ctx context.Context, id, name, tokenHash, tokenWrapped, keyWrapped string) error
	UpdateName(ctx context.Context, id, name string) error
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context) ([]*models.Client, error)
}
