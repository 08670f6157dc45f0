package messages

import (
	"context"

	"edgerelay/internal/server/models"
)

type Repository interface {
	// Append inserts one message row. The id is assigned by storage in
	// append order and written back into the model.
	Append(ctx context.Context, message *models.Message) (*models.Message, error)
	// ListIncoming returns the recipient's pollable window: messages with
	// id > afterID, ascending, excluding the recipient's own loopback
	// copies (from = to).
	ListIncoming(ctx context.Context, recipientID string, afterID int64, limit int) ([]*models.Message, error)
	// ListAll is the operator view: every copy addressed to the recipient,
	// loopback included.
	ListAll(ctx context.Context, recipientID string, afterID int64, limit int) ([]*models.Message, error)
}
