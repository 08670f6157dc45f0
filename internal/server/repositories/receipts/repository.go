package receipts

import (
	"context"
	"time"

	"edgerelay/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, clientID string) (*models.MessageReceipt, error)
	// RecordPoll upserts the poll-cadence columns, leaving the ack cursor
	// untouched.
	RecordPoll(ctx context.Context, clientID string, intervalSeconds int, lastPolledAt, nextPollAt time.Time) error
	// Ack upserts the cursor with a monotonic guard: a value smaller than
	// the stored one never moves the cursor backward.
	Ack(ctx context.Context, clientID string, lastReceivedID int64) error
}
