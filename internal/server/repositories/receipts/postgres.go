package receipts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"edgerelay/internal/common"
	"edgerelay/internal/dbx"
	"edgerelay/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, clientID string) (*models.MessageReceipt, error) {
	query :=
		`SELECT client_id, last_acked_message_id, poll_interval_seconds, last_polled_at, next_poll_at
		 FROM message_receipts
		 WHERE client_id = $1
		 `

	receipt := &models.MessageReceipt{}
	var lastPolled, nextPoll sql.NullTime

	err := r.db.QueryRowContext(ctx, query, clientID).
		Scan(&receipt.ClientID, &receipt.LastAckedMessageID, &receipt.PollIntervalSeconds, &lastPolled, &nextPoll)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if lastPolled.Valid {
		t := lastPolled.Time
		receipt.LastPolledAt = &t
	}
	if nextPoll.Valid {
		t := nextPoll.Time
		receipt.NextPollAt = &t
	}
	return receipt, nil
}

func (r *PostgresRepository) RecordPoll(ctx context.Context, clientID string, intervalSeconds int, lastPolledAt, nextPollAt time.Time) error {
	query :=
		`INSERT INTO message_receipts (client_id, poll_interval_seconds, last_polled_at, next_poll_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (client_id) DO UPDATE
		 SET poll_interval_seconds = EXCLUDED.poll_interval_seconds,
		     last_polled_at = EXCLUDED.last_polled_at,
		     next_poll_at = EXCLUDED.next_poll_at,
		     updated_at = now()
		 `

	if _, err := r.db.ExecContext(ctx, query, clientID, intervalSeconds, lastPolledAt, nextPollAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Ack(ctx context.Context, clientID string, lastReceivedID int64) error {
	// GREATEST keeps the cursor monotonic under concurrent acks without any
	// application-level locking.
	query :=
		`INSERT INTO message_receipts (client_id, last_acked_message_id)
		 VALUES ($1, $2)
		 ON CONFLICT (client_id) DO UPDATE
		 SET last_acked_message_id = GREATEST(message_receipts.last_acked_message_id, EXCLUDED.last_acked_message_id),
		     updated_at = now()
		 `

	if _, err := r.db.ExecContext(ctx, query, clientID, lastReceivedID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
