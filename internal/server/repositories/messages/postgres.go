package messages

import (
	"context"
	"database/sql"
	"fmt"

	"edgerelay/internal/dbx"
	"edgerelay/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, message *models.Message) (*models.Message, error) {
	query :=
		`INSERT INTO messages (from_client_id, to_client_id, type, ciphertext, nonce, tag, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id
		 `

	var from sql.NullString
	if message.FromClientID != nil {
		from = sql.NullString{String: *message.FromClientID, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		from, message.ToClientID, message.Type,
		message.Ciphertext, message.Nonce, message.Tag, message.CreatedAt).
		Scan(&message.ID)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return message, nil
}

func (r *PostgresRepository) ListIncoming(ctx context.Context, recipientID string, afterID int64, limit int) ([]*models.Message, error) {
	query := selectMessage + `
		 WHERE to_client_id = $1 AND id > $2
		   AND (from_client_id IS NULL OR from_client_id <> to_client_id)
		 ORDER BY id
		 LIMIT $3
		 `
	return r.list(ctx, query, recipientID, afterID, limit)
}

func (r *PostgresRepository) ListAll(ctx context.Context, recipientID string, afterID int64, limit int) ([]*models.Message, error) {
	query := selectMessage + `
		 WHERE to_client_id = $1 AND id > $2
		 ORDER BY id
		 LIMIT $3
		 `
	return r.list(ctx, query, recipientID, afterID, limit)
}

const selectMessage = `SELECT id, from_client_id, to_client_id, type, ciphertext, nonce, tag, created_at FROM messages`

func (r *PostgresRepository) list(ctx context.Context, query, recipientID string, afterID int64, limit int) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, recipientID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Message
	for rows.Next() {
		message := &models.Message{}
		var from sql.NullString

		err := rows.Scan(&message.ID, &from, &message.ToClientID, &message.Type,
			&message.Ciphertext, &message.Nonce, &message.Tag, &message.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}

		if from.Valid {
			f := from.String
			message.FromClientID = &f
		}
		result = append(result, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
