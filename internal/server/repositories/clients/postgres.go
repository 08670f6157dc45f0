package clients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"edgerelay/internal/common"
	"edgerelay/internal/dbx"
	"edgerelay/internal/server/models"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, client *models.Client) (*models.Client, error) {
	query :=
		`INSERT INTO clients (id, name, fingerprint, api_token_hash, api_token_wrapped, enc_key_wrapped)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		client.ID, nullString(client.Name), client.Fingerprint,
		client.APITokenHash, client.APITokenWrapped, client.EncKeyWrapped).
		Scan(&client.CreatedAt, &client.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return client, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Client, error) {
	query := selectClient + ` WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Client, error) {
	query := selectClient + ` WHERE fingerprint = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, fingerprint))
}

func (r *PostgresRepository) UpdateCredentials(ctx context.Context, id, name, tokenHash, tokenWrapped, keyWrapped string) error {
	query :=
		`UPDATE clients
		 SET name = $2, api_token_hash = $3, api_token_wrapped = $4, enc_key_wrapped = $5, updated_at = now()
		 WHERE id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, id, nullString(name), tokenHash, tokenWrapped, keyWrapped); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateName(ctx context.Context, id, name string) error {
	query := `UPDATE clients SET name = $2, updated_at = now() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, nullString(name)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE clients SET last_seen_at = $2 WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.Client, error) {
	query := selectClient + ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

const selectClient = `SELECT id, name, fingerprint, api_token_hash, api_token_wrapped, enc_key_wrapped, last_seen_at, created_at, updated_at FROM clients`

type scannable interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Client, error) {
	client, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return client, nil
}

func scanClient(row scannable) (*models.Client, error) {
	client := &models.Client{}
	var name sql.NullString
	var lastSeen sql.NullTime

	err := row.Scan(&client.ID, &name, &client.Fingerprint,
		&client.APITokenHash, &client.APITokenWrapped, &client.EncKeyWrapped,
		&lastSeen, &client.CreatedAt, &client.UpdatedAt)
	if err != nil {
		return nil, err
	}

	client.Name = name.String
	if lastSeen.Valid {
		t := lastSeen.Time
		client.LastSeenAt = &t
	}
	return client, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
