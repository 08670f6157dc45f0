package clients

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"edgerelay/internal/common"
	"edgerelay/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

const clientColumns = "id, name, fingerprint, api_token_hash, api_token_wrapped, enc_key_wrapped, last_seen_at, created_at, updated_at"

func clientRow(id string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "name", "fingerprint", "api_token_hash", "api_token_wrapped", "enc_key_wrapped", "last_seen_at", "created_at", "updated_at"}).
		AddRow(id, "sensor-1", "fp-1", "hash", "wrapped-token", "wrapped-key", nil, now, now)
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+clients\s*\(id,\s*name,\s*fingerprint,\s*api_token_hash,\s*api_token_wrapped,\s*enc_key_wrapped\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6\)\s*RETURNING\s+created_at,\s*updated_at\s*$`

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now)
	mock.ExpectQuery(q).
		WithArgs("c-1", sql.NullString{String: "sensor-1", Valid: true}, "fp-1", "hash", "wrapped-token", "wrapped-key").
		WillReturnRows(rows)

	client := &models.Client{ID: "c-1", Name: "sensor-1", Fingerprint: "fp-1",
		APITokenHash: "hash", APITokenWrapped: "wrapped-token", EncKeyWrapped: "wrapped-key"}
	got, err := repo.Create(context.Background(), client)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not populated: %+v", got)
	}
}

func TestCreate_UniqueViolation(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+clients`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := repo.Create(context.Background(), &models.Client{ID: "c-1", Fingerprint: "fp-1"})
	if !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("expected ErrorAlreadyExists, got %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+clients`).
		WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), &models.Client{ID: "c-1", Fingerprint: "fp-1"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetByID_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+` + regexp.QuoteMeta(clientColumns) + `\s+FROM\s+clients\s+WHERE\s+id\s*=\s*\$1\s*$`
	mock.ExpectQuery(q).WithArgs("c-1").WillReturnRows(clientRow("c-1"))

	got, err := repo.GetByID(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if got.ID != "c-1" || got.Name != "sensor-1" || got.LastSeenAt != nil {
		t.Fatalf("unexpected client: %+v", got)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM clients WHERE id`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestGetByFingerprint_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+` + regexp.QuoteMeta(clientColumns) + `\s+FROM\s+clients\s+WHERE\s+fingerprint\s*=\s*\$1\s*$`
	mock.ExpectQuery(q).WithArgs("fp-1").WillReturnRows(clientRow("c-1"))

	got, err := repo.GetByFingerprint(context.Background(), "fp-1")
	if err != nil {
		t.Fatalf("GetByFingerprint error: %v", err)
	}
	if got.Fingerprint != "fp-1" {
		t.Fatalf("unexpected client: %+v", got)
	}
}

func TestUpdateCredentials(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+clients\s+SET\s+name\s*=\s*\$2,\s*api_token_hash\s*=\s*\$3,\s*api_token_wrapped\s*=\s*\$4,\s*enc_key_wrapped\s*=\s*\$5,\s*updated_at\s*=\s*now\(\)\s+WHERE\s+id\s*=\s*\$1\s*$`
	mock.ExpectExec(q).
		WithArgs("c-1", sql.NullString{String: "sensor-1", Valid: true}, "new-hash", "new-wrapped-token", "new-wrapped-key").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateCredentials(context.Background(), "c-1", "sensor-1", "new-hash", "new-wrapped-token", "new-wrapped-key"); err != nil {
		t.Fatalf("UpdateCredentials error: %v", err)
	}
}

func TestTouchLastSeen(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Now().UTC()
	mock.ExpectExec(`UPDATE\s+clients\s+SET\s+last_seen_at\s*=\s*\$2\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("c-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.TouchLastSeen(context.Background(), "c-1", at); err != nil {
		t.Fatalf("TouchLastSeen error: %v", err)
	}
}

func TestList(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "name", "fingerprint", "api_token_hash", "api_token_wrapped", "enc_key_wrapped", "last_seen_at", "created_at", "updated_at"}).
		AddRow("c-1", "sensor-1", "fp-1", "h", "wt", "wk", nil, now, now).
		AddRow("c-2", nil, "fp-2", "h", "wt", "wk", now, now, now)

	mock.ExpectQuery(`SELECT .* FROM clients ORDER BY created_at`).WillReturnRows(rows)

	got, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(got))
	}
	if got[1].Name != "" || got[1].LastSeenAt == nil {
		t.Fatalf("null handling broken: %+v", got[1])
	}
}
