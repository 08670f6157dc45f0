package receipts

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"edgerelay/internal/common"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestGet_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+client_id,\s*last_acked_message_id,\s*poll_interval_seconds,\s*last_polled_at,\s*next_poll_at\s+FROM\s+message_receipts\s+WHERE\s+client_id\s*=\s*\$1\s*$`

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"client_id", "last_acked_message_id", "poll_interval_seconds", "last_polled_at", "next_poll_at"}).
		AddRow("c-1", int64(12), 9, now, now.Add(9*time.Second))

	mock.ExpectQuery(q).WithArgs("c-1").WillReturnRows(rows)

	got, err := repo.Get(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.LastAckedMessageID != 12 || got.PollIntervalSeconds != 9 {
		t.Fatalf("unexpected receipt: %+v", got)
	}
	if got.LastPolledAt == nil || got.NextPollAt == nil {
		t.Fatalf("timestamps not scanned: %+v", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM message_receipts`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestRecordPoll_Upsert(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	// the upsert must not touch last_acked_message_id
	q := `(?s)^INSERT\s+INTO\s+message_receipts\s*\(client_id,\s*poll_interval_seconds,\s*last_polled_at,\s*next_poll_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4\)\s*ON\s+CONFLICT\s*\(client_id\)\s+DO\s+UPDATE\s+SET\s+poll_interval_seconds\s*=\s*EXCLUDED\.poll_interval_seconds,\s*last_polled_at\s*=\s*EXCLUDED\.last_polled_at,\s*next_poll_at\s*=\s*EXCLUDED\.next_poll_at,\s*updated_at\s*=\s*now\(\)\s*$`

	now := time.Now().UTC()
	mock.ExpectExec(q).
		WithArgs("c-1", 6, now, now.Add(6*time.Second)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.RecordPoll(context.Background(), "c-1", 6, now, now.Add(6*time.Second)); err != nil {
		t.Fatalf("RecordPoll error: %v", err)
	}
}

func TestAck_MonotonicUpsert(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	// GREATEST guards against cursor rollback at the SQL level
	q := `(?s)^INSERT\s+INTO\s+message_receipts\s*\(client_id,\s*last_acked_message_id\)\s*VALUES\s*\(\$1,\s*\$2\)\s*ON\s+CONFLICT\s*\(client_id\)\s+DO\s+UPDATE\s+SET\s+last_acked_message_id\s*=\s*GREATEST\(message_receipts\.last_acked_message_id,\s*EXCLUDED\.last_acked_message_id\),\s*updated_at\s*=\s*now\(\)\s*$`

	mock.ExpectExec(q).
		WithArgs("c-1", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Ack(context.Background(), "c-1", 7); err != nil {
		t.Fatalf("Ack error: %v", err)
	}
}

func TestAck_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+message_receipts`).WillReturnError(errors.New("db down"))

	if err := repo.Ack(context.Background(), "c-1", 7); err == nil {
		t.Fatal("expected error")
	}
}
