// Package repomanager hands out entity repositories over a shared DB handle
// and owns schema migrations. The manager is the seam between the service
// layer and the concrete storage backend (Postgres or in-memory).
package repomanager

import (
	"context"
	"database/sql"

	"edgerelay/internal/dbx"
	"edgerelay/internal/server/repositories/clients"
	"edgerelay/internal/server/repositories/messages"
	"edgerelay/internal/server/repositories/receipts"
)

type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Clients(db dbx.DBTX) clients.Repository
	Messages(db dbx.DBTX) messages.Repository
	Receipts(db dbx.DBTX) receipts.Repository
}
