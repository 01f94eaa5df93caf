package kv

import (
	"context"
	"database/sql"
)

// Executor is the minimal database/sql surface the entry and index
// primitives need. *sql.DB, *sql.Conn, and *sql.Tx all satisfy it, so the
// same primitive functions run equally well against a pooled connection
// in Setup, a ReadTxn, or a WriteTxn.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
