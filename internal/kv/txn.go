package kv

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ReadTxn is a read-only handle: one pooled connection, BEGIN'd at
// construction. Multiple ReadTxns may coexist with each other and with
// the single live WriteTxn, relying on the KV engine's own MVCC
// behaviour for snapshot isolation.
type ReadTxn struct {
	pool   *Pool
	conn   *sql.Conn
	closed sync.Once
}

// WriteTxn is the sole write handle. Acquiring one blocks until any
// other live WriteTxn has been closed (committed or rolled back): this
// is the structural single-writer enforcement the façade relies on, not
// an advisory convention.
type WriteTxn struct {
	pool      *Pool
	conn      *sql.Conn
	committed bool
	closed    sync.Once
	idxMeta   IndexMetaSnapshot
}

// IndexMetaSnapshot is an immutable view of the index metadata a write
// transaction was opened with; it never changes for the transaction's
// lifetime.
type IndexMetaSnapshot struct {
	refs []indexRefKey
}

type indexRefKey struct {
	Attr string
	Kind string
}

// BeginRead opens a read transaction.
func (p *Pool) BeginRead(ctx context.Context) (*ReadTxn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, wrapDBError("begin read: acquire connection", err)
	}
	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		conn.Close()
		return nil, wrapDBError("begin read: BEGIN", err)
	}
	return &ReadTxn{pool: p, conn: conn}, nil
}

// Q returns the executor backing this read transaction.
func (t *ReadTxn) Q() Executor { return t.conn }

// Close rolls back the transaction (reads never commit). Per §5, a
// rollback failure here is fatal: the store's consistency guarantee
// cannot be trusted past a failed ROLLBACK, so we panic rather than
// silently continue.
func (t *ReadTxn) Close(ctx context.Context) {
	t.closed.Do(func() {
		defer t.conn.Close()
		if _, err := t.conn.ExecContext(ctx, "ROLLBACK TRANSACTION"); err != nil {
			t.pool.log.Error("kv: rollback failed on read transaction drop", zap.Error(err))
			panic(fmt.Errorf("kv: fatal: rollback failed: %w", err))
		}
	})
}

// BeginWrite acquires the single writer slot (blocking until it is
// free) and opens a BEGIN IMMEDIATE transaction, retrying on
// SQLITE_BUSY with exponential backoff. idxMeta is the index metadata
// declared active for this transaction; it is immutable for the
// transaction's lifetime.
func (p *Pool) BeginWrite(ctx context.Context, idxMeta IndexMetaSnapshot) (*WriteTxn, error) {
	if err := p.writeSem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("kv: acquire writer slot: %w", err)
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		p.writeSem.Release(1)
		return nil, wrapDBError("begin write: acquire connection", err)
	}

	if err := beginImmediateWithRetry(ctx, conn); err != nil {
		conn.Close()
		p.writeSem.Release(1)
		return nil, fmt.Errorf("kv: begin immediate: %w", err)
	}

	return &WriteTxn{pool: p, conn: conn, idxMeta: idxMeta}, nil
}

// beginImmediateWithRetry issues BEGIN IMMEDIATE, retrying with
// exponential backoff only on SQLITE_BUSY. IMMEDIATE acquires a RESERVED
// lock up front, which is what makes "only one writer at a time" a
// property of SQLite itself rather than just of writeSem: writeSem
// serialises our own process's writers, BEGIN IMMEDIATE serialises
// against any other process touching the same file. A non-busy failure
// (malformed SQL, a missing file, a schema error) is permanent and must
// surface immediately rather than being retried for ExponentialBackOff's
// entire MaxElapsedTime.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn) error {
	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE TRANSACTION")
		if err != nil && !isBusyError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// isBusyError reports whether err is SQLite's "database is locked"/
// SQLITE_BUSY condition, as opposed to a permanent fault.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "sqlite_busy") || strings.Contains(msg, "database is locked")
}

// Q returns the executor backing this write transaction.
func (t *WriteTxn) Q() Executor { return t.conn }

// IndexMeta returns the index metadata this write transaction was
// opened with.
func (t *WriteTxn) IndexMeta() IndexMetaSnapshot { return t.idxMeta }

// Commit issues COMMIT TRANSACTION and marks the transaction committed.
// Calling Close afterwards is a no-op beyond releasing resources.
func (t *WriteTxn) Commit(ctx context.Context) error {
	if _, err := t.conn.ExecContext(ctx, "COMMIT TRANSACTION"); err != nil {
		return wrapDBError("commit", err)
	}
	t.committed = true
	return nil
}

// Close rolls back the transaction unless Commit was already called,
// then releases the connection and the writer slot. A rollback failure
// is fatal for the same reason it is on ReadTxn.
func (t *WriteTxn) Close(ctx context.Context) {
	t.closed.Do(func() {
		defer t.pool.writeSem.Release(1)
		defer t.conn.Close()
		if t.committed {
			return
		}
		if _, err := t.conn.ExecContext(ctx, "ROLLBACK TRANSACTION"); err != nil {
			t.pool.log.Error("kv: rollback failed on write transaction drop", zap.Error(err))
			panic(fmt.Errorf("kv: fatal: rollback failed: %w", err))
		}
	})
}
