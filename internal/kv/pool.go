// Package kv implements the durable, transactional key-value layer: an
// entry table, a family of index tables, a version table, and a
// server-id cell, all backed by an embedded modernc.org/sqlite database.
// It owns the connection pool and the begin/commit/rollback discipline;
// everything above it (the index store types, the resolver, the
// maintainer, the façade) treats it as the sole durability boundary.
package kv

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Pool owns a small set of connections to one embedded store and the
// structural single-writer gate: only one WriteTxn may be live at a
// time, enforced by a weighted semaphore of size 1 rather than by
// caller discipline.
type Pool struct {
	db       *sql.DB
	path     string
	writeSem *semaphore.Weighted
	log      *zap.Logger
}

// New opens (and, if necessary, creates) the store at path. path == ""
// selects an ephemeral in-memory store, forcing poolSize to 1 to
// preserve consistency: every transaction on it then runs over the same
// single connection, one at a time.
func New(ctx context.Context, path string, poolSize int, log *zap.Logger) (*Pool, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if path == "" {
		poolSize = 1
	}
	if poolSize < 1 {
		poolSize = 1
	}

	db, err := sql.Open("sqlite", buildDSN(path, false))
	if err != nil {
		return nil, fmt.Errorf("kv: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)

	p := &Pool{
		db:       db,
		path:     path,
		writeSem: semaphore.NewWeighted(1),
		log:      log,
	}

	if err := p.setup(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return p, nil
}

// Close releases the underlying connection pool. It does not wait for
// in-flight transactions; callers are expected to have closed every
// ReadTxn/WriteTxn first.
func (p *Pool) Close() error {
	return p.db.Close()
}
