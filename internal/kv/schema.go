package kv

import (
	"context"
	"errors"
	"fmt"
)

// Schema version keys in db_version.
const (
	versionKeyEntries = "id2entry"
	versionKeyIndex   = "indexv"
)

const ddlVersionTable = `
CREATE TABLE IF NOT EXISTS db_version (
	id TEXT PRIMARY KEY,
	version INTEGER NOT NULL
)`

const ddlEntryTable = `
CREATE TABLE IF NOT EXISTS id2entry (
	id INTEGER PRIMARY KEY ASC,
	data BLOB NOT NULL
)`

const ddlServerIDTable = `
CREATE TABLE IF NOT EXISTS db_sid (
	id INTEGER PRIMARY KEY ASC,
	data BLOB NOT NULL
)`

// idx_name2uuid / idx_uuid2name are bootstrap-only tables: the core
// creates them unconditionally so the schema is complete, but their
// population is the schema layer's responsibility (out of scope here).
const ddlName2UUID = `
CREATE TABLE IF NOT EXISTS idx_name2uuid (
	name TEXT PRIMARY KEY,
	uuid TEXT
)`

const ddlUUID2Name = `
CREATE TABLE IF NOT EXISTS idx_uuid2name (
	uuid TEXT PRIMARY KEY,
	name TEXT
)`

// setup enables write-ahead logging, creates the version table if
// absent, and bootstraps the entry table, server-id table, and the
// name/uuid lookup tables at schema version 1 if the entry table has
// never been created. Index tables are created lazily by CreateIdx, not
// here.
func (p *Pool) setup(ctx context.Context) error {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return wrapDBError("setup: acquire connection", err)
	}
	defer conn.Close()

	// WAL may be a no-op (or may fail outright) against an in-memory
	// database; that's fine, only the write-ahead guarantee is being
	// asked for, not enforced.
	_, _ = conn.ExecContext(ctx, `PRAGMA journal_mode=WAL`)

	if _, err := conn.ExecContext(ctx, ddlVersionTable); err != nil {
		return wrapDBError("setup: create db_version", err)
	}

	v, err := getVersion(ctx, conn, versionKeyEntries)
	if err != nil {
		return fmt.Errorf("setup: read entry schema version: %w", err)
	}

	if v == 0 {
		for _, ddl := range []string{ddlEntryTable, ddlServerIDTable, ddlName2UUID, ddlUUID2Name} {
			if _, err := conn.ExecContext(ctx, ddl); err != nil {
				return wrapDBError("setup: bootstrap schema", err)
			}
		}
		if err := setVersion(ctx, conn, versionKeyEntries, 1); err != nil {
			return fmt.Errorf("setup: record entry schema version: %w", err)
		}
	}

	return nil
}

func getVersion(ctx context.Context, ex Executor, key string) (int64, error) {
	var v int64
	err := ex.QueryRowContext(ctx, `SELECT version FROM db_version WHERE id = ?`, key).Scan(&v)
	if err != nil {
		if wrapped := wrapDBError("get version", err); wrapped != nil {
			if isNotFound(wrapped) {
				return 0, nil
			}
			return 0, wrapped
		}
	}
	return v, nil
}

func setVersion(ctx context.Context, ex Executor, key string, v int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO db_version (id, version) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET version = excluded.version
	`, key, v)
	return wrapDBError("set version", err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// CreateBootstrapIdxs (re)creates the idx_name2uuid/idx_uuid2name tables.
// They match the idx_* naming pattern ListIdxs/PurgeIdxs use for declared
// indexes, so Reindex must recreate them explicitly after a purge -- they
// are not driven by IndexMeta and CreateIdx never touches them.
func CreateBootstrapIdxs(ctx context.Context, ex Executor) error {
	if _, err := ex.ExecContext(ctx, ddlName2UUID); err != nil {
		return wrapDBError("create bootstrap idx_name2uuid", err)
	}
	if _, err := ex.ExecContext(ctx, ddlUUID2Name); err != nil {
		return wrapDBError("create bootstrap idx_uuid2name", err)
	}
	return nil
}

// GetIndexVersion returns the store's recorded index-schema version
// ("indexv"), or 0 if never recorded.
func GetIndexVersion(ctx context.Context, ex Executor) (int64, error) {
	return getVersion(ctx, ex, versionKeyIndex)
}

// SetIndexVersion records v as the store's index-schema version.
func SetIndexVersion(ctx context.Context, ex Executor, v int64) error {
	return setVersion(ctx, ex, versionKeyIndex, v)
}
