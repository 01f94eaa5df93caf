package kv

import (
	"context"
	"fmt"

	"github.com/dirserve/idlstore/internal/idset"
	"github.com/dirserve/idlstore/internal/types"
)

// NewIndexMetaSnapshot freezes a types.IndexMeta into the form WriteTxn
// carries for the duration of a transaction.
func NewIndexMetaSnapshot(meta types.IndexMeta) IndexMetaSnapshot {
	refs := make([]indexRefKey, len(meta))
	for i, r := range meta {
		refs[i] = indexRefKey{Attr: r.Attr, Kind: r.Kind.AsIdxStr()}
	}
	return IndexMetaSnapshot{refs: refs}
}

func ddlIndexTable(ref types.IndexRef) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			idl BLOB NOT NULL
		)`, ref.TableName())
}

// CreateIdx creates the backing table for ref if it does not already
// exist. It is idempotent.
func CreateIdx(ctx context.Context, ex Executor, ref types.IndexRef) error {
	_, err := ex.ExecContext(ctx, ddlIndexTable(ref))
	return wrapDBError(fmt.Sprintf("create index %s", ref.TableName()), err)
}

// ExistsIdx reports whether ref's backing table has been created.
func ExistsIdx(ctx context.Context, ex Executor, ref types.IndexRef) (bool, error) {
	var name string
	err := ex.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, ref.TableName()).Scan(&name)
	if err != nil {
		if isNotFound(wrapDBError("exists idx", err)) {
			return false, nil
		}
		return false, wrapDBError(fmt.Sprintf("exists idx %s", ref.TableName()), err)
	}
	return true, nil
}

// GetIDL reads the id set stored under key in ref's table. The second
// return value is false when ref's table itself does not exist yet
// (filter.IndexReader's "table missing" case), never merely when the
// key is absent from an existing table -- an absent key there is a
// legitimate EXACT(empty) row.
func GetIDL(ctx context.Context, ex Executor, ref types.IndexRef, key string) (idset.IdSet, bool, error) {
	ok, err := ExistsIdx(ctx, ex, ref)
	if err != nil {
		return idset.IdSet{}, false, err
	}
	if !ok {
		return idset.IdSet{}, false, nil
	}

	var blob []byte
	err = ex.QueryRowContext(ctx, fmt.Sprintf(`SELECT idl FROM %s WHERE key = ?`, ref.TableName()), key).Scan(&blob)
	if err != nil {
		wrapped := wrapDBError(fmt.Sprintf("get idl %s/%s", ref.TableName(), key), err)
		if isNotFound(wrapped) {
			return idset.New(), true, nil
		}
		return idset.IdSet{}, false, wrapped
	}

	s, err := idset.Decode(blob)
	if err != nil {
		return idset.IdSet{}, false, fmt.Errorf("get idl %s/%s: %w: %w", ref.TableName(), key, types.ErrSerialisationError, err)
	}
	return s, true, nil
}

// WriteIDL stores s under key in ref's table. A row is never written
// for an empty set: row absence already encodes EXACT(empty), so
// writing one would be redundant and would make an empty-vs-missing
// distinction the reader has to guard against for no reason. An
// existing row for key is deleted if s is empty.
func WriteIDL(ctx context.Context, ex Executor, ref types.IndexRef, key string, s idset.IdSet) error {
	if s.IsEmpty() {
		_, err := ex.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, ref.TableName()), key)
		return wrapDBError(fmt.Sprintf("clear idl %s/%s", ref.TableName(), key), err)
	}

	blob, err := s.Encode()
	if err != nil {
		return fmt.Errorf("write idl %s/%s: %w: %w", ref.TableName(), key, types.ErrSerialisationError, err)
	}

	_, err = ex.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, idl) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET idl = excluded.idl
	`, ref.TableName()), key, blob)
	return wrapDBError(fmt.Sprintf("write idl %s/%s", ref.TableName(), key), err)
}

// ListIdxs returns every idx_* table currently present in the schema.
func ListIdxs(ctx context.Context, ex Executor) ([]string, error) {
	rows, err := ex.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'idx\_%' ESCAPE '\'`)
	if err != nil {
		return nil, wrapDBError("list idxs", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapDBError("list idxs: scan", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("list idxs: iterate", err)
	}
	return names, nil
}

// PurgeIdxs drops every idx_* table. Reindex and UpgradeReindex use this
// to rebuild from a clean slate.
func PurgeIdxs(ctx context.Context, ex Executor) error {
	names, err := ListIdxs(ctx, ex)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := ex.ExecContext(ctx, fmt.Sprintf(`DROP TABLE %s`, name)); err != nil {
			return wrapDBError(fmt.Sprintf("drop %s", name), err)
		}
	}
	return nil
}
