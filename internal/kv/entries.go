package kv

import (
	"context"
	"fmt"
	"strings"

	"github.com/dirserve/idlstore/internal/types"
)

// IdSelector chooses which rows ReadEntries returns: either every row in
// id2entry, or exactly the given ids (absent ids are simply omitted from
// the result, not reported as errors).
type IdSelector struct {
	all bool
	ids []uint64
}

// AllEntries selects every row in id2entry.
func AllEntries() IdSelector { return IdSelector{all: true} }

// ByIDs selects exactly the given ids.
func ByIDs(ids []uint64) IdSelector { return IdSelector{ids: ids} }

// GetMaxID returns the highest id currently stored in id2entry, or 0 if
// the table is empty.
func GetMaxID(ctx context.Context, ex Executor) (uint64, error) {
	var max int64
	err := ex.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM id2entry`).Scan(&max)
	if err != nil {
		return 0, wrapDBError("get max id", err)
	}
	return uint64(max), nil
}

// ReadEntries reads the rows matching sel, returning one *types.Entry per
// row found. Row order is not guaranteed.
func ReadEntries(ctx context.Context, ex Executor, sel IdSelector) ([]*types.Entry, error) {
	var rows interface {
		Close() error
		Next() bool
		Scan(dest ...any) error
		Err() error
	}

	if sel.all {
		r, err := ex.QueryContext(ctx, `SELECT id, data FROM id2entry`)
		if err != nil {
			return nil, wrapDBError("read entries: all", err)
		}
		rows = r
	} else {
		if len(sel.ids) == 0 {
			return nil, nil
		}
		placeholders := strings.Repeat("?,", len(sel.ids))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, len(sel.ids))
		for i, id := range sel.ids {
			args[i] = int64(id)
		}
		r, err := ex.QueryContext(ctx, fmt.Sprintf(`SELECT id, data FROM id2entry WHERE id IN (%s)`, placeholders), args...)
		if err != nil {
			return nil, wrapDBError("read entries: by ids", err)
		}
		rows = r
	}
	defer rows.Close()

	var out []*types.Entry
	for rows.Next() {
		var id int64
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, wrapDBError("read entries: scan", err)
		}
		out = append(out, &types.Entry{ID: uint64(id), Payload: data})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("read entries: iterate", err)
	}
	return out, nil
}

// WriteEntries upserts each entry's payload. Every entry must satisfy
// Entry.Valid(); the first invalid entry aborts the whole batch before
// any statement runs.
func WriteEntries(ctx context.Context, ex Executor, entries []*types.Entry) error {
	for _, e := range entries {
		if !e.Valid() {
			return fmt.Errorf("write entries: id %d: %w", e.ID, types.ErrInvalidEntryID)
		}
	}
	for _, e := range entries {
		_, err := ex.ExecContext(ctx, `
			INSERT INTO id2entry (id, data) VALUES (?, ?)
			ON CONFLICT (id) DO UPDATE SET data = excluded.data
		`, int64(e.ID), e.Payload)
		if err != nil {
			return wrapDBError(fmt.Sprintf("write entry %d", e.ID), err)
		}
	}
	return nil
}

// DeleteEntries removes the rows for the given ids. Deleting an id that
// does not exist is not an error.
func DeleteEntries(ctx context.Context, ex Executor, ids []uint64) error {
	for _, id := range ids {
		if _, err := ex.ExecContext(ctx, `DELETE FROM id2entry WHERE id = ?`, int64(id)); err != nil {
			return wrapDBError(fmt.Sprintf("delete entry %d", id), err)
		}
	}
	return nil
}

// PurgeEntryTable removes every row from id2entry. It is used by Restore
// to clear the store before reloading a backup.
func PurgeEntryTable(ctx context.Context, ex Executor) error {
	_, err := ex.ExecContext(ctx, `DELETE FROM id2entry`)
	return wrapDBError("purge entry table", err)
}
