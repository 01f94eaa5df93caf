package kv

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dirserve/idlstore/internal/types"
)

// ErrNotFound is a package-local sentinel for "no row"; callers that need
// to distinguish it from a generic storage fault use errors.Is.
var ErrNotFound = errors.New("kv: not found")

// wrapDBError maps a database/sql error to the core error taxonomy,
// tagging it with op for diagnostics. sql.ErrNoRows becomes ErrNotFound;
// everything else becomes types.ErrStorageError.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return types.WrapStorageError(op, err)
}
