package kv

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// memDBSeq hands out a unique suffix per in-memory Pool so that two
// Pools opened with path == "" in the same process never share data
// under SQLite's shared-cache naming.
var memDBSeq atomic.Uint64

// buildDSN constructs the modernc.org/sqlite connection string for path,
// appending the pragmas the KV layer always wants: a generous busy
// timeout (SQLITE_BUSY retries are also handled at the Go level by
// beginImmediateWithRetry, but the pragma bounds how long a single
// statement blocks on a lock before surfacing SQLITE_BUSY at all) and
// foreign key enforcement.
//
// path == "" selects an ephemeral, process-private in-memory database.
func buildDSN(path string, readOnly bool) string {
	if path == "" {
		// A uniquely-named, cache=shared in-memory database: cache=shared
		// is required so every connection this Pool opens (via
		// database/sql's pool) sees the same in-memory data, but the bare
		// ":memory:" DSN would let every in-memory Pool in the process
		// share one shared-cache database by that name. Mixing a
		// per-Pool sequence number into the name keeps each Pool's
		// database isolated from every other Pool's.
		return fmt.Sprintf("file:idlstore-ephemeral-%d?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", memDBSeq.Add(1))
	}

	var b strings.Builder
	if strings.HasPrefix(path, "file:") {
		b.WriteString(path)
	} else {
		fmt.Fprintf(&b, "file:%s", path)
	}
	sep := "?"
	if strings.Contains(b.String(), "?") {
		sep = "&"
	}
	if readOnly {
		b.WriteString(sep + "mode=ro")
		sep = "&"
	}
	b.WriteString(sep + "_pragma=busy_timeout(30000)")
	b.WriteString("&_pragma=foreign_keys(1)")
	return b.String()
}
