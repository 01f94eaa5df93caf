// Package types holds the data model shared across the storage engine:
// entries, index kinds and metadata, and the small error taxonomy that
// crosses the core boundary.
package types

import "fmt"

// IndexKind discriminates the three supported index shapes over an
// attribute name.
type IndexKind int

const (
	// Equality maps a canonicalised value key to the IdSet of entries
	// having that value.
	Equality IndexKind = iota
	// Presence is a single bucket, keyed by the constant "_", holding the
	// IdSet of entries for which the attribute has any value.
	Presence
	// Substring maps a canonicalised substring fragment to the IdSet of
	// entries whose value contains it.
	Substring
)

// PresenceKey is the constant bucket key used by Presence indexes.
const PresenceKey = "_"

// AsIdxStr returns the exact string used in index table names
// (idx_<kind>_<attr>) and in IndexKind wire encodings. These strings come
// from the schema layer's IndexType.as_idx_str contract.
func (k IndexKind) AsIdxStr() string {
	switch k {
	case Equality:
		return "eq"
	case Presence:
		return "pres"
	case Substring:
		return "sub"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseIndexKind parses the idx_<kind>_<attr> discriminator back into an
// IndexKind.
func ParseIndexKind(s string) (IndexKind, bool) {
	switch s {
	case "eq":
		return Equality, true
	case "pres":
		return Presence, true
	case "sub":
		return Substring, true
	default:
		return 0, false
	}
}

// IndexRef names one active index: an (attribute, kind) pair. Each
// IndexRef maps to exactly one persistent table, named deterministically
// idx_<kind>_<attr>.
type IndexRef struct {
	Attr string
	Kind IndexKind
}

// TableName returns the deterministic index table name for this ref.
func (r IndexRef) TableName() string {
	return "idx_" + r.Kind.AsIdxStr() + "_" + r.Attr
}

// IndexMeta is the ordered set of (attr, kind) pairs declared active for a
// write transaction. Order is preserved: reindex recreates tables in
// declaration order.
type IndexMeta []IndexRef

// Contains reports whether ref is present in m.
func (m IndexMeta) Contains(ref IndexRef) bool {
	for _, r := range m {
		if r == ref {
			return true
		}
	}
	return false
}

// EditOp discriminates the two kinds of index edit the maintainer applies.
type EditOp int

const (
	// Add inserts the entry's id into the target key's IdSet.
	Add EditOp = iota
	// Remove removes the entry's id from the target key's IdSet.
	Remove
)

func (op EditOp) String() string {
	if op == Add {
		return "ADD"
	}
	return "REMOVE"
}

// Edit is one instruction the index maintainer must apply: insert or
// remove an entry's id from the IdSet stored at (Attr, Kind, Key).
type Edit struct {
	Op   EditOp
	Attr string
	Kind IndexKind
	Key  string
}
