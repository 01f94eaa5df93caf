// Package idset implements the compact, serialisable identifier-set
// abstraction that every index table stores: union, intersection,
// set-difference, membership, cardinality, and a bounded byte encoding.
//
// Entry ids are 63-bit, so the set is backed by a 64-bit roaring bitmap
// rather than the 32-bit github.com/RoaringBitmap/roaring/v2 core type.
package idset

import (
	"bytes"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// IdSet is a compact set of entry ids.
type IdSet struct {
	bm *roaring64.Bitmap
}

// New returns an empty IdSet.
func New() IdSet {
	return IdSet{bm: roaring64.New()}
}

// FromSlice builds an IdSet containing exactly the given ids.
func FromSlice(ids []uint64) IdSet {
	s := New()
	for _, id := range ids {
		s.bm.Add(id)
	}
	return s
}

func (s IdSet) ensure() *roaring64.Bitmap {
	if s.bm == nil {
		return roaring64.New()
	}
	return s.bm
}

// Insert adds id to the set, returning a set that contains it (IdSet is
// a thin value wrapper; the underlying bitmap is mutated in place when
// non-nil, matching the "insert into the current set" idiom the index
// maintainer relies on).
func (s IdSet) Insert(id uint64) IdSet {
	bm := s.ensure()
	bm.Add(id)
	return IdSet{bm: bm}
}

// Remove removes id from the set.
func (s IdSet) Remove(id uint64) IdSet {
	bm := s.ensure()
	bm.Remove(id)
	return IdSet{bm: bm}
}

// Contains reports whether id is a member of s.
func (s IdSet) Contains(id uint64) bool {
	if s.bm == nil {
		return false
	}
	return s.bm.Contains(id)
}

// Len returns the cardinality of s.
func (s IdSet) Len() uint64 {
	if s.bm == nil {
		return 0
	}
	return s.bm.GetCardinality()
}

// IsEmpty reports whether s has no members. Per the §3 invariant, an
// empty IdSet is never itself persisted as a row; absence of the row is
// how storage represents it.
func (s IdSet) IsEmpty() bool {
	return s.Len() == 0
}

// ToSlice returns the sorted member ids.
func (s IdSet) ToSlice() []uint64 {
	if s.bm == nil {
		return nil
	}
	return s.bm.ToArray()
}

// Union returns the set union of a and b. Neither input is mutated.
func Union(a, b IdSet) IdSet {
	out := roaring64.Or(a.ensure(), b.ensure())
	return IdSet{bm: out}
}

// Intersect returns the set intersection of a and b. Neither input is
// mutated.
func Intersect(a, b IdSet) IdSet {
	out := roaring64.And(a.ensure(), b.ensure())
	return IdSet{bm: out}
}

// AndNot returns a \ b (members of a not in b). Neither input is
// mutated.
func AndNot(a, b IdSet) IdSet {
	out := roaring64.AndNot(a.ensure(), b.ensure())
	return IdSet{bm: out}
}

// Clone returns an independent copy of s.
func (s IdSet) Clone() IdSet {
	if s.bm == nil {
		return New()
	}
	return IdSet{bm: s.bm.Clone()}
}

// Encode serialises s to its compact wire form. Decode(Encode(s)) == s
// for all s, including the empty set (though the empty set is never
// persisted as a row — see §3 — it is still a valid in-memory value that
// round-trips through Encode/Decode, e.g. across an RPC boundary).
func (s IdSet) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := s.ensure().WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode idset: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses the compact wire form produced by Encode.
func Decode(data []byte) (IdSet, error) {
	bm := roaring64.New()
	if len(data) == 0 {
		return IdSet{bm: bm}, nil
	}
	if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
		return IdSet{}, fmt.Errorf("decode idset: %w", err)
	}
	return IdSet{bm: bm}, nil
}
