package idset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	s := FromSlice([]uint64{1, 2, 3, 1 << 40})
	data, err := s.Encode()
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, s.ToSlice(), got.ToSlice())
}

func TestRoundTripEmpty(t *testing.T) {
	s := New()
	data, err := s.Encode()
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.True(t, got.IsEmpty())
}

func TestUnionIntersectAndNot(t *testing.T) {
	a := FromSlice([]uint64{1, 2, 3})
	b := FromSlice([]uint64{2, 3, 4})

	require.ElementsMatch(t, []uint64{1, 2, 3, 4}, Union(a, b).ToSlice())
	require.ElementsMatch(t, []uint64{2, 3}, Intersect(a, b).ToSlice())
	require.ElementsMatch(t, []uint64{1}, AndNot(a, b).ToSlice())

	// Inputs must not be mutated by the set-algebra helpers.
	require.ElementsMatch(t, []uint64{1, 2, 3}, a.ToSlice())
	require.ElementsMatch(t, []uint64{2, 3, 4}, b.ToSlice())
}

func TestInsertRemoveContains(t *testing.T) {
	s := New()
	s = s.Insert(42)
	require.True(t, s.Contains(42))
	require.Equal(t, uint64(1), s.Len())

	s = s.Remove(42)
	require.False(t, s.Contains(42))
	require.True(t, s.IsEmpty())
}

func TestResultExactVsUniverse(t *testing.T) {
	empty := Exact(New())
	require.True(t, empty.IsExact())
	set, ok := empty.Set()
	require.True(t, ok)
	require.True(t, set.IsEmpty())

	u := Universe
	require.True(t, u.IsUniverse())
	_, ok = u.Set()
	require.False(t, ok)
}

func TestAsPartialPanicsOnUniverse(t *testing.T) {
	require.Panics(t, func() {
		Universe.AsPartial()
	})
}
