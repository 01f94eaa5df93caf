package maintain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dirserve/idlstore/internal/kv"
	"github.com/dirserve/idlstore/internal/types"
)

// nameValue models one attribute "name" carrying a single string value, plus
// a presence index over it: exactly what a real schema layer's
// idx_diff would compute for a simple single-valued attribute.
func nameValue(e *types.Entry, ref types.IndexRef) []string {
	if e == nil {
		return nil
	}
	switch ref.Kind {
	case types.Equality:
		return []string{string(e.Payload)}
	case types.Presence:
		if len(e.Payload) > 0 {
			return []string{types.PresenceKey}
		}
		return nil
	default:
		return nil
	}
}

func testMeta() types.IndexMeta {
	return types.IndexMeta{
		{Attr: "name", Kind: types.Equality},
		{Attr: "name", Kind: types.Presence},
	}
}

func TestDiffInsertProducesAddsOnly(t *testing.T) {
	post := &types.Entry{ID: 1, Payload: []byte("alice")}
	edits, err := Diff(testMeta(), nil, post, nameValue)
	require.NoError(t, err)
	require.Len(t, edits, 2)
	for _, e := range edits {
		require.Equal(t, types.Add, e.Op)
	}
}

func TestDiffDeleteProducesRemovesOnly(t *testing.T) {
	pre := &types.Entry{ID: 1, Payload: []byte("alice")}
	edits, err := Diff(testMeta(), pre, nil, nameValue)
	require.NoError(t, err)
	require.Len(t, edits, 2)
	for _, e := range edits {
		require.Equal(t, types.Remove, e.Op)
	}
}

func TestDiffModifyUnchangedValueProducesNoEdits(t *testing.T) {
	pre := &types.Entry{ID: 1, Payload: []byte("alice")}
	post := &types.Entry{ID: 1, Payload: []byte("alice")}
	edits, err := Diff(testMeta(), pre, post, nameValue)
	require.NoError(t, err)
	require.Empty(t, edits)
}

func TestDiffModifyChangedValueProducesAddAndRemove(t *testing.T) {
	pre := &types.Entry{ID: 1, Payload: []byte("alice")}
	post := &types.Entry{ID: 1, Payload: []byte("bob")}
	edits, err := Diff(testMeta(), pre, post, nameValue)
	require.NoError(t, err)

	require.Contains(t, edits, types.Edit{Op: types.Remove, Attr: "name", Kind: types.Equality, Key: "alice"})
	require.Contains(t, edits, types.Edit{Op: types.Add, Attr: "name", Kind: types.Equality, Key: "bob"})
	// presence key "_" is unchanged on both sides, so no presence edits.
	for _, e := range edits {
		require.NotEqual(t, types.Presence, e.Kind)
	}
}

func TestDiffNilFuncIsError(t *testing.T) {
	_, err := Diff(testMeta(), nil, nil, nil)
	require.Error(t, err)
}

func newTestPool(t *testing.T) *kv.Pool {
	t.Helper()
	p, err := kv.New(context.Background(), "", 1, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Close()) })
	return p
}

func TestApplyAddThenRemoveRoundTrips(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t)
	log := zaptest.NewLogger(t)

	ref := types.IndexRef{Attr: "name", Kind: types.Equality}

	wt, err := p.BeginWrite(ctx, kv.NewIndexMetaSnapshot(testMeta()))
	require.NoError(t, err)
	require.NoError(t, kv.CreateIdx(ctx, wt.Q(), ref))

	edits, err := Diff(testMeta(), nil, &types.Entry{ID: 42, Payload: []byte("alice")}, nameValue)
	require.NoError(t, err)
	// Apply only the equality edit here; the presence table was not created,
	// exercising the missing-table skip path below in a separate test.
	var eqEdits []types.Edit
	for _, e := range edits {
		if e.Kind == types.Equality {
			eqEdits = append(eqEdits, e)
		}
	}
	require.NoError(t, Apply(ctx, wt.Q(), 42, eqEdits, log))
	require.NoError(t, wt.Commit(ctx))
	wt.Close(ctx)

	rt, err := p.BeginRead(ctx)
	require.NoError(t, err)
	s, ok, err := kv.GetIDL(ctx, rt.Q(), ref, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, s.Contains(42))
	rt.Close(ctx)

	wt2, err := p.BeginWrite(ctx, kv.NewIndexMetaSnapshot(testMeta()))
	require.NoError(t, err)
	removeEdits, err := Diff(testMeta(), &types.Entry{ID: 42, Payload: []byte("alice")}, nil, nameValue)
	require.NoError(t, err)
	var eqRemoves []types.Edit
	for _, e := range removeEdits {
		if e.Kind == types.Equality {
			eqRemoves = append(eqRemoves, e)
		}
	}
	require.NoError(t, Apply(ctx, wt2.Q(), 42, eqRemoves, log))
	require.NoError(t, wt2.Commit(ctx))
	wt2.Close(ctx)

	rt2, err := p.BeginRead(ctx)
	require.NoError(t, err)
	defer rt2.Close(ctx)
	s2, ok, err := kv.GetIDL(ctx, rt2.Q(), ref, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, s2.Contains(42))
}

func TestApplySkipsMissingIndexTableWithoutError(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t)
	log := zaptest.NewLogger(t)

	wt, err := p.BeginWrite(ctx, kv.NewIndexMetaSnapshot(testMeta()))
	require.NoError(t, err)
	defer wt.Close(ctx)

	edits := []types.Edit{{Op: types.Add, Attr: "nope", Kind: types.Equality, Key: "x"}}
	require.NoError(t, Apply(ctx, wt.Q(), 1, edits, log))
}
