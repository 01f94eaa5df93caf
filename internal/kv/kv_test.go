package kv

import (
	"context"
	"errors"
	"testing"

	"github.com/dirserve/idlstore/internal/idset"
	"github.com/dirserve/idlstore/internal/types"
)

// loadTestIDL seeds a raw IdSet directly into an index table, bypassing
// the maintainer entirely. Tests use it to set up index fixtures without
// having to drive Apply/Diff first.
func loadTestIDL(ctx context.Context, t *testing.T, ex Executor, ref types.IndexRef, key string, ids []uint64) {
	t.Helper()
	if err := CreateIdx(ctx, ex, ref); err != nil {
		t.Fatalf("loadTestIDL: CreateIdx: %v", err)
	}
	if err := WriteIDL(ctx, ex, ref, key, idset.FromSlice(ids)); err != nil {
		t.Fatalf("loadTestIDL: WriteIDL: %v", err)
	}
}

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	p, err := New(context.Background(), "", 1, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := p.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return p
}

func TestWriteReadDeleteEntries(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t)

	wt, err := p.BeginWrite(ctx, IndexMetaSnapshot{})
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	entries := []*types.Entry{
		{ID: 1, Payload: []byte("one")},
		{ID: 2, Payload: []byte("two")},
	}
	if err := WriteEntries(ctx, wt.Q(), entries); err != nil {
		t.Fatalf("WriteEntries: %v", err)
	}
	if err := wt.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wt.Close(ctx)

	rt, err := p.BeginRead(ctx)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer rt.Close(ctx)

	got, err := ReadEntries(ctx, rt.Q(), AllEntries())
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 entries, got %d", len(got))
	}

	max, err := GetMaxID(ctx, rt.Q())
	if err != nil {
		t.Fatalf("GetMaxID: %v", err)
	}
	if max != 2 {
		t.Fatalf("want max id 2, got %d", max)
	}

	wt2, err := p.BeginWrite(ctx, IndexMetaSnapshot{})
	if err != nil {
		t.Fatalf("BeginWrite 2: %v", err)
	}
	if err := DeleteEntries(ctx, wt2.Q(), []uint64{1}); err != nil {
		t.Fatalf("DeleteEntries: %v", err)
	}
	if err := wt2.Commit(ctx); err != nil {
		t.Fatalf("Commit 2: %v", err)
	}
	wt2.Close(ctx)

	rt2, err := p.BeginRead(ctx)
	if err != nil {
		t.Fatalf("BeginRead 2: %v", err)
	}
	defer rt2.Close(ctx)
	remaining, err := ReadEntries(ctx, rt2.Q(), ByIDs([]uint64{1, 2}))
	if err != nil {
		t.Fatalf("ReadEntries 2: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != 2 {
		t.Fatalf("want only id 2 remaining, got %+v", remaining)
	}
}

func TestWriteEntriesRejectsInvalidIDWithoutPartialWrite(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t)

	wt, err := p.BeginWrite(ctx, IndexMetaSnapshot{})
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	defer wt.Close(ctx)

	err = WriteEntries(ctx, wt.Q(), []*types.Entry{
		{ID: 1, Payload: []byte("ok")},
		{ID: 0, Payload: []byte("bad")},
	})
	if err == nil {
		t.Fatal("want error for invalid entry id 0")
	}

	got, err := ReadEntries(ctx, wt.Q(), AllEntries())
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("want no entries written after validation failure, got %d", len(got))
	}
}

func TestRollbackOnCloseWithoutCommit(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t)

	wt, err := p.BeginWrite(ctx, IndexMetaSnapshot{})
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := WriteEntries(ctx, wt.Q(), []*types.Entry{{ID: 1, Payload: []byte("x")}}); err != nil {
		t.Fatalf("WriteEntries: %v", err)
	}
	wt.Close(ctx) // never committed

	rt, err := p.BeginRead(ctx)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer rt.Close(ctx)
	got, err := ReadEntries(ctx, rt.Q(), AllEntries())
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("want rollback to have discarded the write, got %d entries", len(got))
	}
}

func TestWriteSemaphoreSerialisesWriters(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t)

	wt1, err := p.BeginWrite(ctx, IndexMetaSnapshot{})
	if err != nil {
		t.Fatalf("BeginWrite 1: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		wt2, err := p.BeginWrite(ctx, IndexMetaSnapshot{})
		if err != nil {
			return
		}
		close(acquired)
		wt2.Close(ctx)
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired the slot while the first was still open")
	default:
	}

	wt1.Close(ctx)
	<-acquired
}

func TestIndexCreateReadMissingVsEmpty(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t)
	ref := types.IndexRef{Attr: "name", Kind: types.Equality}

	rt, err := p.BeginRead(ctx)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	_, ok, err := GetIDL(ctx, rt.Q(), ref, "alice")
	if err != nil {
		t.Fatalf("GetIDL before table exists: %v", err)
	}
	if ok {
		t.Fatal("want ok=false when the index table does not exist yet")
	}
	rt.Close(ctx)

	wt, err := p.BeginWrite(ctx, IndexMetaSnapshot{})
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := CreateIdx(ctx, wt.Q(), ref); err != nil {
		t.Fatalf("CreateIdx: %v", err)
	}
	if err := wt.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wt.Close(ctx)

	rt2, err := p.BeginRead(ctx)
	if err != nil {
		t.Fatalf("BeginRead 2: %v", err)
	}
	defer rt2.Close(ctx)
	s, ok, err := GetIDL(ctx, rt2.Q(), ref, "alice")
	if err != nil {
		t.Fatalf("GetIDL after table exists: %v", err)
	}
	if !ok {
		t.Fatal("want ok=true once the table exists, even with no row for the key")
	}
	if !s.IsEmpty() {
		t.Fatal("want an empty set for an absent key in an existing table")
	}
}

func TestWriteIDLRoundTripAndEmptyDeletesRow(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t)
	ref := types.IndexRef{Attr: "name", Kind: types.Equality}

	wt, err := p.BeginWrite(ctx, IndexMetaSnapshot{})
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := CreateIdx(ctx, wt.Q(), ref); err != nil {
		t.Fatalf("CreateIdx: %v", err)
	}
	s := idset.FromSlice([]uint64{1, 2, 3})
	if err := WriteIDL(ctx, wt.Q(), ref, "alice", s); err != nil {
		t.Fatalf("WriteIDL: %v", err)
	}
	if err := wt.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wt.Close(ctx)

	rt, err := p.BeginRead(ctx)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	got, ok, err := GetIDL(ctx, rt.Q(), ref, "alice")
	if err != nil || !ok {
		t.Fatalf("GetIDL: ok=%v err=%v", ok, err)
	}
	if got.Len() != 3 {
		t.Fatalf("want 3 ids back, got %d", got.Len())
	}
	rt.Close(ctx)

	wt2, err := p.BeginWrite(ctx, IndexMetaSnapshot{})
	if err != nil {
		t.Fatalf("BeginWrite 2: %v", err)
	}
	if err := WriteIDL(ctx, wt2.Q(), ref, "alice", idset.New()); err != nil {
		t.Fatalf("WriteIDL empty: %v", err)
	}
	if err := wt2.Commit(ctx); err != nil {
		t.Fatalf("Commit 2: %v", err)
	}
	wt2.Close(ctx)

	rt2, err := p.BeginRead(ctx)
	if err != nil {
		t.Fatalf("BeginRead 2: %v", err)
	}
	defer rt2.Close(ctx)
	got2, ok2, err := GetIDL(ctx, rt2.Q(), ref, "alice")
	if err != nil || !ok2 {
		t.Fatalf("GetIDL after clearing: ok=%v err=%v", ok2, err)
	}
	if !got2.IsEmpty() {
		t.Fatal("want the row to have been deleted, yielding an empty set")
	}
}

func TestPurgeIdxsDropsAllIndexTables(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t)
	refA := types.IndexRef{Attr: "name", Kind: types.Equality}
	refB := types.IndexRef{Attr: "name", Kind: types.Substring}

	wt, err := p.BeginWrite(ctx, IndexMetaSnapshot{})
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := CreateIdx(ctx, wt.Q(), refA); err != nil {
		t.Fatalf("CreateIdx A: %v", err)
	}
	if err := CreateIdx(ctx, wt.Q(), refB); err != nil {
		t.Fatalf("CreateIdx B: %v", err)
	}
	if err := wt.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wt.Close(ctx)

	wt2, err := p.BeginWrite(ctx, IndexMetaSnapshot{})
	if err != nil {
		t.Fatalf("BeginWrite 2: %v", err)
	}
	if err := PurgeIdxs(ctx, wt2.Q()); err != nil {
		t.Fatalf("PurgeIdxs: %v", err)
	}
	if err := wt2.Commit(ctx); err != nil {
		t.Fatalf("Commit 2: %v", err)
	}
	wt2.Close(ctx)

	rt, err := p.BeginRead(ctx)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer rt.Close(ctx)
	names, err := ListIdxs(ctx, rt.Q())
	if err != nil {
		t.Fatalf("ListIdxs: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("want no index tables left after purge, got %v", names)
	}
}

func TestLoadTestIDLSeedsFixtureDirectly(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t)
	ref := types.IndexRef{Attr: "name", Kind: types.Equality}

	wt, err := p.BeginWrite(ctx, IndexMetaSnapshot{})
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	loadTestIDL(ctx, t, wt.Q(), ref, "bob", []uint64{7, 8, 9})
	if err := wt.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wt.Close(ctx)

	rt, err := p.BeginRead(ctx)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer rt.Close(ctx)
	s, ok, err := GetIDL(ctx, rt.Q(), ref, "bob")
	if err != nil || !ok {
		t.Fatalf("GetIDL: ok=%v err=%v", ok, err)
	}
	if s.Len() != 3 {
		t.Fatalf("want 3 ids from fixture, got %d", s.Len())
	}
}

func TestServerIDPersistsAndResetChangesIt(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t)

	wt, err := p.BeginWrite(ctx, IndexMetaSnapshot{})
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	sid1, err := GetServerID(ctx, wt.Q())
	if err != nil {
		t.Fatalf("GetServerID: %v", err)
	}
	sid1again, err := GetServerID(ctx, wt.Q())
	if err != nil {
		t.Fatalf("GetServerID again: %v", err)
	}
	if sid1 != sid1again {
		t.Fatalf("want stable server id across reads, got %d then %d", sid1, sid1again)
	}

	sid2, err := ResetServerID(ctx, wt.Q())
	if err != nil {
		t.Fatalf("ResetServerID: %v", err)
	}
	if err := wt.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wt.Close(ctx)

	rt, err := p.BeginRead(ctx)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer rt.Close(ctx)
	sidAfter, err := GetServerID(ctx, rt.Q())
	if err != nil {
		t.Fatalf("GetServerID after reset: %v", err)
	}
	if sidAfter != sid2 {
		t.Fatalf("want reset id %d to persist, got %d", sid2, sidAfter)
	}
}

func TestIsBusyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "database is locked", err: errors.New("database is locked"), expected: true},
		{name: "SQLITE_BUSY", err: errors.New("SQLITE_BUSY"), expected: true},
		{name: "SQLITE_BUSY with context", err: errors.New("failed to begin: SQLITE_BUSY: database is locked"), expected: true},
		{name: "other error", err: errors.New("some other database error"), expected: false},
		{name: "UNIQUE constraint error", err: errors.New("UNIQUE constraint failed: id2entry.id"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isBusyError(tt.err); got != tt.expected {
				t.Errorf("isBusyError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}
