// Package maintain keeps index tables in sync with entry mutations: it
// diffs an entry's before/after state into a list of edits and applies
// those edits to the KV layer's index tables.
package maintain

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dirserve/idlstore/internal/idset"
	"github.com/dirserve/idlstore/internal/kv"
	"github.com/dirserve/idlstore/internal/types"
)

// AttrValueFunc resolves the set of index keys an entry contributes for
// one (attr, kind) pair. For Equality/Substring this is typically the
// attribute's canonicalised value(s); for Presence it is either
// {types.PresenceKey} (attribute present) or no keys at all. A nil
// *types.Entry (entry does not exist on one side of the diff) must
// resolve to no keys.
type AttrValueFunc func(e *types.Entry, ref types.IndexRef) []string

// Diff computes the edits needed to move an entry's index footprint from
// pre to post, for every (attr, kind) pair declared in meta. pre == nil
// means the entry did not previously exist (pure insert); post == nil
// means the entry is being removed (pure delete). fn resolves the actual
// key set contributed for each ref; Diff itself only computes the set
// difference between the pre-keys and post-keys per ref.
func Diff(meta types.IndexMeta, pre, post *types.Entry, fn AttrValueFunc) ([]types.Edit, error) {
	if fn == nil {
		return nil, fmt.Errorf("maintain: diff: %w: nil AttrValueFunc", types.ErrInvalidState)
	}

	var edits []types.Edit
	for _, ref := range meta {
		preKeys := keySet(fn(pre, ref))
		postKeys := keySet(fn(post, ref))

		for k := range preKeys {
			if !postKeys[k] {
				edits = append(edits, types.Edit{Op: types.Remove, Attr: ref.Attr, Kind: ref.Kind, Key: k})
			}
		}
		for k := range postKeys {
			if !preKeys[k] {
				edits = append(edits, types.Edit{Op: types.Add, Attr: ref.Attr, Kind: ref.Kind, Key: k})
			}
		}
	}
	return edits, nil
}

func keySet(keys []string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// Apply applies edits to the index tables reachable through ex, each as
// a load -> mutate -> store-or-delete-row step: an Add inserts entryID
// into the key's IdSet, a Remove removes it. An edit whose target table
// does not exist is logged and skipped rather than treated as a fault --
// a declared index whose table has not yet been created (e.g. mid
// Reindex) must not abort an otherwise-valid entry write.
func Apply(ctx context.Context, ex kv.Executor, entryID uint64, edits []types.Edit, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	for _, e := range edits {
		ref := types.IndexRef{Attr: e.Attr, Kind: e.Kind}

		ok, err := kv.ExistsIdx(ctx, ex, ref)
		if err != nil {
			return fmt.Errorf("maintain: apply: check %s: %w", ref.TableName(), err)
		}
		if !ok {
			log.Warn("maintain: skipping edit against missing index table",
				zap.String("table", ref.TableName()),
				zap.Uint64("entry_id", entryID),
				zap.String("op", e.Op.String()))
			continue
		}

		cur, _, err := kv.GetIDL(ctx, ex, ref, e.Key)
		if err != nil {
			return fmt.Errorf("maintain: apply: load %s/%s: %w", ref.TableName(), e.Key, err)
		}

		var next idset.IdSet
		switch e.Op {
		case types.Add:
			next = cur.Insert(entryID)
		case types.Remove:
			next = cur.Remove(entryID)
		default:
			return fmt.Errorf("maintain: apply: %w: unrecognised edit op %v", types.ErrInvalidState, e.Op)
		}

		if err := kv.WriteIDL(ctx, ex, ref, e.Key, next); err != nil {
			return fmt.Errorf("maintain: apply: store %s/%s: %w", ref.TableName(), e.Key, err)
		}
	}
	return nil
}
