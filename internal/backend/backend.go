// Package backend is the façade: Create, Modify, Delete, Search, Exists,
// Reindex, UpgradeReindex, Backup, Restore, and server-id lifecycle, all
// wired on top of internal/kv, internal/filter, and internal/maintain.
package backend

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/dirserve/idlstore/internal/audit"
	"github.com/dirserve/idlstore/internal/filter"
	"github.com/dirserve/idlstore/internal/idset"
	"github.com/dirserve/idlstore/internal/kv"
	"github.com/dirserve/idlstore/internal/kv/migrations"
	"github.com/dirserve/idlstore/internal/maintain"
	"github.com/dirserve/idlstore/internal/types"
)

// EntryMatcher tests whether e satisfies f without consulting any index;
// it stands in for the schema layer's entry_match_no_index, used to
// finish off PARTIAL and UNIVERSE resolver results.
type EntryMatcher func(e *types.Entry, f filter.Filter) bool

// Backend is the storage engine's public surface.
type Backend struct {
	pool     *kv.Pool
	resolver *filter.Resolver
	tracer   audit.Tracer
	match    EntryMatcher
	diffFn   maintain.AttrValueFunc
	meta     types.IndexMeta
	log      *zap.Logger
}

// Config gathers Backend's construction-time dependencies.
type Config struct {
	Pool      *kv.Pool
	Meta      types.IndexMeta
	Match     EntryMatcher
	AttrValue maintain.AttrValueFunc
	Tracer    audit.Tracer
	Threshold int
	Log       *zap.Logger
}

// New builds a Backend over an already-opened kv.Pool.
func New(cfg Config) (*Backend, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("backend: nil pool")
	}
	if cfg.Match == nil {
		return nil, fmt.Errorf("backend: nil EntryMatcher")
	}
	if cfg.AttrValue == nil {
		return nil, fmt.Errorf("backend: nil AttrValueFunc")
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	tracer := cfg.Tracer
	if tracer.IsZero() {
		tracer = audit.New(noop.NewTracerProvider().Tracer("github.com/dirserve/idlstore"))
	}
	r := filter.NewResolver()
	r.Log = log
	if cfg.Threshold > 0 {
		r.Threshold = cfg.Threshold
	}
	return &Backend{
		pool:     cfg.Pool,
		resolver: r,
		tracer:   tracer,
		match:    cfg.Match,
		diffFn:   cfg.AttrValue,
		meta:     cfg.Meta,
		log:      log,
	}, nil
}

func (b *Backend) idxMeta() kv.IndexMetaSnapshot { return kv.NewIndexMetaSnapshot(b.meta) }

// fail records err on span and logs it tagged with the span's correlation
// id, so a structured log line can be traced back to the exported span
// that recorded the same failure.
func (b *Backend) fail(span audit.Span, err error) {
	span.RecordError(err)
	b.log.Error("operation failed", zap.Error(err), zap.String("correlation_id", audit.CorrelationID(span)))
}

// Create allocates ids starting from GetMaxID()+1, writes the entries,
// and indexes each as a pure insert. It returns the entries stamped with
// their assigned ids, in input order.
func (b *Backend) Create(ctx context.Context, entries []*types.Entry) ([]*types.Entry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("create: %w", types.ErrEmptyRequest)
	}
	ctx, span, end := b.tracer.Start(ctx, "create")
	defer end()

	wt, err := b.pool.BeginWrite(ctx, b.idxMeta())
	if err != nil {
		b.fail(span, err)
		return nil, err
	}
	defer wt.Close(ctx)

	maxID, err := kv.GetMaxID(ctx, wt.Q())
	if err != nil {
		b.fail(span, err)
		return nil, err
	}

	stamped := make([]*types.Entry, len(entries))
	next := maxID + 1
	for i, e := range entries {
		stamped[i] = &types.Entry{ID: next, Payload: e.Payload}
		next++
	}

	if err := kv.WriteEntries(ctx, wt.Q(), stamped); err != nil {
		b.fail(span, err)
		return nil, err
	}

	for _, e := range stamped {
		edits, err := maintain.Diff(b.meta, nil, e, b.diffFn)
		if err != nil {
			b.fail(span, err)
			return nil, err
		}
		if err := maintain.Apply(ctx, wt.Q(), e.ID, edits, b.log); err != nil {
			b.fail(span, err)
			return nil, err
		}
	}

	if err := wt.Commit(ctx); err != nil {
		b.fail(span, err)
		return nil, err
	}
	return stamped, nil
}

// Modify rewrites preList's entries to postList's contents and reindexes
// each pair. The two lists must be the same nonzero length and
// positionally aligned: preList[i] and postList[i] describe the same
// entry before and after the change, so preList[i].ID == postList[i].ID.
func (b *Backend) Modify(ctx context.Context, preList, postList []*types.Entry) error {
	if len(preList) == 0 || len(postList) == 0 {
		return fmt.Errorf("modify: %w", types.ErrEmptyRequest)
	}
	if len(preList) != len(postList) {
		return fmt.Errorf("modify: %w: pre/post length mismatch", types.ErrInvalidEntryState)
	}
	for i := range preList {
		if !preList[i].Valid() || !postList[i].Valid() {
			return fmt.Errorf("modify: %w", types.ErrInvalidEntryID)
		}
		if preList[i].ID != postList[i].ID {
			return fmt.Errorf("modify: %w: pre/post id mismatch at index %d", types.ErrInvalidEntryState, i)
		}
	}

	ctx, span, end := b.tracer.Start(ctx, "modify")
	defer end()

	wt, err := b.pool.BeginWrite(ctx, b.idxMeta())
	if err != nil {
		b.fail(span, err)
		return err
	}
	defer wt.Close(ctx)

	if err := kv.WriteEntries(ctx, wt.Q(), postList); err != nil {
		b.fail(span, err)
		return err
	}

	for i := range preList {
		edits, err := maintain.Diff(b.meta, preList[i], postList[i], b.diffFn)
		if err != nil {
			b.fail(span, err)
			return err
		}
		if err := maintain.Apply(ctx, wt.Q(), postList[i].ID, edits, b.log); err != nil {
			b.fail(span, err)
			return err
		}
	}

	if err := wt.Commit(ctx); err != nil {
		b.fail(span, err)
		return err
	}
	return nil
}

// Delete removes entries by id and retires their index contributions.
func (b *Backend) Delete(ctx context.Context, entries []*types.Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("delete: %w", types.ErrEmptyRequest)
	}
	for _, e := range entries {
		if !e.Valid() {
			return fmt.Errorf("delete: %w", types.ErrInvalidEntryID)
		}
	}

	ctx, span, end := b.tracer.Start(ctx, "delete")
	defer end()

	wt, err := b.pool.BeginWrite(ctx, b.idxMeta())
	if err != nil {
		b.fail(span, err)
		return err
	}
	defer wt.Close(ctx)

	ids := make([]uint64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := kv.DeleteEntries(ctx, wt.Q(), ids); err != nil {
		b.fail(span, err)
		return err
	}

	for _, e := range entries {
		edits, err := maintain.Diff(b.meta, e, nil, b.diffFn)
		if err != nil {
			b.fail(span, err)
			return err
		}
		if err := maintain.Apply(ctx, wt.Q(), e.ID, edits, b.log); err != nil {
			b.fail(span, err)
			return err
		}
	}

	if err := wt.Commit(ctx); err != nil {
		b.fail(span, err)
		return err
	}
	return nil
}

// indexReader adapts a kv.Executor + index metadata view to
// filter.IndexReader.
type indexReader struct {
	ctx context.Context
	ex  kv.Executor
}

func (r indexReader) GetIDL(ctx context.Context, attr string, kind types.IndexKind, key string) (idset.IdSet, bool, error) {
	return kv.GetIDL(ctx, r.ex, types.IndexRef{Attr: attr, Kind: kind}, key)
}

// Search resolves f, fetches candidate entries, and (unless the result
// was EXACT) filter-tests each candidate with the configured
// EntryMatcher before returning it.
func (b *Backend) Search(ctx context.Context, f filter.Filter) ([]*types.Entry, error) {
	ctx, span, end := b.tracer.Start(ctx, "search")
	defer end()

	rt, err := b.pool.BeginRead(ctx)
	if err != nil {
		b.fail(span, err)
		return nil, err
	}
	defer rt.Close(ctx)

	res, err := b.resolver.Resolve(ctx, indexReader{ctx: ctx, ex: rt.Q()}, f)
	if err != nil {
		b.fail(span, err)
		return nil, err
	}

	var candidates []*types.Entry
	if res.IsUniverse() {
		candidates, err = kv.ReadEntries(ctx, rt.Q(), kv.AllEntries())
	} else {
		s, _ := res.Set()
		candidates, err = kv.ReadEntries(ctx, rt.Q(), kv.ByIDs(s.ToSlice()))
	}
	if err != nil {
		b.fail(span, err)
		return nil, err
	}

	if res.IsExact() {
		return candidates, nil
	}

	out := make([]*types.Entry, 0, len(candidates))
	for _, e := range candidates {
		if b.match(e, f) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Exists reports whether any entry matches f. When the resolver returns
// EXACT it answers directly from the set's cardinality, never fetching
// entries.
func (b *Backend) Exists(ctx context.Context, f filter.Filter) (bool, error) {
	ctx, span, end := b.tracer.Start(ctx, "exists")
	defer end()

	rt, err := b.pool.BeginRead(ctx)
	if err != nil {
		b.fail(span, err)
		return false, err
	}
	defer rt.Close(ctx)

	res, err := b.resolver.Resolve(ctx, indexReader{ctx: ctx, ex: rt.Q()}, f)
	if err != nil {
		b.fail(span, err)
		return false, err
	}

	if res.IsExact() {
		s, _ := res.Set()
		return !s.IsEmpty(), nil
	}

	// Search opens its own read transaction; release this one first so an
	// in-memory store (pool size 1) has a connection free for it.
	rt.Close(ctx)
	entries, err := b.Search(ctx, f)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// Reindex drops every index table, recreates the tables declared in the
// active index metadata, and walks every entry applying a pure-insert
// diff against each.
func (b *Backend) Reindex(ctx context.Context) error {
	ctx, span, end := b.tracer.Start(ctx, "reindex")
	defer end()

	wt, err := b.pool.BeginWrite(ctx, b.idxMeta())
	if err != nil {
		b.fail(span, err)
		return err
	}
	defer wt.Close(ctx)

	if err := kv.PurgeIdxs(ctx, wt.Q()); err != nil {
		b.fail(span, err)
		return err
	}
	if err := kv.CreateBootstrapIdxs(ctx, wt.Q()); err != nil {
		b.fail(span, err)
		return err
	}
	for _, ref := range b.meta {
		if err := kv.CreateIdx(ctx, wt.Q(), ref); err != nil {
			b.fail(span, err)
			return err
		}
	}

	entries, err := kv.ReadEntries(ctx, wt.Q(), kv.AllEntries())
	if err != nil {
		b.fail(span, err)
		return err
	}
	for _, e := range entries {
		edits, err := maintain.Diff(b.meta, nil, e, b.diffFn)
		if err != nil {
			b.fail(span, err)
			return err
		}
		if err := maintain.Apply(ctx, wt.Q(), e.ID, edits, b.log); err != nil {
			b.fail(span, err)
			return err
		}
	}

	if err := kv.SetIndexVersion(ctx, wt.Q(), currentIndexVersion); err != nil {
		b.fail(span, err)
		return err
	}

	return wt.Commit(ctx)
}

// currentIndexVersion is the index-schema version Reindex stamps after a
// successful rebuild.
const currentIndexVersion = 1

// UpgradeReindex, when the store's recorded index-schema version is below
// v, applies every migration step registered from that version onward
// (migrations.Pending), bumping the recorded version after each step, then
// reindexes. Repeated calls with the same v are
// idempotent: once the recorded version reaches v, nothing runs.
func (b *Backend) UpgradeReindex(ctx context.Context, v int64) error {
	wt, err := b.pool.BeginWrite(ctx, b.idxMeta())
	if err != nil {
		return err
	}

	cur, err := kv.GetIndexVersion(ctx, wt.Q())
	if err != nil {
		wt.Close(ctx)
		return err
	}
	if cur >= v {
		wt.Close(ctx)
		return nil
	}

	for _, step := range migrations.Pending(cur) {
		if err := step.Run(ctx, wt.Q()); err != nil {
			wt.Close(ctx)
			return fmt.Errorf("upgrade reindex: step %q: %w", step.Name, err)
		}
		if err := kv.SetIndexVersion(ctx, wt.Q(), step.From+1); err != nil {
			wt.Close(ctx)
			return err
		}
	}

	if err := wt.Commit(ctx); err != nil {
		return err
	}
	return b.Reindex(ctx)
}

// ServerID returns the store's server id, minting one on first access.
func (b *Backend) ServerID(ctx context.Context) (uint32, error) {
	wt, err := b.pool.BeginWrite(ctx, b.idxMeta())
	if err != nil {
		return 0, err
	}
	defer wt.Close(ctx)

	sid, err := kv.GetServerID(ctx, wt.Q())
	if err != nil {
		return 0, err
	}
	if err := wt.Commit(ctx); err != nil {
		return 0, err
	}
	return sid, nil
}

// ResetServerID mints and persists a fresh server id, discarding the
// current one.
func (b *Backend) ResetServerID(ctx context.Context) (uint32, error) {
	wt, err := b.pool.BeginWrite(ctx, b.idxMeta())
	if err != nil {
		return 0, err
	}
	defer wt.Close(ctx)

	sid, err := kv.ResetServerID(ctx, wt.Q())
	if err != nil {
		return 0, err
	}
	if err := wt.Commit(ctx); err != nil {
		return 0, err
	}
	return sid, nil
}

// Verify recomputes every entry's expected index keys via the configured
// AttrValueFunc and compares them against the stored index contents,
// returning one ConsistencyError per divergent (attr, kind, key). Only
// keys that some entry produces are checked; a stored key that no entry
// produces is not reported. A nil result with a nil error means no
// divergence was found.
func (b *Backend) Verify(ctx context.Context) (types.ConsistencyErrors, error) {
	rt, err := b.pool.BeginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer rt.Close(ctx)

	entries, err := kv.ReadEntries(ctx, rt.Q(), kv.AllEntries())
	if err != nil {
		return nil, err
	}

	expected := make(map[types.IndexRef]map[string]idset.IdSet)
	for _, ref := range b.meta {
		expected[ref] = map[string]idset.IdSet{}
	}
	for _, e := range entries {
		for _, ref := range b.meta {
			for _, key := range b.diffFn(e, ref) {
				expected[ref][key] = expected[ref][key].Insert(e.ID)
			}
		}
	}

	var errs types.ConsistencyErrors
	for _, ref := range b.meta {
		ok, err := kv.ExistsIdx(ctx, rt.Q(), ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			errs = append(errs, &types.ConsistencyError{
				Attr: ref.Attr, Kind: ref.Kind, Key: "*", Detail: "index table missing",
			})
			continue
		}
		for key, want := range expected[ref] {
			got, _, err := kv.GetIDL(ctx, rt.Q(), ref, key)
			if err != nil {
				return nil, err
			}
			if got.Len() != want.Len() || !sameMembers(got, want) {
				errs = append(errs, &types.ConsistencyError{
					Attr: ref.Attr, Kind: ref.Kind, Key: key, Detail: "stored set disagrees with recomputed set",
				})
			}
		}
	}
	return errs, nil
}

func sameMembers(a, b idset.IdSet) bool {
	for _, id := range a.ToSlice() {
		if !b.Contains(id) {
			return false
		}
	}
	return true
}
