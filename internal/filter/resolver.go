package filter

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dirserve/idlstore/internal/idset"
	"github.com/dirserve/idlstore/internal/types"
)

// DefaultThreshold is the reference implementation's candidate-set size
// threshold (§4.3): once an And's running candidate set drops below this
// size, the resolver hands it back as PARTIAL rather than doing further
// index work, since verifying each candidate against the filter is
// cheaper than continuing to intersect. It is a tunable, not a
// correctness parameter.
const DefaultThreshold = 8

// IndexReader is the minimal read surface the resolver needs from the KV
// layer's index store.
//
// GetIDL's second return value distinguishes "index table missing" from
// "table present, key absent": false means missing. The resolver degrades
// a leaf to UNIVERSE only when the lookup reports false; an existing
// table with no row for the key must report true with an empty IdSet,
// which the leaf returns as EXACT(∅), never false.
type IndexReader interface {
	GetIDL(ctx context.Context, attr string, kind types.IndexKind, key string) (idset.IdSet, bool, error)
}

// Resolver implements filter2idl: translating a resolved filter tree into
// an idset.Result.
type Resolver struct {
	Threshold int
	Log       *zap.Logger
}

// NewResolver builds a Resolver with the reference threshold and a no-op
// logger.
func NewResolver() *Resolver {
	return &Resolver{Threshold: DefaultThreshold, Log: zap.NewNop()}
}

// threshold returns the candidate-size threshold. A zero Threshold
// disables the size short-circuit (no set is smaller than 0); a negative
// one selects DefaultThreshold.
func (r *Resolver) threshold() int {
	if r.Threshold < 0 {
		return DefaultThreshold
	}
	return r.Threshold
}

func (r *Resolver) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

// Resolve walks f against idx and returns its EXACT/PARTIAL/UNIVERSE
// bound. It is a pure function of (f, idx's current contents): it never
// mutates the index store.
func (r *Resolver) Resolve(ctx context.Context, idx IndexReader, f Filter) (idset.Result, error) {
	switch n := f.(type) {
	case Eq:
		return r.resolveLeaf(ctx, idx, n.Attr, types.Equality, n.Key, n.Indexed)
	case Sub:
		return r.resolveLeaf(ctx, idx, n.Attr, types.Substring, n.Key, n.Indexed)
	case Pres:
		return r.resolveLeaf(ctx, idx, n.Attr, types.Presence, types.PresenceKey, n.Indexed)
	case Or:
		return r.resolveOr(ctx, idx, n)
	case And:
		return r.resolveAnd(ctx, idx, n)
	case AndNot:
		// A top-level AndNot (not a direct child of And) cannot be
		// bounded: the negation might exclude unknowns, so there is no
		// sound way to turn it into a positive candidate set. Per §4.3
		// this degrades to EXACT(∅) with a logged warning, not UNIVERSE:
		// a bare negation asserts nothing positive, so "no matches" is
		// the correct authoritative answer.
		r.logger().Warn("filter2idl: top-level AndNot cannot be bounded, returning EXACT(empty)",
			zap.String("op", "resolve"))
		return idset.Exact(idset.New()), nil
	default:
		return idset.Result{}, fmt.Errorf("filter2idl: %w: unrecognised filter node %T", types.ErrInvalidState, f)
	}
}

func (r *Resolver) resolveLeaf(ctx context.Context, idx IndexReader, attr string, kind types.IndexKind, key string, indexed bool) (idset.Result, error) {
	if !indexed {
		return idset.Universe, nil
	}
	s, ok, err := idx.GetIDL(ctx, attr, kind, key)
	if err != nil {
		return idset.Result{}, err
	}
	if !ok {
		// Missing index table (or, per the preserved Open Question
		// behaviour, any other "no answer" condition the index store
		// reports the same way) degrades conservatively to UNIVERSE.
		return idset.Universe, nil
	}
	return idset.Exact(s), nil
}

func (r *Resolver) resolveOr(ctx context.Context, idx IndexReader, n Or) (idset.Result, error) {
	acc := idset.New()
	partial := false
	for _, child := range n.Children {
		if _, isAndNot := child.(AndNot); isAndNot {
			// An AndNot contributes nothing useful inside an Or: it
			// can't be bounded without a positive seed, so it is
			// skipped (treated as empty), matching §4.3's "Top-level
			// AndNot" rule extended to Or children.
			r.logger().Warn("filter2idl: AndNot as Or child contributes nothing, skipping")
			continue
		}
		res, err := r.Resolve(ctx, idx, child)
		if err != nil {
			return idset.Result{}, err
		}
		switch res.Tag() {
		case idset.TagUniverse:
			return idset.Universe, nil
		case idset.TagPartial:
			set, _ := res.Set()
			acc = idset.Union(acc, set)
			partial = true
		case idset.TagExact:
			set, _ := res.Set()
			acc = idset.Union(acc, set)
		}
	}
	if partial {
		return idset.Partial(acc), nil
	}
	return idset.Exact(acc), nil
}

func (r *Resolver) resolveAnd(ctx context.Context, idx IndexReader, n And) (idset.Result, error) {
	var positives []Filter
	var negations []AndNot
	for _, child := range n.Children {
		if neg, ok := child.(AndNot); ok {
			negations = append(negations, neg)
			continue
		}
		positives = append(positives, child)
	}

	if len(positives) == 0 {
		// An And whose only constraints are negations has no positive
		// seed and is defined as empty: there is nothing to subtract
		// from.
		r.logger().Warn("filter2idl: And has no positive seed (all children are AndNot), returning EXACT(empty)")
		return idset.Exact(idset.New()), nil
	}

	cand, err := r.Resolve(ctx, idx, positives[0])
	if err != nil {
		return idset.Result{}, err
	}
	if belowThreshold(cand, r.threshold()) {
		return shortCircuit(cand), nil
	}

	for _, child := range positives[1:] {
		next, err := r.Resolve(ctx, idx, child)
		if err != nil {
			return idset.Result{}, err
		}
		cand = intersectResults(cand, next)
		if belowThreshold(cand, r.threshold()) {
			return shortCircuit(cand), nil
		}
	}

	for _, neg := range negations {
		sub, err := r.Resolve(ctx, idx, neg.Child)
		if err != nil {
			return idset.Result{}, err
		}
		cand = subtractResults(cand, sub)
		if belowThreshold(cand, r.threshold()) {
			return shortCircuit(cand), nil
		}
	}

	return cand, nil
}

// belowThreshold reports whether res is a bound set (not UNIVERSE) whose
// cardinality is below threshold.
func belowThreshold(res idset.Result, threshold int) bool {
	set, ok := res.Set()
	if !ok {
		return false
	}
	return set.Len() < uint64(threshold)
}

// shortCircuit converts an EXACT or PARTIAL result that has dropped below
// the candidate-size threshold into PARTIAL: the caller will verify each
// candidate directly, so further index work is wasted effort. UNIVERSE is
// returned unchanged (belowThreshold never reports true for it).
func shortCircuit(res idset.Result) idset.Result {
	if res.Tag() == idset.TagUniverse {
		return res
	}
	return res.AsPartial()
}

// intersectResults implements the And intersection-folding rule:
// EXACT ∩ EXACT = EXACT; any PARTIAL operand taints the result to
// PARTIAL; intersecting with UNIVERSE demotes a bound operand to
// PARTIAL(unchanged); UNIVERSE ∩ UNIVERSE = UNIVERSE.
func intersectResults(a, b idset.Result) idset.Result {
	aSet, aOK := a.Set()
	bSet, bOK := b.Set()

	switch {
	case aOK && bOK:
		inter := idset.Intersect(aSet, bSet)
		if a.Tag() == idset.TagExact && b.Tag() == idset.TagExact {
			return idset.Exact(inter)
		}
		return idset.Partial(inter)
	case aOK && !bOK:
		return idset.Partial(aSet)
	case !aOK && bOK:
		return idset.Partial(bSet)
	default:
		return idset.Universe
	}
}

// subtractResults implements the AndNot folding rule: X \ Y follows the
// same EXACT/PARTIAL tagging as intersection, except that if either side
// is UNIVERSE the result is UNIVERSE outright — the negation might
// exclude unknown entries, so no bound can be asserted.
func subtractResults(a, b idset.Result) idset.Result {
	if a.Tag() == idset.TagUniverse || b.Tag() == idset.TagUniverse {
		return idset.Universe
	}
	aSet, _ := a.Set()
	bSet, _ := b.Set()
	diff := idset.AndNot(aSet, bSet)
	if a.Tag() == idset.TagExact && b.Tag() == idset.TagExact {
		return idset.Exact(diff)
	}
	return idset.Partial(diff)
}
