package idset

// Tag discriminates the three variants of a resolver result.
type Tag int

const (
	// TagExact means the filter is fully resolved; Set is the precise
	// match set.
	TagExact Tag = iota
	// TagPartial means Set is a correct superset of the match set;
	// membership must still be tested per entry.
	TagPartial
	// TagUniverse means no useful bound is available; every entry must
	// be scanned and tested.
	TagUniverse
)

func (t Tag) String() string {
	switch t {
	case TagExact:
		return "EXACT"
	case TagPartial:
		return "PARTIAL"
	case TagUniverse:
		return "UNIVERSE"
	default:
		return "UNKNOWN"
	}
}

// Result is the resolver's output: one of EXACT(s), PARTIAL(s), or
// UNIVERSE. EXACT(empty) ("no matches") must never be conflated with
// UNIVERSE ("unknown, scan everything") — the former is an authoritative
// negative.
type Result struct {
	tag Tag
	set IdSet
}

// Exact builds an EXACT(s) result.
func Exact(s IdSet) Result { return Result{tag: TagExact, set: s} }

// Partial builds a PARTIAL(s) result.
func Partial(s IdSet) Result { return Result{tag: TagPartial, set: s} }

// Universe is the UNIVERSE sentinel result.
var Universe = Result{tag: TagUniverse}

// Tag reports which of EXACT/PARTIAL/UNIVERSE this result is.
func (r Result) Tag() Tag { return r.tag }

// IsUniverse reports whether r carries no bound.
func (r Result) IsUniverse() bool { return r.tag == TagUniverse }

// IsExact reports whether r is a precise match set.
func (r Result) IsExact() bool { return r.tag == TagExact }

// Set returns the bound set and true, unless r is UNIVERSE in which case
// it returns the zero IdSet and false.
func (r Result) Set() (IdSet, bool) {
	if r.tag == TagUniverse {
		return IdSet{}, false
	}
	return r.set, true
}

// AsPartial demotes an EXACT or PARTIAL result to PARTIAL, preserving its
// set. Calling it on UNIVERSE is a programming error and panics, since
// UNIVERSE carries no set to demote.
func (r Result) AsPartial() Result {
	if r.tag == TagUniverse {
		panic("idset: AsPartial called on UNIVERSE result")
	}
	return Partial(r.set)
}
