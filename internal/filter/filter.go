// Package filter implements the resolved filter tree and filter2idl, the
// pure function that walks it against an index reader to produce a
// three-valued identifier-set bound.
package filter

// Filter is a boolean tree over indexed attributes. Leaves carry an
// "indexed" hint and a pre-canonicalised key, computed by the schema
// layer (out of scope here — the resolver never canonicalises a raw
// value itself).
type Filter interface {
	isFilter()
}

// Eq is an equality leaf: attribute Attr equals the value whose
// canonicalised equality key is Key.
type Eq struct {
	Attr    string
	Key     string
	Indexed bool
}

// Sub is a substring leaf: attribute Attr's value contains the fragment
// whose canonicalised substring key is Key.
type Sub struct {
	Attr    string
	Key     string
	Indexed bool
}

// Pres is a presence leaf: attribute Attr has any value at all.
type Pres struct {
	Attr    string
	Indexed bool
}

// And is a conjunction of children. A child may be an AndNot, which And
// treats specially (see Resolve): AndNot only has meaning as a direct
// child of And.
type And struct {
	Children []Filter
}

// Or is a disjunction of children.
type Or struct {
	Children []Filter
}

// AndNot negates its Child. Outside an And, it cannot be bounded (see
// Resolve).
type AndNot struct {
	Child Filter
}

func (Eq) isFilter()     {}
func (Sub) isFilter()    {}
func (Pres) isFilter()   {}
func (And) isFilter()    {}
func (Or) isFilter()     {}
func (AndNot) isFilter() {}
