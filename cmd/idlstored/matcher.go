package main

import (
	"bytes"

	"github.com/dirserve/idlstore/internal/filter"
	"github.com/dirserve/idlstore/internal/types"
)

// valueAttr is the single attribute name the CLI's placeholder schema
// indexes an entry's raw payload under.
const valueAttr = "value"

// valueAttrFunc treats an entry's entire payload as the value of one
// attribute, "value", present in all three index kinds. A real
// deployment supplies its own maintain.AttrValueFunc derived from an
// actual schema; this is the CLI's zero-configuration default.
func valueAttrFunc(e *types.Entry, ref types.IndexRef) []string {
	if e == nil || ref.Attr != valueAttr {
		return nil
	}
	switch ref.Kind {
	case types.Presence:
		if len(e.Payload) > 0 {
			return []string{types.PresenceKey}
		}
		return nil
	case types.Substring:
		return []string{string(e.Payload)}
	default:
		return []string{string(e.Payload)}
	}
}

// valueMatcher evaluates a filter tree against an entry's raw payload
// treated as the "value" attribute.
func valueMatcher(e *types.Entry, f filter.Filter) bool {
	switch n := f.(type) {
	case filter.Eq:
		return n.Attr == valueAttr && bytes.Equal(e.Payload, []byte(n.Key))
	case filter.Sub:
		return n.Attr == valueAttr && bytes.Contains(e.Payload, []byte(n.Key))
	case filter.Pres:
		return n.Attr == valueAttr && len(e.Payload) > 0
	case filter.And:
		for _, c := range n.Children {
			if !valueMatcher(e, c) {
				return false
			}
		}
		return true
	case filter.Or:
		for _, c := range n.Children {
			if valueMatcher(e, c) {
				return true
			}
		}
		return false
	case filter.AndNot:
		return !valueMatcher(e, n.Child)
	default:
		return false
	}
}
