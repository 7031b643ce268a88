// Package tagfilter compiles tag expressions into predicates over a
// target's tag set.
//
// An expression is a sequence of OR-groups; each group is a sequence of
// AND-terms. A tag set matches when it is a superset of at least one
// group's terms. The literal "all" matches unconditionally, and so does
// an empty expression.
package tagfilter

import "strings"

// MatchAllTag is the reserved tag literal that bypasses membership checks.
const MatchAllTag = "all"

// Tags is the read side of a tag set.
type Tags interface {
	Has(tag string) bool
}

// Filter is a compiled expression. It is immutable and safe for
// concurrent Matches calls from dispatcher workers.
type Filter struct {
	groups   [][]string
	matchAll bool
}

// Parse builds a filter from raw occurrences: each argument is one
// OR-group, its comma-separated values the group's AND-terms.
func Parse(exprs ...string) *Filter {
	groups := make([][]string, 0, len(exprs))
	for _, raw := range exprs {
		var terms []string
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			terms = append(terms, t)
		}
		if len(terms) > 0 {
			groups = append(groups, terms)
		}
	}
	return Compile(groups)
}

// Compile builds a filter from pre-split OR-groups. Empty groups are
// dropped; a group mentioning MatchAllTag marks the whole filter
// unconditional.
func Compile(groups [][]string) *Filter {
	f := &Filter{}
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		cp := append([]string(nil), g...)
		f.groups = append(f.groups, cp)
		for _, term := range cp {
			if term == MatchAllTag {
				f.matchAll = true
			}
		}
	}
	return f
}

// Empty reports whether no terms were supplied at all.
func (f *Filter) Empty() bool { return len(f.groups) == 0 }

// Matches reports whether the tag set satisfies the expression.
// Comparison is case-sensitive exact match.
func (f *Filter) Matches(tags Tags) bool {
	if f.Empty() || f.matchAll {
		return true
	}
	for _, group := range f.groups {
		if supersetOf(tags, group) {
			return true
		}
	}
	return false
}

func supersetOf(tags Tags, terms []string) bool {
	for _, t := range terms {
		if !tags.Has(t) {
			return false
		}
	}
	return true
}

// Groups returns a copy of the compiled OR-groups, mainly for logging.
func (f *Filter) Groups() [][]string {
	out := make([][]string, len(f.groups))
	for i, g := range f.groups {
		out[i] = append([]string(nil), g...)
	}
	return out
}
