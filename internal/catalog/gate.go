package catalog

import "sort"

// PermSet is a caller's effective permission codes. The router receives it
// from the identity collaborator per request and never caches it.
type PermSet map[string]struct{}

// NewPermSet builds a PermSet from codes.
func NewPermSet(codes ...string) PermSet {
	s := make(PermSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether code is present.
func (s PermSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// Sorted returns the codes in lexical order.
func (s PermSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// IsPermitted evaluates def's permission requirement against perms.
//
// A gated command is refused outright for an unlinked caller. RequiredAll
// takes precedence over RequiredAny when both are set. A command with no
// requirement is always permitted.
func IsPermitted(def Definition, perms PermSet, linked bool) bool {
	if !def.HasRequirements() {
		return true
	}
	if !linked {
		return false
	}
	if len(def.RequiredAll) > 0 {
		for _, p := range def.RequiredAll {
			if !perms.Has(p) {
				return false
			}
		}
		return true
	}
	for _, p := range def.RequiredAny {
		if perms.Has(p) {
			return true
		}
	}
	return false
}
