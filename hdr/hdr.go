/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package hdr implements the daemon's HeaderMapping (spec.md §3): an
// ordered list of (kind, name, value) triples, looked up case
// insensitively on name and iterated in insertion order.
//
// It is grounded on badu-http/hdr's Header type — its token-validation
// table, byte-level trim/canonicalization helpers, and common-header
// interning all come from there — generalized from a single
// map[string][]string (one kind, Header, only) into the spec's kinded
// model covering Header, Cookie, GetArgument, PostData and Footer in one
// structure, since RequestContext needs to expose all five through the
// same accessor shape (request_get_value(req, kind, key)).
package hdr

// Kind distinguishes what role an entry plays in a request/response.
type Kind int

const (
	KindHeader Kind = iota
	KindCookie
	KindGetArgument
	KindPostData
	KindFooter // response/request trailers
)

func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindCookie:
		return "cookie"
	case KindGetArgument:
		return "get-argument"
	case KindPostData:
		return "post-data"
	case KindFooter:
		return "footer"
	default:
		return "unknown"
	}
}

// Entry is a single (kind, name, value) triple.
type Entry struct {
	Kind  Kind
	Name  string
	Value string
}

// Mapping is an insertion-ordered, case-insensitive-by-name collection
// of Entry values. The zero value is ready to use.
type Mapping struct {
	entries []Entry
}

// NewMapping returns an empty Mapping with room for n entries.
func NewMapping(n int) *Mapping {
	return &Mapping{entries: make([]Entry, 0, n)}
}

// Add appends a new entry, preserving any existing entries with the same
// kind/name (multi-valued fields, e.g. repeated query arguments).
func (m *Mapping) Add(kind Kind, name, value string) {
	if kind == KindHeader {
		name = CanonicalHeaderKey(name)
	}
	m.entries = append(m.entries, Entry{Kind: kind, Name: name, Value: value})
}

// Set replaces all entries of kind/name with a single entry holding
// value.
func (m *Mapping) Set(kind Kind, name, value string) {
	m.Del(kind, name)
	m.Add(kind, name, value)
}

// Get returns the first value stored under kind/name, and whether one
// was found.
func (m *Mapping) Get(kind Kind, name string) (string, bool) {
	name = normalize(kind, name)
	for i := range m.entries {
		e := &m.entries[i]
		if e.Kind == kind && equalFold(e.Name, name) {
			return e.Value, true
		}
	}
	return "", false
}

// GetHeader returns the first KindHeader value stored under name, or ""
// if none is present. It is a convenience wrapper over Get for the
// overwhelmingly common case (request/response header lookup) so
// callers don't have to thread hdr.KindHeader through every call site
// and discard the found bool.
func (m *Mapping) GetHeader(name string) string {
	v, _ := m.Get(KindHeader, name)
	return v
}

// SetHeader replaces all KindHeader entries under name with a single
// entry holding value. Convenience wrapper over Set, mirroring
// GetHeader.
func (m *Mapping) SetHeader(name, value string) {
	m.Set(KindHeader, name, value)
}

// GetAll returns every value stored under kind/name, in insertion order.
func (m *Mapping) GetAll(kind Kind, name string) []string {
	name = normalize(kind, name)
	var out []string
	for i := range m.entries {
		e := &m.entries[i]
		if e.Kind == kind && equalFold(e.Name, name) {
			out = append(out, e.Value)
		}
	}
	return out
}

// Del removes every entry stored under kind/name.
func (m *Mapping) Del(kind Kind, name string) {
	name = normalize(kind, name)
	out := m.entries[:0]
	for _, e := range m.entries {
		if e.Kind == kind && equalFold(e.Name, name) {
			continue
		}
		out = append(out, e)
	}
	m.entries = out
}

// Each iterates every entry of the given kind, in insertion order. It
// stops early if fn returns false. Pass kind < 0 to iterate all kinds.
func (m *Mapping) Each(kind Kind, fn func(name, value string) bool) {
	for i := range m.entries {
		e := &m.entries[i]
		if kind >= 0 && e.Kind != kind {
			continue
		}
		if !fn(e.Name, e.Value) {
			return
		}
	}
}

// Count returns the number of entries of the given kind (kind < 0 counts
// all entries).
func (m *Mapping) Count(kind Kind) int {
	if kind < 0 {
		return len(m.entries)
	}
	n := 0
	for i := range m.entries {
		if m.entries[i].Kind == kind {
			n++
		}
	}
	return n
}

// Reset empties the mapping, retaining its backing array — used when a
// Connection reclaims its per-request pool allocation at keep-alive.
func (m *Mapping) Reset() {
	m.entries = m.entries[:0]
}

func normalize(kind Kind, name string) string {
	if kind == KindHeader {
		return CanonicalHeaderKey(name)
	}
	return name
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
