// Package paging encodes the compact tokens carried by pagination buttons and
// the flat state blobs that let the router replay a prior query.
package paging

import (
	"net/url"
	"strconv"
	"strings"
)

// Token kinds identify which paged view a button refers to.
const (
	KindHelp        = "h"  // help pages, page = page index
	KindDBRows      = "m"  // SQL result row window, page = page index
	KindInstruments = "mi" // market instrument listing, page = row offset
)

var knownKinds = map[string]bool{
	KindHelp:        true,
	KindDBRows:      true,
	KindInstruments: true,
}

// Token is a decoded pagination reference.
type Token struct {
	Kind      string
	SessionID string
	Page      int
}

// String returns the wire form of t.
func (t Token) String() string {
	return Encode(t.Kind, t.SessionID, t.Page)
}

// Encode builds "<kind>:<sessionId>:<page>".
func Encode(kind, sessionID string, page int) string {
	return kind + ":" + sessionID + ":" + strconv.Itoa(page)
}

// Decode parses s as a pagination token. It requires exactly three
// colon-delimited segments, a non-empty kind and session id, and a
// non-negative integer page.
func Decode(s string) (Token, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Token{}, false
	}
	if parts[0] == "" || parts[1] == "" {
		return Token{}, false
	}
	// Only the canonical decimal form is accepted, so that a decoded token
	// always re-encodes to the same string.
	page, err := strconv.Atoi(parts[2])
	if err != nil || page < 0 || strconv.Itoa(page) != parts[2] {
		return Token{}, false
	}
	return Token{Kind: parts[0], SessionID: parts[1], Page: page}, true
}

// DecodeKnown is Decode restricted to the kinds the router serves.
func DecodeKnown(s string) (Token, bool) {
	t, ok := Decode(s)
	if !ok || !knownKinds[t.Kind] {
		return Token{}, false
	}
	return t, true
}

// Blob is an ordered, flat string map persisted as
// "key=value&key=value". Blank values are never stored.
type Blob struct {
	keys []string
	vals map[string]string
}

// NewBlob returns an empty Blob.
func NewBlob() *Blob {
	return &Blob{vals: make(map[string]string)}
}

// Set stores v under k. A blank v removes k.
func (b *Blob) Set(k, v string) *Blob {
	if strings.TrimSpace(v) == "" {
		b.Delete(k)
		return b
	}
	if _, ok := b.vals[k]; !ok {
		b.keys = append(b.keys, k)
	}
	b.vals[k] = v
	return b
}

// SetInt stores an integer value.
func (b *Blob) SetInt(k string, v int) *Blob {
	return b.Set(k, strconv.Itoa(v))
}

// SetBool stores "1" for true and removes k for false.
func (b *Blob) SetBool(k string, v bool) *Blob {
	if v {
		return b.Set(k, "1")
	}
	b.Delete(k)
	return b
}

// Delete removes k.
func (b *Blob) Delete(k string) {
	if _, ok := b.vals[k]; !ok {
		return
	}
	delete(b.vals, k)
	for i, key := range b.keys {
		if key == k {
			b.keys = append(b.keys[:i], b.keys[i+1:]...)
			break
		}
	}
}

// Get returns the value for k.
func (b *Blob) Get(k string) (string, bool) {
	v, ok := b.vals[k]
	return v, ok
}

// String returns the value for k or "".
func (b *Blob) String(k string) string {
	return b.vals[k]
}

// Int returns k parsed as an integer, or def when absent or malformed.
func (b *Blob) Int(k string, def int) int {
	v, ok := b.vals[k]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Bool reports whether k is set to a truthy value.
func (b *Blob) Bool(k string) bool {
	switch b.vals[k] {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Keys returns the keys in insertion order.
func (b *Blob) Keys() []string {
	out := make([]string, len(b.keys))
	copy(out, b.keys)
	return out
}

// Len returns the number of keys.
func (b *Blob) Len() int { return len(b.keys) }

// Map returns a copy of the key/value pairs.
func (b *Blob) Map() map[string]string {
	out := make(map[string]string, len(b.vals))
	for k, v := range b.vals {
		out[k] = v
	}
	return out
}

// Encode serializes b in insertion order with every component
// percent-encoded.
func (b *Blob) Encode() string {
	var sb strings.Builder
	for _, k := range b.keys {
		if sb.Len() > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(b.vals[k]))
	}
	return sb.String()
}

// DecodeBlob parses an encoded blob. Malformed fragments (no '=', bad
// escapes, empty key or blank value) are skipped.
func DecodeBlob(s string) *Blob {
	b := NewBlob()
	if s == "" {
		return b
	}
	for _, frag := range strings.Split(s, "&") {
		k, v, ok := strings.Cut(frag, "=")
		if !ok {
			continue
		}
		key, err := url.QueryUnescape(k)
		if err != nil || key == "" {
			continue
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			continue
		}
		b.Set(key, val)
	}
	return b
}

// EncodeMap encodes m with keys in the given order; keys absent from order
// are appended in no particular order.
func EncodeMap(m map[string]string, order ...string) string {
	b := NewBlob()
	for _, k := range order {
		if v, ok := m[k]; ok {
			b.Set(k, v)
		}
	}
	for k, v := range m {
		if _, ok := b.vals[k]; !ok {
			b.Set(k, v)
		}
	}
	return b.Encode()
}
