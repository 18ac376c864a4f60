// Package scope normalizes OAuth 2.1 scope values into a single shape.
// A scope arrives in two different forms depending on where it comes
// from: a plain space-delimited string on the wire (the query string of
// GET /authorize, the scope form field of POST /token, the scope
// column of a refresh token) and a heterogeneous JSON array when an
// admin declares a client's supported scopes (each entry either a bare
// string or an {key, description} object). Both normalize to the same
// Entry/List sum type at the parse boundary, and every column that
// persists a scope stores that normalized form.
package scope

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Entry is one normalized scope: Simple("openid") has Description
// empty, Described{"email", "View your email address"} carries the
// consent-screen copy an admin configured for it.
type Entry struct {
	Key         string `json:"key"`
	Description string `json:"description,omitempty"`
}

// List is a deduplicated, order-preserving set of scope entries.
type List []Entry

// ParseWire normalizes a space-delimited wire-format scope string, the
// form every OAuth request and response actually carries. Duplicate
// keys collapse to their first occurrence.
func ParseWire(raw string) List {
	fields := strings.Fields(raw)
	out := make(List, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, key := range fields {
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Entry{Key: key})
	}
	return out
}

// ParseJSON normalizes a client's declared scope list, a JSON array
// whose elements are either a bare string ("openid") or an object
// ({"key":"email","description":"..."}). Duplicate keys keep their
// first occurrence, matching ParseWire's rule.
func ParseJSON(raw json.RawMessage) (List, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rawEntries []json.RawMessage
	if err := json.Unmarshal(raw, &rawEntries); err != nil {
		return nil, fmt.Errorf("scope: parsing scope list: %w", err)
	}

	out := make(List, 0, len(rawEntries))
	seen := make(map[string]bool, len(rawEntries))
	for _, re := range rawEntries {
		var entry Entry
		var key string
		switch {
		case json.Unmarshal(re, &key) == nil:
			entry = Entry{Key: key}
		case json.Unmarshal(re, &entry) == nil:
			if entry.Key == "" {
				return nil, fmt.Errorf("scope: entry missing key: %s", re)
			}
		default:
			return nil, fmt.Errorf("scope: entry is neither a string nor a {key,description} object: %s", re)
		}
		if seen[entry.Key] {
			continue
		}
		seen[entry.Key] = true
		out = append(out, entry)
	}
	return out, nil
}

// String renders List back to OAuth's space-delimited wire format,
// dropping description copy that only ever existed for the consent
// screen.
func (l List) String() string {
	keys := make([]string, len(l))
	for i, e := range l {
		keys[i] = e.Key
	}
	return strings.Join(keys, " ")
}

// Has reports whether key is present in l.
func (l List) Has(key string) bool {
	for _, e := range l {
		if e.Key == key {
			return true
		}
	}
	return false
}

// Keys returns the bare scope keys, in order.
func (l List) Keys() []string {
	keys := make([]string, len(l))
	for i, e := range l {
		keys[i] = e.Key
	}
	return keys
}
