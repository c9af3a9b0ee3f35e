// Package record models Alma user records as schema-free JSON documents and
// implements the rule-based transformation applied to them during batch runs.
//
// Only the handful of fields the rules touch (user_title, user_group,
// user_role, user_statistic) are interpreted; everything else passes through
// an update untouched. Lookups report presence explicitly instead of
// defaulting, so a missing field is never confused with an empty one.
package record

import "encoding/json"

// Document is one user record as returned by the Alma API, held as a generic
// JSON object tree. A Document is owned by exactly one pipeline stage at a
// time and is never shared across page workers.
type Document map[string]any

// Parse decodes a JSON object into a Document.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Encode serializes the document back to JSON for an update request.
func (d Document) Encode() ([]byte, error) {
	return json.Marshal(d)
}

// EncodeIndent serializes the document with indentation, for dump files.
func (d Document) EncodeIndent() ([]byte, error) {
	return json.MarshalIndent(d, "", "    ")
}

// ObjectAt returns the object stored under key, reporting whether it was
// present and actually an object.
func ObjectAt(obj map[string]any, key string) (map[string]any, bool) {
	v, ok := obj[key]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// ArrayAt returns the array stored under key, reporting whether it was
// present and actually an array.
func ArrayAt(obj map[string]any, key string) ([]any, bool) {
	v, ok := obj[key]
	if !ok {
		return nil, false
	}
	a, ok := v.([]any)
	return a, ok
}

// StringAt walks a path of nested object keys and returns the string at the
// end of it. The second return is false if any step is missing or is not the
// expected shape.
func StringAt(obj map[string]any, path ...string) (string, bool) {
	cur := obj
	for i, key := range path {
		if i == len(path)-1 {
			s, ok := cur[key].(string)
			return s, ok
		}
		next, ok := ObjectAt(cur, key)
		if !ok {
			return "", false
		}
		cur = next
	}
	return "", false
}

// Set is an immutable membership lookup loaded once at startup and shared
// read-only across all page workers.
type Set map[string]struct{}

// NewSet builds a Set from its members.
func NewSet(members ...string) Set {
	s := make(Set, len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

// Contains reports whether v is a member of the set.
func (s Set) Contains(v string) bool {
	_, ok := s[v]
	return ok
}
