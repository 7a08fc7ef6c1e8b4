package kv

import (
	"strings"
)

type Pair struct {
	Key, Value string
}

// Storage is an associative structure for storing (string, string) pairs
// with insertion order and duplicates preserved. It acts as a map but uses
// linear search instead, which proves to be more efficient on the amounts
// of entries a header section usually carries. Keys are matched
// case-insensitively.
type Storage struct {
	pairs      []Pair
	valuesBuff []string
}

func New() *Storage {
	return new(Storage)
}

// NewPrealloc returns an instance of Storage with pre-allocated underlying storage.
func NewPrealloc(n int) *Storage {
	return &Storage{
		pairs: make([]Pair, 0, n),
	}
}

// Add adds a new pair of key and value, preserving duplicates.
func (s *Storage) Add(key, value string) *Storage {
	s.pairs = append(s.pairs, Pair{
		Key:   key,
		Value: value,
	})
	return s
}

// Value returns the first value corresponding to the key, otherwise an
// empty string.
func (s *Storage) Value(key string) string {
	return s.ValueOr(key, "")
}

// ValueOr returns either the first value corresponding to the key or the
// fallback passed via the second parameter.
func (s *Storage) ValueOr(key, or string) string {
	value, found := s.Get(key)
	if !found {
		return or
	}

	return value
}

// Get returns the first value corresponding to the key and reports whether
// any was found at all.
func (s *Storage) Get(key string) (string, bool) {
	for _, pair := range s.pairs {
		if strings.EqualFold(pair.Key, key) {
			return pair.Value, true
		}
	}

	return "", false
}

// Has reports whether a key is present.
func (s *Storage) Has(key string) bool {
	_, found := s.Get(key)
	return found
}

// Values returns all the values corresponding to the key in insertion
// order. The returned slice is reused between calls.
func (s *Storage) Values(key string) []string {
	s.valuesBuff = s.valuesBuff[:0]

	for _, pair := range s.pairs {
		if strings.EqualFold(pair.Key, key) {
			s.valuesBuff = append(s.valuesBuff, pair.Value)
		}
	}

	return s.valuesBuff
}

// Pairs exposes the underlying pairs in insertion order. The slice must
// not be modified.
func (s *Storage) Pairs() []Pair {
	return s.pairs
}

func (s *Storage) Len() int {
	return len(s.pairs)
}

// Clear empties the storage while keeping the underlying memory, making it
// ready for reuse.
func (s *Storage) Clear() *Storage {
	s.pairs = s.pairs[:0]
	return s
}

// Copy returns a deep copy of the storage.
func (s *Storage) Copy() *Storage {
	clone := NewPrealloc(len(s.pairs))
	clone.pairs = append(clone.pairs, s.pairs...)

	return clone
}
