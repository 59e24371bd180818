// Package model holds the document data model shared by every subsystem:
// keys, versions, document snapshots and ordered document collections.
package model

import (
	"fmt"
	"strings"
)

// DocumentKey is the canonical address of a document: an even number of
// slash-separated segments alternating collection and document IDs. Keys are
// immutable; total order is lexicographic on the canonical path, matching the
// order of the persisted tables.
type DocumentKey struct {
	segments []string
	path     string
}

// NewDocumentKey builds a key from path segments. The segment count must be
// even and positive, and no segment may be empty or contain a slash.
func NewDocumentKey(segments ...string) (DocumentKey, error) {
	if len(segments) == 0 || len(segments)%2 != 0 {
		return DocumentKey{}, fmt.Errorf("document key needs an even number of segments, got %d", len(segments))
	}
	for _, s := range segments {
		if s == "" {
			return DocumentKey{}, fmt.Errorf("document key %q has an empty segment", strings.Join(segments, "/"))
		}
		if strings.Contains(s, "/") {
			return DocumentKey{}, fmt.Errorf("document key segment %q contains a slash", s)
		}
	}
	copied := make([]string, len(segments))
	copy(copied, segments)
	return DocumentKey{segments: copied, path: strings.Join(copied, "/")}, nil
}

// ParseDocumentKey parses a canonical slash-separated path.
func ParseDocumentKey(path string) (DocumentKey, error) {
	if path == "" {
		return DocumentKey{}, fmt.Errorf("document key is empty")
	}
	return NewDocumentKey(strings.Split(path, "/")...)
}

// MustDocumentKey is ParseDocumentKey for compile-time-known paths.
func MustDocumentKey(path string) DocumentKey {
	key, err := ParseDocumentKey(path)
	if err != nil {
		panic(err)
	}
	return key
}

// String returns the canonical path.
func (k DocumentKey) String() string { return k.path }

// ID returns the final segment, the document's ID within its collection.
func (k DocumentKey) ID() string { return k.segments[len(k.segments)-1] }

// CollectionPath returns the path of the collection containing the document.
func (k DocumentKey) CollectionPath() string {
	return strings.Join(k.segments[:len(k.segments)-1], "/")
}

// CollectionGroup returns the ID of the containing collection, regardless of
// where in the hierarchy it sits.
func (k DocumentKey) CollectionGroup() string { return k.segments[len(k.segments)-2] }

// HasCollectionPath reports whether the document is a direct child of the
// given collection. Documents in nested subcollections do not match.
func (k DocumentKey) HasCollectionPath(collectionPath string) bool {
	return k.CollectionPath() == collectionPath
}

// Segments returns a copy of the path segments.
func (k DocumentKey) Segments() []string {
	out := make([]string, len(k.segments))
	copy(out, k.segments)
	return out
}

// Compare orders keys by canonical path.
func (k DocumentKey) Compare(other DocumentKey) int {
	return strings.Compare(k.path, other.path)
}

func (k DocumentKey) Equal(other DocumentKey) bool { return k.path == other.path }
