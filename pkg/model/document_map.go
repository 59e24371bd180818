package model

import "sort"

// DocumentMap is a collection of documents keyed by canonical path.
// Iteration is always in key order, so batch results are deterministic.
type DocumentMap struct {
	docs map[string]Document
}

func NewDocumentMap() *DocumentMap {
	return &DocumentMap{docs: make(map[string]Document)}
}

// Set inserts or replaces the entry for the document's key.
func (m *DocumentMap) Set(doc Document) {
	m.docs[doc.Key.String()] = doc
}

// Get returns the entry for key, if present.
func (m *DocumentMap) Get(key DocumentKey) (Document, bool) {
	doc, ok := m.docs[key.String()]
	return doc, ok
}

func (m *DocumentMap) Len() int { return len(m.docs) }

// Keys returns every key in order.
func (m *DocumentMap) Keys() []DocumentKey {
	paths := make([]string, 0, len(m.docs))
	for path := range m.docs {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	keys := make([]DocumentKey, len(paths))
	for i, path := range paths {
		keys[i] = m.docs[path].Key
	}
	return keys
}

// Each calls fn for every document in key order until fn returns false.
func (m *DocumentMap) Each(fn func(doc Document) bool) {
	for _, key := range m.Keys() {
		if !fn(m.docs[key.String()]) {
			return
		}
	}
}
