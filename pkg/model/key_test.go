package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocumentKey(t *testing.T) {
	key, err := ParseDocumentKey("rooms/eros/messages/m1")
	require.NoError(t, err)

	assert.Equal(t, "rooms/eros/messages/m1", key.String())
	assert.Equal(t, "rooms/eros/messages", key.CollectionPath())
	assert.Equal(t, "messages", key.CollectionGroup())
	assert.Equal(t, "m1", key.ID())
	assert.True(t, key.HasCollectionPath("rooms/eros/messages"))
	assert.False(t, key.HasCollectionPath("rooms"))
}

func TestParseDocumentKeyRejectsInvalid(t *testing.T) {
	for _, path := range []string{"", "rooms", "rooms/eros/messages", "rooms//m1"} {
		_, err := ParseDocumentKey(path)
		assert.Error(t, err, "path %q", path)
	}
}

func TestDocumentKeyCompare(t *testing.T) {
	a := MustDocumentKey("rooms/a")
	b := MustDocumentKey("rooms/b")
	assert.Negative(t, a.Compare(b))
	assert.Positive(t, b.Compare(a))
	assert.Zero(t, a.Compare(MustDocumentKey("rooms/a")))
	assert.True(t, a.Equal(MustDocumentKey("rooms/a")))
}

func TestDocumentKeySegmentsAreCopied(t *testing.T) {
	segs := []string{"rooms", "eros"}
	key, err := NewDocumentKey(segs...)
	require.NoError(t, err)
	segs[1] = "mutated"
	assert.Equal(t, "rooms/eros", key.String())

	out := key.Segments()
	out[0] = "mutated"
	assert.Equal(t, "rooms/eros", key.String())
}

func TestIndexOffsetCompare(t *testing.T) {
	early := IndexOffset{ReadTime: 1, Key: MustDocumentKey("rooms/b")}
	lateSameTime := IndexOffset{ReadTime: 1, Key: MustDocumentKey("rooms/c")}
	later := IndexOffset{ReadTime: 2, Key: MustDocumentKey("rooms/a")}

	assert.Negative(t, early.Compare(lateSameTime), "read-time ties break by key")
	assert.Negative(t, lateSameTime.Compare(later), "read time dominates key")
	assert.Zero(t, early.Compare(early))
}

func TestDocumentStates(t *testing.T) {
	key := MustDocumentKey("rooms/a")

	found, err := FoundDocument(key, 7, map[string]any{"owner": "eros"})
	require.NoError(t, err)
	assert.True(t, found.Found())
	fields, err := found.DecodeFields()
	require.NoError(t, err)
	assert.Equal(t, "eros", fields["owner"])

	missing := MissingDocument(key, 7)
	assert.True(t, missing.Missing())
	assert.Nil(t, missing.Fields)
	assert.Equal(t, Version(7), missing.Version, "tombstones keep their version slot")

	unknown := UnknownDocument(key)
	assert.True(t, unknown.Unknown())
	assert.Equal(t, ZeroVersion, unknown.Version)
}

func TestDocumentMapOrderedIteration(t *testing.T) {
	m := NewDocumentMap()
	for _, p := range []string{"rooms/c", "rooms/a", "rooms/b"} {
		m.Set(UnknownDocument(MustDocumentKey(p)))
	}

	var order []string
	m.Each(func(doc Document) bool {
		order = append(order, doc.Key.String())
		return true
	})
	assert.Equal(t, []string{"rooms/a", "rooms/b", "rooms/c"}, order)
	assert.Equal(t, 3, m.Len())
}
