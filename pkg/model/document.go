package model

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// DocumentState distinguishes what the cache knows about a key.
type DocumentState int

const (
	// DocumentStateUnknown means nothing is cached for the key. The zero
	// value, so a zero Document is an unknown document.
	DocumentStateUnknown DocumentState = iota
	// DocumentStateFound is a document known to exist with cached content.
	DocumentStateFound
	// DocumentStateMissing is a document known to not exist as of its
	// version.
	DocumentStateMissing
)

func (s DocumentState) String() string {
	switch s {
	case DocumentStateFound:
		return "found"
	case DocumentStateMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// Key is a convenience alias for DocumentKey.
type Key = DocumentKey

// Document is an immutable snapshot of a document's state at a version.
// Fields stays in its encoded form until a caller asks for it; snapshots
// passed around the client never share mutable field data.
type Document struct {
	Key     DocumentKey
	Version Version
	State   DocumentState
	// Fields is the CBOR-encoded content. Nil unless State is found.
	Fields cbor.RawMessage
	// ReadTime is the logical time the client read this snapshot. It orders
	// index scans and change feeds; it is unrelated to Version.
	ReadTime Version
}

// UnknownDocument is the sentinel for a key the cache knows nothing about.
func UnknownDocument(key DocumentKey) Document {
	return Document{Key: key, State: DocumentStateUnknown, Version: ZeroVersion}
}

// FoundDocument builds an existing document snapshot, encoding fields.
func FoundDocument(key DocumentKey, version Version, fields map[string]any) (Document, error) {
	raw, err := cbor.Marshal(fields)
	if err != nil {
		return Document{}, fmt.Errorf("encoding fields of %q: %w", key, err)
	}
	return Document{Key: key, Version: version, State: DocumentStateFound, Fields: raw}, nil
}

// MissingDocument builds a tombstone: the document is known to not exist as
// of version.
func MissingDocument(key DocumentKey, version Version) Document {
	return Document{Key: key, Version: version, State: DocumentStateMissing}
}

func (d Document) Found() bool   { return d.State == DocumentStateFound }
func (d Document) Missing() bool { return d.State == DocumentStateMissing }
func (d Document) Unknown() bool { return d.State == DocumentStateUnknown }

// fieldsDecMode converts unsigned integers to int64 on decode so numeric
// fields round-trip with one concrete type.
var fieldsDecMode, _ = cbor.DecOptions{IntDec: cbor.IntDecConvertSigned}.DecMode()

// DecodeFields decodes the document content. Integers decode as int64.
func (d Document) DecodeFields() (map[string]any, error) {
	if !d.Found() {
		return nil, fmt.Errorf("document %q has no fields (%s)", d.Key, d.State)
	}
	var fields map[string]any
	if err := fieldsDecMode.Unmarshal(d.Fields, &fields); err != nil {
		return nil, fmt.Errorf("decoding fields of %q: %w", d.Key, err)
	}
	return fields, nil
}

// WithReadTime returns a copy of the snapshot carrying the given read time.
func (d Document) WithReadTime(readTime Version) Document {
	d.ReadTime = readTime
	return d
}
