// Package remote adapts the connection layer into the backend surface the
// rest of the client consumes: wire struct translation and the
// transaction-runner datastore.
package remote

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/docbase/docbase.go/pkg/model"
	"github.com/docbase/docbase.go/pkg/txn"
)

// Wire representations. The backend speaks canonical paths and int64
// versions; translation to model types happens entirely in this package.
type (
	LookupRequest struct {
		Keys []string `cbor:"keys"`
	}

	WireDocument struct {
		Key     string          `cbor:"key"`
		Version int64           `cbor:"version"`
		Found   bool            `cbor:"found"`
		Fields  cbor.RawMessage `cbor:"fields,omitempty"`
	}

	LookupResponse struct {
		Documents []WireDocument `cbor:"documents"`
		ReadTime  int64          `cbor:"readTime"`
	}

	WirePrecondition struct {
		Exists     *bool  `cbor:"exists,omitempty"`
		UpdateTime *int64 `cbor:"updateTime,omitempty"`
	}

	WireMutation struct {
		Key          string           `cbor:"key"`
		Kind         int              `cbor:"kind"`
		Fields       cbor.RawMessage  `cbor:"fields,omitempty"`
		Precondition WirePrecondition `cbor:"precondition,omitempty"`
	}

	CommitRequest struct {
		Mutations []WireMutation `cbor:"mutations"`
	}

	CommitResponse struct {
		CommitTime int64 `cbor:"commitTime"`
	}
)

// Serializer translates between model/txn types and their wire forms.
type Serializer struct{}

func (Serializer) EncodeLookup(keys []model.DocumentKey) LookupRequest {
	paths := make([]string, len(keys))
	for i, k := range keys {
		paths[i] = k.String()
	}
	return LookupRequest{Keys: paths}
}

// DecodeDocument turns a wire document into a model document. Absent
// documents become missing tombstones at the response's read time.
func (Serializer) DecodeDocument(w WireDocument, readTime int64) (model.Document, error) {
	key, err := model.ParseDocumentKey(w.Key)
	if err != nil {
		return model.Document{}, err
	}
	if !w.Found {
		return model.MissingDocument(key, model.Version(readTime)), nil
	}
	return model.Document{
		Key:     key,
		Version: model.Version(w.Version),
		State:   model.DocumentStateFound,
		Fields:  w.Fields,
	}, nil
}

func (Serializer) EncodeMutation(m txn.Mutation) (WireMutation, error) {
	var fields cbor.RawMessage
	if m.Fields != nil {
		raw, err := cbor.Marshal(m.Fields)
		if err != nil {
			return WireMutation{}, err
		}
		fields = raw
	}
	wire := WireMutation{
		Key:    m.Key.String(),
		Kind:   int(m.Kind),
		Fields: fields,
	}
	if m.Precondition.Exists != nil {
		e := *m.Precondition.Exists
		wire.Precondition.Exists = &e
	}
	if m.Precondition.UpdateTime != nil {
		v := int64(*m.Precondition.UpdateTime)
		wire.Precondition.UpdateTime = &v
	}
	return wire, nil
}
