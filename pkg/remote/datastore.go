package remote

import (
	"context"

	"github.com/docbase/docbase.go/pkg/auth"
	"github.com/docbase/docbase.go/pkg/connection"
	"github.com/docbase/docbase.go/pkg/model"
	"github.com/docbase/docbase.go/pkg/txn"
)

// Datastore is the production txn.Datastore: lookups and commits travel as
// unary RPCs over the connection, with fresh credentials fetched per call.
type Datastore struct {
	conn       connection.Connection
	tokens     auth.TokenProvider
	serializer Serializer
}

var _ txn.Datastore = (*Datastore)(nil)

func NewDatastore(conn connection.Connection, tokens auth.TokenProvider) *Datastore {
	return &Datastore{conn: conn, tokens: tokens}
}

func (d *Datastore) Lookup(ctx context.Context, keys []model.DocumentKey) ([]model.Document, error) {
	creds, err := d.tokens.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	var res LookupResponse
	if err := d.conn.Invoke(ctx, connection.MethodLookup, d.serializer.EncodeLookup(keys), creds, &res); err != nil {
		return nil, err
	}

	// The backend answers in request order with every key present; re-key by
	// path anyway so a reordered response cannot missassign documents.
	byPath := make(map[string]model.Document, len(res.Documents))
	for _, w := range res.Documents {
		doc, err := d.serializer.DecodeDocument(w, res.ReadTime)
		if err != nil {
			return nil, err
		}
		byPath[doc.Key.String()] = doc
	}

	docs := make([]model.Document, len(keys))
	for i, key := range keys {
		doc, ok := byPath[key.String()]
		if !ok {
			doc = model.MissingDocument(key, model.Version(res.ReadTime))
		}
		docs[i] = doc
	}
	return docs, nil
}

func (d *Datastore) Commit(ctx context.Context, mutations []txn.Mutation) error {
	creds, err := d.tokens.Credentials(ctx)
	if err != nil {
		return err
	}

	req := CommitRequest{Mutations: make([]WireMutation, 0, len(mutations))}
	for _, m := range mutations {
		wire, err := d.serializer.EncodeMutation(m)
		if err != nil {
			return err
		}
		req.Mutations = append(req.Mutations, wire)
	}

	var res CommitResponse
	return d.conn.Invoke(ctx, connection.MethodCommit, req, creds, &res)
}
