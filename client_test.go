package docbase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbase/docbase.go/internal/fakeserver"
	"github.com/docbase/docbase.go/pkg/connection"
	"github.com/docbase/docbase.go/pkg/logger"
	"github.com/docbase/docbase.go/pkg/model"
	"github.com/docbase/docbase.go/pkg/remote"
	"github.com/docbase/docbase.go/pkg/status"
	"github.com/docbase/docbase.go/pkg/txn"
)

// testBackend is the server half of an end-to-end test: a versioned document
// store wired into fakeserver's lookup and commit methods.
type testBackend struct {
	mu       sync.Mutex
	version  int64
	fields   map[string]cbor.RawMessage
	versions map[string]int64
}

func newTestBackend(srv *fakeserver.Server) *testBackend {
	b := &testBackend{
		fields:   make(map[string]cbor.RawMessage),
		versions: make(map[string]int64),
	}
	srv.Handle(connection.MethodLookup, func(req connection.RPCRequest) (any, *connection.RPCError) {
		var in remote.LookupRequest
		if err := cbor.Unmarshal(req.Params, &in); err != nil {
			return nil, &connection.RPCError{Code: 3, Message: err.Error()}
		}
		return b.lookup(in), nil
	})
	srv.Handle(connection.MethodCommit, func(req connection.RPCRequest) (any, *connection.RPCError) {
		var in remote.CommitRequest
		if err := cbor.Unmarshal(req.Params, &in); err != nil {
			return nil, &connection.RPCError{Code: 3, Message: err.Error()}
		}
		return b.commit(in)
	})
	return b
}

func (b *testBackend) lookup(req remote.LookupRequest) remote.LookupResponse {
	b.mu.Lock()
	defer b.mu.Unlock()
	res := remote.LookupResponse{ReadTime: b.version}
	for _, key := range req.Keys {
		doc := remote.WireDocument{Key: key}
		if v, ok := b.versions[key]; ok {
			doc.Found = true
			doc.Version = v
			doc.Fields = b.fields[key]
		}
		res.Documents = append(res.Documents, doc)
	}
	return res
}

func (b *testBackend) commit(req remote.CommitRequest) (any, *connection.RPCError) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range req.Mutations {
		current, found := b.versions[m.Key]
		if m.Precondition.Exists != nil && *m.Precondition.Exists != found {
			return nil, &connection.RPCError{Code: 10, Message: "existence of " + m.Key + " changed"}
		}
		if m.Precondition.UpdateTime != nil && (!found || current != *m.Precondition.UpdateTime) {
			return nil, &connection.RPCError{Code: 10, Message: m.Key + " was modified concurrently"}
		}
	}
	b.version++
	for _, m := range req.Mutations {
		switch txn.MutationKind(m.Kind) {
		case txn.MutationSet, txn.MutationUpdate:
			b.fields[m.Key] = m.Fields
			b.versions[m.Key] = b.version
		case txn.MutationDelete:
			delete(b.fields, m.Key)
			delete(b.versions, m.Key)
		}
	}
	return remote.CommitResponse{CommitTime: b.version}, nil
}

// put installs a document server side, outside any client transaction.
func (b *testBackend) put(t *testing.T, key string, fields map[string]any) {
	t.Helper()
	raw, err := cbor.Marshal(fields)
	require.NoError(t, err)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.version++
	b.fields[key] = raw
	b.versions[key] = b.version
}

func newTestClient(t *testing.T) (*Client, *testBackend) {
	t.Helper()
	srv, err := fakeserver.Start()
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	backend := newTestBackend(srv)

	client, err := New(context.Background(), Config{
		BaseURL:      srv.URL(),
		DatabasePath: "projects/p/databases/d",
		Logger:       logger.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	return client, backend
}

func TestClientTransactionEndToEnd(t *testing.T) {
	client, backend := newTestClient(t)
	backend.put(t, "rooms/eros", map[string]any{"visits": int64(1)})
	key := model.MustDocumentKey("rooms/eros")

	err := client.RunTransaction(context.Background(), func(tx *txn.Transaction) error {
		doc, err := tx.Get(context.Background(), key)
		if err != nil {
			return err
		}
		fields, err := doc.DecodeFields()
		if err != nil {
			return err
		}
		visits, _ := fields["visits"].(int64)
		tx.Update(key, map[string]any{"visits": visits + 1})
		return nil
	})
	require.NoError(t, err)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	var fields map[string]any
	require.NoError(t, cbor.Unmarshal(backend.fields["rooms/eros"], &fields))
	assert.EqualValues(t, 2, fields["visits"])
}

func TestClientTransactionCreatesWhenMissing(t *testing.T) {
	client, backend := newTestClient(t)
	key := model.MustDocumentKey("rooms/new")

	err := client.RunTransaction(context.Background(), func(tx *txn.Transaction) error {
		doc, err := tx.Get(context.Background(), key)
		if err != nil {
			return err
		}
		if !doc.Missing() {
			return status.Errorf(status.AlreadyExists, "room taken")
		}
		tx.Set(key, map[string]any{"owner": "first"})
		return nil
	})
	require.NoError(t, err)

	backend.mu.Lock()
	_, created := backend.versions["rooms/new"]
	backend.mu.Unlock()
	assert.True(t, created)
}

func TestClientTransactionRetriesConflict(t *testing.T) {
	client, backend := newTestClient(t)
	backend.put(t, "rooms/eros", map[string]any{"owner": "someone"})
	key := model.MustDocumentKey("rooms/eros")

	var attempts int
	err := client.RunTransaction(context.Background(), func(tx *txn.Transaction) error {
		attempts++
		if _, err := tx.Get(context.Background(), key); err != nil {
			return err
		}
		if attempts == 1 {
			// Invalidate the read before this attempt commits.
			backend.put(t, "rooms/eros", map[string]any{"owner": "intruder"})
		}
		tx.Update(key, map[string]any{"owner": "winner"})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}
