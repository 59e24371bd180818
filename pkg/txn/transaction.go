package txn

import (
	"context"

	"github.com/docbase/docbase.go/pkg/model"
	"github.com/docbase/docbase.go/pkg/status"
)

// Transaction is one attempt at atomic multi-document work. It owns no
// documents, only the record of versions it observed, which become commit
// preconditions.
type Transaction struct {
	datastore Datastore

	// readVersions maps canonical path to the version captured by the first
	// Get of that key in this attempt; readDocs memoizes the documents so
	// repeated gets return the same state (no time travel inside an
	// attempt).
	readVersions map[string]model.Version
	readDocs     map[string]model.Document
	mutations    []Mutation
	written      map[string]bool

	committed bool
	// lastWriteErr latches a local misuse (update without read, read after
	// write). The attempt fails at commit with this error and never reaches
	// the backend.
	lastWriteErr error
}

func newTransaction(datastore Datastore) *Transaction {
	return &Transaction{
		datastore:    datastore,
		readVersions: make(map[string]model.Version),
		readDocs:     make(map[string]model.Document),
		written:      make(map[string]bool),
	}
}

// Get reads a document from the backend and records the observed version.
// Repeated gets of one key within an attempt return the same version: no
// time travel inside an attempt.
func (t *Transaction) Get(ctx context.Context, key model.DocumentKey) (model.Document, error) {
	docs, err := t.GetAll(ctx, []model.DocumentKey{key})
	if err != nil {
		return model.Document{}, err
	}
	return docs[0], nil
}

// GetAll is the batch form of Get.
func (t *Transaction) GetAll(ctx context.Context, keys []model.DocumentKey) ([]model.Document, error) {
	if t.committed {
		return nil, status.Errorf(status.FailedPrecondition, "transaction already committed")
	}
	for _, key := range keys {
		if t.written[key.String()] {
			err := status.Errorf(status.InvalidArgument,
				"transactions cannot read document %q after writing it", key)
			t.lastWriteErr = err
			return nil, err
		}
	}

	// Serve keys already read in this attempt from the memoized snapshot so
	// the attempt observes one consistent state regardless of backend
	// progress.
	var fetch []model.DocumentKey
	for _, key := range keys {
		if _, ok := t.readDocs[key.String()]; !ok {
			fetch = append(fetch, key)
		}
	}
	if len(fetch) > 0 {
		docs, err := t.datastore.Lookup(ctx, fetch)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			t.recordRead(doc)
		}
	}

	out := make([]model.Document, len(keys))
	for i, key := range keys {
		out[i] = t.readDocs[key.String()]
	}
	return out, nil
}

func (t *Transaction) recordRead(doc model.Document) {
	path := doc.Key.String()
	if _, ok := t.readDocs[path]; ok {
		return
	}
	t.readDocs[path] = doc
	// Missing documents capture the zero version: the precondition then
	// requires the document to still not exist at commit time.
	if doc.Missing() {
		t.readVersions[path] = model.ZeroVersion
		return
	}
	t.readVersions[path] = doc.Version
}

// Set stages an unconditional write (conditioned only on a version captured
// by a prior Get of the same key, if any).
func (t *Transaction) Set(key model.DocumentKey, fields map[string]any) {
	t.stage(Mutation{Key: key, Kind: MutationSet, Fields: fields, Precondition: t.preconditionFor(key)})
}

// Update stages a write that requires the document to exist. The key must
// have been read in this attempt; otherwise the attempt fails locally
// without contacting the backend.
func (t *Transaction) Update(key model.DocumentKey, fields map[string]any) {
	pre, err := t.updatePreconditionFor(key)
	if err != nil {
		t.lastWriteErr = err
		return
	}
	t.stage(Mutation{Key: key, Kind: MutationUpdate, Fields: fields, Precondition: pre})
}

// Delete stages a removal.
func (t *Transaction) Delete(key model.DocumentKey) {
	t.stage(Mutation{Key: key, Kind: MutationDelete, Precondition: t.preconditionFor(key)})
}

func (t *Transaction) stage(m Mutation) {
	t.mutations = append(t.mutations, m)
	t.written[m.Key.String()] = true
}

// preconditionFor conditions a write on the version captured by this
// attempt's read of the key, if there was one.
func (t *Transaction) preconditionFor(key model.DocumentKey) Precondition {
	version, ok := t.readVersions[key.String()]
	if !ok {
		return Precondition{}
	}
	if version == model.ZeroVersion {
		return Precondition{Exists: exists(false)}
	}
	return Precondition{UpdateTime: versionPtr(version)}
}

func (t *Transaction) updatePreconditionFor(key model.DocumentKey) (Precondition, error) {
	version, ok := t.readVersions[key.String()]
	if !ok {
		return Precondition{}, status.Errorf(status.InvalidArgument,
			"update of document %q without reading it first in this transaction", key)
	}
	if version == model.ZeroVersion {
		return Precondition{}, status.Errorf(status.InvalidArgument,
			"update of nonexistent document %q", key)
	}
	return Precondition{Exists: exists(true), UpdateTime: versionPtr(version)}, nil
}

// Commit sends the staged mutations conditioned on every captured read
// version. Keys that were read but not written still contribute a verifying
// precondition, so any externally overwritten read fails the commit.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.committed {
		return status.Errorf(status.FailedPrecondition, "transaction already committed")
	}
	if t.lastWriteErr != nil {
		return t.lastWriteErr
	}
	t.committed = true

	mutations := t.mutations
	for path, version := range t.readVersions {
		if t.written[path] {
			continue
		}
		key, err := model.ParseDocumentKey(path)
		if err != nil {
			return err
		}
		pre := Precondition{UpdateTime: versionPtr(version)}
		if version == model.ZeroVersion {
			pre = Precondition{Exists: exists(false)}
		}
		mutations = append(mutations, Mutation{Key: key, Kind: MutationVerify, Precondition: pre})
	}

	if len(mutations) == 0 {
		return nil
	}
	return t.datastore.Commit(ctx, mutations)
}
