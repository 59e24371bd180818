package cache

import (
	multierror "github.com/hashicorp/go-multierror"

	"github.com/docbase/docbase.go/pkg/model"
	"github.com/docbase/docbase.go/pkg/persistence"
	"github.com/docbase/docbase.go/pkg/status"
)

// ChangeBufferOptions configures a change buffer.
type ChangeBufferOptions struct {
	// TrackRemovals keeps removed documents in the cache as tombstones so
	// downstream consumers can observe "missing as of version V" instead of
	// the entry silently disappearing.
	TrackRemovals bool
}

// ChangeBuffer stages adds and removals against the cache and applies them
// atomically. It also memoizes every document it reads, which serves two
// purposes: repeated reads inside one transaction are consistent and cheap,
// and every overwrite has a known prior state for size accounting. Staging a
// key that was never read through the buffer is a programming error.
type ChangeBuffer struct {
	cache         *RemoteDocumentCache
	trackRemovals bool

	// readCache holds documents read through this buffer, keyed by canonical
	// path. Unknown sentinels are memoized too.
	readCache map[string]model.Document
	// changes holds staged writes: Found documents are adds/updates, Missing
	// documents are removals at their version.
	changes map[string]model.Document

	applied bool
}

// GetEntry returns the buffered state for key if one is staged, otherwise
// reads through to the cache and memoizes the result.
func (b *ChangeBuffer) GetEntry(txn *persistence.Transaction, key model.DocumentKey) (model.Document, error) {
	b.assertNotApplied()
	if doc, ok := b.changes[key.String()]; ok {
		return doc, nil
	}
	if doc, ok := b.readCache[key.String()]; ok {
		return doc, nil
	}
	doc, err := b.cache.GetEntry(txn, key)
	if err != nil {
		return model.Document{}, err
	}
	b.readCache[key.String()] = doc
	return doc, nil
}

// GetEntries reads a batch through the buffer. Every requested key yields an
// entry and becomes eligible for a subsequent AddEntry/RemoveEntry.
func (b *ChangeBuffer) GetEntries(txn *persistence.Transaction, keys []model.DocumentKey) (*model.DocumentMap, error) {
	b.assertNotApplied()
	out := model.NewDocumentMap()
	for _, key := range keys {
		doc, err := b.GetEntry(txn, key)
		if err != nil {
			return nil, err
		}
		out.Set(doc)
	}
	return out, nil
}

// AddEntry stages an add or update at the given read time. The key must have
// been read through this buffer first so the size delta on apply is computed
// from a known baseline.
func (b *ChangeBuffer) AddEntry(doc model.Document, readTime model.Version) {
	b.assertNotApplied()
	b.assertRead(doc.Key)
	status.Assert(doc.Found(), "AddEntry with non-found document %q (%s)", doc.Key, doc.State)
	b.changes[doc.Key.String()] = doc.WithReadTime(readTime)
}

// RemoveEntry stages a removal at the given read time. With TrackRemovals
// the removal persists as a tombstone rather than a bare delete.
func (b *ChangeBuffer) RemoveEntry(key model.DocumentKey, readTime model.Version) {
	b.assertNotApplied()
	b.assertRead(key)
	b.changes[key.String()] = model.MissingDocument(key, readTime).WithReadTime(readTime)
}

// Apply writes every buffered entry into the cache within txn. Atomicity is
// delegated to persistence: either the enclosing transaction commits with
// all entries or none land. A buffer applies at most once.
func (b *ChangeBuffer) Apply(txn *persistence.Transaction) error {
	b.assertNotApplied()
	b.applied = true

	docsTable := txn.Table(persistence.TableRemoteDocuments)
	indexTable := txn.Table(persistence.TableDocumentReadTimes)

	size, err := b.cache.GetSize(txn)
	if err != nil {
		return err
	}

	var errs error
	for path, staged := range b.changes {
		prior := b.readCache[path]

		// Retire the prior read-time index row; a new one is written below
		// unless the document is dropped outright.
		if !prior.Unknown() {
			indexTable.Delete(readTimeIndexKey(prior.ReadTime, prior.Key))
		}

		dropped := staged.Missing() && !b.trackRemovals
		if dropped {
			docsTable.Delete(path)
			size -= documentSize(prior)
			continue
		}

		raw, err := encodeDocRecord(staged)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		docsTable.Put(path, raw)
		indexTable.Put(readTimeIndexKey(staged.ReadTime, staged.Key), []byte(path))
		size += documentSize(staged) - documentSize(prior)

		if staged.Found() {
			if err := b.cache.indexManager.AddToCollectionParentIndex(txn, staged.Key.CollectionPath()); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	if errs != nil {
		return errs
	}

	return b.cache.setSize(txn, size)
}

func (b *ChangeBuffer) assertNotApplied() {
	status.Assert(!b.applied, "change buffer used after apply")
}

func (b *ChangeBuffer) assertRead(key model.DocumentKey) {
	_, ok := b.readCache[key.String()]
	status.Assert(ok, "document %q staged without prior read through the change buffer", key)
}
