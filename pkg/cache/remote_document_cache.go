// Package cache implements the remote document cache: the persisted mapping
// from document key to the last-known document content and the logical time
// it was read. All access happens inside persistence transactions; writes go
// through a change buffer so multi-document updates land atomically and size
// accounting always has a known baseline.
package cache

import (
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/docbase/docbase.go/pkg/model"
	"github.com/docbase/docbase.go/pkg/persistence"
	"github.com/docbase/docbase.go/pkg/status"
)

// entryOverhead approximates the per-entry storage cost of key, version and
// read-time bookkeeping, on top of the encoded payload.
const entryOverhead = 32

const byteSizeKey = "byteSize"

// docRecord is the stored form of a cached document.
type docRecord struct {
	Version  int64           `cbor:"v"`
	State    int             `cbor:"s"`
	Fields   cbor.RawMessage `cbor:"f,omitempty"`
	ReadTime int64           `cbor:"rt"`
}

// RemoteDocumentCache reads and writes synced documents. The struct itself
// is stateless apart from the index-manager hook; all data lives in
// persistence.
type RemoteDocumentCache struct {
	indexManager IndexManager
}

func NewRemoteDocumentCache() *RemoteDocumentCache {
	return &RemoteDocumentCache{indexManager: noopIndexManager{}}
}

// SetIndexManager installs the sync engine's index capability. The cache
// notifies it of every collection parent it stores documents under.
func (c *RemoteDocumentCache) SetIndexManager(im IndexManager) {
	if im == nil {
		im = noopIndexManager{}
	}
	c.indexManager = im
}

// GetEntry returns the cached document for key, or an unknown-state sentinel
// if the cache has no entry. Absence is not an error.
func (c *RemoteDocumentCache) GetEntry(txn *persistence.Transaction, key model.DocumentKey) (model.Document, error) {
	raw, ok := txn.Table(persistence.TableRemoteDocuments).Get(key.String())
	if !ok {
		return model.UnknownDocument(key), nil
	}
	return decodeDocRecord(key, raw)
}

// GetEntries is the batch form of GetEntry. The result's key set equals the
// requested key set exactly; keys without an entry map to sentinels.
func (c *RemoteDocumentCache) GetEntries(txn *persistence.Transaction, keys []model.DocumentKey) (*model.DocumentMap, error) {
	out := model.NewDocumentMap()
	for _, key := range keys {
		doc, err := c.GetEntry(txn, key)
		if err != nil {
			return nil, err
		}
		out.Set(doc)
	}
	return out, nil
}

// GetAllFromCollection returns every document that is a direct child of
// collectionPath whose (readTime, key) lies strictly after offset, ordered
// by key.
func (c *RemoteDocumentCache) GetAllFromCollection(txn *persistence.Transaction, collectionPath string, offset model.IndexOffset) (*model.DocumentMap, error) {
	prefix := collectionPath + "/"
	out := model.NewDocumentMap()

	var scanErr error
	txn.Table(persistence.TableRemoteDocuments).Ascend(func(path string, raw []byte) bool {
		if path < prefix {
			return true
		}
		if !strings.HasPrefix(path, prefix) {
			// Keys are ordered, nothing after this can match.
			return false
		}
		key, err := model.ParseDocumentKey(path)
		if err != nil {
			scanErr = err
			return false
		}
		if !key.HasCollectionPath(collectionPath) {
			// Document in a nested subcollection.
			return true
		}
		doc, err := decodeDocRecord(key, raw)
		if err != nil {
			scanErr = err
			return false
		}
		if model.OffsetAfterDocument(doc).Compare(offset) > 0 {
			out.Set(doc)
		}
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	return out, nil
}

// GetAllFromCollectionGroup scans every collection named group across the
// hierarchy, in (readTime, key) order, returning at most limit documents
// lying strictly after offset. The limit is advisory pagination: callers
// drain a group by advancing the offset past the last returned entry.
func (c *RemoteDocumentCache) GetAllFromCollectionGroup(txn *persistence.Transaction, group string, offset model.IndexOffset, limit int) (*model.DocumentMap, error) {
	out := model.NewDocumentMap()
	docs := txn.Table(persistence.TableRemoteDocuments)

	var scanErr error
	txn.Table(persistence.TableDocumentReadTimes).Ascend(func(indexKey string, pathBytes []byte) bool {
		if limit >= 0 && out.Len() >= limit {
			return false
		}
		key, err := model.ParseDocumentKey(string(pathBytes))
		if err != nil {
			scanErr = err
			return false
		}
		if key.CollectionGroup() != group {
			return true
		}
		raw, ok := docs.Get(key.String())
		if !ok {
			scanErr = status.Errorf(status.Internal, "read-time index references missing document %q", key)
			return false
		}
		doc, err := decodeDocRecord(key, raw)
		if err != nil {
			scanErr = err
			return false
		}
		if model.OffsetAfterDocument(doc).Compare(offset) > 0 {
			out.Set(doc)
		}
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	return out, nil
}

// GetNewDocumentChanges returns every document whose read time is strictly
// greater than sinceVersion, plus the maximum read time observed, letting
// the caller advance a watermark without re-scanning from the start.
func (c *RemoteDocumentCache) GetNewDocumentChanges(txn *persistence.Transaction, sinceVersion model.Version) (*model.DocumentMap, model.Version, error) {
	out := model.NewDocumentMap()
	newReadTime := sinceVersion
	docs := txn.Table(persistence.TableRemoteDocuments)

	var scanErr error
	txn.Table(persistence.TableDocumentReadTimes).Ascend(func(indexKey string, pathBytes []byte) bool {
		readTime, err := readTimeOfIndexKey(indexKey)
		if err != nil {
			scanErr = err
			return false
		}
		if !readTime.After(sinceVersion) {
			return true
		}
		if readTime.After(newReadTime) {
			newReadTime = readTime
		}
		key, err := model.ParseDocumentKey(string(pathBytes))
		if err != nil {
			scanErr = err
			return false
		}
		raw, ok := docs.Get(key.String())
		if !ok {
			scanErr = status.Errorf(status.Internal, "read-time index references missing document %q", key)
			return false
		}
		doc, err := decodeDocRecord(key, raw)
		if err != nil {
			scanErr = err
			return false
		}
		out.Set(doc)
		return true
	})
	if scanErr != nil {
		return nil, model.ZeroVersion, scanErr
	}
	return out, newReadTime, nil
}

// GetSize returns the aggregate storage footprint in bytes. It stays in sync
// with every change-buffer apply because overwrites are always preceded by a
// read, so the size delta is computed from a known prior state.
func (c *RemoteDocumentCache) GetSize(txn *persistence.Transaction) (int64, error) {
	raw, ok := txn.Table(persistence.TableGlobals).Get(byteSizeKey)
	if !ok {
		return 0, nil
	}
	var size int64
	if err := cbor.Unmarshal(raw, &size); err != nil {
		return 0, fmt.Errorf("decoding cache size: %w", err)
	}
	return size, nil
}

// NewChangeBuffer opens a fresh staging buffer bound to this cache.
func (c *RemoteDocumentCache) NewChangeBuffer(opts ChangeBufferOptions) *ChangeBuffer {
	return &ChangeBuffer{
		cache:         c,
		trackRemovals: opts.TrackRemovals,
		readCache:     make(map[string]model.Document),
		changes:       make(map[string]model.Document),
	}
}

func (c *RemoteDocumentCache) setSize(txn *persistence.Transaction, size int64) error {
	raw, err := cbor.Marshal(size)
	if err != nil {
		return err
	}
	txn.Table(persistence.TableGlobals).Put(byteSizeKey, raw)
	return nil
}

func encodeDocRecord(doc model.Document) ([]byte, error) {
	return cbor.Marshal(docRecord{
		Version:  int64(doc.Version),
		State:    int(doc.State),
		Fields:   doc.Fields,
		ReadTime: int64(doc.ReadTime),
	})
}

func decodeDocRecord(key model.DocumentKey, raw []byte) (model.Document, error) {
	var rec docRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return model.Document{}, fmt.Errorf("decoding document %q: %w", key, err)
	}
	return model.Document{
		Key:      key,
		Version:  model.Version(rec.Version),
		State:    model.DocumentState(rec.State),
		Fields:   rec.Fields,
		ReadTime: model.Version(rec.ReadTime),
	}, nil
}

// documentSize is the footprint charged against the cache size counter.
// Unknown sentinels occupy nothing.
func documentSize(doc model.Document) int64 {
	if doc.Unknown() {
		return 0
	}
	return entryOverhead + int64(len(doc.Fields))
}

// readTimeIndexKey orders index rows by (readTime, key): fixed-width decimal
// read time, then canonical path.
func readTimeIndexKey(readTime model.Version, key model.DocumentKey) string {
	return fmt.Sprintf("%020d|%s", int64(readTime), key.String())
}

func readTimeOfIndexKey(indexKey string) (model.Version, error) {
	sep := strings.IndexByte(indexKey, '|')
	if sep < 0 {
		return model.ZeroVersion, status.Errorf(status.Internal, "malformed read-time index key %q", indexKey)
	}
	var rt int64
	if _, err := fmt.Sscanf(indexKey[:sep], "%d", &rt); err != nil {
		return model.ZeroVersion, status.Errorf(status.Internal, "malformed read-time index key %q", indexKey)
	}
	return model.Version(rt), nil
}
