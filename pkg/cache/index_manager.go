package cache

import (
	"strings"

	"github.com/docbase/docbase.go/pkg/persistence"
)

// IndexManager is the slice of the sync engine's indexing capability the
// cache depends on: it learns about every collection parent the cache stores
// documents under, so collection-group queries can locate their collections.
type IndexManager interface {
	AddToCollectionParentIndex(txn *persistence.Transaction, collectionPath string) error
	GetCollectionParents(txn *persistence.Transaction, collectionID string) ([]string, error)
}

type noopIndexManager struct{}

func (noopIndexManager) AddToCollectionParentIndex(*persistence.Transaction, string) error {
	return nil
}

func (noopIndexManager) GetCollectionParents(*persistence.Transaction, string) ([]string, error) {
	return nil, nil
}

// MemoryIndexManager persists collection parents in the collectionParents
// table. Index rows are keyed collectionID|parentPath with empty values.
type MemoryIndexManager struct{}

var _ IndexManager = MemoryIndexManager{}

func (MemoryIndexManager) AddToCollectionParentIndex(txn *persistence.Transaction, collectionPath string) error {
	collectionID := collectionPath
	parent := ""
	if i := strings.LastIndexByte(collectionPath, '/'); i >= 0 {
		collectionID = collectionPath[i+1:]
		parent = collectionPath[:i]
	}
	txn.Table(persistence.TableCollectionParents).Put(collectionID+"|"+parent, nil)
	return nil
}

func (MemoryIndexManager) GetCollectionParents(txn *persistence.Transaction, collectionID string) ([]string, error) {
	prefix := collectionID + "|"
	var parents []string
	txn.Table(persistence.TableCollectionParents).Ascend(func(key string, _ []byte) bool {
		if key < prefix {
			return true
		}
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		parents = append(parents, strings.TrimPrefix(key, prefix))
		return true
	})
	return parents, nil
}
