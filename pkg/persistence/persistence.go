// Package persistence defines the transactional storage boundary the cache
// runs on, plus an in-memory engine. Every cache operation executes inside a
// named transaction with a declared access mode; operations inside one
// transaction are atomic and isolated from concurrent transactions.
package persistence

import (
	"context"
)

// Mode declares what a transaction is allowed to do.
type Mode int

const (
	// Readonly transactions never write. They require no lease and may run
	// concurrently with each other, observing a consistent snapshot.
	Readonly Mode = iota
	// ReadwritePrimary transactions may write and require the client to hold
	// the primary lease: a single active writer across cooperating client
	// instances of the same logical database.
	ReadwritePrimary
)

func (m Mode) String() string {
	if m == ReadwritePrimary {
		return "readwrite-primary"
	}
	return "readonly"
}

// Persistence runs scoped, named transactions. The *Transaction handed to fn
// must be threaded through every storage call made inside it; using it after
// fn returns is a programming error.
type Persistence interface {
	Run(ctx context.Context, label string, mode Mode, fn func(txn *Transaction) error) error
	Close() error
}

// Tables used by the document cache. Declared here so the engine can
// pre-create them; the set is closed.
const (
	TableRemoteDocuments   = "remoteDocuments"
	TableDocumentReadTimes = "remoteDocumentReadTimes"
	TableGlobals           = "globals"
	TableCollectionParents = "collectionParents"
)

var allTables = []string{
	TableRemoteDocuments,
	TableDocumentReadTimes,
	TableGlobals,
	TableCollectionParents,
}
