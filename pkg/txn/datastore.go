// Package txn provides optimistic multi-document transactions over an
// eventually consistent backend: reads capture versions, the commit is
// conditioned on every captured version still matching, and conflicts retry
// with bounded attempts.
package txn

import (
	"context"

	"github.com/docbase/docbase.go/pkg/model"
)

// MutationKind discriminates staged writes.
type MutationKind int

const (
	MutationSet MutationKind = iota
	MutationUpdate
	MutationDelete
	// MutationVerify carries no write; it exists purely so a read that was
	// never written still contributes its precondition to the commit.
	MutationVerify
)

func (k MutationKind) String() string {
	switch k {
	case MutationSet:
		return "set"
	case MutationUpdate:
		return "update"
	case MutationDelete:
		return "delete"
	default:
		return "verify"
	}
}

// Precondition gates a mutation on the backend's current state of the key.
type Precondition struct {
	// Exists, when non-nil, requires the document to exist (true) or not
	// exist (false).
	Exists *bool
	// UpdateTime, when non-nil, requires the document's current version to
	// equal it exactly.
	UpdateTime *model.Version
}

// Mutation is one staged write plus its precondition.
type Mutation struct {
	Key          model.DocumentKey
	Kind         MutationKind
	Fields       map[string]any
	Precondition Precondition
}

// Datastore is the remote backend surface the transaction machinery needs.
// The production implementation sits on the connection layer (pkg/remote);
// tests substitute fakes.
type Datastore interface {
	// Lookup returns one document per requested key, missing keys included
	// as missing documents carrying the version at which absence was
	// observed.
	Lookup(ctx context.Context, keys []model.DocumentKey) ([]model.Document, error)
	// Commit applies all mutations atomically iff every precondition holds.
	// A precondition mismatch fails with an aborted/failed-precondition
	// domain error.
	Commit(ctx context.Context, mutations []Mutation) error
}

func exists(v bool) *bool { return &v }

func versionPtr(v model.Version) *model.Version { return &v }
