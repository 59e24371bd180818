// Package docbase is the client-side synchronization core of an
// offline-capable document database: a persisted local cache of remote
// documents (pkg/cache over pkg/persistence), optimistic multi-document
// transactions with bounded retry (pkg/txn), and a multiplexed streaming
// transport (pkg/connection).
//
// The root package wires the pieces into a Client. The query engine, sync
// engine and platform storage backends are external collaborators consuming
// the interfaces exported by the subpackages.
package docbase
