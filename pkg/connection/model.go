package connection

import (
	"github.com/fxamacker/cbor/v2"
)

// RPCError is the wire form of a backend failure. Code uses the canonical
// RPC code space.
type RPCError struct {
	Code    int    `cbor:"code"`
	Message string `cbor:"message,omitempty"`
}

func (r *RPCError) Error() string {
	return r.Message
}

// RPCRequest is one frame sent to the backend. Unary and buffered-streaming
// calls carry an ID for response correlation; frames belonging to an open
// bidirectional stream carry the stream ID instead.
type RPCRequest struct {
	ID      string            `cbor:"id,omitempty"`
	Method  string            `cbor:"method,omitempty"`
	Headers map[string]string `cbor:"headers,omitempty"`
	Params  cbor.RawMessage   `cbor:"params,omitempty"`
	Stream  string            `cbor:"stream,omitempty"`
}

// RPCResponse is one frame received from the backend. ID-bearing frames
// resolve pending calls; stream-bearing frames route to the open stream.
// Done marks the natural end of a streaming call or stream.
type RPCResponse struct {
	ID     string          `cbor:"id,omitempty"`
	Stream string          `cbor:"stream,omitempty"`
	Done   bool            `cbor:"done,omitempty"`
	Error  *RPCError       `cbor:"error,omitempty"`
	Result cbor.RawMessage `cbor:"result,omitempty"`
}

// Metadata header names attached to every call.
const (
	HeaderAuthorization = "authorization"
	HeaderAppCheck      = "x-docbase-appcheck"
	HeaderClient        = "x-docbase-client"
	HeaderResource      = "x-docbase-resource-prefix"
)

// Well-known RPC method names.
const (
	MethodLookup      = "lookup"
	MethodCommit      = "commit"
	MethodBatchGet    = "batchGet"
	MethodListen      = "listen"
	MethodWrite       = "write"
	MethodCloseStream = "closeStream"
)
