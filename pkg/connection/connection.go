// Package connection abstracts unary calls, buffered streaming calls and
// full-duplex streams over one transport. Callers see domain errors only;
// transport status codes are mapped before anything crosses this boundary.
package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/docbase/docbase.go/internal/codec"
	"github.com/docbase/docbase.go/pkg/auth"
	"github.com/docbase/docbase.go/pkg/constants"
	"github.com/docbase/docbase.go/pkg/logger"
	"github.com/docbase/docbase.go/pkg/status"
)

// Connection is the transport surface the client and the higher sync engine
// consume.
type Connection interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Invoke issues a unary RPC: auth metadata injected, response decoded
	// into res (ignored when res is nil), backend errors mapped to domain
	// errors.
	Invoke(ctx context.Context, method string, req any, creds auth.Credentials, res any) error

	// InvokeStream issues a streaming RPC and collects every message emitted
	// before the stream naturally ends. A mid-stream error aborts the whole
	// call with no partial result.
	InvokeStream(ctx context.Context, method string, req any, creds auth.Credentials) ([]cbor.RawMessage, error)

	// OpenStream opens a live bidirectional channel. The listener's OnOpen
	// fires exactly once, before any OnMessage; OnClose fires exactly once
	// with the terminal error or nil.
	OpenStream(ctx context.Context, method string, creds auth.Credentials, listener StreamListener) (*Stream, error)
}

// NewConnectionParams configures a connection.
type NewConnectionParams struct {
	BaseURL     string
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
	Logger      logger.Logger
	// DatabasePath is the project/database resource string attached to every
	// call's metadata.
	DatabasePath string
}

// BaseConnection holds the request/response correlation state shared by
// transport implementations.
type BaseConnection struct {
	baseURL      string
	databasePath string
	marshaler    codec.Marshaler
	unmarshaler  codec.Unmarshaler
	logger       logger.Logger

	responseChannels     map[string]chan RPCResponse
	responseChannelsLock sync.RWMutex

	streams     map[string]*Stream
	streamsLock sync.RWMutex

	streamAcks     map[string]*Stream
	streamAcksLock sync.Mutex
}

func (bc *BaseConnection) createResponseChannel(id string) (chan RPCResponse, error) {
	bc.responseChannelsLock.Lock()
	defer bc.responseChannelsLock.Unlock()

	if _, ok := bc.responseChannels[id]; ok {
		return nil, fmt.Errorf("%w: %v", constants.ErrIDInUse, id)
	}

	// Buffered so the reader goroutine never blocks on a slow collector.
	ch := make(chan RPCResponse, 16)
	bc.responseChannels[id] = ch

	return ch, nil
}

func (bc *BaseConnection) getResponseChannel(id string) (chan RPCResponse, bool) {
	bc.responseChannelsLock.RLock()
	defer bc.responseChannelsLock.RUnlock()
	ch, ok := bc.responseChannels[id]
	return ch, ok
}

func (bc *BaseConnection) removeResponseChannel(id string) {
	bc.responseChannelsLock.Lock()
	defer bc.responseChannelsLock.Unlock()
	delete(bc.responseChannels, id)
}

func (bc *BaseConnection) registerStream(s *Stream) error {
	bc.streamsLock.Lock()
	defer bc.streamsLock.Unlock()
	if _, ok := bc.streams[s.id]; ok {
		return fmt.Errorf("%w: %v", constants.ErrIDInUse, s.id)
	}
	bc.streams[s.id] = s
	return nil
}

func (bc *BaseConnection) getStream(id string) (*Stream, bool) {
	bc.streamsLock.RLock()
	defer bc.streamsLock.RUnlock()
	s, ok := bc.streams[id]
	return s, ok
}

func (bc *BaseConnection) removeStream(id string) {
	bc.streamsLock.Lock()
	defer bc.streamsLock.Unlock()
	delete(bc.streams, id)
}

// addStreamAck ties a pending stream-open request to its stream so the
// reader can fire the open callback the moment the ack frame arrives.
func (bc *BaseConnection) addStreamAck(id string, s *Stream) {
	bc.streamAcksLock.Lock()
	defer bc.streamAcksLock.Unlock()
	bc.streamAcks[id] = s
}

func (bc *BaseConnection) takeStreamAck(id string) (*Stream, bool) {
	bc.streamAcksLock.Lock()
	defer bc.streamAcksLock.Unlock()
	s, ok := bc.streamAcks[id]
	if ok {
		delete(bc.streamAcks, id)
	}
	return s, ok
}

func (bc *BaseConnection) clearStreamAcks() {
	bc.streamAcksLock.Lock()
	defer bc.streamAcksLock.Unlock()
	bc.streamAcks = make(map[string]*Stream)
}

func (bc *BaseConnection) allStreams() []*Stream {
	bc.streamsLock.RLock()
	defer bc.streamsLock.RUnlock()
	out := make([]*Stream, 0, len(bc.streams))
	for _, s := range bc.streams {
		out = append(out, s)
	}
	return out
}

func (bc *BaseConnection) preConnectionChecks() error {
	if bc.baseURL == "" {
		return constants.ErrNoBaseURL
	}
	if bc.marshaler == nil {
		return constants.ErrNoMarshaler
	}
	if bc.unmarshaler == nil {
		return constants.ErrNoUnmarshaler
	}
	return nil
}

// callHeaders builds the metadata attached to every RPC: auth token,
// app-check token, client identification and the resource prefix.
func (bc *BaseConnection) callHeaders(creds auth.Credentials) map[string]string {
	headers := map[string]string{
		HeaderClient: constants.ClientIdentifier,
	}
	if bc.databasePath != "" {
		headers[HeaderResource] = bc.databasePath
	}
	if creds.AuthToken != "" {
		headers[HeaderAuthorization] = "Bearer " + creds.AuthToken
	}
	if creds.AppCheckToken != "" {
		headers[HeaderAppCheck] = creds.AppCheckToken
	}
	return headers
}

// mapRPCError translates a wire error into the domain taxonomy.
func mapRPCError(e *RPCError) error {
	if e == nil {
		return nil
	}
	if mapped := status.FromRPC(e.Code, e.Message); mapped != nil {
		return mapped
	}
	return nil
}
