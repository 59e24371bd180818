package constants

import (
	"errors"
	"time"
)

// Errors
var (
	ErrIDInUse            = errors.New("id already in use")
	ErrTimeout            = errors.New("timeout")
	ErrNoBaseURL          = errors.New("base url not set")
	ErrNoMarshaler        = errors.New("marshaler is not set")
	ErrNoUnmarshaler      = errors.New("unmarshaler is not set")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrMethodNotAvailable = errors.New("method not available on this connection")
)

const (
	RequestIDLength = 16

	DefaultRPCTimeout = 30 * time.Second

	// ClientIdentifier is attached to every call's metadata.
	ClientIdentifier = "docbase-go/0.1.0"

	CloseMessageCode = 1000
)

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
)
