package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/uuid"
	gorilla "github.com/gorilla/websocket"

	"github.com/docbase/docbase.go/internal/queue"
	"github.com/docbase/docbase.go/internal/rand"
	"github.com/docbase/docbase.go/pkg/auth"
	"github.com/docbase/docbase.go/pkg/constants"
	"github.com/docbase/docbase.go/pkg/status"
)

// DefaultDialer is the gorilla dialer used by WebSocketConnection, with
// compression enabled and the cbor subprotocol announced.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"cbor"},
}

// WebSocketConnection multiplexes unary calls, streaming calls and
// bidirectional streams over one websocket. The socket is created once on
// Connect and cached; a failed socket is not proactively re-created,
// recovery belongs to the transport owner.
type WebSocketConnection struct {
	BaseConnection

	Conn     *gorilla.Conn
	connLock sync.Mutex

	// Timeout bounds waiting for a unary response after the request was
	// written. Zero disables it in favor of plain context deadlines.
	Timeout time.Duration

	queue *queue.Queue

	closeOnce    sync.Once
	closeChan    chan struct{}
	closeErrLock sync.Mutex
	closeError   error
}

var _ Connection = (*WebSocketConnection)(nil)

func NewWebSocketConnection(p NewConnectionParams, q *queue.Queue) *WebSocketConnection {
	return &WebSocketConnection{
		BaseConnection: BaseConnection{
			baseURL:      p.BaseURL,
			databasePath: p.DatabasePath,
			marshaler:    p.Marshaler,
			unmarshaler:  p.Unmarshaler,
			logger:       p.Logger,

			responseChannels: make(map[string]chan RPCResponse),
			streams:          make(map[string]*Stream),
			streamAcks:       make(map[string]*Stream),
		},
		Timeout:   constants.DefaultRPCTimeout,
		queue:     q,
		closeChan: make(chan struct{}),
	}
}

func (ws *WebSocketConnection) Connect(ctx context.Context) error {
	if err := ws.preConnectionChecks(); err != nil {
		return err
	}

	conn, res, err := DefaultDialer.DialContext(ctx, fmt.Sprintf("%s/rpc", ws.baseURL), nil)
	if err != nil {
		return status.Wrap(status.Unavailable, err, "dialing %s", ws.baseURL)
	}
	defer res.Body.Close()

	ws.Conn = conn
	go ws.readLoop()
	return nil
}

// Close shuts the connection down: every open stream closes cleanly, a close
// frame is offered to the server, then the socket is torn down. Idempotent.
func (ws *WebSocketConnection) Close(ctx context.Context) error {
	var closeErr error
	ws.closeOnce.Do(func() {
		// The error must be in place before closeChan wakes any waiter.
		ws.setCloseError(constants.ErrConnectionClosed)
		close(ws.closeChan)

		for _, s := range ws.allStreams() {
			s.Close(nil)
		}

		if ws.Conn == nil {
			// Connect never succeeded; there is no socket to tear down.
			return
		}

		writeErr := make(chan error, 1)
		go func() {
			ws.connLock.Lock()
			defer ws.connLock.Unlock()
			writeErr <- ws.Conn.WriteMessage(gorilla.CloseMessage,
				gorilla.FormatCloseMessage(constants.CloseMessageCode, ""))
		}()
		select {
		case err := <-writeErr:
			if err != nil {
				ws.logger.Warn("failed to write close message", "error", err.Error())
			}
		case <-ctx.Done():
			// Still tear the socket down below; the server just misses the
			// clean close frame.
		}

		closeErr = ws.Conn.Close()
	})
	return closeErr
}

// Invoke issues a unary RPC and decodes the single response into res.
func (ws *WebSocketConnection) Invoke(ctx context.Context, method string, req any, creds auth.Credentials, res any) error {
	ctx, cancel := ws.withTimeout(ctx)
	defer cancel()

	id, responseChan, err := ws.startCall(ctx, method, req, creds, nil)
	if err != nil {
		return err
	}
	defer ws.removeResponseChannel(id)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ws.closeChan:
		return ws.getCloseError()
	case rpcRes, open := <-responseChan:
		if !open {
			return status.Wrap(status.Unavailable, ws.getCloseError(), "connection lost awaiting %s response", method)
		}
		if rpcRes.Error != nil {
			return mapRPCError(rpcRes.Error)
		}
		if res != nil && rpcRes.Result != nil {
			if err := ws.unmarshaler.Unmarshal(rpcRes.Result, res); err != nil {
				return fmt.Errorf("unmarshaling %s response: %w", method, err)
			}
		}
		return nil
	}
}

// InvokeStream issues a streaming RPC and collects every message emitted
// before the stream naturally ends, in order. Any mid-stream error aborts
// the whole call with no partial result.
func (ws *WebSocketConnection) InvokeStream(ctx context.Context, method string, req any, creds auth.Credentials) ([]cbor.RawMessage, error) {
	ctx, cancel := ws.withTimeout(ctx)
	defer cancel()

	id, responseChan, err := ws.startCall(ctx, method, req, creds, nil)
	if err != nil {
		return nil, err
	}
	defer ws.removeResponseChannel(id)

	var collected []cbor.RawMessage
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ws.closeChan:
			return nil, ws.getCloseError()
		case rpcRes, open := <-responseChan:
			if !open {
				return nil, status.Wrap(status.Unavailable, ws.getCloseError(), "connection lost awaiting %s responses", method)
			}
			if rpcRes.Error != nil {
				return nil, mapRPCError(rpcRes.Error)
			}
			if rpcRes.Result != nil {
				collected = append(collected, rpcRes.Result)
			}
			if rpcRes.Done {
				return collected, nil
			}
		}
	}
}

// OpenStream opens a bidirectional stream. The reader enqueues the open
// callback when it handles the server's ack, so OnOpen always lands on the
// queue ahead of any message the server pushes right after acknowledging.
func (ws *WebSocketConnection) OpenStream(ctx context.Context, method string, creds auth.Credentials, listener StreamListener) (*Stream, error) {
	streamID, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	s := &Stream{
		id:       streamID.String(),
		method:   method,
		queue:    ws.queue,
		listener: listener,
		conn:     ws,
	}
	if err := ws.registerStream(s); err != nil {
		return nil, err
	}

	ackCtx, cancel := ws.withTimeout(ctx)
	defer cancel()

	id, responseChan, err := ws.startCall(ackCtx, method, nil, creds, s)
	if err != nil {
		ws.removeStream(s.id)
		return nil, err
	}
	defer ws.removeResponseChannel(id)
	defer ws.takeStreamAck(id)

	select {
	case <-ackCtx.Done():
		ws.removeStream(s.id)
		return nil, ackCtx.Err()
	case <-ws.closeChan:
		ws.removeStream(s.id)
		return nil, ws.getCloseError()
	case rpcRes, open := <-responseChan:
		if !open {
			ws.removeStream(s.id)
			return nil, status.Wrap(status.Unavailable, ws.getCloseError(), "connection lost opening %s stream", method)
		}
		if rpcRes.Error != nil {
			ws.removeStream(s.id)
			return nil, mapRPCError(rpcRes.Error)
		}
	}

	return s, nil
}

// startCall registers a response channel and writes the request frame. When
// the call opens a stream, the ack registry entry goes in before the write so
// the reader can never see the ack frame for an unknown request.
func (ws *WebSocketConnection) startCall(ctx context.Context, method string, req any, creds auth.Credentials, stream *Stream) (string, chan RPCResponse, error) {
	select {
	case <-ws.closeChan:
		return "", nil, ws.getCloseError()
	case <-ctx.Done():
		return "", nil, ctx.Err()
	default:
	}

	var params cbor.RawMessage
	if req != nil {
		raw, err := ws.marshaler.Marshal(req)
		if err != nil {
			return "", nil, fmt.Errorf("marshaling %s request: %w", method, err)
		}
		params = raw
	}

	streamID := ""
	if stream != nil {
		streamID = stream.id
	}

	id := rand.NewRequestID(constants.RequestIDLength)
	request := &RPCRequest{
		ID:      id,
		Method:  method,
		Headers: ws.callHeaders(creds),
		Params:  params,
		Stream:  streamID,
	}

	responseChan, err := ws.createResponseChannel(id)
	if err != nil {
		return "", nil, err
	}
	if stream != nil {
		ws.addStreamAck(id, stream)
	}

	if err := ws.write(request); err != nil {
		if stream != nil {
			ws.takeStreamAck(id)
		}
		ws.removeResponseChannel(id)
		return "", nil, status.Wrap(status.Unavailable, err, "writing %s request", method)
	}
	return id, responseChan, nil
}

// setCloseError records the terminal connection error. The first writer
// wins, so a deliberate Close is never masked by a trailing read error.
func (ws *WebSocketConnection) setCloseError(err error) {
	ws.closeErrLock.Lock()
	defer ws.closeErrLock.Unlock()
	if ws.closeError == nil {
		ws.closeError = err
	}
}

func (ws *WebSocketConnection) getCloseError() error {
	ws.closeErrLock.Lock()
	defer ws.closeErrLock.Unlock()
	return ws.closeError
}

func (ws *WebSocketConnection) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ws.Timeout > 0 {
		return context.WithTimeout(ctx, ws.Timeout)
	}
	return context.WithCancel(ctx)
}

func (ws *WebSocketConnection) write(v any) error {
	data, err := ws.marshaler.Marshal(v)
	if err != nil {
		return err
	}

	ws.connLock.Lock()
	defer ws.connLock.Unlock()
	return ws.Conn.WriteMessage(gorilla.BinaryMessage, data)
}

// writeStreamFrame implements streamTransport.
func (ws *WebSocketConnection) writeStreamFrame(streamID, method string, params cbor.RawMessage) error {
	return ws.write(&RPCRequest{Method: method, Stream: streamID, Params: params})
}

// detachStream implements streamTransport. A best-effort end frame tells
// the server the stream is gone; the write fails harmlessly when the socket
// is already down.
func (ws *WebSocketConnection) detachStream(streamID string) {
	ws.removeStream(streamID)
	select {
	case <-ws.closeChan:
		return
	default:
	}
	if err := ws.write(&RPCRequest{Method: MethodCloseStream, Stream: streamID}); err != nil {
		ws.logger.Debug("stream end frame not delivered", "stream", streamID, "error", err.Error())
	}
}

// readLoop is the single reader goroutine. Frames are handled inline so
// delivery order is preserved end to end.
func (ws *WebSocketConnection) readLoop() {
	for {
		select {
		case <-ws.closeChan:
			return
		default:
			_, data, err := ws.Conn.ReadMessage()
			if err != nil {
				ws.handleReadError(err)
				return
			}
			ws.handleFrame(data)
		}
	}
}

// handleReadError ends the connection's life: gorilla sockets never recover
// after a read error, so every pending call fails and every stream closes
// with the same mapped terminal error.
func (ws *WebSocketConnection) handleReadError(err error) {
	expected := errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		gorilla.IsCloseError(err, constants.CloseMessageCode) ||
		gorilla.IsUnexpectedCloseError(err)
	if !expected {
		ws.logger.Error("websocket read failed", "error", err.Error())
	}

	select {
	case <-ws.closeChan:
		// Deliberate shutdown; streams were already closed cleanly.
		return
	default:
	}

	streamErr := status.Wrap(status.Unavailable, err, "connection lost")
	ws.setCloseError(streamErr)
	ws.clearStreamAcks()

	for _, s := range ws.allStreams() {
		s.Close(streamErr)
	}

	ws.responseChannelsLock.Lock()
	for id, ch := range ws.responseChannels {
		close(ch)
		delete(ws.responseChannels, id)
	}
	ws.responseChannelsLock.Unlock()
}

func (ws *WebSocketConnection) handleFrame(data []byte) {
	var rpcRes RPCResponse
	if err := ws.unmarshaler.Unmarshal(data, &rpcRes); err != nil {
		ws.logger.Error("dropping undecodable frame", "error", err.Error())
		return
	}

	switch {
	case rpcRes.ID != "":
		if s, pending := ws.takeStreamAck(rpcRes.ID); pending && rpcRes.Error == nil {
			// Enqueue the open callback here, on the reader, so it sits on
			// the queue before any stream frame that follows the ack.
			s.notifyOpen()
		}
		responseChan, ok := ws.getResponseChannel(rpcRes.ID)
		if !ok {
			ws.logger.Warn("response for unknown request", "id", rpcRes.ID)
			return
		}
		select {
		case responseChan <- rpcRes:
		default:
			ws.logger.Error("response channel full, dropping frame", "id", rpcRes.ID)
		}

	case rpcRes.Stream != "":
		s, ok := ws.getStream(rpcRes.Stream)
		if !ok {
			// Stream already closed locally; frames in flight are expected.
			return
		}
		switch {
		case rpcRes.Error != nil:
			s.Close(mapRPCError(rpcRes.Error))
		case rpcRes.Done:
			s.Close(nil)
		default:
			s.deliver(rpcRes.Result)
		}

	default:
		ws.logger.Warn("frame with neither id nor stream, dropping")
	}
}
