// Package fakeserver provides an in-process fake backend speaking the RPC
// protocol over a real websocket listener. Tests register stub handlers per
// method name; bidirectional streams hand the test a handle to push frames
// through.
package fakeserver

import (
	"net"
	"net/http"
	"sync"

	"github.com/fxamacker/cbor/v2"
	gorilla "github.com/gorilla/websocket"

	"github.com/docbase/docbase.go/pkg/connection"
)

// Handler answers one unary request. Return a result or an RPC error.
type Handler func(req connection.RPCRequest) (result any, rpcErr *connection.RPCError)

// StreamScript answers one buffered-streaming request: every message is
// sent in order, then the stream ends, or fails with Err instead of ending.
type StreamScript struct {
	Messages []any
	Err      *connection.RPCError
}

// BidiHandler is invoked when a client opens a bidirectional stream.
type BidiHandler func(s *ServerStream)

// Server is the fake backend. Zero-value handlers reply unimplemented.
type Server struct {
	listener net.Listener
	http     *http.Server
	upgrader gorilla.Upgrader

	mu            sync.Mutex
	handlers      map[string]Handler
	streamScripts map[string]StreamScript
	bidi          BidiHandler
	requests      []connection.RPCRequest
	conns         []*gorilla.Conn
}

// Start listens on an ephemeral localhost port.
func Start() (*Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener:      listener,
		handlers:      make(map[string]Handler),
		streamScripts: make(map[string]StreamScript),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.serveRPC)
	s.http = &http.Server{Handler: mux}
	go func() { _ = s.http.Serve(listener) }()
	return s, nil
}

// URL is the websocket base URL clients should dial.
func (s *Server) URL() string {
	return "ws://" + s.listener.Addr().String()
}

// Close tears the server down, upgraded websockets included. http.Server
// does not track hijacked connections, so they are closed here explicitly;
// clients observe a read error, as they would on a real connection loss.
func (s *Server) Close() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
	_ = s.http.Close()
}

// Handle registers a unary stub for method.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// HandleStream registers a buffered-streaming script for method.
func (s *Server) HandleStream(method string, script StreamScript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamScripts[method] = script
}

// HandleBidi registers the callback invoked when a stream opens.
func (s *Server) HandleBidi(h BidiHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bidi = h
}

// Requests returns every frame received so far, for metadata assertions.
func (s *Server) Requests() []connection.RPCRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]connection.RPCRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	session := &session{server: s, conn: conn, streams: make(map[string]*ServerStream)}
	session.readLoop()
}

type session struct {
	server  *Server
	conn    *gorilla.Conn
	writeMu sync.Mutex

	streamsMu sync.Mutex
	streams   map[string]*ServerStream
}

func (c *session) readLoop() {
	defer c.conn.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req connection.RPCRequest
		if err := cbor.Unmarshal(data, &req); err != nil {
			continue
		}
		c.server.mu.Lock()
		c.server.requests = append(c.server.requests, req)
		c.server.mu.Unlock()
		c.dispatch(req)
	}
}

func (c *session) dispatch(req connection.RPCRequest) {
	if req.Stream != "" {
		switch {
		case req.Method == connection.MethodCloseStream:
			c.streamsMu.Lock()
			delete(c.streams, req.Stream)
			c.streamsMu.Unlock()
		case req.ID != "":
			c.openStream(req)
		default:
			c.streamsMu.Lock()
			stream := c.streams[req.Stream]
			c.streamsMu.Unlock()
			if stream != nil && stream.OnMessage != nil {
				stream.OnMessage(req.Params)
			}
		}
		return
	}

	c.server.mu.Lock()
	script, isStreaming := c.server.streamScripts[req.Method]
	handler := c.server.handlers[req.Method]
	c.server.mu.Unlock()

	if isStreaming {
		for _, msg := range script.Messages {
			c.send(connection.RPCResponse{ID: req.ID, Result: mustMarshal(msg)})
		}
		if script.Err != nil {
			c.send(connection.RPCResponse{ID: req.ID, Error: script.Err})
			return
		}
		c.send(connection.RPCResponse{ID: req.ID, Done: true})
		return
	}

	if handler == nil {
		c.send(connection.RPCResponse{ID: req.ID, Error: &connection.RPCError{
			Code: 12, Message: "method " + req.Method + " not stubbed",
		}})
		return
	}
	result, rpcErr := handler(req)
	if rpcErr != nil {
		c.send(connection.RPCResponse{ID: req.ID, Error: rpcErr})
		return
	}
	c.send(connection.RPCResponse{ID: req.ID, Result: mustMarshal(result), Done: true})
}

func (c *session) openStream(req connection.RPCRequest) {
	stream := &ServerStream{id: req.Stream, session: c}
	c.streamsMu.Lock()
	c.streams[req.Stream] = stream
	c.streamsMu.Unlock()

	// Acknowledge before the bidi handler runs so the client's OnOpen
	// precedes every message.
	c.send(connection.RPCResponse{ID: req.ID})

	c.server.mu.Lock()
	bidi := c.server.bidi
	c.server.mu.Unlock()
	if bidi != nil {
		go bidi(stream)
	}
}

func (c *session) send(res connection.RPCResponse) {
	data, err := cbor.Marshal(res)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteMessage(gorilla.BinaryMessage, data)
}

// ServerStream is the server side of one open bidirectional stream.
type ServerStream struct {
	id      string
	session *session
	// OnMessage, when set, receives every inbound stream frame.
	OnMessage func(params cbor.RawMessage)
}

func (s *ServerStream) ID() string { return s.id }

// Push sends one message down the stream.
func (s *ServerStream) Push(msg any) {
	s.session.send(connection.RPCResponse{Stream: s.id, Result: mustMarshal(msg)})
}

// End closes the stream cleanly from the server side.
func (s *ServerStream) End() {
	s.session.send(connection.RPCResponse{Stream: s.id, Done: true})
}

// Fail closes the stream with an error.
func (s *ServerStream) Fail(code int, message string) {
	s.session.send(connection.RPCResponse{Stream: s.id, Error: &connection.RPCError{Code: code, Message: message}})
}

func mustMarshal(v any) cbor.RawMessage {
	if v == nil {
		return nil
	}
	data, err := cbor.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
