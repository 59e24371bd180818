package connection

import (
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/docbase/docbase.go/internal/queue"
)

// StreamListener receives a stream's events. All callbacks are delivered on
// the client's task queue, in order: one OnOpen, any number of OnMessage,
// one terminal OnClose. No OnMessage follows OnClose.
type StreamListener interface {
	OnOpen()
	OnMessage(msg cbor.RawMessage)
	OnClose(err error)
}

// streamTransport is the slice of the connection a stream needs to send
// frames and detach itself.
type streamTransport interface {
	writeStreamFrame(streamID string, method string, params cbor.RawMessage) error
	detachStream(streamID string)
}

// Stream is a live bidirectional channel multiplexed over the connection.
type Stream struct {
	id       string
	method   string
	queue    *queue.Queue
	listener StreamListener
	conn     streamTransport

	// mu guards closed and orders callback enqueueing: events are enqueued
	// while holding it, so nothing can slip in after the close callback.
	mu     sync.Mutex
	closed bool
}

// ID is the stream's multiplexing identity.
func (s *Stream) ID() string { return s.id }

// Send writes a message to the backend. Once the stream is closed, Send is
// a no-op rather than an error, so callers need not guard every send
// against a race with close.
func (s *Stream) Send(msg any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	raw, err := cbor.Marshal(msg)
	if err != nil {
		return err
	}
	return s.conn.writeStreamFrame(s.id, s.method, raw)
}

// Close tears the stream down: the listener's OnClose fires exactly once
// with err (nil for a clean end), then the stream detaches from the
// transport. Additional calls are ignored.
func (s *Stream) Close(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listener := s.listener
	s.queue.Enqueue(func() { listener.OnClose(err) })
	s.mu.Unlock()

	s.conn.detachStream(s.id)
}

// notifyOpen enqueues the open callback. Called from the reader when the
// ack frame is handled, so the callback lands on the queue before any
// message the server pushes after acknowledging.
func (s *Stream) notifyOpen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	listener := s.listener
	s.queue.Enqueue(func() { listener.OnOpen() })
}

// deliver routes one inbound message to the listener. Dropped silently once
// closed; the close callback is already queued behind any earlier messages.
func (s *Stream) deliver(msg cbor.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	listener := s.listener
	s.queue.Enqueue(func() { listener.OnMessage(msg) })
}
