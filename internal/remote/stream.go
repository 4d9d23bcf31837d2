package remote

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// StreamStatus is the connection state of the change stream. Anything other
// than connected means "assume stale, resync on reconnect".
type StreamStatus string

const (
	StatusConnected    StreamStatus = "connected"
	StatusDisconnected StreamStatus = "disconnected"
	StatusError        StreamStatus = "error"
)

// ChangeEvent is either a change notification (ResourceKey set) or a status
// transition (Status set, ResourceKey empty).
type ChangeEvent struct {
	ResourceKey   string
	AuthorSession string
	Status        StreamStatus
}

// ChangeStream delivers change events until closed. The events channel is
// closed when the underlying connection dies; the consumer redials.
type ChangeStream interface {
	Events() <-chan ChangeEvent
	Close() error
}

// StreamDialer opens a change stream. The sync engine owns redial/backoff.
type StreamDialer func(ctx context.Context) (ChangeStream, error)

type wireChange struct {
	ResourceKey   string `json:"resource_key"`
	AuthorSession string `json:"author_session"`
}

// WSStream is the production ChangeStream over a websocket.
type WSStream struct {
	conn      *websocket.Conn
	events    chan ChangeEvent
	done      chan struct{}
	closeOnce sync.Once
}

// DialStream connects to the backend's change feed. The first event on the
// channel is always StatusConnected; the last, before the channel closes, is
// StatusDisconnected or StatusError.
func DialStream(ctx context.Context, url string) (*WSStream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &NetworkError{Op: "dial change stream", Err: err}
	}

	s := &WSStream{
		conn:   conn,
		events: make(chan ChangeEvent, 64),
		done:   make(chan struct{}),
	}
	s.events <- ChangeEvent{Status: StatusConnected}
	go s.readLoop()
	return s, nil
}

// Events returns the event channel.
func (s *WSStream) Events() <-chan ChangeEvent {
	return s.events
}

// Close tears down the connection; the read loop then closes the channel.
// Safe to call more than once, and safe to call with undelivered events
// still buffered: the read loop never blocks past Close.
func (s *WSStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
	return s.conn.Close()
}

func (s *WSStream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			st := StatusError
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				st = StatusDisconnected
			}
			s.send(ChangeEvent{Status: st})
			return
		}

		var w wireChange
		if err := json.Unmarshal(data, &w); err != nil {
			// Skip malformed frames; the stream itself is still healthy.
			continue
		}
		if !s.send(ChangeEvent{ResourceKey: w.ResourceKey, AuthorSession: w.AuthorSession}) {
			return
		}
	}
}

// send delivers an event unless the stream has been closed; a full buffer on
// a closed stream must not strand the read loop.
func (s *WSStream) send(evt ChangeEvent) bool {
	select {
	case s.events <- evt:
		return true
	case <-s.done:
		return false
	}
}
