package bridge

import (
	"encoding/base64"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// StreamMessage is one JSON text frame on the media socket, both
// directions. Inbound events are connected, start, media and stop;
// outbound is always a media event.
type StreamMessage struct {
	Event    string        `json:"event"`
	StreamID string        `json:"stream_id,omitempty"`
	Media    *MediaPayload `json:"media,omitempty"`
}

// MediaPayload carries one frame of base64 wire audio.
type MediaPayload struct {
	Payload string `json:"payload"`
}

// Socket events.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
)

// NewMediaMessage builds an outbound media frame tagged with the active
// media-session id.
func NewMediaMessage(streamID string, frame []byte) StreamMessage {
	return StreamMessage{
		Event:    EventMedia,
		StreamID: streamID,
		Media:    &MediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	}
}

// DecodePayload returns the wire audio bytes of an inbound media message.
func (m *StreamMessage) DecodePayload() ([]byte, error) {
	if m.Media == nil {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(m.Media.Payload)
}

// MediaSocket is the transport a session runs on. The concrete type wraps
// gorilla/websocket; tests substitute an in-memory fake.
type MediaSocket interface {
	// ReadMessage blocks for the next inbound message.
	ReadMessage() (StreamMessage, error)
	// WriteJSON sends one message. Safe for concurrent use.
	WriteJSON(msg StreamMessage) error
	// Close tears the socket down. Idempotent.
	Close() error
}

// wsSocket adapts a gorilla websocket connection to MediaSocket.
// gorilla requires writes to be serialized; writeMu does that.
type wsSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewMediaSocket wraps a websocket connection.
func NewMediaSocket(conn *websocket.Conn) MediaSocket {
	return &wsSocket{conn: conn}
}

func (s *wsSocket) ReadMessage() (StreamMessage, error) {
	var msg StreamMessage
	if err := s.conn.ReadJSON(&msg); err != nil {
		return StreamMessage{}, err
	}
	return msg, nil
}

func (s *wsSocket) WriteJSON(msg StreamMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return websocket.ErrCloseSent
	}
	return s.conn.WriteJSON(msg)
}

func (s *wsSocket) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}
