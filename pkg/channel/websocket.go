package channel

import (
	"github.com/gorilla/websocket"
)

// WebSocketSink forwards a filtered event stream to a caller-supplied
// websocket connection as JSON frames. The caller owns the connection and
// its upgrade; the sink only writes.
type WebSocketSink struct {
	conn *websocket.Conn
}

// NewWebSocketSink wraps an established websocket connection.
func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn}
}

// Attach subscribes with the given filter and pumps events to the socket
// until the stream ends or a write fails. It blocks; run it on a goroutine
// the caller owns.
func (s *WebSocketSink) Attach(c *Channel, filter Filter) error {
	sub := c.Subscribe(filter)
	defer sub.Close()

	for ev := range sub.Events() {
		if err := s.conn.WriteJSON(ev); err != nil {
			return err
		}
	}
	return nil
}
