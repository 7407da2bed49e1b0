package ws

import (
	"github.com/gorilla/websocket"

	"palm-pilots/server"
	"palm-pilots/server/internal/net/proto"
)

// session reads viewer messages until the connection ends. All writes go
// through the hub subscriber so the connection keeps a single writer.
type session struct {
	handler *Handler
	sub     *server.Subscriber
	conn    *websocket.Conn
}

func newSession(h *Handler, sub *server.Subscriber, conn *websocket.Conn) *session {
	return &session{handler: h, sub: sub, conn: conn}
}

func (s *session) serve() {
	h := s.handler
	viewerID := s.sub.ID()
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.sub.Close(server.DisconnectClosed)
			return
		}

		msg, err := proto.DecodeViewerMessage(payload)
		if err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", viewerID, err)
			continue
		}

		switch msg.Type {
		case proto.TypeHeartbeat:
			now := h.clock.Now()
			rtt, ok := h.hub.UpdateHeartbeat(viewerID, now, msg.SentAt)
			if !ok {
				continue
			}
			data, err := proto.EncodeHeartbeat(proto.Heartbeat{
				ServerTime: now.UnixMilli(),
				ClientTime: msg.SentAt,
				RTTMillis:  rtt.Milliseconds(),
			})
			if err != nil {
				h.logger.Printf("failed to marshal heartbeat ack for %s: %v", viewerID, err)
				continue
			}
			s.sub.Send(websocket.TextMessage, data)
		default:
			h.logger.Printf("unknown message type %q from %s", msg.Type, viewerID)
		}
	}
}
