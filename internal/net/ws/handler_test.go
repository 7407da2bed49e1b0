package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"palm-pilots/server"
	"palm-pilots/server/internal/net/proto"
	"palm-pilots/server/internal/sim"
	"palm-pilots/server/logging"
	loggingnetwork "palm-pilots/server/logging/network"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []logging.Event
}

func (p *capturePublisher) Publish(_ context.Context, event logging.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) ofType(eventType logging.EventType) []logging.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []logging.Event
	for _, event := range p.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type fixture struct {
	hub  *server.Hub
	loop *sim.Loop
	pub  *capturePublisher
	srv  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loop, err := sim.NewEngine(sim.ExtendedConfig())
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}
	pub := &capturePublisher{}
	cfg := server.DefaultHubConfig()
	cfg.Publisher = pub
	cfg.DedupeIdle = false
	hub := server.NewHub(cfg)
	t.Cleanup(hub.Close)

	handler := NewHandler(hub, loop, HandlerConfig{NewID: func() string { return "generated" }})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)
	return &fixture{hub: hub, loop: loop, pub: pub, srv: srv}
}

func (f *fixture) dial(t *testing.T, query url.Values) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, f.srv.URL, query), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		if resp != nil {
			resp.Body.Close()
		}
	})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readHello(t *testing.T, conn *websocket.Conn) proto.HelloMessage {
	t.Helper()
	kind, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read hello: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("expected text hello, got frame type %d", kind)
	}
	var hello proto.HelloMessage
	if err := json.Unmarshal(payload, &hello); err != nil {
		t.Fatalf("failed to decode hello: %v", err)
	}
	if hello.Type != proto.TypeHello {
		t.Fatalf("expected hello frame, got %q", hello.Type)
	}
	return hello
}

func waitViewers(t *testing.T, hub *server.Hub, expected int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.Len() == expected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d viewers, got %d", expected, hub.Len())
}

func TestHandleSendsHelloWithCurrentSnapshot(t *testing.T) {
	f := newFixture(t)
	f.loop.Advance(sim.LoopTickContext{})

	conn := f.dial(t, url.Values{"id": {"viewer-1"}, "encoding": {"msgpack"}})
	hello := readHello(t, conn)

	if hello.ViewerID != "viewer-1" {
		t.Fatalf("expected viewer-1, got %q", hello.ViewerID)
	}
	if hello.Encoding != proto.EncodingMsgpack {
		t.Fatalf("expected msgpack encoding, got %q", hello.Encoding)
	}
	if hello.Variant != sim.VariantExtended || !hello.SupportsTurning {
		t.Fatalf("unexpected variant in hello: %+v", hello)
	}
	if hello.TickRate != sim.DefaultTickRate {
		t.Fatalf("expected tick rate %d, got %d", sim.DefaultTickRate, hello.TickRate)
	}
	if hello.Snapshot.Tick != 1 {
		t.Fatalf("expected snapshot of tick 1, got %d", hello.Snapshot.Tick)
	}
	if len(hello.Snapshot.Tiles) != sim.ExtendedConfig().MaxTiles {
		t.Fatalf("expected %d tiles in hello snapshot, got %d", sim.ExtendedConfig().MaxTiles, len(hello.Snapshot.Tiles))
	}
}

func TestHandleStreamsSnapshotsInViewerEncoding(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, url.Values{"encoding": {"msgpack"}})
	hello := readHello(t, conn)
	if hello.ViewerID != "generated" {
		t.Fatalf("expected generated viewer id, got %q", hello.ViewerID)
	}
	waitViewers(t, f.hub, 1)

	result := f.loop.Advance(sim.LoopTickContext{})
	f.hub.Broadcast(result.Snapshot)

	kind, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read snapshot: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("expected binary snapshot frame, got %d", kind)
	}
	msg, err := proto.DecodeSnapshot(proto.EncodingMsgpack, payload)
	if err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if msg.Snapshot.Tick != result.Tick {
		t.Fatalf("expected tick %d, got %d", result.Tick, msg.Snapshot.Tick)
	}
}

func TestHandleAnswersHeartbeat(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, url.Values{"id": {"viewer-hb"}})
	readHello(t, conn)

	sentAt := time.Now().UnixMilli()
	if err := conn.WriteJSON(map[string]any{"type": "heartbeat", "sentAt": sentAt}); err != nil {
		t.Fatalf("failed to send heartbeat: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read heartbeat ack: %v", err)
	}
	var ack struct {
		Type       string `json:"type"`
		ClientTime int64  `json:"clientTime"`
		ServerTime int64  `json:"serverTime"`
	}
	if err := json.Unmarshal(payload, &ack); err != nil {
		t.Fatalf("failed to decode heartbeat ack: %v", err)
	}
	if ack.Type != proto.TypeHeartbeat || ack.ClientTime != sentAt {
		t.Fatalf("unexpected heartbeat ack %+v", ack)
	}
	if ack.ServerTime < sentAt {
		t.Fatalf("server time %d precedes client time %d", ack.ServerTime, sentAt)
	}
}

func TestHandleRejectsUnknownEncoding(t *testing.T) {
	f := newFixture(t)
	_, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, f.srv.URL, url.Values{"encoding": {"xml"}}), nil)
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil {
		t.Fatalf("expected http response for rejected handshake")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleDisconnectsOnClientClose(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, url.Values{"id": {"viewer-close"}})
	readHello(t, conn)
	waitViewers(t, f.hub, 1)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitViewers(t, f.hub, 0)

	left := f.pub.ofType(loggingnetwork.EventViewerDisconnected)
	if len(left) != 1 {
		t.Fatalf("expected 1 disconnect event, got %d", len(left))
	}
	payload := left[0].Payload.(loggingnetwork.ViewerPayload)
	if payload.Reason != server.DisconnectClosed {
		t.Fatalf("expected reason %q, got %q", server.DisconnectClosed, payload.Reason)
	}
}

func websocketURL(t *testing.T, baseURL string, query url.Values) string {
	t.Helper()

	parsed, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("failed to parse test server url: %v", err)
	}
	parsed.Scheme = "ws"
	parsed.Path = "/"
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
