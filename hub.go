package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gorilla/websocket"

	"palm-pilots/server/internal/net/proto"
	"palm-pilots/server/internal/sim"
	"palm-pilots/server/internal/telemetry"
	"palm-pilots/server/logging"
	loggingnetwork "palm-pilots/server/logging/network"
)

const (
	writeWait               = 10 * time.Second
	subscriberSendQueueSize = 8
	heartbeatClockSkew      = 5 * time.Second

	// Viewer disconnect reasons.
	DisconnectReplaced   = "replaced"
	DisconnectWriteError = "write_error"
	DisconnectClosed     = "closed"
	DisconnectShutdown   = "shutdown"
)

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("hub closed")

// SubscriberConn is the write side of a viewer connection. *websocket.Conn
// satisfies it.
type SubscriberConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(time.Time) error
	Close() error
}

// HubConfig captures the tunables for viewer fan-out.
type HubConfig struct {
	WriteWait time.Duration
	QueueSize int
	// DedupeIdle skips broadcasts whose snapshot, ignoring the tick number,
	// hashes the same as the previous one.
	DedupeIdle bool

	Clock     logging.Clock
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
	Tick      func() uint64
}

// DefaultHubConfig returns the baseline configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteWait:  writeWait,
		QueueSize:  subscriberSendQueueSize,
		DedupeIdle: true,
	}
}

type outbound struct {
	kind int
	data []byte
}

type subscriber struct {
	id       string
	remote   string
	encoding proto.Encoding
	conn     SubscriberConn
	queue    chan outbound
	done     chan struct{}
	once     sync.Once

	mu            sync.Mutex
	sent          uint64
	dropped       uint64
	lastHeartbeat time.Time
	lastRTT       time.Duration
}

// Subscriber is the hub-side handle of a connected viewer.
type Subscriber struct {
	hub *Hub
	sub *subscriber
}

// ID returns the viewer identifier.
func (s *Subscriber) ID() string { return s.sub.id }

// Encoding returns the snapshot encoding negotiated by the viewer.
func (s *Subscriber) Encoding() proto.Encoding { return s.sub.encoding }

// Send queues a frame for the viewer. It reports false when the queue is full
// or the viewer is gone.
func (s *Subscriber) Send(kind int, data []byte) bool {
	return s.hub.enqueue(s.sub, outbound{kind: kind, data: data})
}

// Close disconnects this viewer. A viewer that has since been replaced under
// the same id is left alone.
func (s *Subscriber) Close(reason string) {
	s.hub.disconnectSubscriber(s.sub, reason)
}

// Done is closed once the viewer has been disconnected.
func (s *Subscriber) Done() <-chan struct{} { return s.sub.done }

// ViewerInfo is the diagnostics view of a subscriber.
type ViewerInfo struct {
	ID            string         `json:"id"`
	Remote        string         `json:"remote,omitempty"`
	Encoding      proto.Encoding `json:"encoding"`
	Sent          uint64         `json:"sent"`
	Dropped       uint64         `json:"dropped"`
	LastHeartbeat int64          `json:"lastHeartbeat,omitempty"`
	RTTMillis     int64          `json:"rtt"`
}

// BroadcastResult summarizes one fan-out.
type BroadcastResult struct {
	Viewers int
	Frames  int
	Bytes   int
	Dropped int
	Deduped bool
}

// Hub fans simulation snapshots out to connected viewers. Each viewer has a
// bounded send queue drained by its own writer goroutine, so a slow viewer
// only loses its own frames.
type Hub struct {
	cfg       HubConfig
	telemetry *telemetryCounters

	mu          sync.Mutex
	subscribers map[string]*subscriber
	closed      bool
	lastHash    uint64
	hasHash     bool

	pending chan sim.Snapshot
}

// NewHub creates a hub with defaults applied to cfg.
func NewHub(cfg HubConfig) *Hub {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = writeWait
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = subscriberSendQueueSize
	}
	if cfg.Clock == nil {
		cfg.Clock = logging.SystemClock{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	return &Hub{
		cfg:         cfg,
		telemetry:   newTelemetryCounters(cfg.Metrics),
		subscribers: make(map[string]*subscriber),
		pending:     make(chan sim.Snapshot, 1),
	}
}

// Subscribe registers a viewer and starts its writer. initial, when non-nil,
// is the first frame the viewer receives. An existing viewer with the same
// id is disconnected.
func (h *Hub) Subscribe(viewerID, remote string, conn SubscriberConn, enc proto.Encoding, initial []byte) (*Subscriber, error) {
	sub := &subscriber{
		id:            viewerID,
		remote:        remote,
		encoding:      enc,
		conn:          conn,
		queue:         make(chan outbound, h.cfg.QueueSize),
		done:          make(chan struct{}),
		lastHeartbeat: h.cfg.Clock.Now(),
	}
	if initial != nil {
		sub.queue <- outbound{kind: websocket.TextMessage, data: initial}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	existing := h.subscribers[viewerID]
	h.subscribers[viewerID] = sub
	count := len(h.subscribers)
	h.mu.Unlock()

	if existing != nil {
		h.stop(existing, DisconnectReplaced)
	}
	h.telemetry.RecordViewers(count)
	loggingnetwork.ViewerConnected(context.Background(), h.cfg.Publisher, h.tick(), viewerID, loggingnetwork.ViewerPayload{
		Encoding: string(enc),
		Remote:   remote,
	}, nil)

	go h.writeLoop(sub)
	return &Subscriber{hub: h, sub: sub}, nil
}

// Disconnect removes a viewer and closes its connection.
func (h *Hub) Disconnect(viewerID, reason string) bool {
	h.mu.Lock()
	sub, ok := h.subscribers[viewerID]
	if ok {
		delete(h.subscribers, viewerID)
	}
	count := len(h.subscribers)
	h.mu.Unlock()
	if !ok {
		return false
	}
	h.telemetry.RecordViewers(count)
	h.stop(sub, reason)
	return true
}

func (h *Hub) disconnectSubscriber(sub *subscriber, reason string) {
	h.mu.Lock()
	current, ok := h.subscribers[sub.id]
	if ok && current == sub {
		delete(h.subscribers, sub.id)
	}
	count := len(h.subscribers)
	h.mu.Unlock()
	if ok && current == sub {
		h.telemetry.RecordViewers(count)
	}
	h.stop(sub, reason)
}

func (h *Hub) stop(sub *subscriber, reason string) {
	sub.once.Do(func() {
		close(sub.done)
		sub.conn.Close()
		sub.mu.Lock()
		sent := sub.sent
		sub.mu.Unlock()
		loggingnetwork.ViewerDisconnected(context.Background(), h.cfg.Publisher, h.tick(), sub.id, loggingnetwork.ViewerPayload{
			Encoding: string(sub.encoding),
			Remote:   sub.remote,
			Reason:   reason,
			Sent:     sent,
		}, nil)
	})
}

// Close disconnects every viewer and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs = append(subs, sub)
		delete(h.subscribers, id)
	}
	h.mu.Unlock()

	h.telemetry.RecordViewers(0)
	for _, sub := range subs {
		h.stop(sub, DisconnectShutdown)
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case msg := <-sub.queue:
			sub.conn.SetWriteDeadline(h.cfg.Clock.Now().Add(h.cfg.WriteWait))
			if err := sub.conn.WriteMessage(msg.kind, msg.data); err != nil {
				if h.cfg.Logger != nil {
					h.cfg.Logger.Printf("[hub] failed to send update to %s: %v", sub.id, err)
				}
				h.disconnectSubscriber(sub, DisconnectWriteError)
				return
			}
			sub.mu.Lock()
			sub.sent++
			sub.mu.Unlock()
			h.telemetry.RecordFrame(len(msg.data))
		}
	}
}

func (h *Hub) enqueue(sub *subscriber, msg outbound) bool {
	select {
	case <-sub.done:
		return false
	default:
	}
	select {
	case sub.queue <- msg:
		return true
	default:
		sub.mu.Lock()
		sub.dropped++
		sub.mu.Unlock()
		h.telemetry.RecordDrop()
		return false
	}
}

// Broadcast encodes snapshot once per encoding in use and queues it for every
// viewer.
func (h *Hub) Broadcast(snapshot sim.Snapshot) BroadcastResult {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	result := BroadcastResult{Viewers: len(subs)}
	if h.cfg.DedupeIdle && h.unchanged(snapshot) {
		result.Deduped = true
		h.telemetry.RecordDeduped()
		return result
	}
	if len(subs) == 0 {
		return result
	}

	msg := proto.SnapshotMessage{ServerTime: h.cfg.Clock.Now().UnixMilli(), Snapshot: snapshot}
	frames := make(map[proto.Encoding][]byte, 2)
	for _, sub := range subs {
		data, ok := frames[sub.encoding]
		if !ok {
			encoded, err := proto.EncodeSnapshot(sub.encoding, msg)
			if err != nil {
				if h.cfg.Logger != nil {
					h.cfg.Logger.Printf("[hub] failed to encode %s snapshot: %v", sub.encoding, err)
				}
				continue
			}
			frames[sub.encoding] = encoded
			data = encoded
		}
		kind := websocket.TextMessage
		if sub.encoding.Binary() {
			kind = websocket.BinaryMessage
		}
		if h.enqueue(sub, outbound{kind: kind, data: data}) {
			result.Frames++
			result.Bytes += len(data)
		} else {
			result.Dropped++
		}
	}
	if result.Dropped > 0 && h.cfg.DedupeIdle {
		// A viewer missed this frame, so the next identical snapshot must go out.
		h.forgetHash()
	}
	h.telemetry.RecordBroadcast(result.Bytes, result.Frames)
	return result
}

func (h *Hub) forgetHash() {
	h.mu.Lock()
	h.hasHash = false
	h.mu.Unlock()
}

// unchanged hashes the snapshot without its tick and reports whether it
// matches the previous broadcast.
func (h *Hub) unchanged(snapshot sim.Snapshot) bool {
	snapshot.Tick = 0
	data, err := proto.EncodeSnapshot(proto.EncodingMsgpack, proto.SnapshotMessage{Snapshot: snapshot})
	if err != nil {
		return false
	}
	sum := xxhash.Sum64(data)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasHash && sum == h.lastHash {
		return true
	}
	h.lastHash = sum
	h.hasHash = true
	return false
}

// Offer hands the latest snapshot to Run without blocking. An unsent older
// snapshot is replaced.
func (h *Hub) Offer(snapshot sim.Snapshot) {
	for {
		select {
		case h.pending <- snapshot:
			return
		default:
		}
		select {
		case <-h.pending:
		default:
		}
	}
}

// Run broadcasts offered snapshots until ctx is cancelled, then closes the hub.
func (h *Hub) Run(ctx context.Context) error {
	defer h.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snapshot := <-h.pending:
			h.Broadcast(snapshot)
		}
	}
}

// UpdateHeartbeat records the most recent heartbeat time and RTT for a viewer.
func (h *Hub) UpdateHeartbeat(viewerID string, receivedAt time.Time, clientSent int64) (time.Duration, bool) {
	h.mu.Lock()
	sub, ok := h.subscribers[viewerID]
	h.mu.Unlock()
	if !ok {
		return 0, false
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.lastHeartbeat = receivedAt
	if clientSent > 0 {
		clientTime := time.UnixMilli(clientSent)
		if clientTime.Before(receivedAt.Add(heartbeatClockSkew)) {
			rtt := receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			sub.lastRTT = rtt
			h.telemetry.RecordRTT(rtt)
		}
	}
	return sub.lastRTT, true
}

// Viewers exposes per-viewer data for the diagnostics endpoint.
func (h *Hub) Viewers() []ViewerInfo {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	out := make([]ViewerInfo, 0, len(subs))
	for _, sub := range subs {
		sub.mu.Lock()
		out = append(out, ViewerInfo{
			ID:            sub.id,
			Remote:        sub.remote,
			Encoding:      sub.encoding,
			Sent:          sub.sent,
			Dropped:       sub.dropped,
			LastHeartbeat: sub.lastHeartbeat.UnixMilli(),
			RTTMillis:     sub.lastRTT.Milliseconds(),
		})
		sub.mu.Unlock()
	}
	return out
}

// Len reports the number of connected viewers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Telemetry returns the hub's counters.
func (h *Hub) Telemetry() TelemetrySnapshot {
	return h.telemetry.Snapshot()
}

// RecordTickDuration stores the latest tick duration for diagnostics.
func (h *Hub) RecordTickDuration(d time.Duration) {
	h.telemetry.RecordTickDuration(d)
}

func (h *Hub) tick() uint64 {
	if h.cfg.Tick == nil {
		return 0
	}
	return h.cfg.Tick()
}
