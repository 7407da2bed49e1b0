// Package relay is the producer-facing command endpoint. Voice and gesture
// front-ends POST /set-command; renderers and remote simulations read the
// same commands back from GET /give-command as server-sent events.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"palm-pilots/server/internal/net/proto"
	"palm-pilots/server/internal/net/stream"
	"palm-pilots/server/internal/telemetry"
	"palm-pilots/server/logging"
	loggingnetwork "palm-pilots/server/logging/network"
)

const (
	// SourceName labels commands fed to the simulation by the relay itself.
	SourceName = "relay"

	defaultBufferSize = 16
	defaultKeepAlive  = 15 * time.Second
	maxBodyBytes      = 4 << 10

	metricPublished   = "relay_commands_published_total"
	metricMalformed   = "relay_commands_malformed_total"
	metricDropped     = "relay_frames_dropped_total"
	metricSubscribers = "relay_subscribers"
)

// Config wires a Relay.
type Config struct {
	// Acceptor, when set, receives every published message in-process.
	Acceptor  stream.Acceptor
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Logger    telemetry.Logger
	// BufferSize bounds the frames queued per subscriber before they are dropped.
	BufferSize int
	// KeepAlive is the interval between SSE comment lines on idle streams.
	KeepAlive time.Duration
	// AllowOrigin is sent as Access-Control-Allow-Origin when non-empty.
	AllowOrigin string
}

// Relay fans command messages out to SSE subscribers.
type Relay struct {
	cfg Config
	mux *http.ServeMux

	mu          sync.Mutex
	subscribers map[uint64]chan []byte
	nextID      uint64
	closed      bool
}

// New constructs a relay with defaults applied.
func New(cfg Config) *Relay {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	r := &Relay{cfg: cfg, subscribers: make(map[uint64]chan []byte)}
	r.mux = http.NewServeMux()
	r.Register(r.mux)
	return r
}

// Publish validates raw and delivers it to the in-process acceptor and every
// subscriber. Subscribers receive the single-quoted form older consumers
// expect. A full subscriber buffer drops the frame for that subscriber only.
func (r *Relay) Publish(ctx context.Context, raw []byte) (proto.CommandMessage, error) {
	msg, err := proto.ParseCommandMessage(raw)
	if err != nil {
		r.count(metricMalformed, 1)
		return proto.CommandMessage{}, err
	}
	r.count(metricPublished, 1)

	if r.cfg.Acceptor != nil {
		_, _ = r.cfg.Acceptor.Accept(ctx, SourceName, raw)
	}

	frame := proto.EncodeLegacyCommandMessage(msg.Command)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subscribers {
		select {
		case ch <- frame:
		default:
			r.count(metricDropped, 1)
		}
	}
	return msg, nil
}

// Subscribe registers a consumer. The returned channel is closed when the
// relay closes; cancel detaches the subscriber and is safe to call twice.
func (r *Relay) Subscribe(remote string) (<-chan []byte, func()) {
	ch := make(chan []byte, r.cfg.BufferSize)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := r.nextID
	r.nextID++
	r.subscribers[id] = ch
	count := len(r.subscribers)
	r.mu.Unlock()

	r.store(metricSubscribers, uint64(count))
	loggingnetwork.RelaySubscribed(context.Background(), r.cfg.Publisher, loggingnetwork.RelayPayload{
		Remote:      remote,
		Subscribers: count,
	}, nil)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			if _, ok := r.subscribers[id]; ok {
				delete(r.subscribers, id)
				close(ch)
			}
			count := len(r.subscribers)
			r.mu.Unlock()
			r.store(metricSubscribers, uint64(count))
		})
	}
}

// Subscribers reports the number of attached consumers.
func (r *Relay) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

// Close ends every open stream. Later subscriptions receive a closed channel.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, ch := range r.subscribers {
		close(ch)
		delete(r.subscribers, id)
	}
	r.store(metricSubscribers, 0)
}

// Register mounts the relay routes on mux.
func (r *Relay) Register(mux *http.ServeMux) {
	mux.HandleFunc("/set-command", r.handleSetCommand)
	mux.HandleFunc("/give-command", r.handleGiveCommand)
}

// ServeHTTP serves the relay routes on their own.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

type setCommandResponse struct {
	Status  string `json:"status"`
	Command string `json:"command,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (r *Relay) handleSetCommand(w http.ResponseWriter, req *http.Request) {
	r.allowOrigin(w)
	if req.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, setCommandResponse{Status: "error", Error: err.Error()})
		return
	}
	msg, err := r.Publish(req.Context(), body)
	if err != nil {
		if r.cfg.Logger != nil {
			r.cfg.Logger.Printf("[relay] rejected body from %s: %v", req.RemoteAddr, err)
		}
		writeJSON(w, http.StatusBadRequest, setCommandResponse{Status: "error", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, setCommandResponse{Status: "ok", Command: msg.Command})
}

func (r *Relay) handleGiveCommand(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	r.allowOrigin(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	frames, cancel := r.Subscribe(req.RemoteAddr)
	defer cancel()

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(r.cfg.KeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-req.Context().Done():
			return
		}
	}
}

func (r *Relay) allowOrigin(w http.ResponseWriter) {
	if r.cfg.AllowOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", r.cfg.AllowOrigin)
	}
}

func (r *Relay) count(key string, delta uint64) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.Add(key, delta)
	}
}

func (r *Relay) store(key string, value uint64) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.Store(key, value)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
