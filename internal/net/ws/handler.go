package ws

import (
	nethttp "net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"palm-pilots/server"
	"palm-pilots/server/internal/net/proto"
	"palm-pilots/server/internal/sim"
	"palm-pilots/server/internal/telemetry"
	"palm-pilots/server/logging"
)

const defaultReadLimit = 4 << 10

type HandlerConfig struct {
	Logger telemetry.Logger
	Clock  logging.Clock
	// NewID names viewers that do not supply ?id=. Defaults to uuid.NewString.
	NewID     func() string
	ReadLimit int64
}

// Handler upgrades viewer connections and registers them with the hub.
type Handler struct {
	hub      *server.Hub
	engine   sim.Engine
	logger   telemetry.Logger
	clock    logging.Clock
	newID    func() string
	limit    int64
	upgrader websocket.Upgrader
}

func NewHandler(hub *server.Hub, engine sim.Engine, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	limit := cfg.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:      hub,
		engine:   engine,
		logger:   logger,
		clock:    clock,
		newID:    newID,
		limit:    limit,
		upgrader: upgrader,
	}
}

// Handle serves GET /ws. Query parameters: encoding (json or msgpack) and an
// optional viewer id.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	enc, err := proto.ParseEncoding(r.URL.Query().Get("encoding"))
	if err != nil {
		nethttp.Error(w, err.Error(), nethttp.StatusBadRequest)
		return
	}
	viewerID := r.URL.Query().Get("id")
	if viewerID == "" {
		viewerID = h.newID()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", viewerID, err)
		return
	}
	conn.SetReadLimit(h.limit)

	cfg := h.engine.Config()
	hello, err := proto.EncodeHello(proto.HelloMessage{
		ViewerID:        viewerID,
		Encoding:        enc,
		Variant:         cfg.Variant,
		TickRate:        h.tickRate(),
		SupportsTurning: cfg.SupportsTurning,
		Snapshot:        h.engine.Snapshot(),
	})
	if err != nil {
		h.logger.Printf("failed to marshal hello for %s: %v", viewerID, err)
		conn.Close()
		return
	}

	sub, err := h.hub.Subscribe(viewerID, r.RemoteAddr, conn, enc, hello)
	if err != nil {
		message := websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error())
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}

	newSession(h, sub, conn).serve()
}

func (h *Handler) tickRate() int {
	if provider, ok := h.engine.(interface{ LoopConfig() sim.LoopConfig }); ok {
		if rate := provider.LoopConfig().TickRate; rate > 0 {
			return rate
		}
	}
	return sim.DefaultTickRate
}
