package net

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/pprof"

	"palm-pilots/server"
	"palm-pilots/server/internal/net/relay"
	"palm-pilots/server/internal/net/ws"
	"palm-pilots/server/internal/sim"
	"palm-pilots/server/internal/telemetry"
	"palm-pilots/server/logging"
)

// RouterStats is implemented by *logging.Router.
type RouterStats interface {
	Stats() logging.RouterStats
}

type HTTPHandlerConfig struct {
	Logger      telemetry.Logger
	Clock       logging.Clock
	Metrics     *logging.Metrics
	Router      RouterStats
	Relay       *relay.Relay
	Viewer      ws.HandlerConfig
	EnablePprof bool
	// Settings is reported verbatim by /diagnostics.
	Settings any
}

type diagnosticsPayload struct {
	Status     string                   `json:"status"`
	ServerTime int64                    `json:"serverTime"`
	Tick       uint64                   `json:"tick"`
	Pending    int                      `json:"pendingCommands"`
	Config     sim.SimulationConfig     `json:"simulation"`
	Viewers    []server.ViewerInfo      `json:"viewers"`
	Hub        server.TelemetrySnapshot `json:"hub"`
	Metrics    map[string]uint64        `json:"metrics,omitempty"`
	Logging    *logging.RouterStats     `json:"logging,omitempty"`
	Relay      *relayDiagnostics        `json:"relay,omitempty"`
	Settings   any                      `json:"settings,omitempty"`
}

type relayDiagnostics struct {
	Subscribers int `json:"subscribers"`
}

type resetResponse struct {
	Status string `json:"status"`
	Tick   uint64 `json:"tick"`
}

// NewHTTPHandler assembles the server routes: health and diagnostics, the
// latest snapshot, world reset, the viewer websocket and, when configured, the
// command relay.
func NewHTTPHandler(hub *server.Hub, engine sim.Engine, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := diagnosticsPayload{
			Status:     "ok",
			ServerTime: clock.Now().UnixMilli(),
			Tick:       engine.Tick(),
			Pending:    engine.Pending(),
			Config:     engine.Config(),
			Viewers:    hub.Viewers(),
			Hub:        hub.Telemetry(),
			Metrics:    cfg.Metrics.Snapshot(),
			Settings:   cfg.Settings,
		}
		if cfg.Router != nil {
			stats := cfg.Router.Stats()
			payload.Logging = &stats
		}
		if cfg.Relay != nil {
			payload.Relay = &relayDiagnostics{Subscribers: cfg.Relay.Subscribers()}
		}
		writeJSON(w, logger, payload)
	})

	mux.HandleFunc("/snapshot", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, logger, engine.Snapshot())
	})

	mux.HandleFunc("/world/reset", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		engine.RequestReset()
		logger.Printf("world reset requested by %s", r.RemoteAddr)
		writeJSONStatus(w, logger, nethttp.StatusAccepted, resetResponse{Status: "scheduled", Tick: engine.Tick()})
	})

	viewerCfg := cfg.Viewer
	if viewerCfg.Logger == nil {
		viewerCfg.Logger = logger
	}
	if viewerCfg.Clock == nil {
		viewerCfg.Clock = clock
	}
	viewers := ws.NewHandler(hub, engine, viewerCfg)
	mux.HandleFunc("/ws", viewers.Handle)

	if cfg.Relay != nil {
		cfg.Relay.Register(mux)
	}

	if cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

func writeJSON(w nethttp.ResponseWriter, logger telemetry.Logger, payload any) {
	writeJSONStatus(w, logger, nethttp.StatusOK, payload)
}

func writeJSONStatus(w nethttp.ResponseWriter, logger telemetry.Logger, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("failed to encode response: %v", err)
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
