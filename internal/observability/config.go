package observability

// Config captures opt-in observability toggles that wire into the server.
type Config struct {
	EnablePprof bool
	// OTelMetrics mirrors telemetry counters onto the global OpenTelemetry
	// meter. Without an SDK provider installed the instruments are no-ops.
	OTelMetrics bool
	Log         LogConfig
}

// LogConfig selects the process logger's level and encoding.
type LogConfig struct {
	Level    string
	Encoding string
}

func DefaultConfig() Config {
	return Config{
		OTelMetrics: true,
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}
