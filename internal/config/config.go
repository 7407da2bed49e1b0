// Package config loads server settings from defaults, an optional YAML or
// JSON file and PALM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"palm-pilots/server/internal/observability"
	"palm-pilots/server/internal/sim"
	"palm-pilots/server/logging"
)

// EnvPrefix is prepended to every environment override, e.g. PALM_SIM_TICKRATE.
const EnvPrefix = "PALM"

// Source kinds for remote command producers.
const (
	SourceSSE = "sse"
	SourceWS  = "ws"
)

// Duration decodes from strings such as "15s" and renders back the same way.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

type Config struct {
	Listen        string                `mapstructure:"listen" yaml:"listen"`
	Sim           SimSettings           `mapstructure:"sim" yaml:"sim"`
	Relay         RelaySettings         `mapstructure:"relay" yaml:"relay"`
	Sources       []SourceSettings      `mapstructure:"sources" yaml:"sources"`
	Hub           HubSettings           `mapstructure:"hub" yaml:"hub"`
	Log           LogSettings           `mapstructure:"log" yaml:"log"`
	Observability ObservabilitySettings `mapstructure:"observability" yaml:"observability"`
}

type SimSettings struct {
	Variant         string `mapstructure:"variant" yaml:"variant"`
	TickRate        int    `mapstructure:"tickRate" yaml:"tickRate"`
	CatchupMaxTicks int    `mapstructure:"catchupMaxTicks" yaml:"catchupMaxTicks"`
	CommandCapacity int    `mapstructure:"commandCapacity" yaml:"commandCapacity"`
	PerSourceLimit  int    `mapstructure:"perSourceLimit" yaml:"perSourceLimit"`
	WarningStep     int    `mapstructure:"warningStep" yaml:"warningStep"`
	Seed            int64  `mapstructure:"seed" yaml:"seed"`
}

type RelaySettings struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// InProcess feeds relayed commands straight into the local simulation.
	InProcess   bool     `mapstructure:"inProcess" yaml:"inProcess"`
	AllowOrigin string   `mapstructure:"allowOrigin" yaml:"allowOrigin"`
	BufferSize  int      `mapstructure:"bufferSize" yaml:"bufferSize"`
	KeepAlive   Duration `mapstructure:"keepAlive" yaml:"keepAlive"`
}

type SourceSettings struct {
	Kind string `mapstructure:"kind" yaml:"kind"`
	Name string `mapstructure:"name" yaml:"name,omitempty"`
	URL  string `mapstructure:"url" yaml:"url"`
}

type HubSettings struct {
	QueueSize  int      `mapstructure:"queueSize" yaml:"queueSize"`
	WriteWait  Duration `mapstructure:"writeWait" yaml:"writeWait"`
	DedupeIdle bool     `mapstructure:"dedupeIdle" yaml:"dedupeIdle"`
}

type LogSettings struct {
	Level       string   `mapstructure:"level" yaml:"level"`
	Encoding    string   `mapstructure:"encoding" yaml:"encoding"`
	Sinks       []string `mapstructure:"sinks" yaml:"sinks"`
	MinSeverity string   `mapstructure:"minSeverity" yaml:"minSeverity"`
	BufferSize  int      `mapstructure:"bufferSize" yaml:"bufferSize"`
	JSONPath    string   `mapstructure:"jsonPath" yaml:"jsonPath,omitempty"`
	JSONFlush   Duration `mapstructure:"jsonFlush" yaml:"jsonFlush"`
}

type ObservabilitySettings struct {
	EnablePprof bool `mapstructure:"enablePprof" yaml:"enablePprof"`
	OTelMetrics bool `mapstructure:"otelMetrics" yaml:"otelMetrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8000")

	v.SetDefault("sim.variant", string(sim.VariantExtended))
	v.SetDefault("sim.tickRate", sim.DefaultTickRate)
	v.SetDefault("sim.catchupMaxTicks", 4)
	v.SetDefault("sim.commandCapacity", 64)
	v.SetDefault("sim.perSourceLimit", 0)
	v.SetDefault("sim.warningStep", 0)
	v.SetDefault("sim.seed", 1)

	v.SetDefault("relay.enabled", true)
	v.SetDefault("relay.inProcess", true)
	v.SetDefault("relay.allowOrigin", "*")
	v.SetDefault("relay.bufferSize", 16)
	v.SetDefault("relay.keepAlive", "15s")

	v.SetDefault("sources", []SourceSettings{})

	v.SetDefault("hub.queueSize", 8)
	v.SetDefault("hub.writeWait", "10s")
	v.SetDefault("hub.dedupeIdle", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.sinks", []string{logging.SinkZap})
	v.SetDefault("log.minSeverity", "info")
	v.SetDefault("log.bufferSize", 512)
	v.SetDefault("log.jsonPath", "")
	v.SetDefault("log.jsonFlush", "2s")

	v.SetDefault("observability.enablePprof", false)
	v.SetDefault("observability.otelMetrics", true)
}

// Load reads the optional file at path (YAML or JSON by extension), applies
// PALM_* environment overrides and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := sim.ConfigForVariant(c.Sim.Variant); err != nil {
		errs = append(errs, err)
	}
	if c.Sim.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("sim.tickRate must be positive, got %d", c.Sim.TickRate))
	}
	if c.Sim.CommandCapacity <= 0 {
		errs = append(errs, fmt.Errorf("sim.commandCapacity must be positive, got %d", c.Sim.CommandCapacity))
	}
	if _, err := logging.ParseSeverity(c.Log.MinSeverity); err != nil {
		errs = append(errs, fmt.Errorf("log.minSeverity: %w", err))
	}
	for _, sink := range c.Log.Sinks {
		switch sink {
		case logging.SinkConsole, logging.SinkZap:
		case logging.SinkJSON:
			if c.Log.JSONPath == "" {
				errs = append(errs, errors.New("log.jsonPath is required by the json sink"))
			}
		default:
			errs = append(errs, fmt.Errorf("log.sinks: unknown sink %q", sink))
		}
	}
	for i, source := range c.Sources {
		switch source.Kind {
		case SourceSSE, SourceWS:
		default:
			errs = append(errs, fmt.Errorf("sources[%d]: unknown kind %q", i, source.Kind))
		}
		if source.URL == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: url is required", i))
		}
	}
	return errors.Join(errs...)
}

// Simulation resolves the simulation preset named by Sim.Variant.
func (c Config) Simulation() (sim.SimulationConfig, error) {
	return sim.ConfigForVariant(c.Sim.Variant)
}

// Loop returns the tick loop settings.
func (c Config) Loop() sim.LoopConfig {
	return sim.LoopConfig{
		TickRate:        c.Sim.TickRate,
		CatchupMaxTicks: c.Sim.CatchupMaxTicks,
		CommandCapacity: c.Sim.CommandCapacity,
		PerSourceLimit:  c.Sim.PerSourceLimit,
		WarningStep:     c.Sim.WarningStep,
	}
}

// Logging returns the event router settings.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.EnabledSinks = append([]string(nil), c.Log.Sinks...)
	if c.Log.BufferSize > 0 {
		cfg.BufferSize = c.Log.BufferSize
	}
	if severity, err := logging.ParseSeverity(c.Log.MinSeverity); err == nil {
		cfg.MinimumSeverity = severity
	}
	cfg.JSON.FilePath = c.Log.JSONPath
	if c.Log.JSONFlush > 0 {
		cfg.JSON.FlushInterval = c.Log.JSONFlush.Std()
	}
	return cfg
}

// ObservabilityConfig returns the process logger and metrics toggles.
func (c Config) ObservabilityConfig() observability.Config {
	return observability.Config{
		EnablePprof: c.Observability.EnablePprof,
		OTelMetrics: c.Observability.OTelMetrics,
		Log: observability.LogConfig{
			Level:    c.Log.Level,
			Encoding: c.Log.Encoding,
		},
	}
}

// Encode renders the configuration as YAML.
func Encode(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
