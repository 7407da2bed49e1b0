package sim

import "errors"

// ErrMissingEngineCore indicates a core option produced a nil engine core.
var ErrMissingEngineCore = errors.New("sim: engine core is nil")

// EngineOption configures NewEngine behaviour.
//
// Options are applied in order; later options override earlier ones.
type EngineOption interface {
	apply(*engineConfig)
}

type engineOptionFunc func(*engineConfig)

func (f engineOptionFunc) apply(cfg *engineConfig) {
	if f != nil {
		f(cfg)
	}
}

type engineConfig struct {
	deps        Deps
	loopConfig  LoopConfig
	loopHooks   LoopHooks
	tileFactory TileFactory
	core        func(SimulationConfig, Deps, TileFactory) EngineCore
}

// WithDeps injects shared infrastructure dependencies used by the engine core
// and loop orchestration.
func WithDeps(deps Deps) EngineOption {
	return engineOptionFunc(func(cfg *engineConfig) {
		cfg.deps = deps
	})
}

// WithLoopConfig overrides the default command queue and tick loop sizing used
// by the engine.
func WithLoopConfig(config LoopConfig) EngineOption {
	return engineOptionFunc(func(cfg *engineConfig) {
		cfg.loopConfig = config
	})
}

// WithLoopHooks supplies custom loop callbacks.
func WithLoopHooks(hooks LoopHooks) EngineOption {
	return engineOptionFunc(func(cfg *engineConfig) {
		cfg.loopHooks = hooks
	})
}

// WithTileFactory routes terrain tile creation to a renderer-owned factory.
func WithTileFactory(factory TileFactory) EngineOption {
	return engineOptionFunc(func(cfg *engineConfig) {
		cfg.tileFactory = factory
	})
}

// WithCore replaces the default Simulation core. Tests use it to observe the
// loop in isolation.
func WithCore(build func(SimulationConfig, Deps, TileFactory) EngineCore) EngineOption {
	return engineOptionFunc(func(cfg *engineConfig) {
		cfg.core = build
	})
}

// NewEngine constructs the simulation core for simCfg and wraps it in a Loop.
func NewEngine(simCfg SimulationConfig, opts ...EngineOption) (*Loop, error) {
	cfg := engineConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(&cfg)
		}
	}

	var core EngineCore
	if cfg.core != nil {
		core = cfg.core(simCfg, cfg.deps, cfg.tileFactory)
	} else {
		core = NewSimulation(simCfg, cfg.deps, cfg.tileFactory)
	}
	if core == nil {
		return nil, ErrMissingEngineCore
	}

	engine := NewLoop(core, cfg.loopConfig, cfg.loopHooks)
	if engine == nil {
		return nil, ErrMissingEngineCore
	}
	return engine, nil
}
