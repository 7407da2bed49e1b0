package sim

// EngineCore is the tick-owned simulation driven by Loop. None of its methods
// are safe to call from outside the tick goroutine.
type EngineCore interface {
	Deps() Deps
	Config() SimulationConfig
	Apply([]Command) error
	Step()
	Snapshot() Snapshot
	Reset()
}

// Engine defines the minimal surface area exposed to non-simulation callers.
type Engine interface {
	Enqueue(Command) (bool, string)
	Snapshot() Snapshot
	Pending() int
	Tick() uint64
	RequestReset()
	Config() SimulationConfig
}
