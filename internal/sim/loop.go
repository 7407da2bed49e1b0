package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"palm-pilots/server/internal/telemetry"
	"palm-pilots/server/logging"
)

const (
	// CommandRejectQueueLimit indicates a command was dropped due to per-source
	// queue throttling.
	CommandRejectQueueLimit = "queue_limit"
	// CommandRejectQueueFull indicates the global command buffer is saturated.
	CommandRejectQueueFull = "queue_full"

	// DefaultTickRate matches the display refresh the demo was tuned for.
	DefaultTickRate = 60
)

// LoopConfig tunes the command buffer and tick loop orchestration.
type LoopConfig struct {
	TickRate        int
	CatchupMaxTicks int
	CommandCapacity int
	PerSourceLimit  int
	WarningStep     int
}

// LoopTickContext is handed to the Prepare hook before commands apply.
type LoopTickContext struct {
	Tick  uint64
	Now   time.Time
	Delta float64
}

// LoopStepResult summarizes one executed tick.
type LoopStepResult struct {
	Tick         uint64
	Now          time.Time
	Delta        float64
	Snapshot     Snapshot
	Commands     []Command
	ApplyErr     error
	Reset        bool
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
	MaxDelta     float64
}

// LoopHooks are optional callbacks invoked on the tick goroutine, except
// OnCommandDrop and OnQueueWarning which run on the producer's goroutine.
type LoopHooks struct {
	Prepare        func(LoopTickContext)
	AfterStep      func(LoopStepResult)
	OnReset        func(tick uint64)
	OnCommandDrop  func(reason string, cmd Command)
	OnQueueWarning func(length int)
}

// Loop coordinates command ingestion and the fixed-timestep simulation runner.
type Loop struct {
	core    EngineCore
	buffer  *CommandBuffer
	hooks   LoopHooks
	config  LoopConfig
	logger  telemetry.Logger
	metrics telemetry.Metrics

	queueMu        sync.Mutex
	perSourceCount map[string]int
	dropCounts     map[string]uint64

	resetRequested atomic.Bool
	latest         atomic.Pointer[Snapshot]
	tick           atomic.Uint64
}

// NewLoop wraps the provided engine core with a ring-buffer queue and loop.
func NewLoop(core EngineCore, cfg LoopConfig, hooks LoopHooks) *Loop {
	if core == nil {
		return nil
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.CommandCapacity <= 0 {
		cfg.CommandCapacity = 64
	}
	deps := core.Deps()
	buffer := NewCommandBuffer(cfg.CommandCapacity, deps.Metrics)
	loop := &Loop{
		core:           core,
		buffer:         buffer,
		hooks:          hooks,
		config:         cfg,
		logger:         deps.Logger,
		metrics:        deps.Metrics,
		perSourceCount: make(map[string]int),
		dropCounts:     make(map[string]uint64),
	}
	initial := core.Snapshot()
	loop.tick.Store(initial.Tick)
	loop.latest.Store(&initial)
	return loop
}

// Deps returns the injected dependencies for the underlying engine.
func (l *Loop) Deps() Deps {
	if l == nil {
		return Deps{}
	}
	return l.core.Deps()
}

// Config returns the simulation configuration of the underlying engine.
func (l *Loop) Config() SimulationConfig {
	if l == nil {
		return SimulationConfig{}
	}
	return l.core.Config()
}

// LoopConfig returns the effective loop configuration.
func (l *Loop) LoopConfig() LoopConfig {
	if l == nil {
		return LoopConfig{}
	}
	return l.config
}

// Snapshot returns the snapshot published by the most recent tick. It is safe
// to call from any goroutine.
func (l *Loop) Snapshot() Snapshot {
	if l == nil {
		return Snapshot{}
	}
	snap := l.latest.Load()
	if snap == nil {
		return Snapshot{}
	}
	return snap.Clone()
}

// Tick reports the last completed tick. It is safe to call from any goroutine.
func (l *Loop) Tick() uint64 {
	if l == nil {
		return 0
	}
	return l.tick.Load()
}

// Pending reports the number of staged commands.
func (l *Loop) Pending() int {
	if l == nil {
		return 0
	}
	return l.buffer.Len()
}

// RequestReset schedules a world reset at the start of the next tick.
// Commands already staged for that tick apply after the reset.
func (l *Loop) RequestReset() {
	if l == nil {
		return
	}
	l.resetRequested.Store(true)
}

// DrainCommands clears the staged command queue without advancing the engine.
func (l *Loop) DrainCommands() []Command {
	if l == nil {
		return nil
	}
	return l.drainCommands()
}

// Enqueue stages a command, enforcing per-source throttling and capacity limits.
func (l *Loop) Enqueue(cmd Command) (bool, string) {
	if l == nil {
		return false, CommandRejectQueueFull
	}
	reason := ""
	var dropCount uint64
	l.queueMu.Lock()
	if l.config.PerSourceLimit > 0 && cmd.Source != "" {
		count := l.perSourceCount[cmd.Source]
		if count >= l.config.PerSourceLimit {
			reason = CommandRejectQueueLimit
			dropCount = l.incrementDropLocked(cmd.Source)
		} else {
			l.perSourceCount[cmd.Source] = count + 1
		}
	}
	if reason == "" {
		if !l.buffer.Push(cmd) {
			reason = CommandRejectQueueFull
			dropCount = l.incrementDropLocked(cmd.Source)
		} else if l.config.WarningStep > 0 {
			length := l.buffer.Len()
			if length >= l.config.WarningStep && length%l.config.WarningStep == 0 {
				l.queueMu.Unlock()
				l.warnQueue(length)
				return true, ""
			}
		}
	}
	l.queueMu.Unlock()
	if reason != "" {
		l.reportDrop(reason, cmd, dropCount)
		return false, reason
	}
	return true, ""
}

// Advance executes a single simulation step using the staged commands.
func (l *Loop) Advance(ctx LoopTickContext) LoopStepResult {
	if l == nil {
		return LoopStepResult{}
	}
	reset := l.resetRequested.Swap(false)
	if reset {
		l.core.Reset()
		if l.hooks.OnReset != nil {
			l.hooks.OnReset(l.tick.Load())
		}
	}
	commands := l.drainCommands()
	ctx.Tick = l.tick.Load() + 1
	if l.hooks.Prepare != nil {
		l.hooks.Prepare(ctx)
	}
	err := l.core.Apply(commands)
	l.core.Step()
	snapshot := l.core.Snapshot()
	l.tick.Store(snapshot.Tick)
	l.latest.Store(&snapshot)
	return LoopStepResult{
		Tick:     snapshot.Tick,
		Now:      ctx.Now,
		Delta:    ctx.Delta,
		Snapshot: snapshot,
		Commands: commands,
		ApplyErr: err,
		Reset:    reset,
	}
}

// Run drives the fixed-timestep loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if l == nil {
		return nil
	}
	tickRate := l.config.TickRate
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	deps := l.core.Deps()
	clock := deps.Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}
	last := clock.Now()
	budgetSeconds := 1.0 / float64(tickRate)
	maxDt := budgetSeconds
	if l.config.CatchupMaxTicks > 1 {
		maxDt = budgetSeconds * float64(l.config.CatchupMaxTicks)
	}
	budgetDuration := time.Second / time.Duration(tickRate)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := clock.Now()
			dt := now.Sub(last).Seconds()
			clamped := false
			if dt <= 0 {
				dt = budgetSeconds
			} else if dt > maxDt {
				dt = maxDt
				clamped = true
			}
			last = now

			start := clock.Now()
			result := l.Advance(LoopTickContext{Now: now, Delta: dt})
			result.Duration = clock.Now().Sub(start)
			result.Budget = budgetDuration
			result.ClampedDelta = clamped
			result.MaxDelta = maxDt

			if l.hooks.AfterStep != nil {
				l.hooks.AfterStep(result)
			}
		}
	}
}

func (l *Loop) drainCommands() []Command {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	commands := l.buffer.Drain()
	if len(l.perSourceCount) > 0 {
		l.perSourceCount = make(map[string]int)
	}
	return commands
}

func (l *Loop) incrementDropLocked(source string) uint64 {
	if source == "" {
		return 0
	}
	count := l.dropCounts[source] + 1
	l.dropCounts[source] = count
	return count
}

func (l *Loop) warnQueue(length int) {
	if l.hooks.OnQueueWarning != nil {
		l.hooks.OnQueueWarning(length)
	}
}

func (l *Loop) reportDrop(reason string, cmd Command, count uint64) {
	if l.metrics != nil {
		l.metrics.Add("sim_commands_dropped_total", 1)
	}
	if l.hooks.OnCommandDrop != nil {
		l.hooks.OnCommandDrop(reason, cmd)
	}
	if count > 0 && count&(count-1) == 0 {
		if l.logger != nil {
			l.logger.Printf(
				"[backpressure] dropping command source=%s type=%s reason=%s count=%d",
				cmd.Source,
				cmd.Type,
				reason,
				count,
			)
		}
	}
}

// Ensure Loop implements Engine.
var _ Engine = (*Loop)(nil)
