package sim

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palm-pilots/server/internal/telemetry"
	"palm-pilots/server/logging"
)

func newTestLoop(t *testing.T, cfg LoopConfig, hooks LoopHooks) *Loop {
	t.Helper()
	core := NewSimulation(ExtendedConfig(), Deps{RNG: rand.New(rand.NewSource(4))}, nil)
	loop := NewLoop(core, cfg, hooks)
	require.NotNil(t, loop)
	return loop
}

func TestLoopAdvanceDrainsQueueInOrder(t *testing.T) {
	loop := newTestLoop(t, LoopConfig{CommandCapacity: 8}, LoopHooks{})

	for _, cmd := range []CommandType{CommandShoot, CommandMove} {
		ok, reason := loop.Enqueue(Command{Type: cmd})
		require.True(t, ok, reason)
	}
	assert.Equal(t, 2, loop.Pending())

	result := loop.Advance(LoopTickContext{})
	assert.Equal(t, uint64(1), result.Tick)
	require.Len(t, result.Commands, 2)
	assert.Equal(t, CommandShoot, result.Commands[0].Type)
	assert.Equal(t, "walking", result.Snapshot.Vehicle.Behavior)
	assert.Zero(t, loop.Pending())

	// Commands are consumed exactly once.
	result = loop.Advance(LoopTickContext{})
	assert.Empty(t, result.Commands)
	assert.Equal(t, uint64(2), loop.Snapshot().Tick)
}

func TestLoopPerSourceLimit(t *testing.T) {
	var mu sync.Mutex
	var drops []string
	loop := newTestLoop(t, LoopConfig{CommandCapacity: 8, PerSourceLimit: 2}, LoopHooks{
		OnCommandDrop: func(reason string, cmd Command) {
			mu.Lock()
			defer mu.Unlock()
			drops = append(drops, reason)
		},
	})

	for i := 0; i < 3; i++ {
		loop.Enqueue(Command{Type: CommandMove, Source: "voice"})
	}
	ok, _ := loop.Enqueue(Command{Type: CommandMove, Source: "gesture"})
	assert.True(t, ok)
	assert.Equal(t, []string{CommandRejectQueueLimit}, drops)

	loop.Advance(LoopTickContext{})
	ok, _ = loop.Enqueue(Command{Type: CommandMove, Source: "voice"})
	assert.True(t, ok, "limit resets every tick")
}

func TestLoopCountsEachDropUnderOneKey(t *testing.T) {
	metrics := &logging.Metrics{}
	core := NewSimulation(ExtendedConfig(), Deps{RNG: rand.New(rand.NewSource(4)), Metrics: telemetry.WrapMetrics(metrics)}, nil)
	drops := 0
	loop := NewLoop(core, LoopConfig{CommandCapacity: 8, PerSourceLimit: 1}, LoopHooks{
		OnCommandDrop: func(string, Command) { drops++ },
	})

	loop.Enqueue(Command{Type: CommandMove, Source: "voice"})
	loop.Enqueue(Command{Type: CommandStop, Source: "voice"})
	loop.Enqueue(Command{Type: CommandShoot, Source: "voice"})

	assert.Equal(t, 2, drops)
	assert.Equal(t, uint64(2), metrics.Snapshot()["sim_commands_dropped_total"])
	for _, key := range metrics.Keys() {
		if key != "sim_commands_dropped_total" {
			assert.NotContains(t, key, "drop")
		}
	}
}

func TestLoopQueueFull(t *testing.T) {
	loop := newTestLoop(t, LoopConfig{CommandCapacity: 1}, LoopHooks{})
	ok, _ := loop.Enqueue(Command{Type: CommandMove})
	require.True(t, ok)
	ok, reason := loop.Enqueue(Command{Type: CommandStop})
	assert.False(t, ok)
	assert.Equal(t, CommandRejectQueueFull, reason)
}

func TestLoopQueueWarning(t *testing.T) {
	var warned []int
	loop := newTestLoop(t, LoopConfig{CommandCapacity: 8, WarningStep: 2}, LoopHooks{
		OnQueueWarning: func(length int) { warned = append(warned, length) },
	})
	for i := 0; i < 5; i++ {
		loop.Enqueue(Command{Type: CommandMove})
	}
	assert.Equal(t, []int{2, 4}, warned)
}

func TestLoopRequestResetRunsBeforeCommands(t *testing.T) {
	var resets int
	loop := newTestLoop(t, LoopConfig{}, LoopHooks{OnReset: func(uint64) { resets++ }})
	loop.Enqueue(Command{Type: CommandMove})
	for i := 0; i < 20; i++ {
		loop.Advance(LoopTickContext{})
	}
	require.Less(t, loop.Snapshot().Vehicle.Position.Z(), 0.0)

	loop.RequestReset()
	loop.Enqueue(Command{Type: CommandShoot})
	result := loop.Advance(LoopTickContext{})

	assert.True(t, result.Reset)
	assert.Equal(t, 1, resets)
	assert.Equal(t, "shooting", result.Snapshot.Vehicle.Behavior)
	assert.Equal(t, 0.0, result.Snapshot.Vehicle.Position.Z())
	assert.Equal(t, uint64(21), result.Tick)

	result = loop.Advance(LoopTickContext{})
	assert.False(t, result.Reset)
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	steps := make(chan LoopStepResult, 64)
	loop := newTestLoop(t, LoopConfig{TickRate: 200}, LoopHooks{
		AfterStep: func(result LoopStepResult) {
			select {
			case steps <- result:
			default:
			}
		},
	})

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	select {
	case result := <-steps:
		assert.Equal(t, 5*time.Millisecond, result.Budget)
		assert.Positive(t, result.Tick)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not tick")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoopSnapshotSafeAcrossGoroutines(t *testing.T) {
	loop := newTestLoop(t, LoopConfig{}, LoopHooks{})
	loop.Enqueue(Command{Type: CommandMove})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			snap := loop.Snapshot()
			if len(snap.Tiles) > 0 {
				snap.Tiles[0].Z = -1
			}
		}
	}()
	for i := 0; i < 200; i++ {
		loop.Advance(LoopTickContext{})
	}
	wg.Wait()
	assert.NotEqual(t, -1.0, loop.Snapshot().Tiles[0].Z)
}
