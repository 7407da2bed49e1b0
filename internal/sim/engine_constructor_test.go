package sim_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palm-pilots/server/internal/sim"
)

func runScript(t *testing.T, seed int64, script map[int][]sim.CommandType, ticks int) []sim.Snapshot {
	t.Helper()
	engine, err := sim.NewEngine(sim.ExtendedConfig(), sim.WithDeps(sim.Deps{RNG: rand.New(rand.NewSource(seed))}))
	require.NoError(t, err)

	snapshots := make([]sim.Snapshot, 0, ticks)
	for tick := 0; tick < ticks; tick++ {
		for _, cmd := range script[tick] {
			ok, reason := engine.Enqueue(sim.Command{Type: cmd})
			require.True(t, ok, reason)
		}
		snapshots = append(snapshots, engine.Advance(sim.LoopTickContext{}).Snapshot)
	}
	return snapshots
}

func TestEngineIsDeterministicForASeed(t *testing.T) {
	script := map[int][]sim.CommandType{
		0:   {sim.CommandMove},
		150: {sim.CommandTurnLeft},
		170: {sim.CommandMove},
		300: {sim.CommandTurnRight},
		320: {sim.CommandMove},
		500: {sim.CommandShoot},
		600: {sim.CommandStop},
	}
	first := runScript(t, 17, script, 700)
	second := runScript(t, 17, script, 700)
	assert.Equal(t, first, second)
}

func TestNewEngineOptions(t *testing.T) {
	tiles := &sim.SequentialTiles{}
	var resets int
	engine, err := sim.NewEngine(sim.ClassicConfig(),
		sim.WithTileFactory(tiles),
		sim.WithLoopConfig(sim.LoopConfig{TickRate: 30, CommandCapacity: 4}),
		sim.WithLoopHooks(sim.LoopHooks{OnReset: func(uint64) { resets++ }}),
	)
	require.NoError(t, err)

	assert.Equal(t, sim.VariantClassic, engine.Config().Variant)
	assert.Equal(t, 30, engine.LoopConfig().TickRate)
	assert.Equal(t, uint64(5), tiles.Live())

	engine.RequestReset()
	engine.Advance(sim.LoopTickContext{})
	assert.Equal(t, 1, resets)
	assert.Equal(t, uint64(5), tiles.Live())
}

func TestNewEngineRejectsNilCore(t *testing.T) {
	_, err := sim.NewEngine(sim.ExtendedConfig(), sim.WithCore(func(sim.SimulationConfig, sim.Deps, sim.TileFactory) sim.EngineCore {
		return nil
	}))
	assert.ErrorIs(t, err, sim.ErrMissingEngineCore)
}
