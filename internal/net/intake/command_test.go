package intake

import (
	"context"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palm-pilots/server/internal/net/proto"
	"palm-pilots/server/internal/sim"
	"palm-pilots/server/logging"
	loggingcommands "palm-pilots/server/logging/commands"
)

type fakeEngine struct {
	mu            sync.Mutex
	enqueueOK     bool
	enqueueReason string
	commands      []sim.Command
	cfg           sim.SimulationConfig
}

func (f *fakeEngine) Enqueue(cmd sim.Command) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	if f.enqueueOK {
		return true, ""
	}
	if f.enqueueReason == "" {
		f.enqueueReason = sim.CommandRejectQueueLimit
	}
	return false, f.enqueueReason
}
func (f *fakeEngine) Snapshot() sim.Snapshot       { return sim.Snapshot{} }
func (f *fakeEngine) Pending() int                 { return len(f.commands) }
func (f *fakeEngine) Tick() uint64                 { return 0 }
func (f *fakeEngine) RequestReset()                {}
func (f *fakeEngine) Config() sim.SimulationConfig { return f.cfg }

type capturePublisher struct {
	mu     sync.Mutex
	events []logging.Event
}

func (p *capturePublisher) Publish(_ context.Context, event logging.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func (m *countingMetrics) Add(key string, delta uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]uint64)
	}
	m.counts[key] += delta
}

func (m *countingMetrics) Store(string, uint64) {}

func TestStageAcceptsCommand(t *testing.T) {
	engine := &fakeEngine{enqueueOK: true}
	issuedAt := time.Unix(100, 0)
	ctx := CommandContext{
		Engine: engine,
		Tick:   func() uint64 { return 42 },
		Now:    func() time.Time { return issuedAt },
		NewID:  func() string { return "cmd-1" },
	}

	cmd, ok, reason := Stage(ctx, "voice", sim.CommandMove)
	require.True(t, ok, reason)
	assert.Equal(t, "cmd-1", cmd.ID)
	assert.Equal(t, "voice", cmd.Source)
	assert.Equal(t, uint64(42), cmd.OriginTick)
	assert.True(t, cmd.IssuedAt.Equal(issuedAt))
	require.Len(t, engine.commands, 1)
	assert.Equal(t, cmd, engine.commands[0])
}

func TestStageGeneratesIDs(t *testing.T) {
	engine := &fakeEngine{enqueueOK: true}
	first, ok, _ := Stage(CommandContext{Engine: engine}, "voice", sim.CommandMove)
	require.True(t, ok)
	second, ok, _ := Stage(CommandContext{Engine: engine}, "voice", sim.CommandMove)
	require.True(t, ok)
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestStagePropagatesEngineReason(t *testing.T) {
	engine := &fakeEngine{enqueueReason: sim.CommandRejectQueueFull}
	cmd, ok, reason := Stage(CommandContext{Engine: engine, NewID: func() string { return "cmd-7" }}, "voice", sim.CommandStop)
	assert.False(t, ok)
	assert.Equal(t, sim.CommandRejectQueueFull, reason)
	assert.Equal(t, "cmd-7", cmd.ID)
	assert.Equal(t, "voice", cmd.Source)
	assert.Equal(t, sim.CommandStop, cmd.Type)
}

func TestStageHandlesNilEngine(t *testing.T) {
	_, ok, reason := Stage(CommandContext{}, "voice", sim.CommandStop)
	assert.False(t, ok)
	assert.Equal(t, sim.CommandRejectQueueFull, reason)
}

func TestVocabulary(t *testing.T) {
	extended := NewVocabulary(true, DefaultAliases)
	classic := NewVocabulary(false, DefaultAliases)

	tests := []struct {
		word     string
		extended sim.CommandType
		classic  sim.CommandType
	}{
		{word: "MOVE", extended: sim.CommandMove, classic: sim.CommandMove},
		{word: "move", extended: sim.CommandMove, classic: sim.CommandMove},
		{word: " Shoot ", extended: sim.CommandShoot, classic: sim.CommandShoot},
		{word: "STOP", extended: sim.CommandStop, classic: sim.CommandStop},
		{word: "revert", extended: sim.CommandStop, classic: sim.CommandStop},
		{word: "LEFT", extended: sim.CommandTurnLeft},
		{word: "right", extended: sim.CommandTurnRight},
		{word: "JUMP"},
		{word: ""},
	}
	for _, tc := range tests {
		t.Run(tc.word, func(t *testing.T) {
			for _, c := range []struct {
				vocab *Vocabulary
				want  sim.CommandType
			}{{extended, tc.extended}, {classic, tc.classic}} {
				got, err := c.vocab.Resolve(tc.word)
				if c.want == "" {
					assert.ErrorIs(t, err, ErrUnrecognizedCommand)
					continue
				}
				require.NoError(t, err)
				assert.Equal(t, c.want, got)
			}
		})
	}
}

func TestVocabularyIgnoresDanglingAlias(t *testing.T) {
	vocab := NewVocabulary(false, map[string]string{"SPIN": "LEFT", "go": "move"})
	_, err := vocab.Resolve("SPIN")
	assert.ErrorIs(t, err, ErrUnrecognizedCommand)
	cmd, err := vocab.Resolve("GO")
	require.NoError(t, err)
	assert.Equal(t, sim.CommandMove, cmd)
	assert.ElementsMatch(t, []string{"MOVE", "STOP", "SHOOT", "GO"}, vocab.Words())
}

func newTestChannel(engine *fakeEngine) (*Channel, *capturePublisher, *countingMetrics) {
	pub := &capturePublisher{}
	metrics := &countingMetrics{}
	channel := NewChannel(ChannelConfig{
		Context:   CommandContext{Engine: engine, Tick: func() uint64 { return 9 }},
		Publisher: pub,
		Metrics:   metrics,
	})
	return channel, pub, metrics
}

func TestChannelAccept(t *testing.T) {
	engine := &fakeEngine{enqueueOK: true, cfg: sim.ExtendedConfig()}
	channel, pub, metrics := newTestChannel(engine)

	cmd, err := channel.Accept(context.Background(), "voice", []byte(`{'command': 'left'}`))
	require.NoError(t, err)
	assert.Equal(t, sim.CommandTurnLeft, cmd.Type)
	assert.Equal(t, uint64(9), cmd.OriginTick)
	require.Len(t, pub.events, 1)
	assert.Equal(t, loggingcommands.EventAccepted, pub.events[0].Type)
	assert.Equal(t, cmd.ID, pub.events[0].CommandID)
	assert.Equal(t, uint64(1), metrics.counts[metricAccepted])
}

func TestChannelMalformedIsLoggedAndDropped(t *testing.T) {
	engine := &fakeEngine{enqueueOK: true, cfg: sim.ExtendedConfig()}
	channel, pub, metrics := newTestChannel(engine)

	_, err := channel.Accept(context.Background(), "voice", []byte(`not json`))
	require.ErrorIs(t, err, proto.ErrMalformedCommand)
	assert.Empty(t, engine.commands)
	require.Len(t, pub.events, 1)
	assert.Equal(t, loggingcommands.EventMalformed, pub.events[0].Type)
	assert.Equal(t, logging.SeverityWarn, pub.events[0].Severity)
	assert.Equal(t, uint64(1), metrics.counts[metricMalformed])
}

func TestChannelUnrecognizedIsSilent(t *testing.T) {
	engine := &fakeEngine{enqueueOK: true, cfg: sim.ClassicConfig()}
	channel, pub, metrics := newTestChannel(engine)

	_, err := channel.Accept(context.Background(), "gesture", []byte(`{"command": "LEFT"}`))
	require.ErrorIs(t, err, ErrUnrecognizedCommand)
	assert.Empty(t, engine.commands)
	assert.Empty(t, pub.events)
	assert.Equal(t, uint64(1), metrics.counts[metricUnrecognized])
}

func TestChannelRejectedIsReported(t *testing.T) {
	engine := &fakeEngine{enqueueReason: sim.CommandRejectQueueFull, cfg: sim.ExtendedConfig()}
	channel, pub, _ := newTestChannel(engine)

	_, err := channel.Accept(context.Background(), "voice", []byte(`{"command": "SHOOT"}`))
	require.ErrorIs(t, err, ErrCommandRejected)
	assert.Contains(t, err.Error(), sim.CommandRejectQueueFull)
	require.Len(t, pub.events, 1)
	assert.Equal(t, loggingcommands.EventRejected, pub.events[0].Type)
	require.Len(t, engine.commands, 1)
	assert.NotEmpty(t, pub.events[0].CommandID)
	assert.Equal(t, engine.commands[0].ID, pub.events[0].CommandID)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 8))
	assert.Equal(t, "ab", truncate("abcd", 2))
	// "é" is two bytes; a cut inside it backs off to the preceding boundary.
	assert.Equal(t, "a", truncate("aé", 2))
	assert.Equal(t, "aé", truncate("aéb", 3))
	assert.True(t, utf8.ValidString(truncate("日本語", 4)))
	assert.Equal(t, "日", truncate("日本語", 4))
}

func TestChannelFeedsLoopInArrivalOrder(t *testing.T) {
	loop, err := sim.NewEngine(sim.ExtendedConfig())
	require.NoError(t, err)
	channel := NewChannel(ChannelConfig{Context: CommandContext{Engine: loop, Tick: loop.Tick}})

	for _, raw := range []string{`{"command":"SHOOT"}`, `{"command":"bogus"}`, `{'command':'MOVE'}`} {
		channel.Accept(context.Background(), "relay", []byte(raw))
	}
	result := loop.Advance(sim.LoopTickContext{})
	require.Len(t, result.Commands, 2)
	assert.Equal(t, sim.CommandShoot, result.Commands[0].Type)
	assert.Equal(t, sim.CommandMove, result.Commands[1].Type)
	assert.Equal(t, "walking", result.Snapshot.Vehicle.Behavior)
}
