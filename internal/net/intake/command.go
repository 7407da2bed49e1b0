package intake

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"palm-pilots/server/internal/net/proto"
	"palm-pilots/server/internal/sim"
	"palm-pilots/server/internal/telemetry"
	"palm-pilots/server/logging"
	loggingcommands "palm-pilots/server/logging/commands"
)

const (
	metricMalformed    = "commands_malformed_total"
	metricUnrecognized = "commands_unrecognized_total"
	metricAccepted     = "commands_accepted_total"
	metricRejected     = "commands_rejected_total"
)

// ErrCommandRejected wraps the loop's reason when a command cannot be queued.
var ErrCommandRejected = errors.New("intake: command rejected")

// CommandContext carries what staging needs from the running simulation.
type CommandContext struct {
	Engine sim.Engine
	Tick   func() uint64
	Now    func() time.Time
	NewID  func() string
}

// Stage stamps a command with its origin metadata and queues it on the engine.
// The stamped command is returned even when the engine refuses it.
func Stage(ctx CommandContext, source string, cmdType sim.CommandType) (sim.Command, bool, string) {
	command := sim.Command{Type: cmdType, Source: source}
	if ctx.NewID != nil {
		command.ID = ctx.NewID()
	} else {
		command.ID = uuid.NewString()
	}
	if ctx.Tick != nil {
		command.OriginTick = ctx.Tick()
	}
	if ctx.Now != nil {
		command.IssuedAt = ctx.Now()
	} else {
		command.IssuedAt = time.Now()
	}

	if ctx.Engine == nil {
		return command, false, sim.CommandRejectQueueFull
	}
	if ok, reason := ctx.Engine.Enqueue(command); !ok {
		return command, false, reason
	}
	return command, true, ""
}

// ChannelConfig wires a Channel to the simulation and telemetry.
type ChannelConfig struct {
	Context    CommandContext
	Vocabulary *Vocabulary
	Publisher  logging.Publisher
	Metrics    telemetry.Metrics
}

// Channel turns raw command messages into queued simulation commands. It is
// safe for concurrent use by several sources.
type Channel struct {
	ctx       CommandContext
	vocab     *Vocabulary
	publisher logging.Publisher
	metrics   telemetry.Metrics
}

func NewChannel(cfg ChannelConfig) *Channel {
	vocab := cfg.Vocabulary
	if vocab == nil {
		supportsTurning := true
		if cfg.Context.Engine != nil {
			supportsTurning = cfg.Context.Engine.Config().SupportsTurning
		}
		vocab = NewVocabulary(supportsTurning, DefaultAliases)
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Channel{
		ctx:       cfg.Context,
		vocab:     vocab,
		publisher: publisher,
		metrics:   cfg.Metrics,
	}
}

// Accept parses raw, resolves it against the vocabulary and stages it.
// Malformed messages are reported as warnings and unrecognized words are only
// counted; both return an error the caller is expected to ignore.
func (c *Channel) Accept(ctx context.Context, source string, raw []byte) (sim.Command, error) {
	tick := c.tick()
	msg, err := proto.ParseCommandMessage(raw)
	if err != nil {
		c.count(metricMalformed)
		loggingcommands.Malformed(ctx, c.publisher, tick, source, loggingcommands.MalformedPayload{
			Raw:   truncate(string(raw), 256),
			Error: err.Error(),
		}, nil)
		return sim.Command{}, err
	}

	cmdType, err := c.vocab.Resolve(msg.Command)
	if err != nil {
		c.count(metricUnrecognized)
		return sim.Command{}, err
	}

	command, ok, reason := Stage(c.ctx, source, cmdType)
	if !ok {
		c.count(metricRejected)
		loggingcommands.Rejected(ctx, c.publisher, tick, source, command.ID, loggingcommands.RejectedPayload{
			Command: string(cmdType),
			Reason:  reason,
		}, nil)
		return sim.Command{}, fmt.Errorf("%w: %s", ErrCommandRejected, reason)
	}
	c.count(metricAccepted)
	loggingcommands.Accepted(ctx, c.publisher, tick, source, command.ID, loggingcommands.AcceptedPayload{
		Command: string(cmdType),
		Raw:     msg.Command,
	}, nil)
	return command, nil
}

// Vocabulary returns the channel's vocabulary.
func (c *Channel) Vocabulary() *Vocabulary {
	return c.vocab
}

func (c *Channel) tick() uint64 {
	if c.ctx.Tick == nil {
		return 0
	}
	return c.ctx.Tick()
}

func (c *Channel) count(key string) {
	if c.metrics != nil {
		c.metrics.Add(key, 1)
	}
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
