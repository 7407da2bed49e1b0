package sim

import "time"

// CommandType enumerates the supported simulation commands.
type CommandType string

const (
	CommandMove      CommandType = "Move"
	CommandStop      CommandType = "Stop"
	CommandShoot     CommandType = "Shoot"
	CommandTurnLeft  CommandType = "TurnLeft"
	CommandTurnRight CommandType = "TurnRight"
)

// Valid reports whether t is one of the known command types.
func (t CommandType) Valid() bool {
	switch t {
	case CommandMove, CommandStop, CommandShoot, CommandTurnLeft, CommandTurnRight:
		return true
	default:
		return false
	}
}

// IsTurn reports whether t requests a heading change.
func (t CommandType) IsTurn() bool {
	return t == CommandTurnLeft || t == CommandTurnRight
}

// Command represents an intent captured for processing on the next tick.
type Command struct {
	ID         string      `json:"id,omitempty"`
	OriginTick uint64      `json:"originTick"`
	Source     string      `json:"source,omitempty"`
	Type       CommandType `json:"type"`
	IssuedAt   time.Time   `json:"issuedAt"`
}
