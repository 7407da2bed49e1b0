package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedCommand is returned when a command message cannot be decoded by
// either the strict or the lenient parser.
var ErrMalformedCommand = errors.New("proto: malformed command message")

// CommandMessage is the text message carried by every command stream.
type CommandMessage struct {
	Command string `json:"command" jsonschema:"required,description=Command word such as MOVE or SHOOT; case-insensitive"`
}

// ParseCommandMessage decodes {"command": "..."}. Producers that emit the
// single-quoted form {'command': '...'} are accepted by retrying with the
// quotes swapped. A message without a command string is malformed.
func ParseCommandMessage(raw []byte) (CommandMessage, error) {
	msg, strictErr := decodeCommand(raw)
	if strictErr == nil {
		return msg, nil
	}
	if !bytes.ContainsRune(raw, '\'') {
		return CommandMessage{}, fmt.Errorf("%w: %v", ErrMalformedCommand, strictErr)
	}
	msg, err := decodeCommand(bytes.ReplaceAll(raw, []byte("'"), []byte(`"`)))
	if err != nil {
		return CommandMessage{}, fmt.Errorf("%w: %v", ErrMalformedCommand, strictErr)
	}
	return msg, nil
}

func decodeCommand(raw []byte) (CommandMessage, error) {
	var frame struct {
		Command *string `json:"command"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return CommandMessage{}, err
	}
	if frame.Command == nil {
		return CommandMessage{}, errors.New("missing command field")
	}
	return CommandMessage{Command: *frame.Command}, nil
}

// EncodeCommandMessage renders the strict JSON form.
func EncodeCommandMessage(command string) ([]byte, error) {
	return json.Marshal(CommandMessage{Command: command})
}

// EncodeLegacyCommandMessage renders the single-quoted form relayed to
// browser viewers that swap quotes before parsing. Quotes inside command are
// dropped so the result stays parseable after the swap.
func EncodeLegacyCommandMessage(command string) []byte {
	command = strings.NewReplacer(`'`, "", `"`, "", `\`, "").Replace(command)
	return []byte("{'command': '" + command + "'}")
}
