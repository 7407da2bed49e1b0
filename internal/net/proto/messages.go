package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"palm-pilots/server/internal/sim"
)

const (
	// Version tracks the wire-protocol revision expected by viewers.
	Version = 1

	typeHello     = "hello"
	typeSnapshot  = "snapshot"
	typeHeartbeat = "heartbeat"
)

// Viewer message type identifiers.
const (
	TypeHello     = typeHello
	TypeSnapshot  = typeSnapshot
	TypeHeartbeat = typeHeartbeat
)

// Encoding selects the snapshot wire format for a viewer.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding resolves an encoding name; empty selects JSON.
func ParseEncoding(raw string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(raw))) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack:
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", raw)
	}
}

// Binary reports whether frames in this encoding are sent as binary messages.
func (e Encoding) Binary() bool {
	return e == EncodingMsgpack
}

// HelloMessage is the first frame a viewer receives.
type HelloMessage struct {
	Ver             int          `json:"ver"`
	Type            string       `json:"type"`
	ViewerID        string       `json:"viewerId"`
	Encoding        Encoding     `json:"encoding"`
	Variant         sim.Variant  `json:"variant"`
	TickRate        int          `json:"tickRate"`
	SupportsTurning bool         `json:"supportsTurning"`
	Snapshot        sim.Snapshot `json:"snapshot"`
}

// SnapshotMessage carries one tick of simulation state.
type SnapshotMessage struct {
	Ver        int          `json:"ver"`
	Type       string       `json:"type"`
	ServerTime int64        `json:"serverTime"`
	Snapshot   sim.Snapshot `json:"snapshot"`
}

// EncodeHello renders a hello frame. Hello frames are always JSON so viewers
// can read them before switching decoders.
func EncodeHello(msg HelloMessage) ([]byte, error) {
	msg.Ver = Version
	msg.Type = typeHello
	return json.Marshal(msg)
}

// EncodeSnapshot renders a snapshot frame in the requested encoding.
func EncodeSnapshot(enc Encoding, msg SnapshotMessage) ([]byte, error) {
	msg.Ver = Version
	msg.Type = typeSnapshot
	switch enc {
	case EncodingMsgpack:
		var buf bytes.Buffer
		encoder := msgpack.NewEncoder(&buf)
		encoder.SetCustomStructTag("json")
		if err := encoder.Encode(msg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case EncodingJSON, "":
		return json.Marshal(msg)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
}

// DecodeSnapshot parses a frame produced by EncodeSnapshot.
func DecodeSnapshot(enc Encoding, data []byte) (SnapshotMessage, error) {
	var msg SnapshotMessage
	switch enc {
	case EncodingMsgpack:
		decoder := msgpack.NewDecoder(bytes.NewReader(data))
		decoder.SetCustomStructTag("json")
		if err := decoder.Decode(&msg); err != nil {
			return msg, err
		}
	case EncodingJSON, "":
		if err := json.Unmarshal(data, &msg); err != nil {
			return msg, err
		}
	default:
		return msg, fmt.Errorf("unsupported encoding %q", enc)
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported protocol version %d", msg.Ver)
	}
	return msg, nil
}

// ViewerMessage captures an inbound websocket message from a viewer.
type ViewerMessage struct {
	Ver    int    `json:"ver,omitempty"`
	Type   string `json:"type"`
	SentAt int64  `json:"sentAt"`
}

// DecodeViewerMessage converts raw websocket payloads into a structured message.
func DecodeViewerMessage(payload []byte) (ViewerMessage, error) {
	var msg ViewerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported viewer protocol version %d", msg.Ver)
	}
	return msg, nil
}

// Heartbeat echoes timing metadata back to the viewer.
type Heartbeat struct {
	ServerTime int64
	ClientTime int64
	RTTMillis  int64
}

// EncodeHeartbeat renders a heartbeat acknowledgement payload.
func EncodeHeartbeat(msg Heartbeat) ([]byte, error) {
	frame := struct {
		Ver        int    `json:"ver"`
		Type       string `json:"type"`
		ServerTime int64  `json:"serverTime"`
		ClientTime int64  `json:"clientTime"`
		RTTMillis  int64  `json:"rtt"`
	}{
		Ver:        Version,
		Type:       typeHeartbeat,
		ServerTime: msg.ServerTime,
		ClientTime: msg.ClientTime,
		RTTMillis:  msg.RTTMillis,
	}
	return json.Marshal(frame)
}
