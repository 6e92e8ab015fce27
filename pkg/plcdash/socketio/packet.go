package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Engine.IO v4 packet types. On the websocket transport each frame carries
// exactly one packet, prefixed by its type digit.
const (
	EnginePacketOpen    = '0'
	EnginePacketClose   = '1'
	EnginePacketPing    = '2'
	EnginePacketPong    = '3'
	EnginePacketMessage = '4'
	EnginePacketUpgrade = '5'
	EnginePacketNoop    = '6'
)

// PacketType is a Socket.IO v5 protocol packet type, carried inside an
// Engine.IO message packet.
type PacketType int

const (
	PacketConnect PacketType = iota
	PacketDisconnect
	PacketEvent
	PacketAck
	PacketConnectError
	PacketBinaryEvent
	PacketBinaryAck
)

var packetTypeNames = map[PacketType]string{
	PacketConnect:      "CONNECT",
	PacketDisconnect:   "DISCONNECT",
	PacketEvent:        "EVENT",
	PacketAck:          "ACK",
	PacketConnectError: "CONNECT_ERROR",
	PacketBinaryEvent:  "BINARY_EVENT",
	PacketBinaryAck:    "BINARY_ACK",
}

func (t PacketType) String() string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PacketType(%d)", int(t))
}

var (
	ErrEmptyPacket       = errors.New("empty packet")
	ErrBinaryUnsupported = errors.New("binary packets are not supported")
)

// Packet is a decoded Socket.IO packet.
type Packet struct {
	Type      PacketType
	Namespace string
	ID        *int64
	Data      json.RawMessage
}

// handshake is the payload of the Engine.IO open packet.
type handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int64    `json:"maxPayload"`
}

// connectReply is the payload of a successful namespace CONNECT.
type connectReply struct {
	SID string `json:"sid"`
}

// connectError is the payload of CONNECT_ERROR.
type connectError struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// EncodePacket serializes a Socket.IO packet:
//
//	<type>[<namespace>,][<id>][<json data>]
//
// The namespace is omitted for the main namespace "/".
func EncodePacket(p Packet) string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(int(p.Type)))

	if p.Namespace != "" && p.Namespace != "/" {
		sb.WriteString(p.Namespace)
		sb.WriteByte(',')
	}

	if p.ID != nil {
		sb.WriteString(strconv.FormatInt(*p.ID, 10))
	}

	if len(p.Data) > 0 {
		sb.Write(p.Data)
	}

	return sb.String()
}

// DecodePacket parses a Socket.IO packet produced by EncodePacket or by a
// Socket.IO server.
func DecodePacket(s string) (Packet, error) {
	if s == "" {
		return Packet{}, ErrEmptyPacket
	}

	if s[0] < '0' || s[0] > '6' {
		return Packet{}, fmt.Errorf("invalid packet type %q", s[0])
	}

	p := Packet{
		Type:      PacketType(s[0] - '0'),
		Namespace: "/",
	}

	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		return Packet{}, ErrBinaryUnsupported
	}

	i := 1
	if i < len(s) && s[i] == '/' {
		end := strings.IndexByte(s[i:], ',')
		if end == -1 {
			p.Namespace = s[i:]
			return p, nil
		}
		p.Namespace = s[i : i+end]
		i += end + 1
	}

	j := i
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	if j > i {
		id, err := strconv.ParseInt(s[i:j], 10, 64)
		if err != nil {
			return Packet{}, fmt.Errorf("invalid packet id: %w", err)
		}
		p.ID = &id
	}

	if j < len(s) {
		data := s[j:]
		if !json.Valid([]byte(data)) {
			return Packet{}, fmt.Errorf("invalid packet payload: %.32q", data)
		}
		p.Data = json.RawMessage(data)
	}

	return p, nil
}

// encodeArgs builds the JSON array payload of an EVENT or ACK packet. For
// events the name is the first element.
func encodeArgs(event string, args []any) (json.RawMessage, error) {
	payload := make([]any, 0, len(args)+1)
	if event != "" {
		payload = append(payload, event)
	}
	payload = append(payload, args...)

	if len(payload) == 0 {
		return json.RawMessage("[]"), nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}
	return data, nil
}

// decodeEvent splits an EVENT payload into its name and arguments.
func decodeEvent(data json.RawMessage) (string, []any, error) {
	var payload []any
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", nil, fmt.Errorf("invalid event payload: %w", err)
	}

	if len(payload) == 0 {
		return "", nil, errors.New("event payload has no name")
	}

	name, ok := payload[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("event name must be a string, got %T", payload[0])
	}

	return name, payload[1:], nil
}

// decodeAck returns the argument list of an ACK payload.
func decodeAck(data json.RawMessage) ([]any, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var args []any
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("invalid ack payload: %w", err)
	}
	return args, nil
}
