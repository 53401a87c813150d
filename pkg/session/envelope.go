// Package session owns the device connection: the WebSocket protocol
// state machine, the handshake, the outbox drain, and the reconnect
// backoff bookkeeping. At most one device session is active at a time.
package session

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Message is one decoded device frame. The concrete type carries the
// variant-specific fields; unrecognized types decode to Unknown so new
// firmware message types never break the session.
type Message interface {
	messageType() string
}

type (
	// Hello opens the handshake.
	Hello struct{}

	// Listen reports a listening-state transition.
	Listen struct {
		State string
	}

	// Audio carries a PCM frame for noise detection and recognition.
	Audio struct {
		Data []byte
	}

	// Image carries a camera frame.
	Image struct {
		Data []byte
	}

	// MCP carries an embedded JSON-RPC message from the device.
	MCP struct {
		Payload json.RawMessage
	}

	// Wheel is a scroll-wheel event. Observability only.
	Wheel struct {
		Direction string
	}

	// Button is a button-press event. Observability only.
	Button struct {
		Action string
	}

	// Status is a device status report. Observability only.
	Status struct {
		Payload json.RawMessage
	}

	// Unknown is the forward-compatibility fallback.
	Unknown struct {
		Type string
	}
)

func (Hello) messageType() string   { return "hello" }
func (Listen) messageType() string  { return "listen" }
func (Audio) messageType() string   { return "audio" }
func (Image) messageType() string   { return "image" }
func (MCP) messageType() string     { return "mcp" }
func (Wheel) messageType() string   { return "wheel" }
func (Button) messageType() string  { return "button" }
func (Status) messageType() string  { return "status" }
func (u Unknown) messageType() string { return u.Type }

// envelope is the raw wire shape: a type tag plus whichever of payload
// or state the variant uses.
type envelope struct {
	Type    string          `json:"type"`
	State   string          `json:"state"`
	Payload json.RawMessage `json:"payload"`
}

type binaryPayload struct {
	Data string `json:"data"`
}

type wheelPayload struct {
	Direction string `json:"direction"`
}

type buttonPayload struct {
	Action string `json:"action"`
}

// ParseMessage decodes one JSON text frame into its message variant.
// Audio and image payloads carry hex-encoded bytes.
func ParseMessage(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed device frame: %w", err)
	}

	switch env.Type {
	case "hello":
		return Hello{}, nil

	case "listen":
		return Listen{State: env.State}, nil

	case "audio":
		data, err := decodeHexPayload(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("audio frame: %w", err)
		}
		return Audio{Data: data}, nil

	case "image":
		data, err := decodeHexPayload(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("image frame: %w", err)
		}
		return Image{Data: data}, nil

	case "mcp":
		return MCP{Payload: env.Payload}, nil

	case "wheel":
		var p wheelPayload
		_ = json.Unmarshal(env.Payload, &p)
		return Wheel{Direction: p.Direction}, nil

	case "button":
		var p buttonPayload
		_ = json.Unmarshal(env.Payload, &p)
		return Button{Action: p.Action}, nil

	case "status":
		return Status{Payload: env.Payload}, nil

	default:
		return Unknown{Type: env.Type}, nil
	}
}

func decodeHexPayload(payload json.RawMessage) ([]byte, error) {
	var p binaryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	data, err := hex.DecodeString(p.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding hex data: %w", err)
	}
	return data, nil
}
