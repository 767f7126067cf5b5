package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smukkama/trace-server/internal/location"
	"github.com/smukkama/trace-server/internal/source"
)

// MessageType represents the type of message
type MessageType string

const (
	// Device to Server
	MsgTypeIdentify  MessageType = "identify"
	MsgTypeFix       MessageType = "fix"
	MsgTypeProvider  MessageType = "provider"
	MsgTypeKeepalive MessageType = "keepalive"

	// Server to Device
	MsgTypeAck MessageType = "ack"
)

// BaseMessage is the common structure for all messages
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// IdentifyMessage is sent by the device on connection. An empty TraceID
// asks the server to start a new trace.
type IdentifyMessage struct {
	Type    MessageType `json:"type"`
	TraceID string      `json:"trace_id,omitempty"`
	Device  string      `json:"device"`
}

// FixData is one position reading as sent on the wire
type FixData struct {
	Timestamp string  `json:"timestamp"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// FixMessage carries a position fix
type FixMessage struct {
	Type MessageType `json:"type"`
	Data FixData     `json:"data"`
}

// ProviderMessage reports a change of the device's location permission
type ProviderMessage struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
}

// KeepaliveMessage is sent by the device when it has nothing else to send
type KeepaliveMessage struct {
	Type MessageType `json:"type"`
}

// AckMessage is sent by the server in response to messages
type AckMessage struct {
	Type    MessageType `json:"type"`
	Status  string      `json:"status"`
	TraceID string      `json:"trace_id,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// AckStatus constants
const (
	AckStatusIdentified = "identified"
	AckStatusAlive      = "alive"
	AckStatusAccepted   = "accepted"
	AckStatusThrottled  = "throttled"
	AckStatusPaused     = "paused"
	AckStatusError      = "error"
)

// ParseMessage parses a JSON line into the appropriate message type
func ParseMessage(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch base.Type {
	case MsgTypeIdentify:
		var msg IdentifyMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid identify message: %w", err)
		}
		if err := validateIdentify(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeFix:
		var msg FixMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid fix message: %w", err)
		}
		if _, err := msg.Data.Parse(); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeProvider:
		var msg ProviderMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid provider message: %w", err)
		}
		if _, err := source.ParseStatus(msg.Status); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeKeepalive:
		var msg KeepaliveMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid keepalive message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unknown message type: %s", base.Type)
	}
}

// validateIdentify validates an identify message
func validateIdentify(msg *IdentifyMessage) error {
	if msg.Device == "" {
		return fmt.Errorf("device is required")
	}
	if len(msg.TraceID) > 64 {
		return fmt.Errorf("trace_id too long")
	}
	return nil
}

// Parse converts wire fix data into a validated location.Fix
func (d *FixData) Parse() (location.Fix, error) {
	if d.Timestamp == "" {
		return location.Fix{}, fmt.Errorf("%w: timestamp is required", location.ErrMalformedFix)
	}
	ts, err := time.Parse(time.RFC3339Nano, d.Timestamp)
	if err != nil {
		return location.Fix{}, fmt.Errorf("%w: invalid timestamp format (must be RFC3339): %v", location.ErrMalformedFix, err)
	}

	fix := location.Fix{
		Latitude:   d.Latitude,
		Longitude:  d.Longitude,
		Altitude:   d.Altitude,
		CapturedAt: ts,
	}
	if err := fix.Validate(); err != nil {
		return location.Fix{}, err
	}
	return fix, nil
}

// NewFixData builds wire fix data from a fix
func NewFixData(fix location.Fix) FixData {
	return FixData{
		Timestamp: fix.CapturedAt.Format(time.RFC3339Nano),
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Altitude:  fix.Altitude,
	}
}

// EncodeMessage encodes a message to JSON
func EncodeMessage(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}

// NewAckMessage creates a new acknowledgment message
func NewAckMessage(status string) *AckMessage {
	return &AckMessage{
		Type:   MsgTypeAck,
		Status: status,
	}
}

// NewErrorAck creates an error acknowledgment carrying the reason
func NewErrorAck(err error) *AckMessage {
	return &AckMessage{
		Type:   MsgTypeAck,
		Status: AckStatusError,
		Error:  err.Error(),
	}
}
