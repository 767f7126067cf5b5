package protocol

import (
	"encoding/json"
	"time"

	"github.com/smukkama/trace-server/internal/location"
)

// FixEvent is the internal message format for raw fixes on Kafka
type FixEvent struct {
	ConnectionID string    `json:"connection_id"`
	TraceID      string    `json:"trace_id"`
	Device       string    `json:"device"`
	ReceivedAt   time.Time `json:"received_at"`
	Data         FixData   `json:"data"`
}

// NewFixEvent builds an event for a fix received on a connection
func NewFixEvent(connectionID, traceID, device string, fix location.Fix) *FixEvent {
	return &FixEvent{
		ConnectionID: connectionID,
		TraceID:      traceID,
		Device:       device,
		ReceivedAt:   time.Now().UTC(),
		Data:         NewFixData(fix),
	}
}

// EncodeFixEvent encodes a FixEvent to JSON
func EncodeFixEvent(msg *FixEvent) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeFixEvent decodes JSON to FixEvent
func DecodeFixEvent(data []byte) (*FixEvent, error) {
	var msg FixEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
