package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound frame types on the live channel.
const (
	FrameTelemetryUpdate = "telemetry_update"
	FrameConnectionInfo  = "connection_info"
	FrameError           = "error"
	FramePong            = "pong"
)

// Outbound control actions.
const (
	ActionSubscribe = "subscribe"
	ActionPing      = "ping"
)

// ErrMissingType is returned for frames without a type field.
var ErrMissingType = errors.New("frame has no type")

// Frame is the envelope of every inbound channel message.
type Frame struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Status  string          `json:"status,omitempty"`
}

// Control is an outbound control frame.
type Control struct {
	Action    string `json:"action"`
	MissionID string `json:"mission_id,omitempty"`
}

// SubscribeControl asks the server to stream telemetry for a mission.
func SubscribeControl(missionID string) Control {
	return Control{Action: ActionSubscribe, MissionID: missionID}
}

// PingControl is the liveness probe.
func PingControl() Control {
	return Control{Action: ActionPing}
}

// DecodeFrame parses a raw channel message into its envelope.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, ErrMissingType
	}
	return f, nil
}
