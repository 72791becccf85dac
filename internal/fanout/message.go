package fanout

import (
	"encoding/json"
	"time"
)

// Event names on the wire.
const (
	EventConnected       = "connected"
	EventAuthenticate    = "authenticate"
	EventAuthenticated   = "authenticated"
	EventJoinRoom        = "join_telemetry_room"
	EventLeaveRoom       = "leave_telemetry_room"
	EventRoomJoined      = "room_joined"
	EventRoomLeft        = "room_left"
	EventTelemetryUpdate = "telemetry_update"
	EventGlobalAlert     = "global_alert"
	EventError           = "error"
)

// Message is the frame exchanged with subscribers in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TelemetryUpdate is pushed to room members.
type TelemetryUpdate struct {
	RoomName  string    `json:"room_name"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// GlobalAlert is pushed to every subscriber.
type GlobalAlert struct {
	Alert     any       `json:"alert"`
	Timestamp time.Time `json:"timestamp"`
}

// Encode builds a wire frame.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: event, Data: raw})
}

// EncodeTelemetryUpdate builds a telemetry_update frame for room.
func EncodeTelemetryUpdate(room string, data any, at time.Time) ([]byte, error) {
	return Encode(EventTelemetryUpdate, TelemetryUpdate{RoomName: room, Data: data, Timestamp: at.UTC()})
}

// EncodeGlobalAlert builds a global_alert frame.
func EncodeGlobalAlert(alert any, at time.Time) ([]byte, error) {
	return Encode(EventGlobalAlert, GlobalAlert{Alert: alert, Timestamp: at.UTC()})
}

func errorFrame(message string) []byte {
	payload, _ := Encode(EventError, map[string]string{"message": message})
	return payload
}
