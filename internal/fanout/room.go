package fanout

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"hemis-telemetry/internal/auth"
)

// GlobalRoom receives every device snapshot.
const GlobalRoom = "global_all"

// Room types accepted from subscribers.
const (
	RoomTypeDevice  = "device"
	RoomTypePatient = "patient"
	RoomTypeGlobal  = "global"
)

// ErrInvalidRoom indicates unusable room parameters.
var ErrInvalidRoom = errors.New("fanout: invalid room parameters")

// DeviceRoom names the room for one device.
func DeviceRoom(deviceID int64) string {
	return fmt.Sprintf("%s_%d", RoomTypeDevice, deviceID)
}

// PatientRoom names the room for one patient.
func PatientRoom(patientID int64) string {
	return fmt.Sprintf("%s_%d", RoomTypePatient, patientID)
}

// SnapshotRooms lists the rooms a device snapshot goes to.
func SnapshotRooms(deviceID int64, patientID *int64) []string {
	rooms := []string{DeviceRoom(deviceID), GlobalRoom}
	if patientID != nil {
		rooms = append(rooms, PatientRoom(*patientID))
	}
	return rooms
}

// RoomRef is a parsed room request.
type RoomRef struct {
	Name string
	Kind auth.ResourceKind
	ID   string
}

// ResolveRoom validates a (room_type, room_id) pair.
// Device and patient ids must be positive integers.
func ResolveRoom(roomType, roomID string) (RoomRef, error) {
	roomType = strings.ToLower(strings.TrimSpace(roomType))
	roomID = strings.TrimSpace(roomID)
	if roomType == "" || roomID == "" {
		return RoomRef{}, ErrInvalidRoom
	}
	switch roomType {
	case RoomTypeGlobal:
		return RoomRef{Name: GlobalRoom, Kind: auth.ResourceGlobal, ID: roomID}, nil
	case RoomTypeDevice, RoomTypePatient:
		id, err := strconv.ParseInt(roomID, 10, 64)
		if err != nil || id <= 0 {
			return RoomRef{}, ErrInvalidRoom
		}
		kind := auth.ResourceDevice
		if roomType == RoomTypePatient {
			kind = auth.ResourcePatient
		}
		return RoomRef{Name: roomType + "_" + strconv.FormatInt(id, 10), Kind: kind, ID: roomID}, nil
	default:
		return RoomRef{}, ErrInvalidRoom
	}
}

// ParseRoom resolves a full room name such as "device_7" or "global_all".
func ParseRoom(name string) (RoomRef, error) {
	if name == GlobalRoom {
		return RoomRef{Name: GlobalRoom, Kind: auth.ResourceGlobal, ID: "all"}, nil
	}
	roomType, roomID, ok := strings.Cut(name, "_")
	if !ok {
		return RoomRef{}, ErrInvalidRoom
	}
	return ResolveRoom(roomType, roomID)
}
