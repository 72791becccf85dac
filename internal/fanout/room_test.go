package fanout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hemis-telemetry/internal/auth"
)

func TestResolveRoom(t *testing.T) {
	cases := []struct {
		name     string
		roomType string
		roomID   string
		want     RoomRef
		wantErr  bool
	}{
		{"device", "device", "7", RoomRef{Name: "device_7", Kind: auth.ResourceDevice, ID: "7"}, false},
		{"patient upper", "PATIENT", " 12 ", RoomRef{Name: "patient_12", Kind: auth.ResourcePatient, ID: "12"}, false},
		{"global", "global", "all", RoomRef{Name: GlobalRoom, Kind: auth.ResourceGlobal, ID: "all"}, false},
		{"missing id", "device", "", RoomRef{}, true},
		{"missing type", "", "7", RoomRef{}, true},
		{"non numeric", "device", "abc", RoomRef{}, true},
		{"negative", "patient", "-1", RoomRef{}, true},
		{"unknown type", "ward", "3", RoomRef{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveRoom(tc.roomType, tc.roomID)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRoom)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseRoom(t *testing.T) {
	ref, err := ParseRoom("device_7")
	require.NoError(t, err)
	assert.Equal(t, auth.ResourceDevice, ref.Kind)

	ref, err = ParseRoom(GlobalRoom)
	require.NoError(t, err)
	assert.Equal(t, auth.ResourceGlobal, ref.Kind)

	_, err = ParseRoom("lobby")
	assert.ErrorIs(t, err, ErrInvalidRoom)
}

func TestSnapshotRooms(t *testing.T) {
	assert.Equal(t, []string{"device_7", GlobalRoom}, SnapshotRooms(7, nil))
	patient := int64(3)
	assert.Equal(t, []string{"device_7", GlobalRoom, "patient_3"}, SnapshotRooms(7, &patient))
}
