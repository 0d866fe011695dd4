package buttplug

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_WireShape(t *testing.T) {
	data, err := Encode(Message{VibrateCmd: &VibrateCmd{
		ID:          7,
		DeviceIndex: 2,
		Speeds:      []VibrateSpeed{{Index: 1, Speed: 0.5}},
	}})
	require.NoError(t, err)

	assert.JSONEq(t,
		`[{"VibrateCmd":{"Id":7,"DeviceIndex":2,"Speeds":[{"Index":1,"Speed":0.5}]}}]`,
		string(data))
}

func TestDecode_DeviceAdded(t *testing.T) {
	frame := `[{"DeviceAdded":{"Id":0,"DeviceName":"Lush","DeviceIndex":3,
		"DeviceMessages":{"VibrateCmd":{"FeatureCount":2},"StopDeviceCmd":{}}}}]`

	msgs, err := Decode([]byte(frame))
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	added := msgs[0].DeviceAdded
	require.NotNil(t, added)
	assert.Equal(t, "Lush", added.DeviceName)
	assert.Equal(t, uint32(3), added.DeviceIndex)
	assert.Equal(t, 2, added.VibrateMotors())
	assert.Equal(t, uint32(0), msgs[0].ID())
}

func TestDecode_MultipleMessages(t *testing.T) {
	msgs, err := Decode([]byte(`[{"Ok":{"Id":1}},{"ScanningFinished":{"Id":0}}]`))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, uint32(1), msgs[0].ID())
	assert.NotNil(t, msgs[1].ScanningFinished)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `nope`},
		{"object instead of array", `{"Ok":{"Id":1}}`},
		{"unknown message", `[{"Bogus":{"Id":1}}]`},
		{"two messages in one object", `[{"Ok":{"Id":1},"Ping":{"Id":1}}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))

			var pe *ProtocolError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.frame, pe.Frame)
		})
	}
}

func TestDeviceInfo_NoVibrate(t *testing.T) {
	d := DeviceInfo{DeviceMessages: map[string]MessageAttributes{"RotateCmd": {FeatureCount: 1}}}
	assert.Equal(t, 0, d.VibrateMotors())
}

func TestSetID(t *testing.T) {
	m := Message{StartScanning: &StartScanning{}}
	m.setID(42)
	assert.Equal(t, uint32(42), m.ID())
}

func TestFromError(t *testing.T) {
	err := FromError(Error{ID: 3, ErrorMessage: "no such device", ErrorCode: ErrorDevice})

	assert.Equal(t, ErrorDevice, err.Code)
	assert.EqualError(t, err, "buttplug: server device error: no such device")
}

func TestErrorCode_String(t *testing.T) {
	assert.Equal(t, "handshake", ErrorHandshake.String())
	assert.Equal(t, "ping", ErrorPing.String())
	assert.Equal(t, "code(9)", ErrorCode(9).String())
}

func TestConnectorError_Unwrap(t *testing.T) {
	inner := errors.New("refused")
	err := &ConnectorError{Addr: "ws://x", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.EqualError(t, err, "buttplug: connect ws://x: refused")
}
