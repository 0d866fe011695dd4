package buttplug

import (
	"encoding/json"
	"fmt"
)

// MessageVersion is the protocol message spec version this client speaks.
const MessageVersion = 2

// VibrateCmdName is the DeviceMessages key advertising vibrate capability.
const VibrateCmdName = "VibrateCmd"

// Message is a single protocol message. Exactly one field is set; on the wire
// it is encoded as a one-key object such as {"Ok":{"Id":1}}.
type Message struct {
	Ok                *Ok                `json:"Ok,omitempty"`
	Error             *Error             `json:"Error,omitempty"`
	Ping              *Ping              `json:"Ping,omitempty"`
	RequestServerInfo *RequestServerInfo `json:"RequestServerInfo,omitempty"`
	ServerInfo        *ServerInfo        `json:"ServerInfo,omitempty"`
	StartScanning     *StartScanning     `json:"StartScanning,omitempty"`
	StopScanning      *StopScanning      `json:"StopScanning,omitempty"`
	ScanningFinished  *ScanningFinished  `json:"ScanningFinished,omitempty"`
	RequestDeviceList *RequestDeviceList `json:"RequestDeviceList,omitempty"`
	DeviceList        *DeviceList        `json:"DeviceList,omitempty"`
	DeviceAdded       *DeviceAdded       `json:"DeviceAdded,omitempty"`
	DeviceRemoved     *DeviceRemoved     `json:"DeviceRemoved,omitempty"`
	VibrateCmd        *VibrateCmd        `json:"VibrateCmd,omitempty"`
	StopAllDevices    *StopAllDevices    `json:"StopAllDevices,omitempty"`
}

// Ok acknowledges a request that has no other reply payload.
type Ok struct {
	ID uint32 `json:"Id"`
}

// Error reports a failed request (ID != 0) or a server-side fault (ID == 0).
type Error struct {
	ID           uint32    `json:"Id"`
	ErrorMessage string    `json:"ErrorMessage"`
	ErrorCode    ErrorCode `json:"ErrorCode"`
}

// Ping keeps the link alive when the server sets MaxPingTime.
type Ping struct {
	ID uint32 `json:"Id"`
}

// RequestServerInfo opens the handshake and announces the client name.
type RequestServerInfo struct {
	ID             uint32 `json:"Id"`
	ClientName     string `json:"ClientName"`
	MessageVersion uint32 `json:"MessageVersion"`
}

// ServerInfo is the handshake reply.
type ServerInfo struct {
	ID             uint32 `json:"Id"`
	ServerName     string `json:"ServerName"`
	MessageVersion uint32 `json:"MessageVersion"`
	MaxPingTime    uint32 `json:"MaxPingTime"` // Milliseconds; 0 disables pings.
}

type StartScanning struct {
	ID uint32 `json:"Id"`
}

type StopScanning struct {
	ID uint32 `json:"Id"`
}

type ScanningFinished struct {
	ID uint32 `json:"Id"`
}

type RequestDeviceList struct {
	ID uint32 `json:"Id"`
}

// DeviceList answers RequestDeviceList with every device the server knows.
type DeviceList struct {
	ID      uint32       `json:"Id"`
	Devices []DeviceInfo `json:"Devices"`
}

// MessageAttributes describes one command a device accepts.
type MessageAttributes struct {
	FeatureCount uint32 `json:"FeatureCount,omitempty"`
}

// DeviceInfo identifies a device and the commands it accepts.
type DeviceInfo struct {
	DeviceName     string                       `json:"DeviceName"`
	DeviceIndex    uint32                       `json:"DeviceIndex"`
	DeviceMessages map[string]MessageAttributes `json:"DeviceMessages"`
}

// VibrateMotors returns the number of addressable vibration motors.
func (d DeviceInfo) VibrateMotors() int {
	attrs, ok := d.DeviceMessages[VibrateCmdName]
	if !ok {
		return 0
	}
	return int(attrs.FeatureCount)
}

// DeviceAdded is sent unsolicited when the server discovers a device.
type DeviceAdded struct {
	ID uint32 `json:"Id"`
	DeviceInfo
}

// DeviceRemoved is sent unsolicited when a device goes away.
type DeviceRemoved struct {
	ID          uint32 `json:"Id"`
	DeviceIndex uint32 `json:"DeviceIndex"`
}

// VibrateSpeed addresses one motor of a device.
type VibrateSpeed struct {
	Index uint32  `json:"Index"`
	Speed float64 `json:"Speed"`
}

type VibrateCmd struct {
	ID          uint32         `json:"Id"`
	DeviceIndex uint32         `json:"DeviceIndex"`
	Speeds      []VibrateSpeed `json:"Speeds"`
}

type StopAllDevices struct {
	ID uint32 `json:"Id"`
}

// ID returns the message id, or 0 for an empty message.
func (m Message) ID() uint32 {
	switch {
	case m.Ok != nil:
		return m.Ok.ID
	case m.Error != nil:
		return m.Error.ID
	case m.Ping != nil:
		return m.Ping.ID
	case m.RequestServerInfo != nil:
		return m.RequestServerInfo.ID
	case m.ServerInfo != nil:
		return m.ServerInfo.ID
	case m.StartScanning != nil:
		return m.StartScanning.ID
	case m.StopScanning != nil:
		return m.StopScanning.ID
	case m.ScanningFinished != nil:
		return m.ScanningFinished.ID
	case m.RequestDeviceList != nil:
		return m.RequestDeviceList.ID
	case m.DeviceList != nil:
		return m.DeviceList.ID
	case m.DeviceAdded != nil:
		return m.DeviceAdded.ID
	case m.DeviceRemoved != nil:
		return m.DeviceRemoved.ID
	case m.VibrateCmd != nil:
		return m.VibrateCmd.ID
	case m.StopAllDevices != nil:
		return m.StopAllDevices.ID
	}
	return 0
}

// setID stamps id onto whichever field is set.
func (m *Message) setID(id uint32) {
	switch {
	case m.Ping != nil:
		m.Ping.ID = id
	case m.RequestServerInfo != nil:
		m.RequestServerInfo.ID = id
	case m.StartScanning != nil:
		m.StartScanning.ID = id
	case m.StopScanning != nil:
		m.StopScanning.ID = id
	case m.RequestDeviceList != nil:
		m.RequestDeviceList.ID = id
	case m.VibrateCmd != nil:
		m.VibrateCmd.ID = id
	case m.StopAllDevices != nil:
		m.StopAllDevices.ID = id
	}
}

// fieldCount reports how many message fields are set.
func (m Message) fieldCount() int {
	n := 0
	for _, set := range []bool{
		m.Ok != nil, m.Error != nil, m.Ping != nil,
		m.RequestServerInfo != nil, m.ServerInfo != nil,
		m.StartScanning != nil, m.StopScanning != nil, m.ScanningFinished != nil,
		m.RequestDeviceList != nil, m.DeviceList != nil,
		m.DeviceAdded != nil, m.DeviceRemoved != nil,
		m.VibrateCmd != nil, m.StopAllDevices != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Encode marshals messages into a single wire frame.
func Encode(msgs ...Message) ([]byte, error) {
	data, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("buttplug: encode: %w", err)
	}
	return data, nil
}

// Decode parses a wire frame. A frame that is not a JSON array, or that holds
// an object with zero or several known message keys, yields a *ProtocolError.
func Decode(data []byte) ([]Message, error) {
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, &ProtocolError{Reason: "malformed frame", Frame: string(data), Err: err}
	}

	for i, m := range msgs {
		if n := m.fieldCount(); n != 1 {
			return nil, &ProtocolError{
				Reason: fmt.Sprintf("message %d carries %d known types", i, n),
				Frame:  string(data),
			}
		}
	}

	return msgs, nil
}
