// Package buttplugtest provides an in-process control server speaking the
// Buttplug v2 message spec, for tests of code built on package buttplug.
package buttplugtest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/germanamz/toybridge/pkg/buttplug"
)

// ServerName is reported in the handshake reply.
const ServerName = "buttplugtest"

// Option configures a Server.
type Option func(*Server)

// WithDevices sets the devices the server knows before any scan.
func WithDevices(devs ...buttplug.DeviceInfo) Option {
	return func(s *Server) { s.devices = append(s.devices, devs...) }
}

// WithScanDevices sets devices announced via DeviceAdded once scanning starts.
func WithScanDevices(devs ...buttplug.DeviceInfo) Option {
	return func(s *Server) { s.scanDevices = append(s.scanDevices, devs...) }
}

// WithMaxPingTime sets the MaxPingTime (milliseconds) sent in the handshake.
func WithMaxPingTime(ms uint32) Option {
	return func(s *Server) { s.maxPing = ms }
}

// WithHandshakeError makes the server reject every handshake.
func WithHandshakeError(msg string) Option {
	return func(s *Server) { s.handshakeErr = msg }
}

// WithFailingDevice makes every VibrateCmd for the device fail.
func WithFailingDevice(index uint32) Option {
	return func(s *Server) { s.failing[index] = struct{}{} }
}

// Server is a fake control server. Its methods are safe for concurrent use.
type Server struct {
	srv *httptest.Server

	mu           sync.Mutex
	maxPing      uint32
	handshakeErr string
	devices      []buttplug.DeviceInfo
	scanDevices  []buttplug.DeviceInfo
	failing      map[uint32]struct{}
	received     []buttplug.Message
	conns        map[*websocket.Conn]struct{}
	accepted     int
}

// NewServer starts a Server. Call Close when done.
func NewServer(opts ...Option) *Server {
	s := &Server{
		failing: make(map[uint32]struct{}),
		conns:   make(map[*websocket.Conn]struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))

	return s
}

// URL returns the ws:// address of the server.
func (s *Server) URL() string {
	return "ws://" + strings.TrimPrefix(s.srv.URL, "http://")
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

// Device builds a DeviceInfo advertising motors vibration motors.
func Device(index uint32, name string, motors uint32) buttplug.DeviceInfo {
	msgs := map[string]buttplug.MessageAttributes{"StopDeviceCmd": {}}
	if motors > 0 {
		msgs[buttplug.VibrateCmdName] = buttplug.MessageAttributes{FeatureCount: motors}
	}
	return buttplug.DeviceInfo{DeviceName: name, DeviceIndex: index, DeviceMessages: msgs}
}

// Accepted reports how many websocket connections were accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Received returns a copy of every message received from clients.
func (s *Server) Received() []buttplug.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]buttplug.Message(nil), s.received...)
}

// Vibrations returns every VibrateCmd received, in arrival order.
func (s *Server) Vibrations() []buttplug.VibrateCmd {
	var out []buttplug.VibrateCmd
	for _, m := range s.Received() {
		if m.VibrateCmd != nil {
			out = append(out, *m.VibrateCmd)
		}
	}
	return out
}

// Count returns how many received messages satisfy match.
func (s *Server) Count(match func(buttplug.Message) bool) int {
	n := 0
	for _, m := range s.Received() {
		if match(m) {
			n++
		}
	}
	return n
}

// StopAllCount returns how many StopAllDevices requests arrived.
func (s *Server) StopAllCount() int {
	return s.Count(func(m buttplug.Message) bool { return m.StopAllDevices != nil })
}

// AddDevice registers a device and announces it to every connected client.
func (s *Server) AddDevice(d buttplug.DeviceInfo) {
	s.mu.Lock()
	s.devices = append(s.devices, d)
	s.mu.Unlock()

	s.broadcast(buttplug.Message{DeviceAdded: &buttplug.DeviceAdded{DeviceInfo: d}})
}

// RemoveDevice forgets a device and announces the removal.
func (s *Server) RemoveDevice(index uint32) {
	s.mu.Lock()
	kept := s.devices[:0]
	for _, d := range s.devices {
		if d.DeviceIndex != index {
			kept = append(kept, d)
		}
	}
	s.devices = kept
	s.mu.Unlock()

	s.broadcast(buttplug.Message{DeviceRemoved: &buttplug.DeviceRemoved{DeviceIndex: index}})
}

// SendRaw writes a raw frame to every connected client.
func (s *Server) SendRaw(frame string) {
	for _, c := range s.connections() {
		_ = c.Write(context.Background(), websocket.MessageText, []byte(frame))
	}
}

// DropConnections abruptly closes every client connection.
func (s *Server) DropConnections() {
	for _, c := range s.connections() {
		_ = c.CloseNow()
	}
}

func (s *Server) connections() []*websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) broadcast(m buttplug.Message) {
	frame, err := buttplug.Encode(m)
	if err != nil {
		return
	}
	s.SendRaw(string(frame))
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.accepted++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.CloseNow()
	}()

	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		msgs, err := buttplug.Decode(data)
		if err != nil {
			s.write(ctx, conn, buttplug.Message{Error: &buttplug.Error{
				ErrorMessage: err.Error(),
				ErrorCode:    buttplug.ErrorMessage,
			}})
			continue
		}

		for _, m := range msgs {
			s.mu.Lock()
			s.received = append(s.received, m)
			s.mu.Unlock()

			for _, reply := range s.reply(m) {
				s.write(ctx, conn, reply)
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, m buttplug.Message) {
	frame, err := buttplug.Encode(m)
	if err != nil {
		return
	}
	_ = conn.Write(ctx, websocket.MessageText, frame)
}

func (s *Server) reply(m buttplug.Message) []buttplug.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := m.ID()
	ok := buttplug.Message{Ok: &buttplug.Ok{ID: id}}

	switch {
	case m.RequestServerInfo != nil:
		if s.handshakeErr != "" {
			return []buttplug.Message{errorReply(id, buttplug.ErrorHandshake, s.handshakeErr)}
		}
		return []buttplug.Message{{ServerInfo: &buttplug.ServerInfo{
			ID:             id,
			ServerName:     ServerName,
			MessageVersion: buttplug.MessageVersion,
			MaxPingTime:    s.maxPing,
		}}}

	case m.Ping != nil, m.StopScanning != nil, m.StopAllDevices != nil:
		return []buttplug.Message{ok}

	case m.StartScanning != nil:
		out := []buttplug.Message{ok}
		for _, d := range s.scanDevices {
			s.devices = append(s.devices, d)
			out = append(out, buttplug.Message{DeviceAdded: &buttplug.DeviceAdded{DeviceInfo: d}})
		}
		s.scanDevices = nil
		return out

	case m.RequestDeviceList != nil:
		devs := append([]buttplug.DeviceInfo{}, s.devices...)
		return []buttplug.Message{{DeviceList: &buttplug.DeviceList{ID: id, Devices: devs}}}

	case m.VibrateCmd != nil:
		if _, bad := s.failing[m.VibrateCmd.DeviceIndex]; bad {
			return []buttplug.Message{errorReply(id, buttplug.ErrorDevice, "device failure")}
		}
		if !s.knows(m.VibrateCmd.DeviceIndex) {
			return []buttplug.Message{errorReply(id, buttplug.ErrorDevice, "unknown device")}
		}
		return []buttplug.Message{ok}
	}

	return []buttplug.Message{errorReply(id, buttplug.ErrorMessage, "unsupported message")}
}

func (s *Server) knows(index uint32) bool {
	for _, d := range s.devices {
		if d.DeviceIndex == index {
			return true
		}
	}
	return false
}

func errorReply(id uint32, code buttplug.ErrorCode, msg string) buttplug.Message {
	return buttplug.Message{Error: &buttplug.Error{ID: id, ErrorMessage: msg, ErrorCode: code}}
}
