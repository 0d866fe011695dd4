package buttplug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// DefaultClientName is announced during the handshake when Options.Name is empty.
const DefaultClientName = "toybridge"

const (
	readLimit    = 1 << 20
	eventBufSize = 64
)

// EventKind identifies an unsolicited server notification.
type EventKind string

const (
	EventDeviceAdded      EventKind = "device_added"
	EventDeviceRemoved    EventKind = "device_removed"
	EventScanningFinished EventKind = "scanning_finished"
	EventError            EventKind = "error"
)

// Event is a server notification that was not the reply to a request.
// Device is set for device events; Err holds a *ServerError or *ProtocolError
// for EventError.
type Event struct {
	Kind   EventKind
	Device DeviceInfo
	Err    error
}

// Options configures Dial.
type Options struct {
	Name       string       // Client name sent in the handshake.
	HTTPClient *http.Client // Optional; used for the websocket upgrade request.
	Logger     *slog.Logger // Optional; defaults to a discarding logger.
}

// Client is a live link to a control server. All methods are safe for
// concurrent use.
type Client struct {
	conn   *websocket.Conn
	log    *slog.Logger
	info   ServerInfo
	nextID atomic.Uint32

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}

	mu      sync.Mutex
	pending map[uint32]chan Message
	err     error
}

// Dial connects to the control server at addr and performs the handshake.
// Any transport or handshake failure is returned as a *ConnectorError.
//
// ctx bounds the dial and the handshake only; the returned Client lives until
// Close is called or the server drops the link.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, addr, &websocket.DialOptions{
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, &ConnectorError{Addr: addr, Err: err}
	}
	conn.SetReadLimit(readLimit)

	c := newClient(conn, opts.Logger)
	go c.readLoop()

	name := opts.Name
	if name == "" {
		name = DefaultClientName
	}

	reply, err := c.request(ctx, Message{RequestServerInfo: &RequestServerInfo{
		ClientName:     name,
		MessageVersion: MessageVersion,
	}})
	if err == nil && reply.ServerInfo == nil {
		err = fmt.Errorf("unexpected handshake reply")
	}
	if err != nil {
		_ = conn.CloseNow()
		<-c.done
		return nil, &ConnectorError{Addr: addr, Err: fmt.Errorf("handshake: %w", err)}
	}

	c.info = *reply.ServerInfo
	c.log.Debug("buttplug: handshake complete",
		"server", c.info.ServerName,
		"version", c.info.MessageVersion,
		"max_ping_ms", c.info.MaxPingTime)

	if c.info.MaxPingTime > 0 {
		go c.pingLoop(time.Duration(c.info.MaxPingTime) * time.Millisecond / 2)
	}

	return c, nil
}

func newClient(conn *websocket.Conn, log *slog.Logger) *Client {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		conn:    conn,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan Event, eventBufSize),
		done:    make(chan struct{}),
		pending: make(map[uint32]chan Message),
	}
}

// ServerInfo returns the server's handshake reply.
func (c *Client) ServerInfo() ServerInfo { return c.info }

// Events delivers unsolicited server notifications. The channel is closed
// when the link goes down. Callers must keep draining it; a stalled consumer
// stalls request replies too.
func (c *Client) Events() <-chan Event { return c.events }

// Done is closed when the link goes down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the link went down, or nil while it is up.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// StartScanning asks the server to look for new devices.
func (c *Client) StartScanning(ctx context.Context) error {
	_, err := c.request(ctx, Message{StartScanning: &StartScanning{}})
	return err
}

// StopScanning asks the server to stop looking for devices.
func (c *Client) StopScanning(ctx context.Context) error {
	_, err := c.request(ctx, Message{StopScanning: &StopScanning{}})
	return err
}

// RequestDeviceList returns every device the server currently knows about.
func (c *Client) RequestDeviceList(ctx context.Context) ([]DeviceInfo, error) {
	reply, err := c.request(ctx, Message{RequestDeviceList: &RequestDeviceList{}})
	if err != nil {
		return nil, err
	}
	if reply.DeviceList == nil {
		return nil, &ProtocolError{Reason: "RequestDeviceList answered without DeviceList"}
	}
	return reply.DeviceList.Devices, nil
}

// Vibrate sets the speed of the given motors of one device.
func (c *Client) Vibrate(ctx context.Context, device uint32, speeds map[uint32]float64) error {
	cmd := &VibrateCmd{DeviceIndex: device, Speeds: make([]VibrateSpeed, 0, len(speeds))}
	for idx, s := range speeds {
		cmd.Speeds = append(cmd.Speeds, VibrateSpeed{Index: idx, Speed: s})
	}
	sort.Slice(cmd.Speeds, func(i, j int) bool { return cmd.Speeds[i].Index < cmd.Speeds[j].Index })

	_, err := c.request(ctx, Message{VibrateCmd: cmd})
	return err
}

// StopAllDevices stops every motor on every device the server controls.
func (c *Client) StopAllDevices(ctx context.Context) error {
	_, err := c.request(ctx, Message{StopAllDevices: &StopAllDevices{}})
	return err
}

// Close performs a normal websocket closure and waits for the read loop to
// exit. Closing an already dropped link is not an error.
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}

	err := c.conn.Close(websocket.StatusNormalClosure, "disconnect")
	if err != nil {
		_ = c.conn.CloseNow()
	}
	<-c.done

	if err != nil {
		return fmt.Errorf("buttplug: close: %w", err)
	}
	return nil
}

// request sends m with a fresh id and waits for the matching reply. Error
// replies are returned as *ServerError. Note that cancelling ctx while the
// frame is being written tears the whole link down.
func (c *Client) request(ctx context.Context, m Message) (Message, error) {
	id := c.nextID.Add(1)
	m.setID(id)

	ch := make(chan Message, 1)

	c.mu.Lock()
	if c.pending == nil {
		err := c.err
		c.mu.Unlock()
		return Message{}, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	data, err := Encode(m)
	if err != nil {
		return Message{}, err
	}

	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return Message{}, fmt.Errorf("buttplug: write: %w", err)
	}

	select {
	case reply := <-ch:
		if reply.Error != nil {
			return reply, FromError(*reply.Error)
		}
		return reply, nil
	case <-c.done:
		return Message{}, c.Err()
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *Client) readLoop() {
	var err error

	for {
		var data []byte
		_, data, err = c.conn.Read(c.ctx)
		if err != nil {
			break
		}

		msgs, derr := Decode(data)
		if derr != nil {
			c.log.Warn("buttplug: dropping malformed frame", "err", derr)
			c.emit(Event{Kind: EventError, Err: derr})
			continue
		}

		for _, m := range msgs {
			c.route(m)
		}
	}

	c.shutdown(err)
}

// route delivers replies to their waiting request and turns id-0 messages
// into events.
func (c *Client) route(m Message) {
	if id := m.ID(); id != 0 {
		c.mu.Lock()
		ch, ok := c.pending[id]
		c.mu.Unlock()

		if !ok {
			c.log.Debug("buttplug: reply for unknown request", "id", id)
			return
		}

		select {
		case ch <- m:
		default:
		}
		return
	}

	switch {
	case m.DeviceAdded != nil:
		c.emit(Event{Kind: EventDeviceAdded, Device: m.DeviceAdded.DeviceInfo})
	case m.DeviceRemoved != nil:
		c.emit(Event{Kind: EventDeviceRemoved, Device: DeviceInfo{DeviceIndex: m.DeviceRemoved.DeviceIndex}})
	case m.ScanningFinished != nil:
		c.emit(Event{Kind: EventScanningFinished})
	case m.Error != nil:
		c.emit(Event{Kind: EventError, Err: FromError(*m.Error)})
	default:
		c.log.Debug("buttplug: ignoring unsolicited message")
	}
}

func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	case <-c.ctx.Done():
	}
}

// shutdown runs once, from the read loop, after the link is gone.
func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if cause == nil || websocket.CloseStatus(cause) == websocket.StatusNormalClosure {
		c.err = ErrClosed
	} else {
		c.err = fmt.Errorf("%w: %v", ErrClosed, cause)
	}
	c.pending = nil
	c.mu.Unlock()

	c.cancel()
	close(c.events)
	close(c.done)
}

func (c *Client) pingLoop(interval time.Duration) {
	if interval <= 0 {
		interval = time.Millisecond
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			if _, err := c.request(c.ctx, Message{Ping: &Ping{}}); err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.log.Warn("buttplug: ping failed", "err", err)
			}
		}
	}
}
