// Package buttplug implements the client side of the Buttplug device-control
// protocol (message spec v2) over a websocket link. A Client performs the
// RequestServerInfo handshake, correlates request ids with server replies,
// keeps the link alive with pings when the server asks for them, and surfaces
// unsolicited server notifications (device added/removed, scanning finished,
// errors) on an event channel.
package buttplug
