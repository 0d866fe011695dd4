package buttplug

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by requests issued after the link went down.
var ErrClosed = errors.New("buttplug: connection closed")

// ErrorCode is the error class carried by a server Error message.
type ErrorCode int

const (
	ErrorUnknown   ErrorCode = 0
	ErrorHandshake ErrorCode = 1
	ErrorPing      ErrorCode = 2
	ErrorMessage   ErrorCode = 3
	ErrorDevice    ErrorCode = 4
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorUnknown:
		return "unknown"
	case ErrorHandshake:
		return "handshake"
	case ErrorPing:
		return "ping"
	case ErrorMessage:
		return "message"
	case ErrorDevice:
		return "device"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// ConnectorError reports that the transport or the handshake to the control
// server could not be established.
type ConnectorError struct {
	Addr string
	Err  error
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("buttplug: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectorError) Unwrap() error { return e.Err }

// ProtocolError reports a frame from the server that could not be understood.
type ProtocolError struct {
	Reason string
	Frame  string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("buttplug: protocol: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("buttplug: protocol: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ServerError is an Error message reported by the server, either as the reply
// to a request or as an unsolicited notification.
type ServerError struct {
	Code    ErrorCode
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("buttplug: server %s error: %s", e.Code, e.Message)
}

// FromError converts a wire Error message into a *ServerError.
func FromError(m Error) *ServerError {
	return &ServerError{Code: m.ErrorCode, Message: m.ErrorMessage}
}
