// Package stream opens per-request token streams against the chat server.
//
// Every transport honours the same contract: a connection starts in
// StateConnecting, moves to StateOpen once the handshake succeeds, and ends in
// StateClosed. Handler.OnClose fires exactly once per connection, always from
// the connection's own goroutine, no matter how many times Close is called or
// which side ended the stream.
package stream

import (
	"context"

	"github.com/gorilla/websocket"
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close codes reported through Handler.OnClose. Non-websocket transports map
// their terminal conditions onto the same values.
const (
	CloseNormal          = websocket.CloseNormalClosure
	CloseUnsupportedData = websocket.CloseUnsupportedData
	CloseNoStatus        = websocket.CloseNoStatusReceived
	CloseAbnormal        = websocket.CloseAbnormalClosure
	CloseInternalError   = websocket.CloseInternalServerErr
)

// Handler receives lifecycle events of a single connection. Calls for one
// connection are never concurrent and tokens arrive in delivery order.
type Handler interface {
	OnOpen()
	OnToken(token string)
	// OnError reports a transport failure. A close always follows.
	OnError(err error)
	OnClose(code int)
}

// Conn is one streaming request.
type Conn interface {
	State() State
	// Close asks the transport to terminate. It is idempotent, safe in any
	// state, and does not wait for OnClose.
	Close()
	// Done is closed after OnClose has returned.
	Done() <-chan struct{}
}

// Dialer opens a stream for prompt. Open returns immediately; the handshake
// runs in the background and is abandoned when ctx is cancelled.
type Dialer interface {
	Open(ctx context.Context, prompt string, h Handler) Conn
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are no-ops.
type HandlerFuncs struct {
	Open  func()
	Token func(token string)
	Error func(err error)
	Close func(code int)
}

func (f HandlerFuncs) OnOpen() {
	if f.Open != nil {
		f.Open()
	}
}

func (f HandlerFuncs) OnToken(token string) {
	if f.Token != nil {
		f.Token(token)
	}
}

func (f HandlerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f HandlerFuncs) OnClose(code int) {
	if f.Close != nil {
		f.Close(code)
	}
}
