package roomchat

import (
	"context"
	"errors"
)

// ErrTransportClosed is returned for requests on a transport that has shut down.
var ErrTransportClosed = errors.New("roomchat: transport closed")

// TransportHandlers receive transport events. OnClose is called at most
// once, and not after an explicit Close.
type TransportHandlers struct {
	OnReady   func()
	OnClose   func(err error)
	OnMessage func(payload []byte)
}

// Dialer constructs transports. Dial must not block until the
// connection is ready; readiness is reported through OnReady.
type Dialer interface {
	Dial(ctx context.Context, h TransportHandlers) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, h TransportHandlers) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, h TransportHandlers) (Transport, error) {
	return f(ctx, h)
}

// Transport is one live connection to the chat server.
type Transport interface {
	CreateRoom(ctx context.Context, nickname, icon string) (string, error)
	JoinRoom(ctx context.Context, nickname, roomID, icon string) ([]ChatMessage, error)
	// Send is fire-and-forget; no acknowledgement is awaited.
	Send(ctx context.Context, msgType string, payload any) error
	Close() error
}
