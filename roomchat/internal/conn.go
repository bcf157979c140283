package internal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Conn wraps websocket.Conn with per-operation timeouts.
type Conn struct {
	ws           *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func NewConn(ws *websocket.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{ws: ws, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

// ReadFrame returns the next JSON frame undecoded.
func (c *Conn) ReadFrame(ctx context.Context) (json.RawMessage, error) {
	if c.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.readTimeout)
		defer cancel()
	}
	var raw json.RawMessage
	if err := wsjson.Read(ctx, c.ws, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Conn) Write(ctx context.Context, v any) error {
	ctx, cancel := c.writeContext(ctx)
	defer cancel()
	return wsjson.Write(ctx, c.ws, v)
}

// Ping waits for the matching pong; a read loop must be running.
func (c *Conn) Ping(ctx context.Context) error {
	ctx, cancel := c.writeContext(ctx)
	defer cancel()
	return c.ws.Ping(ctx)
}

func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}

func (c *Conn) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.writeTimeout > 0 {
		return context.WithTimeout(ctx, c.writeTimeout)
	}
	return context.WithCancel(ctx)
}
