package roomchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/vovakirdan/roomchat-sdk-go/roomchat/internal"
)

// WebSocketDialer opens transports to a chat server over WebSocket.
type WebSocketDialer struct {
	cfg    Config
	logger Logger
}

// NewWebSocketDialer constructs a dialer for cfg.URL.
func NewWebSocketDialer(cfg Config) *WebSocketDialer {
	return &WebSocketDialer{cfg: cfg, logger: noopLogger{}}
}

// SetLogger overrides logger (optional).
func (d *WebSocketDialer) SetLogger(l Logger) {
	if l == nil {
		return
	}
	d.logger = l
}

// Dial starts connecting in the background and returns at once.
// h.OnReady fires after the handshake; a failed handshake fires h.OnClose.
func (d *WebSocketDialer) Dial(_ context.Context, h TransportHandlers) (Transport, error) {
	if d.cfg.URL == "" {
		return nil, errors.New("empty URL")
	}
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t := &wsTransport{
		cfg:     d.cfg,
		logger:  d.logger,
		h:       h,
		cancel:  cancel,
		writeCh: make(chan Request, 16),
		pending: make(map[string]chan Reply),
		done:    make(chan struct{}),
	}
	go t.run(runCtx, u.String())
	return t, nil
}

type wsTransport struct {
	cfg     Config
	logger  Logger
	h       TransportHandlers
	cancel  context.CancelFunc
	writeCh chan Request
	done    chan struct{}

	mu       sync.Mutex
	conn     *internal.Conn
	pending  map[string]chan Reply
	closed   bool
	explicit bool
	cause    error
}

func (t *wsTransport) run(ctx context.Context, rawURL string) {
	dialCtx := ctx
	if t.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
		defer cancel()
	}

	ws, _, err := websocket.Dial(dialCtx, rawURL, nil)
	if err != nil {
		t.shutdown(fmt.Errorf("dial: %w", err))
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = ws.Close(websocket.StatusNormalClosure, "client close")
		return
	}
	t.conn = internal.NewConn(ws, t.cfg.ReadTimeout, t.cfg.WriteTimeout)
	t.mu.Unlock()

	go t.writeLoop(ctx)
	if t.cfg.PingInterval > 0 {
		go t.pingLoop(ctx)
	}
	if t.h.OnReady != nil {
		t.h.OnReady()
	}
	t.readLoop(ctx)
}

func (t *wsTransport) CreateRoom(ctx context.Context, nickname, icon string) (string, error) {
	data, err := t.request(ctx, TypeCreateSession, CreateSessionPayload{UserNickname: nickname, UserIcon: icon})
	if err != nil {
		return "", err
	}
	var res CreateSessionResult
	if err := json.Unmarshal(data, &res); err != nil {
		return "", fmt.Errorf("decode createSession reply: %w", err)
	}
	if res.RoomID == "" {
		return "", errors.New("server returned an empty room id")
	}
	return res.RoomID, nil
}

func (t *wsTransport) JoinRoom(ctx context.Context, nickname, roomID, icon string) ([]ChatMessage, error) {
	data, err := t.request(ctx, TypeJoinSession, JoinSessionPayload{RoomID: roomID, UserNickname: nickname, UserIcon: icon})
	if err != nil {
		return nil, err
	}
	var res JoinSessionResult
	if len(data) > 0 {
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("decode joinSession reply: %w", err)
		}
	}
	if res.Messages == nil {
		res.Messages = []ChatMessage{}
	}
	return res.Messages, nil
}

func (t *wsTransport) Send(ctx context.Context, msgType string, payload any) error {
	return t.enqueue(ctx, Request{Type: msgType, Data: payload})
}

// Close shuts the transport down without reporting OnClose.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	t.explicit = true
	t.mu.Unlock()
	t.shutdown(nil)
	return nil
}

func (t *wsTransport) request(ctx context.Context, msgType string, data any) (json.RawMessage, error) {
	id := uuid.NewString()
	replyCh := make(chan Reply, 1)

	t.mu.Lock()
	if t.closed {
		err := t.closedErrLocked()
		t.mu.Unlock()
		return nil, err
	}
	t.pending[id] = replyCh
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.enqueue(ctx, Request{Type: msgType, Data: data, CallbackID: id}); err != nil {
		return nil, err
	}

	select {
	case rep := <-replyCh:
		if rep.Error != nil {
			return nil, rep.Error
		}
		return rep.Data, nil
	case <-t.done:
		t.mu.Lock()
		err := t.closedErrLocked()
		t.mu.Unlock()
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *wsTransport) enqueue(ctx context.Context, req Request) error {
	select {
	case <-t.done:
		t.mu.Lock()
		err := t.closedErrLocked()
		t.mu.Unlock()
		return err
	default:
	}

	select {
	case t.writeCh <- req:
		return nil
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *wsTransport) readLoop(ctx context.Context) {
	for {
		raw, err := t.conn.ReadFrame(ctx)
		if err != nil {
			if isExpectedDisconnect(ctx, err) {
				t.logger.Debug("read loop exit", map[string]any{"error": err.Error()})
			} else {
				t.logger.Warn("read loop exit", map[string]any{"error": err.Error()})
			}
			t.shutdown(err)
			return
		}
		t.route(raw)
	}
}

// route resolves replies by callbackId and hands everything else to OnMessage.
func (t *wsTransport) route(raw json.RawMessage) {
	if len(raw) > 0 && raw[0] == '{' {
		var rep Reply
		if err := json.Unmarshal(raw, &rep); err == nil && rep.CallbackID != "" {
			t.mu.Lock()
			ch, ok := t.pending[rep.CallbackID]
			t.mu.Unlock()
			if !ok {
				t.logger.Debug("reply for unknown request", map[string]any{"callbackId": rep.CallbackID})
				return
			}
			select {
			case ch <- rep:
			default:
			}
			return
		}
	}
	if t.h.OnMessage != nil {
		t.h.OnMessage(raw)
	}
}

func (t *wsTransport) writeLoop(ctx context.Context) {
	for {
		select {
		case req := <-t.writeCh:
			if err := t.conn.Write(ctx, req); err != nil {
				if !isExpectedDisconnect(ctx, err) {
					t.logger.Warn("write loop exit", map[string]any{"error": err.Error()})
				}
				t.shutdown(err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (t *wsTransport) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.conn.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				t.logger.Warn("ping failed", map[string]any{"error": err.Error()})
				t.shutdown(fmt.Errorf("ping: %w", err))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// shutdown runs once: it fails pending requests, closes the socket and,
// unless Close was called, reports OnClose.
func (t *wsTransport) shutdown(cause error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.cause = cause
	conn := t.conn
	explicit := t.explicit
	t.mu.Unlock()

	t.cancel()
	close(t.done)
	if conn != nil {
		if explicit {
			_ = conn.Close(websocket.StatusNormalClosure, "client close")
		} else {
			_ = conn.Close(websocket.StatusGoingAway, "connection lost")
		}
	}
	if !explicit && t.h.OnClose != nil {
		t.h.OnClose(cause)
	}
}

func (t *wsTransport) closedErrLocked() error {
	if t.cause == nil {
		return ErrTransportClosed
	}
	return fmt.Errorf("%w: %v", ErrTransportClosed, t.cause)
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
