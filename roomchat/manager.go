package roomchat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/vovakirdan/roomchat-sdk-go/roomchat/session"
)

// MaxNicknameLength is the longest accepted nickname, in characters.
const MaxNicknameLength = 50

// SessionStore persists the last room so it can be restored later.
// *session.Store satisfies it.
type SessionStore interface {
	Save(session.Session)
	Load() (session.Session, bool)
	Clear()
}

// Manager owns one chat connection: it opens the transport, tracks
// connection state, reconnects after drops and restores saved sessions.
//
// Create one Manager per chat session. Concurrent CreateRoom/JoinRoom
// calls on the same Manager are not supported. Callbacks run on the
// transport's goroutines and must not block.
type Manager struct {
	cfg    Config
	dialer Dialer
	store  SessionStore
	clock  Clock
	logger Logger
	id     string

	mu         sync.Mutex
	dispatcher *Dispatcher
	transport  Transport
	gen        uint64 // identifies the live transport; bumped on teardown
	state      ConnectionState
	busy       int // room operations or reconnect attempts in flight

	roomID   string
	nickname string
	icon     string
	userID   string

	policy          *reconnectPolicy
	timer           Timer
	epoch           uint64 // bumped whenever pending reconnection is cancelled
	reconnectCancel context.CancelFunc
}

// NewManager constructs a Manager. A nil dialer uses NewWebSocketDialer(cfg);
// a nil store disables session persistence.
func NewManager(cfg Config, dialer Dialer, store SessionStore) *Manager {
	if dialer == nil {
		dialer = NewWebSocketDialer(cfg)
	}
	id := uuid.NewString()
	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		store:  store,
		clock:  realClock{},
		logger: withFields(noopLogger{}, map[string]any{"managerId": id}),
		id:     id,
		policy: newReconnectPolicy(cfg),
	}
}

// SetLogger overrides logger (optional). Call before Initialize.
func (m *Manager) SetLogger(l Logger) {
	if l == nil {
		return
	}
	m.logger = withFields(l, map[string]any{"managerId": m.id})
	if d, ok := m.dialer.(*WebSocketDialer); ok {
		d.SetLogger(m.logger)
	}
}

// SetClock overrides the time source (optional). Call before Initialize.
func (m *Manager) SetClock(c Clock) {
	if c == nil {
		return
	}
	m.clock = c
}

// Initialize registers callbacks, replacing any earlier registration.
func (m *Manager) Initialize(cb Callbacks) {
	m.mu.Lock()
	m.dispatcher = newDispatcher(cb, m.logger)
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the transport is ready.
func (m *Manager) IsConnected() bool { return m.State() == StateConnected }

// RoomID returns the current room, or "" when not in one.
func (m *Manager) RoomID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomID
}

// Nickname returns the validated nickname used in the current room.
func (m *Manager) Nickname() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nickname
}

// UserID returns the id the server assigned to this client, if any.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// CreateRoom opens a connection if needed, creates a room and returns its id.
// On failure the connection is torn down and the *AppError is both
// returned and passed to OnError.
func (m *Manager) CreateRoom(ctx context.Context, nickname, icon string) (string, error) {
	d, err := m.initialized()
	if err != nil {
		return "", err
	}
	nick, verr := validateNickname(nickname)
	if verr != nil {
		d.fireError(verr)
		return "", verr
	}

	epoch := m.beginOp()
	t, gen, err := m.open(ctx)
	if err != nil {
		m.failOp(epoch, gen)
		appErr := classify(err, "failed to create room")
		d.fireError(appErr)
		return "", appErr
	}

	replyCtx, cancel := m.replyContext(ctx)
	roomID, err := t.CreateRoom(replyCtx, nick, icon)
	cancel()
	if err != nil {
		m.failOp(epoch, gen)
		appErr := classify(err, "failed to create room")
		m.logger.Warn("create room failed", map[string]any{"error": err.Error()})
		d.fireError(appErr)
		return "", appErr
	}

	sess, terminal, ok := m.finishOp(epoch, gen, roomID, nick, icon)
	if !ok {
		appErr := classify(ErrTransportClosed, "failed to create room")
		d.fireError(appErr)
		return "", appErr
	}
	m.save(sess)
	m.logger.Info("room created", map[string]any{"roomId": roomID, "nickname": nick})
	d.roomCreated(roomID)
	d.fireError(terminal)
	return roomID, nil
}

// JoinRoom opens a connection if needed and joins roomID. The room's
// history is delivered through OnRoomJoined.
func (m *Manager) JoinRoom(ctx context.Context, roomID, nickname, icon string) error {
	return m.joinRoom(ctx, roomID, nickname, icon, true)
}

func (m *Manager) joinRoom(ctx context.Context, roomID, nickname, icon string, surface bool) error {
	d, err := m.initialized()
	if err != nil {
		return err
	}
	report := func(e *AppError) {
		if surface {
			d.fireError(e)
		}
	}

	room, verr := validateRoomID(roomID)
	if verr != nil {
		report(verr)
		return verr
	}
	nick, verr := validateNickname(nickname)
	if verr != nil {
		report(verr)
		return verr
	}

	epoch := m.beginOp()
	t, gen, err := m.open(ctx)
	if err != nil {
		m.failOp(epoch, gen)
		appErr := classify(err, "failed to join room")
		report(appErr)
		return appErr
	}

	replyCtx, cancel := m.replyContext(ctx)
	history, err := t.JoinRoom(replyCtx, nick, room, icon)
	cancel()
	if err != nil {
		m.failOp(epoch, gen)
		appErr := classify(err, "failed to join room")
		m.logger.Warn("join room failed", map[string]any{"roomId": room, "error": err.Error()})
		report(appErr)
		return appErr
	}

	sess, terminal, ok := m.finishOp(epoch, gen, room, nick, icon)
	if !ok {
		appErr := classify(ErrTransportClosed, "failed to join room")
		report(appErr)
		return appErr
	}
	m.save(sess)
	m.logger.Info("room joined", map[string]any{"roomId": room, "nickname": nick, "history": len(history)})
	d.roomJoined(history)
	d.fireError(terminal)
	return nil
}

// SendMessage publishes text to the current room without waiting for
// delivery confirmation.
func (m *Manager) SendMessage(ctx context.Context, text string) error {
	d, err := m.initialized()
	if err != nil {
		return err
	}

	m.mu.Lock()
	t := m.transport
	connected := m.state == StateConnected && t != nil
	m.mu.Unlock()

	if !connected {
		appErr := NewError(ErrorConnection, CodeNotConnected, "not connected to a room")
		d.fireError(appErr)
		return appErr
	}

	if err := t.Send(ctx, TypeSendMessage, SendMessagePayload{Body: text}); err != nil {
		appErr := WrapError(ErrorNetwork, CodeSendFailed, "failed to send message", err)
		d.fireError(appErr)
		return appErr
	}
	return nil
}

// SetTypingPresence announces whether the user is typing. Best effort:
// failures are logged and never reported.
func (m *Manager) SetTypingPresence(ctx context.Context, typing bool) {
	if _, err := m.initialized(); err != nil {
		return
	}

	m.mu.Lock()
	t := m.transport
	connected := m.state == StateConnected && t != nil
	m.mu.Unlock()

	if !connected {
		m.logger.Debug("typing presence skipped, not connected", nil)
		return
	}
	if err := t.Send(ctx, TypeSetTypingPresence, TypingPayload{Typing: typing}); err != nil {
		m.logger.Debug("typing presence failed", map[string]any{"error": err.Error()})
	}
}

// Disconnect tears down the connection, cancels pending reconnection and
// forgets the current room. The saved session is kept. Safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.cancelReconnectLocked()
	t := m.transport
	m.transport = nil
	m.gen++
	m.roomID, m.nickname, m.icon, m.userID = "", "", "", ""
	notify := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			m.logger.Debug("transport close failed", map[string]any{"error": err.Error()})
		}
		m.logger.Info("disconnected", nil)
	}
	notify()
}

// Logout disconnects and deletes the saved session.
func (m *Manager) Logout() {
	m.Disconnect()
	if m.store != nil {
		m.store.Clear()
	}
}

// RestoreSession rejoins the saved room, if any. It reports false, without
// calling OnError, when there is no valid session or the rejoin fails; a
// failed session is deleted.
func (m *Manager) RestoreSession(ctx context.Context) (session.Session, bool) {
	if _, err := m.initialized(); err != nil || m.store == nil {
		return session.Session{}, false
	}
	sess, ok := m.store.Load()
	if !ok {
		return session.Session{}, false
	}

	m.mu.Lock()
	m.userID = sess.UserID
	m.mu.Unlock()

	if err := m.joinRoom(ctx, sess.RoomID, sess.Nickname, sess.UserIcon, false); err != nil {
		m.logger.Info("saved session could not be restored", map[string]any{"roomId": sess.RoomID, "error": err.Error()})
		m.mu.Lock()
		m.userID = ""
		m.mu.Unlock()
		m.store.Clear()
		return session.Session{}, false
	}
	return sess, true
}

func (m *Manager) initialized() (*Dispatcher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dispatcher == nil {
		return nil, ErrNotInitialized
	}
	return m.dispatcher, nil
}

// beginOp marks an explicit room operation; it supersedes any pending
// reconnection. The returned epoch changes if Disconnect runs meanwhile.
func (m *Manager) beginOp() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelReconnectLocked()
	m.busy++
	return m.epoch
}

// failOp ends a room operation that failed. The connection is closed
// and the previous room forgotten, unless Disconnect already ran.
func (m *Manager) failOp(epoch, gen uint64) {
	m.teardown(gen)
	m.mu.Lock()
	m.busy--
	if m.epoch == epoch {
		m.roomID, m.nickname, m.icon = "", "", ""
	}
	m.mu.Unlock()
}

// replyContext bounds the wait for a create or join reply by ConnectTimeout.
func (m *Manager) replyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.ConnectTimeout > 0 {
		return context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	}
	return context.WithCancel(ctx)
}

// finishOp records the room after a successful operation. It reports
// false if Disconnect ran while the operation was in flight. If the
// transport dropped meanwhile, reconnection is scheduled here since
// handleClose deferred it.
func (m *Manager) finishOp(epoch, gen uint64, roomID, nick, icon string) (session.Session, *AppError, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy--
	if m.epoch != epoch {
		return session.Session{}, nil, false
	}
	m.roomID, m.nickname, m.icon = roomID, nick, icon

	var terminal *AppError
	if m.gen != gen && m.state == StateDisconnected && m.busy == 0 && m.cfg.AutoReconnect {
		terminal = m.scheduleReconnectLocked()
	}
	return m.sessionLocked(), terminal, true
}

// open returns the live transport, dialing a new one if not connected,
// and waits for readiness bounded by ConnectTimeout and ctx.
func (m *Manager) open(ctx context.Context) (Transport, uint64, error) {
	m.mu.Lock()
	if m.state == StateConnected && m.transport != nil {
		t, gen := m.transport, m.gen
		m.mu.Unlock()
		return t, gen, nil
	}
	if m.state == StateConnecting {
		m.mu.Unlock()
		return nil, 0, NewError(ErrorConnection, "", "a connection attempt is already in progress")
	}
	old := m.transport
	m.transport = nil
	m.gen++
	gen := m.gen
	notify := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	notify()

	ready := make(chan struct{})
	closed := make(chan error, 1)
	var readyOnce sync.Once
	h := TransportHandlers{
		OnReady: func() { readyOnce.Do(func() { close(ready) }) },
		OnClose: func(err error) {
			m.handleClose(gen, err)
			select {
			case closed <- err:
			default:
			}
		},
		OnMessage: func(payload []byte) { m.handleMessage(gen, payload) },
	}

	t, err := m.dialer.Dial(ctx, h)
	if err != nil {
		m.teardown(gen)
		return nil, gen, err
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		_ = t.Close()
		return nil, gen, ErrTransportClosed
	}
	m.transport = t
	m.mu.Unlock()

	var timeout <-chan time.Time
	if m.cfg.ConnectTimeout > 0 {
		timer := m.clock.NewTimer(m.cfg.ConnectTimeout)
		defer timer.Stop()
		timeout = timer.C()
	}

	select {
	case <-ready:
	case cause := <-closed:
		m.teardown(gen)
		if cause == nil {
			return nil, gen, ErrTransportClosed
		}
		return nil, gen, fmt.Errorf("%w: %v", ErrTransportClosed, cause)
	case <-timeout:
		m.teardown(gen)
		return nil, gen, WrapError(ErrorNetwork, CodeTimeout,
			fmt.Sprintf("connection timed out after %s, check your network and retry", m.cfg.ConnectTimeout),
			context.DeadlineExceeded)
	case <-ctx.Done():
		m.teardown(gen)
		return nil, gen, ctx.Err()
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return nil, gen, ErrTransportClosed
	}
	notify = m.setStateLocked(StateConnected)
	m.mu.Unlock()
	notify()

	m.logger.Debug("transport ready", map[string]any{"generation": gen})
	return t, gen, nil
}

// teardown closes the transport of generation gen, if it is still current.
func (m *Manager) teardown(gen uint64) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	t := m.transport
	m.transport = nil
	m.gen++
	notify := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	notify()
}

func (m *Manager) handleClose(gen uint64, cause error) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.transport = nil
	m.gen++
	notify := m.setStateLocked(StateDisconnected)

	var terminal *AppError
	if prev == StateConnected && m.busy == 0 && m.cfg.AutoReconnect {
		terminal = m.scheduleReconnectLocked()
	}
	d := m.dispatcher
	m.mu.Unlock()

	fields := map[string]any{"state": prev.String()}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	m.logger.Warn("transport closed", fields)

	notify()
	if d != nil {
		d.fireError(terminal)
	}
}

func (m *Manager) handleMessage(gen uint64, payload []byte) {
	m.mu.Lock()
	if m.gen != gen || m.dispatcher == nil {
		m.mu.Unlock()
		return
	}
	d := m.dispatcher
	m.mu.Unlock()

	in, err := Normalize(payload)
	if err != nil {
		m.logger.Warn("failed to process message", map[string]any{"error": err.Error()})
		d.fireError(WrapError(ErrorUnknown, CodeMessageProcessing, "failed to process message", err))
		return
	}

	switch in.Kind {
	case KindUserID:
		m.mu.Lock()
		m.userID = in.UserID
		sess := m.sessionLocked()
		m.mu.Unlock()
		m.logger.Debug("user id assigned", map[string]any{"userId": in.UserID})
		m.save(sess)
	case KindTyping:
		m.mu.Lock()
		userID, nick := m.userID, m.nickname
		m.mu.Unlock()
		in.Typing = filterSelf(in.Typing, userID, nick)
		d.Dispatch(in)
	default:
		d.Dispatch(in)
	}
}

// scheduleReconnectLocked arms the next attempt. It returns the terminal
// error, once, when the attempt budget is spent.
func (m *Manager) scheduleReconnectLocked() *AppError {
	delay, ok := m.policy.next()
	if !ok {
		if !m.policy.exhaust() {
			return nil
		}
		m.logger.Error("reconnection abandoned", map[string]any{"attempts": m.policy.attempts})
		e := NewError(ErrorConnection, CodeReconnectExhausted,
			fmt.Sprintf("unable to reconnect after %d attempts, please restart the session", m.policy.attempts))
		e.Recoverable = false
		return e
	}

	epoch := m.epoch
	attempt := m.policy.attempts
	m.timer = m.clock.AfterFunc(delay, func() { m.reconnect(epoch, attempt) })
	m.logger.Info("reconnect scheduled", map[string]any{"attempt": attempt, "delay": delay.String()})
	return nil
}

func (m *Manager) cancelReconnectLocked() {
	m.epoch++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.reconnectCancel != nil {
		m.reconnectCancel()
		m.reconnectCancel = nil
	}
	m.policy.reset()
}

func (m *Manager) reconnect(epoch uint64, attempt int) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	ctx, cancel := context.WithCancel(context.Background())
	m.reconnectCancel = cancel
	m.busy++
	room, nick, icon := m.roomID, m.nickname, m.icon
	d := m.dispatcher
	m.mu.Unlock()
	defer cancel()

	m.logger.Info("reconnecting", map[string]any{"attempt": attempt, "roomId": room})

	history, gen, err := m.rejoin(ctx, room, nick, icon)
	if err != nil {
		m.teardown(gen)
	}

	m.mu.Lock()
	m.busy--
	if epoch != m.epoch {
		// Disconnect or an explicit room operation took over.
		m.mu.Unlock()
		return
	}
	m.reconnectCancel = nil
	if err == nil && (m.gen != gen || m.state != StateConnected) {
		err = ErrTransportClosed
	}
	if err != nil {
		m.logger.Warn("reconnect attempt failed", map[string]any{"attempt": attempt, "error": err.Error()})
		var terminal *AppError
		if appErr := classify(err, "failed to rejoin room"); !appErr.Recoverable {
			m.logger.Error("reconnection abandoned", map[string]any{"attempt": attempt, "code": appErr.Code})
			m.policy.reset()
			m.roomID, m.nickname, m.icon = "", "", ""
			terminal = appErr
		} else {
			terminal = m.scheduleReconnectLocked()
		}
		m.mu.Unlock()
		if d != nil {
			d.fireError(terminal)
		}
		return
	}
	m.policy.reset()
	sess := m.sessionLocked()
	m.mu.Unlock()

	m.logger.Info("reconnected", map[string]any{"attempt": attempt, "roomId": room})
	if room == "" {
		return
	}
	m.save(sess)
	if d != nil {
		d.roomJoined(history)
	}
}

// rejoin opens a transport and, when a room is known, joins it again so
// the history is re-fetched.
func (m *Manager) rejoin(ctx context.Context, room, nick, icon string) ([]ChatMessage, uint64, error) {
	t, gen, err := m.open(ctx)
	if err != nil {
		return nil, gen, err
	}
	if room == "" || nick == "" {
		return nil, gen, nil
	}
	ctx, cancel := m.replyContext(ctx)
	defer cancel()
	history, err := t.JoinRoom(ctx, nick, room, icon)
	return history, gen, err
}

// setStateLocked records s and returns the notifications to deliver
// once m.mu is released.
func (m *Manager) setStateLocked(s ConnectionState) func() {
	old := m.state
	if old == s {
		return func() {}
	}
	m.state = s
	d := m.dispatcher
	if d == nil {
		return func() {}
	}
	return func() {
		d.stateChanged(StateEvent{OldState: old, NewState: s})
		if (old == StateConnected) != (s == StateConnected) {
			d.connectionChanged(s == StateConnected)
		}
	}
}

func (m *Manager) sessionLocked() session.Session {
	return session.Session{
		RoomID:   m.roomID,
		Nickname: m.nickname,
		UserIcon: m.icon,
		UserID:   m.userID,
	}
}

func (m *Manager) save(sess session.Session) {
	if m.store == nil || sess.RoomID == "" || sess.Nickname == "" {
		return
	}
	m.store.Save(sess)
}

func validateNickname(nickname string) (string, *AppError) {
	nick := strings.TrimSpace(nickname)
	if nick == "" {
		return "", NewError(ErrorValidation, CodeNicknameRequired, "nickname cannot be empty")
	}
	if utf8.RuneCountInString(nick) > MaxNicknameLength {
		return "", NewError(ErrorValidation, CodeNicknameTooLong,
			fmt.Sprintf("nickname is too long (max %d characters)", MaxNicknameLength))
	}
	return nick, nil
}

func validateRoomID(roomID string) (string, *AppError) {
	room := strings.TrimSpace(roomID)
	if room == "" {
		return "", NewError(ErrorValidation, CodeRoomIDRequired, "room id cannot be empty")
	}
	return room, nil
}
