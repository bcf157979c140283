package roomchat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock only moves when Advance is called. AfterFunc callbacks run
// synchronously inside Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	when    time.Time
	ch      chan time.Time
	fn      func()
	done    bool
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	return c.add(d, nil)
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.add(d, f)
}

func (c *fakeClock) add(d time.Duration, f func()) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, when: c.now.Add(d), ch: make(chan time.Time, 1), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.done || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and fires every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.done && !t.stopped && !t.when.After(now) {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		if t.fn != nil {
			t.fn()
		} else {
			t.ch <- now
		}
	}
}

// pendingFuncs counts armed AfterFunc timers.
func (c *fakeClock) pendingFuncs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.fn != nil && !t.done && !t.stopped {
			n++
		}
	}
	return n
}

// pendingTimers counts armed channel timers.
func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.fn == nil && !t.done && !t.stopped {
			n++
		}
	}
	return n
}

type dialMode int

const (
	dialReady  dialMode = iota // OnReady fires during Dial
	dialFail                   // OnClose fires during Dial
	dialSilent                 // neither fires
)

type fakeDialer struct {
	mu         sync.Mutex
	mode       dialMode
	roomID     string
	history    []ChatMessage
	createErr  error
	joinErr    error
	sendErr    error
	hang       bool // room calls block until ctx is done
	transports []*fakeTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{roomID: "room-1"}
}

func (d *fakeDialer) Dial(_ context.Context, h TransportHandlers) (Transport, error) {
	d.mu.Lock()
	t := &fakeTransport{
		h:         h,
		roomID:    d.roomID,
		history:   d.history,
		createErr: d.createErr,
		joinErr:   d.joinErr,
		sendErr:   d.sendErr,
		hang:      d.hang,
	}
	d.transports = append(d.transports, t)
	mode := d.mode
	d.mu.Unlock()

	switch mode {
	case dialReady:
		h.OnReady()
	case dialFail:
		h.OnClose(errors.New("connection refused"))
	}
	return t, nil
}

func (d *fakeDialer) set(fn func(d *fakeDialer)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

type sentFrame struct {
	Type    string
	Payload any
}

type fakeTransport struct {
	h TransportHandlers

	mu        sync.Mutex
	roomID    string
	history   []ChatMessage
	createErr error
	joinErr   error
	sendErr   error
	hang      bool
	sent      []sentFrame
	joins     []JoinSessionPayload
	closed    bool
}

func (t *fakeTransport) CreateRoom(ctx context.Context, _, _ string) (string, error) {
	if t.hanging() {
		<-ctx.Done()
		return "", ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.createErr != nil {
		return "", t.createErr
	}
	return t.roomID, nil
}

func (t *fakeTransport) JoinRoom(ctx context.Context, nickname, roomID, icon string) ([]ChatMessage, error) {
	t.mu.Lock()
	t.joins = append(t.joins, JoinSessionPayload{RoomID: roomID, UserNickname: nickname, UserIcon: icon})
	t.mu.Unlock()
	if t.hanging() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.joinErr != nil {
		return nil, t.joinErr
	}
	return t.history, nil
}

func (t *fakeTransport) Send(_ context.Context, msgType string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, sentFrame{Type: msgType, Payload: payload})
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) hanging() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hang
}

// setJoinErr makes later joins on this transport fail.
func (t *fakeTransport) setJoinErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joinErr = err
}

func (t *fakeTransport) setCreateErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.createErr = err
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// drop simulates the server going away.
func (t *fakeTransport) drop() {
	t.h.OnClose(errors.New("connection reset by peer"))
}

func (t *fakeTransport) deliver(raw string) {
	t.h.OnMessage([]byte(raw))
}

// recorder captures every callback.
type recorder struct {
	mu       sync.Mutex
	messages []ChatMessage
	lists    [][]ChatMessage
	typing   []TypingState
	conn     []bool
	states   []StateEvent
	created  []string
	joined   [][]ChatMessage
	errs     []*AppError
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnMessage:          func(m ChatMessage) { r.with(func() { r.messages = append(r.messages, m) }) },
		OnMessageList:      func(ms []ChatMessage) { r.with(func() { r.lists = append(r.lists, ms) }) },
		OnTypingUpdate:     func(ts TypingState) { r.with(func() { r.typing = append(r.typing, ts) }) },
		OnConnectionChange: func(c bool) { r.with(func() { r.conn = append(r.conn, c) }) },
		OnStateChange:      func(ev StateEvent) { r.with(func() { r.states = append(r.states, ev) }) },
		OnRoomCreated:      func(id string) { r.with(func() { r.created = append(r.created, id) }) },
		OnRoomJoined:       func(h []ChatMessage) { r.with(func() { r.joined = append(r.joined, h) }) },
		OnError:            func(e *AppError) { r.with(func() { r.errs = append(r.errs, e) }) },
	}
}

func (r *recorder) with(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

func (r *recorder) connEvents() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.conn...)
}

func (r *recorder) errors() []*AppError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*AppError(nil), r.errs...)
}

func (r *recorder) joinedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.joined)
}

func (r *recorder) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// waitFor polls cond in real time.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func equalBools(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
