package roomchat

import "fmt"

// Dispatcher routes SDK events to the registered callbacks.
type Dispatcher struct {
	cb     Callbacks
	logger Logger
}

func newDispatcher(cb Callbacks, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{cb: cb, logger: logger}
}

// Dispatch delivers a classified payload. KindUserID is not caller-visible.
func (d *Dispatcher) Dispatch(in Inbound) {
	switch in.Kind {
	case KindMessage:
		d.message(in.Message)
	case KindMessageList:
		d.messageList(in.Messages)
	case KindTyping:
		d.typing(in.Typing)
	}
}

func (d *Dispatcher) message(msg ChatMessage) {
	if d.cb.OnMessage == nil {
		return
	}
	d.call("OnMessage", func() { d.cb.OnMessage(msg) })
}

func (d *Dispatcher) messageList(msgs []ChatMessage) {
	if d.cb.OnMessageList == nil {
		return
	}
	d.call("OnMessageList", func() { d.cb.OnMessageList(msgs) })
}

func (d *Dispatcher) typing(ts TypingState) {
	if d.cb.OnTypingUpdate == nil {
		return
	}
	d.call("OnTypingUpdate", func() { d.cb.OnTypingUpdate(ts) })
}

func (d *Dispatcher) connectionChanged(connected bool) {
	if d.cb.OnConnectionChange == nil {
		return
	}
	d.call("OnConnectionChange", func() { d.cb.OnConnectionChange(connected) })
}

func (d *Dispatcher) stateChanged(ev StateEvent) {
	if d.cb.OnStateChange == nil {
		return
	}
	d.call("OnStateChange", func() { d.cb.OnStateChange(ev) })
}

func (d *Dispatcher) roomCreated(roomID string) {
	if d.cb.OnRoomCreated == nil {
		return
	}
	d.call("OnRoomCreated", func() { d.cb.OnRoomCreated(roomID) })
}

func (d *Dispatcher) roomJoined(history []ChatMessage) {
	if d.cb.OnRoomJoined == nil {
		return
	}
	d.call("OnRoomJoined", func() { d.cb.OnRoomJoined(history) })
}

func (d *Dispatcher) fireError(err *AppError) {
	if d.cb.OnError == nil || err == nil {
		return
	}
	d.call("OnError", func() { d.cb.OnError(err) })
}

// call runs a callback; a panic in caller code must not take down the read loop.
func (d *Dispatcher) call(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("callback panicked", map[string]any{"callback": name, "panic": fmt.Sprint(r)})
		}
	}()
	fn()
}
