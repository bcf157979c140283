package roomchat

// ChatMessage is a single chat line, live or from room history.
type ChatMessage struct {
	Body            string `json:"body"`
	UserNickname    string `json:"userNickname"`
	UserIcon        string `json:"userIcon,omitempty"`
	PermID          string `json:"permId"`
	Timestamp       int64  `json:"timestamp"` // epoch milliseconds
	IsSystemMessage bool   `json:"isSystemMessage"`
}

// TypingState lists who is composing a message right now.
type TypingState struct {
	AnyoneTyping bool     `json:"anyoneTyping"`
	UsersTyping  []string `json:"usersTyping"`
}

// Callbacks are the notifications a Manager emits. Every field is optional.
type Callbacks struct {
	// OnMessage receives each live message in arrival order.
	OnMessage func(ChatMessage)
	// OnMessageList replaces the whole message log.
	OnMessageList func([]ChatMessage)

	OnTypingUpdate     func(TypingState)
	OnConnectionChange func(connected bool)
	OnStateChange      func(StateEvent)
	OnRoomCreated      func(roomID string)
	OnRoomJoined       func(history []ChatMessage)
	OnError            func(*AppError)
}
