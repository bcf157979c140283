package roomchat

import "encoding/json"

// Message type tags used on the wire.
const (
	TypeCreateSession     = "createSession"
	TypeJoinSession       = "joinSession"
	TypeSendMessage       = "sendMessage"
	TypeSetTypingPresence = "setTypingPresence"
	TypeUserID            = "userId"
)

// Request is the envelope from client to server.
type Request struct {
	Type       string `json:"type"`
	Data       any    `json:"data,omitempty"`
	CallbackID string `json:"callbackId,omitempty"`
}

// Reply is the envelope server -> client for a request carrying a callbackId.
type Reply struct {
	Type       string          `json:"type"`
	CallbackID string          `json:"callbackId"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      *ServerError    `json:"error,omitempty"`
}

// CreateSessionPayload asks the server for a new room.
type CreateSessionPayload struct {
	UserNickname string `json:"userNickname"`
	UserIcon     string `json:"userIcon,omitempty"`
}

// CreateSessionResult is the reply data of createSession.
type CreateSessionResult struct {
	RoomID string `json:"roomId"`
}

// JoinSessionPayload subscribes to an existing room.
type JoinSessionPayload struct {
	RoomID       string `json:"roomId"`
	UserNickname string `json:"userNickname"`
	UserIcon     string `json:"userIcon,omitempty"`
}

// JoinSessionResult is the reply data of joinSession.
type JoinSessionResult struct {
	Messages []ChatMessage `json:"messages"`
}

// SendMessagePayload publishes a message to the current room.
type SendMessagePayload struct {
	Body string `json:"body"`
}

// TypingPayload updates the sender's typing presence.
type TypingPayload struct {
	Typing bool `json:"typing"`
}
