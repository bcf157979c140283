package roomchat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// InboundKind tags the outcome of Normalize.
type InboundKind int

const (
	KindUnrecognized InboundKind = iota
	KindMessage
	KindMessageList
	KindTyping
	KindUserID
)

func (k InboundKind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindMessageList:
		return "message_list"
	case KindTyping:
		return "typing"
	case KindUserID:
		return "user_id"
	default:
		return "unrecognized"
	}
}

// Inbound is a classified server payload. Only the field matching Kind is set.
type Inbound struct {
	Kind     InboundKind
	Message  ChatMessage
	Messages []ChatMessage
	Typing   TypingState
	UserID   string
}

// UnknownUser is shown for a typing participant with no resolvable name.
const UnknownUser = "Unknown"

// nicknameFields are tried in order when a typing entry is an object.
var nicknameFields = []string{"userNickname", "nickname", "displayName", "name"}

var errUnrecognized = errors.New("unrecognized payload")

type envelope struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	Body     json.RawMessage `json:"body"`
	Messages json.RawMessage `json:"messages"`
}

// Normalize classifies a raw inbound payload. It never panics; any
// payload it cannot classify yields an error.
func Normalize(raw []byte) (in Inbound, err error) {
	defer func() {
		if r := recover(); r != nil {
			in, err = Inbound{}, fmt.Errorf("inspect payload: %v", r)
		}
	}()

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Inbound{}, errUnrecognized
	}

	switch trimmed[0] {
	case '[':
		var msgs []ChatMessage
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return Inbound{}, fmt.Errorf("decode message list: %w", err)
		}
		return Inbound{Kind: KindMessageList, Messages: msgs}, nil
	case '{':
		return normalizeObject(trimmed)
	default:
		return Inbound{}, errUnrecognized
	}
}

func normalizeObject(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{}, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case TypeSendMessage:
		if isNull(env.Data) {
			return Inbound{}, fmt.Errorf("%s without data", env.Type)
		}
		var msg ChatMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return Inbound{}, fmt.Errorf("decode message: %w", err)
		}
		return Inbound{Kind: KindMessage, Message: msg}, nil
	case TypeSetTypingPresence:
		if isNull(env.Data) {
			return Inbound{}, fmt.Errorf("%s without data", env.Type)
		}
		typing, err := decodeTyping(env.Data)
		if err != nil {
			return Inbound{}, err
		}
		return Inbound{Kind: KindTyping, Typing: typing}, nil
	case TypeUserID:
		id, err := decodeUserID(env.Data)
		if err != nil {
			return Inbound{}, err
		}
		return Inbound{Kind: KindUserID, UserID: id}, nil
	case "":
		// untagged shapes sent by older servers
	default:
		return Inbound{}, fmt.Errorf("%w: type %q", errUnrecognized, env.Type)
	}

	if len(env.Body) > 0 {
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return Inbound{}, fmt.Errorf("decode legacy message: %w", err)
		}
		return Inbound{Kind: KindMessage, Message: msg}, nil
	}
	if len(env.Messages) > 0 && env.Messages[0] == '[' {
		var msgs []ChatMessage
		if err := json.Unmarshal(env.Messages, &msgs); err != nil {
			return Inbound{}, fmt.Errorf("decode message list: %w", err)
		}
		return Inbound{Kind: KindMessageList, Messages: msgs}, nil
	}
	return Inbound{}, errUnrecognized
}

func decodeTyping(data json.RawMessage) (TypingState, error) {
	var td struct {
		AnyoneTyping *bool             `json:"anyoneTyping"`
		UsersTyping  []json.RawMessage `json:"usersTyping"`
	}
	if err := json.Unmarshal(data, &td); err != nil {
		return TypingState{}, fmt.Errorf("decode typing: %w", err)
	}

	users := make([]string, 0, len(td.UsersTyping))
	for _, entry := range td.UsersTyping {
		users = append(users, resolveTypingUser(entry))
	}
	anyone := len(users) > 0
	if td.AnyoneTyping != nil {
		anyone = *td.AnyoneTyping
	}
	return TypingState{AnyoneTyping: anyone, UsersTyping: users}, nil
}

// resolveTypingUser maps a bare id string or a small user record to one
// display string.
func resolveTypingUser(entry json.RawMessage) string {
	var s string
	if err := json.Unmarshal(entry, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
		return UnknownUser
	}

	var fields map[string]any
	if err := json.Unmarshal(entry, &fields); err != nil {
		return UnknownUser
	}
	for _, name := range nicknameFields {
		if v, ok := fields[name].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return UnknownUser
}

func decodeUserID(data json.RawMessage) (string, error) {
	if isNull(data) {
		return "", errors.New("userId without data")
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil && id != "" {
		return id, nil
	}
	var obj struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.UserID != "" {
		return obj.UserID, nil
	}
	return "", errors.New("userId payload carries no id")
}

func isNull(data json.RawMessage) bool {
	d := bytes.TrimSpace(data)
	return len(d) == 0 || bytes.Equal(d, []byte("null"))
}

// filterSelf drops the current user from a typing update and recomputes
// AnyoneTyping from what is left.
func filterSelf(ts TypingState, selves ...string) TypingState {
	users := make([]string, 0, len(ts.UsersTyping))
	for _, u := range ts.UsersTyping {
		if isSelf(u, selves) {
			continue
		}
		users = append(users, u)
	}
	return TypingState{AnyoneTyping: len(users) > 0, UsersTyping: users}
}

func isSelf(user string, selves []string) bool {
	for _, s := range selves {
		if s != "" && s == user {
			return true
		}
	}
	return false
}
