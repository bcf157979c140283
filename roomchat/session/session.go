// Package session persists the last joined room so a client can resume
// it after a restart.
package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

const (
	// Key is the storage key of the single tracked session.
	Key = "roomchat.session"

	// MaxAge is how long a saved session stays valid.
	MaxAge = 24 * time.Hour
)

// Session is the durable record of the user's last room.
type Session struct {
	RoomID   string
	Nickname string
	UserIcon string
	UserID   string
	SavedAt  time.Time
}

// record is the persisted layout; timestamp is epoch milliseconds.
type record struct {
	RoomID    string `json:"roomId"`
	Nickname  string `json:"nickname"`
	UserIcon  string `json:"userIcon"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// Store saves, loads and expires one Session.
type Store struct {
	storage Storage
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore returns a Store backed by storage, logging to slog.Default().
func NewStore(storage Storage) *Store {
	return &Store{
		storage: storage,
		logger:  slog.Default(),
		now:     time.Now,
	}
}

// SetLogger overrides logger (optional).
func (s *Store) SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	s.logger = l
}

// SetNow overrides the time source.
func (s *Store) SetNow(now func() time.Time) {
	if now == nil {
		return
	}
	s.now = now
}

// Save overwrites the stored session. Sessions without a room id or
// nickname are not persisted. Storage failures are logged, not returned.
func (s *Store) Save(sess Session) {
	if sess.RoomID == "" || sess.Nickname == "" {
		s.logger.Debug("skip saving incomplete session", "roomId", sess.RoomID)
		return
	}
	data, err := json.Marshal(record{
		RoomID:    sess.RoomID,
		Nickname:  sess.Nickname,
		UserIcon:  sess.UserIcon,
		UserID:    sess.UserID,
		Timestamp: s.now().UnixMilli(),
	})
	if err != nil {
		s.logger.Error("failed to encode session", "error", err)
		return
	}
	if err := s.storage.Set(Key, data); err != nil {
		s.logger.Warn("failed to save session", "error", err)
	}
}

// Load returns false when there is no entry, when it cannot be parsed,
// or when it is older than MaxAge. Stale entries are deleted.
func (s *Store) Load() (Session, bool) {
	data, err := s.storage.Get(Key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("failed to read session", "error", err)
		}
		return Session{}, false
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("discarding malformed session", "error", err)
		return Session{}, false
	}
	if rec.RoomID == "" || rec.Nickname == "" {
		return Session{}, false
	}

	savedAt := time.UnixMilli(rec.Timestamp)
	if s.now().UnixMilli()-rec.Timestamp > MaxAge.Milliseconds() {
		s.logger.Info("session expired", "roomId", rec.RoomID, "savedAt", savedAt)
		s.Clear()
		return Session{}, false
	}

	return Session{
		RoomID:   rec.RoomID,
		Nickname: rec.Nickname,
		UserIcon: rec.UserIcon,
		UserID:   rec.UserID,
		SavedAt:  savedAt,
	}, true
}

// HasSession reports whether Load would return a session.
func (s *Store) HasSession() bool {
	_, ok := s.Load()
	return ok
}

// Clear removes the stored session.
func (s *Store) Clear() {
	if err := s.storage.Delete(Key); err != nil {
		s.logger.Warn("failed to clear session", "error", err)
	}
}
