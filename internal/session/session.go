// Package session keeps the signed-in user of the CLI in a small local
// pebble database, so that a token issued by login survives between
// commands.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	pebble "github.com/cockroachdb/pebble"
)

var ErrNoSession = errors.New("not logged in")

var currentKey = []byte("session:current")

// Session is the persisted sign-in state.
type Session struct {
	UserID    string    `json:"user_id"`
	Handle    string    `json:"handle,omitempty"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token has run out at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save replaces the current session.
func (s *Store) Save(sess Session) error {
	if sess.UserID == "" || sess.Token == "" {
		return errors.New("session needs a user id and a token")
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.db.Set(currentKey, raw, pebble.Sync)
}

// Current returns the saved session or ErrNoSession.
func (s *Store) Current() (Session, error) {
	v, closer, err := s.db.Get(currentKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	defer closer.Close()

	var sess Session
	if err := json.Unmarshal(v, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

// Clear forgets the current session. Clearing when nobody is logged in is
// not an error.
func (s *Store) Clear() error {
	return s.db.Delete(currentKey, pebble.Sync)
}
