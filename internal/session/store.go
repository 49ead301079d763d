package session

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// storageKey is the fixed key the session record lives under; the store
// maps keys to JSON files in its data directory.
const storageKey = "session"

type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path() string {
	return filepath.Join(s.dir, storageKey+".json")
}

func (s *Store) Save(sess Session) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(), data, 0o600)
}

// Load reads the persisted record. Missing or unreadable entries are
// both ErrNoSession; a corrupt entry is cleared so it cannot wedge every
// future start.
func (s *Store) Load() (Session, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		return Session{}, ErrNoSession
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.Clear()
		return Session{}, ErrNoSession
	}
	return sess, nil
}

func (s *Store) Clear() {
	_ = os.Remove(s.path())
}
