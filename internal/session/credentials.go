package session

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Credentials is the persisted identity for a session: the opaque bearer
// token issued at login plus the profile fields the core needs to address
// outgoing messages.
type Credentials struct {
	Token       string `json:"token"`
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// Store owns the credentials file for one session. All token reads in the
// core go through here; the transport clears it when the server forces a
// disconnect, which invalidates the token.
type Store struct {
	mu    sync.RWMutex
	path  string
	creds *Credentials
}

// NewStore creates a credentials store backed by the given file path,
// loading existing credentials if present. A missing file is not an error;
// it just means the session is unauthenticated.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		// A corrupt file is treated as unauthenticated rather than fatal.
		return s, nil
	}
	s.creds = &creds
	return s, nil
}

// Current returns the stored credentials, or false if unauthenticated.
func (s *Store) Current() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return Credentials{}, false
	}
	return *s.creds, true
}

// Token returns the bearer token, or empty string if unauthenticated.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return ""
	}
	return s.creds.Token
}

// UserID returns the authenticated user id, or empty string.
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return ""
	}
	return s.creds.UserID
}

// Save persists new credentials with 0600 permissions.
func (s *Store) Save(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	data, err := json.Marshal(&creds)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return err
	}
	s.creds = &creds
	return nil
}

// Clear removes stored credentials. Called when the server reports an
// intentional disconnect, which means the token is no longer valid.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
