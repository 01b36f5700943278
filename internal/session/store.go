package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"

	"taskboard/internal/service"
)

// Store persists the session to a JSON file.
type Store struct {
	path string
}

// NewStore creates a store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the session file path.
func (s *Store) Path() string {
	return s.path
}

type storedSession struct {
	Token *oauth2.Token `json:"token"`
	User  storedUser    `json:"user"`
}

type storedUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Load reads the stored session. It returns nil and no error when no
// session has been stored.
func (s *Store) Load() (*service.Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("invalid session file: %w", err)
	}
	if stored.Token == nil || stored.Token.AccessToken == "" {
		return nil, fmt.Errorf("invalid session file: missing access token")
	}

	return &service.Session{
		Token: stored.Token,
		User:  service.User{ID: stored.User.ID, Email: stored.User.Email},
	}, nil
}

// Save writes sess with mode 0600, creating the directory with mode 0700.
func (s *Store) Save(sess *service.Session) error {
	if sess == nil {
		return s.Remove()
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(storedSession{
		Token: sess.Token,
		User:  storedUser{ID: sess.User.ID, Email: sess.User.Email},
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

// Remove deletes the stored session. A missing file is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Persist keeps the store in sync with o until the returned subscription
// is removed. Write failures are logged.
func (s *Store) Persist(o *Observer, logger *slog.Logger) *Subscription {
	return o.Subscribe(func(event Event, sess *service.Session) {
		var err error
		switch event {
		case EventSignedIn, EventTokenRefreshed:
			err = s.Save(sess)
		case EventSignedOut:
			err = s.Remove()
		default:
			return
		}
		if err != nil {
			logger.Error("failed to persist session", "event", string(event), "path", s.path, "error", err)
		}
	})
}
