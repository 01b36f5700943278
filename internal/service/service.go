package service

import (
	"context"
	"io"
)

// Service defines the interface for task backend operations.
// All hosted backend calls go through this interface.
// Commands and views never talk to the backend SDK directly.
type Service interface {
	ImageStore

	// ListTasks returns all tasks ordered by creation time, newest first.
	ListTasks(ctx context.Context) ([]Task, error)

	// CreateTask inserts a task and returns the stored record.
	CreateTask(ctx context.Context, task NewTask) (Task, error)

	// UpdateDescription sets the description of the task with the given ID.
	UpdateDescription(ctx context.Context, id int64, description string) error

	// DeleteTask deletes the task with the given ID.
	DeleteTask(ctx context.Context, id int64) error

	// Subscribe opens a change feed for all events on the task table.
	// Handlers run sequentially in delivery order.
	Subscribe(ctx context.Context, channel string, onChange func(Change), onStatus func(SubscriptionStatus, error)) (Subscription, error)
}

// Subscription is an open change feed.
type Subscription interface {
	Close() error
}

// ImageStore uploads task images to object storage.
type ImageStore interface {
	// Upload stores body under path.
	Upload(ctx context.Context, path string, body io.Reader, contentType string) error

	// PublicURL returns the public URL for path. It does not check that
	// the object exists.
	PublicURL(path string) string
}

// Authenticator signs users in and out of the hosted backend.
type Authenticator interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// SignUp registers an account. It returns ErrConfirmationPending when
	// the backend requires email confirmation before issuing a session.
	SignUp(ctx context.Context, email, password string) (*Session, error)

	// AuthorizeURL returns the provider login URL for a PKCE flow.
	AuthorizeURL(provider, redirectURL, codeChallenge string) string

	// ExchangeCode trades a PKCE auth code for a session.
	ExchangeCode(ctx context.Context, code, verifier string) (*Session, error)

	Refresh(ctx context.Context, refreshToken string) (*Session, error)

	SignOut(ctx context.Context, sess *Session) error
}
