// Package service defines the backend-agnostic interface for task operations.
package service

import (
	"time"

	"golang.org/x/oauth2"
)

// Task represents a single task record.
type Task struct {
	ID          int64
	Title       string
	Description string
	CreatedAt   time.Time
	ImageURL    *string // nil when no image was attached
	Email       string
}

// NewTask is the payload for inserting a task.
// A nil ImageURL is stored as null.
type NewTask struct {
	Title       string
	Description string
	Email       string
	ImageURL    *string
}

// ChangeType is the kind of row change carried by the change feed.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change is one change-feed event for the task table.
// New is zero for deletes; Old only carries the primary key unless the
// table has full replica identity.
type Change struct {
	Type            ChangeType
	Schema          string
	Table           string
	CommitTimestamp time.Time
	New             Task
	Old             Task
	Raw             []byte
}

// SubscriptionStatus reports the state of a change-feed subscription.
type SubscriptionStatus string

const (
	StatusSubscribed   SubscriptionStatus = "SUBSCRIBED"
	StatusTimedOut     SubscriptionStatus = "TIMED_OUT"
	StatusChannelError SubscriptionStatus = "CHANNEL_ERROR"
	StatusClosed       SubscriptionStatus = "CLOSED"
)

// User identifies the signed-in account.
type User struct {
	ID    string
	Email string
}

// Session is an authenticated session with the hosted backend.
type Session struct {
	Token *oauth2.Token
	User  User
}

// Valid reports whether the session holds a usable access token.
func (s *Session) Valid() bool {
	return s != nil && s.Token.Valid()
}
