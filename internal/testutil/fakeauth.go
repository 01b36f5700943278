package testutil

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"taskboard/internal/service"
)

// ErrInvalidCredentials is returned by FakeAuth for a wrong password.
var ErrInvalidCredentials = errors.New("invalid login credentials")

// FakeAuth is an in-memory implementation of service.Authenticator.
type FakeAuth struct {
	mu       sync.Mutex
	users    map[string]string // email -> password
	codes    map[string]string // auth code -> email
	sessions int

	// RequireConfirmation makes SignUp return ErrConfirmationPending.
	RequireConfirmation bool

	SignedOut []*service.Session

	// Error injection for testing
	RefreshErr error
	SignOutErr error
}

// NewFakeAuth creates a FakeAuth with no accounts.
func NewFakeAuth() *FakeAuth {
	return &FakeAuth{
		users: make(map[string]string),
		codes: make(map[string]string),
	}
}

// AddUser registers an account.
func (a *FakeAuth) AddUser(email, password string) {
	a.mu.Lock()
	a.users[email] = password
	a.mu.Unlock()
}

// AddCode makes code exchangeable for a session of email.
func (a *FakeAuth) AddCode(code, email string) {
	a.mu.Lock()
	a.codes[code] = email
	a.mu.Unlock()
}

// NewSession returns a valid session for email.
func NewSession(email string) *service.Session {
	return &service.Session{
		Token: &oauth2.Token{
			AccessToken:  "access-" + email,
			TokenType:    "bearer",
			RefreshToken: "refresh-" + email,
			Expiry:       time.Now().Add(time.Hour),
		},
		User: service.User{ID: "user-" + email, Email: email},
	}
}

// SignInWithPassword implements service.Authenticator.
func (a *FakeAuth) SignInWithPassword(ctx context.Context, email, password string) (*service.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pw, ok := a.users[email]; !ok || pw != password {
		return nil, ErrInvalidCredentials
	}
	a.sessions++
	return NewSession(email), nil
}

// SignUp implements service.Authenticator.
func (a *FakeAuth) SignUp(ctx context.Context, email, password string) (*service.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.users[email]; ok {
		return nil, errors.New("user already registered")
	}
	a.users[email] = password
	if a.RequireConfirmation {
		return nil, service.ErrConfirmationPending
	}
	a.sessions++
	return NewSession(email), nil
}

// AuthorizeURL implements service.Authenticator.
func (a *FakeAuth) AuthorizeURL(provider, redirectURL, codeChallenge string) string {
	q := url.Values{}
	q.Set("provider", provider)
	q.Set("redirect_to", redirectURL)
	q.Set("code_challenge", codeChallenge)
	return "https://auth.fake/authorize?" + q.Encode()
}

// ExchangeCode implements service.Authenticator.
func (a *FakeAuth) ExchangeCode(ctx context.Context, code, verifier string) (*service.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	email, ok := a.codes[code]
	if !ok || verifier == "" {
		return nil, errors.New("invalid auth code")
	}
	delete(a.codes, code)
	a.sessions++
	return NewSession(email), nil
}

// Refresh implements service.Authenticator.
func (a *FakeAuth) Refresh(ctx context.Context, refreshToken string) (*service.Session, error) {
	if a.RefreshErr != nil {
		return nil, a.RefreshErr
	}
	const prefix = "refresh-"
	if len(refreshToken) <= len(prefix) || refreshToken[:len(prefix)] != prefix {
		return nil, service.ErrUnauthorized
	}
	return NewSession(refreshToken[len(prefix):]), nil
}

// SignOut implements service.Authenticator.
func (a *FakeAuth) SignOut(ctx context.Context, sess *service.Session) error {
	a.mu.Lock()
	a.SignedOut = append(a.SignedOut, sess)
	a.mu.Unlock()
	return a.SignOutErr
}
