package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"taskboard/internal/service"
	"taskboard/internal/session"
)

// Auth implements service.Authenticator against the backend's auth API.
type Auth struct {
	baseURL string
	apiKey  string
	http    *http.Client
	now     func() time.Time
}

// NewAuth creates an auth client. A nil httpClient uses http.DefaultClient.
func NewAuth(baseURL, apiKey string, httpClient *http.Client) *Auth {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Auth{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    httpClient,
		now:     time.Now,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// accessClaims are the access-token claims the client reads.
type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// parseClaims reads the access token's claims without verifying the
// signature; the backend verifies tokens, the client only displays them.
func parseClaims(accessToken string) (*accessClaims, error) {
	claims := &accessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// SignInWithPassword signs in with email and password.
func (a *Auth) SignInWithPassword(ctx context.Context, email, password string) (*service.Session, error) {
	return a.token(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
}

// SignUp registers an account.
func (a *Auth) SignUp(ctx context.Context, email, password string) (*service.Session, error) {
	var resp tokenResponse
	err := a.post(ctx, "signup", nil, "", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, service.ErrConfirmationPending
	}
	return a.newSession(resp)
}

// AuthorizeURL returns the provider login URL for a PKCE flow.
func (a *Auth) AuthorizeURL(provider, redirectURL, codeChallenge string) string {
	q := url.Values{}
	q.Set("provider", provider)
	q.Set("redirect_to", redirectURL)
	q.Set("code_challenge", codeChallenge)
	q.Set("code_challenge_method", "s256")
	return a.baseURL + authPath + "authorize?" + q.Encode()
}

// ExchangeCode trades a PKCE auth code for a session.
func (a *Auth) ExchangeCode(ctx context.Context, code, verifier string) (*service.Session, error) {
	return a.token(ctx, "pkce", map[string]string{
		"auth_code":     code,
		"code_verifier": verifier,
	})
}

// Refresh exchanges a refresh token for a new session. A rejected refresh
// token is reported as service.ErrUnauthorized.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (*service.Session, error) {
	sess, err := a.token(ctx, "refresh_token", map[string]string{
		"refresh_token": refreshToken,
	})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %w", service.ErrUnauthorized, err)
	}
	return sess, err
}

// SignOut revokes the session on the backend.
func (a *Auth) SignOut(ctx context.Context, sess *service.Session) error {
	if sess == nil || sess.Token == nil {
		return nil
	}
	return a.post(ctx, "logout", nil, sess.Token.AccessToken, struct{}{}, nil)
}

// TokenSource returns a token source that serves the observer's current
// access token and refreshes it through the backend when it expires.
// Refreshed sessions are published as EventTokenRefreshed.
func (a *Auth) TokenSource(ctx context.Context, sessions *session.Observer) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, auth: a, sessions: sessions}
}

type sessionTokenSource struct {
	mu       sync.Mutex
	ctx      context.Context
	auth     *Auth
	sessions *session.Observer
}

func (s *sessionTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.sessions.Current()
	if current == nil || current.Token == nil {
		return nil, service.ErrNotSignedIn
	}
	if current.Token.Valid() {
		return current.Token, nil
	}
	if current.Token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: session expired", service.ErrUnauthorized)
	}

	ctx, cancel := context.WithTimeout(s.ctx, APITimeout)
	defer cancel()
	refreshed, err := s.auth.Refresh(ctx, current.Token.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	s.sessions.Set(refreshed, session.EventTokenRefreshed)
	return refreshed.Token, nil
}

func (a *Auth) token(ctx context.Context, grantType string, body any) (*service.Session, error) {
	var resp tokenResponse
	q := url.Values{"grant_type": {grantType}}
	if err := a.post(ctx, "token", q, "", body, &resp); err != nil {
		return nil, err
	}
	return a.newSession(resp)
}

func (a *Auth) newSession(resp tokenResponse) (*service.Session, error) {
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("auth response without access token")
	}

	tok := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: resp.RefreshToken,
	}
	switch {
	case resp.ExpiresAt > 0:
		tok.Expiry = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		tok.Expiry = a.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	user := service.User{ID: resp.User.ID, Email: resp.User.Email}
	if user.ID == "" || user.Email == "" || tok.Expiry.IsZero() {
		if claims, err := parseClaims(resp.AccessToken); err == nil {
			if user.ID == "" {
				user.ID = claims.Subject
			}
			if user.Email == "" {
				user.Email = claims.Email
			}
			if tok.Expiry.IsZero() && claims.ExpiresAt != nil {
				tok.Expiry = claims.ExpiresAt.Time
			}
		}
	}

	return &service.Session{Token: tok, User: user}, nil
}

func (a *Auth) post(ctx context.Context, endpoint string, query url.Values, bearer string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	u := a.baseURL + authPath + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("apikey", a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return wrapError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	return nil
}
