package commands

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"taskboard/internal/exitcode"
	"taskboard/internal/service"
	"taskboard/internal/session"
)

const (
	// OAuth callback timeout
	oauthCallbackTimeout = 5 * time.Minute

	// Token exchange timeout
	tokenExchangeTimeout = 30 * time.Second

	// Starting port for OAuth callback server
	oauthStartPort = 8085

	// Max port attempts
	oauthMaxPortAttempts = 5

	// PasswordEnv is read when --password is not given.
	PasswordEnv = "TASKBOARD_PASSWORD"
)

func init() {
	Register(&LoginCmd{})
}

// LoginCmd implements the login command.
type LoginCmd struct {
	email    string
	password string
	provider string
	signup   bool

	openURL func(string)
}

// SetBrowser sets a hook that receives the provider login URL (for testing).
func (c *LoginCmd) SetBrowser(open func(string)) {
	c.openURL = open
}

func (c *LoginCmd) Name() string      { return "login" }
func (c *LoginCmd) Aliases() []string { return nil }
func (c *LoginCmd) Synopsis() string  { return "Sign in to the backend" }
func (c *LoginCmd) Usage() string {
	return "taskboard login [--email <e>] [--password <p>] [--signup] | --provider <name>"
}
func (c *LoginCmd) NeedsAuth() bool { return false }

func (c *LoginCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.email, "email", "", "")
	fs.StringVar(&c.password, "password", "", "")
	fs.StringVar(&c.provider, "provider", "", "")
	fs.BoolVar(&c.signup, "signup", false, "")
}

func (c *LoginCmd) Run(ctx context.Context, env *Env, args []string, out, errOut io.Writer) int {
	backend, ok := env.requireBackend(errOut)
	if !ok {
		return exitcode.AuthError
	}

	if c.provider != "" && (c.signup || c.email != "" || c.password != "") {
		fmt.Fprintln(errOut, "error: --provider cannot be combined with --email, --password or --signup")
		return exitcode.UserError
	}

	// Check if already logged in (session exists and is valid or refreshable)
	if !c.signup && c.stillSignedIn(ctx, env, backend.Auth) {
		if !env.Config.Quiet {
			fmt.Fprintln(out, "already logged in")
		}
		return exitcode.Success
	}

	var sess *service.Session
	var err error
	if c.provider != "" {
		var code int
		sess, code = c.providerLogin(ctx, backend.Auth, errOut)
		if code != exitcode.Success {
			return code
		}
	} else {
		email := strings.TrimSpace(c.email)
		if email == "" {
			fmt.Fprintln(errOut, "error: --email required")
			return exitcode.UserError
		}
		password, perr := c.readPassword(env.Stdin)
		if perr != nil {
			fmt.Fprintf(errOut, "error: %v\n", perr)
			return exitcode.UserError
		}

		if c.signup {
			sess, err = backend.Auth.SignUp(ctx, email, password)
			if errors.Is(err, service.ErrConfirmationPending) {
				if !env.Config.Quiet {
					fmt.Fprintln(out, err)
				}
				return exitcode.Success
			}
		} else {
			sess, err = backend.Auth.SignInWithPassword(ctx, email, password)
		}
		if err != nil {
			fmt.Fprintf(errOut, "error: login failed: %v\n", err)
			return exitcode.AuthError
		}
	}

	// Ensure config directory exists
	if err := env.Config.EnsureDir(); err != nil {
		fmt.Fprintf(errOut, "error: failed to create config directory: %v\n", err)
		return exitcode.AuthError
	}

	env.Sessions.Set(sess, session.EventSignedIn)
	if !env.Config.HasSession() {
		fmt.Fprintf(errOut, "error: failed to save session: %s\n", env.Config.SessionPath())
		return exitcode.AuthError
	}

	if !env.Config.Quiet {
		fmt.Fprintln(out, "ok")
	}
	return exitcode.Success
}

// stillSignedIn reports whether the stored session is valid, refreshing it
// when only the access token expired.
func (c *LoginCmd) stillSignedIn(ctx context.Context, env *Env, auth service.Authenticator) bool {
	current := env.Sessions.Current()
	if current == nil || current.Token == nil {
		return false
	}
	if current.Valid() {
		return true
	}
	if current.Token.RefreshToken == "" {
		return false
	}

	refreshCtx, cancel := context.WithTimeout(ctx, tokenExchangeTimeout)
	defer cancel()
	refreshed, err := auth.Refresh(refreshCtx, current.Token.RefreshToken)
	if err != nil {
		env.Logger.Debug("stored session could not be refreshed", "error", err)
		return false
	}
	env.Sessions.Set(refreshed, session.EventTokenRefreshed)
	return true
}

// readPassword returns the flag value, then $TASKBOARD_PASSWORD, then the
// first line of stdin.
func (c *LoginCmd) readPassword(stdin io.Reader) (string, error) {
	if c.password != "" {
		return c.password, nil
	}
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}
	if stdin == nil {
		return "", errors.New("password required")
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password required")
	}
	return line, nil
}

// providerLogin runs the PKCE flow through a loopback callback server.
func (c *LoginCmd) providerLogin(ctx context.Context, auth service.Authenticator, errOut io.Writer) (*service.Session, int) {
	// Find available port
	port, listener, err := findAvailablePort()
	if err != nil {
		fmt.Fprintf(errOut, "error: could not bind to local port for OAuth callback\n")
		return nil, exitcode.AuthError
	}
	defer listener.Close()

	redirectURL := fmt.Sprintf("http://localhost:%d/callback", port)

	// Generate PKCE verifier
	verifier := oauth2.GenerateVerifier()
	authURL := auth.AuthorizeURL(c.provider, redirectURL, oauth2.S256ChallengeFromVerifier(verifier))

	// Print URL to stderr
	fmt.Fprintln(errOut, "Open this URL in your browser:")
	fmt.Fprintln(errOut, authURL)

	// Start callback server
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if desc := q.Get("error_description"); desc != "" || q.Get("error") != "" {
			http.Error(w, "Authentication failed", http.StatusBadRequest)
			errCh <- fmt.Errorf("provider error: %s", firstNonEmpty(desc, q.Get("error")))
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "No code in callback", http.StatusBadRequest)
			errCh <- fmt.Errorf("no code in callback")
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><h1>Authentication successful</h1><p>You may close this window.</p></body></html>")
		codeCh <- code
	})

	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if c.openURL != nil {
		go c.openURL(authURL)
	}

	// Wait for callback or timeout
	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		fmt.Fprintf(errOut, "error: %v\n", err)
		return nil, exitcode.AuthError
	case <-time.After(oauthCallbackTimeout):
		fmt.Fprintln(errOut, "error: oauth callback timed out")
		return nil, exitcode.AuthError
	case <-ctx.Done():
		fmt.Fprintln(errOut, "error: cancelled")
		return nil, exitcode.AuthError
	}

	exchangeCtx, cancelExchange := context.WithTimeout(ctx, tokenExchangeTimeout)
	defer cancelExchange()

	sess, err := auth.ExchangeCode(exchangeCtx, code, verifier)
	if err != nil {
		fmt.Fprintf(errOut, "error: failed to exchange code for session: %v\n", err)
		return nil, exitcode.AuthError
	}
	return sess, exitcode.Success
}

// findAvailablePort tries to find an available port starting from oauthStartPort.
func findAvailablePort() (int, net.Listener, error) {
	for i := 0; i < oauthMaxPortAttempts; i++ {
		port := oauthStartPort + i
		addr := fmt.Sprintf("localhost:%d", port)
		listener, err := net.Listen("tcp", addr)
		if err == nil {
			return port, listener, nil
		}
	}
	return 0, nil, fmt.Errorf("no available port found")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
