package commands_test

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"taskboard/internal/board"
	"taskboard/internal/commands"
	"taskboard/internal/config"
	"taskboard/internal/exitcode"
	"taskboard/internal/output"
	"taskboard/internal/service"
	"taskboard/internal/session"
	"taskboard/internal/testutil"
)

func init() {
	output.Location = time.UTC
}

// newEnv builds a command environment around svc. A non-nil sess is stored
// as the signed-in session.
func newEnv(t *testing.T, svc *testutil.FakeService, sess *service.Session) (*commands.Env, *testutil.FakeAuth) {
	t.Helper()

	cfg, err := config.New(t.TempDir())
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := session.NewStore(cfg.SessionPath())
	if sess != nil {
		if err := store.Save(sess); err != nil {
			t.Fatalf("save session: %v", err)
		}
	}
	sessions := session.NewObserver(sess)
	sub := store.Persist(sessions, logger)
	t.Cleanup(sub.Unsubscribe)

	auth := testutil.NewFakeAuth()
	env := &commands.Env{
		Config:   cfg,
		Logger:   logger,
		Sessions: sessions,
		Backend: &commands.Backend{
			Auth: auth,
			Connect: func(ctx context.Context, sessions *session.Observer) (service.Service, error) {
				return svc, nil
			},
		},
	}
	if svc != nil {
		env.Service = svc
	}
	return env, auth
}

// runCommand parses args with the command's flags and runs it.
func runCommand(t *testing.T, ctx context.Context, cmd commands.Command, env *commands.Env, args ...string) (stdout, stderr string, code int) {
	t.Helper()

	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cmd.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	var outBuf, errBuf bytes.Buffer
	code = cmd.Run(ctx, env, fs.Args(), &outBuf, &errBuf)
	return outBuf.String(), errBuf.String(), code
}

func signedIn() *service.Session {
	return testutil.NewSession("a@b.c")
}

// Tests for version and help
func TestVersionCommand(t *testing.T) {
	env, _ := newEnv(t, nil, nil)

	stdout, stderr, code := runCommand(t, context.Background(), &commands.VersionCmd{}, env)

	if code != exitcode.Success || stderr != "" {
		t.Errorf("unexpected result %d %q", code, stderr)
	}
	if stdout != "taskboard 0.1.0\n" {
		t.Errorf("expected version output, got %q", stdout)
	}
}

func TestHelpCommand(t *testing.T) {
	env, _ := newEnv(t, nil, nil)

	stdout, _, code := runCommand(t, context.Background(), &commands.HelpCmd{}, env)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	for _, name := range []string{"Usage:", "taskboard add", "taskboard serve", "taskboard debug"} {
		if !strings.Contains(stdout, name) {
			t.Errorf("help output should contain %q", name)
		}
	}
}

// Tests for list command
func TestListCommand_NewestFirst(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.AddTask("Buy milk", "2 liters")
	svc.AddTask("Buy eggs", "")
	env, _ := newEnv(t, svc, signedIn())

	stdout, stderr, code := runCommand(t, context.Background(), &commands.ListCmd{}, env)

	if code != exitcode.Success || stderr != "" {
		t.Fatalf("unexpected result %d %q", code, stderr)
	}
	expected := "   2  2024-05-01 09:02  Buy eggs\n" +
		"   1  2024-05-01 09:01  Buy milk\n" +
		"      2 liters\n"
	if stdout != expected {
		t.Errorf("expected %q, got %q", expected, stdout)
	}
}

func TestListCommand_Empty(t *testing.T) {
	env, _ := newEnv(t, testutil.NewFakeService(), signedIn())

	stdout, _, code := runCommand(t, context.Background(), &commands.ListCmd{}, env)
	if code != exitcode.Success || stdout != "no tasks found\n" {
		t.Errorf("unexpected result %d %q", code, stdout)
	}

	env.Config.Quiet = true
	stdout, _, _ = runCommand(t, context.Background(), &commands.ListCmd{}, env)
	if stdout != "" {
		t.Errorf("expected no output with --quiet, got %q", stdout)
	}
}

func TestListCommand_BackendErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"auth", service.ErrUnauthorized, exitcode.AuthError, "error: auth error: token expired or revoked\n"},
		{"backend", errors.New("connection reset"), exitcode.BackendError, "error: backend error: connection reset\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := testutil.NewFakeService()
			svc.ListTasksErr = tt.err
			env, _ := newEnv(t, svc, signedIn())

			_, stderr, code := runCommand(t, context.Background(), &commands.ListCmd{}, env)
			if code != tt.wantCode || stderr != tt.wantErr {
				t.Errorf("expected %d %q, got %d %q", tt.wantCode, tt.wantErr, code, stderr)
			}
		})
	}
}

// Tests for add command
func TestAddCommand_Success(t *testing.T) {
	svc := testutil.NewFakeService()
	env, _ := newEnv(t, svc, signedIn())

	stdout, stderr, code := runCommand(t, context.Background(), &commands.AddCmd{}, env, "-d", "2 liters", "Buy", "milk")

	if code != exitcode.Success || stderr != "" {
		t.Fatalf("unexpected result %d %q", code, stderr)
	}
	if stdout != "ok\n" {
		t.Errorf("expected ok, got %q", stdout)
	}
	want := service.NewTask{Title: "Buy milk", Description: "2 liters", Email: "a@b.c"}
	if len(svc.Inserts) != 1 || svc.Inserts[0] != want {
		t.Errorf("expected insert %+v, got %+v", want, svc.Inserts)
	}
}

func TestAddCommand_WithImage(t *testing.T) {
	svc := testutil.NewFakeService()
	env, _ := newEnv(t, svc, signedIn())

	path := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0600); err != nil {
		t.Fatal(err)
	}
	now := time.UnixMilli(1714550400123)
	cmd := &commands.AddCmd{}
	cmd.SetClock(func() time.Time { return now })

	_, stderr, code := runCommand(t, context.Background(), cmd, env, "--image", path, "Cat")
	if code != exitcode.Success {
		t.Fatalf("unexpected result %d %q", code, stderr)
	}

	object := board.ImagePath("cat.png", now)
	if object != "cat.png-1714550400123" {
		t.Errorf("unexpected object name %q", object)
	}
	if data, ok := svc.Uploaded(object); !ok || string(data) != "png-bytes" {
		t.Errorf("expected uploaded image, got %q", data)
	}
	if len(svc.Inserts) != 1 || svc.Inserts[0].ImageURL == nil || *svc.Inserts[0].ImageURL != testutil.FakePublicBase+object {
		t.Errorf("expected insert referencing the image, got %+v", svc.Inserts)
	}
}

func TestAddCommand_UploadFailureStillInserts(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.UploadErr = errors.New("bucket not found")
	env, _ := newEnv(t, svc, signedIn())

	path := filepath.Join(t.TempDir(), "cat.png")
	os.WriteFile(path, []byte("png"), 0600)

	stdout, stderr, code := runCommand(t, context.Background(), &commands.AddCmd{}, env, "-i", path, "Cat")

	if code != exitcode.Success || stdout != "ok\n" {
		t.Errorf("unexpected result %d %q", code, stdout)
	}
	if stderr != "warning: image upload failed: bucket not found\n" {
		t.Errorf("unexpected stderr %q", stderr)
	}
	if len(svc.Inserts) != 1 || svc.Inserts[0].ImageURL == nil {
		t.Errorf("expected insert with the image URL, got %+v", svc.Inserts)
	}
}

func TestAddCommand_MissingImage(t *testing.T) {
	svc := testutil.NewFakeService()
	env, _ := newEnv(t, svc, signedIn())

	_, stderr, code := runCommand(t, context.Background(), &commands.AddCmd{}, env, "--image", "/does/not/exist.png", "Cat")

	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	if !strings.HasPrefix(stderr, "error: cannot open image: ") {
		t.Errorf("unexpected stderr %q", stderr)
	}
	if len(svc.Inserts) != 0 {
		t.Error("expected no insert")
	}
}

func TestAddCommand_InsertFails(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.CreateTaskErr = errors.New("permission denied for table tasks")
	env, _ := newEnv(t, svc, signedIn())

	_, stderr, code := runCommand(t, context.Background(), &commands.AddCmd{}, env, "x")

	if code != exitcode.BackendError {
		t.Errorf("expected exit code %d, got %d", exitcode.BackendError, code)
	}
	if stderr != "error: backend error: permission denied for table tasks\n" {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

// Tests for edit and rm commands
func TestEditCommand(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.AddTask("one", "old")
	env, _ := newEnv(t, svc, signedIn())

	stdout, _, code := runCommand(t, context.Background(), &commands.EditCmd{}, env, "1", "new", "text")

	if code != exitcode.Success || stdout != "ok\n" {
		t.Errorf("unexpected result %d %q", code, stdout)
	}
	if len(svc.Updates) != 1 || svc.Updates[0] != (testutil.Update{ID: 1, Description: "new text"}) {
		t.Errorf("unexpected updates %+v", svc.Updates)
	}
}

func TestTaskIDErrors(t *testing.T) {
	tests := []struct {
		cmd     commands.Command
		args    []string
		wantErr string
	}{
		{&commands.EditCmd{}, nil, "error: task id required\n"},
		{&commands.EditCmd{}, []string{"abc", "x"}, "error: invalid task id: abc\n"},
		{&commands.RmCmd{}, []string{"0"}, "error: invalid task id: 0\n"},
		{&commands.RmCmd{}, []string{"1", "2"}, "error: unexpected argument: 2\n"},
	}
	for _, tt := range tests {
		svc := testutil.NewFakeService()
		env, _ := newEnv(t, svc, signedIn())

		_, stderr, code := runCommand(t, context.Background(), tt.cmd, env, tt.args...)
		if code != exitcode.UserError || stderr != tt.wantErr {
			t.Errorf("%s %v: expected %q, got %d %q", tt.cmd.Name(), tt.args, tt.wantErr, code, stderr)
		}
		if len(svc.Updates) != 0 || len(svc.Deletes) != 0 {
			t.Errorf("%s %v: expected no backend call", tt.cmd.Name(), tt.args)
		}
	}
}

func TestRmCommand(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.AddTask("one", "")
	env, _ := newEnv(t, svc, signedIn())

	stdout, _, code := runCommand(t, context.Background(), &commands.RmCmd{}, env, "1")

	if code != exitcode.Success || stdout != "ok\n" {
		t.Errorf("unexpected result %d %q", code, stdout)
	}
	if _, ok := svc.Task(1); ok {
		t.Error("expected task deleted")
	}
}

// Tests for watch and debug commands
func TestWatchCommand_PrintsInserts(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.AddTask("existing", "")
	env, _ := newEnv(t, svc, signedIn())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout string
	var code int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		stdout, _, code = runCommand(t, ctx, &commands.WatchCmd{}, env)
	}()

	if !svc.WaitForSubscribers(1, 2*time.Second) {
		t.Fatal("watch did not subscribe")
	}
	existing, _ := svc.Task(1)
	svc.Emit(service.Change{Type: service.ChangeInsert, New: existing})
	svc.CreateTask(context.Background(), service.NewTask{Title: "new one"})
	svc.UpdateDescription(context.Background(), 1, "ignored")
	cancel()
	wg.Wait()

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	expected := "   1  2024-05-01 09:01  existing\n" +
		"   2  2024-05-01 09:02  new one\n"
	if stdout != expected {
		t.Errorf("expected %q, got %q", expected, stdout)
	}
	if svc.Subscribers() != 0 {
		t.Error("expected subscription closed")
	}
}

func TestWatchCommand_ChannelError(t *testing.T) {
	svc := testutil.NewFakeService()
	env, _ := newEnv(t, svc, signedIn())

	done := make(chan struct{})
	var stderr string
	var code int
	go func() {
		defer close(done)
		_, stderr, code = runCommand(t, context.Background(), &commands.WatchCmd{}, env)
	}()

	if !svc.WaitForSubscribers(1, 2*time.Second) {
		t.Fatal("watch did not subscribe")
	}
	svc.Fail(errors.New("socket closed"))
	<-done

	if code != exitcode.BackendError {
		t.Errorf("expected exit code %d, got %d", exitcode.BackendError, code)
	}
	if !strings.Contains(stderr, "change feed failed: socket closed") {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

func TestWatchCommand_ServerClosesChannel(t *testing.T) {
	svc := testutil.NewFakeService()
	env, _ := newEnv(t, svc, signedIn())

	done := make(chan struct{})
	var stderr string
	var code int
	go func() {
		defer close(done)
		_, stderr, code = runCommand(t, context.Background(), &commands.WatchCmd{}, env)
	}()

	if !svc.WaitForSubscribers(1, 2*time.Second) {
		t.Fatal("watch did not subscribe")
	}
	svc.Kick()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch kept running after the server closed the channel")
	}
	if code != exitcode.BackendError {
		t.Errorf("expected exit code %d, got %d", exitcode.BackendError, code)
	}
	if !strings.Contains(stderr, "change feed failed: channel closed") {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

func TestDebugCommand(t *testing.T) {
	svc := testutil.NewFakeService()
	env, _ := newEnv(t, svc, signedIn())

	ctx, cancel := context.WithCancel(context.Background())
	var stdout string
	done := make(chan struct{})
	go func() {
		defer close(done)
		stdout, _, _ = runCommand(t, ctx, &commands.DebugCmd{}, env)
	}()

	if !svc.WaitForSubscribers(1, 2*time.Second) {
		t.Fatal("debug did not subscribe")
	}
	svc.Emit(service.Change{Type: service.ChangeDelete, Raw: []byte(`{"type":"DELETE"}`)})
	cancel()
	<-done

	expected := "status: SUBSCRIBED\n" +
		`{"type":"DELETE"}` + "\n" +
		"status: CLOSED\n"
	if stdout != expected {
		t.Errorf("expected %q, got %q", expected, stdout)
	}
	if svc.Channels[0] != board.DebugChannel {
		t.Errorf("unexpected channel %q", svc.Channels[0])
	}
}

// Tests for login, logout and whoami
func TestLoginCommand_Password(t *testing.T) {
	env, auth := newEnv(t, nil, nil)
	auth.AddUser("a@b.c", "pw")

	stdout, stderr, code := runCommand(t, context.Background(), &commands.LoginCmd{}, env, "--email", "a@b.c", "--password", "pw")

	if code != exitcode.Success || stdout != "ok\n" {
		t.Fatalf("unexpected result %d %q %q", code, stdout, stderr)
	}
	if !env.Config.HasSession() {
		t.Error("expected session stored")
	}
	if got := env.Sessions.Current(); got == nil || got.User.Email != "a@b.c" {
		t.Errorf("unexpected session %+v", got)
	}
}

func TestLoginCommand_PasswordFromStdin(t *testing.T) {
	t.Setenv(commands.PasswordEnv, "")
	env, auth := newEnv(t, nil, nil)
	auth.AddUser("a@b.c", "from-stdin")
	env.Stdin = strings.NewReader("from-stdin\n")

	_, stderr, code := runCommand(t, context.Background(), &commands.LoginCmd{}, env, "--email", "a@b.c")

	if code != exitcode.Success {
		t.Errorf("unexpected result %d %q", code, stderr)
	}
}

func TestLoginCommand_BadPassword(t *testing.T) {
	env, auth := newEnv(t, nil, nil)
	auth.AddUser("a@b.c", "pw")

	_, stderr, code := runCommand(t, context.Background(), &commands.LoginCmd{}, env, "--email", "a@b.c", "--password", "nope")

	if code != exitcode.AuthError {
		t.Errorf("expected exit code %d, got %d", exitcode.AuthError, code)
	}
	if stderr != "error: login failed: invalid login credentials\n" {
		t.Errorf("unexpected stderr %q", stderr)
	}
	if env.Config.HasSession() {
		t.Error("expected no stored session")
	}
}

func TestLoginCommand_SignUpPendingConfirmation(t *testing.T) {
	env, auth := newEnv(t, nil, nil)
	auth.RequireConfirmation = true

	stdout, _, code := runCommand(t, context.Background(), &commands.LoginCmd{}, env, "--signup", "--email", "new@b.c", "--password", "pw")

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stdout != service.ErrConfirmationPending.Error()+"\n" {
		t.Errorf("unexpected stdout %q", stdout)
	}
	if env.Config.HasSession() {
		t.Error("expected no stored session")
	}
}

func TestLoginCommand_RefreshesExpiredSession(t *testing.T) {
	sess := signedIn()
	sess.Token.Expiry = time.Now().Add(-time.Minute)
	env, _ := newEnv(t, nil, sess)

	stdout, _, code := runCommand(t, context.Background(), &commands.LoginCmd{}, env)

	if code != exitcode.Success || stdout != "already logged in\n" {
		t.Errorf("unexpected result %d %q", code, stdout)
	}
	if !env.Sessions.Current().Valid() {
		t.Error("expected refreshed session")
	}
}

func TestLoginCommand_ProviderConflictsWithEmail(t *testing.T) {
	env, _ := newEnv(t, nil, nil)

	_, stderr, code := runCommand(t, context.Background(), &commands.LoginCmd{}, env, "--provider", "github", "--email", "a@b.c")

	if code != exitcode.UserError || !strings.Contains(stderr, "--provider cannot be combined") {
		t.Errorf("unexpected result %d %q", code, stderr)
	}
}

func TestLoginCommand_Provider(t *testing.T) {
	env, auth := newEnv(t, nil, nil)
	auth.AddCode("code-1", "gh@b.c")

	cmd := &commands.LoginCmd{}
	cmd.SetBrowser(func(authURL string) {
		u, err := url.Parse(authURL)
		if err != nil {
			t.Errorf("bad auth url: %v", err)
			return
		}
		redirect := u.Query().Get("redirect_to")
		resp, err := http.Get(redirect + "?code=code-1")
		if err != nil {
			t.Errorf("callback: %v", err)
			return
		}
		resp.Body.Close()
	})

	stdout, stderr, code := runCommand(t, context.Background(), cmd, env, "--provider", "github")

	if code != exitcode.Success || stdout != "ok\n" {
		t.Fatalf("unexpected result %d %q %q", code, stdout, stderr)
	}
	if !strings.Contains(stderr, "https://auth.fake/authorize?") {
		t.Errorf("expected provider URL on stderr, got %q", stderr)
	}
	if got := env.Sessions.Current(); got == nil || got.User.Email != "gh@b.c" {
		t.Errorf("unexpected session %+v", got)
	}
}

func TestLogoutCommand(t *testing.T) {
	env, auth := newEnv(t, nil, signedIn())
	auth.SignOutErr = errors.New("network down")

	stdout, _, code := runCommand(t, context.Background(), &commands.LogoutCmd{}, env)

	if code != exitcode.Success || stdout != "ok\n" {
		t.Errorf("unexpected result %d %q", code, stdout)
	}
	if env.Config.HasSession() || env.Sessions.Current() != nil {
		t.Error("expected local session cleared despite the remote failure")
	}
	if len(auth.SignedOut) != 1 {
		t.Errorf("expected one remote sign-out, got %d", len(auth.SignedOut))
	}
}

func TestLogoutCommand_NotLoggedIn(t *testing.T) {
	env, auth := newEnv(t, nil, nil)

	stdout, _, code := runCommand(t, context.Background(), &commands.LogoutCmd{}, env)

	if code != exitcode.Success || stdout != "not logged in\n" {
		t.Errorf("unexpected result %d %q", code, stdout)
	}
	if len(auth.SignedOut) != 0 {
		t.Error("expected no remote sign-out")
	}
}

func TestWhoamiCommand(t *testing.T) {
	sess := signedIn()
	sess.Token.Expiry = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	env, _ := newEnv(t, nil, sess)

	stdout, _, code := runCommand(t, context.Background(), &commands.WhoamiCmd{}, env)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stdout != "a@b.c\nexpires: 2024-05-01T10:00:00Z\n" {
		t.Errorf("unexpected output %q", stdout)
	}
}

// Tests for serve command
func TestServeCommand(t *testing.T) {
	env, _ := newEnv(t, testutil.NewFakeService(), nil)
	env.Config.SessionSecret = "secret"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan string, 1)
	cmd := &commands.ServeCmd{}
	cmd.SetReady(func(addr string) { ready <- addr })

	done := make(chan int, 1)
	go func() {
		_, _, code := runCommand(t, ctx, cmd, env, "--addr", "127.0.0.1:0")
		done <- code
	}()

	var addr string
	select {
	case addr = <-ready:
	case code := <-done:
		t.Fatalf("serve exited early with %d", code)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not start")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("unexpected healthz body %q", body)
	}

	cancel()
	select {
	case code := <-done:
		if code != exitcode.Success {
			t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not shut down")
	}
}

func TestServeCommand_NoBackend(t *testing.T) {
	env, _ := newEnv(t, nil, nil)
	env.Backend = nil
	env.BackendErr = errors.New("SUPABASE_URL not set")

	_, stderr, code := runCommand(t, context.Background(), &commands.ServeCmd{}, env)

	if code != exitcode.AuthError || stderr != "error: SUPABASE_URL not set\n" {
		t.Errorf("unexpected result %d %q", code, stderr)
	}
}
