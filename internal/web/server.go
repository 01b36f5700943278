// Package web serves the browser view: a sign-in gate, the task list with
// its create/edit/delete forms, live inserts over Server-Sent Events, and
// a realtime debug page.
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"

	"taskboard/internal/config"
	"taskboard/internal/output"
	"taskboard/internal/service"
	"taskboard/internal/session"
)

const (
	// CookieName is the browser session cookie.
	CookieName = "taskboard"

	// maxViews caps the mounted lists kept per user.
	maxViews = 16

	// maxUploadMemory is the multipart form size held in memory.
	maxUploadMemory = 32 << 20
)

//go:embed templates/*.html
var templateFS embed.FS

// Connector opens a service that authenticates with the observer's session.
type Connector func(ctx context.Context, sessions *session.Observer) (service.Service, error)

// Options configures New.
type Options struct {
	Config  *config.Config
	Logger  *slog.Logger
	Auth    service.Authenticator
	Connect Connector
}

// Server is the web view. Per-user state lives in memory, keyed by the ID
// in the signed session cookie.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	auth    service.Authenticator
	connect Connector
	cookies *sessions.CookieStore
	tmpl    *template.Template

	// base outlives requests; connected services and their feeds use it.
	base context.Context

	mu    sync.Mutex
	users map[string]*user
}

// New creates a server. Services it connects run under ctx.
func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("web: config required")
	}
	if opts.Auth == nil || opts.Connect == nil {
		return nil, errors.New("web: backend required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	key := []byte(opts.Config.SessionSecret)
	if len(key) == 0 {
		logger.Warn("TASKBOARD_SESSION_SECRET not set; browser sessions end when the server stops")
		key = securecookie.GenerateRandomKey(32)
		if key == nil {
			return nil, errors.New("web: could not generate cookie key")
		}
	}
	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	tmpl, err := template.New("").Funcs(template.FuncMap{
		"when": formatWhen,
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:     opts.Config,
		logger:  logger,
		auth:    opts.Auth,
		connect: opts.Connect,
		cookies: store,
		tmpl:    tmpl,
		base:    ctx,
		users:   make(map[string]*user),
	}, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Get("/", s.handleIndex)
	r.Post("/login", s.handleLogin)
	r.Post("/signup", s.handleSignUp)
	r.Post("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Post("/tasks", s.handleCreate)
		r.Post("/tasks/{id}/edit", s.handleEdit)
		r.Post("/tasks/{id}/delete", s.handleDelete)
		r.Get("/events", s.handleEvents)

		r.Get("/debug/realtime", s.handleDebugPage)
		r.Get("/debug/realtime/events", s.handleDebugEvents)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.With(s.requireSession).Get("/tasks", s.handleAPITasks)
	})

	return r
}

// Close drops every user's state.
func (s *Server) Close() {
	s.mu.Lock()
	users := s.users
	s.users = make(map[string]*user)
	s.mu.Unlock()

	for _, u := range users {
		u.close()
	}
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(output.Location).Format(output.TimeLayout)
}
