package web

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"taskboard/internal/board"
	"taskboard/internal/service"
	"taskboard/internal/session"
)

// user is one browser session's state: its backend session, the service
// connected with it, and the lists mounted by its page views.
type user struct {
	sessions *session.Observer
	sub      *session.Subscription

	mu    sync.Mutex
	svc   service.Service
	views map[string]*board.Board
	order []string

	// feeds is cancelled on sign-out, stopping every open stream.
	feeds  context.Context
	cancel context.CancelFunc
}

func newUser() *user {
	u := &user{
		sessions: session.NewObserver(nil),
		views:    make(map[string]*board.Board),
	}
	u.feeds, u.cancel = context.WithCancel(context.Background())
	u.sub = u.sessions.Subscribe(func(event session.Event, _ *service.Session) {
		if event == session.EventSignedOut {
			u.reset()
		}
	})
	return u
}

// reset stops the open streams and drops the connected service and every
// mounted list.
func (u *user) reset() {
	u.mu.Lock()
	u.cancel()
	u.feeds, u.cancel = context.WithCancel(context.Background())
	u.svc = nil
	u.views = make(map[string]*board.Board)
	u.order = nil
	u.mu.Unlock()
}

// bind returns a context that is done when ctx is done or the user signs
// out.
func (u *user) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	u.mu.Lock()
	feeds := u.feeds
	u.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(feeds, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (u *user) close() {
	u.sub.Unsubscribe()
	u.reset()
	u.mu.Lock()
	u.cancel()
	u.mu.Unlock()
}

func (u *user) email() string {
	if sess := u.sessions.Current(); sess != nil {
		return sess.User.Email
	}
	return ""
}

// service returns the user's service, connecting it on first use.
func (u *user) service(ctx context.Context, connect Connector) (service.Service, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.svc != nil {
		return u.svc, nil
	}
	svc, err := connect(ctx, u.sessions)
	if err != nil {
		return nil, err
	}
	u.svc = svc
	return svc, nil
}

// mount registers b under a new view ID, evicting the oldest view past
// maxViews.
func (u *user) mount(b *board.Board) string {
	id := uuid.NewString()
	u.mu.Lock()
	defer u.mu.Unlock()
	u.views[id] = b
	u.order = append(u.order, id)
	for len(u.order) > maxViews {
		delete(u.views, u.order[0])
		u.order = u.order[1:]
	}
	return id
}

func (u *user) view(id string) *board.Board {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.views[id]
}

type ctxKey int

const (
	userKey ctxKey = iota
	loggerKey
)

func userFrom(ctx context.Context) *user {
	u, _ := ctx.Value(userKey).(*user)
	return u
}

// cookie returns the browser session. A cookie that fails to decode is
// replaced with a fresh session.
func (s *Server) cookie(r *http.Request) *sessions.Session {
	cs, err := s.cookies.Get(r, CookieName)
	if err != nil {
		loggerFrom(r.Context(), s.logger).Debug("discarding session cookie", "error", err)
	}
	return cs
}

// lookup returns the user bound to the request's cookie, or nil.
func (s *Server) lookup(r *http.Request) *user {
	id, _ := s.cookie(r).Values["id"].(string)
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

// attach returns the request's user, creating one and binding it to the
// cookie when there is none. The caller saves the cookie.
func (s *Server) attach(r *http.Request) (*user, *sessions.Session) {
	cs := s.cookie(r)
	id, _ := cs.Values["id"].(string)

	s.mu.Lock()
	u := s.users[id]
	if u == nil {
		id = uuid.NewString()
		u = newUser()
		s.users[id] = u
	}
	s.mu.Unlock()

	cs.Values["id"] = id
	return u, cs
}

// detach unbinds the request's user, if any, from the server and the
// cookie. The caller closes the user and saves the cookie.
func (s *Server) detach(r *http.Request) (*user, *sessions.Session) {
	cs := s.cookie(r)
	id, _ := cs.Values["id"].(string)
	delete(cs.Values, "id")
	if id == "" {
		return nil, cs
	}

	s.mu.Lock()
	u := s.users[id]
	delete(s.users, id)
	s.mu.Unlock()
	return u, cs
}

// requireSession lets signed-in users through and sends everyone else to
// the gate.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := s.lookup(r)
		if u == nil || u.sessions.Current() == nil {
			if strings.HasPrefix(r.URL.Path, "/api/") {
				http.Error(w, "not signed in", http.StatusUnauthorized)
				return
			}
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}
