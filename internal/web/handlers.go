package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"

	"taskboard/internal/board"
	"taskboard/internal/service"
	"taskboard/internal/session"
)

const (
	signInFailed   = "Sign-in failed. Check your email and password."
	signUpFailed   = "Sign-up failed."
	confirmPending = "Check your email to confirm the account, then sign in."
)

type gatePage struct {
	Flash string
}

type listPage struct {
	Email string
	View  string
	Rows  []row
}

// row is one rendered task with the view it belongs to.
type row struct {
	service.Task
	View  string
	Draft string
}

// Image returns the task's image URL, or "".
func (r row) Image() string {
	if r.ImageURL == nil {
		return ""
	}
	return *r.ImageURL
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)

	u := s.lookup(r)
	if u == nil || u.sessions.Current() == nil {
		cs := s.cookie(r)
		var page gatePage
		if flashes := cs.Flashes(); len(flashes) > 0 {
			page.Flash, _ = flashes[0].(string)
		}
		if err := cs.Save(r, w); err != nil {
			logger.Error("error saving session cookie", "error", err)
		}
		s.render(w, r, "gate", page)
		return
	}

	svc, err := u.service(s.base, s.connect)
	if err != nil {
		logger.Error("error connecting to backend", "error", err)
		http.Error(w, "backend unavailable", http.StatusBadGateway)
		return
	}

	email := u.email()
	b := board.New(svc, email, s.logger.With("user", email))
	b.Fetch(r.Context())
	view := u.mount(b)

	page := listPage{Email: email, View: view}
	for _, t := range b.Tasks() {
		page.Rows = append(page.Rows, row{Task: t, View: view})
	}
	s.render(w, r, "list", page)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)
	email := strings.TrimSpace(r.PostFormValue("email"))

	sess, err := s.auth.SignInWithPassword(r.Context(), email, r.PostFormValue("password"))
	if err != nil {
		logger.Warn("sign-in failed", "email", email, "error", err)
		s.toGate(w, r, s.cookie(r), signInFailed)
		return
	}

	u, cs := s.attach(r)
	u.sessions.Set(sess, session.EventSignedIn)
	s.toGate(w, r, cs, "")
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)
	email := strings.TrimSpace(r.PostFormValue("email"))

	sess, err := s.auth.SignUp(r.Context(), email, r.PostFormValue("password"))
	switch {
	case errors.Is(err, service.ErrConfirmationPending):
		s.toGate(w, r, s.cookie(r), confirmPending)
		return
	case err != nil:
		logger.Warn("sign-up failed", "email", email, "error", err)
		s.toGate(w, r, s.cookie(r), signUpFailed)
		return
	}

	u, cs := s.attach(r)
	u.sessions.Set(sess, session.EventSignedIn)
	s.toGate(w, r, cs, "")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)

	u, cs := s.detach(r)
	if u != nil {
		if sess := u.sessions.Current(); sess != nil {
			if err := s.auth.SignOut(r.Context(), sess); err != nil {
				logger.Warn("remote sign-out failed", "error", err)
			}
			u.sessions.Set(nil, session.EventSignedOut)
		}
		u.close()
	}
	s.toGate(w, r, cs, "")
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		logger.Error("error reading task form", "error", err)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	form := board.Form{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
	}
	file, header, err := r.FormFile("image")
	switch {
	case err == nil:
		defer file.Close()
		form.Image = &board.Image{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Body:        file,
		}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		logger.Error("error reading image", "error", err)
	}

	if b := s.board(r); b != nil {
		b.Submit(r.Context(), form)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(r)
	if ok {
		if b := s.board(r); b != nil {
			b.SetDraft(id, r.PostFormValue("description"))
			b.Update(r.Context(), id)
		}
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(r)
	if ok {
		if b := s.board(r); b != nil {
			b.Delete(r.Context(), id)
		}
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleDebugPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "debug", nil)
}

type apiTask struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	ImageURL    *string   `json:"image_url"`
	Email       string    `json:"email"`
}

func (s *Server) handleAPITasks(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)
	u := userFrom(r.Context())

	svc, err := u.service(s.base, s.connect)
	if err != nil {
		logger.Error("error connecting to backend", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "backend unavailable"})
		return
	}
	tasks, err := svc.ListTasks(r.Context())
	if err != nil {
		logger.Error("error fetching tasks", "error", err)
		status := http.StatusBadGateway
		if service.IsAuthError(err) {
			status = http.StatusUnauthorized
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	out := make([]apiTask, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, apiTask{
			ID:          t.ID,
			Title:       t.Title,
			Description: t.Description,
			CreatedAt:   t.CreatedAt,
			ImageURL:    t.ImageURL,
			Email:       t.Email,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// board returns the list mounted under the form's view ID. A request from
// an unknown or evicted view gets a fresh, unmounted list.
func (s *Server) board(r *http.Request) *board.Board {
	u := userFrom(r.Context())
	if b := u.view(r.FormValue("view")); b != nil {
		return b
	}
	svc, err := u.service(s.base, s.connect)
	if err != nil {
		loggerFrom(r.Context(), s.logger).Error("error connecting to backend", "error", err)
		return nil
	}
	email := u.email()
	return board.New(svc, email, s.logger.With("user", email))
}

func (s *Server) taskID(r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		loggerFrom(r.Context(), s.logger).Warn("invalid task id", "id", raw)
		return 0, false
	}
	return id, true
}

// toGate saves cs, adding msg as a flash when set, and redirects to the gate.
func (s *Server) toGate(w http.ResponseWriter, r *http.Request, cs *sessions.Session, msg string) {
	if msg != "" {
		cs.AddFlash(msg)
	}
	if err := cs.Save(r, w); err != nil {
		loggerFrom(r.Context(), s.logger).Error("error saving session cookie", "error", err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		loggerFrom(r.Context(), s.logger).Error("error rendering page", "template", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
