// Package board holds the task list view model shared by the CLI and the
// web view: the fetched list, per-row edit drafts, and the change feed
// that prepends inserted tasks.
package board

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"taskboard/internal/service"
)

const (
	// Channel is the change-feed channel the task list subscribes on.
	Channel = "tasks"

	// DebugChannel is the channel the realtime debug view subscribes on.
	DebugChannel = "public:tasks"
)

// Image is a file chosen for upload with a new task.
type Image struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// Form is the new-task input.
type Form struct {
	Title       string
	Description string
	Image       *Image // nil when no file was chosen
}

// Created is the outcome of Create.
type Created struct {
	Task service.Task

	// UploadErr is set when the image upload failed. The task still
	// references the image's public URL.
	UploadErr error
}

// ImagePath returns the object name for an uploaded file.
func ImagePath(name string, now time.Time) string {
	return fmt.Sprintf("%s-%d", name, now.UnixMilli())
}

// Create uploads the form's image, if any, and inserts the task. A failed
// upload does not stop the insert.
func Create(ctx context.Context, svc service.Service, email string, form Form, now time.Time) (Created, error) {
	var created Created

	var imageURL *string
	if form.Image != nil {
		path := ImagePath(form.Image.Name, now)
		if err := svc.Upload(ctx, path, form.Image.Body, form.Image.ContentType); err != nil {
			created.UploadErr = err
		}
		u := svc.PublicURL(path)
		imageURL = &u
	}

	task, err := svc.CreateTask(ctx, service.NewTask{
		Title:       form.Title,
		Description: form.Description,
		Email:       email,
		ImageURL:    imageURL,
	})
	if err != nil {
		return created, err
	}
	created.Task = task
	return created, nil
}

// Board is one mounted task list.
type Board struct {
	svc    service.Service
	email  string
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	tasks  []service.Task
	drafts map[int64]string
}

// New creates an empty board for the signed-in user.
func New(svc service.Service, email string, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{
		svc:    svc,
		email:  email,
		logger: logger,
		now:    time.Now,
		drafts: make(map[int64]string),
	}
}

// SetClock replaces the board's clock (for testing).
func (b *Board) SetClock(now func() time.Time) {
	b.now = now
}

// Fetch replaces the list with the backend's tasks, newest first.
// On failure the list is left as it was.
func (b *Board) Fetch(ctx context.Context) error {
	tasks, err := b.svc.ListTasks(ctx)
	if err != nil {
		b.logger.Error("error fetching tasks", "error", err)
		return err
	}
	b.mu.Lock()
	b.tasks = tasks
	b.mu.Unlock()
	return nil
}

// Tasks returns a copy of the current list.
func (b *Board) Tasks() []service.Task {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]service.Task, len(b.tasks))
	copy(out, b.tasks)
	return out
}

// Submit creates a task from form. The list is not changed; the insert
// arrives through the change feed.
func (b *Board) Submit(ctx context.Context, form Form) error {
	created, err := Create(ctx, b.svc, b.email, form, b.now())
	if created.UploadErr != nil {
		b.logger.Error("error uploading image", "error", created.UploadErr)
	}
	if err != nil {
		b.logger.Error("error inserting task", "error", err)
		return err
	}
	return nil
}

// SetDraft stores the edit text for one row.
func (b *Board) SetDraft(id int64, text string) {
	b.mu.Lock()
	b.drafts[id] = text
	b.mu.Unlock()
}

// Draft returns the edit text for a row, or "" when none was entered.
func (b *Board) Draft(id int64) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.drafts[id]
}

// Update sends the row's draft as its new description. The list is not
// changed.
func (b *Board) Update(ctx context.Context, id int64) error {
	if err := b.svc.UpdateDescription(ctx, id, b.Draft(id)); err != nil {
		b.logger.Error("error updating task", "id", id, "error", err)
		return err
	}
	return nil
}

// Delete removes a task on the backend. The list is not changed.
func (b *Board) Delete(ctx context.Context, id int64) error {
	if err := b.svc.DeleteTask(ctx, id); err != nil {
		b.logger.Error("error deleting task", "id", id, "error", err)
		return err
	}
	return nil
}

// Apply folds a feed event into the list. Inserts whose ID is not yet
// listed are prepended; everything else is ignored. It reports whether
// the list changed.
func (b *Board) Apply(change service.Change) bool {
	if change.Type != service.ChangeInsert {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.tasks {
		if t.ID == change.New.ID {
			return false
		}
	}
	b.tasks = append([]service.Task{change.New}, b.tasks...)
	return true
}

// Watch follows the change feed until ctx is done or the channel stops.
// onInsert, when set, is called for every task Apply prepended.
func (b *Board) Watch(ctx context.Context, onInsert func(service.Task)) error {
	return follow(ctx, b.svc, Channel, b.logger,
		func(c service.Change) {
			if b.Apply(c) && onInsert != nil {
				onInsert(c.New)
			}
		},
		func(status service.SubscriptionStatus, err error) {
			b.logger.Debug("task channel status", "status", status, "error", err)
		})
}

// Debug logs every change and channel status on the debug channel until
// ctx is done or the channel fails. The callbacks, when set, see the same
// events.
func Debug(ctx context.Context, svc service.Service, logger *slog.Logger, onChange func(service.Change), onStatus func(service.SubscriptionStatus, error)) error {
	if logger == nil {
		logger = slog.Default()
	}
	return follow(ctx, svc, DebugChannel, logger,
		func(c service.Change) {
			logger.Info("realtime event", "type", c.Type, "table", c.Table, "payload", string(c.Raw))
			if onChange != nil {
				onChange(c)
			}
		},
		func(status service.SubscriptionStatus, err error) {
			if err != nil {
				logger.Warn("realtime status", "status", status, "error", err)
			} else {
				logger.Info("realtime status", "status", status)
			}
			if onStatus != nil {
				onStatus(status, err)
			}
		})
}

// ErrChannelFailed is returned by Watch and Debug when the feed drops or
// the server closes it.
var ErrChannelFailed = errors.New("change feed failed")

func follow(ctx context.Context, svc service.Service, channel string, logger *slog.Logger, onChange func(service.Change), onStatus func(service.SubscriptionStatus, error)) error {
	stopped := make(chan error, 1)
	sub, err := svc.Subscribe(ctx, channel, onChange, func(status service.SubscriptionStatus, err error) {
		onStatus(status, err)
		switch status {
		case service.StatusChannelError, service.StatusTimedOut, service.StatusClosed:
			if err == nil {
				err = fmt.Errorf("channel %s", strings.ToLower(string(status)))
			}
			select {
			case stopped <- err:
			default:
			}
		}
	})
	if err != nil {
		logger.Error("error subscribing to changes", "channel", channel, "error", err)
		return err
	}

	select {
	case <-ctx.Done():
		if err := sub.Close(); err != nil {
			logger.Debug("closing subscription", "channel", channel, "error", err)
		}
		return nil
	case err := <-stopped:
		sub.Close()
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrChannelFailed, err)
	}
}
