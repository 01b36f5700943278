// Package testutil provides testing utilities.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"taskboard/internal/service"
)

// FakePublicBase prefixes the URLs returned by FakeService.PublicURL.
const FakePublicBase = "https://storage.fake/tasks-images/"

// Update records one UpdateDescription call.
type Update struct {
	ID          int64
	Description string
}

// FakeService is an in-memory implementation of service.Service for testing.
// Inserts, updates and deletes are emitted to open subscriptions
// synchronously, on the calling goroutine.
type FakeService struct {
	mu      sync.RWMutex
	tasks   []service.Task
	nextID  int64
	clock   time.Time
	uploads map[string][]byte
	subs    map[int]*fakeSubscription
	nextSub int

	// Recorded calls
	Inserts  []service.NewTask
	Updates  []Update
	Deletes  []int64
	Channels []string

	// Error injection for testing
	ListTasksErr  error
	CreateTaskErr error
	UpdateErr     error
	DeleteTaskErr error
	UploadErr     error
	SubscribeErr  error
}

// NewFakeService creates an empty FakeService.
func NewFakeService() *FakeService {
	return &FakeService{
		nextID:  1,
		clock:   time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		uploads: make(map[string][]byte),
		subs:    make(map[int]*fakeSubscription),
	}
}

// tick advances the fake clock; every stored task gets a later created_at
// than the one before. Caller holds f.mu.
func (f *FakeService) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

// AddTask stores a task directly, without emitting a change.
func (f *FakeService) AddTask(title, description string) service.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	task := service.Task{
		ID:          f.nextID,
		Title:       title,
		Description: description,
		CreatedAt:   f.tick(),
	}
	f.nextID++
	f.tasks = append(f.tasks, task)
	return task
}

// Task returns the stored task with id.
func (f *FakeService) Task(id int64) (service.Task, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, t := range f.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return service.Task{}, false
}

// Uploaded returns the bytes uploaded under path.
func (f *FakeService) Uploaded(path string) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, ok := f.uploads[path]
	return data, ok
}

// ListTasks implements service.Service.
func (f *FakeService) ListTasks(ctx context.Context) ([]service.Task, error) {
	if f.ListTasksErr != nil {
		return nil, f.ListTasksErr
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	result := make([]service.Task, len(f.tasks))
	copy(result, f.tasks)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// CreateTask implements service.Service.
func (f *FakeService) CreateTask(ctx context.Context, nt service.NewTask) (service.Task, error) {
	f.mu.Lock()
	f.Inserts = append(f.Inserts, nt)
	if f.CreateTaskErr != nil {
		f.mu.Unlock()
		return service.Task{}, f.CreateTaskErr
	}
	task := service.Task{
		ID:          f.nextID,
		Title:       nt.Title,
		Description: nt.Description,
		CreatedAt:   f.tick(),
		ImageURL:    nt.ImageURL,
		Email:       nt.Email,
	}
	f.nextID++
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()

	f.Emit(service.Change{Type: service.ChangeInsert, New: task})
	return task, nil
}

// UpdateDescription implements service.Service.
func (f *FakeService) UpdateDescription(ctx context.Context, id int64, description string) error {
	f.mu.Lock()
	f.Updates = append(f.Updates, Update{ID: id, Description: description})
	if f.UpdateErr != nil {
		f.mu.Unlock()
		return f.UpdateErr
	}
	var updated *service.Task
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			f.tasks[i].Description = description
			t := f.tasks[i]
			updated = &t
			break
		}
	}
	f.mu.Unlock()

	// The REST API matches zero rows without error.
	if updated != nil {
		f.Emit(service.Change{Type: service.ChangeUpdate, New: *updated, Old: service.Task{ID: id}})
	}
	return nil
}

// DeleteTask implements service.Service.
func (f *FakeService) DeleteTask(ctx context.Context, id int64) error {
	f.mu.Lock()
	f.Deletes = append(f.Deletes, id)
	if f.DeleteTaskErr != nil {
		f.mu.Unlock()
		return f.DeleteTaskErr
	}
	found := false
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			found = true
			break
		}
	}
	f.mu.Unlock()

	if found {
		f.Emit(service.Change{Type: service.ChangeDelete, Old: service.Task{ID: id}})
	}
	return nil
}

// Upload implements service.ImageStore.
func (f *FakeService) Upload(ctx context.Context, path string, body io.Reader, contentType string) error {
	if f.UploadErr != nil {
		return f.UploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.uploads[path] = data
	f.mu.Unlock()
	return nil
}

// PublicURL implements service.ImageStore.
func (f *FakeService) PublicURL(path string) string {
	return FakePublicBase + path
}

type fakeSubscription struct {
	f        *FakeService
	id       int
	onChange func(service.Change)
	onStatus func(service.SubscriptionStatus, error)
	once     sync.Once
}

func (s *fakeSubscription) Close() error {
	s.once.Do(func() {
		s.f.mu.Lock()
		delete(s.f.subs, s.id)
		s.f.mu.Unlock()
		if s.onStatus != nil {
			s.onStatus(service.StatusClosed, nil)
		}
	})
	return nil
}

// Subscribe implements service.Service.
func (f *FakeService) Subscribe(ctx context.Context, channel string, onChange func(service.Change), onStatus func(service.SubscriptionStatus, error)) (service.Subscription, error) {
	f.mu.Lock()
	f.Channels = append(f.Channels, channel)
	if f.SubscribeErr != nil {
		f.mu.Unlock()
		if onStatus != nil {
			onStatus(service.StatusChannelError, f.SubscribeErr)
		}
		return nil, f.SubscribeErr
	}
	sub := &fakeSubscription{f: f, id: f.nextSub, onChange: onChange, onStatus: onStatus}
	f.nextSub++
	f.subs[sub.id] = sub
	f.mu.Unlock()

	if onStatus != nil {
		onStatus(service.StatusSubscribed, nil)
	}
	return sub, nil
}

// Subscribers returns the number of open subscriptions.
func (f *FakeService) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// WaitForSubscribers polls until n subscriptions are open or timeout passes.
func (f *FakeService) WaitForSubscribers(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f.Subscribers() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return f.Subscribers() >= n
}

// Emit delivers change to every open subscription. Table and Schema
// default to public.tasks; Raw defaults to the JSON of the change.
func (f *FakeService) Emit(change service.Change) {
	if change.Schema == "" {
		change.Schema = "public"
	}
	if change.Table == "" {
		change.Table = "tasks"
	}
	if change.CommitTimestamp.IsZero() {
		f.mu.Lock()
		change.CommitTimestamp = f.clock
		f.mu.Unlock()
	}
	if change.Raw == nil {
		change.Raw = rawChange(change)
	}
	for _, sub := range f.snapshot() {
		if sub.onChange != nil {
			sub.onChange(change)
		}
	}
}

// Fail reports a channel error to every open subscription.
func (f *FakeService) Fail(err error) {
	for _, sub := range f.snapshot() {
		if sub.onStatus != nil {
			sub.onStatus(service.StatusChannelError, err)
		}
	}
}

// Kick closes every open subscription from the server side: each reports
// CLOSED once and a later Close is a no-op.
func (f *FakeService) Kick() {
	for _, sub := range f.snapshot() {
		sub.Close()
	}
}

func (f *FakeService) snapshot() []*fakeSubscription {
	f.mu.RLock()
	defer f.mu.RUnlock()
	subs := make([]*fakeSubscription, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	return subs
}

func rawChange(c service.Change) []byte {
	record := func(t service.Task) any {
		if t.ID == 0 {
			return map[string]any{}
		}
		return map[string]any{
			"id":          t.ID,
			"title":       t.Title,
			"description": t.Description,
			"created_at":  t.CreatedAt.Format(time.RFC3339),
			"image_url":   t.ImageURL,
			"email":       t.Email,
		}
	}
	data, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"schema":           c.Schema,
			"table":            c.Table,
			"commit_timestamp": c.CommitTimestamp.Format(time.RFC3339),
			"type":             string(c.Type),
			"record":           record(c.New),
			"old_record":       record(c.Old),
		},
	})
	if err != nil {
		return []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return data
}
