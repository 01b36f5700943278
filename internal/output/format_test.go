package output_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"taskboard/internal/output"
	"taskboard/internal/service"
	"taskboard/internal/testutil"
)

func init() {
	output.Location = time.UTC
}

func strPtr(s string) *string { return &s }

func TestFormatTasks(t *testing.T) {
	tasks := []service.Task{
		{ID: 12, Title: "Buy milk", Description: "2% fat", CreatedAt: time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)},
		{ID: 3, Title: "multi\nline", CreatedAt: time.Date(2024, 5, 1, 17, 5, 0, 0, time.UTC), ImageURL: strPtr("https://x.supabase.co/storage/v1/object/public/tasks-images/cat.png-1")},
		{ID: 1, Title: "   "},
	}

	var buf bytes.Buffer
	output.FormatTasks(&buf, tasks)
	testutil.Golden(t, "tasks", buf.Bytes())
}

func TestFormatStatus(t *testing.T) {
	var buf bytes.Buffer
	output.FormatStatus(&buf, service.StatusSubscribed, nil)
	output.FormatStatus(&buf, service.StatusChannelError, errors.New("socket closed"))

	want := "status: SUBSCRIBED\nstatus: CHANNEL_ERROR (socket closed)\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestFormatChange(t *testing.T) {
	var buf bytes.Buffer
	output.FormatChange(&buf, service.Change{Raw: []byte("{\"data\":\n{\"type\":\"INSERT\"}}\n")})
	output.FormatChange(&buf, service.Change{Type: service.ChangeDelete, Table: "tasks"})

	want := "{\"data\":{\"type\":\"INSERT\"}}\n{\"type\":\"DELETE\",\"table\":\"tasks\"}\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestFormatSession(t *testing.T) {
	var buf bytes.Buffer
	output.FormatSession(&buf, &service.Session{
		Token: &oauth2.Token{Expiry: time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)},
		User:  service.User{Email: "me@example.com"},
	})
	want := "me@example.com\nexpires: 2024-05-01T13:00:00Z\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}
