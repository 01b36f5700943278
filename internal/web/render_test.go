package web

import (
	"bytes"
	"testing"
	"time"

	"taskboard/internal/output"
	"taskboard/internal/service"
	"taskboard/internal/testutil"
)

func init() {
	output.Location = time.UTC
}

func TestTaskRow(t *testing.T) {
	e := newTestEnv(t)
	image := "https://x.example/cat.png-1"

	var buf bytes.Buffer
	err := e.srv.tmpl.ExecuteTemplate(&buf, "task", row{
		Task: service.Task{
			ID:          3,
			Title:       "Cat",
			Description: "a <b>",
			CreatedAt:   time.Date(2024, 5, 1, 17, 5, 0, 0, time.UTC),
			ImageURL:    &image,
		},
		View:  "v1",
		Draft: "draft",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	testutil.GoldenString(t, "task_row", buf.String())
}

func TestTaskRow_NoImageOrDescription(t *testing.T) {
	e := newTestEnv(t)

	var buf bytes.Buffer
	if err := e.srv.tmpl.ExecuteTemplate(&buf, "task", row{Task: service.Task{ID: 1, Title: "plain"}, View: "v"}); err != nil {
		t.Fatalf("render: %v", err)
	}
	if bytes.Contains(buf.Bytes(), []byte("<img")) || bytes.Contains(buf.Bytes(), []byte("<p>")) {
		t.Errorf("expected no image or description:\n%s", buf.String())
	}
}
