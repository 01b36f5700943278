// Package output provides formatters for CLI output.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"taskboard/internal/service"
)

// TimeLayout is the created-at layout in task lines.
const TimeLayout = "2006-01-02 15:04"

// Location is the zone times are printed in (settable for testing).
var Location = time.Local

// FormatTask formats a task line.
// Format: "{ID:>4}  {CREATED}  {TITLE}\n", then the description and image
// URL on indented lines when present.
func FormatTask(w io.Writer, task service.Task) {
	fmt.Fprintf(w, "%4d  %s  %s\n", task.ID, formatTime(task.CreatedAt), normalizeTitle(task.Title))
	if desc := normalizeText(task.Description); desc != "" {
		fmt.Fprintf(w, "      %s\n", desc)
	}
	if task.ImageURL != nil && *task.ImageURL != "" {
		fmt.Fprintf(w, "      image: %s\n", *task.ImageURL)
	}
}

// FormatTasks formats tasks in the given order.
func FormatTasks(w io.Writer, tasks []service.Task) {
	for _, t := range tasks {
		FormatTask(w, t)
	}
}

// FormatStatus formats a change-feed status line.
func FormatStatus(w io.Writer, status service.SubscriptionStatus, err error) {
	if err != nil {
		fmt.Fprintf(w, "status: %s (%v)\n", status, err)
		return
	}
	fmt.Fprintf(w, "status: %s\n", status)
}

// FormatChange writes the raw event payload as one line.
func FormatChange(w io.Writer, change service.Change) {
	raw := strings.TrimSpace(string(change.Raw))
	if raw == "" {
		raw = fmt.Sprintf(`{"type":%q,"table":%q}`, change.Type, change.Table)
	}
	fmt.Fprintln(w, strings.ReplaceAll(raw, "\n", ""))
}

// FormatSession formats the signed-in user for whoami.
func FormatSession(w io.Writer, sess *service.Session) {
	email := sess.User.Email
	if email == "" {
		email = "(unknown)"
	}
	fmt.Fprintln(w, email)
	if sess.Token != nil && !sess.Token.Expiry.IsZero() {
		fmt.Fprintf(w, "expires: %s\n", sess.Token.Expiry.In(Location).Format(time.RFC3339))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return strings.Repeat(" ", len(TimeLayout))
	}
	return t.In(Location).Format(TimeLayout)
}

// normalizeTitle normalizes a task title for display.
// - Empty or whitespace-only titles become "(untitled)"
// - Newlines are replaced with spaces
func normalizeTitle(title string) string {
	title = normalizeText(title)
	if title == "" {
		return "(untitled)"
	}
	return title
}

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
