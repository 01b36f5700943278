// Package supabase implements the service interfaces against a
// Supabase-compatible hosted backend: PostgREST tables, GoTrue auth,
// Storage buckets and the Realtime change feed.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"taskboard/internal/config"
	"taskboard/internal/realtime"
	"taskboard/internal/service"
)

const (
	// APITimeout is the timeout for API calls.
	APITimeout = 10 * time.Second

	// UploadTimeout is the timeout for image uploads.
	UploadTimeout = 60 * time.Second

	// tokenRenewLead is how long before expiry an open change feed
	// renews its access token. It sits inside oauth2's expiry window so
	// the token source refreshes rather than returning the old token.
	tokenRenewLead = 5 * time.Second

	restPath    = "/rest/v1/"
	authPath    = "/auth/v1/"
	storagePath = "/storage/v1/"
)

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Table   string
	Schema  string
	Bucket  string

	// HTTPClient is the base client; its transport gets the apikey and
	// bearer headers added. Nil uses http.DefaultClient.
	HTTPClient *http.Client

	// Images overrides the image store. Nil stores images in Bucket.
	Images service.ImageStore

	Logger   *slog.Logger
	Realtime []realtime.Option
}

// OptionsFromConfig returns options for the configured backend.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL: cfg.BackendURL,
		APIKey:  cfg.AnonKey,
		Table:   cfg.Table,
		Schema:  cfg.Schema,
		Bucket:  cfg.ImageBucket,
	}
}

// Client implements service.Service for one signed-in user.
type Client struct {
	baseURL string
	apiKey  string
	table   string
	schema  string

	http     *http.Client
	tokens   oauth2.TokenSource
	images   service.ImageStore
	realtime *realtime.Client
	logger   *slog.Logger
}

// New creates a client that authenticates every request with tokens.
func New(ctx context.Context, opts Options, tokens oauth2.TokenSource) (*Client, error) {
	if opts.BaseURL == "" || opts.APIKey == "" {
		return nil, fmt.Errorf("backend url and api key are required")
	}
	if opts.Table == "" {
		opts.Table = "tasks"
	}
	if opts.Schema == "" {
		opts.Schema = "public"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	keyed := &http.Client{
		Transport: &apiKeyTransport{key: opts.APIKey, base: base.Transport},
		Timeout:   base.Timeout,
	}

	// oauth2.NewClient builds on the client stored in the context.
	httpClient := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, keyed), tokens)

	endpoint, err := realtime.EndpointFromURL(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	rtOpts := append([]realtime.Option{realtime.WithLogger(logger)}, opts.Realtime...)

	c := &Client{
		baseURL:  opts.BaseURL,
		apiKey:   opts.APIKey,
		table:    opts.Table,
		schema:   opts.Schema,
		http:     httpClient,
		tokens:   tokens,
		images:   opts.Images,
		realtime: realtime.NewClient(endpoint, opts.APIKey, rtOpts...),
		logger:   logger,
	}
	if c.images == nil {
		c.images = NewStorage(opts.BaseURL, opts.Bucket, httpClient)
	}
	return c, nil
}

// apiKeyTransport adds the apikey header every backend endpoint requires.
type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	req = req.Clone(req.Context())
	req.Header.Set("apikey", t.key)
	return base.RoundTrip(req)
}

// taskRow is the table's JSON shape.
type taskRow struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	CreatedAt   string  `json:"created_at"`
	ImageURL    *string `json:"image_url"`
	Email       string  `json:"email"`
}

// insertRow is the insert payload; a nil image is sent as null.
type insertRow struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Email       string  `json:"email,omitempty"`
	ImageURL    *string `json:"image_url"`
}

func (r taskRow) task() service.Task {
	return service.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		CreatedAt:   parseTime(r.CreatedAt),
		ImageURL:    r.ImageURL,
		Email:       r.Email,
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999",
}

// parseTime reads the timestamp formats the REST and realtime APIs emit.
// Unparseable values yield the zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ListTasks returns all tasks, newest first.
func (c *Client) ListTasks(ctx context.Context) ([]service.Task, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "created_at.desc")

	var rows []taskRow
	if err := c.do(ctx, http.MethodGet, q, nil, nil, &rows); err != nil {
		return nil, err
	}

	result := make([]service.Task, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.task())
	}
	return result, nil
}

// CreateTask inserts a task and returns the stored record.
func (c *Client) CreateTask(ctx context.Context, task service.NewTask) (service.Task, error) {
	body := insertRow{
		Title:       task.Title,
		Description: task.Description,
		Email:       task.Email,
		ImageURL:    task.ImageURL,
	}
	headers := http.Header{}
	headers.Set("Prefer", "return=representation")
	headers.Set("Accept", "application/vnd.pgrst.object+json")

	var row taskRow
	if err := c.do(ctx, http.MethodPost, nil, headers, body, &row); err != nil {
		return service.Task{}, err
	}
	return row.task(), nil
}

// UpdateDescription sets the description of the task with the given ID.
func (c *Client) UpdateDescription(ctx context.Context, id int64, description string) error {
	headers := http.Header{}
	headers.Set("Prefer", "return=minimal")
	body := map[string]string{"description": description}
	return c.do(ctx, http.MethodPatch, idFilter(id), headers, body, nil)
}

// DeleteTask deletes the task with the given ID.
func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	headers := http.Header{}
	headers.Set("Prefer", "return=minimal")
	return c.do(ctx, http.MethodDelete, idFilter(id), headers, nil, nil)
}

// Upload stores an image through the configured image store.
func (c *Client) Upload(ctx context.Context, path string, body io.Reader, contentType string) error {
	return c.images.Upload(ctx, path, body, contentType)
}

// PublicURL returns the public URL of an uploaded image.
func (c *Client) PublicURL(path string) string {
	return c.images.PublicURL(path)
}

// Subscribe opens a change feed for every event on the task table.
func (c *Client) Subscribe(ctx context.Context, channel string, onChange func(service.Change), onStatus func(service.SubscriptionStatus, error)) (service.Subscription, error) {
	var tok *oauth2.Token
	var accessToken string
	if c.tokens != nil {
		var err error
		tok, err = c.tokens.Token()
		if err != nil {
			return nil, wrapError(err)
		}
		accessToken = tok.AccessToken
	}

	filters := []realtime.Filter{{Event: "*", Schema: c.schema, Table: c.table}}
	handlers := realtime.Handlers{
		OnChange: func(rc realtime.Change) {
			change, err := convertChange(rc)
			if err != nil {
				c.logger.Warn("dropping undecodable change", "error", err)
				return
			}
			if onChange != nil {
				onChange(change)
			}
		},
		OnStatus: func(s realtime.Status, err error) {
			if onStatus != nil {
				onStatus(service.SubscriptionStatus(s), err)
			}
		},
	}

	ch, err := c.realtime.Subscribe(ctx, channel, filters, accessToken, handlers)
	if err != nil {
		return nil, err
	}
	if tok != nil {
		go c.renewToken(ch, tok)
	}
	return ch, nil
}

// renewToken pushes a fresh access token to ch shortly before the current
// one expires, until ch stops. The server drops channels whose token has
// expired.
func (c *Client) renewToken(ch *realtime.Channel, current *oauth2.Token) {
	for !current.Expiry.IsZero() {
		timer := time.NewTimer(time.Until(current.Expiry.Add(-tokenRenewLead)))
		select {
		case <-ch.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		next, err := c.tokens.Token()
		if err != nil {
			c.logger.Warn("error renewing realtime token", "channel", ch.Topic(), "error", err)
			return
		}
		if next.AccessToken == current.AccessToken {
			return
		}
		if err := ch.SetAccessToken(next.AccessToken); err != nil {
			c.logger.Warn("error sending realtime token", "channel", ch.Topic(), "error", err)
			return
		}
		c.logger.Debug("renewed realtime token", "channel", ch.Topic())
		current = next
	}
}

// convertChange maps a realtime event onto the service type.
func convertChange(rc realtime.Change) (service.Change, error) {
	change := service.Change{
		Type:            service.ChangeType(rc.Type),
		Schema:          rc.Schema,
		Table:           rc.Table,
		CommitTimestamp: parseTime(rc.CommitTimestamp),
		Raw:             rc.Raw,
	}
	if hasRecord(rc.Record) {
		var row taskRow
		if err := json.Unmarshal(rc.Record, &row); err != nil {
			return service.Change{}, fmt.Errorf("decode record: %w", err)
		}
		change.New = row.task()
	}
	if hasRecord(rc.OldRecord) {
		var row taskRow
		if err := json.Unmarshal(rc.OldRecord, &row); err != nil {
			return service.Change{}, fmt.Errorf("decode old record: %w", err)
		}
		change.Old = row.task()
	}
	return change, nil
}

func hasRecord(raw json.RawMessage) bool {
	s := string(bytes.TrimSpace(raw))
	return s != "" && s != "null" && s != "{}"
}

func idFilter(id int64) url.Values {
	return url.Values{"id": {"eq." + strconv.FormatInt(id, 10)}}
}

func (c *Client) do(ctx context.Context, method string, query url.Values, headers http.Header, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	u := c.baseURL + restPath + url.PathEscape(c.table)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.schema != "public" {
		if method == http.MethodGet {
			req.Header.Set("Accept-Profile", c.schema)
		} else {
			req.Header.Set("Content-Profile", c.schema)
		}
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return wrapError(decodeError(resp))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
