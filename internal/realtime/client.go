// Package realtime is a client for the hosted backend's Phoenix-channel
// change feed. One Channel owns one websocket connection.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultHeartbeat is the interval between heartbeats on the phoenix topic.
	DefaultHeartbeat = 25 * time.Second

	// DefaultJoinTimeout bounds the wait for the join reply.
	DefaultJoinTimeout = 10 * time.Second

	protocolVersion = "1.0.0"
	websocketPath   = "/realtime/v1/websocket"
)

// Status reports the state of a channel.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusClosed       Status = "CLOSED"
)

// Filter selects the row changes a channel receives.
type Filter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// Change is a decoded postgres_changes event.
type Change struct {
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	Type            string          `json:"type"`
	CommitTimestamp string          `json:"commit_timestamp"`
	Record          json.RawMessage `json:"record"`
	OldRecord       json.RawMessage `json:"old_record"`

	// Raw is the full event payload as received.
	Raw json.RawMessage `json:"-"`
}

// Handlers are invoked from the channel's read goroutine, in delivery order.
type Handlers struct {
	OnChange func(Change)
	OnStatus func(Status, error)
}

// Client opens channels against one realtime endpoint.
type Client struct {
	endpoint    string
	apiKey      string
	dialer      *websocket.Dialer
	heartbeat   time.Duration
	joinTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHeartbeat sets the heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) { c.heartbeat = d }
}

// WithJoinTimeout sets how long Subscribe waits for the join reply.
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Client) { c.joinTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// NewClient creates a client for the websocket endpoint, e.g.
// wss://xyz.supabase.co/realtime/v1/websocket.
func NewClient(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:    endpoint,
		apiKey:      apiKey,
		dialer:      websocket.DefaultDialer,
		heartbeat:   DefaultHeartbeat,
		joinTimeout: DefaultJoinTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EndpointFromURL derives the websocket endpoint from the backend base URL.
func EndpointFromURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid backend url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid backend url scheme: %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + websocketPath
	u.RawQuery = ""
	return u.String(), nil
}

// Subscribe connects, joins realtime:<name> with the given filters, and
// waits for the join reply. The returned channel stays open until Close or
// until the connection drops.
func (c *Client) Subscribe(ctx context.Context, name string, filters []Filter, accessToken string, h Handlers) (*Channel, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime endpoint: %w", err)
	}
	q := u.Query()
	q.Set("apikey", c.apiKey)
	q.Set("vsn", protocolVersion)
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("realtime connect: %w", err)
	}

	ch := newChannel(conn, "realtime:"+name, h, c.logger.With("channel", name))

	joinRef := ch.nextRef()
	ch.joinRef = joinRef
	replies := ch.await(joinRef)

	payload := joinPayload{
		Config: joinConfig{
			Broadcast:       broadcastConfig{},
			Presence:        presenceConfig{},
			PostgresChanges: filters,
		},
		AccessToken: accessToken,
	}
	if err := ch.send(ch.topic, eventJoin, payload, joinRef); err != nil {
		conn.Close()
		return nil, fmt.Errorf("realtime join: %w", err)
	}

	go ch.readLoop()

	timer := time.NewTimer(c.joinTimeout)
	defer timer.Stop()

	select {
	case r := <-replies:
		if r.Status != "ok" {
			err := fmt.Errorf("realtime join rejected: %s", r.reason())
			ch.notify(StatusChannelError, err)
			ch.shutdown()
			return nil, err
		}
	case <-timer.C:
		err := errors.New("realtime join timed out")
		ch.notify(StatusTimedOut, err)
		ch.shutdown()
		return nil, err
	case <-ch.done:
		ch.shutdown()
		return nil, errors.New("realtime connection closed during join")
	case <-ctx.Done():
		ch.shutdown()
		return nil, ctx.Err()
	}

	ch.notify(StatusSubscribed, nil)
	go ch.heartbeatLoop(c.heartbeat)
	return ch, nil
}
