package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"
	eventSystem    = "system"
	eventToken     = "access_token"

	phoenixTopic = "phoenix"
	writeTimeout = 10 * time.Second
)

// message is a Phoenix v1 JSON frame.
type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	Broadcast       broadcastConfig `json:"broadcast"`
	Presence        presenceConfig  `json:"presence"`
	PostgresChanges []Filter        `json:"postgres_changes"`
	Private         bool            `json:"private"`
}

type broadcastConfig struct {
	Ack  bool `json:"ack"`
	Self bool `json:"self"`
}

type presenceConfig struct {
	Key string `json:"key"`
}

type reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

func (r reply) reason() string {
	var body struct {
		Reason string `json:"reason"`
	}
	if json.Unmarshal(r.Response, &body) == nil && body.Reason != "" {
		return body.Reason
	}
	if len(r.Response) > 0 {
		return string(r.Response)
	}
	return r.Status
}

type changesPayload struct {
	IDs  []int64         `json:"ids"`
	Data json.RawMessage `json:"data"`
}

// Channel is a joined realtime channel.
type Channel struct {
	conn     *websocket.Conn
	topic    string
	joinRef  string
	handlers Handlers
	logger   *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	ref     int
	pending map[string]chan reply
	closing bool

	done      chan struct{}
	closeOnce sync.Once
}

func newChannel(conn *websocket.Conn, topic string, h Handlers, logger *slog.Logger) *Channel {
	return &Channel{
		conn:     conn,
		topic:    topic,
		handlers: h,
		logger:   logger,
		pending:  make(map[string]chan reply),
		done:     make(chan struct{}),
	}
}

// Topic returns the joined topic, e.g. realtime:tasks.
func (c *Channel) Topic() string {
	return c.topic
}

// Done is closed when the read loop exits: after Close, when the server
// closes the channel, or when the connection drops.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// SetAccessToken pushes a refreshed access token to the server.
func (c *Channel) SetAccessToken(token string) error {
	return c.send(c.topic, eventToken, map[string]string{"access_token": token}, c.nextRef())
}

// Close leaves the channel and closes the connection.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	if err := c.send(c.topic, eventLeave, struct{}{}, c.nextRef()); err != nil {
		c.logger.Debug("leave failed", "error", err)
	}

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done
	c.notify(StatusClosed, nil)
	return err
}

func (c *Channel) nextRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref++
	return strconv.Itoa(c.ref)
}

// await registers a reply slot for ref.
func (c *Channel) await(ref string) <-chan reply {
	ch := make(chan reply, 1)
	c.mu.Lock()
	c.pending[ref] = ch
	c.mu.Unlock()
	return ch
}

func (c *Channel) send(topic, event string, payload any, ref string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := message{Topic: topic, Event: event, Payload: body, Ref: &ref}
	if topic != phoenixTopic && c.joinRef != "" {
		joinRef := c.joinRef
		msg.JoinRef = &joinRef
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

// shutdown closes the connection without leaving; used when the join fails.
func (c *Channel) shutdown() {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	c.conn.Close()
	<-c.done
}

func (c *Channel) notify(status Status, err error) {
	if c.handlers.OnStatus != nil {
		c.handlers.OnStatus(status, err)
	}
}

func (c *Channel) readLoop() {
	defer c.closeOnce.Do(func() { close(c.done) })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if !closing {
				c.logger.Warn("realtime connection lost", "error", err)
				c.notify(StatusChannelError, err)
			}
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed realtime frame", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Channel) dispatch(msg message) {
	switch msg.Event {
	case eventReply:
		var r reply
		if err := json.Unmarshal(msg.Payload, &r); err != nil {
			c.logger.Warn("dropping malformed reply", "error", err)
			return
		}
		if msg.Ref == nil {
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[*msg.Ref]
		delete(c.pending, *msg.Ref)
		c.mu.Unlock()
		if ok {
			ch <- r
		}

	case eventChanges:
		if msg.Topic != c.topic {
			return
		}
		change, err := decodeChange(msg.Payload)
		if err != nil {
			c.logger.Warn("dropping malformed change", "error", err)
			return
		}
		if c.handlers.OnChange != nil {
			c.handlers.OnChange(change)
		}

	case eventError:
		c.notify(StatusChannelError, fmt.Errorf("channel error: %s", string(msg.Payload)))

	case eventClose:
		if msg.Topic != c.topic {
			return
		}
		// The server dropped the channel; the socket has nothing left to carry.
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		c.logger.Warn("realtime channel closed by server")
		c.notify(StatusClosed, nil)
		c.conn.Close()

	case eventSystem:
		c.logger.Debug("realtime system message", "payload", string(msg.Payload))

	default:
		c.logger.Debug("ignoring realtime event", "event", msg.Event, "topic", msg.Topic)
	}
}

func decodeChange(payload json.RawMessage) (Change, error) {
	var p changesPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Change{}, err
	}
	if len(p.Data) == 0 {
		return Change{}, errors.New("missing data")
	}
	var change Change
	if err := json.Unmarshal(p.Data, &change); err != nil {
		return Change{}, err
	}
	change.Raw = payload
	return change, nil
}

func (c *Channel) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.send(phoenixTopic, eventHeartbeat, struct{}{}, c.nextRef()); err != nil {
				c.logger.Debug("heartbeat failed", "error", err)
				return
			}
		case <-c.done:
			return
		}
	}
}
