package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
)

const (
	writeWait          = 10 * time.Second
	DefaultBaseBackoff = 500 * time.Millisecond
	DefaultMaxAttempts = 5
)

var ErrNotConnected = errors.New("not connected")

type Options struct {
	URL         string
	Token       string
	UserId      int
	AckTimeout  time.Duration
	BaseBackoff time.Duration
	MaxAttempts int
	Dialer      *websocket.Dialer
	Logger      *slog.Logger

	// OnEvent receives every pushed event after the outbox has seen it.
	OnEvent func(*protocol.Event)
	// OnResponse receives replies to joins, leaves and status updates.
	OnResponse func(id int, resp *protocol.Response)
	// OnReconnect is called after a dropped connection is restored and
	// groups are re-joined. Callers re-fetch history here.
	OnReconnect func()
}

func (o *Options) setDefaults() {
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = DefaultBaseBackoff
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Client keeps one websocket connection to the chat server and restores
// it with exponential backoff when it drops.
type Client struct {
	opts   Options
	log    *slog.Logger
	outbox *Outbox

	mu     sync.Mutex
	conn   *websocket.Conn
	groups map[int]struct{}
	nextId int
	closed bool

	writeMu sync.Mutex
}

func New(opts Options) *Client {
	opts.setDefaults()
	return &Client{
		opts:   opts,
		log:    opts.Logger.With("component", "chatclient", "user", opts.UserId),
		outbox: NewOutbox(opts.UserId, opts.AckTimeout),
		groups: make(map[int]struct{}),
	}
}

func (c *Client) Outbox() *Outbox {
	return c.outbox
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", c.opts.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	return conn, nil
}

// connect dials until it succeeds, the attempts run out or ctx is done.
// The wait doubles after every failed attempt.
func (c *Client) connect(ctx context.Context) error {
	var err error
	wait := c.opts.BaseBackoff
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		var conn *websocket.Conn
		conn, err = c.dial(ctx)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			c.log.Debug("connected", "attempt", attempt)
			return nil
		}

		c.log.Warn("connection attempt failed", "attempt", attempt, "error", err)
		if attempt == c.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("giving up after %d attempts: %w", c.opts.MaxAttempts, err)
}

// Connect opens the first connection.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx)
}

// Run reads from the connection until ctx is done. A dropped connection
// fails every pending send, is re-established and re-joins every group.
func (c *Client) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return ErrNotConnected
		}

		err := c.readLoop(conn)
		if ctx.Err() != nil || c.isClosed() {
			return nil
		}

		c.log.Warn("connection lost", "error", err)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		c.outbox.FailPending("connection lost")

		if err := c.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.rejoin(); err != nil {
			c.log.Warn("failed to re-join groups", "error", err)
		}
		if c.opts.OnReconnect != nil {
			c.opts.OnReconnect()
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg protocol.ServerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug("error parsing message", "error", err)
			continue
		}
		c.handle(&msg)
	}
}

func (c *Client) handle(msg *protocol.ServerMessage) {
	switch {
	case msg.Ack != nil:
		if !c.outbox.Resolve(msg.Ack) {
			c.log.Debug("ignoring ack", "temp_id", msg.Ack.TempId)
		}
	case msg.Response != nil:
		if c.opts.OnResponse != nil {
			c.opts.OnResponse(msg.Id, msg.Response)
		}
	case msg.Event != nil:
		if m := msg.Event.DirectMessage; m != nil {
			c.outbox.Receive(*m)
		}
		if m := msg.Event.GroupMessage; m != nil {
			c.outbox.Receive(*m)
		}
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(msg.Event)
		}
	}
}

func (c *Client) write(msg *protocol.ClientMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.nextId++
	msg.Id = c.nextId
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// SendDirect shows the message immediately and sends it to recipientId.
func (c *Client) SendDirect(recipientId int, text, mediaURL string) (Entry, error) {
	return c.send(Target{RecipientId: recipientId}, protocol.Send{Text: text, MediaURL: mediaURL})
}

// SendGroup shows the message immediately and sends it to the group.
func (c *Client) SendGroup(groupId int, text, mediaURL string) (Entry, error) {
	return c.send(Target{GroupId: groupId}, protocol.Send{Text: text, MediaURL: mediaURL})
}

// Retry resends a failed message as a new entry.
func (c *Client) Retry(tempId string) (Entry, error) {
	e, err := c.outbox.Retry(tempId)
	if err != nil {
		return Entry{}, err
	}
	return e, c.transmit(e)
}

func (c *Client) send(target Target, p protocol.Send) (Entry, error) {
	e, err := c.outbox.Begin(target, p)
	if err != nil {
		return Entry{}, err
	}
	return e, c.transmit(e)
}

func (c *Client) transmit(e Entry) error {
	p := &protocol.Send{
		TempId:      e.TempId,
		RecipientId: e.Target.RecipientId,
		GroupId:     e.Target.GroupId,
		Text:        e.Message.Text,
		MediaURL:    e.Message.MediaURL,
		MessageType: e.Message.MessageType,
	}
	msg := &protocol.ClientMessage{}
	if e.Target.IsGroup() {
		msg.SendGroup = p
	} else {
		msg.SendDirect = p
	}

	if err := c.write(msg); err != nil {
		c.outbox.Fail(e.TempId, err.Error())
		return err
	}
	return nil
}

// JoinGroup subscribes to the group's room. Joined groups are re-joined
// after every reconnect.
func (c *Client) JoinGroup(groupId int) error {
	c.mu.Lock()
	c.groups[groupId] = struct{}{}
	c.mu.Unlock()
	return c.write(&protocol.ClientMessage{Join: &protocol.GroupRef{GroupId: groupId}})
}

func (c *Client) LeaveGroup(groupId int) error {
	c.mu.Lock()
	delete(c.groups, groupId)
	c.mu.Unlock()
	return c.write(&protocol.ClientMessage{Leave: &protocol.GroupRef{GroupId: groupId}})
}

// Groups returns the joined groups in ascending order.
func (c *Client) Groups() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int, 0, len(c.groups))
	for id := range c.groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (c *Client) rejoin() error {
	var errs []error
	for _, id := range c.Groups() {
		if err := c.write(&protocol.ClientMessage{Join: &protocol.GroupRef{GroupId: id}}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) Typing(target Target, active bool) error {
	t := &protocol.Typing{To: target.RecipientId, GroupId: target.GroupId}
	if active {
		return c.write(&protocol.ClientMessage{Typing: t})
	}
	return c.write(&protocol.ClientMessage{StopTyping: t})
}

func (c *Client) MarkDelivered(ids ...int) error {
	return c.write(&protocol.ClientMessage{MarkDelivered: &protocol.StatusUpdate{MessageIds: ids}})
}

func (c *Client) MarkRead(ids ...int) error {
	return c.write(&protocol.ClientMessage{MarkRead: &protocol.StatusUpdate{MessageIds: ids}})
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close sends a close frame and drops the connection. Run returns instead
// of reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return conn.Close()
}

// Timeline is a convenience for rendering: the entries for target with
// their server ids where known.
func (c *Client) Timeline(target Target) []types.Message {
	entries := c.outbox.Entries(target)
	out := make([]types.Message, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}
