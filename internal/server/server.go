package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/notify"
	"github.com/npezzotti/go-messenger/internal/presence"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/stats"
)

const defaultOpTimeout = 5 * time.Second

type handlerFunc func(ctx context.Context, c *Client, msg *protocol.ClientMessage)

// ChatServer owns the presence registry and room membership of this
// process and routes client events to their handlers.
type ChatServer struct {
	log        *slog.Logger
	db         database.Repository
	stats      stats.StatsProvider
	presence   *presence.Registry
	rooms      *presence.Rooms
	notifier   *notify.Notifier
	fanout     Fanout
	instanceId string
	opTimeout  time.Duration
	handlers   map[protocol.EventKind]handlerFunc

	clientsLock sync.Mutex
	clients     map[*Client]struct{}
}

type Option func(*ChatServer)

// WithFanout relays pushes to other server instances.
func WithFanout(f Fanout) Option {
	return func(cs *ChatServer) {
		cs.fanout = f
	}
}

// WithOpTimeout bounds the persistence work done for a single event.
func WithOpTimeout(d time.Duration) Option {
	return func(cs *ChatServer) {
		if d > 0 {
			cs.opTimeout = d
		}
	}
}

func NewChatServer(logger *slog.Logger, db database.Repository, su stats.StatsProvider, opts ...Option) *ChatServer {
	cs := &ChatServer{
		log:        logger.With("component", "chat"),
		db:         db,
		stats:      su,
		presence:   presence.NewRegistry(logger),
		rooms:      presence.NewRooms(),
		fanout:     LocalFanout{},
		instanceId: uuid.NewString(),
		opTimeout:  defaultOpTimeout,
		clients:    make(map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(cs)
	}
	if o, ok := cs.fanout.(interface{ SetOrigin(string) }); ok {
		o.SetOrigin(cs.instanceId)
	}
	cs.notifier = notify.NewNotifier(logger, db, cs)
	cs.handlers = map[protocol.EventKind]handlerFunc{
		protocol.EventSendDirect:    cs.sendDirectMessage,
		protocol.EventSendGroup:     cs.sendGroupMessage,
		protocol.EventJoinGroup:     cs.joinGroupRoom,
		protocol.EventLeaveGroup:    cs.leaveGroupRoom,
		protocol.EventTyping:        cs.typing,
		protocol.EventStopTyping:    cs.stopTyping,
		protocol.EventMarkDelivered: cs.markDelivered,
		protocol.EventMarkRead:      cs.markRead,
	}

	for _, name := range stats.AllMetrics {
		su.RegisterMetric(name)
	}

	return cs
}

func (cs *ChatServer) Presence() *presence.Registry {
	return cs.presence
}

func (cs *ChatServer) Rooms() *presence.Rooms {
	return cs.rooms
}

func (cs *ChatServer) Notifier() *notify.Notifier {
	return cs.notifier
}

func (cs *ChatServer) InstanceId() string {
	return cs.instanceId
}

// RegisterClient adds the connection to the presence registry, which
// broadcasts the new online list.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.addClient(c)
	cs.presence.Register(c, c.user.Role)
	cs.stats.Incr(stats.Connections)
	cs.log.Info("client connected", "user", c.user.Id, "conn", c.id, "role", c.user.Role)
}

// UnregisterClient removes the connection from presence and every room.
func (cs *ChatServer) UnregisterClient(c *Client) {
	if !cs.removeClient(c) {
		return
	}
	cs.presence.Unregister(c.id)
	cs.rooms.LeaveAll(c.id)
	cs.stats.Decr(stats.Connections)
	cs.log.Info("client disconnected", "user", c.user.Id, "conn", c.id)
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) bool {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	if _, ok := cs.clients[c]; !ok {
		return false
	}
	delete(cs.clients, c)
	return true
}

func (cs *ChatServer) getClients() []*Client {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	clients := make([]*Client, 0, len(cs.clients))
	for c := range cs.clients {
		clients = append(clients, c)
	}
	return clients
}

// PushToUser delivers msg to every local connection of userId and relays
// it to other instances. The return value counts local deliveries only.
func (cs *ChatServer) PushToUser(userId int, msg *protocol.ServerMessage) int {
	n := cs.presence.SendToPrincipal(userId, msg)
	cs.publish(Envelope{Kind: EnvelopeUser, UserId: userId, Message: msg})
	return n
}

// PushToRoom broadcasts msg to every connection joined to the group,
// skipping the connection id skip when it is set.
func (cs *ChatServer) PushToRoom(groupId int, msg *protocol.ServerMessage, skip string) int {
	n := cs.rooms.Broadcast(groupId, msg, skip)
	cs.publish(Envelope{Kind: EnvelopeRoom, GroupId: groupId, Skip: skip, Message: msg})
	return n
}

// EvictFromRoom removes every connection of userId from the group room.
func (cs *ChatServer) EvictFromRoom(groupId, userId int) {
	cs.rooms.Evict(groupId, userId)
	cs.publish(Envelope{Kind: EnvelopeEvict, GroupId: groupId, UserId: userId})
}

func (cs *ChatServer) publish(env Envelope) {
	env.Origin = cs.instanceId
	ctx, cancel := context.WithTimeout(context.Background(), cs.opTimeout)
	defer cancel()
	if err := cs.fanout.Publish(ctx, env); err != nil {
		cs.log.Error("failed to publish to fanout", "kind", env.Kind, "error", err)
	}
}

// deliverRemote applies an envelope published by another instance to the
// local registry and rooms.
func (cs *ChatServer) deliverRemote(env Envelope) {
	switch env.Kind {
	case EnvelopeUser:
		cs.presence.SendToPrincipal(env.UserId, env.Message)
	case EnvelopeRoom:
		cs.rooms.Broadcast(env.GroupId, env.Message, env.Skip)
	case EnvelopeEvict:
		cs.rooms.Evict(env.GroupId, env.UserId)
	default:
		cs.log.Warn("unknown fanout envelope", "kind", env.Kind)
	}
}

// Run consumes envelopes from other instances until ctx is cancelled.
func (cs *ChatServer) Run(ctx context.Context) error {
	return cs.fanout.Subscribe(ctx, cs.deliverRemote)
}

func (cs *ChatServer) dispatch(c *Client, msg *protocol.ClientMessage) {
	kind := msg.Kind()
	h, ok := cs.handlers[kind]
	if !ok {
		cs.log.Debug("unroutable client message", "conn", c.id, "id", msg.Id)
		c.queueMessage(protocol.ErrInvalidMessage(msg.Id))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cs.opTimeout)
	defer cancel()
	h(ctx, c, msg)
}

// Shutdown stops every client and waits for them to unregister.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info("shutting down chat server")
	for _, c := range cs.getClients() {
		c.stopClient()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		cs.clientsLock.Lock()
		remaining := len(cs.clients)
		cs.clientsLock.Unlock()
		if remaining == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
