package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/npezzotti/go-messenger/internal/protocol"
)

type EnvelopeKind string

const (
	EnvelopeUser  EnvelopeKind = "user"
	EnvelopeRoom  EnvelopeKind = "room"
	EnvelopeEvict EnvelopeKind = "evict"
)

// Envelope carries a push between server instances.
type Envelope struct {
	Origin  string                  `json:"origin"`
	Kind    EnvelopeKind            `json:"kind"`
	UserId  int                     `json:"user_id,omitempty"`
	GroupId int                     `json:"group_id,omitempty"`
	Skip    string                  `json:"skip,omitempty"`
	Message *protocol.ServerMessage `json:"message,omitempty"`
}

// Fanout relays envelopes to every other instance sharing the backend.
type Fanout interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe blocks until ctx is done, calling deliver for envelopes
	// published by other instances.
	Subscribe(ctx context.Context, deliver func(Envelope)) error
	Close() error
}

// LocalFanout is used by a single instance deployment.
type LocalFanout struct{}

func (LocalFanout) Publish(context.Context, Envelope) error { return nil }

func (LocalFanout) Subscribe(ctx context.Context, _ func(Envelope)) error {
	<-ctx.Done()
	return nil
}

func (LocalFanout) Close() error { return nil }

type RedisFanout struct {
	client  *redis.Client
	channel string
	log     *slog.Logger

	// origin is set by Subscribe so self-published envelopes are skipped.
	originMu sync.RWMutex
	origin   string

	ready     chan struct{}
	readyOnce sync.Once
}

func NewRedisFanout(addr, password, channel string, log *slog.Logger) *RedisFanout {
	return &RedisFanout{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		channel: channel,
		log:     log.With("component", "fanout", "channel", channel),
		ready:   make(chan struct{}),
	}
}

// Ping checks the connection to redis.
func (f *RedisFanout) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Ready is closed once the subscription is confirmed.
func (f *RedisFanout) Ready() <-chan struct{} {
	return f.ready
}

// SetOrigin names the local instance. Envelopes carrying this origin are
// not delivered back to it.
func (f *RedisFanout) SetOrigin(origin string) {
	f.originMu.Lock()
	defer f.originMu.Unlock()
	f.origin = origin
}

func (f *RedisFanout) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return f.client.Publish(ctx, f.channel, payload).Err()
}

func (f *RedisFanout) Subscribe(ctx context.Context, deliver func(Envelope)) error {
	sub := f.client.Subscribe(ctx, f.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", f.channel, err)
	}
	f.readyOnce.Do(func() { close(f.ready) })
	f.log.Info("subscribed to fanout channel")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}

			var env Envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				f.log.Warn("dropping malformed envelope", "error", err)
				continue
			}

			f.originMu.RLock()
			self := env.Origin != "" && env.Origin == f.origin
			f.originMu.RUnlock()
			if self {
				continue
			}
			deliver(env)
		}
	}
}

func (f *RedisFanout) Close() error {
	return f.client.Close()
}

// RemotePusher publishes pushes for processes that hold no connections of
// their own, such as the standalone sweep.
type RemotePusher struct {
	fanout  Fanout
	origin  string
	timeout time.Duration
	log     *slog.Logger
}

func NewRemotePusher(f Fanout, origin string, log *slog.Logger) *RemotePusher {
	return &RemotePusher{fanout: f, origin: origin, timeout: defaultOpTimeout, log: log}
}

func (p *RemotePusher) publish(env Envelope) {
	env.Origin = p.origin
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.fanout.Publish(ctx, env); err != nil {
		p.log.Error("failed to publish to fanout", "kind", env.Kind, "error", err)
	}
}

func (p *RemotePusher) PushToUser(userId int, msg *protocol.ServerMessage) int {
	p.publish(Envelope{Kind: EnvelopeUser, UserId: userId, Message: msg})
	return 0
}

func (p *RemotePusher) PushToRoom(groupId int, msg *protocol.ServerMessage, skip string) int {
	p.publish(Envelope{Kind: EnvelopeRoom, GroupId: groupId, Skip: skip, Message: msg})
	return 0
}

func (p *RemotePusher) EvictFromRoom(groupId, userId int) {
	p.publish(Envelope{Kind: EnvelopeEvict, GroupId: groupId, UserId: userId})
}
