// Package lifecycle moves groups from active to expired and back out of the
// store. It warns admins ahead of expiry, enforces the lifetime cap on
// extensions, and manages invites and membership changes.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/notify"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/types"
)

const (
	DefaultMaxLifetime = 7 * 24 * time.Hour
	DefaultGracePeriod = 30 * 24 * time.Hour
	DefaultInviteTTL   = 72 * time.Hour
	DefaultRetention   = 30 * 24 * time.Hour
	DefaultConcurrency = 8
)

// Pusher delivers live events. The chat server implements it, and so does
// the publish-only pusher used by the standalone sweep.
type Pusher interface {
	PushToUser(userId int, msg *protocol.ServerMessage) int
	PushToRoom(groupId int, msg *protocol.ServerMessage, skip string) int
	EvictFromRoom(groupId, userId int)
}

type Options struct {
	MaxLifetime           time.Duration
	GracePeriod           time.Duration
	InviteTTL             time.Duration
	NotificationRetention time.Duration
	Concurrency           int
}

func (o *Options) setDefaults() {
	if o.MaxLifetime <= 0 {
		o.MaxLifetime = DefaultMaxLifetime
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.InviteTTL <= 0 {
		o.InviteTTL = DefaultInviteTTL
	}
	if o.NotificationRetention <= 0 {
		o.NotificationRetention = DefaultRetention
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
}

type Manager struct {
	log      *slog.Logger
	db       database.Repository
	notifier *notify.Notifier
	pusher   Pusher
	stats    stats.StatsProvider
	opts     Options
	now      func() time.Time
}

func NewManager(log *slog.Logger, db database.Repository, notifier *notify.Notifier, pusher Pusher, su stats.StatsProvider, opts Options) *Manager {
	opts.setDefaults()
	return &Manager{
		log:      log.With("component", "lifecycle"),
		db:       db,
		notifier: notifier,
		pusher:   pusher,
		stats:    su,
		opts:     opts,
		now:      protocol.Now,
	}
}

type CreateGroupInput struct {
	Name        string
	Description string
	ExpiryDate  time.Time
	Settings    types.GroupSettings
	MemberIds   []int
}

// CreateGroup stores a new group with creatorId as its first admin.
func (m *Manager) CreateGroup(ctx context.Context, creatorId int, in CreateGroupInput) (types.Group, error) {
	now := m.now()
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return types.Group{}, types.NewValidationError("group name is required")
	}
	if !in.ExpiryDate.After(now) {
		return types.Group{}, types.NewValidationError("expiry date must be in the future")
	}
	if in.ExpiryDate.After(now.Add(m.opts.MaxLifetime)) {
		return types.Group{}, types.NewValidationError("expiry date exceeds the maximum lifetime of %s", m.opts.MaxLifetime)
	}

	g, err := m.db.CreateGroup(ctx, database.CreateGroupParams{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		CreatorId:   creatorId,
		ExpiryDate:  in.ExpiryDate.UTC(),
		Settings:    in.Settings,
		MemberIds:   in.MemberIds,
		CreatedAt:   now,
	})
	if err != nil {
		return types.Group{}, fmt.Errorf("create group: %w", err)
	}

	for _, id := range g.MemberIds() {
		if id != creatorId {
			m.pusher.PushToUser(id, protocol.MemberChangeEvent(g.Id, id, true))
		}
	}
	m.log.Info("group created", "group", g.Id, "creator", creatorId, "expiry", g.ExpiryDate)
	return g, nil
}

// Extend pushes the expiry of a group forward by hours, capped at the
// maximum lifetime counted from creation. Fired warnings are kept.
func (m *Manager) Extend(ctx context.Context, groupId, actorId, hours int) (types.Group, error) {
	if hours <= 0 {
		return types.Group{}, types.NewValidationError("hours must be positive")
	}

	g, err := m.db.GetGroup(ctx, groupId)
	if err != nil {
		return types.Group{}, err
	}
	if g.IsExpiredAt(m.now()) {
		return types.Group{}, types.NewValidationError("group expired")
	}
	if !g.IsAdmin(actorId) {
		return types.Group{}, types.ForbiddenError("only admins can extend a group")
	}

	limit := g.CreatedAt.Add(m.opts.MaxLifetime)
	if !g.ExpiryDate.Before(limit) {
		return types.Group{}, types.NewValidationError("group is already at its maximum lifetime")
	}
	expiry := g.ExpiryDate.Add(time.Duration(hours) * time.Hour)
	if expiry.After(limit) {
		expiry = limit
	}

	extended, err := m.db.ExtendGroup(ctx, groupId, expiry)
	if err != nil {
		return types.Group{}, err
	}
	m.log.Info("group extended", "group", groupId, "actor", actorId, "expiry", expiry)
	return extended, nil
}

// Leave removes userId from the group. The creator cannot leave.
func (m *Manager) Leave(ctx context.Context, groupId, userId int) error {
	g, err := m.db.GetGroup(ctx, groupId)
	if err != nil {
		return err
	}
	if g.CreatorId == userId {
		return types.NewValidationError("the creator cannot leave the group")
	}
	if !g.IsMember(userId) {
		return types.NewValidationError("not a member of this group")
	}
	return m.removeMember(ctx, groupId, userId)
}

// RemoveMember lets an admin remove another member.
func (m *Manager) RemoveMember(ctx context.Context, groupId, actorId, userId int) error {
	g, err := m.db.GetGroup(ctx, groupId)
	if err != nil {
		return err
	}
	if !g.IsAdmin(actorId) {
		return types.ForbiddenError("only admins can remove members")
	}
	if g.CreatorId == userId {
		return types.NewValidationError("the creator cannot be removed")
	}
	if !g.IsMember(userId) {
		return types.NewValidationError("not a member of this group")
	}
	if err := m.removeMember(ctx, groupId, userId); err != nil {
		return err
	}
	m.pusher.PushToUser(userId, protocol.MemberChangeEvent(groupId, userId, false))
	return nil
}

func (m *Manager) removeMember(ctx context.Context, groupId, userId int) error {
	if err := m.db.RemoveGroupMember(ctx, groupId, userId); err != nil {
		return err
	}
	m.pusher.EvictFromRoom(groupId, userId)
	m.pusher.PushToRoom(groupId, protocol.MemberChangeEvent(groupId, userId, false), "")
	m.log.Info("member left group", "group", groupId, "user", userId)
	return nil
}

// systemMessage appends an announcement to the group conversation and
// broadcasts it to the room.
func (m *Manager) systemMessage(ctx context.Context, g types.Group, text string, at time.Time) error {
	msg, err := m.db.CreateMessage(ctx, types.Message{
		ConversationId: g.ConversationId,
		GroupId:        g.Id,
		IsGroupMessage: true,
		Text:           text,
		MessageType:    types.MessageTypeSystem,
		Status:         types.StatusSent,
		CreatedAt:      at,
	})
	if err != nil {
		return fmt.Errorf("system message: %w", err)
	}
	m.pusher.PushToRoom(g.Id, protocol.GroupMessageEvent(&msg), "")
	return nil
}
