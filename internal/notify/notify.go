// Package notify persists per-user notifications and pushes them to any
// live connection of the recipient.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
)

// Store is the slice of the repository the notifier needs.
type Store interface {
	CreateNotification(ctx context.Context, n types.Notification) (types.Notification, error)
	UpsertRelationNotification(ctx context.Context, n types.Notification) (types.Notification, error)
	DeleteRelationNotification(ctx context.Context, key database.RelationKey) (int, error)
	ListNotifications(ctx context.Context, recipientId, limit int) ([]types.Notification, error)
	MarkNotificationsRead(ctx context.Context, recipientId int, ids []int) (int, error)
}

// Pusher delivers a message to every live connection of a user and
// returns how many connections accepted it.
type Pusher interface {
	PushToUser(userId int, msg *protocol.ServerMessage) int
}

type Notifier struct {
	log    *slog.Logger
	store  Store
	pusher Pusher
}

func NewNotifier(log *slog.Logger, store Store, pusher Pusher) *Notifier {
	return &Notifier{
		log:    log.With("component", "notify"),
		store:  store,
		pusher: pusher,
	}
}

// Deliver writes n for its recipient and then attempts a live push. The
// stored record is the source of truth; a recipient without connections
// is not an error.
func (n *Notifier) Deliver(ctx context.Context, note types.Notification) (types.Notification, error) {
	stored, err := n.store.CreateNotification(ctx, note)
	if err != nil {
		return types.Notification{}, fmt.Errorf("store notification: %w", err)
	}
	n.push(stored)
	return stored, nil
}

// DeliverAll sends a copy of note to every recipient. A failure for one
// recipient does not stop delivery to the others.
func (n *Notifier) DeliverAll(ctx context.Context, recipients []int, note types.Notification) (int, error) {
	var errs []error
	delivered := 0
	for _, id := range recipients {
		note.RecipientId = id
		if _, err := n.Deliver(ctx, note); err != nil {
			n.log.Error("failed to deliver notification", "recipient", id, "kind", note.Kind, "error", err)
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}

// Relate records a relationship notification. An unread equivalent is
// refreshed rather than duplicated.
func (n *Notifier) Relate(ctx context.Context, note types.Notification) (types.Notification, error) {
	stored, err := n.store.UpsertRelationNotification(ctx, note)
	if err != nil {
		return types.Notification{}, fmt.Errorf("upsert notification: %w", err)
	}
	n.push(stored)
	return stored, nil
}

// Unrelate deletes the relationship notification matching key.
func (n *Notifier) Unrelate(ctx context.Context, key database.RelationKey) error {
	if _, err := n.store.DeleteRelationNotification(ctx, key); err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}

func (n *Notifier) List(ctx context.Context, recipientId, limit int) ([]types.Notification, error) {
	return n.store.ListNotifications(ctx, recipientId, limit)
}

func (n *Notifier) MarkRead(ctx context.Context, recipientId int, ids []int) (int, error) {
	return n.store.MarkNotificationsRead(ctx, recipientId, ids)
}

func (n *Notifier) push(note types.Notification) {
	if n.pusher == nil {
		return
	}
	if n.pusher.PushToUser(note.RecipientId, protocol.NotificationEvent(&note)) == 0 {
		n.log.Debug("recipient offline, notification stored only", "recipient", note.RecipientId, "id", note.Id)
	}
}
