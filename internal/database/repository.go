package database

import (
	"context"
	"time"

	"github.com/npezzotti/go-messenger/internal/types"
)

// Repository is the persistence collaborator of the messaging core. Every
// implementation maps missing rows to types.ErrNotFound and uniqueness
// violations to types.ErrConflict.
type Repository interface {
	Ping(ctx context.Context) error

	CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error)
	GetAccountById(ctx context.Context, id int) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)

	// FindOrCreateDirectConversation is atomic: concurrent first contact
	// from both sides of a pair yields one conversation.
	FindOrCreateDirectConversation(ctx context.Context, a, b int) (types.Conversation, error)
	GetConversation(ctx context.Context, id int) (types.Conversation, error)
	ListConversations(ctx context.Context, userId int) ([]types.Conversation, error)

	// CreateMessage persists msg and updates the conversation's last message
	// and, for group messages, the group's last activity in one transaction.
	CreateMessage(ctx context.Context, msg types.Message) (types.Message, error)
	GetMessage(ctx context.Context, id int) (types.Message, error)
	ListMessages(ctx context.Context, params ListMessagesParams) ([]types.Message, error)
	// AdvanceMessageStatus moves direct messages addressed to recipientId
	// forward to status and returns only the messages that changed.
	AdvanceMessageStatus(ctx context.Context, recipientId int, ids []int, status types.MessageStatus) ([]types.Message, error)
	// AddReadReceipts appends a receipt for userId to group messages that
	// do not yet carry one and returns the messages that changed.
	AddReadReceipts(ctx context.Context, userId int, ids []int, at time.Time) ([]types.Message, error)
	DeleteMessageForEveryone(ctx context.Context, id, userId int) (types.Message, error)
	DeleteMessageForUser(ctx context.Context, id, userId int) error

	CreateGroup(ctx context.Context, params CreateGroupParams) (types.Group, error)
	GetGroup(ctx context.Context, id int) (types.Group, error)
	ListUserGroups(ctx context.Context, userId int) ([]types.Group, error)
	ListActiveGroups(ctx context.Context) ([]types.Group, error)
	ListExpiredGroupsBefore(ctx context.Context, cutoff time.Time) ([]int, error)
	AddGroupMember(ctx context.Context, groupId, userId int, role types.MemberRole) error
	RemoveGroupMember(ctx context.Context, groupId, userId int) error
	// AddGroupWarnings records tags that are not yet present and returns
	// only those newly recorded.
	AddGroupWarnings(ctx context.Context, groupId int, tags []types.WarningTag, at time.Time) ([]types.WarningTag, error)
	// ExpireGroup reports whether this call moved the group to expired.
	ExpireGroup(ctx context.Context, groupId int, at time.Time) (bool, error)
	// ExtendGroup fails with a validation error for expired groups.
	ExtendGroup(ctx context.Context, groupId int, expiry time.Time) (types.Group, error)
	DeleteGroup(ctx context.Context, groupId int) error

	// UpsertInvite replaces a terminal invite for the same group and
	// invitee and fails with types.ErrConflict while one is pending.
	UpsertInvite(ctx context.Context, invite types.GroupInvite) (types.GroupInvite, error)
	GetInvite(ctx context.Context, id int) (types.GroupInvite, error)
	// UpdateInviteStatus fails with types.ErrConflict when the invite is
	// no longer in status from.
	UpdateInviteStatus(ctx context.Context, id int, from, to types.InviteStatus) (types.GroupInvite, error)
	// AcceptInvite moves a pending invite to accepted and adds the invitee
	// as a member in one step. It fails with types.ErrConflict when the
	// invite is no longer pending.
	AcceptInvite(ctx context.Context, id int) (types.GroupInvite, error)
	ExpireInvites(ctx context.Context, now time.Time) ([]types.GroupInvite, error)

	CreateNotification(ctx context.Context, n types.Notification) (types.Notification, error)
	// UpsertRelationNotification refreshes an unread equivalent instead of
	// creating a duplicate.
	UpsertRelationNotification(ctx context.Context, n types.Notification) (types.Notification, error)
	DeleteRelationNotification(ctx context.Context, key RelationKey) (int, error)
	ListNotifications(ctx context.Context, recipientId, limit int) ([]types.Notification, error)
	MarkNotificationsRead(ctx context.Context, recipientId int, ids []int) (int, error)
	DeleteReadNotificationsBefore(ctx context.Context, cutoff time.Time) (int, error)
}
