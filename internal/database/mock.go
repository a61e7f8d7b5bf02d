package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/npezzotti/go-messenger/internal/types"
)

type MockRepository struct {
	mock.Mock
}

var _ Repository = (*MockRepository)(nil)

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Account), args.Error(1)
}

func (m *MockRepository) GetAccountById(ctx context.Context, id int) (Account, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Account), args.Error(1)
}

func (m *MockRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(Account), args.Error(1)
}

func (m *MockRepository) FindOrCreateDirectConversation(ctx context.Context, a, b int) (types.Conversation, error) {
	args := m.Called(ctx, a, b)
	return args.Get(0).(types.Conversation), args.Error(1)
}

func (m *MockRepository) GetConversation(ctx context.Context, id int) (types.Conversation, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Conversation), args.Error(1)
}

func (m *MockRepository) ListConversations(ctx context.Context, userId int) ([]types.Conversation, error) {
	args := m.Called(ctx, userId)
	v, _ := args.Get(0).([]types.Conversation)
	return v, args.Error(1)
}

func (m *MockRepository) CreateMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockRepository) GetMessage(ctx context.Context, id int) (types.Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockRepository) ListMessages(ctx context.Context, params ListMessagesParams) ([]types.Message, error) {
	args := m.Called(ctx, params)
	v, _ := args.Get(0).([]types.Message)
	return v, args.Error(1)
}

func (m *MockRepository) AdvanceMessageStatus(ctx context.Context, recipientId int, ids []int, status types.MessageStatus) ([]types.Message, error) {
	args := m.Called(ctx, recipientId, ids, status)
	v, _ := args.Get(0).([]types.Message)
	return v, args.Error(1)
}

func (m *MockRepository) AddReadReceipts(ctx context.Context, userId int, ids []int, at time.Time) ([]types.Message, error) {
	args := m.Called(ctx, userId, ids, at)
	v, _ := args.Get(0).([]types.Message)
	return v, args.Error(1)
}

func (m *MockRepository) DeleteMessageForEveryone(ctx context.Context, id, userId int) (types.Message, error) {
	args := m.Called(ctx, id, userId)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockRepository) DeleteMessageForUser(ctx context.Context, id, userId int) error {
	args := m.Called(ctx, id, userId)
	return args.Error(0)
}

func (m *MockRepository) CreateGroup(ctx context.Context, params CreateGroupParams) (types.Group, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Group), args.Error(1)
}

func (m *MockRepository) GetGroup(ctx context.Context, id int) (types.Group, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Group), args.Error(1)
}

func (m *MockRepository) ListUserGroups(ctx context.Context, userId int) ([]types.Group, error) {
	args := m.Called(ctx, userId)
	v, _ := args.Get(0).([]types.Group)
	return v, args.Error(1)
}

func (m *MockRepository) ListActiveGroups(ctx context.Context) ([]types.Group, error) {
	args := m.Called(ctx)
	v, _ := args.Get(0).([]types.Group)
	return v, args.Error(1)
}

func (m *MockRepository) ListExpiredGroupsBefore(ctx context.Context, cutoff time.Time) ([]int, error) {
	args := m.Called(ctx, cutoff)
	v, _ := args.Get(0).([]int)
	return v, args.Error(1)
}

func (m *MockRepository) AddGroupMember(ctx context.Context, groupId, userId int, role types.MemberRole) error {
	args := m.Called(ctx, groupId, userId, role)
	return args.Error(0)
}

func (m *MockRepository) RemoveGroupMember(ctx context.Context, groupId, userId int) error {
	args := m.Called(ctx, groupId, userId)
	return args.Error(0)
}

func (m *MockRepository) AddGroupWarnings(ctx context.Context, groupId int, tags []types.WarningTag, at time.Time) ([]types.WarningTag, error) {
	args := m.Called(ctx, groupId, tags, at)
	v, _ := args.Get(0).([]types.WarningTag)
	return v, args.Error(1)
}

func (m *MockRepository) ExpireGroup(ctx context.Context, groupId int, at time.Time) (bool, error) {
	args := m.Called(ctx, groupId, at)
	return args.Get(0).(bool), args.Error(1)
}

func (m *MockRepository) ExtendGroup(ctx context.Context, groupId int, expiry time.Time) (types.Group, error) {
	args := m.Called(ctx, groupId, expiry)
	return args.Get(0).(types.Group), args.Error(1)
}

func (m *MockRepository) DeleteGroup(ctx context.Context, groupId int) error {
	args := m.Called(ctx, groupId)
	return args.Error(0)
}

func (m *MockRepository) UpsertInvite(ctx context.Context, invite types.GroupInvite) (types.GroupInvite, error) {
	args := m.Called(ctx, invite)
	return args.Get(0).(types.GroupInvite), args.Error(1)
}

func (m *MockRepository) GetInvite(ctx context.Context, id int) (types.GroupInvite, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.GroupInvite), args.Error(1)
}

func (m *MockRepository) UpdateInviteStatus(ctx context.Context, id int, from, to types.InviteStatus) (types.GroupInvite, error) {
	args := m.Called(ctx, id, from, to)
	return args.Get(0).(types.GroupInvite), args.Error(1)
}

func (m *MockRepository) AcceptInvite(ctx context.Context, id int) (types.GroupInvite, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.GroupInvite), args.Error(1)
}

func (m *MockRepository) ExpireInvites(ctx context.Context, now time.Time) ([]types.GroupInvite, error) {
	args := m.Called(ctx, now)
	v, _ := args.Get(0).([]types.GroupInvite)
	return v, args.Error(1)
}

func (m *MockRepository) CreateNotification(ctx context.Context, n types.Notification) (types.Notification, error) {
	args := m.Called(ctx, n)
	return args.Get(0).(types.Notification), args.Error(1)
}

func (m *MockRepository) UpsertRelationNotification(ctx context.Context, n types.Notification) (types.Notification, error) {
	args := m.Called(ctx, n)
	return args.Get(0).(types.Notification), args.Error(1)
}

func (m *MockRepository) DeleteRelationNotification(ctx context.Context, key RelationKey) (int, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int), args.Error(1)
}

func (m *MockRepository) ListNotifications(ctx context.Context, recipientId, limit int) ([]types.Notification, error) {
	args := m.Called(ctx, recipientId, limit)
	v, _ := args.Get(0).([]types.Notification)
	return v, args.Error(1)
}

func (m *MockRepository) MarkNotificationsRead(ctx context.Context, recipientId int, ids []int) (int, error) {
	args := m.Called(ctx, recipientId, ids)
	return args.Get(0).(int), args.Error(1)
}

func (m *MockRepository) DeleteReadNotificationsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int), args.Error(1)
}
