package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAccounts(t *testing.T, r *MemoryRepository, n int) []int {
	t.Helper()
	ids := make([]int, 0, n)
	for i := range n {
		a, err := r.CreateAccount(context.Background(), CreateAccountParams{
			Username:     "user",
			EmailAddress: string(rune('a'+i)) + "@example.com",
			PasswordHash: "hash",
		})
		require.NoError(t, err)
		ids = append(ids, a.Id)
	}
	return ids
}

func TestMemoryCreateAccount(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	a, err := r.CreateAccount(ctx, CreateAccountParams{Username: "u", EmailAddress: "u@example.com"})
	require.NoError(t, err)
	assert.Equal(t, types.RoleUser, a.Role)

	_, err = r.CreateAccount(ctx, CreateAccountParams{Username: "u2", EmailAddress: "u@example.com"})
	assert.True(t, types.IsConflict(err))

	got, err := r.GetAccountByEmail(ctx, "u@example.com")
	require.NoError(t, err)
	assert.Equal(t, a.Id, got.Id)

	_, err = r.GetAccountById(ctx, 999)
	assert.True(t, types.IsNotFound(err))
}

func TestMemoryFindOrCreateDirectConversationConcurrent(t *testing.T) {
	r := NewMemoryRepository()
	ids := seedAccounts(t, r, 2)
	a, b := ids[0], ids[1]

	var wg sync.WaitGroup
	results := make([]int, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			c, err := r.FindOrCreateDirectConversation(context.Background(), from, to)
			assert.NoError(t, err)
			results[i] = c.Id
		}(i)
	}
	wg.Wait()

	for _, id := range results {
		assert.Equal(t, results[0], id)
	}

	convs, err := r.ListConversations(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.ElementsMatch(t, []int{a, b}, convs[0].Participants)
}

func TestMemoryCreateMessageUpdatesConversation(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	ids := seedAccounts(t, r, 2)
	conv, err := r.FindOrCreateDirectConversation(ctx, ids[0], ids[1])
	require.NoError(t, err)

	msg, err := r.CreateMessage(ctx, types.Message{
		TempId:         "t1",
		ConversationId: conv.Id,
		SenderId:       ids[0],
		RecipientId:    ids[1],
		Text:           "hi",
	})
	require.NoError(t, err)
	assert.NotZero(t, msg.Id)
	assert.Equal(t, "t1", msg.TempId)
	assert.Equal(t, types.StatusSent, msg.Status)
	assert.Equal(t, types.MessageTypeText, msg.MessageType)

	conv, err = r.GetConversation(ctx, conv.Id)
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "hi", conv.LastMessage.Text)
	assert.Equal(t, ids[0], conv.LastMessage.SenderId)

	stored, err := r.GetMessage(ctx, msg.Id)
	require.NoError(t, err)
	assert.Empty(t, stored.TempId, "temp ids are not persisted")

	_, err = r.CreateMessage(ctx, types.Message{ConversationId: conv.Id, SenderId: ids[0], Text: "x"})
	assert.True(t, types.IsValidation(err), "a message needs a recipient or a group")
}

func TestMemoryAdvanceMessageStatus(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	ids := seedAccounts(t, r, 2)
	conv, _ := r.FindOrCreateDirectConversation(ctx, ids[0], ids[1])
	msg, err := r.CreateMessage(ctx, types.Message{ConversationId: conv.Id, SenderId: ids[0], RecipientId: ids[1], Text: "hi"})
	require.NoError(t, err)

	changed, err := r.AdvanceMessageStatus(ctx, ids[0], []int{msg.Id}, types.StatusRead)
	require.NoError(t, err)
	assert.Empty(t, changed, "only the recipient advances status")

	changed, err = r.AdvanceMessageStatus(ctx, ids[1], []int{msg.Id}, types.StatusRead)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, types.StatusRead, changed[0].Status)

	changed, err = r.AdvanceMessageStatus(ctx, ids[1], []int{msg.Id}, types.StatusDelivered)
	require.NoError(t, err)
	assert.Empty(t, changed, "status never regresses")

	got, _ := r.GetMessage(ctx, msg.Id)
	assert.Equal(t, types.StatusRead, got.Status)
}

func TestMemoryReadReceiptsIdempotent(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	ids := seedAccounts(t, r, 3)
	g, err := r.CreateGroup(ctx, CreateGroupParams{
		Name:       "g",
		CreatorId:  ids[0],
		ExpiryDate: time.Now().Add(time.Hour),
		MemberIds:  []int{ids[1]},
	})
	require.NoError(t, err)

	msg, err := r.CreateMessage(ctx, types.Message{
		ConversationId: g.ConversationId,
		SenderId:       ids[0],
		GroupId:        g.Id,
		IsGroupMessage: true,
		Text:           "hello",
	})
	require.NoError(t, err)

	at := time.Now().UTC()
	changed, err := r.AddReadReceipts(ctx, ids[1], []int{msg.Id, msg.Id}, at)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Len(t, changed[0].ReadBy, 1)

	changed, err = r.AddReadReceipts(ctx, ids[1], []int{msg.Id}, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, changed)

	changed, err = r.AddReadReceipts(ctx, ids[2], []int{msg.Id}, at)
	require.NoError(t, err)
	assert.Empty(t, changed, "non members cannot mark group messages read")

	got, _ := r.GetMessage(ctx, msg.Id)
	assert.Len(t, got.ReadBy, 1)
}

func TestMemoryGroupWarningsAndExpiry(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	ids := seedAccounts(t, r, 1)
	g, err := r.CreateGroup(ctx, CreateGroupParams{Name: "g", CreatorId: ids[0], ExpiryDate: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.True(t, g.IsAdmin(ids[0]))
	assert.NotZero(t, g.ConversationId)

	added, err := r.AddGroupWarnings(ctx, g.Id, []types.WarningTag{types.Warning7d, types.Warning1d}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []types.WarningTag{types.Warning7d, types.Warning1d}, added)

	added, err = r.AddGroupWarnings(ctx, g.Id, []types.WarningTag{types.Warning1d, types.Warning24h}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []types.WarningTag{types.Warning24h}, added)

	ok, err := r.ExpireGroup(ctx, g.Id, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.ExpireGroup(ctx, g.Id, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "expiry happens once")

	_, err = r.ExtendGroup(ctx, g.Id, time.Now().Add(48*time.Hour))
	assert.True(t, types.IsValidation(err))

	got, _ := r.GetGroup(ctx, g.Id)
	assert.True(t, got.IsExpired)
	assert.False(t, got.IsActive)

	_, err = r.ExpireGroup(ctx, 999, time.Now())
	assert.True(t, types.IsNotFound(err))
}

func TestMemoryDeleteGroupRemovesMessages(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	ids := seedAccounts(t, r, 1)
	g, _ := r.CreateGroup(ctx, CreateGroupParams{Name: "g", CreatorId: ids[0], ExpiryDate: time.Now().Add(time.Hour)})
	msg, err := r.CreateMessage(ctx, types.Message{ConversationId: g.ConversationId, SenderId: ids[0], GroupId: g.Id, IsGroupMessage: true, Text: "x"})
	require.NoError(t, err)

	require.NoError(t, r.DeleteGroup(ctx, g.Id))

	_, err = r.GetMessage(ctx, msg.Id)
	assert.True(t, types.IsNotFound(err))
	_, err = r.GetConversation(ctx, g.ConversationId)
	assert.True(t, types.IsNotFound(err))
}

func TestMemoryUpsertInvite(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	ids := seedAccounts(t, r, 2)
	g, _ := r.CreateGroup(ctx, CreateGroupParams{Name: "g", CreatorId: ids[0], ExpiryDate: time.Now().Add(time.Hour)})

	invite := types.GroupInvite{GroupId: g.Id, InviterId: ids[0], InviteeId: ids[1], Code: "c1", ExpiryDate: time.Now().Add(time.Hour)}
	first, err := r.UpsertInvite(ctx, invite)
	require.NoError(t, err)
	assert.Equal(t, types.InvitePending, first.Status)

	_, err = r.UpsertInvite(ctx, invite)
	assert.True(t, types.IsConflict(err), "one pending invite per group and invitee")

	_, err = r.UpdateInviteStatus(ctx, first.Id, types.InvitePending, types.InviteRejected)
	require.NoError(t, err)

	_, err = r.UpdateInviteStatus(ctx, first.Id, types.InvitePending, types.InviteAccepted)
	assert.True(t, types.IsConflict(err), "terminal invites cannot change")

	again, err := r.UpsertInvite(ctx, invite)
	require.NoError(t, err)
	assert.Equal(t, first.Id, again.Id, "a terminal invite is replaced rather than duplicated")
	assert.Equal(t, types.InvitePending, again.Status)
}

func TestMemoryAcceptInvite(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	ids := seedAccounts(t, r, 2)
	g, _ := r.CreateGroup(ctx, CreateGroupParams{Name: "g", CreatorId: ids[0], ExpiryDate: time.Now().Add(time.Hour)})

	inv, err := r.UpsertInvite(ctx, types.GroupInvite{GroupId: g.Id, InviterId: ids[0], InviteeId: ids[1], Code: "c1", ExpiryDate: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	accepted, err := r.AcceptInvite(ctx, inv.Id)
	require.NoError(t, err)
	assert.Equal(t, types.InviteAccepted, accepted.Status)

	got, err := r.GetGroup(ctx, g.Id)
	require.NoError(t, err)
	assert.True(t, got.IsMember(ids[1]))

	_, err = r.AcceptInvite(ctx, inv.Id)
	assert.True(t, types.IsConflict(err), "an accepted invite cannot be accepted twice")

	_, err = r.AcceptInvite(ctx, 999)
	assert.True(t, types.IsNotFound(err))
}

func TestMemoryExpireInvites(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	ids := seedAccounts(t, r, 3)
	g, _ := r.CreateGroup(ctx, CreateGroupParams{Name: "g", CreatorId: ids[0], ExpiryDate: time.Now().Add(time.Hour)})
	now := time.Now().UTC()

	_, err := r.UpsertInvite(ctx, types.GroupInvite{GroupId: g.Id, InviterId: ids[0], InviteeId: ids[1], ExpiryDate: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour)})
	require.NoError(t, err)
	_, err = r.UpsertInvite(ctx, types.GroupInvite{GroupId: g.Id, InviterId: ids[0], InviteeId: ids[2], ExpiryDate: now.Add(time.Hour)})
	require.NoError(t, err)

	expired, err := r.ExpireInvites(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, ids[1], expired[0].InviteeId)
	assert.Equal(t, types.InviteExpired, expired[0].Status)
}

func TestMemoryRelationNotifications(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	base := time.Now().UTC()

	n := types.Notification{RecipientId: 2, ActorId: 1, Kind: types.NotificationFollow, Text: "1 followed you", CreatedAt: base}
	first, err := r.UpsertRelationNotification(ctx, n)
	require.NoError(t, err)

	n.CreatedAt = base.Add(time.Minute)
	second, err := r.UpsertRelationNotification(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, first.Id, second.Id)
	assert.Equal(t, base.Add(time.Minute), second.CreatedAt)

	list, err := r.ListNotifications(ctx, 2, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	deleted, err := r.DeleteRelationNotification(ctx, RelationKey{Kind: types.NotificationFollow, ActorId: 1, RecipientId: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	list, _ = r.ListNotifications(ctx, 2, 10)
	assert.Empty(t, list)
}

func TestMemoryNotificationRetention(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	a, _ := r.CreateNotification(ctx, types.Notification{RecipientId: 1, Kind: types.NotificationMessage, CreatedAt: old})
	_, _ = r.CreateNotification(ctx, types.Notification{RecipientId: 1, Kind: types.NotificationMessage, CreatedAt: old})

	marked, err := r.MarkNotificationsRead(ctx, 1, []int{a.Id})
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	deleted, err := r.DeleteReadNotificationsBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted, "unread notifications are kept")
}

func TestMemoryListMessagesPaging(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	ids := seedAccounts(t, r, 2)
	conv, _ := r.FindOrCreateDirectConversation(ctx, ids[0], ids[1])

	var created []types.Message
	for range 5 {
		m, err := r.CreateMessage(ctx, types.Message{ConversationId: conv.Id, SenderId: ids[0], RecipientId: ids[1], Text: "m"})
		require.NoError(t, err)
		created = append(created, m)
	}
	require.NoError(t, r.DeleteMessageForUser(ctx, created[4].Id, ids[1]))

	page, err := r.ListMessages(ctx, ListMessagesParams{ConversationId: conv.Id, ViewerId: ids[1], Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, created[2].Id, page[0].Id)
	assert.Equal(t, created[3].Id, page[1].Id)

	page, err = r.ListMessages(ctx, ListMessagesParams{ConversationId: conv.Id, ViewerId: ids[1], Before: created[2].Id})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	_, err = r.DeleteMessageForEveryone(ctx, created[0].Id, ids[1])
	assert.True(t, types.IsForbidden(err))
	deleted, err := r.DeleteMessageForEveryone(ctx, created[0].Id, ids[0])
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Empty(t, deleted.Text)
}
