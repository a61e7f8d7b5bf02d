package server

import (
	"context"
	"slices"

	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
)

func (cs *ChatServer) joinGroupRoom(ctx context.Context, c *Client, msg *protocol.ClientMessage) {
	groupId := msg.Join.GroupId
	g, err := cs.db.GetGroup(ctx, groupId)
	if err != nil {
		if types.IsNotFound(err) {
			c.queueMessage(protocol.ErrGroupNotFound(msg.Id))
			return
		}
		c.log.Error("failed to get group", "group", groupId, "error", err)
		c.queueMessage(protocol.ErrInternalError(msg.Id))
		return
	}

	if !g.IsMember(c.user.Id) {
		c.queueMessage(protocol.ErrForbidden(msg.Id, "not a member of this group"))
		return
	}

	// Expired groups stay readable, so the room can still be joined.
	if cs.rooms.Join(c, g.Id) {
		c.log.Debug("joined group room", "group", g.Id)
	}

	c.queueMessage(protocol.NoErrOK(msg.Id, map[string]any{
		"group_id":   g.Id,
		"is_expired": g.IsExpiredAt(protocol.Now()),
	}))
}

func (cs *ChatServer) leaveGroupRoom(_ context.Context, c *Client, msg *protocol.ClientMessage) {
	if cs.rooms.Leave(c.id, msg.Leave.GroupId) {
		c.log.Debug("left group room", "group", msg.Leave.GroupId)
	}
	c.queueMessage(protocol.NoErrOK(msg.Id, map[string]any{"group_id": msg.Leave.GroupId}))
}

func (cs *ChatServer) typing(_ context.Context, c *Client, msg *protocol.ClientMessage) {
	cs.forwardTyping(c, msg.Typing, true)
}

func (cs *ChatServer) stopTyping(_ context.Context, c *Client, msg *protocol.ClientMessage) {
	cs.forwardTyping(c, msg.StopTyping, false)
}

// forwardTyping is fire-and-forget: invalid targets are dropped silently.
func (cs *ChatServer) forwardTyping(c *Client, t *protocol.Typing, active bool) {
	ev := &protocol.TypingEvent{From: c.user.Id, To: t.To, GroupId: t.GroupId, Active: active}
	switch {
	case t.GroupId != 0:
		if !slices.Contains(cs.rooms.Groups(c.id), t.GroupId) {
			return
		}
		cs.PushToRoom(t.GroupId, protocol.NewEvent(&protocol.Event{Typing: ev}), c.id)
	case t.To != 0 && t.To != c.user.Id:
		cs.PushToUser(t.To, protocol.NewEvent(&protocol.Event{Typing: ev}))
	}
}

func (cs *ChatServer) markDelivered(ctx context.Context, c *Client, msg *protocol.ClientMessage) {
	cs.updateStatus(ctx, c, msg.Id, msg.MarkDelivered, types.StatusDelivered)
}

func (cs *ChatServer) markRead(ctx context.Context, c *Client, msg *protocol.ClientMessage) {
	cs.updateStatus(ctx, c, msg.Id, msg.MarkRead, types.StatusRead)
}

func (cs *ChatServer) updateStatus(ctx context.Context, c *Client, id int, u *protocol.StatusUpdate, status types.MessageStatus) {
	if len(u.MessageIds) == 0 {
		c.queueMessage(protocol.ErrBadRequest(id, "message ids are required"))
		return
	}

	changed, err := cs.db.AdvanceMessageStatus(ctx, c.user.Id, u.MessageIds, status)
	if err != nil {
		c.log.Error("failed to update message status", "status", status, "error", err)
		c.queueMessage(protocol.ErrInternalError(id))
		return
	}

	if status == types.StatusRead {
		receipts, err := cs.db.AddReadReceipts(ctx, c.user.Id, u.MessageIds, protocol.Now())
		if err != nil {
			c.log.Error("failed to add read receipts", "error", err)
			c.queueMessage(protocol.ErrInternalError(id))
			return
		}
		changed = append(changed, receipts...)
	}

	cs.pushStatusChanges(c.user.Id, changed)
	c.queueMessage(protocol.NoErrOK(id, map[string]any{"updated": len(changed)}))
}

// pushStatusChanges tells each sender about the changes to its messages.
func (cs *ChatServer) pushStatusChanges(userId int, changed []types.Message) {
	bySender := make(map[int][]protocol.StatusChange)
	var senders []int
	for _, m := range changed {
		if m.SenderId == 0 || m.SenderId == userId {
			continue
		}
		sc := protocol.StatusChange{MessageId: m.Id}
		if m.IsGroupMessage {
			for i := range m.ReadBy {
				if m.ReadBy[i].UserId == userId {
					sc.ReadBy = &m.ReadBy[i]
				}
			}
		} else {
			sc.Status = m.Status
		}
		if _, ok := bySender[m.SenderId]; !ok {
			senders = append(senders, m.SenderId)
		}
		bySender[m.SenderId] = append(bySender[m.SenderId], sc)
	}

	for _, sender := range senders {
		cs.PushToUser(sender, protocol.NewEvent(&protocol.Event{
			MessageStatus: &protocol.MessageStatus{Changes: bySender[sender]},
		}))
	}
}

// DeleteMessage removes a message for userId alone or, when everyone is
// set, for every participant. Only the sender may delete for everyone.
func (cs *ChatServer) DeleteMessage(ctx context.Context, userId, messageId int, everyone bool) error {
	m, err := cs.db.GetMessage(ctx, messageId)
	if err != nil {
		return err
	}

	conv, err := cs.db.GetConversation(ctx, m.ConversationId)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userId) {
		return types.ForbiddenError("not a participant of this conversation")
	}

	if !everyone {
		return cs.db.DeleteMessageForUser(ctx, messageId, userId)
	}

	deleted, err := cs.db.DeleteMessageForEveryone(ctx, messageId, userId)
	if err != nil {
		return err
	}

	ev := protocol.NewEvent(&protocol.Event{MessageDeleted: &protocol.MessageDeleted{
		MessageId:      deleted.Id,
		ConversationId: deleted.ConversationId,
		GroupId:        deleted.GroupId,
	}})
	if deleted.IsGroupMessage {
		cs.PushToRoom(deleted.GroupId, ev, "")
	} else {
		cs.PushToUser(deleted.RecipientId, ev)
		if deleted.RecipientId != deleted.SenderId {
			cs.PushToUser(deleted.SenderId, ev)
		}
	}
	return nil
}
