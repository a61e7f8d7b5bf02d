package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/types"
)

const previewLength = 80

// errorCode maps a domain error to a status code and a reason that can be
// shown to the sender. Unexpected errors are reported generically.
func errorCode(err error) (int, string) {
	switch {
	case types.IsValidation(err):
		return http.StatusBadRequest, err.Error()
	case types.IsNotFound(err):
		return http.StatusNotFound, err.Error()
	case types.IsForbidden(err):
		return http.StatusForbidden, err.Error()
	case types.IsConflict(err):
		return http.StatusConflict, err.Error()
	}
	return http.StatusInternalServerError, "internal server error"
}

func (cs *ChatServer) rejectSend(c *Client, id int, tempId string, err error) {
	code, reason := errorCode(err)
	if code == http.StatusInternalServerError {
		c.log.Error("send failed", "temp_id", tempId, "error", err)
	} else {
		c.log.Debug("send rejected", "temp_id", tempId, "reason", reason)
	}
	cs.stats.Incr(stats.SendRejected)
	c.queueMessage(protocol.AckError(id, tempId, code, reason))
}

// checkContent validates the payload fields common to every send.
func checkContent(p *protocol.Send) (types.MessageType, error) {
	if p.TempId == "" {
		return "", types.NewValidationError("temp id is required")
	}
	if strings.TrimSpace(p.Text) == "" && strings.TrimSpace(p.MediaURL) == "" {
		return "", types.NewValidationError("message is empty")
	}

	mt := p.MessageType
	if mt == "" {
		mt = types.MessageTypeText
	}
	if !mt.Valid() || mt == types.MessageTypeSystem {
		return "", types.NewValidationError("invalid message type %q", p.MessageType)
	}
	return mt, nil
}

func (cs *ChatServer) sendDirectMessage(ctx context.Context, c *Client, msg *protocol.ClientMessage) {
	p := msg.SendDirect
	m, err := cs.SendDirect(ctx, c.user.Id, p)
	if err != nil {
		cs.rejectSend(c, msg.Id, p.TempId, err)
		return
	}

	c.queueMessage(protocol.AckOK(msg.Id, &m))
	cs.stats.Incr(stats.MessagesSent)

	if cs.PushToUser(m.RecipientId, protocol.DirectMessageEvent(&m)) == 0 {
		c.log.Debug("recipient offline, push dropped", "recipient", m.RecipientId, "message", m.Id)
	}

	if m.RecipientId != m.SenderId {
		_, err := cs.notifier.Deliver(ctx, types.Notification{
			RecipientId: m.RecipientId,
			ActorId:     m.SenderId,
			Kind:        types.NotificationMessage,
			Ref:         strconv.Itoa(m.Id),
			Text:        preview(&m, c.user.Username),
		})
		if err != nil {
			c.log.Error("failed to notify recipient", "recipient", m.RecipientId, "error", err)
		}
	}
}

// SendDirect validates and persists a direct message from senderId.
func (cs *ChatServer) SendDirect(ctx context.Context, senderId int, p *protocol.Send) (types.Message, error) {
	mt, err := checkContent(p)
	if err != nil {
		return types.Message{}, err
	}
	if p.RecipientId == 0 {
		return types.Message{}, types.NewValidationError("recipient is required")
	}

	recipient, err := cs.db.GetAccountById(ctx, p.RecipientId)
	if err != nil {
		if types.IsNotFound(err) {
			return types.Message{}, types.NewValidationError("recipient not found")
		}
		return types.Message{}, err
	}
	if recipient.Blocked {
		return types.Message{}, types.NewValidationError("recipient is unavailable")
	}

	conv, err := cs.db.FindOrCreateDirectConversation(ctx, senderId, recipient.Id)
	if err != nil {
		return types.Message{}, err
	}

	return cs.db.CreateMessage(ctx, types.Message{
		TempId:         p.TempId,
		ConversationId: conv.Id,
		SenderId:       senderId,
		RecipientId:    recipient.Id,
		Text:           p.Text,
		MediaURL:       p.MediaURL,
		MessageType:    mt,
		Status:         types.StatusSent,
		CreatedAt:      protocol.Now(),
	})
}

func (cs *ChatServer) sendGroupMessage(ctx context.Context, c *Client, msg *protocol.ClientMessage) {
	p := msg.SendGroup
	m, err := cs.SendGroup(ctx, c.user.Id, p)
	if err != nil {
		cs.rejectSend(c, msg.Id, p.TempId, err)
		return
	}

	c.queueMessage(protocol.AckOK(msg.Id, &m))
	cs.stats.Incr(stats.MessagesSent)
	cs.PushToRoom(m.GroupId, protocol.GroupMessageEvent(&m), "")
}

// SendGroup validates and persists a group message from senderId. Checks
// run in order: content, group existence, expiry, membership, admin-only.
func (cs *ChatServer) SendGroup(ctx context.Context, senderId int, p *protocol.Send) (types.Message, error) {
	mt, err := checkContent(p)
	if err != nil {
		return types.Message{}, err
	}
	if p.GroupId == 0 {
		return types.Message{}, types.NewValidationError("group is required")
	}

	g, err := cs.db.GetGroup(ctx, p.GroupId)
	if err != nil {
		return types.Message{}, err
	}
	if err := g.CheckSend(senderId, protocol.Now()); err != nil {
		return types.Message{}, err
	}

	return cs.db.CreateMessage(ctx, types.Message{
		TempId:         p.TempId,
		ConversationId: g.ConversationId,
		SenderId:       senderId,
		GroupId:        g.Id,
		IsGroupMessage: true,
		Text:           p.Text,
		MediaURL:       p.MediaURL,
		MessageType:    mt,
		Status:         types.StatusSent,
		CreatedAt:      protocol.Now(),
	})
}

func preview(m *types.Message, sender string) string {
	text := m.Text
	if text == "" {
		text = "sent a " + string(m.MessageType)
	}
	if r := []rune(text); len(r) > previewLength {
		text = string(r[:previewLength]) + "..."
	}
	if sender == "" {
		return text
	}
	return sender + ": " + text
}
