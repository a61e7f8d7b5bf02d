package protocol

import (
	"net/http"
	"time"

	"github.com/npezzotti/go-messenger/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a frame sent by a client. Exactly one payload is set.
type ClientMessage struct {
	BaseMessage
	SendDirect    *Send         `json:"send_direct_message,omitempty"`
	SendGroup     *Send         `json:"send_group_message,omitempty"`
	Join          *GroupRef     `json:"join_group_room,omitempty"`
	Leave         *GroupRef     `json:"leave_group_room,omitempty"`
	Typing        *Typing       `json:"typing,omitempty"`
	StopTyping    *Typing       `json:"stop_typing,omitempty"`
	MarkDelivered *StatusUpdate `json:"mark_delivered,omitempty"`
	MarkRead      *StatusUpdate `json:"mark_read,omitempty"`
	UserId        int           `json:"-"`
}

// Kind returns the event kind of the single payload carried by the
// message, or EventUnknown when there is none or more than one.
func (m *ClientMessage) Kind() EventKind {
	kind := EventUnknown
	set := func(present bool, k EventKind) {
		if !present {
			return
		}
		if kind != EventUnknown {
			kind = eventAmbiguous
			return
		}
		kind = k
	}

	set(m.SendDirect != nil, EventSendDirect)
	set(m.SendGroup != nil, EventSendGroup)
	set(m.Join != nil, EventJoinGroup)
	set(m.Leave != nil, EventLeaveGroup)
	set(m.Typing != nil, EventTyping)
	set(m.StopTyping != nil, EventStopTyping)
	set(m.MarkDelivered != nil, EventMarkDelivered)
	set(m.MarkRead != nil, EventMarkRead)

	if kind == eventAmbiguous {
		return EventUnknown
	}
	return kind
}

type Send struct {
	TempId      string            `json:"temp_id"`
	RecipientId int               `json:"recipient_id,omitempty"`
	GroupId     int               `json:"group_id,omitempty"`
	Text        string            `json:"text,omitempty"`
	MediaURL    string            `json:"media_url,omitempty"`
	MessageType types.MessageType `json:"message_type,omitempty"`
}

type GroupRef struct {
	GroupId int `json:"group_id"`
}

type Typing struct {
	To      int `json:"to,omitempty"`
	GroupId int `json:"group_id,omitempty"`
}

type StatusUpdate struct {
	MessageIds []int `json:"message_ids"`
}

type ServerMessage struct {
	BaseMessage
	Ack      *Ack      `json:"ack,omitempty"`
	Response *Response `json:"response,omitempty"`
	Event    *Event    `json:"event,omitempty"`
}

// Ack answers a send. It is correlated with the send by TempId.
type Ack struct {
	Success bool           `json:"success"`
	TempId  string         `json:"temp_id"`
	Message *types.Message `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Code    int            `json:"code,omitempty"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

type Event struct {
	PresenceUpdate *PresenceUpdate     `json:"presence_update,omitempty"`
	ActiveUsers    *ActiveUsers        `json:"active_users,omitempty"`
	DirectMessage  *types.Message      `json:"direct_message,omitempty"`
	GroupMessage   *types.Message      `json:"group_message,omitempty"`
	Typing         *TypingEvent        `json:"typing,omitempty"`
	MessageStatus  *MessageStatus      `json:"message_status,omitempty"`
	MessageDeleted *MessageDeleted     `json:"message_deleted,omitempty"`
	GroupLifecycle *GroupLifecycle     `json:"group_lifecycle,omitempty"`
	MemberChange   *MemberChange       `json:"member_change,omitempty"`
	Notification   *types.Notification `json:"notification,omitempty"`
}

type PresenceUpdate struct {
	Online []int `json:"online"`
}

type ActiveUsers struct {
	Count int `json:"count"`
}

type TypingEvent struct {
	From    int  `json:"from"`
	To      int  `json:"to,omitempty"`
	GroupId int  `json:"group_id,omitempty"`
	Active  bool `json:"active"`
}

type StatusChange struct {
	MessageId int                 `json:"message_id"`
	Status    types.MessageStatus `json:"status,omitempty"`
	ReadBy    *types.ReadReceipt  `json:"read_by,omitempty"`
}

type MessageStatus struct {
	Changes []StatusChange `json:"changes"`
}

type MessageDeleted struct {
	MessageId      int `json:"message_id"`
	ConversationId int `json:"conversation_id"`
	GroupId        int `json:"group_id,omitempty"`
}

type LifecycleKind string

const (
	LifecycleWarning LifecycleKind = "warning"
	LifecycleExpired LifecycleKind = "expired"
)

type GroupLifecycle struct {
	GroupId    int              `json:"group_id"`
	Kind       LifecycleKind    `json:"kind"`
	Tag        types.WarningTag `json:"tag,omitempty"`
	ExpiryDate time.Time        `json:"expiry_date"`
}

type MemberChange struct {
	GroupId int  `json:"group_id"`
	UserId  int  `json:"user_id"`
	Joined  bool `json:"joined"`
}

func AckOK(id int, msg *types.Message) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Ack: &Ack{
			Success: true,
			TempId:  msg.TempId,
			Message: msg,
		},
	}
}

func AckError(id int, tempId string, code int, reason string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Ack: &Ack{
			TempId: tempId,
			Error:  reason,
			Code:   code,
		},
	}
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrGroupNotFound(id int) *ServerMessage {
	return errResponse(id, http.StatusNotFound, "group not found")
}

func ErrForbidden(id int, reason string) *ServerMessage {
	return errResponse(id, http.StatusForbidden, reason)
}

func ErrBadRequest(id int, reason string) *ServerMessage {
	return errResponse(id, http.StatusBadRequest, reason)
}

func ErrInternalError(id int) *ServerMessage {
	return errResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return errResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := errResponse(0, http.StatusBadRequest, "invalid message format")
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func errResponse(id, code int, reason string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        reason,
		},
	}
}

func NewEvent(ev *Event) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event:       ev,
	}
}

func PresenceUpdateEvent(online []int) *ServerMessage {
	return NewEvent(&Event{PresenceUpdate: &PresenceUpdate{Online: online}})
}

func ActiveUsersEvent(count int) *ServerMessage {
	return NewEvent(&Event{ActiveUsers: &ActiveUsers{Count: count}})
}

func DirectMessageEvent(msg *types.Message) *ServerMessage {
	return NewEvent(&Event{DirectMessage: msg})
}

func GroupMessageEvent(msg *types.Message) *ServerMessage {
	return NewEvent(&Event{GroupMessage: msg})
}

func NotificationEvent(n *types.Notification) *ServerMessage {
	return NewEvent(&Event{Notification: n})
}

func LifecycleEvent(groupId int, kind LifecycleKind, tag types.WarningTag, expiry time.Time) *ServerMessage {
	return NewEvent(&Event{GroupLifecycle: &GroupLifecycle{
		GroupId:    groupId,
		Kind:       kind,
		Tag:        tag,
		ExpiryDate: expiry,
	}})
}

func MemberChangeEvent(groupId, userId int, joined bool) *ServerMessage {
	return NewEvent(&Event{MemberChange: &MemberChange{GroupId: groupId, UserId: userId, Joined: joined}})
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
