package types

import (
	"slices"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Role         Role      `json:"role"`
	Blocked      bool      `json:"blocked,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeVideo  MessageType = "video"
	MessageTypeAudio  MessageType = "audio"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo,
		MessageTypeAudio, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

// MessageStatus is the delivery state of a message. StatusSending only
// ever exists on the client before the server acknowledges the send.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

func (s MessageStatus) Rank() int {
	switch s {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return -1
}

// Advances reports whether moving from s to next is a forward transition.
func (s MessageStatus) Advances(next MessageStatus) bool {
	return next.Rank() > s.Rank()
}

type ReadReceipt struct {
	UserId int       `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

type Message struct {
	Id             int           `json:"id"`
	TempId         string        `json:"temp_id,omitempty"`
	ConversationId int           `json:"conversation_id"`
	SenderId       int           `json:"sender_id"`
	RecipientId    int           `json:"recipient_id,omitempty"`
	GroupId        int           `json:"group_id,omitempty"`
	IsGroupMessage bool          `json:"is_group_message"`
	Text           string        `json:"text,omitempty"`
	MediaURL       string        `json:"media_url,omitempty"`
	MessageType    MessageType   `json:"message_type"`
	Status         MessageStatus `json:"status"`
	ReadBy         []ReadReceipt `json:"read_by,omitempty"`
	IsDeleted      bool          `json:"is_deleted,omitempty"`
	DeletedBy      []int         `json:"deleted_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// HasReadBy reports whether userId already has a read receipt on m.
func (m *Message) HasReadBy(userId int) bool {
	for _, r := range m.ReadBy {
		if r.UserId == userId {
			return true
		}
	}
	return false
}

func (m *Message) DeletedFor(userId int) bool {
	return slices.Contains(m.DeletedBy, userId)
}

type LastMessage struct {
	Text        string      `json:"text"`
	SenderId    int         `json:"sender_id"`
	MessageType MessageType `json:"message_type"`
	Timestamp   time.Time   `json:"timestamp"`
}

type Conversation struct {
	Id                  int          `json:"id"`
	Participants        []int        `json:"participants"`
	LastMessage         *LastMessage `json:"last_message,omitempty"`
	IsGroupConversation bool         `json:"is_group_conversation"`
	GroupId             int          `json:"group_id,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

func (c *Conversation) HasParticipant(userId int) bool {
	return slices.Contains(c.Participants, userId)
}

// CanonicalPair orders a 1:1 pair so that either direction of first
// contact resolves to the same conversation key.
func CanonicalPair(a, b int) (low, high int) {
	if a <= b {
		return a, b
	}
	return b, a
}

type NotificationKind string

const (
	NotificationMessage      NotificationKind = "message"
	NotificationGroupWarning NotificationKind = "group_warning"
	NotificationGroupExpired NotificationKind = "group_expired"
	NotificationGroupInvite  NotificationKind = "group_invite"
	NotificationFollow       NotificationKind = "follow"
)

type Notification struct {
	Id          int              `json:"id" db:"id"`
	RecipientId int              `json:"recipient_id" db:"recipient_id"`
	ActorId     int              `json:"actor_id,omitempty" db:"actor_id"`
	Kind        NotificationKind `json:"kind" db:"kind"`
	GroupId     int              `json:"group_id,omitempty" db:"group_id"`
	Ref         string           `json:"ref,omitempty" db:"ref"`
	Text        string           `json:"text" db:"text"`
	Read        bool             `json:"read" db:"read"`
	Relation    bool             `json:"-" db:"relation"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}
