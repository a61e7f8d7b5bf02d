package database

import (
	"time"

	"github.com/npezzotti/go-messenger/internal/types"
)

// Account is a stored principal including its credential hash.
type Account struct {
	Id           int        `db:"id"`
	Username     string     `db:"username"`
	EmailAddress string     `db:"email"`
	PasswordHash string     `db:"password_hash"`
	Role         types.Role `db:"role"`
	Blocked      bool       `db:"blocked"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

func (a Account) ToUser() types.User {
	return types.User{
		Id:           a.Id,
		Username:     a.Username,
		EmailAddress: a.EmailAddress,
		Role:         a.Role,
		Blocked:      a.Blocked,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
	Role         types.Role
}

type CreateGroupParams struct {
	Name        string
	Description string
	CreatorId   int
	ExpiryDate  time.Time
	Settings    types.GroupSettings
	MemberIds   []int
	CreatedAt   time.Time
}

// ListMessagesParams pages backwards through a conversation. Before is a
// message id cursor; zero starts from the newest message.
type ListMessagesParams struct {
	ConversationId int
	ViewerId       int
	Before         int
	Limit          int
}

const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 200
)

func (p ListMessagesParams) limit() int {
	switch {
	case p.Limit <= 0:
		return DefaultMessageLimit
	case p.Limit > MaxMessageLimit:
		return MaxMessageLimit
	}
	return p.Limit
}

// RelationKey identifies a relationship notification such as a follow or
// a pending invite.
type RelationKey struct {
	Kind        types.NotificationKind
	ActorId     int
	RecipientId int
	Ref         string
}
