package types

import (
	"slices"
	"time"
)

type MemberRole string

const (
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleMember MemberRole = "member"
)

type GroupMember struct {
	UserId   int        `json:"user_id"`
	Role     MemberRole `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}

// WarningTag names an expiry warning. A tag is recorded on a group once
// and never sent again for that group.
type WarningTag string

const (
	Warning7d  WarningTag = "7d"
	Warning1d  WarningTag = "1d"
	Warning24h WarningTag = "24h"
)

type GroupSettings struct {
	OnlyAdminsCanMessage bool `json:"only_admins_can_message"`
	AllowMemberInvites   bool `json:"allow_member_invites"`
}

type Group struct {
	Id             int           `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	CreatorId      int           `json:"creator_id"`
	ConversationId int           `json:"conversation_id"`
	Members        []GroupMember `json:"members"`
	ExpiryDate     time.Time     `json:"expiry_date"`
	IsExpired      bool          `json:"is_expired"`
	IsActive       bool          `json:"is_active"`
	ExpiredAt      *time.Time    `json:"expired_at,omitempty"`
	Warnings       []WarningTag  `json:"warnings"`
	Settings       GroupSettings `json:"settings"`
	LastActivity   time.Time     `json:"last_activity"`
	CreatedAt      time.Time     `json:"created_at"`
}

func (g *Group) member(userId int) (GroupMember, bool) {
	for _, m := range g.Members {
		if m.UserId == userId {
			return m, true
		}
	}
	return GroupMember{}, false
}

func (g *Group) IsMember(userId int) bool {
	if userId == g.CreatorId {
		return true
	}
	_, ok := g.member(userId)
	return ok
}

// IsAdmin treats the creator as an admin regardless of the stored role.
func (g *Group) IsAdmin(userId int) bool {
	if userId == g.CreatorId {
		return true
	}
	m, ok := g.member(userId)
	return ok && m.Role == MemberRoleAdmin
}

// AdminIds returns the creator followed by every other admin.
func (g *Group) AdminIds() []int {
	ids := []int{g.CreatorId}
	for _, m := range g.Members {
		if m.Role == MemberRoleAdmin && m.UserId != g.CreatorId {
			ids = append(ids, m.UserId)
		}
	}
	return ids
}

func (g *Group) MemberIds() []int {
	ids := []int{g.CreatorId}
	for _, m := range g.Members {
		if m.UserId != g.CreatorId {
			ids = append(ids, m.UserId)
		}
	}
	return ids
}

func (g *Group) HasWarning(tag WarningTag) bool {
	return slices.Contains(g.Warnings, tag)
}

// IsExpiredAt reports whether the group is read-only at now. A group whose
// expiry date has passed is expired even before a sweep records it.
func (g *Group) IsExpiredAt(now time.Time) bool {
	return g.IsExpired || !now.Before(g.ExpiryDate)
}

// CheckSend validates that userId may post to the group at now.
func (g *Group) CheckSend(userId int, now time.Time) error {
	if g.IsExpiredAt(now) {
		return NewValidationError("group expired")
	}
	if !g.IsMember(userId) {
		return NewValidationError("not a member of this group")
	}
	if g.Settings.OnlyAdminsCanMessage && !g.IsAdmin(userId) {
		return NewValidationError("only admins can message here")
	}
	return nil
}

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteRejected InviteStatus = "rejected"
	InviteExpired  InviteStatus = "expired"
)

func (s InviteStatus) Terminal() bool {
	return s != InvitePending
}

type GroupInvite struct {
	Id         int          `json:"id" db:"id"`
	GroupId    int          `json:"group_id" db:"group_id"`
	InviterId  int          `json:"inviter_id" db:"inviter_id"`
	InviteeId  int          `json:"invitee_id" db:"invitee_id"`
	Status     InviteStatus `json:"status" db:"status"`
	Code       string       `json:"code" db:"code"`
	ExpiryDate time.Time    `json:"expiry_date" db:"expiry_date"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at" db:"updated_at"`
}
