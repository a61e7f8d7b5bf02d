package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGroupCheckSend(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	group := Group{
		CreatorId:  1,
		ExpiryDate: now.Add(time.Hour),
		Members: []GroupMember{
			{UserId: 1, Role: MemberRoleAdmin},
			{UserId: 2, Role: MemberRoleMember},
			{UserId: 3, Role: MemberRoleAdmin},
		},
	}

	tcs := []struct {
		name       string
		userId     int
		expired    bool
		at         time.Time
		adminsOnly bool
		reason     string
	}{
		{name: "member may send", userId: 2},
		{name: "creator may send", userId: 1},
		{name: "non member", userId: 9, reason: "not a member of this group"},
		{name: "expired group", userId: 1, expired: true, reason: "group expired"},
		{name: "expiry date reached before sweep", userId: 1, at: now.Add(time.Hour), reason: "group expired"},
		{name: "expiry date passed before sweep", userId: 2, at: now.Add(2 * time.Hour), reason: "group expired"},
		{name: "admins only rejects member", userId: 2, adminsOnly: true, reason: "only admins can message here"},
		{name: "admins only allows admin", userId: 3, adminsOnly: true},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			g := group
			g.IsExpired = tc.expired
			g.Settings.OnlyAdminsCanMessage = tc.adminsOnly
			at := tc.at
			if at.IsZero() {
				at = now
			}

			err := g.CheckSend(tc.userId, at)
			if tc.reason == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, IsValidation(err))
			assert.EqualError(t, err, tc.reason)
		})
	}
}

func TestGroupIsExpiredAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := Group{ExpiryDate: now}

	assert.False(t, g.IsExpiredAt(now.Add(-time.Second)))
	assert.True(t, g.IsExpiredAt(now))
	assert.True(t, g.IsExpiredAt(now.Add(time.Second)))

	g.IsExpired = true
	assert.True(t, g.IsExpiredAt(now.Add(-time.Hour)), "expected a recorded expiry to be final")
}

func TestGroupAdminIds(t *testing.T) {
	g := Group{
		CreatorId: 5,
		Members: []GroupMember{
			{UserId: 5, Role: MemberRoleAdmin},
			{UserId: 6, Role: MemberRoleMember},
			{UserId: 7, Role: MemberRoleAdmin},
		},
	}

	assert.Equal(t, []int{5, 7}, g.AdminIds())
	assert.Equal(t, []int{5, 6, 7}, g.MemberIds())
	assert.True(t, g.IsAdmin(5))
	assert.False(t, g.IsAdmin(6))
}

func TestMessageStatusAdvances(t *testing.T) {
	assert.True(t, StatusSent.Advances(StatusDelivered))
	assert.True(t, StatusSent.Advances(StatusRead))
	assert.False(t, StatusRead.Advances(StatusDelivered))
	assert.False(t, StatusDelivered.Advances(StatusDelivered))
}

func TestCanonicalPair(t *testing.T) {
	lo, hi := CanonicalPair(9, 2)
	assert.Equal(t, 2, lo)
	assert.Equal(t, 9, hi)

	lo2, hi2 := CanonicalPair(2, 9)
	assert.Equal(t, lo, lo2)
	assert.Equal(t, hi, hi2)
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, IsNotFound(NotFoundError("group")))
	assert.EqualError(t, NotFoundError("group"), "group not found")
	assert.True(t, IsForbidden(ForbiddenError("admins only")))
	assert.False(t, IsValidation(ErrConflict))
}
