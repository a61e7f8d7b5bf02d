package lifecycle

import (
	"context"
	"fmt"
	"strconv"

	"github.com/teris-io/shortid"

	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
)

// Invite asks inviteeId to join the group. Admins may always invite;
// members only when the group allows it. An earlier answered or expired
// invite for the same person is replaced.
func (m *Manager) Invite(ctx context.Context, groupId, inviterId, inviteeId int) (types.GroupInvite, error) {
	if inviterId == inviteeId {
		return types.GroupInvite{}, types.NewValidationError("cannot invite yourself")
	}

	g, err := m.db.GetGroup(ctx, groupId)
	if err != nil {
		return types.GroupInvite{}, err
	}
	if g.IsExpiredAt(m.now()) {
		return types.GroupInvite{}, types.NewValidationError("group expired")
	}
	if !g.IsAdmin(inviterId) && !(g.Settings.AllowMemberInvites && g.IsMember(inviterId)) {
		return types.GroupInvite{}, types.ForbiddenError("not allowed to invite to this group")
	}
	if g.IsMember(inviteeId) {
		return types.GroupInvite{}, types.NewValidationError("already a member of this group")
	}

	invitee, err := m.db.GetAccountById(ctx, inviteeId)
	if err != nil {
		if types.IsNotFound(err) {
			return types.GroupInvite{}, types.NewValidationError("invitee not found")
		}
		return types.GroupInvite{}, err
	}
	if invitee.Blocked {
		return types.GroupInvite{}, types.NewValidationError("invitee is unavailable")
	}

	code, err := shortid.Generate()
	if err != nil {
		return types.GroupInvite{}, fmt.Errorf("generate invite code: %w", err)
	}

	now := m.now()
	inv, err := m.db.UpsertInvite(ctx, types.GroupInvite{
		GroupId:    groupId,
		InviterId:  inviterId,
		InviteeId:  inviteeId,
		Status:     types.InvitePending,
		Code:       code,
		ExpiryDate: now.Add(m.opts.InviteTTL),
		CreatedAt:  now,
	})
	if err != nil {
		return types.GroupInvite{}, err
	}

	_, err = m.notifier.Relate(ctx, types.Notification{
		RecipientId: inviteeId,
		ActorId:     inviterId,
		Kind:        types.NotificationGroupInvite,
		GroupId:     groupId,
		Ref:         strconv.Itoa(inv.Id),
		Text:        fmt.Sprintf("You were invited to join %s.", g.Name),
		Relation:    true,
	})
	if err != nil {
		m.log.Error("failed to notify invitee", "invite", inv.Id, "error", err)
	}

	m.log.Info("invite sent", "invite", inv.Id, "group", groupId, "inviter", inviterId, "invitee", inviteeId)
	return inv, nil
}

// RespondInvite accepts or rejects a pending invite addressed to
// inviteeId. The invite notification is removed either way.
func (m *Manager) RespondInvite(ctx context.Context, inviteId, inviteeId int, accept bool) (types.GroupInvite, error) {
	inv, err := m.db.GetInvite(ctx, inviteId)
	if err != nil {
		return types.GroupInvite{}, err
	}
	if inv.InviteeId != inviteeId {
		return types.GroupInvite{}, types.ForbiddenError("invite is addressed to someone else")
	}
	if inv.Status != types.InvitePending {
		return types.GroupInvite{}, types.NewValidationError("invite is already %s", inv.Status)
	}

	if !m.now().Before(inv.ExpiryDate) {
		if _, err := m.db.UpdateInviteStatus(ctx, inv.Id, types.InvitePending, types.InviteExpired); err != nil && !types.IsConflict(err) {
			return types.GroupInvite{}, err
		}
		m.unrelate(ctx, inv)
		return types.GroupInvite{}, types.NewValidationError("invite expired")
	}

	if !accept {
		updated, err := m.db.UpdateInviteStatus(ctx, inv.Id, types.InvitePending, types.InviteRejected)
		if err != nil {
			return types.GroupInvite{}, err
		}
		m.unrelate(ctx, inv)
		m.log.Info("invite answered", "invite", inv.Id, "status", updated.Status)
		return updated, nil
	}

	g, err := m.db.GetGroup(ctx, inv.GroupId)
	if err != nil {
		return types.GroupInvite{}, err
	}
	if g.IsExpiredAt(m.now()) {
		return types.GroupInvite{}, types.NewValidationError("group expired")
	}

	// The status flip and the membership insert commit together, so a
	// failed insert leaves the invite pending and answerable again.
	updated, err := m.db.AcceptInvite(ctx, inv.Id)
	if err != nil {
		return types.GroupInvite{}, fmt.Errorf("accept invite: %w", err)
	}
	m.unrelate(ctx, inv)
	m.pusher.PushToRoom(inv.GroupId, protocol.MemberChangeEvent(inv.GroupId, inviteeId, true), "")

	m.log.Info("invite answered", "invite", inv.Id, "status", updated.Status)
	return updated, nil
}

func (m *Manager) unrelate(ctx context.Context, inv types.GroupInvite) {
	if err := m.notifier.Unrelate(ctx, inviteKey(inv)); err != nil {
		m.log.Error("failed to remove invite notification", "invite", inv.Id, "error", err)
	}
}
