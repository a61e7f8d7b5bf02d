package database

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-messenger/internal/types"
)

// MemoryRepository is a process-local Repository used for development and
// tests. It follows the same atomicity rules as the Postgres store by
// holding a single lock for every operation.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextId int

	accounts      map[int]Account
	emails        map[string]int
	conversations map[int]*types.Conversation
	pairs         map[[2]int]int
	groups        map[int]*types.Group
	messages      map[int]*types.Message
	invites       map[int]*types.GroupInvite
	inviteKeys    map[[2]int]int
	notifications map[int]*types.Notification
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:      make(map[int]Account),
		emails:        make(map[string]int),
		conversations: make(map[int]*types.Conversation),
		pairs:         make(map[[2]int]int),
		groups:        make(map[int]*types.Group),
		messages:      make(map[int]*types.Message),
		invites:       make(map[int]*types.GroupInvite),
		inviteKeys:    make(map[[2]int]int),
		notifications: make(map[int]*types.Notification),
	}
}

func (r *MemoryRepository) id() int {
	r.nextId++
	return r.nextId
}

func now() time.Time {
	return time.Now().UTC()
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.emails[params.EmailAddress]; ok {
		return Account{}, fmt.Errorf("account: %w", types.ErrConflict)
	}
	role := params.Role
	if !role.Valid() {
		role = types.RoleUser
	}

	t := now()
	a := Account{
		Id:           r.id(),
		Username:     params.Username,
		EmailAddress: params.EmailAddress,
		PasswordHash: params.PasswordHash,
		Role:         role,
		CreatedAt:    t,
		UpdatedAt:    t,
	}
	r.accounts[a.Id] = a
	r.emails[a.EmailAddress] = a.Id
	return a, nil
}

// SetBlocked flips the blocked flag of an account.
func (r *MemoryRepository) SetBlocked(id int, blocked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		a.Blocked = blocked
		r.accounts[id] = a
	}
}

func (r *MemoryRepository) GetAccountById(ctx context.Context, id int) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return Account{}, types.NotFoundError("account")
	}
	return a, nil
}

func (r *MemoryRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.emails[email]
	if !ok {
		return Account{}, types.NotFoundError("account")
	}
	return r.accounts[id], nil
}

func (r *MemoryRepository) conversationCopy(c *types.Conversation) types.Conversation {
	out := *c
	if c.IsGroupConversation {
		if g, ok := r.groups[c.GroupId]; ok {
			out.Participants = g.MemberIds()
		}
	} else {
		out.Participants = slices.Clone(c.Participants)
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return out
}

func (r *MemoryRepository) FindOrCreateDirectConversation(ctx context.Context, a, b int) (types.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return types.Conversation{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range []int{a, b} {
		if _, ok := r.accounts[id]; !ok {
			return types.Conversation{}, fmt.Errorf("conversation: referenced row %w", types.ErrNotFound)
		}
	}

	low, high := types.CanonicalPair(a, b)
	key := [2]int{low, high}
	if id, ok := r.pairs[key]; ok {
		return r.conversationCopy(r.conversations[id]), nil
	}

	t := now()
	c := &types.Conversation{
		Id:           r.id(),
		Participants: []int{low, high},
		CreatedAt:    t,
		UpdatedAt:    t,
	}
	r.conversations[c.Id] = c
	r.pairs[key] = c.Id
	return r.conversationCopy(c), nil
}

func (r *MemoryRepository) GetConversation(ctx context.Context, id int) (types.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return types.Conversation{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conversations[id]
	if !ok {
		return types.Conversation{}, types.NotFoundError("conversation")
	}
	return r.conversationCopy(c), nil
}

func (r *MemoryRepository) ListConversations(ctx context.Context, userId int) ([]types.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.Conversation
	for _, c := range r.conversations {
		cc := r.conversationCopy(c)
		if cc.HasParticipant(userId) {
			out = append(out, cc)
		}
	}
	slices.SortFunc(out, func(a, b types.Conversation) int {
		ta, tb := a.CreatedAt, b.CreatedAt
		if a.LastMessage != nil {
			ta = a.LastMessage.Timestamp
		}
		if b.LastMessage != nil {
			tb = b.LastMessage.Timestamp
		}
		if c := tb.Compare(ta); c != 0 {
			return c
		}
		return b.Id - a.Id
	})
	return out, nil
}

func copyMessage(m *types.Message) types.Message {
	out := *m
	out.TempId = ""
	out.ReadBy = slices.Clone(m.ReadBy)
	out.DeletedBy = slices.Clone(m.DeletedBy)
	return out
}

func (r *MemoryRepository) CreateMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	if err := ctx.Err(); err != nil {
		return types.Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[msg.ConversationId]
	if !ok {
		return types.Message{}, types.NotFoundError("conversation")
	}
	if (msg.RecipientId == 0) == (msg.GroupId == 0) || msg.IsGroupMessage != (msg.GroupId != 0) {
		return types.Message{}, types.NewValidationError("a message needs exactly one of recipient or group")
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now()
	}
	if msg.Status == "" || msg.Status == types.StatusSending {
		msg.Status = types.StatusSent
	}
	if msg.MessageType == "" {
		msg.MessageType = types.MessageTypeText
	}

	stored := msg
	stored.Id = r.id()
	stored.ReadBy = nil
	stored.DeletedBy = nil
	r.messages[stored.Id] = &stored

	c.LastMessage = &types.LastMessage{
		Text:        msg.Text,
		SenderId:    msg.SenderId,
		MessageType: msg.MessageType,
		Timestamp:   msg.CreatedAt,
	}
	c.UpdatedAt = msg.CreatedAt
	if g, ok := r.groups[msg.GroupId]; ok && msg.IsGroupMessage {
		g.LastActivity = msg.CreatedAt
	}

	out := copyMessage(&stored)
	out.TempId = msg.TempId
	return out, nil
}

func (r *MemoryRepository) GetMessage(ctx context.Context, id int) (types.Message, error) {
	if err := ctx.Err(); err != nil {
		return types.Message{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.messages[id]
	if !ok {
		return types.Message{}, types.NotFoundError("message")
	}
	return copyMessage(m), nil
}

func (r *MemoryRepository) ListMessages(ctx context.Context, params ListMessagesParams) ([]types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.Message
	for _, m := range r.messages {
		if m.ConversationId != params.ConversationId || m.DeletedFor(params.ViewerId) {
			continue
		}
		if params.Before != 0 && m.Id >= params.Before {
			continue
		}
		out = append(out, copyMessage(m))
	}
	slices.SortFunc(out, func(a, b types.Message) int { return a.Id - b.Id })
	if limit := params.limit(); len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *MemoryRepository) AdvanceMessageStatus(ctx context.Context, recipientId int, ids []int, status types.MessageStatus) ([]types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if status != types.StatusDelivered && status != types.StatusRead {
		return nil, types.NewValidationError("invalid status %q", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []types.Message
	for _, id := range uniqueSorted(ids) {
		m, ok := r.messages[id]
		if !ok || m.IsGroupMessage || m.IsDeleted || m.RecipientId != recipientId {
			continue
		}
		if !m.Status.Advances(status) {
			continue
		}
		m.Status = status
		out = append(out, copyMessage(m))
	}
	return out, nil
}

func (r *MemoryRepository) AddReadReceipts(ctx context.Context, userId int, ids []int, at time.Time) ([]types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []types.Message
	for _, id := range uniqueSorted(ids) {
		m, ok := r.messages[id]
		if !ok || !m.IsGroupMessage || m.IsDeleted || m.SenderId == userId || m.HasReadBy(userId) {
			continue
		}
		g, ok := r.groups[m.GroupId]
		if !ok || !g.IsMember(userId) {
			continue
		}
		m.ReadBy = append(m.ReadBy, types.ReadReceipt{UserId: userId, ReadAt: at})
		out = append(out, copyMessage(m))
	}
	return out, nil
}

func uniqueSorted(ids []int) []int {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func (r *MemoryRepository) DeleteMessageForEveryone(ctx context.Context, id, userId int) (types.Message, error) {
	if err := ctx.Err(); err != nil {
		return types.Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return types.Message{}, types.NotFoundError("message")
	}
	if m.SenderId != userId {
		return types.Message{}, types.ForbiddenError("only the sender can delete a message for everyone")
	}
	m.IsDeleted = true
	m.Text = ""
	m.MediaURL = ""
	return copyMessage(m), nil
}

func (r *MemoryRepository) DeleteMessageForUser(ctx context.Context, id, userId int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return types.NotFoundError("message")
	}
	if !m.DeletedFor(userId) {
		m.DeletedBy = append(m.DeletedBy, userId)
	}
	return nil
}

func copyGroup(g *types.Group) types.Group {
	out := *g
	out.Members = slices.Clone(g.Members)
	out.Warnings = slices.Clone(g.Warnings)
	if out.Warnings == nil {
		out.Warnings = []types.WarningTag{}
	}
	if g.ExpiredAt != nil {
		t := *g.ExpiredAt
		out.ExpiredAt = &t
	}
	return out
}

func (r *MemoryRepository) CreateGroup(ctx context.Context, params CreateGroupParams) (types.Group, error) {
	if err := ctx.Err(); err != nil {
		return types.Group{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[params.CreatorId]; !ok {
		return types.Group{}, fmt.Errorf("group: referenced row %w", types.ErrNotFound)
	}

	t := params.CreatedAt
	if t.IsZero() {
		t = now()
	}
	g := &types.Group{
		Id:           r.id(),
		Name:         params.Name,
		Description:  params.Description,
		CreatorId:    params.CreatorId,
		ExpiryDate:   params.ExpiryDate,
		IsActive:     true,
		Settings:     params.Settings,
		LastActivity: t,
		CreatedAt:    t,
		Members:      []types.GroupMember{{UserId: params.CreatorId, Role: types.MemberRoleAdmin, JoinedAt: t}},
	}
	for _, userId := range params.MemberIds {
		if g.IsMember(userId) {
			continue
		}
		if _, ok := r.accounts[userId]; !ok {
			return types.Group{}, fmt.Errorf("group member: referenced row %w", types.ErrNotFound)
		}
		g.Members = append(g.Members, types.GroupMember{UserId: userId, Role: types.MemberRoleMember, JoinedAt: t})
	}

	c := &types.Conversation{
		Id:                  r.id(),
		IsGroupConversation: true,
		GroupId:             g.Id,
		CreatedAt:           t,
		UpdatedAt:           t,
	}
	g.ConversationId = c.Id
	r.groups[g.Id] = g
	r.conversations[c.Id] = c
	return copyGroup(g), nil
}

func (r *MemoryRepository) GetGroup(ctx context.Context, id int) (types.Group, error) {
	if err := ctx.Err(); err != nil {
		return types.Group{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[id]
	if !ok {
		return types.Group{}, types.NotFoundError("group")
	}
	return copyGroup(g), nil
}

func (r *MemoryRepository) listGroups(keep func(*types.Group) bool) []types.Group {
	var out []types.Group
	for _, id := range slices.Sorted(maps.Keys(r.groups)) {
		if g := r.groups[id]; keep(g) {
			out = append(out, copyGroup(g))
		}
	}
	return out
}

func (r *MemoryRepository) ListUserGroups(ctx context.Context, userId int) ([]types.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listGroups(func(g *types.Group) bool { return g.IsMember(userId) }), nil
}

func (r *MemoryRepository) ListActiveGroups(ctx context.Context) ([]types.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listGroups(func(g *types.Group) bool { return !g.IsExpired }), nil
}

func (r *MemoryRepository) ListExpiredGroupsBefore(ctx context.Context, cutoff time.Time) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []int
	for _, g := range r.listGroups(func(g *types.Group) bool {
		return g.IsExpired && g.ExpiredAt != nil && g.ExpiredAt.Before(cutoff)
	}) {
		ids = append(ids, g.Id)
	}
	return ids, nil
}

func (r *MemoryRepository) AddGroupMember(ctx context.Context, groupId, userId int, role types.MemberRole) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupId]
	if !ok {
		return types.NotFoundError("group")
	}
	if _, ok := r.accounts[userId]; !ok {
		return fmt.Errorf("group member: referenced row %w", types.ErrNotFound)
	}
	if g.IsMember(userId) {
		return nil
	}
	g.Members = append(g.Members, types.GroupMember{UserId: userId, Role: role, JoinedAt: now()})
	return nil
}

func (r *MemoryRepository) RemoveGroupMember(ctx context.Context, groupId, userId int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupId]
	if !ok {
		return types.NotFoundError("group member")
	}
	before := len(g.Members)
	g.Members = slices.DeleteFunc(g.Members, func(m types.GroupMember) bool { return m.UserId == userId })
	if len(g.Members) == before {
		return types.NotFoundError("group member")
	}
	return nil
}

func (r *MemoryRepository) AddGroupWarnings(ctx context.Context, groupId int, tags []types.WarningTag, at time.Time) ([]types.WarningTag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupId]
	if !ok {
		return nil, fmt.Errorf("group: referenced row %w", types.ErrNotFound)
	}

	var added []types.WarningTag
	for _, t := range tags {
		if g.HasWarning(t) {
			continue
		}
		g.Warnings = append(g.Warnings, t)
		added = append(added, t)
	}
	return added, nil
}

func (r *MemoryRepository) ExpireGroup(ctx context.Context, groupId int, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupId]
	if !ok {
		return false, types.NotFoundError("group")
	}
	if g.IsExpired {
		return false, nil
	}
	g.IsExpired = true
	g.IsActive = false
	g.ExpiredAt = &at
	return true, nil
}

func (r *MemoryRepository) ExtendGroup(ctx context.Context, groupId int, expiry time.Time) (types.Group, error) {
	if err := ctx.Err(); err != nil {
		return types.Group{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupId]
	if !ok {
		return types.Group{}, types.NotFoundError("group")
	}
	if g.IsExpired {
		return types.Group{}, types.NewValidationError("group expired")
	}
	g.ExpiryDate = expiry
	return copyGroup(g), nil
}

func (r *MemoryRepository) DeleteGroup(ctx context.Context, groupId int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupId]
	if !ok {
		return types.NotFoundError("group")
	}
	for id, m := range r.messages {
		if m.GroupId == groupId || m.ConversationId == g.ConversationId {
			delete(r.messages, id)
		}
	}
	for id, inv := range r.invites {
		if inv.GroupId == groupId {
			delete(r.invites, id)
			delete(r.inviteKeys, [2]int{inv.GroupId, inv.InviteeId})
		}
	}
	delete(r.conversations, g.ConversationId)
	delete(r.groups, groupId)
	return nil
}

func (r *MemoryRepository) UpsertInvite(ctx context.Context, invite types.GroupInvite) (types.GroupInvite, error) {
	if err := ctx.Err(); err != nil {
		return types.GroupInvite{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[invite.GroupId]; !ok {
		return types.GroupInvite{}, fmt.Errorf("group: referenced row %w", types.ErrNotFound)
	}
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = now()
	}
	invite.UpdatedAt = invite.CreatedAt
	invite.Status = types.InvitePending

	key := [2]int{invite.GroupId, invite.InviteeId}
	if id, ok := r.inviteKeys[key]; ok {
		existing := r.invites[id]
		if existing.Status == types.InvitePending && existing.ExpiryDate.After(invite.CreatedAt) {
			return types.GroupInvite{}, fmt.Errorf("invite already pending: %w", types.ErrConflict)
		}
		invite.Id = id
	} else {
		invite.Id = r.id()
	}

	stored := invite
	r.invites[stored.Id] = &stored
	r.inviteKeys[key] = stored.Id
	return stored, nil
}

func (r *MemoryRepository) GetInvite(ctx context.Context, id int) (types.GroupInvite, error) {
	if err := ctx.Err(); err != nil {
		return types.GroupInvite{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.invites[id]
	if !ok {
		return types.GroupInvite{}, types.NotFoundError("invite")
	}
	return *inv, nil
}

func (r *MemoryRepository) UpdateInviteStatus(ctx context.Context, id int, from, to types.InviteStatus) (types.GroupInvite, error) {
	if err := ctx.Err(); err != nil {
		return types.GroupInvite{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invites[id]
	if !ok {
		return types.GroupInvite{}, types.NotFoundError("invite")
	}
	if inv.Status != from {
		return types.GroupInvite{}, fmt.Errorf("invite is no longer %s: %w", from, types.ErrConflict)
	}
	inv.Status = to
	inv.UpdatedAt = now()
	return *inv, nil
}

func (r *MemoryRepository) AcceptInvite(ctx context.Context, id int) (types.GroupInvite, error) {
	if err := ctx.Err(); err != nil {
		return types.GroupInvite{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invites[id]
	if !ok {
		return types.GroupInvite{}, types.NotFoundError("invite")
	}
	if inv.Status != types.InvitePending {
		return types.GroupInvite{}, fmt.Errorf("invite is no longer %s: %w", types.InvitePending, types.ErrConflict)
	}
	g, ok := r.groups[inv.GroupId]
	if !ok {
		return types.GroupInvite{}, types.NotFoundError("group")
	}
	if _, ok := r.accounts[inv.InviteeId]; !ok {
		return types.GroupInvite{}, fmt.Errorf("group member: referenced row %w", types.ErrNotFound)
	}

	t := now()
	if !g.IsMember(inv.InviteeId) {
		g.Members = append(g.Members, types.GroupMember{UserId: inv.InviteeId, Role: types.MemberRoleMember, JoinedAt: t})
	}
	inv.Status = types.InviteAccepted
	inv.UpdatedAt = t
	return *inv, nil
}

func (r *MemoryRepository) ExpireInvites(ctx context.Context, at time.Time) ([]types.GroupInvite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []types.GroupInvite
	for _, id := range slices.Sorted(maps.Keys(r.invites)) {
		inv := r.invites[id]
		if inv.Status != types.InvitePending || inv.ExpiryDate.After(at) {
			continue
		}
		inv.Status = types.InviteExpired
		inv.UpdatedAt = at
		out = append(out, *inv)
	}
	return out, nil
}

func (r *MemoryRepository) CreateNotification(ctx context.Context, n types.Notification) (types.Notification, error) {
	if err := ctx.Err(); err != nil {
		return types.Notification{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if n.CreatedAt.IsZero() {
		n.CreatedAt = now()
	}
	n.Id = r.id()
	n.Read = false
	n.Relation = false
	stored := n
	r.notifications[n.Id] = &stored
	return n, nil
}

func (r *MemoryRepository) UpsertRelationNotification(ctx context.Context, n types.Notification) (types.Notification, error) {
	if err := ctx.Err(); err != nil {
		return types.Notification{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if n.CreatedAt.IsZero() {
		n.CreatedAt = now()
	}
	for _, existing := range r.notifications {
		if existing.Relation && !existing.Read &&
			existing.Kind == n.Kind && existing.ActorId == n.ActorId &&
			existing.RecipientId == n.RecipientId && existing.Ref == n.Ref {
			existing.CreatedAt = n.CreatedAt
			existing.Text = n.Text
			return *existing, nil
		}
	}

	n.Id = r.id()
	n.Read = false
	n.Relation = true
	stored := n
	r.notifications[n.Id] = &stored
	return n, nil
}

func (r *MemoryRepository) DeleteRelationNotification(ctx context.Context, key RelationKey) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, n := range r.notifications {
		if n.Relation && n.Kind == key.Kind && n.ActorId == key.ActorId &&
			n.RecipientId == key.RecipientId && n.Ref == key.Ref {
			delete(r.notifications, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *MemoryRepository) ListNotifications(ctx context.Context, recipientId, limit int) ([]types.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.Notification
	for _, n := range r.notifications {
		if n.RecipientId == recipientId {
			out = append(out, *n)
		}
	}
	slices.SortFunc(out, func(a, b types.Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return b.Id - a.Id
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) MarkNotificationsRead(ctx context.Context, recipientId int, ids []int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	marked := 0
	for id, n := range r.notifications {
		if n.RecipientId != recipientId || n.Read {
			continue
		}
		if len(ids) > 0 && !slices.Contains(ids, id) {
			continue
		}
		n.Read = true
		marked++
	}
	return marked, nil
}

func (r *MemoryRepository) DeleteReadNotificationsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, n := range r.notifications {
		if n.Read && n.CreatedAt.Before(cutoff) {
			delete(r.notifications, id)
			deleted++
		}
	}
	return deleted, nil
}
