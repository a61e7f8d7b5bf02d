package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/npezzotti/go-messenger/internal/types"
)

// PgRepository implements Repository on Postgres.
type PgRepository struct {
	db  *sqlx.DB
	log *slog.Logger
}

var _ Repository = (*PgRepository)(nil)

func NewPgRepository(ctx context.Context, dsn string, log *slog.Logger) (*PgRepository, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PgRepository{db: db, log: log.With("component", "database")}, nil
}

func (r *PgRepository) Migrate() error {
	return ApplyMigrations(r.db.DB, r.log)
}

func (r *PgRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *PgRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// mapErr converts driver errors into the domain error taxonomy.
func mapErr(err error, kind string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return types.NotFoundError(kind)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", kind, types.ErrConflict)
		case "23503":
			return fmt.Errorf("%s: referenced row %w", kind, types.ErrNotFound)
		}
	}
	return err
}

func int64s(ids []int) pq.Int64Array {
	out := make(pq.Int64Array, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func ints(ids pq.Int64Array) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

const accountColumns = "id, username, email, password_hash, role, blocked, created_at, updated_at"

func (r *PgRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	role := params.Role
	if !role.Valid() {
		role = types.RoleUser
	}

	var a Account
	err := r.db.GetContext(ctx, &a,
		"INSERT INTO accounts (username, email, password_hash, role) "+
			"VALUES ($1, $2, $3, $4) RETURNING "+accountColumns,
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		role,
	)
	return a, mapErr(err, "account")
}

func (r *PgRepository) GetAccountById(ctx context.Context, id int) (Account, error) {
	var a Account
	err := r.db.GetContext(ctx, &a, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id)
	return a, mapErr(err, "account")
}

func (r *PgRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	var a Account
	err := r.db.GetContext(ctx, &a, "SELECT "+accountColumns+" FROM accounts WHERE email = $1", email)
	return a, mapErr(err, "account")
}

type conversationRow struct {
	Id         int            `db:"id"`
	IsGroup    bool           `db:"is_group"`
	GroupId    sql.NullInt64  `db:"group_id"`
	UserLow    sql.NullInt64  `db:"user_low"`
	UserHigh   sql.NullInt64  `db:"user_high"`
	LastText   sql.NullString `db:"last_message_text"`
	LastSender sql.NullInt64  `db:"last_message_sender"`
	LastType   sql.NullString `db:"last_message_type"`
	LastAt     sql.NullTime   `db:"last_message_at"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
	Members    pq.Int64Array  `db:"members"`
}

func (row conversationRow) toType() types.Conversation {
	c := types.Conversation{
		Id:                  row.Id,
		IsGroupConversation: row.IsGroup,
		GroupId:             int(row.GroupId.Int64),
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
	if row.IsGroup {
		c.Participants = ints(row.Members)
	} else {
		c.Participants = []int{int(row.UserLow.Int64), int(row.UserHigh.Int64)}
	}
	if row.LastAt.Valid {
		c.LastMessage = &types.LastMessage{
			Text:        row.LastText.String,
			SenderId:    int(row.LastSender.Int64),
			MessageType: types.MessageType(row.LastType.String),
			Timestamp:   row.LastAt.Time,
		}
	}
	return c
}

const conversationColumns = `c.id, c.is_group, c.group_id, c.user_low, c.user_high,
	c.last_message_text, c.last_message_sender, c.last_message_type, c.last_message_at,
	c.created_at, c.updated_at,
	COALESCE((SELECT array_agg(gm.user_id ORDER BY gm.joined_at, gm.user_id)
		FROM group_members gm WHERE gm.group_id = c.group_id), '{}') AS members`

func (r *PgRepository) FindOrCreateDirectConversation(ctx context.Context, a, b int) (types.Conversation, error) {
	low, high := types.CanonicalPair(a, b)

	// The no-op update makes RETURNING yield the existing row on conflict.
	var id int
	err := r.db.GetContext(ctx, &id,
		`INSERT INTO conversations (is_group, user_low, user_high)
		VALUES (FALSE, $1, $2)
		ON CONFLICT (user_low, user_high) WHERE NOT is_group
		DO UPDATE SET user_low = EXCLUDED.user_low
		RETURNING id`,
		low, high,
	)
	if err != nil {
		return types.Conversation{}, mapErr(err, "conversation")
	}

	return r.GetConversation(ctx, id)
}

func (r *PgRepository) GetConversation(ctx context.Context, id int) (types.Conversation, error) {
	var row conversationRow
	err := r.db.GetContext(ctx, &row, "SELECT "+conversationColumns+" FROM conversations c WHERE c.id = $1", id)
	if err != nil {
		return types.Conversation{}, mapErr(err, "conversation")
	}
	return row.toType(), nil
}

func (r *PgRepository) ListConversations(ctx context.Context, userId int) ([]types.Conversation, error) {
	var rows []conversationRow
	err := r.db.SelectContext(ctx, &rows,
		"SELECT "+conversationColumns+` FROM conversations c
		WHERE (NOT c.is_group AND (c.user_low = $1 OR c.user_high = $1))
			OR (c.is_group AND EXISTS (
				SELECT 1 FROM group_members gm WHERE gm.group_id = c.group_id AND gm.user_id = $1))
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id DESC`,
		userId,
	)
	if err != nil {
		return nil, err
	}

	convs := make([]types.Conversation, 0, len(rows))
	for _, row := range rows {
		convs = append(convs, row.toType())
	}
	return convs, nil
}

type messageRow struct {
	Id             int           `db:"id"`
	ConversationId int           `db:"conversation_id"`
	SenderId       sql.NullInt64 `db:"sender_id"`
	RecipientId    sql.NullInt64 `db:"recipient_id"`
	GroupId        sql.NullInt64 `db:"group_id"`
	IsGroupMessage bool          `db:"is_group_message"`
	Text           string        `db:"text"`
	MediaURL       string        `db:"media_url"`
	MessageType    string        `db:"message_type"`
	Status         string        `db:"status"`
	IsDeleted      bool          `db:"is_deleted"`
	DeletedBy      pq.Int64Array `db:"deleted_by"`
	CreatedAt      time.Time     `db:"created_at"`
}

func (row messageRow) toType() types.Message {
	return types.Message{
		Id:             row.Id,
		ConversationId: row.ConversationId,
		SenderId:       int(row.SenderId.Int64),
		RecipientId:    int(row.RecipientId.Int64),
		GroupId:        int(row.GroupId.Int64),
		IsGroupMessage: row.IsGroupMessage,
		Text:           row.Text,
		MediaURL:       row.MediaURL,
		MessageType:    types.MessageType(row.MessageType),
		Status:         types.MessageStatus(row.Status),
		IsDeleted:      row.IsDeleted,
		DeletedBy:      ints(row.DeletedBy),
		CreatedAt:      row.CreatedAt,
	}
}

const messageColumns = `id, conversation_id, sender_id, recipient_id, group_id, is_group_message,
	text, media_url, message_type, status, is_deleted, deleted_by, created_at`

func (r *PgRepository) CreateMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Status == "" || msg.Status == types.StatusSending {
		msg.Status = types.StatusSent
	}
	if msg.MessageType == "" {
		msg.MessageType = types.MessageTypeText
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return types.Message{}, err
	}
	defer tx.Rollback()

	var row messageRow
	err = tx.GetContext(ctx, &row,
		`INSERT INTO messages (conversation_id, sender_id, recipient_id, group_id, is_group_message,
			text, media_url, message_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+messageColumns,
		msg.ConversationId,
		nullInt(msg.SenderId),
		nullInt(msg.RecipientId),
		nullInt(msg.GroupId),
		msg.IsGroupMessage,
		msg.Text,
		msg.MediaURL,
		msg.MessageType,
		msg.Status,
		msg.CreatedAt,
	)
	if err != nil {
		return types.Message{}, mapErr(err, "conversation")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_text = $2, last_message_sender = $3,
			last_message_type = $4, last_message_at = $5, updated_at = $5
		WHERE id = $1`,
		msg.ConversationId, msg.Text, msg.SenderId, msg.MessageType, msg.CreatedAt,
	); err != nil {
		return types.Message{}, err
	}

	if msg.IsGroupMessage {
		if _, err := tx.ExecContext(ctx,
			"UPDATE groups SET last_activity = $2 WHERE id = $1",
			msg.GroupId, msg.CreatedAt,
		); err != nil {
			return types.Message{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return types.Message{}, err
	}

	created := row.toType()
	created.TempId = msg.TempId
	return created, nil
}

func (r *PgRepository) GetMessage(ctx context.Context, id int) (types.Message, error) {
	msgs, err := r.messagesById(ctx, []int{id})
	if err != nil {
		return types.Message{}, err
	}
	if len(msgs) == 0 {
		return types.Message{}, types.NotFoundError("message")
	}
	return msgs[0], nil
}

func (r *PgRepository) messagesById(ctx context.Context, ids []int) ([]types.Message, error) {
	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows,
		"SELECT "+messageColumns+" FROM messages WHERE id = ANY($1) ORDER BY id",
		int64s(ids),
	); err != nil {
		return nil, err
	}
	return r.withReceipts(ctx, rows)
}

// withReceipts converts rows and attaches read receipts to group messages.
func (r *PgRepository) withReceipts(ctx context.Context, rows []messageRow) ([]types.Message, error) {
	msgs := make([]types.Message, 0, len(rows))
	var groupIds []int
	for _, row := range rows {
		msgs = append(msgs, row.toType())
		if row.IsGroupMessage {
			groupIds = append(groupIds, row.Id)
		}
	}
	if len(groupIds) == 0 {
		return msgs, nil
	}

	var receipts []struct {
		MessageId int       `db:"message_id"`
		UserId    int       `db:"user_id"`
		ReadAt    time.Time `db:"read_at"`
	}
	if err := r.db.SelectContext(ctx, &receipts,
		"SELECT message_id, user_id, read_at FROM message_reads WHERE message_id = ANY($1) ORDER BY read_at, user_id",
		int64s(groupIds),
	); err != nil {
		return nil, err
	}

	byMessage := make(map[int][]types.ReadReceipt)
	for _, rc := range receipts {
		byMessage[rc.MessageId] = append(byMessage[rc.MessageId], types.ReadReceipt{UserId: rc.UserId, ReadAt: rc.ReadAt})
	}
	for i := range msgs {
		msgs[i].ReadBy = byMessage[msgs[i].Id]
	}
	return msgs, nil
}

func (r *PgRepository) ListMessages(ctx context.Context, params ListMessagesParams) ([]types.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows,
		"SELECT "+messageColumns+` FROM messages
		WHERE conversation_id = $1 AND ($2 = 0 OR id < $2) AND NOT ($3 = ANY(deleted_by))
		ORDER BY id DESC LIMIT $4`,
		params.ConversationId, params.Before, params.ViewerId, params.limit(),
	)
	if err != nil {
		return nil, err
	}
	slices.Reverse(rows)
	return r.withReceipts(ctx, rows)
}

func (r *PgRepository) AdvanceMessageStatus(ctx context.Context, recipientId int, ids []int, status types.MessageStatus) ([]types.Message, error) {
	if status != types.StatusDelivered && status != types.StatusRead {
		return nil, types.NewValidationError("invalid status %q", status)
	}

	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows,
		`UPDATE messages SET status = $3
		WHERE id = ANY($1) AND recipient_id = $2 AND NOT is_group_message AND NOT is_deleted
			AND (CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 END) < $4
		RETURNING `+messageColumns,
		int64s(ids), recipientId, status, status.Rank(),
	)
	if err != nil {
		return nil, err
	}

	msgs := make([]types.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toType())
	}
	slices.SortFunc(msgs, func(a, b types.Message) int { return a.Id - b.Id })
	return msgs, nil
}

func (r *PgRepository) AddReadReceipts(ctx context.Context, userId int, ids []int, at time.Time) ([]types.Message, error) {
	var changed []int
	err := r.db.SelectContext(ctx, &changed,
		`INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT m.id, $2, $3 FROM messages m
		WHERE m.id = ANY($1) AND m.is_group_message AND NOT m.is_deleted
			AND m.sender_id IS DISTINCT FROM $2
			AND EXISTS (SELECT 1 FROM group_members gm WHERE gm.group_id = m.group_id AND gm.user_id = $2)
		ON CONFLICT DO NOTHING
		RETURNING message_id`,
		int64s(ids), userId, at,
	)
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return nil, nil
	}
	return r.messagesById(ctx, changed)
}

func (r *PgRepository) DeleteMessageForEveryone(ctx context.Context, id, userId int) (types.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row,
		`UPDATE messages SET is_deleted = TRUE, text = '', media_url = ''
		WHERE id = $1 AND sender_id = $2
		RETURNING `+messageColumns,
		id, userId,
	)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := r.GetMessage(ctx, id); err != nil {
			return types.Message{}, err
		}
		return types.Message{}, types.ForbiddenError("only the sender can delete a message for everyone")
	}
	if err != nil {
		return types.Message{}, err
	}
	return row.toType(), nil
}

func (r *PgRepository) DeleteMessageForUser(ctx context.Context, id, userId int) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE messages SET deleted_by = array_append(deleted_by, $2) WHERE id = $1 AND NOT ($2 = ANY(deleted_by))",
		id, userId,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err := r.GetMessage(ctx, id)
		return err
	}
	return nil
}

type groupRow struct {
	Id                   int            `db:"id"`
	Name                 string         `db:"name"`
	Description          string         `db:"description"`
	CreatorId            int            `db:"creator_id"`
	ConversationId       sql.NullInt64  `db:"conversation_id"`
	ExpiryDate           time.Time      `db:"expiry_date"`
	IsExpired            bool           `db:"is_expired"`
	IsActive             bool           `db:"is_active"`
	ExpiredAt            sql.NullTime   `db:"expired_at"`
	OnlyAdminsCanMessage bool           `db:"only_admins_can_message"`
	AllowMemberInvites   bool           `db:"allow_member_invites"`
	LastActivity         time.Time      `db:"last_activity"`
	CreatedAt            time.Time      `db:"created_at"`
	Warnings             pq.StringArray `db:"warnings"`
}

func (row groupRow) toType() types.Group {
	g := types.Group{
		Id:             row.Id,
		Name:           row.Name,
		Description:    row.Description,
		CreatorId:      row.CreatorId,
		ConversationId: int(row.ConversationId.Int64),
		ExpiryDate:     row.ExpiryDate,
		IsExpired:      row.IsExpired,
		IsActive:       row.IsActive,
		Warnings:       make([]types.WarningTag, 0, len(row.Warnings)),
		Settings: types.GroupSettings{
			OnlyAdminsCanMessage: row.OnlyAdminsCanMessage,
			AllowMemberInvites:   row.AllowMemberInvites,
		},
		LastActivity: row.LastActivity,
		CreatedAt:    row.CreatedAt,
	}
	if row.ExpiredAt.Valid {
		t := row.ExpiredAt.Time
		g.ExpiredAt = &t
	}
	for _, w := range row.Warnings {
		g.Warnings = append(g.Warnings, types.WarningTag(w))
	}
	return g
}

const groupColumns = `g.id, g.name, g.description, g.creator_id, g.expiry_date, g.is_expired, g.is_active,
	g.expired_at, g.only_admins_can_message, g.allow_member_invites, g.last_activity, g.created_at,
	(SELECT c.id FROM conversations c WHERE c.group_id = g.id) AS conversation_id,
	COALESCE((SELECT array_agg(w.tag ORDER BY w.sent_at, w.tag)
		FROM group_warnings w WHERE w.group_id = g.id), '{}') AS warnings`

func (r *PgRepository) selectGroups(ctx context.Context, where string, args ...any) ([]types.Group, error) {
	var rows []groupRow
	if err := r.db.SelectContext(ctx, &rows, "SELECT "+groupColumns+" FROM groups g "+where, args...); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]int, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.Id)
	}

	var members []struct {
		GroupId  int              `db:"group_id"`
		UserId   int              `db:"user_id"`
		Role     types.MemberRole `db:"role"`
		JoinedAt time.Time        `db:"joined_at"`
	}
	if err := r.db.SelectContext(ctx, &members,
		"SELECT group_id, user_id, role, joined_at FROM group_members WHERE group_id = ANY($1) ORDER BY joined_at, user_id",
		int64s(ids),
	); err != nil {
		return nil, err
	}

	byGroup := make(map[int][]types.GroupMember)
	for _, m := range members {
		byGroup[m.GroupId] = append(byGroup[m.GroupId], types.GroupMember{UserId: m.UserId, Role: m.Role, JoinedAt: m.JoinedAt})
	}

	groups := make([]types.Group, 0, len(rows))
	for _, row := range rows {
		g := row.toType()
		g.Members = byGroup[g.Id]
		groups = append(groups, g)
	}
	return groups, nil
}

func (r *PgRepository) CreateGroup(ctx context.Context, params CreateGroupParams) (types.Group, error) {
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return types.Group{}, err
	}
	defer tx.Rollback()

	var id int
	if err := tx.GetContext(ctx, &id,
		`INSERT INTO groups (name, description, creator_id, expiry_date,
			only_admins_can_message, allow_member_invites, last_activity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`,
		params.Name,
		params.Description,
		params.CreatorId,
		params.ExpiryDate,
		params.Settings.OnlyAdminsCanMessage,
		params.Settings.AllowMemberInvites,
		createdAt,
	); err != nil {
		return types.Group{}, mapErr(err, "group")
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO group_members (group_id, user_id, role, joined_at) VALUES ($1, $2, 'admin', $3)",
		id, params.CreatorId, createdAt,
	); err != nil {
		return types.Group{}, mapErr(err, "group member")
	}

	for _, userId := range params.MemberIds {
		if userId == params.CreatorId {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id, role, joined_at) VALUES ($1, $2, 'member', $3)
			ON CONFLICT (group_id, user_id) DO NOTHING`,
			id, userId, createdAt,
		); err != nil {
			return types.Group{}, mapErr(err, "group member")
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO conversations (is_group, group_id, created_at, updated_at) VALUES (TRUE, $1, $2, $2)",
		id, createdAt,
	); err != nil {
		return types.Group{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Group{}, err
	}
	return r.GetGroup(ctx, id)
}

func (r *PgRepository) GetGroup(ctx context.Context, id int) (types.Group, error) {
	groups, err := r.selectGroups(ctx, "WHERE g.id = $1", id)
	if err != nil {
		return types.Group{}, err
	}
	if len(groups) == 0 {
		return types.Group{}, types.NotFoundError("group")
	}
	return groups[0], nil
}

func (r *PgRepository) ListUserGroups(ctx context.Context, userId int) ([]types.Group, error) {
	return r.selectGroups(ctx,
		`WHERE EXISTS (SELECT 1 FROM group_members gm WHERE gm.group_id = g.id AND gm.user_id = $1)
		ORDER BY g.last_activity DESC`,
		userId,
	)
}

func (r *PgRepository) ListActiveGroups(ctx context.Context) ([]types.Group, error) {
	return r.selectGroups(ctx, "WHERE NOT g.is_expired ORDER BY g.expiry_date, g.id")
}

func (r *PgRepository) ListExpiredGroupsBefore(ctx context.Context, cutoff time.Time) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids,
		"SELECT id FROM groups WHERE is_expired AND expired_at < $1 ORDER BY id",
		cutoff,
	)
	return ids, err
}

func (r *PgRepository) AddGroupMember(ctx context.Context, groupId, userId int, role types.MemberRole) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, user_id) DO NOTHING`,
		groupId, userId, role, time.Now().UTC(),
	)
	return mapErr(err, "group")
}

func (r *PgRepository) RemoveGroupMember(ctx context.Context, groupId, userId int) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM group_members WHERE group_id = $1 AND user_id = $2",
		groupId, userId,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NotFoundError("group member")
	}
	return nil
}

func (r *PgRepository) AddGroupWarnings(ctx context.Context, groupId int, tags []types.WarningTag, at time.Time) ([]types.WarningTag, error) {
	in := make(pq.StringArray, len(tags))
	for i, t := range tags {
		in[i] = string(t)
	}

	var added []string
	err := r.db.SelectContext(ctx, &added,
		`INSERT INTO group_warnings (group_id, tag, sent_at)
		SELECT $1, t, $3 FROM unnest($2::text[]) AS t
		ON CONFLICT (group_id, tag) DO NOTHING
		RETURNING tag`,
		groupId, in, at,
	)
	if err != nil {
		return nil, mapErr(err, "group")
	}

	out := make([]types.WarningTag, 0, len(added))
	for _, t := range tags {
		if slices.Contains(added, string(t)) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *PgRepository) ExpireGroup(ctx context.Context, groupId int, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE groups SET is_expired = TRUE, is_active = FALSE, expired_at = $2 WHERE id = $1 AND NOT is_expired",
		groupId, at,
	)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, "SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)", groupId); err != nil {
		return false, err
	}
	if !exists {
		return false, types.NotFoundError("group")
	}
	return false, nil
}

func (r *PgRepository) ExtendGroup(ctx context.Context, groupId int, expiry time.Time) (types.Group, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE groups SET expiry_date = $2 WHERE id = $1 AND NOT is_expired",
		groupId, expiry,
	)
	if err != nil {
		return types.Group{}, err
	}

	g, err := r.GetGroup(ctx, groupId)
	if err != nil {
		return types.Group{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Group{}, types.NewValidationError("group expired")
	}
	return g, nil
}

func (r *PgRepository) DeleteGroup(ctx context.Context, groupId int) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM groups WHERE id = $1", groupId)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NotFoundError("group")
	}
	return nil
}

const inviteColumns = "id, group_id, inviter_id, invitee_id, status, code, expiry_date, created_at, updated_at"

func (r *PgRepository) UpsertInvite(ctx context.Context, invite types.GroupInvite) (types.GroupInvite, error) {
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = time.Now().UTC()
	}

	var out types.GroupInvite
	err := r.db.GetContext(ctx, &out,
		`INSERT INTO group_invites (group_id, inviter_id, invitee_id, status, code, expiry_date, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6, $6)
		ON CONFLICT (group_id, invitee_id) DO UPDATE SET
			inviter_id = EXCLUDED.inviter_id,
			status = 'pending',
			code = EXCLUDED.code,
			expiry_date = EXCLUDED.expiry_date,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
		WHERE group_invites.status <> 'pending' OR group_invites.expiry_date <= EXCLUDED.created_at
		RETURNING `+inviteColumns,
		invite.GroupId,
		invite.InviterId,
		invite.InviteeId,
		invite.Code,
		invite.ExpiryDate,
		invite.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.GroupInvite{}, fmt.Errorf("invite already pending: %w", types.ErrConflict)
	}
	return out, mapErr(err, "group")
}

func (r *PgRepository) GetInvite(ctx context.Context, id int) (types.GroupInvite, error) {
	var out types.GroupInvite
	err := r.db.GetContext(ctx, &out, "SELECT "+inviteColumns+" FROM group_invites WHERE id = $1", id)
	return out, mapErr(err, "invite")
}

func (r *PgRepository) UpdateInviteStatus(ctx context.Context, id int, from, to types.InviteStatus) (types.GroupInvite, error) {
	var out types.GroupInvite
	err := r.db.GetContext(ctx, &out,
		"UPDATE group_invites SET status = $3, updated_at = now() WHERE id = $1 AND status = $2 RETURNING "+inviteColumns,
		id, from, to,
	)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := r.GetInvite(ctx, id); err != nil {
			return types.GroupInvite{}, err
		}
		return types.GroupInvite{}, fmt.Errorf("invite is no longer %s: %w", from, types.ErrConflict)
	}
	return out, err
}

func (r *PgRepository) AcceptInvite(ctx context.Context, id int) (types.GroupInvite, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return types.GroupInvite{}, err
	}
	defer tx.Rollback()

	var out types.GroupInvite
	err = tx.GetContext(ctx, &out,
		"UPDATE group_invites SET status = 'accepted', updated_at = now() WHERE id = $1 AND status = 'pending' RETURNING "+inviteColumns,
		id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := r.GetInvite(ctx, id); err != nil {
			return types.GroupInvite{}, err
		}
		return types.GroupInvite{}, fmt.Errorf("invite is no longer %s: %w", types.InvitePending, types.ErrConflict)
	}
	if err != nil {
		return types.GroupInvite{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id, role, joined_at) VALUES ($1, $2, 'member', $3)
		ON CONFLICT (group_id, user_id) DO NOTHING`,
		out.GroupId, out.InviteeId, time.Now().UTC(),
	); err != nil {
		return types.GroupInvite{}, mapErr(err, "group member")
	}

	if err := tx.Commit(); err != nil {
		return types.GroupInvite{}, err
	}
	return out, nil
}

func (r *PgRepository) ExpireInvites(ctx context.Context, now time.Time) ([]types.GroupInvite, error) {
	var out []types.GroupInvite
	err := r.db.SelectContext(ctx, &out,
		`UPDATE group_invites SET status = 'expired', updated_at = $1
		WHERE status = 'pending' AND expiry_date <= $1
		RETURNING `+inviteColumns,
		now,
	)
	return out, err
}

const notificationColumns = "id, recipient_id, actor_id, kind, group_id, ref, text, read, relation, created_at"

func (r *PgRepository) CreateNotification(ctx context.Context, n types.Notification) (types.Notification, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	var out types.Notification
	err := r.db.GetContext(ctx, &out,
		`INSERT INTO notifications (recipient_id, actor_id, kind, group_id, ref, text, read, relation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, FALSE, $7)
		RETURNING `+notificationColumns,
		n.RecipientId, n.ActorId, n.Kind, n.GroupId, n.Ref, n.Text, n.CreatedAt,
	)
	return out, mapErr(err, "notification")
}

func (r *PgRepository) UpsertRelationNotification(ctx context.Context, n types.Notification) (types.Notification, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	var out types.Notification
	err := r.db.GetContext(ctx, &out,
		`INSERT INTO notifications (recipient_id, actor_id, kind, group_id, ref, text, read, relation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, TRUE, $7)
		ON CONFLICT (kind, actor_id, recipient_id, ref) WHERE relation AND NOT read
		DO UPDATE SET created_at = EXCLUDED.created_at, text = EXCLUDED.text
		RETURNING `+notificationColumns,
		n.RecipientId, n.ActorId, n.Kind, n.GroupId, n.Ref, n.Text, n.CreatedAt,
	)
	return out, mapErr(err, "notification")
}

func (r *PgRepository) DeleteRelationNotification(ctx context.Context, key RelationKey) (int, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM notifications WHERE relation AND kind = $1 AND actor_id = $2 AND recipient_id = $3 AND ref = $4",
		key.Kind, key.ActorId, key.RecipientId, key.Ref,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *PgRepository) ListNotifications(ctx context.Context, recipientId, limit int) ([]types.Notification, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	var out []types.Notification
	err := r.db.SelectContext(ctx, &out,
		"SELECT "+notificationColumns+" FROM notifications WHERE recipient_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		recipientId, limit,
	)
	return out, err
}

// MarkNotificationsRead marks the given ids, or every unread notification
// of the recipient when ids is empty.
func (r *PgRepository) MarkNotificationsRead(ctx context.Context, recipientId int, ids []int) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE
		WHERE recipient_id = $1 AND NOT read AND (cardinality($2::bigint[]) = 0 OR id = ANY($2))`,
		recipientId, int64s(ids),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *PgRepository) DeleteReadNotificationsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM notifications WHERE read AND created_at < $1", cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
