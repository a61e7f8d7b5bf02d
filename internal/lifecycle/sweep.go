package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/types"
)

type threshold struct {
	tag    types.WarningTag
	within time.Duration
	label  string
}

// thresholds are ordered from least to most urgent. 1d and 24h share a
// boundary and therefore always fire in the same pass.
var thresholds = []threshold{
	{types.Warning7d, 7 * 24 * time.Hour, "7 days"},
	{types.Warning1d, 24 * time.Hour, "1 day"},
	{types.Warning24h, 24 * time.Hour, "24 hours"},
}

// dueWarnings returns the tags whose boundary has been crossed and that
// the group has not fired yet.
func dueWarnings(g types.Group, now time.Time) []types.WarningTag {
	remaining := g.ExpiryDate.Sub(now)
	var due []types.WarningTag
	for _, th := range thresholds {
		if remaining <= th.within && !g.HasWarning(th.tag) {
			due = append(due, th.tag)
		}
	}
	return due
}

// mostUrgent picks the tag announced for a batch of newly fired tags.
func mostUrgent(tags []types.WarningTag) threshold {
	var out threshold
	for _, th := range thresholds {
		for _, t := range tags {
			if t == th.tag {
				out = th
			}
		}
	}
	return out
}

type SweepResult struct {
	Checked        int `json:"checked"`
	Expired        int `json:"expired"`
	Warned         int `json:"warned"`
	InvitesExpired int `json:"invites_expired"`
	Failed         int `json:"failed"`
}

func (r SweepResult) String() string {
	return fmt.Sprintf("checked=%d expired=%d warned=%d invites_expired=%d failed=%d",
		r.Checked, r.Expired, r.Warned, r.InvitesExpired, r.Failed)
}

type CleanupResult struct {
	Groups        int `json:"groups"`
	Notifications int `json:"notifications"`
	Failed        int `json:"failed"`
}

func (r CleanupResult) String() string {
	return fmt.Sprintf("groups=%d notifications=%d failed=%d", r.Groups, r.Notifications, r.Failed)
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeWarned
	outcomeExpired
)

// Sweep evaluates every active group once at now. Groups are processed
// independently; a failure in one is counted and logged, never fatal.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult

	groups, err := m.db.ListActiveGroups(ctx)
	if err != nil {
		return res, fmt.Errorf("list active groups: %w", err)
	}
	res.Checked = len(groups)

	var (
		mu sync.Mutex
		eg errgroup.Group
	)
	eg.SetLimit(m.opts.Concurrency)
	for _, g := range groups {
		eg.Go(func() error {
			out, err := m.checkGroupSafe(ctx, g, now)

			mu.Lock()
			defer mu.Unlock()
			switch out {
			case outcomeWarned:
				res.Warned++
			case outcomeExpired:
				res.Expired++
			}
			if err != nil {
				res.Failed++
				m.log.Error("group sweep failed", "group", g.Id, "error", err)
			}
			return nil
		})
	}
	eg.Wait()

	n, err := m.expireInvites(ctx, now)
	res.InvitesExpired = n
	if err != nil {
		res.Failed++
		m.log.Error("invite sweep failed", "error", err)
	}

	m.log.Info("sweep finished", "checked", res.Checked, "expired", res.Expired,
		"warned", res.Warned, "invites_expired", res.InvitesExpired, "failed", res.Failed)
	return res, nil
}

func (m *Manager) checkGroupSafe(ctx context.Context, g types.Group, now time.Time) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.checkGroup(ctx, g, now)
}

func (m *Manager) checkGroup(ctx context.Context, g types.Group, now time.Time) (outcome, error) {
	if g.IsExpired {
		return outcomeNone, nil
	}
	if !now.Before(g.ExpiryDate) {
		return m.expire(ctx, g, now)
	}

	due := dueWarnings(g, now)
	if len(due) == 0 {
		return outcomeNone, nil
	}
	added, err := m.db.AddGroupWarnings(ctx, g.Id, due, now)
	if err != nil {
		return outcomeNone, fmt.Errorf("add warnings: %w", err)
	}
	if len(added) == 0 {
		return outcomeNone, nil
	}
	return outcomeWarned, m.warn(ctx, g, added, now)
}

func (m *Manager) warn(ctx context.Context, g types.Group, added []types.WarningTag, now time.Time) error {
	th := mostUrgent(added)
	text := fmt.Sprintf("This group will expire in less than %s.", th.label)

	var errs []error
	if err := m.systemMessage(ctx, g, text, now); err != nil {
		errs = append(errs, err)
	}

	admins := g.AdminIds()
	_, err := m.notifier.DeliverAll(ctx, admins, types.Notification{
		Kind:    types.NotificationGroupWarning,
		GroupId: g.Id,
		Ref:     strconv.Itoa(g.Id) + ":" + string(th.tag),
		Text:    fmt.Sprintf("%s will expire in less than %s. Extend it to keep it active.", g.Name, th.label),
	})
	if err != nil {
		errs = append(errs, err)
	}

	ev := protocol.LifecycleEvent(g.Id, protocol.LifecycleWarning, th.tag, g.ExpiryDate)
	for _, id := range admins {
		m.pusher.PushToUser(id, ev)
	}

	m.stats.Incr(stats.WarningsSent)
	m.log.Info("group expiry warning sent", "group", g.Id, "tags", added, "admins", len(admins))
	return errors.Join(errs...)
}

func (m *Manager) expire(ctx context.Context, g types.Group, now time.Time) (outcome, error) {
	changed, err := m.db.ExpireGroup(ctx, g.Id, now)
	if err != nil {
		return outcomeNone, fmt.Errorf("expire group: %w", err)
	}
	if !changed {
		return outcomeNone, nil
	}
	m.stats.Incr(stats.GroupsExpired)
	m.log.Info("group expired", "group", g.Id, "expiry", g.ExpiryDate)

	var errs []error
	if err := m.systemMessage(ctx, g, "This group has expired and is now read-only.", now); err != nil {
		errs = append(errs, err)
	}

	_, err = m.notifier.DeliverAll(ctx, g.MemberIds(), types.Notification{
		Kind:    types.NotificationGroupExpired,
		GroupId: g.Id,
		Ref:     strconv.Itoa(g.Id),
		Text:    fmt.Sprintf("%s has expired and is now read-only.", g.Name),
	})
	if err != nil {
		errs = append(errs, err)
	}

	m.pusher.PushToRoom(g.Id, protocol.LifecycleEvent(g.Id, protocol.LifecycleExpired, "", g.ExpiryDate), "")
	return outcomeExpired, errors.Join(errs...)
}

func (m *Manager) expireInvites(ctx context.Context, now time.Time) (int, error) {
	expired, err := m.db.ExpireInvites(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expire invites: %w", err)
	}

	var errs []error
	for _, inv := range expired {
		if err := m.notifier.Unrelate(ctx, inviteKey(inv)); err != nil {
			errs = append(errs, err)
		}
	}
	return len(expired), errors.Join(errs...)
}

// Cleanup hard-deletes groups expired for longer than the grace period
// along with their messages, and prunes old read notifications.
func (m *Manager) Cleanup(ctx context.Context, now time.Time) (CleanupResult, error) {
	var res CleanupResult

	ids, err := m.db.ListExpiredGroupsBefore(ctx, now.Add(-m.opts.GracePeriod))
	if err != nil {
		return res, fmt.Errorf("list expired groups: %w", err)
	}

	for _, id := range ids {
		if err := m.db.DeleteGroup(ctx, id); err != nil {
			if !types.IsNotFound(err) {
				res.Failed++
				m.log.Error("failed to delete group", "group", id, "error", err)
			}
			continue
		}
		res.Groups++
	}
	m.stats.Add(stats.GroupsCleaned, res.Groups)

	n, err := m.db.DeleteReadNotificationsBefore(ctx, now.Add(-m.opts.NotificationRetention))
	if err != nil {
		res.Failed++
		m.log.Error("failed to prune notifications", "error", err)
	}
	res.Notifications = n

	m.log.Info("cleanup finished", "groups", res.Groups, "notifications", res.Notifications, "failed", res.Failed)
	return res, nil
}

func inviteKey(inv types.GroupInvite) database.RelationKey {
	return database.RelationKey{
		Kind:        types.NotificationGroupInvite,
		ActorId:     inv.InviterId,
		RecipientId: inv.InviteeId,
		Ref:         strconv.Itoa(inv.Id),
	}
}
