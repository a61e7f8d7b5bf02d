// Package chatclient is the client half of the send protocol. Messages are
// shown optimistically the moment they are submitted and reconciled with
// the server's acknowledgment in place, so the timeline keeps send order.
package chatclient

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/teris-io/shortid"

	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
)

const DefaultAckTimeout = 5 * time.Second

var (
	ErrUnknownEntry = errors.New("unknown entry")
	ErrNotFailed    = errors.New("entry has not failed")
	ErrSuperseded   = errors.New("entry was persisted after it failed")
)

type State int

const (
	Pending State = iota
	Sent
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Target is either a direct conversation peer or a group.
type Target struct {
	RecipientId int
	GroupId     int
}

func (t Target) IsGroup() bool {
	return t.GroupId != 0
}

// Entry is one message in the local timeline.
type Entry struct {
	TempId  string
	Target  Target
	State   State
	Error   string
	Message types.Message
	// SupersededBy is the server id of the persisted copy of a failed
	// entry. Superseded entries are not shown and cannot be retried.
	SupersededBy int
}

type entry struct {
	Entry
	timer *time.Timer
}

// Outbox is the ordered local timeline of a client. It is safe for
// concurrent use.
type Outbox struct {
	mu         sync.Mutex
	self       int
	ackTimeout time.Duration
	entries    []*entry
	byTemp     map[string]*entry
	byId       map[int]*entry
	onChange   func(Entry)
	newTempId  func() (string, error)
	now        func() time.Time
}

func NewOutbox(self int, ackTimeout time.Duration) *Outbox {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &Outbox{
		self:       self,
		ackTimeout: ackTimeout,
		byTemp:     make(map[string]*entry),
		byId:       make(map[int]*entry),
		newTempId:  shortid.Generate,
		now:        protocol.Now,
	}
}

// OnChange registers fn to be called after an entry changes state. It is
// called without the outbox lock held.
func (o *Outbox) OnChange(fn func(Entry)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onChange = fn
}

func (o *Outbox) notify(e Entry) {
	o.mu.Lock()
	fn := o.onChange
	o.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

// Begin appends an optimistic entry in the Pending state and arms its
// acknowledgment timer.
func (o *Outbox) Begin(target Target, send protocol.Send) (Entry, error) {
	tempId, err := o.newTempId()
	if err != nil {
		return Entry{}, fmt.Errorf("generate temp id: %w", err)
	}

	mt := send.MessageType
	if mt == "" {
		mt = types.MessageTypeText
	}

	o.mu.Lock()
	e := &entry{Entry: Entry{
		TempId: tempId,
		Target: target,
		State:  Pending,
		Message: types.Message{
			TempId:         tempId,
			SenderId:       o.self,
			RecipientId:    target.RecipientId,
			GroupId:        target.GroupId,
			IsGroupMessage: target.IsGroup(),
			Text:           send.Text,
			MediaURL:       send.MediaURL,
			MessageType:    mt,
			Status:         types.StatusSending,
			CreatedAt:      o.now(),
		},
	}}
	o.entries = append(o.entries, e)
	o.byTemp[tempId] = e
	e.timer = time.AfterFunc(o.ackTimeout, func() { o.Fail(tempId, "ack timeout") })
	snapshot := e.Entry
	o.mu.Unlock()

	return snapshot, nil
}

// Resolve applies an acknowledgment. It reports false when the ack does
// not match a pending entry, which includes acks arriving after a timeout.
func (o *Outbox) Resolve(ack *protocol.Ack) bool {
	o.mu.Lock()
	e, ok := o.byTemp[ack.TempId]
	if !ok || e.State != Pending {
		if ok && ack.Success && ack.Message != nil && o.supersedeLocked(e, *ack.Message) {
			snapshot := e.Entry
			o.mu.Unlock()
			o.notify(snapshot)
			return false
		}
		o.mu.Unlock()
		return false
	}
	e.timer.Stop()

	if ack.Success && ack.Message != nil {
		o.markSentLocked(e, *ack.Message)
	} else {
		e.State = Failed
		e.Error = ack.Error
	}
	snapshot := e.Entry
	o.mu.Unlock()

	o.notify(snapshot)
	return true
}

// markSentLocked replaces the optimistic record with the persisted one
// without moving the entry.
func (o *Outbox) markSentLocked(e *entry, msg types.Message) {
	msg.TempId = e.TempId
	e.Message = msg
	e.State = Sent
	e.Error = ""
	o.byId[msg.Id] = e
}

// Fail moves a pending entry to Failed. It is a no-op for entries that are
// no longer pending.
func (o *Outbox) Fail(tempId, reason string) bool {
	o.mu.Lock()
	e, ok := o.byTemp[tempId]
	if !ok || e.State != Pending {
		o.mu.Unlock()
		return false
	}
	e.timer.Stop()
	e.State = Failed
	e.Error = reason
	snapshot := e.Entry
	o.mu.Unlock()

	o.notify(snapshot)
	return true
}

// FailPending fails every pending entry and returns their temp ids.
func (o *Outbox) FailPending(reason string) []string {
	o.mu.Lock()
	var ids []string
	for _, e := range o.entries {
		if e.State == Pending {
			ids = append(ids, e.TempId)
		}
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.Fail(id, reason)
	}
	return ids
}

// Retry replaces a failed entry with a fresh pending one at the end of the
// timeline.
func (o *Outbox) Retry(tempId string) (Entry, error) {
	o.mu.Lock()
	e, ok := o.byTemp[tempId]
	if !ok {
		o.mu.Unlock()
		return Entry{}, ErrUnknownEntry
	}
	if e.State != Failed {
		o.mu.Unlock()
		return Entry{}, ErrNotFailed
	}
	if e.SupersededBy != 0 {
		o.mu.Unlock()
		return Entry{}, ErrSuperseded
	}
	o.removeLocked(e)
	o.mu.Unlock()

	return o.Begin(e.Target, protocol.Send{
		Text:        e.Message.Text,
		MediaURL:    e.Message.MediaURL,
		MessageType: e.Message.MessageType,
	})
}

// Discard drops a failed entry.
func (o *Outbox) Discard(tempId string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.byTemp[tempId]
	if !ok {
		return ErrUnknownEntry
	}
	if e.State != Failed {
		return ErrNotFailed
	}
	o.removeLocked(e)
	return nil
}

func (o *Outbox) removeLocked(e *entry) {
	o.entries = slices.DeleteFunc(o.entries, func(x *entry) bool { return x == e })
	delete(o.byTemp, e.TempId)
}

// Receive records a pushed message. A message already in the timeline is
// not added twice, and a push for one of our own pending sends settles
// that entry in place. A failed entry stays failed; when its message turns
// out to be persisted, the persisted copy takes its place in the timeline.
// It reports whether a new entry was appended.
func (o *Outbox) Receive(msg types.Message) bool {
	o.mu.Lock()
	if e, ok := o.byId[msg.Id]; ok {
		if e.Message.Status.Advances(msg.Status) {
			e.Message.Status = msg.Status
		}
		o.mu.Unlock()
		return false
	}

	if msg.TempId != "" && msg.SenderId == o.self {
		if e, ok := o.byTemp[msg.TempId]; ok && e.State == Pending {
			e.timer.Stop()
			o.markSentLocked(e, msg)
			snapshot := e.Entry
			o.mu.Unlock()
			o.notify(snapshot)
			return false
		}
		if e, ok := o.byTemp[msg.TempId]; ok && o.supersedeLocked(e, msg) {
			snapshot := e.Entry
			o.mu.Unlock()
			o.notify(snapshot)
			return false
		}
	}

	e := &entry{Entry: Entry{
		TempId:  msg.TempId,
		Target:  o.targetOf(msg),
		State:   Sent,
		Message: msg,
	}}
	o.entries = append(o.entries, e)
	o.byId[msg.Id] = e
	o.mu.Unlock()
	return true
}

// supersedeLocked swaps a failed entry for the persisted copy of its
// message at the same position. It reports whether e was superseded.
func (o *Outbox) supersedeLocked(e *entry, msg types.Message) bool {
	if e.State != Failed || e.SupersededBy != 0 {
		return false
	}
	if _, ok := o.byId[msg.Id]; ok {
		return false
	}

	e.SupersededBy = msg.Id
	msg.TempId = e.TempId
	ne := &entry{Entry: Entry{
		TempId:  e.TempId,
		Target:  e.Target,
		State:   Sent,
		Message: msg,
	}}
	if i := slices.Index(o.entries, e); i >= 0 {
		o.entries[i] = ne
	} else {
		o.entries = append(o.entries, ne)
	}
	o.byId[msg.Id] = ne
	return true
}

func (o *Outbox) targetOf(msg types.Message) Target {
	switch {
	case msg.IsGroupMessage:
		return Target{GroupId: msg.GroupId}
	case msg.SenderId == o.self:
		return Target{RecipientId: msg.RecipientId}
	}
	return Target{RecipientId: msg.SenderId}
}

// Entries returns the timeline for target in display order.
func (o *Outbox) Entries(target Target) []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []Entry
	for _, e := range o.entries {
		if e.Target == target {
			out = append(out, e.Entry)
		}
	}
	return out
}

// Get returns the entry for tempId.
func (o *Outbox) Get(tempId string) (Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.byTemp[tempId]
	if !ok {
		return Entry{}, false
	}
	return e.Entry, true
}
