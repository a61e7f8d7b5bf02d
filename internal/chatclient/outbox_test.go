package chatclient

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const self = 1

func newTestOutbox(timeout time.Duration) *Outbox {
	o := NewOutbox(self, timeout)
	var mu sync.Mutex
	n := 0
	o.newTempId = func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("t%d", n), nil
	}
	return o
}

func persisted(e Entry, id int) *protocol.Ack {
	m := e.Message
	m.Id = id
	m.Status = types.StatusSent
	return &protocol.Ack{Success: true, TempId: e.TempId, Message: &m}
}

func tempIds(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.TempId
	}
	return out
}

func TestOutbox_Begin(t *testing.T) {
	o := newTestOutbox(time.Minute)
	peer := Target{RecipientId: 2}

	e, err := o.Begin(peer, protocol.Send{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "t1", e.TempId)
	assert.Equal(t, Pending, e.State)
	assert.Equal(t, types.StatusSending, e.Message.Status)
	assert.Equal(t, self, e.Message.SenderId)
	assert.Equal(t, 2, e.Message.RecipientId)
	assert.Equal(t, types.MessageTypeText, e.Message.MessageType)
	assert.Len(t, o.Entries(peer), 1, "expected the entry to be visible before any ack")
}

func TestOutbox_OrderingUnderAnyAckInterleaving(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		o := newTestOutbox(time.Minute)
		peer := Target{RecipientId: 2}

		var entries []Entry
		for i := range 8 {
			e, err := o.Begin(peer, protocol.Send{Text: fmt.Sprintf("m%d", i)})
			require.NoError(t, err)
			entries = append(entries, e)
		}
		want := tempIds(entries)

		order := rand.New(rand.NewSource(seed)).Perm(len(entries))
		for _, i := range order {
			require.True(t, o.Resolve(persisted(entries[i], 100+i)))
		}

		got := o.Entries(peer)
		assert.Equal(t, want, tempIds(got), "seed %d", seed)
		for i, e := range got {
			assert.Equal(t, Sent, e.State)
			assert.Equal(t, 100+i, e.Message.Id)
		}
	}
}

func TestOutbox_AckThenPushHasOneEntry(t *testing.T) {
	o := newTestOutbox(time.Minute)
	peer := Target{RecipientId: 2}

	e, err := o.Begin(peer, protocol.Send{Text: "hi"})
	require.NoError(t, err)
	ack := persisted(e, 41)
	require.True(t, o.Resolve(ack))

	assert.False(t, o.Receive(*ack.Message), "expected the pushed copy to be deduplicated")
	got := o.Entries(peer)
	require.Len(t, got, 1)
	assert.Equal(t, 41, got[0].Message.Id)
	assert.Equal(t, "hi", got[0].Message.Text)
	assert.Equal(t, types.StatusSent, got[0].Message.Status)
}

func TestOutbox_PushBeforeAck(t *testing.T) {
	o := newTestOutbox(time.Minute)
	peer := Target{RecipientId: 2}

	e, err := o.Begin(peer, protocol.Send{Text: "hi"})
	require.NoError(t, err)
	ack := persisted(e, 41)

	assert.False(t, o.Receive(*ack.Message))
	assert.False(t, o.Resolve(ack), "expected the ack to find the entry already settled")

	got := o.Entries(peer)
	require.Len(t, got, 1)
	assert.Equal(t, Sent, got[0].State)
}

func TestOutbox_Rejected(t *testing.T) {
	o := newTestOutbox(time.Minute)
	group := Target{GroupId: 9}

	e, err := o.Begin(group, protocol.Send{Text: "hi"})
	require.NoError(t, err)
	require.True(t, o.Resolve(&protocol.Ack{TempId: e.TempId, Error: "group expired", Code: 400}))

	got, ok := o.Get(e.TempId)
	require.True(t, ok)
	assert.Equal(t, Failed, got.State)
	assert.Equal(t, "group expired", got.Error)
	assert.Len(t, o.Entries(group), 1, "expected a failed message to stay visible")
}

func TestOutbox_TimeoutAndLateAck(t *testing.T) {
	o := newTestOutbox(20 * time.Millisecond)
	changes := make(chan Entry, 4)
	o.OnChange(func(e Entry) { changes <- e })

	e, err := o.Begin(Target{RecipientId: 2}, protocol.Send{Text: "hi"})
	require.NoError(t, err)

	select {
	case got := <-changes:
		assert.Equal(t, Failed, got.State)
		assert.Equal(t, "ack timeout", got.Error)
	case <-time.After(time.Second):
		t.Fatal("expected the entry to time out")
	}

	assert.False(t, o.Resolve(persisted(e, 5)), "expected a late ack not to resolve the entry")
	got, _ := o.Get(e.TempId)
	assert.Equal(t, Failed, got.State)
	assert.Equal(t, 5, got.SupersededBy)

	timeline := o.Entries(Target{RecipientId: 2})
	require.Len(t, timeline, 1)
	assert.Equal(t, Sent, timeline[0].State)
	assert.Equal(t, 5, timeline[0].Message.Id)

	_, err = o.Retry(e.TempId)
	assert.ErrorIs(t, err, ErrSuperseded)
}

func TestOutbox_FailedThenPushedIsSuperseded(t *testing.T) {
	o := newTestOutbox(time.Minute)
	group := Target{GroupId: 4}

	first, _ := o.Begin(group, protocol.Send{Text: "one"})
	second, _ := o.Begin(group, protocol.Send{Text: "two"})
	require.True(t, o.Fail(first.TempId, "ack timeout"))

	// the server did persist the first message; the room broadcast
	// includes the sender
	pushed := persisted(first, 40).Message
	pushed.IsGroupMessage = true
	assert.False(t, o.Receive(*pushed), "expected no second copy of a failed message")
	assert.False(t, o.Receive(*pushed))

	timeline := o.Entries(group)
	require.Len(t, timeline, 2)
	assert.Equal(t, []string{first.TempId, second.TempId}, tempIds(timeline), "expected the persisted copy in the failed entry's place")
	assert.Equal(t, Sent, timeline[0].State)
	assert.Equal(t, 40, timeline[0].Message.Id)

	got, ok := o.Get(first.TempId)
	require.True(t, ok)
	assert.Equal(t, Failed, got.State)
	assert.Equal(t, 40, got.SupersededBy)

	_, err := o.Retry(first.TempId)
	assert.ErrorIs(t, err, ErrSuperseded, "expected no resend of a persisted message")
}

func TestOutbox_Retry(t *testing.T) {
	o := newTestOutbox(time.Minute)
	peer := Target{RecipientId: 2}

	first, _ := o.Begin(peer, protocol.Send{Text: "one"})
	second, _ := o.Begin(peer, protocol.Send{Text: "two"})

	_, err := o.Retry(first.TempId)
	assert.ErrorIs(t, err, ErrNotFailed)
	_, err = o.Retry("nope")
	assert.ErrorIs(t, err, ErrUnknownEntry)

	require.True(t, o.Fail(first.TempId, "connection lost"))
	retried, err := o.Retry(first.TempId)
	require.NoError(t, err)
	assert.NotEqual(t, first.TempId, retried.TempId)
	assert.Equal(t, Pending, retried.State)
	assert.Equal(t, "one", retried.Message.Text)

	assert.Equal(t, []string{second.TempId, retried.TempId}, tempIds(o.Entries(peer)))
	_, ok := o.Get(first.TempId)
	assert.False(t, ok)
}

func TestOutbox_DiscardAndFailPending(t *testing.T) {
	o := newTestOutbox(time.Minute)
	peer := Target{RecipientId: 2}

	a, _ := o.Begin(peer, protocol.Send{Text: "a"})
	b, _ := o.Begin(peer, protocol.Send{Text: "b"})
	require.True(t, o.Resolve(persisted(b, 7)))

	assert.ErrorIs(t, o.Discard(a.TempId), ErrNotFailed)
	assert.Equal(t, []string{a.TempId}, o.FailPending("connection lost"))
	require.NoError(t, o.Discard(a.TempId))
	assert.Equal(t, []string{b.TempId}, tempIds(o.Entries(peer)))
}

func TestOutbox_ReceiveFromOthers(t *testing.T) {
	o := newTestOutbox(time.Minute)

	incoming := types.Message{Id: 3, SenderId: 2, RecipientId: self, Text: "yo", Status: types.StatusSent}
	assert.True(t, o.Receive(incoming))
	assert.False(t, o.Receive(incoming))
	assert.Len(t, o.Entries(Target{RecipientId: 2}), 1)

	group := types.Message{Id: 4, SenderId: 5, GroupId: 9, IsGroupMessage: true, Text: "all"}
	assert.True(t, o.Receive(group))
	assert.Len(t, o.Entries(Target{GroupId: 9}), 1)

	incoming.Status = types.StatusRead
	o.Receive(incoming)
	assert.Equal(t, types.StatusRead, o.Entries(Target{RecipientId: 2})[0].Message.Status)
}
