package presence

import (
	"testing"

	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestRoomsJoinLeave(t *testing.T) {
	rooms := NewRooms()
	a := newFakeConn("a", 1)
	b := newFakeConn("b", 2)

	assert.True(t, rooms.Join(a, 10))
	assert.False(t, rooms.Join(a, 10), "joining twice is a no-op")
	assert.True(t, rooms.Join(b, 10))
	assert.True(t, rooms.Join(a, 11))

	assert.Equal(t, []string{"a", "b"}, rooms.Members(10))
	assert.Equal(t, []int{10, 11}, rooms.Groups("a"))

	assert.True(t, rooms.Leave("b", 10))
	assert.False(t, rooms.Leave("b", 10), "leaving a room that was not joined is a no-op")
	assert.False(t, rooms.Leave("b", 99))
	assert.Equal(t, []string{"a"}, rooms.Members(10))
}

func TestRoomsLeaveAll(t *testing.T) {
	rooms := NewRooms()
	a := newFakeConn("a", 1)
	rooms.Join(a, 1)
	rooms.Join(a, 2)

	assert.Equal(t, []int{1, 2}, rooms.LeaveAll("a"))
	assert.Empty(t, rooms.Members(1))
	assert.Empty(t, rooms.Groups("a"))
	assert.Empty(t, rooms.LeaveAll("a"))
}

func TestRoomsBroadcastIncludesSender(t *testing.T) {
	rooms := NewRooms()
	sender := newFakeConn("sender", 1)
	senderTab := newFakeConn("sender-tab", 1)
	peer := newFakeConn("peer", 2)
	outsider := newFakeConn("outsider", 3)
	rooms.Join(sender, 7)
	rooms.Join(senderTab, 7)
	rooms.Join(peer, 7)
	rooms.Join(outsider, 8)

	n := rooms.Broadcast(7, protocol.GroupMessageEvent(&types.Message{Id: 1, GroupId: 7}), "")

	assert.Equal(t, 3, n)
	assert.Len(t, sender.messages(), 1)
	assert.Len(t, senderTab.messages(), 1)
	assert.Len(t, peer.messages(), 1)
	assert.Empty(t, outsider.messages())

	n = rooms.Broadcast(7, protocol.NewEvent(&protocol.Event{Typing: &protocol.TypingEvent{From: 1}}), "sender")
	assert.Equal(t, 2, n)
	assert.Len(t, sender.messages(), 1)
}

func TestRoomsEvict(t *testing.T) {
	rooms := NewRooms()
	rooms.Join(newFakeConn("a1", 1), 5)
	rooms.Join(newFakeConn("a2", 1), 5)
	rooms.Join(newFakeConn("b", 2), 5)

	assert.Equal(t, 2, rooms.Evict(5, 1))
	assert.Equal(t, []string{"b"}, rooms.Members(5))
}
