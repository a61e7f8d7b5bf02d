package presence

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/testutil"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id        string
	principal int
	full      bool

	mu       sync.Mutex
	received []*protocol.ServerMessage
}

func newFakeConn(id string, principal int) *fakeConn {
	return &fakeConn{id: id, principal: principal}
}

func (c *fakeConn) ID() string       { return c.id }
func (c *fakeConn) PrincipalID() int { return c.principal }

func (c *fakeConn) Queue(msg *protocol.ServerMessage) bool {
	if c.full {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, msg)
	return true
}

func (c *fakeConn) messages() []*protocol.ServerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*protocol.ServerMessage(nil), c.received...)
}

func (c *fakeConn) lastPresence() []int {
	msgs := c.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Event != nil && msgs[i].Event.PresenceUpdate != nil {
			return msgs[i].Event.PresenceUpdate.Online
		}
	}
	return nil
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))
	a1 := newFakeConn("a1", 1)
	b1 := newFakeConn("b1", 2)

	r.Register(a1, types.RoleUser)
	assert.True(t, r.IsOnline(1))
	assert.Equal(t, []int{1}, a1.lastPresence())

	r.Register(b1, types.RoleUser)
	assert.Equal(t, []int{1, 2}, a1.lastPresence(), "existing connections receive the new list")
	assert.Equal(t, []int{1, 2}, b1.lastPresence(), "the new connection receives the list too")
}

func TestRegistryMultiDevice(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))
	tab1 := newFakeConn("tab1", 1)
	tab2 := newFakeConn("tab2", 1)
	other := newFakeConn("other", 2)

	r.Register(tab1, types.RoleUser)
	r.Register(tab2, types.RoleUser)
	r.Register(other, types.RoleUser)
	assert.Equal(t, []string{"tab1", "tab2"}, r.ConnectionsFor(1))

	assert.True(t, r.Unregister("tab1"))
	assert.True(t, r.IsOnline(1), "principal stays online until the last connection leaves")
	assert.Equal(t, []int{1, 2}, other.lastPresence())

	assert.True(t, r.Unregister("tab2"))
	assert.False(t, r.IsOnline(1))
	assert.Equal(t, []int{2}, other.lastPresence(), "going offline is broadcast immediately")
}

func TestRegistryIdempotentRegister(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))
	c := newFakeConn("c", 1)

	r.Register(c, types.RoleUser)
	before := len(c.messages())
	r.Register(c, types.RoleUser)

	assert.Equal(t, before, len(c.messages()))
	assert.Equal(t, []string{"c"}, r.ConnectionsFor(1))
	assert.False(t, r.Unregister("missing"))
}

func TestRegistryAdmins(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))
	admin := newFakeConn("adm", 9)
	user := newFakeConn("u", 1)

	r.Register(admin, types.RoleAdmin)
	id, ok := r.ResolveAdmin(9)
	require.True(t, ok)
	assert.Equal(t, "adm", id)
	assert.Empty(t, r.Online(), "admins are not listed as online users")

	r.Register(user, types.RoleUser)
	msgs := admin.messages()
	last := msgs[len(msgs)-1]
	require.NotNil(t, last.Event.ActiveUsers)
	assert.Equal(t, 1, last.Event.ActiveUsers.Count)
	for _, m := range msgs {
		assert.Nil(t, m.Event.PresenceUpdate, "admins do not receive the user presence list")
	}

	_, ok = r.ResolveAdmin(1)
	assert.False(t, ok)
	assert.Equal(t, 1, r.SendToAdmins(protocol.ActiveUsersEvent(5)))
}

func TestRegistryRoleMove(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))
	c := newFakeConn("c", 1)

	r.Register(c, types.RoleUser)
	r.Register(c, types.RoleAdmin)

	assert.Empty(t, r.Online())
	_, ok := r.ResolveAdmin(1)
	assert.True(t, ok)
	assert.Equal(t, []string{"c"}, r.ConnectionsFor(1), "a connection lives in exactly one map")

	assert.True(t, r.Unregister("c"))
	assert.False(t, r.IsOnline(1))
}

func TestRegistrySendToOfflinePrincipal(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))

	assert.NotPanics(t, func() {
		n := r.SendToPrincipal(42, protocol.DirectMessageEvent(&types.Message{Id: 1}))
		assert.Zero(t, n)
	})

	full := newFakeConn("full", 3)
	r.Register(full, types.RoleUser)
	full.full = true
	assert.Zero(t, r.SendToPrincipal(3, protocol.DirectMessageEvent(&types.Message{Id: 1})))
}

func TestRegistryConsistencyUnderRandomOps(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))
	rng := rand.New(rand.NewSource(1))
	conns := make([]*fakeConn, 0, 30)
	for i := range 30 {
		conns = append(conns, newFakeConn(fmt.Sprintf("c%d", i), i%5))
	}

	for range 500 {
		c := conns[rng.Intn(len(conns))]
		if rng.Intn(2) == 0 {
			r.Register(c, types.RoleUser)
		} else {
			r.Unregister(c.ID())
		}

		for p := range 5 {
			assert.Equal(t, len(r.ConnectionsFor(p)) > 0, r.IsOnline(p), "principal %d", p)
		}
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("c%d", i), i%4)
			r.Register(c, types.RoleUser)
			r.SendToPrincipal(i%4, protocol.ActiveUsersEvent(0))
			if i%2 == 0 {
				r.Unregister(c.ID())
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for p := range 4 {
		total += len(r.ConnectionsFor(p))
	}
	assert.Equal(t, 10, total)
}
