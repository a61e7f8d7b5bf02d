package presence

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
)

// Conn is a live transport session that can accept outbound messages.
// Queue must not block.
type Conn interface {
	ID() string
	PrincipalID() int
	Queue(msg *protocol.ServerMessage) bool
}

// Registry maps principals to their live connections. User and admin
// connections are kept in separate maps and a connection id lives in at
// most one of them.
type Registry struct {
	log *slog.Logger

	mu     sync.Mutex
	users  map[int]map[string]Conn
	admins map[int][]Conn
	byConn map[string]entry
}

type entry struct {
	conn Conn
	role types.Role
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:    log.With("component", "presence"),
		users:  make(map[int]map[string]Conn),
		admins: make(map[int][]Conn),
		byConn: make(map[string]entry),
	}
}

// Register adds conn under role. Registering the same connection id again
// with the same role is a no-op; with a different role the connection
// moves to the other map. Every change to the user map is followed by a
// presence broadcast computed inside the same critical section.
func (r *Registry) Register(conn Conn, role types.Role) {
	if !role.Valid() {
		role = types.RoleUser
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[conn.ID()]; ok {
		if prev.role == role {
			return
		}
		r.remove(prev)
		if prev.role == types.RoleUser {
			r.broadcastLocked()
		}
	}

	r.byConn[conn.ID()] = entry{conn: conn, role: role}
	if role == types.RoleAdmin {
		r.admins[conn.PrincipalID()] = append(r.admins[conn.PrincipalID()], conn)
		conn.Queue(protocol.ActiveUsersEvent(len(r.users)))
		r.log.Debug("admin registered", "principal", conn.PrincipalID(), "conn", conn.ID())
		return
	}

	conns, ok := r.users[conn.PrincipalID()]
	if !ok {
		conns = make(map[string]Conn)
		r.users[conn.PrincipalID()] = conns
	}
	conns[conn.ID()] = conn
	r.log.Debug("user registered", "principal", conn.PrincipalID(), "conn", conn.ID(), "devices", len(conns))
	r.broadcastLocked()
}

// Unregister removes the connection from whichever map holds it and
// reports whether it was registered.
func (r *Registry) Unregister(connId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byConn[connId]
	if !ok {
		return false
	}
	r.remove(e)
	r.log.Debug("connection unregistered", "principal", e.conn.PrincipalID(), "conn", connId, "role", e.role)
	if e.role == types.RoleUser {
		r.broadcastLocked()
	}
	return true
}

func (r *Registry) remove(e entry) {
	connId, principal := e.conn.ID(), e.conn.PrincipalID()
	delete(r.byConn, connId)
	if e.role == types.RoleAdmin {
		r.admins[principal] = slices.DeleteFunc(r.admins[principal], func(c Conn) bool {
			return c.ID() == connId
		})
		if len(r.admins[principal]) == 0 {
			delete(r.admins, principal)
		}
		return
	}

	if conns, ok := r.users[principal]; ok {
		delete(conns, connId)
		if len(conns) == 0 {
			delete(r.users, principal)
		}
	}
}

// broadcastLocked sends the full online list to every user connection and
// the online count to every admin connection. r.mu must be held.
func (r *Registry) broadcastLocked() {
	online := r.onlineLocked()
	update := protocol.PresenceUpdateEvent(online)
	for _, conns := range r.users {
		for _, c := range conns {
			if !c.Queue(update) {
				r.log.Debug("presence update dropped", "conn", c.ID())
			}
		}
	}

	active := protocol.ActiveUsersEvent(len(online))
	for _, conns := range r.admins {
		for _, c := range conns {
			c.Queue(active)
		}
	}
}

func (r *Registry) onlineLocked() []int {
	return slices.Sorted(maps.Keys(r.users))
}

// Online returns the sorted ids of principals with a user connection.
func (r *Registry) Online() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineLocked()
}

func (r *Registry) IsOnline(principal int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users[principal]) > 0 || len(r.admins[principal]) > 0
}

// ConnectionsFor returns the ids of every connection held by principal in
// either map.
func (r *Registry) ConnectionsFor(principal int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.users[principal])+len(r.admins[principal]))
	for id := range r.users[principal] {
		ids = append(ids, id)
	}
	for _, c := range r.admins[principal] {
		ids = append(ids, c.ID())
	}
	slices.Sort(ids)
	return ids
}

// ResolveAdmin returns the oldest admin connection of principal.
func (r *Registry) ResolveAdmin(principal int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.admins[principal]
	if len(conns) == 0 {
		return "", false
	}
	return conns[0].ID(), true
}

// SendToPrincipal queues msg on every connection of principal and returns
// how many accepted it. Zero means the principal is unreachable, which is
// an expected outcome rather than an error.
func (r *Registry) SendToPrincipal(principal int, msg *protocol.ServerMessage) int {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.users[principal])+len(r.admins[principal]))
	for _, c := range r.users[principal] {
		conns = append(conns, c)
	}
	conns = append(conns, r.admins[principal]...)
	r.mu.Unlock()

	return queueAll(conns, msg, "")
}

// SendToAdmins queues msg on every admin connection.
func (r *Registry) SendToAdmins(msg *protocol.ServerMessage) int {
	r.mu.Lock()
	var conns []Conn
	for _, cs := range r.admins {
		conns = append(conns, cs...)
	}
	r.mu.Unlock()

	return queueAll(conns, msg, "")
}

func queueAll(conns []Conn, msg *protocol.ServerMessage, skip string) int {
	delivered := 0
	for _, c := range conns {
		if skip != "" && c.ID() == skip {
			continue
		}
		if c.Queue(msg) {
			delivered++
		}
	}
	return delivered
}
