package presence

import (
	"maps"
	"slices"
	"sync"

	"github.com/npezzotti/go-messenger/internal/protocol"
)

// Rooms tracks which connections are joined to which group channel.
// Joining twice or leaving a room that was never joined is a no-op.
type Rooms struct {
	mu     sync.RWMutex
	rooms  map[int]map[string]Conn
	byConn map[string]map[int]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		rooms:  make(map[int]map[string]Conn),
		byConn: make(map[string]map[int]struct{}),
	}
}

// Join reports whether conn was newly added to the room.
func (r *Rooms) Join(conn Conn, groupId int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[groupId]
	if !ok {
		members = make(map[string]Conn)
		r.rooms[groupId] = members
	}
	if _, ok := members[conn.ID()]; ok {
		return false
	}
	members[conn.ID()] = conn

	groups, ok := r.byConn[conn.ID()]
	if !ok {
		groups = make(map[int]struct{})
		r.byConn[conn.ID()] = groups
	}
	groups[groupId] = struct{}{}
	return true
}

// Leave reports whether the connection was in the room.
func (r *Rooms) Leave(connId string, groupId int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(connId, groupId)
}

func (r *Rooms) leaveLocked(connId string, groupId int) bool {
	members, ok := r.rooms[groupId]
	if !ok {
		return false
	}
	if _, ok := members[connId]; !ok {
		return false
	}
	delete(members, connId)
	if len(members) == 0 {
		delete(r.rooms, groupId)
	}
	if groups, ok := r.byConn[connId]; ok {
		delete(groups, groupId)
		if len(groups) == 0 {
			delete(r.byConn, connId)
		}
	}
	return true
}

// LeaveAll removes the connection from every room and returns the groups
// it had joined.
func (r *Rooms) LeaveAll(connId string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	groups := slices.Sorted(maps.Keys(r.byConn[connId]))
	for _, g := range groups {
		r.leaveLocked(connId, g)
	}
	return groups
}

// Evict removes every connection of principal from the room.
func (r *Rooms) Evict(groupId, principal int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, c := range r.rooms[groupId] {
		if c.PrincipalID() == principal {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		r.leaveLocked(id, groupId)
	}
	return len(ids)
}

// Broadcast queues msg on every joined connection except skip, which may
// be empty. The sender's own connections are included unless skipped.
func (r *Rooms) Broadcast(groupId int, msg *protocol.ServerMessage, skip string) int {
	r.mu.RLock()
	conns := slices.Collect(maps.Values(r.rooms[groupId]))
	r.mu.RUnlock()

	return queueAll(conns, msg, skip)
}

func (r *Rooms) Members(groupId int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.rooms[groupId]))
}

func (r *Rooms) Groups(connId string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.byConn[connId]))
}
