package core

import (
	"sync"

	"github.com/vovakirdan/wirechat-realtime/internal/proto"
)

// Registry holds the connection registry (identity -> connection) and the
// room registry (room -> identities). Register, Remove, JoinRoom and LeaveRoom
// are the only mutators, so a connection's roomID and the room sets always agree.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	rooms map[string]map[string]*Conn
}

// NewRegistry creates empty registries.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
		rooms: make(map[string]map[string]*Conn),
	}
}

// Register binds c to id and makes it the reachable connection for id.UserID,
// replacing any previous entry. The replaced connection, if any, is evicted from
// its room and returned; closing it is up to the caller. left lists the rooms the
// identity dropped out of, either through the replaced connection or because its
// guild changed. Registering the same connection again refreshes its identity
// attributes and resets its status to online.
func (r *Registry) Register(c *Conn, id Identity) (prev *Conn, left []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Closed() {
		return nil, nil, ErrConnClosed
	}

	c.mu.Lock()
	if c.identity.UserID != "" && c.identity.UserID != id.UserID {
		c.mu.Unlock()
		return nil, nil, ErrIdentityMismatch
	}
	c.identity = id
	c.status = proto.StatusOnline
	staleRoom := c.roomID != "" && c.roomID != id.GuildID
	c.mu.Unlock()

	// Guild membership changed under an already-joined connection.
	if staleRoom {
		left = append(left, r.leaveLocked(c))
	}

	prev = r.conns[id.UserID]
	if prev == c {
		prev = nil
	}
	if prev != nil {
		if roomID := r.leaveLocked(prev); roomID != "" {
			left = append(left, roomID)
		}
	}
	r.conns[id.UserID] = c
	return prev, left, nil
}

// Lookup returns the current connection of userID.
func (r *Registry) Lookup(userID string) (*Conn, bool) {
	if userID == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

// IsCurrent reports whether c is the registered connection for its identity.
func (r *Registry) IsCurrent(c *Conn) bool {
	cur, ok := r.Lookup(c.UserID())
	return ok && cur == c
}

// Remove drops c from both registries. It returns the room c was in and whether
// c was the registered connection for its identity. Removing an unknown or
// already removed connection is a no-op.
func (r *Registry) Remove(c *Conn) (roomID string, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := c.UserID()
	if userID == "" {
		return "", false
	}

	roomID = r.leaveLocked(c)
	if cur, ok := r.conns[userID]; ok && cur == c {
		delete(r.conns, userID)
		removed = true
	}
	return roomID, removed
}

// JoinRoom subscribes c to roomID, leaving any other room first.
// joined is false when c was already in roomID; prevRoom names the room that was left.
func (r *Registry) JoinRoom(roomID string, c *Conn) (joined bool, prevRoom string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := c.UserID()
	if cur, ok := r.conns[userID]; !ok || cur != c {
		return false, "", ErrNotRegistered
	}

	current := c.RoomID()
	if current == roomID {
		return false, "", nil
	}
	if current != "" {
		prevRoom = r.leaveLocked(c)
	}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*Conn)
		r.rooms[roomID] = members
	}
	members[userID] = c

	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()

	return true, prevRoom, nil
}

// LeaveRoom unsubscribes c from its room. ok is false when c was not in a room.
func (r *Registry) LeaveRoom(c *Conn) (roomID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID = r.leaveLocked(c)
	return roomID, roomID != ""
}

func (r *Registry) leaveLocked(c *Conn) string {
	c.mu.Lock()
	roomID := c.roomID
	userID := c.identity.UserID
	c.roomID = ""
	c.mu.Unlock()

	if roomID == "" {
		return ""
	}
	if members, ok := r.rooms[roomID]; ok {
		if members[userID] == c {
			delete(members, userID)
		}
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	return roomID
}

// RoomMembers returns the identities currently subscribed to roomID.
func (r *Registry) RoomMembers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns the number of registered identities and non-empty rooms.
func (r *Registry) Stats() (users, rooms int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns), len(r.rooms)
}
