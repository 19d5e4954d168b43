package core

import (
	"errors"
	"slices"
	"testing"
)

func registered(t *testing.T, r *Registry, userID, guildID string) *Conn {
	t.Helper()
	c := NewConn(userID+"-conn", nil)
	if _, _, err := r.Register(c, Identity{UserID: userID, Username: userID, GuildID: guildID}); err != nil {
		t.Fatalf("register %s: %v", userID, err)
	}
	return c
}

// assertRoomsAgree checks that room sets and connection roomIDs describe the same membership.
func assertRoomsAgree(t *testing.T, r *Registry, conns ...*Conn) {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()

	for roomID, members := range r.rooms {
		if len(members) == 0 {
			t.Fatalf("room %q left empty", roomID)
		}
		for userID, c := range members {
			if c.RoomID() != roomID {
				t.Fatalf("room %q lists %s but connection is in %q", roomID, userID, c.RoomID())
			}
		}
	}
	for _, c := range conns {
		roomID := c.RoomID()
		if roomID == "" {
			continue
		}
		if r.rooms[roomID][c.UserID()] != c {
			t.Fatalf("connection %s claims room %q but is not a member", c.ID, roomID)
		}
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	c := registered(t, r, "alice", "g1")

	got, ok := r.Lookup("alice")
	if !ok || got != c {
		t.Fatalf("lookup returned %v, %v", got, ok)
	}
	if id, _ := got.Identity(); id.UserID != "alice" {
		t.Fatalf("identity not bound: %+v", id)
	}
	if c.Status() != "online" {
		t.Fatalf("expected online status, got %q", c.Status())
	}
	if _, ok := r.Lookup(""); ok {
		t.Fatalf("empty identity must not resolve")
	}
}

func TestRegistryRegisterReplacesPrevious(t *testing.T) {
	r := NewRegistry()
	old := registered(t, r, "alice", "g1")
	if _, _, err := r.JoinRoom("g1", old); err != nil {
		t.Fatalf("join: %v", err)
	}

	fresh := NewConn("fresh", nil)
	prev, left, err := r.Register(fresh, Identity{UserID: "alice", GuildID: "g1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if prev != old {
		t.Fatalf("expected previous handle to be returned")
	}
	if len(left) != 1 || left[0] != "g1" {
		t.Fatalf("expected eviction from g1, got %v", left)
	}
	if got, _ := r.Lookup("alice"); got != fresh {
		t.Fatalf("lookup should return the newest handle")
	}
	if old.RoomID() != "" || len(r.RoomMembers("g1")) != 0 {
		t.Fatalf("replaced handle must leave its room")
	}
	assertRoomsAgree(t, r, old, fresh)

	// Cleaning up the superseded handle must not drop the fresh one.
	if _, removed := r.Remove(old); removed {
		t.Fatalf("remove of superseded handle reported removal")
	}
	if got, ok := r.Lookup("alice"); !ok || got != fresh {
		t.Fatalf("fresh handle lost after removing the old one")
	}
}

func TestRegistryRejectsIdentitySwitchAndClosedConn(t *testing.T) {
	r := NewRegistry()
	c := registered(t, r, "alice", "")

	if _, _, err := r.Register(c, Identity{UserID: "bob"}); !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("expected ErrIdentityMismatch, got %v", err)
	}

	closed := NewConn("closed", nil)
	closed.Close("test")
	if _, _, err := r.Register(closed, Identity{UserID: "carol"}); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
	if _, ok := r.Lookup("carol"); ok {
		t.Fatalf("closed connection must not be registered")
	}
}

func TestRegistryRoomsStayInSync(t *testing.T) {
	r := NewRegistry()
	a := registered(t, r, "alice", "g1")
	b := registered(t, r, "bob", "g1")

	if joined, _, err := r.JoinRoom("g1", a); err != nil || !joined {
		t.Fatalf("join a: %v %v", joined, err)
	}
	if joined, _, _ := r.JoinRoom("g1", a); joined {
		t.Fatalf("second join of the same room must report joined=false")
	}
	if _, _, err := r.JoinRoom("g1", b); err != nil {
		t.Fatalf("join b: %v", err)
	}
	assertRoomsAgree(t, r, a, b)

	members := r.RoomMembers("g1")
	slices.Sort(members)
	if !slices.Equal(members, []string{"alice", "bob"}) {
		t.Fatalf("unexpected members %v", members)
	}

	_, prevRoom, err := r.JoinRoom("g2", b)
	if err != nil || prevRoom != "g1" {
		t.Fatalf("switching rooms: prev=%q err=%v", prevRoom, err)
	}
	assertRoomsAgree(t, r, a, b)

	if roomID, ok := r.LeaveRoom(a); !ok || roomID != "g1" {
		t.Fatalf("leave a: %q %v", roomID, ok)
	}
	if _, rooms := r.Stats(); rooms != 1 {
		t.Fatalf("empty room must be deleted, have %d rooms", rooms)
	}

	// Leaving twice is harmless and changes nothing.
	if _, ok := r.LeaveRoom(a); ok {
		t.Fatalf("second leave must be a no-op")
	}
	assertRoomsAgree(t, r, a, b)
}

func TestRegistryJoinRequiresCurrentHandle(t *testing.T) {
	r := NewRegistry()
	anon := NewConn("anon", nil)
	if _, _, err := r.JoinRoom("g1", anon); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := registered(t, r, "alice", "g1")
	if _, _, err := r.JoinRoom("g1", c); err != nil {
		t.Fatalf("join: %v", err)
	}

	roomID, removed := r.Remove(c)
	if !removed || roomID != "g1" {
		t.Fatalf("first remove: %q %v", roomID, removed)
	}
	if _, removed := r.Remove(c); removed {
		t.Fatalf("second remove must be a no-op")
	}
	if users, rooms := r.Stats(); users != 0 || rooms != 0 {
		t.Fatalf("registries not empty: users=%d rooms=%d", users, rooms)
	}
}

func TestRegistryGuildChangeLeavesStaleRoom(t *testing.T) {
	r := NewRegistry()
	c := registered(t, r, "alice", "g1")
	if _, _, err := r.JoinRoom("g1", c); err != nil {
		t.Fatalf("join: %v", err)
	}
	_, left, err := r.Register(c, Identity{UserID: "alice", GuildID: "g2"})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if len(left) != 1 || left[0] != "g1" {
		t.Fatalf("expected to leave g1, got %v", left)
	}
	if c.RoomID() != "" {
		t.Fatalf("connection kept stale room %q", c.RoomID())
	}
	assertRoomsAgree(t, r, c)
}

func TestRegistryRegisterResetsStatus(t *testing.T) {
	r := NewRegistry()
	c := registered(t, r, "alice", "")
	c.setStatus("busy")

	if _, _, err := r.Register(c, Identity{UserID: "alice"}); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if c.Status() != "online" {
		t.Fatalf("expected online after authentication, got %q", c.Status())
	}
}

func TestRegistryClosedHandleNeverDangles(t *testing.T) {
	t.Run("close then register", func(t *testing.T) {
		r := NewRegistry()
		c := NewConn("c1", nil)
		c.Close("test")
		r.Remove(c)

		if _, _, err := r.Register(c, Identity{UserID: "alice"}); !errors.Is(err, ErrConnClosed) {
			t.Fatalf("expected ErrConnClosed, got %v", err)
		}
		if users, _ := r.Stats(); users != 0 {
			t.Fatalf("closed handle registered")
		}
	})

	t.Run("register then close", func(t *testing.T) {
		r := NewRegistry()
		c := registered(t, r, "alice", "g1")
		if _, _, err := r.JoinRoom("g1", c); err != nil {
			t.Fatalf("join: %v", err)
		}
		c.Close("test")

		if _, removed := r.Remove(c); !removed {
			t.Fatalf("remove after close must drop the registration")
		}
		if users, rooms := r.Stats(); users != 0 || rooms != 0 {
			t.Fatalf("registries not empty: users=%d rooms=%d", users, rooms)
		}
	})
}
