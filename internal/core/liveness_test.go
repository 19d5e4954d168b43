package core

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-realtime/internal/proto"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLivenessReapsSilentConnection(t *testing.T) {
	st := newFakeStore()
	st.addUser("a", "alice", "g1")
	st.addUser("b", "bob", "g1")
	st.befriend("a", "b")
	hub := newTestHub(t, st, Options{PingInterval: 20 * time.Millisecond})

	deadLink := newFakeLink(false)
	a := attach(t, hub, deadLink)
	dispatch(t, hub, a, proto.InboundTypeAuthenticate, proto.AuthenticateData{Token: "token-a"})
	mustEnvelope(t, a, proto.OutboundTypeAuthenticated)
	dispatch(t, hub, a, proto.InboundTypeJoinGuildChat, nil)
	mustEnvelope(t, a, proto.OutboundTypeGuildChatJoined)

	b := login(t, hub, "b")

	ctx := context.Background()
	hub.sweep(ctx)
	if a.Closed() {
		t.Fatalf("first missed probe must not reap")
	}
	if _, ok := hub.Registry().Lookup("a"); !ok {
		t.Fatalf("connection removed before its grace interval")
	}

	waitFor(t, "b to answer its probe", b.Alive)
	hub.sweep(ctx)

	if terminated, reason := deadLink.Terminated(); !terminated || reason != "liveness timeout" {
		t.Fatalf("dead transport not terminated: %v %q", terminated, reason)
	}
	if _, ok := hub.Registry().Lookup("a"); ok {
		t.Fatalf("reaped identity still registered")
	}
	if len(hub.Registry().RoomMembers("g1")) != 0 {
		t.Fatalf("reaped identity still in room")
	}
	if b.Closed() {
		t.Fatalf("responsive connection reaped")
	}

	status := mustEnvelope(t, b, proto.OutboundTypeFriendStatus).Data.(proto.FriendStatus)
	if status.UserID != "a" || status.Status != proto.StatusOffline {
		t.Fatalf("unexpected presence: %+v", status)
	}

	// The transport's own close notification arrives later and must be harmless.
	hub.Disconnect(ctx, a)
	noEnvelope(t, b, proto.OutboundTypeFriendStatus)
}

func TestLivenessRunClosesConnectionsOnShutdown(t *testing.T) {
	hub := newTestHub(t, newFakeStore(), Options{PingInterval: 50 * time.Millisecond})
	link := newFakeLink(true)
	c := attach(t, hub, link)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	time.Sleep(120 * time.Millisecond)
	if c.Closed() {
		t.Fatalf("answering connection reaped")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("monitor did not stop")
	}
	if terminated, reason := link.Terminated(); !terminated || reason != "server shutting down" {
		t.Fatalf("unexpected termination: %v %q", terminated, reason)
	}
}
