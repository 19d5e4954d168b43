package core

import (
	"context"
	"strconv"
	"testing"

	"github.com/vovakirdan/wirechat-realtime/internal/proto"
)

func benchmarkRoomBroadcast(b *testing.B, recipients int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(Deps{}, Options{})
	join := func(userID string) *Conn {
		c := NewConn(userID, nil)
		if _, _, err := hub.registry.Register(c, Identity{UserID: userID, GuildID: "bench"}); err != nil {
			b.Fatalf("register: %v", err)
		}
		if _, _, err := hub.registry.JoinRoom("bench", c); err != nil {
			b.Fatalf("join: %v", err)
		}
		return c
	}

	join("sender")
	conns := make([]*Conn, 0, recipients)
	for i := range recipients {
		conns = append(conns, join("user-"+strconv.Itoa(i)))
	}

	// Drain all but the first recipient so buffers never fill.
	target := conns[0]
	for _, c := range conns[1:] {
		go func(c *Conn) {
			for {
				select {
				case <-c.Outbound():
				case <-ctx.Done():
					return
				}
			}
		}(c)
	}

	payload := proto.GuildChatMessage{Message: proto.ChatMessage{GuildID: "bench", Content: "payload"}}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		hub.broadcastRoom("bench", "sender", proto.OutboundTypeGuildChatMessage, payload)
		<-target.Outbound()
	}
}

func BenchmarkRoomBroadcast_10(b *testing.B)  { benchmarkRoomBroadcast(b, 10) }
func BenchmarkRoomBroadcast_100(b *testing.B) { benchmarkRoomBroadcast(b, 100) }
func BenchmarkRoomBroadcast_500(b *testing.B) { benchmarkRoomBroadcast(b, 500) }
