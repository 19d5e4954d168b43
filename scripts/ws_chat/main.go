package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-realtime/internal/proto"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", os.Getenv("WIRECHAT_TOKEN"), "bearer token (see `wirechat-realtime token`)")
	join := flag.Bool("join", true, "join the guild chat after authenticating")
	flag.Parse()

	if *token == "" {
		return errors.New("token is required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(envelopeType string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", envelopeType, err)
		}
		return wsjson.Write(ctx, conn, proto.Inbound{Type: envelopeType, Data: payload})
	}

	if err := send(proto.InboundTypeAuthenticate, proto.AuthenticateData{Token: *token}); err != nil {
		return err
	}
	if *join {
		if err := send(proto.InboundTypeJoinGuildChat, struct{}{}); err != nil {
			return err
		}
	}

	fmt.Printf("Connected to %s\n", *addr)
	fmt.Println("Type messages and press Enter to send. /status <away|busy|online> changes presence. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, send)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch env.Type {
		case proto.OutboundTypeGuildChatMessage:
			var evt proto.GuildChatMessage
			if err := json.Unmarshal(env.Data, &evt); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			printMessage(evt.Message)
		case proto.OutboundTypeGuildChatJoined:
			var evt proto.GuildChatJoined
			if err := json.Unmarshal(env.Data, &evt); err != nil {
				log.Printf("unmarshal guild_chat_joined: %v", err)
				continue
			}
			fmt.Printf("[guild %s] joined, %d recent messages\n", evt.GuildID, len(evt.RecentMessages))
			for _, m := range evt.RecentMessages {
				printMessage(m)
			}
		case proto.OutboundTypeUserJoinedChat, proto.OutboundTypeUserLeftChat:
			var evt proto.UserChatEvent
			if err := json.Unmarshal(env.Data, &evt); err != nil {
				log.Printf("unmarshal %s: %v", env.Type, err)
				continue
			}
			verb := "joined"
			if env.Type == proto.OutboundTypeUserLeftChat {
				verb = "left"
			}
			fmt.Printf("* %s %s\n", evt.Username, verb)
		case proto.OutboundTypeError:
			var evt proto.Error
			if err := json.Unmarshal(env.Data, &evt); err != nil {
				log.Printf("unmarshal error: %v", err)
				continue
			}
			fmt.Printf("! %s (%s)\n", evt.Error, evt.Code)
		default:
			fmt.Printf("type=%s data=%s\n", env.Type, env.Data)
		}
	}
}

func printMessage(m proto.ChatMessage) {
	if m.MessageType == proto.MessageTypeEmote {
		fmt.Printf("%s * %s %s\n", m.CreatedAt.Format("15:04"), m.User.Username, m.Content)
		return
	}
	fmt.Printf("%s <%s> %s\n", m.CreatedAt.Format("15:04"), m.User.Username, m.Content)
}

func writeLoop(ctx context.Context, send func(string, any) error) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			var err error
			switch {
			case strings.HasPrefix(text, "/status "):
				err = send(proto.InboundTypeFriendStatus, proto.FriendStatusData{Status: strings.TrimSpace(text[len("/status "):])})
			case strings.HasPrefix(text, "/me "):
				err = send(proto.InboundTypeGuildChatMessage, proto.GuildChatMessageData{Content: text[len("/me "):], MessageType: proto.MessageTypeEmote})
			case text == "/leave":
				err = send(proto.InboundTypeLeaveGuildChat, struct{}{})
			default:
				err = send(proto.InboundTypeGuildChatMessage, proto.GuildChatMessageData{Content: text})
			}
			if err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
