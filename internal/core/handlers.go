package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vovakirdan/wirechat-realtime/internal/proto"
	"github.com/vovakirdan/wirechat-realtime/internal/store"
)

var (
	errTokenRequired     = coreError(ErrCodeUnauthorized, "Authentication token required")
	errInvalidToken      = coreError(ErrCodeUnauthorized, "Invalid or expired token")
	errProfile           = coreError(ErrCodeProfileUnavailable, "Failed to fetch user profile")
	errAuthRequired      = coreError(ErrCodeUnauthorized, "Authentication required")
	errGuildRequired     = coreError(ErrCodeNotInGuild, "Authentication required and must be in a guild")
	errNotInRoom         = coreError(ErrCodeNotInRoom, "Must join guild chat before sending messages")
	errContentRequired   = coreError(ErrCodeContentRequired, "Message content is required")
	errInvalidType       = coreError(ErrCodeBadRequest, "Invalid message type")
	errInvalidStatus     = coreError(ErrCodeBadRequest, "Invalid status")
	errCompanionRequired = coreError(ErrCodeBadRequest, "companion_id and activity_type are required")
	errCompanionNotFound = coreError(ErrCodeNotFound, "Companion not found")
)

// current returns the identity of c only while c is the registered connection for it.
func (h *Hub) current(c *Conn) (Identity, bool) {
	id, ok := c.Identity()
	if !ok || !h.registry.IsCurrent(c) {
		return Identity{}, false
	}
	return id, true
}

func (h *Hub) handleAuthenticate(ctx context.Context, c *Conn, data json.RawMessage) error {
	var req proto.AuthenticateData
	if err := decode(data, &req); err != nil {
		return errTokenRequired
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return errTokenRequired
	}

	userID, err := h.verifier.Verify(token)
	if err != nil {
		h.log.Debug().Err(err).Str("conn_id", c.ID).Msg("token rejected")
		return errInvalidToken
	}

	profile, err := h.store.GetProfile(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Str("conn_id", c.ID).Str("user_id", userID).Msg("load profile")
		return errProfile
	}

	id := Identity{
		UserID:   profile.ID,
		Username: profile.Username,
		Level:    profile.Level,
	}
	if profile.GuildID != nil {
		id.GuildID = *profile.GuildID
	}

	// The transport may have closed while the profile was loading.
	prev, left, err := h.registry.Register(c, id)
	switch {
	case errors.Is(err, ErrConnClosed):
		return nil
	case errors.Is(err, ErrIdentityMismatch):
		return coreError(ErrCodeUnauthorized, "Connection is already authenticated as another user")
	case err != nil:
		return err
	}
	if prev != nil {
		h.log.Info().Str("user_id", id.UserID).Str("conn_id", prev.ID).Msg("closing superseded connection")
		prev.Close(CloseReasonReplaced)
	}
	h.refreshGauges()
	for _, roomID := range left {
		h.broadcastRoom(roomID, id.UserID, proto.OutboundTypeUserLeftChat, userChatEvent(id))
	}

	var guildID *string
	if id.GuildID != "" {
		guildID = &id.GuildID
	}
	h.send(c, proto.OutboundTypeAuthenticated, proto.Authenticated{
		User:    proto.User{ID: id.UserID, Username: id.Username, Level: id.Level},
		GuildID: guildID,
	})
	h.log.Info().Str("conn_id", c.ID).Str("user_id", id.UserID).Str("guild_id", id.GuildID).Msg("authenticated")

	if err := h.broadcastPresence(ctx, id, proto.StatusOnline); err != nil {
		h.log.Error().Err(err).Str("user_id", id.UserID).Msg("online presence broadcast failed")
	}
	return nil
}

func (h *Hub) handleJoinGuildChat(ctx context.Context, c *Conn, data json.RawMessage) error {
	var req proto.JoinGuildChatData
	if err := decode(data, &req); err != nil {
		return err
	}

	id, ok := h.current(c)
	if !ok || id.GuildID == "" {
		return errGuildRequired
	}
	if req.GuildID != "" && req.GuildID != id.GuildID {
		return errGuildRequired
	}
	roomID := id.GuildID

	joined, prevRoom, err := h.registry.JoinRoom(roomID, c)
	if err != nil {
		return errGuildRequired
	}
	h.refreshGauges()
	if prevRoom != "" {
		h.broadcastRoom(prevRoom, id.UserID, proto.OutboundTypeUserLeftChat, userChatEvent(id))
	}

	history, err := h.store.ListGuildMessages(ctx, roomID, h.opts.HistoryLimit)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", id.UserID).Str("guild_id", roomID).Msg("load chat history")
		if joined && c.RoomID() == roomID {
			h.registry.LeaveRoom(c)
			h.refreshGauges()
		}
		return coreError(ErrCodeInternal, "Failed to join guild chat")
	}

	// Re-check after the history query: the connection may have left or closed.
	if c.RoomID() != roomID {
		return nil
	}

	messages := make([]proto.ChatMessage, 0, len(history))
	for _, m := range history {
		messages = append(messages, toChatMessage(m))
	}
	h.send(c, proto.OutboundTypeGuildChatJoined, proto.GuildChatJoined{
		GuildID:        roomID,
		RecentMessages: messages,
	})

	if joined {
		h.broadcastRoom(roomID, id.UserID, proto.OutboundTypeUserJoinedChat, userChatEvent(id))
	}
	return nil
}

func (h *Hub) handleLeaveGuildChat(_ context.Context, c *Conn, _ json.RawMessage) error {
	roomID, ok := h.registry.LeaveRoom(c)
	if !ok {
		return nil
	}
	h.refreshGauges()

	id, _ := c.Identity()
	h.broadcastRoom(roomID, id.UserID, proto.OutboundTypeUserLeftChat, userChatEvent(id))
	return nil
}

func (h *Hub) handleGuildChatMessage(ctx context.Context, c *Conn, data json.RawMessage) error {
	id, ok := h.current(c)
	roomID := c.RoomID()
	if !ok || roomID == "" {
		return errNotInRoom
	}

	var req proto.GuildChatMessageData
	if err := decode(data, &req); err != nil {
		return err
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return errContentRequired
	}
	if utf8.RuneCountInString(content) > h.opts.MaxMessageLength {
		return coreError(ErrCodeMessageTooLong, fmt.Sprintf("Message too long (max %d characters)", h.opts.MaxMessageLength))
	}

	messageType := req.MessageType
	if messageType == "" {
		messageType = proto.MessageTypeText
	}
	if messageType != proto.MessageTypeText && messageType != proto.MessageTypeEmote {
		return errInvalidType
	}

	msg := &store.GuildMessage{
		GuildID:     roomID,
		UserID:      id.UserID,
		Content:     content,
		MessageType: messageType,
	}
	if err := h.store.SaveGuildMessage(ctx, msg); err != nil {
		h.log.Error().Err(err).Str("user_id", id.UserID).Str("guild_id", roomID).Msg("save guild message")
		return coreError(ErrCodeInternal, "Failed to send message")
	}
	if msg.Username == "" {
		msg.Username = id.Username
		msg.UserLevel = id.Level
	}

	// The message is durable now; deliver it to whoever is in the room, sender included.
	h.broadcastRoom(roomID, "", proto.OutboundTypeGuildChatMessage, proto.GuildChatMessage{
		Message: toChatMessage(msg),
	})
	return nil
}

func (h *Hub) handleFriendStatus(ctx context.Context, c *Conn, data json.RawMessage) error {
	id, ok := h.current(c)
	if !ok {
		return errAuthRequired
	}

	var req proto.FriendStatusData
	if err := decode(data, &req); err != nil {
		return err
	}
	switch req.Status {
	case proto.StatusOnline, proto.StatusOffline, proto.StatusAway, proto.StatusBusy:
	default:
		return errInvalidStatus
	}

	c.setStatus(req.Status)
	return h.broadcastPresence(ctx, id, req.Status)
}

func (h *Hub) handleCompanionActivity(ctx context.Context, c *Conn, data json.RawMessage) error {
	id, ok := h.current(c)
	if !ok {
		return errAuthRequired
	}

	var req proto.CompanionActivityData
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.CompanionID == "" || req.ActivityType == "" {
		return errCompanionRequired
	}

	companion, err := h.store.GetOwnedCompanion(ctx, req.CompanionID, id.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errCompanionNotFound
		}
		return fmt.Errorf("load companion: %w", err)
	}

	return h.broadcastFriends(ctx, id.UserID, proto.OutboundTypeCompanionActivity, proto.CompanionActivity{
		UserID:        id.UserID,
		Username:      id.Username,
		CompanionID:   companion.ID,
		CompanionName: companion.Name,
		ActivityType:  req.ActivityType,
		ActivityData:  req.ActivityData,
		Timestamp:     time.Now().UTC(),
	})
}

func (h *Hub) handlePing(_ context.Context, c *Conn, _ json.RawMessage) error {
	c.MarkAlive()
	h.send(c, proto.OutboundTypePong, proto.Pong{Timestamp: time.Now().UTC()})
	return nil
}

func userChatEvent(id Identity) proto.UserChatEvent {
	return proto.UserChatEvent{UserID: id.UserID, Username: id.Username}
}

func toChatMessage(m *store.GuildMessage) proto.ChatMessage {
	return proto.ChatMessage{
		ID:          m.ID,
		GuildID:     m.GuildID,
		UserID:      m.UserID,
		Content:     m.Content,
		MessageType: m.MessageType,
		CreatedAt:   m.CreatedAt,
		User: proto.User{
			ID:       m.UserID,
			Username: m.Username,
			Level:    m.UserLevel,
		},
	}
}
