package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client.
// Timestamp is accepted for symmetry but never trusted.
type Inbound struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Client -> server envelope types.
const (
	InboundTypeAuthenticate      = "authenticate"
	InboundTypeJoinGuildChat     = "join_guild_chat"
	InboundTypeLeaveGuildChat    = "leave_guild_chat"
	InboundTypeGuildChatMessage  = "guild_chat_message"
	InboundTypeFriendStatus      = "friend_status_update"
	InboundTypeCompanionActivity = "companion_activity"
	InboundTypePing              = "ping"
)

// Server -> client envelope types.
const (
	OutboundTypeConnectionEstablished = "connection_established"
	OutboundTypeAuthenticated         = "authenticated"
	OutboundTypeError                 = "error"
	OutboundTypeGuildChatJoined       = "guild_chat_joined"
	OutboundTypeUserJoinedChat        = "user_joined_chat"
	OutboundTypeUserLeftChat          = "user_left_chat"
	OutboundTypeGuildChatMessage      = "guild_chat_message"
	OutboundTypeFriendStatus          = "friend_status_update"
	OutboundTypeCompanionActivity     = "companion_activity"
	OutboundTypePong                  = "pong"
)

// Presence statuses accepted in friend_status_update.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusAway    = "away"
	StatusBusy    = "busy"
)

// Chat message kinds accepted in guild_chat_message.
const (
	MessageTypeText  = "text"
	MessageTypeEmote = "emote"
)

// AuthenticateData carries the bearer token.
type AuthenticateData struct {
	Token string `json:"token"`
}

// JoinGuildChatData optionally names the guild; it must match the caller's guild.
type JoinGuildChatData struct {
	GuildID string `json:"guild_id,omitempty"`
}

// GuildChatMessageData is a chat message from the client.
type GuildChatMessageData struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type,omitempty"`
}

// FriendStatusData is an explicit presence change.
type FriendStatusData struct {
	Status string `json:"status"`
}

// CompanionActivityData reports something a companion did.
type CompanionActivityData struct {
	CompanionID  string          `json:"companion_id"`
	ActivityType string          `json:"activity_type"`
	ActivityData json.RawMessage `json:"activity_data,omitempty"`
}

// ConnectionEstablished greets a freshly opened transport.
type ConnectionEstablished struct {
	ConnectionID string `json:"connection_id"`
	Message      string `json:"message"`
}

// User is the public profile of an identity.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Level    int    `json:"level"`
}

// Authenticated confirms a successful authenticate.
type Authenticated struct {
	User    User    `json:"user"`
	GuildID *string `json:"guild_id"`
}

// Error describes a protocol-level error response.
type Error struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ChatMessage is a persisted guild chat message.
type ChatMessage struct {
	ID          int64     `json:"id"`
	GuildID     string    `json:"guild_id"`
	UserID      string    `json:"user_id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	CreatedAt   time.Time `json:"created_at"`
	User        User      `json:"user"`
}

// GuildChatJoined delivers recent history upon joining.
type GuildChatJoined struct {
	GuildID        string        `json:"guild_id"`
	RecentMessages []ChatMessage `json:"recent_messages"`
}

// UserChatEvent notifies that a user joined or left a guild chat.
type UserChatEvent struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// GuildChatMessage wraps a message broadcast to a room.
type GuildChatMessage struct {
	Message ChatMessage `json:"message"`
}

// FriendStatus is the presence event sent to friends.
type FriendStatus struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// CompanionActivity is the activity event sent to friends.
type CompanionActivity struct {
	UserID        string          `json:"user_id"`
	Username      string          `json:"username"`
	CompanionID   string          `json:"companion_id"`
	CompanionName string          `json:"companion_name"`
	ActivityType  string          `json:"activity_type"`
	ActivityData  json.RawMessage `json:"activity_data,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Pong answers an application ping.
type Pong struct {
	Timestamp time.Time `json:"timestamp"`
}
