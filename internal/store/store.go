package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a user in the system.
type User struct {
	ID        string
	Username  string
	Level     int
	GuildID   *string
	CreatedAt time.Time
}

// Profile is the slice of a user the realtime layer needs.
type Profile struct {
	ID       string
	Username string
	Level    int
	GuildID  *string
}

// Guild represents a social unit; each guild owns one live chat room.
type Guild struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// FriendStatus defines friend relationship status.
type FriendStatus string

const (
	FriendStatusPending  FriendStatus = "pending"
	FriendStatusAccepted FriendStatus = "accepted"
	FriendStatusBlocked  FriendStatus = "blocked"
)

// Friend represents a friend relationship.
type Friend struct {
	ID        int64
	UserID    string
	FriendID  string
	Status    FriendStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GuildMessage represents a persisted guild chat message.
type GuildMessage struct {
	ID          int64
	GuildID     string
	UserID      string
	Content     string
	MessageType string
	CreatedAt   time.Time

	// Sender profile, filled on save and on listing.
	Username  string
	UserLevel int
}

// Companion is an entity owned by a user.
type Companion struct {
	ID        string
	OwnerID   string
	Name      string
	Species   string
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user without a guild.
	CreateUser(ctx context.Context, username string, level int) (*User, error)

	// SetUserGuild moves a user into a guild, or out of any guild when guildID is nil.
	SetUserGuild(ctx context.Context, userID string, guildID *string) error

	// GetProfile loads the public profile and guild membership of a user.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// GuildStore handles guild persistence.
type GuildStore interface {
	// CreateGuild creates a new guild.
	CreateGuild(ctx context.Context, name string) (*Guild, error)
}

// MessageStore handles guild chat persistence.
type MessageStore interface {
	// SaveGuildMessage persists a message, assigning its ID and timestamp.
	SaveGuildMessage(ctx context.Context, msg *GuildMessage) error

	// ListGuildMessages returns the most recent limit messages in chronological order.
	ListGuildMessages(ctx context.Context, guildID string, limit int) ([]*GuildMessage, error)
}

// FriendStore handles friend persistence.
type FriendStore interface {
	// CreateFriendship stores a relationship from userID to friendID.
	CreateFriendship(ctx context.Context, userID, friendID string, status FriendStatus) (*Friend, error)

	// ListFriends lists friendships for a user in either direction, optionally filtered by status.
	ListFriends(ctx context.Context, userID string, status *FriendStatus) ([]*Friend, error)
}

// CompanionStore handles companion persistence.
type CompanionStore interface {
	// CreateCompanion creates a companion owned by ownerID.
	CreateCompanion(ctx context.Context, ownerID, name, species string) (*Companion, error)

	// GetOwnedCompanion returns the companion only if ownerID owns it.
	GetOwnedCompanion(ctx context.Context, companionID, ownerID string) (*Companion, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	GuildStore
	MessageStore
	FriendStore
	CompanionStore

	// Migrate applies the schema.
	Migrate(ctx context.Context) error

	// Close closes the underlying database connection.
	Close() error
}
