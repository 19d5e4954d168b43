package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirechat-realtime/internal/store"
)

const defaultHistoryLimit = 50

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file, ":memory:" works for tests.
func New(dbPath string) (*SQLiteStore, error) {
	st, err := NewWithSetup(dbPath, nil)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(context.Background()); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// The schema is not applied; callers that need it call Migrate.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user without a guild.
func (s *SQLiteStore) CreateUser(ctx context.Context, username string, level int) (*store.User, error) {
	if level <= 0 {
		level = 1
	}
	query := `
		INSERT INTO users (id, username, level, created_at)
		VALUES (?, ?, ?, ?)
	`
	user := &store.User{
		ID:        uuid.NewString(),
		Username:  username,
		Level:     level,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.Level, user.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// SetUserGuild moves a user into a guild, or out of any guild when guildID is nil.
func (s *SQLiteStore) SetUserGuild(ctx context.Context, userID string, guildID *string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET guild_id = ? WHERE id = ?`, guildID, userID)
	if err != nil {
		return fmt.Errorf("update user guild: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	return nil
}

// GetProfile loads the public profile and guild membership of a user.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*store.Profile, error) {
	query := `
		SELECT id, username, level, guild_id
		FROM users
		WHERE id = ?
	`
	var (
		profile store.Profile
		guildID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&profile.ID, &profile.Username, &profile.Level, &guildID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}
	if guildID.Valid {
		profile.GuildID = &guildID.String
	}
	return &profile, nil
}

// ==== GuildStore implementation ====

// CreateGuild creates a new guild.
func (s *SQLiteStore) CreateGuild(ctx context.Context, name string) (*store.Guild, error) {
	guild := &store.Guild{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	query := `INSERT INTO guilds (id, name, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, guild.ID, guild.Name, guild.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert guild: %w", err)
	}
	return guild, nil
}

// ==== MessageStore implementation ====

// SaveGuildMessage persists a message, assigning its ID and timestamp.
// The sender's username and level are filled from the users table.
func (s *SQLiteStore) SaveGuildMessage(ctx context.Context, msg *store.GuildMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.MessageType == "" {
		msg.MessageType = "text"
	}

	query := `
		INSERT INTO guild_messages (guild_id, user_id, content, message_type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, msg.GuildID, msg.UserID, msg.Content, msg.MessageType, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	msg.ID = id

	err = s.db.QueryRowContext(ctx, `SELECT username, level FROM users WHERE id = ?`, msg.UserID).
		Scan(&msg.Username, &msg.UserLevel)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query sender: %w", err)
	}
	return nil
}

// ListGuildMessages returns the most recent limit messages in chronological order.
func (s *SQLiteStore) ListGuildMessages(ctx context.Context, guildID string, limit int) ([]*store.GuildMessage, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	query := `
		SELECT m.id, m.guild_id, m.user_id, m.content, m.message_type, m.created_at,
		       COALESCE(u.username, ''), COALESCE(u.level, 0)
		FROM guild_messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.guild_id = ?
		ORDER BY m.id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.GuildMessage, 0, limit)
	for rows.Next() {
		var msg store.GuildMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.GuildID,
			&msg.UserID,
			&msg.Content,
			&msg.MessageType,
			&msg.CreatedAt,
			&msg.Username,
			&msg.UserLevel,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, nil
}

// ==== FriendStore implementation ====

// CreateFriendship stores a relationship from userID to friendID.
func (s *SQLiteStore) CreateFriendship(ctx context.Context, userID, friendID string, status store.FriendStatus) (*store.Friend, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO friends (user_id, friend_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, userID, friendID, string(status), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert friendship: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return &store.Friend{
		ID:        id,
		UserID:    userID,
		FriendID:  friendID,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ListFriends lists friendships for a user in either direction, optionally filtered by status.
func (s *SQLiteStore) ListFriends(ctx context.Context, userID string, status *store.FriendStatus) ([]*store.Friend, error) {
	var query string
	var args []any

	if status != nil {
		query = `
			SELECT id, user_id, friend_id, status, created_at, updated_at
			FROM friends
			WHERE (user_id = ? OR friend_id = ?) AND status = ?
			ORDER BY updated_at DESC
		`
		args = []any{userID, userID, string(*status)}
	} else {
		query = `
			SELECT id, user_id, friend_id, status, created_at, updated_at
			FROM friends
			WHERE user_id = ? OR friend_id = ?
			ORDER BY updated_at DESC
		`
		args = []any{userID, userID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query friends: %w", err)
	}
	defer rows.Close()

	var friends []*store.Friend
	for rows.Next() {
		var friend store.Friend
		var statusStr string
		if err := rows.Scan(&friend.ID, &friend.UserID, &friend.FriendID, &statusStr, &friend.CreatedAt, &friend.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		friend.Status = store.FriendStatus(statusStr)
		friends = append(friends, &friend)
	}

	return friends, rows.Err()
}

// ==== CompanionStore implementation ====

// CreateCompanion creates a companion owned by ownerID.
func (s *SQLiteStore) CreateCompanion(ctx context.Context, ownerID, name, species string) (*store.Companion, error) {
	companion := &store.Companion{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Species:   species,
		CreatedAt: time.Now().UTC(),
	}
	query := `
		INSERT INTO companions (id, owner_id, name, species, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, companion.ID, companion.OwnerID, companion.Name, companion.Species, companion.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert companion: %w", err)
	}
	return companion, nil
}

// GetOwnedCompanion returns the companion only if ownerID owns it.
func (s *SQLiteStore) GetOwnedCompanion(ctx context.Context, companionID, ownerID string) (*store.Companion, error) {
	query := `
		SELECT id, owner_id, name, species, created_at
		FROM companions
		WHERE id = ? AND owner_id = ?
	`
	var companion store.Companion
	err := s.db.QueryRowContext(ctx, query, companionID, ownerID).Scan(
		&companion.ID,
		&companion.OwnerID,
		&companion.Name,
		&companion.Species,
		&companion.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("companion %s: %w", companionID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query companion: %w", err)
	}
	return &companion, nil
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)
