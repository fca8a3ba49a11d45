package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// Session binds a bearer token to a user until ExpiresAt.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// UserPreferences personalise the assistant's system prompt.
type UserPreferences struct {
	DisplayName          string `json:"displayName,omitempty"`
	Profession           string `json:"profession,omitempty"`
	ResponseStyleExample string `json:"responseStyleExample,omitempty"`
	BotName              string `json:"botName,omitempty"`
}

func (s *Store) CreateUser(ctx context.Context, name, email string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("store: create user: email is required")
	}
	u := &User{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Email:     email,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, millis(u.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("store: create user: %w", err)
	}
	return u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, created_at FROM users WHERE email = ?`, email))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var (
		u       User
		created int64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan user: %w", err)
	}
	u.CreatedAt = fromMillis(created)
	return &u, nil
}

// CreateSession issues a new token for userID valid for ttl.
func (s *Store) CreateSession(ctx context.Context, userID string, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("store: create session: ttl must be positive")
	}
	now := s.now()
	sess := &Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(ttl).UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		sess.Token, sess.UserID, millis(sess.ExpiresAt), millis(now))
	if err != nil {
		return nil, fmt.Errorf("store: create session: %w", err)
	}
	return sess, nil
}

// SessionUser returns the user owning token. Unknown and expired tokens
// yield ErrNotFound.
func (s *Store) SessionUser(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id, u.name, u.email, u.created_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = ? AND s.expires_at > ?`,
		token, millis(s.now())))
}

// DeleteExpiredSessions removes sessions past their expiry and reports how
// many were removed.
func (s *Store) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, millis(s.now()))
	if err != nil {
		return 0, fmt.Errorf("store: delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// UserPreferences returns nil, nil when the user saved none.
func (s *Store) UserPreferences(ctx context.Context, userID string) (*UserPreferences, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM user_preferences WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: user preferences: %w", err)
	}

	var p UserPreferences
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("store: decode user preferences: %w", err)
	}
	return &p, nil
}

func (s *Store) SaveUserPreferences(ctx context.Context, userID string, p UserPreferences) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: encode user preferences: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		userID, string(data), millis(s.now()))
	if err != nil {
		return fmt.Errorf("store: save user preferences: %w", err)
	}
	return nil
}
