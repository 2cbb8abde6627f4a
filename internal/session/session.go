package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for unknown, revoked or expired sessions.
var ErrNotFound = errors.New("session not found")

// Session binds one login to the administrator who performed it.
type Session struct {
	ID        string    `json:"id"`
	AdminID   int64     `json:"admin_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store persists sessions keyed by id.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}
