package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, session *Session) error
	FindByHash(ctx context.Context, db *gorm.DB, tokenHash string) (*Session, error)
	Revoke(ctx context.Context, db *gorm.DB, tokenHash string, at time.Time) (bool, error)
}

type Service interface {
	// Issue creates a session for userID and returns the raw token once.
	Issue(ctx context.Context, userID string) (*IssueResponse, error)
	Authenticate(ctx context.Context, raw string) (*Principal, error)
	Revoke(ctx context.Context, raw string) error
}

type IssueResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

var (
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidSession = errors.New("invalid_session")
)
