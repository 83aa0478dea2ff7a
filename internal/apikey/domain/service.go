package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByHash(ctx context.Context, db *gorm.DB, keyHash string) (*APIKey, error)
	FindByID(ctx context.Context, db *gorm.DB, workspaceID string, id snowflake.ID) (*APIKey, error)
	List(ctx context.Context, db *gorm.DB, workspaceID string) ([]APIKey, error)
	Revoke(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}

type Service interface {
	Issue(ctx context.Context, req IssueRequest) (*SecretResponse, error)
	// Authenticate resolves a raw bearer key to its workspace.
	Authenticate(ctx context.Context, raw string) (*Principal, error)
	List(ctx context.Context, workspaceID string) ([]Response, error)
	Revoke(ctx context.Context, workspaceID string, id snowflake.ID) error
}

type IssueRequest struct {
	WorkspaceID string     `json:"workspace_id"`
	Name        string     `json:"name"`
	IsTest      bool       `json:"is_test"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

type Response struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	IsTest     bool       `json:"is_test"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at"`
}

type SecretResponse struct {
	ID     string `json:"id"`
	APIKey string `json:"api_key"`
}

var (
	ErrInvalidWorkspace  = errors.New("invalid_workspace")
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidAPIKey     = errors.New("invalid_api_key")
	ErrNotFound          = errors.New("not_found")
	ErrHashSecretMissing = errors.New("api_key_hash_secret_missing")
)
