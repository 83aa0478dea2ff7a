package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/creditgate/internal/apikey/domain"
	"github.com/smallbiznis/creditgate/internal/cache"
	"github.com/smallbiznis/creditgate/internal/clock"
	"github.com/smallbiznis/creditgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	apiKeySecretBytes = 32
	touchTimeout      = 2 * time.Second
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   apikeydomain.Repository
	Config config.Config
	Clock  clock.Clock
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     apikeydomain.Repository
	genID    *snowflake.Node
	clock    clock.Clock
	secret   string
	cacheTTL time.Duration
	cache    cache.Cache[string, apikeydomain.Principal]
	touches  sync.WaitGroup
}

func New(p Params) apikeydomain.Service {
	return newService(p)
}

func newService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("apikey.service"),
		repo:     p.Repo,
		genID:    p.GenID,
		clock:    p.Clock,
		secret:   p.Config.Auth.APIKeyHashSecret,
		cacheTTL: p.Config.Auth.APIKeyCacheTTL,
		cache:    cache.NewTTLCache[string, apikeydomain.Principal](),
	}
}

func (s *Service) Issue(ctx context.Context, req apikeydomain.IssueRequest) (*apikeydomain.SecretResponse, error) {
	if s.secret == "" {
		return nil, apikeydomain.ErrHashSecretMissing
	}
	workspaceID := strings.TrimSpace(req.WorkspaceID)
	if workspaceID == "" {
		return nil, apikeydomain.ErrInvalidWorkspace
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}

	plain, err := generateAPIKey(req.IsTest)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	key := &apikeydomain.APIKey{
		ID:          s.genID.Generate(),
		WorkspaceID: workspaceID,
		Name:        name,
		KeyPrefix:   apikeydomain.DisplayPrefix(plain),
		KeyHash:     apikeydomain.HashAPIKey(s.secret, plain),
		IsTest:      req.IsTest,
		IsActive:    true,
		ExpiresAt:   req.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}

	s.log.Info("api key issued",
		zap.String("workspace_id", workspaceID),
		zap.String("key_id", key.ID.String()),
		zap.Bool("is_test", key.IsTest),
	)
	return &apikeydomain.SecretResponse{ID: key.ID.String(), APIKey: plain}, nil
}

func (s *Service) Authenticate(ctx context.Context, raw string) (*apikeydomain.Principal, error) {
	raw = strings.TrimSpace(raw)
	if _, ok := apikeydomain.ParseKind(raw); !ok {
		return nil, apikeydomain.ErrInvalidAPIKey
	}
	if s.secret == "" {
		return nil, apikeydomain.ErrHashSecretMissing
	}

	hash := apikeydomain.HashAPIKey(s.secret, raw)
	if principal, ok := s.cache.Get(hash); ok {
		return &principal, nil
	}

	key, err := s.repo.FindByHash(ctx, s.db, hash)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if key == nil || subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 || !key.Usable(now) {
		return nil, apikeydomain.ErrInvalidAPIKey
	}

	principal := apikeydomain.Principal{
		KeyID:       key.ID,
		WorkspaceID: key.WorkspaceID,
		IsTest:      key.IsTest,
	}

	ttl := s.cacheTTL
	if key.ExpiresAt != nil {
		if untilExpiry := key.ExpiresAt.Sub(now); untilExpiry < ttl {
			ttl = untilExpiry
		}
	}
	if ttl > 0 {
		s.cache.Set(hash, principal, ttl)
	}

	s.touch(key.ID, now)
	return &principal, nil
}

// touch records last use off the request path. Only cache misses reach it,
// so the write rate is bounded by the cache TTL.
func (s *Service) touch(id snowflake.ID, at time.Time) {
	s.touches.Add(1)
	go func() {
		defer s.touches.Done()
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := s.repo.TouchLastUsed(ctx, s.db, id, at); err != nil {
			s.log.Warn("failed to record api key use", zap.String("key_id", id.String()), zap.Error(err))
		}
	}()
}

func (s *Service) List(ctx context.Context, workspaceID string) ([]apikeydomain.Response, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, apikeydomain.ErrInvalidWorkspace
	}

	items, err := s.repo.List(ctx, s.db, workspaceID)
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Revoke(ctx context.Context, workspaceID string, id snowflake.ID) error {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return apikeydomain.ErrInvalidWorkspace
	}

	key, err := s.repo.FindByID(ctx, s.db, workspaceID, id)
	if err != nil {
		return err
	}
	if key == nil {
		return apikeydomain.ErrNotFound
	}
	if err := s.repo.Revoke(ctx, s.db, key.ID, s.clock.Now()); err != nil {
		return err
	}
	s.cache.Delete(key.KeyHash)

	s.log.Info("api key revoked",
		zap.String("workspace_id", workspaceID),
		zap.String("key_id", key.ID.String()),
	)
	return nil
}

func toResponse(key *apikeydomain.APIKey) apikeydomain.Response {
	return apikeydomain.Response{
		ID:         key.ID.String(),
		Name:       key.Name,
		KeyPrefix:  key.KeyPrefix,
		IsTest:     key.IsTest,
		IsActive:   key.IsActive && key.RevokedAt == nil,
		CreatedAt:  key.CreatedAt,
		LastUsedAt: key.LastUsedAt,
		ExpiresAt:  key.ExpiresAt,
		RevokedAt:  key.RevokedAt,
	}
}

func generateAPIKey(isTest bool) (string, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	prefix := apikeydomain.LivePrefix
	if isTest {
		prefix = apikeydomain.TestPrefix
	}
	return prefix + hex.EncodeToString(secret), nil
}
