package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/creditgate/internal/clock"
	"github.com/smallbiznis/creditgate/internal/config"
	sessiondomain "github.com/smallbiznis/creditgate/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tokenPrefix       = "sess_"
	defaultSessionTTL = 7 * 24 * time.Hour
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   sessiondomain.Repository
	Config config.Config
	Clock  clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  sessiondomain.Repository
	genID *snowflake.Node
	clock clock.Clock
	ttl   time.Duration
}

func New(p Params) sessiondomain.Service {
	return newService(p)
}

func newService(p Params) *Service {
	ttl := p.Config.Auth.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("session.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
		ttl:   ttl,
	}
}

func (s *Service) Issue(ctx context.Context, userID string) (*sessiondomain.IssueResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, sessiondomain.ErrInvalidUser
	}

	token := newToken()
	now := s.clock.Now()
	session := &sessiondomain.Session{
		ID:        s.genID.Generate(),
		UserID:    userID,
		TokenHash: sessiondomain.HashToken(token),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, session); err != nil {
		return nil, err
	}

	s.log.Info("session issued",
		zap.String("user_id", userID),
		zap.String("session_id", session.ID.String()),
	)
	return &sessiondomain.IssueResponse{
		Token:     token,
		UserID:    userID,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (s *Service) Authenticate(ctx context.Context, raw string) (*sessiondomain.Principal, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, tokenPrefix) || len(raw) == len(tokenPrefix) {
		return nil, sessiondomain.ErrInvalidSession
	}

	session, err := s.repo.FindByHash(ctx, s.db, sessiondomain.HashToken(raw))
	if err != nil {
		return nil, err
	}
	if session == nil || !session.Valid(s.clock.Now()) {
		return nil, sessiondomain.ErrInvalidSession
	}

	return &sessiondomain.Principal{
		SessionID: session.ID,
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (s *Service) Revoke(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return sessiondomain.ErrInvalidSession
	}
	revoked, err := s.repo.Revoke(ctx, s.db, sessiondomain.HashToken(raw), s.clock.Now())
	if err != nil {
		return err
	}
	if !revoked {
		return sessiondomain.ErrInvalidSession
	}
	return nil
}

func newToken() string {
	return tokenPrefix + strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
}
