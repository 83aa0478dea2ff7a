package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/creditgate/internal/apikey/domain"
	"github.com/smallbiznis/creditgate/internal/apikey/repository"
	"github.com/smallbiznis/creditgate/internal/clock"
	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/smallbiznis/creditgate/internal/quota/quotatest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := quotatest.OpenDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC))
	svc := newService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: quotatest.MustNode(t),
		Repo:  repository.Provide(),
		Config: config.Config{Auth: config.AuthConfig{
			APIKeyHashSecret: "test-secret",
			APIKeyCacheTTL:   time.Minute,
		}},
		Clock: fake,
	})
	t.Cleanup(svc.touches.Wait)
	return svc, db, fake
}

func TestIssueAndAuthenticate(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	live, err := svc.Issue(ctx, apikeydomain.IssueRequest{WorkspaceID: "ws_1", Name: "prod"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(live.APIKey, apikeydomain.LivePrefix) {
		t.Fatalf("unexpected live key %q", live.APIKey)
	}

	id, err := snowflake.ParseString(live.ID)
	if err != nil {
		t.Fatalf("parse id: %v", err)
	}
	var stored apikeydomain.APIKey
	if err := db.Where("id = ?", id).First(&stored).Error; err != nil {
		t.Fatalf("load key: %v", err)
	}
	if stored.KeyHash == live.APIKey || strings.Contains(stored.KeyHash, live.APIKey) {
		t.Fatalf("plaintext key must not be stored")
	}
	if stored.KeyHash != apikeydomain.HashAPIKey("test-secret", live.APIKey) {
		t.Fatalf("expected keyed hash to be stored")
	}

	principal, err := svc.Authenticate(ctx, "  "+live.APIKey+" ")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal.WorkspaceID != "ws_1" || principal.IsTest {
		t.Fatalf("unexpected principal %+v", principal)
	}

	svc.touches.Wait()
	if err := db.Where("id = ?", id).First(&stored).Error; err != nil {
		t.Fatalf("reload key: %v", err)
	}
	if stored.LastUsedAt == nil {
		t.Fatalf("expected last_used_at to be recorded")
	}
}

func TestAuthenticateTestKey(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, apikeydomain.IssueRequest{WorkspaceID: "ws_1", Name: "sandbox", IsTest: true})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(issued.APIKey, apikeydomain.TestPrefix) {
		t.Fatalf("unexpected test key %q", issued.APIKey)
	}
	principal, err := svc.Authenticate(ctx, issued.APIKey)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !principal.IsTest {
		t.Fatalf("expected test principal")
	}
}

func TestAuthenticateRejectsUnknownAndMalformedKeys(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, raw := range []string{"", "Bearer", "sk_live_abc", "cbx_live_", "cbx_live_doesnotexist"} {
		if _, err := svc.Authenticate(ctx, raw); err != apikeydomain.ErrInvalidAPIKey {
			t.Fatalf("Authenticate(%q) = %v, want ErrInvalidAPIKey", raw, err)
		}
	}
}

func TestRevokeTakesEffectImmediately(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, apikeydomain.IssueRequest{WorkspaceID: "ws_1", Name: "prod"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	principal, err := svc.Authenticate(ctx, issued.APIKey)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	svc.touches.Wait()

	if err := svc.Revoke(ctx, "ws_other", principal.KeyID); err != apikeydomain.ErrNotFound {
		t.Fatalf("expected other workspace to be refused, got %v", err)
	}
	if err := svc.Revoke(ctx, "ws_1", principal.KeyID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.Authenticate(ctx, issued.APIKey); err != apikeydomain.ErrInvalidAPIKey {
		t.Fatalf("expected revoked key to be rejected, got %v", err)
	}

	keys, err := svc.List(ctx, "ws_1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 || keys[0].IsActive || keys[0].RevokedAt == nil {
		t.Fatalf("unexpected listing %+v", keys)
	}
	if !strings.HasPrefix(keys[0].KeyPrefix, apikeydomain.LivePrefix) || len(keys[0].KeyPrefix) >= len(issued.APIKey) {
		t.Fatalf("listing must only show the key prefix, got %q", keys[0].KeyPrefix)
	}
}

func TestAuthenticateRespectsExpiry(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	expiresAt := fake.Now().Add(time.Hour)
	issued, err := svc.Issue(ctx, apikeydomain.IssueRequest{WorkspaceID: "ws_1", Name: "temp", ExpiresAt: &expiresAt})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.Authenticate(ctx, issued.APIKey); err != nil {
		t.Fatalf("authenticate before expiry: %v", err)
	}

	fake.Advance(2 * time.Hour)
	svc.cache.Delete(apikeydomain.HashAPIKey("test-secret", issued.APIKey))
	if _, err := svc.Authenticate(ctx, issued.APIKey); err != apikeydomain.ErrInvalidAPIKey {
		t.Fatalf("expected expired key to be rejected, got %v", err)
	}
}

func TestIssueValidatesInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Issue(ctx, apikeydomain.IssueRequest{Name: "x"}); err != apikeydomain.ErrInvalidWorkspace {
		t.Fatalf("expected invalid workspace, got %v", err)
	}
	if _, err := svc.Issue(ctx, apikeydomain.IssueRequest{WorkspaceID: "ws_1", Name: " "}); err != apikeydomain.ErrInvalidName {
		t.Fatalf("expected invalid name, got %v", err)
	}

	svc.secret = ""
	if _, err := svc.Issue(ctx, apikeydomain.IssueRequest{WorkspaceID: "ws_1", Name: "x"}); err != apikeydomain.ErrHashSecretMissing {
		t.Fatalf("expected missing secret, got %v", err)
	}
}
