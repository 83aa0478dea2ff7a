package server

import (
	"crypto/subtle"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/creditgate/internal/observability/context"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
)

const (
	headerInternalAPIKey = "X-Internal-API-Key"

	contextTenantKey   = "tenant"
	contextIsTestKey   = "is_test"
	contextAPIKeyIDKey = "api_key_id"
	contextSessionKey  = "session_token"
)

// InternalAPIKeyRequired guards every internal route with the shared secret.
// An unset secret refuses all traffic.
func (s *Server) InternalAPIKeyRequired() gin.HandlerFunc {
	secret := []byte(strings.TrimSpace(s.cfg.Auth.InternalAPISecret))
	return func(c *gin.Context) {
		provided := []byte(strings.TrimSpace(c.GetHeader(headerInternalAPIKey)))
		if len(secret) == 0 || subtle.ConstantTimeCompare(provided, secret) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// APIKeyRequired resolves the workspace from a bearer API key.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		principal, err := s.apiKeySvc.Authenticate(c.Request.Context(), raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		setTenant(c, quotadomain.NewTenantKey(quotadomain.TenantWorkspace, principal.WorkspaceID))
		c.Set(contextIsTestKey, principal.IsTest)
		c.Set(contextAPIKeyIDKey, principal.KeyID.String())
		c.Next()
	}
}

// SessionRequired resolves the user from the session header or cookie.
func (s *Server) SessionRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := s.sessions.ReadToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		principal, err := s.sessionSvc.Authenticate(c.Request.Context(), raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		setTenant(c, quotadomain.NewTenantKey(quotadomain.TenantUser, principal.UserID))
		c.Set(contextSessionKey, raw)
		c.Next()
	}
}

// IngressRateLimit sheds per-tenant bursts before the ledger is touched.
func (s *Server) IngressRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.ingress.Enabled() {
			c.Next()
			return
		}
		tenant, ok := tenantFromContext(c)
		if !ok {
			c.Next()
			return
		}

		result := s.ingress.Allow(c.Request.Context(), tenant, c.FullPath())
		if result == nil || result.Allowed {
			c.Next()
			return
		}

		retryAfter := int64(math.Ceil(result.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		AbortWithError(c, ErrRateLimited)
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(strings.TrimSpace(header))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func setTenant(c *gin.Context, tenant quotadomain.TenantKey) {
	c.Set(contextTenantKey, tenant)
	ctx := obscontext.WithTenant(c.Request.Context(), string(tenant.Type), tenant.ID)
	c.Request = c.Request.WithContext(ctx)
}

func tenantFromContext(c *gin.Context) (quotadomain.TenantKey, bool) {
	value, ok := c.Get(contextTenantKey)
	if !ok {
		return quotadomain.TenantKey{}, false
	}
	tenant, ok := value.(quotadomain.TenantKey)
	return tenant, ok
}
