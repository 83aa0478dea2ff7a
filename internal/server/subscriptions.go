package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	subscriptiondomain "github.com/smallbiznis/creditgate/internal/subscription/domain"
)

type activateSubscriptionRequest struct {
	PlanID string `json:"plan_id"`
}

func (s *Server) ActivateSubscription(c *gin.Context) {
	tenant, err := tenantFromPath(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req activateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptions.Activate(c.Request.Context(), subscriptiondomain.ActivateRequest{
		Tenant: tenant,
		PlanID: req.PlanID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) FreezeSubscription(c *gin.Context) {
	s.transitionSubscription(c, s.subscriptions.Freeze)
}

func (s *Server) UnfreezeSubscription(c *gin.Context) {
	s.transitionSubscription(c, s.subscriptions.Unfreeze)
}

func (s *Server) CancelSubscription(c *gin.Context) {
	s.transitionSubscription(c, s.subscriptions.Cancel)
}

func (s *Server) transitionSubscription(c *gin.Context, apply func(context.Context, quotadomain.TenantKey) (*subscriptiondomain.Response, error)) {
	tenant, err := tenantFromPath(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := apply(c.Request.Context(), tenant)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func tenantFromPath(c *gin.Context) (quotadomain.TenantKey, error) {
	tenantType, err := quotadomain.ParseTenantType(c.Param("tenant_type"))
	if err != nil {
		return quotadomain.TenantKey{}, err
	}
	tenant := quotadomain.NewTenantKey(tenantType, c.Param("tenant_id"))
	if err := tenant.Validate(); err != nil {
		return quotadomain.TenantKey{}, err
	}
	return tenant, nil
}
