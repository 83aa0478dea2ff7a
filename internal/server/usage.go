package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
)

type validateUsageRequest struct {
	RequestID   string `json:"request_id"`
	FeatureKey  string `json:"feature_key"`
	Endpoint    string `json:"endpoint"`
	Method      string `json:"method"`
	PayloadHash string `json:"payload_hash"`
}

type validateUsageResponse struct {
	Access          quotadomain.Access `json:"access"`
	UsageID         *string            `json:"usage_id"`
	Message         string             `json:"message"`
	CreditsReserved *int64             `json:"credits_reserved"`
	Reason          string             `json:"reason,omitempty"`
	IsTest          bool               `json:"is_test,omitempty"`
}

type commitUsageRequest struct {
	UsageID    string                     `json:"usage_id"`
	Success    *bool                      `json:"success"`
	Metrics    *quotadomain.CommitMetrics `json:"metrics"`
	Failure    *quotadomain.CommitFailure `json:"failure"`
	ResultData json.RawMessage            `json:"result_data"`
}

type commitUsageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) ValidateUsage(c *gin.Context) {
	tenant, ok := tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req validateUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("feature_key", strings.TrimSpace(req.FeatureKey))

	result, err := s.quotaSvc.Validate(c.Request.Context(), quotadomain.ValidateRequest{
		Tenant:      tenant,
		RequestID:   req.RequestID,
		FeatureKey:  req.FeatureKey,
		Endpoint:    req.Endpoint,
		Method:      req.Method,
		PayloadHash: req.PayloadHash,
		IsTest:      c.GetBool(contextIsTestKey),
		ClientIP:    c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	writeRateLimitHeaders(c, result)

	resp := validateUsageResponse{
		Access:  result.Access,
		Message: result.Message,
		IsTest:  result.IsTest,
	}
	if result.UsageID != 0 {
		id := result.UsageID.String()
		resp.UsageID = &id
	}
	if result.Allowed() || result.UsageID != 0 {
		credits := result.CreditsReserved
		resp.CreditsReserved = &credits
	}

	status := http.StatusOK
	decision := string(result.Access)
	if result.Denial != nil {
		resp.Reason = string(result.Denial.Kind)
		if resp.Message == "" {
			resp.Message = result.Denial.Message
		}
		status = denialStatus(result.Denial.Kind)
		decision = string(result.Denial.Kind)
		if result.Denial.Kind == quotadomain.DenialRateLimited {
			c.Header("Retry-After", strconv.FormatInt(retryAfterSeconds(result.Denial), 10))
		}
	} else if result.Replayed {
		decision = "replayed"
	}
	c.Set("quota_decision", decision)

	c.JSON(status, resp)
}

func (s *Server) CommitUsage(c *gin.Context) {
	tenant, ok := tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req commitUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Success == nil {
		AbortWithError(c, newValidationError("success", "required", "success is required"))
		return
	}
	usageID, err := snowflake.ParseString(strings.TrimSpace(req.UsageID))
	if err != nil || usageID == 0 {
		AbortWithError(c, newValidationError("usage_id", "invalid_usage_id", "invalid usage_id"))
		return
	}

	resultData := req.ResultData
	if strings.TrimSpace(string(resultData)) == "null" {
		resultData = nil
	}

	result, err := s.quotaSvc.Commit(c.Request.Context(), quotadomain.CommitRequest{
		Tenant:     tenant,
		UsageID:    usageID,
		Success:    *req.Success,
		Metrics:    req.Metrics,
		Failure:    req.Failure,
		ResultData: resultData,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("quota_decision", strings.ToLower(string(result.Status)))
	c.JSON(http.StatusOK, commitUsageResponse{
		Success: true,
		Message: result.Message,
	})
}

func (s *Server) GetQuota(c *gin.Context) {
	tenant, ok := tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	snap, err := s.quotaSvc.Snapshot(c.Request.Context(), tenant)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": snap})
}

func denialStatus(kind quotadomain.DenialKind) int {
	switch kind {
	case quotadomain.DenialNoSubscription, quotadomain.DenialSubscriptionFrozen:
		return http.StatusPaymentRequired
	case quotadomain.DenialRateLimited, quotadomain.DenialQuotaExceeded:
		return http.StatusTooManyRequests
	case quotadomain.DenialReservationClosed:
		return http.StatusConflict
	default:
		return http.StatusForbidden
	}
}

func retryAfterSeconds(denial *quotadomain.Denial) int64 {
	seconds := int64(math.Ceil(denial.RetryAfter.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// writeRateLimitHeaders emits the window headers. Unlimited windows are omitted.
func writeRateLimitHeaders(c *gin.Context, result quotadomain.ValidateResult) {
	if result.RateLimit == nil {
		return
	}
	writeWindowHeaders(c, "Minute", result.RateLimit.Minute)
	writeWindowHeaders(c, "Day", result.RateLimit.Day)
}

func writeWindowHeaders(c *gin.Context, suffix string, window quotadomain.RateWindow) {
	if window.Limit == nil {
		return
	}
	c.Header("X-RateLimit-Limit-"+suffix, strconv.FormatInt(*window.Limit, 10))
	c.Header("X-RateLimit-Remaining-"+suffix, strconv.FormatInt(window.Remaining(), 10))
	c.Header("X-RateLimit-Reset-"+suffix, strconv.FormatInt(window.ResetAt().Unix(), 10))
}
