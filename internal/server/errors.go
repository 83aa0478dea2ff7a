package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/creditgate/internal/apikey/domain"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	sessiondomain "github.com/smallbiznis/creditgate/internal/session/domain"
	subscriptiondomain "github.com/smallbiznis/creditgate/internal/subscription/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// errorClass maps a group of sentinel errors onto one HTTP response.
type errorClass struct {
	status  int
	typ     string
	message string
	matches []error
}

// Order matters: the first matching class wins.
var errorClasses = []errorClass{
	{http.StatusUnauthorized, "unauthorized", "unauthorized", []error{
		ErrUnauthorized, apikeydomain.ErrInvalidAPIKey, sessiondomain.ErrInvalidSession,
	}},
	{http.StatusForbidden, "forbidden", "forbidden", []error{
		ErrForbidden, quotadomain.ErrUsageNotOwned,
	}},
	{http.StatusConflict, "conflict", "request_id was already used with a different payload", []error{
		quotadomain.ErrIdempotencyConflict,
	}},
	{http.StatusConflict, "conflict", "conflict", []error{
		ErrConflict, subscriptiondomain.ErrInvalidTransition,
	}},
	{http.StatusNotFound, "not_found", "not found", []error{
		ErrNotFound,
		quotadomain.ErrUsageNotFound,
		quotadomain.ErrPlanNotFound,
		subscriptiondomain.ErrNotFound,
		subscriptiondomain.ErrPlanNotFound,
		apikeydomain.ErrNotFound,
		gorm.ErrRecordNotFound,
	}},
	{http.StatusPaymentRequired, string(quotadomain.DenialNoSubscription), "no active subscription", []error{
		quotadomain.ErrNoSubscription,
	}},
	{http.StatusTooManyRequests, "rate_limited", "too many requests", []error{
		ErrRateLimited,
	}},
	{http.StatusInternalServerError, "configuration_error", "service configuration error", []error{
		quotadomain.ErrFeatureNotPriced, apikeydomain.ErrHashSecretMissing,
	}},
	{http.StatusServiceUnavailable, "service_unavailable", "service unavailable", []error{
		ErrServiceUnavailable,
	}},
}

// Domain input errors rendered as a single field validation failure.
var invalidInputErrors = []error{
	ErrInvalidRequest,
	quotadomain.ErrInvalidRequest,
	quotadomain.ErrInvalidTenant,
	quotadomain.ErrInvalidFeatureKey,
	quotadomain.ErrInvalidFailureType,
	subscriptiondomain.ErrInvalidPlan,
	subscriptiondomain.ErrPlanProductMismatch,
	apikeydomain.ErrInvalidWorkspace,
	apikeydomain.ErrInvalidName,
	sessiondomain.ErrInvalidUser,
}

var internalErrorPayload = errorPayload{Type: "internal_error", Message: "internal server error"}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, internalErrorPayload
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: "validation error", Errors: vErr.Errors}
	}
	if matched := firstMatch(err, invalidInputErrors); matched != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  []ValidationError{fieldError(matched)},
		}
	}

	for _, class := range errorClasses {
		if firstMatch(err, class.matches) != nil {
			return class.status, errorPayload{Type: class.typ, Message: class.message}
		}
	}
	return http.StatusInternalServerError, internalErrorPayload
}

func firstMatch(err error, targets []error) error {
	for _, target := range targets {
		if errors.Is(err, target) {
			return target
		}
	}
	return nil
}

// fieldError derives the field from the sentinel text: invalid_plan -> plan.
func fieldError(sentinel error) ValidationError {
	code := sentinel.Error()
	switch code {
	case "invalid_request":
		return ValidationError{Field: "request", Code: code, Message: "invalid request"}
	case "plan_product_mismatch":
		return ValidationError{Field: "plan_id", Code: code, Message: "plan belongs to another product"}
	}
	return ValidationError{Field: strings.TrimPrefix(code, "invalid_"), Code: code, Message: "invalid value"}
}

// classifyErrorForLog returns the error type and a stable code for request logs.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status == http.StatusInternalServerError && payload.Type == "internal_error" {
		return payload.Type, "internal_error"
	}
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, err.Error()
}
