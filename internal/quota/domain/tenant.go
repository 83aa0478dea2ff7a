// Package domain holds the quota pipeline models, the ledger and resolver
// contracts, and the sentinel errors shared by the validator, committer and
// sweeper.
package domain

import (
	"fmt"
	"strings"
)

// TenantType is the quota scope: a workspace for the developer product or a
// single user for the career product.
type TenantType string

const (
	TenantWorkspace TenantType = "workspace"
	TenantUser      TenantType = "user"
)

func (t TenantType) Valid() bool {
	switch t {
	case TenantWorkspace, TenantUser:
		return true
	default:
		return false
	}
}

func ParseTenantType(raw string) (TenantType, error) {
	t := TenantType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", ErrInvalidTenant
	}
	return t, nil
}

// TenantKey identifies the owner of a subscription, a balance and its usage records.
type TenantKey struct {
	Type TenantType `json:"type"`
	ID   string     `json:"id"`
}

func NewTenantKey(t TenantType, id string) TenantKey {
	return TenantKey{Type: t, ID: strings.TrimSpace(id)}
}

func (k TenantKey) Validate() error {
	if !k.Type.Valid() || strings.TrimSpace(k.ID) == "" {
		return ErrInvalidTenant
	}
	return nil
}

func (k TenantKey) String() string {
	return fmt.Sprintf("%s:%s", k.Type, k.ID)
}
