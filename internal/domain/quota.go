package domain

import (
	"fmt"
	"time"
)

// ResourceType identifies a category of scarce cloud capacity. The set is
// closed; ledger arithmetic and the sync dispatch are exhaustive over it.
type ResourceType string

const (
	ResourceCPU     ResourceType = "cpu"
	ResourceMemory  ResourceType = "mem"
	ResourceStorage ResourceType = "sto"
)

// ResourceTypes returns every known resource type. Callers relying on
// zero-filled totals iterate this slice, never a partial map.
func ResourceTypes() []ResourceType {
	return []ResourceType{ResourceCPU, ResourceMemory, ResourceStorage}
}

// ParseResourceType validates a wire value.
func ParseResourceType(value string) (ResourceType, error) {
	switch ResourceType(value) {
	case ResourceCPU, ResourceMemory, ResourceStorage:
		return ResourceType(value), nil
	}
	return "", fmt.Errorf("unknown resource type %q", value)
}

// OwnedQuotaGrant is one admin-issued entitlement adjustment for a user.
// Quantity may be negative (claw-back). Rows are append-only: created and
// deleted, never updated.
type OwnedQuotaGrant struct {
	ID        string
	UserID    string
	Type      ResourceType
	Quantity  int64
	Comment   string
	CreatedAt time.Time
}

// ProjectQuotaShare records how much of one user's owned capacity is
// currently pledged to one project. At most one row exists per
// (user, project, type); quantity is never negative.
type ProjectQuotaShare struct {
	ID        string
	UserID    string
	ProjectID string
	Type      ResourceType
	Quantity  int64
	Comment   string
	CreatedAt time.Time
}
