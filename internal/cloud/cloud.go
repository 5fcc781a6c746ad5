// Package cloud defines the contracts this service expects from the
// external control planes. Implementations live in subpackages; the quota
// engine only ever sees these interfaces and error types.
package cloud

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound reports that the external entity does not exist.
var ErrNotFound = errors.New("cloud: not found")

// QuotaRejectedError is a typed refusal of a quota update, typically because
// current usage already exceeds the requested ceiling. Callers compensate by
// rolling the ledger back; everything else is treated as transient.
type QuotaRejectedError struct {
	Reason string
}

func (e *QuotaRejectedError) Error() string {
	if e.Reason == "" {
		return "cloud: quota update rejected"
	}
	return "cloud: quota update rejected: " + e.Reason
}

// UnavailableError wraps network errors, timeouts and 5xx responses. The
// local mutation stays committed; a later resync repairs the drift.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("cloud: %s unavailable: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// ProjectDirectory manages projects and role assignments in the identity
// control plane.
type ProjectDirectory interface {
	FindProjectID(ctx context.Context, name string) (string, error)
	CreateProject(ctx context.Context, name string) (string, error)
	DeleteProject(ctx context.Context, id string) error
	GrantMemberRole(ctx context.Context, userID, projectID string) error
	RevokeMemberRole(ctx context.Context, userID, projectID string) error
}

// UserDirectory manages user accounts in the identity control plane.
type UserDirectory interface {
	FindUserID(ctx context.Context, username string) (string, error)
	// EnsureUser creates the account if absent and returns its ID either
	// way. Implementations resolve create races with one bounded retry,
	// never unbounded recursion.
	EnsureUser(ctx context.Context, username string) (string, error)
	SetUserPassword(ctx context.Context, username, password string) error
}

// ComputeQuota carries the per-project compute ceilings. Nil fields are
// left untouched by the subsystem.
type ComputeQuota struct {
	Cores *int64 `json:"cores,omitempty"`
	RAMMB *int64 `json:"ram,omitempty"`
}

// StorageQuota carries the per-project storage ceiling.
type StorageQuota struct {
	Gigabytes int64 `json:"gigabytes"`
}

// ComputeQuotaSetter pushes compute ceilings for a project.
type ComputeQuotaSetter interface {
	SetQuota(ctx context.Context, projectID string, quota ComputeQuota) error
}

// StorageQuotaSetter pushes storage ceilings for a project.
type StorageQuotaSetter interface {
	SetQuota(ctx context.Context, projectID string, quota StorageQuota) error
}
