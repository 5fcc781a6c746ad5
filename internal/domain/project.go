package domain

import "time"

// Project mirrors a project in the cloud control plane; the owner is an
// implicit super-member and cannot be removed.
type Project struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// ProjectMembership links a non-owner user to a project.
type ProjectMembership struct {
	ID        string
	ProjectID string
	UserID    string
	CreatedAt time.Time
}
