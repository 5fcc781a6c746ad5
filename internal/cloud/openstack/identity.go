package openstack

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/LaboInfra/fob-api/internal/cloud"
)

// Identity talks to the keystone-style identity service: projects, users
// and role assignments.
type Identity struct {
	client
	domainID     string
	memberRoleID string
}

var (
	_ cloud.ProjectDirectory = (*Identity)(nil)
	_ cloud.UserDirectory    = (*Identity)(nil)
)

// NewIdentity constructs an identity client.
func NewIdentity(baseURL, token, domainID, memberRoleID string) *Identity {
	return &Identity{client: newClient(baseURL, token), domainID: domainID, memberRoleID: memberRoleID}
}

type resourceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FindProjectID resolves a project name to its external identifier.
func (c *Identity) FindProjectID(ctx context.Context, name string) (string, error) {
	return c.findByName(ctx, "/v3/projects?name=", "projects", name)
}

// CreateProject creates an enabled project in the configured domain.
func (c *Identity) CreateProject(ctx context.Context, name string) (string, error) {
	payload := map[string]any{
		"project": map[string]any{
			"name":      name,
			"domain_id": c.domainID,
			"enabled":   true,
		},
	}
	var out struct {
		Project resourceRef `json:"project"`
	}
	if err := c.do(ctx, "POST", "/v3/projects", payload, &out); err != nil {
		return "", err
	}
	return out.Project.ID, nil
}

// DeleteProject removes a project by external identifier.
func (c *Identity) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, "DELETE", "/v3/projects/"+url.PathEscape(id), nil, nil)
}

// GrantMemberRole assigns the member role to a user on a project.
func (c *Identity) GrantMemberRole(ctx context.Context, userID, projectID string) error {
	return c.do(ctx, "PUT", c.rolePath(userID, projectID), nil, nil)
}

// RevokeMemberRole removes the member role from a user on a project.
func (c *Identity) RevokeMemberRole(ctx context.Context, userID, projectID string) error {
	return c.do(ctx, "DELETE", c.rolePath(userID, projectID), nil, nil)
}

func (c *Identity) rolePath(userID, projectID string) string {
	return fmt.Sprintf("/v3/projects/%s/users/%s/roles/%s",
		url.PathEscape(projectID), url.PathEscape(userID), url.PathEscape(c.memberRoleID))
}

// FindUserID resolves a username to its external identifier.
func (c *Identity) FindUserID(ctx context.Context, username string) (string, error) {
	return c.findByName(ctx, "/v3/users?name=", "users", username)
}

// EnsureUser returns the external ID for the account, creating it with a
// random throwaway password when absent. A lost create race is resolved by
// one re-lookup, not recursion.
func (c *Identity) EnsureUser(ctx context.Context, username string) (string, error) {
	id, err := c.FindUserID(ctx, username)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, cloud.ErrNotFound) {
		return "", err
	}

	payload := map[string]any{
		"user": map[string]any{
			"name":      username,
			"domain_id": c.domainID,
			"enabled":   true,
		},
	}
	var out struct {
		User resourceRef `json:"user"`
	}
	createErr := c.do(ctx, "POST", "/v3/users", payload, &out)
	if createErr == nil {
		return out.User.ID, nil
	}
	var apiErr *apiError
	if errors.As(createErr, &apiErr) && apiErr.Status == 409 {
		return c.FindUserID(ctx, username)
	}
	return "", createErr
}

// SetUserPassword replaces the cloud account password.
func (c *Identity) SetUserPassword(ctx context.Context, username, password string) error {
	id, err := c.FindUserID(ctx, username)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"user": map[string]any{"password": password},
	}
	return c.do(ctx, "PATCH", "/v3/users/"+url.PathEscape(id), payload, nil)
}

func (c *Identity) findByName(ctx context.Context, pathPrefix, key, name string) (string, error) {
	var out map[string][]resourceRef
	if err := c.do(ctx, "GET", pathPrefix+url.QueryEscape(name), nil, &out); err != nil {
		return "", err
	}
	for _, item := range out[key] {
		if item.Name == name {
			return item.ID, nil
		}
	}
	return "", cloud.ErrNotFound
}
