package openstack

import (
	"context"
	"net/url"

	"github.com/LaboInfra/fob-api/internal/cloud"
)

// Storage talks to the cinder-style block storage quota subsystem.
type Storage struct {
	client
}

var _ cloud.StorageQuotaSetter = (*Storage)(nil)

// NewStorage constructs a storage quota client.
func NewStorage(baseURL, token string) *Storage {
	return &Storage{client: newClient(baseURL, token)}
}

// SetQuota updates the project's storage ceiling in gigabytes.
func (c *Storage) SetQuota(ctx context.Context, projectID string, quota cloud.StorageQuota) error {
	payload := map[string]cloud.StorageQuota{"quota_set": quota}
	err := c.do(ctx, "PUT", "/v3/os-quota-sets/"+url.PathEscape(projectID), payload, nil)
	return mapQuotaError(err)
}
