package openstack

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/LaboInfra/fob-api/internal/cloud"
)

// Compute talks to the nova-style compute quota subsystem.
type Compute struct {
	client
}

var _ cloud.ComputeQuotaSetter = (*Compute)(nil)

// NewCompute constructs a compute quota client.
func NewCompute(baseURL, token string) *Compute {
	return &Compute{client: newClient(baseURL, token)}
}

// SetQuota updates the project's compute ceilings. Nova refuses the update
// with 403/409 when current usage already exceeds the requested value;
// that refusal surfaces as cloud.QuotaRejectedError.
func (c *Compute) SetQuota(ctx context.Context, projectID string, quota cloud.ComputeQuota) error {
	payload := map[string]cloud.ComputeQuota{"quota_set": quota}
	err := c.do(ctx, "PUT", "/v2.1/os-quota-sets/"+url.PathEscape(projectID), payload, nil)
	return mapQuotaError(err)
}

// mapQuotaError converts usage-exceeds-ceiling refusals into the typed
// rejection the quota engine rolls back on.
func mapQuotaError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusForbidden, http.StatusConflict, http.StatusBadRequest:
			return &cloud.QuotaRejectedError{Reason: apiErr.Message}
		}
	}
	return err
}
