// Package openstack implements the cloud collaborator contracts against
// OpenStack-style REST endpoints (keystone, nova, cinder). Authentication
// uses a pre-issued service token; token negotiation is out of scope.
package openstack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/LaboInfra/fob-api/internal/cloud"
)

const (
	defaultTimeout = 15 * time.Second
	retryBase      = 200 * time.Millisecond
	retryAttempts  = 2
)

// client is the shared HTTP plumbing for the three service clients.
type client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newClient(baseURL, token string) client {
	return client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// apiError is a non-2xx response from the control plane.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("openstack: request failed with status %d", e.Status)
	}
	return fmt.Sprintf("openstack: request failed (%d): %s", e.Status, e.Message)
}

// do issues one request and decodes the response into v when provided.
// Transient failures (network errors, 5xx) are retried a bounded number of
// times; the caller sees them as cloud.UnavailableError afterwards.
func (c client) do(ctx context.Context, method, path string, body, v any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		payload = encoded
	}

	op := method + " " + path
	backoff := retry.WithMaxRetries(retryAttempts, retry.NewExponential(retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("X-Auth-Token", c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(&apiError{Status: resp.StatusCode, Message: readMessage(resp.Body)})
		}
		if resp.StatusCode >= 400 {
			return &apiError{Status: resp.StatusCode, Message: readMessage(resp.Body)}
		}
		if v != nil {
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}

	var apiErr *apiError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusNotFound:
			return cloud.ErrNotFound
		case apiErr.Status >= 500:
			return &cloud.UnavailableError{Op: op, Err: apiErr}
		default:
			return apiErr
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return &cloud.UnavailableError{Op: op, Err: err}
}

// readMessage extracts a short error detail from a response body. OpenStack
// services nest it differently per service, so fall back to raw text.
func readMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var envelope map[string]struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		for _, detail := range envelope {
			if detail.Message != "" {
				return detail.Message
			}
		}
	}
	return strings.TrimSpace(string(raw))
}
