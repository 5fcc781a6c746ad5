package openstack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/LaboInfra/fob-api/internal/cloud"
)

func newTestIdentity(t *testing.T, handler http.Handler) (*Identity, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewIdentity(srv.URL, "svc-token", "default", "member-role"), srv
}

func TestFindProjectIDMatchesExactName(t *testing.T) {
	identity, _ := newTestIdentity(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Auth-Token"); got != "svc-token" {
			t.Errorf("missing auth token header, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"projects": []map[string]string{
				{"id": "ext-1", "name": "web-abc123"},
				{"id": "ext-2", "name": "web-abc123-old"},
			},
		})
	}))

	id, err := identity.FindProjectID(context.Background(), "web-abc123")
	if err != nil {
		t.Fatalf("FindProjectID: %v", err)
	}
	if id != "ext-1" {
		t.Fatalf("expected exact-name match ext-1, got %q", id)
	}
}

func TestFindProjectIDNotFound(t *testing.T) {
	identity, _ := newTestIdentity(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"projects": []map[string]string{}})
	}))

	if _, err := identity.FindProjectID(context.Background(), "ghost"); !errors.Is(err, cloud.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnsureUserCreatesWhenAbsent(t *testing.T) {
	identity, _ := newTestIdentity(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{"users": []map[string]string{}})
		case r.Method == http.MethodPost:
			var payload struct {
				User map[string]any `json:"user"`
			}
			_ = json.NewDecoder(r.Body).Decode(&payload)
			if payload.User["domain_id"] != "default" {
				t.Errorf("unexpected domain: %v", payload.User["domain_id"])
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"user": map[string]string{"id": "acct-9", "name": "alice"}})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	id, err := identity.EnsureUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if id != "acct-9" {
		t.Fatalf("unexpected id %q", id)
	}
}

// A lost create race (409 from the control plane) is resolved with exactly
// one follow-up lookup.
func TestEnsureUserResolvesCreateRace(t *testing.T) {
	var lookups atomic.Int64
	identity, _ := newTestIdentity(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			n := lookups.Add(1)
			if n == 1 {
				json.NewEncoder(w).Encode(map[string]any{"users": []map[string]string{}})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"users": []map[string]string{{"id": "acct-raced", "name": "alice"}},
			})
		case http.MethodPost:
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "duplicate user"}})
		}
	}))

	id, err := identity.EnsureUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if id != "acct-raced" {
		t.Fatalf("expected raced account id, got %q", id)
	}
	if got := lookups.Load(); got != 2 {
		t.Fatalf("expected exactly 2 lookups, got %d", got)
	}
}

func TestServerErrorsRetryThenSurfaceUnavailable(t *testing.T) {
	var hits atomic.Int64
	identity, _ := newTestIdentity(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := identity.FindProjectID(context.Background(), "web")
	var unavailable *cloud.UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if got := hits.Load(); got != retryAttempts+1 {
		t.Fatalf("expected %d attempts, got %d", retryAttempts+1, got)
	}
}
