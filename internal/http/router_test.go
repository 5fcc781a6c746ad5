package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LaboInfra/fob-api/internal/cloud"
	"github.com/LaboInfra/fob-api/internal/domain"
	"github.com/LaboInfra/fob-api/internal/repository"
	"github.com/LaboInfra/fob-api/internal/service/auth"
	"github.com/LaboInfra/fob-api/internal/service/guard"
	syncsvc "github.com/LaboInfra/fob-api/internal/service/sync"
	"github.com/LaboInfra/fob-api/pkg/config"
	"github.com/LaboInfra/fob-api/pkg/crypto"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"denied", guard.ErrDenied, http.StatusForbidden},
		{"repo not found", repository.ErrNotFound, http.StatusNotFound},
		{"cloud not found", cloud.ErrNotFound, http.StatusNotFound},
		{"insufficient", repository.ErrInsufficientQuota, http.StatusConflict},
		{"wrapped insufficient", errors.Join(errors.New("ctx"), repository.ErrInsufficientQuota), http.StatusConflict},
		{"sync rejected", &syncsvc.RejectedError{Project: "p", Type: domain.ResourceCPU, Reason: "in use"}, http.StatusConflict},
		{"precondition", &guard.PreconditionError{Project: "p", Reason: "members remain"}, http.StatusConflict},
		{"unavailable", &cloud.UnavailableError{Op: "set quota", Err: errors.New("refused")}, http.StatusBadGateway},
		{"external missing", syncsvc.ErrExternalProjectMissing, http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusBadGateway},
		{"validation fallback", errors.New("name is required"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		if got := statusForError(tc.err); got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestBearerToken(t *testing.T) {
	if _, err := bearerToken(""); err == nil {
		t.Fatal("empty header must be rejected")
	}
	if _, err := bearerToken("Basic abc"); err == nil {
		t.Fatal("non-bearer scheme must be rejected")
	}
	token, err := bearerToken("Bearer abc.def.ghi")
	if err != nil || token != "abc.def.ghi" {
		t.Fatalf("unexpected result: %q, %v", token, err)
	}
}

func TestRateMetricKey(t *testing.T) {
	if got := rateMetricKey("user:123"); got != "user" {
		t.Fatalf("expected user, got %q", got)
	}
	if got := rateMetricKey("ip:10.0.0.1"); got != "ip" {
		t.Fatalf("expected ip, got %q", got)
	}
	if got := rateMetricKey(""); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	rl := NewMemoryRateLimiter()
	defer rl.Close()

	for i := 0; i < 3; i++ {
		decision := rl.Allow("k", 3, time.Minute)
		if !decision.allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if decision := rl.Allow("k", 3, time.Minute); decision.allowed {
		t.Fatal("fourth request should be limited")
	}
	if decision := rl.Allow("other", 3, time.Minute); !decision.allowed {
		t.Fatal("distinct keys have distinct windows")
	}
}

type loginUsersStub struct {
	user domain.User
}

func (s *loginUsersStub) CreateUser(ctx context.Context, user *domain.User) error { return nil }
func (s *loginUsersStub) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if id == s.user.ID {
		u := s.user
		return &u, nil
	}
	return nil, repository.ErrNotFound
}
func (s *loginUsersStub) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	if username == s.user.Username {
		u := s.user
		return &u, nil
	}
	return nil, repository.ErrNotFound
}
func (s *loginUsersStub) ListUsers(ctx context.Context) ([]domain.User, error) { return nil, nil }
func (s *loginUsersStub) UpdateUserPassword(ctx context.Context, userID string, hash []byte) error {
	return nil
}
func (s *loginUsersStub) TouchUserSync(ctx context.Context, userID string) error { return nil }
func (s *loginUsersStub) DeleteUser(ctx context.Context, userID string) error    { return nil }
func (s *loginUsersStub) CreatePasswordReset(ctx context.Context, reset *domain.PasswordReset) error {
	return nil
}
func (s *loginUsersStub) GetPasswordReset(ctx context.Context, token string) (*domain.PasswordReset, error) {
	return nil, repository.ErrNotFound
}
func (s *loginUsersStub) DeletePasswordReset(ctx context.Context, id string) error { return nil }

func newLoginRouter(t *testing.T) *Router {
	t.Helper()
	hash, err := crypto.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	users := &loginUsersStub{user: domain.User{
		ID: "u1", Username: "alice", PasswordHash: hash,
	}}
	cfg := config.APIConfig{JWTSecret: "test-secret", AccessTokenTTL: time.Hour}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := auth.New(users, logger, cfg)
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		auth:   authSvc,
	}
}

func TestHandleLoginSuccess(t *testing.T) {
	router := newLoginRouter(t)
	body, _ := json.Marshal(map[string]string{"username": "alice", "password": "hunter22"})

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.handleLogin(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Token struct {
			AccessToken string `json:"access_token"`
		} `json:"token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Token.AccessToken == "" {
		t.Fatal("expected an access token")
	}
}

func TestHandleLoginBadPassword(t *testing.T) {
	router := newLoginRouter(t)
	body, _ := json.Marshal(map[string]string{"username": "alice", "password": "wrong"})

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.handleLogin(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestHealthzReportsDegradedDatabase(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		dbHealth: func(ctx context.Context) error { return errors.New("connection refused") },
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.handleHealthz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "degraded" {
		t.Fatalf("expected degraded, got %q", payload.Status)
	}
}
