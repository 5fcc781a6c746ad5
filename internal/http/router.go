package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LaboInfra/fob-api/internal/domain"
	"github.com/LaboInfra/fob-api/internal/service/auth"
	"github.com/LaboInfra/fob-api/internal/service/ledger"
	"github.com/LaboInfra/fob-api/internal/service/project"
	"github.com/LaboInfra/fob-api/internal/service/user"
	"github.com/LaboInfra/fob-api/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	users    user.Service
	projects project.Service
	ledger   ledger.Service
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitLogin     = 12
	rateLimitReset     = 5
	rateLimitWrite     = 60
	rateLimitRead      = 120
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, userSvc user.Service, projectSvc project.Service, ledgerSvc ledger.Service, hub *ws.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		auth:     authSvc,
		users:    userSvc,
		projects: projectSvc,
		ledger:   ledgerSvc,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/login", r.audit("/auth/login", r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/users", r.audit("/users", r.handlerAuthRate("/users", rateLimitWrite, rateWindowDefault, r.handleUsers)))
	r.mux.HandleFunc("/users/reset-password", r.audit("/users/reset-password", r.withRateLimit("/users/reset-password", rateLimitReset, rateWindowDefault, rateLimitKeyIP, r.handleResetPassword)))
	r.mux.HandleFunc("/users/", r.audit("/users/{username}", r.handlerAuthRate("/users/{username}", rateLimitWrite, rateWindowDefault, r.handleUserSubroutes)))
	r.mux.HandleFunc("/projects", r.audit("/projects", r.handlerAuthRate("/projects", rateLimitWrite, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/projects/", r.audit("/projects/{name}", r.handlerAuthRate("/projects/{name}", rateLimitWrite, rateWindowDefault, r.handleProjectSubroutes)))
	r.mux.HandleFunc("/quota/grants", r.audit("/quota/grants", r.handlerAuthRate("/quota/grants", rateLimitWrite, rateWindowDefault, r.handleGrants)))
	r.mux.HandleFunc("/quota/grants/", r.audit("/quota/grants/{id}", r.handlerAuthRate("/quota/grants/{id}", rateLimitWrite, rateWindowDefault, r.handleGrantByID)))
	r.mux.HandleFunc("/quota/users/", r.audit("/quota/users/{username}", r.handlerAuthRate("/quota/users/{username}", rateLimitRead, rateWindowDefault, r.handleUserQuota)))
	r.mux.HandleFunc("/quota/projects/", r.audit("/quota/projects/{name}", r.handlerAuthRate("/quota/projects/{name}", rateLimitWrite, rateWindowDefault, r.handleProjectQuota)))
	r.mux.HandleFunc("/ws/projects/", r.audit("/ws/projects/{name}/events", r.handlerAuthRate("/ws/projects/{name}/events", rateLimitWebsocket, rateWindowRealtime, r.handleProjectEvents)))
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Login(req.Context(), payload.Username, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":       user.ID,
			"username": user.Username,
			"is_admin": user.IsAdmin,
		},
		"token": token,
	})
}

func (r *Router) handleUsers(w http.ResponseWriter, req *http.Request) {
	actor, ok := r.mustActor(w, req)
	if !ok {
		return
	}
	switch req.Method {
	case http.MethodGet:
		users, err := r.users.List(req.Context(), actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		out := make([]map[string]any, 0, len(users))
		for i := range users {
			out = append(out, userPayload(&users[i]))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var payload struct {
			Username string `json:"username"`
			Email    string `json:"email"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.users.Create(req.Context(), actor, payload.Username, payload.Email)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, userPayload(created))
	default:
		r.methodNotAllowed(w)
	}
}

// handleResetPassword consumes a mailed reset token. It is the only user
// route reachable without a bearer token.
func (r *Router) handleResetPassword(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.users.RedeemReset(req.Context(), payload.Username, payload.Token, payload.Password); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}

func (r *Router) handleUserSubroutes(w http.ResponseWriter, req *http.Request) {
	actor, ok := r.mustActor(w, req)
	if !ok {
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/users/")
	parts := strings.Split(trimmed, "/")
	username := parts[0]
	if username == "" {
		r.notFound(w)
		return
	}
	switch {
	case len(parts) == 1:
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		user, err := r.users.Get(req.Context(), actor, username)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, userPayload(user))
	case len(parts) == 2 && parts[1] == "reset-request":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		reset, err := r.users.RequestReset(req.Context(), actor, username, clientIP(req))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"status":     "reset token issued",
			"expires_at": reset.ExpiresAt.UTC().Format(time.RFC3339),
		})
	case len(parts) == 2 && parts[1] == "cloud-password":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		password, err := r.users.ResetCloudPassword(req.Context(), actor, username)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"password": password})
	case len(parts) == 2 && parts[1] == "cloud-sync":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		if err := r.users.SyncCloudAccount(req.Context(), actor, username); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cloud account synced"})
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	actor, ok := r.mustActor(w, req)
	if !ok {
		return
	}
	switch req.Method {
	case http.MethodGet:
		projects, err := r.projects.ListByUser(req.Context(), actor, actor.Username)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		out := make([]map[string]any, 0, len(projects))
		for _, p := range projects {
			out = append(out, map[string]any{"id": p.ID, "name": p.Name, "owner_id": p.OwnerID})
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var payload struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.projects.Create(req.Context(), actor, payload.Name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":       created.ID,
			"name":     created.Name,
			"owner_id": created.OwnerID,
		})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	actor, ok := r.mustActor(w, req)
	if !ok {
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	parts := strings.Split(trimmed, "/")
	name := parts[0]
	if name == "" {
		r.notFound(w)
		return
	}
	switch {
	case len(parts) == 1:
		if req.Method != http.MethodDelete {
			r.methodNotAllowed(w)
			return
		}
		if err := r.projects.Delete(req.Context(), actor, name); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "project deleted"})
	case len(parts) == 2 && parts[1] == "users":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		members, err := r.projects.ListMembers(req.Context(), actor, name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"members": members})
	case len(parts) == 3 && parts[1] == "users":
		r.handleMembership(w, req, actor, name, parts[2])
	default:
		r.notFound(w)
	}
}

func (r *Router) handleMembership(w http.ResponseWriter, req *http.Request, actor *domain.User, projectName, username string) {
	if username == "" {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodPut:
		if err := r.projects.AddMember(req.Context(), actor, projectName, username); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "member added"})
	case http.MethodDelete:
		if err := r.projects.RemoveMember(req.Context(), actor, projectName, username); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "member removed"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleGrants(w http.ResponseWriter, req *http.Request) {
	actor, ok := r.mustActor(w, req)
	if !ok {
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Type     string `json:"type"`
		Quantity int64  `json:"quantity"`
		Comment  string `json:"comment"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resourceType, err := domain.ParseResourceType(payload.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	grant, err := r.ledger.GiveOwnedQuota(req.Context(), actor, payload.Username, resourceType, payload.Quantity, payload.Comment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

func (r *Router) handleGrantByID(w http.ResponseWriter, req *http.Request) {
	actor, ok := r.mustActor(w, req)
	if !ok {
		return
	}
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	grantID := strings.TrimPrefix(req.URL.Path, "/quota/grants/")
	if grantID == "" || strings.Contains(grantID, "/") {
		r.notFound(w)
		return
	}
	revoked, err := r.ledger.RevokeOwnedGrant(req.Context(), actor, grantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, revoked)
}

func (r *Router) handleUserQuota(w http.ResponseWriter, req *http.Request) {
	actor, ok := r.mustActor(w, req)
	if !ok {
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/quota/users/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" {
		r.notFound(w)
		return
	}
	username := parts[0]
	switch parts[1] {
	case "totals":
		totals, err := r.ledger.UserTotalsFor(req.Context(), actor, username)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, totals)
	case "grants":
		grants, err := r.ledger.ListUserGrants(req.Context(), actor, username)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, grants)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProjectQuota(w http.ResponseWriter, req *http.Request) {
	actor, ok := r.mustActor(w, req)
	if !ok {
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/quota/projects/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" {
		r.notFound(w)
		return
	}
	name := parts[0]
	switch parts[1] {
	case "totals":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		totals, err := r.ledger.ProjectTotals(req.Context(), actor, name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, totals)
	case "shares":
		switch req.Method {
		case http.MethodGet:
			shares, err := r.ledger.ListProjectShares(req.Context(), actor, name)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, shares)
		case http.MethodPut:
			r.handleSetShare(w, req, actor, name)
		default:
			r.methodNotAllowed(w)
		}
	case "sync":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		if err := r.ledger.SyncProject(req.Context(), actor, name); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
	default:
		r.notFound(w)
	}
}

func (r *Router) handleSetShare(w http.ResponseWriter, req *http.Request, actor *domain.User, projectName string) {
	var payload struct {
		Username string `json:"username"`
		Type     string `json:"type"`
		Quantity int64  `json:"quantity"`
		Comment  string `json:"comment"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resourceType, err := domain.ParseResourceType(payload.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	update, err := r.ledger.SetProjectShare(req.Context(), actor, ledger.SetShareInput{
		Username: payload.Username,
		Project:  projectName,
		Type:     resourceType,
		Quantity: payload.Quantity,
		Comment:  payload.Comment,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"previous": update.Previous,
		"current":  update.Current,
	})
}

// handleProjectEvents upgrades the connection and streams quota events for
// one project. Project access is checked before the upgrade so a denied
// caller gets a regular HTTP error.
func (r *Router) handleProjectEvents(w http.ResponseWriter, req *http.Request) {
	actor, ok := r.mustActor(w, req)
	if !ok {
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/ws/projects/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "events" {
		r.notFound(w)
		return
	}
	name := parts[0]
	if _, err := r.ledger.ProjectTotals(req.Context(), actor, name); err != nil {
		writeServiceError(w, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(name, client)
	go func() {
		defer func() {
			r.hub.Unregister(name, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) mustActor(w http.ResponseWriter, req *http.Request) (*domain.User, bool) {
	actor, ok := actorFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return nil, false
	}
	return actor, true
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func userPayload(u *domain.User) map[string]any {
	payload := map[string]any{
		"id":       u.ID,
		"username": u.Username,
		"email":    u.Email,
		"is_admin": u.IsAdmin,
		"disabled": u.Disabled,
	}
	if u.LastSyncedAt != nil {
		payload["last_synced_at"] = u.LastSyncedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if actor, ok := actorFromContext(ctx); ok {
			fields = append(fields, "user", actor.Username)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
