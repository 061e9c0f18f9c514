package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/slipway/internal/domain"
	"github.com/splax/slipway/internal/service/deployment"
	"github.com/splax/slipway/internal/service/environment"
	"github.com/splax/slipway/internal/service/project"
	"github.com/splax/slipway/internal/service/stats"
	"github.com/splax/slipway/internal/service/webhook"
	"github.com/splax/slipway/internal/ws"
	"github.com/splax/slipway/pkg/jwt"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	project     project.Service
	environment environment.Service
	ledger      deployment.Service
	webhook     webhook.Service
	stats       stats.Service
	hub         *ws.Hub
	upgrader    websocket.Upgrader
	limiter     RateLimiter
	jwtSecret   string
	dbHealth    func(context.Context) error

	storeTimeout time.Duration

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	webhookEvents      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitWebhook   = 120
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
	maxWebhookBody     = 1 << 20
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, projectSvc project.Service, environmentSvc environment.Service, ledgerSvc deployment.Service, webhookSvc webhook.Service, statsSvc stats.Service, hub *ws.Hub, limiter RateLimiter, jwtSecret string, storeTimeout time.Duration, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		project:     projectSvc,
		environment: environmentSvc,
		ledger:      ledgerSvc,
		webhook:     webhookSvc,
		stats:       statsSvc,
		hub:         hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:      limiter,
		jwtSecret:    jwtSecret,
		storeTimeout: storeTimeout,
		dbHealth:     dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.storeTimeout <= 0 {
		r.storeTimeout = 5 * time.Second
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
	r.mux.HandleFunc("/healthz", r.audit("healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/webhooks/github", r.audit("webhook", r.withRateLimit("webhook", rateLimitWebhook, rateWindowDefault, rateLimitKeyIP, r.handleWebhook)))
	r.mux.HandleFunc("/projects", r.audit("projects", r.handlerAuthRate("projects", rateLimitUserWrite, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/projects/", r.audit("projects", r.handlerAuthRate("projects", rateLimitUserWrite, rateWindowDefault, r.handleProjectSubroutes)))
	r.mux.HandleFunc("/environments/", r.audit("environments", r.handlerAuthRate("environments", rateLimitUserWrite, rateWindowDefault, r.handleEnvironmentSubroutes)))
	r.mux.HandleFunc("/deployments", r.audit("deployments", r.handlerAuthRate("deployments", rateLimitUserWrite, rateWindowDefault, r.handleDeployments)))
	r.mux.HandleFunc("/deployments/", r.audit("deployments", r.handlerAuthRate("deployments", rateLimitUserRead, rateWindowDefault, r.handleDeploymentByID)))
	r.mux.HandleFunc("/stats", r.audit("stats", r.handlerAuthRate("stats", rateLimitUserRead, rateWindowDefault, r.handleStats)))
	r.mux.HandleFunc("/ws/deployments", r.audit("ws", r.handlerAuthRate("ws", rateLimitWebsocket, rateWindowRealtime, r.handleDeploymentsWS)))
}

func (r *Router) parseToken(token string) (*jwt.Claims, error) {
	return jwt.Parse(token, r.jwtSecret)
}

// storeContext bounds downstream store calls so a stalled database cannot
// pin webhook or API requests indefinitely.
func (r *Router) storeContext(req *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(req.Context(), r.storeTimeout)
}

func (r *Router) handleWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	// The raw body is verified before anything parses it.
	if err := r.webhook.CheckSignature(body, req.Header.Get("X-Hub-Signature-256")); err != nil {
		r.logger.Warn("webhook signature rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	eventType := req.Header.Get("X-GitHub-Event")
	event, err := webhook.Classify(eventType, body)
	if err != nil {
		r.recordWebhookEvent(eventType, "malformed")
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	ctx, cancel := r.storeContext(req)
	defer cancel()
	outcome, err := r.webhook.Process(ctx, event)
	if err != nil {
		if errors.Is(err, deployment.ErrInvalidTransition) {
			// Likely a duplicate delivery racing another worker. Acknowledge
			// so the provider does not redeliver.
			r.logger.Warn("webhook event conflicted, acknowledging", "kind", event.Kind, "error", err)
			r.recordWebhookEvent(string(event.Kind), "conflict")
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
			return
		}
		r.logger.Error("webhook event processing failed", "kind", event.Kind, "error", err)
		r.recordWebhookEvent(string(event.Kind), "error")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch {
	case outcome.Ignored:
		r.recordWebhookEvent(string(event.Kind), "ignored")
	default:
		r.recordWebhookEvent(string(event.Kind), "processed")
		r.logger.Info("webhook event processed",
			"kind", event.Kind,
			"created", outcome.Created,
			"cancelled", outcome.Cancelled,
			"completed", outcome.Completed,
		)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for projects route", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Name        string `json:"name"`
			RepoOwner   string `json:"repoOwner"`
			RepoName    string `json:"repoName"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		ctx, cancel := r.storeContext(req)
		defer cancel()
		proj, err := r.project.Create(ctx, project.CreateInput{
			OwnerID:     info.UserID,
			Name:        payload.Name,
			RepoOwner:   payload.RepoOwner,
			RepoName:    payload.RepoName,
			Description: payload.Description,
		})
		if err != nil {
			r.writeCreateError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, proj)
	case http.MethodGet:
		ctx, cancel := r.storeContext(req)
		defer cancel()
		projects, err := r.project.ListByOwner(ctx, info.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	projectID := parts[0]
	if len(parts) == 2 && parts[1] == "environments" {
		r.handleProjectEnvironments(w, req, projectID)
		return
	}
	if len(parts) > 1 {
		r.notFound(w)
		return
	}
	ctx, cancel := r.storeContext(req)
	defer cancel()
	switch req.Method {
	case http.MethodGet:
		proj, err := r.project.Get(ctx, projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, proj)
	case http.MethodPatch:
		var payload struct {
			Name        *string `json:"name"`
			Description *string `json:"description"`
			Status      *string `json:"status"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		proj, err := r.project.Update(ctx, projectID, project.UpdateInput{
			Name:        payload.Name,
			Description: payload.Description,
			Status:      payload.Status,
		})
		if err != nil {
			r.writeCreateError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, proj)
	case http.MethodDelete:
		if err := r.project.Delete(ctx, projectID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectEnvironments(w http.ResponseWriter, req *http.Request, projectID string) {
	ctx, cancel := r.storeContext(req)
	defer cancel()
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Name               string   `json:"name"`
			AutoDeploy         bool     `json:"autoDeploy"`
			AutoDeployBranches []string `json:"autoDeployBranches"`
			PreviewDeploys     bool     `json:"previewDeploys"`
			DeployStrategy     string   `json:"deployStrategy"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		env, err := r.environment.Create(ctx, environment.CreateInput{
			ProjectID:          projectID,
			Name:               payload.Name,
			AutoDeploy:         payload.AutoDeploy,
			AutoDeployBranches: payload.AutoDeployBranches,
			PreviewDeploys:     payload.PreviewDeploys,
			DeployStrategy:     payload.DeployStrategy,
		})
		if err != nil {
			r.writeCreateError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, env)
	case http.MethodGet:
		environments, err := r.environment.ListByProject(ctx, projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"environments": environments})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleEnvironmentSubroutes(w http.ResponseWriter, req *http.Request) {
	environmentID := strings.TrimPrefix(req.URL.Path, "/environments/")
	if environmentID == "" || strings.Contains(environmentID, "/") {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPatch {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Name               *string  `json:"name"`
		AutoDeploy         *bool    `json:"autoDeploy"`
		AutoDeployBranches []string `json:"autoDeployBranches"`
		PreviewDeploys     *bool    `json:"previewDeploys"`
		DeployStrategy     *string  `json:"deployStrategy"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ctx, cancel := r.storeContext(req)
	defer cancel()
	env, err := r.environment.Update(ctx, environmentID, environment.UpdateInput{
		Name:               payload.Name,
		AutoDeploy:         payload.AutoDeploy,
		AutoDeployBranches: payload.AutoDeployBranches,
		PreviewDeploys:     payload.PreviewDeploys,
		DeployStrategy:     payload.DeployStrategy,
	})
	if err != nil {
		r.writeCreateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			ProjectID     string `json:"projectId"`
			EnvironmentID string `json:"environmentId"`
			CommitSHA     string `json:"commitSha"`
			CommitMessage string `json:"commitMessage"`
			Branch        string `json:"branch"`
			PullRequestID *int   `json:"pullRequestId"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if payload.ProjectID == "" || payload.EnvironmentID == "" || payload.CommitSHA == "" || payload.Branch == "" {
			writeError(w, http.StatusBadRequest, "projectId, environmentId, commitSha and branch are required")
			return
		}
		info, _ := authInfoFromContext(req.Context())
		ctx, cancel := r.storeContext(req)
		defer cancel()
		created, err := r.ledger.Create(ctx, deployment.CreateInput{
			ProjectID:     payload.ProjectID,
			EnvironmentID: payload.EnvironmentID,
			CommitSHA:     payload.CommitSHA,
			CommitMessage: payload.CommitMessage,
			Branch:        payload.Branch,
			PullRequestID: payload.PullRequestID,
			TriggerType:   domain.TriggerManual,
			TriggerData: map[string]any{
				"event":  "manual",
				"sender": info.UserID,
			},
		})
		if err != nil {
			r.writeCreateError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case http.MethodGet:
		query := req.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		ctx, cancel := r.storeContext(req)
		defer cancel()
		page, err := r.ledger.List(ctx, domain.DeploymentFilter{
			ProjectID:     query.Get("projectId"),
			EnvironmentID: query.Get("environmentId"),
			Status:        query.Get("status"),
			Limit:         limit,
			Offset:        offset,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeploymentByID(w http.ResponseWriter, req *http.Request) {
	deploymentID := strings.TrimPrefix(req.URL.Path, "/deployments/")
	if deploymentID == "" || strings.Contains(deploymentID, "/") {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	ctx, cancel := r.storeContext(req)
	defer cancel()
	found, err := r.ledger.Get(ctx, deploymentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for stats route", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	ctx, cancel := r.storeContext(req)
	defer cancel()
	summary, err := r.stats.ForOwner(ctx, info.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (r *Router) handleDeploymentsWS(w http.ResponseWriter, req *http.Request) {
	projectID := req.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(projectID, client)
	go func() {
		defer func() {
			r.hub.Unregister(projectID, client)
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

// writeCreateError maps mutation errors: known sentinels keep their status,
// anything else from input validation reads as a 400.
func (r *Router) writeCreateError(w http.ResponseWriter, err error) {
	switch {
	case isKnownServiceError(err):
		writeServiceError(w, err)
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
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
		duration := time.Since(start)
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
		r.logger.Info("request handled", fields...)
		r.recordRequestMetrics(req.Method, route, status, duration)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over audited connections.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func (sr *statusRecorder) Write(payload []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(payload)
	sr.bytes += n
	return n, err
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		if idx := strings.IndexRune(forwarded, ','); idx > 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return forwarded
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
