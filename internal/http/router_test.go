package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/slipway/internal/domain"
	"github.com/splax/slipway/internal/repository"
	"github.com/splax/slipway/internal/service/deployment"
	"github.com/splax/slipway/internal/service/environment"
	"github.com/splax/slipway/internal/service/project"
	"github.com/splax/slipway/internal/service/stats"
	"github.com/splax/slipway/internal/service/webhook"
	"github.com/splax/slipway/internal/ws"
	"github.com/splax/slipway/pkg/jwt"
)

const (
	testWebhookSecret = "hook-secret"
	testJWTSecret     = "jwt-secret"
)

type memoryStore struct {
	projects     map[string]*domain.Project
	environments map[string]*domain.Environment
	deployments  map[string]*domain.Deployment
	metrics      []domain.DeploymentMetric
	touched      map[string]time.Time
	deadlineSeen bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		projects:     make(map[string]*domain.Project),
		environments: make(map[string]*domain.Environment),
		deployments:  make(map[string]*domain.Deployment),
		touched:      make(map[string]time.Time),
	}
}

func (m *memoryStore) CreateProject(_ context.Context, project *domain.Project) error {
	clone := *project
	m.projects[project.ID] = &clone
	return nil
}

func (m *memoryStore) GetProjectByID(_ context.Context, id string) (*domain.Project, error) {
	project, ok := m.projects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *project
	return &clone, nil
}

func (m *memoryStore) ListProjectsByOwner(_ context.Context, ownerID string) ([]domain.Project, error) {
	var matched []domain.Project
	for _, p := range m.projects {
		if p.OwnerID == ownerID {
			matched = append(matched, *p)
		}
	}
	return matched, nil
}

func (m *memoryStore) ListActiveProjectsByRepo(_ context.Context, repoOwner, repoName string) ([]domain.Project, error) {
	var matched []domain.Project
	for _, p := range m.projects {
		if p.RepoOwner == repoOwner && p.RepoName == repoName && p.Status == domain.ProjectStatusActive {
			matched = append(matched, *p)
		}
	}
	return matched, nil
}

func (m *memoryStore) UpdateProject(_ context.Context, project *domain.Project) error {
	if _, ok := m.projects[project.ID]; !ok {
		return repository.ErrNotFound
	}
	clone := *project
	m.projects[project.ID] = &clone
	return nil
}

func (m *memoryStore) DeleteProject(_ context.Context, id string) error {
	if _, ok := m.projects[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.projects, id)
	return nil
}

func (m *memoryStore) CountProjectsByOwner(_ context.Context, ownerID string) (int, int, error) {
	total, active := 0, 0
	for _, p := range m.projects {
		if p.OwnerID != ownerID {
			continue
		}
		total++
		if p.Status == domain.ProjectStatusActive {
			active++
		}
	}
	return total, active, nil
}

func (m *memoryStore) CreateEnvironment(_ context.Context, environment *domain.Environment) error {
	clone := *environment
	m.environments[environment.ID] = &clone
	return nil
}

func (m *memoryStore) GetEnvironmentByID(_ context.Context, id string) (*domain.Environment, error) {
	environment, ok := m.environments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *environment
	return &clone, nil
}

func (m *memoryStore) ListEnvironmentsByProject(_ context.Context, projectID string) ([]domain.Environment, error) {
	var matched []domain.Environment
	for _, e := range m.environments {
		if e.ProjectID == projectID {
			matched = append(matched, *e)
		}
	}
	return matched, nil
}

func (m *memoryStore) UpdateEnvironment(_ context.Context, environment *domain.Environment) error {
	if _, ok := m.environments[environment.ID]; !ok {
		return repository.ErrNotFound
	}
	clone := *environment
	m.environments[environment.ID] = &clone
	return nil
}

func (m *memoryStore) TouchLastDeploy(_ context.Context, environmentID string, at time.Time) error {
	if _, ok := m.environments[environmentID]; !ok {
		return repository.ErrNotFound
	}
	m.touched[environmentID] = at
	return nil
}

func (m *memoryStore) CreateDeployment(_ context.Context, deployment *domain.Deployment) error {
	clone := *deployment
	m.deployments[deployment.ID] = &clone
	return nil
}

func (m *memoryStore) GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error) {
	if _, ok := ctx.Deadline(); ok {
		m.deadlineSeen = true
	}
	deployment, ok := m.deployments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *deployment
	return &clone, nil
}

func (m *memoryStore) ListDeployments(_ context.Context, filter domain.DeploymentFilter) (*domain.DeploymentPage, error) {
	var matched []domain.Deployment
	for _, d := range m.deployments {
		if filter.ProjectID != "" && d.ProjectID != filter.ProjectID {
			continue
		}
		if filter.EnvironmentID != "" && d.EnvironmentID != filter.EnvironmentID {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		matched = append(matched, *d)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	return &domain.DeploymentPage{
		Deployments: matched,
		Total:       len(matched),
		Limit:       limit,
		Offset:      filter.Offset,
	}, nil
}

func (m *memoryStore) ListRecentByOwner(_ context.Context, ownerID string, limit int) ([]domain.Deployment, error) {
	var matched []domain.Deployment
	for _, d := range m.deployments {
		project, ok := m.projects[d.ProjectID]
		if !ok || project.OwnerID != ownerID {
			continue
		}
		matched = append(matched, *d)
		if len(matched) == limit {
			break
		}
	}
	return matched, nil
}

func (m *memoryStore) TransitionDeployment(_ context.Context, transition repository.DeploymentTransition) (bool, error) {
	deployment, ok := m.deployments[transition.DeploymentID]
	if !ok || deployment.Status != transition.FromStatus {
		return false, nil
	}
	deployment.Status = transition.ToStatus
	deployment.Phase = transition.ToPhase
	if transition.CompletedAt != nil {
		deployment.CompletedAt = transition.CompletedAt
	}
	return true, nil
}

func (m *memoryStore) ListByCommitAndStatus(_ context.Context, commitSHA string, statuses []string) ([]domain.Deployment, error) {
	allowed := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		allowed[s] = struct{}{}
	}
	var matched []domain.Deployment
	for _, d := range m.deployments {
		if d.CommitSHA != commitSHA {
			continue
		}
		if _, ok := allowed[d.Status]; !ok {
			continue
		}
		matched = append(matched, *d)
	}
	return matched, nil
}

func (m *memoryStore) ListPendingByBranch(_ context.Context, projectID, branch string) ([]domain.Deployment, error) {
	var matched []domain.Deployment
	for _, d := range m.deployments {
		if d.ProjectID == projectID && d.Branch == branch && d.Status == domain.DeploymentStatusPending {
			matched = append(matched, *d)
		}
	}
	return matched, nil
}

func (m *memoryStore) UpsertDeploymentMetric(_ context.Context, metric domain.DeploymentMetric) error {
	m.metrics = append(m.metrics, metric)
	return nil
}

func (m *memoryStore) ListMetricsByOwnerSince(_ context.Context, _ string, _ time.Time) ([]domain.DeploymentMetric, error) {
	return m.metrics, nil
}

type routerFixture struct {
	router *Router
	store  *memoryStore
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	store := newMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := ws.NewHub()

	ledgerSvc := deployment.New(store, store, store, store, hub, logger)
	projectSvc := project.New(store, store, logger)
	environmentSvc := environment.New(store, store, logger)
	webhookSvc := webhook.New(store, store, ledgerSvc, logger, testWebhookSecret)
	statsSvc := stats.New(store, store, store, logger, 5)

	router := NewRouter(logger, projectSvc, environmentSvc, ledgerSvc, webhookSvc, statsSvc, hub, NewMemoryRateLimiter(), testJWTSecret, time.Second, nil)
	t.Cleanup(router.Close)
	return &routerFixture{router: router, store: store}
}

func (fx *routerFixture) seedProject(t *testing.T, ownerID string) (*domain.Project, *domain.Environment) {
	t.Helper()
	project := &domain.Project{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      "app",
		Slug:      "app",
		RepoOwner: "acme",
		RepoName:  "app",
		Status:    domain.ProjectStatusActive,
	}
	if err := fx.store.CreateProject(context.Background(), project); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	environment := &domain.Environment{
		ID:                 uuid.NewString(),
		ProjectID:          project.ID,
		Name:               "Production",
		Slug:               "production",
		Status:             "active",
		AutoDeploy:         true,
		AutoDeployBranches: []string{"main"},
		DeployStrategy:     domain.StrategyBranch,
	}
	if err := fx.store.CreateEnvironment(context.Background(), environment); err != nil {
		t.Fatalf("seed environment: %v", err)
	}
	return project, environment
}

func (fx *routerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func bearerFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.GenerateToken(userID, testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return "Bearer " + token
}

func signedWebhookRequest(eventType string, payload []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(payload))
	req.Header.Set("X-GitHub-Event", eventType)
	req.Header.Set("X-Hub-Signature-256", webhook.ComputeSignature(payload, []byte(testWebhookSecret)))
	return req
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	fx := newRouterFixture(t)

	payload := []byte(`{"ref":"refs/heads/main"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(payload))
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", "sha256=0000000000000000000000000000000000000000000000000000000000000000")

	rec := fx.do(req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(fx.store.deployments) != 0 {
		t.Fatalf("unverified webhook must not touch the ledger")
	}
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.do(signedWebhookRequest("push", []byte(`{"ref": `)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookAcknowledgesUnhandledEvents(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.do(signedWebhookRequest("watch", []byte(`{"action":"started"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestWebhookPushThenWorkflowRunLifecycle(t *testing.T) {
	fx := newRouterFixture(t)
	_, environment := fx.seedProject(t, uuid.NewString())

	pushPayload := []byte(`{
		"ref": "refs/heads/main",
		"repository": {"full_name": "acme/app"},
		"head_commit": {"id": "abc123", "message": "ship it"},
		"sender": {"login": "octocat"},
		"commits": [{"id": "abc123"}]
	}`)
	rec := fx.do(signedWebhookRequest("push", pushPayload))
	if rec.Code != http.StatusOK {
		t.Fatalf("push status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(fx.store.deployments) != 1 {
		t.Fatalf("expected 1 deployment after push, got %d", len(fx.store.deployments))
	}
	for _, d := range fx.store.deployments {
		if d.Status != domain.DeploymentStatusPending || d.Phase != domain.PhaseInit {
			t.Fatalf("deployment after push is %s/%s, want pending/init", d.Status, d.Phase)
		}
		if d.CommitSHA != "abc123" || d.Branch != "main" {
			t.Fatalf("deployment carries %s@%s, want abc123@main", d.CommitSHA, d.Branch)
		}
	}

	runPayload := []byte(`{
		"action": "completed",
		"workflow_run": {"id": 987654, "head_sha": "abc123", "conclusion": "success"}
	}`)
	rec = fx.do(signedWebhookRequest("workflow_run", runPayload))
	if rec.Code != http.StatusOK {
		t.Fatalf("workflow_run status = %d, body %s", rec.Code, rec.Body.String())
	}
	for _, d := range fx.store.deployments {
		if d.Status != domain.DeploymentStatusSuccess || d.Phase != domain.PhaseComplete {
			t.Fatalf("deployment after run is %s/%s, want success/complete", d.Status, d.Phase)
		}
		if d.CompletedAt == nil {
			t.Fatalf("completedAt must be stamped")
		}
	}
	if _, ok := fx.store.touched[environment.ID]; !ok {
		t.Fatalf("environment lastDeployAt must be stamped on success")
	}
	if len(fx.store.metrics) != 1 || fx.store.metrics[0].DeploysSucceeded != 1 {
		t.Fatalf("expected one success rollup, got %+v", fx.store.metrics)
	}
}

func TestWebhookAcknowledgesDeletedPush(t *testing.T) {
	fx := newRouterFixture(t)
	fx.seedProject(t, uuid.NewString())

	payload := []byte(`{
		"ref": "refs/heads/main",
		"deleted": true,
		"repository": {"full_name": "acme/app"},
		"head_commit": null,
		"sender": {"login": "octocat"},
		"commits": []
	}`)
	rec := fx.do(signedWebhookRequest("push", payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("deleted push status = %d, want 200 so the provider stops redelivering", rec.Code)
	}
	if len(fx.store.deployments) != 0 {
		t.Fatalf("deleted push must not create deployments")
	}
}

func TestDeploymentsRequireAuth(t *testing.T) {
	fx := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/deployments", bytes.NewReader([]byte(`{}`)))
	rec := fx.do(req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestManualDeploymentValidation(t *testing.T) {
	fx := newRouterFixture(t)
	ownerID := uuid.NewString()
	project, environment := fx.seedProject(t, ownerID)
	auth := bearerFor(t, ownerID)

	// Missing commitSha.
	body, _ := json.Marshal(map[string]any{
		"projectId":     project.ID,
		"environmentId": environment.ID,
		"branch":        "main",
	})
	req := httptest.NewRequest(http.MethodPost, "/deployments", bytes.NewReader(body))
	req.Header.Set("Authorization", auth)
	rec := fx.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	body, _ = json.Marshal(map[string]any{
		"projectId":     project.ID,
		"environmentId": environment.ID,
		"commitSha":     "abc123",
		"branch":        "main",
	})
	req = httptest.NewRequest(http.MethodPost, "/deployments", bytes.NewReader(body))
	req.Header.Set("Authorization", auth)
	rec = fx.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var created domain.Deployment
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Status != domain.DeploymentStatusPending || created.TriggerType != domain.TriggerManual {
		t.Fatalf("created deployment %s/%s trigger %s", created.Status, created.Phase, created.TriggerType)
	}
}

func TestManualDeploymentEnvironmentMismatch(t *testing.T) {
	fx := newRouterFixture(t)
	ownerID := uuid.NewString()
	project, _ := fx.seedProject(t, ownerID)
	_, otherEnvironment := fx.seedProject(t, ownerID)

	body, _ := json.Marshal(map[string]any{
		"projectId":     project.ID,
		"environmentId": otherEnvironment.ID,
		"commitSha":     "abc123",
		"branch":        "main",
	})
	req := httptest.NewRequest(http.MethodPost, "/deployments", bytes.NewReader(body))
	req.Header.Set("Authorization", bearerFor(t, ownerID))
	rec := fx.do(req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetDeploymentByID(t *testing.T) {
	fx := newRouterFixture(t)
	ownerID := uuid.NewString()
	project, environment := fx.seedProject(t, ownerID)

	seeded := &domain.Deployment{
		ID:            uuid.NewString(),
		ProjectID:     project.ID,
		EnvironmentID: environment.ID,
		CommitSHA:     "abc123",
		Branch:        "main",
		Status:        domain.DeploymentStatusPending,
		Phase:         domain.PhaseInit,
		TriggerType:   domain.TriggerWebhook,
	}
	if err := fx.store.CreateDeployment(context.Background(), seeded); err != nil {
		t.Fatalf("seed deployment: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/deployments/"+seeded.ID, nil)
	req.Header.Set("Authorization", bearerFor(t, ownerID))
	rec := fx.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !fx.store.deadlineSeen {
		t.Fatalf("read path must reach the store with a bounded context")
	}

	req = httptest.NewRequest(http.MethodGet, "/deployments/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", bearerFor(t, ownerID))
	rec = fx.do(req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	fx := newRouterFixture(t)
	ownerID := uuid.NewString()
	fx.seedProject(t, ownerID)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", bearerFor(t, ownerID))
	rec := fx.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var summary stats.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.TotalProjects != 1 || summary.ActiveProjects != 1 {
		t.Fatalf("project counts = %d/%d, want 1/1", summary.TotalProjects, summary.ActiveProjects)
	}
	if summary.SuccessRate != 0 {
		t.Fatalf("success rate with no deploys = %v, want 0", summary.SuccessRate)
	}
}

func TestProjectLifecycleOverHTTP(t *testing.T) {
	fx := newRouterFixture(t)
	ownerID := uuid.NewString()
	auth := bearerFor(t, ownerID)

	body, _ := json.Marshal(map[string]string{
		"name":      "My Shiny App",
		"repoOwner": "acme",
		"repoName":  "app",
	})
	req := httptest.NewRequest(http.MethodPost, "/projects", bytes.NewReader(body))
	req.Header.Set("Authorization", auth)
	rec := fx.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created domain.Project
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode project: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/projects/"+created.ID+"/environments", nil)
	req.Header.Set("Authorization", auth)
	rec = fx.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("environments status = %d", rec.Code)
	}
	var listing struct {
		Environments []domain.Environment `json:"environments"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode environments: %v", err)
	}
	if len(listing.Environments) != 1 || listing.Environments[0].Slug != "production" {
		t.Fatalf("expected default production environment, got %+v", listing.Environments)
	}

	req = httptest.NewRequest(http.MethodDelete, "/projects/"+created.ID, nil)
	req.Header.Set("Authorization", auth)
	rec = fx.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
}

func TestHealthzReportsDatabase(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode health payload: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("health status = %q", payload.Status)
	}
}
