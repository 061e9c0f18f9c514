package deployment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/slipway/internal/domain"
	"github.com/splax/slipway/internal/repository"
	"github.com/splax/slipway/internal/ws"
)

var (
	// ErrInvalidTransition signals a rejected non-forward state move.
	ErrInvalidTransition = errors.New("deployment: invalid state transition")
	// ErrEnvironmentMismatch signals an environment outside the project.
	ErrEnvironmentMismatch = errors.New("deployment: environment does not belong to project")

	errMissingProjectID   = errors.New("project id is required")
	errMissingEnvironment = errors.New("environment id is required")
	errMissingCommitSHA   = errors.New("commit sha is required")
	errMissingTrigger     = errors.New("trigger type is required")
)

// Service is the deployment ledger: the single writer for deployment rows
// and their state transitions.
type Service struct {
	deployments  repository.DeploymentRepository
	environments repository.EnvironmentRepository
	projects     repository.ProjectRepository
	metrics      repository.MetricRepository
	hub          *ws.Hub
	logger       *slog.Logger
	now          func() time.Time
}

// New returns a deployment ledger service.
func New(deployments repository.DeploymentRepository, environments repository.EnvironmentRepository, projects repository.ProjectRepository, metrics repository.MetricRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{
		deployments:  deployments,
		environments: environments,
		projects:     projects,
		metrics:      metrics,
		hub:          hub,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput captures attributes for a new deployment.
type CreateInput struct {
	ProjectID     string
	EnvironmentID string
	CommitSHA     string
	CommitMessage string
	Branch        string
	PullRequestID *int
	TriggerType   string
	TriggerData   map[string]any
}

// Create validates the project/environment relation and inserts a fresh
// pending deployment in phase init.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Deployment, error) {
	if strings.TrimSpace(input.ProjectID) == "" {
		return nil, errMissingProjectID
	}
	if strings.TrimSpace(input.EnvironmentID) == "" {
		return nil, errMissingEnvironment
	}
	if strings.TrimSpace(input.CommitSHA) == "" {
		return nil, errMissingCommitSHA
	}
	if input.TriggerType != domain.TriggerManual && input.TriggerType != domain.TriggerWebhook {
		return nil, errMissingTrigger
	}
	if _, err := s.projects.GetProjectByID(ctx, input.ProjectID); err != nil {
		return nil, err
	}
	environment, err := s.environments.GetEnvironmentByID(ctx, input.EnvironmentID)
	if err != nil {
		return nil, err
	}
	if environment.ProjectID != input.ProjectID {
		return nil, ErrEnvironmentMismatch
	}

	var triggerData json.RawMessage
	if len(input.TriggerData) > 0 {
		encoded, err := json.Marshal(input.TriggerData)
		if err != nil {
			return nil, fmt.Errorf("encode trigger data: %w", err)
		}
		triggerData = encoded
	}

	now := s.now()
	deployment := &domain.Deployment{
		ID:            uuid.NewString(),
		ProjectID:     input.ProjectID,
		EnvironmentID: input.EnvironmentID,
		CommitSHA:     input.CommitSHA,
		CommitMessage: input.CommitMessage,
		Branch:        input.Branch,
		PullRequestID: input.PullRequestID,
		Status:        domain.DeploymentStatusPending,
		Phase:         domain.PhaseInit,
		TriggerType:   input.TriggerType,
		TriggerData:   triggerData,
		StartedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		return nil, err
	}
	s.logger.Info("deployment created",
		"deployment_id", deployment.ID,
		"project_id", deployment.ProjectID,
		"environment_id", deployment.EnvironmentID,
		"commit_sha", deployment.CommitSHA,
		"trigger", deployment.TriggerType,
	)
	s.broadcast(deployment)
	return deployment, nil
}

// Advance moves a deployment forward to a new status and phase. A move that
// regresses status or phase is rejected with ErrInvalidTransition; a move
// that loses the compare-and-swap to a concurrent writer is rejected with
// repository.ErrConflict, since the row no longer holds the status the
// caller saw.
func (s Service) Advance(ctx context.Context, deploymentID, toStatus, toPhase string) (*domain.Deployment, error) {
	deployment, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if toPhase == "" {
		toPhase = deployment.Phase
	}
	if !domain.ValidStatusTransition(deployment.Status, toStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, deployment.Status, toStatus)
	}
	if !domain.ValidPhaseTransition(deployment.Phase, toPhase) {
		return nil, fmt.Errorf("%w: phase %s -> %s", ErrInvalidTransition, deployment.Phase, toPhase)
	}

	transition := repository.DeploymentTransition{
		DeploymentID: deploymentID,
		FromStatus:   deployment.Status,
		ToStatus:     toStatus,
		ToPhase:      toPhase,
	}
	var completedAt time.Time
	if domain.TerminalStatus(toStatus) {
		completedAt = s.now()
		transition.CompletedAt = &completedAt
	}
	applied, err := s.deployments.TransitionDeployment(ctx, transition)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("%w: deployment %s left %s concurrently", repository.ErrConflict, deploymentID, deployment.Status)
	}

	deployment.Status = toStatus
	deployment.Phase = toPhase
	if transition.CompletedAt != nil {
		deployment.CompletedAt = transition.CompletedAt
		seconds := completedAt.Sub(deployment.StartedAt).Seconds()
		deployment.DurationSeconds = &seconds
	}
	s.afterTransition(ctx, deployment)
	return deployment, nil
}

// CancelPendingForBranch cancels every pending deployment for a branch of a
// project. Building and terminal deployments are untouched.
func (s Service) CancelPendingForBranch(ctx context.Context, projectID, branch string) (int, error) {
	pending, err := s.deployments.ListPendingByBranch(ctx, projectID, branch)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for i := range pending {
		deployment := pending[i]
		completedAt := s.now()
		applied, err := s.deployments.TransitionDeployment(ctx, repository.DeploymentTransition{
			DeploymentID: deployment.ID,
			FromStatus:   domain.DeploymentStatusPending,
			ToStatus:     domain.DeploymentStatusCancelled,
			ToPhase:      deployment.Phase,
			CompletedAt:  &completedAt,
		})
		if err != nil {
			return cancelled, err
		}
		if !applied {
			// Row moved on before the cancel landed; nothing to undo.
			continue
		}
		deployment.Status = domain.DeploymentStatusCancelled
		deployment.CompletedAt = &completedAt
		s.afterTransition(ctx, &deployment)
		cancelled++
	}
	return cancelled, nil
}

// CompleteForCommit applies a CI completion notice to every in-flight
// deployment of a commit. The conditional write makes a second notice for
// the same commit a no-op.
func (s Service) CompleteForCommit(ctx context.Context, commitSHA string, succeeded bool, runID int64) (int, error) {
	inflight, err := s.deployments.ListByCommitAndStatus(ctx, commitSHA, []string{
		domain.DeploymentStatusPending,
		domain.DeploymentStatusBuilding,
	})
	if err != nil {
		return 0, err
	}
	toStatus := domain.DeploymentStatusFailed
	conclusion := "failure"
	if succeeded {
		toStatus = domain.DeploymentStatusSuccess
		conclusion = "success"
	}
	patch, err := json.Marshal(map[string]any{
		"workflow_run_id": runID,
		"conclusion":      conclusion,
	})
	if err != nil {
		return 0, fmt.Errorf("encode run reference: %w", err)
	}

	completed := 0
	for i := range inflight {
		deployment := inflight[i]
		completedAt := s.now()
		applied, err := s.deployments.TransitionDeployment(ctx, repository.DeploymentTransition{
			DeploymentID: deployment.ID,
			FromStatus:   deployment.Status,
			ToStatus:     toStatus,
			ToPhase:      domain.PhaseComplete,
			CompletedAt:  &completedAt,
			TriggerData:  patch,
		})
		if err != nil {
			return completed, err
		}
		if !applied {
			s.logger.Info("completion notice lost race, skipping",
				"deployment_id", deployment.ID, "commit_sha", commitSHA)
			continue
		}
		deployment.Status = toStatus
		deployment.Phase = domain.PhaseComplete
		deployment.CompletedAt = &completedAt
		seconds := completedAt.Sub(deployment.StartedAt).Seconds()
		deployment.DurationSeconds = &seconds
		s.afterTransition(ctx, &deployment)
		completed++
	}
	return completed, nil
}

// Get fetches one deployment.
func (s Service) Get(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	return s.deployments.GetDeploymentByID(ctx, deploymentID)
}

// List returns a filtered page of deployments.
func (s Service) List(ctx context.Context, filter domain.DeploymentFilter) (*domain.DeploymentPage, error) {
	return s.deployments.ListDeployments(ctx, filter)
}

// afterTransition applies side effects of a committed transition: transition
// stream broadcast, environment stamp and rollup on terminal states.
func (s Service) afterTransition(ctx context.Context, deployment *domain.Deployment) {
	s.logger.Info("deployment transitioned",
		"deployment_id", deployment.ID,
		"status", deployment.Status,
		"phase", deployment.Phase,
	)
	s.broadcast(deployment)
	if !deployment.Terminal() {
		return
	}
	if deployment.Status == domain.DeploymentStatusSuccess {
		if err := s.environments.TouchLastDeploy(ctx, deployment.EnvironmentID, *deployment.CompletedAt); err != nil {
			s.logger.Warn("failed to stamp environment last deploy",
				"environment_id", deployment.EnvironmentID, "error", err)
		}
	}
	s.recordMetric(ctx, deployment)
}

func (s Service) recordMetric(ctx context.Context, deployment *domain.Deployment) {
	if s.metrics == nil || deployment.CompletedAt == nil {
		return
	}
	metric := domain.DeploymentMetric{
		ProjectID:    deployment.ProjectID,
		Date:         deployment.CompletedAt.Truncate(24 * time.Hour),
		DeploysTotal: 1,
	}
	switch deployment.Status {
	case domain.DeploymentStatusSuccess:
		metric.DeploysSucceeded = 1
	case domain.DeploymentStatusFailed:
		metric.DeploysFailed = 1
	}
	if deployment.DurationSeconds != nil {
		metric.DurationSeconds = *deployment.DurationSeconds
	}
	if err := s.metrics.UpsertDeploymentMetric(ctx, metric); err != nil {
		s.logger.Warn("failed to record deployment metric",
			"deployment_id", deployment.ID, "error", err)
	}
}

func (s Service) broadcast(deployment *domain.Deployment) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"deployment_id":  deployment.ID,
		"project_id":     deployment.ProjectID,
		"environment_id": deployment.EnvironmentID,
		"commit_sha":     deployment.CommitSHA,
		"status":         deployment.Status,
		"phase":          deployment.Phase,
		"updated_at":     s.now().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	s.hub.Broadcast(deployment.ProjectID, payload)
}
