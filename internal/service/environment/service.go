package environment

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/slipway/internal/domain"
	"github.com/splax/slipway/internal/repository"
	"github.com/splax/slipway/internal/service/project"
)

var (
	errInvalidName     = errors.New("environment name is required")
	errInvalidStrategy = errors.New("deploy strategy must be branch-based, tag-based or release-based")
)

// Service coordinates environment management and policy updates.
type Service struct {
	environments repository.EnvironmentRepository
	projects     repository.ProjectRepository
	logger       *slog.Logger
}

// New constructs an environment service.
func New(environments repository.EnvironmentRepository, projects repository.ProjectRepository, logger *slog.Logger) Service {
	return Service{environments: environments, projects: projects, logger: logger}
}

// CreateInput captures attributes for a new environment.
type CreateInput struct {
	ProjectID          string
	Name               string
	AutoDeploy         bool
	AutoDeployBranches []string
	PreviewDeploys     bool
	DeployStrategy     string
}

// Create adds an environment to an existing project.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Environment, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, errInvalidName
	}
	strategy := input.DeployStrategy
	if strategy == "" {
		strategy = domain.StrategyBranch
	}
	if !validStrategy(strategy) {
		return nil, errInvalidStrategy
	}
	if _, err := s.projects.GetProjectByID(ctx, input.ProjectID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	environment := &domain.Environment{
		ID:                 uuid.NewString(),
		ProjectID:          input.ProjectID,
		Name:               strings.TrimSpace(input.Name),
		Slug:               project.Slugify(input.Name),
		Status:             "active",
		AutoDeploy:         input.AutoDeploy,
		AutoDeployBranches: normalizeBranches(input.AutoDeployBranches),
		PreviewDeploys:     input.PreviewDeploys,
		DeployStrategy:     strategy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.environments.CreateEnvironment(ctx, environment); err != nil {
		return nil, err
	}
	s.logger.Info("environment created", "environment_id", environment.ID, "project_id", input.ProjectID, "slug", environment.Slug)
	return environment, nil
}

// ListByProject returns a project's environments.
func (s Service) ListByProject(ctx context.Context, projectID string) ([]domain.Environment, error) {
	if _, err := s.projects.GetProjectByID(ctx, projectID); err != nil {
		return nil, err
	}
	return s.environments.ListEnvironmentsByProject(ctx, projectID)
}

// UpdateInput captures mutable policy fields; nil means unchanged.
type UpdateInput struct {
	Name               *string
	AutoDeploy         *bool
	AutoDeployBranches []string
	PreviewDeploys     *bool
	DeployStrategy     *string
}

// Update applies policy changes to an environment.
func (s Service) Update(ctx context.Context, environmentID string, input UpdateInput) (*domain.Environment, error) {
	environment, err := s.environments.GetEnvironmentByID(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, errInvalidName
		}
		environment.Name = name
	}
	if input.AutoDeploy != nil {
		environment.AutoDeploy = *input.AutoDeploy
	}
	if input.AutoDeployBranches != nil {
		environment.AutoDeployBranches = normalizeBranches(input.AutoDeployBranches)
	}
	if input.PreviewDeploys != nil {
		environment.PreviewDeploys = *input.PreviewDeploys
	}
	if input.DeployStrategy != nil {
		if !validStrategy(*input.DeployStrategy) {
			return nil, errInvalidStrategy
		}
		environment.DeployStrategy = *input.DeployStrategy
	}
	environment.UpdatedAt = time.Now().UTC()
	if err := s.environments.UpdateEnvironment(ctx, environment); err != nil {
		return nil, err
	}
	return environment, nil
}

func validStrategy(strategy string) bool {
	switch strategy {
	case domain.StrategyBranch, domain.StrategyTag, domain.StrategyRelease:
		return true
	}
	return false
}

func normalizeBranches(branches []string) []string {
	normalized := make([]string, 0, len(branches))
	seen := make(map[string]struct{}, len(branches))
	for _, branch := range branches {
		branch = strings.TrimSpace(branch)
		if branch == "" {
			continue
		}
		if _, dup := seen[branch]; dup {
			continue
		}
		seen[branch] = struct{}{}
		normalized = append(normalized, branch)
	}
	return normalized
}
