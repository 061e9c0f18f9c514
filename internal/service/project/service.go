package project

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/slipway/internal/domain"
	"github.com/splax/slipway/internal/repository"
)

var slugExpr = regexp.MustCompile(`[^a-z0-9-]+`)

var (
	errInvalidProjectName = errors.New("project name is required")
	errInvalidRepo        = errors.New("repository must be owner/name")
	errInvalidStatus      = errors.New("status must be active, archived or suspended")
	errMissingOwnerID     = errors.New("owner id required")
)

// Service orchestrates project management.
type Service struct {
	projects     repository.ProjectRepository
	environments repository.EnvironmentRepository
	logger       *slog.Logger
}

// New returns a project service.
func New(projects repository.ProjectRepository, environments repository.EnvironmentRepository, logger *slog.Logger) Service {
	return Service{projects: projects, environments: environments, logger: logger}
}

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	OwnerID     string
	Name        string
	RepoOwner   string
	RepoName    string
	Description string
}

// Create registers a new project with a default production environment.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Project, error) {
	if strings.TrimSpace(input.OwnerID) == "" {
		return nil, errMissingOwnerID
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, errInvalidProjectName
	}
	if strings.TrimSpace(input.RepoOwner) == "" || strings.TrimSpace(input.RepoName) == "" {
		return nil, errInvalidRepo
	}

	now := time.Now().UTC()
	project := &domain.Project{
		ID:          uuid.NewString(),
		OwnerID:     input.OwnerID,
		Name:        strings.TrimSpace(input.Name),
		Slug:        Slugify(input.Name),
		RepoOwner:   strings.TrimSpace(input.RepoOwner),
		RepoName:    strings.TrimSpace(input.RepoName),
		Description: strings.TrimSpace(input.Description),
		Status:      domain.ProjectStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		return nil, err
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
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.environments.CreateEnvironment(ctx, environment); err != nil {
		s.logger.Error("default environment creation failed", "project_id", project.ID, "error", err)
		return nil, err
	}
	s.logger.Info("project created", "project_id", project.ID, "repo", project.RepoFullName())
	return project, nil
}

// Get fetches one project.
func (s Service) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	return s.projects.GetProjectByID(ctx, projectID)
}

// ListByOwner returns an owner's projects.
func (s Service) ListByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	return s.projects.ListProjectsByOwner(ctx, ownerID)
}

// UpdateInput captures mutable project fields; nil means unchanged.
type UpdateInput struct {
	Name        *string
	Description *string
	Status      *string
}

// Update applies owner-initiated changes to a project.
func (s Service) Update(ctx context.Context, projectID string, input UpdateInput) (*domain.Project, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, errInvalidProjectName
		}
		project.Name = name
	}
	if input.Description != nil {
		project.Description = strings.TrimSpace(*input.Description)
	}
	if input.Status != nil {
		switch *input.Status {
		case domain.ProjectStatusActive, domain.ProjectStatusArchived, domain.ProjectStatusSuspended:
			project.Status = *input.Status
		default:
			return nil, errInvalidStatus
		}
	}
	project.UpdatedAt = time.Now().UTC()
	if err := s.projects.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

// Delete removes a project and, through the schema's cascade, its
// environments and deployments.
func (s Service) Delete(ctx context.Context, projectID string) error {
	if err := s.projects.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.logger.Info("project deleted", "project_id", projectID)
	return nil
}

// Slugify lowers a name into a url-safe slug.
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = slugExpr.ReplaceAllString(slug, "")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = uuid.NewString()[:8]
	}
	return slug
}
