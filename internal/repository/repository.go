package repository

import (
	"context"
	"time"

	"github.com/splax/slipway/internal/domain"
)

// ProjectRepository persists project configuration.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
	ListActiveProjectsByRepo(ctx context.Context, repoOwner, repoName string) ([]domain.Project, error)
	UpdateProject(ctx context.Context, project *domain.Project) error
	DeleteProject(ctx context.Context, projectID string) error
	CountProjectsByOwner(ctx context.Context, ownerID string) (total int, active int, err error)
}

// EnvironmentRepository persists deployment targets and their policies.
type EnvironmentRepository interface {
	CreateEnvironment(ctx context.Context, environment *domain.Environment) error
	GetEnvironmentByID(ctx context.Context, environmentID string) (*domain.Environment, error)
	ListEnvironmentsByProject(ctx context.Context, projectID string) ([]domain.Environment, error)
	UpdateEnvironment(ctx context.Context, environment *domain.Environment) error
	TouchLastDeploy(ctx context.Context, environmentID string, at time.Time) error
}

// DeploymentTransition captures one conditional status/phase move. The write
// must apply only while the row still holds FromStatus.
type DeploymentTransition struct {
	DeploymentID string
	FromStatus   string
	ToStatus     string
	ToPhase      string
	CompletedAt  *time.Time
	TriggerData  []byte
}

// DeploymentRepository stores the deployment ledger.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	ListDeployments(ctx context.Context, filter domain.DeploymentFilter) (*domain.DeploymentPage, error)
	ListRecentByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Deployment, error)
	// TransitionDeployment applies a conditional update and reports whether
	// the row was written. false with nil error means the row no longer held
	// FromStatus when the write arrived.
	TransitionDeployment(ctx context.Context, transition DeploymentTransition) (bool, error)
	ListByCommitAndStatus(ctx context.Context, commitSHA string, statuses []string) ([]domain.Deployment, error)
	ListPendingByBranch(ctx context.Context, projectID, branch string) ([]domain.Deployment, error)
}

// MetricRepository stores and serves daily deployment rollups.
type MetricRepository interface {
	UpsertDeploymentMetric(ctx context.Context, metric domain.DeploymentMetric) error
	ListMetricsByOwnerSince(ctx context.Context, ownerID string, since time.Time) ([]domain.DeploymentMetric, error)
}
