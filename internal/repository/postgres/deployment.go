package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/splax/slipway/internal/domain"
	"github.com/splax/slipway/internal/repository"
)

const deploymentColumns = `id, project_id, environment_id, commit_sha, commit_message, branch, pull_request_id, status, phase, trigger_type, trigger_data, started_at, completed_at, total_duration_seconds, updated_at`

// CreateDeployment inserts a deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, project_id, environment_id, commit_sha, commit_message, branch, pull_request_id, status, phase, trigger_type, trigger_data, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.pool.Exec(ctx, query,
		deployment.ID,
		deployment.ProjectID,
		deployment.EnvironmentID,
		deployment.CommitSHA,
		deployment.CommitMessage,
		deployment.Branch,
		deployment.PullRequestID,
		deployment.Status,
		deployment.Phase,
		deployment.TriggerType,
		deployment.TriggerData,
		deployment.StartedAt,
		deployment.CompletedAt,
		deployment.UpdatedAt,
	)
	return err
}

// GetDeploymentByID retrieves a deployment by identifier.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, deploymentID)
	d, err := scanDeployment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// ListDeployments returns one filtered, paginated page of deployments.
func (r *Repository) ListDeployments(ctx context.Context, filter domain.DeploymentFilter) (*domain.DeploymentPage, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	conditions := make([]string, 0, 3)
	args := make([]any, 0, 5)
	addCondition := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	addCondition("project_id", filter.ProjectID)
	addCondition("environment_id", filter.EnvironmentID)
	addCondition("status", filter.Status)

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := `SELECT COUNT(1) FROM deployments` + where
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, err
	}

	args = append(args, limit, offset)
	listQuery := fmt.Sprintf(`SELECT %s FROM deployments%s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`,
		deploymentColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	deployments, err := collectDeployments(rows)
	if err != nil {
		return nil, err
	}
	return &domain.DeploymentPage{
		Deployments: deployments,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
		HasMore:     offset+len(deployments) < total,
	}, nil
}

// ListRecentByOwner returns the newest deployments across an owner's projects.
func (r *Repository) ListRecentByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `SELECT d.id, d.project_id, d.environment_id, d.commit_sha, d.commit_message, d.branch, d.pull_request_id, d.status, d.phase, d.trigger_type, d.trigger_data, d.started_at, d.completed_at, d.total_duration_seconds, d.updated_at
		FROM deployments d
		JOIN projects p ON p.id = d.project_id
		WHERE p.owner_id = $1
		ORDER BY d.started_at DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeployments(rows)
}

// TransitionDeployment applies a compare-and-swap status move. The WHERE
// clause pins the expected current status so a racing writer observes zero
// affected rows instead of overwriting a terminal state.
func (r *Repository) TransitionDeployment(ctx context.Context, transition repository.DeploymentTransition) (bool, error) {
	const query = `UPDATE deployments
		SET status = $3,
			phase = $4,
			completed_at = COALESCE($5, completed_at),
			total_duration_seconds = CASE
				WHEN $5::timestamptz IS NULL THEN total_duration_seconds
				ELSE EXTRACT(EPOCH FROM ($5::timestamptz - started_at))
			END,
			trigger_data = CASE
				WHEN $6::jsonb IS NULL THEN trigger_data
				ELSE COALESCE(trigger_data, '{}'::jsonb) || $6::jsonb
			END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2`
	tag, err := r.pool.Exec(ctx, query,
		transition.DeploymentID,
		transition.FromStatus,
		transition.ToStatus,
		transition.ToPhase,
		transition.CompletedAt,
		transition.TriggerData,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListByCommitAndStatus returns deployments for a commit still in one of the
// given statuses.
func (r *Repository) ListByCommitAndStatus(ctx context.Context, commitSHA string, statuses []string) ([]domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE commit_sha = $1 AND status = ANY($2)
		ORDER BY started_at`
	rows, err := r.pool.Query(ctx, query, commitSHA, statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeployments(rows)
}

// ListPendingByBranch returns a project's pending deployments on a branch.
func (r *Repository) ListPendingByBranch(ctx context.Context, projectID, branch string) ([]domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE project_id = $1 AND branch = $2 AND status = $3
		ORDER BY started_at`
	rows, err := r.pool.Query(ctx, query, projectID, branch, domain.DeploymentStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeployments(rows)
}

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	err := row.Scan(
		&d.ID,
		&d.ProjectID,
		&d.EnvironmentID,
		&d.CommitSHA,
		&d.CommitMessage,
		&d.Branch,
		&d.PullRequestID,
		&d.Status,
		&d.Phase,
		&d.TriggerType,
		&d.TriggerData,
		&d.StartedAt,
		&d.CompletedAt,
		&d.DurationSeconds,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDeployments(rows pgx.Rows) ([]domain.Deployment, error) {
	var deployments []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}
