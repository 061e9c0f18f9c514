package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/splax/slipway/internal/domain"
	"github.com/splax/slipway/internal/repository"
)

const environmentColumns = `id, project_id, name, slug, status, auto_deploy, auto_deploy_branches, preview_deploys, deploy_strategy, last_deploy_at, created_at, updated_at`

// CreateEnvironment inserts an environment row.
func (r *Repository) CreateEnvironment(ctx context.Context, environment *domain.Environment) error {
	const query = `INSERT INTO environments (id, project_id, name, slug, status, auto_deploy, auto_deploy_branches, preview_deploys, deploy_strategy, last_deploy_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, query,
		environment.ID,
		environment.ProjectID,
		environment.Name,
		environment.Slug,
		environment.Status,
		environment.AutoDeploy,
		environment.AutoDeployBranches,
		environment.PreviewDeploys,
		environment.DeployStrategy,
		environment.LastDeployAt,
		environment.CreatedAt,
		environment.UpdatedAt,
	)
	if err != nil {
		if uniqueViolation(err) {
			return fmt.Errorf("%w: environment slug %q already exists in project", ErrDuplicate, environment.Slug)
		}
		return err
	}
	return nil
}

// GetEnvironmentByID retrieves an environment by identifier.
func (r *Repository) GetEnvironmentByID(ctx context.Context, environmentID string) (*domain.Environment, error) {
	const query = `SELECT ` + environmentColumns + ` FROM environments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, environmentID)
	return scanEnvironment(row)
}

// ListEnvironmentsByProject returns a project's environments.
func (r *Repository) ListEnvironmentsByProject(ctx context.Context, projectID string) ([]domain.Environment, error) {
	const query = `SELECT ` + environmentColumns + ` FROM environments WHERE project_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var environments []domain.Environment
	for rows.Next() {
		env, err := scanEnvironmentValues(rows)
		if err != nil {
			return nil, err
		}
		environments = append(environments, *env)
	}
	return environments, rows.Err()
}

// UpdateEnvironment persists mutable environment fields.
func (r *Repository) UpdateEnvironment(ctx context.Context, environment *domain.Environment) error {
	const query = `UPDATE environments
		SET name = $2, status = $3, auto_deploy = $4, auto_deploy_branches = $5, preview_deploys = $6, deploy_strategy = $7, updated_at = $8
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		environment.ID,
		environment.Name,
		environment.Status,
		environment.AutoDeploy,
		environment.AutoDeployBranches,
		environment.PreviewDeploys,
		environment.DeployStrategy,
		environment.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// TouchLastDeploy stamps the environment's last successful deploy time.
func (r *Repository) TouchLastDeploy(ctx context.Context, environmentID string, at time.Time) error {
	const query = `UPDATE environments SET last_deploy_at = $2, updated_at = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, environmentID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanEnvironment(row pgx.Row) (*domain.Environment, error) {
	env, err := scanEnvironmentValues(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return env, nil
}

func scanEnvironmentValues(row pgx.Row) (*domain.Environment, error) {
	var e domain.Environment
	err := row.Scan(
		&e.ID,
		&e.ProjectID,
		&e.Name,
		&e.Slug,
		&e.Status,
		&e.AutoDeploy,
		&e.AutoDeployBranches,
		&e.PreviewDeploys,
		&e.DeployStrategy,
		&e.LastDeployAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
