package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/splax/slipway/internal/domain"
	"github.com/splax/slipway/internal/repository"
)

const projectColumns = `id, owner_id, name, slug, repo_owner, repo_name, description, status, created_at, updated_at`

// CreateProject inserts a project row.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, owner_id, name, slug, repo_owner, repo_name, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query,
		project.ID,
		project.OwnerID,
		project.Name,
		project.Slug,
		project.RepoOwner,
		project.RepoName,
		project.Description,
		project.Status,
		project.CreatedAt,
		project.UpdatedAt,
	)
	if err != nil {
		if uniqueViolation(err) {
			return fmt.Errorf("%w: repository %s/%s already registered for owner", ErrDuplicate, project.RepoOwner, project.RepoName)
		}
		return err
	}
	return nil
}

// GetProjectByID retrieves a project by identifier.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, projectID)
	return scanProject(row)
}

// ListProjectsByOwner returns all projects belonging to an owner.
func (r *Repository) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProjects(rows)
}

// ListActiveProjectsByRepo returns active projects tracking a repository.
func (r *Repository) ListActiveProjectsByRepo(ctx context.Context, repoOwner, repoName string) ([]domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects
		WHERE repo_owner = $1 AND repo_name = $2 AND status = $3`
	rows, err := r.pool.Query(ctx, query, repoOwner, repoName, domain.ProjectStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProjects(rows)
}

// UpdateProject persists mutable project fields.
func (r *Repository) UpdateProject(ctx context.Context, project *domain.Project) error {
	const query = `UPDATE projects
		SET name = $2, description = $3, status = $4, updated_at = $5
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, project.ID, project.Name, project.Description, project.Status, project.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteProject removes a project. Environments and deployments cascade via
// foreign keys declared in the schema.
func (r *Repository) DeleteProject(ctx context.Context, projectID string) error {
	const query = `DELETE FROM projects WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CountProjectsByOwner returns total and active project counts for an owner.
func (r *Repository) CountProjectsByOwner(ctx context.Context, ownerID string) (int, int, error) {
	const query = `SELECT COUNT(1), COUNT(1) FILTER (WHERE status = $2) FROM projects WHERE owner_id = $1`
	row := r.pool.QueryRow(ctx, query, ownerID, domain.ProjectStatusActive)
	var total, active int
	if err := row.Scan(&total, &active); err != nil {
		return 0, 0, err
	}
	return total, active, nil
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Slug, &p.RepoOwner, &p.RepoName, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func collectProjects(rows pgx.Rows) ([]domain.Project, error) {
	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Slug, &p.RepoOwner, &p.RepoName, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
