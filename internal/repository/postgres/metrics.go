package postgres

import (
	"context"
	"time"

	"github.com/splax/slipway/internal/domain"
)

// UpsertDeploymentMetric folds one finished deployment into the daily rollup
// row for its project.
func (r *Repository) UpsertDeploymentMetric(ctx context.Context, metric domain.DeploymentMetric) error {
	const query = `INSERT INTO deployment_metrics (project_id, metric_date, deploys_total, deploys_succeeded, deploys_failed, duration_seconds, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (project_id, metric_date) DO UPDATE SET
			deploys_total = deployment_metrics.deploys_total + EXCLUDED.deploys_total,
			deploys_succeeded = deployment_metrics.deploys_succeeded + EXCLUDED.deploys_succeeded,
			deploys_failed = deployment_metrics.deploys_failed + EXCLUDED.deploys_failed,
			duration_seconds = deployment_metrics.duration_seconds + EXCLUDED.duration_seconds,
			updated_at = NOW()`
	_, err := r.pool.Exec(ctx, query,
		metric.ProjectID,
		metric.Date,
		metric.DeploysTotal,
		metric.DeploysSucceeded,
		metric.DeploysFailed,
		metric.DurationSeconds,
	)
	return err
}

// ListMetricsByOwnerSince returns rollup rows for all of an owner's projects
// on or after the given date.
func (r *Repository) ListMetricsByOwnerSince(ctx context.Context, ownerID string, since time.Time) ([]domain.DeploymentMetric, error) {
	const query = `SELECT m.project_id, m.metric_date, m.deploys_total, m.deploys_succeeded, m.deploys_failed, m.duration_seconds, m.updated_at
		FROM deployment_metrics m
		JOIN projects p ON p.id = m.project_id
		WHERE p.owner_id = $1 AND m.metric_date >= $2
		ORDER BY m.metric_date`
	rows, err := r.pool.Query(ctx, query, ownerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var metrics []domain.DeploymentMetric
	for rows.Next() {
		var m domain.DeploymentMetric
		if err := rows.Scan(&m.ProjectID, &m.Date, &m.DeploysTotal, &m.DeploysSucceeded, &m.DeploysFailed, &m.DurationSeconds, &m.UpdatedAt); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}
