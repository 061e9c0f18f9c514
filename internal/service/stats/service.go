package stats

import (
	"context"
	"time"

	"log/slog"

	"github.com/splax/slipway/internal/domain"
	"github.com/splax/slipway/internal/repository"
)

const successRateWindow = 30 * 24 * time.Hour

// Service aggregates per-user deployment statistics. Pure read path.
type Service struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	metrics     repository.MetricRepository
	logger      *slog.Logger
	recentLimit int
	now         func() time.Time
}

// New returns a stats service.
func New(projects repository.ProjectRepository, deployments repository.DeploymentRepository, metrics repository.MetricRepository, logger *slog.Logger, recentLimit int) Service {
	if recentLimit <= 0 {
		recentLimit = 10
	}
	return Service{
		projects:    projects,
		deployments: deployments,
		metrics:     metrics,
		logger:      logger,
		recentLimit: recentLimit,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Summary is the aggregation served by the stats endpoint.
type Summary struct {
	TotalProjects      int                 `json:"totalProjects"`
	ActiveProjects     int                 `json:"activeProjects"`
	RecentDeployments  []domain.Deployment `json:"recentDeployments"`
	SuccessRate        float64             `json:"successRate"`
	AvgDurationSeconds float64             `json:"avgDurationSeconds"`
}

// ForOwner computes the owner's project counts, recent deployments, rolling
// 30-day success rate and mean deploy duration from the daily rollups.
func (s Service) ForOwner(ctx context.Context, ownerID string) (*Summary, error) {
	total, active, err := s.projects.CountProjectsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	recent, err := s.deployments.ListRecentByOwner(ctx, ownerID, s.recentLimit)
	if err != nil {
		return nil, err
	}
	since := s.now().Add(-successRateWindow).Truncate(24 * time.Hour)
	metrics, err := s.metrics.ListMetricsByOwnerSince(ctx, ownerID, since)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		TotalProjects:     total,
		ActiveProjects:    active,
		RecentDeployments: recent,
	}
	var succeeded, failed, finished int
	var durationSeconds float64
	for _, metric := range metrics {
		succeeded += metric.DeploysSucceeded
		failed += metric.DeploysFailed
		finished += metric.DeploysTotal
		durationSeconds += metric.DurationSeconds
	}
	// Zero deploys yields a rate of exactly 0, never a division error.
	if succeeded+failed > 0 {
		summary.SuccessRate = float64(succeeded) / float64(succeeded+failed)
	}
	if finished > 0 {
		summary.AvgDurationSeconds = durationSeconds / float64(finished)
	}
	return summary, nil
}
