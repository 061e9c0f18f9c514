package domain

import "time"

// DeploymentMetric is one daily rollup row keyed by (project, date).
// Written by the ledger on terminal transitions and read by stats.
type DeploymentMetric struct {
	ProjectID        string
	Date             time.Time
	DeploysTotal     int
	DeploysSucceeded int
	DeploysFailed    int
	DurationSeconds  float64
	UpdatedAt        time.Time
}
