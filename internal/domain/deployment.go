package domain

import (
	"encoding/json"
	"time"
)

// Deployment status values. pending -> building -> success|failed is the
// normal path; cancelled is reachable only from pending.
const (
	DeploymentStatusPending   = "pending"
	DeploymentStatusBuilding  = "building"
	DeploymentStatusSuccess   = "success"
	DeploymentStatusFailed    = "failed"
	DeploymentStatusCancelled = "cancelled"
)

// Deployment phases advance monotonically alongside status.
const (
	PhaseInit     = "init"
	PhaseClone    = "clone"
	PhaseBuild    = "build"
	PhaseDeploy   = "deploy"
	PhaseComplete = "complete"
)

// Trigger types record how a deployment came to exist.
const (
	TriggerManual  = "manual"
	TriggerWebhook = "webhook"
)

// Deployment captures one attempt to deploy a commit to an environment.
type Deployment struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"projectId"`
	EnvironmentID string          `json:"environmentId"`
	CommitSHA     string          `json:"commitSha"`
	CommitMessage string          `json:"commitMessage"`
	Branch        string          `json:"branch"`
	PullRequestID *int            `json:"pullRequestId,omitempty"`
	Status        string          `json:"status"`
	Phase         string          `json:"phase"`
	TriggerType   string          `json:"triggerType"`
	TriggerData   json.RawMessage `json:"triggerData,omitempty"`
	StartedAt     time.Time       `json:"startedAt"`
	CompletedAt   *time.Time      `json:"completedAt"`
	// DurationSeconds keeps the wire format in seconds, matching the stats
	// aggregation.
	DurationSeconds *float64  `json:"durationSeconds,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Terminal reports whether the status admits no further transitions.
func (d Deployment) Terminal() bool {
	return TerminalStatus(d.Status)
}

// TerminalStatus reports whether a status value is terminal.
func TerminalStatus(status string) bool {
	switch status {
	case DeploymentStatusSuccess, DeploymentStatusFailed, DeploymentStatusCancelled:
		return true
	}
	return false
}

var statusRank = map[string]int{
	DeploymentStatusPending:   0,
	DeploymentStatusBuilding:  1,
	DeploymentStatusSuccess:   2,
	DeploymentStatusFailed:    2,
	DeploymentStatusCancelled: 2,
}

var phaseRank = map[string]int{
	PhaseInit:     0,
	PhaseClone:    1,
	PhaseBuild:    2,
	PhaseDeploy:   3,
	PhaseComplete: 4,
}

// ValidStatusTransition reports whether from -> to moves the status forward.
// Cancellation is permitted only out of pending.
func ValidStatusTransition(from, to string) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	if to == DeploymentStatusCancelled {
		return from == DeploymentStatusPending
	}
	return toRank > fromRank
}

// ValidPhaseTransition reports whether from -> to does not regress the phase.
func ValidPhaseTransition(from, to string) bool {
	fromRank, ok := phaseRank[from]
	if !ok {
		return false
	}
	toRank, ok := phaseRank[to]
	if !ok {
		return false
	}
	return toRank >= fromRank
}

// DeploymentFilter narrows deployment listings.
type DeploymentFilter struct {
	ProjectID     string
	EnvironmentID string
	Status        string
	Limit         int
	Offset        int
}

// DeploymentPage is one page of a filtered listing.
type DeploymentPage struct {
	Deployments []Deployment `json:"deployments"`
	Total       int          `json:"total"`
	Limit       int          `json:"limit"`
	Offset      int          `json:"offset"`
	HasMore     bool         `json:"hasMore"`
}
