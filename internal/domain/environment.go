package domain

import "time"

// Deploy strategies decide which source events produce deployments.
const (
	StrategyBranch  = "branch-based"
	StrategyTag     = "tag-based"
	StrategyRelease = "release-based"
)

// Environment represents a named deployment target within a project.
type Environment struct {
	ID                 string     `json:"id"`
	ProjectID          string     `json:"projectId"`
	Name               string     `json:"name"`
	Slug               string     `json:"slug"`
	Status             string     `json:"status"`
	AutoDeploy         bool       `json:"autoDeploy"`
	AutoDeployBranches []string   `json:"autoDeployBranches"`
	PreviewDeploys     bool       `json:"previewDeploys"`
	DeployStrategy     string     `json:"deployStrategy"`
	LastDeployAt       *time.Time `json:"lastDeployAt"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// AllowsBranch reports whether the environment auto-deploys the branch.
func (e Environment) AllowsBranch(branch string) bool {
	if !e.AutoDeploy {
		return false
	}
	for _, allowed := range e.AutoDeployBranches {
		if allowed == branch {
			return true
		}
	}
	return false
}
