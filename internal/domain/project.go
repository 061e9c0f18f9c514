package domain

import "time"

// Project status values.
const (
	ProjectStatusActive    = "active"
	ProjectStatusArchived  = "archived"
	ProjectStatusSuspended = "suspended"
)

// Project describes a deployable unit owned by one user.
type Project struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	RepoOwner   string    `json:"repoOwner"`
	RepoName    string    `json:"repoName"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RepoFullName returns the owner/name repository reference.
func (p Project) RepoFullName() string {
	return p.RepoOwner + "/" + p.RepoName
}
