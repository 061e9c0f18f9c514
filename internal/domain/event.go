package domain

// EventKind enumerates the closed set of normalized webhook events.
type EventKind string

const (
	EventPush               EventKind = "push"
	EventPullRequestOpened  EventKind = "pull_request_opened"
	EventPullRequestUpdated EventKind = "pull_request_updated"
	EventTagCreated         EventKind = "tag_created"
	EventBranchDeleted      EventKind = "branch_deleted"
	EventReleasePublished   EventKind = "release_published"
	EventBuildCompleted     EventKind = "build_completed"
	EventUnhandled          EventKind = "unhandled"
)

// Event is the tagged union produced by the classifier. Exactly the variant
// matching Kind is non-nil; downstream code switches on Kind.
type Event struct {
	Kind          EventKind
	Push          *PushEvent
	PullRequest   *PullRequestEvent
	TagCreated    *TagCreatedEvent
	BranchDeleted *BranchDeletedEvent
	Release       *ReleaseEvent
	Build         *BuildCompletedEvent
}

// PushEvent describes a commit pushed to a branch.
type PushEvent struct {
	Repo          string
	Branch        string
	HeadSHA       string
	CommitMessage string
	Sender        string
	CommitCount   int
}

// PullRequestEvent describes an opened or synchronized pull request.
type PullRequestEvent struct {
	Repo    string
	HeadSHA string
	HeadRef string
	Number  int
	Title   string
	Sender  string
}

// TagCreatedEvent describes a new tag.
type TagCreatedEvent struct {
	Repo   string
	Tag    string
	Sender string
}

// BranchDeletedEvent describes a removed branch.
type BranchDeletedEvent struct {
	Repo   string
	Branch string
}

// ReleaseEvent describes a published release.
type ReleaseEvent struct {
	Repo            string
	TargetCommitish string
	TagName         string
	ReleaseName     string
	Sender          string
}

// BuildCompletedEvent describes a finished CI workflow run.
type BuildCompletedEvent struct {
	HeadSHA    string
	Conclusion string
	RunID      int64
}
