package webhook

import (
	"context"
	"strings"

	"log/slog"

	"github.com/splax/slipway/internal/domain"
	"github.com/splax/slipway/internal/repository"
	"github.com/splax/slipway/internal/service/deployment"
)

// Service verifies, classifies and applies inbound webhook events against
// per-environment deployment policies.
type Service struct {
	projects     repository.ProjectRepository
	environments repository.EnvironmentRepository
	ledger       deployment.Service
	logger       *slog.Logger
	secret       []byte
}

// New constructs a webhook service.
func New(projects repository.ProjectRepository, environments repository.EnvironmentRepository, ledger deployment.Service, logger *slog.Logger, secret string) Service {
	return Service{
		projects:     projects,
		environments: environments,
		ledger:       ledger,
		logger:       logger,
		secret:       []byte(secret),
	}
}

// CheckSignature verifies the raw request body against the shared secret.
func (s Service) CheckSignature(body []byte, provided string) error {
	return VerifySignature(body, s.secret, provided)
}

// Outcome summarizes what an event did to the ledger.
type Outcome struct {
	Created   int
	Cancelled int
	Completed int
	Ignored   bool
}

// Process applies one classified event. Unhandled events are acknowledged
// without touching the ledger. Duplicate deliveries create duplicate
// deployments on purpose; deduplication belongs to callers holding an
// idempotency key.
func (s Service) Process(ctx context.Context, event domain.Event) (Outcome, error) {
	switch event.Kind {
	case domain.EventPush:
		if event.Push.HeadSHA == "" {
			s.logger.Info("push event without head commit ignored",
				"repo", event.Push.Repo, "branch", event.Push.Branch)
			return Outcome{Ignored: true}, nil
		}
		created, err := s.createForMatches(ctx, event.Push.Repo, matchInput{
			commitSHA:     event.Push.HeadSHA,
			commitMessage: event.Push.CommitMessage,
			branch:        event.Push.Branch,
			triggerData: map[string]any{
				"event":        "push",
				"sender":       event.Push.Sender,
				"commit_count": event.Push.CommitCount,
			},
			match: func(env domain.Environment) bool {
				return env.AllowsBranch(event.Push.Branch)
			},
		})
		return Outcome{Created: created}, err

	case domain.EventPullRequestOpened, domain.EventPullRequestUpdated:
		pr := event.PullRequest
		number := pr.Number
		created, err := s.createForMatches(ctx, pr.Repo, matchInput{
			commitSHA:     pr.HeadSHA,
			branch:        pr.HeadRef,
			pullRequestID: &number,
			triggerData: map[string]any{
				"event":     string(event.Kind),
				"sender":    pr.Sender,
				"pr_number": pr.Number,
				"pr_title":  pr.Title,
			},
			match: func(env domain.Environment) bool {
				return env.PreviewDeploys
			},
		})
		return Outcome{Created: created}, err

	case domain.EventTagCreated:
		created, err := s.createForMatches(ctx, event.TagCreated.Repo, matchInput{
			// Tag creation events carry no commit object; the tag ref is the
			// commit-ish the executor resolves at clone time.
			commitSHA: event.TagCreated.Tag,
			branch:    event.TagCreated.Tag,
			triggerData: map[string]any{
				"event":  "tag_created",
				"sender": event.TagCreated.Sender,
				"tag":    event.TagCreated.Tag,
			},
			match: func(env domain.Environment) bool {
				return env.DeployStrategy == domain.StrategyTag
			},
		})
		return Outcome{Created: created}, err

	case domain.EventReleasePublished:
		release := event.Release
		created, err := s.createForMatches(ctx, release.Repo, matchInput{
			commitSHA: release.TargetCommitish,
			branch:    release.TargetCommitish,
			triggerData: map[string]any{
				"event":        "release_published",
				"sender":       release.Sender,
				"tag":          release.TagName,
				"release_name": release.ReleaseName,
			},
			match: func(env domain.Environment) bool {
				return env.DeployStrategy == domain.StrategyRelease
			},
		})
		return Outcome{Created: created}, err

	case domain.EventBranchDeleted:
		cancelled, err := s.cancelForBranch(ctx, event.BranchDeleted.Repo, event.BranchDeleted.Branch)
		return Outcome{Cancelled: cancelled}, err

	case domain.EventBuildCompleted:
		build := event.Build
		completed, err := s.ledger.CompleteForCommit(ctx, build.HeadSHA, build.Conclusion == "success", build.RunID)
		return Outcome{Completed: completed}, err

	default:
		s.logger.Info("webhook event unhandled", "kind", event.Kind)
		return Outcome{Ignored: true}, nil
	}
}

// matchInput bundles the per-event deployment template with its environment
// policy predicate.
type matchInput struct {
	commitSHA     string
	commitMessage string
	branch        string
	pullRequestID *int
	triggerData   map[string]any
	match         func(domain.Environment) bool
}

func (s Service) createForMatches(ctx context.Context, repo string, input matchInput) (int, error) {
	repoOwner, repoName, ok := splitRepo(repo)
	if !ok {
		s.logger.Warn("webhook event missing repository reference", "repo", repo)
		return 0, nil
	}
	projects, err := s.projects.ListActiveProjectsByRepo(ctx, repoOwner, repoName)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, project := range projects {
		environments, err := s.environments.ListEnvironmentsByProject(ctx, project.ID)
		if err != nil {
			return created, err
		}
		for _, env := range environments {
			if !input.match(env) {
				continue
			}
			if _, err := s.ledger.Create(ctx, deployment.CreateInput{
				ProjectID:     project.ID,
				EnvironmentID: env.ID,
				CommitSHA:     input.commitSHA,
				CommitMessage: input.commitMessage,
				Branch:        input.branch,
				PullRequestID: input.pullRequestID,
				TriggerType:   domain.TriggerWebhook,
				TriggerData:   input.triggerData,
			}); err != nil {
				return created, err
			}
			created++
		}
	}
	return created, nil
}

func (s Service) cancelForBranch(ctx context.Context, repo, branch string) (int, error) {
	repoOwner, repoName, ok := splitRepo(repo)
	if !ok {
		return 0, nil
	}
	projects, err := s.projects.ListActiveProjectsByRepo(ctx, repoOwner, repoName)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, project := range projects {
		n, err := s.ledger.CancelPendingForBranch(ctx, project.ID, branch)
		cancelled += n
		if err != nil {
			return cancelled, err
		}
	}
	return cancelled, nil
}

func splitRepo(full string) (owner, name string, ok bool) {
	owner, name, found := strings.Cut(full, "/")
	if !found || owner == "" || name == "" {
		return "", "", false
	}
	return owner, name, true
}
