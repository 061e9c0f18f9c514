package webhook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v66/github"

	"github.com/splax/slipway/internal/domain"
)

// ErrMalformedPayload indicates a recognized event type whose body could not
// be decoded.
var ErrMalformedPayload = errors.New("webhook: malformed payload")

const branchRefPrefix = "refs/heads/"

// handledEventTypes is the closed set of provider event tokens the
// classifier inspects. Everything else is Unhandled without being parsed.
var handledEventTypes = map[string]struct{}{
	"push":         {},
	"pull_request": {},
	"create":       {},
	"delete":       {},
	"release":      {},
	"workflow_run": {},
}

// Classify normalizes a provider event into one Event variant. The result
// is Unhandled for event types or actions outside the policy surface; those
// are acknowledged, never errors.
func Classify(eventType string, payload []byte) (domain.Event, error) {
	if _, ok := handledEventTypes[eventType]; !ok {
		return domain.Event{Kind: domain.EventUnhandled}, nil
	}
	parsed, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, eventType, err)
	}

	switch event := parsed.(type) {
	case *github.PushEvent:
		// Branch deletions also arrive as push deliveries with deleted=true
		// and no head commit. Nothing to deploy there; the delete event
		// handles the cancellation side.
		if event.GetDeleted() || event.GetHeadCommit().GetID() == "" {
			return domain.Event{Kind: domain.EventUnhandled}, nil
		}
		return domain.Event{
			Kind: domain.EventPush,
			Push: &domain.PushEvent{
				Repo:          event.GetRepo().GetFullName(),
				Branch:        strings.TrimPrefix(event.GetRef(), branchRefPrefix),
				HeadSHA:       event.GetHeadCommit().GetID(),
				CommitMessage: event.GetHeadCommit().GetMessage(),
				Sender:        event.GetSender().GetLogin(),
				CommitCount:   len(event.Commits),
			},
		}, nil

	case *github.PullRequestEvent:
		kind := domain.EventUnhandled
		switch event.GetAction() {
		case "opened":
			kind = domain.EventPullRequestOpened
		case "synchronize":
			kind = domain.EventPullRequestUpdated
		default:
			return domain.Event{Kind: domain.EventUnhandled}, nil
		}
		return domain.Event{
			Kind: kind,
			PullRequest: &domain.PullRequestEvent{
				Repo:    event.GetRepo().GetFullName(),
				HeadSHA: event.GetPullRequest().GetHead().GetSHA(),
				HeadRef: event.GetPullRequest().GetHead().GetRef(),
				Number:  event.GetNumber(),
				Title:   event.GetPullRequest().GetTitle(),
				Sender:  event.GetSender().GetLogin(),
			},
		}, nil

	case *github.CreateEvent:
		// Branch creation carries no deployable commit; only tags matter.
		if event.GetRefType() != "tag" {
			return domain.Event{Kind: domain.EventUnhandled}, nil
		}
		return domain.Event{
			Kind: domain.EventTagCreated,
			TagCreated: &domain.TagCreatedEvent{
				Repo:   event.GetRepo().GetFullName(),
				Tag:    event.GetRef(),
				Sender: event.GetSender().GetLogin(),
			},
		}, nil

	case *github.DeleteEvent:
		if event.GetRefType() != "branch" {
			return domain.Event{Kind: domain.EventUnhandled}, nil
		}
		return domain.Event{
			Kind: domain.EventBranchDeleted,
			BranchDeleted: &domain.BranchDeletedEvent{
				Repo:   event.GetRepo().GetFullName(),
				Branch: event.GetRef(),
			},
		}, nil

	case *github.ReleaseEvent:
		if event.GetAction() != "published" {
			return domain.Event{Kind: domain.EventUnhandled}, nil
		}
		return domain.Event{
			Kind: domain.EventReleasePublished,
			Release: &domain.ReleaseEvent{
				Repo:            event.GetRepo().GetFullName(),
				TargetCommitish: event.GetRelease().GetTargetCommitish(),
				TagName:         event.GetRelease().GetTagName(),
				ReleaseName:     event.GetRelease().GetName(),
				Sender:          event.GetSender().GetLogin(),
			},
		}, nil

	case *github.WorkflowRunEvent:
		if event.GetAction() != "completed" {
			return domain.Event{Kind: domain.EventUnhandled}, nil
		}
		return domain.Event{
			Kind: domain.EventBuildCompleted,
			Build: &domain.BuildCompletedEvent{
				HeadSHA:    event.GetWorkflowRun().GetHeadSHA(),
				Conclusion: event.GetWorkflowRun().GetConclusion(),
				RunID:      event.GetWorkflowRun().GetID(),
			},
		}, nil
	}
	return domain.Event{Kind: domain.EventUnhandled}, nil
}
