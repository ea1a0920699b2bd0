// Package domain holds the canonical data structures shared across the
// webhook, queue, orchestrator, and storage layers.
package domain

import (
	"time"

	"pr-review-automation/internal/issue"
)

// PullRequest is the canonical identification of a pull request across
// the application (Webhook -> Queue -> Orchestrator).
type PullRequest struct {
	Owner          string
	Repo           string
	Number         int
	SHA            string
	Title          string
	Body           string
	Draft          bool
	InstallationID int64
}

// ReviewJob is one unit of work enqueued by the webhook and consumed by
// the orchestrator.
type ReviewJob struct {
	ID          string
	RequestID   string
	PullRequest PullRequest
	CreatedAt   time.Time
}

// ReviewResult is the orchestrator's outcome for one job: either a
// successfully posted ReviewOutput, or a total failure.
type ReviewResult struct {
	Success bool
	Output  *issue.ReviewOutput
	Event   string // APPROVE, COMMENT, REQUEST_CHANGES
	Error   string
}
