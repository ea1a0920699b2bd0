// Package forge implements the ForgeClient capability: a GitHub App
// client that mints installation tokens, fetches PR diffs and repository
// context files, and posts check runs and reviews.
package forge

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v60/github"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/issue"
	"pr-review-automation/internal/metrics"
	gosync "pr-review-automation/internal/sync"
)

// tokenExpiryMargin is the minimum remaining lifetime an installation
// token must have to be reused rather than refreshed.
const tokenExpiryMargin = 60 * time.Second

// Client is the capability the orchestrator uses to talk to the
// source-control forge.
type Client interface {
	FetchDiff(ctx context.Context, pr domain.PullRequest) (string, error)
	FetchFile(ctx context.Context, pr domain.PullRequest, path string) (string, bool, error)
	CreateCheckRun(ctx context.Context, pr domain.PullRequest) (int64, error)
	UpdateCheckRun(ctx context.Context, pr domain.PullRequest, checkRunID int64, output issue.ReviewOutput, event string) error
	PostReview(ctx context.Context, pr domain.PullRequest, output issue.ReviewOutput, event string) error
}

// GitHubAppClient is the production Client backed by a GitHub App
// identity, one REST client per installation, cached and refreshed as
// installation tokens approach expiry.
type GitHubAppClient struct {
	appID      int64
	privateKey []byte
	baseURL    string

	transport *ghinstallation.AppsTransport
	locks     *gosync.KeyLock

	mu         sync.Mutex
	clients    map[int64]*cachedClient
	httpClient *http.Client
}

type cachedClient struct {
	client    *github.Client
	expiresAt time.Time
}

// NewGitHubAppClient builds a Client for the GitHub App identified by
// appID, authenticating with privateKey (PEM-encoded).
func NewGitHubAppClient(appID int64, privateKey []byte, baseURL string) (*GitHubAppClient, error) {
	transport, err := ghinstallation.NewAppsTransport(http.DefaultTransport, appID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("build app transport: %w", err)
	}
	if baseURL != "" {
		transport.BaseURL = baseURL
	}

	return &GitHubAppClient{
		appID:      appID,
		privateKey: privateKey,
		baseURL:    baseURL,
		transport:  transport,
		locks:      gosync.NewKeyLock(),
		clients:    make(map[int64]*cachedClient),
		httpClient: http.DefaultClient,
	}, nil
}

func (c *GitHubAppClient) installationKey(installationID int64) string {
	return fmt.Sprintf("installation:%d", installationID)
}

// clientFor returns a *github.Client authenticated as the given
// installation, minting or reusing a cached installation token.
func (c *GitHubAppClient) clientFor(installationID int64) (*github.Client, error) {
	key := c.installationKey(installationID)
	c.locks.Lock(key)
	defer c.locks.Unlock(key)

	c.mu.Lock()
	cached, ok := c.clients[installationID]
	c.mu.Unlock()
	if ok && time.Until(cached.expiresAt) > tokenExpiryMargin {
		return cached.client, nil
	}

	itr := ghinstallation.NewFromAppsTransport(c.transport, installationID)
	if c.baseURL != "" {
		itr.BaseURL = c.baseURL
	}

	httpClient := &http.Client{Transport: itr}
	var client *github.Client
	var err error
	if c.baseURL != "" {
		client, err = github.NewClient(httpClient).WithEnterpriseURLs(c.baseURL, c.baseURL)
		if err != nil {
			return nil, fmt.Errorf("build enterprise client: %w", err)
		}
	} else {
		client = github.NewClient(httpClient)
	}

	c.mu.Lock()
	c.clients[installationID] = &cachedClient{client: client, expiresAt: time.Now().Add(55 * time.Minute)}
	c.mu.Unlock()

	return client, nil
}

// FetchDiff retrieves the unified diff for pr.
func (c *GitHubAppClient) FetchDiff(ctx context.Context, pr domain.PullRequest) (string, error) {
	client, err := c.clientFor(pr.InstallationID)
	if err != nil {
		return "", err
	}

	raw, _, err := client.PullRequests.GetRaw(ctx, pr.Owner, pr.Repo, pr.Number, github.RawOptions{Type: github.Diff})
	if err != nil {
		return "", fmt.Errorf("fetch diff: %w", err)
	}
	return raw, nil
}

// FetchFile retrieves path at the PR head SHA for RAG context
// (README, CONTRIBUTING, lint config). The bool return reports whether
// the file exists.
func (c *GitHubAppClient) FetchFile(ctx context.Context, pr domain.PullRequest, path string) (string, bool, error) {
	client, err := c.clientFor(pr.InstallationID)
	if err != nil {
		return "", false, err
	}

	content, _, resp, err := client.Repositories.GetContents(ctx, pr.Owner, pr.Repo, path, &github.RepositoryContentGetOptions{Ref: pr.SHA})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("fetch file %s: %w", path, err)
	}
	if content == nil {
		return "", false, nil
	}

	// GetContent decodes base64-encoded content itself.
	text, err := content.GetContent()
	if err != nil {
		return "", false, fmt.Errorf("read file %s: %w", path, err)
	}
	return text, true, nil
}

// CreateCheckRun creates an in-progress check run for the PR head commit.
func (c *GitHubAppClient) CreateCheckRun(ctx context.Context, pr domain.PullRequest) (int64, error) {
	client, err := c.clientFor(pr.InstallationID)
	if err != nil {
		return 0, err
	}

	status := "in_progress"
	run, _, err := client.Checks.CreateCheckRun(ctx, pr.Owner, pr.Repo, github.CreateCheckRunOptions{
		Name:    "automated-pr-review",
		HeadSHA: pr.SHA,
		Status:  &status,
	})
	if err != nil {
		return 0, fmt.Errorf("create check run: %w", err)
	}
	return run.GetID(), nil
}

// UpdateCheckRun completes the check run with the review's outcome.
func (c *GitHubAppClient) UpdateCheckRun(ctx context.Context, pr domain.PullRequest, checkRunID int64, output issue.ReviewOutput, event string) error {
	client, err := c.clientFor(pr.InstallationID)
	if err != nil {
		return err
	}

	status := "completed"
	conclusion := checkConclusion(event)
	title := fmt.Sprintf("Risk: %s (%d/100)", output.RiskLevel, output.RiskScore)

	_, _, err = client.Checks.UpdateCheckRun(ctx, pr.Owner, pr.Repo, checkRunID, github.UpdateCheckRunOptions{
		Status:     &status,
		Conclusion: &conclusion,
		Output: &github.CheckRunOutput{
			Title:   &title,
			Summary: &output.ExecSummary,
			Text:    &output.SummaryMarkdown,
		},
	})
	if err != nil {
		return fmt.Errorf("update check run: %w", err)
	}
	return nil
}

func checkConclusion(event string) string {
	switch event {
	case "REQUEST_CHANGES":
		return "failure"
	case "APPROVE":
		return "success"
	default:
		return "neutral"
	}
}

// PostReview posts a pull request review with inline comments and the
// chosen event.
func (c *GitHubAppClient) PostReview(ctx context.Context, pr domain.PullRequest, output issue.ReviewOutput, event string) error {
	client, err := c.clientFor(pr.InstallationID)
	if err != nil {
		return err
	}

	comments := make([]*github.DraftReviewComment, 0, len(output.InlineComments))
	for _, i := range output.InlineComments {
		line := i.LineEnd
		body := fmt.Sprintf("**[%s/%s]** %s", i.Category, i.Severity, i.Message)
		if i.SuggestedFix != "" {
			body += fmt.Sprintf("\n\nSuggested fix: %s", i.SuggestedFix)
		}
		comments = append(comments, &github.DraftReviewComment{
			Path: &i.FilePath,
			Line: &line,
			Body: &body,
		})
	}

	_, _, err = client.PullRequests.CreateReview(ctx, pr.Owner, pr.Repo, pr.Number, &github.PullRequestReviewRequest{
		CommitID: &pr.SHA,
		Body:     &output.SummaryMarkdown,
		Event:    github.String(event),
		Comments: comments,
	})
	if err != nil {
		metrics.ReviewPostFailures.WithLabelValues("create_review").Inc()
		return fmt.Errorf("post review: %w", err)
	}
	return nil
}
