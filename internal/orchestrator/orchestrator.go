// Package orchestrator runs the review state machine for one job:
// fetch the diff, categorize files, run static tools and the
// vulnerability scanner in parallel, analyze chunks with the LLM
// sequentially, aggregate, score, and post. Every evidence source is a
// best-effort input; only diff-fetch, diff-parse and post failures abort
// the job.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"pr-review-automation/internal/aggregator"
	"pr-review-automation/internal/chunker"
	"pr-review-automation/internal/config"
	"pr-review-automation/internal/diffparser"
	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/filter"
	"pr-review-automation/internal/forge"
	"pr-review-automation/internal/issue"
	"pr-review-automation/internal/llmreview"
	"pr-review-automation/internal/metrics"
	"pr-review-automation/internal/storage"
	"pr-review-automation/internal/tools"
	"pr-review-automation/internal/vuln"
)

// Orchestrator wires every evidence source and the forge client together
// to run one review job end to end.
type Orchestrator struct {
	Forge      forge.Client
	Analyzer   *llmreview.Analyzer
	VulnClient *vuln.Client
	Storage    storage.Repository
	Config     *config.Config
}

// Run executes the full state machine for job and returns its result.
// Diff-fetch, diff-parse and post failures are the only ones that surface
// as a failed ReviewResult; everything else degrades gracefully.
func (o *Orchestrator) Run(ctx context.Context, job domain.ReviewJob) domain.ReviewResult {
	start := time.Now()
	pr := job.PullRequest
	log := slog.With("job_id", job.ID, "owner", pr.Owner, "repo", pr.Repo, "number", pr.Number)

	var checkRunID int64
	if o.Forge != nil {
		if id, err := o.Forge.CreateCheckRun(ctx, pr); err != nil {
			log.Warn("create check run failed", "error", err)
		} else {
			checkRunID = id
		}
	}

	// DiffFetched
	rawDiff, err := o.Forge.FetchDiff(ctx, pr)
	if err != nil {
		metrics.PullRequestTotal.WithLabelValues("failed").Inc()
		return o.fail(ctx, job, start, fmt.Errorf("fetch diff: %w", err))
	}

	// Parsed
	parsed, err := diffparser.Parse(rawDiff)
	if err != nil {
		metrics.PullRequestTotal.WithLabelValues("failed").Inc()
		return o.fail(ctx, job, start, fmt.Errorf("parse diff: %w", err))
	}

	// Categorized
	filterResult := filter.Categorize(parsed.Files, filter.DefaultConfig())
	if len(filterResult.Reviewable) == 0 && len(filterResult.Lockfiles) == 0 {
		log.Info("no reviewable files after categorization, posting zero-issue review")
		return o.postZeroIssue(ctx, job, start, checkRunID)
	}

	var toolIssues, vulnIssues []issue.Issue
	var toolsRun []string

	workdir, cleanup := o.materializeWorkdir(ctx, pr, filterResult.Reviewable)
	defer cleanup()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		toolIssues, toolsRun = o.runTools(gCtx, workdir, filterResult.Reviewable)
		return nil
	})

	// The manifests the scanner parses (package.json, go.mod, ...) are
	// categorized as reviewable, so both partitions are offered to it.
	manifests := append(append([]diffparser.DiffFile{}, filterResult.Lockfiles...), filterResult.Reviewable...)
	g.Go(func() error {
		vulnIssues = o.scanVulnerabilities(gCtx, manifests)
		return nil
	})

	_ = g.Wait()

	// ContextRetrieved
	rag := o.retrieveContext(ctx, pr)

	// LLMRun (sequential per chunk)
	chunks := chunker.Split(parsed, chunkerConfig(o.Config))
	llmIssues, modelUsed := o.runLLM(ctx, pr, rag, chunks)

	allIssues := append(append(toolIssues, vulnIssues...), llmIssues...)

	// Aggregated
	aggCfg := aggregator.DefaultConfig()
	if o.Config != nil {
		aggCfg.ConfidenceThreshold = o.Config.Review.ConfidenceThreshold
		aggCfg.MaxInlineComments = o.Config.Review.MaxInlineComments
		aggCfg.RiskScore.RiskThreshold = o.Config.Review.RiskThreshold
		aggCfg.RiskScore.MaxExpectedIssues = o.Config.Review.MaxExpectedIssues
	}
	result := aggregator.Aggregate(allIssues, aggCfg)

	output := issue.ReviewOutput{
		RiskScore:      result.RiskScore.Score,
		RiskLevel:      result.RiskScore.Level,
		InlineComments: result.InlineComments,
		SummaryMarkdown: summaryMarkdown(result),
		ExecSummary:     execSummary(result),
		Stats: issue.Stats{
			FilesChanged: len(filterResult.Reviewable) + len(filterResult.Lockfiles),
			IssuesFound:  result.FilteredCount,
			ToolsRun:     toolsRun,
			ModelUsed:    modelUsed,
			LatencyMs:    time.Since(start).Milliseconds(),
		},
		CategoryBreakdown: result.RiskScore.Breakdown,
		RequestID:         job.RequestID,
	}

	event := reviewEvent(result.RiskScore.Level, result.RiskScore.Score, len(result.InlineComments))

	// Posted
	if o.Forge != nil {
		if err := o.Forge.PostReview(ctx, pr, output, event); err != nil {
			metrics.PullRequestTotal.WithLabelValues("failed").Inc()
			return o.fail(ctx, job, start, fmt.Errorf("post review: %w", err))
		}
		if checkRunID != 0 {
			if err := o.Forge.UpdateCheckRun(ctx, pr, checkRunID, output, event); err != nil {
				log.Warn("update check run failed", "error", err)
			}
		}
	}

	o.audit(ctx, job, start, &output, event, "success")
	metrics.PullRequestTotal.WithLabelValues("success").Inc()
	metrics.ProcessingDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())

	return domain.ReviewResult{Success: true, Output: &output, Event: event}
}

// materializeWorkdir fetches the full post-change content of every
// reviewable file into a temp directory so the static-tool binaries have
// real files to operate on (they need full-file context, not just the
// diff hunks). Fetch failures are skipped; that file is simply absent
// from the tool run rather than aborting it.
func (o *Orchestrator) materializeWorkdir(ctx context.Context, pr domain.PullRequest, files []diffparser.DiffFile) (string, func()) {
	dir, err := os.MkdirTemp("", "pr-review-*")
	if err != nil {
		slog.Warn("create tool workdir failed", "error", err)
		return "", func() {}
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	if o.Forge == nil {
		return dir, cleanup
	}

	for _, f := range files {
		path := f.EffectivePath()
		if path == "" || f.Kind == diffparser.KindDelete {
			continue
		}
		content, ok, err := o.Forge.FetchFile(ctx, pr, path)
		if err != nil || !ok {
			continue
		}
		dest := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			continue
		}
		_ = os.WriteFile(dest, []byte(content), 0o644)
	}

	return dir, cleanup
}

func (o *Orchestrator) runTools(ctx context.Context, workdir string, files []diffparser.DiffFile) ([]issue.Issue, []string) {
	enabled := map[string]bool{}
	if o.Config != nil {
		enabled = o.Config.Tools.Enabled
	}
	runners := tools.All(enabled)
	if len(runners) == 0 || len(files) == 0 || workdir == "" {
		return nil, nil
	}

	toolCfg := tools.Config{}
	if o.Config != nil {
		toolCfg.SemgrepRules = o.Config.Tools.SemgrepRules
		toolCfg.SemgrepTimeout = o.Config.Tools.SemgrepTimeout
		toolCfg.Timeout = o.Config.Tools.DefaultTimeout
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		if p := f.EffectivePath(); p != "" {
			paths = append(paths, p)
		}
	}

	var issues []issue.Issue
	var ran []string
	for _, r := range runners {
		if !r.IsAvailable() {
			slog.Warn("tool unavailable, skipping", "tool", r.Name())
			metrics.ToolRunsTotal.WithLabelValues(r.Name(), "unavailable").Inc()
			continue
		}
		result := r.Run(ctx, workdir, paths, toolCfg)
		if !result.Success {
			slog.Warn("tool run failed", "tool", r.Name(), "error", result.Error)
			metrics.ToolRunsTotal.WithLabelValues(r.Name(), "error").Inc()
			continue
		}
		metrics.ToolRunsTotal.WithLabelValues(r.Name(), "success").Inc()
		issues = append(issues, result.Issues...)
		ran = append(ran, r.Name())
	}
	return issues, ran
}

func (o *Orchestrator) scanVulnerabilities(ctx context.Context, lockfiles []diffparser.DiffFile) []issue.Issue {
	if o.VulnClient == nil || len(lockfiles) == 0 {
		return nil
	}
	if o.Config != nil && !o.Config.Vuln.Enabled {
		return nil
	}

	var issues []issue.Issue
	for _, f := range lockfiles {
		packages := vuln.ParseManifest(f.EffectivePath(), manifestContent(f))
		if len(packages) == 0 {
			continue
		}
		found := o.VulnClient.Scan(ctx, f.EffectivePath(), packages)
		ecosystem := "unknown"
		if len(packages) > 0 {
			ecosystem = packages[0].Ecosystem
		}
		metrics.VulnScansTotal.WithLabelValues(ecosystem, "success").Inc()
		issues = append(issues, found...)
	}
	return issues
}

// manifestContent reconstructs a lockfile's added content from its diff
// hunks; for a wholly-added file this is its full content.
func manifestContent(f diffparser.DiffFile) []byte {
	var out []byte
	for _, h := range f.Hunks {
		for _, l := range h.AddedLines {
			out = append(out, []byte(l.Content+"\n")...)
		}
	}
	return out
}

func (o *Orchestrator) retrieveContext(ctx context.Context, pr domain.PullRequest) llmreview.Context {
	if o.Forge == nil {
		return llmreview.Context{}
	}
	var rag llmreview.Context
	if text, ok, _ := o.Forge.FetchFile(ctx, pr, "README.md"); ok {
		rag.Readme = text
	}
	if text, ok, _ := o.Forge.FetchFile(ctx, pr, "CONTRIBUTING.md"); ok {
		rag.Contributing = text
	}
	for _, name := range []string{".eslintrc.json", "pyproject.toml", ".golangci.yml"} {
		if text, ok, _ := o.Forge.FetchFile(ctx, pr, name); ok {
			rag.LintConfig = text
			break
		}
	}
	return rag
}

func (o *Orchestrator) runLLM(ctx context.Context, pr domain.PullRequest, rag llmreview.Context, chunks []chunker.Chunk) ([]issue.Issue, string) {
	if o.Analyzer == nil {
		return nil, ""
	}

	var issues []issue.Issue
	var model string
	prMeta := llmreview.PRMetadata{Title: pr.Title, Body: pr.Body}

	providerName := "unknown"
	if o.Analyzer.Provider != nil {
		providerName = o.Analyzer.Provider.Name()
	}

	for _, c := range chunks {
		result := o.Analyzer.Analyze(ctx, prMeta, rag, c)
		status := "success"
		if result.Model == "" {
			status = "error"
		}
		metrics.LLMCallsTotal.WithLabelValues(providerName, status).Inc()
		metrics.LLMTokensUsed.WithLabelValues(providerName).Add(float64(result.TokensUsed))
		issues = append(issues, result.Issues...)
		if result.Model != "" {
			model = result.Model
		}
	}
	return issues, model
}

func (o *Orchestrator) postZeroIssue(ctx context.Context, job domain.ReviewJob, start time.Time, checkRunID int64) domain.ReviewResult {
	output := issue.ReviewOutput{
		RiskScore:       0,
		RiskLevel:       "low",
		SummaryMarkdown: "No reviewable source files or dependency manifests changed in this PR.",
		ExecSummary:     "Nothing to review.",
		Stats:           issue.Stats{LatencyMs: time.Since(start).Milliseconds()},
		RequestID:       job.RequestID,
	}
	event := "APPROVE"

	if o.Forge != nil {
		if err := o.Forge.PostReview(ctx, job.PullRequest, output, event); err != nil {
			return o.fail(ctx, job, start, fmt.Errorf("post zero-issue review: %w", err))
		}
		if checkRunID != 0 {
			_ = o.Forge.UpdateCheckRun(ctx, job.PullRequest, checkRunID, output, event)
		}
	}

	o.audit(ctx, job, start, &output, event, "success")
	metrics.PullRequestTotal.WithLabelValues("success").Inc()
	return domain.ReviewResult{Success: true, Output: &output, Event: event}
}

func (o *Orchestrator) fail(ctx context.Context, job domain.ReviewJob, start time.Time, err error) domain.ReviewResult {
	slog.Error("review job failed", "job_id", job.ID, "error", err)
	o.audit(ctx, job, start, nil, "", "error")
	return domain.ReviewResult{Success: false, Error: err.Error()}
}

func (o *Orchestrator) audit(ctx context.Context, job domain.ReviewJob, start time.Time, output *issue.ReviewOutput, event, status string) {
	if o.Storage == nil {
		return
	}
	go func() {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		pr := job.PullRequest
		record := &storage.ReviewRecord{
			ID:          job.ID,
			PullRequest: &pr,
			Result:      &domain.ReviewResult{Success: status == "success", Output: output, Event: event},
			CreatedAt:   time.Now().UTC(),
			DurationMs:  time.Since(start).Milliseconds(),
			Status:      status,
		}
		if err := o.Storage.SaveReview(saveCtx, record); err != nil {
			slog.Warn("audit save failed", "error", err, "job_id", job.ID)
		}
	}()
}

func chunkerConfig(cfg *config.Config) chunker.Config {
	if cfg == nil {
		return chunker.DefaultConfig()
	}
	return chunker.Config{
		MaxTokens:         cfg.Chunker.MaxTokens,
		OverlapTokens:     cfg.Chunker.OverlapTokens,
		MaxFilesPerChunk:  cfg.Chunker.MaxFilesPerChunk,
		KeepFilesTogether: cfg.Chunker.KeepFilesTogether,
	}
}

func reviewEvent(level string, score int, inlineCount int) string {
	switch {
	case level == "critical":
		return "REQUEST_CHANGES"
	case score < 10 && inlineCount == 0:
		return "APPROVE"
	default:
		return "COMMENT"
	}
}

func summaryMarkdown(result aggregator.Result) string {
	return fmt.Sprintf("## Automated review\n\nRisk score: **%d/100** (%s)\n\n%d issue(s) found across %d category/categories.",
		result.RiskScore.Score, result.RiskScore.Level, result.FilteredCount, len(result.RiskScore.Breakdown))
}

func execSummary(result aggregator.Result) string {
	return fmt.Sprintf("%d issue(s), risk level %s.", result.FilteredCount, result.RiskScore.Level)
}
