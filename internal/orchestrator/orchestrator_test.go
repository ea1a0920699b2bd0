package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/issue"
	"pr-review-automation/internal/llmprovider"
	"pr-review-automation/internal/llmreview"
	"pr-review-automation/internal/storage"
)

type fakeForge struct {
	diff         string
	diffErr      error
	files        map[string]string
	postErr      error
	postedOutput *issue.ReviewOutput
	postedEvent  string
	checkRunID   int64
	createErr    error
}

func (f *fakeForge) FetchDiff(ctx context.Context, pr domain.PullRequest) (string, error) {
	return f.diff, f.diffErr
}

func (f *fakeForge) FetchFile(ctx context.Context, pr domain.PullRequest, path string) (string, bool, error) {
	content, ok := f.files[path]
	return content, ok, nil
}

func (f *fakeForge) CreateCheckRun(ctx context.Context, pr domain.PullRequest) (int64, error) {
	return f.checkRunID, f.createErr
}

func (f *fakeForge) UpdateCheckRun(ctx context.Context, pr domain.PullRequest, checkRunID int64, output issue.ReviewOutput, event string) error {
	return nil
}

func (f *fakeForge) PostReview(ctx context.Context, pr domain.PullRequest, output issue.ReviewOutput, event string) error {
	if f.postErr != nil {
		return f.postErr
	}
	out := output
	f.postedOutput = &out
	f.postedEvent = event
	return nil
}

type fakeStorage struct {
	mu    sync.Mutex
	saved []*storage.ReviewRecord
}

func (f *fakeStorage) SaveReview(ctx context.Context, record *storage.ReviewRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, record)
	return nil
}

// savedRecords returns a snapshot of the records saved so far; the
// orchestrator saves audit records from a background goroutine.
func (f *fakeStorage) savedRecords() []*storage.ReviewRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*storage.ReviewRecord(nil), f.saved...)
}
func (f *fakeStorage) GetReview(ctx context.Context, id string) (*storage.ReviewRecord, error) {
	return nil, nil
}
func (f *fakeStorage) ListReviewsByPR(ctx context.Context, owner, repo string, number int) ([]*storage.ReviewRecord, error) {
	return nil, nil
}
func (f *fakeStorage) ListRecentReviews(ctx context.Context, limit int) ([]*storage.ReviewRecord, error) {
	return nil, nil
}
func (f *fakeStorage) Close() error { return nil }

type fakeProvider struct {
	text string
}

func (fakeProvider) Name() string { return "fake" }

func (p fakeProvider) Complete(ctx context.Context, req llmprovider.Request) (llmprovider.Response, error) {
	return llmprovider.Response{Text: p.text, Model: "fake-model"}, nil
}

const sampleDiff = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,4 @@
 package main

+// added line
 func main() {}
`

func TestRunPostsZeroIssueReviewWhenNothingReviewable(t *testing.T) {
	diff := `diff --git a/image.png b/image.png
index 1111111..2222222 100644
Binary files a/image.png and b/image.png differ
`
	fg := &fakeForge{diff: diff}
	o := &Orchestrator{Forge: fg}

	result := o.Run(context.Background(), domain.ReviewJob{ID: "job-1", PullRequest: domain.PullRequest{Owner: "acme", Repo: "widgets", Number: 1}})

	require.True(t, result.Success)
	assert.Equal(t, "APPROVE", result.Event)
	require.NotNil(t, fg.postedOutput)
	assert.Equal(t, 0, fg.postedOutput.RiskScore)
}

func TestRunFailsOnDiffFetchError(t *testing.T) {
	fg := &fakeForge{diffErr: errors.New("network down")}
	o := &Orchestrator{Forge: fg}

	result := o.Run(context.Background(), domain.ReviewJob{ID: "job-2"})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "fetch diff")
}

func TestRunFailsOnPostError(t *testing.T) {
	fg := &fakeForge{diff: sampleDiff, postErr: errors.New("forbidden")}
	o := &Orchestrator{Forge: fg}

	result := o.Run(context.Background(), domain.ReviewJob{ID: "job-3", PullRequest: domain.PullRequest{Owner: "acme", Repo: "widgets", Number: 2}})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "post review")
}

func TestRunIncludesLLMIssuesAndPersistsAuditRecord(t *testing.T) {
	fg := &fakeForge{diff: sampleDiff}
	st := &fakeStorage{}
	analyzer := &llmreview.Analyzer{Provider: fakeProvider{text: `{"issues":[{"category":"correctness","subtype":"x","severity":"medium","confidence":0.8,"file_path":"main.go","line_start":3,"line_end":3,"message":"looks off","evidence":"added line"}]}`}}

	o := &Orchestrator{Forge: fg, Analyzer: analyzer, Storage: st}

	result := o.Run(context.Background(), domain.ReviewJob{ID: "job-4", RequestID: "req-4", PullRequest: domain.PullRequest{Owner: "acme", Repo: "widgets", Number: 3}})

	require.True(t, result.Success)
	require.NotNil(t, fg.postedOutput)
	require.Len(t, fg.postedOutput.InlineComments, 1)
	assert.Equal(t, "main.go", fg.postedOutput.InlineComments[0].FilePath)
	assert.Equal(t, "llm-fake", fg.postedOutput.InlineComments[0].SourceTool)

	require.Eventually(t, func() bool { return len(st.savedRecords()) == 1 }, time.Second, 10*time.Millisecond)
	saved := st.savedRecords()
	require.Len(t, saved, 1)
	assert.Equal(t, "job-4", saved[0].ID)
	assert.Equal(t, "success", saved[0].Status)
}

func TestReviewEventSelection(t *testing.T) {
	assert.Equal(t, "REQUEST_CHANGES", reviewEvent("critical", 90, 2))
	assert.Equal(t, "APPROVE", reviewEvent("low", 0, 0))
	assert.Equal(t, "COMMENT", reviewEvent("medium", 30, 1))
	assert.Equal(t, "COMMENT", reviewEvent("low", 5, 1))
}
