package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pr-review-automation/internal/domain"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "reviews.db")
	repo, err := NewSQLiteRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleRecord(id string) *ReviewRecord {
	return &ReviewRecord{
		ID: id,
		PullRequest: &domain.PullRequest{
			Owner: "acme", Repo: "widgets", Number: 42, SHA: "abc123", Title: "fix bug",
		},
		Result:     &domain.ReviewResult{Success: true, Event: "COMMENT"},
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
		DurationMs: 1500,
		Status:     "success",
	}
}

func TestSaveAndGetReview(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	record := sampleRecord("rev-1")
	require.NoError(t, repo.SaveReview(ctx, record))

	got, err := repo.GetReview(ctx, "rev-1")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.PullRequest.Owner)
	assert.Equal(t, 42, got.PullRequest.Number)
	assert.True(t, got.Result.Success)
	assert.Equal(t, "success", got.Status)
}

func TestListReviewsByPR(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveReview(ctx, sampleRecord("rev-1")))
	require.NoError(t, repo.SaveReview(ctx, sampleRecord("rev-2")))

	other := sampleRecord("rev-3")
	other.PullRequest.Number = 99
	require.NoError(t, repo.SaveReview(ctx, other))

	reviews, err := repo.ListReviewsByPR(ctx, "acme", "widgets", 42)
	require.NoError(t, err)
	assert.Len(t, reviews, 2)
}

func TestListRecentReviews(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.SaveReview(ctx, sampleRecord("rev-"+itoa(i))))
	}

	reviews, err := repo.ListRecentReviews(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, reviews, 2)
}

func itoa(n int) string {
	return string(rune('0' + n))
}
