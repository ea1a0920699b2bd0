package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pr-review-automation/internal/config"
	"pr-review-automation/internal/domain"
)

type fakeEnqueuer struct {
	jobs []domain.ReviewJob
	err  error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, job domain.ReviewJob) error {
	f.jobs = append(f.jobs, job)
	return f.err
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.WebhookSecret = "test-secret"
	cfg.Server.MaxBodySize = 1 << 20
	return cfg
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func validPayload(action string, draft bool) []byte {
	payload := map[string]any{
		"action": action,
		"number": 42,
		"pull_request": map[string]any{
			"number": 42,
			"title":  "fix bug",
			"body":   "does a thing",
			"draft":  draft,
			"head":   map[string]any{"sha": "abc123"},
		},
		"repository": map[string]any{
			"name":  "widgets",
			"owner": map[string]any{"login": "acme"},
		},
		"installation": map[string]any{"id": 999},
	}
	b, _ := json.Marshal(payload)
	return b
}

func doRequest(t *testing.T, h *Handler, body []byte, signature string, event string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	if event != "" {
		req.Header.Set("X-GitHub-Event", event)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServeHTTPAcceptsValidPayload(t *testing.T) {
	cfg := testConfig()
	enq := &fakeEnqueuer{}
	h := NewHandler(cfg, enq)

	body := validPayload("opened", false)
	rec := doRequest(t, h, body, sign(cfg.Server.WebhookSecret, body), "pull_request")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, enq.jobs, 1)
	assert.Equal(t, "acme", enq.jobs[0].PullRequest.Owner)
	assert.Equal(t, "widgets", enq.jobs[0].PullRequest.Repo)
	assert.Equal(t, int64(999), enq.jobs[0].PullRequest.InstallationID)
}

func TestServeHTTPRejectsMissingSignature(t *testing.T) {
	cfg := testConfig()
	h := NewHandler(cfg, &fakeEnqueuer{})

	body := validPayload("opened", false)
	rec := doRequest(t, h, body, "", "pull_request")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeHTTPRejectsBadSignature(t *testing.T) {
	cfg := testConfig()
	h := NewHandler(cfg, &fakeEnqueuer{})

	body := validPayload("opened", false)
	rec := doRequest(t, h, body, "sha256="+hex.EncodeToString(make([]byte, 32)), "pull_request")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeHTTPIgnoresNonPullRequestEvent(t *testing.T) {
	cfg := testConfig()
	enq := &fakeEnqueuer{}
	h := NewHandler(cfg, enq)

	body := validPayload("opened", false)
	rec := doRequest(t, h, body, sign(cfg.Server.WebhookSecret, body), "issues")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, enq.jobs)
}

func TestServeHTTPIgnoresDisallowedAction(t *testing.T) {
	cfg := testConfig()
	enq := &fakeEnqueuer{}
	h := NewHandler(cfg, enq)

	body := validPayload("closed", false)
	rec := doRequest(t, h, body, sign(cfg.Server.WebhookSecret, body), "pull_request")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, enq.jobs)
}

func TestServeHTTPIgnoresDraftPR(t *testing.T) {
	cfg := testConfig()
	enq := &fakeEnqueuer{}
	h := NewHandler(cfg, enq)

	body := validPayload("opened", true)
	rec := doRequest(t, h, body, sign(cfg.Server.WebhookSecret, body), "pull_request")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, enq.jobs)
}

func TestServeHTTPRequiresInstallationID(t *testing.T) {
	cfg := testConfig()
	h := NewHandler(cfg, &fakeEnqueuer{})

	payload := map[string]any{
		"action": "opened",
		"number": 42,
		"pull_request": map[string]any{
			"number": 42, "title": "t", "draft": false,
			"head": map[string]any{"sha": "abc"},
		},
		"repository": map[string]any{"name": "widgets", "owner": map[string]any{"login": "acme"}},
	}
	body, _ := json.Marshal(payload)
	rec := doRequest(t, h, body, sign(cfg.Server.WebhookSecret, body), "pull_request")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTPRejectsMalformedShape(t *testing.T) {
	cfg := testConfig()
	h := NewHandler(cfg, &fakeEnqueuer{})

	body := []byte(`{"not": "the right shape"}`)
	rec := doRequest(t, h, body, sign(cfg.Server.WebhookSecret, body), "pull_request")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTPHealthBypassesAuth(t *testing.T) {
	cfg := testConfig()
	h := NewHandler(cfg, &fakeEnqueuer{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
