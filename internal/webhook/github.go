// Package webhook implements the HTTP ingress: GitHub webhook signature
// verification, payload validation, and fire-and-forget job enqueueing.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"pr-review-automation/internal/config"
	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/metrics"
)

// Enqueuer is the capability the handler uses to submit accepted jobs.
// The enqueue is fire-and-forget from the request's perspective: its
// failure is logged but never retried within the HTTP response.
type Enqueuer interface {
	Enqueue(ctx context.Context, job domain.ReviewJob) error
}

var allowedActions = map[string]bool{
	"opened": true, "synchronize": true, "reopened": true, "ready_for_review": true,
}

// Handler handles incoming GitHub App webhook deliveries at POST /webhook.
type Handler struct {
	cfg      *config.Config
	enqueuer Enqueuer
}

// NewHandler builds a Handler.
func NewHandler(cfg *config.Config, enqueuer Enqueuer) *Handler {
	return &Handler{cfg: cfg, enqueuer: enqueuer}
}

// githubPayload is the subset of the pull_request webhook payload this
// handler validates and consumes.
type githubPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		Draft  bool   `json:"draft"`
		Head   struct {
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// (a) read raw body to a bounded buffer.
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Server.MaxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Warn("read webhook body failed", "error", err)
		http.Error(w, "error reading request body", http.StatusBadRequest)
		metrics.WebhookRequests.WithLabelValues("error_read").Inc()
		return
	}

	// (b) require and verify X-Hub-Signature-256.
	if !h.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		slog.Warn("invalid or missing webhook signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		metrics.WebhookRequests.WithLabelValues("invalid_signature").Inc()
		return
	}

	// (c) parse JSON, silently falling back to {} so downstream checks reject cleanly.
	var payload githubPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Debug("webhook payload parse failed, treating as empty", "error", err)
		payload = githubPayload{}
		metrics.PayloadParseFailures.WithLabelValues("json").Inc()
	}

	// (d) require X-GitHub-Event: pull_request.
	if r.Header.Get("X-GitHub-Event") != "pull_request" {
		slog.Debug("ignoring non-pull_request event", "event", r.Header.Get("X-GitHub-Event"))
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		metrics.WebhookRequests.WithLabelValues("ignored_event").Inc()
		return
	}

	// (e) validate payload shape.
	if !validShape(body) {
		slog.Warn("webhook payload missing required fields")
		http.Error(w, "invalid payload shape", http.StatusBadRequest)
		metrics.WebhookRequests.WithLabelValues("invalid_shape").Inc()
		return
	}

	// (f) require an allowed action.
	if !allowedActions[payload.Action] {
		slog.Debug("ignoring webhook action", "action", payload.Action)
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		metrics.WebhookRequests.WithLabelValues("ignored_action").Inc()
		return
	}

	// (g) reject draft PRs.
	if payload.PullRequest.Draft {
		slog.Debug("ignoring draft pr", "number", payload.Number)
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		metrics.WebhookRequests.WithLabelValues("ignored_draft").Inc()
		return
	}

	// (h) require installation.id.
	if payload.Installation.ID == 0 {
		slog.Warn("webhook missing installation id")
		http.Error(w, "missing installation id", http.StatusBadRequest)
		metrics.WebhookRequests.WithLabelValues("missing_installation").Inc()
		return
	}

	// (i) construct and enqueue the job.
	job := domain.ReviewJob{
		ID:        uuid.NewString(),
		RequestID: requestID(r),
		CreatedAt: time.Now().UTC(),
		PullRequest: domain.PullRequest{
			Owner:          payload.Repository.Owner.Login,
			Repo:           payload.Repository.Name,
			Number:         payload.Number,
			SHA:            payload.PullRequest.Head.SHA,
			Title:          payload.PullRequest.Title,
			Body:           payload.PullRequest.Body,
			Draft:          payload.PullRequest.Draft,
			InstallationID: payload.Installation.ID,
		},
	}

	if err := h.enqueuer.Enqueue(r.Context(), job); err != nil {
		slog.Error("enqueue review job failed", "job_id", job.ID, "error", err)
	}

	metrics.WebhookRequests.WithLabelValues("accepted").Inc()
	respondJSON(w, http.StatusAccepted, map[string]string{"jobId": job.ID})
}

// validShape probes presence and primitive type of the fields the
// pipeline depends on via gjson paths, ahead of the strongly-typed
// unmarshal above.
func validShape(body []byte) bool {
	if !gjson.ValidBytes(body) {
		return false
	}

	action := gjson.GetBytes(body, "action")
	if !action.Exists() || action.Type != gjson.String || action.String() == "" {
		return false
	}
	if number := gjson.GetBytes(body, "number"); !number.Exists() || number.Type != gjson.Number {
		return false
	}
	if pr := gjson.GetBytes(body, "pull_request"); !pr.Exists() || !pr.IsObject() {
		return false
	}
	if repo := gjson.GetBytes(body, "repository"); !repo.Exists() || !repo.IsObject() {
		return false
	}
	return true
}

func requestID(r *http.Request) string {
	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		return rid
	}
	if delivery := r.Header.Get("X-GitHub-Delivery"); delivery != "" {
		return delivery
	}
	return uuid.NewString()
}

// verifySignature validates the HMAC-SHA256 signature of a webhook
// request. Expected header format: sha256=<hex-encoded-signature>.
func (h *Handler) verifySignature(body []byte, signature string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) {
		return false
	}
	provided := strings.TrimPrefix(signature, prefix)

	mac := hmac.New(sha256.New, []byte(h.cfg.Server.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(provided) != len(expected) {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(provided))
}

func respondJSON(w http.ResponseWriter, status int, payload map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
