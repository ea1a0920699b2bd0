// Package issue defines the canonical Issue and ReviewOutput shapes produced
// by every evidence source (static tools, the vulnerability scanner, the LLM
// analyzer) and validates them against the schema every source must honor.
package issue

import (
	"fmt"
	"regexp"
	"time"

	"pr-review-automation/internal/apperrors"
)

// Category values an Issue may carry.
const (
	CategorySecurity        = "security"
	CategoryCorrectness     = "correctness"
	CategoryPerformance     = "performance"
	CategoryMaintainability = "maintainability"
	CategoryStyle           = "style"
	CategoryDependency      = "dependency"
)

var validCategories = map[string]bool{
	CategorySecurity: true, CategoryCorrectness: true, CategoryPerformance: true,
	CategoryMaintainability: true, CategoryStyle: true, CategoryDependency: true,
}

// Severity values an Issue may carry.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var validSeverities = map[string]bool{
	SeverityLow: true, SeverityMedium: true, SeverityHigh: true, SeverityCritical: true,
}

var cweRe = regexp.MustCompile(`^CWE-\d+$`)

// Issue is the canonical record produced by every evidence source.
type Issue struct {
	ID         string  `json:"id"`
	Category   string  `json:"category"`
	Subtype    string  `json:"subtype"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`

	FilePath  string `json:"file_path"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`

	Message  string `json:"message"`
	Evidence string `json:"evidence"`

	SuggestedFix string `json:"suggested_fix,omitempty"`
	Patch        string `json:"patch,omitempty"`
	CWE          string `json:"cwe,omitempty"`
	OWASPTag     string `json:"owasp_tag,omitempty"`

	SourceTool     string `json:"source_tool,omitempty"`
	IsLLMGenerated bool   `json:"is_llm_generated"`
}

// Validate rejects an Issue whose fields fall outside the schema's bounds.
func Validate(i Issue) error {
	if !validCategories[i.Category] {
		return apperrors.NewValidation("category", fmt.Sprintf("unknown category %q", i.Category))
	}
	if len(i.Subtype) > 50 {
		return apperrors.NewValidation("subtype", "exceeds 50 chars")
	}
	if !validSeverities[i.Severity] {
		return apperrors.NewValidation("severity", fmt.Sprintf("unknown severity %q", i.Severity))
	}
	if i.Confidence < 0 || i.Confidence > 1 {
		return apperrors.NewValidation("confidence", "must be within [0,1]")
	}
	if i.FilePath == "" {
		return apperrors.NewValidation("file_path", "must be non-empty")
	}
	if i.LineStart <= 0 || i.LineEnd <= 0 {
		return apperrors.NewValidation("line_start/line_end", "must be positive")
	}
	if i.LineEnd < i.LineStart {
		return apperrors.NewValidation("line_end", "must be >= line_start")
	}
	if len(i.Message) < 1 || len(i.Message) > 900 {
		return apperrors.NewValidation("message", "must be 1-900 chars")
	}
	if len(i.Evidence) > 500 {
		return apperrors.NewValidation("evidence", "exceeds 500 chars")
	}
	if len(i.SuggestedFix) > 500 {
		return apperrors.NewValidation("suggested_fix", "exceeds 500 chars")
	}
	if len(i.Patch) > 2000 {
		return apperrors.NewValidation("patch", "exceeds 2000 chars")
	}
	if i.CWE != "" && !cweRe.MatchString(i.CWE) {
		return apperrors.NewValidation("cwe", fmt.Sprintf("%q does not match CWE-\\d+", i.CWE))
	}
	if len(i.OWASPTag) > 20 {
		return apperrors.NewValidation("owasp_tag", "exceeds 20 chars")
	}
	return nil
}

// CategoryBreakdown is a derived, per-category rollup of an issue set.
type CategoryBreakdown struct {
	Category          string  `json:"category"`
	Count             int     `json:"count"`
	MaxSeverity       string  `json:"max_severity"`
	ScoreContribution float64 `json:"score_contribution"`
}

// Stats accompanies a ReviewOutput with run-level metadata.
type Stats struct {
	FilesChanged int      `json:"files_changed"`
	IssuesFound  int      `json:"issues_found"`
	ToolsRun     []string `json:"tools_run"`
	ModelUsed    string   `json:"model_used,omitempty"`
	LatencyMs    int64    `json:"latency_ms"`

	LinesAdded   *int `json:"lines_added,omitempty"`
	LinesRemoved *int `json:"lines_removed,omitempty"`
}

// PRInfo carries minimal identifying metadata about the reviewed PR.
type PRInfo struct {
	Owner  string `json:"owner,omitempty"`
	Repo   string `json:"repo,omitempty"`
	Number int    `json:"number,omitempty"`
	SHA    string `json:"sha,omitempty"`
}

// ReviewOutput is the final, posted shape of one review run.
type ReviewOutput struct {
	RiskScore int    `json:"risk_score"`
	RiskLevel string `json:"risk_level"`

	InlineComments []Issue `json:"inline_comments"`

	SummaryMarkdown string `json:"summary_markdown"`
	ExecSummary     string `json:"exec_summary"`

	Stats             Stats               `json:"stats"`
	CategoryBreakdown []CategoryBreakdown `json:"category_breakdown,omitempty"`

	RequestID   string     `json:"request_id,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	PRInfo      *PRInfo    `json:"pr_info,omitempty"`
}

// ValidateReviewOutput checks the bounded text fields of a ReviewOutput.
func ValidateReviewOutput(r ReviewOutput) error {
	if r.RiskScore < 0 || r.RiskScore > 100 {
		return apperrors.NewValidation("risk_score", "must be within [0,100]")
	}
	if len(r.SummaryMarkdown) > 4000 {
		return apperrors.NewValidation("summary_markdown", "exceeds 4000 chars")
	}
	if len(r.ExecSummary) > 1000 {
		return apperrors.NewValidation("exec_summary", "exceeds 1000 chars")
	}
	return nil
}
