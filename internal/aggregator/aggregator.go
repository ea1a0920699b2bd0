// Package aggregator merges issues from every evidence source into the
// final inline-comment selection: deduplicate, confidence-filter,
// priority-sort, then cap. Risk scoring runs on the full filtered set so
// that issues dropped by the cap still influence the headline score.
package aggregator

import (
	"sort"
	"strings"

	"pr-review-automation/internal/issue"
	"pr-review-automation/internal/riskscore"
)

var severityRank = map[string]int{
	issue.SeverityLow: 1, issue.SeverityMedium: 2, issue.SeverityHigh: 3, issue.SeverityCritical: 4,
}

var categoryWeight = map[string]float64{
	issue.CategorySecurity:        4.0,
	issue.CategoryCorrectness:     3.0,
	issue.CategoryDependency:      2.5,
	issue.CategoryPerformance:     2.0,
	issue.CategoryMaintainability: 1.5,
	issue.CategoryStyle:           1.0,
}

var severityWeight = map[string]float64{
	issue.SeverityLow: 1, issue.SeverityMedium: 3, issue.SeverityHigh: 7, issue.SeverityCritical: 15,
}

// Config tunes the aggregation pipeline.
type Config struct {
	ConfidenceThreshold float64
	MaxInlineComments   int
	RiskScore           riskscore.Config
}

// DefaultConfig returns sane production defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.5,
		MaxInlineComments:   25,
		RiskScore:           riskscore.DefaultConfig(),
	}
}

// Result is the output of one aggregation run.
type Result struct {
	InlineComments []issue.Issue
	RiskScore      riskscore.Result
	FilteredCount  int
}

func dedupeKey(i issue.Issue) string {
	subtype := i.Subtype
	if len(subtype) > 20 {
		subtype = subtype[:20]
	}
	var sb strings.Builder
	sb.WriteString(i.FilePath)
	sb.WriteByte(':')
	sb.WriteString(itoa(i.LineStart))
	sb.WriteByte('-')
	sb.WriteString(itoa(i.LineEnd))
	sb.WriteByte(':')
	sb.WriteString(i.Category)
	sb.WriteByte(':')
	sb.WriteString(subtype)
	return sb.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// dedupe collapses issues sharing a key, keeping the higher-severity one
// and breaking ties by higher confidence.
func dedupe(issues []issue.Issue) []issue.Issue {
	best := make(map[string]issue.Issue)
	order := make([]string, 0, len(issues))
	for _, i := range issues {
		key := dedupeKey(i)
		existing, ok := best[key]
		if !ok {
			best[key] = i
			order = append(order, key)
			continue
		}
		if betterIssue(i, existing) {
			best[key] = i
		}
	}

	out := make([]issue.Issue, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

func betterIssue(candidate, existing issue.Issue) bool {
	cr, er := severityRank[candidate.Severity], severityRank[existing.Severity]
	if cr != er {
		return cr > er
	}
	return candidate.Confidence > existing.Confidence
}

func priority(i issue.Issue) float64 {
	return severityWeight[i.Severity] * i.Confidence * categoryWeight[i.Category]
}

// Aggregate runs the full pipeline over issues and returns the capped
// inline-comment selection plus a risk score computed on the full
// filtered (pre-cap) set.
func Aggregate(issues []issue.Issue, cfg Config) Result {
	deduped := dedupe(issues)

	filtered := make([]issue.Issue, 0, len(deduped))
	for _, i := range deduped {
		if i.Confidence >= cfg.ConfidenceThreshold {
			filtered = append(filtered, i)
		}
	}

	sort.SliceStable(filtered, func(a, b int) bool {
		return priority(filtered[a]) > priority(filtered[b])
	})

	score := riskscore.Score(filtered, cfg.RiskScore)

	selected := filtered
	if cfg.MaxInlineComments >= 0 && len(selected) > cfg.MaxInlineComments {
		selected = selected[:cfg.MaxInlineComments]
	}

	return Result{InlineComments: selected, RiskScore: score, FilteredCount: len(filtered)}
}
