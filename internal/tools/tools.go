// Package tools implements the static-analyzer harness: a uniform
// ToolRunner capability and one adapter per supported analyzer that
// launches the binary as a child process and parses its native output
// (JSON, SARIF, or newline-delimited JSON) into Issues.
package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/owenrumney/go-sarif/v2/sarif"
	"github.com/tidwall/gjson"

	"pr-review-automation/internal/issue"
)

// ToolResult is the outcome of one analyzer invocation.
type ToolResult struct {
	Tool     string
	Success  bool
	Issues   []issue.Issue
	Error    string
	Duration time.Duration
}

// Config tunes a runner invocation.
type Config struct {
	Timeout        time.Duration
	SemgrepRules   string
	SemgrepTimeout time.Duration
}

// Runner is the uniform capability every static analyzer implements.
type Runner interface {
	Name() string
	IsAvailable() bool
	Run(ctx context.Context, workdir string, files []string, cfg Config) ToolResult
}

func addIfValid(issues *[]issue.Issue, i issue.Issue) {
	if issue.Validate(i) == nil {
		*issues = append(*issues, i)
	}
}

func binaryAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// runBinary launches name with args in workdir, bounded by ctx, and
// returns stdout/stderr. A non-zero exit code is not itself an error —
// analyzers routinely exit non-zero when they find findings.
func runBinary(ctx context.Context, name string, args []string, workdir string) (stdout, stderr []byte, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workdir
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	runErr := cmd.Run()
	if ctx.Err() != nil {
		return outBuf.Bytes(), errBuf.Bytes(), ctx.Err()
	}
	if _, ok := runErr.(*exec.ExitError); ok {
		return outBuf.Bytes(), errBuf.Bytes(), nil
	}
	return outBuf.Bytes(), errBuf.Bytes(), runErr
}

func timeoutOr(cfg Config, fallback time.Duration) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return fallback
}

const defaultTimeout = 300 * time.Second

// ----- ESLint -----

type ESLintRunner struct{}

func (ESLintRunner) Name() string        { return "eslint" }
func (ESLintRunner) IsAvailable() bool   { return binaryAvailable("eslint") }

func hasESLintConfig(workdir string) bool {
	names := []string{
		".eslintrc", ".eslintrc.js", ".eslintrc.cjs", ".eslintrc.json",
		".eslintrc.yml", ".eslintrc.yaml", "eslint.config.js", "eslint.config.mjs",
	}
	for _, n := range names {
		if _, err := os.Stat(filepath.Join(workdir, n)); err == nil {
			return true
		}
	}
	if data, err := os.ReadFile(filepath.Join(workdir, "package.json")); err == nil {
		if gjson.GetBytes(data, "eslintConfig").Exists() {
			return true
		}
	}
	return false
}

func eslintCategory(ruleID string) string {
	lower := strings.ToLower(ruleID)
	switch {
	case strings.Contains(lower, "security") || strings.Contains(lower, "no-eval"):
		return issue.CategorySecurity
	case strings.Contains(lower, "no-unused") || strings.Contains(lower, "no-undef") || strings.Contains(lower, "prefer-const"):
		return issue.CategoryCorrectness
	case strings.Contains(lower, "complexity") || strings.HasPrefix(lower, "max-"):
		return issue.CategoryMaintainability
	default:
		return issue.CategoryStyle
	}
}

func (r ESLintRunner) Run(ctx context.Context, workdir string, files []string, cfg Config) ToolResult {
	start := time.Now()
	if !hasESLintConfig(workdir) {
		return ToolResult{Tool: r.Name(), Success: false, Error: "no eslint config found", Duration: time.Since(start)}
	}
	if !r.IsAvailable() {
		return ToolResult{Tool: r.Name(), Success: false, Error: "eslint not installed", Duration: time.Since(start)}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeoutOr(cfg, defaultTimeout))
	defer cancel()

	args := append([]string{"--format", "json"}, files...)
	stdout, _, err := runBinary(runCtx, "eslint", args, workdir)
	if err != nil {
		return ToolResult{Tool: r.Name(), Success: false, Error: err.Error(), Duration: time.Since(start)}
	}

	var issues []issue.Issue
	results := gjson.ParseBytes(stdout).Array()
	for _, fileResult := range results {
		path := fileResult.Get("filePath").String()
		for _, msg := range fileResult.Get("messages").Array() {
			ruleID := msg.Get("ruleId").String()
			if ruleID == "" {
				continue
			}
			sev := issue.SeverityLow
			if msg.Get("severity").Int() == 2 {
				sev = issue.SeverityMedium
			}
			line := int(msg.Get("line").Int())
			if line <= 0 {
				continue
			}
			addIfValid(&issues, issue.Issue{
				Category:   eslintCategory(ruleID),
				Subtype:    ruleID,
				Severity:   sev,
				Confidence: 0.9,
				FilePath:   relPath(workdir, path),
				LineStart:  line,
				LineEnd:    line,
				Message:    msg.Get("message").String(),
				Evidence:   ruleID,
				SourceTool: r.Name(),
			})
		}
	}

	return ToolResult{Tool: r.Name(), Success: true, Issues: issues, Duration: time.Since(start)}
}

// ----- Semgrep -----

type SemgrepRunner struct{}

func (SemgrepRunner) Name() string      { return "semgrep" }
func (SemgrepRunner) IsAvailable() bool { return binaryAvailable("semgrep") }

func semgrepCategory(ruleID string) string {
	lower := strings.ToLower(ruleID)
	switch {
	case strings.Contains(lower, "injection") || strings.Contains(lower, "xss") ||
		strings.Contains(lower, "sqli") || strings.Contains(lower, "crypto"):
		return issue.CategorySecurity
	case strings.Contains(lower, "bug") || strings.Contains(lower, "correctness"):
		return issue.CategoryCorrectness
	case strings.Contains(lower, "perf"):
		return issue.CategoryPerformance
	default:
		return issue.CategorySecurity
	}
}

func sarifLevelToSeverity(level string) string {
	switch level {
	case "error":
		return issue.SeverityHigh
	case "warning":
		return issue.SeverityMedium
	default:
		return issue.SeverityLow
	}
}

func (r SemgrepRunner) Run(ctx context.Context, workdir string, files []string, cfg Config) ToolResult {
	start := time.Now()
	if !r.IsAvailable() {
		return ToolResult{Tool: r.Name(), Success: false, Error: "semgrep not installed", Duration: time.Since(start)}
	}

	rules := cfg.SemgrepRules
	if rules == "" {
		rules = "auto"
	}
	semgrepTimeout := cfg.SemgrepTimeout
	if semgrepTimeout <= 0 {
		semgrepTimeout = defaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, semgrepTimeout)
	defer cancel()

	args := []string{
		"--sarif", "--config", rules,
		"--timeout", fmt.Sprintf("%d", int(semgrepTimeout.Seconds())),
		"--max-target-bytes", "1000000", "--no-git-ignore",
	}
	args = append(args, files...)

	stdout, _, err := runBinary(runCtx, "semgrep", args, workdir)
	if err != nil {
		return ToolResult{Tool: r.Name(), Success: false, Error: err.Error(), Duration: time.Since(start)}
	}

	report, err := sarif.FromBytes(stdout)
	if err != nil {
		return ToolResult{Tool: r.Name(), Success: false, Error: err.Error(), Duration: time.Since(start)}
	}

	var issues []issue.Issue
	for _, run := range report.Runs {
		for _, res := range run.Results {
			ruleID := ""
			if res.RuleID != nil {
				ruleID = *res.RuleID
			}
			message := ""
			if res.Message.Text != nil {
				message = *res.Message.Text
			}
			level := "warning"
			if res.Level != nil {
				level = *res.Level
			}

			for _, loc := range res.Locations {
				if loc.PhysicalLocation == nil || loc.PhysicalLocation.ArtifactLocation == nil || loc.PhysicalLocation.ArtifactLocation.URI == nil {
					continue
				}
				path := *loc.PhysicalLocation.ArtifactLocation.URI
				line := 1
				if loc.PhysicalLocation.Region != nil && loc.PhysicalLocation.Region.StartLine != nil {
					line = *loc.PhysicalLocation.Region.StartLine
				}
				endLine := line
				if loc.PhysicalLocation.Region != nil && loc.PhysicalLocation.Region.EndLine != nil {
					endLine = *loc.PhysicalLocation.Region.EndLine
				}
				if endLine < line {
					endLine = line
				}
				addIfValid(&issues, issue.Issue{
					Category:   semgrepCategory(ruleID),
					Subtype:    ruleID,
					Severity:   sarifLevelToSeverity(level),
					Confidence: 0.8,
					FilePath:   path,
					LineStart:  line,
					LineEnd:    endLine,
					Message:    message,
					Evidence:   ruleID,
					SourceTool: r.Name(),
				})
			}
		}
	}

	return ToolResult{Tool: r.Name(), Success: true, Issues: issues, Duration: time.Since(start)}
}

// ----- Ruff -----

type RuffRunner struct{}

func (RuffRunner) Name() string      { return "ruff" }
func (RuffRunner) IsAvailable() bool { return binaryAvailable("ruff") }

func hasRuffConfig(workdir string) bool {
	for _, n := range []string{"ruff.toml", ".ruff.toml"} {
		if _, err := os.Stat(filepath.Join(workdir, n)); err == nil {
			return true
		}
	}
	if data, err := os.ReadFile(filepath.Join(workdir, "pyproject.toml")); err == nil {
		if bytes.Contains(data, []byte("[tool.ruff")) {
			return true
		}
	}
	return false
}

func ruffCategory(code string) string {
	if code == "" {
		return issue.CategoryStyle
	}
	switch code[0] {
	case 'S':
		return issue.CategorySecurity
	case 'E', 'W':
		return issue.CategoryCorrectness
	case 'C':
		return issue.CategoryMaintainability
	default:
		return issue.CategoryStyle
	}
}

func (r RuffRunner) Run(ctx context.Context, workdir string, files []string, cfg Config) ToolResult {
	start := time.Now()
	if !hasRuffConfig(workdir) {
		return ToolResult{Tool: r.Name(), Success: false, Error: "no ruff config found", Duration: time.Since(start)}
	}
	if !r.IsAvailable() {
		return ToolResult{Tool: r.Name(), Success: false, Error: "ruff not installed", Duration: time.Since(start)}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeoutOr(cfg, defaultTimeout))
	defer cancel()

	args := append([]string{"check", "--output-format", "json"}, files...)
	stdout, _, err := runBinary(runCtx, "ruff", args, workdir)
	if err != nil {
		return ToolResult{Tool: r.Name(), Success: false, Error: err.Error(), Duration: time.Since(start)}
	}

	var issues []issue.Issue
	for _, item := range gjson.ParseBytes(stdout).Array() {
		code := item.Get("code").String()
		line := int(item.Get("location.row").Int())
		if line <= 0 {
			continue
		}
		addIfValid(&issues, issue.Issue{
			Category:   ruffCategory(code),
			Subtype:    code,
			Severity:   issue.SeverityLow,
			Confidence: 0.9,
			FilePath:   relPath(workdir, item.Get("filename").String()),
			LineStart:  line,
			LineEnd:    line,
			Message:    item.Get("message").String(),
			Evidence:   code,
			SourceTool: r.Name(),
		})
	}

	return ToolResult{Tool: r.Name(), Success: true, Issues: issues, Duration: time.Since(start)}
}

// ----- Bandit / gosec (identical severity/confidence mapping) -----

func hmlSeverity(s string) string {
	switch strings.ToUpper(s) {
	case "HIGH":
		return issue.SeverityHigh
	case "MEDIUM":
		return issue.SeverityMedium
	default:
		return issue.SeverityLow
	}
}

func hmlConfidence(s string) float64 {
	switch strings.ToUpper(s) {
	case "HIGH":
		return 0.9
	case "MEDIUM":
		return 0.7
	default:
		return 0.5
	}
}

type BanditRunner struct{}

func (BanditRunner) Name() string      { return "bandit" }
func (BanditRunner) IsAvailable() bool { return binaryAvailable("bandit") }

func (r BanditRunner) Run(ctx context.Context, workdir string, files []string, cfg Config) ToolResult {
	start := time.Now()
	if !r.IsAvailable() {
		return ToolResult{Tool: r.Name(), Success: false, Error: "bandit not installed", Duration: time.Since(start)}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeoutOr(cfg, defaultTimeout))
	defer cancel()

	args := append([]string{"-f", "json", "-q"}, files...)
	stdout, _, err := runBinary(runCtx, "bandit", args, workdir)
	if err != nil {
		return ToolResult{Tool: r.Name(), Success: false, Error: err.Error(), Duration: time.Since(start)}
	}

	var issues []issue.Issue
	for _, res := range gjson.GetBytes(stdout, "results").Array() {
		line := int(res.Get("line_number").Int())
		if line <= 0 {
			continue
		}
		cwe := ""
		if id := res.Get("issue_cwe.id"); id.Exists() {
			cwe = fmt.Sprintf("CWE-%d", id.Int())
		}
		addIfValid(&issues, issue.Issue{
			Category:   issue.CategorySecurity,
			Subtype:    res.Get("test_id").String(),
			Severity:   hmlSeverity(res.Get("issue_severity").String()),
			Confidence: hmlConfidence(res.Get("issue_confidence").String()),
			FilePath:   relPath(workdir, res.Get("filename").String()),
			LineStart:  line,
			LineEnd:    line,
			Message:    res.Get("issue_text").String(),
			Evidence:   res.Get("test_id").String(),
			CWE:        cwe,
			SourceTool: r.Name(),
		})
	}

	return ToolResult{Tool: r.Name(), Success: true, Issues: issues, Duration: time.Since(start)}
}

type GosecRunner struct{}

func (GosecRunner) Name() string      { return "gosec" }
func (GosecRunner) IsAvailable() bool { return binaryAvailable("gosec") }

func (r GosecRunner) Run(ctx context.Context, workdir string, files []string, cfg Config) ToolResult {
	start := time.Now()
	if !r.IsAvailable() {
		return ToolResult{Tool: r.Name(), Success: false, Error: "gosec not installed", Duration: time.Since(start)}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeoutOr(cfg, defaultTimeout))
	defer cancel()

	args := []string{"-fmt", "json", "./..."}
	stdout, _, err := runBinary(runCtx, "gosec", args, workdir)
	if err != nil {
		return ToolResult{Tool: r.Name(), Success: false, Error: err.Error(), Duration: time.Since(start)}
	}

	var issues []issue.Issue
	for _, res := range gjson.GetBytes(stdout, "Issues").Array() {
		line := int(res.Get("line").Int())
		if line <= 0 {
			// gosec reports multi-line findings as a "start-end" string,
			// which does not parse as a line number; such findings are skipped.
			continue
		}
		cwe := ""
		if id := res.Get("cwe.id"); id.Exists() {
			cwe = fmt.Sprintf("CWE-%s", id.String())
		}
		addIfValid(&issues, issue.Issue{
			Category:   issue.CategorySecurity,
			Subtype:    res.Get("rule_id").String(),
			Severity:   hmlSeverity(res.Get("severity").String()),
			Confidence: hmlConfidence(res.Get("confidence").String()),
			FilePath:   relPath(workdir, res.Get("file").String()),
			LineStart:  line,
			LineEnd:    line,
			Message:    res.Get("details").String(),
			Evidence:   res.Get("rule_id").String(),
			CWE:        cwe,
			SourceTool: r.Name(),
		})
	}

	return ToolResult{Tool: r.Name(), Success: true, Issues: issues, Duration: time.Since(start)}
}

// ----- staticcheck -----

type StaticcheckRunner struct{}

func (StaticcheckRunner) Name() string      { return "staticcheck" }
func (StaticcheckRunner) IsAvailable() bool { return binaryAvailable("staticcheck") }

func staticcheckCategory(code string) string {
	switch {
	case strings.HasPrefix(code, "SA"):
		return issue.CategorySecurity
	case strings.HasPrefix(code, "ST"):
		return issue.CategoryStyle
	case strings.HasPrefix(code, "S"):
		return issue.CategoryCorrectness
	default:
		return issue.CategoryMaintainability
	}
}

func staticcheckSeverity(sev string) string {
	switch sev {
	case "error":
		return issue.SeverityHigh
	case "warning":
		return issue.SeverityMedium
	default:
		return issue.SeverityLow
	}
}

func (r StaticcheckRunner) Run(ctx context.Context, workdir string, files []string, cfg Config) ToolResult {
	start := time.Now()
	if !r.IsAvailable() {
		return ToolResult{Tool: r.Name(), Success: false, Error: "staticcheck not installed", Duration: time.Since(start)}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeoutOr(cfg, defaultTimeout))
	defer cancel()

	stdout, _, err := runBinary(runCtx, "staticcheck", []string{"-f", "json", "./..."}, workdir)
	if err != nil {
		return ToolResult{Tool: r.Name(), Success: false, Error: err.Error(), Duration: time.Since(start)}
	}

	var issues []issue.Issue
	for _, line := range strings.Split(string(stdout), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		res := gjson.Parse(line)
		lineNum := int(res.Get("location.line").Int())
		if lineNum <= 0 {
			continue
		}
		code := res.Get("code").String()
		addIfValid(&issues, issue.Issue{
			Category:   staticcheckCategory(code),
			Subtype:    code,
			Severity:   staticcheckSeverity(res.Get("severity").String()),
			Confidence: 0.8,
			FilePath:   relPath(workdir, res.Get("location.file").String()),
			LineStart:  lineNum,
			LineEnd:    lineNum,
			Message:    res.Get("message").String(),
			Evidence:   code,
			SourceTool: r.Name(),
		})
	}

	return ToolResult{Tool: r.Name(), Success: true, Issues: issues, Duration: time.Since(start)}
}

// ----- go vet -----

type GoVetRunner struct{}

func (GoVetRunner) Name() string      { return "govet" }
func (GoVetRunner) IsAvailable() bool { return binaryAvailable("go") }

func (r GoVetRunner) Run(ctx context.Context, workdir string, files []string, cfg Config) ToolResult {
	start := time.Now()
	if !r.IsAvailable() {
		return ToolResult{Tool: r.Name(), Success: false, Error: "go not installed", Duration: time.Since(start)}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeoutOr(cfg, defaultTimeout))
	defer cancel()

	_, stderr, err := runBinary(runCtx, "go", []string{"vet", "-json", "./..."}, workdir)
	if err != nil {
		return ToolResult{Tool: r.Name(), Success: false, Error: err.Error(), Duration: time.Since(start)}
	}

	var issues []issue.Issue
	packages := gjson.ParseBytes(stderr)
	packages.ForEach(func(_, pkg gjson.Result) bool {
		pkg.ForEach(func(_, analyzer gjson.Result) bool {
			for _, finding := range analyzer.Array() {
				posn := finding.Get("posn").String()
				path, line := splitPosn(posn)
				if line <= 0 {
					continue
				}
				addIfValid(&issues, issue.Issue{
					Category:   issue.CategoryCorrectness,
					Subtype:    "vet",
					Severity:   issue.SeverityMedium,
					Confidence: 0.9,
					FilePath:   relPath(workdir, path),
					LineStart:  line,
					LineEnd:    line,
					Message:    finding.Get("message").String(),
					Evidence:   "go vet",
					SourceTool: r.Name(),
				})
			}
			return true
		})
		return true
	})

	return ToolResult{Tool: r.Name(), Success: true, Issues: issues, Duration: time.Since(start)}
}

func splitPosn(posn string) (path string, line int) {
	parts := strings.Split(posn, ":")
	if len(parts) < 2 {
		return posn, 0
	}
	path = strings.Join(parts[:len(parts)-2], ":")
	if path == "" {
		path = parts[0]
	}
	var ln int
	fmt.Sscanf(parts[len(parts)-2], "%d", &ln)
	return path, ln
}

func relPath(workdir, path string) string {
	if rel, err := filepath.Rel(workdir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

// All returns every runner, gated by the enabled map from config.
func All(enabled map[string]bool) []Runner {
	candidates := []Runner{
		ESLintRunner{}, SemgrepRunner{}, RuffRunner{},
		BanditRunner{}, GosecRunner{}, StaticcheckRunner{}, GoVetRunner{},
	}
	var out []Runner
	for _, r := range candidates {
		if enabled == nil || enabled[r.Name()] {
			out = append(out, r)
		}
	}
	return out
}
