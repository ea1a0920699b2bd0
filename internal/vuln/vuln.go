// Package vuln implements the vulnerability scanner: it parses the
// dependency manifests it recognizes (package.json, requirements.txt,
// pyproject.toml, go.mod; other files yield no packages), queries an
// OSV-style vulnerability database, and maps results onto the canonical
// Issue shape.
package vuln

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"pr-review-automation/internal/issue"
)

// maxPackagesQueried bounds vulnerability-DB cost per run.
const maxPackagesQueried = 50

// Package is an extracted dependency reference ready to query.
type Package struct {
	Name           string
	CleanedVersion string
	Ecosystem      string
}

// Ecosystem identifiers, matching OSV's naming.
const (
	EcosystemNPM  = "npm"
	EcosystemPyPI = "PyPI"
	EcosystemGo   = "Go"
)

var leadingDigitRe = regexp.MustCompile(`[0-9]`)
var versionTokenRe = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*`)

// cleanVersion strips leading non-digit characters (carets, tildes,
// comparison operators, a "v" prefix) and anything from the first
// character that is no longer part of a dotted version token.
func cleanVersion(raw string) string {
	raw = strings.TrimSpace(raw)
	loc := leadingDigitRe.FindStringIndex(raw)
	if loc == nil {
		return ""
	}
	rest := raw[loc[0]:]
	m := versionTokenRe.FindString(rest)
	return m
}

func basename(path string) string {
	return filepath.Base(path)
}

// ParseManifest dispatches to the parser for the given lockfile/manifest
// name. Unrecognized manifests yield no packages.
func ParseManifest(filename string, content []byte) []Package {
	switch basename(filename) {
	case "package.json":
		return ParsePackageJSON(content)
	case "requirements.txt":
		return ParseRequirementsTxt(content)
	case "pyproject.toml":
		return ParsePyprojectToml(content)
	case "go.mod":
		return ParseGoMod(content)
	default:
		return nil
	}
}

// ParsePackageJSON extracts npm-ecosystem packages from dependencies and
// devDependencies.
func ParsePackageJSON(content []byte) []Package {
	var out []Package
	for _, section := range []string{"dependencies", "devDependencies"} {
		gjson.GetBytes(content, section).ForEach(func(name, version gjson.Result) bool {
			out = append(out, Package{
				Name:           name.String(),
				CleanedVersion: cleanVersion(version.String()),
				Ecosystem:      EcosystemNPM,
			})
			return true
		})
	}
	return out
}

var requirementLineRe = regexp.MustCompile(`^([A-Za-z0-9_.\-]+)\s*([=<>!~]{1,2})?\s*([0-9][0-9A-Za-z.\-]*)?`)

// ParseRequirementsTxt extracts PyPI-ecosystem packages from a
// requirements.txt-style file.
func ParseRequirementsTxt(content []byte) []Package {
	var out []Package
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		m := requirementLineRe.FindStringSubmatch(line)
		if m == nil || m[1] == "" {
			continue
		}
		out = append(out, Package{
			Name:           m[1],
			CleanedVersion: cleanVersion(m[3]),
			Ecosystem:      EcosystemPyPI,
		})
	}
	return out
}

var pyprojectDepRe = regexp.MustCompile(`(?m)^([A-Za-z0-9_.\-]+)\s*=\s*"([^"]*)"`)

// ParsePyprojectToml extracts PyPI-ecosystem packages from the
// [tool.poetry.dependencies] table, tolerating a simplified parse rather
// than a full TOML AST.
func ParsePyprojectToml(content []byte) []Package {
	var out []Package
	text := string(content)
	idx := strings.Index(text, "[tool.poetry.dependencies]")
	if idx < 0 {
		return out
	}
	section := text[idx:]
	if end := strings.Index(section[1:], "\n["); end >= 0 {
		section = section[:end+1]
	}
	for _, m := range pyprojectDepRe.FindAllStringSubmatch(section, -1) {
		if strings.EqualFold(m[1], "python") {
			continue
		}
		out = append(out, Package{Name: m[1], CleanedVersion: cleanVersion(m[2]), Ecosystem: EcosystemPyPI})
	}
	return out
}

var goModRequireRe = regexp.MustCompile(`^\s*([^\s]+)\s+v([0-9][0-9A-Za-z.\-+]*)`)

// ParseGoMod extracts Go-ecosystem packages from require directives,
// handling both single-line and block `require (...)` forms.
func ParseGoMod(content []byte) []Package {
	var out []Package
	inBlock := false
	for _, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "require ("):
			inBlock = true
			continue
		case inBlock && trimmed == ")":
			inBlock = false
			continue
		case strings.HasPrefix(trimmed, "require "):
			trimmed = strings.TrimPrefix(trimmed, "require ")
		case !inBlock:
			continue
		}
		trimmed = strings.TrimSuffix(trimmed, " // indirect")
		m := goModRequireRe.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		out = append(out, Package{Name: m[1], CleanedVersion: m[2], Ecosystem: EcosystemGo})
	}
	return out
}

// osvQueryRequest is the OSV v1/query wire request shape.
type osvQueryRequest struct {
	Package struct {
		Name      string `json:"name"`
		Ecosystem string `json:"ecosystem"`
	} `json:"package"`
	Version string `json:"version"`
}

// osvVulnerability is the subset of OSV's vulnerability wire shape this
// scanner consumes.
type osvVulnerability struct {
	ID       string `json:"id"`
	Summary  string `json:"summary"`
	Details  string `json:"details"`
	Severity []struct {
		Type  string `json:"type"`
		Score string `json:"score"`
	} `json:"severity"`
}

type osvQueryResponse struct {
	Vulns []osvVulnerability `json:"vulns"`
}

// Client queries an OSV-style vulnerability database.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a Client against baseURL using http.DefaultClient.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTPClient: http.DefaultClient}
}

func (c *Client) query(ctx context.Context, pkg Package) ([]osvVulnerability, error) {
	req := osvQueryRequest{Version: pkg.CleanedVersion}
	req.Package.Name = pkg.Name
	req.Package.Ecosystem = pkg.Ecosystem

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(c.BaseURL, "/")+"/v1/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		// Network errors never fail the scan; caller treats this as empty.
		return nil, err
	}
	defer resp.Body.Close()

	var parsed osvQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return parsed.Vulns, nil
}

func severityFromCVSS(vulns []osvVulnerability) string {
	for _, v := range vulns {
		for _, s := range v.Severity {
			if score, err := strconv.ParseFloat(s.Score, 64); err == nil {
				return scoreToSeverity(score)
			}
		}
	}
	return issue.SeverityMedium
}

func scoreToSeverity(score float64) string {
	switch {
	case score >= 9:
		return issue.SeverityCritical
	case score >= 7:
		return issue.SeverityHigh
	case score >= 4:
		return issue.SeverityMedium
	default:
		return issue.SeverityLow
	}
}

// Scan queries the vulnerability DB for up to the first 50 packages found
// in manifestPath and maps results onto Issues. Network errors for an
// individual package yield no issues for that package rather than failing
// the scan.
func (c *Client) Scan(ctx context.Context, manifestPath string, packages []Package) []issue.Issue {
	if len(packages) > maxPackagesQueried {
		packages = packages[:maxPackagesQueried]
	}

	var issues []issue.Issue
	for _, pkg := range packages {
		vulns, err := c.query(ctx, pkg)
		if err != nil {
			continue
		}
		for _, v := range vulns {
			sev := severityFromCVSS([]osvVulnerability{v})
			evidence := v.Details
			if len(evidence) > 200 {
				evidence = evidence[:200]
			}
			candidate := issue.Issue{
				Category:   issue.CategoryDependency,
				Subtype:    "cve",
				Severity:   sev,
				Confidence: 0.95,
				FilePath:   manifestPath,
				LineStart:  1,
				LineEnd:    1,
				Message:    fmt.Sprintf("%s: %s (%s@%s)", v.ID, v.Summary, pkg.Name, pkg.CleanedVersion),
				Evidence:   evidence,
				SourceTool: "osv",
			}
			if issue.Validate(candidate) == nil {
				issues = append(issues, candidate)
			}
		}
	}
	return issues
}
