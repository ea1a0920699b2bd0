package vuln

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pr-review-automation/internal/issue"
)

func TestCleanVersion(t *testing.T) {
	assert.Equal(t, "4.17.11", cleanVersion("^4.17.11"))
	assert.Equal(t, "1.2.3", cleanVersion("~1.2.3"))
	assert.Equal(t, "1.2.3", cleanVersion(">=1.2.3"))
	assert.Equal(t, "1.2.3", cleanVersion("v1.2.3"))
	assert.Equal(t, "", cleanVersion("latest"))
}

func TestParsePackageJSON(t *testing.T) {
	content := []byte(`{"dependencies":{"lodash":"^4.17.11"},"devDependencies":{"jest":"29.0.0"}}`)
	pkgs := ParsePackageJSON(content)
	require.Len(t, pkgs, 2)
	names := []string{pkgs[0].Name, pkgs[1].Name}
	assert.ElementsMatch(t, []string{"lodash", "jest"}, names)
	for _, p := range pkgs {
		assert.Equal(t, EcosystemNPM, p.Ecosystem)
	}
}

func TestParseRequirementsTxt(t *testing.T) {
	content := []byte("# comment\nrequests==2.28.1\nflask>=2.0\n-e git+https://example.com/foo\n")
	pkgs := ParseRequirementsTxt(content)
	require.Len(t, pkgs, 2)
	assert.Equal(t, "requests", pkgs[0].Name)
	assert.Equal(t, "2.28.1", pkgs[0].CleanedVersion)
	assert.Equal(t, EcosystemPyPI, pkgs[0].Ecosystem)
}

func TestParsePyprojectToml(t *testing.T) {
	content := []byte("[tool.poetry.dependencies]\npython = \"^3.11\"\nrequests = \"2.28.1\"\n\n[tool.poetry.dev-dependencies]\npytest = \"7.0.0\"\n")
	pkgs := ParsePyprojectToml(content)
	require.Len(t, pkgs, 1)
	assert.Equal(t, "requests", pkgs[0].Name)
}

func TestParseGoMod(t *testing.T) {
	content := []byte("module example.com/foo\n\ngo 1.22\n\nrequire (\n\tgithub.com/stretchr/testify v1.9.0\n\tgolang.org/x/sync v0.19.0 // indirect\n)\n")
	pkgs := ParseGoMod(content)
	require.Len(t, pkgs, 2)
	assert.Equal(t, "github.com/stretchr/testify", pkgs[0].Name)
	assert.Equal(t, "1.9.0", pkgs[0].CleanedVersion)
	assert.Equal(t, EcosystemGo, pkgs[0].Ecosystem)
}

func TestScoreToSeverity(t *testing.T) {
	assert.Equal(t, issue.SeverityCritical, scoreToSeverity(9.8))
	assert.Equal(t, issue.SeverityHigh, scoreToSeverity(7.5))
	assert.Equal(t, issue.SeverityMedium, scoreToSeverity(4.0))
	assert.Equal(t, issue.SeverityLow, scoreToSeverity(1.0))
}

func TestScanProducesIssueScenario2(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := osvQueryResponse{Vulns: []osvVulnerability{
			{ID: "GHSA-jf85-cpcp-j695", Summary: "Prototype Pollution in lodash", Details: "A long explanation of the vulnerability that exceeds two hundred characters to test truncation behavior across the evidence field boundary check here and keep going a bit more for good measure."},
		}}
		resp.Vulns[0].Severity = []struct {
			Type  string `json:"type"`
			Score string `json:"score"`
		}{{Type: "CVSS_V3", Score: "7.4"}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	issues := client.Scan(context.Background(), "package.json", []Package{{Name: "lodash", CleanedVersion: "4.17.11", Ecosystem: EcosystemNPM}})

	require.Len(t, issues, 1)
	got := issues[0]
	assert.Equal(t, issue.CategoryDependency, got.Category)
	assert.GreaterOrEqual(t, severityRank(got.Severity), severityRank(issue.SeverityHigh))
	assert.Equal(t, 0.95, got.Confidence)
	assert.LessOrEqual(t, len(got.Evidence), 200)
}

func severityRank(s string) int {
	switch s {
	case issue.SeverityCritical:
		return 3
	case issue.SeverityHigh:
		return 2
	case issue.SeverityMedium:
		return 1
	default:
		return 0
	}
}

func TestScanBoundsToFirst50(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(osvQueryResponse{})
	}))
	defer srv.Close()

	pkgs := make([]Package, 75)
	for i := range pkgs {
		pkgs[i] = Package{Name: "pkg", CleanedVersion: "1.0.0", Ecosystem: EcosystemNPM}
	}

	client := NewClient(srv.URL)
	client.Scan(context.Background(), "package.json", pkgs)
	assert.Equal(t, 50, calls)
}

func TestScanNetworkErrorIsNonFatal(t *testing.T) {
	client := NewClient("http://127.0.0.1:0")
	issues := client.Scan(context.Background(), "package.json", []Package{{Name: "x", CleanedVersion: "1.0.0", Ecosystem: EcosystemNPM}})
	assert.Empty(t, issues)
}
