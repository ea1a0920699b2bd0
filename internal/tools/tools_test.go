package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pr-review-automation/internal/issue"
)

func TestESLintCategoryInference(t *testing.T) {
	assert.Equal(t, issue.CategorySecurity, eslintCategory("security/detect-eval"))
	assert.Equal(t, issue.CategoryCorrectness, eslintCategory("no-unused-vars"))
	assert.Equal(t, issue.CategoryMaintainability, eslintCategory("max-lines"))
	assert.Equal(t, issue.CategoryStyle, eslintCategory("quotes"))
}

func TestRuffCategoryInference(t *testing.T) {
	assert.Equal(t, issue.CategorySecurity, ruffCategory("S101"))
	assert.Equal(t, issue.CategoryCorrectness, ruffCategory("E501"))
	assert.Equal(t, issue.CategoryMaintainability, ruffCategory("C901"))
	assert.Equal(t, issue.CategoryStyle, ruffCategory("D100"))
}

func TestStaticcheckCategoryInference(t *testing.T) {
	assert.Equal(t, issue.CategorySecurity, staticcheckCategory("SA4006"))
	assert.Equal(t, issue.CategoryCorrectness, staticcheckCategory("S1000"))
	assert.Equal(t, issue.CategoryStyle, staticcheckCategory("ST1003"))
	assert.Equal(t, issue.CategoryMaintainability, staticcheckCategory("U1000"))
}

func TestHMLSeverityAndConfidence(t *testing.T) {
	assert.Equal(t, issue.SeverityHigh, hmlSeverity("HIGH"))
	assert.Equal(t, issue.SeverityMedium, hmlSeverity("MEDIUM"))
	assert.Equal(t, issue.SeverityLow, hmlSeverity("LOW"))
	assert.Equal(t, 0.9, hmlConfidence("HIGH"))
	assert.Equal(t, 0.7, hmlConfidence("MEDIUM"))
	assert.Equal(t, 0.5, hmlConfidence("LOW"))
}

func TestESLintRunnerMissingConfig(t *testing.T) {
	dir := t.TempDir()
	result := ESLintRunner{}.Run(context.Background(), dir, nil, Config{})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no eslint config")
}

func TestESLintHasConfigViaPackageJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"eslintConfig":{"rules":{}}}`), 0o644))
	assert.True(t, hasESLintConfig(dir))
}

func TestRuffHasConfigViaPyproject(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte("[tool.ruff]\nline-length = 100\n"), 0o644))
	assert.True(t, hasRuffConfig(dir))
}

func TestSplitPosn(t *testing.T) {
	path, line := splitPosn("/repo/main.go:42:7")
	assert.Equal(t, "/repo/main.go", path)
	assert.Equal(t, 42, line)
}

func TestAllRespectsEnabledMap(t *testing.T) {
	runners := All(map[string]bool{"eslint": true})
	require.Len(t, runners, 1)
	assert.Equal(t, "eslint", runners[0].Name())
}

func TestUnavailableBinaryIsNonFatal(t *testing.T) {
	r := StaticcheckRunner{}
	if r.IsAvailable() {
		t.Skip("staticcheck happens to be installed in this environment")
	}
	result := r.Run(context.Background(), t.TempDir(), nil, Config{})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "not installed")
}
