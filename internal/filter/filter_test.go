package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pr-review-automation/internal/diffparser"
)

func df(path string) diffparser.DiffFile {
	return diffparser.DiffFile{NewPath: path, Kind: diffparser.KindModify}
}

func TestCategorizeReviewable(t *testing.T) {
	res := Categorize([]diffparser.DiffFile{df("src/main.go")}, DefaultConfig())
	assert.Len(t, res.Reviewable, 1)
	assert.Empty(t, res.Excluded)
	assert.Empty(t, res.Lockfiles)
}

func TestCategorizeLockfileRouted(t *testing.T) {
	res := Categorize([]diffparser.DiffFile{df("go.sum"), df("package-lock.json")}, DefaultConfig())
	assert.Len(t, res.Lockfiles, 2)
	assert.Empty(t, res.Excluded)
}

func TestCategorizeBuiltinExcludes(t *testing.T) {
	res := Categorize([]diffparser.DiffFile{
		df("dist/bundle.js"),
		df("vendor/github.com/pkg/errors/errors.go"),
		df("assets/logo.png"),
		df("CHANGELOG.md"),
	}, DefaultConfig())
	assert.Len(t, res.Excluded, 4)
	assert.Empty(t, res.Reviewable)
}

func TestCategorizeIncludeOverridesExclude(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IncludePatterns = []string{"**/important.min.js"}
	res := Categorize([]diffparser.DiffFile{df("dist/important.min.js")}, cfg)
	assert.Len(t, res.Reviewable, 1)
	assert.Empty(t, res.Excluded)
}

func TestCategorizeBinarySkipped(t *testing.T) {
	f := df("thing.dat")
	f.IsBinary = true
	res := Categorize([]diffparser.DiffFile{f}, DefaultConfig())
	assert.Len(t, res.Excluded, 1)
}

func TestCategorizeMaxLines(t *testing.T) {
	f := df("huge.go")
	f.LinesAdded = 5000
	cfg := DefaultConfig()
	cfg.MaxLines = 1000
	res := Categorize([]diffparser.DiffFile{f}, cfg)
	assert.Len(t, res.Excluded, 1)
}

func TestMatchGlobCaseInsensitive(t *testing.T) {
	assert.True(t, matchGlob("**/*.PNG", "assets/Logo.png"))
}

func TestMatchGlobSegmentBoundary(t *testing.T) {
	assert.True(t, matchGlob("node_modules/**", "a/node_modules/pkg/index.js"))
}
