// Package filter partitions a diff's files into reviewable source,
// dependency-manifest lockfiles, and excluded, using a configurable
// glob-based exclude/include set layered over built-in defaults.
package filter

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"pr-review-automation/internal/diffparser"
)

// builtinExcludes covers generated files, build outputs, vendor
// directories, minified/bundled assets, binary assets, IDE metadata,
// lockfiles, and CHANGELOG files. Lockfile matches here are superseded by
// the explicit lockfile partition below, which runs first.
var builtinExcludes = []string{
	"**/dist/**", "**/build/**", "**/out/**", "**/target/**",
	"**/node_modules/**", "**/vendor/**",
	"**/*.min.js", "**/*.min.css", "**/*.bundle.js", "**/*.map",
	"**/*.png", "**/*.jpg", "**/*.jpeg", "**/*.gif", "**/*.ico", "**/*.svg",
	"**/*.woff", "**/*.woff2", "**/*.ttf", "**/*.eot",
	"**/.idea/**", "**/.vscode/**",
	"**/*.lock", "**/package-lock.json", "**/yarn.lock", "**/pnpm-lock.yaml",
	"**/poetry.lock", "**/Pipfile.lock", "**/go.sum", "**/Cargo.lock",
	"**/Gemfile.lock", "**/composer.lock",
	"CHANGELOG*", "**/CHANGELOG*",
	"**/*.generated.*", "**/*.pb.go", "**/*_pb2.py",
}

// lockfileNames is the enumerated set of dependency-manifest lockfiles
// routed to the lockfiles partition rather than excluded.
var lockfileNames = map[string]bool{
	"package-lock.json": true,
	"pnpm-lock.yaml":    true,
	"yarn.lock":         true,
	"poetry.lock":       true,
	"Pipfile.lock":      true,
	"go.sum":            true,
	"Cargo.lock":        true,
	"Gemfile.lock":      true,
	"composer.lock":     true,
}

// Category is the partition a file was routed to.
type Category string

const (
	CategoryReviewable Category = "reviewable"
	CategoryLockfile   Category = "lockfile"
	CategoryExcluded   Category = "excluded"
)

// Config tunes the filter.
type Config struct {
	ExcludePatterns []string
	IncludePatterns []string
	SkipBinary      bool
	MaxLines        int
}

// DefaultConfig returns the built-in exclude set with binary skipping on
// and no line-count cap.
func DefaultConfig() Config {
	return Config{ExcludePatterns: nil, IncludePatterns: nil, SkipBinary: true, MaxLines: 0}
}

// Result is the output of Categorize.
type Result struct {
	Reviewable []diffparser.DiffFile
	Lockfiles  []diffparser.DiffFile
	Excluded   []diffparser.DiffFile
}

// Categorize partitions the files of a ParsedDiff.
func Categorize(files []diffparser.DiffFile, cfg Config) Result {
	var res Result

	excludes := append(append([]string{}, builtinExcludes...), cfg.ExcludePatterns...)

	for _, f := range files {
		path := f.EffectivePath()
		base := basename(path)

		if lockfileNames[base] {
			res.Lockfiles = append(res.Lockfiles, f)
			continue
		}

		if matchesAny(cfg.IncludePatterns, path) {
			res.Reviewable = append(res.Reviewable, f)
			continue
		}

		if cfg.SkipBinary && f.IsBinary {
			res.Excluded = append(res.Excluded, f)
			continue
		}
		if cfg.MaxLines > 0 && f.LinesAdded+f.LinesRemoved > cfg.MaxLines {
			res.Excluded = append(res.Excluded, f)
			continue
		}
		if matchesAny(excludes, path) {
			res.Excluded = append(res.Excluded, f)
			continue
		}

		res.Reviewable = append(res.Reviewable, f)
	}

	return res
}

func basename(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

func matchesAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if matchGlob(p, path) {
			return true
		}
	}
	return false
}

// matchGlob implements gitignore-style glob semantics: `*` matches any non-`/`
// run, `**` matches any run including `/`, `?` matches one char, a leading
// `**` or `/` anchors the pattern at the path root, otherwise the pattern
// may match starting at any path-segment boundary. Matching is
// case-insensitive.
func matchGlob(pattern, path string) bool {
	lp := strings.ToLower(pattern)
	path = strings.ToLower(path)

	if strings.HasPrefix(lp, "**") {
		ok, _ := doublestar.Match(lp, path)
		return ok
	}
	if strings.HasPrefix(lp, "/") {
		ok, _ := doublestar.Match(strings.TrimPrefix(lp, "/"), path)
		return ok
	}

	segments := strings.Split(path, "/")
	for i := range segments {
		suffix := strings.Join(segments[i:], "/")
		if ok, _ := doublestar.Match(lp, suffix); ok {
			return true
		}
	}
	return false
}
