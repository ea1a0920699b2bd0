// Package diffparser turns unified-diff text into a structured ParsedDiff
// tree: an ordered sequence of files, each with its hunks and reconstructed
// per-line numbering. The parser is deliberately lenient — it tolerates any
// malformed fragment it doesn't recognize and skips it — because diff text
// comes from a variety of upstream producers (the forge's API, git itself,
// hand-edited patches).
package diffparser

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedDiff is returned only when a hunk header appears before any
// file header has been seen. Every other malformed fragment is tolerated.
var ErrMalformedDiff = errors.New("malformed diff: hunk header precedes any file header")

// Change kinds for DiffFile.Kind.
const (
	KindAdd    = "add"
	KindDelete = "delete"
	KindModify = "modify"
	KindRename = "rename"
)

// DiffLine is a single added or removed line with its reconstructed
// line number in the file it belongs to (new-file numbering for additions,
// old-file numbering for removals).
type DiffLine struct {
	LineNumber int
	Content    string
}

// DiffHunk is one `@@ -a,b +c,d @@` region of a file's diff.
type DiffHunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	RawText  string

	AddedLines   []DiffLine
	RemovedLines []DiffLine
}

// DiffFile describes one file's change within a diff.
type DiffFile struct {
	OldPath string // empty when absent (add)
	NewPath string // empty when absent (delete)
	Kind    string

	IsBinary bool

	// SimilarityIndex is nil unless a `similarity index N%` line was seen.
	SimilarityIndex *int

	OldMode string
	NewMode string

	Hunks []DiffHunk

	LinesAdded   int
	LinesRemoved int
}

// EffectivePath returns NewPath, falling back to OldPath for deletions.
func (f DiffFile) EffectivePath() string {
	if f.NewPath != "" {
		return f.NewPath
	}
	return f.OldPath
}

// ParsedDiff is the ordered, whole-diff parse result.
type ParsedDiff struct {
	Files             []DiffFile
	TotalLinesAdded   int
	TotalLinesRemoved int
}

var (
	diffGitRe       = regexp.MustCompile(`^diff --git (\S+) (\S+)\s*$`)
	oldFileRe       = regexp.MustCompile(`^--- (.+)$`)
	newFileRe       = regexp.MustCompile(`^\+\+\+ (.+)$`)
	renameFromRe    = regexp.MustCompile(`^rename from (.+)$`)
	renameToRe      = regexp.MustCompile(`^rename to (.+)$`)
	similarityRe    = regexp.MustCompile(`^similarity index (\d+)%$`)
	newFileModeRe   = regexp.MustCompile(`^new file mode (\S+)$`)
	deletedModeRe   = regexp.MustCompile(`^deleted file mode (\S+)$`)
	oldModeRe       = regexp.MustCompile(`^old mode (\S+)$`)
	newModeRe       = regexp.MustCompile(`^new mode (\S+)$`)
	binaryDifferRe  = regexp.MustCompile(`^Binary files (.+) and (.+) differ$`)
	hunkHeaderRe    = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)
)

// fileBuilder accumulates per-file state while scanning, since a file's
// true Kind isn't known until every header line has been seen.
type fileBuilder struct {
	file DiffFile

	sawOldHeader bool
	sawNewHeader bool
	oldDevNull   bool
	newDevNull   bool

	renameFrom string
	renameTo   string

	fallbackOld string
	fallbackNew string
}

// Parse parses unified-diff text into a ParsedDiff.
func Parse(diffText string) (*ParsedDiff, error) {
	lines := strings.Split(diffText, "\n")

	pd := &ParsedDiff{}
	var cur *fileBuilder
	var curHunk *DiffHunk
	var addedLineNum, removedLineNum int
	seenFileHeader := false

	flushHunk := func() {
		if curHunk != nil && cur != nil {
			cur.file.Hunks = append(cur.file.Hunks, *curHunk)
			curHunk = nil
		}
	}
	flushFile := func() {
		flushHunk()
		if cur != nil {
			finalized := finalizeFile(cur)
			pd.Files = append(pd.Files, finalized)
			pd.TotalLinesAdded += finalized.LinesAdded
			pd.TotalLinesRemoved += finalized.LinesRemoved
			cur = nil
		}
	}

	for _, line := range lines {
		switch {
		case diffGitRe.MatchString(line):
			flushFile()
			cur = &fileBuilder{}
			m := diffGitRe.FindStringSubmatch(line)
			cur.fallbackOld = stripGitPrefix(m[1])
			cur.fallbackNew = stripGitPrefix(m[2])
			seenFileHeader = true

		case cur != nil && curHunk == nil && oldFileRe.MatchString(line):
			m := oldFileRe.FindStringSubmatch(line)
			path := strings.TrimSpace(m[1])
			if path == "/dev/null" {
				cur.oldDevNull = true
			} else {
				cur.file.OldPath = stripGitPrefix(path)
			}
			cur.sawOldHeader = true

		case cur != nil && curHunk == nil && newFileRe.MatchString(line):
			m := newFileRe.FindStringSubmatch(line)
			path := strings.TrimSpace(m[1])
			if path == "/dev/null" {
				cur.newDevNull = true
			} else {
				cur.file.NewPath = stripGitPrefix(path)
			}
			cur.sawNewHeader = true

		case cur != nil && curHunk == nil && renameFromRe.MatchString(line):
			cur.renameFrom = renameFromRe.FindStringSubmatch(line)[1]

		case cur != nil && curHunk == nil && renameToRe.MatchString(line):
			cur.renameTo = renameToRe.FindStringSubmatch(line)[1]

		case cur != nil && curHunk == nil && similarityRe.MatchString(line):
			n, _ := strconv.Atoi(similarityRe.FindStringSubmatch(line)[1])
			cur.file.SimilarityIndex = &n

		case cur != nil && curHunk == nil && newFileModeRe.MatchString(line):
			cur.file.NewMode = newFileModeRe.FindStringSubmatch(line)[1]
			cur.oldDevNull = true

		case cur != nil && curHunk == nil && deletedModeRe.MatchString(line):
			cur.file.OldMode = deletedModeRe.FindStringSubmatch(line)[1]
			cur.newDevNull = true

		case cur != nil && curHunk == nil && oldModeRe.MatchString(line):
			cur.file.OldMode = oldModeRe.FindStringSubmatch(line)[1]

		case cur != nil && curHunk == nil && newModeRe.MatchString(line):
			cur.file.NewMode = newModeRe.FindStringSubmatch(line)[1]

		case cur != nil && binaryDifferRe.MatchString(line):
			cur.file.IsBinary = true

		case hunkHeaderRe.MatchString(line):
			if !seenFileHeader {
				return nil, ErrMalformedDiff
			}
			flushHunk()
			m := hunkHeaderRe.FindStringSubmatch(line)
			oldStart, _ := strconv.Atoi(m[1])
			oldCount := 1
			if m[2] != "" {
				oldCount, _ = strconv.Atoi(m[2])
			}
			newStart, _ := strconv.Atoi(m[3])
			newCount := 1
			if m[4] != "" {
				newCount, _ = strconv.Atoi(m[4])
			}
			curHunk = &DiffHunk{
				OldStart: oldStart,
				OldCount: oldCount,
				NewStart: newStart,
				NewCount: newCount,
				RawText:  line,
			}
			addedLineNum = newStart
			removedLineNum = oldStart

		case curHunk != nil && strings.HasPrefix(line, "+"):
			curHunk.AddedLines = append(curHunk.AddedLines, DiffLine{LineNumber: addedLineNum, Content: line[1:]})
			addedLineNum++

		case curHunk != nil && strings.HasPrefix(line, "-"):
			curHunk.RemovedLines = append(curHunk.RemovedLines, DiffLine{LineNumber: removedLineNum, Content: line[1:]})
			removedLineNum++

		case curHunk != nil && (line == "" || strings.HasPrefix(line, " ")):
			addedLineNum++
			removedLineNum++

		default:
			// Unrecognized fragment: tolerated and skipped.
		}
	}

	flushFile()
	return pd, nil
}

func finalizeFile(b *fileBuilder) DiffFile {
	f := b.file

	switch {
	case b.renameFrom != "" && b.renameTo != "" && b.renameFrom != b.renameTo:
		f.Kind = KindRename
		f.OldPath = b.renameFrom
		f.NewPath = b.renameTo
	case b.oldDevNull:
		f.Kind = KindAdd
		f.OldPath = ""
		if f.NewPath == "" {
			f.NewPath = b.fallbackNew
		}
	case b.newDevNull:
		f.Kind = KindDelete
		f.NewPath = ""
		if f.OldPath == "" {
			f.OldPath = b.fallbackOld
		}
	default:
		f.Kind = KindModify
		if f.OldPath == "" {
			f.OldPath = b.fallbackOld
		}
		if f.NewPath == "" {
			f.NewPath = b.fallbackNew
		}
	}

	if f.IsBinary {
		f.Hunks = nil
	}

	for _, h := range f.Hunks {
		f.LinesAdded += len(h.AddedLines)
		f.LinesRemoved += len(h.RemovedLines)
	}

	return f
}

// stripGitPrefix removes the conventional a/ or b/ prefix git diff headers
// use, leaving the bare repository-relative path.
func stripGitPrefix(p string) string {
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		return p[2:]
	}
	return p
}
