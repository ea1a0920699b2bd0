package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pr-review-automation/internal/diffparser"
)

func fileWithContent(path string, bodyLen int) diffparser.DiffFile {
	content := strings.Repeat("x", bodyLen)
	return diffparser.DiffFile{
		NewPath: path, OldPath: path, Kind: diffparser.KindModify,
		Hunks: []diffparser.DiffHunk{
			{RawText: "@@ -1,1 +1,1 @@", AddedLines: []diffparser.DiffLine{{LineNumber: 1, Content: content}}},
		},
	}
}

func TestSplitEmptyDiff(t *testing.T) {
	chunks := Split(&diffparser.ParsedDiff{}, DefaultConfig())
	assert.Empty(t, chunks)
}

func TestSplitSingleFileOverflow(t *testing.T) {
	cfg := Config{MaxTokens: 100, MaxFilesPerChunk: 10, KeepFilesTogether: true}
	big := fileWithContent("big.go", 1000) // estimated tokens = 250+ > 100
	pd := &diffparser.ParsedDiff{Files: []diffparser.DiffFile{big}}

	chunks := Split(pd, cfg)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0].Files, 1)
	assert.Equal(t, "big.go", chunks[0].FilePaths[0])
}

func TestSplitPreservesFileOrderAndPartitions(t *testing.T) {
	files := []diffparser.DiffFile{
		fileWithContent("a.go", 10),
		fileWithContent("b.go", 10),
		fileWithContent("c.go", 10),
	}
	pd := &diffparser.ParsedDiff{Files: files}
	chunks := Split(pd, DefaultConfig())

	var seen []string
	for _, c := range chunks {
		for _, f := range c.Files {
			seen = append(seen, f.EffectivePath())
		}
	}
	assert.Equal(t, []string{"a.go", "b.go", "c.go"}, seen)
}

func TestSplitFlushesOnMaxFilesPerChunk(t *testing.T) {
	cfg := Config{MaxTokens: 1_000_000, MaxFilesPerChunk: 2, KeepFilesTogether: true}
	files := []diffparser.DiffFile{
		fileWithContent("a.go", 10),
		fileWithContent("b.go", 10),
		fileWithContent("c.go", 10),
	}
	pd := &diffparser.ParsedDiff{Files: files}
	chunks := Split(pd, cfg)

	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0].Files, 2)
	assert.Len(t, chunks[1].Files, 1)
}

func TestSplitSetsIndexAndTotalChunks(t *testing.T) {
	cfg := Config{MaxTokens: 1_000_000, MaxFilesPerChunk: 1, KeepFilesTogether: true}
	files := []diffparser.DiffFile{fileWithContent("a.go", 10), fileWithContent("b.go", 10)}
	pd := &diffparser.ParsedDiff{Files: files}
	chunks := Split(pd, cfg)

	require.Len(t, chunks, 2)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, 2, c.TotalChunks)
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

func TestLanguageTagging(t *testing.T) {
	files := []diffparser.DiffFile{fileWithContent("main.go", 10), fileWithContent("app.ts", 10)}
	pd := &diffparser.ParsedDiff{Files: files}
	chunks := Split(pd, DefaultConfig())
	require.Len(t, chunks, 1)
	assert.ElementsMatch(t, []string{"go", "typescript"}, chunks[0].Languages)
}
