// Package chunker splits a ParsedDiff into LLM-sized chunks, respecting
// file boundaries and a token budget estimated from character count.
package chunker

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"pr-review-automation/internal/diffparser"
)

// Config tunes the chunker.
type Config struct {
	MaxTokens         int
	OverlapTokens     int
	MaxFilesPerChunk  int
	KeepFilesTogether bool
}

// DefaultConfig returns sane production defaults.
func DefaultConfig() Config {
	return Config{MaxTokens: 6000, OverlapTokens: 200, MaxFilesPerChunk: 10, KeepFilesTogether: true}
}

// Chunk is a bundle of one or more diff files sized for a single LLM call.
type Chunk struct {
	Index           int
	TotalChunks     int
	Files           []diffparser.DiffFile
	FilePaths       []string
	Content         string
	EstimatedTokens int
	Languages       []string
}

// EstimateTokens estimates a token count as ceil(chars/4), per spec.
func EstimateTokens(s string) int {
	return int(math.Ceil(float64(len(s)) / 4.0))
}

// Split splits a ParsedDiff into chunks per Config.
func Split(pd *diffparser.ParsedDiff, cfg Config) []Chunk {
	if cfg.MaxTokens <= 0 {
		cfg = DefaultConfig()
	}

	var chunks []Chunk
	var batch []diffparser.DiffFile
	var batchTokens int

	flush := func() {
		if len(batch) == 0 {
			return
		}
		chunks = append(chunks, buildChunk(batch))
		batch = nil
		batchTokens = 0
	}

	for _, f := range pd.Files {
		content := formatFile(f)
		tokens := EstimateTokens(content)

		if tokens > cfg.MaxTokens && len(batch) > 0 {
			flush()
		}

		if len(batch) > 0 && (batchTokens+tokens > cfg.MaxTokens || len(batch)+1 > cfg.MaxFilesPerChunk) {
			flush()
		}

		batch = append(batch, f)
		batchTokens += tokens
	}
	flush()

	for i := range chunks {
		chunks[i].Index = i
		chunks[i].TotalChunks = len(chunks)
	}

	return chunks
}

func buildChunk(files []diffparser.DiffFile) Chunk {
	var sb strings.Builder
	paths := make([]string, 0, len(files))
	langSeen := map[string]bool{}
	var languages []string

	for _, f := range files {
		content := formatFile(f)
		sb.WriteString(content)
		paths = append(paths, f.EffectivePath())

		lang := languageOf(f.EffectivePath())
		if lang != "" && !langSeen[lang] {
			langSeen[lang] = true
			languages = append(languages, lang)
		}
	}

	full := sb.String()
	return Chunk{
		Files:           files,
		FilePaths:       paths,
		Content:         full,
		EstimatedTokens: EstimateTokens(full),
		Languages:       languages,
	}
}

func formatFile(f diffparser.DiffFile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- file: %s (%s) ---\n", f.EffectivePath(), f.Kind)
	if f.IsBinary {
		sb.WriteString("[binary file, content omitted]\n")
		return sb.String()
	}
	for _, h := range f.Hunks {
		sb.WriteString(h.RawText)
		sb.WriteString("\n")
		for _, l := range h.RemovedLines {
			fmt.Fprintf(&sb, "-%s\n", l.Content)
		}
		for _, l := range h.AddedLines {
			fmt.Fprintf(&sb, "+%s\n", l.Content)
		}
	}
	return sb.String()
}

var extLanguage = map[string]string{
	".go": "go", ".ts": "typescript", ".tsx": "typescript", ".js": "javascript",
	".jsx": "javascript", ".py": "python", ".rb": "ruby", ".java": "java",
	".rs": "rust", ".c": "c", ".h": "c", ".cpp": "cpp", ".hpp": "cpp",
	".cs": "csharp", ".php": "php", ".kt": "kotlin", ".swift": "swift",
	".yaml": "yaml", ".yml": "yaml", ".json": "json", ".md": "markdown",
}

func languageOf(path string) string {
	return extLanguage[strings.ToLower(filepath.Ext(path))]
}
