// Package simple implements a paragraph-based chunking strategy.
// It is used for prose and as a fallback when TreeSitter does not support
// the language.
package simple

import (
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// Default values
const (
	DefaultMaxChunkSize = 500 // tokens (approximated as chars/4)
	DefaultOverlap      = 50  // tokens repeated at the start of the next chunk
	CharsPerToken       = 4   // rough approximation
)

// Config contains configuration for simple chunking.
type Config struct {
	MaxChunkSize int // Maximum chunk size in tokens
	Overlap      int // Overlap between consecutive chunks in tokens, -1 disables
}

// Chunker implements a paragraph-based chunking strategy.
type Chunker struct {
	config Config
}

// New creates a new simple chunker.
func New(cfg Config) *Chunker {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = DefaultOverlap
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.MaxChunkSize {
		cfg.Overlap = 0
	}
	return &Chunker{config: cfg}
}

// Name returns the strategy name.
func (c *Chunker) Name() string {
	return "simple"
}

type line struct {
	text string
	num  int
}

// Chunk packs lines into chunks of at most MaxChunkSize tokens, preferring to
// break at blank lines. Consecutive chunks share up to Overlap tokens of
// trailing lines.
func (c *Chunker) Chunk(src *types.SourceText) ([]*types.Chunk, error) {
	content := strings.ReplaceAll(string(src.Content), "\r\n", "\n")
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	maxChars := c.config.MaxChunkSize * CharsPerToken
	overlapChars := c.config.Overlap * CharsPerToken

	var lines []line
	for i, text := range strings.Split(content, "\n") {
		// Lines longer than a chunk are hard-wrapped at a rune boundary.
		for len(text) >= maxChars {
			cut := maxChars - 1
			for cut > 1 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			lines = append(lines, line{text: text[:cut], num: i + 1})
			text = text[cut:]
		}
		lines = append(lines, line{text: text, num: i + 1})
	}

	var (
		chunks    []*types.Chunk
		current   []line
		size      int
		fresh     int      // lines in current not carried over as overlap
		lastBlank int = -1 // index into current of the last blank line
	)

	emit := func(part []line) {
		text := strings.TrimSpace(joinLines(part))
		if text == "" {
			return
		}
		chunks = append(chunks, &types.Chunk{
			Index:     len(chunks),
			Source:    src.Source,
			Language:  src.Language,
			Content:   text,
			ChunkType: types.ChunkTypeBlock,
			StartLine: part[0].num,
			EndLine:   part[len(part)-1].num,
		})
	}

	for _, l := range lines {
		for size+len(l.text)+1 > maxChars && fresh > 0 {
			// Prefer to cut at the last paragraph break.
			cut, next := len(current), len(current)
			if lastBlank > len(current)-fresh {
				cut, next = lastBlank, lastBlank+1
			}
			emit(current[:cut])

			rest := append([]line(nil), current[next:]...)
			restSize := 0
			for _, rl := range rest {
				restSize += len(rl.text) + 1
			}
			// The overlap must leave room for the rest and the incoming line.
			budget := overlapChars
			if room := maxChars - restSize - len(l.text) - 1; room < budget {
				budget = room
			}

			current = append(tail(current[:cut], budget), rest...)
			fresh = len(rest)
			size = 0
			lastBlank = -1
			for i, cl := range current {
				size += len(cl.text) + 1
				if i >= len(current)-fresh && strings.TrimSpace(cl.text) == "" {
					lastBlank = i
				}
			}
		}

		if strings.TrimSpace(l.text) == "" {
			lastBlank = len(current)
		}
		current = append(current, l)
		size += len(l.text) + 1
		fresh++
	}
	if fresh > 0 {
		emit(current)
	}

	if len(chunks) == 1 {
		chunks[0].ChunkType = types.ChunkTypeFile
	}
	return chunks, nil
}

// tail returns the trailing lines of part totaling at most maxChars.
func tail(part []line, maxChars int) []line {
	size := 0
	start := len(part)
	for start > 0 {
		n := len(part[start-1].text) + 1
		if size+n > maxChars {
			break
		}
		size += n
		start--
	}
	return append([]line(nil), part[start:]...)
}

func joinLines(part []line) string {
	texts := make([]string, len(part))
	for i, l := range part {
		texts[i] = l.text
	}
	return strings.Join(texts, "\n")
}

// SupportsLanguage returns true for any language.
func (c *Chunker) SupportsLanguage(lang string) bool {
	return true // Simple chunker works with any text
}

// Close releases resources.
func (c *Chunker) Close() error {
	return nil
}

// DetectLanguage detects language from file extension.
// Prose and unknown formats return "text".
func DetectLanguage(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".mjs", ".cjs", ".jsx":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	case ".c", ".h":
		return "c"
	case ".cpp", ".cc", ".cxx", ".hpp":
		return "cpp"
	case ".rb":
		return "ruby"
	case ".php":
		return "php"
	case ".sh", ".bash":
		return "bash"
	case ".sql":
		return "sql"
	case ".md", ".markdown":
		return "markdown"
	case ".html", ".htm":
		return "html"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "text"
	}
}

// Ensure Chunker implements ChunkingStrategy interface
var _ provider.ChunkingStrategy = (*Chunker)(nil)
