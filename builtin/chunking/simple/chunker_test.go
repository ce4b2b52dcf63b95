package simple

import (
	"strings"
	"testing"

	"github.com/spetr/chatwizard/pkg/types"
)

func TestChunkSmallText(t *testing.T) {
	c := New(Config{})
	chunks, err := c.Chunk(&types.SourceText{Source: "note.md", Content: []byte("Hello world.\n\nSecond paragraph.")})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].ChunkType != types.ChunkTypeFile || chunks[0].Source != "note.md" {
		t.Errorf("unexpected chunk: %+v", chunks[0])
	}
	if chunks[0].StartLine != 1 || chunks[0].EndLine != 3 {
		t.Errorf("lines = %d-%d, want 1-3", chunks[0].StartLine, chunks[0].EndLine)
	}
}

func TestChunkEmpty(t *testing.T) {
	chunks, err := New(Config{}).Chunk(&types.SourceText{Content: []byte("  \n\n ")})
	if err != nil || len(chunks) != 0 {
		t.Errorf("Chunk(blank) = %v, %v", chunks, err)
	}
}

func TestChunkRespectsMaxSize(t *testing.T) {
	var b strings.Builder
	for p := 0; p < 20; p++ {
		for l := 0; l < 5; l++ {
			b.WriteString("lorem ipsum dolor sit amet consectetur\n")
		}
		b.WriteString("\n")
	}

	c := New(Config{MaxChunkSize: 50, Overlap: -1}) // 200 chars
	chunks, err := c.Chunk(&types.SourceText{Source: "long.txt", Content: []byte(b.String())})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 10 {
		t.Fatalf("got %d chunks, expected the text to be split", len(chunks))
	}
	for i, ch := range chunks {
		if len(ch.Content) > 200 {
			t.Errorf("chunk %d has %d chars, limit 200", i, len(ch.Content))
		}
		if ch.Index != i {
			t.Errorf("chunk %d has Index %d", i, ch.Index)
		}
		if ch.ChunkType != types.ChunkTypeBlock {
			t.Errorf("chunk %d type = %s", i, ch.ChunkType)
		}
	}
}

func TestChunkOverlap(t *testing.T) {
	var b strings.Builder
	for l := 0; l < 40; l++ {
		b.WriteString("line number ")
		b.WriteString(strings.Repeat("x", 10))
		b.WriteString("\n")
	}

	c := New(Config{MaxChunkSize: 40, Overlap: 10}) // 160 chars, 40 chars overlap
	chunks, err := c.Chunk(&types.SourceText{Content: []byte(b.String())})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartLine > chunks[i-1].EndLine {
			t.Errorf("chunk %d starts at line %d after previous end %d; expected overlap",
				i, chunks[i].StartLine, chunks[i-1].EndLine)
		}
	}
}

func TestChunkLongLine(t *testing.T) {
	c := New(Config{MaxChunkSize: 10, Overlap: -1}) // 40 chars
	chunks, err := c.Chunk(&types.SourceText{Content: []byte(strings.Repeat("é", 100))})
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, ch := range chunks {
		if len(ch.Content) > 40 {
			t.Errorf("chunk has %d bytes, limit 40", len(ch.Content))
		}
		if !strings.HasPrefix(ch.Content, "é") {
			t.Errorf("chunk split inside a rune: %q", ch.Content)
		}
		total += len(ch.Content)
	}
	if total != 200 {
		t.Errorf("total bytes = %d, want 200", total)
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := map[string]string{
		"main.go":      "go",
		"app.TSX":      "typescript",
		"README.md":    "markdown",
		"script.py":    "python",
		"notes":        "text",
		"data.unknown": "text",
	}
	for path, want := range tests {
		if got := DetectLanguage(path); got != want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", path, got, want)
		}
	}
}
