package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spetr/chatwizard/builtin/chunking/simple"
	"github.com/spetr/chatwizard/builtin/embedding/hash"
	"github.com/spetr/chatwizard/builtin/vectorstore/memory"
	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

func newIngester(t *testing.T, root string) (*Ingester, *memory.Store) {
	t.Helper()
	idx := memory.New()
	in := New(Config{
		Chunker:   simple.New(simple.Config{MaxChunkSize: 20, Overlap: -1}),
		Embedding: hash.New(hash.Config{Dimensions: 64, BatchSize: 2}),
		Index:     idx,
		Root:      root,
		Include:   []string{"**/*.md", "**/*.txt"},
		Exclude:   []string{"**/skip/**"},
	})
	return in, idx
}

func paragraphs(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = strings.Repeat("word ", 12) + "end"
	}
	return strings.Join(parts, "\n\n")
}

func count(t *testing.T, idx provider.VectorIndex) int {
	t.Helper()
	n, err := idx.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestIngestText(t *testing.T) {
	in, idx := newIngester(t, "")
	ctx := context.Background()

	n, err := in.IngestText(ctx, "notes.md", paragraphs(5), map[string]any{"author": "ops"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || count(t, idx) != 5 {
		t.Fatalf("stored %d chunks, index has %d, want 5", n, count(t, idx))
	}

	q := hash.Vector(strings.Repeat("word ", 12)+"end", 64)
	found, err := idx.FindSimilar(ctx, q, 1)
	if err != nil {
		t.Fatal(err)
	}
	meta := found[0].Document.Metadata
	if meta["source"] != "notes.md" || meta["author"] != "ops" || meta["language"] != "markdown" {
		t.Errorf("metadata = %v", meta)
	}
	if found[0].Document.ID != DocumentID("notes.md", meta["chunk_index"].(int)) {
		t.Errorf("unexpected id %s", found[0].Document.ID)
	}
}

func TestReingestReplacesSource(t *testing.T) {
	in, idx := newIngester(t, "")
	ctx := context.Background()

	if _, err := in.IngestText(ctx, "a.md", paragraphs(5), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := in.IngestText(ctx, "b.md", paragraphs(2), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := in.IngestText(ctx, "a.md", paragraphs(3), nil); err != nil {
		t.Fatal(err)
	}
	if got := count(t, idx); got != 5 {
		t.Errorf("index has %d documents, want 3 for a.md plus 2 for b.md", got)
	}
	for i := 3; i < 5; i++ {
		if k, _ := idx.DeleteByMetadata(ctx, MetadataChunkID, DocumentID("a.md", i)); k != 0 {
			t.Errorf("stale chunk %d of a.md still indexed", i)
		}
	}

	removed, err := in.Remove(ctx, "a.md")
	if err != nil || removed != 3 {
		t.Errorf("Remove = %d, %v", removed, err)
	}
}

type brokenEmbedding struct{ provider.EmbeddingProvider }

func (brokenEmbedding) Embed(context.Context, []string) ([][]float32, error) {
	return nil, &types.EmbeddingUnavailableError{Provider: "broken", Err: errors.New("down")}
}

func TestEmbeddingFailureKeepsExistingDocuments(t *testing.T) {
	in, idx := newIngester(t, "")
	ctx := context.Background()
	if _, err := in.IngestText(ctx, "a.md", paragraphs(2), nil); err != nil {
		t.Fatal(err)
	}

	in.embedding = brokenEmbedding{in.embedding}
	_, err := in.IngestText(ctx, "a.md", paragraphs(4), nil)
	if !errors.Is(err, types.ErrEmbeddingUnavailable) {
		t.Fatalf("expected embedding unavailable, got %v", err)
	}
	if got := count(t, idx); got != 2 {
		t.Errorf("index has %d documents after a failed re-ingest, want 2", got)
	}
}

func TestStoreFailureKeepsExistingDocuments(t *testing.T) {
	in, idx := newIngester(t, "")
	ctx := context.Background()
	if _, err := in.IngestText(ctx, "a.md", paragraphs(2), nil); err != nil {
		t.Fatal(err)
	}

	// The index is established at 64 dimensions, so the batch is rejected.
	in.embedding = hash.New(hash.Config{Dimensions: 32})
	_, err := in.IngestText(ctx, "a.md", paragraphs(4), nil)
	var dimErr *types.DimensionMismatchError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if got := count(t, idx); got != 2 {
		t.Fatalf("index has %d documents after a failed re-ingest, want 2", got)
	}

	found, err := idx.FindSimilar(ctx, hash.Vector(strings.Repeat("word ", 12)+"end", 64), 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range found {
		if r.Document.Metadata[MetadataSource] != "a.md" {
			t.Errorf("unexpected document %s", r.Document.ID)
		}
	}
}

func TestReingestEmptyTextRemovesSource(t *testing.T) {
	in, idx := newIngester(t, "")
	ctx := context.Background()
	if _, err := in.IngestText(ctx, "a.md", paragraphs(3), nil); err != nil {
		t.Fatal(err)
	}
	n, err := in.IngestText(ctx, "a.md", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || count(t, idx) != 0 {
		t.Errorf("stored %d, index has %d, want both 0", n, count(t, idx))
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestIngestDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "README.md"), "# Readme\n\nHello.")
	writeFile(t, filepath.Join(root, "docs", "guide.txt"), paragraphs(2))
	writeFile(t, filepath.Join(root, "docs", "skip", "old.md"), "excluded")
	writeFile(t, filepath.Join(root, ".hidden", "secret.md"), "hidden")
	writeFile(t, filepath.Join(root, "main.go"), "package main")
	writeFile(t, filepath.Join(root, "empty.md"), "   ")
	writeFile(t, filepath.Join(root, "blob.txt"), "bin\x00ary")

	in, idx := newIngester(t, root)
	var progress []Progress
	in.onProgress = func(p Progress) { progress = append(progress, p) }

	stats, err := in.IngestDir(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Files != 2 || stats.Chunks != 3 || stats.Skipped != 2 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if count(t, idx) != 3 {
		t.Errorf("index has %d documents, want 3", count(t, idx))
	}
	if len(progress) != 4 || progress[3].Total != 4 {
		t.Errorf("progress = %+v", progress)
	}

	removed, err := in.Remove(context.Background(), "docs/guide.txt")
	if err != nil || removed != 2 {
		t.Errorf("Remove(docs/guide.txt) = %d, %v; sources should be root relative", removed, err)
	}
}

func TestIngestFileSkipsLargeFiles(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "big.md")
	writeFile(t, path, strings.Repeat("x", 100))

	in, idx := newIngester(t, root)
	in.maxFileSize = 10
	n, err := in.IngestFile(context.Background(), path)
	if err != nil || n != 0 || count(t, idx) != 0 {
		t.Errorf("IngestFile(big) = %d, %v", n, err)
	}
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern, path string
		want          bool
	}{
		{"**/*.md", "README.md", true},
		{"**/*.md", "docs/a/b.md", true},
		{"**/*.md", "docs/a/b.txt", false},
		{"**/vendor/**", "vendor", true},
		{"**/vendor/**", "src/vendor/x.go", true},
		{"**/vendor/**", "vendors/x.go", false},
		{"docs/*.txt", "docs/a.txt", true},
		{"docs/*.txt", "docs/sub/a.txt", false},
		{"**/go.sum", "go.sum", true},
		{"*.md", "a/b.md", false},
	}
	for _, tt := range tests {
		if got := matchGlob(tt.pattern, tt.path); got != tt.want {
			t.Errorf("matchGlob(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestWatcher(t *testing.T) {
	root := t.TempDir()
	in, idx := newIngester(t, root)

	w, err := NewWatcher(WatcherConfig{Ingester: in, Dir: root, Debounce: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor := func(want int) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if count(t, idx) == want {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		t.Fatalf("index has %d documents, want %d", count(t, idx), want)
	}

	path := filepath.Join(root, "live.md")
	writeFile(t, path, paragraphs(2))
	waitFor(2)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(0)
}
