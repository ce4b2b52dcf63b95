// Package ingest turns text and files into embedded documents in a vector index.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/spetr/chatwizard/builtin/chunking/simple"
	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// MetadataSource is the metadata key holding a document's source name.
const MetadataSource = "source"

// MetadataChunkID is the metadata key holding a copy of the document ID.
const MetadataChunkID = "chunk_id"

// DefaultMaxFileSize is used when Config.MaxFileSize is not positive.
const DefaultMaxFileSize = 1 << 20

// namespace scopes document ids derived from source names.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/spetr/chatwizard/documents"))

// Ingester chunks, embeds and stores sources.
type Ingester struct {
	chunker     provider.ChunkingStrategy
	embedding   provider.EmbeddingProvider
	index       provider.VectorIndex
	root        string
	include     []string
	exclude     []string
	maxFileSize int64
	onProgress  func(Progress)
}

// Config contains ingester configuration.
type Config struct {
	Chunker     provider.ChunkingStrategy
	Embedding   provider.EmbeddingProvider
	Index       provider.VectorIndex
	Root        string   // file sources are named relative to Root
	Include     []string // glob patterns, empty includes everything
	Exclude     []string // glob patterns
	MaxFileSize int64    // bytes
	OnProgress  func(Progress)
}

// Progress reports directory ingestion.
type Progress struct {
	File      string
	Processed int
	Total     int
	Chunks    int
}

// Stats summarizes a directory ingestion.
type Stats struct {
	Files   int
	Chunks  int
	Skipped int
	Failed  int
}

// New creates a new ingester.
func New(cfg Config) *Ingester {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	root := cfg.Root
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	return &Ingester{
		chunker:     cfg.Chunker,
		embedding:   cfg.Embedding,
		index:       cfg.Index,
		root:        root,
		include:     cfg.Include,
		exclude:     cfg.Exclude,
		maxFileSize: cfg.MaxFileSize,
		onProgress:  cfg.OnProgress,
	}
}

// DocumentID returns the id of chunk index of source.
// Re-ingesting a source produces the same ids, overwriting its documents.
func DocumentID(source string, index int) string {
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("%s#%d", source, index))).String()
}

// IngestText chunks text, embeds the chunks and replaces every document
// previously stored for source. It returns the number of stored chunks.
// The previous version stays in the index when chunking, embedding or
// storing fails.
func (in *Ingester) IngestText(ctx context.Context, source, text string, metadata map[string]any) (int, error) {
	src := &types.SourceText{
		Source:   source,
		Content:  []byte(text),
		Language: simple.DetectLanguage(source),
	}
	chunks, err := in.chunker.Chunk(src)
	if err != nil {
		return 0, fmt.Errorf("chunk %s: %w", source, err)
	}

	embeddings, err := in.embed(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed %s: %w", source, err)
	}

	hash := src.ComputeHash()
	docs := make([]*types.Document, len(chunks))
	for i, ch := range chunks {
		meta := make(map[string]any, len(metadata)+8)
		for k, v := range metadata {
			meta[k] = v
		}
		meta[MetadataSource] = source
		meta[MetadataChunkID] = DocumentID(source, ch.Index)
		meta["chunk_index"] = ch.Index
		meta["chunk_type"] = string(ch.ChunkType)
		meta["start_line"] = ch.StartLine
		meta["end_line"] = ch.EndLine
		meta["content_hash"] = hash
		if ch.Language != "" {
			meta["language"] = ch.Language
		}
		if ch.Name != "" {
			meta["name"] = ch.Name
		}
		docs[i] = &types.Document{
			ID:        DocumentID(source, ch.Index),
			Content:   ch.Content,
			Embedding: embeddings[i],
			Metadata:  meta,
		}
	}

	if len(docs) > 0 {
		if err := in.index.AddDocuments(ctx, docs); err != nil {
			return 0, fmt.Errorf("store %s: %w", source, err)
		}
	}

	var removed int
	if len(docs) == 0 {
		removed, err = in.index.DeleteByMetadata(ctx, MetadataSource, source)
	} else {
		removed, err = in.removeFrom(ctx, source, len(docs))
	}
	if err != nil {
		return len(docs), fmt.Errorf("remove stale documents of %s: %w", source, err)
	}

	slog.Debug("ingested source", "source", source, "chunks", len(docs), "stale", removed)
	return len(docs), nil
}

// removeFrom deletes the chunks of source numbered n and above, left over
// from a longer previous version. Chunk numbers are contiguous.
func (in *Ingester) removeFrom(ctx context.Context, source string, n int) (int, error) {
	removed := 0
	for i := n; ; i++ {
		k, err := in.index.DeleteByMetadata(ctx, MetadataChunkID, DocumentID(source, i))
		if err != nil {
			return removed, err
		}
		if k == 0 {
			return removed, nil
		}
		removed += k
	}
}

// embed embeds chunk contents in batches of the provider's batch size.
func (in *Ingester) embed(ctx context.Context, chunks []*types.Chunk) ([][]float32, error) {
	batchSize := in.embedding.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = len(chunks)
	}
	out := make([][]float32, 0, len(chunks))

	for i := 0; i < len(chunks); i += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, provider.ClassifyError(in.embedding.Name(), ctx, err)
		}

		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-i)
		for j, ch := range chunks[i:end] {
			texts[j] = ch.Content
		}

		vecs, err := in.embedding.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i/batchSize, err)
		}
		if len(vecs) != len(texts) {
			return nil, &types.EmbeddingUnavailableError{
				Provider: in.embedding.Name(),
				Err:      fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vecs)),
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Remove deletes every document of source.
func (in *Ingester) Remove(ctx context.Context, source string) (int, error) {
	return in.index.DeleteByMetadata(ctx, MetadataSource, source)
}

// SourceName returns the source name used for a file path: the slash
// separated path relative to the root when the file is inside it, the
// absolute path otherwise.
func (in *Ingester) SourceName(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if in.root != "" {
		if rel, err := filepath.Rel(in.root, abs); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(abs)
}

// IngestFile ingests one file. Files that are too large or not valid UTF-8
// text are skipped and report zero chunks.
func (in *Ingester) IngestFile(ctx context.Context, path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > in.maxFileSize {
		slog.Debug("skipping large file", "path", path, "size", info.Size(), "limit", in.maxFileSize)
		return 0, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if !isText(content) {
		slog.Debug("skipping binary file", "path", path)
		return 0, nil
	}

	return in.IngestText(ctx, in.SourceName(path), string(content), map[string]any{
		"path": path,
	})
}

func isText(content []byte) bool {
	head := content
	if len(head) > 8000 {
		head = head[:8000]
	}
	return bytes.IndexByte(head, 0) < 0 && utf8.Valid(content)
}

// IngestDir walks dir and ingests every file matching the include patterns
// and none of the exclude patterns. Hidden directories are skipped.
// A failing file is logged and counted; cancellation stops the walk.
func (in *Ingester) IngestDir(ctx context.Context, dir string) (*Stats, error) {
	files, err := in.scan(ctx, dir)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, err := in.IngestFile(ctx, path)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Failed++
			slog.Warn("failed to ingest file", "path", path, "error", err)
		case n == 0:
			stats.Skipped++
		default:
			stats.Files++
			stats.Chunks += n
		}
		if in.onProgress != nil {
			in.onProgress(Progress{File: path, Processed: i + 1, Total: len(files), Chunks: stats.Chunks})
		}
	}

	slog.Info("ingested directory", "dir", dir, "files", stats.Files, "chunks", stats.Chunks,
		"skipped", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}

// scan lists the files under dir selected for ingestion.
func (in *Ingester) scan(ctx context.Context, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, _ := filepath.Rel(dir, path)
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") || in.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type().IsRegular() && in.Matches(rel) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// Matches reports whether a slash separated relative path is selected by
// the include and exclude patterns.
func (in *Ingester) Matches(rel string) bool {
	if in.excluded(rel) {
		return false
	}
	if len(in.include) == 0 {
		return true
	}
	for _, pattern := range in.include {
		if matchGlob(pattern, rel) {
			return true
		}
	}
	return false
}

func (in *Ingester) excluded(rel string) bool {
	for _, pattern := range in.exclude {
		if matchGlob(pattern, rel) {
			return true
		}
	}
	return false
}
