// Package treesitter implements chunking using Tree-sitter for AST-aware splitting.
//
// Each top-level declaration becomes one chunk, together with the comment
// block directly above it. Declarations larger than the chunk size are split
// further by the simple strategy. Unsupported languages, and sources with no
// recognizable declarations, are delegated to the simple strategy entirely.
package treesitter

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	tstype "github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/spetr/chatwizard/builtin/chunking/simple"
	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// Default values
const (
	DefaultMaxChunkSize = 500 // tokens
	CharsPerToken       = simple.CharsPerToken
)

// Config contains configuration for TreeSitter chunking.
type Config struct {
	MaxChunkSize int // Maximum chunk size in tokens
	Overlap      int // Overlap used when a declaration has to be split
}

// Chunker implements AST-aware chunking using Tree-sitter.
type Chunker struct {
	config   Config
	fallback *simple.Chunker
}

// New creates a new TreeSitter chunker.
func New(cfg Config) *Chunker {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	return &Chunker{
		config:   cfg,
		fallback: simple.New(simple.Config{MaxChunkSize: cfg.MaxChunkSize, Overlap: cfg.Overlap}),
	}
}

// Name returns the strategy name.
func (c *Chunker) Name() string {
	return "treesitter"
}

// SupportsLanguage reports whether the language has a grammar.
func (c *Chunker) SupportsLanguage(lang string) bool {
	switch lang {
	case "go", "python", "javascript", "typescript":
		return true
	}
	return false
}

// Close releases resources.
func (c *Chunker) Close() error {
	return nil
}

func language(src *types.SourceText) *sitter.Language {
	switch src.Language {
	case "go":
		return golang.GetLanguage()
	case "python":
		return python.GetLanguage()
	case "javascript":
		return javascript.GetLanguage()
	case "typescript":
		if strings.EqualFold(filepath.Ext(src.Source), ".tsx") {
			return tsx.GetLanguage()
		}
		return tstype.GetLanguage()
	}
	return nil
}

// declaration is a top-level node selected for chunking.
type declaration struct {
	node      *sitter.Node
	startByte uint32 // includes the leading comment block
	startRow  uint32
	chunkType types.ChunkType
	name      string
}

// Chunk splits a source into one chunk per top-level declaration.
func (c *Chunker) Chunk(src *types.SourceText) ([]*types.Chunk, error) {
	lang := language(src)
	if lang == nil {
		return c.fallback.Chunk(src)
	}

	// Parsers are not safe for concurrent use, so each call gets its own.
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, src.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", src.Source, err)
	}
	defer tree.Close()

	decls := c.declarations(tree.RootNode(), src)
	if len(decls) == 0 {
		return c.fallback.Chunk(src)
	}

	maxChars := c.config.MaxChunkSize * CharsPerToken
	var chunks []*types.Chunk
	for _, d := range decls {
		content := string(src.Content[d.startByte:d.node.EndByte()])
		startLine := int(d.startRow) + 1
		endLine := int(d.node.EndPoint().Row) + 1

		if len(content) <= maxChars {
			chunks = append(chunks, &types.Chunk{
				Source:    src.Source,
				Language:  src.Language,
				Content:   content,
				ChunkType: d.chunkType,
				Name:      d.name,
				StartLine: startLine,
				EndLine:   endLine,
			})
			continue
		}

		parts, err := c.fallback.Chunk(&types.SourceText{Source: src.Source, Language: src.Language, Content: []byte(content)})
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			p.ChunkType = d.chunkType
			p.Name = d.name
			p.StartLine += startLine - 1
			p.EndLine += startLine - 1
			chunks = append(chunks, p)
		}
	}

	for i, ch := range chunks {
		ch.Index = i
	}
	return chunks, nil
}

// declarations collects the top-level declarations of root in source order.
func (c *Chunker) declarations(root *sitter.Node, src *types.SourceText) []declaration {
	var (
		decls        []declaration
		commentStart *sitter.Node // first node of the comment block above the current node
		prevEndRow   uint32
	)

	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)

		if node.Type() == "comment" {
			if commentStart == nil || node.StartPoint().Row > prevEndRow+1 {
				commentStart = node
			}
			prevEndRow = node.EndPoint().Row
			continue
		}

		chunkType, name := classify(node, src)
		if chunkType != "" {
			d := declaration{
				node:      node,
				startByte: node.StartByte(),
				startRow:  node.StartPoint().Row,
				chunkType: chunkType,
				name:      name,
			}
			if commentStart != nil && node.StartPoint().Row <= prevEndRow+1 {
				d.startByte = commentStart.StartByte()
				d.startRow = commentStart.StartPoint().Row
			}
			decls = append(decls, d)
		}
		commentStart = nil
		prevEndRow = node.EndPoint().Row
	}
	return decls
}

// classify returns the chunk type and name for a top-level node, or an empty
// type when the node is not a declaration worth its own chunk.
func classify(node *sitter.Node, src *types.SourceText) (types.ChunkType, string) {
	switch src.Language {
	case "go":
		switch node.Type() {
		case "function_declaration":
			return types.ChunkTypeFunction, fieldText(node, "name", src.Content)
		case "method_declaration":
			return types.ChunkTypeMethod, fieldText(node, "name", src.Content)
		case "type_declaration":
			if spec := firstNamedChild(node, "type_spec"); spec != nil {
				return types.ChunkTypeClass, fieldText(spec, "name", src.Content)
			}
			return types.ChunkTypeClass, ""
		}

	case "python":
		switch node.Type() {
		case "function_definition":
			return types.ChunkTypeFunction, fieldText(node, "name", src.Content)
		case "class_definition":
			return types.ChunkTypeClass, fieldText(node, "name", src.Content)
		case "decorated_definition":
			if def := node.ChildByFieldName("definition"); def != nil {
				return classify(def, src)
			}
		}

	case "javascript", "typescript":
		switch node.Type() {
		case "function_declaration", "generator_function_declaration":
			return types.ChunkTypeFunction, fieldText(node, "name", src.Content)
		case "class_declaration", "abstract_class_declaration", "interface_declaration":
			return types.ChunkTypeClass, fieldText(node, "name", src.Content)
		case "type_alias_declaration", "enum_declaration":
			return types.ChunkTypeBlock, fieldText(node, "name", src.Content)
		case "export_statement":
			if decl := node.ChildByFieldName("declaration"); decl != nil {
				return classify(decl, src)
			}
		case "lexical_declaration", "variable_declaration":
			// const handler = () => {...}
			if d := firstNamedChild(node, "variable_declarator"); d != nil {
				if v := d.ChildByFieldName("value"); v != nil {
					switch v.Type() {
					case "arrow_function", "function", "function_expression":
						return types.ChunkTypeFunction, fieldText(d, "name", src.Content)
					case "class":
						return types.ChunkTypeClass, fieldText(d, "name", src.Content)
					}
				}
			}
		}
	}
	return "", ""
}

func fieldText(node *sitter.Node, field string, content []byte) string {
	child := node.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return child.Content(content)
}

func firstNamedChild(node *sitter.Node, childType string) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == childType {
			return child
		}
	}
	return nil
}

var _ provider.ChunkingStrategy = (*Chunker)(nil)
