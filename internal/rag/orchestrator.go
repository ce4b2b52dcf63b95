// Package rag augments chat requests with documents retrieved from a vector index.
//
// A request moves through idle, embedding, querying, augmenting, delegating
// and streaming, and ends in done, failed or cancelled. Retrieval is best
// effort: when embedding or querying fails the original conversation is
// sent unchanged and the failure is only logged. The failed state is
// reserved for the completion provider itself.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// State is a step of a request.
type State string

const (
	StateIdle       State = "idle"
	StateEmbedding  State = "embedding"
	StateQuerying   State = "querying"
	StateAugmenting State = "augmenting"
	StateDelegating State = "delegating"
	StateStreaming  State = "streaming"
	StateDone       State = "done"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// DefaultTopK is used when Config.TopK is not positive.
const DefaultTopK = 5

// ErrNoUserTurn is recorded when the conversation does not end with a user
// message, so there is nothing to retrieve for.
var ErrNoUserTurn = errors.New("last message is not a user turn")

// Resolver resolves logical model ids to providers.
type Resolver interface {
	ResolveCompletionProvider(modelID string) (provider.CompletionProvider, error)
	ResolveEmbeddingProvider(modelID string) (provider.EmbeddingProvider, error)
}

// Config contains retrieval settings.
type Config struct {
	EmbeddingModel      string  // logical embedding id, empty selects the default
	TopK                int     // documents requested from the index
	SimilarityThreshold float32 // documents scoring below are dropped, 0 disables
	MaxContextTokens    int     // token budget for retrieved context, 0 disables
}

// Result describes what happened to one request.
type Result struct {
	Transitions  []State
	Retrieved    []*types.ScoredDocument // documents added to the conversation
	RetrievalErr error                   // set when retrieval was skipped or failed
	Augmented    []types.Message         // conversation sent to the completion provider
	Provider     string
	Model        string // vendor model
	Fragments    int
}

// State returns the last state reached.
func (r *Result) State() State {
	if len(r.Transitions) == 0 {
		return StateIdle
	}
	return r.Transitions[len(r.Transitions)-1]
}

func (r *Result) enter(s State) {
	r.Transitions = append(r.Transitions, s)
}

// Orchestrator runs retrieval-augmented completions.
type Orchestrator struct {
	resolver Resolver
	index    provider.VectorIndex
	config   Config
	counter  TokenCounter
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger used for retrieval failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTokenCounter replaces the tiktoken based counter.
func WithTokenCounter(c TokenCounter) Option {
	return func(o *Orchestrator) { o.counter = c }
}

// New creates an orchestrator. index may be nil, in which case every request
// is sent unaugmented.
func New(resolver Resolver, index provider.VectorIndex, cfg Config, opts ...Option) *Orchestrator {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	o := &Orchestrator{
		resolver: resolver,
		index:    index,
		config:   cfg,
		counter:  CountTokens,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Stream sends messages to the completion provider for gen.Model, first
// prepending retrieved documents when useRAG is set. Fragments are forwarded
// to onFragment in the order received.
//
// The returned Result is never nil. The error is the completion provider's
// error, unchanged; a cancelled request ends in StateCancelled with an error
// matching types.ErrCancelled.
func (o *Orchestrator) Stream(ctx context.Context, messages []types.Message, gen types.GenerationConfig, useRAG bool, onFragment provider.FragmentFunc) (*Result, error) {
	res := &Result{}
	res.enter(StateIdle)

	if err := types.ValidateConversation(messages); err != nil {
		res.enter(StateFailed)
		return res, err
	}

	// Resolve first so an unknown model fails before any retrieval work.
	p, err := o.resolver.ResolveCompletionProvider(gen.Model)
	if err != nil {
		res.enter(StateFailed)
		return res, err
	}
	res.Provider = p.Name()
	res.Model = p.Model()

	conversation := messages
	if useRAG {
		docs, err := o.retrieve(ctx, messages, res)
		if err != nil {
			res.RetrievalErr = err
			o.logger.Warn("retrieval failed, continuing without context", "model", gen.Model, "error", err)
		} else if len(docs) > 0 {
			res.enter(StateAugmenting)
			res.Retrieved = docs
			conversation = Augment(docs, messages)
		}
	}
	res.Augmented = conversation

	res.enter(StateDelegating)
	err = p.StreamChat(ctx, conversation, gen, func(fragment string) error {
		if res.Fragments == 0 {
			res.enter(StateStreaming)
		}
		res.Fragments++
		return onFragment(fragment)
	})
	switch {
	case err == nil:
		res.enter(StateDone)
	case errors.Is(err, types.ErrCancelled):
		res.enter(StateCancelled)
	default:
		res.enter(StateFailed)
	}
	return res, err
}

// retrieve embeds the last user message and queries the index.
func (o *Orchestrator) retrieve(ctx context.Context, messages []types.Message, res *Result) ([]*types.ScoredDocument, error) {
	if o.index == nil {
		return nil, errors.New("no vector index configured")
	}
	last, _ := types.LastMessage(messages)
	if last.Role != types.RoleUser {
		return nil, ErrNoUserTurn
	}

	res.enter(StateEmbedding)
	emb, err := o.resolver.ResolveEmbeddingProvider(o.config.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	query, err := provider.EmbedText(ctx, emb, last.Content)
	if err != nil {
		return nil, err
	}

	res.enter(StateQuerying)
	found, err := o.index.FindSimilar(ctx, query, o.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	var (
		docs   []*types.ScoredDocument
		tokens int
	)
	for _, d := range found {
		if o.config.SimilarityThreshold > 0 && d.Score < o.config.SimilarityThreshold {
			continue
		}
		if o.config.MaxContextTokens > 0 {
			n := o.counter(d.Document.Content)
			if tokens+n > o.config.MaxContextTokens {
				break
			}
			tokens += n
		}
		docs = append(docs, d)
	}
	o.logger.Debug("retrieved context", "candidates", len(found), "used", len(docs), "tokens", tokens)
	return docs, nil
}

// Augment prepends one system message per document to messages, keeping
// the ranking order. messages itself is not modified.
func Augment(docs []*types.ScoredDocument, messages []types.Message) []types.Message {
	out := make([]types.Message, 0, len(docs)+len(messages))
	for _, d := range docs {
		meta := map[string]any{
			"retrieved":   true,
			"document_id": d.Document.ID,
			"score":       d.Score,
		}
		if src, ok := d.Document.Metadata["source"]; ok {
			meta["source"] = src
		}
		out = append(out, types.Message{
			Role:     types.RoleSystem,
			Content:  d.Document.Content,
			Metadata: meta,
		})
	}
	return append(out, messages...)
}
