// Package answer implements the retrieval-augmented query service: a user
// question is embedded, matched against the vector index, and answered by the
// chat model grounded on the surviving document excerpts. When nothing
// relevant is found the model answers from general knowledge instead — a
// query always yields a reply, never an exception.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/budget"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/vecstore"
)

const (
	// DefaultTopK is the number of chunks retrieved per query.
	DefaultTopK = 5

	// DefaultSimilarityThreshold is the minimum cosine similarity for a
	// retrieved chunk to be injected into the prompt.
	DefaultSimilarityThreshold = 0.7

	// DefaultTemperature keeps grounded answers close to the source text.
	DefaultTemperature = 0.3

	// DefaultMaxTokens caps the generated answer length.
	DefaultMaxTokens = 4096
)

// systemPrompt establishes the assistant persona for every query.
const systemPrompt = "You are an AI assistant capable of answering general and document-based queries."

// Searcher is the vector index surface the service needs.
// *vecstore.Client satisfies it.
type Searcher interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Query(ctx context.Context, vector []float32, topK int, namespace string, filter map[string]string) ([]vecstore.Match, error)
}

// Generator is the chat-model surface the service needs.
// Any eino chat model satisfies it.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Service answers user queries over the document index.
type Service struct {
	search Searcher
	model  Generator

	topK             int
	threshold        float32
	temperature      float32
	maxTokens        int
	maxContextTokens int
}

// Option configures a Service.
type Option func(*Service)

// WithTopK sets the number of chunks retrieved per query.
func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithSimilarityThreshold sets the minimum similarity for context inclusion.
func WithSimilarityThreshold(t float32) Option {
	return func(s *Service) { s.threshold = t }
}

// WithTemperature sets the generation temperature.
func WithTemperature(t float32) Option {
	return func(s *Service) { s.temperature = t }
}

// WithMaxTokens caps the generated answer length.
func WithMaxTokens(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithMaxContextTokens caps the retrieved-context budget.
func WithMaxContextTokens(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxContextTokens = n
		}
	}
}

// New constructs a Service over the given searcher and chat model.
func New(search Searcher, generator Generator, opts ...Option) *Service {
	s := &Service{
		search:           search,
		model:            generator,
		topK:             DefaultTopK,
		threshold:        DefaultSimilarityThreshold,
		temperature:      DefaultTemperature,
		maxTokens:        DefaultMaxTokens,
		maxContextTokens: budget.DefaultMaxContextTokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateResponse answers a user query. userID scopes retrieval to the
// user's namespace (with global fallback); agentID, when non-empty, further
// filters chunks to one agent's documents. The return value is always a
// non-empty natural-language reply — any internal failure degrades to an
// apology string carrying the technical cause.
func (s *Service) GenerateResponse(ctx context.Context, query, userID, agentID string) string {
	log := logging.FromContext(ctx)

	matches, err := s.retrieve(ctx, query, userID, agentID)
	if err != nil {
		log.Error("answer: retrieval failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return apology(err)
	}

	messages := s.buildMessages(query, matches)

	reply, err := s.model.Generate(ctx, messages,
		model.WithTemperature(s.temperature),
		model.WithMaxTokens(s.maxTokens),
	)
	if err != nil {
		log.Error("answer: generation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return apology(err)
	}
	if reply == nil || reply.Content == "" {
		return apology(fmt.Errorf("model returned an empty response"))
	}

	log.Debug("answer: query answered",
		slog.String("user_id", userID),
		slog.Int("context_chunks", len(matches)),
	)
	return reply.Content
}

// retrieve embeds the query, searches the user's namespace (falling back to
// global inside the searcher), and keeps only matches at or above the
// similarity threshold, ordered best-first.
func (s *Service) retrieve(ctx context.Context, query, userID, agentID string) ([]vecstore.Match, error) {
	vector, err := s.search.EmbedText(ctx, query)
	if err != nil {
		return nil, err
	}

	namespace := vecstore.GlobalNamespace
	if userID != "" {
		namespace = vecstore.UserNamespace(userID)
	}

	var filter map[string]string
	if agentID != "" {
		filter = map[string]string{"agent_id": agentID}
	}

	matches, err := s.search.Query(ctx, vector, s.topK, namespace, filter)
	if err != nil {
		return nil, err
	}

	kept := matches[:0]
	for _, m := range matches {
		if m.Score >= s.threshold {
			kept = append(kept, m)
		}
	}
	// The store returns ranked results, but the fallback re-query and the
	// threshold filter make that worth re-asserting. Stable keeps the store's
	// ordering for equal scores.
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	return kept, nil
}

// buildMessages assembles the prompt: the persona system message plus a single
// user turn. With surviving matches the user turn carries the labeled excerpts
// followed by the question; with none it asks the model to answer from general
// knowledge instead.
func (s *Service) buildMessages(query string, matches []vecstore.Match) []*schema.Message {
	if len(matches) == 0 {
		return []*schema.Message{
			schema.SystemMessage(systemPrompt),
			schema.UserMessage("Answer the following question based on your general knowledge: " + query),
		}
	}

	blocks := make([]string, len(matches))
	for i, m := range matches {
		blocks[i] = formatBlock(i+1, m)
	}
	blocks = budget.TrimBlocks(blocks, s.maxContextTokens)

	var b strings.Builder
	b.WriteString("Use the following retrieved information to answer the question:\n\n")
	for _, block := range blocks {
		b.WriteString(block)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(query)

	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(b.String()),
	}
}

// formatBlock renders one retrieved chunk as a labeled context block.
func formatBlock(n int, m vecstore.Match) string {
	title := m.Metadata["title"]
	if title == "" {
		title = "Untitled"
	}
	docID := m.Metadata["document_id"]
	return fmt.Sprintf("--- DOCUMENT %d: %s (ID: %s) ---\n%s", n, title, docID, m.Text)
}

// apology converts an internal failure into the best-effort reply every
// query is contractually owed.
func apology(err error) string {
	return fmt.Sprintf("I'm sorry, I encountered an error while processing your request. Technical details: %v", err)
}
