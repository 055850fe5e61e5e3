package rag

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/apex-sales-agent/agent/contract"
)

const notFoundReply = "I couldn't find that in our knowledge base. " +
	"Could you rephrase the question, or would you like to speak with our team directly?"

// Config tunes retrieval. MinRelevance filters hits before answer
// composition; anything below it is treated as noise. MaxAnswerChars
// bounds the excerpt context handed to answer composition, keeping
// synthesis cost proportional regardless of chunk sizes.
type Config struct {
	KnowledgeDir   string  `envconfig:"KNOWLEDGE_DIR" split_words:"true" default:"./knowledge"`
	TopK           int     `envconfig:"TOP_K" split_words:"true" default:"4"`
	MinRelevance   float32 `envconfig:"MIN_RELEVANCE" split_words:"true" default:"0.4"`
	MaxAnswerChars int     `envconfig:"MAX_ANSWER_CHARS" split_words:"true" default:"3000"`
	Synthesize     bool    `envconfig:"SYNTHESIZE" split_words:"true" default:"true"`
	ChunkSize      int     `envconfig:"CHUNK_SIZE" split_words:"true" default:"1000"`
	ChunkOverlap   int     `envconfig:"CHUNK_OVERLAP" split_words:"true" default:"200"`
}

// Answer is a retrieval response: the reply text plus the chunks it was
// composed from. Zero sources means nothing relevant was found.
type Answer struct {
	Text    string                   `json:"text"`
	Sources []contractx.ScoredChunk `json:"sources,omitempty"`
}

// Engine indexes the knowledge base and answers questions with cited
// excerpts. The model is optional for retrieval itself; it powers query
// expansion and answer synthesis when present.
type Engine struct {
	embedder contractx.Embedder
	store    contractx.DocumentStore
	model    contractx.LanguageModel
	splitter Splitter
	cfg      Config
}

func NewEngine(embedder contractx.Embedder, store contractx.DocumentStore, model contractx.LanguageModel, cfg Config) (*Engine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder", contractx.ErrCapabilityUnavailable)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: document store", contractx.ErrCapabilityUnavailable)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.MaxAnswerChars <= 0 {
		cfg.MaxAnswerChars = 3000
	}
	return &Engine{
		embedder: embedder,
		store:    store,
		model:    model,
		splitter: NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:      cfg,
	}, nil
}

// BuildIfEmpty indexes the knowledge directory unless the store already
// holds chunks from a previous run.
func (e *Engine) BuildIfEmpty(ctx context.Context) error {
	if e.store.Count() > 0 {
		log.Info().Int("chunks", e.store.Count()).Msg("knowledge index already built")
		return nil
	}
	return e.Rebuild(ctx)
}

// Rebuild loads, splits, embeds, and upserts the whole knowledge
// directory.
func (e *Engine) Rebuild(ctx context.Context) error {
	docs, err := LoadDir(e.cfg.KnowledgeDir)
	if err != nil {
		return err
	}

	var chunks []contractx.Chunk
	for _, doc := range docs {
		chunks = append(chunks, doc.Chunks(e.splitter)...)
	}
	if len(chunks) == 0 {
		log.Warn().Str("dir", e.cfg.KnowledgeDir).Msg("knowledge directory produced no chunks")
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed knowledge base: %w", err)
	}
	if err := e.store.Upsert(ctx, chunks, vectors); err != nil {
		return err
	}
	log.Info().Int("documents", len(docs)).Int("chunks", len(chunks)).Msg("knowledge index built")
	return nil
}

// expandQuery rewrites a terse or ambiguous question into a fuller
// search query. Any failure falls back to the original text.
func (e *Engine) expandQuery(ctx context.Context, query string) string {
	if e.model == nil {
		return query
	}
	turn, err := e.model.Complete(ctx, contractx.CompletionRequest{
		System: "You rewrite user questions into effective knowledge-base search queries. " +
			"Expand abbreviations, add likely synonyms, and keep the intent. " +
			"Respond with the rewritten query only, at most 50 words.",
		Messages:    []contractx.Message{{Role: contractx.RoleUser, Content: query}},
		Temperature: 0,
		MaxTokens:   100,
	})
	if err != nil {
		log.Debug().Err(err).Msg("query expansion failed, using original query")
		return query
	}
	expanded := strings.TrimSpace(turn.Content)
	if expanded == "" || wordCount(expanded) > 50 {
		return query
	}
	return expanded
}

// Retrieve returns the top chunks at or above the relevance floor.
func (e *Engine) Retrieve(ctx context.Context, query string) ([]contractx.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", contractx.ErrValidation)
	}

	expanded := e.expandQuery(ctx, query)
	vector, err := e.embedder.Embed(ctx, expanded)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := e.store.Search(ctx, vector, e.cfg.TopK)
	if err != nil {
		return nil, err
	}

	relevant := hits[:0]
	for _, hit := range hits {
		if hit.Score >= e.cfg.MinRelevance {
			relevant = append(relevant, hit)
		}
	}
	return relevant, nil
}

// Ask answers a question from the knowledge base with cited sources.
// With no relevant chunks it returns the standard not-found reply and
// zero sources.
func (e *Engine) Ask(ctx context.Context, query string) (Answer, error) {
	hits, err := e.Retrieve(ctx, query)
	if err != nil {
		return Answer{}, err
	}
	if len(hits) == 0 {
		return Answer{Text: notFoundReply}, nil
	}

	text := e.synthesize(ctx, query, hits)
	if text == "" {
		text = composeExtractive(hits, e.cfg.MaxAnswerChars)
	}
	text += "\n\n" + formatCitations(hits)
	return Answer{Text: text, Sources: hits}, nil
}

// synthesize asks the model to answer strictly from the excerpts.
// Returns "" when synthesis is off or fails, so the extractive path
// takes over.
func (e *Engine) synthesize(ctx context.Context, query string, hits []contractx.ScoredChunk) string {
	if !e.cfg.Synthesize || e.model == nil {
		return ""
	}

	var b strings.Builder
	for i, hit := range hits {
		remaining := e.cfg.MaxAnswerChars - b.Len()
		if remaining <= 0 {
			break
		}
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i+1, hit.Chunk.Metadata.Source, clipRunes(hit.Chunk.Content, remaining))
	}
	excerpts := clipRunes(b.String(), e.cfg.MaxAnswerChars)

	turn, err := e.model.Complete(ctx, contractx.CompletionRequest{
		System: "You answer customer questions using only the provided excerpts. " +
			"If the excerpts do not contain the answer, say so. " +
			"Reference excerpts by their [n] marker where it helps. Be concise and helpful.",
		Messages: []contractx.Message{{
			Role:    contractx.RoleUser,
			Content: "Question: " + query + "\n\nExcerpts:\n" + excerpts,
		}},
		Temperature: 0.2,
		MaxTokens:   600,
	})
	if err != nil {
		log.Warn().Err(err).Msg("answer synthesis failed, composing extractive answer")
		return ""
	}
	return strings.TrimSpace(turn.Content)
}

// composeExtractive stitches the raw excerpts together, best first,
// inside the same excerpt budget the synthesis path gets.
func composeExtractive(hits []contractx.ScoredChunk, limit int) string {
	var b strings.Builder
	b.WriteString("Here is what I found:\n")
	for i, hit := range hits {
		marker := fmt.Sprintf("\n[%d] ", i+1)
		remaining := limit - b.Len() - len(marker)
		if remaining <= 0 {
			break
		}
		b.WriteString(marker)
		b.WriteString(clipRunes(strings.TrimSpace(hit.Chunk.Content), remaining))
	}
	return b.String()
}

// clipRunes shortens s to at most limit bytes without splitting a rune.
func clipRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func formatCitations(hits []contractx.ScoredChunk) string {
	var b strings.Builder
	b.WriteString("Sources:")
	for i, hit := range hits {
		meta := hit.Chunk.Metadata
		if meta.Type == TypePDF && meta.Page > 0 {
			fmt.Fprintf(&b, "\n[%d] %s, page %d", i+1, meta.Source, meta.Page)
			continue
		}
		fmt.Fprintf(&b, "\n[%d] %s", i+1, meta.Source)
	}
	return b.String()
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
