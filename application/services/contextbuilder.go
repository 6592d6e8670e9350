package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/layers"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/search"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// ContextConfig tunes the working-memory context assembly.
type ContextConfig struct {
	MaxMessages int
	// ReflectionsFull / ReflectionsLite cap the reflections block per mode.
	ReflectionsFull         int
	ReflectionsLite         int
	ReflectionMinImportance float64
	ReflectiveEnabled       bool
	LiteMode                bool
	LTMTopK                 int
	Preference              Preference
}

// DefaultContextConfig returns the standard assembly policy.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		MaxMessages:             10,
		ReflectionsFull:         5,
		ReflectionsLite:         3,
		ReflectionMinImportance: 0.5,
		ReflectiveEnabled:       true,
		LTMTopK:                 10,
		Preference:              PreferenceBalanced,
	}
}

// ContextRequest asks for a working-memory context.
type ContextRequest struct {
	TenantID       string
	Project        string
	Query          string
	RecentMessages []ports.Message
	// MaxTokens, when positive, bounds the long-term block via the
	// information-bottleneck selector.
	MaxTokens int
	// ProfileItems are opaque per-user preference strings passed through.
	ProfileItems []string
}

// RetrievalStats summarizes the search behind a context.
type RetrievalStats struct {
	LTMCandidates  int                         `json:"ltm_candidates"`
	LTMSelected    int                         `json:"ltm_selected"`
	Reflections    int                         `json:"reflections"`
	StrategyCounts map[memory.StrategyName]int `json:"strategy_counts"`
	TimeMS         int64                       `json:"time_ms"`
	Selection      *Selection                  `json:"selection,omitempty"`
}

// WorkingContext is the assembled context object handed to agents.
type WorkingContext struct {
	Messages     []ports.Message       `json:"messages"`
	LTMItems     []memory.SearchResult `json:"ltm_items"`
	Reflections  []*memory.Memory      `json:"reflections"`
	ProfileItems []string              `json:"profile_items,omitempty"`
	SystemPrompt string                `json:"system_prompt"`
	ContextText  string                `json:"context_text"`
	TotalTokens  int                   `json:"total_tokens"`
	Stats        RetrievalStats        `json:"retrieval_stats"`
}

// ContextBuilder assembles working-memory contexts from retrieval results,
// reflections, and conversation history.
type ContextBuilder struct {
	cfg        ContextConfig
	searcher   *search.HybridSearcher
	reflective *layers.ReflectiveLayer
	embedder   ports.EmbeddingProvider
	llm        ports.LLMProvider
	logger     *zap.Logger
}

// NewContextBuilder wires the builder. llm may be nil; token counts then
// fall back to a bytes/4 estimate.
func NewContextBuilder(cfg ContextConfig, searcher *search.HybridSearcher, reflective *layers.ReflectiveLayer, embedder ports.EmbeddingProvider, llm ports.LLMProvider, logger *zap.Logger) *ContextBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultContextConfig()
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = def.MaxMessages
	}
	if cfg.ReflectionsFull <= 0 {
		cfg.ReflectionsFull = def.ReflectionsFull
	}
	if cfg.ReflectionsLite <= 0 {
		cfg.ReflectionsLite = def.ReflectionsLite
	}
	if cfg.ReflectionMinImportance <= 0 {
		cfg.ReflectionMinImportance = def.ReflectionMinImportance
	}
	if cfg.LTMTopK <= 0 {
		cfg.LTMTopK = def.LTMTopK
	}
	if cfg.Preference == "" {
		cfg.Preference = def.Preference
	}
	return &ContextBuilder{
		cfg:        cfg,
		searcher:   searcher,
		reflective: reflective,
		embedder:   embedder,
		llm:        llm,
		logger:     logger,
	}
}

// Build assembles the working-memory context for a query.
func (b *ContextBuilder) Build(ctx context.Context, req *ContextRequest) (*WorkingContext, error) {
	if req.TenantID == "" {
		return nil, appErrors.NewValidation("tenant id is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, appErrors.NewValidation("query text must not be empty")
	}

	wc := &WorkingContext{ProfileItems: req.ProfileItems}

	wc.Messages = req.RecentMessages
	if n := len(wc.Messages); n > b.cfg.MaxMessages {
		wc.Messages = wc.Messages[n-b.cfg.MaxMessages:]
	}

	resp, err := b.searcher.Search(ctx, &memory.QueryRequest{
		TenantID: req.TenantID,
		Project:  req.Project,
		Query:    req.Query,
		TopK:     b.cfg.LTMTopK,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "context builder: retrieval")
	}
	wc.LTMItems = resp.Results
	wc.Stats = RetrievalStats{
		LTMCandidates:  len(resp.Results),
		StrategyCounts: resp.StrategyCounts,
		TimeMS:         resp.TotalTimeMS,
	}

	if req.MaxTokens > 0 {
		b.applyBudget(ctx, req, wc)
	}
	wc.Stats.LTMSelected = len(wc.LTMItems)

	if b.cfg.ReflectiveEnabled && b.reflective != nil {
		k := b.cfg.ReflectionsFull
		if b.cfg.LiteMode {
			k = b.cfg.ReflectionsLite
		}
		refs, err := b.reflective.TopReflections(ctx, req.TenantID, req.Project, k, b.cfg.ReflectionMinImportance)
		if err != nil {
			b.logger.Warn("failed to load reflections", zap.Error(err))
		} else {
			wc.Reflections = refs
		}
	}
	wc.Stats.Reflections = len(wc.Reflections)

	wc.SystemPrompt = b.systemPrompt(wc.Reflections)
	wc.ContextText = b.render(req, wc)
	wc.TotalTokens = b.countTokens(ctx, wc.ContextText)
	return wc, nil
}

// applyBudget trims the long-term block to the token budget with the
// information-bottleneck selector. Selector failures keep the untrimmed
// list.
func (b *ContextBuilder) applyBudget(ctx context.Context, req *ContextRequest, wc *WorkingContext) {
	var queryVec []float32
	if b.embedder != nil {
		vec, err := b.embedder.EmbedText(ctx, req.Query, ports.TaskSearchQuery)
		if err != nil {
			b.logger.Warn("query embedding for selection failed", zap.Error(err))
		} else {
			queryVec = vec
		}
	}

	cands := make([]Candidate, len(wc.LTMItems))
	for i, r := range wc.LTMItems {
		cands[i] = Candidate{
			ID:         r.Memory.ID,
			Embedding:  r.Memory.Embedding,
			Tokens:     b.countTokens(ctx, r.Memory.Content),
			Importance: r.Memory.Importance,
			Layer:      r.Memory.Layer,
		}
	}
	sel, err := SelectBottleneck(SelectionInput{
		QueryEmbedding:  queryVec,
		Candidates:      cands,
		TokenBudget:     req.MaxTokens,
		QueryComplexity: queryComplexity(req.Query),
		Preference:      b.cfg.Preference,
	})
	if err != nil {
		b.logger.Warn("bottleneck selection failed, keeping full candidate set", zap.Error(err))
		return
	}
	keep := make(map[string]bool, len(sel.SelectedIDs))
	for _, id := range sel.SelectedIDs {
		keep[id] = true
	}
	var trimmed []memory.SearchResult
	for _, r := range wc.LTMItems {
		if keep[r.Memory.ID] {
			trimmed = append(trimmed, r)
		}
	}
	wc.LTMItems = trimmed
	wc.Stats.Selection = sel
}

// systemPrompt injects the reflections as a lessons-learned block.
func (b *ContextBuilder) systemPrompt(reflections []*memory.Memory) string {
	var sb strings.Builder
	sb.WriteString("You are an agent with persistent memory. Use the provided context before asking the user.")
	if len(reflections) > 0 {
		sb.WriteString("\n\nLessons Learned:\n")
		for _, r := range reflections {
			fmt.Fprintf(&sb, "- %s\n", r.Content)
		}
	}
	return sb.String()
}

// render produces the flat context text block.
func (b *ContextBuilder) render(req *ContextRequest, wc *WorkingContext) string {
	var sb strings.Builder
	sb.WriteString(wc.SystemPrompt)
	if len(wc.LTMItems) > 0 {
		sb.WriteString("\n\nRelevant memories:\n")
		for _, r := range wc.LTMItems {
			fmt.Fprintf(&sb, "- [%s] %s\n", r.Memory.Layer, r.Memory.Content)
		}
	}
	if len(wc.ProfileItems) > 0 {
		sb.WriteString("\nProfile:\n")
		for _, p := range wc.ProfileItems {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
	}
	if len(wc.Messages) > 0 {
		sb.WriteString("\nConversation:\n")
		for _, m := range wc.Messages {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
	}
	fmt.Fprintf(&sb, "\nCurrent query: %s\n", req.Query)
	return sb.String()
}

// countTokens asks the model when available, estimating otherwise.
func (b *ContextBuilder) countTokens(ctx context.Context, text string) int {
	if b.llm != nil {
		if n, err := b.llm.CountTokens(ctx, text); err == nil {
			return n
		}
	}
	return (len(text) + 3) / 4
}

// queryComplexity is a cheap proxy: longer, entity-heavy queries read as
// complex.
func queryComplexity(query string) float64 {
	words := len(strings.Fields(query))
	anchors := len(search.ExtractAnchors(query))
	c := float64(words)/30.0 + float64(anchors)*0.15
	if c > 1 {
		c = 1
	}
	return c
}
