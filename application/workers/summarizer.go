package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// SummarizerConfig tunes the session summarization job.
type SummarizerConfig struct {
	Enabled bool
	// MinEvents is the session size below which no summary is produced.
	MinEvents int
	// IdleAfter marks a session as ended once nothing new has arrived for
	// this long.
	IdleAfter time.Duration
}

// DefaultSummarizerConfig returns the standard summarization policy.
func DefaultSummarizerConfig() SummarizerConfig {
	return SummarizerConfig{
		Enabled:   true,
		MinEvents: 10,
		IdleAfter: 30 * time.Minute,
	}
}

// SummarizerSource tags memories created by this worker.
const SummarizerSource = "summarization-worker"

// sessionSummary is the structured object the model returns.
type sessionSummary struct {
	Summary   string   `json:"summary"`
	KeyTopics []string `json:"key_topics"`
	Sentiment string   `json:"sentiment"`
}

// SummarizerWorker condenses ended sessions into single long-term summary
// records.
type SummarizerWorker struct {
	cfg    SummarizerConfig
	store  ports.MemoryStore
	llm    ports.LLMProvider
	logger *zap.Logger
}

func NewSummarizerWorker(cfg SummarizerConfig, store ports.MemoryStore, llm ports.LLMProvider, logger *zap.Logger) *SummarizerWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultSummarizerConfig()
	if cfg.MinEvents <= 0 {
		cfg.MinEvents = def.MinEvents
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = def.IdleAfter
	}
	return &SummarizerWorker{cfg: cfg, store: store, llm: llm, logger: logger}
}

// RunTenant summarizes every eligible session of one tenant and returns the
// ids of the created summary records.
func (w *SummarizerWorker) RunTenant(ctx context.Context, tenantID string) ([]string, error) {
	if !w.cfg.Enabled || w.llm == nil {
		return nil, nil
	}
	items, err := w.store.List(ctx, ports.ListFilter{
		TenantID: tenantID,
		OrderBy:  "created_at",
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "summarizer: list tenant memories")
	}

	sessions := make(map[string][]*memory.Memory)
	for _, m := range items {
		if m.SessionID == "" || m.Source == SummarizerSource {
			continue
		}
		sessions[m.SessionID] = append(sessions[m.SessionID], m)
	}

	idleCutoff := time.Now().Add(-w.cfg.IdleAfter)
	var created []string
	for session, events := range sessions {
		if len(events) < w.cfg.MinEvents {
			continue
		}
		if events[len(events)-1].CreatedAt.After(idleCutoff) {
			continue
		}
		if alreadySummarized(events) {
			continue
		}
		id, err := w.summarizeSession(ctx, tenantID, session, events)
		if err != nil {
			w.logger.Warn("session summarization failed",
				zap.String("session_id", session), zap.Error(err))
			continue
		}
		created = append(created, id)
	}
	return created, nil
}

// alreadySummarized checks the summarized marker set on session events.
func alreadySummarized(events []*memory.Memory) bool {
	for _, m := range events {
		if m.Metadata != nil {
			if v, ok := m.Metadata["summarized"].(bool); ok && v {
				return true
			}
		}
	}
	return false
}

func (w *SummarizerWorker) summarizeSession(ctx context.Context, tenantID, session string, events []*memory.Memory) (string, error) {
	var b strings.Builder
	b.WriteString("Summarize this agent session. Respond with JSON only: " +
		`{"summary": "...", "key_topics": ["..."], "sentiment": "positive|neutral|negative"}` + "\n\nEvents:\n")
	for i, m := range events {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m.Content)
	}

	raw, err := w.llm.Generate(ctx, b.String(), ports.GenerateOptions{
		SystemPrompt: "You write faithful, compact session summaries.",
		MaxTokens:    1024,
		Temperature:  0.2,
	})
	if err != nil {
		return "", appErrors.Wrap(err, "summarizer: llm call")
	}
	summary, err := parseSessionSummary(raw)
	if err != nil {
		return "", err
	}

	project := events[0].Project
	rec := memory.New(uuid.NewString(), tenantID, project, summary.Summary, SummarizerSource)
	rec.Layer = memory.LayerEpisodic
	rec.SessionID = session
	rec.Importance = 0.6
	rec.AddTag("summary")
	rec.Metadata = map[string]any{
		"key_topics":  summary.KeyTopics,
		"sentiment":   summary.Sentiment,
		"event_count": len(events),
	}
	id, err := w.store.Store(ctx, rec)
	if err != nil {
		return "", appErrors.Wrap(err, "summarizer: store summary")
	}

	for _, m := range events {
		meta := m.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		meta["summarized"] = true
		if _, err := w.store.Update(ctx, tenantID, m.ID, map[string]any{"metadata": meta}); err != nil {
			w.logger.Warn("failed to mark event summarized",
				zap.String("memory_id", m.ID), zap.Error(err))
		}
	}
	return id, nil
}

// parseSessionSummary tolerates prose around the JSON object.
func parseSessionSummary(raw string) (*sessionSummary, error) {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	var s sessionSummary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, appErrors.NewValidation("summarizer: model returned malformed summary")
	}
	if strings.TrimSpace(s.Summary) == "" {
		return nil, appErrors.NewValidation("summarizer: model returned empty summary")
	}
	return &s, nil
}

// Run processes every tenant with per-tenant failure isolation.
func (w *SummarizerWorker) Run(ctx context.Context, tenants []string) map[string]int {
	results := make(map[string]int, len(tenants))
	for _, tenant := range tenants {
		created, err := w.RunTenant(ctx, tenant)
		if err != nil {
			w.logger.Error("summarizer run failed for tenant",
				zap.String("tenant_id", tenant), zap.Error(err))
			continue
		}
		results[tenant] = len(created)
	}
	return results
}
