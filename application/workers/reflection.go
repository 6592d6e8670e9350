package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/layers"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// Outcome classifies how the reflected-on episode ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// ReflectionContext is the input to one reflection run.
type ReflectionContext struct {
	TenantID string
	Project  string
	Outcome  Outcome
	// Events are the episode's memory records, chronological.
	Events []*memory.Memory
	// TaskGoal is what the agent was trying to achieve.
	TaskGoal string
	// ErrorInfo carries failure details when Outcome is failure.
	ErrorInfo string
}

// ReflectionResult reports the persisted records.
type ReflectionResult struct {
	ReflectionID string
	StrategyID   string
}

// reflectionPayload is the structured object the model returns.
type reflectionPayload struct {
	Reflection string   `json:"reflection"`
	Strategy   string   `json:"strategy"`
	Importance float64  `json:"importance"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags"`
}

// ReflectionEngine runs the actor-evaluator-reflector loop: it prompts the
// model differently per outcome, parses the structured insight, and
// persists a reflective memory plus an optional linked strategy memory.
type ReflectionEngine struct {
	reflective *layers.ReflectiveLayer
	store      ports.MemoryStore
	llm        ports.LLMProvider
	logger     *zap.Logger
}

func NewReflectionEngine(reflective *layers.ReflectiveLayer, store ports.MemoryStore, llm ports.LLMProvider, logger *zap.Logger) *ReflectionEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReflectionEngine{reflective: reflective, store: store, llm: llm, logger: logger}
}

// Generate runs one reflection over the given context.
func (e *ReflectionEngine) Generate(ctx context.Context, rc *ReflectionContext) (*ReflectionResult, error) {
	if rc.TenantID == "" {
		return nil, appErrors.NewValidation("tenant id is required")
	}
	if len(rc.Events) == 0 {
		return nil, appErrors.NewValidation("reflection requires at least one event")
	}
	if e.llm == nil {
		return nil, appErrors.NewUnavailable("reflection requires an llm provider", nil)
	}

	raw, err := e.llm.Generate(ctx, e.buildPrompt(rc), ports.GenerateOptions{
		SystemPrompt: "You distill agent experience into durable lessons. Respond with JSON only.",
		MaxTokens:    1024,
		Temperature:  0.3,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "reflection: llm call")
	}
	payload, err := parseReflection(raw)
	if err != nil {
		return nil, err
	}

	sourceIDs := make([]string, len(rc.Events))
	for i, m := range rc.Events {
		sourceIDs[i] = m.ID
	}

	refl := memory.New(uuid.NewString(), rc.TenantID, rc.Project, payload.Reflection, "reflection-engine")
	refl.MemoryType = memory.TypeReflection
	refl.Importance = clamp01(payload.Importance)
	refl.Metadata = map[string]any{
		layers.MetadataReflectionSources: sourceIDs,
		"outcome":                        string(rc.Outcome),
		"confidence":                     clamp01(payload.Confidence),
	}
	for _, tag := range payload.Tags {
		refl.AddTag(tag)
	}
	reflID, err := e.reflective.Add(ctx, refl)
	if err != nil {
		return nil, appErrors.Wrap(err, "reflection: store reflection")
	}
	result := &ReflectionResult{ReflectionID: reflID}

	if strings.TrimSpace(payload.Strategy) != "" {
		strat := memory.New(uuid.NewString(), rc.TenantID, rc.Project, payload.Strategy, "reflection-engine")
		strat.MemoryType = memory.TypeReflection
		strat.Importance = clamp01(payload.Importance)
		strat.AddTag("strategy")
		strat.Metadata = map[string]any{
			layers.MetadataReflectionSources: sourceIDs,
			"reflection_id":                  reflID,
		}
		stratID, err := e.reflective.Add(ctx, strat)
		if err != nil {
			e.logger.Warn("failed to store strategy memory", zap.Error(err))
		} else {
			result.StrategyID = stratID
		}
	}
	return result, nil
}

// buildPrompt selects the outcome-specific framing.
func (e *ReflectionEngine) buildPrompt(rc *ReflectionContext) string {
	var b strings.Builder
	switch rc.Outcome {
	case OutcomeFailure:
		b.WriteString("The agent failed at its task. Identify the root cause and a corrective strategy for next time.\n")
		if rc.ErrorInfo != "" {
			fmt.Fprintf(&b, "Error: %s\n", rc.ErrorInfo)
		}
	case OutcomeSuccess:
		b.WriteString("The agent succeeded. Identify which patterns drove the success so they can be reinforced.\n")
	default:
		b.WriteString("The agent partially completed its task. Identify what worked, what did not, and how to close the gap.\n")
	}
	if rc.TaskGoal != "" {
		fmt.Fprintf(&b, "Task goal: %s\n", rc.TaskGoal)
	}
	b.WriteString("\nEvents:\n")
	for i, m := range rc.Events {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m.Content)
	}
	b.WriteString("\nRespond with JSON only: " +
		`{"reflection": "...", "strategy": "...", "importance": 0.0, "confidence": 0.0, "tags": ["..."]}`)
	return b.String()
}

// parseReflection tolerates prose around the JSON object.
func parseReflection(raw string) (*reflectionPayload, error) {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	var p reflectionPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, appErrors.NewValidation("reflection: model returned malformed payload")
	}
	if strings.TrimSpace(p.Reflection) == "" {
		return nil, appErrors.NewValidation("reflection: model returned empty reflection")
	}
	return &p, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
