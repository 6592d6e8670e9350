package memory

// GovernanceSignals carries caller-supplied risk telemetry evaluated at
// store time. All tagging is additive; existing tags are preserved.
type GovernanceSignals struct {
	PromptChainLength int      `json:"prompt_chain_length,omitempty"`
	RoutingConfidence *float64 `json:"routing_confidence,omitempty"`
	ToolTokenCount    int      `json:"tool_token_count,omitempty"`
	ConfidenceBefore  *float64 `json:"confidence_before,omitempty"`
	ConfidenceAfter   *float64 `json:"confidence_after,omitempty"`
}

// Governance tag values applied by ApplyGovernanceTags.
const (
	TagHighRiskSequence       = "high_risk_sequence"
	TagHITLReviewRequired     = "hitl_review_required"
	TagHeavyToolUse           = "heavy_tool_use"
	TagDeeperReflectionNeeded = "deeper_reflection_needed"
)

// Governance thresholds.
const (
	governancePromptChainLimit   = 10
	governanceRoutingConfidence  = 0.4
	governanceToolTokenThreshold = 10000
)

// ApplyGovernanceTags inspects the signals and appends the matching
// governance tags to the record.
func ApplyGovernanceTags(m *Memory, g *GovernanceSignals) {
	if g == nil {
		return
	}
	if g.PromptChainLength >= governancePromptChainLimit {
		m.AddTag(TagHighRiskSequence)
	}
	if g.RoutingConfidence != nil && *g.RoutingConfidence < governanceRoutingConfidence {
		m.AddTag(TagHITLReviewRequired)
	}
	if g.ToolTokenCount > governanceToolTokenThreshold {
		m.AddTag(TagHeavyToolUse)
	}
	if g.ConfidenceBefore != nil && g.ConfidenceAfter != nil && *g.ConfidenceAfter < *g.ConfidenceBefore {
		m.AddTag(TagDeeperReflectionNeeded)
	}
}
