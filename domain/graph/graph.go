// Package graph defines the knowledge-graph entities shared by the graph
// store adapter and the graph-traversal search strategy.
package graph

import (
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// Node is a stable entity in the tenant-scoped knowledge graph.
type Node struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Edge is a directed, weighted relation between two nodes. Deleting either
// endpoint cascades to the edge.
type Edge struct {
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Relation   string         `json:"relation"`
	Weight     float64        `json:"weight"`
	TenantID   string         `json:"tenant_id"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Validate checks edge invariants.
func (e *Edge) Validate() error {
	if e.SourceID == "" || e.TargetID == "" {
		return appErrors.NewValidation("edge requires source and target node ids")
	}
	if e.Relation == "" {
		return appErrors.NewValidation("edge relation label is required")
	}
	if e.Weight < 0 || e.Weight > 1 {
		return appErrors.NewValidation("edge weight must be in [0,1]")
	}
	return nil
}

// Direction selects which incident edges a neighbor query follows.
type Direction string

const (
	DirectionIn   Direction = "in"
	DirectionOut  Direction = "out"
	DirectionBoth Direction = "both"
)

// Subgraph is the result of an extract-subgraph call.
type Subgraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Triple is an (entity, relation, entity) fact extracted from memory
// content before graph insertion.
type Triple struct {
	Subject  string
	Relation string
	Object   string
	// Confidence is the extractor's confidence in [0,1]; it becomes the
	// edge weight.
	Confidence float64
}
