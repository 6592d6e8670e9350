// Package layers implements the four-tier memory hierarchy. Each layer is
// a thin façade over the storage and vector adapters with a fixed layer tag
// and its own lifecycle policy: sensory buffers and forgets, working
// promotes and consolidates, long-term sweeps and upgrades, reflective
// protects.
package layers

import (
	"context"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
)

// Layer is the shared surface of every tier.
type Layer interface {
	// Add stores a record in this layer, overriding its layer tag.
	Add(ctx context.Context, m *memory.Memory) (string, error)
	// Get fetches one record and touches its access count.
	Get(ctx context.Context, tenantID, id string) (*memory.Memory, error)
	// Search runs a scored full-text search restricted to this layer.
	Search(ctx context.Context, tenantID, query string, limit int) ([]ports.FullTextMatch, error)
	// Cleanup applies the layer's retention policy and reports how many
	// records it removed.
	Cleanup(ctx context.Context, tenantID string) (int, error)
	Count(ctx context.Context, tenantID string) (int, error)
}

// MetadataConsolidated marks a working record that has been merged into a
// long-term item.
const MetadataConsolidated = "consolidated"

// MetadataSourceIDs lists the records a synthesized memory was built from.
const MetadataSourceIDs = "source_ids"

// MetadataEpisodicAncestor links a semantic upgrade to its episodic origin.
const MetadataEpisodicAncestor = "episodic_ancestor"
