package search

import (
	"context"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// anchorPattern is one recognizer for a high-signal token class.
type anchorPattern struct {
	name   string
	re     *regexp.Regexp
	weight float64
}

// Tier 1 anchors are near-unique identifiers; tier 2 anchors are strong
// but ambiguous markers. A query with no anchors produces no hits at all,
// leaving retrieval to the other strategies.
var anchorPatterns = []anchorPattern{
	{"uuid", regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`), 100},
	{"hex_id", regexp.MustCompile(`\b0x[0-9A-Fa-f]{3,}\b`), 100},
	{"tracker_ref", regexp.MustCompile(`(?i)\b(?:ticket|issue|pr|bug)[\s#_-]+\d{3,}\b`), 100},
	{"log_level", regexp.MustCompile(`\[(?:ERROR|CRITICAL|WARN|INFO)\]`), 10},
	{"iso_date", regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`), 8},
	{"http_error", regexp.MustCompile(`\b[45]\d\d\b`), 5},
}

// ExtractAnchors returns the anchor substrings found in the query with the
// weight of the pattern that matched each. When one substring matches more
// than one pattern the highest weight wins.
func ExtractAnchors(query string) map[string]float64 {
	anchors := make(map[string]float64)
	for _, p := range anchorPatterns {
		for _, match := range p.re.FindAllString(query, -1) {
			if p.weight > anchors[match] {
				anchors[match] = p.weight
			}
		}
	}
	return anchors
}

// AnchorStrategy finds memories containing the exact high-signal tokens of
// the query: identifiers, log levels, dates, error codes. Each anchor runs
// as an exact-phrase full-text search; a record hit by several anchors
// keeps the highest anchor weight.
type AnchorStrategy struct {
	store  ports.MemoryStore
	logger *zap.Logger
}

var _ Strategy = (*AnchorStrategy)(nil)

func NewAnchorStrategy(store ports.MemoryStore, logger *zap.Logger) *AnchorStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnchorStrategy{store: store, logger: logger}
}

func (s *AnchorStrategy) Name() memory.StrategyName { return memory.StrategyAnchor }

func (s *AnchorStrategy) DefaultWeight() float64 { return 0.9 }

func (s *AnchorStrategy) Search(ctx context.Context, q *memory.QueryRequest, k int) ([]Hit, error) {
	anchors := ExtractAnchors(q.Query)
	if len(anchors) == 0 {
		return nil, nil
	}

	filter := listFilter(q)
	filter.Limit = k

	type agg struct {
		weight     float64
		importance float64
	}
	byID := make(map[string]agg)
	for anchor, weight := range anchors {
		matches, err := s.store.FullTextSearch(ctx, anchor, true, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, "anchor strategy: exact-phrase search")
		}
		for _, m := range matches {
			cur := byID[m.Memory.ID]
			if weight > cur.weight {
				cur.weight = weight
			}
			cur.importance = m.Memory.Importance
			byID[m.Memory.ID] = cur
		}
	}

	hits := make([]Hit, 0, len(byID))
	for id, a := range byID {
		hits = append(hits, Hit{ID: id, Score: a.weight, Importance: a.importance})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
