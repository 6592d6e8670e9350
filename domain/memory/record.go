// Package memory defines the core domain model of the memory engine: the
// memory record, its layer and classification enums, and the validation
// rules enforced before anything is persisted.
package memory

import (
	"strings"
	"time"
	"unicode"

	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// MaxContentBytes bounds the content of a single memory record.
const MaxContentBytes = 50 * 1024

// Layer identifies which tier of the hierarchy a memory lives in.
// A persisted memory belongs to exactly one layer; transitions between
// layers are performed by the engine, never by storage.
type Layer string

const (
	LayerSensory    Layer = "sensory"
	LayerWorking    Layer = "working"
	LayerEpisodic   Layer = "episodic"
	LayerSemantic   Layer = "semantic"
	LayerReflective Layer = "reflective"
)

// Valid reports whether l is a known layer tag.
func (l Layer) Valid() bool {
	switch l {
	case LayerSensory, LayerWorking, LayerEpisodic, LayerSemantic, LayerReflective:
		return true
	}
	return false
}

// LongTerm reports whether the layer is part of long-term memory.
func (l Layer) LongTerm() bool {
	return l == LayerEpisodic || l == LayerSemantic
}

// MemoryType tags the kind of content a record holds.
type MemoryType string

const (
	TypeText         MemoryType = "text"
	TypeCode         MemoryType = "code"
	TypeConversation MemoryType = "conversation"
	TypeReflection   MemoryType = "reflection"
	TypeEntity       MemoryType = "entity"
	TypeRelationship MemoryType = "relationship"
)

// Valid reports whether t is a known memory type.
func (t MemoryType) Valid() bool {
	switch t {
	case TypeText, TypeCode, TypeConversation, TypeReflection, TypeEntity, TypeRelationship:
		return true
	}
	return false
}

// InfoClass is the information classification of a record. It drives
// storage-layer eligibility: restricted content may never be stored in the
// episodic layer.
type InfoClass string

const (
	ClassPublic       InfoClass = "public"
	ClassInternal     InfoClass = "internal"
	ClassConfidential InfoClass = "confidential"
	ClassRestricted   InfoClass = "restricted"
)

// Valid reports whether c is a known information class.
func (c InfoClass) Valid() bool {
	switch c {
	case ClassPublic, ClassInternal, ClassConfidential, ClassRestricted:
		return true
	}
	return false
}

// Memory is a single record in the store. The JSON shape is the stable wire
// format; field names must not change.
type Memory struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Project   string `json:"project"`
	AgentID   string `json:"agent_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	Content    string     `json:"content"`
	Layer      Layer      `json:"layer"`
	MemoryType MemoryType `json:"memory_type"`
	Source     string     `json:"source"`
	InfoClass  InfoClass  `json:"info_class"`

	Importance float64  `json:"importance"`
	Strength   float64  `json:"strength"`
	Tags       []string `json:"tags,omitempty"`

	Metadata     map[string]any `json:"metadata,omitempty"`
	Provenance   map[string]any `json:"provenance,omitempty"`
	SyncMetadata map[string]any `json:"sync_metadata,omitempty"`

	// Embedding is the primary-space vector; NamedVectors carries additional
	// spaces keyed by space name. Either may be empty.
	Embedding    []float32            `json:"embedding,omitempty"`
	NamedVectors map[string][]float32 `json:"named_vectors,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	ModifiedAt     time.Time  `json:"modified_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`

	AccessCount int `json:"access_count"`
	UsageCount  int `json:"usage_count"`
	Version     int `json:"version"`
}

// New creates a memory with engine defaults applied. The caller supplies a
// pre-generated id so that storage adapters stay id-agnostic.
func New(id, tenantID, project, content, source string) *Memory {
	now := time.Now().UTC()
	return &Memory{
		ID:             id,
		TenantID:       tenantID,
		Project:        project,
		Content:        content,
		Source:         source,
		Layer:          LayerWorking,
		MemoryType:     TypeText,
		InfoClass:      ClassInternal,
		Importance:     0.5,
		Strength:       1.0,
		CreatedAt:      now,
		ModifiedAt:     now,
		LastAccessedAt: now,
		AccessCount:    0,
		UsageCount:     0,
		Version:        1,
	}
}

// Validate enforces every write-time invariant. It returns a validation
// error for malformed records and a security-policy error for forbidden
// classification/layer combinations. No state is mutated.
func (m *Memory) Validate() error {
	if m.ID == "" {
		return appErrors.NewValidation("memory id is required")
	}
	if m.TenantID == "" {
		return appErrors.NewValidation("tenant id is required")
	}
	if strings.TrimSpace(m.Content) == "" {
		return appErrors.NewValidation("content must not be empty")
	}
	if len(m.Content) > MaxContentBytes {
		return appErrors.NewValidation("content exceeds 50KB limit")
	}
	if !m.Layer.Valid() {
		return appErrors.NewValidation("unknown layer: " + string(m.Layer))
	}
	if !m.MemoryType.Valid() {
		return appErrors.NewValidation("unknown memory type: " + string(m.MemoryType))
	}
	if !m.InfoClass.Valid() {
		return appErrors.NewValidation("unknown information class: " + string(m.InfoClass))
	}
	if m.Importance < 0 || m.Importance > 1 {
		return appErrors.NewValidation("importance must be in [0,1]")
	}
	if m.Strength < 0 || m.Strength > 1 {
		return appErrors.NewValidation("strength must be in [0,1]")
	}
	for _, tag := range m.Tags {
		if !validTag(tag) {
			return appErrors.NewValidation("tag contains forbidden characters: " + tag)
		}
	}
	if m.ExpiresAt != nil && !m.ExpiresAt.After(m.CreatedAt) {
		return appErrors.NewValidation("expires_at must be after created_at")
	}
	if m.Version < 1 {
		return appErrors.NewValidation("version must be >= 1")
	}
	if m.InfoClass == ClassRestricted && m.Layer == LayerEpisodic {
		return appErrors.NewSecurityPolicyViolation("restricted memories are forbidden in the episodic layer")
	}
	return nil
}

// validTag allows letters, digits, and the separators - _ . : used by
// governance and worker tags.
func validTag(tag string) bool {
	if tag == "" || len(tag) > 64 {
		return false
	}
	for _, r := range tag {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		switch r {
		case '-', '_', '.', ':':
			continue
		}
		return false
	}
	return true
}

// HasTag reports whether the record carries the given tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends a tag if not already present. Existing tags are preserved.
func (m *Memory) AddTag(tag string) {
	if !m.HasTag(tag) {
		m.Tags = append(m.Tags, tag)
	}
}

// Clone returns a deep copy so callers can mutate results without aliasing
// stored state.
func (m *Memory) Clone() *Memory {
	cp := *m
	cp.Tags = append([]string(nil), m.Tags...)
	if m.Embedding != nil {
		cp.Embedding = append([]float32(nil), m.Embedding...)
	}
	if m.NamedVectors != nil {
		cp.NamedVectors = make(map[string][]float32, len(m.NamedVectors))
		for k, v := range m.NamedVectors {
			cp.NamedVectors[k] = append([]float32(nil), v...)
		}
	}
	cp.Metadata = cloneMap(m.Metadata)
	cp.Provenance = cloneMap(m.Provenance)
	cp.SyncMetadata = cloneMap(m.SyncMetadata)
	if m.ExpiresAt != nil {
		exp := *m.ExpiresAt
		cp.ExpiresAt = &exp
	}
	return &cp
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
