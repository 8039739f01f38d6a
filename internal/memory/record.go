// Package memory defines the core data model for the memory engine:
// durable memory records, feedback events, and the validation rules
// enforced before any record reaches storage.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Type classifies what kind of information a record holds.
type Type string

const (
	TypeFact         Type = "fact"
	TypePreference   Type = "preference"
	TypePattern      Type = "pattern"
	TypeRelationship Type = "relationship"
	TypeGoal         Type = "goal"
	TypeCorrection   Type = "correction"
)

// Valid reports whether t is one of the known memory types.
func (t Type) Valid() bool {
	switch t {
	case TypeFact, TypePreference, TypePattern, TypeRelationship, TypeGoal, TypeCorrection:
		return true
	}
	return false
}

// Record is a single durable memory about an owner.
//
// Confidence and Importance are always kept in [0,1]; every mutation path
// clamps. AccessCount is monotonically non-decreasing and frozen once the
// record is archived. Version backs optimistic concurrency control in the
// structured store.
type Record struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Type    Type   `json:"type"`
	Content string `json:"content"`

	// Embedding is the authoritative copy of the vector; the vector index
	// holds a rebuildable replica.
	Embedding []float32 `json:"embedding,omitempty"`

	Confidence float64 `json:"confidence"`
	Importance float64 `json:"importance"`

	AccessCount int64 `json:"access_count"`
	ThumbsUp    int64 `json:"thumbs_up"`
	ThumbsDown  int64 `json:"thumbs_down"`

	LastAccessed time.Time  `json:"last_accessed"`
	CreatedAt    time.Time  `json:"created_at"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty"`

	// SupersededBy points at the correction record that replaced this one.
	SupersededBy string `json:"superseded_by,omitempty"`

	SourceRef string `json:"source_ref,omitempty"`

	// LastDecayedEpoch marks the consolidation epoch that last applied
	// decay, so a re-run within one period cannot double-apply.
	LastDecayedEpoch int64 `json:"-"`

	Version int64 `json:"-"`
}

// Archived reports whether the record has been soft-deleted from retrieval.
func (r *Record) Archived() bool {
	return r.ArchivedAt != nil
}

// Validate checks the record against the model invariants. It is called
// before any I/O so malformed records never reach a tier.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return &ValidationError{Field: "owner_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(r.Content) == "" {
		return &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if !r.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "unknown memory type " + string(r.Type)}
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return &ValidationError{Field: "confidence", Reason: "must be in [0,1]"}
	}
	if r.Importance < 0 || r.Importance > 1 {
		return &ValidationError{Field: "importance", Reason: "must be in [0,1]"}
	}
	return nil
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ContentHash returns the dedup key for a record's content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// FeedbackKind identifies what produced a feedback event.
type FeedbackKind string

const (
	FeedbackUp         FeedbackKind = "up"
	FeedbackDown       FeedbackKind = "down"
	FeedbackCorrection FeedbackKind = "correction"
)

// Valid reports whether k is a known feedback kind.
func (k FeedbackKind) Valid() bool {
	switch k {
	case FeedbackUp, FeedbackDown, FeedbackCorrection:
		return true
	}
	return false
}

// FeedbackEvent is an append-only audit entry for a thumbs, correction, or
// use-boost action against a memory.
type FeedbackEvent struct {
	ID       string       `json:"id"`
	MemoryID string       `json:"memory_id"`
	OwnerID  string       `json:"owner_id"`
	Kind     FeedbackKind `json:"kind"`
	// Note carries kind-specific detail, e.g. the superseded content for
	// corrections.
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
