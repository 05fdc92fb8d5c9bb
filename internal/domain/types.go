// Package domain holds the core entity types shared across the ingestion
// and retrieval packages.
package domain

import "time"

// UserSettings is the typed settings bag stored on User. Stored settings
// are decoded with encoding/json: unrecognized keys are ignored, and a
// decode error is not reported to the caller.
type UserSettings struct {
	AutoApprove      bool `json:"autoApprove" yaml:"autoApprove"`
	DailyTokenBudget int  `json:"dailyTokenBudget" yaml:"dailyTokenBudget"`
}

// User is a corpus owner. Auth/session issuance lives outside this module.
type User struct {
	ID        string
	Email     string
	Active    bool
	DropToken string // opaque per-user drop-channel secret for POST inbox/drop/{token}
	Settings  UserSettings
	CreatedAt time.Time
}

// MemoryStatus tracks a Memory through the inbox review state machine.
type MemoryStatus string

const (
	MemoryStatusPending   MemoryStatus = "pending"
	MemoryStatusApproved  MemoryStatus = "approved"
	MemoryStatusDiscarded MemoryStatus = "discarded"
	MemoryStatusArchived  MemoryStatus = "archived"
)

// Memory is a single piece of user-submitted or agent-submitted content.
type Memory struct {
	ID          string
	UserID      string
	Title       string
	Content     string
	Source      string
	SourceLLM   string // e.g. "agent_drop"; empty for user-submitted memories
	Trusted     bool
	Tags        []string
	Status      MemoryStatus
	ShowInInbox bool
	EmbeddingID string // legacy pointer to the first chunk's vector id
	ReferenceAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chunk is one enriched slice of a Memory's content.
type Chunk struct {
	ID            string
	MemoryID      string
	UserID        string
	Index         int
	Text          string // raw chunk text
	EnrichedText  string // text + appended enrichment context, what gets embedded
	Summary       string
	QuestionsAns  []QA
	Entities      []string
	VectorID      string
	TrustScore    float64 // [0,1], default 0.5
	FeedbackScore float64 // [-1,1], default 0
	CreatedAt     time.Time
}

// QA is a generated question/answer pair attached to a chunk during
// enrichment.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Fact is an atomic (subject, predicate, object) triple with bitemporal
// validity.
type Fact struct {
	ID             string
	UserID         string
	Subject        string
	Predicate      string
	Object         string
	Location       string
	Confidence     float64
	SourceMemoryID string
	SourceChunkID  string
	ValidFrom      time.Time
	ValidUntil     *time.Time
	IsSuperseded   bool
	CreatedAt      time.Time
}

// IsCurrent reports whether f is presently true: not superseded and not
// closed off by a ValidUntil.
func (f Fact) IsCurrent() bool {
	return !f.IsSuperseded && f.ValidUntil == nil
}

// ClusterStatus tracks a Cluster through dedupe review.
type ClusterStatus string

const (
	ClusterStatusPending  ClusterStatus = "pending"
	ClusterStatusAccepted ClusterStatus = "accepted"
	ClusterStatusRejected ClusterStatus = "rejected"
)

// Cluster groups near-duplicate memories flagged by the Dedupe Monitor.
type Cluster struct {
	ID                string
	UserID            string
	MemoryIDs         []string
	RepresentativeText string
	Status            ClusterStatus
	CreatedAt         time.Time
}

// VectorRecordType discriminates what a VectorRecord indexes.
type VectorRecordType string

const (
	VectorRecordMemoryChunk VectorRecordType = "memory_chunk"
	VectorRecordFact        VectorRecordType = "fact"
)

// VectorRecord is the payload stored alongside an embedding in the Vector
// Store, mirroring a Chunk or Fact's identifying metadata.
type VectorRecord struct {
	ID        string
	UserID    string
	Type      VectorRecordType
	RefID     string // chunk id or fact id
	Text      string
	ValidFrom time.Time
	Metadata  map[string]string
	Embedding []float32
}
