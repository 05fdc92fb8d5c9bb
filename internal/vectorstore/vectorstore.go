// Package vectorstore is the hybrid vector persistence boundary: nearest-
// neighbor search over embedded Memory chunks and Facts, scoped per user and
// record type. Grounded on the teacher's internal/persistence/databases
// VectorStore interface, generalized from its RAG-document-only shape to
// this domain's two record types.
package vectorstore

import (
	"context"
	"math"

	"memoria/internal/domain"
)

// Match is one nearest-neighbor hit: the stored record plus its distance
// from the query vector (cosine distance, lower is closer).
type Match struct {
	Record   domain.VectorRecord
	Distance float64
}

// Query scopes a similarity search.
type Query struct {
	UserID string
	Type   domain.VectorRecordType // empty matches any type
	Vector []float32
	TopK   int
}

// VectorStore is the nearest-neighbor search boundary. Postgres/pgvector,
// Qdrant, and in-memory backends satisfy it.
type VectorStore interface {
	Upsert(ctx context.Context, rec domain.VectorRecord) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, q Query) ([]Match, error)
	// ListRefIDs returns the RefID of every stored record of type t,
	// scoped to userID. Used by the reconciler sweep to diff against the
	// relational Store without requiring a query vector.
	ListRefIDs(ctx context.Context, userID string, t domain.VectorRecordType) ([]string, error)
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return 1 - cos
}
