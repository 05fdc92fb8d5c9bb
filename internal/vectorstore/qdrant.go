package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"memoria/internal/domain"
)

// Qdrant is a Qdrant-backed VectorStore. Record IDs in this domain are
// opaque strings (memory chunk ids, fact ids) but Qdrant point ids must be
// either a uint64 or a UUID, so we map our string id to a deterministic
// UUIDv5 the same way the teacher's qdrant_vector.go does, and carry the
// original string id back in the point payload for Search results.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dims       uint64
}

var qdrantIDNamespace = uuid.MustParse("6f8e7b2a-6c1b-4a8e-9b0a-1f2e3d4c5b6a")

func pointUUID(id string) string {
	return uuid.NewSHA1(qdrantIDNamespace, []byte(id)).String()
}

func NewQdrant(ctx context.Context, host string, port int, collection string, dims uint64) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	q := &Qdrant{client: client, collection: collection, dims: dims}
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("checking qdrant collection: %w", err)
	}
	if exists {
		return nil
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.dims,
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (q *Qdrant) Upsert(ctx context.Context, rec domain.VectorRecord) error {
	payload := map[string]any{
		"ref_id":     rec.RefID,
		"user_id":    rec.UserID,
		"type":       string(rec.Type),
		"text":       rec.Text,
		"valid_from": rec.ValidFrom.Unix(),
		"record_id":  rec.ID,
	}
	for k, v := range rec.Metadata {
		payload["meta_"+k] = v
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(pointUUID(rec.ID)),
			Vectors: qdrant.NewVectors(rec.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("upserting qdrant point: %w", err)
	}
	return nil
}

func (q *Qdrant) Delete(ctx context.Context, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewID(pointUUID(id))),
	})
	return err
}

func (q *Qdrant) Search(ctx context.Context, query Query) ([]Match, error) {
	must := []*qdrant.Condition{
		qdrant.NewMatch("user_id", query.UserID),
	}
	if query.Type != "" {
		must = append(must, qdrant.NewMatch("type", string(query.Type)))
	}

	limit := uint64(query.TopK)
	if limit == 0 {
		limit = 10
	}

	resp, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query.Vector...),
		Filter:         &qdrant.Filter{Must: must},
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying qdrant: %w", err)
	}

	out := make([]Match, 0, len(resp))
	for _, pt := range resp {
		payload := pt.GetPayload()
		rec := domain.VectorRecord{
			ID:     payload["record_id"].GetStringValue(),
			UserID: payload["user_id"].GetStringValue(),
			Type:   domain.VectorRecordType(payload["type"].GetStringValue()),
			RefID:  payload["ref_id"].GetStringValue(),
			Text:   payload["text"].GetStringValue(),
		}
		out = append(out, Match{Record: rec, Distance: float64(1 - pt.GetScore())})
	}
	return out, nil
}

// ListRefIDs pages through the collection via Scroll, filtering by user_id
// and type, collecting every point's ref_id payload field.
func (q *Qdrant) ListRefIDs(ctx context.Context, userID string, t domain.VectorRecordType) ([]string, error) {
	must := []*qdrant.Condition{
		qdrant.NewMatch("user_id", userID),
		qdrant.NewMatch("type", string(t)),
	}

	var out []string
	var offset *qdrant.PointId
	for {
		limit := uint32(256)
		resp, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collection,
			Filter:         &qdrant.Filter{Must: must},
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("scrolling qdrant collection: %w", err)
		}
		for _, pt := range resp {
			out = append(out, pt.GetPayload()["ref_id"].GetStringValue())
		}
		if len(resp) < int(limit) {
			break
		}
		offset = resp[len(resp)-1].GetId()
	}
	return out, nil
}
