package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"memoria/internal/domain"
)

// Postgres is a pgvector-backed VectorStore. The pgvector extension stores
// embeddings as a native `vector` column; we format/parse the literal
// ourselves rather than pull in a pgvector Go type, since this module's
// go.mod carries plain pgx, not pgx/pgvector-go (teacher's
// postgres_vector.go does the same hand-formatting against pgx).
type Postgres struct {
	pool *pgxpool.Pool
	dims int
}

func NewPostgres(ctx context.Context, pool *pgxpool.Pool, dims int) (*Postgres, error) {
	p := &Postgres{pool: pool, dims: dims}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS vector_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			ref_id TEXT NOT NULL,
			text TEXT NOT NULL,
			valid_from TIMESTAMPTZ NOT NULL,
			metadata JSONB,
			embedding vector(%d) NOT NULL
		)`, p.dims),
		`CREATE INDEX IF NOT EXISTS idx_vector_records_user_type ON vector_records(user_id, type)`,
		`CREATE INDEX IF NOT EXISTS idx_vector_records_embedding ON vector_records USING ivfflat (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring vector schema: %w", err)
		}
	}
	return nil
}

func formatVector(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (p *Postgres) Upsert(ctx context.Context, rec domain.VectorRecord) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return err
	}
	if rec.ValidFrom.IsZero() {
		rec.ValidFrom = time.Now()
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO vector_records (id, user_id, type, ref_id, text, valid_from, metadata, embedding)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET text=$5, valid_from=$6, metadata=$7, embedding=$8
	`, rec.ID, rec.UserID, string(rec.Type), rec.RefID, rec.Text, rec.ValidFrom, meta, formatVector(rec.Embedding))
	if err != nil {
		return fmt.Errorf("upserting vector record: %w", err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM vector_records WHERE id=$1`, id)
	return err
}

func (p *Postgres) Search(ctx context.Context, q Query) ([]Match, error) {
	args := []any{q.UserID, formatVector(q.Vector)}
	where := "user_id=$1"
	if q.Type != "" {
		args = append(args, string(q.Type))
		where += fmt.Sprintf(" AND type=$%d", len(args))
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}
	args = append(args, topK)
	limitParam := len(args)

	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, user_id, type, ref_id, text, valid_from, metadata, embedding <=> $2 AS distance
		FROM vector_records
		WHERE %s
		ORDER BY embedding <=> $2
		LIMIT $%d`, where, limitParam), args...)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var rec domain.VectorRecord
		var typ string
		var meta []byte
		var distance float64
		if err := rows.Scan(&rec.ID, &rec.UserID, &typ, &rec.RefID, &rec.Text, &rec.ValidFrom, &meta, &distance); err != nil {
			return nil, err
		}
		rec.Type = domain.VectorRecordType(typ)
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &rec.Metadata)
		}
		out = append(out, Match{Record: rec, Distance: distance})
	}
	return out, rows.Err()
}

func (p *Postgres) ListRefIDs(ctx context.Context, userID string, t domain.VectorRecordType) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT ref_id FROM vector_records WHERE user_id=$1 AND type=$2`, userID, string(t))
	if err != nil {
		return nil, fmt.Errorf("listing vector ref ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var refID string
		if err := rows.Scan(&refID); err != nil {
			return nil, err
		}
		out = append(out, refID)
	}
	return out, rows.Err()
}
