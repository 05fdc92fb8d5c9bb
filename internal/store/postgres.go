package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"memoria/internal/domain"
)

// Postgres is the production Store, grounded on the teacher's pgxpool
// usage throughout internal/persistence/databases (NewPostgresVector's
// schema-creation-on-connect pattern, factory.go's pool sizing).
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pool and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		return nil, fmt.Errorf("pinging: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			active BOOLEAN NOT NULL DEFAULT true,
			drop_token TEXT NOT NULL UNIQUE,
			settings JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT,
			content TEXT NOT NULL,
			source TEXT,
			tags TEXT[],
			status TEXT NOT NULL,
			show_in_inbox BOOLEAN NOT NULL DEFAULT true,
			embedding_id TEXT,
			reference_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_inbox ON memories(user_id, show_in_inbox)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			memory_id TEXT NOT NULL REFERENCES memories(id),
			user_id TEXT NOT NULL,
			idx INT NOT NULL,
			text TEXT NOT NULL,
			enriched_text TEXT NOT NULL,
			summary TEXT,
			qas JSONB,
			entities TEXT[],
			vector_id TEXT,
			trust_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			feedback_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_memory ON chunks(memory_id)`,
		`CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object TEXT NOT NULL,
			location TEXT,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			source_memory_id TEXT,
			source_chunk_id TEXT,
			valid_from TIMESTAMPTZ NOT NULL DEFAULT now(),
			valid_until TIMESTAMPTZ,
			is_superseded BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_subject_predicate ON facts(user_id, subject, predicate)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_user_current ON facts(user_id) WHERE NOT is_superseded AND valid_until IS NULL`,
		`CREATE TABLE IF NOT EXISTS clusters (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			memory_ids TEXT[] NOT NULL,
			representative_text TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS usage_events (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			tokens INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_user_time ON usage_events(user_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	if u.ID == "" {
		u.ID = newID()
	}
	if u.DropToken == "" {
		u.DropToken = newID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.Active = true
	settings, err := json.Marshal(u.Settings)
	if err != nil {
		return domain.User{}, err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO users (id, email, active, drop_token, settings, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, u.ID, u.Email, u.Active, u.DropToken, settings, u.CreatedAt)
	if err != nil {
		return domain.User{}, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	var settings []byte
	if err := row.Scan(&u.ID, &u.Email, &u.Active, &u.DropToken, &settings, &u.CreatedAt); err != nil {
		return domain.User{}, err
	}
	if len(settings) > 0 {
		_ = json.Unmarshal(settings, &u.Settings)
	}
	return u, nil
}

const userColumns = `id, email, active, drop_token, settings, created_at`

func (p *Postgres) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.User{}, fmt.Errorf("user %s: %w", id, domain.ErrSentinelNotFound)
		}
		return domain.User{}, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

func (p *Postgres) GetUserByDropToken(ctx context.Context, token string) (domain.User, error) {
	u, err := scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE drop_token=$1`, token))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.User{}, fmt.Errorf("user with drop token: %w", domain.ErrSentinelNotFound)
		}
		return domain.User{}, fmt.Errorf("getting user by drop token: %w", err)
	}
	return u, nil
}

// ListUsers returns every active user, used by the worker's reconciler
// sweep to walk all tenants in one process.
func (p *Postgres) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE active ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateMemory(ctx context.Context, m domain.Memory) (domain.Memory, error) {
	if m.ID == "" {
		m.ID = newID()
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	_, err := p.pool.Exec(ctx, `
		INSERT INTO memories (id, user_id, title, content, source, tags, status, show_in_inbox, embedding_id, reference_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET title=$3, content=$4, source=$5, tags=$6, status=$7, show_in_inbox=$8, embedding_id=$9, updated_at=$12
	`, m.ID, m.UserID, m.Title, m.Content, m.Source, m.Tags, string(m.Status), m.ShowInInbox, m.EmbeddingID, m.ReferenceAt, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return domain.Memory{}, fmt.Errorf("creating memory: %w", err)
	}
	return m, nil
}

func (p *Postgres) GetMemory(ctx context.Context, id string) (domain.Memory, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, user_id, title, content, source, tags, status, show_in_inbox, embedding_id, reference_at, created_at, updated_at
		FROM memories WHERE id=$1`, id)
	var m domain.Memory
	var status string
	if err := row.Scan(&m.ID, &m.UserID, &m.Title, &m.Content, &m.Source, &m.Tags, &status, &m.ShowInInbox, &m.EmbeddingID, &m.ReferenceAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Memory{}, fmt.Errorf("memory %s: %w", id, domain.ErrSentinelNotFound)
		}
		return domain.Memory{}, fmt.Errorf("getting memory: %w", err)
	}
	m.Status = domain.MemoryStatus(status)
	return m, nil
}

func (p *Postgres) UpdateMemory(ctx context.Context, m domain.Memory) error {
	m.UpdatedAt = time.Now()
	tag, err := p.pool.Exec(ctx, `
		UPDATE memories SET title=$2, content=$3, source=$4, tags=$5, status=$6, show_in_inbox=$7, embedding_id=$8, updated_at=$9
		WHERE id=$1`, m.ID, m.Title, m.Content, m.Source, m.Tags, string(m.Status), m.ShowInInbox, m.EmbeddingID, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("memory %s: %w", m.ID, domain.ErrSentinelNotFound)
	}
	return nil
}

func (p *Postgres) ListInboxMemories(ctx context.Context, userID string) ([]domain.Memory, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, title, content, source, tags, status, show_in_inbox, embedding_id, reference_at, created_at, updated_at
		FROM memories WHERE user_id=$1 AND show_in_inbox=true ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing inbox: %w", err)
	}
	defer rows.Close()

	var out []domain.Memory
	for rows.Next() {
		var m domain.Memory
		var status string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Title, &m.Content, &m.Source, &m.Tags, &status, &m.ShowInInbox, &m.EmbeddingID, &m.ReferenceAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Status = domain.MemoryStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) ListMemoriesByUser(ctx context.Context, userID string) ([]domain.Memory, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, title, content, source, tags, status, show_in_inbox, embedding_id, reference_at, created_at, updated_at
		FROM memories WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing memories by user: %w", err)
	}
	defer rows.Close()

	var out []domain.Memory
	for rows.Next() {
		var m domain.Memory
		var status string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Title, &m.Content, &m.Source, &m.Tags, &status, &m.ShowInInbox, &m.EmbeddingID, &m.ReferenceAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Status = domain.MemoryStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) SearchMemoriesByContent(ctx context.Context, userID, substr string, limit int) ([]domain.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, title, content, source, tags, status, show_in_inbox, embedding_id, reference_at, created_at, updated_at
		FROM memories
		WHERE user_id=$1 AND status='approved' AND content ILIKE '%' || $2 || '%'
		ORDER BY created_at DESC
		LIMIT $3`, userID, substr, limit)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	defer rows.Close()

	var out []domain.Memory
	for rows.Next() {
		var m domain.Memory
		var status string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Title, &m.Content, &m.Source, &m.Tags, &status, &m.ShowInInbox, &m.EmbeddingID, &m.ReferenceAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Status = domain.MemoryStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) GetChunk(ctx context.Context, id string) (domain.Chunk, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, memory_id, user_id, idx, text, enriched_text, summary, qas, entities, vector_id, trust_score, feedback_score, created_at
		FROM chunks WHERE id=$1`, id)
	var c domain.Chunk
	var qas []byte
	if err := row.Scan(&c.ID, &c.MemoryID, &c.UserID, &c.Index, &c.Text, &c.EnrichedText, &c.Summary, &qas, &c.Entities, &c.VectorID, &c.TrustScore, &c.FeedbackScore, &c.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Chunk{}, fmt.Errorf("chunk %s: %w", id, domain.ErrSentinelNotFound)
		}
		return domain.Chunk{}, fmt.Errorf("getting chunk: %w", err)
	}
	if len(qas) > 0 {
		_ = json.Unmarshal(qas, &c.QuestionsAns)
	}
	return c, nil
}

func (p *Postgres) CreateChunk(ctx context.Context, c domain.Chunk) (domain.Chunk, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.TrustScore == 0 {
		c.TrustScore = 0.5
	}
	qas, err := json.Marshal(c.QuestionsAns)
	if err != nil {
		return domain.Chunk{}, err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO chunks (id, memory_id, user_id, idx, text, enriched_text, summary, qas, entities, vector_id, trust_score, feedback_score, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, c.ID, c.MemoryID, c.UserID, c.Index, c.Text, c.EnrichedText, c.Summary, qas, c.Entities, c.VectorID, c.TrustScore, c.FeedbackScore, c.CreatedAt)
	if err != nil {
		return domain.Chunk{}, fmt.Errorf("creating chunk: %w", err)
	}
	return c, nil
}

func (p *Postgres) ListChunksByMemory(ctx context.Context, memoryID string) ([]domain.Chunk, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, memory_id, user_id, idx, text, enriched_text, summary, qas, entities, vector_id, trust_score, feedback_score, created_at
		FROM chunks WHERE memory_id=$1 ORDER BY idx ASC`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var qas []byte
		if err := rows.Scan(&c.ID, &c.MemoryID, &c.UserID, &c.Index, &c.Text, &c.EnrichedText, &c.Summary, &qas, &c.Entities, &c.VectorID, &c.TrustScore, &c.FeedbackScore, &c.CreatedAt); err != nil {
			return nil, err
		}
		if len(qas) > 0 {
			_ = json.Unmarshal(qas, &c.QuestionsAns)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateFact(ctx context.Context, f domain.Fact) (domain.Fact, error) {
	if f.ID == "" {
		f.ID = newID()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	if f.ValidFrom.IsZero() {
		f.ValidFrom = f.CreatedAt
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO facts (id, user_id, subject, predicate, object, location, confidence, source_memory_id, source_chunk_id, valid_from, valid_until, is_superseded, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, f.ID, f.UserID, f.Subject, f.Predicate, f.Object, f.Location, f.Confidence, f.SourceMemoryID, f.SourceChunkID, f.ValidFrom, f.ValidUntil, f.IsSuperseded, f.CreatedAt)
	if err != nil {
		return domain.Fact{}, fmt.Errorf("creating fact: %w", err)
	}
	return f, nil
}

func scanFact(row pgx.Row) (domain.Fact, error) {
	var f domain.Fact
	err := row.Scan(&f.ID, &f.UserID, &f.Subject, &f.Predicate, &f.Object, &f.Location, &f.Confidence, &f.SourceMemoryID, &f.SourceChunkID, &f.ValidFrom, &f.ValidUntil, &f.IsSuperseded, &f.CreatedAt)
	return f, err
}

const factColumns = `id, user_id, subject, predicate, object, location, confidence, source_memory_id, source_chunk_id, valid_from, valid_until, is_superseded, created_at`

func (p *Postgres) GetFact(ctx context.Context, id string) (domain.Fact, error) {
	f, err := scanFact(p.pool.QueryRow(ctx, `SELECT `+factColumns+` FROM facts WHERE id=$1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Fact{}, fmt.Errorf("fact %s: %w", id, domain.ErrSentinelNotFound)
		}
		return domain.Fact{}, err
	}
	return f, nil
}

func (p *Postgres) UpdateFact(ctx context.Context, f domain.Fact) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE facts SET valid_until=$2, is_superseded=$3 WHERE id=$1`, f.ID, f.ValidUntil, f.IsSuperseded)
	if err != nil {
		return fmt.Errorf("updating fact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fact %s: %w", f.ID, domain.ErrSentinelNotFound)
	}
	return nil
}

func (p *Postgres) CurrentFactsBySubjectPredicate(ctx context.Context, userID, subject, predicate string) ([]domain.Fact, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+factColumns+` FROM facts
		WHERE user_id=$1 AND subject=$2 AND predicate=$3 AND valid_until IS NULL AND NOT is_superseded`,
		userID, subject, predicate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *Postgres) ListFactsByUser(ctx context.Context, userID string, currentOnly bool) ([]domain.Fact, error) {
	q := `SELECT ` + factColumns + ` FROM facts WHERE user_id=$1`
	if currentOnly {
		q += ` AND valid_until IS NULL AND NOT is_superseded`
	}
	rows, err := p.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *Postgres) ListFactsByIDs(ctx context.Context, ids []string) ([]domain.Fact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `SELECT `+factColumns+` FROM facts WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateCluster(ctx context.Context, c domain.Cluster) (domain.Cluster, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO clusters (id, user_id, memory_ids, representative_text, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`, c.ID, c.UserID, c.MemoryIDs, c.RepresentativeText, string(c.Status), c.CreatedAt)
	if err != nil {
		return domain.Cluster{}, fmt.Errorf("creating cluster: %w", err)
	}
	return c, nil
}

func (p *Postgres) ListClustersByUser(ctx context.Context, userID string) ([]domain.Cluster, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, memory_ids, representative_text, status, created_at
		FROM clusters WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Cluster
	for rows.Next() {
		var c domain.Cluster
		var status string
		if err := rows.Scan(&c.ID, &c.UserID, &c.MemoryIDs, &c.RepresentativeText, &status, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Status = domain.ClusterStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateCluster(ctx context.Context, c domain.Cluster) error {
	tag, err := p.pool.Exec(ctx, `UPDATE clusters SET status=$2 WHERE id=$1`, c.ID, string(c.Status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cluster %s: %w", c.ID, domain.ErrSentinelNotFound)
	}
	return nil
}

func (p *Postgres) RecordUsage(ctx context.Context, userID string, inputTokens, outputTokens int) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO usage_events (user_id, tokens) VALUES ($1,$2)`, userID, inputTokens+outputTokens)
	return err
}

func (p *Postgres) DailyTotalTokens(ctx context.Context, userID string) (int, error) {
	var total int
	err := p.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(tokens), 0) FROM usage_events WHERE user_id=$1 AND created_at > now() - interval '24 hours'`, userID).Scan(&total)
	return total, err
}

func newID() string {
	return uuid.NewString()
}
