package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"memoria/internal/domain"
)

// UsageSink records per-call token usage and answers the rolling 24h total
// the budget gate checks before dispatch.
type UsageSink interface {
	RecordUsage(ctx context.Context, userID string, usage Usage) error
	DailyTotal(ctx context.Context, userID string) (int, error)
}

// Gateway is the LLM Gateway: budget-gated access to a chat provider (with
// fallback) and an embedder, plus the structured extraction calls the
// ingestion and fact pipelines need.
type Gateway struct {
	providers      []Provider
	embedder       Embedder
	usage          UsageSink
	maxDailyTokens int
}

// Option configures a Gateway, following the teacher's functional-options
// convention (see internal/rag/service.Option in the original RAG
// service).
type Option func(*Gateway)

// WithFallback appends additional providers tried in order after the
// primary fails.
func WithFallback(providers ...Provider) Option {
	return func(g *Gateway) { g.providers = append(g.providers, providers...) }
}

// WithMaxDailyTokens overrides the per-user daily token budget.
func WithMaxDailyTokens(n int) Option {
	return func(g *Gateway) { g.maxDailyTokens = n }
}

// NewGateway constructs a Gateway around a primary provider and embedder.
func NewGateway(primary Provider, embedder Embedder, usage UsageSink, opts ...Option) *Gateway {
	g := &Gateway{
		providers:      []Provider{primary},
		embedder:       embedder,
		usage:          usage,
		maxDailyTokens: 200_000,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// checkBudget returns domain.ErrSentinelBudgetExceeded if userID's rolling
// 24h token usage has already reached the configured ceiling.
func (g *Gateway) checkBudget(ctx context.Context, userID string) error {
	if g.usage == nil {
		return nil
	}
	total, err := g.usage.DailyTotal(ctx, userID)
	if err != nil {
		return fmt.Errorf("checking budget: %w", err)
	}
	if total >= g.maxDailyTokens {
		return fmt.Errorf("user %s has used %d/%d daily tokens: %w", userID, total, g.maxDailyTokens, domain.ErrSentinelBudgetExceeded)
	}
	return nil
}

// Generate issues a chat completion, trying each configured provider in
// order until one succeeds, and records usage for the first one that does.
func (g *Gateway) Generate(ctx context.Context, userID string, msgs []Message, maxTokens int) (string, error) {
	if len(g.providers) == 0 {
		return "", domain.ErrSentinelNoProvider
	}
	if err := g.checkBudget(ctx, userID); err != nil {
		return "", err
	}

	var lastErr error
	for _, p := range g.providers {
		resp, err := p.Chat(ctx, "", msgs, maxTokens)
		if err != nil {
			lastErr = err
			continue
		}
		if g.usage != nil {
			_ = g.usage.RecordUsage(ctx, userID, resp.Usage)
		}
		return resp.Content, nil
	}
	return "", fmt.Errorf("all providers failed, last error: %w", lastErr)
}

// Embed wraps the embedder with the same interface shape the chunking and
// retrieval packages expect (chunking.Embedder is a structural subset).
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	return g.embedder.Embed(ctx, text)
}

// EmbedBatch embeds multiple texts, delegating batching to the provider
// when it supports it.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return g.embedder.EmbedBatch(ctx, texts)
}

// EnrichResult is the structured output of Enrich: a summary and generated
// question/answer pairs appended to the chunk's enriched embedding text.
type EnrichResult struct {
	Summary string      `json:"summary"`
	QAs     []domain.QA `json:"questions_and_answers"`
}

var jsonObjectRE = regexp.MustCompile(`(?s)\{.*\}`)

func extractJSON(raw string, out any) error {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)
	match := jsonObjectRE.FindString(clean)
	if match == "" {
		return fmt.Errorf("no JSON object found in response")
	}
	return json.Unmarshal([]byte(match), out)
}

// Enrich summarizes a chunk and generates question/answer pairs, the
// enrichment step the Ingestion Pipeline runs per chunk before embedding.
func (g *Gateway) Enrich(ctx context.Context, userID, chunkText string) (EnrichResult, error) {
	prompt := fmt.Sprintf(`Summarize the following text in 1-2 sentences and generate up to 3 question/answer pairs a reader might ask about it.

Text:
%s

Output JSON: {"summary": "...", "questions_and_answers": [{"question": "...", "answer": "..."}]}`, chunkText)

	raw, err := g.Generate(ctx, userID, []Message{{Role: "user", Content: prompt}}, 512)
	if err != nil {
		return EnrichResult{}, err
	}
	var out EnrichResult
	if err := extractJSON(raw, &out); err != nil {
		return EnrichResult{}, fmt.Errorf("enrich: parsing model output: %w", err)
	}
	return out, nil
}

// ExtractedFact is one atomic triple the model pulled out of a chunk.
type ExtractedFact struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
	ValidFrom  string  `json:"valid_from"`
	Location   string  `json:"location"`
}

// ExtractFacts pulls atomic (subject, predicate, object) facts out of a
// chunk, given the memory's reference date for resolving relative dates
// ("last week", "since January").
func (g *Gateway) ExtractFacts(ctx context.Context, userID, chunkText string, referenceDate time.Time) ([]ExtractedFact, error) {
	prompt := fmt.Sprintf(`Reference date: %s

Extract atomic facts (subject, predicate, object triples) from the text below. Resolve relative dates against the reference date. Skip opinions and facts with no clear subject.

Text:
%s

Output JSON: {"facts": [{"subject": "...", "predicate": "...", "object": "...", "confidence": 0.9, "valid_from": "YYYY-MM-DD", "location": ""}]}`, referenceDate.Format("2006-01-02"), chunkText)

	raw, err := g.Generate(ctx, userID, []Message{{Role: "user", Content: prompt}}, 1024)
	if err != nil {
		return nil, err
	}
	var out struct {
		Facts []ExtractedFact `json:"facts"`
	}
	if err := extractJSON(raw, &out); err != nil {
		return nil, fmt.Errorf("extractFacts: parsing model output: %w", err)
	}
	return out.Facts, nil
}

// FactJudgeDecision is the structured output of JudgeFact.
type FactJudgeDecision struct {
	Decision string // "NEW" | "DUPLICATE" | "SUPERSEDE"
	TargetID string // populated when Decision == "SUPERSEDE"
}

// FactCandidate is an existing fact presented to the judge for comparison.
type FactCandidate struct {
	ID        string
	Text      string
	ValidFrom string
}

// JudgeFact asks the model to decide whether a newly extracted fact is a
// duplicate of, supersedes, or is entirely new relative to its nearest
// existing candidates. Grounded directly on
// fact_service.py::_analyze_fact's judge prompt and decision contract.
func (g *Gateway) JudgeFact(ctx context.Context, userID, factText, newDate string, candidates []FactCandidate) (FactJudgeDecision, error) {
	if len(candidates) == 0 {
		return FactJudgeDecision{Decision: "NEW"}, nil
	}

	var sb strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&sb, "[%s] Date: %s | Text: %s\n", c.ID, c.ValidFrom, c.Text)
	}

	prompt := fmt.Sprintf(`Fact Gatekeeper:
New Fact: %q (Date: %s)

Existing Similar Facts:
%s
Decide:
1. DUPLICATE: New Fact adds NO new info AND refers to the same time period.
2. SUPERSEDE: New Fact is MORE detailed/current/corrected version of the Old Fact. (Output ID to supersede).
3. NEW: Different fact entirely OR refers to a Different Time (e.g. valid_from is significantly newer/different).

Output JSON: {"decision": "DUPLICATE" | "SUPERSEDE" | "NEW", "target_id": "fact_123"}`, factText, newDate, sb.String())

	raw, err := g.Generate(ctx, userID, []Message{{Role: "user", Content: prompt}}, 256)
	if err != nil {
		return FactJudgeDecision{}, err
	}

	var out struct {
		Decision string `json:"decision"`
		TargetID string `json:"target_id"`
	}
	if err := extractJSON(raw, &out); err != nil {
		return FactJudgeDecision{Decision: "NEW"}, nil // tolerant: a malformed judge response falls back to NEW
	}
	if out.Decision == "" {
		out.Decision = "NEW"
	}
	return FactJudgeDecision{Decision: out.Decision, TargetID: out.TargetID}, nil
}
