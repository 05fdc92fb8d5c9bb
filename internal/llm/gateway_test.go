package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name     string
	response string
	usage    Usage
	err      error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Chat(_ context.Context, _ string, _ []Message, _ int) (ChatResponse, error) {
	if f.err != nil {
		return ChatResponse{}, f.err
	}
	return ChatResponse{Content: f.response, Usage: f.usage}, nil
}

type fakeUsageSink struct {
	total   int
	records []Usage
}

func (f *fakeUsageSink) RecordUsage(_ context.Context, _ string, u Usage) error {
	f.records = append(f.records, u)
	f.total += u.InputTokens + u.OutputTokens
	return nil
}

func (f *fakeUsageSink) DailyTotal(_ context.Context, _ string) (int, error) {
	return f.total, nil
}

func TestGatewayFallsBackToSecondProvider(t *testing.T) {
	p1 := &fakeProvider{name: "p1", err: assert.AnError}
	p2 := &fakeProvider{name: "p2", response: "hello"}
	sink := &fakeUsageSink{}
	gw := NewGateway(p1, NewDeterministicEmbedder(8, true), sink, WithFallback(p2))

	out, err := gw.Generate(context.Background(), "u1", []Message{{Role: "user", Content: "hi"}}, 100)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestGatewayBudgetExceeded(t *testing.T) {
	p1 := &fakeProvider{name: "p1", response: "hi"}
	sink := &fakeUsageSink{total: 1_000_000}
	gw := NewGateway(p1, NewDeterministicEmbedder(8, true), sink, WithMaxDailyTokens(100))

	_, err := gw.Generate(context.Background(), "u1", []Message{{Role: "user", Content: "hi"}}, 100)
	require.Error(t, err)
}

func TestEnrichParsesJSON(t *testing.T) {
	p := &fakeProvider{response: "```json\n{\"summary\": \"a short summary\", \"questions_and_answers\": [{\"question\": \"q\", \"answer\": \"a\"}]}\n```"}
	gw := NewGateway(p, NewDeterministicEmbedder(8, true), nil)

	res, err := gw.Enrich(context.Background(), "u1", "some chunk text")
	require.NoError(t, err)
	assert.Equal(t, "a short summary", res.Summary)
	require.Len(t, res.QAs, 1)
	assert.Equal(t, "q", res.QAs[0].Question)
}

func TestJudgeFactNoCandidatesReturnsNew(t *testing.T) {
	gw := NewGateway(&fakeProvider{}, NewDeterministicEmbedder(8, true), nil)
	d, err := gw.JudgeFact(context.Background(), "u1", "alice lives_in boston", "2026-01-01", nil)
	require.NoError(t, err)
	assert.Equal(t, "NEW", d.Decision)
}

func TestJudgeFactSupersede(t *testing.T) {
	p := &fakeProvider{response: `{"decision": "SUPERSEDE", "target_id": "fact_42"}`}
	gw := NewGateway(p, NewDeterministicEmbedder(8, true), nil)
	d, err := gw.JudgeFact(context.Background(), "u1", "alice lives_in seattle", "2026-01-01", []FactCandidate{
		{ID: "fact_42", Text: "alice lives_in boston", ValidFrom: "2024-01-01"},
	})
	require.NoError(t, err)
	assert.Equal(t, "SUPERSEDE", d.Decision)
	assert.Equal(t, "fact_42", d.TargetID)
}

func TestExtractFactsUsesReferenceDate(t *testing.T) {
	p := &fakeProvider{response: `{"facts": [{"subject": "alice", "predicate": "lives_in", "object": "boston", "confidence": 0.9, "valid_from": "2026-01-01"}]}`}
	gw := NewGateway(p, NewDeterministicEmbedder(8, true), nil)
	facts, err := gw.ExtractFacts(context.Background(), "u1", "alice moved to boston", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "lives_in", facts[0].Predicate)
}
