// Package facts implements the Fact Service: atomic-fact extraction,
// bitemporal supersession, and dedup against existing facts. Grounded
// directly on original_source/backend/app/services/fact_service.py, whose
// two-phase create (gather judge decisions in parallel, then write
// sequentially) this package mirrors with a goroutine fan-out + sequential
// apply, the shape the teacher uses for its own two-phase flows
// (internal/rag/ingest pipeline's plan-then-apply split).
package facts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"memoria/internal/domain"
	"memoria/internal/llm"
	"memoria/internal/store"
	"memoria/internal/vectorstore"
)

// factCandidateTopK is the number of nearest existing facts presented to the
// judge, per fact_service.py::_analyze_fact's n_results=3 vector query.
const factCandidateTopK = 3

// factIDPrefix is how a fact's vector-store candidate ID is presented to the
// judge, matching the "fact_123" convention the judge prompt itself names.
const factIDPrefix = "fact_"

// singleValuePredicates names predicates for which a user can only ever
// have one current value: writing a new one always closes out the old,
// regardless of what the judge decided. Grounded on fact_service.py's
// SINGLE_VALUE_PREDICATES set.
var singleValuePredicates = map[string]bool{
	"lives_in":       true,
	"located_in":     true,
	"current_role":   true,
	"job_title":      true,
	"employer":       true,
	"current_status": true,
	"location":       true,
	"phone_number":   true,
	"email_address":  true,
	"is_active":      true,
	"age":            true,
}

// IsSingleValuePredicate reports whether predicate admits only one current
// value per subject.
func IsSingleValuePredicate(predicate string) bool {
	return singleValuePredicates[predicate]
}

// candidatePlan is an extracted fact paired with the judge's decision about how
// it relates to the subject+predicate's existing current facts.
type candidatePlan struct {
	extracted llm.ExtractedFact
	decision  llm.FactJudgeDecision
}

// Service creates and supersedes Facts from extracted triples.
type Service struct {
	Store       store.Store
	VectorStore vectorstore.VectorStore
	Gateway     *llm.Gateway
}

func NewService(st store.Store, vs vectorstore.VectorStore, gw *llm.Gateway) *Service {
	return &Service{Store: st, VectorStore: vs, Gateway: gw}
}

// CreateFacts runs the two-phase fact pipeline for every triple the
// Ingestion Pipeline extracted from one chunk: Phase 1 judges each
// candidate against its top-3 nearest existing facts (any subject or
// predicate) in parallel; Phase 2 applies every judged decision sequentially
// so supersession writes serialize and can't race each other for the same
// subject+predicate.
func (s *Service) CreateFacts(ctx context.Context, userID string, extracted []llm.ExtractedFact, memoryID, chunkID string) ([]domain.Fact, error) {
	plans := make([]candidatePlan, len(extracted))

	g, gctx := errgroup.WithContext(ctx)
	for i, ef := range extracted {
		i, ef := i, ef
		g.Go(func() error {
			factText := fmt.Sprintf("%s %s %s", ef.Subject, ef.Predicate, ef.Object)
			candidates, err := s.nearestFactCandidates(gctx, userID, factText)
			if err != nil {
				return fmt.Errorf("gathering fact candidates for %q: %w", factText, err)
			}
			decision, err := s.Gateway.JudgeFact(gctx, userID, factText, ef.ValidFrom, candidates)
			if err != nil {
				return fmt.Errorf("judging fact %q: %w", factText, err)
			}
			plans[i] = candidatePlan{extracted: ef, decision: decision}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var created []domain.Fact
	for _, plan := range plans {
		fact, err := s.applyPlan(ctx, userID, plan, memoryID, chunkID)
		if err != nil {
			return created, err
		}
		if fact != nil {
			created = append(created, *fact)
		}
	}
	return created, nil
}

// nearestFactCandidates embeds factText and returns the top-3 nearest
// existing facts across all subjects/predicates for userID, the judge's
// candidate set per fact_service.py::_analyze_fact. A nil VectorStore (unit
// tests) yields no candidates, which JudgeFact treats as an automatic NEW.
func (s *Service) nearestFactCandidates(ctx context.Context, userID, factText string) ([]llm.FactCandidate, error) {
	if s.VectorStore == nil {
		return nil, nil
	}
	vec, err := s.Gateway.Embed(ctx, factText)
	if err != nil {
		return nil, fmt.Errorf("embedding fact for candidate search: %w", err)
	}
	matches, err := s.VectorStore.Search(ctx, vectorstore.Query{
		UserID: userID,
		Type:   domain.VectorRecordFact,
		Vector: vec,
		TopK:   factCandidateTopK,
	})
	if err != nil {
		return nil, fmt.Errorf("searching nearest facts: %w", err)
	}
	candidates := make([]llm.FactCandidate, len(matches))
	for i, m := range matches {
		candidates[i] = llm.FactCandidate{
			ID:        factIDPrefix + m.Record.RefID,
			Text:      m.Record.Text,
			ValidFrom: m.Record.ValidFrom.Format("2006-01-02"),
		}
	}
	return candidates, nil
}

// applyPlan writes one judged candidate. DUPLICATE is dropped outright.
// SUPERSEDE and NEW both result in a new current Fact row; the
// single-value-predicate guard then unconditionally closes out every other
// current fact sharing this subject+predicate, independent of what the
// judge decided — fact_service.py calls _supersede_old_facts after every
// write for these predicates regardless of the judge's verdict, so a
// mis-judged NEW still can't leave two "current" addresses on file.
func (s *Service) applyPlan(ctx context.Context, userID string, plan candidatePlan, memoryID, chunkID string) (*domain.Fact, error) {
	if plan.decision.Decision == "DUPLICATE" {
		return nil, nil
	}

	validFrom, err := parseFactDate(plan.extracted.ValidFrom)
	if err != nil {
		validFrom = time.Now()
	}

	fact := domain.Fact{
		UserID:         userID,
		Subject:        plan.extracted.Subject,
		Predicate:      plan.extracted.Predicate,
		Object:         plan.extracted.Object,
		Location:       plan.extracted.Location,
		Confidence:     plan.extracted.Confidence,
		SourceMemoryID: memoryID,
		SourceChunkID:  chunkID,
		ValidFrom:      validFrom,
	}
	created, err := s.Store.CreateFact(ctx, fact)
	if err != nil {
		return nil, fmt.Errorf("creating fact: %w", err)
	}

	if plan.decision.Decision == "SUPERSEDE" && plan.decision.TargetID != "" {
		if err := s.closeFact(ctx, normalizeFactTargetID(plan.decision.TargetID), created.ValidFrom); err != nil {
			return nil, err
		}
	}

	if IsSingleValuePredicate(created.Predicate) {
		if err := s.supersedeOthers(ctx, userID, created); err != nil {
			return nil, err
		}
	}

	if s.VectorStore != nil {
		emb, err := s.Gateway.Embed(ctx, fmt.Sprintf("%s %s %s", created.Subject, created.Predicate, created.Object))
		if err == nil {
			_ = s.VectorStore.Upsert(ctx, domain.VectorRecord{
				ID: factIDPrefix + created.ID, UserID: userID, Type: domain.VectorRecordFact,
				RefID: created.ID, Text: fmt.Sprintf("%s %s %s", created.Subject, created.Predicate, created.Object),
				ValidFrom: created.ValidFrom, Embedding: emb,
			})
		}
	}

	return &created, nil
}

// supersedeOthers closes every other current fact for userID sharing
// created's subject+predicate, so single-value predicates never carry two
// simultaneously-current rows.
func (s *Service) supersedeOthers(ctx context.Context, userID string, created domain.Fact) error {
	current, err := s.Store.CurrentFactsBySubjectPredicate(ctx, userID, created.Subject, created.Predicate)
	if err != nil {
		return fmt.Errorf("loading current facts for supersession guard: %w", err)
	}
	for _, f := range current {
		if f.ID == created.ID {
			continue
		}
		if err := s.closeFact(ctx, f.ID, created.ValidFrom); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) closeFact(ctx context.Context, id string, validUntil time.Time) error {
	f, err := s.Store.GetFact(ctx, id)
	if err != nil {
		return fmt.Errorf("loading fact %s to supersede: %w", id, err)
	}
	f.IsSuperseded = true
	vu := validUntil
	f.ValidUntil = &vu
	return s.Store.UpdateFact(ctx, f)
}

// normalizeFactTargetID strips the judge's "fact_" candidate-ID prefix
// (added by nearestFactCandidates) back to the raw Store ID, per
// fact_service.py::_analyze_fact's target_id normalization.
func normalizeFactTargetID(targetID string) string {
	return strings.TrimPrefix(targetID, factIDPrefix)
}

func parseFactDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	return time.Parse("2006-01-02", s)
}
