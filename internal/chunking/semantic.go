package chunking

import (
	"context"
	"math"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Embedder is the minimal capability the semantic chunker needs; satisfied
// by internal/llm.Gateway.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const (
	similarityThreshold = 0.5
	minBufferLen        = 150
	eagerCloseLen       = 2000
)

var sentenceSplitRE = regexp.MustCompile(`(?s)(?:[.?!])\s+`)

// splitSentences breaks text on terminal punctuation followed by
// whitespace, matching the original system's `re.split(r'(?<=[.?!])\s+')`.
// Go's regexp lacks lookbehind, so we split on the punctuation+space run
// and re-attach the punctuation to the preceding sentence.
func splitSentences(text string) []string {
	idxs := sentenceSplitRE.FindAllStringIndex(text, -1)
	if len(idxs) == 0 {
		s := strings.TrimSpace(text)
		if s == "" {
			return nil
		}
		return []string{s}
	}
	var out []string
	start := 0
	for _, m := range idxs {
		// Include the punctuation character (last byte of the match's
		// non-whitespace portion) in the sentence.
		punctEnd := m[0] + 1
		out = append(out, text[start:punctEnd])
		start = m[1]
	}
	if start < len(text) {
		rest := strings.TrimSpace(text[start:])
		if rest != "" {
			out = append(out, rest)
		}
	}
	return out
}

// Semantic performs semantic chunking: split text into sentences, embed
// each sentence in parallel, then walk the sequence closing the current
// buffer whenever adjacent-sentence similarity drops below
// similarityThreshold and the buffer already exceeds minBufferLen
// characters, or eagerly once the buffer exceeds eagerCloseLen regardless
// of similarity.
func Semantic(ctx context.Context, emb Embedder, text string) ([]Chunk, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) == 1 {
		return []Chunk{{Index: 0, Text: sentences[0]}}, nil
	}

	vectors := make([][]float32, len(sentences))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range sentences {
		i, s := i, s
		g.Go(func() error {
			v, err := emb.Embed(gctx, s)
			if err != nil {
				return err
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var chunks []Chunk
	var buf []string
	bufLen := 0
	for i, s := range sentences {
		buf = append(buf, s)
		bufLen += len(s) + 1

		if i == len(sentences)-1 {
			chunks = append(chunks, Chunk{Index: len(chunks), Text: strings.Join(buf, " ")})
			break
		}

		sim := cosineSimilarity(vectors[i], vectors[i+1])
		switch {
		case sim < similarityThreshold && bufLen > minBufferLen:
			chunks = append(chunks, Chunk{Index: len(chunks), Text: strings.Join(buf, " ")})
			buf = nil
			bufLen = 0
		case bufLen > eagerCloseLen:
			chunks = append(chunks, Chunk{Index: len(chunks), Text: strings.Join(buf, " ")})
			buf = nil
			bufLen = 0
		}
	}
	return chunks, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Split is the entry point the ingestion pipeline calls: it classifies the
// document by length and dispatches to a single whole-text chunk, the
// recursive splitter, or the semantic chunker accordingly.
func Split(ctx context.Context, emb Embedder, text string) ([]Chunk, error) {
	switch classify(len(text)) {
	case "single":
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, nil
		}
		return []Chunk{{Index: 0, Text: text}}, nil
	case "recursive":
		return Fixed(text), nil
	default:
		return Semantic(ctx, emb, text)
	}
}
