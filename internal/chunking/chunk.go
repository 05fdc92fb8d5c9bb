// Package chunking splits memory content into chunks for embedding and
// fact extraction, generalizing the teacher's rag/chunker fixed-size
// splitter with the recursive-separator and semantic strategies the
// ingestion pipeline requires.
package chunking

import (
	"strings"
)

// Chunk is one slice of a Memory's content prior to enrichment.
type Chunk struct {
	Index int
	Text  string
}

const (
	// SemanticThreshold is the document length below which the whole
	// document is embedded as a single chunk.
	SemanticThreshold = 500
	// RecursiveThreshold is the document length below which the
	// recursive splitter runs; at or above it, semantic chunking applies.
	RecursiveThreshold = 3000

	recursiveSize    = 1000
	recursiveOverlap = 200
)

// recursiveSeparators mirrors langchain's RecursiveCharacterTextSplitter
// default cascade, as used by the system this pipeline is modeled on.
var recursiveSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Fixed splits text into recursiveSize-character chunks with
// recursiveOverlap of trailing context carried into the next chunk,
// preferring to break on the separator cascade rather than mid-word.
func Fixed(text string) []Chunk {
	return recursiveSplit(text, recursiveSeparators, recursiveSize, recursiveOverlap)
}

func recursiveSplit(text string, seps []string, size, overlap int) []Chunk {
	pieces := splitBySeparators(text, seps)
	merged := mergeWithOverlap(pieces, size, overlap)
	chunks := make([]Chunk, 0, len(merged))
	for i, m := range merged {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: m})
		_ = i
	}
	return chunks
}

// splitBySeparators recursively breaks text on the first separator in seps
// that actually divides it, descending the cascade for any piece still
// longer than recursiveSize; the final separator ("") splits by rune.
func splitBySeparators(text string, seps []string) []string {
	if len(text) <= recursiveSize {
		return []string{text}
	}
	if len(seps) == 0 {
		return []string{text}
	}
	sep, rest := seps[0], seps[1:]
	var parts []string
	if sep == "" {
		parts = splitByRune(text, recursiveSize)
	} else {
		parts = strings.Split(text, sep)
		for i := 0; i < len(parts)-1; i++ {
			parts[i] += sep
		}
	}
	var out []string
	for _, p := range parts {
		if len(p) > recursiveSize && len(rest) > 0 {
			out = append(out, splitBySeparators(p, rest)...)
		} else {
			out = append(out, p)
		}
	}
	return out
}

func splitByRune(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// mergeWithOverlap packs small pieces produced by splitBySeparators into
// size-bounded chunks, carrying the last overlap characters of each chunk
// into the next one's prefix.
func mergeWithOverlap(pieces []string, size, overlap int) []string {
	var chunks []string
	var cur strings.Builder
	for _, p := range pieces {
		if cur.Len() > 0 && cur.Len()+len(p) > size {
			chunks = append(chunks, cur.String())
			tail := tailOverlap(cur.String(), overlap)
			cur.Reset()
			cur.WriteString(tail)
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

func tailOverlap(s string, overlap int) string {
	if len(s) <= overlap {
		return s
	}
	return s[len(s)-overlap:]
}

// classify dispatches on length: short documents are short enough to embed
// whole, mid-range documents go through the recursive splitter, and long
// documents go through the semantic chunker (see semantic.go), which is
// the most expensive strategy and reserved for the longest inputs.
func classify(textLen int) string {
	switch {
	case textLen < SemanticThreshold:
		return "single"
	case textLen < RecursiveThreshold:
		return "recursive"
	default:
		return "semantic"
	}
}
