package chunking

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedRespectsSizeAndOverlap(t *testing.T) {
	text := strings.Repeat("word ", 1000)
	chunks := Fixed(text)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), recursiveSize+recursiveOverlap+10)
	}
}

func TestSplitSentences(t *testing.T) {
	text := "First sentence. Second sentence! Third one? Done."
	got := splitSentences(text)
	require.Len(t, got, 4)
	assert.Equal(t, "First sentence.", got[0])
}

type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func TestSemanticClosesOnLowSimilarity(t *testing.T) {
	s1 := strings.Repeat("a", 200) + "."
	s2 := strings.Repeat("b", 100) + "."
	emb := fakeEmbedder{vectors: map[string][]float32{
		s1: {1, 0, 0},
		s2: {0, 1, 0},
	}}
	chunks, err := Semantic(context.Background(), emb, s1+" "+s2)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestSemanticEagerCloseOnLength(t *testing.T) {
	var sb strings.Builder
	sentence := strings.Repeat("x", 50) + "."
	for i := 0; i < 50; i++ {
		sb.WriteString(sentence)
		sb.WriteString(" ")
	}
	emb := fakeEmbedder{}
	chunks, err := Semantic(context.Background(), emb, sb.String())
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), eagerCloseLen+100)
	}
}

func TestClassifyThresholds(t *testing.T) {
	assert.Equal(t, "single", classify(100))
	assert.Equal(t, "recursive", classify(1000))
	assert.Equal(t, "semantic", classify(5000))
}
