package contextwindow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepquery/guardrail/internal/domain"
)

func TestEstimateTokens(t *testing.T) {
	m := New("sonnet", 8192, 1024)

	assert.Equal(t, 0, m.EstimateTokens(""))
	assert.Equal(t, 1, m.EstimateTokens("four"))
	assert.Equal(t, 25, m.EstimateTokens(strings.Repeat("a", 100)))
}

func TestMaxInputTokens(t *testing.T) {
	m := New("sonnet", 8192, 1024)
	assert.Equal(t, 7168, m.MaxInputTokens())
}

func TestTruncateToFitNoopWithinBudget(t *testing.T) {
	m := New("sonnet", 8192, 1024)
	text := strings.Repeat("a", 1000)
	assert.Equal(t, text, m.TruncateToFit(text))
}

func TestTruncateToFitOversized(t *testing.T) {
	m := New("sonnet", 8192, 1024)
	text := strings.Repeat("a", 40000)

	got := m.TruncateToFit(text)
	assert.True(t, strings.HasSuffix(got, TruncationMarker))
	assert.Less(t, len(got), len(text))
	assert.LessOrEqual(t, m.EstimateTokens(got), m.MaxInputTokens(),
		"truncated text, marker included, fits the input budget")
}

func TestTruncateToFitRuneBoundary(t *testing.T) {
	m := New("sonnet", 8192, 1024)
	text := strings.Repeat("é", 20000) // 2 bytes each

	got := m.TruncateToFit(text)
	assert.True(t, strings.HasSuffix(got, TruncationMarker))
	body := strings.TrimSuffix(got, TruncationMarker)
	assert.Equal(t, strings.Count(body, "é")*2, len(body), "no split runes")
}

func TestSplitIntoChunksSingleWhenFits(t *testing.T) {
	m := New("sonnet", 8192, 1024)
	text := strings.Repeat("a", 500)

	chunks := m.SplitIntoChunks(text)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestSplitIntoChunksPartitions(t *testing.T) {
	m := New("sonnet", 8192, 1024)
	text := strings.Repeat("a", 60000)

	chunks := m.SplitIntoChunks(text)
	require.Greater(t, len(chunks), 1)

	var rejoined strings.Builder
	for _, c := range chunks {
		assert.LessOrEqual(t, m.EstimateTokens(c), m.MaxInputTokens())
		rejoined.WriteString(c)
	}
	assert.Equal(t, text, rejoined.String(), "chunks are consecutive and lossless")
}

func TestValidateInputSize(t *testing.T) {
	m := New("sonnet", 8192, 1024)

	require.NoError(t, m.ValidateInputSize("short"))
	assert.True(t, m.Fits("short"))

	long := strings.Repeat("a", 40000)
	assert.False(t, m.Fits(long))

	err := m.ValidateInputSize(long)
	require.Error(t, err)

	var ge *domain.GovernanceError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, domain.KindContextLength, ge.Kind)
	assert.Equal(t, "sonnet", ge.Model)
	assert.False(t, ge.Retryable())
}
