package usecase

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText_ShortTextSingleChunk(t *testing.T) {
	chunks := ChunkText("short document", 1000, 200)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "short document", chunks[0].Text)
}

func TestChunkText_Empty(t *testing.T) {
	assert.Nil(t, ChunkText("   ", 1000, 200))
}

func TestChunkText_BreaksAtSentenceBoundary(t *testing.T) {
	// A period at 800 sits in the second half of the first 1000-char window,
	// so the first chunk ends just after it.
	text := strings.Repeat("a", 800) + ". " + strings.Repeat("b", 800)
	chunks := ChunkText(text, 1000, 200)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 800)+".", chunks[0].Text)
	// The second chunk overlaps the first by 200 characters.
	assert.True(t, strings.HasPrefix(chunks[1].Text, strings.Repeat("a", 198)))
	assert.True(t, strings.HasSuffix(chunks[1].Text, strings.Repeat("b", 800)))
}

func TestChunkText_NoBoundaryHardCut(t *testing.T) {
	text := strings.Repeat("x", 2500)
	chunks := ChunkText(text, 1000, 200)
	require.GreaterOrEqual(t, len(chunks), 3)
	assert.Len(t, chunks[0].Text, 1000)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestChunkText_BoundaryInFirstHalfIgnored(t *testing.T) {
	// A separator before the window midpoint is not a useful break; the
	// window is cut at full size instead.
	text := strings.Repeat("a", 300) + ". " + strings.Repeat("b", 1500)
	chunks := ChunkText(text, 1000, 200)
	require.NotEmpty(t, chunks)
	assert.Len(t, chunks[0].Text, 1000)
}

func TestChunkSentences_PacksSentences(t *testing.T) {
	chunks := ChunkSentences("One. Two! Three? Four.", 12)
	require.Len(t, chunks, 2)
	assert.Equal(t, "One. Two!", chunks[0].Text)
	assert.Equal(t, "Three? Four.", chunks[1].Text)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[1].Index)
}

func TestChunkSentences_SplitsOversizedSentenceByWords(t *testing.T) {
	sentence := strings.TrimSpace(strings.Repeat("word ", 100)) // ~500 chars, no periods
	chunks := ChunkSentences(sentence, 50)
	require.Greater(t, len(chunks), 5)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 50)
		assert.NotEmpty(t, c.Text)
	}
}

func TestChunkSentences_SingleShortText(t *testing.T) {
	chunks := ChunkSentences("Just one line without terminal punctuation", 1000)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Just one line without terminal punctuation", chunks[0].Text)
}

func TestChunkSentences_Empty(t *testing.T) {
	assert.Nil(t, ChunkSentences("", 1000))
	assert.Nil(t, ChunkSentences("   \n  ", 1000))
}
