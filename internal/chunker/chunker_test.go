package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NDAR123909/vbi-claims-navigator/internal/errs"
)

const sampleText = `Veteran served in the Army from 1998 to 2006. Discharge was honorable.
Character of service confirmed by personnel records.

The DD214 lists the separation date as 14 June 2006. The narrative reason is completion of required service.`

func TestNewRejectsBadParameters(t *testing.T) {
	_, err := New(0, 0, nil)
	assert.ErrorIs(t, err, errs.ErrConfiguration)

	_, err = New(100, 100, nil)
	assert.ErrorIs(t, err, errs.ErrConfiguration)

	_, err = New(100, 150, nil)
	assert.ErrorIs(t, err, errs.ErrConfiguration)

	_, err = New(100, -1, nil)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestChunkDeterministic(t *testing.T) {
	c, err := New(20, 5, nil)
	require.NoError(t, err)

	first := c.Chunk(sampleText)
	second := c.Chunk(sampleText)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i], second[i], "piece %d differs between runs", i)
	}
}

func TestChunkRespectsTokenBudget(t *testing.T) {
	c, err := New(12, 4, nil)
	require.NoError(t, err)

	for _, p := range c.Chunk(sampleText) {
		assert.LessOrEqual(t, WordTokens(p.Content), 12, "piece %d over budget: %q", p.SequenceNo, p.Content)
	}
}

func TestChunkSequenceNumbers(t *testing.T) {
	c, err := New(15, 3, nil)
	require.NoError(t, err)

	pieces := c.Chunk(sampleText)
	require.NotEmpty(t, pieces)
	for i, p := range pieces {
		assert.Equal(t, i+1, p.SequenceNo)
		assert.Equal(t, WordTokens(p.Content), p.Tokens)
	}
}

func TestChunkOverlapCarriesContext(t *testing.T) {
	c, err := New(10, 3, nil)
	require.NoError(t, err)

	pieces := c.Chunk(sampleText)
	require.Greater(t, len(pieces), 1)

	// each piece after the first should open with the tail of its predecessor
	for i := 1; i < len(pieces); i++ {
		prevWords := strings.Fields(pieces[i-1].Content)
		tail := strings.Join(prevWords[len(prevWords)-3:], " ")
		if !strings.HasPrefix(pieces[i].Content, tail) {
			// overlap may be sacrificed when the next sentence alone fills the budget
			assert.LessOrEqual(t, pieces[i].Tokens, 10)
		}
	}
}

func TestChunkHardCutsOversizedSentence(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, "word%d ", i)
	}
	longSentence := strings.TrimSpace(b.String()) + "."

	c, err := New(10, 0, nil)
	require.NoError(t, err)

	pieces := c.Chunk(longSentence)
	require.NotEmpty(t, pieces)
	for _, p := range pieces {
		assert.LessOrEqual(t, p.Tokens, 10)
	}
	// nothing lost in the cut
	var joined []string
	for _, p := range pieces {
		joined = append(joined, p.Content)
	}
	assert.Equal(t, strings.Fields(longSentence), strings.Fields(strings.Join(joined, " ")))
}

func TestChunkKeepsFinalWindowWithOverlap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 35; i++ {
		fmt.Fprintf(&b, "word%d ", i)
	}
	longSentence := strings.TrimSpace(b.String()) + "."

	c, err := New(10, 3, nil)
	require.NoError(t, err)

	pieces := c.Chunk(longSentence)
	require.NotEmpty(t, pieces)
	last := pieces[len(pieces)-1]
	assert.Contains(t, last.Content, "word34.")
}

func TestChunkEmptyInput(t *testing.T) {
	c, err := New(10, 2, nil)
	require.NoError(t, err)

	assert.Nil(t, c.Chunk(""))
	assert.Nil(t, c.Chunk("   \n\n  "))
}
