// Package chunker splits extracted document text into overlapping retrieval
// units. Splitting is deterministic: the same text with the same parameters
// always yields byte-identical pieces, which is what makes re-indexing
// reproducible.
package chunker

import (
	"fmt"
	"strings"

	"github.com/NDAR123909/vbi-claims-navigator/internal/errs"
)

// Piece is one chunk of text before embedding. SequenceNo starts at 1.
type Piece struct {
	SequenceNo int
	Content    string
	Tokens     int
}

// TokenCounter counts tokens in a string. The default counts word tokens;
// a BPE counter can be injected when the embedding backend's tokenizer
// matters for budget accuracy.
type TokenCounter func(string) int

// WordTokens is the default counter: whitespace-delimited words.
func WordTokens(s string) int {
	return len(strings.Fields(s))
}

type Chunker struct {
	maxTokens     int
	overlapTokens int
	count         TokenCounter
}

// New validates the chunking parameters. Overlap must be strictly smaller
// than the chunk budget.
func New(maxTokens, overlapTokens int, count TokenCounter) (*Chunker, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("%w: max tokens must be positive, got %d", errs.ErrConfiguration, maxTokens)
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		return nil, fmt.Errorf("%w: overlap tokens must be in [0, %d), got %d", errs.ErrConfiguration, maxTokens, overlapTokens)
	}
	if count == nil {
		count = WordTokens
	}
	return &Chunker{maxTokens: maxTokens, overlapTokens: overlapTokens, count: count}, nil
}

// Chunk splits text into pieces of at most maxTokens tokens, preferring
// sentence and paragraph boundaries and falling back to a hard token cut
// when a single sentence exceeds the budget. Consecutive pieces share
// overlapTokens tokens of trailing context.
func (c *Chunker) Chunk(text string) []Piece {
	units := c.splitUnits(text)
	if len(units) == 0 {
		return nil
	}

	var pieces []Piece
	var cur []string
	curTokens := 0
	seedOnly := false

	flush := func() {
		if curTokens == 0 {
			return
		}
		content := strings.Join(cur, " ")
		pieces = append(pieces, Piece{
			SequenceNo: len(pieces) + 1,
			Content:    content,
			Tokens:     curTokens,
		})
		// seed the next piece with trailing overlap from this one
		if c.overlapTokens > 0 {
			tail := tailTokens(content, c.overlapTokens)
			cur = []string{tail}
			curTokens = c.count(tail)
			seedOnly = true
		} else {
			cur = nil
			curTokens = 0
			seedOnly = false
		}
	}

	for _, u := range units {
		n := c.count(u)
		if curTokens > 0 && curTokens+n > c.maxTokens {
			flush()
			// sacrifice the overlap seed rather than blow the budget
			if curTokens > 0 && curTokens+n > c.maxTokens {
				cur = nil
				curTokens = 0
			}
		}
		cur = append(cur, u)
		curTokens += n
		seedOnly = false
	}
	// do not emit a trailing piece that is pure overlap
	if curTokens > 0 && !seedOnly {
		content := strings.Join(cur, " ")
		pieces = append(pieces, Piece{
			SequenceNo: len(pieces) + 1,
			Content:    content,
			Tokens:     curTokens,
		})
	}
	return pieces
}

// splitUnits yields sentence-or-smaller units, hard-cutting any sentence
// that alone exceeds the token budget.
func (c *Chunker) splitUnits(text string) []string {
	var units []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, sent := range splitSentences(para) {
			if c.count(sent) <= c.maxTokens {
				units = append(units, sent)
				continue
			}
			units = append(units, c.hardCut(sent)...)
		}
	}
	return units
}

// hardCut slices an oversized sentence into windows of exactly maxTokens
// word tokens (last window may be shorter).
func (c *Chunker) hardCut(sent string) []string {
	words := strings.Fields(sent)
	var out []string
	for start := 0; start < len(words); start += c.maxTokens {
		end := start + c.maxTokens
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
	}
	return out
}

// splitSentences breaks a paragraph after terminal punctuation. Newlines
// also terminate, so list-style documents chunk on their natural lines.
func splitSentences(s string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		t := strings.TrimSpace(b.String())
		if t != "" {
			out = append(out, t)
		}
		b.Reset()
	}
	for _, r := range s {
		b.WriteRune(r)
		switch r {
		case '.', '!', '?', '\n':
			flush()
		}
	}
	flush()
	return out
}

// tailTokens returns the last n word tokens of s.
func tailTokens(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[len(words)-n:], " ")
}
