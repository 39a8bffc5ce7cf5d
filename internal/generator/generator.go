// Package generator produces citation-constrained draft text. Every
// sentence the backend emits is either attributed to a supplied chunk or
// tagged for human review; ungrounded text never leaves untagged.
package generator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/NDAR123909/vbi-claims-navigator/internal/errs"
	"github.com/NDAR123909/vbi-claims-navigator/internal/llmservice"
	"github.com/NDAR123909/vbi-claims-navigator/internal/models"
)

// ReviewTag marks a sentence whose grounding could not be verified.
const ReviewTag = "[HUMAN REVIEW REQUIRED]"

const systemPrompt = `You are VBI Claims Navigator, an expert VA-claims drafting assistant.
Draft claim material using ONLY the evidence excerpts provided.
End every sentence with the marker of the excerpt that supports it, for example [S2].
If no excerpt supports a statement, do not make it.
Never provide legal or medical advice.`

var markerRe = regexp.MustCompile(`\[S(\d+)\]`)

type Generator struct {
	backend llmservice.Generator
	timeout time.Duration
}

func New(backend llmservice.Generator, timeout time.Duration) *Generator {
	return &Generator{backend: backend, timeout: timeout}
}

// Draft prompts the backend with labeled chunks and validates the response.
// The returned citations are guaranteed to reference only chunks present in
// rr. Backend failure, including timeout, is ErrGenerationBackend; there is
// no fallback to untagged text.
func (g *Generator) Draft(ctx context.Context, instructions string, rr *models.RetrievalResult) (*models.Draft, error) {
	if rr == nil || len(rr.Chunks) == 0 {
		return nil, fmt.Errorf("%w: no evidence chunks to draft from", errs.ErrNotFound)
	}

	labels := make(map[int]string, len(rr.Chunks))
	var evidence strings.Builder
	for i, c := range rr.Chunks {
		labels[i+1] = c.ID()
		fmt.Fprintf(&evidence, "[S%d]\n%s\n\n", i+1, c.Content)
	}

	prompt := fmt.Sprintf("Evidence excerpts:\n\n%sInstructions: %s", evidence.String(), instructions)
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	resp, err := g.backend.GenerateContent(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrGenerationBackend, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return nil, fmt.Errorf("%w: backend returned no content", errs.ErrGenerationBackend)
	}

	draft := validate(resp.Choices[0].Content, labels)
	log.Debug().
		Int("citations", len(draft.Citations)).
		Bool("needs_review", draft.NeedsReview).
		Msg("draft validated")
	return draft, nil
}

// validate walks the response sentence by sentence. A sentence whose every
// marker resolves to a supplied label yields one citation per marker; a
// sentence with no marker, or with any marker outside the supplied set, is
// review-tagged and yields no citations.
func validate(text string, labels map[int]string) *models.Draft {
	draft := &models.Draft{}
	var out []string

	for _, sentence := range splitSentences(text) {
		matches := markerRe.FindAllStringSubmatch(sentence, -1)
		grounded := len(matches) > 0
		var chunkIDs []string
		for _, m := range matches {
			n, err := strconv.Atoi(m[1])
			id, ok := labels[n]
			if err != nil || !ok {
				grounded = false
				break
			}
			chunkIDs = append(chunkIDs, id)
		}
		if !grounded {
			out = append(out, sentence+" "+ReviewTag)
			draft.NeedsReview = true
			continue
		}
		claim := cleanSentence(sentence)
		for _, id := range chunkIDs {
			draft.Citations = append(draft.Citations, models.Citation{Sentence: claim, ChunkID: id})
		}
		out = append(out, sentence)
	}

	draft.Text = strings.Join(out, " ")
	return draft
}

// splitSentences breaks text after terminal punctuation or newlines,
// pulling trailing citation markers into the sentence they close.
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
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\n' {
			flush()
			continue
		}
		b.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// attach any markers that follow the terminator
		j := i + 1
		for {
			for j < len(runes) && runes[j] == ' ' {
				j++
			}
			if j >= len(runes) || runes[j] != '[' {
				break
			}
			k := j
			for k < len(runes) && runes[k] != ']' {
				k++
			}
			if k >= len(runes) || !markerRe.MatchString(string(runes[j:k+1])) {
				break
			}
			b.WriteString(" " + string(runes[j:k+1]))
			i = k
			j = k + 1
		}
		flush()
	}
	flush()
	return out
}

// cleanSentence strips markers from a sentence for use as the citation's
// claim text.
func cleanSentence(s string) string {
	s = markerRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}
