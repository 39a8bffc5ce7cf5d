// Package llmservice hides the generation backend behind one interface with
// two real providers and a deterministic stub, selected by configuration.
package llmservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/NDAR123909/vbi-claims-navigator/internal/config"
	"github.com/NDAR123909/vbi-claims-navigator/internal/errs"
)

// Generator is the slice of llms.Model the engine needs.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// New builds the configured generation backend.
func New(cfg *config.LLMConfig) (Generator, error) {
	switch cfg.Provider {
	case "openai":
		return openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
	case "ollama":
		return ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	case "stub":
		return &Stub{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown generation provider %q", errs.ErrConfiguration, cfg.Provider)
	}
}

// Stub is a deterministic generation backend. With Response set it replays
// that text; otherwise it produces one grounded sentence per supplied
// excerpt marker it can find in the prompt.
type Stub struct {
	Response string
	Err      error
}

func (s *Stub) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content := s.Response
	if content == "" {
		content = syntheticDraft(messages)
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: content}},
	}, nil
}

// syntheticDraft emits one sentence per excerpt label found in the prompt,
// so stub-backed runs still exercise the citation validator end to end.
func syntheticDraft(messages []llms.MessageContent) string {
	var prompt strings.Builder
	for _, m := range messages {
		for _, p := range m.Parts {
			if t, ok := p.(llms.TextContent); ok {
				prompt.WriteString(t.Text)
				prompt.WriteString("\n")
			}
		}
	}
	var b strings.Builder
	for i := 1; ; i++ {
		label := fmt.Sprintf("[S%d]", i)
		if !strings.Contains(prompt.String(), label) {
			break
		}
		fmt.Fprintf(&b, "The evidence in excerpt %d supports this claim element. %s ", i, label)
	}
	if b.Len() == 0 {
		return "No evidence excerpts were supplied."
	}
	return strings.TrimSpace(b.String())
}
