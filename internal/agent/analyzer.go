package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/penwright/scribe/internal/llm"
)

// Analyzer runs one model round over research output, user-provided data,
// or the raw query.
type Analyzer struct {
	llm    Completer
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer over the given model service.
func NewAnalyzer(completer Completer) *Analyzer {
	return &Analyzer{llm: completer, logger: slog.Default()}
}

// Run analyzes the input text. Model failure degrades to "Analysis failed: ...".
func (a *Analyzer) Run(ctx context.Context, input, hints string) string {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: analyzerPrompt},
		{Role: llm.RoleUser, Content: withHints(input, hints)},
	}

	resp, err := a.llm.Complete(ctx, messages, nil)
	if err != nil {
		a.logger.Error("analysis model call failed", "error", err)
		return fmt.Sprintf("Analysis failed: %v", err)
	}
	return resp.Content
}
