package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/penwright/scribe/internal/llm"
)

// Writer turns analysis or raw material into a publication-ready article.
type Writer struct {
	llm    Completer
	logger *slog.Logger
}

// NewWriter creates a Writer over the given model service.
func NewWriter(completer Completer) *Writer {
	return &Writer{llm: completer, logger: slog.Default()}
}

// Run writes an article from the input text. Model failure degrades to
// "Writing failed: ...".
func (w *Writer) Run(ctx context.Context, input, hints string) string {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: writerPrompt},
		{Role: llm.RoleUser, Content: withHints(input, hints)},
	}

	resp, err := w.llm.Complete(ctx, messages, nil)
	if err != nil {
		w.logger.Error("writing model call failed", "error", err)
		return fmt.Sprintf("Writing failed: %v", err)
	}
	return resp.Content
}
