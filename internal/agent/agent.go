// Package agent implements the three pipeline stage agents. Each agent maps
// an input text to an output text and never returns an error: failures from
// the model or tool services degrade into an "X failed: ..." result so the
// pipeline always produces some string per stage.
package agent

import (
	"context"
	"strings"

	"github.com/penwright/scribe/internal/llm"
)

// Completer is the opaque asynchronous text-completion service.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (llm.Response, error)
}

// Searcher is the opaque web search capability.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// withHints appends an advisory context block to the agent input. Hints are
// for the model's benefit only and never alter control flow.
func withHints(input, hints string) string {
	if hints == "" {
		return input
	}
	return input + "\n\n" + hints
}

// Degraded reports whether an agent output is a degraded failure result
// rather than real content.
func Degraded(output string) bool {
	return strings.HasPrefix(output, "Research failed:") ||
		strings.HasPrefix(output, "Analysis failed:") ||
		strings.HasPrefix(output, "Writing failed:")
}
