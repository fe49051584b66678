package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/penwright/scribe/internal/llm"
)

const (
	searchToolName     = "web_search"
	defaultMaxRounds   = 5
	toolBudgetExceeded = "Research incomplete: tool budget exhausted before the model produced a summary."
)

// Researcher alternates between reasoning calls to the model and web search
// invocations until the model stops requesting tools or the round budget
// runs out.
type Researcher struct {
	llm       Completer
	search    Searcher
	maxRounds int
	logger    *slog.Logger
}

// NewResearcher creates a Researcher. maxRounds <= 0 defaults to 5.
func NewResearcher(completer Completer, searcher Searcher, maxRounds int) *Researcher {
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	return &Researcher{
		llm:       completer,
		search:    searcher,
		maxRounds: maxRounds,
		logger:    slog.Default(),
	}
}

// Run researches the query, threading optional advisory hints into the
// model input. The result is always a string; model failure degrades to
// "Research failed: ...", tool failures are folded into the transcript and
// the loop continues.
func (r *Researcher) Run(ctx context.Context, query, hints string) string {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: researchPrompt},
		{Role: llm.RoleUser, Content: withHints(query, hints)},
	}
	tools := []llm.Tool{
		llm.NewSearchTool(searchToolName, "Search the web for information about a topic and return aggregated text results."),
	}

	var lastContent string
	var toolOutputs []string

	for round := 0; round < r.maxRounds; round++ {
		resp, err := r.llm.Complete(ctx, messages, tools)
		if err != nil {
			r.logger.Error("research model call failed", "round", round, "error", err)
			return fmt.Sprintf("Research failed: %v", err)
		}

		if resp.Content != "" {
			lastContent = resp.Content
		}

		if !resp.HasToolCalls() {
			return resp.Content
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			result := r.runTool(ctx, tc)
			toolOutputs = append(toolOutputs, result)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	r.logger.Warn("research tool budget exhausted", "max_rounds", r.maxRounds)
	return partialResult(lastContent, toolOutputs)
}

// runTool executes one requested search. Failures degrade to text in the
// transcript instead of aborting the loop.
func (r *Researcher) runTool(ctx context.Context, tc llm.ToolCall) string {
	if tc.Function.Name != searchToolName {
		return fmt.Sprintf("Tool %q is not available.", tc.Function.Name)
	}

	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		return fmt.Sprintf("Search failed: invalid arguments: %v", err)
	}

	result, err := r.search.Search(ctx, args.Query)
	if err != nil {
		r.logger.Warn("search tool failed", "query", args.Query, "error", err)
		return fmt.Sprintf("Search failed: %v", err)
	}
	return result
}

// partialResult assembles the best-available text when the round budget is
// hit mid-loop.
func partialResult(lastContent string, toolOutputs []string) string {
	if lastContent != "" {
		return lastContent
	}
	if len(toolOutputs) == 0 {
		return toolBudgetExceeded
	}
	return toolBudgetExceeded + "\n\nRaw search results gathered so far:\n" + strings.Join(toolOutputs, "\n---\n")
}
