package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/penwright/scribe/internal/llm"
)

// mockChatter returns scripted responses in order, recording the transcripts
// it was called with.
type mockChatter struct {
	responses []llm.Response
	err       error
	calls     [][]llm.Message
}

func (m *mockChatter) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (llm.Response, error) {
	m.calls = append(m.calls, messages)
	if m.err != nil {
		return llm.Response{}, m.err
	}
	i := len(m.calls) - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

type mockSearcher struct {
	result  string
	err     error
	queries []string
}

func (m *mockSearcher) Search(ctx context.Context, query string) (string, error) {
	m.queries = append(m.queries, query)
	if m.err != nil {
		return "", m.err
	}
	return m.result, nil
}

func searchCall(id, query string) llm.ToolCall {
	return llm.ToolCall{
		ID:   id,
		Type: "function",
		Function: llm.FunctionCall{
			Name:      searchToolName,
			Arguments: `{"query": "` + query + `"}`,
		},
	}
}

func TestResearcherDirectAnswer(t *testing.T) {
	chatter := &mockChatter{responses: []llm.Response{
		{Content: "final summary"},
	}}
	r := NewResearcher(chatter, &mockSearcher{}, 5)

	out := r.Run(context.Background(), "topic", "")
	if out != "final summary" {
		t.Errorf("expected model content, got %q", out)
	}
	if len(chatter.calls) != 1 {
		t.Errorf("expected 1 model call, got %d", len(chatter.calls))
	}
}

func TestResearcherToolLoop(t *testing.T) {
	chatter := &mockChatter{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{searchCall("c1", "battery tech")}},
		{Content: "summary after search"},
	}}
	searcher := &mockSearcher{result: "Title: X\nContent: Y\nURL: Z"}
	r := NewResearcher(chatter, searcher, 5)

	out := r.Run(context.Background(), "battery tech advances", "")
	if out != "summary after search" {
		t.Errorf("expected final summary, got %q", out)
	}
	if len(searcher.queries) != 1 || searcher.queries[0] != "battery tech" {
		t.Errorf("search not invoked with tool arguments: %v", searcher.queries)
	}

	// Second model call sees the assistant tool request and the tool result.
	second := chatter.calls[1]
	var sawAssistant, sawTool bool
	for _, m := range second {
		switch m.Role {
		case llm.RoleAssistant:
			sawAssistant = len(m.ToolCalls) == 1
		case llm.RoleTool:
			sawTool = m.ToolCallID == "c1" && m.Content == searcher.result
		}
	}
	if !sawAssistant || !sawTool {
		t.Errorf("tool transcript not threaded back: assistant=%v tool=%v", sawAssistant, sawTool)
	}
}

func TestResearcherModelFailureDegrades(t *testing.T) {
	chatter := &mockChatter{err: errors.New("connection refused")}
	r := NewResearcher(chatter, &mockSearcher{}, 5)

	out := r.Run(context.Background(), "topic", "")
	if !strings.HasPrefix(out, "Research failed:") {
		t.Errorf("expected degraded output, got %q", out)
	}
	if !Degraded(out) {
		t.Error("degraded output not detected by Degraded")
	}
}

// TestResearcherSearchFailureContinues: a tool error becomes transcript text
// and the loop keeps going.
func TestResearcherSearchFailureContinues(t *testing.T) {
	chatter := &mockChatter{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{searchCall("c1", "q")}},
		{Content: "made do without the tool"},
	}}
	searcher := &mockSearcher{err: errors.New("timeout")}
	r := NewResearcher(chatter, searcher, 5)

	out := r.Run(context.Background(), "topic", "")
	if out != "made do without the tool" {
		t.Errorf("expected loop to continue past tool failure, got %q", out)
	}

	var toolMsg string
	for _, m := range chatter.calls[1] {
		if m.Role == llm.RoleTool {
			toolMsg = m.Content
		}
	}
	if !strings.HasPrefix(toolMsg, "Search failed:") {
		t.Errorf("tool failure not folded into transcript: %q", toolMsg)
	}
}

// TestResearcherRoundBudget: a model that keeps requesting tools hits the
// cap and the best available text comes back.
func TestResearcherRoundBudget(t *testing.T) {
	chatter := &mockChatter{responses: []llm.Response{
		{Content: "partial notes", ToolCalls: []llm.ToolCall{searchCall("c1", "q")}},
	}}
	searcher := &mockSearcher{result: "some results"}
	r := NewResearcher(chatter, searcher, 3)

	out := r.Run(context.Background(), "topic", "")
	if out != "partial notes" {
		t.Errorf("expected last content on budget exhaustion, got %q", out)
	}
	if len(chatter.calls) != 3 {
		t.Errorf("expected exactly 3 rounds, got %d", len(chatter.calls))
	}
}

func TestResearcherBudgetWithoutContent(t *testing.T) {
	chatter := &mockChatter{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{searchCall("c1", "q")}},
	}}
	searcher := &mockSearcher{result: "raw search text"}
	r := NewResearcher(chatter, searcher, 2)

	out := r.Run(context.Background(), "topic", "")
	if !strings.Contains(out, "raw search text") {
		t.Errorf("expected gathered tool output in fallback, got %q", out)
	}
}

func TestResearcherHintsAppended(t *testing.T) {
	chatter := &mockChatter{responses: []llm.Response{{Content: "done"}}}
	r := NewResearcher(chatter, &mockSearcher{}, 5)

	r.Run(context.Background(), "the query", "Past related research found:\n- Query: x")

	user := chatter.calls[0][1]
	if !strings.HasPrefix(user.Content, "the query") || !strings.Contains(user.Content, "Past related research") {
		t.Errorf("hints not threaded into input: %q", user.Content)
	}
}

func TestAnalyzerDegradesOnModelFailure(t *testing.T) {
	a := NewAnalyzer(&mockChatter{err: errors.New("boom")})
	out := a.Run(context.Background(), "input", "")
	if !strings.HasPrefix(out, "Analysis failed:") {
		t.Errorf("expected degraded analysis, got %q", out)
	}
}

func TestWriterDegradesOnModelFailure(t *testing.T) {
	w := NewWriter(&mockChatter{err: errors.New("boom")})
	out := w.Run(context.Background(), "input", "")
	if !strings.HasPrefix(out, "Writing failed:") {
		t.Errorf("expected degraded article, got %q", out)
	}
}

func TestWriterPassesInput(t *testing.T) {
	chatter := &mockChatter{responses: []llm.Response{{Content: "# Article"}}}
	w := NewWriter(chatter)

	out := w.Run(context.Background(), "research material", "style hints")
	if out != "# Article" {
		t.Errorf("expected article, got %q", out)
	}
	user := chatter.calls[0][1]
	if !strings.Contains(user.Content, "research material") || !strings.Contains(user.Content, "style hints") {
		t.Errorf("input or hints missing: %q", user.Content)
	}
}
