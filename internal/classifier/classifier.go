// Package classifier resolves a user query into an execution plan: a task
// type and the ordered list of pipeline stages that will run.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/penwright/scribe/internal/llm"
	"github.com/penwright/scribe/internal/memory"
)

// Task types and their stage lists. Unrecognized model output resolves to
// full_research.
const (
	TaskFullResearch    = "full_research"
	TaskQuickResearch   = "quick_research"
	TaskResearchOnly    = "research_only"
	TaskAnalyzeProvided = "analyze_provided"
	TaskWriteOnly       = "write_only"
)

var taskAgents = map[string][]string{
	TaskFullResearch:    {memory.AgentResearch, memory.AgentAnalyzer, memory.AgentWriter},
	TaskQuickResearch:   {memory.AgentResearch, memory.AgentWriter},
	TaskResearchOnly:    {memory.AgentResearch},
	TaskAnalyzeProvided: {memory.AgentAnalyzer, memory.AgentWriter},
	TaskWriteOnly:       {memory.AgentWriter},
}

const classifierPrompt = `Analyze this user query and determine the task type.

Query: %s
User provided data: %s

Task types:
- full_research: Need to research, analyze, and write
- quick_research: Need to research and write (skip analysis)
- research_only: Only need research
- analyze_provided: User provided data, analyze and write
- write_only: User provided analysis, just write

Respond with ONLY the task type.`

// Plan is the resolved execution plan for one run.
type Plan struct {
	TaskType       string
	Agents         []string
	ConversationID int64
}

// Completer is the model call the classifier needs.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (llm.Response, error)
}

// MemoryStore is the slice of the store the classifier touches.
type MemoryStore interface {
	StartConversation(userQuery, taskType, userData string) (int64, error)
	SetTaskType(id int64, taskType string) error
	GetCachedResult(query string) (string, bool, error)
}

// Classifier opens the conversation record and picks the stage list.
type Classifier struct {
	llm    Completer
	store  MemoryStore
	logger *slog.Logger
}

func New(completer Completer, store MemoryStore) *Classifier {
	return &Classifier{llm: completer, store: store, logger: slog.Default()}
}

// Classify starts a conversation, probes the cache, and resolves the task
// type with one model call. A storage failure opening the conversation is
// the only fatal error; a model failure falls back to full_research with the
// conversation ID intact.
func (c *Classifier) Classify(ctx context.Context, query, userData string) (Plan, error) {
	convID, err := c.store.StartConversation(query, "", userData)
	if err != nil {
		return Plan{}, fmt.Errorf("starting conversation: %w", err)
	}

	// Advisory probe: a prior result for the same normalized query is worth
	// logging, but the pipeline still runs.
	if _, hit, err := c.store.GetCachedResult(query); err != nil {
		c.logger.Warn("cache probe failed", "error", err)
	} else if hit {
		c.logger.Info("found cached result for similar query")
	}

	data := userData
	if data == "" {
		data = "None"
	}
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: fmt.Sprintf(classifierPrompt, query, data)},
	}

	var taskType string
	resp, err := c.llm.Complete(ctx, messages, nil)
	if err != nil {
		c.logger.Error("classifier model call failed, defaulting to full research", "error", err)
		taskType = TaskFullResearch
	} else {
		taskType = strings.ToLower(strings.TrimSpace(resp.Content))
	}

	agents, ok := taskAgents[taskType]
	if !ok {
		c.logger.Warn("unrecognized task type, defaulting to full research", "task_type", taskType)
		taskType = TaskFullResearch
		agents = taskAgents[TaskFullResearch]
	}

	if err := c.store.SetTaskType(convID, taskType); err != nil {
		c.logger.Warn("recording task type failed", "error", err)
	}

	c.logger.Info("task classified", "task_type", taskType, "agents", agents, "conversation_id", convID)
	return Plan{
		TaskType:       taskType,
		Agents:         append([]string(nil), agents...),
		ConversationID: convID,
	}, nil
}
