// Package orchestrator runs the classified stage pipeline as an explicit
// state machine: a precomputed stage list walked by an index cursor, with
// per-stage persistence, learnings, and advisory hints from past runs.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/penwright/scribe/internal/agent"
	"github.com/penwright/scribe/internal/classifier"
	"github.com/penwright/scribe/internal/memory"
)

// StageAgent is one pipeline stage. The output is always a string; failures
// arrive as degraded text, never as errors.
type StageAgent interface {
	Run(ctx context.Context, input, hints string) string
}

// Planner resolves a query into an execution plan.
type Planner interface {
	Classify(ctx context.Context, query, userData string) (classifier.Plan, error)
}

// MemoryStore is the slice of the store the orchestrator writes and reads.
type MemoryStore interface {
	SaveResearch(convID int64, query, results string, sources []string) error
	GetSimilarResearch(query string, limit int) ([]memory.ResearchHit, error)
	SaveAnalysis(convID int64, analysis string, keyInsights []string) error
	GetPastAnalyses(topic string, limit int) ([]memory.AnalysisHit, error)
	SaveArticle(convID int64, article string, qualityScore float64) error
	GetBestArticles(topic string, limit int) ([]memory.ArticleHit, error)
	SaveLearning(agentName, lesson, context string, successPattern bool) error
	CacheResult(query, result string) error
	EndConversation(id int64, agentsUsed []string, success bool) error
}

// Result is the final pipeline state for one run.
type Result struct {
	RunID           string   `json:"run_id"`
	TaskType        string   `json:"task_type"`
	ConversationID  int64    `json:"conversation_id"`
	ResearchResult  string   `json:"research_result,omitempty"`
	Analysis        string   `json:"analysis,omitempty"`
	FinalArticle    string   `json:"final_article,omitempty"`
	CompletedAgents []string `json:"completed_agents"`
	Degraded        bool     `json:"degraded"`
}

// Orchestrator holds one store handle and the three stage agents for its
// lifetime.
type Orchestrator struct {
	planner    Planner
	researcher StageAgent
	analyzer   StageAgent
	writer     StageAgent
	store      MemoryStore
	logger     *slog.Logger
}

func New(planner Planner, researcher, analyzer, writer StageAgent, store MemoryStore) *Orchestrator {
	return &Orchestrator{
		planner:    planner,
		researcher: researcher,
		analyzer:   analyzer,
		writer:     writer,
		store:      store,
		logger:     slog.Default(),
	}
}

// Run executes the full pipeline for one query. The only fatal error is a
// classification failure (which itself only fails on storage errors); every
// stage always completes with some output.
func (o *Orchestrator) Run(ctx context.Context, query, userData string) (Result, error) {
	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID)

	plan, err := o.planner.Classify(ctx, query, userData)
	if err != nil {
		return Result{}, fmt.Errorf("classifying task: %w", err)
	}

	res := Result{
		RunID:           runID,
		TaskType:        plan.TaskType,
		ConversationID:  plan.ConversationID,
		CompletedAgents: make([]string, 0, len(plan.Agents)),
	}

	// Cursor walk over the precomputed plan. Stages never repeat and never
	// reorder.
	for cursor := 0; cursor < len(plan.Agents); cursor++ {
		stage := plan.Agents[cursor]
		logger.Info("running stage", "stage", stage, "position", cursor)

		switch stage {
		case memory.AgentResearch:
			o.runResearch(ctx, logger, query, &res)
		case memory.AgentAnalyzer:
			o.runAnalysis(ctx, logger, query, userData, &res)
		case memory.AgentWriter:
			o.runWriter(ctx, logger, query, userData, &res)
		default:
			logger.Warn("unknown stage in plan, skipping", "stage", stage)
			continue
		}
		res.CompletedAgents = append(res.CompletedAgents, stage)
	}

	o.finish(logger, query, &res)
	return res, nil
}

func (o *Orchestrator) runResearch(ctx context.Context, logger *slog.Logger, query string, res *Result) {
	hints := o.researchHints(logger, query)

	out := o.researcher.Run(ctx, query, hints)
	res.ResearchResult = out

	if agent.Degraded(out) {
		res.Degraded = true
		o.saveLearning(logger, memory.AgentResearch, out, query, false)
		return
	}

	if res.ConversationID > 0 {
		sources := agent.ExtractSources(out)
		if err := o.store.SaveResearch(res.ConversationID, query, out, sources); err != nil {
			logger.Error("saving research failed", "error", err)
		}
	}
	o.saveLearning(logger, memory.AgentResearch,
		fmt.Sprintf("Successfully researched: %s", truncate(query, 100)),
		fmt.Sprintf("Returned %d characters of data", len(out)), true)
}

func (o *Orchestrator) runAnalysis(ctx context.Context, logger *slog.Logger, query, userData string, res *Result) {
	input := query
	if res.ResearchResult != "" {
		input = res.ResearchResult
	} else if userData != "" {
		input = userData
	}

	hints := o.analysisHints(logger, query)

	out := o.analyzer.Run(ctx, input, hints)
	res.Analysis = out

	if agent.Degraded(out) {
		res.Degraded = true
		o.saveLearning(logger, memory.AgentAnalyzer, out, query, false)
		return
	}

	if res.ConversationID > 0 {
		insights := agent.ExtractKeyInsights(out)
		if err := o.store.SaveAnalysis(res.ConversationID, out, insights); err != nil {
			logger.Error("saving analysis failed", "error", err)
		}
	}
	o.saveLearning(logger, memory.AgentAnalyzer,
		fmt.Sprintf("Successfully analyzed %d chars of data", len(input)),
		truncate(query, 100), true)
}

func (o *Orchestrator) runWriter(ctx context.Context, logger *slog.Logger, query, userData string, res *Result) {
	// The writer works from research output when present, otherwise the
	// user's own material, otherwise the bare query. It never consumes the
	// analysis directly; the analyzer's output reaches it only through the
	// stored record.
	input := query
	if res.ResearchResult != "" {
		input = res.ResearchResult
	} else if userData != "" {
		input = userData
	}

	hints := o.writerHints(logger, query)

	out := o.writer.Run(ctx, input, hints)
	res.FinalArticle = out

	if agent.Degraded(out) {
		res.Degraded = true
		o.saveLearning(logger, memory.AgentWriter, out, query, false)
		return
	}

	if res.ConversationID > 0 {
		score := agent.ScoreArticle(out)
		if err := o.store.SaveArticle(res.ConversationID, out, score); err != nil {
			logger.Error("saving article failed", "error", err)
		}
	}
	o.saveLearning(logger, memory.AgentWriter,
		fmt.Sprintf("Wrote article of length %d", len(out)),
		truncate(query, 100), true)
}

// finish caches the writer output and closes the conversation record with
// the exact executed stage order.
func (o *Orchestrator) finish(logger *slog.Logger, query string, res *Result) {
	if res.FinalArticle != "" && !agent.Degraded(res.FinalArticle) {
		if err := o.store.CacheResult(query, res.FinalArticle); err != nil {
			logger.Error("caching result failed", "error", err)
		}
	}

	if res.ConversationID > 0 {
		if err := o.store.EndConversation(res.ConversationID, res.CompletedAgents, !res.Degraded); err != nil {
			logger.Error("ending conversation failed", "error", err)
		}
	}

	logger.Info("pipeline finished",
		"task_type", res.TaskType,
		"completed_agents", res.CompletedAgents,
		"degraded", res.Degraded)
}

// researchHints formats past related research into an advisory block. A
// recall failure degrades to no hints.
func (o *Orchestrator) researchHints(logger *slog.Logger, query string) string {
	hits, err := o.store.GetSimilarResearch(query, 3)
	if err != nil {
		logger.Warn("similar research recall failed", "error", err)
		return ""
	}
	if len(hits) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Past related research found:\n")
	for _, h := range hits {
		fmt.Fprintf(&sb, "- Query: %s\n  Key points: %s...\n", h.Query, truncate(h.Results, 200))
	}
	return sb.String()
}

func (o *Orchestrator) analysisHints(logger *slog.Logger, query string) string {
	hits, err := o.store.GetPastAnalyses(query, 2)
	if err != nil {
		logger.Warn("past analyses recall failed", "error", err)
		return ""
	}
	if len(hits) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Previous analyses on similar topics:\n")
	for _, h := range hits {
		insights := "N/A"
		if len(h.KeyInsights) > 0 {
			top := h.KeyInsights
			if len(top) > 3 {
				top = top[:3]
			}
			insights = strings.Join(top, ", ")
		}
		fmt.Fprintf(&sb, "- %s\n  Key insights: %s\n", h.OriginalQuery, insights)
	}
	return sb.String()
}

func (o *Orchestrator) writerHints(logger *slog.Logger, query string) string {
	hits, err := o.store.GetBestArticles(query, 2)
	if err != nil {
		logger.Warn("best articles recall failed", "error", err)
		return ""
	}
	if len(hits) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("High-quality past articles for style reference:\n")
	for _, h := range hits {
		fmt.Fprintf(&sb, "- Quality: %.1f, Words: %d\n  Preview: %s...\n",
			h.QualityScore, h.WordCount, truncate(h.Article, 300))
	}
	return sb.String()
}

// saveLearning appends a stage outcome note. Write failures are logged,
// never surfaced.
func (o *Orchestrator) saveLearning(logger *slog.Logger, agentName, lesson, context string, success bool) {
	if err := o.store.SaveLearning(agentName, lesson, context, success); err != nil {
		logger.Error("saving learning failed", "agent", agentName, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
