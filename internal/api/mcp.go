package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/penwright/scribe/internal/memory"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Runner Runner
	Store  MemoryReader
}

// NewMCPServer creates an MCP server exposing the pipeline and its memory
// over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"scribe",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("scribe — research, analysis and article writing pipeline with persistent memory."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("compose_article",
			mcp.WithDescription("Run the full pipeline for a query: classify, research, analyze and write. Returns the final output."),
			mcp.WithString("query", mcp.Description("The user query or topic"), mcp.Required()),
			mcp.WithString("user_data", mcp.Description("Optional user-provided material to analyze or write from")),
		),
		mcpComposeArticle(deps),
	)

	s.AddTool(
		mcp.NewTool("memory_stats",
			mcp.WithDescription("Return aggregate statistics about stored conversations, research, analyses, articles and the query cache."),
		),
		mcpMemoryStats(deps),
	)

	s.AddTool(
		mcp.NewTool("similar_research",
			mcp.WithDescription("Keyword-search past research results for a query."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSimilarResearch(deps),
	)

	s.AddTool(
		mcp.NewTool("get_learnings",
			mcp.WithDescription("List stored learnings, optionally filtered by agent and success."),
			mcp.WithString("agent", mcp.Description("Agent name filter: research, analyzer or writer")),
			mcp.WithBoolean("success_only", mcp.Description("Only return success patterns")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpGetLearnings(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"memory://stats",
			"Memory Statistics",
			mcp.WithResourceDescription("Aggregate memory statistics as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpComposeArticle(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		userData := req.GetString("user_data", "")

		result, err := deps.Runner.Run(ctx, query, userData)
		if err != nil {
			return mcpError(fmt.Sprintf("pipeline run failed: %v", err)), nil
		}

		// The final article is the usual output; research-only plans end
		// with the research summary instead.
		out := result.FinalArticle
		if out == "" {
			out = result.ResearchResult
		}
		if out == "" {
			out = result.Analysis
		}
		return mcpText(out), nil
	}
}

func mcpMemoryStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Store.Statistics()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get statistics: %v", err)), nil
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal statistics: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSimilarResearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		hits, err := deps.Store.GetSimilarResearch(query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("research recall failed: %v", err)), nil
		}

		if hits == nil {
			hits = []memory.ResearchHit{}
		}
		b, err := json.Marshal(hits)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetLearnings(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agent := req.GetString("agent", "")
		successOnly := req.GetBool("success_only", false)
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		learnings, err := deps.Store.GetLearnings(agent, successOnly, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list learnings: %v", err)), nil
		}

		if learnings == nil {
			learnings = []memory.Learning{}
		}
		b, err := json.Marshal(learnings)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal learnings: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Store.Statistics()
		if err != nil {
			return nil, fmt.Errorf("failed to get statistics: %w", err)
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal statistics: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
