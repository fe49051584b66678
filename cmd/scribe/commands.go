package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/penwright/scribe/internal/config"
	"github.com/penwright/scribe/internal/orchestrator"
)

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Run the pipeline for a query",
	Long: `Run the pipeline for a query: classify the task, then research,
analyze and write as needed. The final output goes to stdout.

Examples:
  scribe run "Write an article on solid-state batteries"
  scribe run "Analyze this data" --data-file ./report.pdf
  scribe run --batch ./queries.txt --parallel 4`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, _ := cmd.Flags().GetString("data")
		dataFile, _ := cmd.Flags().GetString("data-file")
		batch, _ := cmd.Flags().GetString("batch")
		parallel, _ := cmd.Flags().GetInt("parallel")

		if batch == "" && len(args) == 0 {
			return fmt.Errorf("a query argument or --batch is required")
		}

		if dataFile != "" {
			fileData, err := readDataFile(dataFile)
			if err != nil {
				return err
			}
			data = fileData
		}

		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if batch != "" {
			return runBatch(cmd, a, batch, data, parallel)
		}

		query := strings.Join(args, " ")
		printStep("Running pipeline for: %s", query)

		result, err := a.orch.Run(cmd.Context(), query, data)
		if err != nil {
			return err
		}

		reportResult(result)
		fmt.Println(finalOutput(result))
		return nil
	},
}

func init() {
	runCmd.Flags().String("data", "", "user-provided data to analyze or write from")
	runCmd.Flags().String("data-file", "", "file with user-provided data (PDF or plain text)")
	runCmd.Flags().String("batch", "", "file with one query per line")
	runCmd.Flags().Int("parallel", 2, "maximum concurrent runs in batch mode")
}

func runBatch(cmd *cobra.Command, a *app, path, data string, parallel int) error {
	queries, err := readBatchFile(path)
	if err != nil {
		return err
	}
	if len(queries) == 0 {
		printWarning("No queries found in %s", path)
		return nil
	}
	if parallel <= 0 {
		parallel = 1
	}

	printStep("Running %d queries (parallel: %d)", len(queries), parallel)

	outputs := make([]orchestrator.Result, len(queries))

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(parallel)
	for i, q := range queries {
		g.Go(func() error {
			result, err := a.orch.Run(ctx, q, data)
			if err != nil {
				return fmt.Errorf("query %q: %w", q, err)
			}
			outputs[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, result := range outputs {
		fmt.Printf("=== %s ===\n\n%s\n\n", queries[i], finalOutput(result))
	}
	printSuccess("Completed %d runs", len(queries))
	return nil
}

func reportResult(result orchestrator.Result) {
	printStatus("Task type", "%s", result.TaskType)
	printStatus("Agents run", "%s", strings.Join(result.CompletedAgents, ", "))
	printStatus("Conversation", "%d", result.ConversationID)
	if result.Degraded {
		printWarning("One or more stages degraded; output may be partial")
	} else {
		printSuccess("Pipeline completed")
	}
}

// finalOutput picks the most finished artifact the plan produced.
func finalOutput(result orchestrator.Result) string {
	if result.FinalArticle != "" {
		return result.FinalArticle
	}
	if result.Analysis != "" {
		return result.Analysis
	}
	return result.ResearchResult
}

func readBatchFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening batch file: %w", err)
	}
	defer f.Close()

	var queries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		queries = append(queries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	return queries, nil
}

// readDataFile reads user-provided data, extracting text from PDFs.
func readDataFile(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		f, r, err := pdf.Open(path)
		if err != nil {
			return "", fmt.Errorf("opening pdf: %w", err)
		}
		defer f.Close()

		text, err := r.GetPlainText()
		if err != nil {
			return "", fmt.Errorf("extracting pdf text: %w", err)
		}
		var sb strings.Builder
		if _, err := io.Copy(&sb, text); err != nil {
			return "", fmt.Errorf("reading pdf text: %w", err)
		}
		return sb.String(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading data file: %w", err)
	}
	return string(data), nil
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.store.Statistics()
		if err != nil {
			return err
		}

		printStatus("Conversations", "%d (%d successful)", stats.TotalConversations, stats.SuccessfulConversations)
		printStatus("Research results", "%d", stats.TotalResearch)
		printStatus("Analyses", "%d", stats.TotalAnalyses)
		printStatus("Articles", "%d (avg quality %.2f)", stats.TotalArticles, stats.AverageArticleQuality)
		printStatus("Cached queries", "%d (%d hits)", stats.CachedQueries, stats.TotalCacheHits)
		for _, tt := range stats.TopTaskTypes {
			printStatus("  "+tt.TaskType, "%d", tt.Count)
		}
		return nil
	},
}

// --- learnings ---

var learningsCmd = &cobra.Command{
	Use:   "learnings",
	Short: "List stored learnings",
	RunE: func(cmd *cobra.Command, args []string) error {
		agentName, _ := cmd.Flags().GetString("agent")
		successOnly, _ := cmd.Flags().GetBool("success-only")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		learnings, err := a.store.GetLearnings(agentName, successOnly, limit)
		if err != nil {
			return err
		}

		if len(learnings) == 0 {
			fmt.Println("No learnings found.")
			return nil
		}

		for _, l := range learnings {
			marker := colorize(colorGreen, "✓")
			if !l.SuccessPattern {
				marker = colorize(colorRed, "✗")
			}
			fmt.Printf("%s %s  %s\n", marker, colorize(colorCyan, l.AgentName), l.Lesson)
			if l.Context != "" {
				fmt.Printf("    %s\n", l.Context)
			}
		}
		return nil
	},
}

func init() {
	learningsCmd.Flags().String("agent", "", "filter by agent name (research, analyzer, writer)")
	learningsCmd.Flags().Bool("success-only", false, "only show success patterns")
	learningsCmd.Flags().Int("limit", 10, "maximum number of learnings to list")
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the query result cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cache entries not accessed recently",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		deleted, err := a.store.ClearOldCache(days)
		if err != nil {
			return err
		}

		printSuccess("Deleted %d cache entries older than %d days", deleted, days)
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().Int("days", 30, "delete entries not accessed in this many days")
	cacheCmd.AddCommand(cacheClearCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
